package domain

type MailMessage struct {
	Type string `json:"type"`
	To   string `json:"to"`
	Data any    `json:"data"`
}

const MailTypeScheduleUpdated = "schedule_updated"

type ScheduleUpdatedMailData struct {
	FullName   string   `json:"fullName"`
	Editor     string   `json:"editor"`
	StoreName  string   `json:"storeName"`
	WeekStart  string   `json:"weekStart"`
	WeekEnd    string   `json:"weekEnd"`
	Action     string   `json:"action"`
	Applied    int      `json:"applied"`
	Failed     []string `json:"failed"`
	LaborHours float64  `json:"laborHours"`
}
