package domain

import (
	"slices"
	"time"
)

var DaysOfWeek = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// Period: 一天中固定 30 分钟的最小排班单位
type Period struct {
	PeriodIndex int    `json:"periodIndex"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	Scheduled   bool   `json:"scheduled"`
	IsBreak     bool   `json:"isBreak,omitempty"`
}

// ShiftKey 唯一确定某个员工某一天的排班
type ShiftKey struct {
	EmployeeName string `json:"employeeName"`
	DayOfWeek    string `json:"dayOfWeek"`
	Date         string `json:"date,omitempty"`
}

type EmployeeDaySchedule struct {
	EmployeeName string   `json:"employeeName"`
	DayOfWeek    string   `json:"dayOfWeek"`
	Date         string   `json:"date,omitempty"`
	Periods      []Period `json:"periods"`
	TotalHours   float64  `json:"totalHours"`
	ShiftStart   *string  `json:"shiftStart"` // 当天没有排班时为 nil
	ShiftEnd     *string  `json:"shiftEnd"`
	IsShortShift bool     `json:"isShortShift"`
	IsLocked     bool     `json:"isLocked"`
}

func (s *EmployeeDaySchedule) Key() ShiftKey {
	return ShiftKey{
		EmployeeName: s.EmployeeName,
		DayOfWeek:    s.DayOfWeek,
		Date:         s.Date,
	}
}

// Clone 深拷贝，包括 periods 和两个时间指针
func (s EmployeeDaySchedule) Clone() EmployeeDaySchedule {
	s.Periods = slices.Clone(s.Periods)
	if s.ShiftStart != nil {
		start := *s.ShiftStart
		s.ShiftStart = &start
	}
	if s.ShiftEnd != nil {
		end := *s.ShiftEnd
		s.ShiftEnd = &end
	}
	return s
}

type DayScheduleSummary struct {
	DayOfWeek          string  `json:"dayOfWeek"`
	TotalCost          float64 `json:"totalCost"`
	EmployeesScheduled int     `json:"employeesScheduled"`
	TotalLaborHours    float64 `json:"totalLaborHours"`
	UnfilledPeriods    []int   `json:"unfilledPeriods"`
	DummyWorkerCost    float64 `json:"dummyWorkerCost"`
}

func (s DayScheduleSummary) Clone() DayScheduleSummary {
	s.UnfilledPeriods = slices.Clone(s.UnfilledPeriods)
	return s
}

type ComplianceViolation struct {
	EmployeeName string `json:"employeeName"`
	DayOfWeek    string `json:"dayOfWeek"`
	Rule         string `json:"rule"`
	Message      string `json:"message"`
}

// WeeklyScheduleResult 由求解器生成，每次保存成功后由服务端整体刷新
type WeeklyScheduleResult struct {
	ID                   int64                 `json:"id"`
	StoreName            string                `json:"storeName"`
	WeekStart            string                `json:"weekStart"`
	WeekEnd              string                `json:"weekEnd"`
	OpenTime             string                `json:"openTime"`
	CloseTime            string                `json:"closeTime"`
	Schedules            []EmployeeDaySchedule `json:"schedules"`
	DailySummaries       []DayScheduleSummary  `json:"dailySummaries"`
	TotalWeeklyCost      float64               `json:"totalWeeklyCost"`
	TotalLaborHours      float64               `json:"totalLaborHours"`
	IsEdited             bool                  `json:"isEdited"`
	ComplianceViolations []ComplianceViolation `json:"complianceViolations"`
	CreatedAt            time.Time             `json:"createdAt"`
	Version              int32                 `json:"version"`
}

func (r *WeeklyScheduleResult) Clone() *WeeklyScheduleResult {
	if r == nil {
		return nil
	}

	c := *r
	c.Schedules = make([]EmployeeDaySchedule, len(r.Schedules))
	for i, s := range r.Schedules {
		c.Schedules[i] = s.Clone()
	}
	c.DailySummaries = make([]DayScheduleSummary, len(r.DailySummaries))
	for i, s := range r.DailySummaries {
		c.DailySummaries[i] = s.Clone()
	}
	c.ComplianceViolations = slices.Clone(r.ComplianceViolations)
	return &c
}

// FindSchedule 按员工和星期查找，找不到返回 -1
func FindSchedule(schedules []EmployeeDaySchedule, employeeName string, dayOfWeek string) int {
	for i := range schedules {
		if schedules[i].EmployeeName == employeeName && schedules[i].DayOfWeek == dayOfWeek {
			return i
		}
	}
	return -1
}

// ScheduleSnapshot 撤销栈中的检查点
type ScheduleSnapshot struct {
	Schedules      []EmployeeDaySchedule `json:"schedules"`
	DailySummaries []DayScheduleSummary  `json:"dailySummaries"`
	Timestamp      time.Time             `json:"timestamp"`
}
