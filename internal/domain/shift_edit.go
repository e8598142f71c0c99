package domain

import "time"

// ShiftEditRequest 为一条尚未持久化的修改，NewShiftStart 和 NewShiftEnd 同时为空表示删除该班次
type ShiftEditRequest struct {
	EmployeeName    string `json:"employeeName" validate:"required"`
	DayOfWeek       string `json:"dayOfWeek" validate:"required,oneof=Monday Tuesday Wednesday Thursday Friday Saturday Sunday"`
	Date            string `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	NewShiftStart   string `json:"newShiftStart" validate:"required_with=NewShiftEnd,omitempty,datetime=15:04"`
	NewShiftEnd     string `json:"newShiftEnd" validate:"required_with=NewShiftStart,omitempty,datetime=15:04|eq=24:00"`
	NewEmployeeName string `json:"newEmployeeName,omitempty"`
}

func (r *ShiftEditRequest) Key() ShiftKey {
	return ShiftKey{
		EmployeeName: r.EmployeeName,
		DayOfWeek:    r.DayOfWeek,
		Date:         r.Date,
	}
}

func (r *ShiftEditRequest) IsDeletion() bool {
	return r.NewShiftStart == "" && r.NewShiftEnd == ""
}

// TargetEmployee 返回修改生效后班次所属的员工
func (r *ShiftEditRequest) TargetEmployee() string {
	if r.NewEmployeeName != "" {
		return r.NewEmployeeName
	}
	return r.EmployeeName
}

type FailedUpdate struct {
	ShiftEditRequest
	Reason string `json:"reason"`
}

type BatchUpdateResult struct {
	Success         bool                  `json:"success"`
	UpdatedSchedule *WeeklyScheduleResult `json:"updatedSchedule"`
	FailedUpdates   []FailedUpdate        `json:"failedUpdates"`
}

type LockToggleRequest struct {
	EmployeeName     string `json:"employeeName" validate:"required"`
	DayOfWeek        string `json:"dayOfWeek" validate:"required_without=Date,omitempty,oneof=Monday Tuesday Wednesday Thursday Friday Saturday Sunday"`
	Date             string `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	DesiredLockState bool   `json:"desiredLockState"`
}

type EditLog struct {
	ID         int64     `json:"id"`
	ScheduleID int64     `json:"scheduleID"`
	Username   string    `json:"username"`
	Action     string    `json:"action"`
	Applied    int       `json:"applied"`
	Failed     int       `json:"failed"`
	CreatedAt  time.Time `json:"createdAt"`
}
