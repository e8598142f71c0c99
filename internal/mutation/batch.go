package mutation

import (
	"errors"
	"fmt"
	"slices"

	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/utils"
)

// ApplyEdit 按服务端的语义应用一条修改：原员工当天清空，目标员工获得新的时间范围。
// 改派时不保留锁定标记，锁定由客户端在保存后重新申请
func ApplyEdit(schedules []domain.EmployeeDaySchedule, req domain.ShiftEditRequest) ([]domain.EmployeeDaySchedule, error) {
	src := domain.FindSchedule(schedules, req.EmployeeName, req.DayOfWeek)
	if src < 0 {
		return nil, ErrScheduleNotFound
	}

	out := slices.Clone(schedules)

	if req.IsDeletion() {
		if out[src].IsLocked {
			return nil, ErrShiftLocked
		}
		out[src] = clearDay(out[src])
		return out, nil
	}

	dst := src
	if req.TargetEmployee() != req.EmployeeName {
		dst = domain.FindSchedule(schedules, req.TargetEmployee(), req.DayOfWeek)
		if dst < 0 {
			return nil, ErrScheduleNotFound
		}
	}

	locked := out[src].IsLocked
	out[src] = clearDay(out[src])
	out[src].IsLocked = false
	out[dst] = AddRange(out[dst], req.NewShiftStart, req.NewShiftEnd)
	if dst == src {
		out[dst].IsLocked = locked && out[dst].TotalHours > 0
	}

	return out, nil
}

// ReplayEdit 与 ApplyEdit 相同，但改派时和本地拖动一样带上锁定标记
func ReplayEdit(schedules []domain.EmployeeDaySchedule, req domain.ShiftEditRequest) ([]domain.EmployeeDaySchedule, error) {
	src := domain.FindSchedule(schedules, req.EmployeeName, req.DayOfWeek)
	if src < 0 {
		return nil, ErrScheduleNotFound
	}
	locked := schedules[src].IsLocked

	out, err := ApplyEdit(schedules, req)
	if err != nil {
		return nil, err
	}

	if locked && !req.IsDeletion() {
		if dst := domain.FindSchedule(out, req.TargetEmployee(), req.DayOfWeek); dst >= 0 && out[dst].TotalHours > 0 {
			out[dst].IsLocked = true
		}
	}
	return out, nil
}

// validateEdit 检查单条修改在当前排班上是否可以应用
func validateEdit(result *domain.WeeklyScheduleResult, schedules []domain.EmployeeDaySchedule, req domain.ShiftEditRequest) error {
	src := domain.FindSchedule(schedules, req.EmployeeName, req.DayOfWeek)
	if src < 0 {
		return ErrScheduleNotFound
	}
	if req.IsDeletion() {
		if schedules[src].IsLocked {
			return ErrShiftLocked
		}
		return nil
	}

	if v := utils.ValidateDrop(req.NewShiftStart, req.NewShiftEnd, result.OpenTime, result.CloseTime); !v.Valid {
		return errors.New(v.Reason)
	}

	if req.TargetEmployee() != req.EmployeeName {
		dst := domain.FindSchedule(schedules, req.TargetEmployee(), req.DayOfWeek)
		if dst < 0 {
			return fmt.Errorf("%s: %w", req.TargetEmployee(), ErrScheduleNotFound)
		}
		if err := utils.ValidateNoOverlap(&schedules[dst], req.NewShiftStart, req.NewShiftEnd, "", ""); err != nil {
			return err
		}
	}

	return nil
}

// ApplyBatch 依次应用一批修改，不合法的修改记录在 failed 中，其余修改照常生效
func ApplyBatch(result *domain.WeeklyScheduleResult, reqs []domain.ShiftEditRequest) (*domain.WeeklyScheduleResult, []domain.FailedUpdate) {
	out := result.Clone()
	failed := make([]domain.FailedUpdate, 0)

	for _, req := range reqs {
		if err := validateEdit(out, out.Schedules, req); err != nil {
			failed = append(failed, domain.FailedUpdate{ShiftEditRequest: req, Reason: err.Error()})
			continue
		}

		schedules, err := ApplyEdit(out.Schedules, req)
		if err != nil {
			failed = append(failed, domain.FailedUpdate{ShiftEditRequest: req, Reason: err.Error()})
			continue
		}
		out.Schedules = schedules
	}

	if len(failed) < len(reqs) {
		out.IsEdited = true
	}
	Summarize(out)

	return out, failed
}

// Summarize 重新统计每天的排班人数、工时和无人值守的时段，成本字段保持原样
func Summarize(result *domain.WeeklyScheduleResult) {
	byDay := make(map[string]int, len(result.DailySummaries))
	summaries := make([]domain.DayScheduleSummary, len(result.DailySummaries))
	for i, s := range result.DailySummaries {
		summaries[i] = s.Clone()
		byDay[s.DayOfWeek] = i
	}

	for _, day := range domain.DaysOfWeek {
		if _, exists := byDay[day]; exists {
			continue
		}
		if !slices.ContainsFunc(result.Schedules, func(s domain.EmployeeDaySchedule) bool { return s.DayOfWeek == day }) {
			continue
		}
		byDay[day] = len(summaries)
		summaries = append(summaries, domain.DayScheduleSummary{DayOfWeek: day})
	}

	for i := range summaries {
		summaries[i].EmployeesScheduled = 0
		summaries[i].TotalLaborHours = 0
		summaries[i].UnfilledPeriods = make([]int, 0)
	}

	covered := make(map[string]map[int]bool)
	grid := make(map[string][]int)

	for _, s := range result.Schedules {
		i, exists := byDay[s.DayOfWeek]
		if !exists {
			continue
		}
		if s.TotalHours > 0 {
			summaries[i].EmployeesScheduled++
			summaries[i].TotalLaborHours += s.TotalHours
		}

		if _, exists := covered[s.DayOfWeek]; !exists {
			covered[s.DayOfWeek] = make(map[int]bool)
		}
		for _, p := range s.Periods {
			if !slices.Contains(grid[s.DayOfWeek], p.PeriodIndex) {
				grid[s.DayOfWeek] = append(grid[s.DayOfWeek], p.PeriodIndex)
			}
			if p.Scheduled {
				covered[s.DayOfWeek][p.PeriodIndex] = true
			}
		}
	}

	total := 0.0
	for i := range summaries {
		day := summaries[i].DayOfWeek
		indexes := grid[day]
		slices.Sort(indexes)
		for _, idx := range indexes {
			if !covered[day][idx] {
				summaries[i].UnfilledPeriods = append(summaries[i].UnfilledPeriods, idx)
			}
		}
		total += summaries[i].TotalLaborHours
	}

	result.DailySummaries = summaries
	result.TotalLaborHours = total
}
