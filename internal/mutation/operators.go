// Package mutation 中的算子都是纯函数：输入排班，返回新的排班，从不原地修改
package mutation

import (
	"errors"
	"slices"

	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/period"
)

var (
	ErrScheduleNotFound = errors.New("找不到该员工当天的排班")
	ErrShiftLocked      = errors.New("班次已锁定")
)

// Recompute 根据 periods 重新计算派生字段，其他地方传来的 TotalHours 一律不信任
func Recompute(s *domain.EmployeeDaySchedule) {
	count := 0
	startMin, endMin := 0, 0

	for _, p := range s.Periods {
		if !p.Scheduled {
			continue
		}
		ps := period.TimeToMinutes(p.StartTime)
		pe := period.TimeToMinutes(p.EndTime)
		if count == 0 || ps < startMin {
			startMin = ps
		}
		if count == 0 || pe > endMin {
			endMin = pe
		}
		count++
	}

	s.TotalHours = 0.5 * float64(count)
	if count == 0 {
		s.ShiftStart = nil
		s.ShiftEnd = nil
		s.IsShortShift = false
		return
	}

	start := period.MinutesToTime(startMin)
	end := period.MinutesToTime(endMin)
	s.ShiftStart = &start
	s.ShiftEnd = &end
	s.IsShortShift = s.TotalHours > 0 && s.TotalHours < 3
}

func setRange(s domain.EmployeeDaySchedule, start, end string, scheduled bool) domain.EmployeeDaySchedule {
	out := s.Clone()
	startMin := period.TimeToMinutes(start)
	endMin := period.TimeToMinutes(end)

	for i := range out.Periods {
		ps := period.TimeToMinutes(out.Periods[i].StartTime)
		pe := period.TimeToMinutes(out.Periods[i].EndTime)
		// 只处理完全落在 [start, end) 内的时段
		if ps >= startMin && pe <= endMin {
			out.Periods[i].Scheduled = scheduled
		}
	}

	Recompute(&out)
	return out
}

// ClearRange 将 [start, end) 内的时段置为未排班
func ClearRange(s domain.EmployeeDaySchedule, start, end string) domain.EmployeeDaySchedule {
	return setRange(s, start, end, false)
}

// AddRange 将 [start, end) 内的时段置为已排班
func AddRange(s domain.EmployeeDaySchedule, start, end string) domain.EmployeeDaySchedule {
	return setRange(s, start, end, true)
}

func clearDay(s domain.EmployeeDaySchedule) domain.EmployeeDaySchedule {
	out := s.Clone()
	for i := range out.Periods {
		out.Periods[i].Scheduled = false
	}
	Recompute(&out)
	return out
}

// MoveShift 覆盖同一员工的拖动、调整时长，以及跨员工的改派。
// 改派时锁定标记随班次一起移动到新员工，已锁定的班次不能在原员工当天内移动，此时返回 ErrShiftLocked
func MoveShift(schedules []domain.EmployeeDaySchedule, employeeName, day, newStart, newEnd, originalStart, originalEnd, newEmployeeName string) ([]domain.EmployeeDaySchedule, error) {
	src := domain.FindSchedule(schedules, employeeName, day)
	if src < 0 {
		return nil, ErrScheduleNotFound
	}

	out := slices.Clone(schedules)
	locked := out[src].IsLocked

	if newEmployeeName != "" && newEmployeeName != employeeName {
		dst := domain.FindSchedule(schedules, newEmployeeName, day)
		if dst < 0 {
			return nil, ErrScheduleNotFound
		}

		out[src] = ClearRange(out[src], originalStart, originalEnd)
		out[dst] = AddRange(out[dst], newStart, newEnd)
		if out[src].TotalHours == 0 {
			out[src].IsLocked = false
		}
		if locked && out[dst].TotalHours > 0 {
			out[dst].IsLocked = true
		}
		return out, nil
	}

	if locked {
		return schedules, ErrShiftLocked
	}
	out[src] = AddRange(ClearRange(out[src], originalStart, originalEnd), newStart, newEnd)
	return out, nil
}

// AddNewShift 给当天没有班次的员工新增一个班次
func AddNewShift(schedules []domain.EmployeeDaySchedule, employeeName, day, start, end string) ([]domain.EmployeeDaySchedule, error) {
	i := domain.FindSchedule(schedules, employeeName, day)
	if i < 0 {
		return nil, ErrScheduleNotFound
	}

	out := slices.Clone(schedules)
	out[i] = AddRange(out[i], start, end)
	return out, nil
}

// DeleteShift 清空当天的所有时段，已锁定的班次返回 ErrShiftLocked 且不做任何修改
func DeleteShift(schedules []domain.EmployeeDaySchedule, employeeName, day string) ([]domain.EmployeeDaySchedule, error) {
	i := domain.FindSchedule(schedules, employeeName, day)
	if i < 0 {
		return nil, ErrScheduleNotFound
	}
	if schedules[i].IsLocked {
		return schedules, ErrShiftLocked
	}

	out := slices.Clone(schedules)
	out[i] = clearDay(out[i])
	return out, nil
}

// ToggleLock 切换锁定状态，dayOrDate 既可以是星期也可以是日期。
// 空班次不能锁定，此时返回 changed == false
func ToggleLock(schedules []domain.EmployeeDaySchedule, employeeName, dayOrDate string) (out []domain.EmployeeDaySchedule, changed bool, err error) {
	i := findByDayOrDate(schedules, employeeName, dayOrDate)
	if i < 0 {
		return nil, false, ErrScheduleNotFound
	}
	if schedules[i].TotalHours == 0 {
		return schedules, false, nil
	}

	out = slices.Clone(schedules)
	out[i] = out[i].Clone()
	out[i].IsLocked = !out[i].IsLocked
	return out, true, nil
}

// SetLock 将锁定状态设置为指定值，供锁定接口使用
func SetLock(schedules []domain.EmployeeDaySchedule, employeeName, dayOrDate string, locked bool) ([]domain.EmployeeDaySchedule, error) {
	i := findByDayOrDate(schedules, employeeName, dayOrDate)
	if i < 0 {
		return nil, ErrScheduleNotFound
	}
	if locked && schedules[i].TotalHours == 0 {
		return nil, errors.New("当天没有排班，无法锁定")
	}

	out := slices.Clone(schedules)
	out[i] = out[i].Clone()
	out[i].IsLocked = locked
	return out, nil
}

func findByDayOrDate(schedules []domain.EmployeeDaySchedule, employeeName, dayOrDate string) int {
	for i := range schedules {
		if schedules[i].EmployeeName != employeeName {
			continue
		}
		if schedules[i].DayOfWeek == dayOrDate || (schedules[i].Date != "" && schedules[i].Date == dayOrDate) {
			return i
		}
	}
	return -1
}
