package utils

import (
	"errors"
	"fmt"

	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/period"
)

const (
	MinShiftMinutes = period.Minutes
	MaxShiftMinutes = 11 * 60
)

type DropValidity struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

func invalid(format string, args ...any) DropValidity {
	return DropValidity{Valid: false, Reason: fmt.Sprintf(format, args...)}
}

// ValidateDrop 检查拖放后的时间范围是否合法：时长 30 分钟到 11 小时，在营业时间内，且开始早于结束
func ValidateDrop(start, end, openTime, closeTime string) DropValidity {
	startMin, err := period.ParseTime(start)
	if err != nil {
		return invalid("开始时间格式错误")
	}
	endMin, err := period.ParseTime(end)
	if err != nil {
		return invalid("结束时间格式错误")
	}

	if startMin >= endMin {
		return invalid("开始时间必须早于结束时间")
	}
	if startMin%period.Minutes != 0 || endMin%period.Minutes != 0 {
		return invalid("时间必须对齐到半小时")
	}

	duration := endMin - startMin
	if duration < MinShiftMinutes {
		return invalid("班次时长不能少于 %d 分钟", MinShiftMinutes)
	}
	if duration > MaxShiftMinutes {
		return invalid("班次时长不能超过 %d 小时", MaxShiftMinutes/60)
	}

	openMin, err := period.ParseTime(openTime)
	if err != nil {
		return invalid("营业时间格式错误")
	}
	closeMin, err := period.ParseTime(closeTime)
	if err != nil {
		return invalid("营业时间格式错误")
	}
	if startMin < openMin || endMin > closeMin {
		return invalid("班次必须在营业时间 %s-%s 内", openTime, closeTime)
	}

	return DropValidity{Valid: true}
}

// ValidateNoOverlap 检查目标员工当天能否安排 [start, end)。
// 每个员工每天最多一个连续班次，所以除了 [ignoreStart, ignoreEnd) 这个正在被移动的班次本身，
// 当天已有的任何班次都会被拒绝，不论是否与新的时间范围重叠
func ValidateNoOverlap(dest *domain.EmployeeDaySchedule, start, end, ignoreStart, ignoreEnd string) error {
	startMin := period.TimeToMinutes(start)
	endMin := period.TimeToMinutes(end)
	ignoreStartMin, ignoreEndMin := -1, -1
	if ignoreStart != "" && ignoreEnd != "" {
		ignoreStartMin = period.TimeToMinutes(ignoreStart)
		ignoreEndMin = period.TimeToMinutes(ignoreEnd)
	}

	occupied := false
	for _, p := range dest.Periods {
		if !p.Scheduled {
			continue
		}
		ps := period.TimeToMinutes(p.StartTime)
		pe := period.TimeToMinutes(p.EndTime)
		if ps >= ignoreStartMin && pe <= ignoreEndMin {
			continue
		}
		if ps < endMin && startMin < pe {
			return fmt.Errorf("%s 在 %s %s-%s 已有班次", dest.EmployeeName, dest.DayOfWeek, p.StartTime, p.EndTime)
		}
		occupied = true
	}
	if occupied {
		return fmt.Errorf("%s 在 %s 已有班次，每天只能安排一个班次", dest.EmployeeName, dest.DayOfWeek)
	}

	return nil
}

// ValidateWeeklySchedule 检查整周排班是否满足数据模型的不变量
func ValidateWeeklySchedule(result *domain.WeeklyScheduleResult) error {
	if result.StoreName == "" {
		return errors.New("门店名称不能为空")
	}
	if _, err := period.WindowFromTimes(result.OpenTime, result.CloseTime); err != nil {
		return err
	}

	seen := make(map[domain.ShiftKey]bool)
	for i, s := range result.Schedules {
		if seen[s.Key()] {
			return fmt.Errorf("第 %d 项排班重复: %s %s", i+1, s.EmployeeName, s.DayOfWeek)
		}
		seen[s.Key()] = true

		for j := 1; j < len(s.Periods); j++ {
			if s.Periods[j-1].EndTime != s.Periods[j].StartTime {
				return fmt.Errorf("%s %s 的时段不连续", s.EmployeeName, s.DayOfWeek)
			}
		}
	}

	return nil
}
