package seed

import (
	"math/rand"
	"time"

	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/mutation"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/period"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/utils"
)

// HourlyWage 用于估算随机排班和导入排班的人力成本
const HourlyWage = 25.0

var storeNames = []string{"中山店", "天河店", "海珠店", "番禺店", "越秀店"}

// WeekStart 返回 t 所在周的星期一
func WeekStart(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return time.Date(t.Year(), t.Month(), t.Day()-offset, 0, 0, 0, 0, t.Location())
}

// newWeek 为每个员工的每一天生成空排班
func newWeek(storeName string, monday time.Time, open, close string, employees []string) (*domain.WeeklyScheduleResult, error) {
	periods, err := period.BuildPeriods(open, close)
	if err != nil {
		return nil, err
	}

	result := &domain.WeeklyScheduleResult{
		StoreName:            storeName,
		WeekStart:            monday.Format(time.DateOnly),
		WeekEnd:              monday.AddDate(0, 0, 6).Format(time.DateOnly),
		OpenTime:             open,
		CloseTime:            close,
		Schedules:            make([]domain.EmployeeDaySchedule, 0, len(employees)*len(domain.DaysOfWeek)),
		ComplianceViolations: make([]domain.ComplianceViolation, 0),
	}

	for i, day := range domain.DaysOfWeek {
		date := monday.AddDate(0, 0, i).Format(time.DateOnly)
		for _, employee := range employees {
			s := domain.EmployeeDaySchedule{
				EmployeeName: employee,
				DayOfWeek:    day,
				Date:         date,
				Periods:      append([]domain.Period(nil), periods...),
			}
			mutation.Recompute(&s)
			result.Schedules = append(result.Schedules, s)
		}
	}

	return result, nil
}

// finish 统计每天的汇总并按工时估算成本
func finish(result *domain.WeeklyScheduleResult) {
	mutation.Summarize(result)

	result.TotalWeeklyCost = 0
	for i := range result.DailySummaries {
		result.DailySummaries[i].TotalCost = result.DailySummaries[i].TotalLaborHours * HourlyWage
		result.TotalWeeklyCost += result.DailySummaries[i].TotalCost
	}

	for _, s := range result.Schedules {
		if s.IsShortShift {
			result.ComplianceViolations = append(result.ComplianceViolations, domain.ComplianceViolation{
				EmployeeName: s.EmployeeName,
				DayOfWeek:    s.DayOfWeek,
				Rule:         "min_shift_length",
				Message:      "班次时长不足 3 小时",
			})
		}
	}
}

// GenerateRandomWeek 生成一周的随机排班，每个员工每天有一定概率排一个 3 到 8 小时的班次
func GenerateRandomWeek(monday time.Time, open, close string, employeeCount int) (*domain.WeeklyScheduleResult, error) {
	employees := utils.GenerateRandomNames(employeeCount)
	storeName := storeNames[rand.Intn(len(storeNames))]

	result, err := newWeek(storeName, monday, open, close, employees)
	if err != nil {
		return nil, err
	}

	openMin := period.TimeToMinutes(open)
	closeMin := period.TimeToMinutes(close)
	for i := range result.Schedules {
		if rand.Float64() < 0.4 {
			continue
		}

		length := (rand.Intn(11) + 6) * period.Minutes
		if length > closeMin-openMin {
			length = closeMin - openMin
		}
		slots := (closeMin - openMin - length) / period.Minutes
		start := openMin + rand.Intn(slots+1)*period.Minutes

		s := mutation.AddRange(result.Schedules[i], period.MinutesToTime(start), period.MinutesToTime(start+length))
		s.IsLocked = rand.Float64() < 0.1
		result.Schedules[i] = s
	}

	finish(result)
	return result, nil
}
