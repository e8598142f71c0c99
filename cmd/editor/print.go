package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/domain"
)

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func printScheduleList(w io.Writer, results []*domain.WeeklyScheduleResult) {
	tw := newTabWriter(w)
	fmt.Fprintln(tw, "ID\t门店\t周\t营业时间\t总工时\t已修改")
	for _, r := range results {
		fmt.Fprintf(tw, "%d\t%s\t%s ~ %s\t%s-%s\t%.1f\t%v\n", r.ID, r.StoreName, r.WeekStart, r.WeekEnd, r.OpenTime, r.CloseTime, r.TotalLaborHours, r.IsEdited)
	}
	tw.Flush()
}

// printSchedule 按天输出排班，day 非空时只输出这一天
func printSchedule(w io.Writer, result *domain.WeeklyScheduleResult, day string) {
	fmt.Fprintf(w, "%s  %s ~ %s  营业时间 %s-%s  总工时 %.1f  成本 %.2f\n", result.StoreName, result.WeekStart, result.WeekEnd, result.OpenTime, result.CloseTime, result.TotalLaborHours, result.TotalWeeklyCost)

	for _, d := range domain.DaysOfWeek {
		if day != "" && d != day {
			continue
		}

		tw := newTabWriter(w)
		printed := false
		for _, s := range result.Schedules {
			if s.DayOfWeek != d {
				continue
			}
			if !printed {
				fmt.Fprintf(tw, "\n%s %s\n", d, s.Date)
				fmt.Fprintln(tw, "员工\t班次\t工时\t状态")
				printed = true
			}

			shift := "-"
			if s.ShiftStart != nil && s.ShiftEnd != nil {
				shift = *s.ShiftStart + "-" + *s.ShiftEnd
			}
			flags := ""
			if s.IsLocked {
				flags += "锁定 "
			}
			if s.IsShortShift {
				flags += "短班"
			}
			fmt.Fprintf(tw, "%s\t%s\t%.1f\t%s\n", s.EmployeeName, shift, s.TotalHours, flags)
		}
		tw.Flush()

		for _, summary := range result.DailySummaries {
			if summary.DayOfWeek == d && len(summary.UnfilledPeriods) > 0 {
				fmt.Fprintf(w, "无人值守的时段: %v\n", summary.UnfilledPeriods)
			}
		}
	}

	for _, v := range result.ComplianceViolations {
		if day == "" || v.DayOfWeek == day {
			fmt.Fprintf(w, "[%s] %s %s: %s\n", v.Rule, v.EmployeeName, v.DayOfWeek, v.Message)
		}
	}
}

func printPending(w io.Writer, reqs []domain.ShiftEditRequest) {
	if len(reqs) == 0 {
		fmt.Fprintln(w, "没有待保存的修改")
		return
	}

	tw := newTabWriter(w)
	fmt.Fprintln(tw, "员工\t星期\t新班次\t改派给")
	for _, r := range reqs {
		shift := "删除"
		if !r.IsDeletion() {
			shift = r.NewShiftStart + "-" + r.NewShiftEnd
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.EmployeeName, r.DayOfWeek, shift, r.NewEmployeeName)
	}
	tw.Flush()
}

func printEditLogs(w io.Writer, logs []*domain.EditLog) {
	tw := newTabWriter(w)
	fmt.Fprintln(tw, "时间\t用户\t操作\t成功\t失败")
	for _, l := range logs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", l.CreatedAt.Local().Format(time.DateTime), l.Username, l.Action, l.Applied, l.Failed)
	}
	tw.Flush()
}
