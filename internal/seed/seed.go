// Package seed 生成演示用的排班数据，或导入求解器输出的 CSV
package seed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/mutation"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/utils"
)

// csvHeaders 求解器导出文件的表头
var csvHeaders = []string{"employee", "day", "date", "start", "end"}

type csvRow struct {
	line     int
	employee string
	day      string
	date     time.Time
	start    string
	end      string
}

// ImportCSV 读取求解器导出的排班，每行为一个员工某一天的班次。
// 文件中出现过的员工在一周的每一天都会有一条排班，没有班次的那天为空
func ImportCSV(r io.Reader, storeName, open, close string) (*domain.WeeklyScheduleResult, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	// 读取表头
	headers, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("读取表头失败: %w", err)
	}
	for i := range headers {
		headers[i] = strings.ToLower(strings.TrimSpace(headers[i]))
	}
	if !slices.Equal(headers, csvHeaders) {
		return nil, fmt.Errorf("表头应为 %s", strings.Join(csvHeaders, ","))
	}

	// 读取数据
	rows := make([]csvRow, 0)
	employees := make([]string, 0)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("读取第 %d 行失败: %w", line, err)
		}

		row, err := parseRow(line, record)
		if err != nil {
			return nil, err
		}
		if v := utils.ValidateDrop(row.start, row.end, open, close); !v.Valid {
			return nil, fmt.Errorf("第 %d 行: %s", line, v.Reason)
		}

		rows = append(rows, row)
		if !slices.Contains(employees, row.employee) {
			employees = append(employees, row.employee)
		}
	}

	if len(rows) == 0 {
		return nil, errors.New("文件中没有任何班次")
	}

	monday := WeekStart(rows[0].date)
	result, err := newWeek(storeName, monday, open, close, employees)
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		if !WeekStart(row.date).Equal(monday) {
			return nil, fmt.Errorf("第 %d 行的日期 %s 不在同一周", row.line, row.date.Format(time.DateOnly))
		}

		i := domain.FindSchedule(result.Schedules, row.employee, row.day)
		if result.Schedules[i].Date != row.date.Format(time.DateOnly) {
			return nil, fmt.Errorf("第 %d 行的日期与星期不一致", row.line)
		}
		if err := utils.ValidateNoOverlap(&result.Schedules[i], row.start, row.end, "", ""); err != nil {
			return nil, fmt.Errorf("第 %d 行: %w", row.line, err)
		}

		result.Schedules[i] = mutation.AddRange(result.Schedules[i], row.start, row.end)
	}

	finish(result)

	if err := utils.ValidateWeeklySchedule(result); err != nil {
		return nil, err
	}

	slog.Info("已解析排班文件", "employees", len(employees), "shifts", len(rows), "weekStart", result.WeekStart)
	return result, nil
}

func parseRow(line int, record []string) (csvRow, error) {
	for i := range record {
		record[i] = strings.TrimSpace(record[i])
	}

	row := csvRow{
		line:     line,
		employee: record[0],
		day:      record[1],
		start:    record[3],
		end:      record[4],
	}
	if row.employee == "" {
		return row, fmt.Errorf("第 %d 行缺少员工姓名", line)
	}
	if !slices.Contains(domain.DaysOfWeek, row.day) {
		return row, fmt.Errorf("第 %d 行的星期 %q 无效", line, row.day)
	}

	date, err := time.Parse(time.DateOnly, record[2])
	if err != nil {
		return row, fmt.Errorf("第 %d 行的日期 %q 无效", line, record[2])
	}
	row.date = date

	return row, nil
}
