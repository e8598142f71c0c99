// Package period 负责时钟时间、分钟偏移、像素偏移与 30 分钟时段之间的换算
package period

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/domain"
)

const (
	Minutes    = 30      // 一个时段的长度
	MinutesDay = 24 * 60 // "24:00" 对应的分钟数
)

// ParseTime 严格解析 "HH:MM"，允许 "24:00" 表示当天结束
func ParseTime(t string) (int, error) {
	hh, mm, ok := strings.Cut(t, ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, fmt.Errorf("时间格式错误: %q", t)
	}
	hours, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("时间格式错误: %q", t)
	}
	mins, err := strconv.Atoi(mm)
	if err != nil {
		return 0, fmt.Errorf("时间格式错误: %q", t)
	}
	if hours < 0 || mins < 0 || mins > 59 || hours > 24 || (hours == 24 && mins != 0) {
		return 0, fmt.Errorf("时间超出范围: %q", t)
	}
	return hours*60 + mins, nil
}

// TimeToMinutes 将 "HH:MM" 转为当天分钟数，非法输入返回 0
func TimeToMinutes(t string) int {
	m, err := ParseTime(t)
	if err != nil {
		return 0
	}
	return m
}

// MinutesToTime 将分钟数格式化为 "HH:MM"，超出 [0, 24:00] 的值会被截断
func MinutesToTime(m int) string {
	m = max(0, min(m, MinutesDay))
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// SnapToHalfHour 取最近的 30 分钟刻度，正好在中间时向后取
func SnapToHalfHour(m int) int {
	if m < 0 {
		return -SnapToHalfHour(-m)
	}
	return (m + Minutes/2) / Minutes * Minutes
}

// Window 门店营业窗口，单位为小时
type Window struct {
	MinHour int
	MaxHour int
}

// WindowFromTimes 用营业时间构造窗口，开门时间向下取整，关门时间向上取整
func WindowFromTimes(open, close string) (Window, error) {
	openMin, err := ParseTime(open)
	if err != nil {
		return Window{}, err
	}
	closeMin, err := ParseTime(close)
	if err != nil {
		return Window{}, err
	}
	if closeMin <= openMin {
		return Window{}, fmt.Errorf("关门时间 %s 必须晚于开门时间 %s", close, open)
	}
	return Window{MinHour: openMin / 60, MaxHour: (closeMin + 59) / 60}, nil
}

func (w Window) Start() int { return w.MinHour * 60 }
func (w Window) End() int   { return w.MaxHour * 60 }

// Snap 先对齐到 30 分钟，再限制在窗口内
func (w Window) Snap(m int) int {
	return max(w.Start(), min(SnapToHalfHour(m), w.End()))
}

// Normalize 对齐并限制区间两端，保证至少一个时段。
// 若拖动导致 start >= end，则把另一端推开一个时段，而不是直接拒绝
func (w Window) Normalize(start, end int) (int, int) {
	start = w.Snap(start)
	end = w.Snap(end)
	if end-start < Minutes {
		end = start + Minutes
	}
	if end > w.End() {
		end = w.End()
		start = end - Minutes
	}
	return start, end
}

// Grid 描述编辑器中的纵向时间轴，SlotHeight 为一个时段对应的像素高度
type Grid struct {
	SlotHeight float64
	Window     Window
}

func (g Grid) PixelToMinutes(px float64) int {
	if g.SlotHeight <= 0 {
		return g.Window.Start()
	}
	return g.Window.Start() + int(px/g.SlotHeight*Minutes)
}

func (g Grid) MinutesToPixel(m int) float64 {
	return float64(m-g.Window.Start()) / Minutes * g.SlotHeight
}

// MoveRange 整体拖动一个班次，保持时长不变并停在窗口内
func (g Grid) MoveRange(start, end int, deltaPx float64) (int, int) {
	if g.SlotHeight <= 0 {
		return start, end
	}
	duration := max(end-start, Minutes)
	duration = min(duration, g.Window.End()-g.Window.Start())

	delta := SnapToHalfHour(int(deltaPx / g.SlotHeight * Minutes))
	newStart := SnapToHalfHour(start + delta)
	newStart = max(g.Window.Start(), min(newStart, g.Window.End()-duration))
	return newStart, newStart + duration
}

// ResizeStart 拖动班次上沿
func (g Grid) ResizeStart(start, end int, px float64) (int, int) {
	newStart := g.Window.Snap(g.PixelToMinutes(px))
	if newStart >= end {
		// 上沿越过下沿时，把下沿推开
		return g.Window.Normalize(newStart, newStart+Minutes)
	}
	return g.Window.Normalize(newStart, end)
}

// ResizeEnd 拖动班次下沿
func (g Grid) ResizeEnd(start, end int, px float64) (int, int) {
	newEnd := g.Window.Snap(g.PixelToMinutes(px))
	if newEnd <= start {
		newStart := max(g.Window.Start(), newEnd-Minutes)
		return g.Window.Normalize(newStart, newStart+Minutes)
	}
	return g.Window.Normalize(start, newEnd)
}

// Index 计算某一时刻所在时段的下标
func Index(m int, open int) int {
	return (m - open) / Minutes
}

// BuildPeriods 生成覆盖整个营业时间的连续时段，全部未排班
func BuildPeriods(open, close string) ([]domain.Period, error) {
	openMin, err := ParseTime(open)
	if err != nil {
		return nil, err
	}
	closeMin, err := ParseTime(close)
	if err != nil {
		return nil, err
	}
	if closeMin <= openMin {
		return nil, fmt.Errorf("关门时间 %s 必须晚于开门时间 %s", close, open)
	}

	periods := make([]domain.Period, 0, (closeMin-openMin)/Minutes)
	for m := openMin; m+Minutes <= closeMin; m += Minutes {
		periods = append(periods, domain.Period{
			PeriodIndex: Index(m, openMin),
			StartTime:   MinutesToTime(m),
			EndTime:     MinutesToTime(m + Minutes),
		})
	}
	return periods, nil
}
