package editor

import (
	"time"

	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/domain"
)

// Store 编辑器中当前加载的一周排班。
// 算子从不原地修改，所以旧的 schedules 切片可以直接被快照引用，无需深拷贝
type Store struct {
	result *domain.WeeklyScheduleResult
}

func NewStore(result *domain.WeeklyScheduleResult) *Store {
	return &Store{result: result.Clone()}
}

// Result 返回一份深拷贝，调用方可以随意修改
func (s *Store) Result() *domain.WeeklyScheduleResult {
	return s.result.Clone()
}

func (s *Store) ID() int64 {
	return s.result.ID
}

func (s *Store) OpenTime() string {
	return s.result.OpenTime
}

func (s *Store) CloseTime() string {
	return s.result.CloseTime
}

// Schedules 返回内部切片，只读
func (s *Store) Schedules() []domain.EmployeeDaySchedule {
	return s.result.Schedules
}

func (s *Store) Find(employeeName, day string) (domain.EmployeeDaySchedule, bool) {
	i := domain.FindSchedule(s.result.Schedules, employeeName, day)
	if i < 0 {
		return domain.EmployeeDaySchedule{}, false
	}
	return s.result.Schedules[i], true
}

func (s *Store) FindKey(key domain.ShiftKey) (domain.EmployeeDaySchedule, bool) {
	return s.Find(key.EmployeeName, key.DayOfWeek)
}

// ReplaceSchedules 用算子返回的新切片替换当前排班
func (s *Store) ReplaceSchedules(schedules []domain.EmployeeDaySchedule) {
	next := *s.result
	next.Schedules = schedules
	s.result = &next
}

// Replace 整体采用服务端返回的排班
func (s *Store) Replace(result *domain.WeeklyScheduleResult) {
	s.result = result.Clone()
}

func (s *Store) Snapshot(now time.Time) domain.ScheduleSnapshot {
	return domain.ScheduleSnapshot{
		Schedules:      s.result.Schedules,
		DailySummaries: s.result.DailySummaries,
		Timestamp:      now,
	}
}

func (s *Store) Restore(snapshot domain.ScheduleSnapshot) {
	next := *s.result
	next.Schedules = snapshot.Schedules
	next.DailySummaries = snapshot.DailySummaries
	s.result = &next
}
