package editor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/mutation"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/period"
)

// fakeAPI 按服务端的语义在内存中处理批量修改和锁定
type fakeAPI struct {
	mu        sync.Mutex
	server    *domain.WeeklyScheduleResult
	batches   [][]domain.ShiftEditRequest
	toggles   []domain.LockToggleRequest
	batchErr  error
	toggleErr error
	block     chan struct{}
	started   chan struct{}
}

func newFakeAPI(server *domain.WeeklyScheduleResult) *fakeAPI {
	return &fakeAPI{server: server.Clone(), started: make(chan struct{}, 16)}
}

func (f *fakeAPI) BatchUpdate(ctx context.Context, scheduleID int64, updates []domain.ShiftEditRequest) (*domain.BatchUpdateResult, error) {
	f.mu.Lock()
	f.batches = append(f.batches, updates)
	block := f.block
	f.mu.Unlock()
	f.started <- struct{}{}

	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.batchErr != nil {
		return nil, f.batchErr
	}

	out, failed := mutation.ApplyBatch(f.server, updates)
	f.server = out
	return &domain.BatchUpdateResult{
		Success:         len(failed) == 0,
		UpdatedSchedule: out.Clone(),
		FailedUpdates:   failed,
	}, nil
}

func (f *fakeAPI) ToggleLock(ctx context.Context, scheduleID int64, req domain.LockToggleRequest) (*domain.WeeklyScheduleResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggles = append(f.toggles, req)
	if f.toggleErr != nil {
		return nil, f.toggleErr
	}

	schedules, err := mutation.SetLock(f.server.Schedules, req.EmployeeName, req.DayOfWeek, req.DesiredLockState)
	if err != nil {
		return nil, err
	}
	f.server.Schedules = schedules
	return f.server.Clone(), nil
}

func (f *fakeAPI) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakeAPI) serverSchedule(employee, day string) domain.EmployeeDaySchedule {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := domain.FindSchedule(f.server.Schedules, employee, day)
	return f.server.Schedules[i]
}

func newDay(t *testing.T, employee, day, date, start, end string) domain.EmployeeDaySchedule {
	t.Helper()
	periods, err := period.BuildPeriods("08:00", "22:00")
	require.NoError(t, err)

	s := domain.EmployeeDaySchedule{EmployeeName: employee, DayOfWeek: day, Date: date, Periods: periods}
	if start != "" {
		return mutation.AddRange(s, start, end)
	}
	mutation.Recompute(&s)
	return s
}

func newWeek(t *testing.T) *domain.WeeklyScheduleResult {
	t.Helper()
	result := &domain.WeeklyScheduleResult{
		ID:        7,
		StoreName: "中山店",
		WeekStart: "2026-10-12",
		WeekEnd:   "2026-10-18",
		OpenTime:  "08:00",
		CloseTime: "22:00",
		Schedules: []domain.EmployeeDaySchedule{
			newDay(t, "Alice", "Monday", "2026-10-12", "09:00", "17:00"),
			newDay(t, "Bob", "Monday", "2026-10-12", "", ""),
			newDay(t, "Carol", "Monday", "2026-10-12", "12:00", "20:00"),
			newDay(t, "Alice", "Tuesday", "2026-10-13", "08:00", "10:00"),
		},
	}
	mutation.Summarize(result)
	return result
}

func newTestSession(t *testing.T, api ScheduleAPI, week *domain.WeeklyScheduleResult, mod func(*Options)) *Session {
	t.Helper()
	opts := DefaultOptions()
	opts.Debounce = time.Hour
	opts.RetryDelay = time.Hour
	opts.StatusResetDelay = time.Hour
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	if mod != nil {
		mod(&opts)
	}

	s, err := NewSession(api, week, opts)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func waitStatus(t *testing.T, events <-chan StatusEvent, want SaveStatus) StatusEvent {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case e, ok := <-events:
			require.True(t, ok, "session closed while waiting for %s", want)
			if e.Status == want {
				return e
			}
		case <-timeout:
			t.Fatalf("timed out waiting for status %s", want)
		}
	}
}

func findDay(t *testing.T, result *domain.WeeklyScheduleResult, employee, day string) domain.EmployeeDaySchedule {
	t.Helper()
	i := domain.FindSchedule(result.Schedules, employee, day)
	require.GreaterOrEqual(t, i, 0)
	return result.Schedules[i]
}

func TestSession_UndoRoundTrip(t *testing.T) {
	week := newWeek(t)
	s := newTestSession(t, newFakeAPI(week), week, nil)

	require.NoError(t, s.MoveShift("Alice", "Monday", "10:00", "18:00", "09:00", "17:00", ""))
	require.NoError(t, s.MoveShift("Carol", "Monday", "12:00", "20:00", "12:00", "20:00", "Bob"))
	require.NoError(t, s.DeleteShift("Alice", "Tuesday"))
	require.NoError(t, s.ToggleLock("Alice", "Monday"))
	assert.Equal(t, 4, s.UndoDepth())
	assert.Len(t, s.PendingChanges(), 3)

	for i := 0; i < 4; i++ {
		require.NoError(t, s.Undo())
	}

	got, err := s.Schedule()
	require.NoError(t, err)
	assert.Equal(t, week.Schedules, got.Schedules)
	assert.Empty(t, s.PendingChanges())
	assert.False(t, s.HasUnsavedChanges())
	assert.ErrorIs(t, s.Undo(), ErrNothingToUndo)
}

func TestSession_UndoRevertsQueueDelta(t *testing.T) {
	week := newWeek(t)
	s := newTestSession(t, newFakeAPI(week), week, nil)

	require.NoError(t, s.MoveShift("Alice", "Monday", "10:00", "18:00", "09:00", "17:00", ""))
	require.NoError(t, s.MoveShift("Alice", "Monday", "11:00", "19:00", "10:00", "18:00", ""))

	pending := s.PendingChanges()
	require.Len(t, pending, 1)
	assert.Equal(t, "11:00", pending[0].NewShiftStart)

	require.NoError(t, s.Undo())
	pending = s.PendingChanges()
	require.Len(t, pending, 1)
	assert.Equal(t, "10:00", pending[0].NewShiftStart)

	require.NoError(t, s.Undo())
	assert.Empty(t, s.PendingChanges())
}

func TestSession_DeleteLockedShift(t *testing.T) {
	week := newWeek(t)
	week.Schedules[0].IsLocked = true
	s := newTestSession(t, newFakeAPI(week), week, nil)

	assert.ErrorIs(t, s.DeleteShift("Alice", "Monday"), ErrLockedShift)
	assert.Empty(t, s.PendingChanges())
	assert.Equal(t, 0, s.UndoDepth())

	got, err := s.Schedule()
	require.NoError(t, err)
	assert.Equal(t, 8.0, findDay(t, got, "Alice", "Monday").TotalHours)
}

func TestSession_MoveLockedShift(t *testing.T) {
	week := newWeek(t)
	week.Schedules[0].IsLocked = true
	s := newTestSession(t, newFakeAPI(week), week, nil)

	assert.ErrorIs(t, s.MoveShift("Alice", "Monday", "10:00", "18:00", "09:00", "17:00", ""), ErrLockedShift)
	assert.ErrorIs(t, s.MoveShift("Alice", "Monday", "09:00", "12:00", "09:00", "17:00", "Alice"), ErrLockedShift)
	assert.ErrorIs(t, s.DragShift("Alice", "Monday", 48), ErrLockedShift)
	assert.ErrorIs(t, s.ResizeShift("Alice", "Monday", false, 240), ErrLockedShift)
	assert.Empty(t, s.PendingChanges())
	assert.Equal(t, 0, s.UndoDepth())
	assert.False(t, s.HasUnsavedChanges())

	got, err := s.Schedule()
	require.NoError(t, err)
	alice := findDay(t, got, "Alice", "Monday")
	assert.Equal(t, 8.0, alice.TotalHours)
	assert.Equal(t, "09:00", *alice.ShiftStart)

	// 改派仍然允许，锁定跟随班次
	require.NoError(t, s.MoveShift("Alice", "Monday", "09:00", "17:00", "09:00", "17:00", "Bob"))
	got, err = s.Schedule()
	require.NoError(t, err)
	assert.True(t, findDay(t, got, "Bob", "Monday").IsLocked)
}

func TestSession_ValidationRejected(t *testing.T) {
	week := newWeek(t)
	s := newTestSession(t, newFakeAPI(week), week, nil)

	var verr *ValidationError
	err := s.MoveShift("Alice", "Monday", "08:00", "20:00", "09:00", "17:00", "")
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "11")

	err = s.MoveShift("Alice", "Monday", "12:00", "16:00", "09:00", "17:00", "Carol")
	require.ErrorAs(t, err, &verr)

	err = s.AddNewShift("Alice", "Monday", "18:00", "20:00")
	require.ErrorAs(t, err, &verr)

	assert.ErrorIs(t, s.MoveShift("Dave", "Monday", "09:00", "17:00", "09:00", "17:00", ""), ErrScheduleNotFound)
	assert.Empty(t, s.PendingChanges())
	assert.Equal(t, 0, s.UndoDepth())
}

func TestSession_ReassignOntoOccupiedDay(t *testing.T) {
	week := newWeek(t)
	s := newTestSession(t, newFakeAPI(week), week, nil)

	require.NoError(t, s.MoveShift("Carol", "Monday", "18:00", "20:00", "12:00", "20:00", ""))

	// Carol 当天已有 18:00-20:00，即使不重叠也不能再多一个班次
	var verr *ValidationError
	err := s.MoveShift("Alice", "Monday", "09:00", "17:00", "09:00", "17:00", "Carol")
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "一个班次")
	assert.Len(t, s.PendingChanges(), 1)
	assert.Equal(t, 1, s.UndoDepth())
}

func TestSession_ReassignQueuesSingleEntry(t *testing.T) {
	week := newWeek(t)
	s := newTestSession(t, newFakeAPI(week), week, nil)

	require.NoError(t, s.MoveShift("Alice", "Monday", "09:00", "17:00", "09:00", "17:00", "Bob"))

	assert.Equal(t, []domain.ShiftEditRequest{{
		EmployeeName:    "Alice",
		DayOfWeek:       "Monday",
		Date:            "2026-10-12",
		NewShiftStart:   "09:00",
		NewShiftEnd:     "17:00",
		NewEmployeeName: "Bob",
	}}, s.PendingChanges())

	got, err := s.Schedule()
	require.NoError(t, err)
	assert.Equal(t, 0.0, findDay(t, got, "Alice", "Monday").TotalHours)
	assert.Equal(t, 8.0, findDay(t, got, "Bob", "Monday").TotalHours)
}

func TestSession_DragAndResize(t *testing.T) {
	week := newWeek(t)
	s := newTestSession(t, newFakeAPI(week), week, func(o *Options) { o.SlotHeight = 24 })

	// 48px 为两个时段，也就是一小时
	require.NoError(t, s.DragShift("Alice", "Monday", 48))
	got, err := s.Schedule()
	require.NoError(t, err)
	alice := findDay(t, got, "Alice", "Monday")
	assert.Equal(t, "10:00", *alice.ShiftStart)
	assert.Equal(t, "18:00", *alice.ShiftEnd)

	// 下沿拖到 20:00，即开门后 12 个小时
	require.NoError(t, s.ResizeShift("Alice", "Monday", false, 24*24))
	got, err = s.Schedule()
	require.NoError(t, err)
	alice = findDay(t, got, "Alice", "Monday")
	assert.Equal(t, "20:00", *alice.ShiftEnd)
	assert.Equal(t, 10.0, alice.TotalHours)

	pending := s.PendingChanges()
	require.Len(t, pending, 1)
	assert.Equal(t, "10:00", pending[0].NewShiftStart)
	assert.Equal(t, "20:00", pending[0].NewShiftEnd)
}

func TestSession_DebounceCoalescesEdits(t *testing.T) {
	week := newWeek(t)
	api := newFakeAPI(week)
	s := newTestSession(t, api, week, func(o *Options) { o.Debounce = 100 * time.Millisecond })
	events := s.Subscribe()

	start := time.Now()
	require.NoError(t, s.MoveShift("Alice", "Monday", "10:00", "18:00", "09:00", "17:00", ""))
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, s.AddNewShift("Bob", "Monday", "08:00", "12:00"))

	waitStatus(t, events, StatusSaved)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)

	require.Equal(t, 1, api.batchCount())
	assert.Len(t, api.batches[0], 2)
	assert.Empty(t, s.PendingChanges())
	assert.Equal(t, 0, s.UndoDepth(), "undo history is cleared after a save")
	assert.Equal(t, "10:00", *api.serverSchedule("Alice", "Monday").ShiftStart)
}

func TestSession_LockSurvivesReassign(t *testing.T) {
	week := newWeek(t)
	week.Schedules[0].IsLocked = true
	api := newFakeAPI(week)
	s := newTestSession(t, api, week, nil)
	events := s.Subscribe()

	require.NoError(t, s.MoveShift("Alice", "Monday", "09:00", "17:00", "09:00", "17:00", "Bob"))
	require.NoError(t, s.SaveNow())
	waitStatus(t, events, StatusSaved)

	require.Len(t, api.toggles, 1)
	assert.Equal(t, domain.LockToggleRequest{
		EmployeeName:     "Bob",
		DayOfWeek:        "Monday",
		Date:             "2026-10-12",
		DesiredLockState: true,
	}, api.toggles[0])
	assert.True(t, api.serverSchedule("Bob", "Monday").IsLocked)

	got, err := s.Schedule()
	require.NoError(t, err)
	assert.True(t, findDay(t, got, "Bob", "Monday").IsLocked)
	alice := findDay(t, got, "Alice", "Monday")
	assert.False(t, alice.IsLocked)
	assert.Equal(t, 0.0, alice.TotalHours)
}

func TestSession_ToggleLockOnlySave(t *testing.T) {
	week := newWeek(t)
	api := newFakeAPI(week)
	s := newTestSession(t, api, week, nil)
	events := s.Subscribe()

	require.NoError(t, s.ToggleLock("Alice", "2026-10-13"))
	assert.Empty(t, s.PendingChanges())
	require.NoError(t, s.SaveNow())
	waitStatus(t, events, StatusSaved)

	assert.Equal(t, 0, api.batchCount())
	require.Len(t, api.toggles, 1)
	assert.True(t, api.serverSchedule("Alice", "Tuesday").IsLocked)
}

func TestSession_ToggleLockFailureKept(t *testing.T) {
	week := newWeek(t)
	api := newFakeAPI(week)
	api.toggleErr = errors.New("connection refused")
	s := newTestSession(t, api, week, nil)
	events := s.Subscribe()

	require.NoError(t, s.ToggleLock("Alice", "Monday"))
	require.NoError(t, s.SaveNow())
	e := waitStatus(t, events, StatusError)

	var serr *SaveError
	require.ErrorAs(t, e.Err, &serr)
	var lerr *LockReapplicationError
	assert.ErrorAs(t, s.LastError(), &lerr)
	assert.True(t, s.HasUnsavedChanges())

	got, err := s.Schedule()
	require.NoError(t, err)
	assert.True(t, findDay(t, got, "Alice", "Monday").IsLocked, "local lock stays visible")
	assert.False(t, api.serverSchedule("Alice", "Monday").IsLocked)

	api.mu.Lock()
	api.toggleErr = nil
	api.mu.Unlock()

	require.NoError(t, s.SaveNow())
	waitStatus(t, events, StatusSaved)
	assert.True(t, api.serverSchedule("Alice", "Monday").IsLocked)
	assert.False(t, s.HasUnsavedChanges())
	assert.NoError(t, s.LastError())
}

func TestSession_PartialFailure(t *testing.T) {
	week := newWeek(t)
	server := week.Clone()
	// 服务端上 Bob 已经有了本地不知道的班次
	server.Schedules[1] = newDay(t, "Bob", "Monday", "2026-10-12", "12:00", "14:00")
	api := newFakeAPI(server)
	s := newTestSession(t, api, week, nil)
	events := s.Subscribe()

	require.NoError(t, s.MoveShift("Alice", "Monday", "09:00", "17:00", "09:00", "17:00", "Bob"))
	require.NoError(t, s.MoveShift("Alice", "Tuesday", "08:00", "12:00", "08:00", "10:00", ""))
	require.NoError(t, s.SaveNow())
	e := waitStatus(t, events, StatusError)

	var perr *PartialSaveError
	require.ErrorAs(t, e.Err, &perr)
	require.Len(t, perr.Failed, 1)
	assert.Equal(t, "Bob", perr.Failed[0].NewEmployeeName)
	assert.ErrorAs(t, s.LastError(), &perr)

	pending := s.PendingChanges()
	require.Len(t, pending, 1)
	assert.Equal(t, "Bob", pending[0].NewEmployeeName)

	// 以服务端为准
	got, err := s.Schedule()
	require.NoError(t, err)
	assert.Equal(t, 8.0, findDay(t, got, "Alice", "Monday").TotalHours)
	assert.Equal(t, 2.0, findDay(t, got, "Bob", "Monday").TotalHours)
	assert.Equal(t, 4.0, findDay(t, got, "Alice", "Tuesday").TotalHours)
}

func TestSession_PartialFailureRetriedByDefault(t *testing.T) {
	week := newWeek(t)
	server := week.Clone()
	server.Schedules[1] = newDay(t, "Bob", "Monday", "2026-10-12", "12:00", "14:00")
	api := newFakeAPI(server)
	s := newTestSession(t, api, week, nil)
	events := s.Subscribe()

	require.NoError(t, s.MoveShift("Alice", "Monday", "09:00", "17:00", "09:00", "17:00", "Bob"))
	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveNow())
		waitStatus(t, events, StatusError)
	}

	pending := s.PendingChanges()
	require.Len(t, pending, 1)
	assert.Equal(t, "Bob", pending[0].NewEmployeeName)
	assert.Equal(t, 5, api.batchCount())
}

func TestSession_PartialFailureDroppedAfterMaxAttempts(t *testing.T) {
	week := newWeek(t)
	server := week.Clone()
	server.Schedules[1] = newDay(t, "Bob", "Monday", "2026-10-12", "12:00", "14:00")
	api := newFakeAPI(server)
	s := newTestSession(t, api, week, func(o *Options) { o.MaxAttempts = 2 })
	events := s.Subscribe()

	require.NoError(t, s.MoveShift("Alice", "Monday", "09:00", "17:00", "09:00", "17:00", "Bob"))
	require.NoError(t, s.SaveNow())
	waitStatus(t, events, StatusError)
	assert.Len(t, s.PendingChanges(), 1)

	require.NoError(t, s.SaveNow())
	waitStatus(t, events, StatusError)
	assert.Empty(t, s.PendingChanges())
	assert.Equal(t, 2, api.batchCount())
}

func TestSession_TransportErrorKeepsQueue(t *testing.T) {
	week := newWeek(t)
	api := newFakeAPI(week)
	api.batchErr = errors.New("connection refused")
	s := newTestSession(t, api, week, nil)
	events := s.Subscribe()

	require.NoError(t, s.MoveShift("Alice", "Monday", "10:00", "18:00", "09:00", "17:00", ""))
	require.NoError(t, s.SaveNow())
	waitStatus(t, events, StatusError)

	var serr *SaveError
	require.ErrorAs(t, s.LastError(), &serr)
	assert.Len(t, s.PendingChanges(), 1)
	assert.Equal(t, 1, s.UndoDepth())

	got, err := s.Schedule()
	require.NoError(t, err)
	assert.Equal(t, "10:00", *findDay(t, got, "Alice", "Monday").ShiftStart, "local edit stays visible")

	api.mu.Lock()
	api.batchErr = nil
	api.mu.Unlock()

	require.NoError(t, s.SaveNow())
	waitStatus(t, events, StatusSaved)
	assert.Empty(t, s.PendingChanges())
	assert.NoError(t, s.LastError())
}

func TestSession_EditDuringSaveIsReplayed(t *testing.T) {
	week := newWeek(t)
	api := newFakeAPI(week)
	api.block = make(chan struct{})
	s := newTestSession(t, api, week, func(o *Options) { o.Debounce = 50 * time.Millisecond })
	events := s.Subscribe()

	require.NoError(t, s.MoveShift("Alice", "Monday", "10:00", "18:00", "09:00", "17:00", ""))
	require.NoError(t, s.SaveNow())
	<-api.started

	require.NoError(t, s.AddNewShift("Bob", "Monday", "08:00", "10:00"))
	require.NoError(t, s.SaveNow())
	assert.Equal(t, StatusSaving, s.Status())
	close(api.block)

	waitStatus(t, events, StatusSaved)
	got, err := s.Schedule()
	require.NoError(t, err)
	assert.Equal(t, 2.0, findDay(t, got, "Bob", "Monday").TotalHours, "edit made during the save is replayed on the server state")

	require.Eventually(t, func() bool {
		return api.batchCount() == 2 && len(s.PendingChanges()) == 0
	}, 3*time.Second, 10*time.Millisecond)

	api.mu.Lock()
	second := api.batches[1]
	api.mu.Unlock()
	require.Len(t, second, 1)
	assert.Equal(t, "Bob", second[0].EmployeeName)
	assert.Equal(t, 2.0, api.serverSchedule("Bob", "Monday").TotalHours)
}

func TestSession_StatusResetsToIdle(t *testing.T) {
	week := newWeek(t)
	s := newTestSession(t, newFakeAPI(week), week, func(o *Options) { o.StatusResetDelay = 20 * time.Millisecond })
	events := s.Subscribe()

	require.NoError(t, s.AddNewShift("Bob", "Monday", "08:00", "10:00"))
	require.NoError(t, s.SaveNow())
	waitStatus(t, events, StatusSaving)
	waitStatus(t, events, StatusSaved)
	waitStatus(t, events, StatusIdle)
}

func TestSession_Closed(t *testing.T) {
	week := newWeek(t)
	s := newTestSession(t, newFakeAPI(week), week, nil)
	s.Close()

	assert.ErrorIs(t, s.MoveShift("Alice", "Monday", "10:00", "18:00", "09:00", "17:00", ""), ErrSessionClosed)
	assert.ErrorIs(t, s.Undo(), ErrSessionClosed)
}
