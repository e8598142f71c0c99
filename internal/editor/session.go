// Package editor 实现排班编辑会话：本地修改、撤销、防抖自动保存以及与服务端的对账。
// 会话的全部状态只由一个 goroutine 读写，外部调用通过消息传递进入该 goroutine
package editor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/mutation"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/period"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/utils"
)

// ScheduleAPI 编辑会话依赖的服务端接口
type ScheduleAPI interface {
	BatchUpdate(ctx context.Context, scheduleID int64, updates []domain.ShiftEditRequest) (*domain.BatchUpdateResult, error)
	ToggleLock(ctx context.Context, scheduleID int64, req domain.LockToggleRequest) (*domain.WeeklyScheduleResult, error)
}

type Options struct {
	Debounce         time.Duration
	RetryDelay       time.Duration
	StatusResetDelay time.Duration
	UndoLimit        int
	// MaxAttempts 为 0 时失败的修改会一直重试
	MaxAttempts int
	// RequestTimeout 为 0 时不设超时
	RequestTimeout time.Duration
	// SlotHeight 为一个时段在界面上的像素高度，用于拖动换算
	SlotHeight float64
	Logger     *slog.Logger
	Metrics    Recorder
}

func DefaultOptions() Options {
	return Options{
		Debounce:         500 * time.Millisecond,
		RetryDelay:       3 * time.Second,
		StatusResetDelay: 2 * time.Second,
		UndoLimit:        DefaultUndoLimit,
		MaxAttempts:      0,
		SlotHeight:       24,
	}
}

type message any

type commandMsg struct{ fn func() }

type timerFiredMsg struct{ gen uint64 }

type saveCompletedMsg struct{ outcome saveOutcome }

type statusResetMsg struct{ gen uint64 }

type closeMsg struct{}

type Session struct {
	ID string

	api      ScheduleAPI
	opts     Options
	logger   *slog.Logger
	metrics  Recorder
	validate *validator.Validate
	trans    ut.Translator
	bus      statusBus

	inbox     chan message
	done      chan struct{}
	closeOnce sync.Once

	// 以下字段只在 run 所在的 goroutine 中访问
	store       *Store
	serverState *domain.WeeklyScheduleResult
	undo        *UndoStack
	queue       *PendingQueue
	lockDirty   map[domain.ShiftKey]bool
	status      SaveStatus
	lastErr     error
	timer       *time.Timer
	timerGen    uint64
	statusTimer *time.Timer
	statusGen   uint64
	saving      bool
	deferred    bool
	closing     bool
}

// NewSession 加载一周排班并启动会话
func NewSession(api ScheduleAPI, result *domain.WeeklyScheduleResult, opts Options) (*Session, error) {
	if result == nil {
		return nil, ErrScheduleNotFound
	}
	if _, err := period.WindowFromTimes(result.OpenTime, result.CloseTime); err != nil {
		return nil, err
	}

	validate, trans, err := utils.NewValidator()
	if err != nil {
		return nil, err
	}

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	if opts.Metrics == nil {
		opts.Metrics = nopRecorder{}
	}

	s := &Session{
		ID:       uuid.NewString(),
		api:      api,
		opts:     opts,
		metrics:  opts.Metrics,
		validate: validate,
		trans:    trans,
		inbox:    make(chan message, 64),
		done:     make(chan struct{}),
	}
	s.logger = opts.Logger.With("session", s.ID)
	s.load(result)

	go s.run()

	return s, nil
}

func (s *Session) run() {
	defer close(s.done)
	defer s.bus.close()

	for {
		msg := <-s.inbox

		switch m := msg.(type) {
		case commandMsg:
			m.fn()
		case timerFiredMsg:
			if m.gen == s.timerGen {
				s.timer = nil
				s.startSave()
			}
		case saveCompletedMsg:
			s.finishSave(m.outcome)
		case statusResetMsg:
			if m.gen == s.statusGen && (s.status == StatusSaved || s.status == StatusError) {
				s.setStatus(StatusIdle)
			}
		case closeMsg:
			s.closing = true
			s.stopTimer()
			s.stopStatusTimer()
		}

		if s.closing && !s.saving {
			if s.queue.Len() > 0 {
				s.logger.Warn("会话关闭时仍有未保存的修改", "pending", s.queue.Len())
			}
			return
		}
	}
}

// call 在会话的 goroutine 中执行 fn 并等待其完成
func (s *Session) call(fn func()) error {
	finished := make(chan struct{})
	select {
	case s.inbox <- commandMsg{fn: func() { fn(); close(finished) }}:
	case <-s.done:
		return ErrSessionClosed
	}

	select {
	case <-finished:
		return nil
	case <-s.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrSessionClosed
		}
	}
}

// post 供定时器和保存 goroutine 向会话投递消息
func (s *Session) post(msg message) {
	select {
	case s.inbox <- msg:
	case <-s.done:
	}
}

// Close 停止定时器，等待正在进行的保存结束后退出。未保存的修改会被丢弃
func (s *Session) Close() {
	s.closeOnce.Do(func() { s.post(closeMsg{}) })
	<-s.done
}

// Load 用新的排班替换当前会话内容，撤销栈和待保存队列一并清空
func (s *Session) Load(result *domain.WeeklyScheduleResult) error {
	if result == nil {
		return ErrScheduleNotFound
	}
	if _, err := period.WindowFromTimes(result.OpenTime, result.CloseTime); err != nil {
		return err
	}

	var err error
	if callErr := s.call(func() {
		if s.closing {
			err = ErrSessionClosed
			return
		}
		if s.saving {
			err = errors.New("正在保存，请稍后再加载")
			return
		}
		s.stopTimer()
		s.load(result)
		s.setStatus(StatusIdle)
	}); callErr != nil {
		return callErr
	}
	return err
}

func (s *Session) load(result *domain.WeeklyScheduleResult) {
	s.store = NewStore(result)
	s.serverState = result.Clone()
	s.undo = NewUndoStack(s.opts.UndoLimit)
	s.queue = NewPendingQueue()
	s.lockDirty = make(map[domain.ShiftKey]bool)
	s.lastErr = nil
	s.logger.Info("加载排班", "scheduleID", result.ID, "storeName", result.StoreName, "weekStart", result.WeekStart)
}

// mutate 在会话 goroutine 中执行一次修改，会话关闭后直接返回 ErrSessionClosed
func (s *Session) mutate(fn func() error) error {
	var err error
	if callErr := s.call(func() {
		if s.closing {
			err = ErrSessionClosed
			return
		}
		err = fn()
	}); callErr != nil {
		return callErr
	}
	return err
}

// commit 先压入快照，再替换排班并更新队列，最后重置防抖定时器
func (s *Session) commit(next []domain.EmployeeDaySchedule, reqs ...domain.ShiftEditRequest) {
	entry := UndoEntry{Snapshot: s.store.Snapshot(time.Now())}
	for _, req := range reqs {
		prev := s.queue.Put(req)
		entry.Deltas = append(entry.Deltas, QueueDelta{Key: req.Key(), Prev: prev})
	}
	s.undo.Push(entry)
	s.store.ReplaceSchedules(next)
	s.scheduleDebounce(s.opts.Debounce)
}

func (s *Session) checkRequest(req domain.ShiftEditRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return &ValidationError{Reason: utils.TranslateError(err, s.trans)}
	}
	return nil
}

func (s *Session) checkDrop(start, end string) error {
	if v := utils.ValidateDrop(start, end, s.store.OpenTime(), s.store.CloseTime()); !v.Valid {
		return &ValidationError{Reason: v.Reason}
	}
	return nil
}

// MoveShift 拖动、调整或改派一个班次。newEmployeeName 为空或与原员工相同表示不改派。
// 已锁定的班次只能改派，不能在原员工当天内移动或调整
func (s *Session) MoveShift(employeeName, day, newStart, newEnd, originalStart, originalEnd, newEmployeeName string) error {
	return s.mutate(func() error {
		return s.moveShift(employeeName, day, newStart, newEnd, originalStart, originalEnd, newEmployeeName)
	})
}

// moveShift 只能在会话 goroutine 中调用
func (s *Session) moveShift(employeeName, day, newStart, newEnd, originalStart, originalEnd, newEmployeeName string) error {
	src, ok := s.store.Find(employeeName, day)
	if !ok {
		return ErrScheduleNotFound
	}

	target := employeeName
	if newEmployeeName != "" {
		target = newEmployeeName
	}
	if src.IsLocked && target == employeeName {
		s.logger.Debug("班次已锁定，拒绝移动", "employee", employeeName, "day", day)
		return ErrLockedShift
	}

	if err := s.checkDrop(newStart, newEnd); err != nil {
		return err
	}
	dst, ok := s.store.Find(target, day)
	if !ok {
		return ErrScheduleNotFound
	}

	ignoreStart, ignoreEnd := "", ""
	if target == employeeName {
		ignoreStart, ignoreEnd = originalStart, originalEnd
	}
	if err := utils.ValidateNoOverlap(&dst, newStart, newEnd, ignoreStart, ignoreEnd); err != nil {
		return &ValidationError{Reason: err.Error()}
	}

	req := domain.ShiftEditRequest{
		EmployeeName:  employeeName,
		DayOfWeek:     day,
		Date:          src.Date,
		NewShiftStart: newStart,
		NewShiftEnd:   newEnd,
	}
	if target != employeeName {
		req.NewEmployeeName = target
	}
	if err := s.checkRequest(req); err != nil {
		return err
	}

	next, err := mutation.MoveShift(s.store.Schedules(), employeeName, day, newStart, newEnd, originalStart, originalEnd, req.NewEmployeeName)
	if err != nil {
		if errors.Is(err, mutation.ErrShiftLocked) {
			return ErrLockedShift
		}
		return err
	}

	s.commit(next, req)
	s.logger.Debug("移动班次", "employee", employeeName, "day", day, "start", newStart, "end", newEnd, "newEmployee", req.NewEmployeeName)
	return nil
}

func (s *Session) grid() period.Grid {
	window, _ := period.WindowFromTimes(s.store.OpenTime(), s.store.CloseTime())
	return period.Grid{SlotHeight: s.opts.SlotHeight, Window: window}
}

// currentRange 返回当天班次的起止时间，只能在会话 goroutine 中调用
func (s *Session) currentRange(employeeName, day string) (string, string, error) {
	cur, ok := s.store.Find(employeeName, day)
	if !ok {
		return "", "", ErrScheduleNotFound
	}
	if cur.ShiftStart == nil || cur.ShiftEnd == nil {
		return "", "", &ValidationError{Reason: "当天没有班次"}
	}
	return *cur.ShiftStart, *cur.ShiftEnd, nil
}

// DragShift 按像素位移整体拖动一个班次
func (s *Session) DragShift(employeeName, day string, deltaPx float64) error {
	return s.mutate(func() error {
		start, end, err := s.currentRange(employeeName, day)
		if err != nil {
			return err
		}
		ns, ne := s.grid().MoveRange(period.TimeToMinutes(start), period.TimeToMinutes(end), deltaPx)
		newStart, newEnd := period.MinutesToTime(ns), period.MinutesToTime(ne)
		if newStart == start && newEnd == end {
			return nil
		}
		return s.moveShift(employeeName, day, newStart, newEnd, start, end, "")
	})
}

// ResizeShift 拖动班次的上沿(top 为 true)或下沿到界面上的 px 位置
func (s *Session) ResizeShift(employeeName, day string, top bool, px float64) error {
	return s.mutate(func() error {
		start, end, err := s.currentRange(employeeName, day)
		if err != nil {
			return err
		}

		g := s.grid()
		startMin, endMin := period.TimeToMinutes(start), period.TimeToMinutes(end)
		var ns, ne int
		if top {
			ns, ne = g.ResizeStart(startMin, endMin, px)
		} else {
			ns, ne = g.ResizeEnd(startMin, endMin, px)
		}
		newStart, newEnd := period.MinutesToTime(ns), period.MinutesToTime(ne)
		if newStart == start && newEnd == end {
			return nil
		}
		return s.moveShift(employeeName, day, newStart, newEnd, start, end, "")
	})
}

// AddNewShift 给当天没有班次的员工添加一个班次
func (s *Session) AddNewShift(employeeName, day, start, end string) error {
	return s.mutate(func() error {
		cur, ok := s.store.Find(employeeName, day)
		if !ok {
			return ErrScheduleNotFound
		}
		if cur.TotalHours > 0 {
			return &ValidationError{Reason: "当天已有班次，请直接拖动调整"}
		}
		if err := s.checkDrop(start, end); err != nil {
			return err
		}

		req := domain.ShiftEditRequest{
			EmployeeName:  employeeName,
			DayOfWeek:     day,
			Date:          cur.Date,
			NewShiftStart: start,
			NewShiftEnd:   end,
		}
		if err := s.checkRequest(req); err != nil {
			return err
		}

		next, err := mutation.AddNewShift(s.store.Schedules(), employeeName, day, start, end)
		if err != nil {
			return err
		}

		s.commit(next, req)
		s.logger.Debug("新增班次", "employee", employeeName, "day", day, "start", start, "end", end)
		return nil
	})
}

// DeleteShift 删除当天的班次。已锁定的班次返回 ErrLockedShift，状态和队列都不变
func (s *Session) DeleteShift(employeeName, day string) error {
	return s.mutate(func() error {
		cur, ok := s.store.Find(employeeName, day)
		if !ok {
			return ErrScheduleNotFound
		}

		next, err := mutation.DeleteShift(s.store.Schedules(), employeeName, day)
		if errors.Is(err, mutation.ErrShiftLocked) {
			s.logger.Debug("已锁定的班次不能删除", "employee", employeeName, "day", day)
			return ErrLockedShift
		}
		if err != nil {
			return err
		}

		s.commit(next, domain.ShiftEditRequest{
			EmployeeName: employeeName,
			DayOfWeek:    day,
			Date:         cur.Date,
		})
		s.logger.Debug("删除班次", "employee", employeeName, "day", day)
		return nil
	})
}

// ToggleLock 切换锁定状态，dayOrDate 可以是星期或日期。
// 锁定不进入待保存队列，而是在下一次保存时通过锁定接口同步
func (s *Session) ToggleLock(employeeName, dayOrDate string) error {
	return s.mutate(func() error {
		next, changed, err := mutation.ToggleLock(s.store.Schedules(), employeeName, dayOrDate)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}

		i := -1
		for j := range next {
			if next[j].EmployeeName == employeeName && (next[j].DayOfWeek == dayOrDate || next[j].Date == dayOrDate) {
				i = j
				break
			}
		}
		if i < 0 {
			return ErrScheduleNotFound
		}

		s.lockDirty[next[i].Key()] = next[i].IsLocked
		s.commit(next)
		s.logger.Debug("切换锁定", "employee", employeeName, "day", next[i].DayOfWeek, "locked", next[i].IsLocked)
		return nil
	})
}

// Undo 恢复上一次操作之前的排班，并回滚该操作对待保存队列的影响
func (s *Session) Undo() error {
	return s.mutate(func() error {
		entry, ok := s.undo.Pop()
		if !ok {
			return ErrNothingToUndo
		}

		s.store.Restore(entry.Snapshot)
		for i := len(entry.Deltas) - 1; i >= 0; i-- {
			s.queue.Restore(entry.Deltas[i].Key, entry.Deltas[i].Prev)
		}
		// 撤销回服务端状态的锁定不再需要保存
		for key := range s.lockDirty {
			cur, ok := s.store.FindKey(key)
			if !ok {
				continue
			}
			if s.serverLocked(key) == cur.IsLocked {
				delete(s.lockDirty, key)
			} else {
				s.lockDirty[key] = cur.IsLocked
			}
		}

		if s.hasPending() {
			s.scheduleDebounce(s.opts.Debounce)
		} else {
			s.stopTimer()
		}
		s.logger.Debug("撤销", "undoDepth", s.undo.Len(), "pending", s.queue.Len())
		return nil
	})
}

// SaveNow 跳过防抖立即保存，正在保存时会在本次保存结束后再保存一次
func (s *Session) SaveNow() error {
	return s.mutate(func() error {
		s.stopTimer()
		s.startSave()
		return nil
	})
}

// Schedule 返回当前排班的拷贝
func (s *Session) Schedule() (*domain.WeeklyScheduleResult, error) {
	var result *domain.WeeklyScheduleResult
	err := s.call(func() { result = s.store.Result() })
	return result, err
}

func (s *Session) Status() SaveStatus {
	status := StatusIdle
	_ = s.call(func() { status = s.status })
	return status
}

// LastError 返回最近一次保存的错误，保存成功后清空
func (s *Session) LastError() error {
	var err error
	_ = s.call(func() { err = s.lastErr })
	return err
}

func (s *Session) PendingChanges() []domain.ShiftEditRequest {
	var reqs []domain.ShiftEditRequest
	_ = s.call(func() { reqs = s.queue.Requests() })
	return reqs
}

func (s *Session) UndoDepth() int {
	depth := 0
	_ = s.call(func() { depth = s.undo.Len() })
	return depth
}

// Subscribe 订阅保存状态的变化，会话关闭时 channel 被关闭
func (s *Session) Subscribe() <-chan StatusEvent {
	return s.bus.subscribe()
}

// HasUnsavedChanges 有待保存的修改、待同步的锁定状态或保存正在进行时返回 true
func (s *Session) HasUnsavedChanges() bool {
	dirty := false
	_ = s.call(func() { dirty = s.hasPending() || s.saving })
	return dirty
}

func (s *Session) serverLocked(key domain.ShiftKey) bool {
	if s.serverState == nil {
		return false
	}
	i := domain.FindSchedule(s.serverState.Schedules, key.EmployeeName, key.DayOfWeek)
	return i >= 0 && s.serverState.Schedules[i].IsLocked
}

func (s *Session) hasPending() bool {
	return s.queue.Len() > 0 || len(s.lockDirty) > 0
}

func (s *Session) setStatus(status SaveStatus) {
	s.status = status
	s.bus.publish(StatusEvent{
		Status:  status,
		Err:     s.lastErr,
		Pending: s.queue.Len(),
		At:      time.Now(),
	})

	s.stopStatusTimer()
	if status == StatusSaved || status == StatusError {
		gen := s.statusGen
		s.statusTimer = time.AfterFunc(s.opts.StatusResetDelay, func() { s.post(statusResetMsg{gen: gen}) })
	}
}

func (s *Session) scheduleDebounce(d time.Duration) {
	if s.closing {
		return
	}
	s.stopTimer()
	gen := s.timerGen
	s.timer = time.AfterFunc(d, func() { s.post(timerFiredMsg{gen: gen}) })
}

// stopTimer 停止防抖定时器，已经投递出去的到期消息会因为代数不匹配被忽略
func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
}

func (s *Session) stopStatusTimer() {
	if s.statusTimer != nil {
		s.statusTimer.Stop()
		s.statusTimer = nil
	}
	s.statusGen++
}
