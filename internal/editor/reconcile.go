package editor

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/mutation"
)

// lockTarget 保存后需要在服务端确认的锁定状态。
// key 为保存前的班次，identity 为修改生效后班次所属的位置
type lockTarget struct {
	key      domain.ShiftKey
	identity domain.ShiftKey
	desired  bool
}

type saveJob struct {
	scheduleID int64
	sent       []PendingEntry
	locks      []lockTarget
	dirty      map[domain.ShiftKey]bool
	base       *domain.WeeklyScheduleResult
}

type saveOutcome struct {
	job       saveJob
	err       error
	batch     *domain.BatchUpdateResult
	schedule  *domain.WeeklyScheduleResult
	lockErrs  []error
	lockCalls int
	duration  time.Duration

	// 用户切换过的锁定没能同步到服务端，需要保留到下一次保存
	toggleErrs   []error
	toggleFailed []domain.ShiftKey
}

// desiredLocks 在保存开始时收集需要保持的锁定：所有已锁定的非空班次，以及本地切换过锁定的班次。
// 改派的班次跟随其新的员工
func (s *Session) desiredLocks() []lockTarget {
	var targets []lockTarget
	seen := make(map[domain.ShiftKey]bool)

	add := func(cur domain.EmployeeDaySchedule, desired bool) {
		key := cur.Key()
		if seen[key] {
			return
		}
		seen[key] = true

		identity := key
		if e, ok := s.queue.Get(key); ok && !e.Request.IsDeletion() && e.Request.TargetEmployee() != key.EmployeeName {
			identity = domain.ShiftKey{EmployeeName: e.Request.TargetEmployee(), DayOfWeek: key.DayOfWeek, Date: key.Date}
			if dst, ok := s.store.Find(identity.EmployeeName, identity.DayOfWeek); ok {
				identity.Date = dst.Date
			}
		}
		targets = append(targets, lockTarget{key: key, identity: identity, desired: desired})
	}

	for _, cur := range s.store.Schedules() {
		if cur.IsLocked && cur.TotalHours > 0 {
			add(cur, true)
		}
	}
	for key := range s.lockDirty {
		if cur, ok := s.store.FindKey(key); ok {
			add(cur, cur.IsLocked && cur.TotalHours > 0)
		}
	}

	slices.SortFunc(targets, func(a, b lockTarget) int {
		if c := strings.Compare(a.identity.EmployeeName, b.identity.EmployeeName); c != 0 {
			return c
		}
		return slices.Index(domain.DaysOfWeek, a.identity.DayOfWeek) - slices.Index(domain.DaysOfWeek, b.identity.DayOfWeek)
	})
	return targets
}

// startSave 在会话 goroutine 中发起一次保存，已有保存在进行时只做标记
func (s *Session) startSave() {
	if s.saving {
		s.deferred = true
		return
	}
	if !s.hasPending() {
		return
	}

	job := saveJob{
		scheduleID: s.store.ID(),
		sent:       s.queue.Entries(),
		locks:      s.desiredLocks(),
		dirty:      s.lockDirty,
		base:       s.serverState,
	}
	s.lockDirty = make(map[domain.ShiftKey]bool)

	s.saving = true
	s.deferred = false
	s.setStatus(StatusSaving)
	s.metrics.SaveStarted(len(job.sent))
	s.logger.Info("开始保存排班修改", "scheduleID", job.scheduleID, "updates", len(job.sent), "locks", len(job.locks))

	go s.save(job)
}

func (s *Session) requestContext() (context.Context, context.CancelFunc) {
	if s.opts.RequestTimeout > 0 {
		return context.WithTimeout(context.Background(), s.opts.RequestTimeout)
	}
	return context.WithCancel(context.Background())
}

// save 运行在单独的 goroutine 中，只读 job，不碰会话状态
func (s *Session) save(job saveJob) {
	started := time.Now()
	outcome := saveOutcome{job: job, schedule: job.base}
	defer func() {
		outcome.duration = time.Since(started)
		s.post(saveCompletedMsg{outcome: outcome})
	}()

	failed := make(map[domain.ShiftKey]bool)

	if len(job.sent) > 0 {
		reqs := make([]domain.ShiftEditRequest, 0, len(job.sent))
		for _, e := range job.sent {
			reqs = append(reqs, e.Request)
		}

		ctx, cancel := s.requestContext()
		res, err := s.api.BatchUpdate(ctx, job.scheduleID, reqs)
		cancel()
		if err != nil {
			outcome.err = &SaveError{Err: err}
			return
		}
		if res == nil || res.UpdatedSchedule == nil {
			outcome.err = &SaveError{Err: errors.New("服务端没有返回更新后的排班")}
			return
		}

		outcome.batch = res
		outcome.schedule = res.UpdatedSchedule
		for _, f := range res.FailedUpdates {
			failed[f.Key()] = true
		}
	}

	if outcome.schedule == nil {
		return
	}

	// 服务端改派时不保留锁定，这里逐个把锁定状态同步回去
	for _, target := range job.locks {
		if failed[target.key] {
			continue
		}

		i := domain.FindSchedule(outcome.schedule.Schedules, target.identity.EmployeeName, target.identity.DayOfWeek)
		if i < 0 {
			continue
		}
		cur := outcome.schedule.Schedules[i]
		if cur.TotalHours == 0 || cur.IsLocked == target.desired {
			continue
		}

		ctx, cancel := s.requestContext()
		updated, err := s.api.ToggleLock(ctx, job.scheduleID, domain.LockToggleRequest{
			EmployeeName:     cur.EmployeeName,
			DayOfWeek:        cur.DayOfWeek,
			Date:             cur.Date,
			DesiredLockState: target.desired,
		})
		cancel()
		outcome.lockCalls++
		if err != nil {
			lerr := &LockReapplicationError{Key: cur.Key(), Err: err}
			if _, toggled := job.dirty[target.key]; toggled {
				outcome.toggleErrs = append(outcome.toggleErrs, lerr)
				outcome.toggleFailed = append(outcome.toggleFailed, target.key)
				continue
			}
			outcome.lockErrs = append(outcome.lockErrs, lerr)
			continue
		}
		if updated != nil {
			outcome.schedule = updated
		}
	}
}

// finishSave 在会话 goroutine 中处理保存结果
func (s *Session) finishSave(outcome saveOutcome) {
	s.saving = false
	deferred := s.deferred
	s.deferred = false
	job := outcome.job

	for _, err := range outcome.lockErrs {
		s.logger.Error("重新锁定班次失败", "error", err)
	}
	lockFailures := len(outcome.lockErrs) + len(outcome.toggleErrs)
	for i := 0; i < outcome.lockCalls; i++ {
		s.metrics.LockReapplied(i >= lockFailures)
	}
	for _, key := range outcome.toggleFailed {
		if _, exists := s.lockDirty[key]; !exists {
			s.lockDirty[key] = job.dirty[key]
		}
	}

	switch {
	case outcome.err != nil:
		// 网络错误：本地排班和队列保持不变，稍后重试
		for key := range job.dirty {
			if _, exists := s.lockDirty[key]; !exists {
				s.lockDirty[key] = job.dirty[key]
			}
		}
		s.lastErr = outcome.err
		s.metrics.SaveFinished(OutcomeError, outcome.duration)
		s.logger.Error("保存排班修改失败", "error", outcome.err, "pending", s.queue.Len())
		s.setStatus(StatusError)
		if s.hasPending() {
			s.scheduleDebounce(s.opts.RetryDelay)
		}

	case outcome.batch != nil && !outcome.batch.Success:
		failed := make(map[domain.ShiftKey]bool, len(outcome.batch.FailedUpdates))
		for _, f := range outcome.batch.FailedUpdates {
			failed[f.Key()] = true
		}
		dropped := s.queue.Settle(job.sent, failed, s.opts.MaxAttempts)
		if len(dropped) > 0 {
			s.metrics.UpdatesDropped(len(dropped))
			for _, e := range dropped {
				s.logger.Warn("多次保存失败，放弃该修改", "employee", e.Request.EmployeeName, "day", e.Request.DayOfWeek, "attempts", e.Attempts)
			}
		}
		for key, locked := range job.dirty {
			if _, exists := s.lockDirty[key]; !exists && failed[key] {
				s.lockDirty[key] = locked
			}
		}
		s.adopt(outcome.schedule, job)
		s.undo.Clear()

		s.lastErr = &PartialSaveError{Failed: outcome.batch.FailedUpdates}
		s.metrics.SaveFinished(OutcomePartial, outcome.duration)
		s.logger.Warn("部分排班修改保存失败", "failed", len(outcome.batch.FailedUpdates), "pending", s.queue.Len())
		s.setStatus(StatusError)
		if s.hasPending() {
			s.scheduleDebounce(s.opts.RetryDelay)
		}

	case len(outcome.toggleErrs) > 0:
		// 班次修改已保存，但锁定状态没有同步成功，本地保留锁定并稍后重试
		s.queue.Settle(job.sent, nil, 0)
		s.adopt(outcome.schedule, job)
		s.undo.Clear()

		s.lastErr = &SaveError{Err: errors.Join(outcome.toggleErrs...)}
		s.metrics.SaveFinished(OutcomeError, outcome.duration)
		s.logger.Error("锁定状态保存失败", "error", s.lastErr, "locks", len(outcome.toggleFailed))
		s.setStatus(StatusError)
		s.scheduleDebounce(s.opts.RetryDelay)

	default:
		s.queue.Settle(job.sent, nil, 0)
		s.adopt(outcome.schedule, job)
		s.undo.Clear()

		s.lastErr = nil
		s.metrics.SaveFinished(OutcomeSuccess, outcome.duration)
		s.logger.Info("排班修改已保存", "scheduleID", job.scheduleID, "updates", len(job.sent), "duration", outcome.duration)
		s.setStatus(StatusSaved)
		if s.hasPending() {
			s.scheduleDebounce(s.opts.Debounce)
		}
	}

	if deferred && s.hasPending() && s.timer == nil {
		s.scheduleDebounce(s.opts.Debounce)
	}
}

// adopt 以服务端返回的排班为准，再把保存期间新产生的修改重新应用上去
func (s *Session) adopt(schedule *domain.WeeklyScheduleResult, job saveJob) {
	if schedule == nil {
		return
	}
	s.serverState = schedule.Clone()
	s.store.Replace(schedule)

	for _, e := range s.queue.Unsent(job.sent) {
		next, err := mutation.ReplayEdit(s.store.Schedules(), e.Request)
		if err != nil {
			s.logger.Warn("保存期间的修改无法重新应用", "employee", e.Request.EmployeeName, "day", e.Request.DayOfWeek, "error", err)
			continue
		}
		s.store.ReplaceSchedules(next)
	}

	for key, locked := range s.lockDirty {
		next, err := mutation.SetLock(s.store.Schedules(), key.EmployeeName, key.DayOfWeek, locked)
		if err != nil {
			continue
		}
		s.store.ReplaceSchedules(next)
	}
}
