package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/mutation"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/repository"
)

const (
	actionBatchUpdate = "batch-update"
	actionLock        = "lock"
	actionUnlock      = "unlock"
	actionDelete      = "delete"
)

func (h *Handler) GetAllWeeklySchedules(w http.ResponseWriter, r *http.Request) {
	results, err := h.repository.GetAllWeeklySchedules()
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "获取所有排班成功", results)
}

func (h *Handler) GetWeeklySchedule(w http.ResponseWriter, r *http.Request) {
	result := r.Context().Value(ScheduleCtx).(*domain.WeeklyScheduleResult)

	h.successResponse(w, r, "获取排班成功", result)
}

func (h *Handler) GetEditLogs(w http.ResponseWriter, r *http.Request) {
	result := r.Context().Value(ScheduleCtx).(*domain.WeeklyScheduleResult)

	logs, err := h.repository.GetEditLogs(result.ID)
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "获取修改记录成功", logs)
}

func (h *Handler) BatchUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Updates []domain.ShiftEditRequest `json:"updates" validate:"required,min=1,dive"`
	}

	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	result, release, ok := h.lockedSchedule(w, r)
	if !ok {
		return
	}
	defer release()

	updated, failed := mutation.ApplyBatch(result, req.Updates)
	applied := len(req.Updates) - len(failed)

	if applied > 0 {
		if !h.saveSchedule(w, r, updated, actionBatchUpdate, applied, len(failed)) {
			return
		}

		failedNames := make([]string, 0, len(failed))
		for _, f := range failed {
			failedNames = append(failedNames, fmt.Sprintf("%s %s: %s", f.EmployeeName, f.DayOfWeek, f.Reason))
		}
		h.notifyScheduleUpdated(r, updated, actionBatchUpdate, applied, failedNames)
	} else {
		// 全部失败时不落库，返回当前的排班
		updated = result
	}
	h.metrics.BatchApplied(applied, len(failed))

	msg := "批量修改排班成功"
	if len(failed) > 0 {
		msg = fmt.Sprintf("%d 条修改未能应用", len(failed))
	}

	h.writeJSON(w, r, http.StatusOK, Response{
		Success: len(failed) == 0,
		Message: msg,
		Data: domain.BatchUpdateResult{
			Success:         len(failed) == 0,
			UpdatedSchedule: updated,
			FailedUpdates:   failed,
		},
	})
}

func (h *Handler) ToggleLock(w http.ResponseWriter, r *http.Request) {
	var req domain.LockToggleRequest

	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	result, release, ok := h.lockedSchedule(w, r)
	if !ok {
		return
	}
	defer release()

	dayOrDate := req.DayOfWeek
	if req.Date != "" {
		dayOrDate = req.Date
	}

	schedules, err := mutation.SetLock(result.Schedules, req.EmployeeName, dayOrDate, req.DesiredLockState)
	if err != nil {
		h.errorResponse(w, r, err.Error())
		return
	}

	action := actionUnlock
	if req.DesiredLockState {
		action = actionLock
	}

	updated := result.Clone()
	updated.Schedules = schedules
	if !h.saveSchedule(w, r, updated, action, 1, 0) {
		return
	}
	h.metrics.LockToggled()

	h.successResponse(w, r, "修改锁定状态成功", updated)
}

func (h *Handler) DeleteShift(w http.ResponseWriter, r *http.Request) {
	employeeName := chi.URLParam(r, "employee")
	day := chi.URLParam(r, "day")
	if !slices.Contains(domain.DaysOfWeek, day) {
		h.errorResponse(w, r, "星期参数无效")
		return
	}

	result, release, ok := h.lockedSchedule(w, r)
	if !ok {
		return
	}
	defer release()

	schedules, err := mutation.ApplyEdit(result.Schedules, domain.ShiftEditRequest{
		EmployeeName: employeeName,
		DayOfWeek:    day,
	})
	if err != nil {
		switch {
		case errors.Is(err, mutation.ErrShiftLocked):
			h.errorResponse(w, r, "班次已锁定，无法删除")
		case errors.Is(err, mutation.ErrScheduleNotFound):
			h.errorResponse(w, r, "找不到该员工当天的排班")
		default:
			h.internalServerError(w, r, err)
		}
		return
	}

	updated := result.Clone()
	updated.Schedules = schedules
	updated.IsEdited = true
	mutation.Summarize(updated)

	if !h.saveSchedule(w, r, updated, actionDelete, 1, 0) {
		return
	}
	h.notifyScheduleUpdated(r, updated, actionDelete, 1, nil)

	h.successResponse(w, r, "删除班次成功", updated)
}

// lockedSchedule 获取写租约后重新读取排班，保证在最新版本上修改
func (h *Handler) lockedSchedule(w http.ResponseWriter, r *http.Request) (*domain.WeeklyScheduleResult, func(), bool) {
	current := r.Context().Value(ScheduleCtx).(*domain.WeeklyScheduleResult)

	release, ok := h.acquireWriteLease(w, r, current.ID)
	if !ok {
		return nil, nil, false
	}

	result, err := h.repository.GetWeeklySchedule(current.ID)
	if err != nil {
		release()
		h.internalServerError(w, r, err)
		return nil, nil, false
	}

	return result, release, true
}

// saveSchedule 保存排班并写入修改日志，失败时已经写好响应
func (h *Handler) saveSchedule(w http.ResponseWriter, r *http.Request, result *domain.WeeklyScheduleResult, action string, applied, failed int) bool {
	myInfo := r.Context().Value(MyInfoCtx).(*domain.User)

	log := &domain.EditLog{
		Username: myInfo.Username,
		Action:   action,
		Applied:  applied,
		Failed:   failed,
	}

	if err := h.repository.UpdateWeeklySchedule(result, log); err != nil {
		switch {
		case errors.Is(err, repository.ErrVersionConflict):
			h.errorResponse(w, r, "排班已被其他人修改，请刷新后重试")
		default:
			h.internalServerError(w, r, err)
		}
		return false
	}

	return true
}

// notifyScheduleUpdated 通知所有店长排班已修改，发送失败只记录日志，不影响本次修改
func (h *Handler) notifyScheduleUpdated(r *http.Request, result *domain.WeeklyScheduleResult, action string, applied int, failed []string) {
	editor := r.Context().Value(MyInfoCtx).(*domain.User)

	managers, err := h.repository.GetManagers()
	if err != nil {
		h.logInternalServerError(r, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(h.config.RabbitMQ.PublishTimeout)*time.Second)
	defer cancel()

	for _, manager := range managers {
		mailMessage := domain.MailMessage{
			Type: domain.MailTypeScheduleUpdated,
			To:   manager.Email,
			Data: domain.ScheduleUpdatedMailData{
				FullName:   manager.FullName,
				Editor:     editor.FullName,
				StoreName:  result.StoreName,
				WeekStart:  result.WeekStart,
				WeekEnd:    result.WeekEnd,
				Action:     action,
				Applied:    applied,
				Failed:     failed,
				LaborHours: result.TotalLaborHours,
			},
		}

		mailData, err := json.Marshal(mailMessage)
		if err != nil {
			h.logInternalServerError(r, err)
			return
		}

		if err := h.mailChannel.PublishWithContext(
			ctx,
			"",
			"email_queue",
			true,
			false,
			amqp.Publishing{
				ContentType: "application/json",
				Body:        mailData,
			},
		); err != nil {
			slog.Error("无法发送排班修改通知", "scheduleID", result.ID, "to", manager.Email, "error", err)
			return
		}
	}
}
