package editor

import (
	"errors"
	"fmt"

	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/mutation"
)

var (
	ErrLockedShift      = errors.New("班次已锁定")
	ErrNothingToUndo    = errors.New("没有可以撤销的操作")
	ErrSessionClosed    = errors.New("编辑会话已关闭")
	ErrScheduleNotFound = mutation.ErrScheduleNotFound
)

// ValidationError 拖放范围不合法，修改在进入队列之前就被拒绝
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "修改不合法: " + e.Reason
}

// SaveError 网络或服务端故障，队列原样保留等待重试
type SaveError struct {
	Err error
}

func (e *SaveError) Error() string {
	return "保存失败: " + e.Err.Error()
}

func (e *SaveError) Unwrap() error {
	return e.Err
}

// PartialSaveError 服务端只处理了部分修改，队列中只保留失败的部分
type PartialSaveError struct {
	Failed []domain.FailedUpdate
}

func (e *PartialSaveError) Error() string {
	return fmt.Sprintf("%d 条修改保存失败", len(e.Failed))
}

// LockReapplicationError 保存后重新锁定失败，只记录日志，不回滚
type LockReapplicationError struct {
	Key domain.ShiftKey
	Err error
}

func (e *LockReapplicationError) Error() string {
	return fmt.Sprintf("重新锁定 %s %s 失败: %v", e.Key.EmployeeName, e.Key.DayOfWeek, e.Err)
}

func (e *LockReapplicationError) Unwrap() error {
	return e.Err
}
