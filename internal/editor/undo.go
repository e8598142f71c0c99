package editor

import "github.com/sysu-ecnc-dev/shift-editor/backend/internal/domain"

const DefaultUndoLimit = 20

// QueueDelta 记录一次操作前某个 key 在待保存队列中的状态，Prev 为 nil 表示原来不存在
type QueueDelta struct {
	Key  domain.ShiftKey
	Prev *PendingEntry
}

// UndoEntry 一次操作之前的排班快照，以及撤销时需要回滚的队列变化
type UndoEntry struct {
	Snapshot domain.ScheduleSnapshot
	Deltas   []QueueDelta
}

// UndoStack 有上限的撤销栈，超出上限时丢弃最旧的记录
type UndoStack struct {
	entries []UndoEntry
	limit   int
}

func NewUndoStack(limit int) *UndoStack {
	if limit <= 0 {
		limit = DefaultUndoLimit
	}
	return &UndoStack{limit: limit}
}

func (u *UndoStack) Push(entry UndoEntry) {
	if len(u.entries) >= u.limit {
		u.entries = u.entries[1:]
	}
	u.entries = append(u.entries, entry)
}

func (u *UndoStack) Pop() (UndoEntry, bool) {
	if len(u.entries) == 0 {
		return UndoEntry{}, false
	}
	entry := u.entries[len(u.entries)-1]
	u.entries = u.entries[:len(u.entries)-1]
	return entry, true
}

func (u *UndoStack) Len() int {
	return len(u.entries)
}

func (u *UndoStack) Clear() {
	u.entries = nil
}
