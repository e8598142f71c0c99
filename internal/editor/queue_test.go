package editor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/domain"
)

func edit(employee, day, start, end string) domain.ShiftEditRequest {
	return domain.ShiftEditRequest{EmployeeName: employee, DayOfWeek: day, NewShiftStart: start, NewShiftEnd: end}
}

func TestPendingQueue_LastWriteWins(t *testing.T) {
	q := NewPendingQueue()

	assert.Nil(t, q.Put(edit("Alice", "Monday", "09:00", "17:00")))
	assert.Nil(t, q.Put(edit("Bob", "Monday", "10:00", "12:00")))

	prev := q.Put(edit("Alice", "Monday", "10:00", "18:00"))
	require.NotNil(t, prev)
	assert.Equal(t, "09:00", prev.Request.NewShiftStart)

	reqs := q.Requests()
	require.Len(t, reqs, 2)
	// 被覆盖的记录移到队尾
	assert.Equal(t, "Bob", reqs[0].EmployeeName)
	assert.Equal(t, "10:00", reqs[1].NewShiftStart)
}

func TestPendingQueue_Restore(t *testing.T) {
	q := NewPendingQueue()
	q.Put(edit("Alice", "Monday", "09:00", "17:00"))
	q.Put(edit("Bob", "Monday", "10:00", "12:00"))
	req := edit("Alice", "Monday", "10:00", "18:00")
	prev := q.Put(req)

	q.Restore(req.Key(), prev)
	reqs := q.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "Alice", reqs[0].EmployeeName, "restored entry goes back to its original position")
	assert.Equal(t, "09:00", reqs[0].NewShiftStart)

	q.Restore(req.Key(), nil)
	assert.Equal(t, 1, q.Len())
}

func TestPendingQueue_Settle(t *testing.T) {
	q := NewPendingQueue()
	alice := edit("Alice", "Monday", "09:00", "17:00")
	bob := edit("Bob", "Monday", "10:00", "12:00")
	q.Put(alice)
	q.Put(bob)
	sent := q.Entries()

	// 保存期间 Alice 又被修改了一次
	q.Put(edit("Alice", "Monday", "11:00", "13:00"))

	dropped := q.Settle(sent, map[domain.ShiftKey]bool{bob.Key(): true}, 2)
	assert.Empty(t, dropped)

	entries := q.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "Bob", entries[0].Request.EmployeeName)
	assert.Equal(t, 1, entries[0].Attempts)
	assert.Equal(t, "11:00", entries[1].Request.NewShiftStart, "superseded entry survives")

	unsent := q.Unsent(sent)
	require.Len(t, unsent, 1)
	assert.Equal(t, "Alice", unsent[0].Request.EmployeeName)

	dropped = q.Settle(q.Entries(), map[domain.ShiftKey]bool{bob.Key(): true}, 2)
	require.Len(t, dropped, 1)
	assert.Equal(t, "Bob", dropped[0].Request.EmployeeName)
	assert.Equal(t, 0, q.Len())
}

func TestUndoStack_DropsOldest(t *testing.T) {
	u := NewUndoStack(2)
	for i := 0; i < 3; i++ {
		u.Push(UndoEntry{Deltas: []QueueDelta{{Key: domain.ShiftKey{EmployeeName: string(rune('A' + i))}}}})
	}
	assert.Equal(t, 2, u.Len())

	e, ok := u.Pop()
	require.True(t, ok)
	assert.Equal(t, "C", e.Deltas[0].Key.EmployeeName)
	e, ok = u.Pop()
	require.True(t, ok)
	assert.Equal(t, "B", e.Deltas[0].Key.EmployeeName)

	_, ok = u.Pop()
	assert.False(t, ok)
}
