package editor

import (
	"slices"

	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/domain"
)

// PendingEntry 待保存的一条修改。Seq 单调递增，用来区分同一个 key 先后两次写入
type PendingEntry struct {
	Request  domain.ShiftEditRequest
	Seq      uint64
	Attempts int
}

// PendingQueue 以 (员工, 星期, 日期) 为 key 的待保存队列，同一个 key 只保留最后一次写入。
// 队列按 Seq 升序排列，也就是按最后写入的先后顺序发送
type PendingQueue struct {
	entries []PendingEntry
	nextSeq uint64
}

func NewPendingQueue() *PendingQueue {
	return &PendingQueue{}
}

func (q *PendingQueue) indexOf(key domain.ShiftKey) int {
	return slices.IndexFunc(q.entries, func(e PendingEntry) bool { return e.Request.Key() == key })
}

// Put 写入一条修改并返回被覆盖的旧记录，旧记录不存在时返回 nil
func (q *PendingQueue) Put(req domain.ShiftEditRequest) *PendingEntry {
	var prev *PendingEntry
	if i := q.indexOf(req.Key()); i >= 0 {
		old := q.entries[i]
		prev = &old
		q.entries = slices.Delete(q.entries, i, i+1)
	}

	q.nextSeq++
	q.entries = append(q.entries, PendingEntry{Request: req, Seq: q.nextSeq})
	return prev
}

// Restore 把某个 key 恢复成 Put 之前的状态，撤销时使用
func (q *PendingQueue) Restore(key domain.ShiftKey, prev *PendingEntry) {
	if i := q.indexOf(key); i >= 0 {
		q.entries = slices.Delete(q.entries, i, i+1)
	}
	if prev == nil {
		return
	}

	i, _ := slices.BinarySearchFunc(q.entries, prev.Seq, func(e PendingEntry, seq uint64) int {
		switch {
		case e.Seq < seq:
			return -1
		case e.Seq > seq:
			return 1
		}
		return 0
	})
	q.entries = slices.Insert(q.entries, i, *prev)
}

func (q *PendingQueue) Get(key domain.ShiftKey) (PendingEntry, bool) {
	if i := q.indexOf(key); i >= 0 {
		return q.entries[i], true
	}
	return PendingEntry{}, false
}

func (q *PendingQueue) Len() int {
	return len(q.entries)
}

// Entries 返回队列的拷贝
func (q *PendingQueue) Entries() []PendingEntry {
	return slices.Clone(q.entries)
}

func (q *PendingQueue) Requests() []domain.ShiftEditRequest {
	reqs := make([]domain.ShiftEditRequest, 0, len(q.entries))
	for _, e := range q.entries {
		reqs = append(reqs, e.Request)
	}
	return reqs
}

func (q *PendingQueue) Clear() {
	q.entries = nil
}

// Settle 根据保存结果整理队列：发送出去且成功的记录被移除，失败的记录保留并累加尝试次数，
// 超过 maxAttempts 的记录被丢弃并返回。保存期间被覆盖或被撤销的记录不受影响
func (q *PendingQueue) Settle(sent []PendingEntry, failed map[domain.ShiftKey]bool, maxAttempts int) []PendingEntry {
	var dropped []PendingEntry

	for _, s := range sent {
		key := s.Request.Key()
		i := q.indexOf(key)
		if i < 0 || q.entries[i].Seq != s.Seq {
			continue
		}

		if !failed[key] {
			q.entries = slices.Delete(q.entries, i, i+1)
			continue
		}

		q.entries[i].Attempts++
		if maxAttempts > 0 && q.entries[i].Attempts >= maxAttempts {
			dropped = append(dropped, q.entries[i])
			q.entries = slices.Delete(q.entries, i, i+1)
		}
	}

	return dropped
}

// Unsent 返回不在 sent 中的记录，也就是保存期间新加入或被覆盖的修改
func (q *PendingQueue) Unsent(sent []PendingEntry) []PendingEntry {
	seqs := make(map[uint64]bool, len(sent))
	for _, s := range sent {
		seqs[s.Seq] = true
	}

	var out []PendingEntry
	for _, e := range q.entries {
		if !seqs[e.Seq] {
			out = append(out, e)
		}
	}
	return out
}
