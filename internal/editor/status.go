package editor

import (
	"sync"
	"time"
)

// SaveStatus 自动保存的状态：Idle -> Saving -> Saved/Error -> Idle
type SaveStatus int

const (
	StatusIdle SaveStatus = iota
	StatusSaving
	StatusSaved
	StatusError
)

func (s SaveStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusSaving:
		return "saving"
	case StatusSaved:
		return "saved"
	case StatusError:
		return "error"
	}
	return "unknown"
}

type StatusEvent struct {
	Status  SaveStatus
	Err     error
	Pending int
	At      time.Time
}

// statusBus 把状态变化广播给所有订阅者，订阅者处理不过来时直接丢弃事件
type statusBus struct {
	mu     sync.RWMutex
	subs   []chan StatusEvent
	closed bool
}

func (b *statusBus) publish(e StatusEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *statusBus) subscribe() <-chan StatusEvent {
	ch := make(chan StatusEvent, 16)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
	} else {
		b.subs = append(b.subs, ch)
	}
	return ch
}

func (b *statusBus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
