package editor

import "time"

// Recorder 记录自动保存的指标，见 internal/metrics
type Recorder interface {
	SaveStarted(updates int)
	SaveFinished(outcome string, duration time.Duration)
	LockReapplied(ok bool)
	UpdatesDropped(n int)
}

const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeError   = "error"
)

type nopRecorder struct{}

func (nopRecorder) SaveStarted(int)                    {}
func (nopRecorder) SaveFinished(string, time.Duration) {}
func (nopRecorder) LockReapplied(bool)                 {}
func (nopRecorder) UpdatesDropped(int)                 {}
