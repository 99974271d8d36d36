package vm

import (
	"sync/atomic"
	"time"
)

// ---------------------------------------------------------------------------
// Alarm: a cancellable timer delivering work to a service
// ---------------------------------------------------------------------------

const (
	alarmPending int32 = iota
	alarmFired
	alarmCancelled
)

// Alarm runs a callback on its service after a delay unless cancelled
// first. Exactly one of firing and cancelling wins.
type Alarm struct {
	state atomic.Int32
	timer *time.Timer
}

// Schedule arranges for fn to run on the service goroutine after d.
func (s *Service) Schedule(d time.Duration, fn func()) *Alarm {
	a := &Alarm{}
	a.timer = time.AfterFunc(d, func() {
		if a.state.CompareAndSwap(alarmPending, alarmFired) {
			s.post(alarmMessage{fn: fn})
		}
	})
	return a
}

// Cancel stops the alarm. It reports false if the alarm already fired or
// was cancelled.
func (a *Alarm) Cancel() bool {
	if !a.state.CompareAndSwap(alarmPending, alarmCancelled) {
		return false
	}
	a.timer.Stop()
	return true
}

// Fired reports whether the alarm has fired.
func (a *Alarm) Fired() bool { return a.state.Load() == alarmFired }
