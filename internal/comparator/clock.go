package comparator

import "time"

// Clock abstracts timer scheduling so series timeouts can be driven by a fake
// clock in tests instead of a live timer wheel.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) TimerHandle
}

// TimerHandle is a cancellable pending timer. Stop reports whether the timer
// was cancelled before firing.
type TimerHandle interface {
	Stop() bool
}

type systemClock struct{}

// SystemClock returns a Clock backed by the runtime timer wheel.
func SystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, fn func()) TimerHandle {
	return systemTimer{timer: time.AfterFunc(d, fn)}
}

type systemTimer struct {
	timer *time.Timer
}

func (s systemTimer) Stop() bool { return s.timer.Stop() }
