package realtime

import "time"

// Timer is a pending one-shot callback.
type Timer interface {
	Stop() bool
}

// Scheduler arms one-shot timers.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type wallScheduler struct{}

func (wallScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
