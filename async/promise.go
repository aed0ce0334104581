// Package async implements futures of asynchronous operations.
package async

import (
	"time"
)

// Promise is a simple notification primitive for asynchronous events.
type Promise chan struct{}

// Resolve wakes any clients currently waiting on the Promise.
func (p Promise) Resolve() {
	close(p)
}

// Wait synchronously blocks until the Promise is resolved.
func (p Promise) Wait() {
	<-p
}

// IsResolved returns whether the Promise has been resolved, without blocking.
func (p Promise) IsResolved() bool {
	select {
	case <-p:
		return true
	default:
		return false
	}
}

// WaitWithPeriodicTask repeatedly invokes |task| with period |period| until
// the Promise is resolved.
func (p Promise) WaitWithPeriodicTask(period time.Duration, task func()) {
	var ticker = time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-p:
			return
		case <-ticker.C:
			task()
		}
	}
}
