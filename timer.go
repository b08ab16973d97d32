/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// buzzTimer is a single-slot deferred action: arming schedules exactly one
// callback after the buzz delay, and re-arming or cancelling stops any
// previously scheduled one. The callback receives the question sequence it
// was armed with, which the engine checks before acting, so a fire that
// races a cancel is still harmless.
type buzzTimer struct {
	clock clockwork.Clock

	mu     sync.Mutex
	cancel chan struct{} // closed to stop the armed callback, nil when idle
}

func newBuzzTimer(clock clockwork.Clock) *buzzTimer {
	return &buzzTimer{
		clock: clock,
	}
}

// Arm schedules fire(seq) to run once after delay, replacing any timer
// armed earlier. The callback runs on its own goroutine, off the request
// path.
func (t *buzzTimer) Arm(delay time.Duration, seq uint64, fire func(seq uint64)) {
	t.mu.Lock()
	if t.cancel != nil {
		close(t.cancel)
	}
	cancel := make(chan struct{})
	t.cancel = cancel
	t.mu.Unlock()

	timer := t.clock.NewTimer(delay)

	go func() {
		select {
		case <-timer.Chan():
			// A cancel or re-arm that raced the expiry wins: only the
			// still-armed slot may fire.
			t.mu.Lock()
			stale := t.cancel != cancel
			if !stale {
				t.cancel = nil
			}
			t.mu.Unlock()

			if !stale {
				fire(seq)
			}
		case <-cancel:
			stopAndDrainTimer(timer)
		}
	}()
}

// Cancel stops the armed timer, if any. Safe to call when idle.
func (t *buzzTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		close(t.cancel)
		t.cancel = nil
	}
}

// stopAndDrainTimer stops a timer and drains its channel if it already
// fired, so the goroutine and channel are both released.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
