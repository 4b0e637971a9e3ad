package manager

import (
	"sync"
	"time"
)

// Timer is a recurring timer with explicit arm/reset/cancel semantics. Arm
// starts the cycle if not already running; Reset restarts the countdown, used
// when an explicit fetch makes the next scheduled one redundant; Cancel stops
// the cycle. All methods are safe for concurrent use.
type Timer struct {
	mu       sync.Mutex
	interval time.Duration
	fn       func()
	t        *time.Timer
	armed    bool
}

// Arm starts the recurring cycle. It is a no-op when already armed.
func (t *Timer) Arm(interval time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.armed {
		return
	}
	t.armed = true
	t.interval = interval
	t.fn = fn
	t.t = time.AfterFunc(interval, t.fire)
}

func (t *Timer) fire() {
	t.mu.Lock()
	armed := t.armed
	fn := t.fn
	t.mu.Unlock()
	if !armed {
		return
	}
	fn()
	t.mu.Lock()
	if t.armed {
		t.t.Reset(t.interval)
	}
	t.mu.Unlock()
}

// Reset restarts the countdown. It is a no-op when not armed.
func (t *Timer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.armed {
		return
	}
	t.t.Stop()
	t.t.Reset(t.interval)
}

// Cancel stops the cycle. A fire already in flight still completes.
func (t *Timer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.armed {
		return
	}
	t.armed = false
	t.t.Stop()
}

// Armed reports whether the cycle is running.
func (t *Timer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}
