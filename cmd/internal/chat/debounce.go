package chat

import (
	"sync"
	"time"
)

// Debouncer runs the most recently triggered func once no new trigger has
// arrived for the configured delay (trailing edge).
type Debouncer struct {
	delay time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// NewDebouncer constructs a Debouncer. A non-positive delay runs triggers on the next tick.
func NewDebouncer(delay time.Duration) *Debouncer {
	if delay < 0 {
		delay = 0
	}
	return &Debouncer{delay: delay}
}

// Trigger schedules fn, replacing any pending func.
func (d *Debouncer) Trigger(fn func()) {
	if d == nil || fn == nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, fn)
}

// Stop cancels any pending func and disables further triggers (idempotent).
func (d *Debouncer) Stop() {
	if d == nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
