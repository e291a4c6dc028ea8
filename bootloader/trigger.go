package bootloader

import (
	"context"
	"sync/atomic"
)

// Trigger is the rollback request latch set by the button interrupt and
// consumed by the boot flow. It is set at most once until consumed or reset.
//
// Fire is safe to call from any goroutine. Wait, Consume and Reset belong to
// the single boot flow.
type Trigger struct {
	fired  atomic.Bool
	notify chan struct{}
}

// NewTrigger returns a cleared Trigger.
func NewTrigger() *Trigger {
	return &Trigger{notify: make(chan struct{}, 1)}
}

// Fire sets the latch. Calls after the first are no-ops until the latch is
// consumed.
func (t *Trigger) Fire() {
	if !t.fired.CompareAndSwap(false, true) {
		return
	}
	select {
	case t.notify <- struct{}{}:
	default:
	}
}

// Fired reports whether the latch is set.
func (t *Trigger) Fired() bool {
	return t.fired.Load()
}

// Wait blocks until the latch is set or ctx is done. It does not clear the
// latch.
func (t *Trigger) Wait(ctx context.Context) error {
	for !t.fired.Load() {
		select {
		case <-t.notify:
			// A token left over from a consumed Fire is dropped by the
			// loop condition.
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Consume clears the latch and reports whether it was set.
func (t *Trigger) Consume() bool {
	if !t.fired.CompareAndSwap(true, false) {
		return false
	}
	select {
	case <-t.notify:
	default:
	}
	return true
}

// Reset clears the latch unconditionally.
func (t *Trigger) Reset() {
	t.Consume()
}
