package sim

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// DefaultBaud is the console UART speed.
const DefaultBaud = 115200

// ErrReleased is returned when using a peripheral after Deinit.
var ErrReleased = errors.New("sim: peripheral released")

// Console is a simulated UART. Output is forwarded to a writer immediately
// but counts as pending until the time it takes to shift it out at the
// configured baud rate has passed, so Flush behaves like waiting for TX
// complete.
type Console struct {
	mu        sync.Mutex
	out       io.Writer
	byteTime  time.Duration
	busyUntil time.Time
	stuck     bool
	released  bool
	written   int
}

// NewConsole returns a console forwarding to out at baud. A zero baud uses
// DefaultBaud; out may be nil to discard output.
func NewConsole(out io.Writer, baud int) *Console {
	if baud <= 0 {
		baud = DefaultBaud
	}
	if out == nil {
		out = io.Discard
	}
	// 8N1: ten bit times per byte.
	return &Console{out: out, byteTime: 10 * time.Second / time.Duration(baud)}
}

// Write queues p for transmission.
func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return 0, ErrReleased
	}

	now := time.Now()
	start := c.busyUntil
	if start.Before(now) {
		start = now
	}
	c.busyUntil = start.Add(time.Duration(len(p)) * c.byteTime)
	c.written += len(p)
	return c.out.Write(p)
}

// SetStuck makes the transmitter hang: Flush only returns when its context
// is done.
func (c *Console) SetStuck(stuck bool) {
	c.mu.Lock()
	c.stuck = stuck
	c.mu.Unlock()
}

// Flush waits until queued output has been transmitted or ctx is done.
func (c *Console) Flush(ctx context.Context) error {
	c.mu.Lock()
	stuck := c.stuck
	wait := time.Until(c.busyUntil)
	c.mu.Unlock()

	if stuck {
		<-ctx.Done()
		return ctx.Err()
	}
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Written returns the number of bytes accepted since creation.
func (c *Console) Written() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written
}

// Name implements bootloader.Peripheral.
func (c *Console) Name() string {
	return "uart"
}

// Deinit releases the UART. Later writes fail with ErrReleased.
func (c *Console) Deinit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return ErrReleased
	}
	c.released = true
	return nil
}

// Released reports whether Deinit has been called since the last Init.
func (c *Console) Released() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

// Init re-initializes the UART after a power cycle.
func (c *Console) Init() {
	c.mu.Lock()
	c.released = false
	c.busyUntil = time.Time{}
	c.mu.Unlock()
}
