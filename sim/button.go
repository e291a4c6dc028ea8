package sim

import (
	"sync"
	"time"

	"github.com/moffa90/go-factoryboot/bootloader"
)

// Button is the simulated active-low user button with a falling edge
// interrupt. A disconnected button reads high and never interrupts.
type Button struct {
	mu           sync.Mutex
	level        bootloader.Level
	disconnected bool
	handler      func()
	armed        bool
	interrupts   int
}

// NewButton returns a released, connected button.
func NewButton() *Button {
	return &Button{level: bootloader.High}
}

// Disconnect removes the line: it reads high from now on.
func (b *Button) Disconnect() {
	b.mu.Lock()
	b.disconnected = true
	b.level = bootloader.High
	b.mu.Unlock()
}

// Level implements bootloader.Button.
func (b *Button) Level() bootloader.Level {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disconnected {
		return bootloader.High
	}
	return b.level
}

// EnableFallingEdge implements bootloader.Button.
func (b *Button) EnableFallingEdge(handler func()) error {
	b.mu.Lock()
	b.handler = handler
	b.armed = true
	b.mu.Unlock()
	return nil
}

// DisableInterrupt implements bootloader.Button.
func (b *Button) DisableInterrupt() {
	b.mu.Lock()
	b.armed = false
	b.mu.Unlock()
}

// Press drives the line low. A high-to-low transition runs the interrupt
// handler when the interrupt is enabled.
func (b *Button) Press() {
	b.mu.Lock()
	if b.disconnected || b.level == bootloader.Low {
		b.mu.Unlock()
		return
	}
	b.level = bootloader.Low
	var h func()
	if b.armed && b.handler != nil {
		h = b.handler
		b.interrupts++
	}
	b.mu.Unlock()

	if h != nil {
		h()
	}
}

// Release lets the line go high.
func (b *Button) Release() {
	b.mu.Lock()
	b.level = bootloader.High
	b.mu.Unlock()
}

// Click presses and releases the button.
func (b *Button) Click() {
	b.Press()
	b.Release()
}

// ClickAfter clicks the button from another goroutine after d.
func (b *Button) ClickAfter(d time.Duration) *time.Timer {
	return time.AfterFunc(d, b.Click)
}

// Interrupts returns the number of interrupts delivered.
func (b *Button) Interrupts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.interrupts
}
