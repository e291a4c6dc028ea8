package sim

import (
	"context"
	"fmt"
	"sync"
)

// Core is the simulated CPU side of the handoff. Parking the bootloader core
// ends the power cycle: Park cuts power, so the run context is cancelled and
// Park returns.
type Core struct {
	mu            sync.Mutex
	powerOff      context.CancelFunc
	started       []uint32
	irqDisabled   bool
	parked        int
	returnControl bool
}

// NewCore returns a core that calls powerOff when the bootloader parks.
func NewCore(powerOff context.CancelFunc) *Core {
	return &Core{powerOff: powerOff}
}

// ReturnControl makes the next handoff come back to the bootloader, as a
// broken application would.
func (c *Core) ReturnControl() {
	c.mu.Lock()
	c.returnControl = true
	c.mu.Unlock()
}

// StartApp implements bootloader.Platform.
func (c *Core) StartApp(entry uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry == 0 {
		return fmt.Errorf("sim: no code at entry 0x%08X", entry)
	}
	c.started = append(c.started, entry)
	return nil
}

// DisableInterrupts implements bootloader.Platform.
func (c *Core) DisableInterrupts() {
	c.mu.Lock()
	c.irqDisabled = true
	c.mu.Unlock()
}

// Park implements bootloader.Platform.
func (c *Core) Park(ctx context.Context) {
	c.mu.Lock()
	c.parked++
	if c.returnControl && len(c.started) > 0 && !c.irqDisabled {
		c.returnControl = false
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if c.powerOff != nil {
		c.powerOff()
	}
	<-ctx.Done()
}

// Started returns the entry addresses the application core was started at.
func (c *Core) Started() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint32(nil), c.started...)
}

// Halted reports whether the bootloader disabled interrupts and parked: the
// fail-stop path.
func (c *Core) Halted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.irqDisabled && c.parked > 0
}
