package bootloader

import (
	"context"

	"github.com/moffa90/go-factoryboot/flash"
	"github.com/moffa90/go-factoryboot/flashmap"
	"github.com/moffa90/go-factoryboot/image"
)

// Validator checks the primary slot and resolves where to boot from.
// On hardware this is the image validation library, which may also complete
// a pending upgrade swap before answering. image.Validator is the in-tree
// implementation.
type Validator interface {
	Validate(ctx context.Context) (*image.BootResponse, error)
}

// Flash is the flash access the bootloader needs. *flash.Backend implements it.
type Flash interface {
	// Open opens an area of the partition table
	Open(id flashmap.AreaID) (flash.Handle, error)

	// ReadDevice reads a device directly, outside any area
	ReadDevice(id flashmap.DeviceID, off uint32, p []byte) error
}

// Level is the logic level of an input line.
type Level uint8

const (
	// Low is the pressed level of the active-low user button
	Low Level = iota

	// High is the released level, and what a missing line reads as
	High
)

func (l Level) String() string {
	if l == Low {
		return "low"
	}
	return "high"
}

// Button is the user button GPIO.
type Button interface {
	// Level samples the line once
	Level() Level

	// EnableFallingEdge registers handler for the falling edge interrupt.
	// handler runs in interrupt context.
	EnableFallingEdge(handler func()) error

	// DisableInterrupt masks the edge interrupt
	DisableInterrupt()
}

// Console is the diagnostic UART.
type Console interface {
	// Flush waits until pending output has been transmitted or ctx is done
	Flush(ctx context.Context) error
}

// Peripheral is hardware owned by the bootloader that must be released
// before the application starts.
type Peripheral interface {
	Name() string
	Deinit() error
}

// Platform controls the CPU side of the handoff.
type Platform interface {
	// StartApp starts the application core at entry
	StartApp(entry uint32) error

	// DisableInterrupts masks all interrupts
	DisableInterrupts()

	// Park enters the terminal low-power wait. On hardware it never returns;
	// a host implementation returns once ctx is done.
	Park(ctx context.Context)
}

// Hardware bundles the boundaries the bootloader drives. Flash, Validator
// and Platform are required; Button and Console may be nil.
type Hardware struct {
	Flash     Flash
	Validator Validator
	Button    Button
	Console   Console
	Platform  Platform
}
