package bootloader

import (
	"errors"
	"fmt"

	"github.com/moffa90/go-factoryboot/flashmap"
)

// ErrControlReturned is reported when the application hands control back to
// the bootloader after a handoff.
var ErrControlReturned = errors.New("control returned from application")

// OpenError indicates that a flash area could not be opened.
type OpenError struct {
	Area flashmap.AreaID
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("failed to open %s: %v", e.Area, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// MagicMismatchError indicates that no factory image was found: the word at
// the start of the factory region is not the image magic.
type MagicMismatchError struct {
	Device   flashmap.DeviceID
	Offset   uint32
	Expected uint32
	Actual   uint32
}

func (e *MagicMismatchError) Error() string {
	return fmt.Sprintf("invalid factory image magic on %s at 0x%08X: expected 0x%08X, got 0x%08X",
		e.Device, e.Offset, e.Expected, e.Actual)
}

// ChunkError indicates that a single chunk of a transfer failed.
type ChunkError struct {
	// Op is "read" or "write"
	Op string

	// Chunk is the 0-based chunk index
	Chunk int

	// Offset is the device offset for reads and the slot offset for writes
	Offset uint32

	Err error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("failed to %s chunk %d at offset 0x%08X: %v", e.Op, e.Chunk, e.Offset, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// ConfigError indicates a build configuration that cannot work on this board.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// FatalError is returned after the bootloader has halted. On hardware the
// halt never returns; on a host the error reports where it stopped and why.
type FatalError struct {
	State State
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("halted in %s: %v", e.State, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if err reports a halt.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
