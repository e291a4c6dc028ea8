// Package flash is the boundary between the bootloader and the flash
// primitives of each device.
//
// A Device exposes raw read/write/erase at device-relative offsets. A Backend
// binds devices to a flashmap.Map and hands out Handles: opened areas that
// translate area-relative offsets and refuse to leave their area.
//
// Memory and File are NOR models (erase to 0xFF, program only erased cells)
// used for tests and host simulation. Recorder wraps any Device to observe or
// fail individual calls.
package flash

import (
	"errors"
	"fmt"

	"github.com/moffa90/go-factoryboot/flashmap"
)

// Sentinel errors returned by the flash primitives.
var (
	// ErrOutOfBounds is returned when an access leaves the device or area
	ErrOutOfBounds = errors.New("flash: access out of bounds")

	// ErrMisaligned is returned when an erase or write is not aligned to the device geometry
	ErrMisaligned = errors.New("flash: misaligned access")

	// ErrNotErased is returned when programming a cell that is not erased
	ErrNotErased = errors.New("flash: write to non-erased cell")

	// ErrClosed is returned when using a closed Handle
	ErrClosed = errors.New("flash: area is closed")

	// ErrUnknownArea is returned when opening an area the map does not contain
	ErrUnknownArea = errors.New("flash: unknown area")

	// ErrUnknownDevice is returned when no device is bound to an ID
	ErrUnknownDevice = errors.New("flash: unknown device")
)

// Device is the per-device flash primitive set. Offsets are relative to the
// start of the device.
type Device interface {
	// Geometry returns the device description
	Geometry() flashmap.Device

	// Read fills p from offset off
	Read(off uint32, p []byte) error

	// Write programs p at offset off
	Write(off uint32, p []byte) error

	// Erase erases size bytes starting at offset off
	Erase(off, size uint32) error
}

// Handle is an opened flash area. Offsets are relative to the start of the area.
type Handle interface {
	// Area returns the partition table entry behind the handle
	Area() flashmap.Area

	// Geometry returns the geometry of the device holding the area
	Geometry() flashmap.Device

	// Read fills p from offset off within the area
	Read(off uint32, p []byte) error

	// Write programs p at offset off within the area
	Write(off uint32, p []byte) error

	// Erase erases size bytes at offset off within the area
	Erase(off, size uint32) error

	// Close releases the handle
	Close() error
}

// checkRange validates that [off, off+n) lies within a region of the given size.
func checkRange(off uint32, n int, size uint32) error {
	if n < 0 || uint64(off)+uint64(n) > uint64(size) {
		return fmt.Errorf("%w: [0x%X, 0x%X) outside [0, 0x%X)",
			ErrOutOfBounds, off, uint64(off)+uint64(n), size)
	}
	return nil
}

// checkAlign validates that off and n are multiples of unit.
func checkAlign(off uint32, n uint32, unit uint32) error {
	if unit == 0 {
		return nil
	}
	if off%unit != 0 || n%unit != 0 {
		return fmt.Errorf("%w: offset 0x%X size 0x%X not aligned to 0x%X",
			ErrMisaligned, off, n, unit)
	}
	return nil
}

// checkGeometry validates that the device geometry units nest.
func checkGeometry(geom flashmap.Device) error {
	if geom.Size == 0 || geom.EraseSize == 0 || geom.WriteSize == 0 {
		return fmt.Errorf("flash: device %s has an empty geometry", geom.ID)
	}
	if geom.Size%geom.EraseSize != 0 || geom.EraseSize%geom.WriteSize != 0 {
		return fmt.Errorf("flash: device %s geometry is not nested (size 0x%X, erase 0x%X, write 0x%X)",
			geom.ID, geom.Size, geom.EraseSize, geom.WriteSize)
	}
	return nil
}
