package flashmap

import "fmt"

// DeviceID identifies a flash device. The encoding matches the flash map
// backend of the validation library: internal flash is 0x7F and external
// devices carry the 0x80 flag plus their index.
type DeviceID uint8

const (
	// DeviceInternal is the on-chip flash.
	DeviceInternal DeviceID = 0x7F

	// externalFlag marks an external (SMIF/QSPI) device.
	externalFlag DeviceID = 0x80
)

// DeviceExternal returns the ID of the external device with the given index.
func DeviceExternal(index uint8) DeviceID {
	return externalFlag | DeviceID(index&0x7F)
}

// IsExternal reports whether d names an external device.
func (d DeviceID) IsExternal() bool {
	return d != DeviceInternal && d&externalFlag != 0
}

func (d DeviceID) String() string {
	if d == DeviceInternal {
		return "internal"
	}
	if d.IsExternal() {
		return fmt.Sprintf("external(%d)", uint8(d&^externalFlag))
	}
	return fmt.Sprintf("device(0x%02X)", uint8(d))
}

// AreaID identifies a flash area. Values match the validation library's
// FLASH_AREA_* numbering so that tables can be shared with it.
type AreaID uint8

const (
	// AreaBootloader is the bootloader code region.
	AreaBootloader AreaID = 0

	// AreaScratch is the swap scratch area (swap-using-scratch only).
	AreaScratch AreaID = 3

	// AreaFactory is the reserved factory image region on the external device.
	// The validation library has no entry for it.
	AreaFactory AreaID = 0x10
)

// MaxImages is the largest number of primary/secondary image pairs supported.
const MaxImages = 2

// AreaPrimary returns the ID of the primary slot of image n (0-based).
func AreaPrimary(n int) AreaID {
	switch n {
	case 0:
		return 1
	case 1:
		return 4
	}
	panic(fmt.Sprintf("flashmap: image index %d out of range", n))
}

// AreaSecondary returns the ID of the secondary slot of image n (0-based).
func AreaSecondary(n int) AreaID {
	switch n {
	case 0:
		return 2
	case 1:
		return 5
	}
	panic(fmt.Sprintf("flashmap: image index %d out of range", n))
}

func (id AreaID) String() string {
	switch id {
	case AreaBootloader:
		return "bootloader"
	case 1:
		return "primary_1"
	case 2:
		return "secondary_1"
	case AreaScratch:
		return "scratch"
	case 4:
		return "primary_2"
	case 5:
		return "secondary_2"
	case AreaFactory:
		return "factory"
	default:
		return fmt.Sprintf("area(%d)", uint8(id))
	}
}

// ParseAreaID parses the names produced by AreaID.String.
func ParseAreaID(s string) (AreaID, error) {
	for _, id := range []AreaID{AreaBootloader, 1, 2, AreaScratch, 4, 5, AreaFactory} {
		if id.String() == s {
			return id, nil
		}
	}
	return 0, fmt.Errorf("unknown flash area %q", s)
}

// Device describes the geometry of one flash device.
type Device struct {
	// ID is the device identifier
	ID DeviceID

	// Name is a human-readable label used in diagnostics
	Name string

	// Base is the absolute address of device offset 0
	Base uint32

	// Size is the device capacity in bytes
	Size uint32

	// EraseSize is the erase granularity (row or sector size)
	EraseSize uint32

	// WriteSize is the minimum program unit (row size)
	WriteSize uint32

	// ErasedValue is the value of an erased byte (0xFF for NOR flash)
	ErasedValue byte
}

// End returns the first absolute address past the device.
func (d Device) End() uint64 {
	return uint64(d.Base) + uint64(d.Size)
}

// Contains reports whether the absolute range [off, off+size) lies inside the device.
func (d Device) Contains(off, size uint32) bool {
	return off >= d.Base && uint64(off)+uint64(size) <= d.End()
}

// Area is one entry of the partition table.
type Area struct {
	// ID is the area identifier
	ID AreaID

	// Device is the device holding the area
	Device DeviceID

	// Offset is the absolute start address of the area
	Offset uint32

	// Size is the area size in bytes
	Size uint32
}

// End returns the first absolute address past the area.
func (a Area) End() uint64 {
	return uint64(a.Offset) + uint64(a.Size)
}

// Overlaps reports whether a and b share at least one byte on the same device.
func (a Area) Overlaps(b Area) bool {
	if a.Device != b.Device {
		return false
	}
	return uint64(a.Offset) < b.End() && uint64(b.Offset) < a.End()
}

func (a Area) String() string {
	return fmt.Sprintf("%s{%s 0x%08X+0x%X}", a.ID, a.Device, a.Offset, a.Size)
}
