package flashmap

import "fmt"

// Swap selects the upgrade swap strategy the validation library is built with.
// Only the scratch-based strategy needs a dedicated area.
type Swap int

const (
	// SwapStatus swaps using a status area inside the slots (no scratch).
	SwapStatus Swap = iota

	// SwapScratch swaps through a dedicated scratch area in internal flash.
	SwapScratch
)

func (s Swap) String() string {
	switch s {
	case SwapStatus:
		return "status"
	case SwapScratch:
		return "scratch"
	default:
		return fmt.Sprintf("swap(%d)", int(s))
	}
}

// Board defaults for a PSoC 6 with 2 MB of internal flash and a 64 MB QSPI NOR.
const (
	// DefaultInternalBase is the address of internal flash offset 0
	DefaultInternalBase = 0x10000000

	// DefaultInternalSize is the internal flash capacity
	DefaultInternalSize = 0x200000

	// DefaultInternalRowSize is the internal flash row (erase and program unit)
	DefaultInternalRowSize = 512

	// DefaultExternalBase is the address of the external memory window
	DefaultExternalBase = 0x18000000

	// DefaultExternalSize is the external flash capacity
	DefaultExternalSize = 0x4000000

	// DefaultExternalSectorSize is the external flash erase sector
	DefaultExternalSectorSize = 0x40000

	// DefaultBootloaderSize is the space reserved for the bootloader
	DefaultBootloaderSize = 0x18000

	// DefaultSlotSize is the default primary and secondary slot size (1.75 MB)
	DefaultSlotSize = 0x1C0000

	// DefaultFactorySize is the external space reserved for the factory image (1.75 MB)
	DefaultFactorySize = 0x1C0000

	// DefaultScratchSize is the scratch area size
	DefaultScratchSize = 0x1000
)

// Config describes a build's partition layout.
type Config struct {
	// ImageCount is the number of image pairs (1 or 2)
	ImageCount int

	// Swap is the upgrade swap strategy; SwapScratch adds a scratch area
	Swap Swap

	// SecondaryExternal places the secondary slots on the external device
	SecondaryExternal bool

	// BootloaderSize is the size of the bootloader region
	BootloaderSize uint32

	// Primary1Size is the size of the first primary slot
	Primary1Size uint32

	// Secondary1Size is the size of the first secondary slot
	Secondary1Size uint32

	// Primary2Size is the size of the second primary slot (dual image only)
	Primary2Size uint32

	// Secondary2Size is the size of the second secondary slot (dual image only)
	Secondary2Size uint32

	// ScratchSize is the size of the scratch area (SwapScratch only)
	ScratchSize uint32

	// FactorySize is the external space reserved for the factory image
	FactorySize uint32

	// Internal is the internal flash geometry
	Internal Device

	// External is the external flash geometry
	External Device
}

// DefaultConfig returns the single-image board layout with the secondary slot
// and the factory image on external flash.
func DefaultConfig() Config {
	return Config{
		ImageCount:        1,
		Swap:              SwapStatus,
		SecondaryExternal: true,
		BootloaderSize:    DefaultBootloaderSize,
		Primary1Size:      DefaultSlotSize,
		Secondary1Size:    DefaultSlotSize,
		Primary2Size:      DefaultSlotSize,
		Secondary2Size:    DefaultSlotSize,
		ScratchSize:       DefaultScratchSize,
		FactorySize:       DefaultFactorySize,
		Internal: Device{
			ID:          DeviceInternal,
			Name:        "internal",
			Base:        DefaultInternalBase,
			Size:        DefaultInternalSize,
			EraseSize:   DefaultInternalRowSize,
			WriteSize:   DefaultInternalRowSize,
			ErasedValue: 0xFF,
		},
		External: Device{
			ID:          DeviceExternal(0),
			Name:        "qspi",
			Base:        DefaultExternalBase,
			Size:        DefaultExternalSize,
			EraseSize:   DefaultExternalSectorSize,
			WriteSize:   DefaultInternalRowSize,
			ErasedValue: 0xFF,
		},
	}
}

// Validate checks the parts of the configuration that do not depend on the
// computed layout.
func (c Config) Validate() error {
	if c.ImageCount < 1 || c.ImageCount > MaxImages {
		return fmt.Errorf("image count must be 1 or %d, got %d", MaxImages, c.ImageCount)
	}
	if c.Swap != SwapStatus && c.Swap != SwapScratch {
		return fmt.Errorf("unknown swap strategy %v", c.Swap)
	}
	if c.Internal.ID != DeviceInternal {
		return fmt.Errorf("internal device must have ID %s, got %s", DeviceInternal, c.Internal.ID)
	}
	if !c.External.ID.IsExternal() {
		return fmt.Errorf("external device must have an external ID, got %s", c.External.ID)
	}
	for _, d := range []Device{c.Internal, c.External} {
		if err := validateDevice(d); err != nil {
			return err
		}
	}
	return nil
}

func validateDevice(d Device) error {
	if d.Size == 0 {
		return fmt.Errorf("device %s: size must be non-zero", d.ID)
	}
	if d.EraseSize == 0 || d.WriteSize == 0 {
		return fmt.Errorf("device %s: erase and write sizes must be non-zero", d.ID)
	}
	if d.Size%d.EraseSize != 0 {
		return fmt.Errorf("device %s: size 0x%X is not a multiple of erase size 0x%X",
			d.ID, d.Size, d.EraseSize)
	}
	if d.EraseSize%d.WriteSize != 0 {
		return fmt.Errorf("device %s: erase size 0x%X is not a multiple of write size 0x%X",
			d.ID, d.EraseSize, d.WriteSize)
	}
	if d.End() > 1<<32 {
		return fmt.Errorf("device %s: 0x%08X+0x%X exceeds the 32-bit address space",
			d.ID, d.Base, d.Size)
	}
	return nil
}

// layout computes the areas and the factory reservation for c.
//
// Internal offsets follow the board's flash map: every region is placed after
// the bootloader, primary_1 and the space of secondary_1, whether or not
// secondary_1 actually lives in internal flash. External secondaries follow
// the factory image.
func (c Config) layout() (areas []Area, factory Area) {
	in := c.Internal.Base
	ext := c.External.Base

	areas = append(areas,
		Area{ID: AreaBootloader, Device: DeviceInternal, Offset: in, Size: c.BootloaderSize},
		Area{ID: AreaPrimary(0), Device: DeviceInternal, Offset: in + c.BootloaderSize, Size: c.Primary1Size},
	)

	if c.SecondaryExternal {
		areas = append(areas, Area{
			ID: AreaSecondary(0), Device: c.External.ID,
			Offset: ext + c.FactorySize, Size: c.Secondary1Size,
		})
	} else {
		areas = append(areas, Area{
			ID: AreaSecondary(0), Device: DeviceInternal,
			Offset: in + c.BootloaderSize + c.Primary1Size, Size: c.Secondary1Size,
		})
	}

	pair2 := in + c.BootloaderSize + c.Primary1Size + c.Secondary1Size
	if c.ImageCount == 2 {
		areas = append(areas, Area{
			ID: AreaPrimary(1), Device: DeviceInternal,
			Offset: pair2, Size: c.Primary2Size,
		})
		if c.SecondaryExternal {
			areas = append(areas, Area{
				ID: AreaSecondary(1), Device: c.External.ID,
				Offset: ext + c.FactorySize + c.Primary1Size, Size: c.Secondary2Size,
			})
		} else {
			areas = append(areas, Area{
				ID: AreaSecondary(1), Device: DeviceInternal,
				Offset: pair2 + c.Primary2Size, Size: c.Secondary2Size,
			})
		}
	}

	if c.Swap == SwapScratch {
		off := pair2
		if c.ImageCount == 2 {
			off += c.Primary2Size + c.Secondary2Size
		}
		areas = append(areas, Area{ID: AreaScratch, Device: DeviceInternal, Offset: off, Size: c.ScratchSize})
	}

	factory = Area{ID: AreaFactory, Device: c.External.ID, Offset: ext, Size: c.FactorySize}
	return areas, factory
}
