package flashmap

import (
	"fmt"
	"sort"
)

// LayoutError reports a partition table that cannot be valid on the hardware.
type LayoutError struct {
	// Area is the offending area
	Area Area

	// Other is the area Area collides with, if any
	Other *Area

	// Reason describes the violated rule
	Reason string
}

func (e *LayoutError) Error() string {
	if e.Other != nil {
		return fmt.Sprintf("flash layout: %s %s %s", e.Area, e.Reason, *e.Other)
	}
	return fmt.Sprintf("flash layout: %s %s", e.Area, e.Reason)
}

// Map is an immutable partition table.
//
// Map is safe for concurrent use; none of its methods mutate it.
type Map struct {
	devices []Device
	areas   []Area
	factory *Area
}

// New builds the partition table described by cfg.
func New(cfg Config) (*Map, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("flash layout: %w", err)
	}

	total := uint64(cfg.BootloaderSize) + uint64(cfg.Primary1Size) + uint64(cfg.Secondary1Size) +
		uint64(cfg.Primary2Size) + uint64(cfg.Secondary2Size) + uint64(cfg.ScratchSize) +
		uint64(cfg.FactorySize)
	if total > 1<<32 {
		return nil, fmt.Errorf("flash layout: total area size 0x%X exceeds the 32-bit address space", total)
	}

	areas, factory := cfg.layout()
	if cfg.FactorySize < cfg.Primary1Size {
		return nil, &LayoutError{Area: factory, Other: &areas[1], Reason: "is smaller than"}
	}
	return NewTable([]Device{cfg.Internal, cfg.External}, areas, &factory)
}

// MustNew is like New but panics if the layout is invalid.
// It is intended for package-level tables fixed at build time.
func MustNew(cfg Config) *Map {
	m, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return m
}

// NewTable builds a Map from an explicit list of devices and areas.
// factory may be nil when no factory image region is reserved.
//
// Every area must:
//   - have a unique ID and a non-zero size
//   - lie on a listed device, inside [Base, Base+Size)
//   - start and end on the device's erase granularity
//   - not overlap any other area (or the factory region) on the same device
func NewTable(devices []Device, areas []Area, factory *Area) (*Map, error) {
	m := &Map{
		devices: append([]Device(nil), devices...),
		areas:   append([]Area(nil), areas...),
	}
	if factory != nil {
		f := *factory
		m.factory = &f
	}

	seenDev := make(map[DeviceID]bool, len(devices))
	for _, d := range devices {
		if seenDev[d.ID] {
			return nil, fmt.Errorf("flash layout: duplicate device %s", d.ID)
		}
		seenDev[d.ID] = true
		if err := validateDevice(d); err != nil {
			return nil, fmt.Errorf("flash layout: %w", err)
		}
	}

	all := append([]Area(nil), m.areas...)
	if m.factory != nil {
		all = append(all, *m.factory)
	}

	seenArea := make(map[AreaID]bool, len(all))
	for _, a := range all {
		if seenArea[a.ID] {
			return nil, &LayoutError{Area: a, Reason: "has a duplicate ID"}
		}
		seenArea[a.ID] = true

		dev, ok := m.Device(a.Device)
		if !ok {
			return nil, &LayoutError{Area: a, Reason: "is on an unknown device"}
		}
		if a.Size == 0 {
			return nil, &LayoutError{Area: a, Reason: "has zero size"}
		}
		if !dev.Contains(a.Offset, a.Size) {
			return nil, &LayoutError{Area: a, Reason: fmt.Sprintf(
				"exceeds device %s [0x%08X, 0x%08X)", dev.ID, dev.Base, dev.End())}
		}
		if (a.Offset-dev.Base)%dev.EraseSize != 0 || a.Size%dev.EraseSize != 0 {
			return nil, &LayoutError{Area: a, Reason: fmt.Sprintf(
				"is not aligned to the %s erase size 0x%X", dev.ID, dev.EraseSize)}
		}
	}

	// Sort a copy by device and offset; any overlap shows up between neighbours.
	sort.Slice(all, func(i, j int) bool {
		if all[i].Device != all[j].Device {
			return all[i].Device < all[j].Device
		}
		return all[i].Offset < all[j].Offset
	})
	for i := 1; i < len(all); i++ {
		if all[i-1].Overlaps(all[i]) {
			other := all[i-1]
			return nil, &LayoutError{Area: all[i], Other: &other, Reason: "overlaps"}
		}
	}

	return m, nil
}

// Areas returns the areas in table order. The factory region is not included.
func (m *Map) Areas() []Area {
	return append([]Area(nil), m.areas...)
}

// Lookup returns the area with the given ID.
func (m *Map) Lookup(id AreaID) (Area, bool) {
	for _, a := range m.areas {
		if a.ID == id {
			return a, true
		}
	}
	if m.factory != nil && m.factory.ID == id {
		return *m.factory, true
	}
	return Area{}, false
}

// Devices returns the device geometries.
func (m *Map) Devices() []Device {
	return append([]Device(nil), m.devices...)
}

// Device returns the geometry of the device with the given ID.
func (m *Map) Device(id DeviceID) (Device, bool) {
	for _, d := range m.devices {
		if d.ID == id {
			return d, true
		}
	}
	return Device{}, false
}

// FactoryRegion returns the external region reserved for the factory image.
func (m *Map) FactoryRegion() (Area, bool) {
	if m.factory == nil {
		return Area{}, false
	}
	return *m.factory, true
}

// ImageCount returns the number of primary slots in the table.
func (m *Map) ImageCount() int {
	n := 0
	for i := 0; i < MaxImages; i++ {
		if _, ok := m.Lookup(AreaPrimary(i)); ok {
			n++
		}
	}
	return n
}
