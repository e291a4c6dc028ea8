package flash

import (
	"fmt"
	"sync"

	"github.com/moffa90/go-factoryboot/flashmap"
)

// Backend binds flash devices to a partition table.
type Backend struct {
	m       *flashmap.Map
	devices map[flashmap.DeviceID]Device
}

// NewBackend returns a Backend serving the areas of m from devs.
// Every device named by an area of m must be provided, with a geometry
// matching the map.
func NewBackend(m *flashmap.Map, devs ...Device) (*Backend, error) {
	if m == nil {
		return nil, fmt.Errorf("flash: nil partition table")
	}

	b := &Backend{m: m, devices: make(map[flashmap.DeviceID]Device, len(devs))}
	for _, d := range devs {
		g := d.Geometry()
		want, ok := m.Device(g.ID)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not in the partition table", ErrUnknownDevice, g.ID)
		}
		if g.Size != want.Size || g.EraseSize != want.EraseSize || g.WriteSize != want.WriteSize {
			return nil, fmt.Errorf("flash: device %s geometry does not match the partition table", g.ID)
		}
		b.devices[g.ID] = d
	}

	for _, d := range m.Devices() {
		if _, ok := b.devices[d.ID]; !ok {
			return nil, fmt.Errorf("%w: no driver for %s", ErrUnknownDevice, d.ID)
		}
	}
	return b, nil
}

// Map returns the partition table served by b.
func (b *Backend) Map() *flashmap.Map {
	return b.m
}

// Device returns the driver bound to id.
func (b *Backend) Device(id flashmap.DeviceID) (Device, error) {
	d, ok := b.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	return d, nil
}

// Open opens the area with the given ID.
func (b *Backend) Open(id flashmap.AreaID) (Handle, error) {
	a, ok := b.m.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownArea, id)
	}
	d, err := b.Device(a.Device)
	if err != nil {
		return nil, err
	}
	return &handle{area: a, dev: d, base: a.Offset - d.Geometry().Base}, nil
}

// ReadDevice reads directly from a device at a device-relative offset,
// without going through the partition table. The factory image is read this
// way: it has no entry in the table, only a device.
func (b *Backend) ReadDevice(id flashmap.DeviceID, off uint32, p []byte) error {
	d, err := b.Device(id)
	if err != nil {
		return err
	}
	return d.Read(off, p)
}

// handle is an opened area on a device.
type handle struct {
	mu     sync.Mutex
	area   flashmap.Area
	dev    Device
	base   uint32
	closed bool
}

func (h *handle) Area() flashmap.Area {
	return h.area
}

func (h *handle) Geometry() flashmap.Device {
	return h.dev.Geometry()
}

func (h *handle) Read(off uint32, p []byte) error {
	if err := h.check(off, len(p)); err != nil {
		return err
	}
	return h.dev.Read(h.base+off, p)
}

func (h *handle) Write(off uint32, p []byte) error {
	if err := h.check(off, len(p)); err != nil {
		return err
	}
	return h.dev.Write(h.base+off, p)
}

func (h *handle) Erase(off, size uint32) error {
	if err := h.check(off, int(size)); err != nil {
		return err
	}
	return h.dev.Erase(h.base+off, size)
}

func (h *handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.closed = true
	return nil
}

func (h *handle) check(off uint32, n int) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return fmt.Errorf("%w: %s", ErrClosed, h.area.ID)
	}
	if err := checkRange(off, n, h.area.Size); err != nil {
		return fmt.Errorf("%s: %w", h.area.ID, err)
	}
	return nil
}
