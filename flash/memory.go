package flash

import (
	"bytes"

	"github.com/moffa90/go-factoryboot/flashmap"
)

// Memory is an in-memory NOR flash device. Storage is allocated per erase
// unit on first write, so large devices cost nothing until used.
type Memory struct {
	*nor
}

// NewMemory returns an erased in-memory device with the given geometry.
func NewMemory(geom flashmap.Device) (*Memory, error) {
	if err := checkGeometry(geom); err != nil {
		return nil, err
	}
	units := &sparseCells{
		unit:   geom.EraseSize,
		erased: geom.ErasedValue,
		data:   make(map[uint32][]byte),
	}
	return &Memory{nor: &nor{geom: geom, cells: units}}, nil
}

// Bytes returns a copy of size bytes of device content starting at off.
func (m *Memory) Bytes(off, size uint32) ([]byte, error) {
	p := make([]byte, size)
	if err := m.Read(off, p); err != nil {
		return nil, err
	}
	return p, nil
}

// sparseCells stores erase units in a map keyed by unit index.
// Missing units read as erased.
type sparseCells struct {
	unit   uint32
	erased byte
	data   map[uint32][]byte
}

func (s *sparseCells) load(off uint32, p []byte) error {
	for len(p) > 0 {
		idx, in := off/s.unit, off%s.unit
		n := int(s.unit - in)
		if n > len(p) {
			n = len(p)
		}
		if u, ok := s.data[idx]; ok {
			copy(p[:n], u[in:])
		} else {
			for i := range p[:n] {
				p[i] = s.erased
			}
		}
		p = p[n:]
		off += uint32(n)
	}
	return nil
}

func (s *sparseCells) store(off uint32, p []byte) error {
	for len(p) > 0 {
		idx, in := off/s.unit, off%s.unit
		n := int(s.unit - in)
		if n > len(p) {
			n = len(p)
		}
		u, ok := s.data[idx]
		if !ok {
			u = bytes.Repeat([]byte{s.erased}, int(s.unit))
			s.data[idx] = u
		}
		copy(u[in:], p[:n])
		p = p[n:]
		off += uint32(n)
	}
	return nil
}
