package flash

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/moffa90/go-factoryboot/flashmap"
)

// cells is the raw storage behind a NOR model.
type cells interface {
	load(off uint32, p []byte) error
	store(off uint32, p []byte) error
}

// nor applies NOR flash rules on top of raw storage:
// erase sets whole erase units to the erased value, and a write may only
// program cells that are currently erased.
type nor struct {
	mu    sync.Mutex
	geom  flashmap.Device
	cells cells
}

func (n *nor) Geometry() flashmap.Device {
	return n.geom
}

func (n *nor) Read(off uint32, p []byte) error {
	if err := checkRange(off, len(p), n.geom.Size); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cells.load(off, p)
}

func (n *nor) Write(off uint32, p []byte) error {
	if err := checkRange(off, len(p), n.geom.Size); err != nil {
		return err
	}
	if err := checkAlign(off, uint32(len(p)), n.geom.WriteSize); err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	cur := make([]byte, len(p))
	if err := n.cells.load(off, cur); err != nil {
		return err
	}
	for i, b := range cur {
		if b != n.geom.ErasedValue {
			return fmt.Errorf("%w at offset 0x%X", ErrNotErased, off+uint32(i))
		}
	}
	return n.cells.store(off, p)
}

func (n *nor) Erase(off, size uint32) error {
	if err := checkRange(off, int(size), n.geom.Size); err != nil {
		return err
	}
	if err := checkAlign(off, size, n.geom.EraseSize); err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	blank := bytes.Repeat([]byte{n.geom.ErasedValue}, int(n.geom.EraseSize))
	for o := off; o < off+size; o += n.geom.EraseSize {
		if err := n.cells.store(o, blank); err != nil {
			return err
		}
	}
	return nil
}

// Load erases the erase units covering [off, off+len(data)) and programs data
// there, padding to whole write units with the erased value. It is a
// provisioning helper, not one of the bootloader primitives.
func (n *nor) Load(off uint32, data []byte) error {
	unit := n.geom.EraseSize
	start := off - off%unit
	end := uint64(off) + uint64(len(data))
	if rem := end % uint64(unit); rem != 0 {
		end += uint64(unit) - rem
	}
	if end > uint64(n.geom.Size) {
		return fmt.Errorf("%w: load of %d bytes at 0x%X", ErrOutOfBounds, len(data), off)
	}

	// Preserve the parts of the first and last erase units outside the data.
	buf := make([]byte, end-uint64(start))
	if err := n.Read(start, buf); err != nil {
		return err
	}
	copy(buf[off-start:], data)

	if err := n.Erase(start, uint32(len(buf))); err != nil {
		return err
	}

	// Program only write units that hold non-erased data.
	w := n.geom.WriteSize
	blank := bytes.Repeat([]byte{n.geom.ErasedValue}, int(w))
	for o := uint32(0); o < uint32(len(buf)); o += w {
		chunk := buf[o : o+w]
		if bytes.Equal(chunk, blank) {
			continue
		}
		if err := n.Write(start+o, chunk); err != nil {
			return err
		}
	}
	return nil
}
