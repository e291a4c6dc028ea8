package flash

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/moffa90/go-factoryboot/flashmap"
)

// File is a NOR flash device persisted in a host file, one byte per cell.
// It lets a simulated board keep its flash content across power cycles.
type File struct {
	*nor
	f *os.File
}

// OpenFile opens the device image at path, creating an erased one if the
// file does not exist. An existing file must be exactly geom.Size bytes.
func OpenFile(path string, geom flashmap.Device) (*File, error) {
	if err := checkGeometry(geom); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if errors.Is(err, os.ErrNotExist) {
		f, err = createErased(path, geom)
	}
	if err != nil {
		return nil, fmt.Errorf("open flash image: %w", err)
	}

	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat flash image: %w", err)
	}
	if st.Size() != int64(geom.Size) {
		_ = f.Close()
		return nil, fmt.Errorf("flash image %s is %d bytes, device %s is %d bytes",
			path, st.Size(), geom.ID, geom.Size)
	}

	return &File{
		nor: &nor{geom: geom, cells: fileCells{f}},
		f:   f,
	}, nil
}

// Close closes the backing file.
func (d *File) Close() error {
	return d.f.Close()
}

// createErased writes a new image full of the erased value.
func createErased(path string, geom flashmap.Device) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	blank := bytes.Repeat([]byte{geom.ErasedValue}, int(geom.EraseSize))
	for off := uint32(0); off < geom.Size; off += geom.EraseSize {
		if _, err := f.Write(blank); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return f, nil
}

type fileCells struct {
	f *os.File
}

func (c fileCells) load(off uint32, p []byte) error {
	if _, err := c.f.ReadAt(p, int64(off)); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c fileCells) store(off uint32, p []byte) error {
	_, err := c.f.WriteAt(p, int64(off))
	return err
}
