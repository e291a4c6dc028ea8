package imagefile

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/marcinbor85/gohex"
	"github.com/ulikunitz/xz"
)

// Format is an image file format.
type Format int

const (
	// FormatBinary is a raw memory dump
	FormatBinary Format = iota

	// FormatHex is Intel HEX
	FormatHex
)

func (f Format) String() string {
	switch f {
	case FormatBinary:
		return "binary"
	case FormatHex:
		return "hex"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// Constants for image file handling.
const (
	// HexLineLength is the number of data bytes per Intel HEX record when saving
	HexLineLength = 16

	// MaxImageSize bounds the span of a loaded image, gaps included
	MaxImageSize = 64 << 20

	// FillByte fills gaps between Intel HEX records
	FillByte = 0xFF

	// xzSuffix marks compressed files
	xzSuffix = ".xz"
)

// maxHexTextSize bounds the Intel HEX text read for one image. A record
// carries at most 255 data bytes in about twice as many characters.
var maxHexTextSize int64 = 4 * MaxImageSize

// File is a flash image loaded from disk.
type File struct {
	// Format is the on-disk format the image was read from
	Format Format

	// Compressed is true when the file was xz-compressed
	Compressed bool

	// Base is the address of Data[0]; always 0 for binary files
	Base uint32

	// Data is the image content
	Data []byte
}

// DetectFormat infers the format and compression from a file name.
// Unknown extensions are treated as binary.
func DetectFormat(path string) (Format, bool) {
	name := strings.ToLower(filepath.Base(path))
	compressed := strings.HasSuffix(name, xzSuffix)
	name = strings.TrimSuffix(name, xzSuffix)

	switch filepath.Ext(name) {
	case ".hex", ".ihex":
		return FormatHex, compressed
	default:
		return FormatBinary, compressed
	}
}

// Parse loads an image file from the given path.
//
// Example:
//
//	f, err := imagefile.Parse("factory.hex.xz")
func Parse(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = fh.Close() }()

	format, compressed := DetectFormat(path)

	var r io.Reader = fh
	if compressed {
		xr, err := xz.NewReader(fh)
		if err != nil {
			return nil, fmt.Errorf("failed to open xz stream: %w", err)
		}
		r = xr
	}

	f, err := ParseReader(r, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.Compressed = compressed
	return f, nil
}

// ParseReader loads an uncompressed image of the given format from any io.Reader.
//
// Example:
//
//	f, err := imagefile.ParseReader(strings.NewReader(hexText), imagefile.FormatHex)
func ParseReader(r io.Reader, format Format) (*File, error) {
	switch format {
	case FormatBinary:
		data, err := io.ReadAll(io.LimitReader(r, MaxImageSize+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read image: %w", err)
		}
		if len(data) > MaxImageSize {
			return nil, fmt.Errorf("image exceeds %d bytes", MaxImageSize)
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("empty file")
		}
		return &File{Format: FormatBinary, Data: data}, nil

	case FormatHex:
		return parseHex(r)

	default:
		return nil, fmt.Errorf("unknown format %v", format)
	}
}

// parseHex reads Intel HEX records and flattens them into one buffer.
func parseHex(r io.Reader) (*File, error) {
	lr := &io.LimitedReader{R: r, N: maxHexTextSize + 1}
	mem := gohex.NewMemory()
	err := mem.ParseIntelHex(lr)
	if lr.N == 0 {
		return nil, fmt.Errorf("Intel HEX text exceeds %d bytes", maxHexTextSize)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid Intel HEX: %w", err)
	}

	segs := mem.GetDataSegments()
	if len(segs) == 0 {
		return nil, fmt.Errorf("no data records found in file")
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].Address < segs[j].Address })

	base := segs[0].Address
	last := segs[len(segs)-1]
	span := uint64(last.Address) + uint64(len(last.Data)) - uint64(base)
	if span > MaxImageSize {
		return nil, fmt.Errorf("image spans %d bytes from 0x%08X, limit is %d", span, base, MaxImageSize)
	}

	data := bytes.Repeat([]byte{FillByte}, int(span))
	for _, s := range segs {
		copy(data[s.Address-base:], s.Data)
	}

	return &File{Format: FormatHex, Base: base, Data: data}, nil
}

// Save writes f to path in the format implied by the extension. A ".xz"
// suffix compresses the output; compress forces compression for any name.
func Save(path string, f *File, compress bool) error {
	format, compressed := DetectFormat(path)
	compressed = compressed || compress

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	var w io.Writer = out
	var xw *xz.Writer
	if compressed {
		xw, err = xz.NewWriter(out)
		if err != nil {
			_ = out.Close()
			return fmt.Errorf("failed to open xz stream: %w", err)
		}
		w = xw
	}

	if err := Write(w, f, format); err != nil {
		_ = out.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	if xw != nil {
		if err := xw.Close(); err != nil {
			_ = out.Close()
			return fmt.Errorf("failed to finish xz stream: %w", err)
		}
	}
	return out.Close()
}

// Write encodes f to w in the given format, uncompressed.
func Write(w io.Writer, f *File, format Format) error {
	if f == nil || len(f.Data) == 0 {
		return fmt.Errorf("empty image")
	}

	switch format {
	case FormatBinary:
		_, err := w.Write(f.Data)
		return err

	case FormatHex:
		mem := gohex.NewMemory()
		if err := mem.AddBinary(f.Base, f.Data); err != nil {
			return fmt.Errorf("add binary at 0x%08X: %w", f.Base, err)
		}
		return mem.DumpIntelHex(w, HexLineLength)

	default:
		return fmt.Errorf("unknown format %v", format)
	}
}
