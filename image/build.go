package image

import (
	"bytes"
	"crypto/sha256"
	"fmt"
)

// BuildOptions controls Build.
type BuildOptions struct {
	// HeaderSize is the header area size; 0 means DefaultHeaderSize
	HeaderSize uint16

	// LoadAddr is stored in the header as is
	LoadAddr uint32

	// Flags is stored in the header as is
	Flags uint32

	// Version is the image version
	Version Version

	// Protected are TLVs placed in the protected area (covered by the hash)
	Protected []TLV

	// PadTo, when non-zero, pads the image with 0xFF up to this size
	PadTo uint32

	// Magic overrides the header magic; 0 means Magic
	Magic uint32
}

// Build assembles a bootable image: header area, payload, optional protected
// TLV area, and an unprotected TLV area holding the SHA-256 of everything
// before it.
//
// Image layout:
//
//	[HEADER(32)][ZERO PAD to HeaderSize][PAYLOAD][PROT TLVs][TLVs: SHA256][0xFF PAD]
func Build(payload []byte, opts BuildOptions) ([]byte, error) {
	hdrSize := opts.HeaderSize
	if hdrSize == 0 {
		hdrSize = DefaultHeaderSize
	}
	if hdrSize < HeaderSize {
		return nil, fmt.Errorf("header size %d below %d", hdrSize, HeaderSize)
	}
	if uint64(len(payload)) > 0xFFFFFFFF {
		return nil, fmt.Errorf("payload of %d bytes is too large", len(payload))
	}

	var prot []byte
	if len(opts.Protected) > 0 {
		var err error
		prot, err = encodeTLVs(TLVProtInfoMagic, opts.Protected)
		if err != nil {
			return nil, fmt.Errorf("protected TLVs: %w", err)
		}
	}

	magic := opts.Magic
	if magic == 0 {
		magic = Magic
	}
	hdr := &Header{
		Magic:          magic,
		LoadAddr:       opts.LoadAddr,
		HdrSize:        hdrSize,
		ProtectTLVSize: uint16(len(prot)),
		ImgSize:        uint32(len(payload)),
		Flags:          opts.Flags,
		Version:        opts.Version,
	}
	raw, err := hdr.MarshalBinary()
	if err != nil {
		return nil, err
	}

	var img bytes.Buffer
	img.Write(raw)
	img.Write(make([]byte, int(hdrSize)-HeaderSize))
	img.Write(payload)
	img.Write(prot)

	sum := sha256.Sum256(img.Bytes())
	tlvs, err := encodeTLVs(TLVInfoMagic, []TLV{{Type: TLVSHA256, Value: sum[:]}})
	if err != nil {
		return nil, err
	}
	img.Write(tlvs)

	if opts.PadTo != 0 {
		if uint64(img.Len()) > uint64(opts.PadTo) {
			return nil, fmt.Errorf("image of %d bytes exceeds pad size %d", img.Len(), opts.PadTo)
		}
		img.Write(bytes.Repeat([]byte{0xFF}, int(opts.PadTo)-img.Len()))
	}

	return img.Bytes(), nil
}
