package image

import (
	"encoding/binary"
	"fmt"
)

// ParseHeader decodes an image header.
//
// Header format (HeaderSize bytes, little-endian):
//
//	[MAGIC(4)][LOAD_ADDR(4)][HDR_SIZE(2)][PROTECT_TLV_SIZE(2)][IMG_SIZE(4)]
//	[FLAGS(4)][MAJOR(1)][MINOR(1)][REVISION(2)][BUILD(4)][PAD(4)]
//
// ParseHeader does not check the magic; see Header.Check.
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: got %d bytes, need %d", len(data), HeaderSize)
	}

	return &Header{
		Magic:          binary.LittleEndian.Uint32(data[0:4]),
		LoadAddr:       binary.LittleEndian.Uint32(data[4:8]),
		HdrSize:        binary.LittleEndian.Uint16(data[8:10]),
		ProtectTLVSize: binary.LittleEndian.Uint16(data[10:12]),
		ImgSize:        binary.LittleEndian.Uint32(data[12:16]),
		Flags:          binary.LittleEndian.Uint32(data[16:20]),
		Version: Version{
			Major:    data[20],
			Minor:    data[21],
			Revision: binary.LittleEndian.Uint16(data[22:24]),
			Build:    binary.LittleEndian.Uint32(data[24:28]),
		},
	}, nil
}

// MarshalBinary encodes the header into HeaderSize bytes.
func (h *Header) MarshalBinary() ([]byte, error) {
	data := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(data[0:4], h.Magic)
	binary.LittleEndian.PutUint32(data[4:8], h.LoadAddr)
	binary.LittleEndian.PutUint16(data[8:10], h.HdrSize)
	binary.LittleEndian.PutUint16(data[10:12], h.ProtectTLVSize)
	binary.LittleEndian.PutUint32(data[12:16], h.ImgSize)
	binary.LittleEndian.PutUint32(data[16:20], h.Flags)
	data[20] = h.Version.Major
	data[21] = h.Version.Minor
	binary.LittleEndian.PutUint16(data[22:24], h.Version.Revision)
	binary.LittleEndian.PutUint32(data[24:28], h.Version.Build)
	return data, nil
}

// Check validates the header fields that do not need the payload.
// The returned error, if any, is a *ValidationError.
func (h *Header) Check(area string) error {
	switch {
	case h.Magic == ErasedMagic:
		return &ValidationError{Area: area, Reason: ReasonEmpty}
	case h.Magic != Magic:
		return &ValidationError{Area: area, Reason: ReasonBadMagic,
			Detail: fmt.Sprintf("got 0x%08X, want 0x%08X", h.Magic, uint32(Magic))}
	case h.HdrSize < HeaderSize:
		return &ValidationError{Area: area, Reason: ReasonBadHeader,
			Detail: fmt.Sprintf("header size %d below %d", h.HdrSize, HeaderSize)}
	case h.Flags&FlagNonBootable != 0:
		return &ValidationError{Area: area, Reason: ReasonNotBootable}
	}
	return nil
}

// TLVOffset returns the offset of the protected TLV area, or of the
// unprotected one when there is no protected area.
func (h *Header) TLVOffset() uint64 {
	return uint64(h.HdrSize) + uint64(h.ImgSize)
}

// HashedSize returns the number of bytes covered by the image hash:
// header area, payload and protected TLVs.
func (h *Header) HashedSize() uint64 {
	return h.TLVOffset() + uint64(h.ProtectTLVSize)
}

// parseTLVInfo decodes a TLV area info header and returns the total size of
// the area, info header included.
func parseTLVInfo(data []byte, magic uint16) (uint16, error) {
	if len(data) < TLVInfoSize {
		return 0, fmt.Errorf("TLV info too short: got %d bytes, need %d", len(data), TLVInfoSize)
	}
	if got := binary.LittleEndian.Uint16(data[0:2]); got != magic {
		return 0, fmt.Errorf("TLV info magic 0x%04X, want 0x%04X", got, magic)
	}
	total := binary.LittleEndian.Uint16(data[2:4])
	if total < TLVInfoSize {
		return 0, fmt.Errorf("TLV area total %d below info size", total)
	}
	return total, nil
}

// ParseTLVs decodes the entries of a TLV area. data must hold the whole area,
// starting at its info header.
func ParseTLVs(data []byte, magic uint16) ([]TLV, error) {
	total, err := parseTLVInfo(data, magic)
	if err != nil {
		return nil, err
	}
	if int(total) > len(data) {
		return nil, fmt.Errorf("TLV area of %d bytes truncated to %d", total, len(data))
	}

	var tlvs []TLV
	off := TLVInfoSize
	for off < int(total) {
		if off+TLVEntrySize > int(total) {
			return nil, fmt.Errorf("TLV entry header at %d overruns area", off)
		}
		typ := binary.LittleEndian.Uint16(data[off : off+2])
		n := int(binary.LittleEndian.Uint16(data[off+2 : off+4]))
		off += TLVEntrySize
		if off+n > int(total) {
			return nil, fmt.Errorf("TLV 0x%02X of %d bytes overruns area", typ, n)
		}
		tlvs = append(tlvs, TLV{Type: typ, Value: append([]byte(nil), data[off:off+n]...)})
		off += n
	}
	return tlvs, nil
}

// encodeTLVs builds a TLV area with the given info magic.
func encodeTLVs(magic uint16, tlvs []TLV) ([]byte, error) {
	total := TLVInfoSize
	for _, t := range tlvs {
		total += TLVEntrySize + len(t.Value)
	}
	if total > 0xFFFF {
		return nil, fmt.Errorf("TLV area of %d bytes exceeds 64 KB", total)
	}

	area := make([]byte, 0, total)
	area = binary.LittleEndian.AppendUint16(area, magic)
	area = binary.LittleEndian.AppendUint16(area, uint16(total))
	for _, t := range tlvs {
		area = binary.LittleEndian.AppendUint16(area, t.Type)
		area = binary.LittleEndian.AppendUint16(area, uint16(len(t.Value)))
		area = append(area, t.Value...)
	}
	return area, nil
}
