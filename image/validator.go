package image

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/moffa90/go-factoryboot/flash"
	"github.com/moffa90/go-factoryboot/flashmap"
)

// AreaOpener opens flash areas by ID. *flash.Backend implements it.
type AreaOpener interface {
	Open(id flashmap.AreaID) (flash.Handle, error)
}

// Validator checks the image in a slot: header, bounds and SHA-256 hash.
//
// It is the reference implementation of the validation library boundary.
// Signature checks and upgrade swaps are not performed.
type Validator struct {
	flash AreaOpener
	area  flashmap.AreaID
}

// NewValidator returns a Validator for the primary slot of image 0.
func NewValidator(f AreaOpener) *Validator {
	return &Validator{flash: f, area: flashmap.AreaPrimary(0)}
}

// NewSlotValidator returns a Validator for an arbitrary slot.
func NewSlotValidator(f AreaOpener, area flashmap.AreaID) *Validator {
	return &Validator{flash: f, area: area}
}

// Validate checks the slot and returns the boot response for a valid image.
// Image problems are reported as *ValidationError; flash access problems are
// returned wrapped.
func (v *Validator) Validate(ctx context.Context) (rsp *BootResponse, err error) {
	h, err := v.flash.Open(v.area)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", v.area, err)
	}
	defer func() {
		if cerr := h.Close(); cerr != nil && err == nil {
			rsp, err = nil, fmt.Errorf("close %s: %w", v.area, cerr)
		}
	}()

	area := h.Area()
	name := area.ID.String()

	raw := make([]byte, HeaderSize)
	if err := h.Read(0, raw); err != nil {
		return nil, fmt.Errorf("read %s header: %w", name, err)
	}
	hdr, err := ParseHeader(raw)
	if err != nil {
		return nil, err
	}
	if err := hdr.Check(name); err != nil {
		return nil, err
	}

	// Header, payload, protected TLVs and at least the unprotected TLV info
	// must fit in the slot.
	if hdr.HashedSize()+TLVInfoSize > uint64(area.Size) {
		return nil, &ValidationError{Area: name, Reason: ReasonTooLarge,
			Detail: fmt.Sprintf("%d bytes in a %d byte slot", hdr.HashedSize()+TLVInfoSize, area.Size)}
	}

	if hdr.ProtectTLVSize > 0 {
		prot := make([]byte, hdr.ProtectTLVSize)
		if err := h.Read(uint32(hdr.TLVOffset()), prot); err != nil {
			return nil, fmt.Errorf("read %s protected TLVs: %w", name, err)
		}
		if _, err := ParseTLVs(prot, TLVProtInfoMagic); err != nil {
			return nil, &ValidationError{Area: name, Reason: ReasonBadTLV, Detail: err.Error()}
		}
	}

	tlvOff := uint32(hdr.HashedSize())
	info := make([]byte, TLVInfoSize)
	if err := h.Read(tlvOff, info); err != nil {
		return nil, fmt.Errorf("read %s TLV info: %w", name, err)
	}
	total, err := parseTLVInfo(info, TLVInfoMagic)
	if err != nil {
		return nil, &ValidationError{Area: name, Reason: ReasonBadTLV, Detail: err.Error()}
	}
	if uint64(tlvOff)+uint64(total) > uint64(area.Size) {
		return nil, &ValidationError{Area: name, Reason: ReasonTooLarge, Detail: "TLV area overruns slot"}
	}
	tlvArea := make([]byte, total)
	if err := h.Read(tlvOff, tlvArea); err != nil {
		return nil, fmt.Errorf("read %s TLVs: %w", name, err)
	}
	tlvs, err := ParseTLVs(tlvArea, TLVInfoMagic)
	if err != nil {
		return nil, &ValidationError{Area: name, Reason: ReasonBadTLV, Detail: err.Error()}
	}

	var want []byte
	for _, t := range tlvs {
		if t.Type == TLVSHA256 {
			want = t.Value
			break
		}
	}
	if len(want) != SHA256Size {
		return nil, &ValidationError{Area: name, Reason: ReasonNoHash}
	}

	got, err := hashArea(h, hdr.HashedSize())
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", name, err)
	}
	if !bytes.Equal(got, want) {
		return nil, &ValidationError{Area: name, Reason: ReasonHashMismatch,
			Detail: fmt.Sprintf("computed %x, stored %x", got[:8], want[:8])}
	}

	return &BootResponse{
		Header:      hdr,
		Device:      area.Device,
		ImageOffset: area.Offset,
	}, nil
}

// hashArea computes the SHA-256 of the first n bytes of an open area.
func hashArea(h flash.Handle, n uint64) ([]byte, error) {
	sum := sha256.New()
	buf := make([]byte, readBlockSize)
	for off := uint64(0); off < n; off += readBlockSize {
		chunk := buf
		if rem := n - off; rem < readBlockSize {
			chunk = buf[:rem]
		}
		if err := h.Read(uint32(off), chunk); err != nil {
			return nil, err
		}
		sum.Write(chunk)
	}
	return sum.Sum(nil), nil
}
