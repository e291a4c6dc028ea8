package image

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/moffa90/go-factoryboot/flash"
	"github.com/moffa90/go-factoryboot/flashmap"
)

const testSlotSize = 0x4000

// newSlot returns a backend with a single primary slot holding img.
func newSlot(t *testing.T, img []byte) *flash.Backend {
	t.Helper()
	dev := flashmap.Device{
		ID: flashmap.DeviceInternal, Base: 0x10000000, Size: 0x8000,
		EraseSize: 0x200, WriteSize: 0x200, ErasedValue: 0xFF,
	}
	ext := flashmap.Device{
		ID: flashmap.DeviceExternal(0), Base: 0x18000000, Size: 0x1000,
		EraseSize: 0x200, WriteSize: 0x200, ErasedValue: 0xFF,
	}
	areas := []flashmap.Area{
		{ID: flashmap.AreaBootloader, Device: flashmap.DeviceInternal, Offset: 0x10000000, Size: 0x400},
		{ID: flashmap.AreaPrimary(0), Device: flashmap.DeviceInternal, Offset: 0x10000400, Size: testSlotSize},
	}
	m, err := flashmap.NewTable([]flashmap.Device{dev, ext}, areas, nil)
	if err != nil {
		t.Fatal(err)
	}
	internal, _ := flash.NewMemory(dev)
	external, _ := flash.NewMemory(ext)
	if img != nil {
		if err := internal.Load(0x400, img); err != nil {
			t.Fatal(err)
		}
	}
	b, err := flash.NewBackend(m, internal, external)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func testPayload(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i * 7)
	}
	return p
}

func TestHeaderRoundTrip(t *testing.T) {
	h := &Header{
		Magic:          Magic,
		LoadAddr:       0x08000000,
		HdrSize:        0x400,
		ProtectTLVSize: 12,
		ImgSize:        0x1234,
		Flags:          FlagRAMLoad,
		Version:        Version{Major: 1, Minor: 2, Revision: 3, Build: 4},
	}
	raw, err := h.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != HeaderSize {
		t.Fatalf("MarshalBinary() length = %d, want %d", len(raw), HeaderSize)
	}
	// Magic is little-endian on flash.
	if !bytes.Equal(raw[:4], []byte{0x3d, 0xb8, 0xf3, 0x96}) {
		t.Errorf("magic bytes = % x", raw[:4])
	}
	got, err := ParseHeader(raw)
	if err != nil {
		t.Fatal(err)
	}
	if *got != *h {
		t.Errorf("ParseHeader() = %+v, want %+v", got, h)
	}

	if _, err := ParseHeader(raw[:10]); err == nil {
		t.Error("ParseHeader() accepted a short buffer")
	}
}

func TestValidateGoodImage(t *testing.T) {
	img, err := Build(testPayload(3000), BuildOptions{Version: Version{Major: 1, Minor: 0, Revision: 7}})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	rsp, err := NewValidator(newSlot(t, img)).Validate(context.Background())
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if rsp.ImageOffset != 0x10000400 {
		t.Errorf("ImageOffset = 0x%08X", rsp.ImageOffset)
	}
	if rsp.EntryAddress() != 0x10000800 {
		t.Errorf("EntryAddress() = 0x%08X, want 0x10000800", rsp.EntryAddress())
	}
	if rsp.Header.Version.Revision != 7 || rsp.Device != flashmap.DeviceInternal {
		t.Errorf("response = %+v", rsp)
	}
}

func TestValidateWithProtectedTLVs(t *testing.T) {
	img, err := Build(testPayload(100), BuildOptions{
		HeaderSize: 0x200,
		Protected:  []TLV{{Type: 0x50, Value: []byte{1, 2, 3, 4}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewValidator(newSlot(t, img)).Validate(context.Background()); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	good, err := Build(testPayload(1000), BuildOptions{HeaderSize: 0x200})
	if err != nil {
		t.Fatal(err)
	}
	mutate := func(f func(img []byte) []byte) []byte {
		return f(append([]byte(nil), good...))
	}

	tests := []struct {
		name   string
		img    []byte
		reason Reason
	}{
		{
			name:   "erased slot",
			img:    nil,
			reason: ReasonEmpty,
		},
		{
			name:   "bad magic",
			img:    mutate(func(b []byte) []byte { b[0] = 0xEF; return b }),
			reason: ReasonBadMagic,
		},
		{
			name:   "corrupted payload",
			img:    mutate(func(b []byte) []byte { b[0x300] ^= 0x01; return b }),
			reason: ReasonHashMismatch,
		},
		{
			name:   "hash entry corrupted",
			img:    mutate(func(b []byte) []byte { b[len(b)-1] ^= 0xFF; return b }),
			reason: ReasonHashMismatch,
		},
		{
			name:   "missing TLV area",
			img:    mutate(func(b []byte) []byte { return b[:0x200+1000] }),
			reason: ReasonBadTLV,
		},
		{
			name: "header size too small",
			img: mutate(func(b []byte) []byte {
				b[8], b[9] = 0x10, 0x00
				return b
			}),
			reason: ReasonBadHeader,
		},
		{
			name: "image larger than slot",
			img: mutate(func(b []byte) []byte {
				b[12], b[13], b[14] = 0x00, 0x00, 0x01 // ImgSize = 0x10000
				return b
			}),
			reason: ReasonTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewValidator(newSlot(t, tt.img)).Validate(context.Background())
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() error = %v, want *ValidationError", err)
			}
			if verr.Reason != tt.reason {
				t.Errorf("Reason = %v, want %v", verr.Reason, tt.reason)
			}
			if !strings.Contains(verr.Error(), "primary_1") {
				t.Errorf("error %q does not name the slot", verr.Error())
			}
		})
	}
}

func TestValidateNonBootable(t *testing.T) {
	img, err := Build(testPayload(10), BuildOptions{HeaderSize: 0x200, Flags: FlagNonBootable})
	if err != nil {
		t.Fatal(err)
	}
	_, err = NewValidator(newSlot(t, img)).Validate(context.Background())
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Reason != ReasonNotBootable {
		t.Errorf("Validate() error = %v, want ReasonNotBootable", err)
	}
}

func TestValidateUnknownSlot(t *testing.T) {
	_, err := NewSlotValidator(newSlot(t, nil), flashmap.AreaPrimary(1)).Validate(context.Background())
	if !errors.Is(err, flash.ErrUnknownArea) {
		t.Errorf("Validate() error = %v, want ErrUnknownArea", err)
	}
	if IsValidationError(err) {
		t.Error("flash errors must not be reported as validation errors")
	}
}

// closeFailOpener opens areas whose handles fail to close.
type closeFailOpener struct {
	AreaOpener
	err error
}

func (o closeFailOpener) Open(id flashmap.AreaID) (flash.Handle, error) {
	h, err := o.AreaOpener.Open(id)
	if err != nil {
		return nil, err
	}
	return closeFailHandle{Handle: h, err: o.err}, nil
}

type closeFailHandle struct {
	flash.Handle
	err error
}

func (h closeFailHandle) Close() error {
	_ = h.Handle.Close()
	return h.err
}

func TestValidateCloseError(t *testing.T) {
	errClose := errors.New("controller busy")

	img, err := Build(testPayload(100), BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}
	rsp, err := NewValidator(closeFailOpener{AreaOpener: newSlot(t, img), err: errClose}).Validate(context.Background())
	if !errors.Is(err, errClose) {
		t.Errorf("Validate() error = %v, want the close error", err)
	}
	if rsp != nil {
		t.Error("Validate() returned a response with a close error")
	}

	// An invalid image is reported ahead of the close error.
	_, err = NewValidator(closeFailOpener{AreaOpener: newSlot(t, nil), err: errClose}).Validate(context.Background())
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Reason != ReasonEmpty {
		t.Errorf("Validate() error = %v, want ReasonEmpty", err)
	}
}

func TestBuildOptions(t *testing.T) {
	t.Run("pad", func(t *testing.T) {
		img, err := Build(testPayload(10), BuildOptions{HeaderSize: 0x100, PadTo: 0x1000})
		if err != nil {
			t.Fatal(err)
		}
		if len(img) != 0x1000 || img[len(img)-1] != 0xFF {
			t.Errorf("padded image length %d, last byte 0x%02X", len(img), img[len(img)-1])
		}
	})

	t.Run("pad too small", func(t *testing.T) {
		if _, err := Build(testPayload(0x200), BuildOptions{HeaderSize: 0x100, PadTo: 0x100}); err == nil {
			t.Error("Build() accepted a pad size below the image size")
		}
	})

	t.Run("header too small", func(t *testing.T) {
		if _, err := Build(nil, BuildOptions{HeaderSize: 16}); err == nil {
			t.Error("Build() accepted a 16-byte header")
		}
	})

	t.Run("magic override", func(t *testing.T) {
		img, err := Build(nil, BuildOptions{HeaderSize: 0x100, Magic: 0xDEADBEEF})
		if err != nil {
			t.Fatal(err)
		}
		h, _ := ParseHeader(img)
		if h.Magic != 0xDEADBEEF {
			t.Errorf("Magic = 0x%08X", h.Magic)
		}
	})
}

func TestParseTLVs(t *testing.T) {
	area, err := encodeTLVs(TLVInfoMagic, []TLV{
		{Type: TLVSHA256, Value: bytes.Repeat([]byte{0xAA}, SHA256Size)},
		{Type: 0x01, Value: []byte{9}},
	})
	if err != nil {
		t.Fatal(err)
	}

	tlvs, err := ParseTLVs(area, TLVInfoMagic)
	if err != nil {
		t.Fatalf("ParseTLVs() error = %v", err)
	}
	if len(tlvs) != 2 || tlvs[1].Type != 0x01 || tlvs[1].Value[0] != 9 {
		t.Errorf("ParseTLVs() = %+v", tlvs)
	}

	if _, err := ParseTLVs(area, TLVProtInfoMagic); err == nil {
		t.Error("ParseTLVs() accepted the wrong info magic")
	}
	if _, err := ParseTLVs(area[:len(area)-1], TLVInfoMagic); err == nil {
		t.Error("ParseTLVs() accepted a truncated area")
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    Version
		wantErr bool
	}{
		{in: "1.2.3+4", want: Version{1, 2, 3, 4}},
		{in: "2.0.1", want: Version{Major: 2, Revision: 1}},
		{in: "1.5", want: Version{Major: 1, Minor: 5}},
		{in: "x", wantErr: true},
		{in: "256.0.0", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseVersion(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseVersion() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseVersion() = %v, want %v", got, tt.want)
			}
		})
	}
}
