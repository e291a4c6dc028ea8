package image

import (
	"fmt"

	"github.com/moffa90/go-factoryboot/flashmap"
)

// Version is the image version carried in the header.
type Version struct {
	// Major is the major version
	Major uint8

	// Minor is the minor version
	Minor uint8

	// Revision is the revision number
	Revision uint16

	// Build is the build number
	Build uint32
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d+%d", v.Major, v.Minor, v.Revision, v.Build)
}

// ParseVersion parses "major.minor.revision+build"; revision and build are optional.
func ParseVersion(s string) (Version, error) {
	var v Version
	var major, minor, rev, build uint64
	n, _ := fmt.Sscanf(s, "%d.%d.%d+%d", &major, &minor, &rev, &build)
	if n < 2 {
		return v, fmt.Errorf("invalid version %q", s)
	}
	if major > 0xFF || minor > 0xFF || rev > 0xFFFF || build > 0xFFFFFFFF {
		return v, fmt.Errorf("version %q out of range", s)
	}
	v.Major, v.Minor, v.Revision, v.Build = uint8(major), uint8(minor), uint16(rev), uint32(build)
	return v, nil
}

// Header is the fixed structure at the start of every image.
type Header struct {
	// Magic must equal image.Magic
	Magic uint32

	// LoadAddr is the RAM load address (FlagRAMLoad images only)
	LoadAddr uint32

	// HdrSize is the size of the header area; the payload starts here
	HdrSize uint16

	// ProtectTLVSize is the size of the protected TLV area, 0 if absent
	ProtectTLVSize uint16

	// ImgSize is the payload size, excluding header and TLVs
	ImgSize uint32

	// Flags holds the image flags
	Flags uint32

	// Version is the image version
	Version Version
}

// TLV is one entry of an image's TLV area.
type TLV struct {
	// Type is the entry type
	Type uint16

	// Value is the entry payload
	Value []byte
}

// BootResponse describes a validated, bootable image. It is only produced by
// a Validator after a successful check.
type BootResponse struct {
	// Header is the validated image header
	Header *Header

	// Device is the flash device holding the image
	Device flashmap.DeviceID

	// ImageOffset is the absolute address of the image (its header)
	ImageOffset uint32
}

// EntryAddress returns the address execution starts at: the first byte
// after the header area.
func (r *BootResponse) EntryAddress() uint32 {
	return r.ImageOffset + uint32(r.Header.HdrSize)
}
