package image

// Magic identifies the start of a valid image header. The factory image in
// external flash starts with the same value.
const Magic = 0x96f3b83d

// Header layout constants.
const (
	// HeaderSize is the size of the fixed image header structure in bytes:
	// MAGIC(4) + LOAD_ADDR(4) + HDR_SIZE(2) + PROTECT_TLV_SIZE(2) +
	// IMG_SIZE(4) + FLAGS(4) + VERSION(8) + PAD(4)
	HeaderSize = 32

	// DefaultHeaderSize is the header area reserved in front of the payload.
	// The payload starts on a 1 KB boundary so its vector table is aligned.
	DefaultHeaderSize = 0x400

	// ErasedMagic is what a header magic reads as on erased NOR flash.
	ErasedMagic = 0xFFFFFFFF
)

// TLV area constants.
const (
	// TLVInfoMagic starts the unprotected TLV area
	TLVInfoMagic = 0x6907

	// TLVProtInfoMagic starts the protected TLV area (covered by the hash)
	TLVProtInfoMagic = 0x6908

	// TLVInfoSize is the size of a TLV area info header: MAGIC(2) + TOTAL(2)
	TLVInfoSize = 4

	// TLVEntrySize is the size of a TLV entry header: TYPE(2) + LEN(2)
	TLVEntrySize = 4

	// TLVSHA256 is the TLV type of the SHA-256 image hash
	TLVSHA256 = 0x10

	// SHA256Size is the size of a SHA-256 digest
	SHA256Size = 32
)

// Image header flags.
const (
	// FlagRAMLoad marks an image that is copied to RAM before execution
	FlagRAMLoad = 0x00000020

	// FlagNonBootable marks an image that must not be booted directly
	FlagNonBootable = 0x00000010
)

// readBlockSize is the buffer size used when hashing an image in place.
const readBlockSize = 512
