// Package image defines the on-flash image format shared by the bootloader
// and the image validation library.
//
// # Layout
//
// An image is a fixed header, padded to HdrSize, followed by the payload and
// a TLV area:
//
//	+------------------+ 0
//	| Header (32)      |
//	| zero padding     |
//	+------------------+ HdrSize        <- application entry point
//	| payload          |
//	+------------------+ HdrSize+ImgSize
//	| protected TLVs   | (optional, hashed)
//	+------------------+
//	| TLVs (SHA-256)   |
//	+------------------+
//
// The header starts with Magic. The factory image in external flash uses the
// same format, so the bootloader can check for its presence by reading four
// bytes.
//
// # Validation
//
// Validator implements the check the bootloader asks for before booting a
// slot, and returns a BootResponse from which the entry point is derived:
//
//	v := image.NewValidator(backend)
//	rsp, err := v.Validate(ctx)
//	if err != nil {
//	    // no bootable image
//	}
//	entry := rsp.EntryAddress()
//
// Build produces images in this format for tests, simulation and tooling.
package image
