// Package flashmap describes the static partition table of the board.
//
// # Overview
//
// The table lists every flash region the bootloader and the image validation
// library know about:
//   - the bootloader itself
//   - one or two primary slots (the slots the application executes from)
//   - the matching secondary slots (upgrade staging), on internal or external flash
//   - an optional scratch area when the swap-using-scratch strategy is in use
//
// The factory image region at the start of the external device is not part of
// the validation library's table. It is tracked separately as a reserved
// region so that the layout checks cover it.
//
// # Building a Map
//
// A Map is built once, at init time, from a Config:
//
//	m := flashmap.MustNew(flashmap.DefaultConfig())
//	primary, _ := m.Lookup(flashmap.AreaPrimary(0))
//	fmt.Printf("%s @ 0x%08X, %d bytes\n", primary.ID, primary.Offset, primary.Size)
//
// New rejects layouts where areas overlap, leave their device, or are not
// aligned to the device erase granularity. MustNew panics instead and is meant
// for package-level tables fixed at build time.
//
// # Addresses
//
// Area offsets are absolute addresses, as seen by the CPU for internal flash
// and as the memory-mapped window for external flash. Device.Base maps an
// absolute address back to a device-relative offset.
package flashmap
