// Package imagefile loads and saves flash images on the host.
//
// # Formats
//
// Three on-disk formats are understood, selected by file extension:
//
//	.bin   raw bytes, no address information
//	.hex   Intel HEX; the lowest record address becomes File.Base and gaps
//	       between records are filled with 0xFF (erased flash)
//	.xz    any of the above compressed with xz, e.g. "factory.hex.xz"
//
// Factory images are usually shipped compressed; the loader decompresses
// them transparently.
//
// # Usage
//
// Load a factory image from disk:
//
//	f, err := imagefile.Parse("factory.hex.xz")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("%s image, %d bytes at 0x%08X\n", f.Format, len(f.Data), f.Base)
//
// Parse from an io.Reader when the format is known:
//
//	f, err := imagefile.ParseReader(r, imagefile.FormatHex)
//
// Save an image:
//
//	err := imagefile.Save("app.hex", &imagefile.File{Base: 0x10018000, Data: img}, false)
package imagefile
