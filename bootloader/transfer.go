package bootloader

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/moffa90/go-factoryboot/image"
)

// FactoryImageOffset is where the factory image starts on the factory device.
const FactoryImageOffset = 0

// TransferFactoryImage overwrites the primary slot with the factory image:
//  1. Open the primary slot
//  2. Check the image magic at the start of the factory device
//  3. Erase the whole primary slot
//  4. Copy exactly the primary slot size from the factory device, chunk by chunk
//  5. Close the slot
//
// Failing to open the slot, a missing or unreadable magic, a chunk size that
// does not divide the slot or is not a multiple of its write size, and an
// erase failure are fatal: the bootloader
// halts and a *FatalError is returned. The slot is never erased unless the
// magic matched. A failed chunk read or write aborts the copy and returns a
// *ChunkError, leaving the slot partially written.
//
// The copy size is the slot size, not the size declared by the factory
// image, so trailing bytes come from whatever follows the image on the
// factory device.
//
// The transfer is not cancellable; ctx is only used if the bootloader halts.
func (b *Bootloader) TransferFactoryImage(ctx context.Context) (err error) {
	startTime := time.Now()
	areaID := b.config.PrimaryArea
	dev := b.config.FactoryDevice

	h, err := b.flash.Open(areaID)
	if err != nil {
		b.logError("Failed to open primary slot", "area", areaID.String(), "error", err)
		return b.halt(ctx, StateImmediateRollback, &OpenError{Area: areaID, Err: err})
	}
	defer func() {
		if cerr := h.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", areaID, cerr)
		}
	}()

	area := h.Area()
	chunkSize := b.config.ChunkSize
	totalChunks := int(area.Size / chunkSize)

	b.reportProgress(Progress{
		Phase:       PhaseChecking,
		TotalChunks: totalChunks,
	})

	var raw [4]byte
	if err := b.flash.ReadDevice(dev, FactoryImageOffset, raw[:]); err != nil {
		b.logError("Failed to read factory app magic from external memory", "device", dev.String(), "error", err)
		return b.halt(ctx, StateImmediateRollback, fmt.Errorf("read factory image magic: %w", err))
	}
	magic := binary.LittleEndian.Uint32(raw[:])
	if magic != image.Magic {
		b.logError("Invalid image magic", "magic", fmt.Sprintf("0x%08X", magic))
		return b.halt(ctx, StateImmediateRollback, &MagicMismatchError{
			Device:   dev,
			Offset:   FactoryImageOffset,
			Expected: image.Magic,
			Actual:   magic,
		})
	}
	b.logInfo("Valid image magic found", "magic", fmt.Sprintf("0x%08X", magic))

	if area.Size%chunkSize != 0 {
		return b.halt(ctx, StateImmediateRollback, &ConfigError{
			Message: fmt.Sprintf("chunk size %d does not divide %s size 0x%X", chunkSize, area.ID, area.Size),
		})
	}
	if geom := h.Geometry(); chunkSize%geom.WriteSize != 0 {
		return b.halt(ctx, StateImmediateRollback, &ConfigError{
			Message: fmt.Sprintf("chunk size %d is not a multiple of the %s write size %d", chunkSize, geom.ID, geom.WriteSize),
		})
	}

	b.logInfo("Erasing primary slot. Please wait for a while...",
		"area", area.ID.String(),
		"size", fmt.Sprintf("0x%X", area.Size),
	)
	b.reportProgress(Progress{
		Phase:       PhaseErasing,
		TotalChunks: totalChunks,
		ElapsedTime: time.Since(startTime),
	})

	if err := h.Erase(0, area.Size); err != nil {
		b.logError("Failed to erase primary slot", "area", area.ID.String(), "error", err)
		return b.halt(ctx, StateImmediateRollback, fmt.Errorf("erase %s: %w", area.ID, err))
	}

	b.logInfo("Transferring factory app to primary slot", "chunks", totalChunks, "chunk_size", chunkSize)

	buf := make([]byte, chunkSize)
	factoryOff := uint32(FactoryImageOffset)
	slotOff := uint32(0)
	for i := 0; i < totalChunks; i++ {
		if err := b.flash.ReadDevice(dev, factoryOff, buf); err != nil {
			b.logError("failed to read factory app", "offset", fmt.Sprintf("0x%08X", factoryOff), "error", err)
			return &ChunkError{Op: "read", Chunk: i, Offset: factoryOff, Err: err}
		}

		if err := h.Write(slotOff, buf); err != nil {
			b.logError("failed to write primary slot", "offset", fmt.Sprintf("0x%08X", slotOff), "error", err)
			return &ChunkError{Op: "write", Chunk: i, Offset: slotOff, Err: err}
		}

		factoryOff += chunkSize
		slotOff += chunkSize

		b.reportProgress(Progress{
			Phase:        PhaseCopying,
			CurrentChunk: i + 1,
			TotalChunks:  totalChunks,
			Percentage:   float64(i+1) / float64(totalChunks) * 100,
			BytesCopied:  int(slotOff),
			ElapsedTime:  time.Since(startTime),
		})
	}

	b.reportProgress(Progress{
		Phase:        PhaseComplete,
		CurrentChunk: totalChunks,
		TotalChunks:  totalChunks,
		Percentage:   100,
		BytesCopied:  int(slotOff),
		ElapsedTime:  time.Since(startTime),
	})

	b.logInfo("factory app copied to primary slot successfully",
		"bytes", slotOff,
		"elapsed", time.Since(startTime).String(),
	)

	return nil
}
