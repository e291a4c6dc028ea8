// Package bootloader implements a rollback-capable first-stage boot flow for
// a dual-core MCU: boot the application in the primary slot, or replace it
// with the factory image kept on external flash and boot that instead.
//
// # Overview
//
// One power cycle runs this decision:
//   - Validate the primary slot
//   - Valid image and button released: boot it
//   - Valid image and button held: roll back
//   - No valid image: wait for a button press, then roll back
//
// Rolling back erases the primary slot, copies the factory image into it
// chunk by chunk, revalidates it and boots it. There is no fallback past the
// factory image: any failure on that path halts.
//
// # Basic Usage
//
//	m := flashmap.MustNew(flashmap.DefaultConfig())
//	backend, err := flash.NewBackend(m, internal, external)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	bl := bootloader.New(bootloader.Hardware{
//	    Flash:     backend,
//	    Validator: image.NewValidator(backend),
//	    Button:    userButton,
//	    Console:   uart,
//	    Platform:  cpu,
//	})
//
//	out, err := bl.Run(ctx)
//
// # Progress Tracking
//
// A rollback rewrites the whole primary slot and takes a while. Track it
// with a callback:
//
//	bl := bootloader.New(hw,
//	    bootloader.WithProgressCallback(func(p bootloader.Progress) {
//	        fmt.Printf("[%s] %.1f%% - Chunk %d/%d\n",
//	            p.Phase, p.Percentage, p.CurrentChunk, p.TotalChunks)
//	    }),
//	)
//
// # Configuration Options
//
//	bl := bootloader.New(hw,
//	    bootloader.WithLogger(myLogger),
//	    bootloader.WithChunkSize(512),
//	    bootloader.WithFlushTimeout(100*time.Millisecond),
//	    bootloader.WithFactoryDevice(flashmap.DeviceExternal(0)),
//	    bootloader.WithPrimaryArea(flashmap.AreaPrimary(0)),
//	    bootloader.WithPeripherals(uart, rxPort, txPort, qspi),
//	)
//
// # Halting
//
// Conditions with no safe recovery halt the system: interrupts are disabled
// and the Platform parks. On hardware that never returns. Host platforms
// return from Park, and the bootloader then reports a *FatalError carrying
// the state it stopped in. Use IsFatal to tell a halt from an ordinary error.
//
// The package provides structured error types:
//   - OpenError: a flash area could not be opened
//   - MagicMismatchError: no factory image at the start of the factory device
//   - ChunkError: one chunk of the factory copy failed
//   - ConfigError: the configuration cannot work on this board
//   - FatalError: the bootloader halted
//
// # Hardware Independence
//
// Every piece of hardware sits behind a small interface: Flash, Validator,
// Button, Console, Peripheral and Platform. The sim package implements them
// for host simulation; tests use hand-written mocks.
package bootloader
