// Package sim simulates the rollback board on a host: flash devices, the
// user button with its edge interrupt, the diagnostic UART, the peripherals
// released at handoff, and the CPU that starts the application core.
//
// A Board runs one power cycle of the bootloader per PowerOn call. Power is
// cut when the bootloader parks, after a handoff or a halt, so every cycle
// returns:
//
//	board, _ := sim.NewMemoryBoard(flashmap.DefaultConfig(), os.Stdout)
//	_ = board.LoadFactory(factoryImage)
//
//	board.Button.ClickAfter(100 * time.Millisecond)
//	out, core, err := board.PowerOn(ctx)
//	fmt.Println(out.Path, out.Label, core.Started())
package sim
