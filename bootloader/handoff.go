package bootloader

import (
	"context"
	"errors"
	"fmt"

	"github.com/moffa90/go-factoryboot/image"
)

// Boot hands control to the image described by rsp and returns its entry
// address: the image offset plus the header size.
//
// Before the handoff it flushes the console for at most FlushTimeout and
// releases every configured peripheral in order. Peripheral and flush
// failures are logged and do not stop the boot.
//
// On hardware Boot does not return. On a host it returns after Platform.Park
// returns with ctx done, which stands for the power being removed. If Park
// returns while ctx is still live the application gave control back, and
// Boot halts with ErrControlReturned.
func (b *Bootloader) Boot(ctx context.Context, rsp *image.BootResponse, label string) (uint32, error) {
	if rsp == nil || rsp.Header == nil {
		return 0, b.halt(ctx, StateDirectBoot, errors.New("no boot response"))
	}
	if label == "" {
		return 0, b.halt(ctx, StateDirectBoot, errors.New("empty boot label"))
	}

	entry := rsp.EntryAddress()
	b.logInfo(fmt.Sprintf("Starting %s. Please wait...", label),
		"entry", fmt.Sprintf("0x%08X", entry),
		"device", rsp.Device.String(),
	)

	b.flushConsole(ctx)
	b.deinitPeripherals()

	if err := b.platform.StartApp(entry); err != nil {
		return entry, b.halt(ctx, StateDirectBoot, fmt.Errorf("start application at 0x%08X: %w", entry, err))
	}

	b.platform.Park(ctx)
	if ctx.Err() == nil {
		return entry, b.halt(ctx, StateDirectBoot, ErrControlReturned)
	}
	return entry, nil
}

// flushConsole waits a bounded time for pending diagnostic output.
func (b *Bootloader) flushConsole(ctx context.Context) {
	if b.console == nil {
		return
	}

	fctx, cancel := context.WithTimeout(ctx, b.config.FlushTimeout)
	defer cancel()

	if err := b.console.Flush(fctx); err != nil {
		b.logDebug("console flush incomplete", "timeout", b.config.FlushTimeout.String(), "error", err)
	}
}

// deinitPeripherals releases the peripherals in registration order.
func (b *Bootloader) deinitPeripherals() {
	for _, p := range b.config.Peripherals {
		if err := p.Deinit(); err != nil {
			b.logError("failed to release peripheral", "peripheral", p.Name(), "error", err)
			continue
		}
		b.logDebug("released peripheral", "peripheral", p.Name())
	}
}

// halt is the fail-stop path: log, mask interrupts, park. It returns the
// *FatalError a host sees once Park returns.
func (b *Bootloader) halt(ctx context.Context, state State, err error) error {
	b.logError("Fatal error, halting", "state", state.String(), "error", err)
	b.platform.DisableInterrupts()
	b.platform.Park(ctx)
	return &FatalError{State: state, Err: err}
}
