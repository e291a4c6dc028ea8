package bootloader

import (
	"context"
	"fmt"

	"github.com/moffa90/go-factoryboot/image"
)

// Boot labels shown on the console at handoff.
const (
	LabelApplication = "Application"
	LabelFactory     = "Factory app"
)

// State is a state of the boot decision flow.
type State int

const (
	// StateCheckPrimary asks the validator about the primary slot
	StateCheckPrimary State = iota

	// StateAwaitButton waits for a button press with no bootable image
	StateAwaitButton

	// StateImmediateRollback copies the factory image and revalidates
	StateImmediateRollback

	// StateDirectBoot hands off to a validated image
	StateDirectBoot

	// StateHalted is the fail-stop state
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateCheckPrimary:
		return "CheckPrimary"
	case StateAwaitButton:
		return "AwaitButton"
	case StateImmediateRollback:
		return "ImmediateRollback"
	case StateDirectBoot:
		return "DirectBoot"
	case StateHalted:
		return "Halted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Outcome describes one power cycle of the boot flow.
type Outcome struct {
	// Path is the last state reached
	Path State

	// States lists every state entered, in order
	States []State

	// Response is the boot response handed off, if any
	Response *image.BootResponse

	// Label is the console label of the booted image
	Label string

	// Entry is the application entry address
	Entry uint32

	// RolledBack is true when the factory image was copied this cycle
	RolledBack bool
}

func (o *Outcome) enter(s State) {
	o.Path = s
	o.States = append(o.States, s)
}

// Bootloader runs the boot decision flow: boot the primary slot, or roll it
// back to the factory image on request.
//
// A Bootloader models a single thread of control. Run must not be called
// concurrently.
type Bootloader struct {
	flash     Flash
	validator Validator
	button    Button
	console   Console
	platform  Platform
	config    Config
}

// New creates a Bootloader over the given hardware.
// hw.Flash, hw.Validator and hw.Platform must be set.
//
// Example:
//
//	backend, _ := flash.NewBackend(flashmap.MustNew(flashmap.DefaultConfig()), internal, external)
//	bl := bootloader.New(bootloader.Hardware{
//	    Flash:     backend,
//	    Validator: image.NewValidator(backend),
//	    Button:    button,
//	    Console:   uart,
//	    Platform:  cpu,
//	}, bootloader.WithLogger(myLogger))
func New(hw Hardware, opts ...Option) *Bootloader {
	if hw.Flash == nil {
		panic("flash cannot be nil")
	}
	if hw.Validator == nil {
		panic("validator cannot be nil")
	}
	if hw.Platform == nil {
		panic("platform cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Bootloader{
		flash:     hw.Flash,
		validator: hw.Validator,
		button:    hw.Button,
		console:   hw.Console,
		platform:  hw.Platform,
		config:    cfg,
	}
}

// Run executes one power cycle of the boot flow:
//  1. Validate the primary slot
//  2. Valid image: sample the button once; pressed rolls back, released boots
//  3. No valid image: wait for a button press, then roll back
//  4. Rollback: copy the factory image, revalidate, boot it
//
// Run does not return on hardware once an image is started or the system
// halts. On a host it returns when the Platform's Park returns: the Outcome
// and a nil error after a handoff, or a *FatalError after a halt. If ctx is
// done while waiting for the button, Run returns ctx's error.
func (b *Bootloader) Run(ctx context.Context) (*Outcome, error) {
	out := &Outcome{}
	out.enter(StateCheckPrimary)

	rsp, err := b.validate(ctx)
	if err == nil {
		b.logInfo("Application validated successfully",
			"area", b.config.PrimaryArea.String(),
			"version", rsp.Header.Version.String(),
		)

		if b.buttonPressed() {
			b.logInfo("Detected user button event")
			b.logInfo("Rollback initiated at startup")
			return b.rollback(ctx, out)
		}
		return b.directBoot(ctx, out, rsp, LabelApplication)
	}

	b.logInfo("No valid image found in primary slot", "area", b.config.PrimaryArea.String(), "reason", err.Error())

	if err := b.awaitButton(ctx, out); err != nil {
		return out, err
	}
	return b.rollback(ctx, out)
}

// awaitButton arms the button interrupt and blocks until it fires.
// A nil Button is a line that never goes low.
func (b *Bootloader) awaitButton(ctx context.Context, out *Outcome) error {
	out.enter(StateAwaitButton)

	trigger := NewTrigger()
	if b.button != nil {
		if err := b.button.EnableFallingEdge(trigger.Fire); err != nil {
			return b.fail(ctx, out, StateAwaitButton, &ConfigError{Message: fmt.Sprintf("enable button interrupt: %v", err)})
		}
	}

	b.logInfo("Press and release user button to initiate rollback")

	err := trigger.Wait(ctx)
	if b.button != nil {
		b.button.DisableInterrupt()
	}
	if err != nil {
		return fmt.Errorf("wait for rollback request: %w", err)
	}
	trigger.Consume()

	b.logInfo("Detected user button event")
	b.logInfo("Initiating the rollback")
	return nil
}

// rollback replaces the primary slot with the factory image and boots it.
// Any failure halts: there is no further fallback.
func (b *Bootloader) rollback(ctx context.Context, out *Outcome) (*Outcome, error) {
	out.enter(StateImmediateRollback)
	out.RolledBack = true

	if err := b.TransferFactoryImage(ctx); err != nil {
		if IsFatal(err) {
			out.enter(StateHalted)
			return out, err
		}
		b.logError("factory app transfer failed", "error", err)
		return out, b.fail(ctx, out, StateImmediateRollback, fmt.Errorf("factory image transfer: %w", err))
	}

	rsp, err := b.validate(ctx)
	if err != nil {
		b.logError("factory app validation failed", "error", err)
		b.logError("Can't roll back")
		return out, b.fail(ctx, out, StateImmediateRollback, fmt.Errorf("validate factory image: %w", err))
	}
	b.logInfo("factory app validated successfully", "version", rsp.Header.Version.String())

	return b.directBoot(ctx, out, rsp, LabelFactory)
}

// validate checks the primary slot. A response without a header is treated
// as an invalid image.
func (b *Bootloader) validate(ctx context.Context) (*image.BootResponse, error) {
	rsp, err := b.validator.Validate(ctx)
	if err != nil {
		return nil, err
	}
	if rsp == nil || rsp.Header == nil {
		return nil, &image.ValidationError{
			Area:   b.config.PrimaryArea.String(),
			Reason: image.ReasonBadHeader,
			Detail: "validator returned no header",
		}
	}
	return rsp, nil
}

// directBoot hands off to a validated image.
func (b *Bootloader) directBoot(ctx context.Context, out *Outcome, rsp *image.BootResponse, label string) (*Outcome, error) {
	out.enter(StateDirectBoot)
	out.Response = rsp
	out.Label = label

	entry, err := b.Boot(ctx, rsp, label)
	out.Entry = entry
	if err != nil {
		out.enter(StateHalted)
		return out, err
	}
	return out, nil
}

// buttonPressed samples the button once. A missing button is not pressed.
func (b *Bootloader) buttonPressed() bool {
	if b.button == nil {
		return false
	}
	level := b.button.Level()
	b.logDebug("sampled user button", "level", level.String())
	return level == Low
}

// fail halts from inside Run and records the halt in out.
func (b *Bootloader) fail(ctx context.Context, out *Outcome, state State, err error) error {
	herr := b.halt(ctx, state, err)
	out.enter(StateHalted)
	return herr
}

// reportProgress calls the progress callback if configured.
func (b *Bootloader) reportProgress(progress Progress) {
	if b.config.ProgressCallback != nil {
		b.config.ProgressCallback(progress)
	}
}

// logDebug logs a debug message if a logger is configured.
func (b *Bootloader) logDebug(msg string, keysAndValues ...interface{}) {
	if b.config.Logger != nil {
		b.config.Logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if a logger is configured.
func (b *Bootloader) logInfo(msg string, keysAndValues ...interface{}) {
	if b.config.Logger != nil {
		b.config.Logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if a logger is configured.
func (b *Bootloader) logError(msg string, keysAndValues ...interface{}) {
	if b.config.Logger != nil {
		b.config.Logger.Error(msg, keysAndValues...)
	}
}
