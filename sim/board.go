package sim

import (
	"context"
	"fmt"
	"io"

	"github.com/moffa90/go-factoryboot/bootloader"
	"github.com/moffa90/go-factoryboot/flash"
	"github.com/moffa90/go-factoryboot/flashmap"
	"github.com/moffa90/go-factoryboot/image"
)

// loader is implemented by the NOR models (flash.Memory, flash.File).
type loader interface {
	Load(off uint32, data []byte) error
}

// Board is a simulated board: internal and external flash, the user button,
// the diagnostic UART and the GPIO ports and flash interface the bootloader
// releases before handoff.
type Board struct {
	Map      *flashmap.Map
	Internal flash.Device
	External flash.Device
	Flash    *flash.Backend
	Console  *Console
	Button   *Button

	// Peripherals are released in this order: uart, gpio_rx, gpio_tx, qspi
	Peripherals []bootloader.Peripheral

	ports []*Peripheral
}

// NewBoard assembles a board over the given devices. Console output goes to
// out; out may be nil.
func NewBoard(m *flashmap.Map, internal, external flash.Device, out io.Writer) (*Board, error) {
	backend, err := flash.NewBackend(m, internal, external)
	if err != nil {
		return nil, err
	}

	console := NewConsole(out, DefaultBaud)
	ports := []*Peripheral{
		NewPeripheral("gpio_rx"),
		NewPeripheral("gpio_tx"),
		NewPeripheral("qspi"),
	}
	peripherals := []bootloader.Peripheral{console}
	for _, p := range ports {
		peripherals = append(peripherals, p)
	}

	return &Board{
		Map:         m,
		Internal:    internal,
		External:    external,
		Flash:       backend,
		Console:     console,
		Button:      NewButton(),
		Peripherals: peripherals,
		ports:       ports,
	}, nil
}

// NewMemoryBoard returns a board with erased in-memory flash laid out by cfg.
func NewMemoryBoard(cfg flashmap.Config, out io.Writer) (*Board, error) {
	m, err := flashmap.New(cfg)
	if err != nil {
		return nil, err
	}
	internal, err := flash.NewMemory(cfg.Internal)
	if err != nil {
		return nil, err
	}
	external, err := flash.NewMemory(cfg.External)
	if err != nil {
		return nil, err
	}
	return NewBoard(m, internal, external, out)
}

// LoadFactory writes a factory image at the start of the external device.
func (b *Board) LoadFactory(img []byte) error {
	fr, ok := b.Map.FactoryRegion()
	if !ok {
		return fmt.Errorf("sim: partition table has no factory region")
	}
	if uint64(len(img)) > uint64(fr.Size) {
		return fmt.Errorf("sim: factory image of %d bytes exceeds the %d byte region", len(img), fr.Size)
	}
	return b.load(b.External, bootloader.FactoryImageOffset, img)
}

// LoadArea writes data at the start of an area.
func (b *Board) LoadArea(id flashmap.AreaID, data []byte) error {
	a, ok := b.Map.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", flash.ErrUnknownArea, id)
	}
	if uint64(len(data)) > uint64(a.Size) {
		return fmt.Errorf("sim: %d bytes do not fit in %s", len(data), a)
	}
	dev := b.Internal
	if a.Device != dev.Geometry().ID {
		dev = b.External
	}
	return b.load(dev, a.Offset-dev.Geometry().Base, data)
}

// EraseArea erases a whole area.
func (b *Board) EraseArea(id flashmap.AreaID) error {
	h, err := b.Flash.Open(id)
	if err != nil {
		return err
	}
	defer func() { _ = h.Close() }()
	return h.Erase(0, h.Area().Size)
}

func (b *Board) load(dev flash.Device, off uint32, data []byte) error {
	l, ok := dev.(loader)
	if !ok {
		return fmt.Errorf("sim: %s cannot be provisioned", dev.Geometry().ID)
	}
	return l.Load(off, data)
}

// PowerOn runs one power cycle of the bootloader and returns its outcome and
// the core it ran on. The cycle ends when the bootloader parks, or when ctx
// is done. The board's peripherals are passed to the bootloader ahead of
// opts.
func (b *Board) PowerOn(ctx context.Context, opts ...bootloader.Option) (*bootloader.Outcome, *Core, error) {
	b.Console.Init()
	for _, p := range b.ports {
		p.Init()
	}

	pctx, powerOff := context.WithCancel(ctx)
	defer powerOff()

	core := NewCore(powerOff)
	bl := bootloader.New(bootloader.Hardware{
		Flash:     b.Flash,
		Validator: image.NewValidator(b.Flash),
		Button:    b.Button,
		Console:   b.Console,
		Platform:  core,
	}, append([]bootloader.Option{bootloader.WithPeripherals(b.Peripherals...)}, opts...)...)

	out, err := bl.Run(pctx)
	return out, core, err
}
