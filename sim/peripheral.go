package sim

import "sync"

// Peripheral is a named simulated peripheral that only tracks whether it has
// been released.
type Peripheral struct {
	mu       sync.Mutex
	name     string
	released bool
	deinits  int
}

// NewPeripheral returns an initialized peripheral.
func NewPeripheral(name string) *Peripheral {
	return &Peripheral{name: name}
}

// Name implements bootloader.Peripheral.
func (p *Peripheral) Name() string {
	return p.name
}

// Deinit implements bootloader.Peripheral. Releasing twice fails.
func (p *Peripheral) Deinit() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deinits++
	if p.released {
		return ErrReleased
	}
	p.released = true
	return nil
}

// Released reports whether the peripheral has been released.
func (p *Peripheral) Released() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

// Init re-initializes the peripheral after a power cycle.
func (p *Peripheral) Init() {
	p.mu.Lock()
	p.released = false
	p.mu.Unlock()
}
