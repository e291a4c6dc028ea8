package bootloader

import (
	"time"

	"github.com/moffa90/go-factoryboot/flashmap"
)

// Defaults matching the PSoC 6 board.
const (
	// DefaultChunkSize is the internal flash row size
	DefaultChunkSize = 512

	// DefaultFlushTimeout bounds the console flush before handoff
	DefaultFlushTimeout = 100 * time.Millisecond

	// MaxChunkSize is the largest accepted copy chunk
	MaxChunkSize = 64 * 1024
)

// Config holds the bootloader configuration.
type Config struct {
	// ProgressCallback is called during a factory image transfer (optional)
	ProgressCallback ProgressCallback

	// Logger is used for diagnostic output (optional)
	Logger Logger

	// ChunkSize is the copy unit of the transfer; it must divide the primary slot size
	ChunkSize uint32

	// FlushTimeout bounds the wait for pending console output before handoff
	FlushTimeout time.Duration

	// FactoryDevice is the device holding the factory image at offset 0
	FactoryDevice flashmap.DeviceID

	// PrimaryArea is the slot the application boots from and rollback rewrites
	PrimaryArea flashmap.AreaID

	// Peripherals are released in order before handoff
	Peripherals []Peripheral
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		ChunkSize:     DefaultChunkSize,
		FlushTimeout:  DefaultFlushTimeout,
		FactoryDevice: flashmap.DeviceExternal(0),
		PrimaryArea:   flashmap.AreaPrimary(0),
	}
}

// Option is a functional option for configuring the Bootloader.
type Option func(*Config)

// WithProgressCallback sets a callback function to track factory image transfers.
//
// Example:
//
//	bl := bootloader.New(hw,
//	    bootloader.WithProgressCallback(func(p bootloader.Progress) {
//	        fmt.Printf("%.1f%% copied\n", p.Percentage)
//	    }),
//	)
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithLogger sets a logger for the bootloader diagnostics.
//
// Example:
//
//	bl := bootloader.New(hw, bootloader.WithLogger(myLogger))
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithChunkSize sets the transfer copy unit.
// Default is 512 bytes (one internal flash row). Values outside
// 1..MaxChunkSize are ignored.
//
// Example:
//
//	bl := bootloader.New(hw, bootloader.WithChunkSize(4096))
func WithChunkSize(size int) Option {
	return func(c *Config) {
		if size > 0 && size <= MaxChunkSize {
			c.ChunkSize = uint32(size)
		}
	}
}

// WithFlushTimeout sets how long the handoff waits for console output to drain.
// Default is 100ms.
//
// Example:
//
//	bl := bootloader.New(hw, bootloader.WithFlushTimeout(250*time.Millisecond))
func WithFlushTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout >= 0 {
			c.FlushTimeout = timeout
		}
	}
}

// WithFactoryDevice sets the device holding the factory image.
// Default is the first external device.
func WithFactoryDevice(id flashmap.DeviceID) Option {
	return func(c *Config) {
		c.FactoryDevice = id
	}
}

// WithPrimaryArea sets the slot the bootloader boots from and rolls back into.
// Default is the primary slot of image 0.
func WithPrimaryArea(id flashmap.AreaID) Option {
	return func(c *Config) {
		c.PrimaryArea = id
	}
}

// WithPeripherals appends peripherals to release before handoff. They are
// deinitialized in the order given.
//
// Example:
//
//	bl := bootloader.New(hw, bootloader.WithPeripherals(uart, rxPort, txPort, qspi))
func WithPeripherals(p ...Peripheral) Option {
	return func(c *Config) {
		c.Peripherals = append(c.Peripherals, p...)
	}
}
