package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/moffa90/go-factoryboot/flash"
	"github.com/moffa90/go-factoryboot/flashmap"
	"github.com/moffa90/go-factoryboot/sim"
)

// Flash image files kept in the state directory.
const (
	internalImage = "internal.bin"
	externalImage = "external.bin"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	stateDir          string
	images            int
	scratch           bool
	secondaryInternal bool
	verbose           bool
	logFormat         string
}

// layout returns the partition configuration selected by the flags.
func (o *globalOptions) layout() flashmap.Config {
	cfg := flashmap.DefaultConfig()
	cfg.ImageCount = o.images
	if o.scratch {
		cfg.Swap = flashmap.SwapScratch
	}
	cfg.SecondaryExternal = !o.secondaryInternal
	return cfg
}

// stateBoard is a simulated board whose flash lives in the state directory.
type stateBoard struct {
	*sim.Board
	internal *flash.File
	external *flash.File
}

// openBoard opens (or creates erased) flash images under the state directory
// and assembles a board over them. Console output goes to out.
func openBoard(o *globalOptions, out io.Writer) (*stateBoard, error) {
	cfg := o.layout()
	m, err := flashmap.New(cfg)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(o.stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	internal, err := flash.OpenFile(filepath.Join(o.stateDir, internalImage), cfg.Internal)
	if err != nil {
		return nil, err
	}
	external, err := flash.OpenFile(filepath.Join(o.stateDir, externalImage), cfg.External)
	if err != nil {
		_ = internal.Close()
		return nil, err
	}

	b, err := sim.NewBoard(m, internal, external, out)
	if err != nil {
		_ = internal.Close()
		_ = external.Close()
		return nil, err
	}
	return &stateBoard{Board: b, internal: internal, external: external}, nil
}

// Close closes both flash image files.
func (b *stateBoard) Close() error {
	return errors.Join(b.internal.Close(), b.external.Close())
}
