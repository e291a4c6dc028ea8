package flash

import (
	"sync"

	"github.com/moffa90/go-factoryboot/flashmap"
)

// Op is a flash primitive.
type Op int

const (
	OpRead Op = iota
	OpWrite
	OpErase
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpErase:
		return "erase"
	default:
		return "unknown"
	}
}

// Call is one recorded primitive invocation.
type Call struct {
	Op     Op
	Offset uint32
	Size   uint32
}

// Recorder wraps a Device and records every call made through it.
//
// Fault, when set, is consulted before each call; a non-nil result is
// returned instead of performing the operation. The failed call is still
// recorded.
type Recorder struct {
	Device

	// Fault injects failures; it may be nil
	Fault func(op Op, off, size uint32) error

	mu    sync.Mutex
	calls []Call
}

// NewRecorder returns a Recorder around d.
func NewRecorder(d Device) *Recorder {
	return &Recorder{Device: d}
}

func (r *Recorder) Geometry() flashmap.Device {
	return r.Device.Geometry()
}

func (r *Recorder) Read(off uint32, p []byte) error {
	if err := r.record(OpRead, off, uint32(len(p))); err != nil {
		return err
	}
	return r.Device.Read(off, p)
}

func (r *Recorder) Write(off uint32, p []byte) error {
	if err := r.record(OpWrite, off, uint32(len(p))); err != nil {
		return err
	}
	return r.Device.Write(off, p)
}

func (r *Recorder) Erase(off, size uint32) error {
	if err := r.record(OpErase, off, size); err != nil {
		return err
	}
	return r.Device.Erase(off, size)
}

// Calls returns the recorded calls in order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Count returns the number of recorded calls of op.
func (r *Recorder) Count(op Op) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Bytes returns the total size of recorded calls of op.
func (r *Recorder) Bytes(op Op) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n uint64
	for _, c := range r.calls {
		if c.Op == op {
			n += uint64(c.Size)
		}
	}
	return n
}

// Reset forgets the recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}

func (r *Recorder) record(op Op, off, size uint32) error {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Op: op, Offset: off, Size: size})
	fault := r.Fault
	r.mu.Unlock()

	if fault != nil {
		return fault(op, off, size)
	}
	return nil
}
