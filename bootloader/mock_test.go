package bootloader

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/moffa90/go-factoryboot/flash"
	"github.com/moffa90/go-factoryboot/flashmap"
	"github.com/moffa90/go-factoryboot/image"
)

// testBoard is the default board layout over in-memory flash, with every
// device call recorded.
type testBoard struct {
	m        *flashmap.Map
	internal *flash.Memory
	external *flash.Memory
	intRec   *flash.Recorder
	extRec   *flash.Recorder
	backend  *flash.Backend
	primary  flashmap.Area
}

func newTestBoard(t *testing.T) *testBoard {
	t.Helper()
	cfg := flashmap.DefaultConfig()
	m, err := flashmap.New(cfg)
	if err != nil {
		t.Fatalf("flashmap.New() error = %v", err)
	}
	internal, err := flash.NewMemory(cfg.Internal)
	if err != nil {
		t.Fatal(err)
	}
	external, err := flash.NewMemory(cfg.External)
	if err != nil {
		t.Fatal(err)
	}
	intRec := flash.NewRecorder(internal)
	extRec := flash.NewRecorder(external)
	backend, err := flash.NewBackend(m, intRec, extRec)
	if err != nil {
		t.Fatalf("flash.NewBackend() error = %v", err)
	}
	primary, _ := m.Lookup(flashmap.AreaPrimary(0))
	return &testBoard{
		m:        m,
		internal: internal,
		external: external,
		intRec:   intRec,
		extRec:   extRec,
		backend:  backend,
		primary:  primary,
	}
}

// primaryOffset is the primary slot's offset on the internal device.
func (tb *testBoard) primaryOffset() uint32 {
	return tb.primary.Offset - flashmap.DefaultInternalBase
}

func (tb *testBoard) loadPrimary(t *testing.T, img []byte) {
	t.Helper()
	if err := tb.internal.Load(tb.primaryOffset(), img); err != nil {
		t.Fatalf("load primary: %v", err)
	}
}

func (tb *testBoard) loadFactory(t *testing.T, img []byte) {
	t.Helper()
	if err := tb.external.Load(FactoryImageOffset, img); err != nil {
		t.Fatalf("load factory: %v", err)
	}
}

// resetCalls forgets provisioning traffic so tests only see the bootloader's calls.
func (tb *testBoard) resetCalls() {
	tb.intRec.Reset()
	tb.extRec.Reset()
}

func buildImage(t *testing.T, size int, seed byte, v image.Version) []byte {
	t.Helper()
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(i) ^ seed
	}
	img, err := image.Build(payload, image.BuildOptions{Version: v})
	if err != nil {
		t.Fatalf("image.Build() error = %v", err)
	}
	return img
}

// trackingFlash keeps the handles it opens so tests can check they were closed.
type trackingFlash struct {
	*flash.Backend
	mu      sync.Mutex
	handles []flash.Handle
}

func (f *trackingFlash) Open(id flashmap.AreaID) (flash.Handle, error) {
	h, err := f.Backend.Open(id)
	if err == nil {
		f.mu.Lock()
		f.handles = append(f.handles, h)
		f.mu.Unlock()
	}
	return h, err
}

func (f *trackingFlash) allClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, 1)
	for _, h := range f.handles {
		if err := h.Read(0, buf); !errors.Is(err, flash.ErrClosed) {
			return false
		}
	}
	return true
}

// MockValidator returns queued results, then repeats the last one.
type MockValidator struct {
	results []validatorResult
	calls   int
}

type validatorResult struct {
	rsp *image.BootResponse
	err error
}

func (v *MockValidator) Validate(ctx context.Context) (*image.BootResponse, error) {
	i := v.calls
	if i >= len(v.results) {
		i = len(v.results) - 1
	}
	v.calls++
	return v.results[i].rsp, v.results[i].err
}

// MockButton is a GPIO line. PressOnEnable fires the handler from another
// goroutine as soon as the interrupt is armed, Presses times.
type MockButton struct {
	level         Level
	enableErr     error
	pressOnEnable bool
	presses       int

	mu       sync.Mutex
	handler  func()
	enabled  int
	disabled int
}

func (b *MockButton) Level() Level {
	return b.level
}

func (b *MockButton) EnableFallingEdge(handler func()) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled++
	if b.enableErr != nil {
		return b.enableErr
	}
	b.handler = handler
	if b.pressOnEnable {
		n := b.presses
		if n == 0 {
			n = 1
		}
		go func() {
			for i := 0; i < n; i++ {
				handler()
			}
		}()
	}
	return nil
}

func (b *MockButton) DisableInterrupt() {
	b.mu.Lock()
	b.disabled++
	b.mu.Unlock()
}

// MockConsole optionally blocks in Flush until its context is done.
type MockConsole struct {
	block    bool
	flushes  int
	flushErr error
}

func (c *MockConsole) Flush(ctx context.Context) error {
	c.flushes++
	if c.block {
		<-ctx.Done()
		c.flushErr = ctx.Err()
		return c.flushErr
	}
	return nil
}

// MockPeripheral records its deinit into a shared order log.
type MockPeripheral struct {
	name  string
	err   error
	order *[]string
}

func (p *MockPeripheral) Name() string {
	return p.name
}

func (p *MockPeripheral) Deinit() error {
	*p.order = append(*p.order, p.name)
	return p.err
}

// MockPlatform stands for the CPU. StartApp removes power (cancels the run
// context) unless returnControl is set, so Park returns like a power-off.
type MockPlatform struct {
	powerOff      context.CancelFunc
	startErr      error
	returnControl bool

	started  []uint32
	parked   int
	disabled int
}

func (p *MockPlatform) StartApp(entry uint32) error {
	p.started = append(p.started, entry)
	if p.startErr != nil {
		return p.startErr
	}
	if !p.returnControl && p.powerOff != nil {
		p.powerOff()
	}
	return nil
}

func (p *MockPlatform) DisableInterrupts() {
	p.disabled++
}

func (p *MockPlatform) Park(ctx context.Context) {
	p.parked++
}

// powerOn returns a run context and a platform that ends it at handoff.
func powerOn(t *testing.T) (context.Context, *MockPlatform) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx, &MockPlatform{powerOff: cancel}
}

// MockLogger records messages for testing
type MockLogger struct {
	mu        sync.Mutex
	debugMsgs []string
	infoMsgs  []string
	errorMsgs []string
}

func (l *MockLogger) Debug(msg string, kv ...interface{}) {
	l.mu.Lock()
	l.debugMsgs = append(l.debugMsgs, msg)
	l.mu.Unlock()
}

func (l *MockLogger) Info(msg string, kv ...interface{}) {
	l.mu.Lock()
	l.infoMsgs = append(l.infoMsgs, msg)
	l.mu.Unlock()
}

func (l *MockLogger) Error(msg string, kv ...interface{}) {
	l.mu.Lock()
	l.errorMsgs = append(l.errorMsgs, msg)
	l.mu.Unlock()
}

func (l *MockLogger) hasInfo(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.infoMsgs {
		if m == msg {
			return true
		}
	}
	return false
}
