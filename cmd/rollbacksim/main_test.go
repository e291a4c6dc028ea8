package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/moffa90/go-factoryboot/bootloader"
	"github.com/moffa90/go-factoryboot/flashmap"
	"github.com/moffa90/go-factoryboot/imagefile"
	"github.com/moffa90/go-factoryboot/sim"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	if testing.Verbose() {
		t.Logf("rollbacksim %s\n%s%s", strings.Join(args, " "), errOut.String(), out.String())
	}
	return out.String(), err
}

// field returns the value printed after label in the boot outcome.
func field(out, label string) string {
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, label) {
			return strings.TrimSpace(strings.TrimPrefix(line, label))
		}
	}
	return ""
}

func TestLogrusLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := newLogger(&buf, "json", false)
	if err != nil {
		t.Fatal(err)
	}
	l := logrusLogger{entry: logrus.NewEntry(log)}

	l.Debug("hidden")
	l.Info("Valid image magic found", "offset", 0, "device", "external(0)", "dangling")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1: %q", len(lines), buf.String())
	}

	var rec map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("invalid JSON log line: %v", err)
	}
	want := map[string]interface{}{
		"msg":      "Valid image magic found",
		"level":    "info",
		"offset":   float64(0),
		"device":   "external(0)",
		"dangling": "(MISSING)",
	}
	for k, v := range want {
		if rec[k] != v {
			t.Errorf("%s = %v, want %v", k, rec[k], v)
		}
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		format  string
		verbose bool
		level   logrus.Level
		wantErr bool
	}{
		{format: "text", level: logrus.InfoLevel},
		{format: "", verbose: true, level: logrus.DebugLevel},
		{format: "json", level: logrus.InfoLevel},
		{format: "yaml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			log, err := newLogger(&bytes.Buffer{}, tt.format, tt.verbose)
			if (err != nil) != tt.wantErr {
				t.Fatalf("newLogger() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && log.GetLevel() != tt.level {
				t.Errorf("level = %v, want %v", log.GetLevel(), tt.level)
			}
		})
	}
}

func TestConsoleWriterFallback(t *testing.T) {
	var uart, stderr bytes.Buffer
	c := sim.NewConsole(&uart, 0)
	w := consoleWriter{console: c, fallback: &stderr}

	if _, err := w.Write([]byte("before\n")); err != nil {
		t.Fatal(err)
	}
	if err := c.Deinit(); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("after\n")); err != nil {
		t.Fatalf("Write() after release = %v", err)
	}

	if uart.String() != "before\n" || stderr.String() != "after\n" {
		t.Errorf("uart = %q, stderr = %q", uart.String(), stderr.String())
	}
}

func TestTrimErased(t *testing.T) {
	tests := []struct {
		in   []byte
		want int
	}{
		{[]byte{1, 2, 0xFF, 0xFF}, 2},
		{[]byte{0xFF, 1}, 2},
		{[]byte{0xFF, 0xFF}, 0},
		{nil, 0},
	}
	for _, tt := range tests {
		if got := trimErased(tt.in, 0xFF); len(got) != tt.want {
			t.Errorf("trimErased(%x) has %d bytes, want %d", tt.in, len(got), tt.want)
		}
	}
}

func TestGlobalOptionsLayout(t *testing.T) {
	o := &globalOptions{images: 2, scratch: true, secondaryInternal: true}
	cfg := o.layout()
	if cfg.ImageCount != 2 || cfg.Swap != flashmap.SwapScratch || cfg.SecondaryExternal {
		t.Errorf("layout() = %+v", cfg)
	}
}

func TestMapCommand(t *testing.T) {
	out, err := runCLI(t, "map")
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	for _, want := range []string{"bootloader", "primary_1", "secondary_1", "factory", "0x10018000", "qspi"} {
		if !strings.Contains(out, want) {
			t.Errorf("map output lacks %q:\n%s", want, out)
		}
	}
}

func TestMkimageRejectsBadVersion(t *testing.T) {
	dir := t.TempDir()
	payload := filepath.Join(dir, "app.bin")
	if err := os.WriteFile(payload, []byte{1, 2, 3, 4}, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := runCLI(t, "mkimage", payload, filepath.Join(dir, "out.bin"), "--version", "x"); err == nil {
		t.Error("mkimage accepted version \"x\"")
	}
}

func TestProvisionAndBoot(t *testing.T) {
	dir := t.TempDir()
	state := filepath.Join(dir, "state")
	factoryPath := filepath.Join(dir, "factory.bin.xz")
	appPath := filepath.Join(dir, "app.hex")

	for name, content := range map[string][]byte{
		"factory_payload.bin": bytes.Repeat([]byte{0x11, 0x22, 0x33}, 3000),
		"app_payload.bin":     bytes.Repeat([]byte{0x44, 0x55}, 5000),
	} {
		if err := os.WriteFile(filepath.Join(dir, name), content, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	steps := [][]string{
		{"mkimage", filepath.Join(dir, "factory_payload.bin"), factoryPath, "--version", "1.0.0"},
		{"mkimage", filepath.Join(dir, "app_payload.bin"), appPath, "--version", "2.0.0"},
		{"provision", "--state", state, "--factory", factoryPath},
	}
	for _, args := range steps {
		if _, err := runCLI(t, args...); err != nil {
			t.Fatalf("%s: %v", args[0], err)
		}
	}

	// Blank primary slot: a click rolls back to the factory image.
	out, err := runCLI(t, "boot", "--state", state, "--press-after", "50ms", "--timeout", "10s")
	if err != nil {
		t.Fatalf("boot 1: %v", err)
	}
	if field(out, "rolled back:") != "true" || field(out, "booted:") != bootloader.LabelFactory {
		t.Fatalf("boot 1 outcome:\n%s", out)
	}
	if field(out, "version:") != "1.0.0+0" || field(out, "entry:") != "0x10018400" {
		t.Errorf("boot 1 outcome:\n%s", out)
	}

	// The copy persists in the state directory.
	out, err = runCLI(t, "boot", "--state", state, "--timeout", "10s")
	if err != nil {
		t.Fatalf("boot 2: %v", err)
	}
	if field(out, "rolled back:") != "false" || field(out, "booted:") != bootloader.LabelApplication {
		t.Fatalf("boot 2 outcome:\n%s", out)
	}

	dumpPath := filepath.Join(dir, "primary.bin")
	if _, err := runCLI(t, "dump", "--state", state, "primary_1", dumpPath); err != nil {
		t.Fatalf("dump: %v", err)
	}
	factory, err := imagefile.Parse(factoryPath)
	if err != nil {
		t.Fatal(err)
	}
	dump, err := os.ReadFile(dumpPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(dump) != flashmap.DefaultSlotSize || !bytes.HasPrefix(dump, factory.Data) {
		t.Errorf("primary slot dump of %d bytes does not start with the factory image", len(dump))
	}

	// A new application from a HEX file boots directly.
	if _, err := runCLI(t, "provision", "--state", state, "--factory", factoryPath, "--primary", appPath); err != nil {
		t.Fatalf("provision app: %v", err)
	}
	out, err = runCLI(t, "boot", "--state", state, "--timeout", "10s")
	if err != nil {
		t.Fatalf("boot 3: %v", err)
	}
	if field(out, "booted:") != bootloader.LabelApplication || field(out, "version:") != "2.0.0+0" {
		t.Fatalf("boot 3 outcome:\n%s", out)
	}

	// Holding the button at power-on restores the factory image, copied in
	// 1 KB chunks.
	out, err = runCLI(t, "boot", "--state", state, "--hold-button", "--chunk-size", "1024", "--timeout", "10s")
	if err != nil {
		t.Fatalf("boot 4: %v", err)
	}
	if field(out, "rolled back:") != "true" || field(out, "version:") != "1.0.0+0" {
		t.Errorf("boot 4 outcome:\n%s", out)
	}
}

func TestBootHaltsWithoutFactoryImage(t *testing.T) {
	state := filepath.Join(t.TempDir(), "state")

	out, err := runCLI(t, "boot", "--state", state, "--press-after", "50ms", "--timeout", "10s")
	if !bootloader.IsFatal(err) {
		t.Fatalf("boot error = %v, want fatal", err)
	}
	var mm *bootloader.MagicMismatchError
	if !errors.As(err, &mm) {
		t.Errorf("boot error = %v, want a magic mismatch", err)
	}
	if field(out, "path:") != bootloader.StateHalted.String() || field(out, "halted:") != "true" {
		t.Errorf("outcome:\n%s", out)
	}
}

func TestDumpUnknownArea(t *testing.T) {
	state := filepath.Join(t.TempDir(), "state")
	if _, err := runCLI(t, "dump", "--state", state, "primary_9", filepath.Join(state, "x.bin")); err == nil {
		t.Error("dump accepted an unknown area")
	}
}
