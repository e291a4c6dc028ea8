package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/moffa90/go-factoryboot/bootloader"
	"github.com/moffa90/go-factoryboot/sim"
)

// logrusLogger adapts a logrus entry to bootloader.Logger. Key/value pairs
// become logrus fields.
type logrusLogger struct {
	entry *logrus.Entry
}

var _ bootloader.Logger = logrusLogger{}

func (l logrusLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Debug(msg)
}

func (l logrusLogger) Info(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Info(msg)
}

func (l logrusLogger) Error(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Error(msg)
}

func (l logrusLogger) with(kv []interface{}) *logrus.Entry {
	if len(kv) == 0 {
		return l.entry
	}
	fields := make(logrus.Fields, (len(kv)+1)/2)
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		if i+1 == len(kv) {
			fields[key] = "(MISSING)"
			break
		}
		fields[key] = kv[i+1]
	}
	return l.entry.WithFields(fields)
}

// newLogger builds the CLI logger. format is "text" or "json".
func newLogger(out io.Writer, format string, verbose bool) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(out)

	switch format {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format %q (want text or json)", format)
	}

	log.SetLevel(logrus.InfoLevel)
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return log, nil
}

// consoleWriter sends log output through the board UART. Once the UART has
// been released for the handoff, output goes to fallback.
type consoleWriter struct {
	console  *sim.Console
	fallback io.Writer
}

func (w consoleWriter) Write(p []byte) (int, error) {
	n, err := w.console.Write(p)
	if errors.Is(err, sim.ErrReleased) {
		return w.fallback.Write(p)
	}
	return n, err
}
