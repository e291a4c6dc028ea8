package bootloader

import "time"

// Transfer phases reported through Progress.Phase.
const (
	PhaseChecking = "checking"
	PhaseErasing  = "erasing"
	PhaseCopying  = "copying"
	PhaseComplete = "complete"
)

// Progress contains information about a factory image transfer.
// Passed to ProgressCallback while the primary slot is rewritten.
type Progress struct {
	// Phase describes the current operation phase:
	//   "checking" - Reading the factory image magic
	//   "erasing"  - Erasing the primary slot
	//   "copying"  - Copying chunks from the factory region
	//   "complete" - Transfer completed successfully
	Phase string

	// CurrentChunk is the number of chunks copied so far
	CurrentChunk int

	// TotalChunks is the total number of chunks to copy
	TotalChunks int

	// Percentage is the completion percentage (0.0 to 100.0)
	Percentage float64

	// BytesCopied is the total number of bytes written to the primary slot so far
	BytesCopied int

	// ElapsedTime is the time elapsed since the transfer started
	ElapsedTime time.Duration
}

// ProgressCallback is called during a factory image transfer to report progress.
// It runs on the transfer path and should return quickly.
//
// Example:
//
//	bl := bootloader.New(hw,
//	    bootloader.WithProgressCallback(func(p bootloader.Progress) {
//	        fmt.Printf("[%s] %.1f%% - Chunk %d/%d\n",
//	            p.Phase, p.Percentage, p.CurrentChunk, p.TotalChunks)
//	    }),
//	)
type ProgressCallback func(Progress)

// Logger is an optional logging interface that can be provided to the bootloader.
// This allows integration with any logging framework.
//
// Example with standard log package:
//
//	type StdLogger struct{}
//	func (l *StdLogger) Debug(msg string, kv ...interface{}) { log.Println(msg, kv) }
//	func (l *StdLogger) Info(msg string, kv ...interface{})  { log.Println(msg, kv) }
//	func (l *StdLogger) Error(msg string, kv ...interface{}) { log.Println(msg, kv) }
//
//	bl := bootloader.New(hw, bootloader.WithLogger(&StdLogger{}))
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, keysAndValues ...interface{})

	// Info logs an info message with optional key-value pairs
	Info(msg string, keysAndValues ...interface{})

	// Error logs an error message with optional key-value pairs
	Error(msg string, keysAndValues ...interface{})
}
