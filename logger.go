package hellogpu

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/wgpu/hal"
)

// nopHandler is a slog.Handler that silently discards all log records.
// The Enabled method returns false so the caller skips message formatting
// entirely, making disabled logging effectively zero-cost.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for hellogpu, its internal packages and
// the wgpu HAL backends. By default, hellogpu produces no log output.
//
// The logger is handed to a Sample when it is created, so call SetLogger
// before New. Pass nil to restore the silent default.
//
// Log levels used by hellogpu:
//   - [slog.LevelDebug]: fence waits, upload batch sizes, surface reconfiguration
//   - [slog.LevelInfo]: adapter selected, swap chain created, run finished
//   - [slog.LevelWarn]: cleanup problems
//
// Example:
//
//	hellogpu.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	// Backend diagnostics (validation messages, device loss) go to the
	// same place.
	hal.SetLogger(l)
}

// Logger returns the current logger used by hellogpu.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
