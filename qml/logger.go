package qml

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler discards every record. Enabled returns false so message
// formatting is skipped entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(slog.New(nopHandler{}))
}

// SetLogger configures the package-wide default logger. By default nothing
// is logged. Engines created with WithLogger use their own logger instead.
//
// Log levels used:
//   - [slog.LevelDebug]: creation and finalize progress
//   - [slog.LevelWarn]: expression evaluation errors, binding loops, and
//     other diagnostics reported while objects are live
//
// Pass nil to restore the silent default.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	loggerPtr.Store(l)
}

// Logger returns the package-wide default logger.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
