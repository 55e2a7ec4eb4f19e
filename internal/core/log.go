package core

import (
	"log/slog"
	"sync/atomic"
)

// logger is set by SetLogger. Nil selects slog.Default().
var logger atomic.Pointer[slog.Logger]

// Logger returns the logger installed with SetLogger, or slog.Default()
// tagged with component=appmock. The default is looked up on every call so
// slog.SetDefault takes effect at once. Instances keep the logger they were
// created with.
func Logger() *slog.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	return slog.Default().With("component", "appmock")
}

// SetLogger replaces the package logger. A nil l restores the default.
func SetLogger(l *slog.Logger) {
	logger.Store(l)
}
