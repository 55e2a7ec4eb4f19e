package appmock

import (
	"log/slog"

	"github.com/giantswarm/appmock/internal/core"
)

// SetLogger replaces the package-level logger used by appmock.
// The provided logger should already have any desired attributes; appmock
// only adds per-instance ones such as the instance id.
//
// If l is nil, the logger resets to the default: slog.Default() with a
// "component" attribute, re-derived on the next use. Call SetLogger(nil)
// after slog.SetDefault() to pick up changes.
//
// SetLogger is safe to call concurrently with other appmock operations, but
// processes started before the call keep the logger they were created with.
// Call it in TestMain before m.Run.
func SetLogger(l *slog.Logger) {
	core.SetLogger(l)
}
