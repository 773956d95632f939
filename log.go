package latentworker

import (
	"log/slog"

	"github.com/giantswarm/latentworker/internal/core"
)

// SetLogger replaces the package-level logger used by latentworker.
// This allows applications to integrate latentworker logging with their own
// logging infrastructure. The provided logger should already have any
// desired attributes; latentworker will not add additional attributes.
//
// If l is nil, the logger resets to the default: slog.Default() with a
// "component" attribute, re-derived on the next use. Call SetLogger(nil)
// after slog.SetDefault() to pick up changes.
//
// SetLogger is safe to call concurrently with other latentworker operations.
//
// Example:
//
//	latentworker.SetLogger(myLogger.With("component", "latentworker"))
func SetLogger(l *slog.Logger) {
	core.SetLogger(l)
}
