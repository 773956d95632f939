package latentworker

import "github.com/giantswarm/latentworker/internal/core"

// config holds configuration for a Controller. This unexported type wraps
// core.ControllerConfig via embedding, keeping internal/core types out of
// the public API signature while avoiding field-by-field duplication.
type config struct {
	core.ControllerConfig
}

// toCoreConfig returns the embedded core.ControllerConfig.
func (c config) toCoreConfig() core.ControllerConfig {
	return c.ControllerConfig
}
