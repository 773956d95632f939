package latentworker

import "github.com/giantswarm/latentworker/internal/core"

// New constructs a Controller for one worker identified by name, wired to
// driver, transport, and dispatcher. The Controller starts NotSubstantiated.
//
// transport and the returned Controller typically refer to each other (the
// transport calls Attached/Detached on it); see the package doc's "Wiring a
// Transport" section for the two-step construction this implies.
func New(name string, driver Driver, transport Transport, dispatcher Dispatcher, opts ...Option) (*Controller, error) {
	cfg := config{ControllerConfig: core.ControllerConfig{
		Name:                          name,
		MissingTimeout:                DefaultMissingTimeout,
		BuildWaitTimeout:              DefaultBuildWaitTimeout,
		StopInstanceFastOnServiceStop: DefaultStopInstanceFastOnServiceStop,
	}}
	for _, opt := range opts {
		opt(&cfg)
	}

	return core.NewController(cfg.toCoreConfig(), driver, transport, dispatcher, nil)
}
