package latentworker

import "time"

// Default configuration values for New.
// These constants are exported so callers can reference the defaults
// when building custom configurations relative to them (e.g.,
// 2*DefaultMissingTimeout).
const (
	// DefaultMissingTimeout bounds how long Substantiate waits for a
	// worker to attach before it is reported missing to the Dispatcher.
	DefaultMissingTimeout = 1200 * time.Second

	// DefaultBuildWaitTimeout is how long a substantiated-but-idle worker
	// is kept around before being insubstantiated automatically. Zero
	// means insubstantiate as soon as the last build finishes.
	DefaultBuildWaitTimeout = 0 * time.Second

	// DefaultStopInstanceFastOnServiceStop controls whether StopService
	// passes fast=true to the final StopInstance call.
	DefaultStopInstanceFastOnServiceStop = true
)
