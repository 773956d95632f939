package core

import (
	"errors"
	"fmt"
	"time"
)

// ControllerConfig holds configuration for a Controller. All fields are
// immutable after construction via NewController.
type ControllerConfig struct {
	// Name identifies the worker to the master and to the driver/transport.
	Name string

	// Password authenticates the worker's connection. If empty,
	// NewController generates one via GeneratePassword.
	Password string

	// BuildWaitTimeout controls how long a substantiated-but-idle worker is
	// kept around before Insubstantiate is triggered automatically.
	//   < 0: never insubstantiate automatically (idle forever).
	//   == 0: insubstantiate immediately once idle.
	//   > 0: wait this long after the last build finishes.
	BuildWaitTimeout time.Duration

	// MissingTimeout bounds how long Substantiate waits for StartInstance to
	// report the worker attached before reporting it missing to the
	// Dispatcher. Default: 1200 seconds (20 minutes), matching the
	// "typically minutes" framing of comparable latent-worker backends.
	MissingTimeout time.Duration

	// StopInstanceFastOnServiceStop controls whether StopService passes
	// fast=true to the final StopInstance call. Zero value is false; the
	// public Config/Option layer defaults it to true.
	StopInstanceFastOnServiceStop bool

	// NotifyOnMissing lists notification destinations invoked when a
	// substantiation is reported missing.
	NotifyOnMissing []NotifyTarget
}

// NotifyTarget is a configured destination for WorkerMissing notifications.
type NotifyTarget struct {
	// Kind names the notification backend (e.g. "slack", "log").
	Kind string
	// Destination is backend-specific (e.g. a Slack channel ID).
	Destination string
}

// Validate checks all ControllerConfig invariants and returns an error
// describing every violation found, using errors.Join to report multiple
// issues in a single pass.
func (c ControllerConfig) Validate() error {
	var errs []error

	if c.Name == "" {
		errs = append(errs, errors.New("worker name must not be empty"))
	}
	if c.MissingTimeout <= 0 {
		errs = append(errs, fmt.Errorf("missing timeout must be greater than 0, got %s", c.MissingTimeout))
	}

	return errors.Join(errs...)
}
