package latentworker

import (
	"fmt"
	"time"
)

// requirePositive panics if d <= 0 with a descriptive message. It
// intentionally rejects zero; do not use for values where zero or negative
// has special meaning (e.g. BuildWaitTimeout).
func requirePositive(name string, d time.Duration) {
	if d <= 0 {
		panic(fmt.Sprintf("latentworker: %s must be greater than 0, got %v", name, d))
	}
}

// requireNonEmpty panics if s is empty with a descriptive message.
func requireNonEmpty(name, s string) {
	if s == "" {
		panic(fmt.Sprintf("latentworker: %s must not be empty", name))
	}
}

// Option configures a Controller during construction via New.
// Each With* function returns an Option that sets a specific field.
//
// Several With* functions panic on invalid input (empty strings,
// non-positive durations where positivity is required). These panics are
// intentional: option values are typically compile-time constants or
// package-level variables, so an invalid value indicates a programmer error
// rather than a runtime condition. The pattern mirrors [regexp.MustCompile]
// — fail fast during initialization instead of returning errors that would
// be universally fatal anyway.
type Option func(*config)

// WithPassword sets the password a worker authenticates with. If unset, New
// generates a random one.
// Panics if password is empty.
func WithPassword(password string) Option {
	requireNonEmpty("password", password)
	return func(c *config) {
		c.Password = password
	}
}

// WithBuildWaitTimeout sets how long a substantiated-but-idle worker is kept
// around before being insubstantiated automatically.
//   - d < 0: never insubstantiate automatically (idle forever).
//   - d == 0: insubstantiate immediately once idle.
//   - d > 0: wait this long after the last build finishes.
//
// Default: DefaultBuildWaitTimeout (0).
func WithBuildWaitTimeout(d time.Duration) Option {
	return func(c *config) {
		c.BuildWaitTimeout = d
	}
}

// WithMissingTimeout sets how long Substantiate waits for the worker to
// attach before reporting it missing to the Dispatcher.
//
// Default: DefaultMissingTimeout (1200 seconds).
//
// Panics if d <= 0.
func WithMissingTimeout(d time.Duration) Option {
	requirePositive("missing timeout", d)
	return func(c *config) {
		c.MissingTimeout = d
	}
}

// WithStopInstanceFastOnServiceStop controls whether StopService passes
// fast=true to the final StopInstance call.
//
// Default: DefaultStopInstanceFastOnServiceStop (true).
func WithStopInstanceFastOnServiceStop(fast bool) Option {
	return func(c *config) {
		c.StopInstanceFastOnServiceStop = fast
	}
}

// WithNotifyOnMissing sets the notification destinations invoked when a
// substantiation is reported missing.
func WithNotifyOnMissing(targets ...NotifyTarget) Option {
	return func(c *config) {
		c.NotifyOnMissing = targets
	}
}
