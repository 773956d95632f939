package latentworker

import "github.com/giantswarm/latentworker/internal/core"

// Sentinel errors for error inspection with errors.Is.
//
// These use the sentinel.Error const pattern instead of errors.New vars.
// sentinel.Error is a string type implementing error, allowing errors to be
// declared as const. This prevents accidental reassignment and enables
// compile-time immutability, while remaining compatible with errors.Is
// through Go's default == comparison on comparable types.
const (
	// ErrShuttingDown is returned by Substantiate when StopService has
	// already been called.
	ErrShuttingDown = core.ErrShuttingDown

	// ErrNotSubstantiated is returned by operations that require a
	// substantiated worker while none is present.
	ErrNotSubstantiated = core.ErrNotSubstantiated

	// ErrSubstantiationCancelled wraps the error delivered to an in-flight
	// Substantiate call preempted by a concurrent Insubstantiate.
	ErrSubstantiationCancelled = core.ErrSubstantiationCancelled

	// ErrUnsolicitedConnection is returned by Controller.Attached when a
	// Connection's claimed worker name does not match, or no substantiation
	// is outstanding for it.
	ErrUnsolicitedConnection = core.ErrUnsolicitedConnection
)

// FailureKind distinguishes the ways a substantiation attempt can fail.
type FailureKind = core.FailureKind

// The two FailureKind values.
const (
	FailedToSubstantiate = core.FailedToSubstantiate
	StopInstanceFailure  = core.StopInstanceFailure
)

// SubstantiationError reports why a substantiation attempt failed, wrapping
// the underlying Driver error when there is one. Callers can errors.Is
// against Kind and errors.Unwrap to reach Cause.
type SubstantiationError = core.SubstantiationError
