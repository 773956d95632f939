package core

import (
	"fmt"

	"github.com/giantswarm/latentworker/internal/sentinel"
)

// Sentinel errors for error inspection with errors.Is. These use the
// sentinel.Error const pattern (see internal/sentinel) instead of errors.New
// vars, so they can be declared as consts and remain comparable through
// wrapped chains.
const (
	// ErrShuttingDown is returned when an operation is requested after
	// StopService has already been called.
	ErrShuttingDown = sentinel.Error("controller is shutting down")

	// ErrNotSubstantiated is returned by Insubstantiate-adjacent calls made
	// while the controller has never substantiated and nothing is pending.
	ErrNotSubstantiated = sentinel.Error("worker is not substantiated")

	// ErrSubstantiationCancelled is the result value delivered to every
	// waiter on the substantiation Notifier when Insubstantiate preempts an
	// in-flight Substantiate.
	ErrSubstantiationCancelled = sentinel.Error("substantiation was cancelled")

	// ErrUnsolicitedConnection is returned by Attached when a connection
	// arrives for a worker that is not currently substantiating or
	// substantiated.
	ErrUnsolicitedConnection = sentinel.Error("unsolicited connection")
)

// FailureKind distinguishes the error categories described in the
// controller's error handling design.
type FailureKind int

const (
	// FailureUnknown is the zero value; never returned by the controller.
	FailureUnknown FailureKind = iota
	// FailedToSubstantiate indicates StartInstance returned false or an error.
	FailedToSubstantiate
	// StopInstanceFailure indicates StopInstance returned an error. This kind
	// is logged only; it is never propagated to a Substantiate caller.
	StopInstanceFailure
)

func (k FailureKind) String() string {
	switch k {
	case FailedToSubstantiate:
		return "failed_to_substantiate"
	case StopInstanceFailure:
		return "stop_instance_failure"
	default:
		return "unknown"
	}
}

// SubstantiationError wraps a driver-reported failure with the kind of
// failure it represents, so callers can branch on Kind while still
// unwrapping to the underlying cause with errors.Unwrap/errors.Is.
type SubstantiationError struct {
	Kind  FailureKind
	Cause error
}

func (e *SubstantiationError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s", e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
}

func (e *SubstantiationError) Unwrap() error {
	return e.Cause
}
