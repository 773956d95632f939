package latentworker

import "github.com/giantswarm/latentworker/internal/core"

// Driver provisions and tears down the compute backing a latent worker —
// a subprocess, a Kubernetes Pod, a cloud VM. See internal/driver/localprocess
// and internal/driver/k8spod for implementations.
type Driver = core.Driver

// Connection represents a worker's live connection back to the master, as
// reported by a Transport.
type Connection = core.Connection

// Transport owns the wire protocol a worker connects back over, and calls
// Controller.Attached/Detached as connections come and go. See
// internal/transport/ws for an implementation.
type Transport = core.Transport

// Dispatcher receives one-way notifications about a worker's availability;
// it never mutates Controller state directly. See internal/dispatcher for
// an implementation.
type Dispatcher = core.Dispatcher

// Build identifies the build that triggered a Substantiate call.
type Build = core.Build

// BuilderBinding identifies a builder configured to use this worker.
type BuilderBinding = core.BuilderBinding

// WorkerMissingEvent is passed to Dispatcher.WorkerMissing when a
// substantiation times out waiting for the worker to attach.
type WorkerMissingEvent = core.WorkerMissingEvent

// NotifyTarget configures a destination notified when a worker goes missing.
type NotifyTarget = core.NotifyTarget

// Controller is the per-worker latent-worker lifecycle state machine,
// constructed via New.
type Controller = core.Controller

// State is one of the five Controller lifecycle states.
type State = core.State

// The five Controller lifecycle states.
const (
	NotSubstantiated               = core.NotSubstantiated
	Substantiating                 = core.Substantiating
	Substantiated                  = core.Substantiated
	Insubstantiating               = core.Insubstantiating
	InsubstantiatingSubstantiating = core.InsubstantiatingSubstantiating
)
