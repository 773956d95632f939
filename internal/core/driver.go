package core

import (
	"context"

	"github.com/google/uuid"
)

// Build identifies the build request that triggered substantiation. Drivers
// may inspect it to size or label the provisioned instance; the controller
// itself only ever stores and forwards it.
type Build struct {
	// ID is an opaque identifier supplied by the dispatcher.
	ID string
	// BuilderName is the builder that requested the worker.
	BuilderName string
}

// Driver provisions and tears down the remote instance backing a worker.
// Both methods are expected to be idempotent from the backend's point of
// view: the controller never retries or cancels an in-flight call, and a
// second StopInstance call after a successful one must be a safe no-op.
type Driver interface {
	// StartInstance requests that the backend bring up a new instance for
	// build. It returns (true, nil) if the instance was started, (false,
	// nil) if startup failed in an expected way (no error detail beyond
	// "did not start"), or a non-nil error for unexpected failures. Both the
	// false and error cases are reported to the caller as
	// FailedToSubstantiate.
	StartInstance(ctx context.Context, build Build) (bool, error)

	// StopInstance requests that the backend tear down the instance. When
	// fast is true, the backend should skip any graceful shutdown grace
	// period and terminate immediately (e.g. SIGKILL instead of
	// SIGTERM-then-SIGKILL, or a zero-grace-period pod delete). Errors are
	// logged as StopInstanceFailure and never propagated to callers.
	StopInstance(ctx context.Context, fast bool) error
}

// Connection represents the transport-level handle for an attached worker.
// The controller treats it opaquely; Transport implementations populate it
// with whatever they need to later disconnect the same peer.
type Connection interface {
	// RemoteName returns the worker name the connection claims to be, used
	// to detect an UnsolicitedConnection (a connection for a worker that
	// never requested substantiation).
	RemoteName() string
}

// Transport carries the attach/detach handshake and disconnect signaling
// between the master and a remote worker. The controller calls Disconnect
// when it wants to actively sever an attached connection (for example,
// during insubstantiation); the transport implementation is expected to
// call back into Controller.Attached/Detached as connections arrive and go.
type Transport interface {
	// Disconnect actively severs the current connection for this worker, if
	// any. It must not error merely because no connection is currently
	// attached.
	Disconnect(ctx context.Context) error

	// RejectUnsolicited closes conn with a policy-violation indication. It
	// is called when Attached reports ErrUnsolicitedConnection.
	RejectUnsolicited(ctx context.Context, conn Connection) error
}

// BuilderBinding identifies one builder currently assigned to this worker.
type BuilderBinding struct {
	BuilderName string
}

// WorkerMissingEvent describes why the controller believes a substantiation
// never completed in time, for the Dispatcher's WorkerMissing notification.
type WorkerMissingEvent struct {
	// EventID uniquely identifies this occurrence, so a Dispatcher that
	// forwards the event to an external system (e.g. a chat notification)
	// can dedupe retries instead of posting the same alert twice.
	EventID    string
	WorkerName string
	Reason     string
	// Targets lists the notification destinations configured via
	// ControllerConfig.NotifyOnMissing. The controller only constructs this
	// event at all when Targets is non-empty; a Dispatcher should notify
	// every entry rather than maintain its own separate destination list.
	Targets []NotifyTarget
}

func newWorkerMissingEvent(workerName, reason string, targets []NotifyTarget) WorkerMissingEvent {
	return WorkerMissingEvent{EventID: uuid.NewString(), WorkerName: workerName, Reason: reason, Targets: targets}
}

// Dispatcher is the build-scheduling collaborator the controller notifies
// of lifecycle events. It never mutates controller state; all of its
// methods are one-way notifications or the two read-only predicates
// CanStartBuild/AttachBuilder, which the controller forwards but does not
// interpret.
type Dispatcher interface {
	// MaybeStartBuildsForWorker is called after a worker becomes available
	// for new work (substantiated and attached).
	MaybeStartBuildsForWorker(ctx context.Context, workerName string)

	// WorkerMissing is called when substantiation does not complete before
	// the configured missing timeout.
	WorkerMissing(ctx context.Context, event WorkerMissingEvent)

	// WorkerLost is called after a disconnect has been fully processed
	// (softDisconnect has quiesced the worker), so the dispatcher can
	// reassign any work it had pending for it.
	WorkerLost(ctx context.Context, workerName string)

	// AttachBuilder records that b is now bound to this worker. This is a
	// one-way delegation with no controller-side state change, matching the
	// original implementation's workerforbuilders bookkeeping.
	AttachBuilder(ctx context.Context, b BuilderBinding) error
}
