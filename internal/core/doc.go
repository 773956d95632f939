// Package core provides the internal implementation of the latentworker
// lifecycle controller.
//
// The primary types are:
//   - [Controller]: the per-worker state machine, substantiating a remote
//     build instance on demand, tracking its connection to the master, and
//     tearing it down when idle or when the service stops.
//   - [Notifier]: a generic one-shot broadcast primitive used to let any
//     number of goroutines wait on a pending substantiation or insubstantiation.
//   - [Driver], [Transport], [Dispatcher]: the collaborator interfaces a
//     Controller is built against.
//   - [ControllerConfig]: a validated, immutable configuration struct
//     controlling timeouts, the worker's name/password, and notification
//     targets.
package core
