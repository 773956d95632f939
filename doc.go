// Package latentworker provisions and tears down on-demand ("latent") build
// workers: each worker is NotSubstantiated until a build needs it, at which
// point Controller.Substantiate drives a backend Driver (a local subprocess,
// a Kubernetes Pod, a cloud VM, ...) to bring an instance up, waits for it to
// connect back over a Transport, and keeps it running only as long as builds
// keep it busy.
//
// latentworker itself owns none of "how an instance starts" or "how a worker
// connects back" — those are supplied as a Driver and a Transport. It owns
// the state machine in between: substantiation, attach/detach bookkeeping,
// idle-timeout teardown, and graceful service shutdown.
//
// # Basic Usage
//
//	import "github.com/giantswarm/latentworker"
//
//	ctx := context.Background()
//
//	ctrl, err := latentworker.New("worker-1", driver, transport, dispatcher,
//	    latentworker.WithMissingTimeout(2*time.Minute),
//	    latentworker.WithBuildWaitTimeout(30*time.Second),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ctrl.StopService(ctx)
//
//	ok, err := ctrl.Substantiate(ctx, latentworker.Build{ID: "b1", BuilderName: "linux-amd64"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Wiring a Transport
//
// A Transport and the Controller it drives refer to each other: the
// Transport needs the Controller to call Attached/Detached, and New needs
// the Transport to construct the Controller. Transport implementations
// (e.g. internal/transport/ws.Handler) follow a two-step construction to
// break the cycle: build the Transport first, pass it to New, then hand the
// resulting Controller back to the Transport.
//
//	h := ws.NewHandler(nil)
//	ctrl, err := latentworker.New("worker-1", driver, h, dispatcher)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	h.SetController(ctrl)
//
// # Backends
//
// internal/driver/localprocess runs the worker as a local subprocess;
// internal/driver/k8spod runs it as a Kubernetes Pod. Both implement Driver
// and can be swapped without touching Controller logic.
package latentworker
