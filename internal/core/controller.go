package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// defaultMissingTimeout is used when ControllerConfig.MissingTimeout is
// left at its zero value, matching the "typically minutes" framing of
// comparable latent-worker backends.
const defaultMissingTimeout = 1200 * time.Second

// Controller is the per-worker latent-worker lifecycle state machine. It
// reconciles build requests, transport attach/detach callbacks, and
// shutdown against one authoritative State, guarded by mu.
//
// Concurrency discipline: mu guards state, conn, pendingBuild, the two
// Notifiers' identities, and the armed timers. Every method releases mu
// before any blocking call (driver I/O, transport I/O, waiting on a
// Notifier) and re-acquires it afterward, re-checking state before
// committing a side effect — the same discipline the teacher's
// pool/manager acquire paths use around instance creation.
type Controller struct {
	cfg        ControllerConfig
	driver     Driver
	transport  Transport
	dispatcher Dispatcher
	clock      Clock
	log        *slog.Logger

	mu      sync.Mutex
	state   State
	stopped bool
	conn    Connection

	pendingBuild Build
	busy         *builderSet

	substantiationNotifier   *Notifier[error]
	insubstantiationNotifier *Notifier[error]

	missingTimer   Timer
	buildWaitTimer Timer
}

// NewController validates cfg, fills in defaults (generating a password if
// none was supplied), and returns a Controller in state NotSubstantiated.
func NewController(cfg ControllerConfig, driver Driver, transport Transport, dispatcher Dispatcher, clk Clock) (*Controller, error) {
	if cfg.Password == "" {
		cfg.Password = GeneratePassword()
	}
	if cfg.MissingTimeout == 0 {
		cfg.MissingTimeout = defaultMissingTimeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid controller config: %w", err)
	}
	if driver == nil {
		return nil, errors.New("driver must not be nil")
	}
	if transport == nil {
		return nil, errors.New("transport must not be nil")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher must not be nil")
	}
	if clk == nil {
		clk = RealClock
	}

	return &Controller{
		cfg:        cfg,
		driver:     driver,
		transport:  transport,
		dispatcher: dispatcher,
		clock:      clk,
		log:        Logger().With("worker", cfg.Name),
		busy:       newBuilderSet(),
	}, nil
}

// State returns the controller's current state. Intended for diagnostics
// and tests; callers must not branch production logic on it, since it can
// change the instant the lock is released.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Substantiate requests that a worker instance be provisioned for build. It
// blocks until substantiation succeeds, fails, is cancelled by a concurrent
// Insubstantiate, or ctx is done. A call made while already Substantiated
// returns immediately.
func (c *Controller) Substantiate(ctx context.Context, build Build) (bool, error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return false, ErrShuttingDown
	}

	switch c.state {
	case NotSubstantiated:
		c.state = Substantiating
		c.pendingBuild = build
		notifier := NewNotifier[error]()
		c.substantiationNotifier = notifier
		c.mu.Unlock()
		go c.runSubstantiate(build)
		return c.waitSubstantiation(ctx, notifier)

	case Substantiating:
		notifier := c.substantiationNotifier
		c.mu.Unlock()
		return c.waitSubstantiation(ctx, notifier)

	case Substantiated:
		if c.conn != nil {
			c.resetBuildWaitTimer()
			c.mu.Unlock()
			return true, nil
		}
		// Silent drop: conn went away without a Detached ever landing (the
		// transport link died quietly). Force a tear-down-then-rebuild cycle
		// instead of handing back a worker that isn't actually connected.
		c.pendingBuild = build
		notifier := NewNotifier[error]()
		c.substantiationNotifier = notifier
		c.missingTimer = c.clock.AfterFunc(c.cfg.MissingTimeout, c.missingTimerFired)
		c.mu.Unlock()
		go func() {
			if err := c.insubstantiate(context.Background(), false, true); err != nil {
				c.log.Warn("insubstantiate after silent drop failed", "error", err)
			}
		}()
		return c.waitSubstantiation(ctx, notifier)

	case Insubstantiating:
		c.state = InsubstantiatingSubstantiating
		c.pendingBuild = build
		notifier := NewNotifier[error]()
		c.substantiationNotifier = notifier
		c.mu.Unlock()
		return c.waitSubstantiation(ctx, notifier)

	case InsubstantiatingSubstantiating:
		notifier := c.substantiationNotifier
		c.mu.Unlock()
		return c.waitSubstantiation(ctx, notifier)

	default:
		c.mu.Unlock()
		return false, fmt.Errorf("unreachable state %s", c.state)
	}
}

// resetBuildWaitTimer clears any armed build-wait timer and, if
// BuildWaitTimeout is positive, re-arms it for that duration. Callers must
// hold c.mu. Matches the original's _setBuildWaitTimer: a non-positive
// timeout means "don't arm", not "tear down now" — that distinction belongs
// to BuildFinished's own zero-timeout branch.
func (c *Controller) resetBuildWaitTimer() {
	if c.buildWaitTimer != nil {
		c.buildWaitTimer.Stop()
		c.buildWaitTimer = nil
	}
	if c.cfg.BuildWaitTimeout > 0 {
		c.buildWaitTimer = c.clock.AfterFunc(c.cfg.BuildWaitTimeout, func() {
			_ = c.Insubstantiate(context.Background())
		})
	}
}

func (c *Controller) waitSubstantiation(ctx context.Context, notifier *Notifier[error]) (bool, error) {
	done, get := notifier.Wait()
	select {
	case <-done:
		err := get()
		return err == nil, err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// runSubstantiate performs the (slow, unlocked) call into the driver, then
// re-acquires the lock to commit the result. It is always started in its
// own goroutine by Substantiate.
func (c *Controller) runSubstantiate(build Build) {
	ctx := context.Background()

	c.mu.Lock()
	// dontWaitToAttach mirrors the original's computation at the top of
	// _substantiate: if we will never tear this worker down ourselves and
	// it is already attached, the existing connection has already proven
	// itself, so there is no fresh Attached to wait for.
	dontWaitToAttach := c.cfg.BuildWaitTimeout < 0 && c.conn != nil
	c.missingTimer = c.clock.AfterFunc(c.cfg.MissingTimeout, c.missingTimerFired)
	c.mu.Unlock()

	ok, err := c.driver.StartInstance(ctx, build)

	c.mu.Lock()
	if c.state != Substantiating && c.state != InsubstantiatingSubstantiating {
		// Insubstantiate preempted us (or the missing timer already fired)
		// while StartInstance was in flight; this result is stale.
		c.mu.Unlock()
		c.log.Debug("discarding stale start_instance result", "ok", ok, "error", err)
		return
	}
	if c.missingTimer != nil {
		c.missingTimer.Stop()
		c.missingTimer = nil
	}
	if !ok || err != nil {
		notifier := c.substantiationNotifier
		c.substantiationNotifier = nil
		c.state = NotSubstantiated
		c.mu.Unlock()
		notifier.Fire(&SubstantiationError{Kind: FailedToSubstantiate, Cause: err})
		return
	}

	if dontWaitToAttach && c.state == Substantiating && c.conn != nil {
		c.state = Substantiated
		notifier := c.substantiationNotifier
		c.substantiationNotifier = nil
		c.mu.Unlock()
		notifier.Fire(nil)
		c.dispatcher.MaybeStartBuildsForWorker(ctx, c.cfg.Name)
		return
	}
	// StartInstance succeeded; the substantiation notifier fires once the
	// transport reports the instance Attached, not here.
	c.mu.Unlock()
}

func (c *Controller) missingTimerFired() {
	c.mu.Lock()
	if c.state != Substantiating && c.state != InsubstantiatingSubstantiating {
		c.mu.Unlock()
		return
	}
	notifier := c.substantiationNotifier
	c.substantiationNotifier = nil
	c.state = NotSubstantiated
	stopped := c.stopped
	c.mu.Unlock()

	notifier.Fire(&SubstantiationError{Kind: FailedToSubstantiate, Cause: errTimedOutWaitingToAttach})
	// Only emit WorkerMissing when notify_on_missing destinations are
	// actually configured and the service hasn't already started stopping
	// (mirrors the original's "if not self.parent or not
	// self.notify_on_missing: return" guard before calling workerMissing).
	if len(c.cfg.NotifyOnMissing) > 0 && !stopped {
		c.dispatcher.WorkerMissing(context.Background(),
			newWorkerMissingEvent(c.cfg.Name, "missing_timeout", c.cfg.NotifyOnMissing))
	}
	if err := c.driver.StopInstance(context.Background(), true); err != nil {
		c.log.Warn("failed to stop orphaned instance after missing timeout", "error", err)
	}
}

var errTimedOutWaitingToAttach = errors.New("timed out waiting for worker to attach")

// Attached is called by the Transport when conn reports in. A connection is
// unsolicited — rejected via Transport.RejectUnsolicited and reported as
// ErrUnsolicitedConnection — if it claims a worker name that does not match,
// or if it arrives while state != Substantiating and BuildWaitTimeout >= 0.
// A negative BuildWaitTimeout worker is never considered unsolicited,
// because such a worker is allowed to attach outside of a substantiation
// cycle (it is never torn down by the controller itself).
func (c *Controller) Attached(ctx context.Context, conn Connection) error {
	if conn.RemoteName() != c.cfg.Name {
		return c.rejectUnsolicited(ctx, conn)
	}

	c.mu.Lock()
	if c.state != Substantiating && c.cfg.BuildWaitTimeout >= 0 {
		c.mu.Unlock()
		return c.rejectUnsolicited(ctx, conn)
	}

	c.conn = conn
	wasSubstantiating := c.state == Substantiating
	if wasSubstantiating {
		if c.missingTimer != nil {
			c.missingTimer.Stop()
			c.missingTimer = nil
		}
		c.state = Substantiated
	}
	notifier := c.substantiationNotifier
	c.substantiationNotifier = nil
	c.mu.Unlock()

	if notifier != nil {
		notifier.Fire(nil)
	}
	if wasSubstantiating {
		c.dispatcher.MaybeStartBuildsForWorker(ctx, c.cfg.Name)
	}
	return nil
}

// rejectUnsolicited tells the transport to drop conn as a policy violation
// and reports ErrUnsolicitedConnection to the caller. A transport-level
// failure to reject is logged, not propagated: the caller only needs to
// know the connection was refused, not whether the close frame landed.
func (c *Controller) rejectUnsolicited(ctx context.Context, conn Connection) error {
	if err := c.transport.RejectUnsolicited(ctx, conn); err != nil {
		c.log.Warn("reject unsolicited connection failed", "error", err)
	}
	return ErrUnsolicitedConnection
}

// Detached is called by the Transport when the current connection drops.
// If no builder has outstanding work, the controller tears down the now
// orphaned instance; otherwise it stays Substantiated but disconnected,
// which CanStartBuild will reflect.
func (c *Controller) Detached(_ context.Context) {
	c.mu.Lock()
	c.conn = nil
	if c.state == Substantiated && c.busy.empty() {
		c.state = Insubstantiating
		notifier := NewNotifier[error]()
		c.insubstantiationNotifier = notifier
		c.mu.Unlock()
		// Run against a background context: the caller's ctx is typically
		// scoped to the transport's read loop, which is ending right now.
		go c.runInsubstantiate(context.Background(), true)
		return
	}
	c.mu.Unlock()
}

// BuildStarted records that b now has a build running on this worker,
// cancelling any armed build-wait timer.
func (c *Controller) BuildStarted(b BuilderBinding) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy.start(b.BuilderName)
	if c.buildWaitTimer != nil {
		c.buildWaitTimer.Stop()
		c.buildWaitTimer = nil
	}
}

// BuildFinished records that b's build completed. If this was the last
// outstanding build and the worker is substantiated, it arms (or fires
// immediately, or never arms) the build-wait timer per BuildWaitTimeout.
func (c *Controller) BuildFinished(b BuilderBinding) {
	c.mu.Lock()
	c.busy.finish(b.BuilderName)
	if !c.busy.empty() || c.state != Substantiated {
		c.mu.Unlock()
		return
	}

	switch {
	case c.cfg.BuildWaitTimeout < 0:
		c.mu.Unlock()
	case c.cfg.BuildWaitTimeout == 0:
		c.mu.Unlock()
		_ = c.Insubstantiate(context.Background())
	default:
		c.buildWaitTimer = c.clock.AfterFunc(c.cfg.BuildWaitTimeout, func() {
			_ = c.Insubstantiate(context.Background())
		})
		c.mu.Unlock()
	}
}

// CanStartBuild reports whether the dispatcher may hand this worker a new
// build: false only when the transport connection has dropped but at least
// one builder still considers the worker busy (a disconnected-but-not-yet-
// cleaned-up worker), matching the original's canStartBuild check exactly.
func (c *Controller) CanStartBuild() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !(c.conn == nil && !c.busy.empty())
}

// AttachBuilder forwards a builder binding to the Dispatcher. This is a
// one-way delegation; it causes no Controller state change.
func (c *Controller) AttachBuilder(ctx context.Context, b BuilderBinding) error {
	return c.dispatcher.AttachBuilder(ctx, b)
}

// Insubstantiate tears down the worker's instance. It is a no-op if the
// worker is already NotSubstantiated. If called while a Substantiate is in
// flight, that Substantiate is cancelled with ErrSubstantiationCancelled.
// If called while already Insubstantiating, it waits for that teardown
// rather than starting a second one. It blocks until teardown completes.
func (c *Controller) Insubstantiate(ctx context.Context) error {
	return c.insubstantiate(ctx, false, false)
}

// insubstantiate is Insubstantiate's implementation. forceFast overrides the
// normal fast=false teardown from Substantiated with fast=true, used by
// StopService when ControllerConfig.StopInstanceFastOnServiceStop is set —
// the original leaves this detail implicit in its stopping-service call
// site, which never threads a fast argument through from configuration.
// forceSubstantiation mirrors the original's force_substantiation: from
// Substantiated it lands in InsubstantiatingSubstantiating instead of
// Insubstantiating, so runInsubstantiate begins a fresh substantiation for
// pendingBuild once teardown completes, used by Substantiate's silent-drop
// recovery path.
func (c *Controller) insubstantiate(ctx context.Context, forceFast, forceSubstantiation bool) error {
	c.mu.Lock()
	switch c.state {
	case NotSubstantiated:
		c.mu.Unlock()
		return nil

	case Substantiating:
		subNotifier := c.substantiationNotifier
		c.substantiationNotifier = nil
		c.state = Insubstantiating
		insubNotifier := NewNotifier[error]()
		c.insubstantiationNotifier = insubNotifier
		c.mu.Unlock()
		subNotifier.Fire(ErrSubstantiationCancelled)
		go c.runInsubstantiate(context.Background(), true)
		return c.waitInsubstantiation(ctx, insubNotifier)

	case Substantiated:
		nextState := Insubstantiating
		if forceSubstantiation {
			nextState = InsubstantiatingSubstantiating
		}
		c.state = nextState
		if c.buildWaitTimer != nil {
			c.buildWaitTimer.Stop()
			c.buildWaitTimer = nil
		}
		insubNotifier := NewNotifier[error]()
		c.insubstantiationNotifier = insubNotifier
		c.mu.Unlock()
		go c.runInsubstantiate(context.Background(), forceFast)
		return c.waitInsubstantiation(ctx, insubNotifier)

	case Insubstantiating:
		notifier := c.insubstantiationNotifier
		c.mu.Unlock()
		return c.waitInsubstantiation(ctx, notifier)

	case InsubstantiatingSubstantiating:
		subNotifier := c.substantiationNotifier
		c.substantiationNotifier = nil
		c.state = Insubstantiating
		insubNotifier := c.insubstantiationNotifier
		c.mu.Unlock()
		subNotifier.Fire(ErrSubstantiationCancelled)
		return c.waitInsubstantiation(ctx, insubNotifier)

	default:
		c.mu.Unlock()
		return fmt.Errorf("unreachable state %s", c.state)
	}
}

func (c *Controller) waitInsubstantiation(ctx context.Context, notifier *Notifier[error]) error {
	done, get := notifier.Wait()
	select {
	case <-done:
		return get()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runInsubstantiate performs the (slow, unlocked) call into the driver,
// then re-acquires the lock to commit the result. If a new Substantiate
// request queued up while we were stopping the instance
// (InsubstantiatingSubstantiating), it is honored immediately by kicking
// off a fresh runSubstantiate.
func (c *Controller) runInsubstantiate(ctx context.Context, fast bool) {
	if err := c.driver.StopInstance(ctx, fast); err != nil {
		c.log.Warn("stop_instance failed", "error", err)
	}

	c.mu.Lock()
	notifier := c.insubstantiationNotifier
	c.insubstantiationNotifier = nil
	c.conn = nil

	if c.state == InsubstantiatingSubstantiating {
		build := c.pendingBuild
		c.state = Substantiating
		c.mu.Unlock()
		notifier.Fire(nil)
		go c.runSubstantiate(build)
		return
	}

	c.state = NotSubstantiated
	c.mu.Unlock()
	notifier.Fire(nil)
}

// Disconnect actively severs the worker's connection and quiesces it via
// softDisconnect, then notifies the Dispatcher that the worker is lost.
//
// Disconnect awaits softDisconnect before notifying WorkerLost rather than
// firing the notification concurrently with (or before) quiescing: see
// SPEC_FULL.md's design-note resolution for the rationale.
func (c *Controller) Disconnect(ctx context.Context) error {
	err := c.softDisconnect(ctx, false)
	c.dispatcher.WorkerLost(ctx, c.cfg.Name)
	return err
}

// softDisconnect concurrently severs the transport connection and
// insubstantiates the worker, failing fast on the first error, mirroring
// the original's _soft_disconnect. Insubstantiate itself decides the
// fastness of the underlying StopInstance call based on which state it is
// tearing down from (Substantiating is always torn down fast, since the
// instance never finished starting); forceFast overrides a Substantiated
// teardown to fast=true as well, for StopService's configured behavior.
func (c *Controller) softDisconnect(ctx context.Context, forceFast bool) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.transport.Disconnect(gctx)
	})
	g.Go(func() error {
		return c.insubstantiate(gctx, forceFast, false)
	})
	return g.Wait()
}

// StopService marks the controller as shutting down (all further
// Substantiate calls return ErrShuttingDown) and quiesces the worker,
// passing fast=true to the final StopInstance call when
// ControllerConfig.StopInstanceFastOnServiceStop is set.
func (c *Controller) StopService(ctx context.Context) error {
	c.mu.Lock()
	c.stopped = true
	fast := c.cfg.StopInstanceFastOnServiceStop
	c.mu.Unlock()

	return c.softDisconnect(ctx, fast)
}
