package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	testingclock "k8s.io/utils/clock/testing"
)

type fakeDriver struct {
	mu          sync.Mutex
	startCalls  int
	startResult bool
	startErr    error
	startDelay  chan struct{} // if non-nil, StartInstance blocks until closed
	stopCalls   int
	stopFast    []bool
}

func (d *fakeDriver) StartInstance(ctx context.Context, build Build) (bool, error) {
	if d.startDelay != nil {
		<-d.startDelay
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.startCalls++
	return d.startResult, d.startErr
}

func (d *fakeDriver) StopInstance(ctx context.Context, fast bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopCalls++
	d.stopFast = append(d.stopFast, fast)
	return nil
}

type fakeConn struct{ name string }

func (c fakeConn) RemoteName() string { return c.name }

type fakeTransport struct {
	mu              sync.Mutex
	disconnectCalls int
	rejectCalls     int
}

func (t *fakeTransport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnectCalls++
	return nil
}

func (t *fakeTransport) RejectUnsolicited(ctx context.Context, conn Connection) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rejectCalls++
	return nil
}

type fakeDispatcher struct {
	mu             sync.Mutex
	missingEvents  []WorkerMissingEvent
	lostWorkers    []string
	maybeStartFor  []string
	attachBuilders []BuilderBinding
}

func (d *fakeDispatcher) MaybeStartBuildsForWorker(ctx context.Context, workerName string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maybeStartFor = append(d.maybeStartFor, workerName)
}

func (d *fakeDispatcher) WorkerMissing(ctx context.Context, event WorkerMissingEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.missingEvents = append(d.missingEvents, event)
}

func (d *fakeDispatcher) WorkerLost(ctx context.Context, workerName string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lostWorkers = append(d.lostWorkers, workerName)
}

func (d *fakeDispatcher) AttachBuilder(ctx context.Context, b BuilderBinding) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attachBuilders = append(d.attachBuilders, b)
	return nil
}

func newTestController(t *testing.T, driver Driver, transport Transport, dispatcher Dispatcher, clk Clock) *Controller {
	t.Helper()
	cfg := ControllerConfig{
		Name:             "worker-1",
		MissingTimeout:   time.Minute,
		BuildWaitTimeout: -1,
	}
	c, err := NewController(cfg, driver, transport, dispatcher, clk)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return c
}

// Scenario 1: a successful substantiate/attach round-trip reaches
// Substantiated and notifies MaybeStartBuildsForWorker.
func TestSubstantiateSuccess(t *testing.T) {
	driver := &fakeDriver{startResult: true}
	dispatcher := &fakeDispatcher{}
	c := newTestController(t, driver, &fakeTransport{}, dispatcher, testingclock.NewFakeClock(time.Now()))

	resultCh := make(chan bool, 1)
	go func() {
		ok, err := c.Substantiate(context.Background(), Build{ID: "b1"})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		resultCh <- ok
	}()

	waitForState(t, c, Substantiating)

	if err := c.Attached(context.Background(), fakeConn{name: "worker-1"}); err != nil {
		t.Fatalf("Attached: %v", err)
	}

	select {
	case ok := <-resultCh:
		if !ok {
			t.Fatal("expected Substantiate to report success")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Substantiate never returned")
	}

	if c.State() != Substantiated {
		t.Fatalf("state = %s, want substantiated", c.State())
	}
	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	if len(dispatcher.maybeStartFor) != 1 {
		t.Fatalf("expected one MaybeStartBuildsForWorker call, got %d", len(dispatcher.maybeStartFor))
	}
}

// Scenario 2: StartInstance failing reports FailedToSubstantiate and
// returns to NotSubstantiated.
func TestSubstantiateDriverFailure(t *testing.T) {
	driver := &fakeDriver{startResult: false}
	c := newTestController(t, driver, &fakeTransport{}, &fakeDispatcher{}, testingclock.NewFakeClock(time.Now()))

	ok, err := c.Substantiate(context.Background(), Build{ID: "b1"})
	if ok {
		t.Fatal("expected substantiation to fail")
	}
	var subErr *SubstantiationError
	if !errors.As(err, &subErr) || subErr.Kind != FailedToSubstantiate {
		t.Fatalf("err = %v, want FailedToSubstantiate", err)
	}
	if c.State() != NotSubstantiated {
		t.Fatalf("state = %s, want not_substantiated", c.State())
	}
}

// Scenario 3: a concurrent Substantiate call while one is already in
// flight joins the same notifier instead of starting a second StartInstance.
func TestSubstantiateConcurrentCallsShareOneStart(t *testing.T) {
	unblock := make(chan struct{})
	driver := &fakeDriver{startResult: true, startDelay: unblock}
	c := newTestController(t, driver, &fakeTransport{}, &fakeDispatcher{}, testingclock.NewFakeClock(time.Now()))

	var wg sync.WaitGroup
	results := make([]bool, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, _ := c.Substantiate(context.Background(), Build{ID: "b1"})
			results[i] = ok
		}(i)
	}

	waitForState(t, c, Substantiating)
	close(unblock)

	waitForState(t, c, Substantiating) // still substantiating until Attached fires
	if err := c.Attached(context.Background(), fakeConn{name: "worker-1"}); err != nil {
		t.Fatalf("Attached: %v", err)
	}
	wg.Wait()

	driver.mu.Lock()
	defer driver.mu.Unlock()
	if driver.startCalls != 1 {
		t.Fatalf("expected exactly one StartInstance call, got %d", driver.startCalls)
	}
	for i, ok := range results {
		if !ok {
			t.Errorf("caller %d got ok=false", i)
		}
	}
}

// Scenario 4: Insubstantiate while Substantiating cancels the pending
// Substantiate with ErrSubstantiationCancelled and stops the instance fast.
func TestInsubstantiateCancelsInFlightSubstantiate(t *testing.T) {
	unblock := make(chan struct{})
	driver := &fakeDriver{startResult: true, startDelay: unblock}
	c := newTestController(t, driver, &fakeTransport{}, &fakeDispatcher{}, testingclock.NewFakeClock(time.Now()))

	subResult := make(chan error, 1)
	go func() {
		_, err := c.Substantiate(context.Background(), Build{ID: "b1"})
		subResult <- err
	}()
	waitForState(t, c, Substantiating)

	if err := c.Insubstantiate(context.Background()); err != nil {
		t.Fatalf("Insubstantiate: %v", err)
	}

	select {
	case err := <-subResult:
		if !errors.Is(err, ErrSubstantiationCancelled) {
			t.Fatalf("err = %v, want ErrSubstantiationCancelled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Substantiate never returned")
	}

	close(unblock) // let the stale StartInstance call return so it doesn't leak
	if c.State() != NotSubstantiated {
		t.Fatalf("state = %s, want not_substantiated", c.State())
	}
}

// Scenario 5: Insubstantiate while Substantiated stops the instance and
// disconnects the transport-level connection.
func TestInsubstantiateFromSubstantiated(t *testing.T) {
	driver := &fakeDriver{startResult: true}
	c := newTestController(t, driver, &fakeTransport{}, &fakeDispatcher{}, testingclock.NewFakeClock(time.Now()))

	go func() { _, _ = c.Substantiate(context.Background(), Build{ID: "b1"}) }()
	waitForState(t, c, Substantiating)
	if err := c.Attached(context.Background(), fakeConn{name: "worker-1"}); err != nil {
		t.Fatalf("Attached: %v", err)
	}
	waitForState(t, c, Substantiated)

	if err := c.Insubstantiate(context.Background()); err != nil {
		t.Fatalf("Insubstantiate: %v", err)
	}
	if c.State() != NotSubstantiated {
		t.Fatalf("state = %s, want not_substantiated", c.State())
	}
	driver.mu.Lock()
	defer driver.mu.Unlock()
	if driver.stopCalls != 1 {
		t.Fatalf("expected one StopInstance call, got %d", driver.stopCalls)
	}
}

// Scenario 6: a missing timeout (no Attached call ever arrives) reports
// WorkerMissing and returns the controller to NotSubstantiated.
func TestMissingTimeoutReportsWorkerMissing(t *testing.T) {
	unblock := make(chan struct{})
	defer close(unblock)
	driver := &fakeDriver{startResult: true, startDelay: unblock}
	dispatcher := &fakeDispatcher{}
	fc := testingclock.NewFakeClock(time.Now())
	cfg := ControllerConfig{
		Name:             "worker-1",
		MissingTimeout:   time.Minute,
		BuildWaitTimeout: -1,
		NotifyOnMissing:  []NotifyTarget{{Kind: "slack", Destination: "#builds"}},
	}
	c, err := NewController(cfg, driver, &fakeTransport{}, dispatcher, fc)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	subResult := make(chan error, 1)
	go func() {
		_, err := c.Substantiate(context.Background(), Build{ID: "b1"})
		subResult <- err
	}()

	waitForState(t, c, Substantiating)
	waitForClockWaiters(t, fc)
	fc.Step(2 * time.Minute)

	select {
	case err := <-subResult:
		var subErr *SubstantiationError
		if !errors.As(err, &subErr) || subErr.Kind != FailedToSubstantiate {
			t.Fatalf("err = %v, want FailedToSubstantiate", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Substantiate never returned after missing timeout")
	}

	deadline := time.Now().Add(time.Second)
	for {
		dispatcher.mu.Lock()
		n := len(dispatcher.missingEvents)
		dispatcher.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expected one WorkerMissing event")
		}
		time.Sleep(time.Millisecond)
	}

	dispatcher.mu.Lock()
	if dispatcher.missingEvents[0].EventID == "" {
		t.Fatal("expected WorkerMissing event to carry a non-empty EventID")
	}
	dispatcher.mu.Unlock()
}

func TestCanStartBuildFalseWhenDisconnectedButBusy(t *testing.T) {
	driver := &fakeDriver{startResult: true}
	c := newTestController(t, driver, &fakeTransport{}, &fakeDispatcher{}, testingclock.NewFakeClock(time.Now()))

	go func() { _, _ = c.Substantiate(context.Background(), Build{ID: "b1"}) }()
	waitForState(t, c, Substantiating)
	if err := c.Attached(context.Background(), fakeConn{name: "worker-1"}); err != nil {
		t.Fatalf("Attached: %v", err)
	}
	c.BuildStarted(BuilderBinding{BuilderName: "b"})

	if !c.CanStartBuild() {
		t.Fatal("expected CanStartBuild true while attached and busy")
	}

	c.Detached(context.Background())
	if c.CanStartBuild() {
		t.Fatal("expected CanStartBuild false once disconnected but still busy")
	}
}

func TestAttachedRejectsWrongName(t *testing.T) {
	transport := &fakeTransport{}
	c := newTestController(t, &fakeDriver{startResult: true}, transport, &fakeDispatcher{}, testingclock.NewFakeClock(time.Now()))
	err := c.Attached(context.Background(), fakeConn{name: "someone-else"})
	if !errors.Is(err, ErrUnsolicitedConnection) {
		t.Fatalf("err = %v, want ErrUnsolicitedConnection", err)
	}
	transport.mu.Lock()
	defer transport.mu.Unlock()
	if transport.rejectCalls != 1 {
		t.Fatalf("expected RejectUnsolicited to be called once, got %d", transport.rejectCalls)
	}
}

// A BuildWaitTimeout<0 worker is never torn down by the controller itself,
// so it is allowed to attach outside of a substantiation cycle: the
// unsolicited-connection guard must not fire just because state is not
// Substantiating.
func TestAttachedAllowsNegativeBuildWaitTimeoutRegardlessOfState(t *testing.T) {
	cfg := ControllerConfig{
		Name:             "worker-1",
		MissingTimeout:   time.Minute,
		BuildWaitTimeout: -1,
	}
	c, err := NewController(cfg, &fakeDriver{startResult: true}, &fakeTransport{}, &fakeDispatcher{}, testingclock.NewFakeClock(time.Now()))
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	if err := c.Attached(context.Background(), fakeConn{name: "worker-1"}); err != nil {
		t.Fatalf("Attached: %v", err)
	}
	if c.State() != NotSubstantiated {
		t.Fatalf("state = %s, want not_substantiated (an out-of-cycle attach doesn't itself substantiate)", c.State())
	}
}

// A BuildWaitTimeout>=0 worker attaching while not Substantiating is
// unsolicited: it must be rejected and the transport told to drop it.
func TestAttachedRejectsUnsolicitedWhenBuildWaitTimeoutNonNegative(t *testing.T) {
	transport := &fakeTransport{}
	cfg := ControllerConfig{
		Name:             "worker-1",
		MissingTimeout:   time.Minute,
		BuildWaitTimeout: 0,
	}
	c, err := NewController(cfg, &fakeDriver{startResult: true}, transport, &fakeDispatcher{}, testingclock.NewFakeClock(time.Now()))
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	err = c.Attached(context.Background(), fakeConn{name: "worker-1"})
	if !errors.Is(err, ErrUnsolicitedConnection) {
		t.Fatalf("err = %v, want ErrUnsolicitedConnection", err)
	}
	transport.mu.Lock()
	defer transport.mu.Unlock()
	if transport.rejectCalls != 1 {
		t.Fatalf("expected RejectUnsolicited to be called once, got %d", transport.rejectCalls)
	}
}

// Scenario: a worker that was Substantiated but whose connection silently
// dropped (no Detached ever fired) must not hand back a false success on
// the next Substantiate call; it must force a teardown-then-rebuild cycle.
func TestSubstantiateSilentDropRebuilds(t *testing.T) {
	driver := &fakeDriver{startResult: true}
	dispatcher := &fakeDispatcher{}
	fc := testingclock.NewFakeClock(time.Now())
	c := newTestController(t, driver, &fakeTransport{}, dispatcher, fc)

	c.mu.Lock()
	c.state = Substantiated
	c.conn = nil
	c.mu.Unlock()

	resultCh := make(chan bool, 1)
	errCh := make(chan error, 1)
	go func() {
		ok, err := c.Substantiate(context.Background(), Build{ID: "b2"})
		resultCh <- ok
		errCh <- err
	}()

	waitForState(t, c, Substantiating)

	if err := c.Attached(context.Background(), fakeConn{name: "worker-1"}); err != nil {
		t.Fatalf("Attached: %v", err)
	}

	select {
	case ok := <-resultCh:
		if !ok {
			t.Fatalf("expected Substantiate to eventually succeed, err=%v", <-errCh)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Substantiate never returned after silent-drop recovery")
	}

	if c.State() != Substantiated {
		t.Fatalf("state = %s, want substantiated", c.State())
	}
	driver.mu.Lock()
	defer driver.mu.Unlock()
	if driver.stopCalls != 1 {
		t.Fatalf("expected one StopInstance call during silent-drop recovery, got %d", driver.stopCalls)
	}
}

// Scenario: BuildWaitTimeout<0 and already connected when Substantiate is
// called; a successful StartInstance must transition straight to
// Substantiated without waiting for a fresh Attached that will never come.
func TestSubstantiateDontWaitToAttachFastPath(t *testing.T) {
	driver := &fakeDriver{startResult: true}
	dispatcher := &fakeDispatcher{}
	cfg := ControllerConfig{
		Name:             "worker-1",
		MissingTimeout:   time.Minute,
		BuildWaitTimeout: -1,
	}
	c, err := NewController(cfg, driver, &fakeTransport{}, dispatcher, testingclock.NewFakeClock(time.Now()))
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	c.mu.Lock()
	c.conn = fakeConn{name: "worker-1"}
	c.mu.Unlock()

	resultCh := make(chan bool, 1)
	go func() {
		ok, err := c.Substantiate(context.Background(), Build{ID: "b1"})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		resultCh <- ok
	}()

	select {
	case ok := <-resultCh:
		if !ok {
			t.Fatal("expected Substantiate to report success without a fresh Attached")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Substantiate hung waiting for an Attached that will never arrive")
	}

	if c.State() != Substantiated {
		t.Fatalf("state = %s, want substantiated", c.State())
	}
	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	if len(dispatcher.maybeStartFor) != 1 {
		t.Fatalf("expected one MaybeStartBuildsForWorker call, got %d", len(dispatcher.maybeStartFor))
	}
}

// NotifyOnMissing must gate WorkerMissing: with no destinations configured,
// a missing timeout must not call the dispatcher at all.
func TestMissingTimeoutSkipsWorkerMissingWhenNotConfigured(t *testing.T) {
	unblock := make(chan struct{})
	defer close(unblock)
	driver := &fakeDriver{startResult: true, startDelay: unblock}
	dispatcher := &fakeDispatcher{}
	fc := testingclock.NewFakeClock(time.Now())
	c := newTestController(t, driver, &fakeTransport{}, dispatcher, fc) // NotifyOnMissing unset

	subResult := make(chan error, 1)
	go func() {
		_, err := c.Substantiate(context.Background(), Build{ID: "b1"})
		subResult <- err
	}()

	waitForState(t, c, Substantiating)
	waitForClockWaiters(t, fc)
	fc.Step(2 * time.Minute)

	select {
	case err := <-subResult:
		var subErr *SubstantiationError
		if !errors.As(err, &subErr) || subErr.Kind != FailedToSubstantiate {
			t.Fatalf("err = %v, want FailedToSubstantiate", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Substantiate never returned after missing timeout")
	}

	// Give any (wrongly fired) WorkerMissing call a moment to land before
	// asserting its absence.
	time.Sleep(20 * time.Millisecond)
	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	if len(dispatcher.missingEvents) != 0 {
		t.Fatalf("expected no WorkerMissing events without NotifyOnMissing configured, got %d", len(dispatcher.missingEvents))
	}
}

func TestStopServiceDisconnectsAndInsubstantiates(t *testing.T) {
	driver := &fakeDriver{startResult: true}
	transport := &fakeTransport{}
	c := newTestController(t, driver, transport, &fakeDispatcher{}, testingclock.NewFakeClock(time.Now()))

	go func() { _, _ = c.Substantiate(context.Background(), Build{ID: "b1"}) }()
	waitForState(t, c, Substantiating)
	if err := c.Attached(context.Background(), fakeConn{name: "worker-1"}); err != nil {
		t.Fatalf("Attached: %v", err)
	}
	waitForState(t, c, Substantiated)

	if err := c.StopService(context.Background()); err != nil {
		t.Fatalf("StopService: %v", err)
	}

	transport.mu.Lock()
	defer transport.mu.Unlock()
	if transport.disconnectCalls != 1 {
		t.Fatalf("expected one transport Disconnect call, got %d", transport.disconnectCalls)
	}

	if _, err := c.Substantiate(context.Background(), Build{ID: "b2"}); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("err = %v, want ErrShuttingDown", err)
	}
}

func TestStopServicePassesFastPerConfig(t *testing.T) {
	for _, tc := range []struct {
		name string
		fast bool
	}{
		{"fast", true},
		{"graceful", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			driver := &fakeDriver{startResult: true}
			cfg := ControllerConfig{
				Name:                          "worker-1",
				MissingTimeout:                time.Minute,
				BuildWaitTimeout:              -1,
				StopInstanceFastOnServiceStop: tc.fast,
			}
			c, err := NewController(cfg, driver, &fakeTransport{}, &fakeDispatcher{}, testingclock.NewFakeClock(time.Now()))
			if err != nil {
				t.Fatalf("NewController: %v", err)
			}

			go func() { _, _ = c.Substantiate(context.Background(), Build{ID: "b1"}) }()
			waitForState(t, c, Substantiating)
			if err := c.Attached(context.Background(), fakeConn{name: "worker-1"}); err != nil {
				t.Fatalf("Attached: %v", err)
			}
			waitForState(t, c, Substantiated)

			if err := c.StopService(context.Background()); err != nil {
				t.Fatalf("StopService: %v", err)
			}

			driver.mu.Lock()
			defer driver.mu.Unlock()
			if len(driver.stopFast) != 1 || driver.stopFast[0] != tc.fast {
				t.Fatalf("stopFast = %v, want [%v]", driver.stopFast, tc.fast)
			}
		})
	}
}

func waitForState(t *testing.T, c *Controller, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if c.State() == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("state never reached %s (currently %s)", want, c.State())
		}
		time.Sleep(time.Millisecond)
	}
}

func waitForClockWaiters(t *testing.T, fc *testingclock.FakeClock) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if fc.HasWaiters() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("missing timer was never armed on the fake clock")
		}
		time.Sleep(time.Millisecond)
	}
}
