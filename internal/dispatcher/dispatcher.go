// Package dispatcher provides an in-memory core.Dispatcher: it tracks which
// workers are available for builds, forwards WorkerMissing events to
// configured notification targets (Slack via SlackNotifier), and records
// Prometheus metrics for all four lifecycle notifications.
package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/giantswarm/latentworker/internal/core"
)

// Dispatcher is a core.Dispatcher that keeps per-worker bookkeeping in
// memory and notifies an optional SlackNotifier of missing workers. It is
// grounded on the botmaster/maybeStartBuildsForWorker call sites the
// original dispatches through: a collaborator the controller notifies but
// never receives state back from.
type Dispatcher struct {
	log   *slog.Logger
	slack *SlackNotifier

	mu        sync.Mutex
	available map[string]struct{}
	attached  map[string]int
}

// New returns a Dispatcher. slack may be nil, in which case WorkerMissing
// notifications are recorded as metrics but never posted anywhere.
func New(slack *SlackNotifier, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = core.Logger()
	}
	return &Dispatcher{
		log:       logger,
		slack:     slack,
		available: make(map[string]struct{}),
		attached:  make(map[string]int),
	}
}

// MaybeStartBuildsForWorker implements core.Dispatcher.
func (d *Dispatcher) MaybeStartBuildsForWorker(_ context.Context, workerName string) {
	RecordDispatch(workerName)
	d.mu.Lock()
	d.available[workerName] = struct{}{}
	d.mu.Unlock()
	d.log.Debug("worker available for builds", "worker", workerName)
}

// WorkerMissing implements core.Dispatcher. It records a metric and, if a
// SlackNotifier is configured, posts one message per "slack" entry in
// event.Targets (the controller only calls WorkerMissing at all when
// NotifyOnMissing configured at least one target). Notification failures
// are logged, never returned: there is nowhere for a caller to observe an
// error from a Dispatcher method.
func (d *Dispatcher) WorkerMissing(ctx context.Context, event core.WorkerMissingEvent) {
	RecordMissing(event.WorkerName, event.Reason)

	if d.slack == nil {
		return
	}
	for _, target := range event.Targets {
		if target.Kind != "slack" {
			continue
		}
		if err := d.slack.Notify(ctx, target, event); err != nil {
			d.log.Warn("failed to notify worker missing", "worker", event.WorkerName, "error", err)
		}
	}
}

// WorkerLost implements core.Dispatcher: it drops the worker's availability
// bookkeeping.
func (d *Dispatcher) WorkerLost(_ context.Context, workerName string) {
	RecordLost(workerName)
	d.mu.Lock()
	delete(d.available, workerName)
	d.mu.Unlock()
}

// AttachBuilder implements core.Dispatcher, recording that one more builder
// is bound somewhere across all workers this Dispatcher serves.
func (d *Dispatcher) AttachBuilder(_ context.Context, b core.BuilderBinding) error {
	start := time.Now()
	d.mu.Lock()
	d.attached[b.BuilderName]++
	d.mu.Unlock()
	RecordBuilderAttach(b.BuilderName, time.Since(start))
	return nil
}

// Available reports whether MaybeStartBuildsForWorker has been called for
// worker more recently than WorkerLost. Intended for tests and diagnostics.
func (d *Dispatcher) Available(worker string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.available[worker]
	return ok
}
