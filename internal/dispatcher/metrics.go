package dispatcher

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// buildsDispatchedTotal counts MaybeStartBuildsForWorker calls per worker.
	buildsDispatchedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "latentworker_builds_dispatched_total",
		Help: "Total number of times a worker was offered to the build queue.",
	}, []string{"worker"})

	// workersMissingTotal counts WorkerMissing notifications per reason.
	workersMissingTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "latentworker_workers_missing_total",
		Help: "Total number of times a substantiation was reported missing.",
	}, []string{"worker", "reason"})

	// workersLostTotal counts WorkerLost notifications per worker.
	workersLostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "latentworker_workers_lost_total",
		Help: "Total number of times a worker's connection was forcibly severed.",
	}, []string{"worker"})

	// builderAttachDuration observes how long AttachBuilder took per builder.
	builderAttachDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "latentworker_builder_attach_duration_seconds",
		Help:    "Time spent recording a builder binding for a worker.",
		Buckets: prometheus.DefBuckets,
	}, []string{"builder"})
)

func init() {
	prometheus.MustRegister(buildsDispatchedTotal, workersMissingTotal, workersLostTotal, builderAttachDuration)
}

// RecordDispatch records that worker was offered to the build queue.
func RecordDispatch(worker string) {
	buildsDispatchedTotal.WithLabelValues(worker).Inc()
}

// RecordMissing records that worker was reported missing for reason.
func RecordMissing(worker, reason string) {
	workersMissingTotal.WithLabelValues(worker, reason).Inc()
}

// RecordLost records that worker's connection was forcibly severed.
func RecordLost(worker string) {
	workersLostTotal.WithLabelValues(worker).Inc()
}

// RecordBuilderAttach records how long an AttachBuilder call took.
func RecordBuilderAttach(builder string, d time.Duration) {
	builderAttachDuration.WithLabelValues(builder).Observe(d.Seconds())
}
