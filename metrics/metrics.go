package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Keys for job and transaction metrics.
const (
	Blocking = "blocking"
	Later    = "later"

	Commit   = "commit"
	Rollback = "rollback"
	Veto     = "veto"
)

// Collectors of serial queue and connection metrics. Every collector is
// labeled by the name of the queue or connection it describes.
var (
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dbqueue_jobs_total",
		Help: "Cumulative number of jobs executed by serial queues.",
	}, []string{"queue", "mode"})

	JobDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dbqueue_job_duration_seconds",
		Help:    "Duration of jobs executed by serial queues.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10), // 100µs to ~26s
	}, []string{"queue"})

	PendingJobs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dbqueue_pending_jobs",
		Help: "Number of jobs enqueued but not yet started.",
	}, []string{"queue"})

	TransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dbqueue_transactions_total",
		Help: "Cumulative number of resolved transactions, by outcome.",
	}, []string{"queue", "outcome"})

	ChangeEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dbqueue_change_events_total",
		Help: "Cumulative number of change events delivered to observers.",
	}, []string{"queue", "kind"})
)

// DeleteQueue removes all series labeled by the named queue, as it's closed.
func DeleteQueue(name string) {
	var labels = prometheus.Labels{"queue": name}

	JobsTotal.DeletePartialMatch(labels)
	JobDurationSeconds.DeletePartialMatch(labels)
	PendingJobs.DeletePartialMatch(labels)
	TransactionsTotal.DeletePartialMatch(labels)
	ChangeEventsTotal.DeletePartialMatch(labels)
}
