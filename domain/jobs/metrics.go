package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_submitted_total",
		Help: "Total number of jobs submitted per queue",
	}, []string{"queue", "kind"})

	JobAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_attempts_total",
		Help: "Total number of job attempts by outcome (success, error, timeout, panic)",
	}, []string{"queue", "kind", "outcome"})

	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_finished_total",
		Help: "Total number of jobs reaching a terminal state",
	}, []string{"queue", "state"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jobs_attempt_duration_seconds",
		Help:    "Duration of a single job attempt",
		Buckets: prometheus.DefBuckets,
	}, []string{"queue", "kind"})

	QueueJobs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "jobs_queue_jobs",
		Help: "Jobs currently held by a queue per state",
	}, []string{"queue", "state"})
)

// observeMetrics copies a queue's state counts into the QueueJobs gauge.
func observeMetrics(queue string, m Metrics) {
	QueueJobs.WithLabelValues(queue, string(StateWaiting)).Set(float64(m.Waiting))
	QueueJobs.WithLabelValues(queue, string(StateDelayed)).Set(float64(m.Delayed))
	QueueJobs.WithLabelValues(queue, string(StateActive)).Set(float64(m.Active))
	QueueJobs.WithLabelValues(queue, string(StateCompleted)).Set(float64(m.Completed))
	QueueJobs.WithLabelValues(queue, string(StateFailed)).Set(float64(m.Failed))
}
