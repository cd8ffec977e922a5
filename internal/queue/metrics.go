package queue

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "notificationqueue"

var (
	queueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "size",
			Help:      "Number of queue items by status",
		},
		[]string{"status"},
	)

	itemsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "enqueued_total",
			Help:      "Total notifications accepted into the queue",
		},
		[]string{"channel"},
	)

	enqueueRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "enqueue_rejected_total",
			Help:      "Total enqueue requests rejected before insert",
		},
		[]string{"reason"},
	)

	itemsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "dispatched_total",
			Help:      "Total items marked sent by the dispatch pass",
		},
		[]string{"channel"},
	)

	itemsRetried = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "retried_total",
			Help:      "Total failed items reset to pending",
		},
	)

	itemsExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "exhausted_total",
			Help:      "Total failed items seen by the retry pass with no attempts left",
		},
	)

	publishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "publish_failures_total",
			Help:      "Total items whose hand-off to the delivery broker failed",
		},
		[]string{"channel"},
	)

	saveFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "save_failures_total",
			Help:      "Total items that could not be saved after a pass",
		},
		[]string{"pass"},
	)

	cycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a dispatch cycle",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)
)

func recordEnqueued(channel string) {
	itemsEnqueued.WithLabelValues(channel).Inc()
}

func recordEnqueueRejected(reason string) {
	enqueueRejected.WithLabelValues(reason).Inc()
}

func recordDispatched(channel string) {
	itemsDispatched.WithLabelValues(channel).Inc()
}

func recordRetried(count int) {
	itemsRetried.Add(float64(count))
}

func recordExhausted(count int) {
	itemsExhausted.Add(float64(count))
}

func recordPublishFailure(channel string) {
	publishFailures.WithLabelValues(channel).Inc()
}

func recordSaveFailure(pass string) {
	saveFailures.WithLabelValues(pass).Inc()
}

func recordCycleDuration(d time.Duration) {
	cycleDuration.Observe(d.Seconds())
}

// RecordQueueStats updates queue size metrics.
func RecordQueueStats(stats *QueueStats) {
	queueSize.WithLabelValues(string(QueueStatusPending)).Set(float64(stats.Pending))
	queueSize.WithLabelValues(string(QueueStatusProcessing)).Set(float64(stats.Processing))
	queueSize.WithLabelValues(string(QueueStatusSent)).Set(float64(stats.Sent))
	queueSize.WithLabelValues(string(QueueStatusFailed)).Set(float64(stats.Failed))
	queueSize.WithLabelValues(string(QueueStatusCancelled)).Set(float64(stats.Cancelled))
}
