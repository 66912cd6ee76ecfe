package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "offsync"

var (
	once sync.Once

	enqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_enqueued_total",
			Help:      "Entries appended to a queue.",
		},
		[]string{"queue"},
	)

	dequeued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_dequeued_total",
			Help:      "Entries removed from the head of a queue.",
		},
		[]string{"queue"},
	)

	deadLettered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_lettered_total",
			Help:      "Entries moved to the dead-letter queue, by source queue.",
		},
		[]string{"queue"},
	)

	pushSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_sent_total",
			Help:      "Upstream write attempts by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	pullPages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pull_pages_total",
			Help:      "Result pages pulled from the upstream.",
		},
		[]string{"resource_type"},
	)

	pumpRun = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pump_run_seconds",
			Help:      "Wall time of one message pump drain.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		},
		[]string{"queue"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(enqueued, dequeued, deadLettered, pushSent, pullPages, pumpRun)
	})
}

func IncEnqueued(queue string) {
	enqueued.WithLabelValues(queue).Inc()
}

func IncDequeued(queue string) {
	dequeued.WithLabelValues(queue).Inc()
}

func IncDeadLettered(sourceQueue string) {
	deadLettered.WithLabelValues(sourceQueue).Inc()
}

// IncPush records one upstream write; outcome is "ok", "conflict", "retry" or "error".
func IncPush(operation, outcome string) {
	pushSent.WithLabelValues(operation, outcome).Inc()
}

func IncPullPage(resourceType string) {
	pullPages.WithLabelValues(resourceType).Inc()
}

// ObservePumpRun records the duration of a drain that started at start.
func ObservePumpRun(queue string, start time.Time) {
	pumpRun.WithLabelValues(queue).Observe(time.Since(start).Seconds())
}
