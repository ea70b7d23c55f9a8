package mvcc

import "github.com/prometheus/client_golang/prometheus"

var (
	operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinytablet",
			Subsystem: "mvcc",
			Name:      "operations_total",
			Help:      "Counter of mvcc operation state transitions.",
		}, []string{"type"})

	waitDurationHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tinytablet",
			Subsystem: "mvcc",
			Name:      "wait_duration_seconds",
			Help:      "Bucketed histogram of time spent waiting for mvcc conditions.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 18),
		}, []string{"type"})

	waitTimeoutCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinytablet",
			Subsystem: "mvcc",
			Name:      "wait_timeouts_total",
			Help:      "Counter of mvcc waits that ran out of time.",
		}, []string{"type"})
)

func init() {
	prometheus.MustRegister(operationCounter)
	prometheus.MustRegister(waitDurationHistogram)
	prometheus.MustRegister(waitTimeoutCounter)
}
