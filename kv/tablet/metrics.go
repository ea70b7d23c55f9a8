package tablet

import "github.com/prometheus/client_golang/prometheus"

var (
	writeCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinytablet",
			Subsystem: "tablet",
			Name:      "writes_total",
			Help:      "Counter of tablet writes by result.",
		}, []string{"result"})

	readSnapshotWaitHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tinytablet",
			Subsystem: "tablet",
			Name:      "read_snapshot_wait_seconds",
			Help:      "Bucketed histogram of time reads waited for a clean snapshot.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 18),
		}, []string{"result"})

	applierTaskCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinytablet",
			Subsystem: "applier",
			Name:      "tasks_total",
			Help:      "Counter of replicated entries handled by appliers.",
		}, []string{"type"})
)

func init() {
	prometheus.MustRegister(writeCounter)
	prometheus.MustRegister(readSnapshotWaitHistogram)
	prometheus.MustRegister(applierTaskCounter)
}
