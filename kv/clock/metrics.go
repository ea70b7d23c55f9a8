package clock

import "github.com/prometheus/client_golang/prometheus"

var (
	clockUpdateCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinytablet",
			Subsystem: "clock",
			Name:      "updates_total",
			Help:      "Counter of hybrid clock updates by outcome.",
		}, []string{"result"})

	clockWaitHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tinytablet",
			Subsystem: "clock",
			Name:      "wait_duration_seconds",
			Help:      "Bucketed histogram of time spent waiting for the clock to pass a hybrid time.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 20),
		}, []string{"type"})
)

func init() {
	prometheus.MustRegister(clockUpdateCounter)
	prometheus.MustRegister(clockWaitHistogram)
}
