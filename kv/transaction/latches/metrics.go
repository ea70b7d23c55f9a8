package latches

import "github.com/prometheus/client_golang/prometheus"

var latchWaitHistogram = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "tinytablet",
		Subsystem: "latches",
		Name:      "wait_seconds",
		Help:      "Bucketed histogram of time writes waited for row latches.",
		Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 18),
	}, []string{"result"})

func init() {
	prometheus.MustRegister(latchWaitHistogram)
}
