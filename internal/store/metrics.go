package store

import "github.com/prometheus/client_golang/prometheus"

// Metric label values.
const (
	writeCommitted = "committed"
	writeFailed    = "failed"

	waitFound   = "found"
	waitPartial = "partial"
	waitTimeout = "timeout"
)

var (
	writeOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeswarm_store_write_ops_total",
			Help: "Total number of serialized write operations by outcome.",
		},
		[]string{"op", "result"},
	)

	writeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tradeswarm_store_write_seconds",
			Help:    "Time taken to apply and commit one write operation, in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	writeQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradeswarm_store_write_queue_depth",
			Help: "Number of write operations waiting to be applied.",
		},
	)

	pollWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradeswarm_store_poll_wait_seconds",
			Help:    "Time callers spent waiting for outputs, in seconds.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(writeOpsTotal)
	prometheus.MustRegister(writeDuration)
	prometheus.MustRegister(writeQueueDepth)
	prometheus.MustRegister(pollWait)

	for _, o := range []string{waitFound, waitPartial, waitTimeout} {
		pollWait.WithLabelValues(o)
	}
}
