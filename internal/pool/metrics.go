package pool

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for dispatch outcomes.
const (
	resultSuccess      = "success"
	resultFailed       = "failed"
	resultUnregistered = "unregistered"
	resultThrottled    = "throttled"
)

var (
	dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeswarm_pool_dispatch_total",
			Help: "Total number of pool dispatches by outcome.",
		},
		[]string{"result"},
	)

	dispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tradeswarm_pool_worker_seconds",
			Help:    "Worker execution time once both throttles were passed, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	registeredWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradeswarm_pool_registered_workers",
			Help: "Number of workers currently registered with the pool.",
		},
	)
)

func init() {
	prometheus.MustRegister(dispatchTotal)
	prometheus.MustRegister(dispatchDuration)
	prometheus.MustRegister(registeredWorkers)

	for _, r := range []string{resultSuccess, resultFailed, resultUnregistered, resultThrottled} {
		dispatchTotal.WithLabelValues(r)
	}
}
