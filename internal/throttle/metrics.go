package throttle

import "github.com/prometheus/client_golang/prometheus"

var (
	limiterWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tradeswarm_rate_limiter_wait_seconds",
			Help:    "Time spent waiting for a rate limiter token, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	limiterCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradeswarm_rate_limiter_cancelled_total",
			Help: "Total number of token acquisitions abandoned because their context ended.",
		},
	)

	gateActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradeswarm_gate_active_slots",
			Help: "Number of concurrency slots currently held.",
		},
	)
)

func init() {
	prometheus.MustRegister(limiterWait)
	prometheus.MustRegister(limiterCancelled)
	prometheus.MustRegister(gateActive)
}
