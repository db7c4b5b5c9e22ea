package backend

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for backend request outcomes.
const (
	resultOK        = "ok"
	resultHTTPError = "http_error"
	resultError     = "error"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeswarm_backend_requests_total",
			Help: "Total number of chat completion requests by outcome.",
		},
		[]string{"result"},
	)

	requestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tradeswarm_backend_request_seconds",
			Help:    "Chat completion round-trip time, in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal)
	prometheus.MustRegister(requestDuration)

	for _, r := range []string{resultOK, resultHTTPError, resultError} {
		requestsTotal.WithLabelValues(r)
	}
}
