package stage

import "github.com/prometheus/client_golang/prometheus"

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeswarm_stage_runs_total",
			Help: "Total number of stage runs by stage and final state.",
		},
		[]string{"stage", "state"},
	)

	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradeswarm_stage_duration_seconds",
			Help:    "Stage run time including the wait for inputs, in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	missingInputs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeswarm_stage_missing_inputs_total",
			Help: "Total number of required inputs not available when a stage's wait ended.",
		},
		[]string{"stage"},
	)
)

func init() {
	prometheus.MustRegister(runsTotal)
	prometheus.MustRegister(runDuration)
	prometheus.MustRegister(missingInputs)
}
