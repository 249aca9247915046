package dispatch

import "github.com/prometheus/client_golang/prometheus"

var (
	dispatchOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxd_dispatch_outcomes_total",
			Help: "Engine submissions by variant and outcome.",
		},
		[]string{"variant", "outcome"},
	)

	dispatchWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fluxd_dispatch_wait_seconds",
			Help:    "Time spent in the correlation window after the engine accepted a submission.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)
)

func init() {
	prometheus.MustRegister(dispatchOutcomes)
	prometheus.MustRegister(dispatchWait)
}
