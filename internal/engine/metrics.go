package engine

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for line classification.
const (
	classLog   = "log"
	classError = "error"
)

var (
	engineUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fluxd_engine_up",
			Help: "Whether the supervised engine process is running (1) or not (0).",
		},
	)

	engineLogLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxd_engine_log_lines_total",
			Help: "Engine output lines read, by stream and classification.",
		},
		[]string{"stream", "class"},
	)

	errorSignalsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fluxd_engine_error_signals_dropped_total",
			Help: "Error signals evicted from the full error queue before being read.",
		},
	)
)

func init() {
	prometheus.MustRegister(engineUp)
	prometheus.MustRegister(engineLogLines)
	prometheus.MustRegister(errorSignalsDropped)

	for _, stream := range []string{StreamStdout, StreamStderr} {
		engineLogLines.WithLabelValues(stream, classLog)
		engineLogLines.WithLabelValues(stream, classError)
	}
}
