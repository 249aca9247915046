package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const unmatched = "unmatched"

// streamingRoutes hold the connection open for as long as the client
// wants; their durations are left out of the latency histogram.
var streamingRoutes = map[string]bool{
	"/v1/engine/logs":     true,
	"/v1/images/archive": true,
}

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxd_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "fluxd_http_request_duration_seconds",
			Help: "HTTP request latency for non-streaming routes.",
			// Generate requests wait out the correlation window, so the
			// buckets reach further than the defaults.
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2, 3, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)

	logStreamsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fluxd_engine_log_streams_active",
		Help: "Open engine log SSE connections.",
	})

	generateInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fluxd_generate_requests_in_flight",
			Help: "Generate requests waiting on the engine, by variant.",
		},
		[]string{"variant"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, logStreamsActive, generateInFlight)
}

// metricsMiddleware records request count and duration for every request,
// labelled by chi route pattern to keep cardinality bounded.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		path := routePattern(r)
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		if !streamingRoutes[path] {
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		}
	})
}

// trackGenerate marks one generate request in flight for variant and
// returns the function that ends it. Unknown variants are folded into one
// label.
func (s *Server) trackGenerate(variant string) func() {
	if _, err := s.deps.Variants.Resolve(variant); err != nil {
		variant = unmatched
	}
	g := generateInFlight.WithLabelValues(variant)
	g.Inc()
	return g.Dec
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unmatched
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}
