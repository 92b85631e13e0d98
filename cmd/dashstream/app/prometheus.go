package app

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var defaultBuckets = []float64{5, 10, 20, 50, 100, 200, 500, 1000}

const service = "dashstream"

// engineMetrics exposes prometheus counters/histograms for control-API
// traffic and Streaming Engine errors, grounded on livesim2's per-service
// prometheus middleware but scoped to engine-command traffic instead of
// manifest/segment HTTP traffic (dashstream has no content-serving path).
type engineMetrics struct {
	apiReqs      *prometheus.CounterVec
	apiLatency   *prometheus.HistogramVec
	engineErrors *prometheus.CounterVec
}

func newEngineMetrics() *engineMetrics {
	m := &engineMetrics{
		apiReqs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "api_requests_total",
			Help:        "Number of control API requests processed, partitioned by status code.",
			ConstLabels: prometheus.Labels{"service": service},
		}, []string{"code"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "api_request_duration_milliseconds",
			Help:        "Control API response latency.",
			ConstLabels: prometheus.Labels{"service": service},
			Buckets:     defaultBuckets,
		}, []string{"code"}),
		engineErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "engine_errors_total",
			Help:        "Streaming engine errors reported, partitioned by severity and category.",
			ConstLabels: prometheus.Labels{"service": service},
		}, []string{"severity", "category"}),
	}
	prometheus.MustRegister(m.apiReqs, m.apiLatency, m.engineErrors)
	return m
}

func (m *engineMetrics) middleware(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := strconv.Itoa(ww.Status())
		latencyMS := float64(time.Since(start).Nanoseconds()) * 1e-6
		m.apiReqs.WithLabelValues(status).Inc()
		m.apiLatency.WithLabelValues(status).Observe(latencyMS)
	}
	return http.HandlerFunc(fn)
}
