// Package metrics exposes the broker's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LeasesIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arvon_leases_issued_total",
			Help: "Total number of leases issued.",
		},
		[]string{"role"},
	)

	LeasesRenewed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arvon_leases_renewed_total",
			Help: "Total number of lease renewals.",
		},
		[]string{"role"},
	)

	LeasesRevoked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arvon_leases_revoked_total",
			Help: "Total number of leases revoked, by trigger.",
		},
		[]string{"trigger"}, // "explicit" or "sweep"
	)

	RevocationFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "arvon_revocation_failures_total",
			Help: "Leases escalated after exhausting revocation retries.",
		},
	)

	SweepRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "arvon_sweep_runs_total",
			Help: "Completed expiry sweep passes.",
		},
	)

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arvon_http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arvon_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arvon_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Init registers the broker metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		LeasesIssued, LeasesRenewed, LeasesRevoked,
		RevocationFailures, SweepRuns,
		httpInFlight, httpRequestsTotal, httpRequestDuration,
	)
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument wraps an HTTP handler with request counting and latency
// measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)
		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(duration)
		httpInFlight.Dec()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
