package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	authAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Authentication attempts by method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	ceremonies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webauthn_ceremonies_total",
			Help: "WebAuthn ceremony steps by ceremony and outcome.",
		},
		[]string{"ceremony", "outcome"},
	)

	auditWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_write_failures_total",
		Help: "Audit entries that could not be persisted.",
	})

	initOnce sync.Once
)

// Init registers all collectors in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			authAttempts, ceremonies, auditWriteFailures,
		)
	})
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAuth counts an authentication attempt, e.g. ("password", "ok").
func ObserveAuth(method, outcome string) {
	authAttempts.WithLabelValues(method, outcome).Inc()
}

// ObserveCeremony counts a WebAuthn ceremony step, e.g. ("registration.finish", "verification_failed").
func ObserveCeremony(ceremony, outcome string) {
	ceremonies.WithLabelValues(ceremony, outcome).Inc()
}

// AuditWriteFailed counts a dropped audit entry.
func AuditWriteFailed() {
	auditWriteFailures.Inc()
}

// AuthAttemptCounter exposes a single auth_attempts_total series, mainly for tests.
func AuthAttemptCounter(method, outcome string) prometheus.Counter {
	return authAttempts.WithLabelValues(method, outcome)
}

// AuditFailureCounter exposes audit_write_failures_total.
func AuditFailureCounter() prometheus.Counter {
	return auditWriteFailures
}

// Instrument records in-flight, count and latency for every request.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
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
