package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics shared by every handler.
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
)

// Security-engine metrics. Counters are incremented by the engine facade, not
// by the aggregates, so a test of pure domain logic never touches the registry.
var (
	loginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Login attempts by result.",
		},
		[]string{"result"},
	)

	tokenRotationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_token_rotations_total",
		Help: "Refresh token rotations.",
	})

	tokenRevocationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_token_revocations_total",
		Help: "Refresh token revocations.",
	})

	permissionChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_permission_checks_total",
			Help: "Effective-permission checks by decision.",
		},
		[]string{"decision"},
	)

	totpValidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_totp_validations_total",
			Help: "TOTP step-up validations by result.",
		},
		[]string{"result"},
	)

	sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "auth_sessions_active",
		Help: "Sessions currently active.",
	})

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "Whether the service reports ready (1) or not (0).",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		loginsTotal, tokenRotationsTotal, tokenRevocationsTotal,
		permissionChecksTotal, totpValidationsTotal, sessionsActive, ready,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady flips the readiness gauge.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// ObserveLogin records a login attempt outcome ("ok", "denied", "blocked").
func ObserveLogin(result string) { loginsTotal.WithLabelValues(result).Inc() }

// ObserveRotation records a successful refresh-token rotation.
func ObserveRotation() { tokenRotationsTotal.Inc() }

// ObserveRevocation records a refresh-token revocation.
func ObserveRevocation() { tokenRevocationsTotal.Inc() }

// ObservePermissionCheck records a resolver decision ("granted", "denied").
func ObservePermissionCheck(decision string) {
	permissionChecksTotal.WithLabelValues(decision).Inc()
}

// ObserveTOTP records a step-up validation outcome ("ok", "rejected").
func ObserveTOTP(result string) { totpValidationsTotal.WithLabelValues(result).Inc() }

// SessionStarted and SessionEnded track the active-session gauge.
func SessionStarted() { sessionsActive.Inc() }
func SessionEnded()   { sessionsActive.Dec() }

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for metrics.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
