package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
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

	tokenAuthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shared_token_auth_failures_total",
			Help: "Shared-dashboard token authentications that were rejected.",
		},
		[]string{"reason"},
	)

	tokensDisabled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shared_tokens_disabled_total",
		Help: "Tokens disabled as a corrective side effect of invalid widgets.",
	})
)

// Init registers the metrics in the default registry.
func Init() {
	prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration,
		tokenAuthFailures, tokensDisabled)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// TokenAuthFailure counts one rejected token authentication.
func TokenAuthFailure(reason string) {
	tokenAuthFailures.WithLabelValues(reason).Inc()
}

// TokenDisabled counts one corrective disable.
func TokenDisabled() {
	tokensDisabled.Inc()
}

// CanonicalPath collapses per-resource path segments so metric label
// cardinality stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	if strings.HasPrefix(path, "/v1/dashboards/") {
		rest := strings.Trim(strings.TrimPrefix(path, "/v1/dashboards/"), "/")
		parts := strings.Split(rest, "/")
		if len(parts) == 3 && parts[2] == "token" {
			return "/v1/dashboards/:owner/:name/token"
		}
	}
	if strings.HasPrefix(path, "/v1/visuals/") {
		rest := strings.Trim(strings.TrimPrefix(path, "/v1/visuals/"), "/")
		if rest != "" && !strings.Contains(rest, "/") {
			return "/v1/visuals/:kind"
		}
	}
	return path
}

// Instrument wraps a handler with RPS/latency/in-flight measurement.
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

// statusWriter captures the response code for metrics labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
