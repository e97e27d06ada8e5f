package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Общие HTTP-метрики
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
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"method", "path", "status"},
	)
)

// Доменные метрики
var (
	authGateResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedline_auth_gate_results_total",
			Help: "Auth gate outcomes by result.",
		},
		[]string{"result"},
	)

	feedOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedline_operations_total",
			Help: "Feed operations by name and outcome kind.",
		},
		[]string{"op", "outcome"},
	)

	mediaCleanups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedline_media_cleanups_total",
			Help: "Image cleanup attempts by backend and outcome.",
		},
		[]string{"backend", "outcome"},
	)

	eventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feedline_events_dropped_total",
		Help: "Post events dropped because a subscriber was too slow.",
	})

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "feedline_ready",
		Help: "1 when the readiness probe last succeeded.",
	})
)

var initOnce sync.Once

// Init registers metrics in the default registry. Safe to call repeatedly.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			authGateResults, feedOperations, mediaCleanups, eventsDropped, ready,
		)
	})
}

// Хэндлер Prometheus.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveGate counts one auth gate decision.
func ObserveGate(result string) {
	authGateResults.WithLabelValues(result).Inc()
}

// ObserveOperation counts a feed operation. outcome is "ok" or an error kind.
func ObserveOperation(op, outcome string) {
	feedOperations.WithLabelValues(op, outcome).Inc()
}

// ObserveCleanup counts an image cleanup attempt.
func ObserveCleanup(backend string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	mediaCleanups.WithLabelValues(backend, outcome).Inc()
}

// EventDropped counts a post event that could not be delivered.
func EventDropped() {
	eventsDropped.Inc()
}

// SetReady records the latest readiness probe result.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// CanonicalPath collapses identifiers in known routes so metric label
// cardinality stays bounded.
func CanonicalPath(raw string) string {
	path := raw
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	const postPrefix = "/feed/post/"
	if strings.HasPrefix(path, postPrefix) {
		rest := strings.TrimPrefix(path, postPrefix)
		if rest != "" && !strings.Contains(rest, "/") {
			return postPrefix + ":id"
		}
	}
	return path
}

// Обёртка для измерения RPS/latency/в полёте.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// statusWriter: локальная копия, чтобы знать код ответа.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps server-sent event streams working through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
