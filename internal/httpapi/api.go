package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"go.uber.org/zap"

	"feedline.org/internal/audit"
	"feedline.org/internal/auth"
	"feedline.org/internal/events"
	"feedline.org/internal/feed"
	"feedline.org/internal/obs"
)

const serviceName = "feedline-api"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe is a simple readiness check, usually a database ping.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux     *http.ServeMux
	handler http.Handler
	stop    context.CancelFunc

	// streams bounds every open /feed/events response.
	streams    context.Context
	endStreams context.CancelFunc

	feed    *feed.Service
	gate    *auth.Gate
	ready   readinessChecker
	events  *events.Hub
	audit   *audit.Log
	logger  *zap.Logger
	version string

	allowedOrigins []string
	rateBurst      int
	ratePerSec     float64
	maxBodyBytes   int64
}

// Option configures API.
type Option func(*API)

func WithVersion(v string) Option { return func(a *API) { a.version = v } }

func WithReadiness(r readinessChecker) Option {
	return func(a *API) {
		if r != nil {
			a.ready = r
		}
	}
}

// WithEvents enables GET /feed/events.
func WithEvents(h *events.Hub) Option { return func(a *API) { a.events = h } }

func WithAudit(l *audit.Log) Option { return func(a *API) { a.audit = l } }

func WithLogger(l *zap.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithAllowedOrigins restricts CORS to origins. Empty allows localhost only.
func WithAllowedOrigins(origins []string) Option {
	return func(a *API) { a.allowedOrigins = origins }
}

func WithRateLimit(burst int, perSec float64) Option {
	return func(a *API) {
		a.rateBurst = burst
		a.ratePerSec = perSec
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

// New builds the HTTP API over the feed service. Call Close to stop the
// background work of the middleware.
func New(svc *feed.Service, gate *auth.Gate, opts ...Option) *API {
	a := &API{
		mux:          http.NewServeMux(),
		feed:         svc,
		gate:         gate,
		ready:        ReadyProbe{},
		logger:       zap.NewNop(),
		version:      "dev",
		rateBurst:    20,
		ratePerSec:   10,
		maxBodyBytes: 1 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.audit == nil {
		a.audit = audit.New(a.logger)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/auth/signup", a.handleSignup)
	a.mux.HandleFunc("/auth/login", a.handleLogin)
	a.mux.HandleFunc("/auth/status", a.handleStatus)

	a.mux.HandleFunc("/feed/posts", a.handlePublicPosts)
	a.mux.HandleFunc("/feed/timeline", a.handleTimeline)
	a.mux.HandleFunc("/feed/post", a.handlePostCollection)
	a.mux.HandleFunc("/feed/post/", a.handlePostResource)
	a.mux.HandleFunc("/feed/events", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	ctx, cancel := context.WithCancel(context.Background())
	a.stop = cancel
	a.streams, a.endStreams = context.WithCancel(context.Background())

	var h http.Handler = a.mux
	h = a.withAuthResult(h)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = RateLimit(ctx, h, a.rateBurst, a.ratePerSec)
	h = CORS(h, a.allowedOrigins)
	h = SecurityHeaders(h)
	h = Logging(a.logger)(h)
	h = RequestID(h)
	a.handler = obs.Instrument(h)
	return a
}

// Handler возвращает http.Handler для сервера (без доп. аргументов).
func (a *API) Handler() http.Handler { return a.handler }

// Close ends open event streams and stops the rate limiter's cleanup goroutine.
func (a *API) Close() {
	a.endStreams()
	a.stop()
}

// StopStreams ends every open event stream. http.Server.Shutdown does not
// cancel request contexts, so register it with RegisterOnShutdown.
func (a *API) StopStreams() { a.endStreams() }

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
