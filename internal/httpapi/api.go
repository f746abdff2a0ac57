package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"sharedview.org/internal/auth"
	"sharedview.org/internal/config"
	"sharedview.org/internal/dashboard"
	"sharedview.org/internal/obs"
	"sharedview.org/internal/token"
	"sharedview.org/internal/visuals"
)

// ReadyProbe reports whether the backing store is reachable.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps collects everything the HTTP layer serves.
type Deps struct {
	Directory  auth.Directory
	Registry   *auth.PermissionRegistry
	Resolver   *visuals.Resolver
	Dashboards dashboard.Table
	Views      visuals.Table
	Authority  *dashboard.TokenAuthority
	Tokens     token.Store
	ReadyProbe ReadyProbe
	Version    string
	Edition    config.Edition
	SessionTTL time.Duration
	Debug      bool
	RateBurst  int
	RatePerSec int
}

// API is the HTTP layer: the management surface under /v1 and the
// token-authenticated shared pages under /shared.
type API struct {
	mux        *http.ServeMux
	directory  auth.Directory
	registry   *auth.PermissionRegistry
	resolver   *visuals.Resolver
	dashboards dashboard.Table
	views      visuals.Table
	authority  *dashboard.TokenAuthority
	tokens     token.Store
	readyProbe ReadyProbe
	version    string
	edition    config.Edition
	sessionTTL time.Duration
	debug      bool
	rateBurst  int
	ratePerSec int
}

func New(d Deps) *API {
	a := &API{
		mux:        http.NewServeMux(),
		directory:  d.Directory,
		registry:   d.Registry,
		resolver:   d.Resolver,
		dashboards: d.Dashboards,
		views:      d.Views,
		authority:  d.Authority,
		tokens:     d.Tokens,
		readyProbe: d.ReadyProbe,
		version:    d.Version,
		edition:    d.Edition,
		sessionTTL: d.SessionTTL,
		debug:      d.Debug,
		rateBurst:  d.RateBurst,
		ratePerSec: d.RatePerSec,
	}
	if a.sessionTTL <= 0 {
		a.sessionTTL = 15 * time.Minute
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// management surface
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)
	a.mux.HandleFunc("/v1/dashboards/", a.handleDashboardScoped)
	a.mux.HandleFunc("/v1/visuals/", a.handleVisuals)

	// token-authenticated shared pages
	a.mux.HandleFunc("/shared/dashboard", a.handleSharedDashboard)
	a.mux.HandleFunc("/shared/widget", a.handleSharedWidget)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	if a.rateBurst > 0 && a.ratePerSec > 0 {
		h = RateLimit(h, a.rateBurst, a.ratePerSec)
	}
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "sharedview-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "sharedview-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
		"edition": string(a.edition),
	})
}
