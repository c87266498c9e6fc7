package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"time"

	"pagat.app/internal/audit"
	"pagat.app/internal/auth"
	"pagat.app/internal/oauth"
	"pagat.app/internal/obs"
	"pagat.app/internal/passkey"
	"pagat.app/internal/session"
	"pagat.app/internal/store"
)

// ReadyProbe reports whether the service can reach its dependencies.
type ReadyProbe interface {
	Ping(ctx context.Context) error
}

// AuditLog is the audit surface the HTTP layer uses.
type AuditLog interface {
	Record(ctx context.Context, e audit.Entry)
	Query(ctx context.Context, f audit.Filter) ([]store.AuditEntry, error)
}

// Deps are the services behind the routes. OAuth may be nil when Google
// login is not configured.
type Deps struct {
	Ready     ReadyProbe
	Auth      *auth.Service
	Directory *auth.Directory
	Sessions  *session.Manager
	Passkeys  *passkey.Manager
	OAuth     *oauth.Service
	Audit     AuditLog
}

// Options tune the HTTP surface.
type Options struct {
	Version      string
	Debug        bool
	CORSOrigins  []string
	MaxBodyBytes int64
	RatePerSec   float64
	RateBurst    int

	// TrustedProxies lists the peers whose X-Forwarded-For is believed,
	// as CIDR prefixes or addresses.
	TrustedProxies []string

	// GoogleSuccessRedirect and GooglePendingRedirect are where the OAuth
	// callback sends the browser.
	GoogleSuccessRedirect string
	GooglePendingRedirect string
}

// API is the HTTP layer.
type API struct {
	mux     *http.ServeMux
	deps    Deps
	opts    Options
	trusted []netip.Prefix
}

func New(deps Deps, opts Options) (*API, error) {
	if deps.Auth == nil || deps.Directory == nil || deps.Sessions == nil || deps.Passkeys == nil || deps.Audit == nil {
		return nil, errors.New("httpapi: auth, directory, sessions, passkeys and audit are required")
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 20
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 40
	}
	trusted, err := ParseTrustedProxies(opts.TrustedProxies)
	if err != nil {
		return nil, err
	}
	a := &API{mux: http.NewServeMux(), deps: deps, opts: opts, trusted: trusted}
	a.routes()
	return a, nil
}

func (a *API) routes() {
	a.mux.HandleFunc("GET /api/health", a.Healthz)
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("POST /api/register", a.handleRegister)
	a.mux.HandleFunc("POST /api/login", a.handleLogin)
	a.mux.HandleFunc("POST /api/logout", a.handleLogout)
	a.mux.HandleFunc("GET /api/me", a.handleMe)

	a.mux.Handle("POST /api/webauthn/register/start", a.requireAuthenticated(http.HandlerFunc(a.handlePasskeyRegisterStart)))
	a.mux.Handle("POST /api/webauthn/register/finish", a.requireAuthenticated(http.HandlerFunc(a.handlePasskeyRegisterFinish)))
	a.mux.HandleFunc("POST /api/webauthn/auth/start", a.handlePasskeyLoginStart)
	a.mux.HandleFunc("POST /api/webauthn/auth/finish", a.handlePasskeyLoginFinish)
	a.mux.Handle("GET /api/webauthn/credentials", a.requireAuthenticated(http.HandlerFunc(a.handleCredentialList)))
	a.mux.Handle("PUT /api/webauthn/credentials/{id}", a.requireAuthenticated(http.HandlerFunc(a.handleCredentialRename)))
	a.mux.Handle("DELETE /api/webauthn/credentials/{id}", a.requireAuthenticated(http.HandlerFunc(a.handleCredentialDelete)))

	a.mux.HandleFunc("GET /api/auth/google", a.handleGoogleStart)
	a.mux.HandleFunc("GET /api/auth/google/callback", a.handleGoogleCallback)

	a.mux.Handle("GET /api/admin/users", a.requireAdmin(http.HandlerFunc(a.handleAdminUsers)))
	a.mux.Handle("POST /api/admin/users/{id}/approve", a.requireAdmin(http.HandlerFunc(a.handleAdminApprove)))
	a.mux.Handle("POST /api/admin/users/{id}/reject", a.requireAdmin(http.HandlerFunc(a.handleAdminReject)))
	a.mux.Handle("POST /api/admin/users/{id}/role", a.requireAdmin(http.HandlerFunc(a.handleAdminRole)))
	a.mux.Handle("DELETE /api/admin/users/{id}", a.requireAdmin(http.HandlerFunc(a.handleAdminDelete)))
	a.mux.Handle("GET /api/admin/audit", a.requireAdmin(http.HandlerFunc(a.handleAdminAudit)))
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	h = RateLimit(h, a.opts.RateBurst, a.opts.RatePerSec)
	h = CORS(h, a.opts.CORSOrigins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RealIP(h, a.trusted)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "pagat-api",
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if a.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.deps.Ready.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
