package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"pagat.app/internal/audit"
	"pagat.app/internal/auth"
	"pagat.app/internal/migrate"
	"pagat.app/internal/oauth"
	"pagat.app/internal/passkey"
	"pagat.app/internal/session"
	"pagat.app/internal/store"
	"pagat.app/migrations"
)

const (
	testRPID   = "pagat.test"
	testOrigin = "https://pagat.test"
)

type stubExchanger struct {
	profile oauth.Profile
}

func (s *stubExchanger) AuthCodeURL(state string) string {
	return "https://accounts.example/auth?state=" + state
}

func (s *stubExchanger) Exchange(context.Context, string) (oauth.Profile, error) {
	return s.profile, nil
}

type testEnv struct {
	t      *testing.T
	db     *store.DB
	srv    *httptest.Server
	google *stubExchanger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open("sqlite", filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	m, err := migrate.NewManager(db, migrations.FS)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := m.Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	recorder := audit.NewRecorder(db.AuditLog())
	svc, err := auth.NewService(db.Users(),
		auth.WithRecorder(recorder),
		auth.WithBcryptCost(bcrypt.MinCost),
		auth.WithBootstrap(auth.Bootstrap{Username: "root", Password: "root-pass", RecreateOnLogin: true}),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, err := svc.EnsureBootstrapAdmin(ctx); err != nil {
		t.Fatalf("EnsureBootstrapAdmin: %v", err)
	}
	dir, err := auth.NewDirectory(db.Users(), recorder)
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	sessions := session.NewManager(db.Sessions(), session.Config{
		CookieName:   "pagat_sid",
		Secret:       []byte("0123456789abcdef0123456789abcdef"),
		RememberFor:  24 * time.Hour,
		EphemeralTTL: time.Hour,
	})
	rp := passkey.StaticRP{RP: passkey.RelyingParty{ID: testRPID, Origin: testOrigin, DisplayName: "Pagat"}}
	passkeys, err := passkey.NewManager(db.Credentials(), db.Users(), rp, passkey.WithRecorder(recorder))
	if err != nil {
		t.Fatalf("passkey.NewManager: %v", err)
	}
	google := &stubExchanger{}
	signer, err := oauth.NewStateSigner([]byte("0123456789abcdef0123456789abcdef"), time.Minute, nil)
	if err != nil {
		t.Fatalf("NewStateSigner: %v", err)
	}
	oauthSvc, err := oauth.NewService(google, signer, db.Users(), oauth.WithRecorder(recorder))
	if err != nil {
		t.Fatalf("oauth.NewService: %v", err)
	}

	api, err := New(Deps{
		Ready:     db,
		Auth:      svc,
		Directory: dir,
		Sessions:  sessions,
		Passkeys:  passkeys,
		OAuth:     oauthSvc,
		Audit:     recorder,
	}, Options{
		Version:               "test",
		RatePerSec:            1000,
		RateBurst:             1000,
		GoogleSuccessRedirect: "https://app.pagat.test/?google=1",
		GooglePendingRedirect: "https://app.pagat.test/?pending=1",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{t: t, db: db, srv: srv, google: google}
}

// client is a browser: it keeps cookies and does not follow redirects.
type client struct {
	env  *testEnv
	http *http.Client
}

func (e *testEnv) client() *client {
	e.t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		e.t.Fatalf("cookiejar: %v", err)
	}
	return &client{env: e, http: &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}}
}

func (c *client) do(method, path string, body any) *http.Response {
	c.env.t.Helper()
	var payload []byte
	switch v := body.(type) {
	case nil:
	case []byte:
		payload = v
	default:
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.env.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.env.srv.URL+path, bytes.NewReader(payload))
	if err != nil {
		c.env.t.Fatalf("new request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Origin", testOrigin)
	resp, err := c.http.Do(req)
	if err != nil {
		c.env.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func (c *client) post(path string, body any) *http.Response { return c.do(http.MethodPost, path, body) }
func (c *client) get(path string) *http.Response { return c.do(http.MethodGet, path, nil) }

func (c *client) login(username, password string) {
	c.env.t.Helper()
	resp := c.post("/api/login", map[string]any{"username": username, "password": password})
	expectStatus(c.env.t, resp, http.StatusOK)
	resp.Body.Close()
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		var body bytes.Buffer
		_, _ = body.ReadFrom(resp.Body)
		resp.Body.Close()
		t.Fatalf("%s %s: status %d, want %d: %s", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, body.String())
	}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func (e *testEnv) userID(username string) int64 {
	e.t.Helper()
	u, err := e.db.Users().FindByUsername(context.Background(), username)
	if err != nil {
		e.t.Fatalf("FindByUsername(%s): %v", username, err)
	}
	return u.ID
}
