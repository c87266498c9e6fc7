package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"pagat.app/internal/store"
)

type notApprovedBody struct {
	Pending  bool `json:"pending"`
	Rejected bool `json:"rejected"`
}

type loginBody struct {
	Success bool     `json:"success"`
	User    userView `json:"user"`
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)
	c := env.client()
	for _, path := range []string{"/api/health", "/healthz", "/readyz"} {
		resp := c.get(path)
		expectStatus(t, resp, http.StatusOK)
		if resp.Header.Get("X-Request-ID") == "" {
			t.Fatalf("%s: missing request id header", path)
		}
		resp.Body.Close()
	}
}

func TestApprovalLifecycle(t *testing.T) {
	env := newTestEnv(t)
	alice := env.client()

	resp := alice.post("/api/register", map[string]any{"username": "alice", "password": "secret1"})
	expectStatus(t, resp, http.StatusOK)
	reg := decode[map[string]any](t, resp)
	if reg["success"] != true || reg["pending"] != true {
		t.Fatalf("unexpected register body %v", reg)
	}

	resp = alice.post("/api/register", map[string]any{"username": "ALICE", "password": "other"})
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	resp = alice.post("/api/login", map[string]any{"username": "alice", "password": "secret1"})
	expectStatus(t, resp, http.StatusForbidden)
	if body := decode[notApprovedBody](t, resp); !body.Pending || body.Rejected {
		t.Fatalf("expected pending, got %+v", body)
	}
	resp = alice.get("/api/me")
	expectStatus(t, resp, http.StatusForbidden)
	if body := decode[notApprovedBody](t, resp); !body.Pending || body.Rejected {
		t.Fatalf("expected pending session after register, got %+v", body)
	}

	admin := env.client()
	admin.login("root", "root-pass")
	aliceID := env.userID("alice")
	resp = admin.post("/api/admin/users/"+strconv.FormatInt(aliceID, 10)+"/approve", nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = alice.post("/api/login", map[string]any{"username": "alice", "password": "secret1", "remember": true})
	expectStatus(t, resp, http.StatusOK)
	body := decode[loginBody](t, resp)
	if !body.Success || body.User.Role != store.RoleUser || body.User.ID != aliceID {
		t.Fatalf("unexpected login body %+v", body)
	}

	resp = alice.get("/api/me")
	expectStatus(t, resp, http.StatusOK)
	me := decode[map[string]userView](t, resp)
	if me["user"].Username != "alice" || me["user"].Approved != store.Approved {
		t.Fatalf("unexpected me %+v", me)
	}
	if me["user"].Provider != store.ProviderLocal || me["user"].LastLoginIP == "" || me["user"].CreatedAt == nil || me["user"].UpdatedAt == nil {
		t.Fatalf("me should return the stored row, got %+v", me["user"])
	}

	// Rejection applies to the live session on the next read.
	resp = admin.post("/api/admin/users/"+strconv.FormatInt(aliceID, 10)+"/reject", nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
	resp = alice.get("/api/me")
	expectStatus(t, resp, http.StatusForbidden)
	if body := decode[notApprovedBody](t, resp); body.Pending || !body.Rejected {
		t.Fatalf("expected rejected, got %+v", body)
	}
}

func TestRoleChangeAppliesToLiveSession(t *testing.T) {
	env := newTestEnv(t)
	admin := env.client()
	admin.login("root", "root-pass")

	bob := env.client()
	resp := bob.post("/api/register", map[string]any{"username": "bob", "password": "pw"})
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
	bobPath := "/api/admin/users/" + strconv.FormatInt(env.userID("bob"), 10)
	resp = admin.post(bobPath+"/approve", nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
	bob.login("bob", "pw")

	resp = bob.get("/api/admin/users")
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = admin.post(bobPath+"/role", map[string]any{"role": "admin"})
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
	resp = bob.get("/api/admin/users?status=approved")
	expectStatus(t, resp, http.StatusOK)
	users := decode[map[string][]userView](t, resp)
	if len(users["users"]) != 2 {
		t.Fatalf("expected root and bob, got %+v", users)
	}

	resp = admin.post(bobPath+"/role", map[string]any{"role": "owner"})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestLoginErrors(t *testing.T) {
	env := newTestEnv(t)
	c := env.client()

	cases := []struct {
		body any
		want int
	}{
		{map[string]any{"username": "root", "password": "wrong"}, http.StatusUnauthorized},
		{map[string]any{"username": "ghost", "password": "x"}, http.StatusUnauthorized},
		{map[string]any{"username": "", "password": "x"}, http.StatusBadRequest},
		{map[string]any{"username": "root", "password": "x", "extra": 1}, http.StatusBadRequest},
		{nil, http.StatusBadRequest},
	}
	for _, tc := range cases {
		resp := c.post("/api/login", tc.body)
		expectStatus(t, resp, tc.want)
		resp.Body.Close()
	}
}

func TestLoginLimiterIgnoresForwardedFor(t *testing.T) {
	env := newTestEnv(t)
	c := env.client()
	attempt := func(i int) int {
		t.Helper()
		payload := strings.NewReader(`{"username":"root","password":"wrong"}`)
		req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/api/login", payload)
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.%d.%d", i/250, i%250+1))
		resp, err := c.http.Do(req)
		if err != nil {
			t.Fatalf("login attempt %d: %v", i, err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}
	for i := 1; i <= 100; i++ {
		if code := attempt(i); code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status %d, want 401", i, code)
		}
	}
	if code := attempt(101); code != http.StatusTooManyRequests {
		t.Fatalf("attempt 101: status %d, want 429", code)
	}
}

func TestLogoutDestroysSession(t *testing.T) {
	env := newTestEnv(t)
	c := env.client()
	c.login("root", "root-pass")

	resp := c.get("/api/me")
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.post("/api/logout", nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.get("/api/me")
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	entries, err := env.db.AuditLog().Query(context.Background(), store.AuditFilter{Action: "logout"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 || entries[0].Username != "root" {
		t.Fatalf("expected one logout entry, got %+v", entries)
	}
}

func TestDeletedUserLosesSession(t *testing.T) {
	env := newTestEnv(t)
	admin := env.client()
	admin.login("root", "root-pass")

	carol := env.client()
	resp := carol.post("/api/register", map[string]any{"username": "carol", "password": "pw"})
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
	carolPath := "/api/admin/users/" + strconv.FormatInt(env.userID("carol"), 10)
	resp = admin.post(carolPath+"/approve", nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
	carol.login("carol", "pw")

	resp = admin.do(http.MethodDelete, carolPath, nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = carol.get("/api/me")
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	rootPath := "/api/admin/users/" + strconv.FormatInt(env.userID("root"), 10)
	resp = admin.do(http.MethodDelete, rootPath, nil)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()
}

func TestAdminAuditQuery(t *testing.T) {
	env := newTestEnv(t)
	admin := env.client()
	admin.login("root", "root-pass")

	anon := env.client()
	resp := anon.get("/api/admin/audit")
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = admin.get("/api/admin/audit?entity=auth&action=login&user=ROOT&limit=5")
	expectStatus(t, resp, http.StatusOK)
	body := decode[map[string][]store.AuditEntry](t, resp)
	if len(body["entries"]) != 1 || body["entries"][0].Info == "" {
		t.Fatalf("unexpected audit entries %+v", body)
	}

	resp = admin.get("/api/admin/audit?limit=lots")
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestGoogleCallback(t *testing.T) {
	env := newTestEnv(t)
	env.google.profile.Email = "dana@example.com"
	env.google.profile.Name = "Dana"
	dana := env.client()

	callback := func() *http.Response {
		t.Helper()
		resp := dana.get("/api/auth/google")
		expectStatus(t, resp, http.StatusFound)
		resp.Body.Close()
		target, err := resp.Location()
		if err != nil {
			t.Fatalf("Location: %v", err)
		}
		return dana.get("/api/auth/google/callback?code=abc&state=" + target.Query().Get("state"))
	}

	resp := callback()
	expectStatus(t, resp, http.StatusFound)
	resp.Body.Close()
	if loc := resp.Header.Get("Location"); loc != "https://app.pagat.test/?pending=1" {
		t.Fatalf("expected pending redirect, got %q", loc)
	}

	admin := env.client()
	admin.login("root", "root-pass")
	resp = admin.post("/api/admin/users/"+strconv.FormatInt(env.userID("dana@example.com"), 10)+"/approve", nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = callback()
	expectStatus(t, resp, http.StatusFound)
	resp.Body.Close()
	if loc := resp.Header.Get("Location"); loc != "https://app.pagat.test/?google=1" {
		t.Fatalf("expected success redirect, got %q", loc)
	}
	resp = dana.get("/api/me")
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = dana.get("/api/auth/google/callback?code=abc&state=forged")
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = dana.post("/api/login", map[string]any{"username": "dana@example.com", "password": "google"})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestGoogleStateBoundToStartingBrowser(t *testing.T) {
	env := newTestEnv(t)
	env.google.profile.Email = "mallory@example.com"
	ctx := context.Background()

	attacker := env.client()
	resp := attacker.get("/api/auth/google")
	expectStatus(t, resp, http.StatusFound)
	resp.Body.Close()
	target, err := resp.Location()
	if err != nil {
		t.Fatalf("Location: %v", err)
	}
	state := target.Query().Get("state")

	// Pre-approve so a successful callback would issue a session.
	resp = attacker.get("/api/auth/google/callback?code=abc&state=" + state)
	expectStatus(t, resp, http.StatusFound)
	resp.Body.Close()
	if err := env.db.Users().UpdateApproval(ctx, env.userID("mallory@example.com"), store.Approved); err != nil {
		t.Fatalf("UpdateApproval: %v", err)
	}

	// The consumed state cannot be replayed by the browser that started it.
	resp = attacker.get("/api/auth/google/callback?code=abc&state=" + state)
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = attacker.get("/api/auth/google")
	expectStatus(t, resp, http.StatusFound)
	resp.Body.Close()
	target, err = resp.Location()
	if err != nil {
		t.Fatalf("Location: %v", err)
	}

	victim := env.client()
	resp = victim.get("/api/auth/google/callback?code=abc&state=" + target.Query().Get("state"))
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
	resp = victim.get("/api/me")
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	// A victim with a flow of their own still cannot use the other state.
	resp = victim.get("/api/auth/google")
	expectStatus(t, resp, http.StatusFound)
	resp.Body.Close()
	resp = victim.get("/api/auth/google/callback?code=abc&state=" + target.Query().Get("state"))
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
	resp = victim.get("/api/me")
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestInternalErrorDetailOnlyInDebug(t *testing.T) {
	for _, debug := range []bool{false, true} {
		a := &API{opts: Options{Debug: debug}}
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		a.handleError(rr, req, errors.New("disk on fire"))
		if rr.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d", rr.Code)
		}
		body := rr.Body.String()
		leaked := strings.Contains(body, "disk on fire")
		if leaked != debug {
			t.Fatalf("debug=%v leaked=%v body=%s", debug, leaked, body)
		}
	}
}
