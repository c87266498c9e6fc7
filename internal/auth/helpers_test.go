package auth

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"pagat.app/internal/audit"
	"pagat.app/internal/migrate"
	"pagat.app/internal/store"
	"pagat.app/migrations"
)

type recordings struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordings) Record(_ context.Context, e audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recordings) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Entity+"/"+e.Action)
	}
	return out
}

func openUsers(t *testing.T) *store.Users {
	t.Helper()
	db, err := store.Open("sqlite", filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	mgr, err := migrate.NewManager(db, migrations.FS)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := mgr.Up(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db.Users()
}

type fixture struct {
	users *store.Users
	rec   *recordings
	svc   *Service
	dir   *Directory
	now   time.Time
}

func newFixture(t *testing.T, opts ...ServiceOption) *fixture {
	t.Helper()
	f := &fixture{
		users: openUsers(t),
		rec:   &recordings{},
		now:   time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
	}
	base := []ServiceOption{
		WithRecorder(f.rec),
		WithBcryptCost(bcrypt.MinCost),
		WithClock(func() time.Time { return f.now }),
		WithBootstrap(Bootstrap{Username: "root", Password: "root-pass", RecreateOnLogin: true}),
	}
	svc, err := NewService(f.users, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	dir, err := NewDirectory(f.users, f.rec)
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	f.svc, f.dir = svc, dir
	return f
}

func (f *fixture) seed(t *testing.T, u store.User) *store.User {
	t.Helper()
	if err := f.users.Create(context.Background(), &u); err != nil {
		t.Fatalf("seed %s: %v", u.Username, err)
	}
	return &u
}

func (f *fixture) admin(t *testing.T) Identity {
	t.Helper()
	hash, err := HashPassword("admin-pass", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := f.seed(t, store.User{Username: "boss", PasswordHash: hash, Approved: store.Approved, Role: store.RoleAdmin})
	return IdentityOf(u)
}
