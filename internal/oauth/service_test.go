package oauth

import (
	"context"
	"errors"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagat.app/internal/audit"
	"pagat.app/internal/auth"
	"pagat.app/internal/migrate"
	"pagat.app/internal/store"
	"pagat.app/migrations"
)

type stubExchanger struct {
	profile Profile
	err     error
	codes   []string
}

func (s *stubExchanger) AuthCodeURL(state string) string {
	return "https://accounts.example/auth?state=" + url.QueryEscape(state)
}

func (s *stubExchanger) Exchange(_ context.Context, code string) (Profile, error) {
	s.codes = append(s.codes, code)
	return s.profile, s.err
}

type recordings []audit.Entry

func (r *recordings) Record(_ context.Context, e audit.Entry) { *r = append(*r, e) }

type fixture struct {
	users *store.Users
	ex    *stubExchanger
	svc   *Service
	rec   *recordings
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open("sqlite", filepath.Join(t.TempDir(), "oauth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	m, err := migrate.NewManager(db, migrations.FS)
	require.NoError(t, err)
	_, err = m.Up(context.Background())
	require.NoError(t, err)

	signer, err := NewStateSigner([]byte("0123456789abcdef0123456789abcdef"), time.Minute, nil)
	require.NoError(t, err)
	f := &fixture{users: db.Users(), ex: &stubExchanger{}, rec: &recordings{}}
	f.svc, err = NewService(f.ex, signer, f.users, WithRecorder(f.rec))
	require.NoError(t, err)
	return f
}

// callback starts a flow and returns what the provider redirect and the
// starting session would present.
func (f *fixture) callback(t *testing.T, code, ip string) Callback {
	t.Helper()
	redirect, nonce, err := f.svc.Start()
	require.NoError(t, err)
	require.NotEmpty(t, nonce)
	u, err := url.Parse(redirect)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)
	return Callback{State: state, Nonce: nonce, Code: code, IP: ip}
}

func TestCompleteCreatesPendingFederatedUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ex.profile = Profile{Subject: "1234", Email: "carol@example.com", Name: "Carol"}

	u, err := f.svc.Complete(ctx, f.callback(t, "code-1", "198.51.100.4"))
	require.ErrorIs(t, err, auth.ErrPending)
	require.NotNil(t, u)
	assert.Equal(t, "carol@example.com", u.Username)
	assert.Equal(t, store.ProviderGoogle, u.Provider)
	assert.Equal(t, "Carol", u.DisplayName)

	stored, err := f.users.FindByUsername(ctx, "carol@example.com")
	require.NoError(t, err)
	assert.Equal(t, store.Pending, stored.Approved)
	assert.Equal(t, FederatedPassword, stored.PasswordHash)
	assert.Equal(t, "198.51.100.4", stored.CreatedIP)
	assert.Equal(t, "198.51.100.4", stored.LastLoginIP)
	assert.Equal(t, []string{"code-1"}, f.ex.codes)

	require.NoError(t, f.users.UpdateApproval(ctx, stored.ID, store.Approved))
	u, err = f.svc.Complete(ctx, f.callback(t, "code-2", "198.51.100.5"))
	require.NoError(t, err)
	assert.Equal(t, stored.ID, u.ID)

	var actions []string
	for _, e := range *f.rec {
		actions = append(actions, e.Entity+"/"+e.Action)
	}
	assert.Equal(t, []string{"user/register", "auth/login"}, actions)
}

func TestCompleteFallsBackToSubject(t *testing.T) {
	f := newFixture(t)
	f.ex.profile = Profile{Subject: "sub-42"}
	u, err := f.svc.Complete(context.Background(), f.callback(t, "code", ""))
	require.ErrorIs(t, err, auth.ErrNotApproved)
	assert.Equal(t, "sub-42", u.Username)
}

func TestCompleteRejectsBadState(t *testing.T) {
	f := newFixture(t)
	f.ex.profile = Profile{Email: "carol@example.com"}
	cb := f.callback(t, "code", "")
	forged := cb
	forged.State = "forged"
	_, err := f.svc.Complete(context.Background(), forged)
	require.ErrorIs(t, err, auth.ErrVerificationFailed)

	// A valid state presented without the session that started the flow.
	other := f.callback(t, "code", "")
	stolen := cb
	stolen.State = other.State
	_, err = f.svc.Complete(context.Background(), stolen)
	require.ErrorIs(t, err, auth.ErrVerificationFailed)
	stolen.Nonce = ""
	_, err = f.svc.Complete(context.Background(), stolen)
	require.ErrorIs(t, err, auth.ErrVerificationFailed)
	assert.Empty(t, f.ex.codes, "code must not be exchanged")
}

func TestCompleteExchangeFailure(t *testing.T) {
	f := newFixture(t)
	f.ex.err = errors.New("invalid_grant")
	_, err := f.svc.Complete(context.Background(), f.callback(t, "code", ""))
	require.ErrorIs(t, err, auth.ErrVerificationFailed)

	f.ex.err = nil
	_, err = f.svc.Complete(context.Background(), f.callback(t, "  ", ""))
	require.ErrorIs(t, err, auth.ErrInvalidInput)
}

func TestCompleteRefusesLocalAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.users.Create(ctx, &store.User{
		Username: "dave@example.com", PasswordHash: "$2a$10$x", Approved: store.Approved,
	}))
	f.ex.profile = Profile{Email: "Dave@example.com"}
	_, err := f.svc.Complete(ctx, f.callback(t, "code", ""))
	require.ErrorIs(t, err, auth.ErrWrongAuthMethod)
}

func TestPasswordLoginRefusesFederatedAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ex.profile = Profile{Email: "erin@example.com"}
	u, _ := f.svc.Complete(ctx, f.callback(t, "code", ""))
	require.NotNil(t, u)
	require.NoError(t, f.users.UpdateApproval(ctx, u.ID, store.Approved))

	svc, err := auth.NewService(f.users)
	require.NoError(t, err)
	_, err = svc.Login(ctx, auth.Credentials{Username: "erin@example.com", Password: FederatedPassword})
	require.ErrorIs(t, err, auth.ErrWrongAuthMethod)
}
