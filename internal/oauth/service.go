// Package oauth implements Google sign-in through the OpenID Connect
// authorization-code flow.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"pagat.app/internal/audit"
	"pagat.app/internal/auth"
	"pagat.app/internal/obs"
	"pagat.app/internal/store"
)

// FederatedPassword is stored in place of a hash for federated users. It is
// never a valid bcrypt hash, so password login cannot succeed against it.
const FederatedPassword = store.ProviderGoogle

// UserStore is the user persistence the flow needs.
type UserStore interface {
	FindByUsername(ctx context.Context, username string) (*store.User, error)
	Create(ctx context.Context, u *store.User) error
	UpdateLoginMetadata(ctx context.Context, id int64, ip string, at time.Time) error
}

// Service ties the state signer, the provider and the user store together.
type Service struct {
	exchanger Exchanger
	state     *StateSigner
	users     UserStore
	recorder  auth.Recorder
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures Service.
type Option func(*Service)

func WithRecorder(r auth.Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewService(exchanger Exchanger, state *StateSigner, users UserStore, opts ...Option) (*Service, error) {
	if exchanger == nil || state == nil || users == nil {
		return nil, errors.New("oauth: exchanger, state signer and user store are required")
	}
	s := &Service{
		exchanger: exchanger,
		state:     state,
		users:     users,
		recorder:  nopRecorder{},
		now:       time.Now,
		logger:    obs.Component("oauth"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, audit.Entry) {}

// Start returns the provider URL to send the browser to and the nonce the
// browser's session must present on the callback.
func (s *Service) Start() (redirect, nonce string, err error) {
	state, nonce, err := s.state.Issue()
	if err != nil {
		return "", "", err
	}
	return s.exchanger.AuthCodeURL(state), nonce, nil
}

// Callback is what the provider redirect carries, plus the nonce saved in
// the session that called Start.
type Callback struct {
	State string
	Nonce string
	Code  string
	IP    string
}

// Complete handles the provider callback. Federated users are created
// pending on first sight. The returned user is non-nil whenever the
// account exists, including when the approval gate fails.
func (s *Service) Complete(ctx context.Context, cb Callback) (*store.User, error) {
	u, err := s.complete(ctx, cb)
	obs.ObserveAuth(store.ProviderGoogle, auth.Outcome(err))
	return u, err
}

func (s *Service) complete(ctx context.Context, cb Callback) (*store.User, error) {
	if err := s.state.Verify(cb.State, cb.Nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrVerificationFailed, err)
	}
	code, ip := cb.Code, cb.IP
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("%w: code is required", auth.ErrInvalidInput)
	}
	profile, err := s.exchanger.Exchange(ctx, code)
	if err != nil {
		s.logger.Warn("code exchange failed", "error", err)
		return nil, fmt.Errorf("%w: %v", auth.ErrVerificationFailed, err)
	}
	username := strings.TrimSpace(profile.Email)
	if username == "" {
		username = strings.TrimSpace(profile.Subject)
	}
	if username == "" {
		return nil, fmt.Errorf("%w: id token names no subject", auth.ErrVerificationFailed)
	}

	u, err := s.findOrCreate(ctx, username, profile.Name, ip)
	if err != nil {
		return nil, err
	}
	if u.Provider != store.ProviderGoogle {
		return nil, auth.ErrWrongAuthMethod
	}
	now := s.now().UTC()
	if err := s.users.UpdateLoginMetadata(ctx, u.ID, ip, now); err != nil {
		return nil, fmt.Errorf("recording login: %w", err)
	}
	u.LastLoginIP = ip
	if u.CreatedIP == "" {
		u.CreatedIP = ip
	}
	if err := auth.Gate(u.Approved); err != nil {
		return u, err
	}
	s.recorder.Record(ctx, audit.Entry{
		Entity:   "auth",
		EntityID: strconv.FormatInt(u.ID, 10),
		Action:   "login",
		Username: u.Username,
		Info:     "method=google ip=" + ip,
	})
	return u, nil
}

func (s *Service) findOrCreate(ctx context.Context, username, displayName, ip string) (*store.User, error) {
	u, err := s.users.FindByUsername(ctx, username)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	u = &store.User{
		Username:     username,
		PasswordHash: FederatedPassword,
		Approved:     store.Pending,
		Provider:     store.ProviderGoogle,
		DisplayName:  strings.TrimSpace(displayName),
		Role:         store.RoleUser,
		CreatedIP:    ip,
	}
	err = s.users.Create(ctx, u)
	if errors.Is(err, store.ErrConflict) {
		// Concurrent first login; use the row that won.
		return s.users.FindByUsername(ctx, username)
	}
	if err != nil {
		return nil, fmt.Errorf("creating federated user: %w", err)
	}
	s.logger.Info("federated user created", "user_id", u.ID, "provider", u.Provider)
	s.recorder.Record(ctx, audit.Entry{
		Entity:   "user",
		EntityID: strconv.FormatInt(u.ID, 10),
		Action:   "register",
		Username: u.Username,
		Info:     "provider=google",
	})
	return u, nil
}
