// Package auth verifies passwords, gates sessions on approval and manages
// the user directory.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"pagat.app/internal/audit"
	"pagat.app/internal/obs"
	"pagat.app/internal/store"
)

// Bootstrap describes the reserved administrator account.
type Bootstrap struct {
	Username string
	Password string
	// RecreateOnLogin recreates the account when a login names it and it no
	// longer exists.
	RecreateOnLogin bool
}

// Service authenticates local users and registers new ones.
type Service struct {
	users     UserStore
	recorder  Recorder
	limiter   Limiter
	bootstrap Bootstrap
	cost      int
	now       func() time.Time
	logger    *slog.Logger
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithLimiter replaces the default per-IP login limiter.
func WithLimiter(l Limiter) ServiceOption {
	return func(s *Service) error {
		if l == nil {
			return errors.New("limiter is required")
		}
		s.limiter = l
		return nil
	}
}

// WithRecorder sets the audit recorder.
func WithRecorder(r Recorder) ServiceOption {
	return func(s *Service) error {
		if r != nil {
			s.recorder = r
		}
		return nil
	}
}

// WithBootstrap configures the reserved administrator account.
func WithBootstrap(b Bootstrap) ServiceOption {
	return func(s *Service) error {
		b.Username = strings.TrimSpace(b.Username)
		if b.Username == "" || b.Password == "" {
			return fmt.Errorf("%w: bootstrap username and password are required", ErrInvalidInput)
		}
		s.bootstrap = b
		return nil
	}
}

// WithBcryptCost overrides the bcrypt cost for new hashes.
func WithBcryptCost(cost int) ServiceOption {
	return func(s *Service) error {
		if cost > 0 {
			s.cost = cost
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(users UserStore, opts ...ServiceOption) (*Service, error) {
	if users == nil {
		return nil, errors.New("user store is required")
	}
	svc := &Service{
		users:     users,
		recorder:  nopRecorder{},
		bootstrap: Bootstrap{Username: "admin", Password: "admin", RecreateOnLogin: true},
		cost:      DefaultCost,
		now:       time.Now,
		logger:    obs.Component("auth"),
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if svc.limiter == nil {
		svc.limiter = NewFixedWindowLimiter(DefaultLoginWindow, DefaultLoginAttempts, WithLimiterClock(svc.now))
	}
	return svc, nil
}

// Credentials is a password login attempt. IP is the limiter key.
type Credentials struct {
	Username string
	Password string
	IP       string
}

// Login verifies a username and password. Legacy plaintext passwords are
// upgraded to bcrypt on first use. Only approved users get a nil error;
// pending and rejected users get ErrPending or ErrRejected after their
// password has been verified.
func (s *Service) Login(ctx context.Context, c Credentials) (*store.User, error) {
	u, err := s.login(ctx, c)
	obs.ObserveAuth("password", Outcome(err))
	return u, err
}

func (s *Service) login(ctx context.Context, c Credentials) (*store.User, error) {
	if !s.limiter.Allow(c.IP) {
		return nil, ErrTooManyAttempts
	}
	username := strings.TrimSpace(c.Username)
	if username == "" || c.Password == "" {
		return nil, fmt.Errorf("%w: username and password are required", ErrInvalidInput)
	}

	u, err := s.users.FindByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) && s.isBootstrap(username) && s.bootstrap.RecreateOnLogin {
		s.logger.Warn("bootstrap admin missing, recreating", "username", s.bootstrap.Username)
		u, err = s.createBootstrapAdmin(ctx)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	if u.Provider != "" && u.Provider != store.ProviderLocal {
		return nil, ErrWrongAuthMethod
	}
	ok, upgrade := checkPassword(u.PasswordHash, c.Password)
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if upgrade {
		hash, err := HashPassword(c.Password, s.cost)
		if err != nil {
			return nil, err
		}
		if err := s.users.UpdatePasswordHash(ctx, u.ID, hash); err != nil {
			return nil, fmt.Errorf("upgrading legacy password: %w", err)
		}
		u.PasswordHash = hash
		s.logger.Info("upgraded legacy password", "user_id", u.ID)
	}
	if s.isBootstrap(u.Username) && u.Role != store.RoleAdmin {
		if err := s.users.UpdateRole(ctx, u.ID, store.RoleAdmin); err != nil {
			return nil, fmt.Errorf("restoring admin role: %w", err)
		}
		u.Role = store.RoleAdmin
	}
	if err := Gate(u.Approved); err != nil {
		return u, err
	}

	now := s.now().UTC()
	if err := s.users.UpdateLoginMetadata(ctx, u.ID, c.IP, now); err != nil {
		return nil, fmt.Errorf("recording login: %w", err)
	}
	u.LastLoginIP = c.IP
	u.UpdatedAt = now
	s.recorder.Record(ctx, audit.Entry{
		Entity:   "auth",
		EntityID: strconv.FormatInt(u.ID, 10),
		Action:   "login",
		Username: u.Username,
		Info:     "method=password ip=" + c.IP,
	})
	return u, nil
}

// Registration is a self-service signup.
type Registration struct {
	Username    string
	Password    string
	DisplayName string
	IP          string
}

// Register creates a local user awaiting approval.
func (s *Service) Register(ctx context.Context, r Registration) (*store.User, error) {
	username := strings.TrimSpace(r.Username)
	if username == "" || r.Password == "" {
		return nil, fmt.Errorf("%w: username and password are required", ErrInvalidInput)
	}
	hash, err := HashPassword(r.Password, s.cost)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	u := &store.User{
		Username:     username,
		PasswordHash: hash,
		Approved:     store.Pending,
		Provider:     store.ProviderLocal,
		DisplayName:  strings.TrimSpace(r.DisplayName),
		Role:         store.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
		CreatedIP:    r.IP,
		LastLoginIP:  r.IP,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrDuplicateUsername
		}
		return nil, err
	}
	s.recorder.Record(ctx, audit.Entry{
		Entity:   "user",
		EntityID: strconv.FormatInt(u.ID, 10),
		Action:   "register",
		Username: u.Username,
		Info:     "ip=" + r.IP,
	})
	return u, nil
}

// Refresh re-reads the user behind a session and applies the approval gate.
// The returned user is non-nil whenever it still exists.
func (s *Service) Refresh(ctx context.Context, id int64) (*store.User, error) {
	u, err := s.users.FindByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	return u, Gate(u.Approved)
}

func (s *Service) isBootstrap(username string) bool {
	return strings.EqualFold(strings.TrimSpace(username), s.bootstrap.Username)
}
