package session

import (
	"context"
	"encoding/base32"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"

	"pagat.app/internal/obs"
	"pagat.app/internal/store"
)

// Backend persists encoded session payloads.
type Backend interface {
	Get(ctx context.Context, id string, now time.Time) (string, error)
	Put(ctx context.Context, id, data string, expiresAt time.Time) error
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// DBStore is a sessions.Store keeping values server-side. The cookie only
// carries the signed session id. A positive MaxAge is a persistent cookie;
// zero is a browser-session cookie whose row lives for the ephemeral TTL;
// a negative MaxAge deletes the session.
type DBStore struct {
	Codecs  []securecookie.Codec
	Options *sessions.Options

	backend      Backend
	ephemeralTTL time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

var _ sessions.Store = (*DBStore)(nil)

// NewDBStore returns a store signing cookies with keyPairs, see
// securecookie.CodecsFromPairs.
func NewDBStore(backend Backend, ephemeralTTL time.Duration, keyPairs ...[]byte) *DBStore {
	s := &DBStore{
		Codecs: securecookie.CodecsFromPairs(keyPairs...),
		Options: &sessions.Options{
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		},
		backend:      backend,
		ephemeralTTL: ephemeralTTL,
		now:          time.Now,
		logger:       obs.Component("session"),
	}
	for _, codec := range s.Codecs {
		if sc, ok := codec.(*securecookie.SecureCookie); ok {
			sc.MaxLength(0)
		}
	}
	return s
}

// MaxAge bounds how old a signed value may be when decoded.
func (s *DBStore) MaxAge(age int) {
	for _, codec := range s.Codecs {
		if sc, ok := codec.(*securecookie.SecureCookie); ok {
			sc.MaxAge(age)
		}
	}
}

// Get returns a cached session for the request or loads it.
func (s *DBStore) Get(r *http.Request, name string) (*sessions.Session, error) {
	return sessions.GetRegistry(r).Get(s, name)
}

// New returns a session for name, loading stored values when the request
// carries a valid cookie. An unknown or expired id yields a new session.
func (s *DBStore) New(r *http.Request, name string) (*sessions.Session, error) {
	session := sessions.NewSession(s, name)
	opts := *s.Options
	session.Options = &opts
	session.IsNew = true
	c, errCookie := r.Cookie(name)
	if errCookie != nil {
		return session, nil
	}
	if err := securecookie.DecodeMulti(name, c.Value, &session.ID, s.Codecs...); err != nil {
		session.ID = ""
		return session, err
	}
	err := s.load(r.Context(), session)
	switch {
	case err == nil:
		session.IsNew = false
	case errors.Is(err, store.ErrNotFound):
		session.ID = ""
		err = nil
	default:
		session.ID = ""
	}
	return session, err
}

// Save persists the session and writes its cookie.
func (s *DBStore) Save(r *http.Request, w http.ResponseWriter, session *sessions.Session) error {
	if session.Options.MaxAge < 0 {
		if session.ID != "" {
			if err := s.backend.Delete(r.Context(), session.ID); err != nil {
				return err
			}
		}
		http.SetCookie(w, sessions.NewCookie(session.Name(), "", session.Options))
		return nil
	}
	if session.ID == "" {
		session.ID = strings.TrimRight(base32.StdEncoding.EncodeToString(securecookie.GenerateRandomKey(32)), "=")
	}
	if err := s.save(r.Context(), session); err != nil {
		return err
	}
	encoded, err := securecookie.EncodeMulti(session.Name(), session.ID, s.Codecs...)
	if err != nil {
		return err
	}
	http.SetCookie(w, sessions.NewCookie(session.Name(), encoded, session.Options))
	return nil
}

func (s *DBStore) save(ctx context.Context, session *sessions.Session) error {
	encoded, err := securecookie.EncodeMulti(session.Name(), session.Values, s.Codecs...)
	if err != nil {
		return err
	}
	ttl := s.ephemeralTTL
	if session.Options.MaxAge > 0 {
		ttl = time.Duration(session.Options.MaxAge) * time.Second
	}
	return s.backend.Put(ctx, session.ID, encoded, s.now().Add(ttl))
}

func (s *DBStore) load(ctx context.Context, session *sessions.Session) error {
	data, err := s.backend.Get(ctx, session.ID, s.now())
	if err != nil {
		return err
	}
	return securecookie.DecodeMulti(session.Name(), data, &session.Values, s.Codecs...)
}

// Purge deletes expired sessions.
func (s *DBStore) Purge(ctx context.Context) (int64, error) {
	return s.backend.DeleteExpired(ctx, s.now())
}

// Run purges expired sessions every interval until ctx is cancelled.
func (s *DBStore) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Purge(ctx)
			if err != nil {
				s.logger.Error("session purge failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Debug("purged expired sessions", "count", n)
			}
		}
	}
}
