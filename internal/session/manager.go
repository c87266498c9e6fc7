package session

import (
	"net/http"
	"time"

	"github.com/gorilla/sessions"
)

const stateKey = "state"

// Manager loads and saves State for HTTP handlers.
type Manager struct {
	store       *DBStore
	name        string
	rememberFor time.Duration
}

// Config controls cookie naming and lifetimes.
type Config struct {
	CookieName  string
	Secret      []byte
	RememberFor time.Duration
	// EphemeralTTL is the server-side lifetime of browser-session cookies.
	EphemeralTTL time.Duration
	Secure       bool
}

func NewManager(backend Backend, cfg Config) *Manager {
	st := NewDBStore(backend, cfg.EphemeralTTL, cfg.Secret)
	st.Options.Secure = cfg.Secure
	st.MaxAge(int(cfg.RememberFor.Seconds()))
	return &Manager{store: st, name: cfg.CookieName, rememberFor: cfg.RememberFor}
}

// Store exposes the underlying sessions.Store, e.g. for the purge loop.
func (m *Manager) Store() *DBStore { return m.store }

// Load returns the request's session and its State. A cookie that fails to
// decode yields an empty session rather than an error.
func (m *Manager) Load(r *http.Request) (*sessions.Session, State) {
	sess, err := m.store.Get(r, m.name)
	if err != nil {
		m.store.logger.Debug("discarding unreadable session", "error", err)
	}
	st, _ := sess.Values[stateKey].(State)
	return sess, st
}

// Save writes st. Remembered identities get a persistent cookie, everything
// else a browser-session cookie.
func (m *Manager) Save(w http.ResponseWriter, r *http.Request, sess *sessions.Session, st State) error {
	sess.Values[stateKey] = st
	opts := *m.store.Options
	if st.Remember && st.Identity != nil {
		opts.MaxAge = int(m.rememberFor.Seconds())
	}
	sess.Options = &opts
	return sess.Save(r, w)
}

// Issue saves st under a fresh session id, dropping the old row.
func (m *Manager) Issue(w http.ResponseWriter, r *http.Request, sess *sessions.Session, st State) error {
	if sess.ID != "" {
		if err := m.store.backend.Delete(r.Context(), sess.ID); err != nil {
			return err
		}
		sess.ID = ""
	}
	return m.Save(w, r, sess, st)
}

// Destroy deletes the session and expires its cookie.
func (m *Manager) Destroy(w http.ResponseWriter, r *http.Request, sess *sessions.Session) error {
	sess.Values = map[interface{}]interface{}{}
	opts := *m.store.Options
	opts.MaxAge = -1
	sess.Options = &opts
	return sess.Save(r, w)
}
