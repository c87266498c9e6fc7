// Package session carries the per-browser identity snapshot and pending
// WebAuthn ceremony, persisted server-side behind a signed cookie.
package session

import (
	"encoding/gob"
	"encoding/json"

	"pagat.app/internal/auth"
)

const (
	KindRegistration   = "registration"
	KindAuthentication = "authentication"
)

func init() {
	gob.Register(State{})
}

// Ceremony is the short-lived state between a WebAuthn start and finish.
type Ceremony struct {
	Kind        string
	Challenge   string
	RPID        string
	RPOrigin    string
	PendingUser *auth.Identity
	// Data is the library's session data, JSON encoded.
	Data json.RawMessage
}

// State is the session payload handed to the core as a plain value.
type State struct {
	Identity *auth.Identity
	Ceremony *Ceremony
	Remember bool
	// OAuthNonce binds a pending Google sign-in to this browser.
	OAuthNonce string
}

// Current returns the identity snapshot, if any.
func (s *State) Current() (auth.Identity, bool) {
	if s == nil || s.Identity == nil || !s.Identity.Valid() {
		return auth.Identity{}, false
	}
	return *s.Identity, true
}

// Issue installs a gate-passed identity and drops any pending ceremony.
func (s *State) Issue(id auth.Identity, remember bool) {
	s.Identity = &id
	s.Remember = remember
	s.Ceremony = nil
	s.OAuthNonce = ""
}

// Begin records a new pending ceremony, replacing any earlier one.
func (s *State) Begin(c Ceremony) {
	s.Ceremony = &c
}

// Pending returns the pending ceremony of the given kind.
func (s *State) Pending(kind string) (*Ceremony, bool) {
	if s == nil || s.Ceremony == nil || s.Ceremony.Kind != kind {
		return nil, false
	}
	return s.Ceremony, true
}

// EndCeremony clears the pending ceremony.
func (s *State) EndCeremony() {
	s.Ceremony = nil
}

// TakeOAuthNonce returns the pending sign-in nonce and forgets it, so a
// state token is honoured at most once.
func (s *State) TakeOAuthNonce() string {
	n := s.OAuthNonce
	s.OAuthNonce = ""
	return n
}

// Clear forgets everything.
func (s *State) Clear() {
	*s = State{}
}
