// Package passkey runs WebAuthn registration and authentication ceremonies
// and manages enrolled credentials.
package passkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"pagat.app/internal/audit"
	"pagat.app/internal/auth"
	"pagat.app/internal/obs"
	"pagat.app/internal/session"
	"pagat.app/internal/store"
)

// CredentialStore is the credential persistence the manager needs.
type CredentialStore interface {
	ListByUser(ctx context.Context, userID int64) ([]store.Credential, error)
	FindByID(ctx context.Context, id int64) (*store.Credential, error)
	FindByCredentialID(ctx context.Context, raw []byte) (*store.Credential, error)
	CountByUser(ctx context.Context, userID int64) (int, error)
	Add(ctx context.Context, c *store.Credential) error
	UpdateCounter(ctx context.Context, id int64, counter uint32, backupState bool) error
	Rename(ctx context.Context, id int64, name string) error
	Delete(ctx context.Context, id int64) error
}

// UserStore is the user persistence the manager needs.
type UserStore interface {
	FindByUsername(ctx context.Context, username string) (*store.User, error)
	FindByID(ctx context.Context, id int64) (*store.User, error)
	UpdateLoginMetadata(ctx context.Context, id int64, ip string, at time.Time) error
}

// Manager drives WebAuthn ceremonies. Ceremony state lives in the caller's
// session.State; the manager itself holds none.
type Manager struct {
	creds    CredentialStore
	users    UserStore
	rp       RPStrategy
	recorder auth.Recorder
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures Manager.
type Option func(*Manager)

func WithRecorder(r auth.Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.recorder = r
		}
	}
}

func WithClock(fn func() time.Time) Option {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

func NewManager(creds CredentialStore, users UserStore, rp RPStrategy, opts ...Option) (*Manager, error) {
	if creds == nil || users == nil || rp == nil {
		return nil, errors.New("passkey: credential store, user store and relying party are required")
	}
	m := &Manager{
		creds:    creds,
		users:    users,
		rp:       rp,
		recorder: nopRecorder{},
		now:      time.Now,
		logger:   obs.Component("passkey"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, audit.Entry) {}

func newWebAuthn(rp RelyingParty) (*webauthn.WebAuthn, error) {
	return webauthn.New(&webauthn.Config{
		RPID:                  rp.ID,
		RPDisplayName:         rp.DisplayName,
		RPOrigins:             []string{rp.Origin},
		AttestationPreference: protocol.PreferNoAttestation,
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementPreferred,
			UserVerification: protocol.VerificationRequired,
		},
	})
}

func (m *Manager) loadUser(ctx context.Context, id int64) (*webAuthnUser, error) {
	u, err := m.users.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	creds, err := m.creds.ListByUser(ctx, id)
	if err != nil {
		return nil, err
	}
	return &webAuthnUser{user: u, creds: creds}, nil
}

func verificationFailed(err error) error {
	return fmt.Errorf("%w: %v", auth.ErrVerificationFailed, err)
}

// BeginRegistration starts enrolling a credential for the authenticated
// actor and records the pending ceremony in st, replacing any earlier one.
func (m *Manager) BeginRegistration(ctx context.Context, st *session.State, actor auth.Identity, origin string) (*protocol.CredentialCreation, error) {
	opts, err := m.beginRegistration(ctx, st, actor, origin)
	obs.ObserveCeremony("registration.start", auth.Outcome(err))
	return opts, err
}

func (m *Manager) beginRegistration(ctx context.Context, st *session.State, actor auth.Identity, origin string) (*protocol.CredentialCreation, error) {
	if err := auth.Gate(actor.Approved); err != nil {
		return nil, err
	}
	user, err := m.loadUser(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	rp := m.rp.Resolve(origin)
	wa, err := newWebAuthn(rp)
	if err != nil {
		return nil, fmt.Errorf("configuring relying party %q: %w", rp.ID, err)
	}
	options, data, err := wa.BeginRegistration(user,
		webauthn.WithExclusions(user.descriptors()),
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementPreferred,
			UserVerification: protocol.VerificationRequired,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("beginning registration: %w", err)
	}
	if err := begin(st, session.KindRegistration, rp, actor, data); err != nil {
		return nil, err
	}
	return options, nil
}

// FinishRegistration verifies the attestation in body against the pending
// registration ceremony and stores the credential as "Credential #N".
func (m *Manager) FinishRegistration(ctx context.Context, st *session.State, actor auth.Identity, body io.Reader) (*store.Credential, error) {
	cred, err := m.finishRegistration(ctx, st, actor, body)
	obs.ObserveCeremony("registration.finish", auth.Outcome(err))
	return cred, err
}

func (m *Manager) finishRegistration(ctx context.Context, st *session.State, actor auth.Identity, body io.Reader) (*store.Credential, error) {
	c, ok := st.Pending(session.KindRegistration)
	if ok {
		st.EndCeremony()
	}
	if !ok || c.PendingUser == nil || c.PendingUser.ID != actor.ID {
		return nil, fmt.Errorf("%w: no registration in progress", auth.ErrVerificationFailed)
	}
	data, err := sessionData(c)
	if err != nil {
		return nil, err
	}
	parsed, err := protocol.ParseCredentialCreationResponseBody(body)
	if err != nil {
		return nil, verificationFailed(err)
	}
	user, err := m.loadUser(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	wa, err := newWebAuthn(RelyingParty{ID: c.RPID, Origin: c.RPOrigin, DisplayName: m.rp.Resolve(c.RPOrigin).DisplayName})
	if err != nil {
		return nil, fmt.Errorf("configuring relying party %q: %w", c.RPID, err)
	}
	credential, err := wa.CreateCredential(user, *data, parsed)
	if err != nil {
		m.logger.Info("registration verification failed", "user_id", actor.ID, "error", err)
		return nil, verificationFailed(err)
	}

	n, err := m.creds.CountByUser(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	stored := &store.Credential{
		UserID:          actor.ID,
		CredentialID:    credential.ID,
		PublicKey:       credential.PublicKey,
		Counter:         credential.Authenticator.SignCount,
		Name:            "Credential #" + strconv.Itoa(n+1),
		AttestationType: credential.AttestationType,
		AAGUID:          credential.Authenticator.AAGUID,
		BackupEligible:  credential.Flags.BackupEligible,
		BackupState:     credential.Flags.BackupState,
		CreatedAt:       m.now().UTC(),
	}
	for _, t := range credential.Transport {
		stored.Transports = append(stored.Transports, string(t))
	}
	if err := m.creds.Add(ctx, stored); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("%w: credential already registered", auth.ErrVerificationFailed)
		}
		return nil, err
	}
	m.recorder.Record(ctx, audit.Entry{
		Entity:   "webauthn_credential",
		EntityID: strconv.FormatInt(stored.ID, 10),
		Action:   "register",
		Username: actor.Username,
		Info:     stored.Name,
	})
	return stored, nil
}

// BeginLogin starts a passwordless login for username. The pending user is
// recorded in st; no identity is installed until FinishLogin succeeds.
func (m *Manager) BeginLogin(ctx context.Context, st *session.State, username, origin string) (*protocol.CredentialAssertion, error) {
	opts, err := m.beginLogin(ctx, st, username, origin)
	obs.ObserveCeremony("authentication.start", auth.Outcome(err))
	return opts, err
}

func (m *Manager) beginLogin(ctx context.Context, st *session.State, username, origin string) (*protocol.CredentialAssertion, error) {
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", auth.ErrInvalidInput)
	}
	u, err := m.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if err := auth.Gate(u.Approved); err != nil {
		return nil, err
	}
	user, err := m.loadUser(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if len(user.creds) == 0 {
		return nil, auth.ErrNoCredentials
	}
	rp := m.rp.Resolve(origin)
	wa, err := newWebAuthn(rp)
	if err != nil {
		return nil, fmt.Errorf("configuring relying party %q: %w", rp.ID, err)
	}
	options, data, err := wa.BeginLogin(user,
		webauthn.WithAllowedCredentials(user.descriptors()),
		webauthn.WithUserVerification(protocol.VerificationRequired),
	)
	if err != nil {
		return nil, fmt.Errorf("beginning login: %w", err)
	}
	if err := begin(st, session.KindAuthentication, rp, auth.IdentityOf(user.user), data); err != nil {
		return nil, err
	}
	return options, nil
}

// FinishLogin verifies the assertion in body against the pending
// authentication ceremony. On success the identity is installed in st with
// approved set to 1 and remember off.
//
// A signature counter that fails to increase for an authenticator that
// reports counters is treated as a cloned authenticator and rejected.
func (m *Manager) FinishLogin(ctx context.Context, st *session.State, body io.Reader, ip string) (auth.Identity, error) {
	id, err := m.finishLogin(ctx, st, body, ip)
	obs.ObserveCeremony("authentication.finish", auth.Outcome(err))
	obs.ObserveAuth("webauthn", auth.Outcome(err))
	return id, err
}

func (m *Manager) finishLogin(ctx context.Context, st *session.State, body io.Reader, ip string) (auth.Identity, error) {
	c, ok := st.Pending(session.KindAuthentication)
	if ok {
		st.EndCeremony()
	}
	if !ok || c.PendingUser == nil {
		return auth.Identity{}, fmt.Errorf("%w: no authentication in progress", auth.ErrVerificationFailed)
	}
	pending := *c.PendingUser
	data, err := sessionData(c)
	if err != nil {
		return auth.Identity{}, err
	}
	parsed, err := protocol.ParseCredentialRequestResponseBody(body)
	if err != nil {
		return auth.Identity{}, verificationFailed(err)
	}

	stored, err := m.creds.FindByCredentialID(ctx, parsed.RawID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && stored.UserID != pending.ID) {
		return auth.Identity{}, auth.ErrUnknownCredential
	}
	if err != nil {
		return auth.Identity{}, err
	}
	user, err := m.loadUser(ctx, pending.ID)
	if errors.Is(err, store.ErrNotFound) {
		return auth.Identity{}, auth.ErrUnknownCredential
	}
	if err != nil {
		return auth.Identity{}, err
	}

	wa, err := newWebAuthn(RelyingParty{ID: c.RPID, Origin: c.RPOrigin, DisplayName: m.rp.Resolve(c.RPOrigin).DisplayName})
	if err != nil {
		return auth.Identity{}, fmt.Errorf("configuring relying party %q: %w", c.RPID, err)
	}
	credential, err := wa.ValidateLogin(user, *data, parsed)
	if err != nil {
		m.logger.Info("authentication verification failed", "user_id", pending.ID, "error", err)
		return auth.Identity{}, verificationFailed(err)
	}
	if credential.Authenticator.CloneWarning {
		m.logger.Warn("signature counter did not increase", "user_id", pending.ID, "credential", stored.ID,
			"stored", stored.Counter, "presented", parsed.Response.AuthenticatorData.Counter)
		m.recorder.Record(ctx, audit.Entry{
			Entity:   "webauthn_credential",
			EntityID: strconv.FormatInt(stored.ID, 10),
			Action:   "clone_warning",
			Username: user.user.Username,
			Info:     fmt.Sprintf("stored=%d presented=%d", stored.Counter, parsed.Response.AuthenticatorData.Counter),
		})
		return auth.Identity{}, fmt.Errorf("%w: signature counter did not increase", auth.ErrVerificationFailed)
	}
	if err := m.creds.UpdateCounter(ctx, stored.ID, credential.Authenticator.SignCount, credential.Flags.BackupState); err != nil {
		return auth.Identity{}, err
	}
	if err := m.users.UpdateLoginMetadata(ctx, user.user.ID, ip, m.now().UTC()); err != nil {
		return auth.Identity{}, err
	}

	id := auth.IdentityOf(user.user)
	id.Approved = store.Approved
	st.Issue(id, false)
	m.recorder.Record(ctx, audit.Entry{
		Entity:   "auth",
		EntityID: strconv.FormatInt(id.ID, 10),
		Action:   "login",
		Username: id.Username,
		Info:     "method=webauthn ip=" + ip,
	})
	return id, nil
}

func begin(st *session.State, kind string, rp RelyingParty, pending auth.Identity, data *webauthn.SessionData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding ceremony: %w", err)
	}
	st.Begin(session.Ceremony{
		Kind:        kind,
		Challenge:   data.Challenge,
		RPID:        rp.ID,
		RPOrigin:    rp.Origin,
		PendingUser: &pending,
		Data:        raw,
	})
	return nil
}

func sessionData(c *session.Ceremony) (*webauthn.SessionData, error) {
	var data webauthn.SessionData
	if err := json.Unmarshal(c.Data, &data); err != nil {
		return nil, fmt.Errorf("decoding ceremony: %w", err)
	}
	return &data, nil
}
