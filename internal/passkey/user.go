package passkey

import (
	"strconv"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"pagat.app/internal/store"
)

// webAuthnUser adapts a stored user and its credentials to webauthn.User.
type webAuthnUser struct {
	user  *store.User
	creds []store.Credential
}

func userHandle(id int64) []byte {
	return []byte(strconv.FormatInt(id, 10))
}

func (u *webAuthnUser) WebAuthnID() []byte {
	return userHandle(u.user.ID)
}

func (u *webAuthnUser) WebAuthnName() string {
	return u.user.Username
}

func (u *webAuthnUser) WebAuthnDisplayName() string {
	if u.user.DisplayName != "" {
		return u.user.DisplayName
	}
	return u.user.Username
}

func (u *webAuthnUser) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, len(u.creds))
	for i, c := range u.creds {
		creds[i] = webauthn.Credential{
			ID:              c.CredentialID,
			PublicKey:       c.PublicKey,
			AttestationType: c.AttestationType,
			Flags: webauthn.CredentialFlags{
				UserPresent:    true,
				UserVerified:   true,
				BackupEligible: c.BackupEligible,
				BackupState:    c.BackupState,
			},
			Authenticator: webauthn.Authenticator{
				AAGUID:    c.AAGUID,
				SignCount: c.Counter,
			},
		}
		for _, t := range c.Transports {
			creds[i].Transport = append(creds[i].Transport, protocol.AuthenticatorTransport(t))
		}
	}
	return creds
}

func (u *webAuthnUser) descriptors() []protocol.CredentialDescriptor {
	creds := u.WebAuthnCredentials()
	out := make([]protocol.CredentialDescriptor, len(creds))
	for i, c := range creds {
		out[i] = c.Descriptor()
	}
	return out
}
