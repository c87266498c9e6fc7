// Package passkeytest provides a software WebAuthn authenticator for tests.
package passkeytest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

const (
	flagUserPresent  = 0x01
	flagUserVerified = 0x04
	flagBackupElig   = 0x08
	flagAttested     = 0x40
)

// Authenticator is a platform authenticator holding one ES256 credential.
// It answers with "none" attestation.
type Authenticator struct {
	RPID   string
	Origin string
	// Counter is the signature counter reported by the next response.
	// Assert increments it before signing.
	Counter        uint32
	BackupEligible bool

	key    *ecdsa.PrivateKey
	credID []byte
}

func New(rpID, origin string) (*Authenticator, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	id := make([]byte, 32)
	if _, err := rand.Read(id); err != nil {
		return nil, err
	}
	return &Authenticator{RPID: rpID, Origin: origin, key: key, credID: id}, nil
}

// CredentialID returns the raw credential id.
func (a *Authenticator) CredentialID() []byte { return a.credID }

// Register answers a registration ceremony for challenge and returns the
// JSON body a browser would post.
func (a *Authenticator) Register(challenge []byte) ([]byte, error) {
	cose, err := a.coseKey()
	if err != nil {
		return nil, err
	}
	attested := make([]byte, 16, 16+2+len(a.credID)+len(cose))
	attested = binary.BigEndian.AppendUint16(attested, uint16(len(a.credID)))
	attested = append(attested, a.credID...)
	attested = append(attested, cose...)

	attObj, err := cbor.Marshal(map[string]any{
		"fmt":      "none",
		"attStmt":  map[string]any{},
		"authData": a.authData(flagAttested, attested),
	})
	if err != nil {
		return nil, fmt.Errorf("encode attestation: %w", err)
	}
	cd, err := a.clientData("webauthn.create", challenge)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"id":    b64(a.credID),
		"rawId": b64(a.credID),
		"type":  "public-key",
		"response": map[string]any{
			"clientDataJSON":    b64(cd),
			"attestationObject": b64(attObj),
			"transports":        []string{"internal"},
		},
		"clientExtensionResults": map[string]any{},
	})
}

// Assert answers an authentication ceremony for challenge on behalf of the
// user identified by userHandle.
func (a *Authenticator) Assert(challenge, userHandle []byte) ([]byte, error) {
	a.Counter++
	authData := a.authData(0, nil)
	cd, err := a.clientData("webauthn.get", challenge)
	if err != nil {
		return nil, err
	}
	cdHash := sha256.Sum256(cd)
	digest := sha256.Sum256(append(append([]byte{}, authData...), cdHash[:]...))
	sig, err := ecdsa.SignASN1(rand.Reader, a.key, digest[:])
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"id":    b64(a.credID),
		"rawId": b64(a.credID),
		"type":  "public-key",
		"response": map[string]any{
			"clientDataJSON":    b64(cd),
			"authenticatorData": b64(authData),
			"signature":         b64(sig),
			"userHandle":        b64(userHandle),
		},
		"clientExtensionResults": map[string]any{},
	})
}

func (a *Authenticator) authData(flags byte, attested []byte) []byte {
	flags |= flagUserPresent | flagUserVerified
	if a.BackupEligible {
		flags |= flagBackupElig
	}
	rpHash := sha256.Sum256([]byte(a.RPID))
	out := make([]byte, 0, 37+len(attested))
	out = append(out, rpHash[:]...)
	out = append(out, flags)
	out = binary.BigEndian.AppendUint32(out, a.Counter)
	return append(out, attested...)
}

func (a *Authenticator) coseKey() ([]byte, error) {
	pub, err := a.key.PublicKey.ECDH()
	if err != nil {
		return nil, err
	}
	raw := pub.Bytes()
	return cbor.Marshal(map[int]any{
		1:  2,
		3:  -7,
		-1: 1,
		-2: raw[1:33],
		-3: raw[33:65],
	})
}

func (a *Authenticator) clientData(typ string, challenge []byte) ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":        typ,
		"challenge":   b64(challenge),
		"origin":      a.Origin,
		"crossOrigin": false,
	})
}

func b64(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }
