package oauth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	stateIssuer = "pagat"
	// DefaultStateTTL bounds how long a user may take at the provider.
	DefaultStateTTL = 10 * time.Minute
)

// ErrInvalidState indicates the callback state failed validation.
var ErrInvalidState = errors.New("oauth: invalid state")

// StateSigner issues and checks the signed state parameter of the
// authorization-code flow.
type StateSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewStateSigner(secret []byte, ttl time.Duration, now func() time.Time) (*StateSigner, error) {
	if len(secret) == 0 {
		return nil, errors.New("oauth: state secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	if now == nil {
		now = time.Now
	}
	return &StateSigner{secret: secret, ttl: ttl, now: now}, nil
}

// Issue signs a fresh state token. The returned nonce is the token's jti;
// the caller keeps it with the browser that started the flow.
func (s *StateSigner) Issue() (token, nonce string, err error) {
	now := s.now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    stateIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", "", fmt.Errorf("sign state: %w", err)
	}
	return signed, claims.ID, nil
}

// Verify checks signature, issuer and expiry of token and that its jti is
// nonce.
func (s *StateSigner) Verify(token, nonce string) error {
	token = strings.TrimSpace(token)
	if token == "" || nonce == "" {
		return ErrInvalidState
	}
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidState
		}
		return s.secret, nil
	},
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return ErrInvalidState
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || subtle.ConstantTimeCompare([]byte(claims.ID), []byte(nonce)) != 1 {
		return ErrInvalidState
	}
	return nil
}
