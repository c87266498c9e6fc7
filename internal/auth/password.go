package auth

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt cost used when none is configured.
const DefaultCost = 10

// HashPassword hashes plaintext password using bcrypt.
func HashPassword(password string, cost int) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares plaintext password with stored hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// IsModernHash reports whether stored is a bcrypt hash ($2a$, $2b$, $2y$).
func IsModernHash(stored string) bool {
	_, err := bcrypt.Cost([]byte(stored))
	return err == nil
}

// checkPassword verifies password against the stored value. Anything that
// is not a bcrypt hash is a legacy plaintext credential; a match is accepted
// once and reported as needing an upgrade.
func checkPassword(stored, password string) (ok, upgrade bool) {
	if stored == "" {
		return false, false
	}
	if IsModernHash(stored) {
		return VerifyPassword(stored, password) == nil, false
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(password)) == 1 {
		return true, true
	}
	return false, false
}
