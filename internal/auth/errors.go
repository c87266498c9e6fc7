package auth

import (
	"errors"
	"fmt"

	"pagat.app/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrWrongAuthMethod    = errors.New("auth: account uses a different sign-in method")
	ErrTooManyAttempts    = errors.New("auth: too many attempts")
	ErrDuplicateUsername  = errors.New("auth: username already exists")
	ErrNotApproved        = errors.New("auth: account not approved")
	ErrPending            = fmt.Errorf("%w: pending", ErrNotApproved)
	ErrRejected           = fmt.Errorf("%w: rejected", ErrNotApproved)
	ErrVerificationFailed = errors.New("auth: verification failed")
	ErrUnknownCredential  = errors.New("auth: unknown credential")
	ErrNoCredentials      = errors.New("auth: no credentials registered")
	ErrUnauthenticated    = errors.New("auth: unauthenticated")
	ErrForbidden          = errors.New("auth: forbidden")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrNotFound           = store.ErrNotFound
)

// Outcome maps an error onto a short metrics label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrWrongAuthMethod):
		return "wrong_method"
	case errors.Is(err, ErrTooManyAttempts):
		return "rate_limited"
	case errors.Is(err, ErrPending):
		return "pending"
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, ErrVerificationFailed):
		return "verification_failed"
	case errors.Is(err, ErrUnknownCredential):
		return "unknown_credential"
	case errors.Is(err, ErrNoCredentials):
		return "no_credentials"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "error"
	}
}
