package auth

import "pagat.app/internal/store"

// Gate classifies an approval state: approved passes, pending and rejected
// yield ErrPending and ErrRejected.
func Gate(approved int) error {
	switch approved {
	case store.Approved:
		return nil
	case store.Rejected:
		return ErrRejected
	default:
		return ErrPending
	}
}

// RequireAdmin fails with ErrForbidden unless id carries the admin role.
func RequireAdmin(id Identity) error {
	if !id.IsAdmin() {
		return ErrForbidden
	}
	return nil
}
