package auth

import "pagat.app/internal/store"

// Identity is the session-facing snapshot of a user.
type Identity struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Approved int    `json:"approved"`
}

// IdentityOf snapshots u.
func IdentityOf(u *store.User) Identity {
	return Identity{ID: u.ID, Username: u.Username, Role: u.Role, Approved: u.Approved}
}

func (i Identity) IsAdmin() bool { return i.Role == store.RoleAdmin }

// Valid reports whether the identity refers to a stored user.
func (i Identity) Valid() bool { return i.ID > 0 && i.Username != "" }
