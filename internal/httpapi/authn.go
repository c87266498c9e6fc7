package httpapi

import (
	"errors"
	"net/http"

	"pagat.app/internal/auth"
	"pagat.app/internal/store"
)

// requireAuthenticated admits requests whose session carries an identity
// that still exists and is approved. The identity is re-read on every
// request so approval and role changes apply without a new login.
func (a *API) requireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := a.authenticate(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithIdentity(r.Context(), auth.IdentityOf(u))))
	})
}

// requireAdmin is requireAuthenticated plus the admin role.
func (a *API) requireAdmin(next http.Handler) http.Handler {
	return a.requireAuthenticated(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFromContext(r.Context())
		if err := auth.RequireAdmin(id); err != nil {
			writeError(w, r, http.StatusForbidden, "admin required")
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// authenticate resolves the session identity to its current user row,
// writing the failure response itself when there is none.
func (a *API) authenticate(w http.ResponseWriter, r *http.Request) (*store.User, bool) {
	sess, st := a.deps.Sessions.Load(r)
	current, ok := st.Current()
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthenticated")
		return nil, false
	}
	u, err := a.deps.Auth.Refresh(r.Context(), current.ID)
	if errors.Is(err, auth.ErrUnauthenticated) {
		if err := a.deps.Sessions.Destroy(w, r, sess); err != nil {
			a.handleError(w, r, err)
			return nil, false
		}
		writeError(w, r, http.StatusUnauthorized, "unauthenticated")
		return nil, false
	}
	if err != nil {
		a.handleError(w, r, err)
		return nil, false
	}
	fresh := auth.IdentityOf(u)
	if fresh != current {
		st.Identity = &fresh
		if err := a.deps.Sessions.Save(w, r, sess, st); err != nil {
			a.handleError(w, r, err)
			return nil, false
		}
	}
	return u, true
}

func currentIdentity(r *http.Request) auth.Identity {
	id, _ := auth.IdentityFromContext(r.Context())
	return id
}
