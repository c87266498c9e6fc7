package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"pagat.app/internal/audit"
	"pagat.app/internal/auth"
	"pagat.app/internal/store"
)

type registerRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

type userView struct {
	ID          int64      `json:"id"`
	Username    string     `json:"username"`
	DisplayName string     `json:"display_name,omitempty"`
	Role        string     `json:"role"`
	Approved    int        `json:"approved"`
	Provider    string     `json:"provider,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	CreatedIP   string     `json:"created_ip,omitempty"`
	LastLoginIP string     `json:"last_login_ip,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

func viewOf(u *store.User) userView {
	v := userView{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		Approved:    u.Approved,
		Provider:    u.Provider,
		CreatedIP:   u.CreatedIP,
		LastLoginIP: u.LastLoginIP,
	}
	if !u.CreatedAt.IsZero() {
		t := u.CreatedAt.UTC()
		v.CreatedAt = &t
	}
	if !u.UpdatedAt.IsZero() {
		t := u.UpdatedAt.UTC()
		v.UpdatedAt = &t
	}
	return v
}

func identityView(id auth.Identity) userView {
	return userView{ID: id.ID, Username: id.Username, Role: id.Role, Approved: id.Approved}
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	u, err := a.deps.Auth.Register(r.Context(), auth.Registration{
		Username:    req.Username,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		IP:          clientIP(r),
	})
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	// The caller holds a pending session so /api/me can report the state.
	if err := a.issue(w, r, auth.IdentityOf(u), false); err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "pending": true})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	u, err := a.deps.Auth.Login(r.Context(), auth.Credentials{
		Username: req.Username,
		Password: req.Password,
		IP:       clientIP(r),
	})
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	id := auth.IdentityOf(u)
	if err := a.issue(w, r, id, req.Remember); err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": identityView(id)})
}

// issue installs id in a freshly rotated session.
func (a *API) issue(w http.ResponseWriter, r *http.Request, id auth.Identity, remember bool) error {
	sess, st := a.deps.Sessions.Load(r)
	st.Issue(id, remember)
	return a.deps.Sessions.Issue(w, r, sess, st)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess, st := a.deps.Sessions.Load(r)
	current, hadIdentity := st.Current()
	if err := a.deps.Sessions.Destroy(w, r, sess); err != nil {
		a.handleError(w, r, err)
		return
	}
	if hadIdentity {
		a.deps.Audit.Record(r.Context(), audit.Entry{
			Entity:   "auth",
			EntityID: strconv.FormatInt(current.ID, 10),
			Action:   "logout",
			Username: current.Username,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	u, ok := a.authenticate(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": viewOf(u)})
}
