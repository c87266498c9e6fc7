package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"pagat.app/internal/store"
)

type passkeyLoginRequest struct {
	Username string `json:"username"`
}

type renameCredentialRequest struct {
	Name string `json:"name"`
}

type credentialView struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	CredentialID   string    `json:"credential_id"`
	Name           string    `json:"name"`
	Counter        uint32    `json:"counter"`
	Transports     []string  `json:"transports"`
	BackupEligible bool      `json:"backup_eligible"`
	BackupState    bool      `json:"backup_state"`
	CreatedAt      time.Time `json:"created_at"`
}

func credentialViewOf(c store.Credential) credentialView {
	transports := c.Transports
	if transports == nil {
		transports = []string{}
	}
	return credentialView{
		ID:             c.ID,
		UserID:         c.UserID,
		CredentialID:   store.EncodeCredentialID(c.CredentialID),
		Name:           c.Name,
		Counter:        c.Counter,
		Transports:     transports,
		BackupEligible: c.BackupEligible,
		BackupState:    c.BackupState,
		CreatedAt:      c.CreatedAt.UTC(),
	}
}

func (a *API) handlePasskeyRegisterStart(w http.ResponseWriter, r *http.Request) {
	sess, st := a.deps.Sessions.Load(r)
	opts, err := a.deps.Passkeys.BeginRegistration(r.Context(), &st, currentIdentity(r), r.Header.Get("Origin"))
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	if err := a.deps.Sessions.Save(w, r, sess, st); err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, opts.Response)
}

func (a *API) handlePasskeyRegisterFinish(w http.ResponseWriter, r *http.Request) {
	sess, st := a.deps.Sessions.Load(r)
	cred, err := a.deps.Passkeys.FinishRegistration(r.Context(), &st, currentIdentity(r), r.Body)
	if saveErr := a.deps.Sessions.Save(w, r, sess, st); saveErr != nil && err == nil {
		err = saveErr
	}
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"name":       cred.Name,
		"credential": credentialViewOf(*cred),
	})
}

func (a *API) handlePasskeyLoginStart(w http.ResponseWriter, r *http.Request) {
	var req passkeyLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sess, st := a.deps.Sessions.Load(r)
	opts, err := a.deps.Passkeys.BeginLogin(r.Context(), &st, strings.TrimSpace(req.Username), r.Header.Get("Origin"))
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	if err := a.deps.Sessions.Save(w, r, sess, st); err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, opts.Response)
}

func (a *API) handlePasskeyLoginFinish(w http.ResponseWriter, r *http.Request) {
	sess, st := a.deps.Sessions.Load(r)
	id, err := a.deps.Passkeys.FinishLogin(r.Context(), &st, r.Body, clientIP(r))
	if err != nil {
		if saveErr := a.deps.Sessions.Save(w, r, sess, st); saveErr != nil {
			err = saveErr
		}
		a.handleError(w, r, err)
		return
	}
	if err := a.deps.Sessions.Issue(w, r, sess, st); err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": identityView(id)})
}

func (a *API) handleCredentialList(w http.ResponseWriter, r *http.Request) {
	actor := currentIdentity(r)
	owner := actor.ID
	if raw := strings.TrimSpace(r.URL.Query().Get("user_id")); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			writeError(w, r, http.StatusBadRequest, "user_id must be a positive integer")
			return
		}
		owner = v
	}
	creds, err := a.deps.Passkeys.ListCredentials(r.Context(), actor, owner)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	out := make([]credentialView, 0, len(creds))
	for _, c := range creds {
		out = append(out, credentialViewOf(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"credentials": out})
}

func (a *API) handleCredentialRename(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req renameCredentialRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	cred, err := a.deps.Passkeys.RenameCredential(r.Context(), currentIdentity(r), id, req.Name)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "renamed": true, "name": cred.Name})
}

func (a *API) handleCredentialDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.deps.Passkeys.DeleteCredential(r.Context(), currentIdentity(r), id); err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": true})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}
