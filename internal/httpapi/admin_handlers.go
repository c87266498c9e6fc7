package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"pagat.app/internal/audit"
	"pagat.app/internal/store"
)

type setRoleRequest struct {
	Role string `json:"role"`
}

func (a *API) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.deps.Directory.ListUsers(r.Context(), currentIdentity(r), r.URL.Query().Get("status"))
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	out := make([]userView, 0, len(users))
	for i := range users {
		out = append(out, viewOf(&users[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": out})
}

func (a *API) handleAdminApprove(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.deps.Directory.Approve(r.Context(), currentIdentity(r), id); err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handleAdminReject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.deps.Directory.Reject(r.Context(), currentIdentity(r), id); err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handleAdminRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req setRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.deps.Directory.SetRole(r.Context(), currentIdentity(r), id, req.Role); err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handleAdminDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.deps.Directory.Delete(r.Context(), currentIdentity(r), id); err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handleAdminAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = v
	}
	entries, err := a.deps.Audit.Query(r.Context(), audit.Filter{
		Entity:   q.Get("entity"),
		Action:   q.Get("action"),
		Username: q.Get("user"),
		Search:   q.Get("search"),
		Limit:    store.ClampAuditLimit(limit),
	})
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	if entries == nil {
		entries = []store.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
