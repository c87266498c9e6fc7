package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"pagat.app/internal/auth"
	"pagat.app/internal/obs"
)

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleError maps the auth taxonomy onto HTTP responses.
func (a *API) handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrWrongAuthMethod):
		writeError(w, r, http.StatusBadRequest, "use Google login for this account")
	case errors.Is(err, auth.ErrTooManyAttempts):
		writeError(w, r, http.StatusTooManyRequests, "too many attempts, try later")
	case errors.Is(err, auth.ErrDuplicateUsername):
		writeError(w, r, http.StatusConflict, "username already exists")
	case errors.Is(err, auth.ErrNotApproved):
		writeNotApproved(w, r, err)
	case errors.Is(err, auth.ErrVerificationFailed):
		writeError(w, r, http.StatusBadRequest, "verification failed")
	case errors.Is(err, auth.ErrUnknownCredential):
		writeError(w, r, http.StatusBadRequest, "unknown credential")
	case errors.Is(err, auth.ErrNoCredentials):
		writeError(w, r, http.StatusBadRequest, "no credentials")
	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, r, http.StatusUnauthorized, "unauthenticated")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	default:
		obs.Logger().Error("request failed",
			"request_id", RequestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err)
		payload := map[string]any{"error": "internal error"}
		if a.opts.Debug {
			payload["detail"] = err.Error()
		}
		if rid := RequestIDFromContext(r.Context()); rid != "" {
			payload["request_id"] = rid
		}
		writeJSON(w, http.StatusInternalServerError, payload)
	}
}

func writeNotApproved(w http.ResponseWriter, r *http.Request, err error) {
	payload := map[string]any{
		"error":    "not approved",
		"pending":  errors.Is(err, auth.ErrPending),
		"rejected": errors.Is(err, auth.ErrRejected),
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, http.StatusForbidden, payload)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}
