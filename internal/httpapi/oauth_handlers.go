package httpapi

import (
	"errors"
	"net/http"

	"pagat.app/internal/auth"
	"pagat.app/internal/oauth"
)

func (a *API) handleGoogleStart(w http.ResponseWriter, r *http.Request) {
	if a.deps.OAuth == nil {
		writeError(w, r, http.StatusNotFound, "google login is not configured")
		return
	}
	target, nonce, err := a.deps.OAuth.Start()
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	sess, st := a.deps.Sessions.Load(r)
	st.OAuthNonce = nonce
	if err := a.deps.Sessions.Save(w, r, sess, st); err != nil {
		a.handleError(w, r, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (a *API) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	if a.deps.OAuth == nil {
		writeError(w, r, http.StatusNotFound, "google login is not configured")
		return
	}
	sess, st := a.deps.Sessions.Load(r)
	nonce := st.TakeOAuthNonce()
	if nonce != "" {
		if err := a.deps.Sessions.Save(w, r, sess, st); err != nil {
			a.handleError(w, r, err)
			return
		}
	}
	q := r.URL.Query()
	if reason := q.Get("error"); reason != "" {
		writeError(w, r, http.StatusUnauthorized, "google auth failed: "+reason)
		return
	}
	u, err := a.deps.OAuth.Complete(r.Context(), oauth.Callback{
		State: q.Get("state"),
		Nonce: nonce,
		Code:  q.Get("code"),
		IP:    clientIP(r),
	})
	switch {
	case errors.Is(err, auth.ErrNotApproved):
		http.Redirect(w, r, a.opts.GooglePendingRedirect, http.StatusFound)
		return
	case errors.Is(err, auth.ErrVerificationFailed):
		writeError(w, r, http.StatusUnauthorized, "google auth failed")
		return
	case err != nil:
		a.handleError(w, r, err)
		return
	}
	st.Issue(auth.IdentityOf(u), false)
	if err := a.deps.Sessions.Issue(w, r, sess, st); err != nil {
		a.handleError(w, r, err)
		return
	}
	http.Redirect(w, r, a.opts.GoogleSuccessRedirect, http.StatusFound)
}
