package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/puse45/auth-ms/cmd/internal/auth/signup"
	"github.com/puse45/auth-ms/cmd/internal/auth/sso"
)

func (h *Handler) handleSSOLogin(w http.ResponseWriter, r *http.Request) {
	if h.sso == nil {
		writeError(w, http.StatusNotFound, "sso_disabled", "single sign-on is not configured")
		return
	}

	state, err := sso.NewState()
	if err != nil {
		h.fail(w, "api.sso.state.fail", err)
		return
	}
	verifier, err := sso.NewVerifier()
	if err != nil {
		h.fail(w, "api.sso.verifier.fail", err)
		return
	}
	h.ssoStates.Put(state, verifier)

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, h.sso.AuthCodeURL(state, verifier), http.StatusFound)
}

// handleSSOCallback exchanges the authorization code, links or provisions the
// account for the asserted email and answers like a password login.
func (h *Handler) handleSSOCallback(w http.ResponseWriter, r *http.Request) {
	if h.sso == nil {
		writeError(w, http.StatusNotFound, "sso_disabled", "single sign-on is not configured")
		return
	}

	q := r.URL.Query()
	if e := strings.TrimSpace(q.Get("error")); e != "" {
		writeError(w, http.StatusBadRequest, "sso_denied", "the identity provider refused the login")
		return
	}
	code := strings.TrimSpace(q.Get("code"))
	state := strings.TrimSpace(q.Get("state"))
	if code == "" || state == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "code and state are required")
		return
	}
	verifier, ok := h.ssoStates.Take(state)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_state", "login session expired, start again")
		return
	}

	ctx := r.Context()
	dev := h.device(r, q.Get("platform"), false)

	assertion, err := h.sso.Exchange(ctx, code, verifier)
	if err != nil {
		if errors.Is(err, sso.ErrExchange) || errors.Is(err, sso.ErrProfile) {
			h.log.Warn("api.sso.exchange.fail", "err", err, "provider", h.sso.Name())
			writeError(w, http.StatusBadGateway, "sso_exchange_failed", "could not complete single sign-on")
			return
		}
		h.fail(w, "api.sso.exchange.fail", err)
		return
	}

	acc, created, err := h.signup.ProvisionSSO(ctx, signup.Identity{
		Provider:      assertion.Provider,
		Subject:       assertion.Subject,
		Email:         assertion.Email,
		EmailVerified: assertion.EmailVerified,
		GivenName:     assertion.GivenName,
		FamilyName:    assertion.FamilyName,
	})
	if err != nil {
		h.fail(w, "api.sso.provision.fail", err)
		return
	}

	cred, err := h.gateway.Admit(ctx, acc, dev)
	if err != nil {
		h.fail(w, "api.sso.admit.fail", err)
		return
	}

	h.audit(ctx, "auth.sso.login", acc.ID, cred.Session.SessionID, dev.IP, dev.UserAgent, map[string]any{
		"provider": assertion.Provider,
		"created":  created,
	})
	writeJSON(w, http.StatusOK, toLoginResponse(cred.Account, cred.Session))
}
