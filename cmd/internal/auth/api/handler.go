// Package api exposes the account-authentication HTTP contracts: registration,
// one-time codes, login, token refresh, password reset and change, profile,
// users and SSO.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/puse45/auth-ms/cmd/account"
	"github.com/puse45/auth-ms/cmd/internal/auth/credentials"
	"github.com/puse45/auth-ms/cmd/internal/auth/gateway"
	"github.com/puse45/auth-ms/cmd/internal/auth/session"
	"github.com/puse45/auth-ms/cmd/internal/auth/signup"
	"github.com/puse45/auth-ms/cmd/internal/auth/sso"
	"github.com/puse45/auth-ms/cmd/internal/ratelimit"
	"github.com/puse45/auth-ms/cmd/internal/verification"
)

// Deps are the services behind the HTTP layer. All are required.
type Deps struct {
	Accounts    account.Store
	Codes       *verification.Service
	Gateway     *gateway.Gateway
	Credentials *credentials.Service
	Signup      *signup.Service
	Sessions    *session.Service
}

// Handler wires HTTP auth endpoints to the account services.
type Handler struct {
	log *slog.Logger
	cfg Config

	accounts account.Store
	codes    *verification.Service
	gateway  *gateway.Gateway
	creds    *credentials.Service
	signup   *signup.Service
	sessions *session.Service

	sso       sso.Provider
	ssoStates *sso.StateStore

	limiter ratelimit.Limiter
	limits  ratelimit.Config

	auditor Auditor
	now     func() time.Time
}

type HandlerOption func(*Handler)

// WithSSO enables /auth/sso/login and /auth/sso/callback.
func WithSSO(p sso.Provider, states *sso.StateStore) HandlerOption {
	return func(h *Handler) {
		if p == nil || states == nil {
			return
		}
		h.sso = p
		h.ssoStates = states
	}
}

func WithLimiter(l ratelimit.Limiter, limits ratelimit.Config) HandlerOption {
	return func(h *Handler) {
		h.limiter = l
		h.limits = limits
	}
}

func WithAuditor(a Auditor) HandlerOption {
	return func(h *Handler) {
		if a != nil {
			h.auditor = a
		}
	}
}

func NewHandler(log *slog.Logger, cfg Config, deps Deps, opts ...HandlerOption) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if deps.Accounts == nil || deps.Codes == nil || deps.Gateway == nil ||
		deps.Credentials == nil || deps.Signup == nil || deps.Sessions == nil {
		return nil, errors.New("api: missing service dependency")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.MaxListAccounts <= 0 {
		cfg.MaxListAccounts = 500
	}

	h := &Handler{
		log:      log,
		cfg:      cfg,
		accounts: deps.Accounts,
		codes:    deps.Codes,
		gateway:  deps.Gateway,
		creds:    deps.Credentials,
		signup:   deps.Signup,
		sessions: deps.Sessions,
		auditor:  LogAuditor{Log: log},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register wires auth routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /auth/register", h.handleRegister)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/token/refresh", h.handleRefresh)
	mux.HandleFunc("POST /auth/logout", h.handleLogout)

	mux.HandleFunc("POST /auth/otp/generate", h.handleGenerateOTP)
	mux.HandleFunc("POST /auth/otp/verify", h.handleVerifyOTP)

	mux.HandleFunc("POST /auth/password/reset", h.handleResetPassword)
	mux.HandleFunc("POST /auth/password/reset/confirm", h.handleResetConfirm)
	mux.HandleFunc("POST /auth/password/change", h.handlePasswordChange)

	mux.HandleFunc("GET /auth/profile", h.handleProfileGet)
	mux.HandleFunc("PATCH /auth/profile", h.handleProfilePatch)
	mux.HandleFunc("GET /auth/users", h.handleUsersList)
	mux.HandleFunc("GET /auth/users/{id}", h.handleUserGet)
	mux.HandleFunc("PATCH /auth/users/{id}", h.handleUserPatch)

	mux.HandleFunc("GET /auth/sso/login", h.handleSSOLogin)
	mux.HandleFunc("GET /auth/sso/callback", h.handleSSOCallback)
}

// ---- session endpoints ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	ctx := r.Context()
	dev := h.device(r, req.Platform, req.RememberMe)
	ua := dev.UserAgent

	if blocked, retry := h.loginThrottled(ctx, dev.IP, req.Username); blocked {
		h.audit(ctx, "auth.login.rate_limited", "", "", dev.IP, ua, map[string]any{"retry_after_s": int64(retry.Seconds())})
		writeRateLimited(w, retry)
		return
	}

	cred, err := h.gateway.Authenticate(ctx, req.Username, req.Password, dev)
	if err != nil {
		reason := "error"
		switch {
		case errors.Is(err, gateway.ErrInvalidCredentials):
			reason = "invalid_credentials"
		case gateway.IsUnverified(err):
			reason = "unverified"
		}
		h.audit(ctx, "auth.login.failed", "", "", dev.IP, ua, map[string]any{"reason": reason})
		h.fail(w, "api.login.fail", err)
		return
	}

	h.audit(ctx, "auth.login.success", cred.Account.ID, cred.Session.SessionID, dev.IP, ua, nil)
	writeJSON(w, http.StatusOK, toLoginResponse(cred.Account, cred.Session))
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Refresh) == "" {
		writeFieldError(w, "refresh", "This field is required.")
		return
	}

	ctx := r.Context()
	dev := h.device(r, req.Platform, req.RememberMe)

	issued, err := h.sessions.RotateRefresh(ctx, h.now(), req.Refresh, dev)
	if err != nil {
		if errors.Is(err, session.ErrRefreshReuseDetected) {
			h.audit(ctx, "auth.refresh.reuse_detected", "", "", dev.IP, dev.UserAgent, nil)
		}
		h.fail(w, "api.refresh.fail", err)
		return
	}

	h.audit(ctx, "auth.refresh.success", "", issued.SessionID, dev.IP, dev.UserAgent, nil)
	writeJSON(w, http.StatusOK, refreshResponse{Refresh: issued.RefreshToken, Access: issued.AccessToken})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if err := h.sessions.RevokeSession(ctx, h.now(), claims.SessionID); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		h.log.Error("api.logout.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.audit(ctx, "auth.logout", claims.AccountID, claims.SessionID, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()), nil)
	w.WriteHeader(http.StatusNoContent)
}

// ---- helpers ----

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (session.AccessClaims, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return session.AccessClaims{}, false
	}
	claims, err := h.sessions.ValidateAccessToken(r.Context(), token, h.now())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return session.AccessClaims{}, false
	}
	return claims, true
}

func (h *Handler) fail(w http.ResponseWriter, event string, err error) {
	if writeDomainError(w, err) {
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	h.log.Error(event, "err", err)
	writeError(w, http.StatusInternalServerError, "server_error", "internal error")
}
