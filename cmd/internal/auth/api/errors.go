package api

import (
	"errors"
	"net/http"

	"github.com/puse45/auth-ms/cmd/account"
	"github.com/puse45/auth-ms/cmd/internal/auth/gateway"
	"github.com/puse45/auth-ms/cmd/internal/auth/session"
	"github.com/puse45/auth-ms/cmd/internal/verification"
)

const (
	msgNotRegistered      = "The account is not registered."
	msgInvalidCredentials = "Invalid credentials"
	msgInvalidCode        = "Invalid or expired OTP."
	msgNeedAddress        = "Email or Phone number is required."
)

// writeDomainError maps service errors onto the HTTP error contract. It
// reports false when err is not a known domain error; the caller logs it and
// answers 500.
func writeDomainError(w http.ResponseWriter, err error) bool {
	var (
		ve account.ValidationError
		ce account.ConflictError
		ue gateway.UnverifiedError
	)
	switch {
	case errors.As(err, &ve):
		field := ve.Field
		if field == "" {
			field = "non_field_errors"
		}
		writeFieldError(w, field, ve.Msg)
	case errors.As(err, &ce):
		writeFieldError(w, ce.Field, ce.Message())
	case errors.Is(err, account.ErrAccountNotRegistered):
		writeError(w, http.StatusBadRequest, "account_not_registered", msgNotRegistered)
	case errors.Is(err, verification.ErrAlreadyVerified):
		writeError(w, http.StatusBadRequest, "validation_error", "The channel is verified.")
	case errors.Is(err, verification.ErrInvalidOrExpiredCode):
		writeError(w, http.StatusNotAcceptable, "invalid_or_expired_code", msgInvalidCode)
	case errors.Is(err, gateway.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", msgInvalidCredentials)
	case errors.As(err, &ue):
		writeError(w, http.StatusBadRequest, "unverified", ue.Message())
	case errors.Is(err, session.ErrRefreshReuseDetected):
		writeError(w, http.StatusUnauthorized, "refresh_reuse_detected", "refresh token reuse detected")
	case errors.Is(err, session.ErrSessionExpired), errors.Is(err, session.ErrSessionRevoked), errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusUnauthorized, "session_not_active", "session not active")
	case errors.Is(err, session.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
	case account.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", "Not found.")
	case account.IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, "validation_error", "invalid input")
	default:
		return false
	}
	return true
}

func verifiedMessage(kind account.Kind) string {
	return kind.Label() + " is verified."
}
