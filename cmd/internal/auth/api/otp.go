package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/puse45/auth-ms/cmd/account"
	"github.com/puse45/auth-ms/cmd/internal/auth/signup"
	"github.com/puse45/auth-ms/cmd/internal/verification"
)

const (
	msgOTPSent       = "OTP sent"
	msgOTPVerified   = "OTP verified"
	msgResetDone     = "Password reset successful"
	msgPasswordSaved = "Password changed"
	msgRequired      = "This field is required."
)

// normalizeAll canonicalizes every address in place.
func (h *Handler) normalizeAll(addrs []kindAddress) error {
	for i := range addrs {
		n, err := h.codes.Normalize(addrs[i].Kind, addrs[i].Address)
		if err != nil {
			return err
		}
		addrs[i].Address = n
	}
	return nil
}

// preflight rejects the whole request before anything is sent when one of
// the addresses is unknown, or is already verified and reset is false.
func (h *Handler) preflight(ctx context.Context, addrs []kindAddress, reset bool) (account.Kind, error) {
	for _, a := range addrs {
		ch, err := h.accounts.FindChannel(ctx, a.Kind, a.Address)
		if err != nil {
			if account.IsNotFound(err) {
				return a.Kind, account.ErrAccountNotRegistered
			}
			return a.Kind, err
		}
		if ch.IsVerified && !reset {
			return a.Kind, verification.ErrAlreadyVerified
		}
	}
	return "", nil
}

func (h *Handler) handleGenerateOTP(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	addrs := req.addresses()
	if len(addrs) == 0 {
		writeFieldError(w, "non_field_errors", signup.MsgNeedChannel)
		return
	}
	h.issueCodes(w, r, addrs, false)
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	addrs := req.addresses()
	if len(addrs) == 0 {
		writeFieldError(w, "non_field_errors", msgNeedAddress)
		return
	}
	h.issueCodes(w, r, addrs, true)
}

func (h *Handler) issueCodes(w http.ResponseWriter, r *http.Request, addrs []kindAddress, reset bool) {
	ctx := r.Context()
	if err := h.normalizeAll(addrs); err != nil {
		h.fail(w, "api.otp.normalize.fail", err)
		return
	}

	purpose := "verify"
	if reset {
		purpose = "reset"
	}
	if blocked, retry := h.otpThrottled(ctx, purpose, addrs); blocked {
		writeRateLimited(w, retry)
		return
	}

	if kind, err := h.preflight(ctx, addrs, reset); err != nil {
		if errors.Is(err, verification.ErrAlreadyVerified) {
			writeFieldError(w, kind.Field(), verifiedMessage(kind))
			return
		}
		h.fail(w, "api.otp.lookup.fail", err)
		return
	}

	for _, a := range addrs {
		var (
			err     error
			skipped bool
			chID    string
		)
		if reset {
			res, e := h.creds.RequestReset(ctx, a.Kind, a.Address)
			err, chID = e, res.Channel.ID
		} else {
			res, e := h.codes.Issue(ctx, a.Kind, a.Address, false)
			err, skipped, chID = e, res.Skipped, res.Channel.ID
		}
		if err != nil {
			h.fail(w, "api.otp.issue.fail", err)
			return
		}
		if skipped {
			writeFieldError(w, a.Kind.Field(), verifiedMessage(a.Kind))
			return
		}
		h.audit(ctx, "auth.otp.issued", "", "", clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()), map[string]any{
			"kind":       string(a.Kind),
			"purpose":    purpose,
			"channel_id": chID,
		})
	}
	writeMessage(w, msgOTPSent)
}

func (h *Handler) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	addrs := req.addresses()
	if len(addrs) == 0 {
		writeFieldError(w, "non_field_errors", signup.MsgNeedChannel)
		return
	}
	code := strings.TrimSpace(req.OTP)
	if code == "" {
		writeFieldError(w, "otp", msgRequired)
		return
	}

	ctx := r.Context()
	target := addrs[:1]
	if err := h.normalizeAll(target); err != nil {
		h.fail(w, "api.otp.normalize.fail", err)
		return
	}
	if kind, err := h.preflight(ctx, target, false); err != nil {
		if errors.Is(err, verification.ErrAlreadyVerified) {
			writeFieldError(w, kind.Field(), verifiedMessage(kind))
			return
		}
		h.fail(w, "api.otp.lookup.fail", err)
		return
	}

	ch, err := h.codes.Check(ctx, target[0].Kind, target[0].Address, code, false)
	if err != nil {
		h.fail(w, "api.otp.verify.fail", err)
		return
	}

	h.audit(ctx, "auth.otp.verified", ch.AccountID, "", clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()), map[string]any{"kind": string(ch.Kind)})
	writeMessage(w, msgOTPVerified)
}

func (h *Handler) handleResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	addrs := req.addresses()
	if len(addrs) == 0 {
		writeFieldError(w, "non_field_errors", msgNeedAddress)
		return
	}
	code := strings.TrimSpace(req.OTP)
	switch {
	case code == "":
		writeFieldError(w, "otp", msgRequired)
		return
	case req.Password1 == "":
		writeFieldError(w, "password1", msgRequired)
		return
	case req.Password2 == "":
		writeFieldError(w, "password2", msgRequired)
		return
	}

	ctx := r.Context()
	target := addrs[0]
	if err := h.creds.ConfirmReset(ctx, target.Kind, target.Address, code, req.Password1, req.Password2); err != nil {
		h.fail(w, "api.reset.confirm.fail", err)
		return
	}

	h.audit(ctx, "auth.password.reset", "", "", clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()), map[string]any{"kind": string(target.Kind)})
	writeMessage(w, msgResetDone)
}

func (h *Handler) handlePasswordChange(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	var req passwordChangeRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	ctx := r.Context()
	if err := h.creds.ChangePassword(ctx, claims.AccountID, req.OldPassword, req.Password1, req.Password2); err != nil {
		h.fail(w, "api.password.change.fail", err)
		return
	}

	h.audit(ctx, "auth.password.changed", claims.AccountID, claims.SessionID, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()), nil)
	writeMessage(w, msgPasswordSaved)
}
