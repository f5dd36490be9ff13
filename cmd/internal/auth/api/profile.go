package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/puse45/auth-ms/cmd/account"
	"github.com/puse45/auth-ms/cmd/internal/auth/signup"
)

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	ctx := r.Context()
	acc, err := h.signup.Register(ctx, signup.RegisterInput(req))
	if err != nil {
		h.fail(w, "api.register.fail", err)
		return
	}

	h.audit(ctx, "auth.register", acc.ID, "", clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()), nil)
	writeJSON(w, http.StatusCreated, toProfileResponse(acc))
}

func (h *Handler) handleProfileGet(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	acc, err := h.accounts.GetAccount(r.Context(), claims.AccountID)
	if err != nil {
		h.fail(w, "api.profile.get.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(acc))
}

func (h *Handler) handleProfilePatch(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	h.patchAccount(w, r, claims.AccountID)
}

// Superusers see every account; everyone else sees only their own.
func (h *Handler) handleUsersList(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}

	f := account.ListFilter{AccountID: viewer.ID}
	if viewer.Superuser {
		f = account.ListFilter{}
	}
	list, err := h.accounts.ListAccounts(r.Context(), f)
	if err != nil {
		h.fail(w, "api.users.list.fail", err)
		return
	}
	if len(list) > h.cfg.MaxListAccounts {
		list = list[:h.cfg.MaxListAccounts]
	}

	out := usersResponse{Count: len(list), Results: make([]profileResponse, 0, len(list))}
	for _, a := range list {
		out.Results = append(out.Results, toProfileResponse(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleUserGet(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if !canSee(viewer, id) {
		writeError(w, http.StatusNotFound, "not_found", "Not found.")
		return
	}
	acc, err := h.accounts.GetAccount(r.Context(), id)
	if err != nil {
		h.fail(w, "api.users.get.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(acc))
}

func (h *Handler) handleUserPatch(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if !canSee(viewer, id) {
		writeError(w, http.StatusNotFound, "not_found", "Not found.")
		return
	}
	h.patchAccount(w, r, id)
}

// viewer loads the authenticated account so superuser checks use current
// state rather than token claims.
func (h *Handler) viewer(w http.ResponseWriter, r *http.Request) (account.Account, bool) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return account.Account{}, false
	}
	acc, err := h.accounts.GetAccount(r.Context(), claims.AccountID)
	if err != nil {
		if account.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return account.Account{}, false
		}
		h.fail(w, "api.viewer.fail", err)
		return account.Account{}, false
	}
	return acc, true
}

func canSee(viewer account.Account, id string) bool {
	return viewer.Superuser || viewer.ID == id
}

func (h *Handler) patchAccount(w http.ResponseWriter, r *http.Request, id string) {
	var req profileUpdateRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	ctx := r.Context()
	acc, err := h.applyProfileUpdate(ctx, id, req)
	if err != nil {
		h.fail(w, "api.profile.update.fail", err)
		return
	}
	h.audit(ctx, "auth.profile.updated", id, "", clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()), nil)
	writeJSON(w, http.StatusOK, toProfileResponse(acc))
}

// applyProfileUpdate saves the name fields, then attaches any new email or
// phone number as an unverified channel and sends it a code.
func (h *Handler) applyProfileUpdate(ctx context.Context, id string, req profileUpdateRequest) (account.Account, error) {
	if req.FirstName != nil || req.LastName != nil || req.OtherNames != nil || req.IDNumber != nil {
		if _, err := h.accounts.UpdateProfile(ctx, id, account.ProfileUpdate{
			FirstName:  req.FirstName,
			LastName:   req.LastName,
			OtherNames: req.OtherNames,
			IDNumber:   req.IDNumber,
			Now:        h.now(),
		}); err != nil {
			return account.Account{}, err
		}
	}

	for _, a := range []struct {
		kind account.Kind
		raw  *string
	}{
		{account.KindEmail, req.Email},
		{account.KindPhone, req.PhoneNumber},
	} {
		if a.raw == nil || strings.TrimSpace(*a.raw) == "" {
			continue
		}
		if _, err := h.signup.AttachChannel(ctx, id, a.kind, *a.raw); err != nil {
			return account.Account{}, err
		}
	}

	return h.accounts.GetAccount(ctx, id)
}
