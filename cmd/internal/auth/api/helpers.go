package api

import (
	"net"
	"net/http"
	"strings"

	"github.com/puse45/auth-ms/cmd/account"
	"github.com/puse45/auth-ms/cmd/internal/auth/session"
)

func toProfileResponse(a account.Account) profileResponse {
	out := profileResponse{
		ID:          a.ID,
		Username:    a.Username,
		FirstName:   a.FirstName,
		LastName:    a.LastName,
		OtherNames:  a.OtherNames,
		IDNumber:    a.IDNumber,
		IsActive:    a.Active,
		IsSuperuser: a.Superuser,
		IsStaff:     a.Staff,
		LastLogin:   a.LastLogin,
		DateJoined:  a.DateJoined,
	}
	if a.Email != nil {
		out.Email = &channelResponse{Address: a.Email.Address, IsVerified: a.Email.IsVerified}
	}
	if a.Phone != nil {
		out.PhoneNumber = &channelResponse{Address: a.Phone.Address, IsVerified: a.Phone.IsVerified}
	}
	return out
}

func toLoginResponse(a account.Account, issued session.Issued) loginResponse {
	return loginResponse{
		Refresh:   issued.RefreshToken,
		Access:    issued.AccessToken,
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Username:  a.Username,
	}
}

// addresses lists the channel addresses present in req, phone first.
func (req addressRequest) addresses() []kindAddress {
	var out []kindAddress
	if s := strings.TrimSpace(req.PhoneNumber); s != "" {
		out = append(out, kindAddress{Kind: account.KindPhone, Address: s})
	}
	if s := strings.TrimSpace(req.Email); s != "" {
		out = append(out, kindAddress{Kind: account.KindEmail, Address: s})
	}
	return out
}

type kindAddress struct {
	Kind    account.Kind
	Address string
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, tok, ok := strings.Cut(raw, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}

func (h *Handler) device(r *http.Request, platform string, rememberMe bool) session.DeviceContext {
	return session.DeviceContext{
		Platform:   session.ParsePlatform(strings.ToLower(strings.TrimSpace(platform))),
		RememberMe: rememberMe,
		UserAgent:  strings.TrimSpace(r.UserAgent()),
		IP:         clientIP(r, h.cfg.TrustProxy),
	}
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
