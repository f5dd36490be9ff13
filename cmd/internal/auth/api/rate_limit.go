package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/puse45/auth-ms/cmd/internal/ratelimit"
)

// throttled reports whether key is over limit. Limiter failures are logged and
// let the request through.
func (h *Handler) throttled(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration) {
	if h.limiter == nil || limit <= 0 {
		return false, 0
	}
	d, err := h.limiter.Allow(ctx, key, limit, window)
	if err != nil {
		h.log.Error("api.ratelimit.fail", "err", err, "key_kind", strings.SplitN(key, ":", 2)[0])
		return false, 0
	}
	return !d.Allowed, d.RetryAfter
}

func (h *Handler) loginThrottled(ctx context.Context, ip net.IP, username string) (bool, time.Duration) {
	if ip != nil {
		if blocked, retry := h.throttled(ctx, ratelimit.Key("login", "ip", ip.String()), h.limits.LoginIPMax, h.limits.LoginIPWindow); blocked {
			return true, retry
		}
	}
	if u := strings.ToLower(strings.TrimSpace(username)); u != "" {
		return h.throttled(ctx, ratelimit.Key("login", "user", u), h.limits.LoginUserMax, h.limits.LoginUserWindow)
	}
	return false, 0
}

func (h *Handler) otpThrottled(ctx context.Context, purpose string, addrs []kindAddress) (bool, time.Duration) {
	for _, a := range addrs {
		key := ratelimit.Key("otp", purpose, string(a.Kind), strings.ToLower(a.Address))
		if blocked, retry := h.throttled(ctx, key, h.limits.OTPRequestMax, h.limits.OTPRequestWindow); blocked {
			return true, retry
		}
	}
	return false, 0
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64(retryAfter.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}
