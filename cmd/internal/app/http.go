package app

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/puse45/auth-ms/cmd/internal/auth/api"
	"github.com/puse45/auth-ms/cmd/internal/metrics"
	"github.com/puse45/auth-ms/cmd/internal/realtime"
)

type routes struct {
	log     *slog.Logger
	cfg     Config
	pool    *pgxpool.Pool
	auth    *api.Handler
	ws      *realtime.WSGateway
	metrics *metrics.Metrics
}

func registerHTTP(mux *http.ServeMux, rt routes) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", readyzHandler(rt))

	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}
	if rt.ws != nil {
		mux.Handle("GET /ws/events", rt.ws)
	}
	rt.auth.Register(mux)
}

func readyzHandler(rt routes) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rt.cfg.ReadinessRequireDB && rt.pool == nil {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}
		if rt.pool != nil {
			if err := PingDB(r.Context(), rt.pool, 2*time.Second); err != nil {
				rt.log.Warn("readyz.db.not_ready", "err", err)
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	}
}

// buildHandler wraps the mux in the middleware chain, outermost first:
// request id, recover, logging, security headers, CORS.
func buildHandler(mux http.Handler, cfg Config, log *slog.Logger, m *metrics.Metrics) http.Handler {
	h := WithCORS(mux, cfg)
	h = WithSecurityHeaders(h)
	h = WithRequestLogging(h, log, m)
	h = WithRecover(h, log)
	return WithRequestID(h)
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + strings.TrimSpace(addr)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
