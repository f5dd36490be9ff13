// Package app wires the auth-ms runtime: configuration, logging, storage,
// the dispatch pipeline, HTTP routes and the realtime event stream.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/puse45/auth-ms/cmd/account"
	"github.com/puse45/auth-ms/cmd/internal/activation"
	"github.com/puse45/auth-ms/cmd/internal/auth/api"
	"github.com/puse45/auth-ms/cmd/internal/auth/credentials"
	"github.com/puse45/auth-ms/cmd/internal/auth/gateway"
	"github.com/puse45/auth-ms/cmd/internal/auth/session"
	"github.com/puse45/auth-ms/cmd/internal/auth/signup"
	"github.com/puse45/auth-ms/cmd/internal/auth/sso"
	"github.com/puse45/auth-ms/cmd/internal/dispatch"
	"github.com/puse45/auth-ms/cmd/internal/metrics"
	"github.com/puse45/auth-ms/cmd/internal/ratelimit"
	"github.com/puse45/auth-ms/cmd/internal/realtime"
	"github.com/puse45/auth-ms/cmd/internal/verification"
	"github.com/puse45/auth-ms/cmd/security/password"
)

// App owns every long-lived resource of the process.
type App struct {
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Metrics

	pool       *pgxpool.Pool
	dispatcher *dispatch.Dispatcher
	kafka      *dispatch.KafkaQueue

	handler http.Handler

	closers []func() error
}

// New constructs a fully wired App. On error every resource acquired so far
// is released.
func New(ctx context.Context, cfg Config, log *slog.Logger) (a *App, err error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	a = &App{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.close()
		}
	}()
	if cfg.MetricsEnabled {
		a.metrics = metrics.New()
	}

	accounts, sessionStore, auditor, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}

	bus := activation.NewBus(log)
	activation.NewReactor(bus, log, a.metrics).Register(accounts)

	queue, err := a.buildDispatch()
	if err != nil {
		return nil, err
	}

	vcfg, err := verification.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	codes := verification.NewService(accounts, queue, vcfg, log, verification.WithMetrics(a.metrics))

	pw, err := password.FromEnv()
	if err != nil {
		return nil, err
	}

	scfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	tokens, err := session.NewAccessTokenManager(scfg)
	if err != nil {
		return nil, err
	}
	sessions := session.NewService(scfg, sessionStore, tokens, accounts)

	gw, err := gateway.New(accounts, sessions, pw, log, gateway.WithMetrics(a.metrics))
	if err != nil {
		return nil, err
	}

	opts := []api.HandlerOption{api.WithAuditor(auditor)}
	limiterOpt, err := a.buildLimiter()
	if err != nil {
		return nil, err
	}
	opts = append(opts, limiterOpt)

	ssoCfg, err := sso.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if ssoCfg.Enabled() {
		provider, err := sso.NewOAuthProvider(ssoCfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, api.WithSSO(provider, sso.NewStateStore(ssoCfg.StateTTL, nil)))
		log.Info("sso.enabled", "provider", provider.Name())
	}

	acfg, err := api.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	authHandler, err := api.NewHandler(log, acfg, api.Deps{
		Accounts:    accounts,
		Codes:       codes,
		Gateway:     gw,
		Credentials: credentials.NewService(accounts, codes, sessions, pw, log),
		Signup:      signup.NewService(accounts, codes, pw, log, signup.WithRegion(vcfg.PhoneRegion)),
		Sessions:    sessions,
	}, opts...)
	if err != nil {
		return nil, err
	}

	rcfg, err := realtime.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	hub := realtime.NewHub(log)
	detach := hub.Attach(bus)
	a.closers = append(a.closers, func() error { detach(); return nil })

	mux := http.NewServeMux()
	registerHTTP(mux, routes{
		log:     log,
		cfg:     cfg,
		pool:    a.pool,
		auth:    authHandler,
		ws:      realtime.NewWSGateway(log, hub, sessions, rcfg),
		metrics: a.metrics,
	})
	a.handler = buildHandler(mux, cfg, log, a.metrics)
	return a, nil
}

// openStores selects Postgres when a database URL is configured and the
// in-memory stores otherwise.
func (a *App) openStores(ctx context.Context) (account.Store, session.Store, api.Auditor, error) {
	if a.cfg.DatabaseURL == "" {
		a.log.Warn("db.disabled.inmemory_store")
		return account.NewMemoryStore(), session.NewMemoryStore(), api.LogAuditor{Log: a.log}, nil
	}

	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	a.pool = pool
	a.closers = append(a.closers, func() error { pool.Close(); return nil })

	if err := prepareSchema(ctx, pool, a.cfg, a.log); err != nil {
		return nil, nil, nil, err
	}

	accounts, err := account.NewPostgresStore(pool, account.WithSchema(a.cfg.DBSchema))
	if err != nil {
		return nil, nil, nil, err
	}
	sessions, err := session.NewPostgresStore(pool, session.WithSchema(a.cfg.DBSchema))
	if err != nil {
		return nil, nil, nil, err
	}
	auditor, err := api.NewPostgresAuditor(pool, a.cfg.DBSchema, a.log)
	if err != nil {
		return nil, nil, nil, err
	}
	a.log.Info("db.enabled.postgres_store", "schema", a.cfg.DBSchema)
	return accounts, sessions, auditor, nil
}

// buildDispatch creates the worker pool and returns the queue codes are
// enqueued on: Kafka when brokers are configured, the local queue otherwise.
func (a *App) buildDispatch() (verification.Enqueuer, error) {
	dcfg, err := dispatch.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	a.dispatcher = dispatch.New(dcfg, dispatch.NewSenderFromConfig(dcfg, a.log), a.log, dispatch.WithMetrics(a.metrics))

	if !dcfg.Kafka.Enabled() {
		return a.dispatcher, nil
	}
	a.kafka = dispatch.NewKafkaQueue(dcfg.Kafka, a.dispatcher, a.log)
	a.closers = append(a.closers, a.kafka.Close)
	a.log.Info("dispatch.kafka.enabled", "brokers", dcfg.Kafka.Brokers, "topic", dcfg.Kafka.Topic)
	return a.kafka, nil
}

func (a *App) buildLimiter() (api.HandlerOption, error) {
	rcfg, err := ratelimit.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if rcfg.RedisURL == "" {
		return api.WithLimiter(ratelimit.NewMemory(nil), rcfg), nil
	}

	client, err := ratelimit.NewRedisClient(rcfg.RedisURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)
	a.log.Info("ratelimit.redis.enabled", "addr", client.Options().Addr)
	return api.WithLimiter(ratelimit.NewRedis(client, rcfg.KeyPrefix), rcfg), nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run serves HTTP and runs the dispatch workers (and the Kafka consumer when
// enabled) until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		ReadTimeout:       a.cfg.ReadTimeout,
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       a.cfg.IdleTimeout,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}

	base := a.cfg.PublicBaseURL
	if base == "" {
		base = runtimeBaseURL(a.cfg.HTTPAddr)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.dispatcher.Run(gctx) })
	if a.kafka != nil {
		g.Go(func() error { return a.kafka.Run(gctx) })
	}
	g.Go(func() error {
		a.log.Info("server.start",
			"addr", a.cfg.HTTPAddr,
			"base_url", base,
			"events_url", wsBaseURL(base)+"/ws/events",
			"db_enabled", a.pool != nil,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	err := g.Wait()
	if err != nil {
		a.log.Error("server.fail", "err", err)
		return err
	}
	a.log.Info("server.stopped")
	return nil
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Error("app.close.fail", "err", err)
		}
	}
	a.closers = nil
}
