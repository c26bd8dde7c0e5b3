// Package app wires the trackr server runtime: config, logging, storage
// backends, HTTP routes and the realtime gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"trackr/cmd/identity"
	authapi "trackr/cmd/internal/auth/api"
	"trackr/cmd/internal/auth/session"
	"trackr/cmd/internal/db"
	"trackr/cmd/internal/invite"
	"trackr/cmd/internal/membership"
	"trackr/cmd/internal/metrics"
	"trackr/cmd/internal/realtime"
	"trackr/cmd/security/password"
	"trackr/cmd/security/token"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// App is the trackr server runtime. It owns the backing stores, the auth
// handler and the realtime gateway.
type App struct {
	cfg Config
	log Logger

	dbPool *pgxpool.Pool
	rdb    *redis.Client

	registry *prometheus.Registry
	sessions *session.Service
	members  grantingDirectory
	auth     *authapi.Handler
	gateway  *realtime.Gateway
}

// New constructs a fully wired App instance from config and logger.
// Resources opened before a failure are released.
func New(ctx context.Context, cfg Config, log Logger) (_ *App, err error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	a := &App{cfg: cfg, log: log, registry: metrics.NewRegistry()}
	defer func() {
		if err != nil {
			a.closeStores()
		}
	}()

	m := metrics.New(a.registry)

	if cfg.DatabaseURL != "" {
		if cfg.AutoMigrate {
			if err := db.MigrateUp(cfg.DatabaseURL); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
			log.Info("db.migrated")
		}
		if a.dbPool, err = NewDBPool(ctx, cfg); err != nil {
			return nil, fmt.Errorf("db: %w", err)
		}
		log.Info("db.enabled.postgres")
	} else {
		log.Info("db.disabled.inmemory")
	}

	users, err := a.identityStore()
	if err != nil {
		return nil, err
	}
	ledger, err := a.ledger(ctx)
	if err != nil {
		return nil, err
	}
	members, err := a.directory(ctx)
	if err != nil {
		return nil, err
	}
	invites, err := a.inviteStore()
	if err != nil {
		return nil, err
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("session config: %w", err)
	}
	hasher, err := token.HasherFromEnv(cfg.RequireTokenHMAC)
	if err != nil {
		return nil, fmt.Errorf("token hasher: %w", err)
	}
	pwCfg, err := password.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("password config: %w", err)
	}
	tokens, err := session.NewAccessTokenManager(sessCfg)
	if err != nil {
		return nil, fmt.Errorf("access tokens: %w", err)
	}

	a.sessions, err = session.NewService(sessCfg, users, ledger, tokens,
		session.WithLogger(log),
		session.WithPasswordConfig(pwCfg),
		session.WithHasher(hasher),
		session.WithMetrics(m),
	)
	if err != nil {
		return nil, err
	}

	inviteSvc, err := invite.NewService(invites, members,
		invite.WithHasher(hasher),
		invite.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	authCfg, err := authapi.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("auth config: %w", err)
	}
	a.auth, err = authapi.NewHandler(log, authCfg, a.sessions,
		authapi.WithInvites(inviteSvc),
	)
	if err != nil {
		return nil, err
	}

	gwCfg, err := realtime.LoadGatewayConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("gateway config: %w", err)
	}
	a.gateway, err = realtime.NewGateway(log, realtime.NewHub(log), a.sessions, members, gwCfg,
		realtime.WithMetrics(m),
	)
	if err != nil {
		return nil, err
	}

	log.Info("app.ready",
		"ledger", cfg.LedgerBackend,
		"access_format", sessCfg.AccessTokenFormat,
		"token_hmac", hasher.Keyed(),
	)
	return a, nil
}

func (a *App) identityStore() (identity.Store, error) {
	if a.dbPool == nil {
		return identity.NewMemoryStore(), nil
	}
	return identity.NewPostgresStore(a.dbPool)
}

func (a *App) ledger(ctx context.Context) (session.Ledger, error) {
	switch a.cfg.LedgerBackend {
	case LedgerPostgres:
		if a.dbPool == nil {
			return nil, fmt.Errorf("%w: postgres ledger without database", ErrConfig)
		}
		return session.NewPostgresLedger(a.dbPool)
	case LedgerRedis:
		opts, err := redis.ParseURL(a.cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("%w: redis url: %v", ErrConfig, err)
		}
		a.rdb = redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := a.rdb.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.log.Info("ledger.redis", "addr", opts.Addr, "db", opts.DB)
		return session.NewRedisLedger(a.rdb)
	default:
		return session.NewMemoryLedger(), nil
	}
}

type grantingDirectory interface {
	membership.Directory
	membership.Granter
}

func (a *App) directory(ctx context.Context) (membership.Directory, error) {
	var dir grantingDirectory
	if a.dbPool == nil {
		dir = membership.NewMemoryDirectory()
	} else {
		pg, err := membership.NewPostgresDirectory(a.dbPool)
		if err != nil {
			return nil, err
		}
		dir = pg
	}

	if a.cfg.DevMemberships != "" {
		refs, err := membership.ParseSeed(a.cfg.DevMemberships)
		if err != nil {
			return nil, fmt.Errorf("%w: TRACKR_DEV_MEMBERSHIPS: %v", ErrConfig, err)
		}
		if err := membership.Seed(ctx, dir, refs); err != nil {
			return nil, fmt.Errorf("seed memberships: %w", err)
		}
		a.log.Info("membership.seeded", "count", len(refs))
	}
	a.members = dir
	return dir, nil
}

func (a *App) inviteStore() (invite.Store, error) {
	if a.dbPool == nil {
		return invite.NewMemoryStore(), nil
	}
	return invite.NewPostgresStore(a.dbPool)
}

// Broadcaster hands the realtime publisher to the CRUD layer.
func (a *App) Broadcaster() realtime.Broadcaster {
	return a.gateway.Broadcaster()
}

// Handler returns the full HTTP surface with middleware applied.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.registerHTTP(mux)

	var h http.Handler = mux
	h = WithSecurityHeaders(h)
	h = WithCORS(h, a.cfg, a.log)
	return WithRequestLogging(h, a.log)
}

// Run listens on cfg.HTTPAddr and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled or the server fails. On stop the
// HTTP server drains first, then the gateway closes live connections, then
// the stores are released.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	addr := ln.Addr().String()
	a.log.Info("server.start",
		"addr", addr,
		"ws_url", GatewayURL(addr),
		"db_enabled", a.dbPool != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case serveErr = <-errCh:
		a.log.Error("server.fail", "err", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		serveErr = errors.Join(serveErr, err)
	}
	if err := a.gateway.Close(shutdownCtx); err != nil {
		a.log.Error("ws.shutdown.fail", "err", err)
		serveErr = errors.Join(serveErr, err)
	}
	a.closeStores()

	a.log.Info("server.stopped")
	return serveErr
}

func (a *App) closeStores() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Warn("redis.close.fail", "err", err)
		}
		a.rdb = nil
	}
	if a.dbPool != nil {
		a.dbPool.Close()
		a.dbPool = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
