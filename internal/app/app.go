// Package app wires the Pulse server runtime: config, logging, storage,
// the auth API, and the realtime gateway.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	authapi "pulse/internal/auth/api"
	"pulse/internal/auth/session"
	"pulse/internal/identity"
	"pulse/internal/metrics"
	"pulse/internal/realtime"
)

// App owns the HTTP server and every subsystem behind it.
type App struct {
	cfg Config
	log *slog.Logger

	pool    *pgxpool.Pool
	redisCl *redis.Client

	metrics   *metrics.Metrics
	auth      *authapi.Handler
	hub       *realtime.Hub
	gateway   *realtime.Gateway
	broadcast *realtime.BroadcastHandler
}

// New constructs a fully wired App. Storage backend selection: Postgres
// when PULSE_DATABASE_URL is set, otherwise Redis sessions when
// PULSE_REDIS_ADDR is set, otherwise everything in memory.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	a := &App{cfg: cfg, log: log, metrics: metrics.New()}

	store, directory, err := a.newStorage(ctx)
	if err != nil {
		return nil, err
	}

	sessions, err := session.NewService(cfg.Session, store, directory, log)
	if err != nil {
		a.closeStorage()
		return nil, err
	}

	auth, err := authapi.NewHandler(log, cfg.Auth, sessions, directory, a.metrics)
	if err != nil {
		a.closeStorage()
		return nil, err
	}

	a.auth = auth
	a.hub = realtime.NewHub(log, a.metrics)
	a.gateway = realtime.NewGateway(log, a.hub, auth.Guard(), a.metrics, cfg.Gateway)
	a.broadcast = realtime.NewBroadcastHandler(log, a.hub, auth.Guard(), a.metrics)

	return a, nil
}

func (a *App) newStorage(ctx context.Context) (session.Store, identity.Directory, error) {
	if a.cfg.DatabaseURL != "" {
		pool, err := NewDBPool(ctx, a.cfg)
		if err != nil {
			return nil, nil, err
		}
		a.pool = pool
		a.log.Info("storage.postgres", "sessions", "postgres", "directory", "postgres")

		directory, err := identity.NewPostgresDirectory(pool)
		if err != nil {
			pool.Close()
			a.pool = nil
			return nil, nil, err
		}
		return session.NewPostgresStore(pool), directory, nil
	}

	directory := a.devDirectory()

	if a.cfg.RedisAddr != "" {
		a.redisCl = redis.NewClient(&redis.Options{
			Addr:     a.cfg.RedisAddr,
			Password: a.cfg.RedisPassword,
			DB:       a.cfg.RedisDB,
		})
		if err := a.redisCl.Ping(ctx).Err(); err != nil {
			_ = a.redisCl.Close()
			a.redisCl = nil
			return nil, nil, err
		}
		a.log.Info("storage.redis", "sessions", "redis", "directory", "memory")
		return session.NewRedisStore(a.redisCl), directory, nil
	}

	a.log.Info("storage.memory", "sessions", "memory", "directory", "memory")
	return session.NewMemoryStore(), directory, nil
}

// devDirectory builds the in-memory directory used when no database is
// configured, seeding one admin principal if dev credentials are set.
func (a *App) devDirectory() *identity.MemoryDirectory {
	directory := identity.NewMemoryDirectory()
	if a.cfg.DevSeedEmail == "" || a.cfg.DevSeedPassword == "" {
		return directory
	}

	hash, err := identity.HashPassword(a.cfg.DevSeedPassword, identity.DefaultArgon2idParams())
	if err != nil {
		a.log.Error("dev_seed.hash.fail", "err", err)
		return directory
	}
	directory.Put(identity.Principal{
		ID:           "dev-admin",
		Email:        a.cfg.DevSeedEmail,
		Role:         identity.RoleAdmin,
		PasswordHash: hash,
	})
	a.log.Info("dev_seed.admin", "email", a.cfg.DevSeedEmail)
	return directory
}

func (a *App) closeStorage() {
	if a.redisCl != nil {
		_ = a.redisCl.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server fails.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	a.registerHTTP(mux)

	handler := WithRecovery(WithRequestLogging(mux, a.log), a.log)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		ReadTimeout:       a.cfg.ReadTimeout,
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       a.cfg.IdleTimeout,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.pool != nil)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		a.closeStorage()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		a.closeStorage()
		return err
	}

	a.closeStorage()
	a.log.Info("server.stopped")
	return nil
}
