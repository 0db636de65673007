package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattjoyce/pushbridge/internal/bridge"
	"github.com/mattjoyce/pushbridge/internal/config"
	"github.com/mattjoyce/pushbridge/internal/events"
	"github.com/mattjoyce/pushbridge/internal/lock"
	"github.com/mattjoyce/pushbridge/internal/log"
	"github.com/mattjoyce/pushbridge/internal/protocol"
	"github.com/mattjoyce/pushbridge/internal/provider"
	"github.com/mattjoyce/pushbridge/internal/provider/local"
	"github.com/mattjoyce/pushbridge/internal/provider/rest"
	"github.com/mattjoyce/pushbridge/internal/session"
	"github.com/mattjoyce/pushbridge/internal/storage"
	"github.com/mattjoyce/pushbridge/internal/workerpool"
)

// bridgeRuntime holds the collaborators shared by every plugin instance in
// one process.
type bridgeRuntime struct {
	cfg      *config.Config
	provider provider.Provider
	pool     *workerpool.Pool
	hub      *events.Hub
	init     *bridge.InitLatch
	logger   *slog.Logger

	db      *sql.DB
	pidLock *lock.PIDLock
}

// openRuntime builds the provider, worker pool and activity hub described by
// cfg. The local provider holds a PID lock on its database for the lifetime
// of the runtime.
func openRuntime(ctx context.Context, cfg *config.Config) (*bridgeRuntime, error) {
	rt := &bridgeRuntime{
		cfg:    cfg,
		hub:    events.NewHub(cfg.Bridge.EventBuffer),
		init:   bridge.NewInitLatch(),
		logger: log.WithComponent("main"),
	}

	switch cfg.Provider.Kind {
	case config.ProviderLocal:
		lockPath := lock.PathFor(cfg.Provider.Local.Path)
		pidLock, err := lock.Acquire(lockPath)
		if err != nil {
			return nil, fmt.Errorf("acquire PID lock %s (another instance may be running): %w", lockPath, err)
		}
		rt.pidLock = pidLock
		rt.logger.Info("acquired PID lock", "path", lockPath)

		db, err := storage.OpenSQLite(ctx, cfg.Provider.Local.Path)
		if err != nil {
			_ = pidLock.Release()
			return nil, fmt.Errorf("open database: %w", err)
		}
		rt.db = db
		rt.provider = local.New(db)
		rt.logger.Info("database opened", "path", cfg.Provider.Local.Path)
	case config.ProviderREST:
		p, err := rest.New(rest.Config{
			BaseURL:    cfg.Provider.REST.BaseURL,
			Timeout:    cfg.Provider.REST.Timeout,
			DeviceType: cfg.Provider.REST.DeviceType,
		})
		if err != nil {
			return nil, err
		}
		rt.provider = p
		rt.logger.Info("remote provider configured", "base_url", cfg.Provider.REST.BaseURL)
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Provider.Kind)
	}

	rt.pool = workerpool.New(cfg.Bridge.Workers)
	return rt, nil
}

// newPlugin creates a plugin instance whose events go to d.
func (rt *bridgeRuntime) newPlugin(d session.Deliverer) *bridge.Plugin {
	return bridge.NewPlugin(bridge.PluginConfig{
		Provider:        rt.provider,
		Pool:            rt.pool,
		Deliverer:       d,
		Observer:        rt.hub.Publish,
		ClearOnTeardown: rt.cfg.Bridge.ClearPendingOnTeardown,
		Init:            rt.init,
	})
}

// hasCredentials reports whether the config carries an app id and client key.
func (rt *bridgeRuntime) hasCredentials() bool {
	return rt.cfg.Provider.AppID != "" && rt.cfg.Provider.ClientKey != ""
}

// initialize runs the provider initialization through the runtime's latch so
// a later initialize command from any plugin reports success without side
// effects.
func (rt *bridgeRuntime) initialize(ctx context.Context, p *bridge.Plugin) error {
	if err := p.Dispatcher.InitializeWith(ctx, rt.cfg.Provider.AppID, rt.cfg.Provider.ClientKey); err != nil {
		return fmt.Errorf("initialize provider: %w", err)
	}
	rt.logger.Info("provider initialized", "app_id", rt.cfg.Provider.AppID)
	return nil
}

// Close drains the pool, then releases the database and the PID lock.
func (rt *bridgeRuntime) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rt.pool.Close(ctx); err != nil {
		rt.logger.Warn("worker pool did not drain", "error", err)
	}
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			rt.logger.Warn("failed to close database", "error", err)
		}
	}
	if rt.pidLock != nil {
		if err := rt.pidLock.Release(); err != nil {
			rt.logger.Warn("failed to release PID lock", "error", err)
		}
	}
}

// logDeliverer stands in for a scripting layer when none is configured.
func logDeliverer(logger *slog.Logger) session.Deliverer {
	return session.DelivererFunc(func(inv protocol.Invocation) {
		snippet, err := inv.Snippet()
		if err != nil {
			logger.Error("failed to render event delivery", "callback", inv.Callback, "error", err)
			return
		}
		logger.Info("event delivered", "callback", inv.Callback, "snippet", snippet)
	})
}
