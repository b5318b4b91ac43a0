// Package server wires the memory subsystem together and runs it.
package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/lewisedginton/chat_memory/internal/backend"
	"github.com/lewisedginton/chat_memory/internal/backend/inmemory"
	"github.com/lewisedginton/chat_memory/internal/backend/postgres"
	"github.com/lewisedginton/chat_memory/internal/backend/sqlite"
	appconfig "github.com/lewisedginton/chat_memory/internal/config"
	"github.com/lewisedginton/chat_memory/internal/exporter"
	"github.com/lewisedginton/chat_memory/internal/memory_service"
	"github.com/lewisedginton/chat_memory/internal/optimizer"
	"github.com/lewisedginton/chat_memory/internal/retention"
	"github.com/lewisedginton/chat_memory/internal/session_manager"
	"github.com/lewisedginton/chat_memory/internal/state_cache"
	"github.com/lewisedginton/chat_memory/internal/stats"
	"github.com/lewisedginton/chat_memory/internal/storage_manager"
	"github.com/lewisedginton/chat_memory/pkg/logger"
	"github.com/lewisedginton/chat_memory/pkg/metrics"
)

const exportsNamespace = "exports"

// Components are the long lived services shared by the server and the
// one-shot CLI commands.
type Components struct {
	Store     *backend.Adapter
	Cache     *state_cache.Cache
	Memories  *memory_service.Service
	Sessions  *session_manager.Manager
	Optimizer *optimizer.Engine
	Stats     *stats.Aggregator
	Exporter  *exporter.Exporter
	Metrics   *metrics.Metrics

	log logger.Logger
}

// PrimaryOpener returns the postgres opener, or nil when the primary is disabled.
func PrimaryOpener(cfg *appconfig.AppConfig, log logger.Logger) backend.Opener {
	if !cfg.Database.Enabled {
		return nil
	}
	return postgres.Opener(postgres.Config{
		ConnString:      cfg.Database.GetConnectionString(),
		MaxConns:        int32(cfg.Database.MaxConnections),
		MinConns:        int32(cfg.Database.MinConnections),
		MaxConnIdleTime: cfg.Database.MaxIdleTime,
		MaxConnLifetime: cfg.Database.MaxLifetime,
		Logger:          log,
	})
}

// FallbackOpener returns the configured fallback driver.
func FallbackOpener(cfg *appconfig.AppConfig, log logger.Logger) backend.Opener {
	if cfg.Backend.FallbackDriver == appconfig.FallbackMemory {
		return inmemory.Opener()
	}
	return sqlite.Opener(sqlite.Config{
		Path:        cfg.Backend.SQLitePath,
		BusyTimeout: cfg.Backend.SQLiteBusyTimeout,
		Logger:      log,
	})
}

// Open connects the backend and builds every component on top of it.
// m may be nil for commands that do not export metrics.
func Open(ctx context.Context, cfg *appconfig.AppConfig, log logger.Logger, m *metrics.Metrics) (*Components, error) {
	store, err := backend.Open(ctx, backend.AdapterConfig{
		Primary:          PrimaryOpener(cfg, log),
		Fallback:         FallbackOpener(cfg, log),
		ConnectTimeout:   cfg.Backend.ConnectTimeout,
		OperationTimeout: cfg.Backend.OperationTimeout,
		Logger:           log,
		OnFailover: func(error) {
			m.IncFailover()
			m.SetDegraded(true)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open backend: %w", err)
	}
	m.SetDegraded(store.Degraded())

	c, err := build(ctx, cfg, log, m, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return c, nil
}

func build(ctx context.Context, cfg *appconfig.AppConfig, log logger.Logger, m *metrics.Metrics, store *backend.Adapter) (*Components, error) {
	c := &Components{Store: store, Metrics: m, log: log}

	var err error
	c.Cache, err = state_cache.New(state_cache.Config{Store: store, Logger: log})
	if err != nil {
		return nil, fmt.Errorf("failed to create state cache: %w", err)
	}

	c.Memories = memory_service.New(memory_service.Config{
		Store:      store,
		Logger:     log,
		DefaultTTL: cfg.Memory.DefaultTTL,
		PageSize:   cfg.Memory.PageSize,
	})

	sessionCfg := session_manager.Config{
		MaxWindow: cfg.Session.MaxWindow,
		IdleTTL:   cfg.Session.IdleTTL,
		Memory:    c.Memories,
		Logger:    log,
	}
	if cfg.Session.Snapshots {
		sessionCfg.Snapshots = c.Cache
	}
	c.Sessions, err = session_manager.New(sessionCfg)
	if err != nil {
		c.Cache.Close()
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	c.Optimizer, err = optimizer.New(optimizer.Config{
		Store:           store,
		Scorer:          retention.NewScorer(cfg.Retention),
		CategoryBudgets: cfg.Memory.CategoryBudgets,
		GlobalBudget:    cfg.Memory.GlobalBudget,
		Interval:        cfg.Optimizer.Interval,
		Logger:          log,
		Metrics:         m,
		Reports:         c.Cache,
	})
	if err != nil {
		c.Cache.Close()
		return nil, fmt.Errorf("failed to create optimizer: %w", err)
	}

	c.Stats = stats.New(store, store, m)

	storage, err := storage_manager.New(ctx, cfg.Storage.StorageManagerConfig())
	if err != nil {
		c.Cache.Close()
		return nil, fmt.Errorf("failed to create storage manager: %w", err)
	}
	c.Exporter, err = exporter.New(exporter.Config{
		Records: c.Memories,
		Files:   storage.GetProvider(exportsNamespace),
		Logger:  log,
	})
	if err != nil {
		c.Cache.Close()
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	return c, nil
}

// Close flushes session snapshots and releases the cache and the backend.
func (c *Components) Close(ctx context.Context) error {
	var result error
	if n, err := c.Sessions.Flush(ctx); err != nil && !errors.Is(err, session_manager.ErrNoSnapshots) {
		result = multierror.Append(result, fmt.Errorf("flush sessions: %w", err))
	} else if n > 0 {
		c.log.Info("Flushed session snapshots", logger.IntField("sessions", n))
	}
	c.Cache.Close()
	if err := c.Store.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close backend: %w", err))
	}
	return result
}
