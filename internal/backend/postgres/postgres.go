// Package postgres is the primary Store, backed by a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lewisedginton/chat_memory/internal/backend"
	"github.com/lewisedginton/chat_memory/internal/model"
	"github.com/lewisedginton/chat_memory/pkg/logger"
)

const driverName = "postgres"

// Config for the primary store.
type Config struct {
	ConnString      string
	MaxConns        int32
	MinConns        int32
	MaxConnIdleTime time.Duration
	MaxConnLifetime time.Duration
	Logger          logger.Logger
}

type Store struct {
	pool    *pgxpool.Pool
	queries *Queries
	logger  logger.Logger
	closed  atomic.Bool
}

var _ backend.Store = (*Store)(nil)

// Open creates the pool, pings it within ctx and runs migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", classify(err))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", classify(err))
	}

	log := cfg.Logger.WithFields(logger.BackendField(driverName))
	if err := NewMigrationManager(pool, log).RunMigrations(); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{pool: pool, queries: NewQueries(pool), logger: log}, nil
}

// Opener adapts Open to backend.Opener.
func Opener(cfg Config) backend.Opener {
	return func(ctx context.Context) (backend.Store, error) {
		return Open(ctx, cfg)
	}
}

// classify marks connection level failures as model.ErrBackendUnavailable.
func classify(err error) error {
	if err == nil || errors.Is(err, model.ErrBackendUnavailable) {
		return err
	}
	var (
		connErr *pgconn.ConnectError
		netErr  net.Error
		pgErr   *pgconn.PgError
	)
	switch {
	case errors.As(err, &connErr), errors.As(err, &netErr), pgconn.SafeToRetry(err):
		return fmt.Errorf("%w: %v", model.ErrBackendUnavailable, err)
	case errors.As(err, &pgErr):
		// Class 08 is connection exception; 57P0x are shutdown and crash states.
		if len(pgErr.Code) == 5 && (pgErr.Code[:2] == "08" || pgErr.Code[:4] == "57P0" || pgErr.Code == "53300") {
			return fmt.Errorf("%w: %v", model.ErrBackendUnavailable, err)
		}
	}
	return err
}

func (s *Store) ready() error {
	if s.closed.Load() {
		return fmt.Errorf("postgres store closed: %w", model.ErrBackendUnavailable)
	}
	return nil
}

func utc(t time.Time) time.Time { return t.UTC() }

func toRecord(m Memory) *model.MemoryRecord {
	rec := &model.MemoryRecord{
		ID:             m.ID,
		MemoryKey:      m.MemoryKey,
		Content:        m.Content,
		Category:       model.Category(m.Category),
		Importance:     model.Importance(m.Importance),
		UserDefined:    m.UserDefined,
		CreatedAt:      utc(m.CreatedAt),
		UpdatedAt:      utc(m.UpdatedAt),
		LastAccessedAt: utc(m.LastAccessedAt),
		AccessCount:    m.AccessCount,
	}
	if m.ExpiresAt != nil {
		t := utc(*m.ExpiresAt)
		rec.ExpiresAt = &t
	}
	return rec
}

func (s *Store) Put(ctx context.Context, rec *model.MemoryRecord) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	id := backend.NewID(time.Now())
	err := s.queries.InsertMemory(ctx, Memory{
		ID:             id,
		MemoryKey:      rec.MemoryKey,
		Content:        rec.Content,
		Category:       string(rec.Category),
		Importance:     int32(rec.Importance),
		UserDefined:    rec.UserDefined,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
		LastAccessedAt: rec.LastAccessedAt,
		AccessCount:    rec.AccessCount,
		ExpiresAt:      rec.ExpiresAt,
	})
	if err != nil {
		s.logger.Error("failed to insert memory", logger.ErrorField(err))
		return "", fmt.Errorf("insert memory: %w", classify(err))
	}
	return id, nil
}

func (s *Store) Get(ctx context.Context, id string) (*model.MemoryRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	m, err := s.queries.GetMemory(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("memory %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", classify(err))
	}
	return toRecord(m), nil
}

func (s *Store) Update(ctx context.Context, id string, patch model.Patch) (*model.MemoryRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	params := UpdateMemoryParams{
		ID:             id,
		Content:        patch.Content,
		UpdatedAt:      patch.UpdatedAt,
		LastAccessedAt: patch.AccessedAt,
	}
	if patch.Category != nil {
		c := string(*patch.Category)
		params.Category = &c
	}
	if patch.Importance != nil {
		i := int32(*patch.Importance)
		params.Importance = &i
	}
	if patch.AccessedAt != nil {
		params.AccessDelta = 1
	}

	m, err := s.queries.UpdateMemory(ctx, params)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("memory %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		s.logger.Error("failed to update memory", logger.ErrorField(err), logger.RecordIDField(id))
		return nil, fmt.Errorf("update memory: %w", classify(err))
	}
	return toRecord(m), nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	n, err := s.queries.DeleteMemory(ctx, id)
	if err != nil {
		return fmt.Errorf("delete memory: %w", classify(err))
	}
	if n == 0 {
		return fmt.Errorf("memory %s: %w", id, model.ErrNotFound)
	}
	return nil
}

func filterParams(f model.Filter) (*string, *bool) {
	var category *string
	if f.Category != nil {
		c := string(*f.Category)
		category = &c
	}
	return category, f.UserDefined
}

func (s *Store) List(ctx context.Context, filter model.Filter) ([]model.MemoryRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	category, userDefined := filterParams(filter)
	params := ListMemoriesParams{Category: category, UserDefined: userDefined, AfterID: filter.AfterID}
	if filter.Limit > 0 {
		limit := int64(filter.Limit)
		params.Limit = &limit
	}

	rows, err := s.queries.ListMemories(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", classify(err))
	}
	out := make([]model.MemoryRecord, len(rows))
	for i := range rows {
		out[i] = *toRecord(rows[i])
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context, filter model.Filter) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	category, userDefined := filterParams(filter)
	n, err := s.queries.CountMemories(ctx, category, userDefined)
	if err != nil {
		return 0, fmt.Errorf("count memories: %w", classify(err))
	}
	return int(n), nil
}

func (s *Store) PutCache(ctx context.Context, entry model.CacheEntry) error {
	if err := s.ready(); err != nil {
		return err
	}
	// value is NOT NULL; pgx binds a nil slice as NULL.
	if entry.Value == nil {
		entry.Value = []byte{}
	}
	err := s.queries.UpsertCache(ctx, SystemCache{
		ComponentKey: entry.Key,
		Value:        entry.Value,
		CachedAt:     entry.CachedAt,
		TtlMs:        entry.TTL.Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("put cache entry: %w", classify(err))
	}
	return nil
}

func toEntry(c SystemCache) model.CacheEntry {
	return model.CacheEntry{
		Key:      c.ComponentKey,
		Value:    c.Value,
		CachedAt: utc(c.CachedAt),
		TTL:      time.Duration(c.TtlMs) * time.Millisecond,
	}
}

func (s *Store) GetCache(ctx context.Context, key string) (*model.CacheEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	c, err := s.queries.GetCache(ctx, key)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("cache %s: %w", key, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get cache entry: %w", classify(err))
	}
	entry := toEntry(c)
	return &entry, nil
}

func (s *Store) DeleteCache(ctx context.Context, key string) error {
	if err := s.ready(); err != nil {
		return err
	}
	n, err := s.queries.DeleteCache(ctx, key)
	if err != nil {
		return fmt.Errorf("delete cache entry: %w", classify(err))
	}
	if n == 0 {
		return fmt.Errorf("cache %s: %w", key, model.ErrNotFound)
	}
	return nil
}

func (s *Store) ListCache(ctx context.Context) ([]model.CacheEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.queries.ListCache(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cache entries: %w", classify(err))
	}
	out := make([]model.CacheEntry, len(rows))
	for i := range rows {
		out[i] = toEntry(rows[i])
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	return classify(s.pool.Ping(ctx))
}

func (s *Store) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.pool.Close()
	}
	return nil
}

func (s *Store) Name() string { return driverName }
