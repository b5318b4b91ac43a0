// Package sqlite is the embedded fallback Store, backed by modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/lewisedginton/chat_memory/internal/backend"
	"github.com/lewisedginton/chat_memory/internal/model"
	"github.com/lewisedginton/chat_memory/pkg/logger"
)

const (
	driverName = "sqlite"
	// Fixed width so that text comparison orders timestamps correctly.
	timeLayout = "2006-01-02T15:04:05.000000Z"
)

// Config for the fallback store.
type Config struct {
	Path        string
	BusyTimeout time.Duration
	Logger      logger.Logger
}

type Store struct {
	db     *sql.DB
	log    logger.Logger
	closed atomic.Bool
}

var _ backend.Store = (*Store)(nil)

// Open creates the database file if needed, migrates it and returns a Store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(%d)", cfg.Path, cfg.BusyTimeout.Milliseconds())
	log := cfg.Logger.WithFields(logger.BackendField(driverName))

	if err := RunMigrations(dsn, log); err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// A single connection serializes writers; SQLite allows only one anyway.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", classify(err))
	}

	log.Info("Opened sqlite store", logger.StringField("path", cfg.Path))
	return &Store{db: db, log: log}, nil
}

// Opener adapts Open to backend.Opener.
func Opener(cfg Config) backend.Opener {
	return func(ctx context.Context) (backend.Store, error) {
		return Open(ctx, cfg)
	}
}

// classify marks errors that mean the database cannot serve requests.
func classify(err error) error {
	if err == nil || errors.Is(err, model.ErrBackendUnavailable) {
		return err
	}
	if errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", model.ErrBackendUnavailable, err)
	}
	var se *sqlitedrv.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_FULL:
			return fmt.Errorf("%w: %v", model.ErrBackendUnavailable, err)
		}
	}
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// optionalTime and nullable turn nil pointers into untyped nil arguments.
func optionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

const memoryColumns = `id, memory_key, content, category, importance, user_defined,
	created_at, updated_at, last_accessed_at, access_count, expires_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*model.MemoryRecord, error) {
	var (
		rec                           model.MemoryRecord
		category                      string
		importance                    int
		created, updated, lastAccessed string
		expires                       sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.MemoryKey, &rec.Content, &category, &importance, &rec.UserDefined,
		&created, &updated, &lastAccessed, &rec.AccessCount, &expires); err != nil {
		return nil, err
	}
	rec.Category = model.Category(category)
	rec.Importance = model.Importance(importance)

	var err error
	if rec.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if rec.LastAccessedAt, err = parseTime(lastAccessed); err != nil {
		return nil, fmt.Errorf("parse last_accessed_at: %w", err)
	}
	if expires.Valid {
		t, err := parseTime(expires.String)
		if err != nil {
			return nil, fmt.Errorf("parse expires_at: %w", err)
		}
		rec.ExpiresAt = &t
	}
	return &rec, nil
}

func (s *Store) Put(ctx context.Context, rec *model.MemoryRecord) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	id := backend.NewID(time.Now())
	_, err := s.db.ExecContext(ctx, `INSERT INTO memories (`+memoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, rec.MemoryKey, rec.Content, string(rec.Category), int(rec.Importance), boolInt(rec.UserDefined),
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt), formatTime(rec.LastAccessedAt), rec.AccessCount,
		optionalTime(rec.ExpiresAt))
	if err != nil {
		return "", fmt.Errorf("insert memory: %w", classify(err))
	}
	return id, nil
}

func (s *Store) Get(ctx context.Context, id string) (*model.MemoryRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rec, err := scanRecord(s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("memory %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", classify(err))
	}
	return rec, nil
}

func (s *Store) Update(ctx context.Context, id string, patch model.Patch) (*model.MemoryRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var (
		category   *string
		importance *int64
		accessed   int64
	)
	if patch.Category != nil {
		c := string(*patch.Category)
		category = &c
	}
	if patch.Importance != nil {
		i := int64(*patch.Importance)
		importance = &i
	}
	if patch.AccessedAt != nil {
		accessed = 1
	}

	rec, err := scanRecord(s.db.QueryRowContext(ctx, `UPDATE memories SET
			content = COALESCE(?2, content),
			category = COALESCE(?3, category),
			importance = COALESCE(?4, importance),
			updated_at = COALESCE(?5, updated_at),
			access_count = access_count + ?6,
			last_accessed_at = COALESCE(?7, last_accessed_at)
		WHERE id = ?1
		RETURNING `+memoryColumns,
		id, nullable(patch.Content), nullable(category), nullable(importance), optionalTime(patch.UpdatedAt), accessed, optionalTime(patch.AccessedAt)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("memory %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("update memory: %w", classify(err))
	}
	return rec, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete memory: %w", classify(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("memory %s: %w", id, model.ErrNotFound)
	}
	return nil
}

func filterArgs(f model.Filter) (category, userDefined any) {
	if f.Category != nil {
		category = string(*f.Category)
	}
	if f.UserDefined != nil {
		userDefined = boolInt(*f.UserDefined)
	}
	return category, userDefined
}

func (s *Store) List(ctx context.Context, filter model.Filter) ([]model.MemoryRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	category, userDefined := filterArgs(filter)
	limit := int64(-1)
	if filter.Limit > 0 {
		limit = int64(filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+memoryColumns+` FROM memories
		WHERE (?1 IS NULL OR category = ?1)
		  AND (?2 IS NULL OR user_defined = ?2)
		  AND id > ?3
		ORDER BY id
		LIMIT ?4`, category, userDefined, filter.AfterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", classify(err))
	}
	defer rows.Close()

	var out []model.MemoryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", classify(err))
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list memories: %w", classify(err))
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context, filter model.Filter) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	category, userDefined := filterArgs(filter)
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories
		WHERE (?1 IS NULL OR category = ?1)
		  AND (?2 IS NULL OR user_defined = ?2)`, category, userDefined).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count memories: %w", classify(err))
	}
	return n, nil
}

func (s *Store) PutCache(ctx context.Context, entry model.CacheEntry) error {
	if err := s.ready(); err != nil {
		return err
	}
	if entry.Value == nil {
		entry.Value = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO system_cache (component_key, value, cached_at, ttl_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (component_key) DO UPDATE SET
			value = excluded.value,
			cached_at = excluded.cached_at,
			ttl_ms = excluded.ttl_ms`,
		entry.Key, entry.Value, formatTime(entry.CachedAt), entry.TTL.Milliseconds())
	if err != nil {
		return fmt.Errorf("put cache entry: %w", classify(err))
	}
	return nil
}

func scanCache(row scanner) (*model.CacheEntry, error) {
	var (
		entry    model.CacheEntry
		cachedAt string
		ttlMS    int64
	)
	if err := row.Scan(&entry.Key, &entry.Value, &cachedAt, &ttlMS); err != nil {
		return nil, err
	}
	t, err := parseTime(cachedAt)
	if err != nil {
		return nil, fmt.Errorf("parse cached_at: %w", err)
	}
	entry.CachedAt = t
	entry.TTL = time.Duration(ttlMS) * time.Millisecond
	return &entry, nil
}

func (s *Store) GetCache(ctx context.Context, key string) (*model.CacheEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	entry, err := scanCache(s.db.QueryRowContext(ctx,
		`SELECT component_key, value, cached_at, ttl_ms FROM system_cache WHERE component_key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cache %s: %w", key, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get cache entry: %w", classify(err))
	}
	return entry, nil
}

func (s *Store) DeleteCache(ctx context.Context, key string) error {
	if err := s.ready(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM system_cache WHERE component_key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete cache entry: %w", classify(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("cache %s: %w", key, model.ErrNotFound)
	}
	return nil
}

func (s *Store) ListCache(ctx context.Context) ([]model.CacheEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT component_key, value, cached_at, ttl_ms FROM system_cache ORDER BY component_key`)
	if err != nil {
		return nil, fmt.Errorf("list cache entries: %w", classify(err))
	}
	defer rows.Close()

	var out []model.CacheEntry
	for rows.Next() {
		entry, err := scanCache(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", classify(err))
		}
		out = append(out, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cache entries: %w", classify(err))
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	return classify(s.db.PingContext(ctx))
}

func (s *Store) Close() error {
	s.closed.Store(true)
	return s.db.Close()
}

func (s *Store) ready() error {
	if s.closed.Load() {
		return fmt.Errorf("sqlite store closed: %w", model.ErrBackendUnavailable)
	}
	return nil
}

func (s *Store) Name() string { return driverName }
