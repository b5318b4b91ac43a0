package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

// Memory mirrors a row of the memories table.
type Memory struct {
	ID             string
	MemoryKey      string
	Content        string
	Category       string
	Importance     int32
	UserDefined    bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int64
	ExpiresAt      *time.Time
}

// SystemCache mirrors a row of the system_cache table.
type SystemCache struct {
	ComponentKey string
	Value        []byte
	CachedAt     time.Time
	TtlMs        int64
}

const memoryColumns = `id, memory_key, content, category, importance, user_defined, created_at, updated_at, last_accessed_at, access_count, expires_at`

func scanMemory(row pgx.Row) (Memory, error) {
	var i Memory
	err := row.Scan(
		&i.ID,
		&i.MemoryKey,
		&i.Content,
		&i.Category,
		&i.Importance,
		&i.UserDefined,
		&i.CreatedAt,
		&i.UpdatedAt,
		&i.LastAccessedAt,
		&i.AccessCount,
		&i.ExpiresAt,
	)
	return i, err
}

const insertMemory = `-- name: InsertMemory :exec
INSERT INTO memories (` + memoryColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

func (q *Queries) InsertMemory(ctx context.Context, arg Memory) error {
	_, err := q.db.Exec(ctx, insertMemory,
		arg.ID,
		arg.MemoryKey,
		arg.Content,
		arg.Category,
		arg.Importance,
		arg.UserDefined,
		arg.CreatedAt,
		arg.UpdatedAt,
		arg.LastAccessedAt,
		arg.AccessCount,
		arg.ExpiresAt,
	)
	return err
}

const getMemory = `-- name: GetMemory :one
SELECT ` + memoryColumns + ` FROM memories WHERE id = $1
`

func (q *Queries) GetMemory(ctx context.Context, id string) (Memory, error) {
	return scanMemory(q.db.QueryRow(ctx, getMemory, id))
}

const updateMemory = `-- name: UpdateMemory :one
UPDATE memories SET
    content = COALESCE($2, content),
    category = COALESCE($3, category),
    importance = COALESCE($4, importance),
    updated_at = COALESCE($5, updated_at),
    access_count = access_count + $6,
    last_accessed_at = COALESCE($7, last_accessed_at)
WHERE id = $1
RETURNING ` + memoryColumns + `
`

type UpdateMemoryParams struct {
	ID             string
	Content        *string
	Category       *string
	Importance     *int32
	UpdatedAt      *time.Time
	AccessDelta    int64
	LastAccessedAt *time.Time
}

func (q *Queries) UpdateMemory(ctx context.Context, arg UpdateMemoryParams) (Memory, error) {
	return scanMemory(q.db.QueryRow(ctx, updateMemory,
		arg.ID,
		arg.Content,
		arg.Category,
		arg.Importance,
		arg.UpdatedAt,
		arg.AccessDelta,
		arg.LastAccessedAt,
	))
}

const deleteMemory = `-- name: DeleteMemory :execrows
DELETE FROM memories WHERE id = $1
`

func (q *Queries) DeleteMemory(ctx context.Context, id string) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteMemory, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const listMemories = `-- name: ListMemories :many
SELECT ` + memoryColumns + ` FROM memories
WHERE ($1::text IS NULL OR category = $1)
  AND ($2::boolean IS NULL OR user_defined = $2)
  AND id > $3
ORDER BY id
LIMIT $4
`

type ListMemoriesParams struct {
	Category    *string
	UserDefined *bool
	AfterID     string
	Limit       *int64
}

func (q *Queries) ListMemories(ctx context.Context, arg ListMemoriesParams) ([]Memory, error) {
	rows, err := q.db.Query(ctx, listMemories, arg.Category, arg.UserDefined, arg.AfterID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Memory
	for rows.Next() {
		i, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countMemories = `-- name: CountMemories :one
SELECT COUNT(*) FROM memories
WHERE ($1::text IS NULL OR category = $1)
  AND ($2::boolean IS NULL OR user_defined = $2)
`

func (q *Queries) CountMemories(ctx context.Context, category *string, userDefined *bool) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countMemories, category, userDefined).Scan(&count)
	return count, err
}

const upsertCache = `-- name: UpsertCache :exec
INSERT INTO system_cache (component_key, value, cached_at, ttl_ms)
VALUES ($1, $2, $3, $4)
ON CONFLICT (component_key) DO UPDATE SET
    value = EXCLUDED.value,
    cached_at = EXCLUDED.cached_at,
    ttl_ms = EXCLUDED.ttl_ms
`

func (q *Queries) UpsertCache(ctx context.Context, arg SystemCache) error {
	_, err := q.db.Exec(ctx, upsertCache, arg.ComponentKey, arg.Value, arg.CachedAt, arg.TtlMs)
	return err
}

const getCache = `-- name: GetCache :one
SELECT component_key, value, cached_at, ttl_ms FROM system_cache WHERE component_key = $1
`

func (q *Queries) GetCache(ctx context.Context, key string) (SystemCache, error) {
	var i SystemCache
	err := q.db.QueryRow(ctx, getCache, key).Scan(&i.ComponentKey, &i.Value, &i.CachedAt, &i.TtlMs)
	return i, err
}

const deleteCache = `-- name: DeleteCache :execrows
DELETE FROM system_cache WHERE component_key = $1
`

func (q *Queries) DeleteCache(ctx context.Context, key string) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteCache, key)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const listCache = `-- name: ListCache :many
SELECT component_key, value, cached_at, ttl_ms FROM system_cache ORDER BY component_key
`

func (q *Queries) ListCache(ctx context.Context) ([]SystemCache, error) {
	rows, err := q.db.Query(ctx, listCache)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SystemCache
	for rows.Next() {
		var i SystemCache
		if err := rows.Scan(&i.ComponentKey, &i.Value, &i.CachedAt, &i.TtlMs); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
