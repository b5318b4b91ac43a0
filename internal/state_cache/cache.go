// Package state_cache is a read-through key/value cache over the
// system_cache table with an in-process ristretto hot tier.
package state_cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/lewisedginton/chat_memory/internal/backend"
	"github.com/lewisedginton/chat_memory/internal/model"
	"github.com/lewisedginton/chat_memory/pkg/logger"
)

const defaultMaxCost = 32 << 20

// Config holds configuration for the state cache.
type Config struct {
	Store  backend.Store
	Logger logger.Logger
	Clock  func() time.Time
	// MaxCost bounds the hot tier in bytes of cached values.
	MaxCost int64
}

// Cache stores opaque blobs under string keys. The backend table is the
// source of truth; the hot tier may drop entries at any time.
type Cache struct {
	store backend.Store
	hot   *ristretto.Cache
	log   logger.Logger
	now   func() time.Time
}

func New(cfg Config) (*Cache, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = defaultMaxCost
	}

	hot, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     cfg.MaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create hot tier: %w", err)
	}

	return &Cache{
		store: cfg.Store,
		hot:   hot,
		log:   cfg.Logger.WithFields(logger.ComponentField("state_cache")),
		now:   cfg.Clock,
	}, nil
}

func validKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return model.NewValidationError("component_key", "must not be empty")
	}
	return nil
}

// Put writes value under key. A zero ttl keeps the entry until it is
// overwritten or deleted.
func (c *Cache) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := validKey(key); err != nil {
		return err
	}
	if ttl < 0 {
		return model.NewValidationError("ttl", "must not be negative")
	}
	entry := model.CacheEntry{
		Key:      key,
		Value:    append([]byte{}, value...),
		CachedAt: model.Timestamp(c.now()),
		TTL:      ttl,
	}
	if err := c.store.PutCache(ctx, entry); err != nil {
		c.hot.Del(key)
		return fmt.Errorf("put cache %s: %w", key, err)
	}
	c.remember(entry)
	return nil
}

func (c *Cache) remember(entry model.CacheEntry) {
	cost := int64(len(entry.Value)) + 1
	if entry.TTL > 0 {
		c.hot.SetWithTTL(entry.Key, entry, cost, entry.Remaining(c.now()))
		return
	}
	c.hot.Set(entry.Key, entry, cost)
}

// Get returns the value stored under key. Expired entries read as absent
// and are removed from the backend.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := validKey(key); err != nil {
		return nil, false, err
	}
	now := c.now()

	if v, ok := c.hot.Get(key); ok {
		entry := v.(model.CacheEntry)
		if !entry.Expired(now) {
			return append([]byte{}, entry.Value...), true, nil
		}
		c.hot.Del(key)
	}

	entry, err := c.store.GetCache(ctx, key)
	if errors.Is(err, model.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cache %s: %w", key, err)
	}
	if entry.Expired(now) {
		if err := c.store.DeleteCache(ctx, key); err != nil && !errors.Is(err, model.ErrNotFound) {
			c.log.Warn("failed to purge expired cache entry", logger.StringField("component_key", key), logger.ErrorField(err))
		}
		return nil, false, nil
	}
	c.remember(*entry)
	return entry.Value, true, nil
}

// Delete removes key from both tiers. Missing keys are not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	c.hot.Del(key)
	if err := c.store.DeleteCache(ctx, key); err != nil && !errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("delete cache %s: %w", key, err)
	}
	return nil
}

// PutJSON stores v encoded as JSON.
func (c *Cache) PutJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache %s: %w", key, err)
	}
	return c.Put(ctx, key, data, ttl)
}

// GetJSON decodes the value under key into dst. It reports false when the key is absent.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	data, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("decode cache %s: %w", key, err)
	}
	return true, nil
}

// Flush waits for pending hot tier writes. Tests use it to make Set visible.
func (c *Cache) Flush() {
	c.hot.Wait()
}

func (c *Cache) Close() {
	c.hot.Close()
}
