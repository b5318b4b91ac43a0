package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/lewisedginton/chat_memory/internal/model"
	"github.com/lewisedginton/chat_memory/pkg/logger"
)

// Mode describes which store an Adapter is serving from.
type Mode string

const (
	ModePrimary  Mode = "primary"
	ModeDegraded Mode = "degraded"
)

const (
	DefaultConnectTimeout   = 5 * time.Second
	DefaultOperationTimeout = 10 * time.Second
)

// AdapterConfig wires the two stores together.
type AdapterConfig struct {
	// Primary is optional. When nil the adapter starts degraded.
	Primary  Opener
	Fallback Opener

	ConnectTimeout   time.Duration
	OperationTimeout time.Duration

	Logger logger.Logger
	// OnFailover is called once when the adapter switches to the fallback.
	OnFailover func(reason error)
}

// Adapter is a Store that serves from the primary until it fails, then
// from the fallback until the process restarts. A call that fails on the
// primary is not replayed on the fallback.
type Adapter struct {
	cfg AdapterConfig
	log logger.Logger

	mu       sync.RWMutex
	active   Store
	retired  Store
	degraded bool

	failoverMu sync.Mutex
}

var _ Store = (*Adapter)(nil)

// Open connects to the primary within ConnectTimeout and falls back to the
// fallback store if that fails. It only errors when neither store opens.
func Open(ctx context.Context, cfg AdapterConfig) (*Adapter, error) {
	if cfg.Fallback == nil {
		return nil, fmt.Errorf("fallback opener is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = DefaultOperationTimeout
	}

	a := &Adapter{cfg: cfg, log: cfg.Logger.WithFields(logger.ComponentField("backend"))}

	if cfg.Primary != nil {
		connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		primary, err := cfg.Primary(connectCtx)
		cancel()
		if err == nil {
			a.active = primary
			a.log.Info("Connected to primary store", logger.BackendField(primary.Name()))
			return a, nil
		}
		a.log.Warn("Primary store unreachable at startup, running degraded",
			logger.ErrorField(err),
			logger.DurationField("connect_timeout", cfg.ConnectTimeout))
		a.notifyFailover(err)
	} else {
		a.log.Warn("No primary store configured, running degraded")
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	fallback, err := cfg.Fallback(connectCtx)
	if err != nil {
		return nil, fmt.Errorf("open fallback store: %w", err)
	}
	a.active = fallback
	a.degraded = true
	a.log.Info("Connected to fallback store", logger.BackendField(fallback.Name()))
	return a, nil
}

// Mode reports whether the adapter is still on the primary.
func (a *Adapter) Mode() Mode {
	if a.Degraded() {
		return ModeDegraded
	}
	return ModePrimary
}

func (a *Adapter) Degraded() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.degraded
}

func (a *Adapter) current() (Store, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.active, a.degraded
}

func (a *Adapter) notifyFailover(reason error) {
	if a.cfg.OnFailover != nil {
		a.cfg.OnFailover(reason)
	}
}

// failover switches to the fallback store. It runs at most once; if the
// fallback cannot be opened the adapter stays on the primary.
func (a *Adapter) failover(ctx context.Context, cause error) {
	a.failoverMu.Lock()
	defer a.failoverMu.Unlock()
	if a.Degraded() {
		return
	}

	openCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ConnectTimeout)
	defer cancel()
	fallback, err := a.cfg.Fallback(openCtx)
	if err != nil {
		a.log.Error("Failover aborted, fallback store did not open",
			logger.ErrorField(err),
			logger.StringField("cause", cause.Error()))
		return
	}

	a.mu.Lock()
	a.retired = a.active
	a.active = fallback
	a.degraded = true
	a.mu.Unlock()

	a.log.Warn("Primary store unavailable, failed over to fallback",
		logger.ErrorField(cause),
		logger.BackendField(fallback.Name()))
	a.notifyFailover(cause)
}

func unavailable(ctx context.Context, err error) bool {
	if errors.Is(err, model.ErrBackendUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return errors.Is(ctx.Err(), context.DeadlineExceeded)
}

func call[T any](a *Adapter, ctx context.Context, op string, fn func(context.Context, Store) (T, error)) (T, error) {
	store, degraded := a.current()

	opCtx, cancel := context.WithTimeout(ctx, a.cfg.OperationTimeout)
	defer cancel()

	res, err := fn(opCtx, store)
	if err == nil || errors.Is(err, model.ErrNotFound) || !unavailable(opCtx, err) {
		return res, err
	}

	var zero T
	if degraded {
		a.log.Error("Fallback store call failed", logger.StringField("op", op), logger.BackendField(store.Name()), logger.ErrorField(err))
		return zero, fmt.Errorf("%s on %s: %w: %v", op, store.Name(), model.ErrTimeout, err)
	}

	a.failover(ctx, err)
	return zero, fmt.Errorf("%s on %s: %w: %v", op, store.Name(), model.ErrBackendUnavailable, err)
}

func exec(a *Adapter, ctx context.Context, op string, fn func(context.Context, Store) error) error {
	_, err := call(a, ctx, op, func(ctx context.Context, s Store) (struct{}, error) {
		return struct{}{}, fn(ctx, s)
	})
	return err
}

func (a *Adapter) Put(ctx context.Context, rec *model.MemoryRecord) (string, error) {
	return call(a, ctx, "put", func(ctx context.Context, s Store) (string, error) {
		return s.Put(ctx, rec)
	})
}

func (a *Adapter) Get(ctx context.Context, id string) (*model.MemoryRecord, error) {
	return call(a, ctx, "get", func(ctx context.Context, s Store) (*model.MemoryRecord, error) {
		return s.Get(ctx, id)
	})
}

func (a *Adapter) Update(ctx context.Context, id string, patch model.Patch) (*model.MemoryRecord, error) {
	return call(a, ctx, "update", func(ctx context.Context, s Store) (*model.MemoryRecord, error) {
		return s.Update(ctx, id, patch)
	})
}

func (a *Adapter) Delete(ctx context.Context, id string) error {
	return exec(a, ctx, "delete", func(ctx context.Context, s Store) error {
		return s.Delete(ctx, id)
	})
}

func (a *Adapter) List(ctx context.Context, filter model.Filter) ([]model.MemoryRecord, error) {
	return call(a, ctx, "list", func(ctx context.Context, s Store) ([]model.MemoryRecord, error) {
		return s.List(ctx, filter)
	})
}

func (a *Adapter) Count(ctx context.Context, filter model.Filter) (int, error) {
	return call(a, ctx, "count", func(ctx context.Context, s Store) (int, error) {
		return s.Count(ctx, filter)
	})
}

func (a *Adapter) PutCache(ctx context.Context, entry model.CacheEntry) error {
	return exec(a, ctx, "put_cache", func(ctx context.Context, s Store) error {
		return s.PutCache(ctx, entry)
	})
}

func (a *Adapter) GetCache(ctx context.Context, key string) (*model.CacheEntry, error) {
	return call(a, ctx, "get_cache", func(ctx context.Context, s Store) (*model.CacheEntry, error) {
		return s.GetCache(ctx, key)
	})
}

func (a *Adapter) DeleteCache(ctx context.Context, key string) error {
	return exec(a, ctx, "delete_cache", func(ctx context.Context, s Store) error {
		return s.DeleteCache(ctx, key)
	})
}

func (a *Adapter) ListCache(ctx context.Context) ([]model.CacheEntry, error) {
	return call(a, ctx, "list_cache", func(ctx context.Context, s Store) ([]model.CacheEntry, error) {
		return s.ListCache(ctx)
	})
}

func (a *Adapter) Ping(ctx context.Context) error {
	return exec(a, ctx, "ping", func(ctx context.Context, s Store) error {
		return s.Ping(ctx)
	})
}

// Name returns the active store's name.
func (a *Adapter) Name() string {
	s, _ := a.current()
	return s.Name()
}

// Close closes the active store and, after a failover, the old primary.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var result error
	if a.active != nil {
		if err := a.active.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close %s: %w", a.active.Name(), err))
		}
	}
	if a.retired != nil {
		if err := a.retired.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close %s: %w", a.retired.Name(), err))
		}
	}
	return result
}
