package session_manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewisedginton/chat_memory/internal/backend/inmemory"
	"github.com/lewisedginton/chat_memory/internal/memory_service"
	"github.com/lewisedginton/chat_memory/internal/model"
	"github.com/lewisedginton/chat_memory/internal/state_cache"
	"github.com/lewisedginton/chat_memory/pkg/logger"
)

func newTestLogger() logger.Logger {
	return logger.NewLogger(logger.Config{
		Level:  logger.DebugLevel,
		Output: io.Discard,
	})
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	mgr    *Manager
	memory *memory_service.Service
	cache  *state_cache.Cache
	clock  *testClock
}

func setupTestManager(t *testing.T, maxWindow int) fixture {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := inmemory.New()
	memory := memory_service.New(memory_service.Config{Store: store, Logger: newTestLogger(), Clock: clock.Now})
	cache, err := state_cache.New(state_cache.Config{Store: store, Logger: newTestLogger(), Clock: clock.Now})
	require.NoError(t, err)
	t.Cleanup(cache.Close)

	mgr, err := New(Config{
		MaxWindow: maxWindow,
		IdleTTL:   30 * time.Minute,
		Memory:    memory,
		Snapshots: cache,
		Logger:    newTestLogger(),
		Clock:     clock.Now,
	})
	require.NoError(t, err)
	return fixture{mgr: mgr, memory: memory, cache: cache, clock: clock}
}

func TestNew(t *testing.T) {
	memory := memory_service.New(memory_service.Config{Store: inmemory.New(), Logger: newTestLogger()})

	tests := []struct {
		name        string
		config      Config
		expectError bool
	}{
		{"valid config", Config{Memory: memory, Logger: newTestLogger()}, false},
		{"missing memory", Config{Logger: newTestLogger()}, true},
		{"missing logger", Config{Memory: memory}, true},
		{"negative window", Config{Memory: memory, Logger: newTestLogger(), MaxWindow: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr, err := New(tt.config)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, DefaultMaxWindow, mgr.maxWindow)
			assert.Equal(t, DefaultIdleTTL, mgr.idleTTL)
		})
	}
}

func TestSlidingWindow(t *testing.T) {
	const maxWindow = 5
	f := setupTestManager(t, maxWindow)
	ctx := context.Background()

	_, err := f.mgr.AppendTurn(ctx, "s1", model.RoleUser, "hi")
	require.NoError(t, err)

	turns := f.mgr.GetContext(ctx, "s1", 0)
	require.Len(t, turns, 1)
	assert.Equal(t, model.RoleUser, turns[0].Role)
	assert.Equal(t, "hi", turns[0].Text)
	assert.Equal(t, f.clock.Now(), turns[0].Timestamp)

	for i := 0; i < maxWindow; i++ {
		f.clock.Advance(time.Second)
		_, err := f.mgr.AppendTurn(ctx, "s1", model.RoleAssistant, fmt.Sprintf("reply %d", i))
		require.NoError(t, err)
	}

	turns = f.mgr.GetContext(ctx, "s1", 0)
	require.Len(t, turns, maxWindow)
	for _, turn := range turns {
		assert.NotEqual(t, "hi", turn.Text)
	}
	assert.Equal(t, "reply 0", turns[0].Text)
	assert.Equal(t, fmt.Sprintf("reply %d", maxWindow-1), turns[maxWindow-1].Text)

	last2 := f.mgr.GetContext(ctx, "s1", 2)
	require.Len(t, last2, 2)
	assert.Equal(t, turns[3:], last2)
}

func TestGetContextReturnsCopy(t *testing.T) {
	f := setupTestManager(t, 10)
	ctx := context.Background()

	_, err := f.mgr.AppendTurn(ctx, "s1", model.RoleUser, "hi")
	require.NoError(t, err)

	turns := f.mgr.GetContext(ctx, "s1", 0)
	turns[0].Text = "changed"
	assert.Equal(t, "hi", f.mgr.GetContext(ctx, "s1", 0)[0].Text)
}

func TestAppendValidation(t *testing.T) {
	f := setupTestManager(t, 10)
	ctx := context.Background()

	tests := []struct {
		name  string
		id    string
		role  model.Role
		text  string
		field string
	}{
		{"empty text", "s1", model.RoleUser, "  ", "text"},
		{"unknown role", "s1", model.Role("narrator"), "hi", "role"},
		{"long id", strings.Repeat("x", MaxSessionIDLength+1), model.RoleUser, "hi", "session_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.mgr.AppendTurn(ctx, tt.id, tt.role, tt.text)
			var v *model.ValidationError
			require.ErrorAs(t, err, &v)
			assert.Equal(t, tt.field, v.Field)
		})
	}
	assert.Equal(t, 0, f.mgr.Len())
}

func TestGeneratedSessionID(t *testing.T) {
	f := setupTestManager(t, 10)
	ctx := context.Background()

	id, err := f.mgr.AppendTurn(ctx, "", model.RoleUser, "hi")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "session-"))
	assert.Len(t, f.mgr.GetContext(ctx, id, 0), 1)
}

func TestUnknownSessionHasEmptyContext(t *testing.T) {
	f := setupTestManager(t, 10)
	turns := f.mgr.GetContext(context.Background(), "nobody", 0)
	assert.NotNil(t, turns)
	assert.Empty(t, turns)
	assert.Equal(t, 0, f.mgr.Len())
}

func TestIdleExpiryAndRecreate(t *testing.T) {
	f := setupTestManager(t, 10)
	ctx := context.Background()

	_, err := f.mgr.AppendTurn(ctx, "s1", model.RoleUser, "old")
	require.NoError(t, err)

	f.clock.Advance(30 * time.Minute)
	assert.Empty(t, f.mgr.GetContext(ctx, "s1", 0))

	// Appending to an expired session starts it over.
	_, err = f.mgr.AppendTurn(ctx, "s1", model.RoleUser, "new")
	require.NoError(t, err)
	turns := f.mgr.GetContext(ctx, "s1", 0)
	require.Len(t, turns, 1)
	assert.Equal(t, "new", turns[0].Text)
}

func TestPurgeIdle(t *testing.T) {
	f := setupTestManager(t, 10)
	ctx := context.Background()

	_, err := f.mgr.AppendTurn(ctx, "idle", model.RoleUser, "a")
	require.NoError(t, err)
	f.clock.Advance(20 * time.Minute)
	_, err = f.mgr.AppendTurn(ctx, "busy", model.RoleUser, "b")
	require.NoError(t, err)

	f.clock.Advance(15 * time.Minute)
	assert.Equal(t, 1, f.mgr.PurgeIdle(f.clock.Now()))
	assert.Equal(t, 1, f.mgr.Len())
	assert.Empty(t, f.mgr.GetContext(ctx, "idle", 0))
	assert.Len(t, f.mgr.GetContext(ctx, "busy", 0), 1)

	assert.Equal(t, 0, f.mgr.PurgeIdle(f.clock.Now()))
}

func TestPromote(t *testing.T) {
	f := setupTestManager(t, 10)
	ctx := context.Background()

	_, err := f.mgr.AppendTurn(ctx, "s1", model.RoleUser, "what is Go?")
	require.NoError(t, err)
	_, err = f.mgr.AppendTurn(ctx, "s1", model.RoleAssistant, "a language")
	require.NoError(t, err)

	rec, err := f.mgr.Promote(ctx, "s1", model.ImportanceMedium)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, model.CategoryConversationSummary, rec.Category)
	assert.False(t, rec.UserDefined)
	assert.Equal(t, "session:s1", rec.MemoryKey)
	assert.Equal(t, "user: what is Go?\nassistant: a language", rec.Content)

	stored, err := f.memory.Read(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Content, stored.Content)

	// Promotion does not consume the window.
	assert.Len(t, f.mgr.GetContext(ctx, "s1", 0), 2)
}

func TestPromoteErrors(t *testing.T) {
	f := setupTestManager(t, 10)
	ctx := context.Background()

	_, err := f.mgr.Promote(ctx, "empty", model.ImportanceLow)
	assert.True(t, model.IsValidation(err))

	_, err = f.mgr.AppendTurn(ctx, "s1", model.RoleUser, "hi")
	require.NoError(t, err)
	_, err = f.mgr.Promote(ctx, "s1", model.Importance(9))
	assert.True(t, model.IsValidation(err))
}

func TestFlushAndRestore(t *testing.T) {
	f := setupTestManager(t, 10)
	ctx := context.Background()

	_, err := f.mgr.AppendTurn(ctx, "s1", model.RoleUser, "remember me")
	require.NoError(t, err)
	_, err = f.mgr.AppendTurn(ctx, "stale", model.RoleUser, "x")
	require.NoError(t, err)
	f.clock.Advance(10 * time.Minute)
	_, err = f.mgr.AppendTurn(ctx, "s1", model.RoleAssistant, "ok")
	require.NoError(t, err)
	f.clock.Advance(25 * time.Minute)

	n, err := f.mgr.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// A new manager over the same cache picks the window back up.
	restarted, err := New(Config{
		MaxWindow: 10,
		IdleTTL:   30 * time.Minute,
		Memory:    f.memory,
		Snapshots: f.cache,
		Logger:    newTestLogger(),
		Clock:     f.clock.Now,
	})
	require.NoError(t, err)

	turns := restarted.GetContext(ctx, "s1", 0)
	require.Len(t, turns, 2)
	assert.Equal(t, "remember me", turns[0].Text)
	assert.Empty(t, restarted.GetContext(ctx, "stale", 0))

	// The snapshot is consumed by the restore.
	_, ok, err := f.cache.Get(ctx, snapshotKey("s1"))
	require.NoError(t, err)
	assert.False(t, ok)

	// The remaining idle time carries over.
	f.clock.Advance(5 * time.Minute)
	assert.Empty(t, restarted.GetContext(ctx, "s1", 0))
}

type failingSnapshots struct{}

func (failingSnapshots) PutJSON(context.Context, string, any, time.Duration) error {
	return errors.New("cache down")
}
func (failingSnapshots) GetJSON(context.Context, string, any) (bool, error) {
	return false, errors.New("cache down")
}
func (failingSnapshots) Delete(context.Context, string) error { return nil }

func TestSnapshotFailuresNeverFailAppends(t *testing.T) {
	memory := memory_service.New(memory_service.Config{Store: inmemory.New(), Logger: newTestLogger()})
	mgr, err := New(Config{Memory: memory, Snapshots: failingSnapshots{}, Logger: newTestLogger()})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = mgr.AppendTurn(ctx, "s1", model.RoleUser, "hi")
	require.NoError(t, err)
	assert.Len(t, mgr.GetContext(ctx, "s1", 0), 1)

	n, err := mgr.Flush(ctx)
	assert.Error(t, err)
	assert.Equal(t, 0, n)
}

func TestFlushWithoutSnapshots(t *testing.T) {
	memory := memory_service.New(memory_service.Config{Store: inmemory.New(), Logger: newTestLogger()})
	mgr, err := New(Config{Memory: memory, Logger: newTestLogger()})
	require.NoError(t, err)
	_, err = mgr.Flush(context.Background())
	assert.ErrorIs(t, err, ErrNoSnapshots)
}

func TestConcurrentAppends(t *testing.T) {
	const (
		writers   = 8
		perWriter = 50
		maxWindow = 20
	)
	f := setupTestManager(t, maxWindow)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			own := fmt.Sprintf("own-%d", w)
			for i := 0; i < perWriter; i++ {
				_, err := f.mgr.AppendTurn(ctx, "shared", model.RoleUser, "x")
				assert.NoError(t, err)
				_, err = f.mgr.AppendTurn(ctx, own, model.RoleUser, fmt.Sprintf("%d", i))
				assert.NoError(t, err)
				if i%10 == 0 {
					f.mgr.PurgeIdle(f.clock.Now())
				}
			}
		}(w)
	}
	wg.Wait()

	assert.Len(t, f.mgr.GetContext(ctx, "shared", 0), maxWindow)
	for w := 0; w < writers; w++ {
		turns := f.mgr.GetContext(ctx, fmt.Sprintf("own-%d", w), 0)
		require.Len(t, turns, maxWindow)
		assert.Equal(t, fmt.Sprintf("%d", perWriter-1), turns[maxWindow-1].Text)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := setupTestManager(t, 10)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.mgr.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop")
	}
}
