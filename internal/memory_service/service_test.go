package memory_service

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/lewisedginton/chat_memory/internal/backend/inmemory"
	"github.com/lewisedginton/chat_memory/internal/model"
	"github.com/lewisedginton/chat_memory/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() logger.Logger {
	return logger.NewLogger(logger.Config{
		Level:  logger.DebugLevel,
		Output: io.Discard,
	})
}

type fakeClock struct{ now time.Time }

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func ptr[T any](v T) *T { return &v }

func newService(t *testing.T, c *fakeClock) *Service {
	t.Helper()
	return New(Config{Store: inmemory.New(), Logger: newTestLogger(), Clock: c.Now, PageSize: 3})
}

func TestNew(t *testing.T) {
	assert.Panics(t, func() { New(Config{Logger: newTestLogger()}) })
	assert.Panics(t, func() { New(Config{Store: inmemory.New()}) })
	assert.NotNil(t, New(Config{Store: inmemory.New(), Logger: newTestLogger()}))
}

func TestCreate(t *testing.T) {
	clock := newClock()
	svc := newService(t, clock)
	ctx := context.Background()

	rec, err := svc.Create(ctx, CreateRequest{
		MemoryKey:  "fav_lang",
		Content:    "User prefers Go",
		Category:   "user_preferences",
		Importance: model.ImportanceHigh,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, model.CategoryUserPreferences, rec.Category)
	assert.Equal(t, int64(0), rec.AccessCount)
	assert.Equal(t, clock.now, rec.CreatedAt)
	assert.Equal(t, rec.CreatedAt, rec.LastAccessedAt)
	assert.Nil(t, rec.ExpiresAt)

	// Duplicate keys create a second record.
	dup, err := svc.Create(ctx, CreateRequest{MemoryKey: "fav_lang", Content: "again", Importance: 1})
	require.NoError(t, err)
	assert.NotEqual(t, rec.ID, dup.ID)
	assert.Equal(t, model.CategoryGeneral, dup.Category)
}

func TestCreateValidation(t *testing.T) {
	svc := newService(t, newClock())
	ctx := context.Background()

	tests := []struct {
		name  string
		req   CreateRequest
		field string
	}{
		{"empty key", CreateRequest{Content: "x", Importance: 1}, "memory_key"},
		{"long key", CreateRequest{MemoryKey: string(make([]byte, 256)) + "k", Content: "x", Importance: 1}, "memory_key"},
		{"empty content", CreateRequest{MemoryKey: "k", Content: "  ", Importance: 1}, "content"},
		{"importance zero", CreateRequest{MemoryKey: "k", Content: "x"}, "importance"},
		{"importance four", CreateRequest{MemoryKey: "k", Content: "x", Importance: 4}, "importance"},
		{"bad category", CreateRequest{MemoryKey: "k", Content: "x", Importance: 1, Category: "Bad Name"}, "category"},
		{"negative ttl", CreateRequest{MemoryKey: "k", Content: "x", Importance: 1, TTL: -time.Second}, "ttl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.req)
			require.Error(t, err)
			var v *model.ValidationError
			require.ErrorAs(t, err, &v)
			assert.Equal(t, tt.field, v.Field)
		})
	}
}

func TestCreateExpiry(t *testing.T) {
	clock := newClock()
	ctx := context.Background()
	svc := New(Config{Store: inmemory.New(), Logger: newTestLogger(), Clock: clock.Now, DefaultTTL: 24 * time.Hour})

	rec, err := svc.Create(ctx, CreateRequest{MemoryKey: "a", Content: "x", Importance: 1})
	require.NoError(t, err)
	require.NotNil(t, rec.ExpiresAt)
	assert.Equal(t, clock.now.Add(24*time.Hour), *rec.ExpiresAt)

	rec, err = svc.Create(ctx, CreateRequest{MemoryKey: "b", Content: "x", Importance: 1, TTL: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, clock.now.Add(time.Hour), *rec.ExpiresAt)

	at := clock.now.Add(5 * time.Minute)
	rec, err = svc.Create(ctx, CreateRequest{MemoryKey: "c", Content: "x", Importance: 1, ExpiresAt: &at})
	require.NoError(t, err)
	assert.Equal(t, at, *rec.ExpiresAt)
}

func TestReadCountsAccess(t *testing.T) {
	clock := newClock()
	svc := newService(t, clock)
	ctx := context.Background()

	rec, err := svc.Create(ctx, CreateRequest{MemoryKey: "k", Content: "x", Importance: 2})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	got, err := svc.Read(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.AccessCount)
	assert.Equal(t, clock.now, got.LastAccessedAt)
	assert.Equal(t, rec.UpdatedAt, got.UpdatedAt)

	got, err = svc.Read(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.AccessCount)

	_, err = svc.Read(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestUpdate(t *testing.T) {
	clock := newClock()
	svc := newService(t, clock)
	ctx := context.Background()

	rec, err := svc.Create(ctx, CreateRequest{MemoryKey: "k", Content: "old", Importance: 1, UserDefined: true})
	require.NoError(t, err)

	clock.Advance(time.Hour)
	got, err := svc.Update(ctx, rec.ID, UpdateRequest{Content: ptr("new"), Importance: ptr(model.ImportanceHigh)})
	require.NoError(t, err)
	assert.Equal(t, "new", got.Content)
	assert.Equal(t, model.ImportanceHigh, got.Importance)
	assert.Equal(t, clock.now, got.UpdatedAt)
	assert.Equal(t, rec.CreatedAt, got.CreatedAt)
	assert.Equal(t, "k", got.MemoryKey)
	assert.True(t, got.UserDefined)

	_, err = svc.Update(ctx, rec.ID, UpdateRequest{})
	assert.True(t, model.IsValidation(err))

	_, err = svc.Update(ctx, rec.ID, UpdateRequest{Importance: ptr(model.Importance(7))})
	assert.True(t, model.IsValidation(err))

	_, err = svc.Update(ctx, "missing", UpdateRequest{Content: ptr("x")})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestDeleteIsIdempotent(t *testing.T) {
	svc := newService(t, newClock())
	ctx := context.Background()

	rec, err := svc.Create(ctx, CreateRequest{MemoryKey: "k", Content: "x", Importance: 1})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, rec.ID))
	require.NoError(t, svc.Delete(ctx, rec.ID))

	_, err = svc.Read(ctx, rec.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSearchPagesLazily(t *testing.T) {
	svc := newService(t, newClock())
	ctx := context.Background()

	var want []string
	for i := 0; i < 8; i++ {
		category := "general"
		if i%2 == 0 {
			category = "project_info"
		}
		rec, err := svc.Create(ctx, CreateRequest{MemoryKey: "k", Content: "x", Importance: 1, Category: category})
		require.NoError(t, err)
		if i%2 == 0 {
			want = append(want, rec.ID)
		}
	}

	cat := model.CategoryProjectInfo
	var got []string
	for rec, err := range svc.Search(ctx, model.Filter{Category: &cat}) {
		require.NoError(t, err)
		got = append(got, rec.ID)
	}
	assert.Equal(t, want, got)

	// Stopping early does not fetch further pages.
	n := 0
	for range svc.Search(ctx, model.Filter{}) {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)

	all, err := svc.List(ctx, model.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 8)
	for _, rec := range all {
		assert.Equal(t, int64(0), rec.AccessCount)
	}
}

func TestSearchYieldsStoreError(t *testing.T) {
	store := inmemory.New()
	svc := New(Config{Store: store, Logger: newTestLogger()})
	require.NoError(t, store.Close())

	var errs int
	for _, err := range svc.Search(context.Background(), model.Filter{}) {
		require.Error(t, err)
		assert.ErrorIs(t, err, model.ErrBackendUnavailable)
		errs++
	}
	assert.Equal(t, 1, errs)
}

func TestParseTTL(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"24h", 24 * time.Hour, false},
		{"90m", 90 * time.Minute, false},
		{"xd", 0, true},
		{"-1h", 0, true},
		{"soon", 0, true},
		{"106751d", 106751 * 24 * time.Hour, false},
		{"106752d", 0, true},
		{"200000d", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTTL(tt.in)
			if tt.wantErr {
				assert.True(t, model.IsValidation(err), err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
