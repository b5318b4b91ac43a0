// Package storetest runs the same behavioural checks against every
// backend.Store driver.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewisedginton/chat_memory/internal/backend"
	"github.com/lewisedginton/chat_memory/internal/model"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) backend.Store

var base = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newRecord(key string, category model.Category, importance model.Importance, userDefined bool) *model.MemoryRecord {
	return &model.MemoryRecord{
		MemoryKey:      key,
		Content:        "content for " + key,
		Category:       category,
		Importance:     importance,
		UserDefined:    userDefined,
		CreatedAt:      base,
		UpdatedAt:      base,
		LastAccessedAt: base,
	}
}

// Run executes the suite.
func Run(t *testing.T, factory Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s backend.Store)
	}{
		{"PutGetRoundTrip", testPutGet},
		{"GetMissing", testGetMissing},
		{"UpdatePatch", testUpdate},
		{"UpdateAccess", testUpdateAccess},
		{"DeleteMissing", testDelete},
		{"ListFilterAndOrder", testList},
		{"ListPaging", testListPaging},
		{"Count", testCount},
		{"Cache", testCache},
		{"CacheEmptyValue", testCacheEmptyValue},
		{"ConcurrentAccess", testConcurrentAccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := factory(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func testPutGet(t *testing.T, s backend.Store) {
	ctx := context.Background()
	expires := base.Add(time.Hour)
	rec := newRecord("k1", model.CategoryPersonal, model.ImportanceHigh, true)
	rec.ExpiresAt = &expires

	id, err := s.Put(ctx, rec)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "k1", got.MemoryKey)
	assert.Equal(t, "content for k1", got.Content)
	assert.Equal(t, model.CategoryPersonal, got.Category)
	assert.Equal(t, model.ImportanceHigh, got.Importance)
	assert.True(t, got.UserDefined)
	assert.True(t, base.Equal(got.CreatedAt))
	assert.True(t, base.Equal(got.LastAccessedAt))
	assert.Equal(t, int64(0), got.AccessCount)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, expires.Equal(*got.ExpiresAt))

	dup, err := s.Put(ctx, newRecord("k1", model.CategoryPersonal, model.ImportanceLow, false))
	require.NoError(t, err)
	assert.NotEqual(t, id, dup, "duplicate keys get distinct ids")
}

func testGetMissing(t *testing.T, s backend.Store) {
	_, err := s.Get(context.Background(), "01ARZ3NDEKTSV4RRFFQ69G5FAV")
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = s.Update(context.Background(), "01ARZ3NDEKTSV4RRFFQ69G5FAV", model.Patch{})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func testUpdate(t *testing.T, s backend.Store) {
	ctx := context.Background()
	id, err := s.Put(ctx, newRecord("k", model.CategoryGeneral, model.ImportanceLow, false))
	require.NoError(t, err)

	content := "rewritten"
	category := model.CategoryCodingStyle
	importance := model.ImportanceMedium
	updated := base.Add(time.Minute)

	got, err := s.Update(ctx, id, model.Patch{Content: &content, Category: &category, Importance: &importance, UpdatedAt: &updated})
	require.NoError(t, err)
	assert.Equal(t, "rewritten", got.Content)
	assert.Equal(t, model.CategoryCodingStyle, got.Category)
	assert.Equal(t, model.ImportanceMedium, got.Importance)
	assert.True(t, updated.Equal(got.UpdatedAt))
	assert.Equal(t, "k", got.MemoryKey)
	assert.Equal(t, int64(0), got.AccessCount)

	again, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func testUpdateAccess(t *testing.T, s backend.Store) {
	ctx := context.Background()
	id, err := s.Put(ctx, newRecord("k", model.CategoryGeneral, model.ImportanceLow, false))
	require.NoError(t, err)

	var last time.Time
	for i := 1; i <= 3; i++ {
		last = base.Add(time.Duration(i) * time.Second)
		got, err := s.Update(ctx, id, model.Patch{AccessedAt: &last})
		require.NoError(t, err)
		assert.Equal(t, int64(i), got.AccessCount)
	}

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.AccessCount)
	assert.True(t, last.Equal(got.LastAccessedAt))
}

func testDelete(t *testing.T, s backend.Store) {
	ctx := context.Background()
	id, err := s.Put(ctx, newRecord("k", model.CategoryGeneral, model.ImportanceLow, false))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, id))
	assert.ErrorIs(t, s.Delete(ctx, id), model.ErrNotFound)
	_, err = s.Get(ctx, id)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func testList(t *testing.T, s backend.Store) {
	ctx := context.Background()
	var ids []string
	for i, tc := range []struct {
		category model.Category
		user     bool
	}{
		{model.CategoryGeneral, false},
		{model.CategoryPersonal, true},
		{model.CategoryGeneral, true},
		{model.CategoryPersonal, false},
	} {
		id, err := s.Put(ctx, newRecord(string(rune('a'+i)), tc.category, model.ImportanceLow, tc.user))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	all, err := s.List(ctx, model.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i := range all {
		assert.Equal(t, ids[i], all[i].ID, "list is ordered by id")
	}

	again, err := s.List(ctx, model.Filter{})
	require.NoError(t, err)
	assert.Equal(t, all, again, "repeated list without writes is identical")

	general := model.CategoryGeneral
	yes := true
	got, err := s.List(ctx, model.Filter{Category: &general})
	require.NoError(t, err)
	assert.Equal(t, []string{ids[0], ids[2]}, recordIDs(got))

	got, err = s.List(ctx, model.Filter{UserDefined: &yes})
	require.NoError(t, err)
	assert.Equal(t, []string{ids[1], ids[2]}, recordIDs(got))

	got, err = s.List(ctx, model.Filter{Category: &general, UserDefined: &yes})
	require.NoError(t, err)
	assert.Equal(t, []string{ids[2]}, recordIDs(got))
}

func testListPaging(t *testing.T, s backend.Store) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := s.Put(ctx, newRecord("p", model.CategoryGeneral, model.ImportanceLow, false))
		require.NoError(t, err)
	}

	var seen []string
	after := ""
	for {
		page, err := s.List(ctx, model.Filter{AfterID: after, Limit: 2})
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		assert.LessOrEqual(t, len(page), 2)
		seen = append(seen, recordIDs(page)...)
		after = page[len(page)-1].ID
	}

	all, err := s.List(ctx, model.Filter{})
	require.NoError(t, err)
	assert.Equal(t, recordIDs(all), seen)
}

func testCount(t *testing.T, s backend.Store) {
	ctx := context.Background()
	for _, c := range []model.Category{model.CategoryGeneral, model.CategoryGeneral, model.CategoryPersonal} {
		_, err := s.Put(ctx, newRecord("c", c, model.ImportanceLow, false))
		require.NoError(t, err)
	}

	n, err := s.Count(ctx, model.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	general := model.CategoryGeneral
	n, err = s.Count(ctx, model.Filter{Category: &general})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func testCache(t *testing.T, s backend.Store) {
	ctx := context.Background()
	entry := model.CacheEntry{Key: "session:abc", Value: []byte(`{"turns":[]}`), CachedAt: base, TTL: 90 * time.Second}
	require.NoError(t, s.PutCache(ctx, entry))

	got, err := s.GetCache(ctx, "session:abc")
	require.NoError(t, err)
	assert.Equal(t, entry.Value, got.Value)
	assert.True(t, base.Equal(got.CachedAt))
	assert.Equal(t, 90*time.Second, got.TTL)

	entry.Value = []byte("v2")
	entry.TTL = 0
	require.NoError(t, s.PutCache(ctx, entry))
	got, err = s.GetCache(ctx, "session:abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got.Value)
	assert.Equal(t, time.Duration(0), got.TTL)

	require.NoError(t, s.PutCache(ctx, model.CacheEntry{Key: "a", Value: []byte("x"), CachedAt: base}))
	entries, err := s.ListCache(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	require.NoError(t, s.DeleteCache(ctx, "session:abc"))
	assert.ErrorIs(t, s.DeleteCache(ctx, "session:abc"), model.ErrNotFound)
	_, err = s.GetCache(ctx, "session:abc")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func testCacheEmptyValue(t *testing.T, s backend.Store) {
	ctx := context.Background()
	for _, value := range [][]byte{{}, nil} {
		require.NoError(t, s.PutCache(ctx, model.CacheEntry{Key: "empty", Value: value, CachedAt: base}))

		got, err := s.GetCache(ctx, "empty")
		require.NoError(t, err)
		assert.Empty(t, got.Value)
	}
}

func testConcurrentAccess(t *testing.T, s backend.Store) {
	ctx := context.Background()
	id, err := s.Put(ctx, newRecord("hot", model.CategoryGeneral, model.ImportanceLow, false))
	require.NoError(t, err)

	const workers, reads = 8, 10
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < reads; i++ {
				at := base.Add(time.Second)
				_, err := s.Update(ctx, id, model.Patch{AccessedAt: &at})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(workers*reads), got.AccessCount)
}

func recordIDs(records []model.MemoryRecord) []string {
	out := make([]string, len(records))
	for i := range records {
		out[i] = records[i].ID
	}
	return out
}
