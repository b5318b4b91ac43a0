package exporter

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewisedginton/chat_memory/internal/backend/inmemory"
	"github.com/lewisedginton/chat_memory/internal/memory_service"
	"github.com/lewisedginton/chat_memory/internal/model"
	"github.com/lewisedginton/chat_memory/internal/storage_manager"
	"github.com/lewisedginton/chat_memory/pkg/logger"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestLogger() logger.Logger {
	return logger.NewLogger(logger.Config{
		Level:  logger.DebugLevel,
		Output: io.Discard,
	})
}

func clock() time.Time { return now }

func setup(t *testing.T) (*Exporter, *memory_service.Service, storage_manager.FileProvider) {
	t.Helper()
	svc := memory_service.New(memory_service.Config{Store: inmemory.New(), Logger: newTestLogger(), Clock: clock})
	files := storage_manager.NewLocalFileProvider(t.TempDir())
	exp, err := New(Config{Records: svc, Files: files, Logger: newTestLogger(), Clock: clock})
	require.NoError(t, err)
	return exp, svc, files
}

func TestExportImportRoundTrip(t *testing.T) {
	exp, svc, files := setup(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, memory_service.CreateRequest{MemoryKey: "a", Content: "one", Category: "personal", Importance: 3, UserDefined: true})
	require.NoError(t, err)
	_, err = svc.Create(ctx, memory_service.CreateRequest{MemoryKey: "b", Content: "two", Importance: 1, TTL: time.Hour})
	require.NoError(t, err)

	path, count, err := exp.Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, "memories-20260301T120000Z.json", path)
	assert.Equal(t, 2, count)

	listed, err := exp.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{path}, listed)

	// Import into an empty service.
	target := memory_service.New(memory_service.Config{Store: inmemory.New(), Logger: newTestLogger(), Clock: clock})
	imp, err := New(Config{Records: target, Files: files, Logger: newTestLogger(), Clock: clock})
	require.NoError(t, err)

	n, err := imp.Import(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	records, err := target.List(ctx, model.Filter{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	byKey := map[string]model.MemoryRecord{}
	for _, r := range records {
		byKey[r.MemoryKey] = r
	}
	assert.True(t, byKey["a"].UserDefined)
	assert.Equal(t, model.CategoryPersonal, byKey["a"].Category)
	require.NotNil(t, byKey["b"].ExpiresAt)
	assert.Equal(t, now.Add(time.Hour), *byKey["b"].ExpiresAt)
}

func TestImportSkipsExpiredAndInvalid(t *testing.T) {
	exp, svc, files := setup(t)
	ctx := context.Background()

	past := now.Add(-time.Minute)
	doc := document{
		Version: formatVersion,
		Records: []model.MemoryRecord{
			{ID: "1", MemoryKey: "ok", Content: "fine", Category: "general", Importance: 2},
			{ID: "2", MemoryKey: "old", Content: "gone", Category: "general", Importance: 2, ExpiresAt: &past},
			{ID: "3", MemoryKey: "bad", Content: "x", Category: "general", Importance: 7},
		},
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, files.Write(ctx, "memories-manual.json", data))

	n, err := exp.Import(ctx, "memories-manual.json")
	assert.Equal(t, 1, n)
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))

	records, err := svc.List(ctx, model.Filter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ok", records[0].MemoryKey)
}

func TestImportErrors(t *testing.T) {
	exp, _, files := setup(t)
	ctx := context.Background()

	_, err := exp.Import(ctx, "nope.json")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorContains(t, err, "no export named nope.json")

	require.NoError(t, files.Write(ctx, "garbage.json", []byte("not json")))
	_, err = exp.Import(ctx, "garbage.json")
	assert.True(t, model.IsValidation(err))

	require.NoError(t, files.Write(ctx, "future.json", []byte(`{"version": 99}`)))
	_, err = exp.Import(ctx, "future.json")
	assert.True(t, model.IsValidation(err))
}

func TestExportEmpty(t *testing.T) {
	exp, _, files := setup(t)
	ctx := context.Background()

	path, count, err := exp.Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	data, err := files.Read(ctx, path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"records": []`)
}
