package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewisedginton/chat_memory/internal/backend/inmemory"
	"github.com/lewisedginton/chat_memory/internal/exporter"
	"github.com/lewisedginton/chat_memory/internal/memory_service"
	"github.com/lewisedginton/chat_memory/internal/model"
	"github.com/lewisedginton/chat_memory/internal/optimizer"
	"github.com/lewisedginton/chat_memory/internal/retention"
	"github.com/lewisedginton/chat_memory/internal/session_manager"
	"github.com/lewisedginton/chat_memory/internal/stats"
	"github.com/lewisedginton/chat_memory/internal/storage_manager"
	"github.com/lewisedginton/chat_memory/pkg/logger"
)

func newTestLogger() logger.Logger {
	return logger.NewLogger(logger.Config{Level: logger.DebugLevel, Output: io.Discard})
}

func fixedClock() time.Time {
	return time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
}

func setupTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := newTestLogger()
	store := inmemory.New()

	memories := memory_service.New(memory_service.Config{Store: store, Logger: log, Clock: fixedClock})
	sessions, err := session_manager.New(session_manager.Config{MaxWindow: 3, Memory: memories, Logger: log, Clock: fixedClock})
	require.NoError(t, err)
	engine, err := optimizer.New(optimizer.Config{
		Store:        store,
		Scorer:       retention.NewScorer(retention.DefaultWeights()),
		GlobalBudget: 2,
		Logger:       log,
		Clock:        fixedClock,
	})
	require.NoError(t, err)
	exp, err := exporter.New(exporter.Config{
		Records: memories,
		Files:   storage_manager.NewLocalFileProvider(t.TempDir()),
		Logger:  log,
		Clock:   fixedClock,
	})
	require.NoError(t, err)

	h, err := New(Config{
		Memories:  memories,
		Sessions:  sessions,
		Stats:     stats.New(store, nil, nil),
		Optimizer: engine,
		Exporter:  exp,
		Logger:    log,
	})
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.Handle("/v1/", http.StripPrefix("/v1", h.Routes()))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string, out any) int {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestMemoryLifecycle(t *testing.T) {
	srv := setupTestServer(t)

	var created createMemoryResponse
	code := do(t, srv, http.MethodPost, "/v1/memories",
		`{"memory_key":"editor","content":"prefers vim","category":"user_preferences","importance":3,"ttl":"7d"}`, &created)
	require.Equal(t, http.StatusCreated, code)
	require.NotEmpty(t, created.ID)
	require.NotNil(t, created.Record.ExpiresAt)
	assert.Equal(t, fixedClock().Add(7*24*time.Hour), created.Record.ExpiresAt.UTC())

	var rec model.MemoryRecord
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/v1/memories/"+created.ID, "", &rec))
	assert.Equal(t, int64(1), rec.AccessCount)

	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodPatch, "/v1/memories/"+created.ID, `{"importance":1}`, &rec))
	assert.Equal(t, model.ImportanceLow, rec.Importance)

	var list listMemoriesResponse
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/v1/memories?category=user_preferences", "", &list))
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/v1/memories?user_defined=true", "", &list))
	assert.Equal(t, 0, list.Count)
	assert.NotNil(t, list.Memories)

	var summary stats.Summary
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/v1/memories/stats", "", &summary))
	assert.Equal(t, 1, summary.Total)

	var deleted map[string]bool
	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, do(t, srv, http.MethodDelete, "/v1/memories/"+created.ID, "", &deleted))
		assert.True(t, deleted["deleted"])
	}

	var apiErr errorResponse
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/v1/memories/"+created.ID, "", &apiErr))
}

func TestMemoryValidationErrors(t *testing.T) {
	srv := setupTestServer(t)

	tests := []struct {
		name      string
		method    string
		path      string
		body      string
		wantField string
	}{
		{"bad importance", http.MethodPost, "/v1/memories", `{"memory_key":"k","content":"c","importance":7}`, "importance"},
		{"bad ttl", http.MethodPost, "/v1/memories", `{"memory_key":"k","content":"c","importance":1,"ttl":"soon"}`, "ttl"},
		{"unknown field", http.MethodPost, "/v1/memories", `{"memory_key":"k","colour":"red"}`, "body"},
		{"wrong type", http.MethodPost, "/v1/memories", `{"memory_key":"k","importance":"high"}`, "body"},
		{"missing body", http.MethodPost, "/v1/memories", ``, "body"},
		{"bad filter", http.MethodGet, "/v1/memories?user_defined=maybe", ``, "user_defined"},
		{"bad category filter", http.MethodGet, "/v1/memories?category=Not%20Valid", ``, "category"},
		{"empty patch", http.MethodPatch, "/v1/memories/01ABC", `{}`, "patch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var apiErr errorResponse
			assert.Equal(t, http.StatusBadRequest, do(t, srv, tt.method, tt.path, tt.body, &apiErr))
			assert.Equal(t, tt.wantField, apiErr.Field)
			assert.NotEmpty(t, apiErr.Error)
		})
	}
}

func TestSessionEndpoints(t *testing.T) {
	srv := setupTestServer(t)

	var started map[string]string
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/v1/sessions", `{"role":"user","text":"turn 0"}`, &started))
	id := started["session_id"]
	require.NotEmpty(t, id)

	for i := 1; i < 5; i++ {
		require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/v1/sessions/"+id+"/turns",
			fmt.Sprintf(`{"role":"assistant","text":"turn %d"}`, i), nil))
	}

	var ctxResp sessionContextResponse
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/v1/sessions/"+id+"/context", "", &ctxResp))
	require.Len(t, ctxResp.Turns, 3)
	assert.Equal(t, "turn 2", ctxResp.Turns[0].Text)

	require.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/v1/sessions/"+id+"/context?limit=1", "", &ctxResp))
	require.Len(t, ctxResp.Turns, 1)
	assert.Equal(t, "turn 4", ctxResp.Turns[0].Text)

	var apiErr errorResponse
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/v1/sessions/"+id+"/context?limit=x", "", &apiErr))
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, "/v1/sessions/"+id+"/turns", `{"role":"robot","text":"x"}`, &apiErr))

	var promoted map[string]string
	require.Equal(t, http.StatusCreated, do(t, srv, http.MethodPost, "/v1/sessions/"+id+"/promote", `{"importance":2}`, &promoted))
	var rec model.MemoryRecord
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/v1/memories/"+promoted["id"], "", &rec))
	assert.Equal(t, model.CategoryConversationSummary, rec.Category)
	assert.Contains(t, rec.Content, "assistant: turn 4")

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, "/v1/sessions/unknown/promote", `{"importance":2}`, &apiErr))
}

func TestAdminEndpoints(t *testing.T) {
	srv := setupTestServer(t)

	assert.Equal(t, http.StatusNoContent, do(t, srv, http.MethodGet, "/v1/admin/optimizer", "", nil))

	for i := 0; i < 4; i++ {
		require.Equal(t, http.StatusCreated, do(t, srv, http.MethodPost, "/v1/memories",
			fmt.Sprintf(`{"memory_key":"k%d","content":"c","importance":%d}`, i, i%3+1), nil))
	}

	var triggered optimizeResponse
	assert.Equal(t, http.StatusAccepted, do(t, srv, http.MethodPost, "/v1/admin/optimize", "", &triggered))
	assert.True(t, triggered.Triggered)

	var ran optimizeResponse
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/v1/admin/optimize?wait=true", "", &ran))
	require.NotNil(t, ran.Report)
	assert.Equal(t, 2, ran.Report.GlobalEvicted)

	var last optimizer.Report
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/v1/admin/optimizer", "", &last))
	assert.Equal(t, 2, last.GlobalEvicted)

	var exported map[string]any
	require.Equal(t, http.StatusCreated, do(t, srv, http.MethodPost, "/v1/admin/export", "", &exported))
	assert.Equal(t, float64(2), exported["count"])
	assert.Contains(t, exported["path"], "memories-")
}

type unavailableMemories struct {
	Memories
	err error
}

func (u unavailableMemories) List(context.Context, model.Filter) ([]model.MemoryRecord, error) {
	return nil, fmt.Errorf("list: %w", u.err)
}

func TestBackendErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{model.ErrBackendUnavailable, http.StatusServiceUnavailable},
		{model.ErrTimeout, http.StatusGatewayTimeout},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			h, err := New(Config{
				Memories: unavailableMemories{err: tt.err},
				Sessions: &session_manager.Manager{},
				Stats:    stats.New(inmemory.New(), nil, nil),
				Logger:   newTestLogger(),
			})
			require.NoError(t, err)

			w := httptest.NewRecorder()
			h.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/memories", nil))
			assert.Equal(t, tt.want, w.Code)

			w = httptest.NewRecorder()
			h.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/optimize", nil))
			assert.Equal(t, http.StatusNotFound, w.Code)
		})
	}
}
