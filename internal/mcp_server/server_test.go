package mcp_server

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewisedginton/chat_memory/internal/backend/inmemory"
	"github.com/lewisedginton/chat_memory/internal/memory_service"
	"github.com/lewisedginton/chat_memory/internal/model"
	"github.com/lewisedginton/chat_memory/internal/session_manager"
	"github.com/lewisedginton/chat_memory/internal/stats"
	"github.com/lewisedginton/chat_memory/pkg/logger"
)

func newTestLogger() logger.Logger {
	return logger.NewLogger(logger.Config{Level: logger.DebugLevel, Output: io.Discard})
}

func setupTestServer(t *testing.T) *Server {
	t.Helper()
	log := newTestLogger()
	store := inmemory.New()
	clock := func() time.Time { return time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC) }

	memories := memory_service.New(memory_service.Config{Store: store, Logger: log, Clock: clock})
	sessions, err := session_manager.New(session_manager.Config{MaxWindow: 10, Memory: memories, Logger: log, Clock: clock})
	require.NoError(t, err)

	s, err := New(Config{Memories: memories, Sessions: sessions, Stats: stats.New(store, nil, nil), Logger: log})
	require.NoError(t, err)
	return s
}

func decodeText(t *testing.T, result *mcp.CallToolResult, dst any) {
	t.Helper()
	require.NotNil(t, result)
	require.False(t, result.IsError, "unexpected tool error: %+v", result.Content)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	require.NoError(t, json.Unmarshal([]byte(text.Text), dst))
}

func errorText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.True(t, result.IsError)
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorContains(t, err, "memories service is required")

	s := setupTestServer(t)
	assert.NotNil(t, s.Handler())
	assert.NotNil(t, s.MCPServer())
}

func TestMemoryTools(t *testing.T) {
	s := setupTestServer(t)
	ctx := context.Background()

	result, _, err := s.handleMemoryCreate(ctx, nil, MemoryCreateInput{
		MemoryKey: "editor", Content: "prefers vim", Category: "user_preferences", Importance: 3, UserDefined: true,
	})
	require.NoError(t, err)
	var created struct {
		ID     string             `json:"id"`
		Record model.MemoryRecord `json:"record"`
	}
	decodeText(t, result, &created)
	require.NotEmpty(t, created.ID)
	assert.True(t, created.Record.UserDefined)

	result, _, err = s.handleMemoryRead(ctx, nil, MemoryIDInput{ID: created.ID})
	require.NoError(t, err)
	var rec model.MemoryRecord
	decodeText(t, result, &rec)
	assert.Equal(t, int64(1), rec.AccessCount)

	content := "prefers helix"
	result, _, err = s.handleMemoryUpdate(ctx, nil, MemoryUpdateInput{ID: created.ID, Content: &content})
	require.NoError(t, err)
	decodeText(t, result, &rec)
	assert.Equal(t, content, rec.Content)

	yes := true
	result, _, err = s.handleMemoryList(ctx, nil, MemoryListInput{UserDefined: &yes})
	require.NoError(t, err)
	var list struct {
		Count int `json:"count"`
	}
	decodeText(t, result, &list)
	assert.Equal(t, 1, list.Count)

	result, _, err = s.handleMemoryStats(ctx, nil, StatsInput{})
	require.NoError(t, err)
	var summary stats.Summary
	decodeText(t, result, &summary)
	assert.Equal(t, 1, summary.HighImportance)

	for i := 0; i < 2; i++ {
		result, _, err = s.handleMemoryDelete(ctx, nil, MemoryIDInput{ID: created.ID})
		require.NoError(t, err)
		assert.False(t, result.IsError)
	}

	result, _, err = s.handleMemoryRead(ctx, nil, MemoryIDInput{ID: created.ID})
	require.NoError(t, err)
	assert.Contains(t, errorText(t, result), "not found")
}

func TestToolErrorsAreResults(t *testing.T) {
	s := setupTestServer(t)
	ctx := context.Background()

	result, _, err := s.handleMemoryCreate(ctx, nil, MemoryCreateInput{MemoryKey: "k", Content: "c", Importance: 9})
	require.NoError(t, err)
	assert.Contains(t, errorText(t, result), "importance")

	result, _, err = s.handleMemoryCreate(ctx, nil, MemoryCreateInput{MemoryKey: "k", Content: "c", Importance: 1, TTL: "later"})
	require.NoError(t, err)
	assert.Contains(t, errorText(t, result), "ttl")

	result, _, err = s.handleMemoryList(ctx, nil, MemoryListInput{Category: "Bad Category"})
	require.NoError(t, err)
	assert.Contains(t, errorText(t, result), "category")

	result, _, err = s.handleSessionAppend(ctx, nil, SessionAppendInput{Role: "narrator", Text: "x"})
	require.NoError(t, err)
	assert.Contains(t, errorText(t, result), "role")
}

func TestSessionTools(t *testing.T) {
	s := setupTestServer(t)
	ctx := context.Background()

	result, _, err := s.handleSessionAppend(ctx, nil, SessionAppendInput{Role: "user", Text: "what is the plan"})
	require.NoError(t, err)
	var appended map[string]string
	decodeText(t, result, &appended)
	id := appended["session_id"]
	require.NotEmpty(t, id)

	_, _, err = s.handleSessionAppend(ctx, nil, SessionAppendInput{SessionID: id, Role: "assistant", Text: "ship it"})
	require.NoError(t, err)

	result, _, err = s.handleSessionContext(ctx, nil, SessionContextInput{SessionID: id, Limit: 1})
	require.NoError(t, err)
	var window struct {
		Turns []model.Turn `json:"turns"`
	}
	decodeText(t, result, &window)
	require.Len(t, window.Turns, 1)
	assert.Equal(t, "ship it", window.Turns[0].Text)

	result, _, err = s.handleSessionPromote(ctx, nil, SessionPromoteInput{SessionID: id, Importance: 2})
	require.NoError(t, err)
	var promoted map[string]string
	decodeText(t, result, &promoted)
	assert.NotEmpty(t, promoted["id"])

	result, _, err = s.handleSessionPromote(ctx, nil, SessionPromoteInput{SessionID: "nobody", Importance: 2})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestToolsOverInMemoryTransport(t *testing.T) {
	s := setupTestServer(t)
	ctx := context.Background()

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	serverSession, err := s.MCPServer().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	tools, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		toolMemoryCreate, toolMemoryList, toolMemoryRead, toolMemoryUpdate, toolMemoryDelete,
		toolMemoryStats, toolSessionAppend, toolSessionContext, toolSessionPromote,
	}, names)

	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      toolMemoryCreate,
		Arguments: map[string]any{"memory_key": "tz", "content": "Europe/London", "importance": 2},
	})
	require.NoError(t, err)
	var created map[string]any
	decodeText(t, result, &created)
	assert.NotEmpty(t, created["id"])
}
