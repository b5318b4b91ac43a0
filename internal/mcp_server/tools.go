package mcp_server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/lewisedginton/chat_memory/internal/memory_service"
	"github.com/lewisedginton/chat_memory/internal/model"
	"github.com/lewisedginton/chat_memory/pkg/logger"
)

const (
	toolMemoryCreate   = "memory_create"
	toolMemoryList     = "memory_list"
	toolMemoryRead     = "memory_read"
	toolMemoryUpdate   = "memory_update"
	toolMemoryDelete   = "memory_delete"
	toolMemoryStats    = "memory_stats"
	toolSessionAppend  = "session_append"
	toolSessionContext = "session_context"
	toolSessionPromote = "session_promote"
)

type MemoryCreateInput struct {
	MemoryKey   string `json:"memory_key" jsonschema:"short key describing the fact, for example editor_preference"`
	Content     string `json:"content" jsonschema:"the fact to remember"`
	Category    string `json:"category,omitempty" jsonschema:"lower_snake_case category, defaults to general"`
	Importance  int    `json:"importance" jsonschema:"1 (low), 2 (medium) or 3 (high)"`
	UserDefined bool   `json:"user_defined,omitempty" jsonschema:"true when the user explicitly asked to remember this"`
	TTL         string `json:"ttl,omitempty" jsonschema:"optional lifetime such as 90m, 24h or 7d"`
}

type MemoryListInput struct {
	Category    string `json:"category,omitempty" jsonschema:"only return records in this category"`
	UserDefined *bool  `json:"user_defined,omitempty" jsonschema:"only return records with this user_defined flag"`
}

type MemoryIDInput struct {
	ID string `json:"id" jsonschema:"the record id"`
}

type MemoryUpdateInput struct {
	ID         string  `json:"id" jsonschema:"the record id"`
	Content    *string `json:"content,omitempty" jsonschema:"new content"`
	Category   *string `json:"category,omitempty" jsonschema:"new category"`
	Importance *int    `json:"importance,omitempty" jsonschema:"new importance, 1 to 3"`
}

type StatsInput struct{}

type SessionAppendInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"existing session id; omit to start a new session"`
	Role      string `json:"role" jsonschema:"user, assistant, system or tool"`
	Text      string `json:"text" jsonschema:"the turn text"`
}

type SessionContextInput struct {
	SessionID string `json:"session_id" jsonschema:"the session id"`
	Limit     int    `json:"limit,omitempty" jsonschema:"return at most this many recent turns; 0 returns the whole window"`
}

type SessionPromoteInput struct {
	SessionID  string `json:"session_id" jsonschema:"the session id"`
	Importance int    `json:"importance" jsonschema:"importance of the stored summary, 1 to 3"`
}

func (s *Server) registerTools(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        toolMemoryCreate,
		Description: "Store a durable fact about the user or project. Returns the new record id.",
	}, s.handleMemoryCreate)
	mcp.AddTool(server, &mcp.Tool{
		Name:        toolMemoryList,
		Description: "List stored memories, optionally filtered by category or user_defined.",
	}, s.handleMemoryList)
	mcp.AddTool(server, &mcp.Tool{
		Name:        toolMemoryRead,
		Description: "Read one memory by id. Reading counts as an access for retention.",
	}, s.handleMemoryRead)
	mcp.AddTool(server, &mcp.Tool{
		Name:        toolMemoryUpdate,
		Description: "Change the content, category or importance of a memory.",
	}, s.handleMemoryUpdate)
	mcp.AddTool(server, &mcp.Tool{
		Name:        toolMemoryDelete,
		Description: "Delete a memory by id. Deleting an unknown id succeeds.",
	}, s.handleMemoryDelete)
	mcp.AddTool(server, &mcp.Tool{
		Name:        toolMemoryStats,
		Description: "Summarize the stored memories: totals, categories and backend mode.",
	}, s.handleMemoryStats)
	mcp.AddTool(server, &mcp.Tool{
		Name:        toolSessionAppend,
		Description: "Append a turn to a conversation session. Returns the session id.",
	}, s.handleSessionAppend)
	mcp.AddTool(server, &mcp.Tool{
		Name:        toolSessionContext,
		Description: "Return the recent turns of a conversation session, oldest first.",
	}, s.handleSessionContext)
	mcp.AddTool(server, &mcp.Tool{
		Name:        toolSessionPromote,
		Description: "Store the current window of a session as a conversation_summary memory.",
	}, s.handleSessionPromote)
}

// textResult returns v as JSON text content.
func textResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult(fmt.Errorf("failed to serialize result: %w", err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}

// errorResult reports err to the model as a tool error rather than a
// protocol error.
func errorResult(err error) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
	}, nil, nil
}

func (s *Server) fail(tool string, err error) (*mcp.CallToolResult, any, error) {
	if !model.IsValidation(err) {
		s.log.Warn("Tool call failed", logger.StringField("tool", tool), logger.ErrorField(err))
	}
	return errorResult(err)
}

func (s *Server) handleMemoryCreate(ctx context.Context, _ *mcp.CallToolRequest, in MemoryCreateInput) (*mcp.CallToolResult, any, error) {
	ttl, err := memory_service.ParseTTL(in.TTL)
	if err != nil {
		return s.fail(toolMemoryCreate, err)
	}
	rec, err := s.memories.Create(ctx, memory_service.CreateRequest{
		MemoryKey:   in.MemoryKey,
		Content:     in.Content,
		Category:    in.Category,
		Importance:  model.Importance(in.Importance),
		UserDefined: in.UserDefined,
		TTL:         ttl,
	})
	if err != nil {
		return s.fail(toolMemoryCreate, err)
	}
	return textResult(map[string]any{"id": rec.ID, "record": rec})
}

func (s *Server) handleMemoryList(ctx context.Context, _ *mcp.CallToolRequest, in MemoryListInput) (*mcp.CallToolResult, any, error) {
	var filter model.Filter
	if in.Category != "" {
		c := model.Category(in.Category)
		if !c.Valid() {
			return errorResult(model.NewValidationError("category", "%q is not a valid category", in.Category))
		}
		filter.Category = &c
	}
	filter.UserDefined = in.UserDefined

	records, err := s.memories.List(ctx, filter)
	if err != nil {
		return s.fail(toolMemoryList, err)
	}
	if records == nil {
		records = []model.MemoryRecord{}
	}
	return textResult(map[string]any{"memories": records, "count": len(records)})
}

func (s *Server) handleMemoryRead(ctx context.Context, _ *mcp.CallToolRequest, in MemoryIDInput) (*mcp.CallToolResult, any, error) {
	rec, err := s.memories.Read(ctx, in.ID)
	if err != nil {
		return s.fail(toolMemoryRead, err)
	}
	return textResult(rec)
}

func (s *Server) handleMemoryUpdate(ctx context.Context, _ *mcp.CallToolRequest, in MemoryUpdateInput) (*mcp.CallToolResult, any, error) {
	req := memory_service.UpdateRequest{Content: in.Content, Category: in.Category}
	if in.Importance != nil {
		imp := model.Importance(*in.Importance)
		req.Importance = &imp
	}
	rec, err := s.memories.Update(ctx, in.ID, req)
	if err != nil {
		return s.fail(toolMemoryUpdate, err)
	}
	return textResult(rec)
}

func (s *Server) handleMemoryDelete(ctx context.Context, _ *mcp.CallToolRequest, in MemoryIDInput) (*mcp.CallToolResult, any, error) {
	if err := s.memories.Delete(ctx, in.ID); err != nil {
		return s.fail(toolMemoryDelete, err)
	}
	return textResult(map[string]bool{"deleted": true})
}

func (s *Server) handleMemoryStats(ctx context.Context, _ *mcp.CallToolRequest, _ StatsInput) (*mcp.CallToolResult, any, error) {
	summary, err := s.stats.Summary(ctx)
	if err != nil {
		return s.fail(toolMemoryStats, err)
	}
	return textResult(summary)
}

func (s *Server) handleSessionAppend(ctx context.Context, _ *mcp.CallToolRequest, in SessionAppendInput) (*mcp.CallToolResult, any, error) {
	id, err := s.sessions.AppendTurn(ctx, in.SessionID, model.Role(in.Role), in.Text)
	if err != nil {
		return s.fail(toolSessionAppend, err)
	}
	return textResult(map[string]string{"session_id": id})
}

func (s *Server) handleSessionContext(ctx context.Context, _ *mcp.CallToolRequest, in SessionContextInput) (*mcp.CallToolResult, any, error) {
	turns := s.sessions.GetContext(ctx, in.SessionID, in.Limit)
	return textResult(map[string]any{"session_id": in.SessionID, "turns": turns})
}

func (s *Server) handleSessionPromote(ctx context.Context, _ *mcp.CallToolRequest, in SessionPromoteInput) (*mcp.CallToolResult, any, error) {
	rec, err := s.sessions.Promote(ctx, in.SessionID, model.Importance(in.Importance))
	if err != nil {
		return s.fail(toolSessionPromote, err)
	}
	return textResult(map[string]string{"id": rec.ID})
}
