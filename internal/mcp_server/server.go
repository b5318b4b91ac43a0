// Package mcp_server exposes the memory and session operations as MCP
// tools over streamable HTTP.
package mcp_server

import (
	"context"
	"errors"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/lewisedginton/chat_memory/internal/memory_service"
	"github.com/lewisedginton/chat_memory/internal/model"
	"github.com/lewisedginton/chat_memory/internal/stats"
	"github.com/lewisedginton/chat_memory/pkg/logger"
)

type Memories interface {
	Create(ctx context.Context, req memory_service.CreateRequest) (*model.MemoryRecord, error)
	Read(ctx context.Context, id string) (*model.MemoryRecord, error)
	Update(ctx context.Context, id string, req memory_service.UpdateRequest) (*model.MemoryRecord, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter model.Filter) ([]model.MemoryRecord, error)
}

type Sessions interface {
	AppendTurn(ctx context.Context, sessionID string, role model.Role, text string) (string, error)
	GetContext(ctx context.Context, sessionID string, limit int) []model.Turn
	Promote(ctx context.Context, sessionID string, importance model.Importance) (*model.MemoryRecord, error)
}

type Stats interface {
	Summary(ctx context.Context) (*stats.Summary, error)
}

type Config struct {
	Memories Memories
	Sessions Sessions
	Stats    Stats
	Logger   logger.Logger
	// Version is reported in the MCP implementation info.
	Version string
}

type Server struct {
	memories  Memories
	sessions  Sessions
	stats     Stats
	log       logger.Logger
	mcpServer *mcp.Server
	handler   *mcp.StreamableHTTPHandler
}

// New registers every tool and builds a stateless streamable HTTP handler.
func New(c Config) (*Server, error) {
	if c.Memories == nil {
		return nil, errors.New("memories service is required")
	}
	if c.Sessions == nil {
		return nil, errors.New("session manager is required")
	}
	if c.Stats == nil {
		return nil, errors.New("stats aggregator is required")
	}
	if c.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if c.Version == "" {
		c.Version = "dev"
	}

	s := &Server{
		memories: c.Memories,
		sessions: c.Sessions,
		stats:    c.Stats,
		log:      c.Logger.WithFields(logger.ComponentField("mcp")),
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{Name: "chat-memory", Version: c.Version}, &mcp.ServerOptions{})
	s.registerTools(mcpServer)
	s.mcpServer = mcpServer

	s.handler = mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{Stateless: true},
	)
	return s, nil
}

// Handler returns the HTTP handler to mount at /mcp.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// MCPServer returns the underlying server, for in-process transports.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}
