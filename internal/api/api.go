// Package api exposes the memory operations over HTTP under /v1.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lewisedginton/chat_memory/internal/memory_service"
	"github.com/lewisedginton/chat_memory/internal/model"
	"github.com/lewisedginton/chat_memory/internal/optimizer"
	"github.com/lewisedginton/chat_memory/internal/stats"
	"github.com/lewisedginton/chat_memory/pkg/logger"
)

// Memories is the record surface, satisfied by *memory_service.Service.
type Memories interface {
	Create(ctx context.Context, req memory_service.CreateRequest) (*model.MemoryRecord, error)
	Read(ctx context.Context, id string) (*model.MemoryRecord, error)
	Update(ctx context.Context, id string, req memory_service.UpdateRequest) (*model.MemoryRecord, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter model.Filter) ([]model.MemoryRecord, error)
}

// Sessions is satisfied by *session_manager.Manager.
type Sessions interface {
	AppendTurn(ctx context.Context, sessionID string, role model.Role, text string) (string, error)
	GetContext(ctx context.Context, sessionID string, limit int) []model.Turn
	Promote(ctx context.Context, sessionID string, importance model.Importance) (*model.MemoryRecord, error)
}

type Stats interface {
	Summary(ctx context.Context) (*stats.Summary, error)
}

// Optimizer is satisfied by *optimizer.Engine.
type Optimizer interface {
	Trigger()
	RunCycle(ctx context.Context) (*optimizer.Report, error)
	LastReport(ctx context.Context) (*optimizer.Report, error)
}

type Exporter interface {
	Export(ctx context.Context) (string, int, error)
}

// Config wires the handlers. Optimizer and Exporter are optional; their
// admin routes are not mounted when nil.
type Config struct {
	Memories  Memories
	Sessions  Sessions
	Stats     Stats
	Optimizer Optimizer
	Exporter  Exporter
	Logger    logger.Logger
}

type Handler struct {
	memories  Memories
	sessions  Sessions
	stats     Stats
	optimizer Optimizer
	exporter  Exporter
	log       logger.Logger
}

func New(cfg Config) (*Handler, error) {
	if cfg.Memories == nil {
		return nil, errors.New("api: Memories is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("api: Sessions is required")
	}
	if cfg.Stats == nil {
		return nil, errors.New("api: Stats is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("api: Logger is required")
	}
	return &Handler{
		memories:  cfg.Memories,
		sessions:  cfg.Sessions,
		stats:     cfg.Stats,
		optimizer: cfg.Optimizer,
		exporter:  cfg.Exporter,
		log:       cfg.Logger,
	}, nil
}

// Routes returns the /v1 sub-router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Route("/memories", func(r chi.Router) {
		r.Post("/", h.createMemory)
		r.Get("/", h.listMemories)
		r.Get("/stats", h.memoryStats)
		r.Get("/{id}", h.readMemory)
		r.Patch("/{id}", h.updateMemory)
		r.Delete("/{id}", h.deleteMemory)
	})

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.appendTurn)
		r.Post("/{id}/turns", h.appendTurn)
		r.Get("/{id}/context", h.sessionContext)
		r.Post("/{id}/promote", h.promoteSession)
	})

	r.Route("/admin", func(r chi.Router) {
		if h.optimizer != nil {
			r.Post("/optimize", h.optimize)
			r.Get("/optimizer", h.lastReport)
		}
		if h.exporter != nil {
			r.Post("/export", h.export)
		}
	})

	return r
}
