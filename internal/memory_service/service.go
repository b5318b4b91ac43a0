package memory_service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/lewisedginton/chat_memory/internal/backend"
	"github.com/lewisedginton/chat_memory/internal/model"
	"github.com/lewisedginton/chat_memory/pkg/logger"
)

const defaultPageSize = 200

// Service creates, reads, updates, deletes and searches memory records.
// Every call goes through the backend Store; per-record atomicity comes
// from the store's single statement updates.
type Service struct {
	store      backend.Store
	log        logger.Logger
	defaultTTL time.Duration
	pageSize   int
	now        func() time.Time
}

// Config holds configuration for the memory service.
type Config struct {
	Store  backend.Store
	Logger logger.Logger
	// DefaultTTL applies to records created without an explicit expiry. Zero disables it.
	DefaultTTL time.Duration
	// PageSize bounds each List call made by Search.
	PageSize int
	Clock    func() time.Time
}

// New creates a new memory service with the given configuration.
func New(cfg Config) *Service {
	if cfg.Store == nil {
		panic("store cannot be nil")
	}
	if cfg.Logger == nil {
		panic("logger cannot be nil")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Service{
		store:      cfg.Store,
		log:        cfg.Logger.WithFields(logger.ComponentField("memory_service")),
		defaultTTL: cfg.DefaultTTL,
		pageSize:   cfg.PageSize,
		now:        cfg.Clock,
	}
}

func (s *Service) timestamp() time.Time {
	return model.Timestamp(s.now())
}

// Create validates req and always inserts a new record; duplicate keys are allowed.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*model.MemoryRecord, error) {
	category, err := req.validate()
	if err != nil {
		return nil, err
	}

	now := s.timestamp()
	rec := &model.MemoryRecord{
		MemoryKey:      strings.TrimSpace(req.MemoryKey),
		Content:        req.Content,
		Category:       category,
		Importance:     req.Importance,
		UserDefined:    req.UserDefined,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastAccessedAt: now,
	}
	switch {
	case req.ExpiresAt != nil:
		exp := model.Timestamp(*req.ExpiresAt)
		rec.ExpiresAt = &exp
	case req.TTL > 0:
		exp := now.Add(req.TTL)
		rec.ExpiresAt = &exp
	case s.defaultTTL > 0:
		exp := now.Add(s.defaultTTL)
		rec.ExpiresAt = &exp
	}

	id, err := s.store.Put(ctx, rec)
	if err != nil {
		s.log.Error("failed to create memory", logger.ErrorField(err), logger.StringField("memory_key", rec.MemoryKey))
		return nil, fmt.Errorf("create memory: %w", err)
	}
	rec.ID = id

	s.log.Debug("Created memory",
		logger.RecordIDField(id),
		logger.CategoryField(string(category)),
		logger.IntField("importance", int(rec.Importance)),
		logger.BoolField("user_defined", rec.UserDefined))
	return rec, nil
}

// Read returns the record and counts the access. The increment and the
// returned values come from one store update.
func (s *Service) Read(ctx context.Context, id string) (*model.MemoryRecord, error) {
	now := s.timestamp()
	rec, err := s.store.Update(ctx, id, model.Patch{AccessedAt: &now})
	if err != nil {
		return nil, fmt.Errorf("read memory %s: %w", id, err)
	}
	return rec, nil
}

// Update changes content, category or importance. Key, creation time and
// the user_defined flag cannot be changed.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*model.MemoryRecord, error) {
	patch, err := req.toPatch()
	if err != nil {
		return nil, err
	}
	now := s.timestamp()
	patch.UpdatedAt = &now

	rec, err := s.store.Update(ctx, id, patch)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			s.log.Error("failed to update memory", logger.ErrorField(err), logger.RecordIDField(id))
		}
		return nil, fmt.Errorf("update memory %s: %w", id, err)
	}
	return rec, nil
}

// Delete removes the record. Deleting an unknown id succeeds.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.store.Delete(ctx, id)
	if err == nil || errors.Is(err, model.ErrNotFound) {
		return nil
	}
	s.log.Error("failed to delete memory", logger.ErrorField(err), logger.RecordIDField(id))
	return fmt.Errorf("delete memory %s: %w", id, err)
}

// List returns every matching record in id order without counting accesses.
func (s *Service) List(ctx context.Context, filter model.Filter) ([]model.MemoryRecord, error) {
	filter.AfterID, filter.Limit = "", 0
	records, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	return records, nil
}

// Search lazily yields matching records page by page. Each call starts a
// fresh pass, so a sequence can be ranged over more than once. Iteration
// stops at the first error, which is yielded with a zero record.
func (s *Service) Search(ctx context.Context, filter model.Filter) iter.Seq2[model.MemoryRecord, error] {
	filter.Limit = s.pageSize
	return func(yield func(model.MemoryRecord, error) bool) {
		f := filter
		f.AfterID = ""
		for {
			page, err := s.store.List(ctx, f)
			if err != nil {
				yield(model.MemoryRecord{}, fmt.Errorf("search memories: %w", err))
				return
			}
			for _, rec := range page {
				if !yield(rec, nil) {
					return
				}
			}
			if len(page) < f.Limit {
				return
			}
			f.AfterID = page[len(page)-1].ID
		}
	}
}
