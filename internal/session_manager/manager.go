// Package session_manager tracks bounded, in-memory conversation windows.
package session_manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lewisedginton/chat_memory/internal/memory_service"
	"github.com/lewisedginton/chat_memory/internal/model"
	"github.com/lewisedginton/chat_memory/pkg/logger"
	"github.com/lewisedginton/chat_memory/pkg/prefixed_uuid"
)

// Manager owns every live session. Each session has its own lock; the
// map has another. A goroutine holding a session lock may take the map
// lock, never the other way round.
type Manager struct {
	maxWindow int
	idleTTL   time.Duration
	memory    MemoryCreator
	snapshots SnapshotStore
	log       logger.Logger
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// New creates a new session manager instance
func New(config Config) (*Manager, error) {
	if config.Memory == nil {
		return nil, fmt.Errorf("memory creator is required")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if config.MaxWindow < 0 || config.IdleTTL < 0 {
		return nil, fmt.Errorf("max window and idle ttl must not be negative")
	}
	if config.MaxWindow == 0 {
		config.MaxWindow = DefaultMaxWindow
	}
	if config.IdleTTL == 0 {
		config.IdleTTL = DefaultIdleTTL
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	return &Manager{
		maxWindow: config.MaxWindow,
		idleTTL:   config.IdleTTL,
		memory:    config.Memory,
		snapshots: config.Snapshots,
		log:       config.Logger.WithFields(logger.ComponentField("session_manager")),
		now:       config.Clock,
		sessions:  make(map[string]*session),
	}, nil
}

func validateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return model.NewValidationError("session_id", "must not be empty")
	}
	if len(id) > MaxSessionIDLength {
		return model.NewValidationError("session_id", "must be at most %d bytes", MaxSessionIDLength)
	}
	return nil
}

// lookup returns the session for id, restoring it from a snapshot when it
// is not in memory. With create set a missing session is created.
// The returned session is not locked.
func (m *Manager) lookup(ctx context.Context, id string, create bool) *session {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		return s
	}

	restored := m.restore(ctx, id)
	if restored == nil && !create {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s
	}
	if restored == nil {
		restored = &session{id: id, state: StateActive, lastActive: m.now()}
		m.log.Info("Created session", logger.SessionIDField(id))
	}
	m.sessions[id] = restored
	return restored
}

// AppendTurn adds a turn to the session window and returns the session id.
// An empty id starts a new session with a generated id.
func (m *Manager) AppendTurn(ctx context.Context, sessionID string, role model.Role, text string) (string, error) {
	if !role.Valid() {
		return "", model.NewValidationError("role", "unknown role %q", role)
	}
	if strings.TrimSpace(text) == "" {
		return "", model.NewValidationError("text", "must not be empty")
	}
	if sessionID == "" {
		sessionID = prefixed_uuid.New("session").String()
	}
	if err := validateID(sessionID); err != nil {
		return "", err
	}

	for {
		s := m.lookup(ctx, sessionID, true)
		s.mu.Lock()
		if s.purged {
			s.mu.Unlock()
			continue
		}

		now := m.now()
		if s.state == StateActive && s.idle(now, m.idleTTL) {
			s.expire()
		}
		s.activate(now)
		s.turns = append(s.turns, model.Turn{Role: role, Text: text, Timestamp: model.Timestamp(now)})
		if excess := len(s.turns) - m.maxWindow; excess > 0 {
			n := copy(s.turns, s.turns[excess:])
			s.turns = s.turns[:n]
		}
		s.mu.Unlock()
		return sessionID, nil
	}
}

// GetContext returns up to limit of the most recent turns, oldest first.
// A limit of zero or less returns the whole window. Unknown and expired
// sessions have an empty window.
func (m *Manager) GetContext(ctx context.Context, sessionID string, limit int) []model.Turn {
	if validateID(sessionID) != nil {
		return []model.Turn{}
	}
	s := m.lookup(ctx, sessionID, false)
	if s == nil {
		return []model.Turn{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.purged || s.state == StateExpired || s.idle(m.now(), m.idleTTL) {
		return []model.Turn{}
	}
	turns := s.turns
	if limit > 0 && limit < len(turns) {
		turns = turns[len(turns)-limit:]
	}
	out := make([]model.Turn, len(turns))
	copy(out, turns)
	return out
}

// Promote stores the current window as a conversation_summary memory.
// The session itself is left unchanged.
func (m *Manager) Promote(ctx context.Context, sessionID string, importance model.Importance) (*model.MemoryRecord, error) {
	if err := validateID(sessionID); err != nil {
		return nil, err
	}
	turns := m.GetContext(ctx, sessionID, 0)
	if len(turns) == 0 {
		return nil, model.NewValidationError("session_id", "session %s has no turns to promote", sessionID)
	}

	var b strings.Builder
	for _, turn := range turns {
		b.WriteString(string(turn.Role))
		b.WriteString(": ")
		b.WriteString(turn.Text)
		b.WriteByte('\n')
	}

	rec, err := m.memory.Create(ctx, memory_service.CreateRequest{
		MemoryKey:   snapshotKey(sessionID),
		Content:     strings.TrimSuffix(b.String(), "\n"),
		Category:    string(model.CategoryConversationSummary),
		Importance:  importance,
		UserDefined: false,
	})
	if err != nil {
		return nil, fmt.Errorf("promote session %s: %w", sessionID, err)
	}

	m.log.Info("Promoted session to memory",
		logger.SessionIDField(sessionID),
		logger.RecordIDField(rec.ID),
		logger.IntField("turns", len(turns)))
	return rec, nil
}

// PurgeIdle expires every session idle at now, removes it, and returns
// how many were removed.
func (m *Manager) PurgeIdle(now time.Time) int {
	m.mu.Lock()
	candidates := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		candidates = append(candidates, s)
	}
	m.mu.Unlock()

	purged := 0
	for _, s := range candidates {
		s.mu.Lock()
		if !s.purged && (s.state == StateExpired || s.idle(now, m.idleTTL)) {
			s.expire()
			s.purged = true
			m.mu.Lock()
			if m.sessions[s.id] == s {
				delete(m.sessions, s.id)
			}
			m.mu.Unlock()
			purged++
		}
		s.mu.Unlock()
	}
	return purged
}

// Len reports the number of sessions held in memory.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Run purges idle sessions every half idle TTL until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.idleTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := m.PurgeIdle(m.now()); n > 0 {
				m.log.Info("Purged idle sessions", logger.IntField("count", n))
			}
		}
	}
}

// ErrNoSnapshots is returned by Flush when the manager has no SnapshotStore.
var ErrNoSnapshots = errors.New("no snapshot store configured")
