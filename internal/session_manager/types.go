package session_manager //nolint:revive // var-naming: using underscores for domain clarity

import (
	"context"
	"sync"
	"time"

	"github.com/lewisedginton/chat_memory/internal/memory_service"
	"github.com/lewisedginton/chat_memory/internal/model"
	"github.com/lewisedginton/chat_memory/pkg/logger"
)

const (
	DefaultMaxWindow = 50
	DefaultIdleTTL   = 30 * time.Minute

	// MaxSessionIDLength bounds caller supplied session ids.
	MaxSessionIDLength = 200

	snapshotPrefix = "session:"
)

// MemoryCreator is the part of the memory service Promote needs.
type MemoryCreator interface {
	Create(ctx context.Context, req memory_service.CreateRequest) (*model.MemoryRecord, error)
}

// SnapshotStore keeps session windows across restarts. The state cache implements it.
type SnapshotStore interface {
	PutJSON(ctx context.Context, key string, v any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Config holds configuration for the session manager
type Config struct {
	MaxWindow int
	IdleTTL   time.Duration
	Memory    MemoryCreator
	Snapshots SnapshotStore // optional
	Logger    logger.Logger
	Clock     func() time.Time
}

// State is the lifecycle state of a session.
type State int

const (
	StateActive State = iota
	StateExpired
)

func (s State) String() string {
	if s == StateExpired {
		return "expired"
	}
	return "active"
}

// session is guarded by mu. purged is set once the session has been
// removed from the manager map; holders must look it up again.
type session struct {
	mu         sync.Mutex
	id         string
	state      State
	turns      []model.Turn
	lastActive time.Time
	purged     bool
}

func (s *session) idle(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.lastActive) >= ttl
}

func (s *session) expire() {
	s.state = StateExpired
	s.turns = nil
}

// activate moves an expired session back to active with an empty window.
func (s *session) activate(now time.Time) {
	if s.state == StateExpired {
		s.state = StateActive
		s.turns = nil
	}
	s.lastActive = now
}

// snapshot is the JSON form written to the SnapshotStore.
type snapshot struct {
	ID         string       `json:"session_id"`
	Turns      []model.Turn `json:"turns"`
	LastActive time.Time    `json:"last_active"`
}

func snapshotKey(id string) string {
	return snapshotPrefix + id
}
