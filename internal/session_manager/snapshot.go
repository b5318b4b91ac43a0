package session_manager

import (
	"context"

	"github.com/hashicorp/go-multierror"

	"github.com/lewisedginton/chat_memory/internal/model"
	"github.com/lewisedginton/chat_memory/pkg/logger"
)

// restore loads and consumes the snapshot for id. Any failure is logged
// and treated as a miss.
func (m *Manager) restore(ctx context.Context, id string) *session {
	if m.snapshots == nil {
		return nil
	}
	key := snapshotKey(id)

	var snap snapshot
	ok, err := m.snapshots.GetJSON(ctx, key, &snap)
	if err != nil {
		m.log.Warn("Failed to read session snapshot", logger.SessionIDField(id), logger.ErrorField(err))
		return nil
	}
	if !ok {
		return nil
	}
	if err := m.snapshots.Delete(ctx, key); err != nil {
		m.log.Warn("Failed to remove session snapshot", logger.SessionIDField(id), logger.ErrorField(err))
	}

	s := &session{id: id, state: StateActive, turns: snap.Turns, lastActive: snap.LastActive}
	if s.idle(m.now(), m.idleTTL) {
		return nil
	}
	if excess := len(s.turns) - m.maxWindow; excess > 0 {
		s.turns = append([]model.Turn(nil), s.turns[excess:]...)
	}
	m.log.Info("Restored session from snapshot", logger.SessionIDField(id), logger.IntField("turns", len(s.turns)))
	return s
}

// Flush writes every active session to the snapshot store with a TTL of
// its remaining idle time. It returns the number written; failures are
// collected but do not stop the flush.
func (m *Manager) Flush(ctx context.Context) (int, error) {
	if m.snapshots == nil {
		return 0, ErrNoSnapshots
	}

	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var result error
	written := 0
	now := m.now()
	for _, s := range sessions {
		s.mu.Lock()
		if s.purged || s.state == StateExpired || len(s.turns) == 0 || s.idle(now, m.idleTTL) {
			s.mu.Unlock()
			continue
		}
		snap := snapshot{ID: s.id, Turns: append([]model.Turn(nil), s.turns...), LastActive: s.lastActive}
		remaining := m.idleTTL - now.Sub(s.lastActive)
		s.mu.Unlock()

		if err := m.snapshots.PutJSON(ctx, snapshotKey(snap.ID), snap, remaining); err != nil {
			m.log.Warn("Failed to write session snapshot", logger.SessionIDField(snap.ID), logger.ErrorField(err))
			result = multierror.Append(result, err)
			continue
		}
		written++
	}

	m.log.Info("Flushed session snapshots", logger.IntField("count", written))
	return written, result
}
