// Package checkers holds health checks for the service's dependencies.
package checkers

import (
	"context"
	"fmt"

	"github.com/lewisedginton/chat_memory/pkg/health"
)

// Store is the part of a backend the check needs.
type Store interface {
	Ping(ctx context.Context) error
	Name() string
}

// Degradable is implemented by stores that can run on a fallback.
type Degradable interface {
	Degraded() bool
}

// BackendChecker pings the active store and reports degraded while a
// Degradable store is serving from its fallback.
type BackendChecker struct {
	store Store
}

func NewBackendChecker(store Store) *BackendChecker {
	return &BackendChecker{store: store}
}

func (c *BackendChecker) Name() string {
	return "backend"
}

func (c *BackendChecker) Check(ctx context.Context) error {
	if err := c.store.Ping(ctx); err != nil {
		return fmt.Errorf("%s ping: %w", c.store.Name(), err)
	}
	if d, ok := c.store.(Degradable); ok && d.Degraded() {
		return fmt.Errorf("serving from fallback store %s: %w", c.store.Name(), health.ErrDegraded)
	}
	return nil
}
