package inmemory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lewisedginton/chat_memory/internal/backend"
	"github.com/lewisedginton/chat_memory/internal/backend/storetest"
	"github.com/lewisedginton/chat_memory/internal/model"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) backend.Store { return New() })
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	s := New()
	_ = s.Close()
	_, err := s.List(context.Background(), model.Filter{})
	assert.ErrorIs(t, err, model.ErrBackendUnavailable)
}
