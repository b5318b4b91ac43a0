// Package stats summarizes the current memory population.
package stats

import (
	"context"
	"fmt"

	"github.com/lewisedginton/chat_memory/internal/backend"
	"github.com/lewisedginton/chat_memory/internal/model"
	"github.com/lewisedginton/chat_memory/pkg/metrics"
)

// ModeReporter is satisfied by *backend.Adapter.
type ModeReporter interface {
	Mode() backend.Mode
}

// Summary is derived from a single List call, so its counts agree with each other.
type Summary struct {
	Total          int            `json:"total"`
	UserDefined    int            `json:"user_defined"`
	HighImportance int            `json:"high_importance"`
	Categories     int            `json:"categories"`
	PerCategory    map[string]int `json:"per_category"`
	Backend        string         `json:"backend"`
	Mode           backend.Mode   `json:"mode,omitempty"`
}

type Aggregator struct {
	store   backend.Store
	mode    ModeReporter
	metrics *metrics.Metrics
}

// New returns an Aggregator over store. mode and m may be nil.
func New(store backend.Store, mode ModeReporter, m *metrics.Metrics) *Aggregator {
	return &Aggregator{store: store, mode: mode, metrics: m}
}

func (a *Aggregator) Summary(ctx context.Context) (*Summary, error) {
	records, err := a.store.List(ctx, model.Filter{})
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}

	s := &Summary{
		Total:       len(records),
		PerCategory: make(map[string]int),
		Backend:     a.store.Name(),
	}
	for i := range records {
		if records[i].UserDefined {
			s.UserDefined++
		}
		if records[i].Importance == model.ImportanceHigh {
			s.HighImportance++
		}
		s.PerCategory[string(records[i].Category)]++
	}
	s.Categories = len(s.PerCategory)
	if a.mode != nil {
		s.Mode = a.mode.Mode()
	}

	a.metrics.SetRecords(s.Total, s.UserDefined, s.HighImportance)
	return s, nil
}
