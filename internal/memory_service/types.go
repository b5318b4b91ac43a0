// Package memory_service owns the lifecycle of memory records.
package memory_service

import (
	"strings"
	"time"

	"github.com/lewisedginton/chat_memory/internal/model"
)

// CreateRequest describes a new memory record.
type CreateRequest struct {
	MemoryKey   string           `json:"memory_key"`
	Content     string           `json:"content"`
	Category    string           `json:"category"`
	Importance  model.Importance `json:"importance"`
	UserDefined bool             `json:"user_defined"`

	// At most one of TTL and ExpiresAt should be set. When neither is,
	// the service default TTL applies.
	TTL       time.Duration `json:"-"`
	ExpiresAt *time.Time    `json:"expires_at,omitempty"`
}

// UpdateRequest changes the mutable fields of a record. Nil fields are kept.
type UpdateRequest struct {
	Content    *string           `json:"content,omitempty"`
	Category   *string           `json:"category,omitempty"`
	Importance *model.Importance `json:"importance,omitempty"`
}

func validateImportance(i model.Importance) error {
	if !i.Valid() {
		return model.NewValidationError("importance", "must be 1, 2 or 3, got %d", i)
	}
	return nil
}

func validateCategory(raw string) (model.Category, error) {
	c := model.NormalizeCategory(raw)
	if !c.Valid() {
		return "", model.NewValidationError("category", "%q must match [a-z][a-z0-9_]* and be at most 64 characters", raw)
	}
	return c, nil
}

func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return model.NewValidationError("content", "must not be empty")
	}
	return nil
}

func (r CreateRequest) validate() (model.Category, error) {
	key := strings.TrimSpace(r.MemoryKey)
	if key == "" {
		return "", model.NewValidationError("memory_key", "must not be empty")
	}
	if len(key) > model.MaxMemoryKeyLength {
		return "", model.NewValidationError("memory_key", "must be at most %d bytes", model.MaxMemoryKeyLength)
	}
	if err := validateContent(r.Content); err != nil {
		return "", err
	}
	if err := validateImportance(r.Importance); err != nil {
		return "", err
	}
	if r.TTL < 0 {
		return "", model.NewValidationError("ttl", "must not be negative")
	}
	return validateCategory(r.Category)
}

func (r UpdateRequest) toPatch() (model.Patch, error) {
	var patch model.Patch
	if r.Content == nil && r.Category == nil && r.Importance == nil {
		return patch, model.NewValidationError("patch", "at least one of content, category or importance is required")
	}
	if r.Content != nil {
		if err := validateContent(*r.Content); err != nil {
			return patch, err
		}
		patch.Content = r.Content
	}
	if r.Category != nil {
		c, err := validateCategory(*r.Category)
		if err != nil {
			return patch, err
		}
		patch.Category = &c
	}
	if r.Importance != nil {
		if err := validateImportance(*r.Importance); err != nil {
			return patch, err
		}
		patch.Importance = r.Importance
	}
	return patch, nil
}
