// Package model holds the records the memory subsystem stores and passes around.
package model

import (
	"regexp"
	"strings"
	"time"
)

// Category groups memory records. The set is open: any value matching
// the category pattern is accepted, the constants below are the defaults.
type Category string

const (
	CategoryGeneral             Category = "general"
	CategoryUserPreferences     Category = "user_preferences"
	CategoryProjectInfo         Category = "project_info"
	CategoryCodingStyle         Category = "coding_style"
	CategorySystemConfig        Category = "system_config"
	CategoryPersonal            Category = "personal"
	CategoryConversationSummary Category = "conversation_summary"
)

// DefaultCategories lists the documented built-in categories.
var DefaultCategories = []Category{
	CategoryGeneral,
	CategoryUserPreferences,
	CategoryProjectInfo,
	CategoryCodingStyle,
	CategorySystemConfig,
	CategoryPersonal,
	CategoryConversationSummary,
}

var categoryPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// Valid reports whether c is a well formed category name.
func (c Category) Valid() bool {
	return categoryPattern.MatchString(string(c))
}

// NormalizeCategory trims raw and maps the empty string to CategoryGeneral.
func NormalizeCategory(raw string) Category {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return CategoryGeneral
	}
	return Category(raw)
}

// Importance is a caller assigned retention priority.
type Importance int

const (
	ImportanceLow    Importance = 1
	ImportanceMedium Importance = 2
	ImportanceHigh   Importance = 3
)

func (i Importance) Valid() bool {
	return i >= ImportanceLow && i <= ImportanceHigh
}

// MaxMemoryKeyLength bounds MemoryRecord.MemoryKey in bytes.
const MaxMemoryKeyLength = 255

// MemoryRecord is a single durable fact.
type MemoryRecord struct {
	ID             string     `json:"id"`
	MemoryKey      string     `json:"memory_key"`
	Content        string     `json:"content"`
	Category       Category   `json:"category"`
	Importance     Importance `json:"importance"`
	UserDefined    bool       `json:"user_defined"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastAccessedAt time.Time  `json:"last_accessed_at"`
	AccessCount    int64      `json:"access_count"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the record's hard TTL has passed at now.
func (r *MemoryRecord) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// Patch is a partial update. Nil fields are left unchanged.
// AccessedAt records one read: access_count is incremented and
// last_accessed_at set in the same statement.
type Patch struct {
	Content    *string
	Category   *Category
	Importance *Importance
	UpdatedAt  *time.Time
	AccessedAt *time.Time
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Content == nil && p.Category == nil && p.Importance == nil && p.UpdatedAt == nil && p.AccessedAt == nil
}

// Filter selects records for List and Count. Results are ordered by ID.
type Filter struct {
	Category    *Category
	UserDefined *bool

	// AfterID and Limit page through List; Count ignores them.
	AfterID string
	Limit   int
}

// Matches reports whether r passes the category and user_defined predicates.
func (f Filter) Matches(r *MemoryRecord) bool {
	if f.Category != nil && r.Category != *f.Category {
		return false
	}
	if f.UserDefined != nil && r.UserDefined != *f.UserDefined {
		return false
	}
	return true
}

// Timestamp normalizes t to the precision both backends round-trip.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
