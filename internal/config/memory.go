package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/lewisedginton/chat_memory/internal/model"
)

// MemoryConfig holds record defaults and retention budgets.
type MemoryConfig struct {
	// DefaultTTL applies to records created without a TTL. Zero keeps them until evicted.
	DefaultTTL time.Duration `env:"MEMORY_DEFAULT_TTL" yaml:"default_ttl"`
	// CategoryBudgets caps records per category, for example "personal=100,general=500".
	CategoryBudgets map[string]int `env:"MEMORY_CATEGORY_BUDGETS" yaml:"category_budget"`
	// GlobalBudget caps the total record count. Zero disables it.
	GlobalBudget int `env:"MEMORY_GLOBAL_BUDGET" yaml:"global_budget" default:"10000"`
	PageSize     int `env:"MEMORY_PAGE_SIZE" yaml:"page_size" default:"200"`
}

func (m MemoryConfig) Validate() error {
	var result error
	if m.DefaultTTL < 0 {
		result = multierror.Append(result, fmt.Errorf("default_ttl must not be negative"))
	}
	if m.GlobalBudget < 0 {
		result = multierror.Append(result, fmt.Errorf("global_budget must not be negative"))
	}
	if m.PageSize < 1 {
		result = multierror.Append(result, fmt.Errorf("page_size must be positive"))
	}
	categories := make([]string, 0, len(m.CategoryBudgets))
	for c := range m.CategoryBudgets {
		categories = append(categories, c)
	}
	sort.Strings(categories)
	for _, c := range categories {
		if !model.Category(c).Valid() {
			result = multierror.Append(result, fmt.Errorf("category_budget: %q is not a valid category", c))
		}
		if m.CategoryBudgets[c] < 0 {
			result = multierror.Append(result, fmt.Errorf("category_budget[%s] must not be negative", c))
		}
	}
	return result
}

// SessionConfig controls conversation windows.
type SessionConfig struct {
	MaxWindow int           `env:"SESSION_MAX_WINDOW" yaml:"max_window" default:"50"`
	IdleTTL   time.Duration `env:"SESSION_IDLE_TTL" yaml:"idle_ttl" default:"30m"`
	// Snapshots keeps live windows in the state cache across restarts.
	Snapshots bool `env:"SESSION_SNAPSHOTS" yaml:"snapshots" default:"true"`
}

func (s SessionConfig) Validate() error {
	var result error
	if s.MaxWindow < 1 {
		result = multierror.Append(result, fmt.Errorf("max_window must be positive, got %d", s.MaxWindow))
	}
	if s.IdleTTL <= 0 {
		result = multierror.Append(result, fmt.Errorf("idle_ttl must be positive"))
	}
	return result
}

type OptimizerConfig struct {
	Enabled  bool          `env:"OPTIMIZER_ENABLED" yaml:"enabled" default:"true"`
	Interval time.Duration `env:"OPTIMIZATION_INTERVAL" yaml:"optimization_interval" default:"1h"`
}

func (o OptimizerConfig) Validate() error {
	if o.Enabled && o.Interval <= 0 {
		return fmt.Errorf("optimization_interval must be positive")
	}
	return nil
}

// HealthConfig holds health check configuration
type HealthConfig struct {
	Timeout          time.Duration `env:"HEALTH_TIMEOUT" yaml:"timeout" default:"5s"`
	FailureThreshold int           `env:"HEALTH_FAILURE_THRESHOLD" yaml:"failure_threshold" default:"3"`
}

func (h HealthConfig) Validate() error {
	var result error
	if h.Timeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("timeout must be positive"))
	}
	if h.FailureThreshold < 1 {
		result = multierror.Append(result, fmt.Errorf("failure_threshold must be at least 1"))
	}
	return result
}
