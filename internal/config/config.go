// Package config assembles the memory service configuration from the
// shared pkg/config sections and the service specific ones.
package config

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/lewisedginton/chat_memory/internal/retention"
	"github.com/lewisedginton/chat_memory/pkg/config"
	"github.com/lewisedginton/chat_memory/pkg/logger"
)

// AppConfig holds all application configuration
type AppConfig struct {
	ServiceName string `env:"SERVICE_NAME" yaml:"service_name" default:"chat-memory"`
	Version     string `env:"VERSION" yaml:"version" default:"dev"`

	Logging   config.CommonConfig     `yaml:"logging"`
	HTTP      config.HTTPServerConfig `yaml:"http"`
	Metrics   config.MetricsConfig    `yaml:"metrics"`
	Health    HealthConfig            `yaml:"health"`
	Database  DatabaseConfig          `yaml:"database"`
	Backend   BackendConfig           `yaml:"backend"`
	Memory    MemoryConfig            `yaml:"memory"`
	Session   SessionConfig           `yaml:"session"`
	Optimizer OptimizerConfig         `yaml:"optimizer"`
	Retention retention.Weights       `yaml:"retention"`
	Storage   StorageConfig           `yaml:"storage"`
}

// Load reads path (optional) and the environment into an AppConfig.
func Load(path string) (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := config.GetConfig(cfg, path, false); err != nil {
		return nil, err
	}
	return cfg, nil
}

type validator interface {
	Validate() error
}

// Validate validates every section and returns all problems at once.
func (c AppConfig) Validate() error {
	var result error
	sections := []struct {
		name string
		v    validator
	}{
		{"logging", c.Logging},
		{"http", c.HTTP},
		{"metrics", c.Metrics},
		{"health", c.Health},
		{"database", c.Database},
		{"backend", c.Backend},
		{"memory", c.Memory},
		{"session", c.Session},
		{"optimizer", c.Optimizer},
		{"retention", c.Retention},
		{"storage", c.Storage},
	}
	for _, s := range sections {
		if err := s.v.Validate(); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return result
}

// LogLevel returns the parsed logger level
func (c AppConfig) LogLevel() logger.Level {
	return logger.ParseLevel(strings.ToLower(c.Logging.LogLevel))
}

// NewLogger builds the process logger from the logging section.
func (c AppConfig) NewLogger() logger.Logger {
	return logger.NewLogger(logger.Config{
		Level:   c.LogLevel(),
		Format:  c.Logging.LogFormat,
		Service: c.ServiceName,
	})
}

// LogConfig logs the current configuration without credentials.
func (c AppConfig) LogConfig(log logger.Logger) {
	log.Info("Application configuration loaded",
		logger.StringField("service_name", c.ServiceName),
		logger.StringField("version", c.Version),
		logger.StringField("http_addr", c.HTTP.Addr()),
		logger.BoolField("metrics_enabled", c.Metrics.Enabled),
		logger.BoolField("primary_enabled", c.Database.Enabled),
		logger.StringField("fallback_driver", c.Backend.FallbackDriver),
		logger.DurationField("default_ttl", c.Memory.DefaultTTL),
		logger.IntField("global_budget", c.Memory.GlobalBudget),
		logger.IntField("category_budgets", len(c.Memory.CategoryBudgets)),
		logger.IntField("max_window", c.Session.MaxWindow),
		logger.DurationField("session_idle_ttl", c.Session.IdleTTL),
		logger.BoolField("optimizer_enabled", c.Optimizer.Enabled),
		logger.DurationField("optimization_interval", c.Optimizer.Interval),
		logger.StringField("storage_backend", c.Storage.Backend),
	)
}
