package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/lewisedginton/chat_memory/pkg/config"
)

const (
	FallbackSQLite = "sqlite"
	FallbackMemory = "memory"
)

// DatabaseConfig is the primary PostgreSQL store. With Enabled false the
// service starts directly on the fallback.
type DatabaseConfig struct {
	Enabled               bool `env:"PRIMARY_ENABLED" yaml:"enabled" default:"true"`
	config.DatabaseConfig `yaml:",inline"`
}

func (d DatabaseConfig) Validate() error {
	if !d.Enabled {
		return nil
	}
	return d.DatabaseConfig.Validate()
}

// BackendConfig controls failover and the fallback store.
type BackendConfig struct {
	ConnectTimeout    time.Duration `env:"BACKEND_CONNECT_TIMEOUT" yaml:"connect_timeout" default:"5s"`
	OperationTimeout  time.Duration `env:"BACKEND_OPERATION_TIMEOUT" yaml:"operation_timeout" default:"10s"`
	FallbackDriver    string        `env:"FALLBACK_DRIVER" yaml:"fallback_driver" default:"sqlite"`
	SQLitePath        string        `env:"FALLBACK_SQLITE_PATH" yaml:"sqlite_path" default:"./data/memory.db"`
	SQLiteBusyTimeout time.Duration `env:"FALLBACK_SQLITE_BUSY_TIMEOUT" yaml:"sqlite_busy_timeout" default:"5s"`
}

func (b BackendConfig) Validate() error {
	var result error
	if b.ConnectTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("connect_timeout must be positive"))
	}
	if b.OperationTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("operation_timeout must be positive"))
	}
	switch b.FallbackDriver {
	case FallbackSQLite:
		if b.SQLitePath == "" {
			result = multierror.Append(result, fmt.Errorf("sqlite_path is required for the sqlite fallback"))
		}
	case FallbackMemory:
	default:
		result = multierror.Append(result, fmt.Errorf("fallback_driver must be sqlite or memory, got %q", b.FallbackDriver))
	}
	return result
}
