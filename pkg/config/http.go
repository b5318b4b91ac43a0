package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// HTTPServerConfig holds HTTP server settings
type HTTPServerConfig struct {
	Host string `env:"HTTP_HOST" yaml:"host" default:"0.0.0.0"`
	Port int    `env:"HTTP_PORT" yaml:"port" default:"8080"`

	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" yaml:"read_timeout" default:"15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" yaml:"write_timeout" default:"30s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" yaml:"idle_timeout" default:"60s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" yaml:"shutdown_timeout" default:"10s"`

	// MaxHeaderBytes controls the maximum number of bytes the server will read parsing request headers
	MaxHeaderBytes int `env:"HTTP_MAX_HEADER_BYTES" yaml:"max_header_bytes" default:"1048576"`
}

// Validate checks HTTPServerConfig for valid port range
func (h HTTPServerConfig) Validate() error {
	var result error
	if h.Port < 1 || h.Port > 65535 {
		result = multierror.Append(result, fmt.Errorf("http port must be between 1-65535, got %d", h.Port))
	}
	if h.ShutdownTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("http shutdown_timeout must be positive"))
	}
	return result
}

// Addr returns the listen address in host:port form.
func (h HTTPServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}
