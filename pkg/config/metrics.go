package config

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// MetricsConfig holds metrics collection and exposure settings
type MetricsConfig struct {
	// Enabled starts the Prometheus /metrics listener
	Enabled bool `env:"METRICS_ENABLED" yaml:"enabled" default:"true"`

	// EnableHTTPMetrics adds per-request counters and latency histograms to the API router
	EnableHTTPMetrics bool `env:"METRICS_ENABLE_HTTP" yaml:"enable_http_metrics" default:"true"`

	Port int `env:"METRICS_PORT" yaml:"port" default:"9090"`
}

// Validate checks MetricsConfig for valid port range when metrics are exposed
func (m MetricsConfig) Validate() error {
	var result error
	if m.Enabled && (m.Port < 1 || m.Port > 65535) {
		result = multierror.Append(result, fmt.Errorf("metrics port must be between 1-65535, got %d", m.Port))
	}
	return result
}
