// Package health runs liveness and readiness checks and serves them over HTTP.
package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lewisedginton/chat_memory/pkg/logger"
)

// ErrDegraded is returned by a check that still works but in a reduced
// mode, such as a store running on its fallback. It never fails a probe.
var ErrDegraded = errors.New("degraded")

// Check represents a single health check that can succeed or fail.
type Check interface {
	Name() string
	// Check returns nil if healthy, an error wrapping ErrDegraded if
	// degraded, any other error if unhealthy.
	Check(ctx context.Context) error
}

// CheckFunc is a function adapter that allows simple functions to be used as checks.
type CheckFunc struct {
	name string
	fn   func(context.Context) error
}

// NewCheckFunc creates a new CheckFunc with the given name and function.
func NewCheckFunc(name string, fn func(context.Context) error) *CheckFunc {
	return &CheckFunc{
		name: name,
		fn:   fn,
	}
}

// Name returns the name of this check.
func (c *CheckFunc) Name() string {
	return c.name
}

// Check executes the check function.
func (c *CheckFunc) Check(ctx context.Context) error {
	return c.fn(ctx)
}

// CheckResult represents the result of a single health check execution.
type CheckResult struct {
	Name     string
	Healthy  bool
	Degraded bool
	Error    string
	Latency  time.Duration
}

// HealthStatus is healthy unless a check failed past its threshold.
// Degraded is set when any check reported ErrDegraded.
type HealthStatus struct {
	Healthy  bool
	Degraded bool
	Checks   []CheckResult
}

// HealthChecker manages and executes health checks for liveness and readiness probes.
type HealthChecker struct {
	livenessChecks   []Check
	readinessChecks  []Check
	timeout          time.Duration
	failureCount     map[string]int // consecutive failures per check
	failureThreshold int
	logger           logger.Logger
	mu               sync.RWMutex
}

// Option is a functional option for configuring HealthChecker.
type Option func(*HealthChecker)

// WithTimeout sets the timeout for individual health checks.
// Default is 5 seconds.
func WithTimeout(d time.Duration) Option {
	return func(h *HealthChecker) {
		h.timeout = d
	}
}

// WithLogger sets the logger used to report failing and degraded checks.
func WithLogger(l logger.Logger) Option {
	return func(h *HealthChecker) {
		h.logger = l
	}
}

// WithFailureThreshold sets the number of consecutive failures before a check is considered unhealthy.
// Default is 3.
func WithFailureThreshold(threshold int) Option {
	return func(h *HealthChecker) {
		if threshold > 0 {
			h.failureThreshold = threshold
		}
	}
}

// New creates a new HealthChecker with the given options.
func New(opts ...Option) *HealthChecker {
	h := &HealthChecker{
		timeout:          5 * time.Second,
		failureThreshold: 3,
		failureCount:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// AddLivenessCheck adds a liveness check.
// Liveness checks determine if the process should be restarted.
func (h *HealthChecker) AddLivenessCheck(check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.livenessChecks = append(h.livenessChecks, check)
}

// AddReadinessCheck adds a readiness check.
// Readiness checks determine if the service can handle requests,
// including in degraded mode.
func (h *HealthChecker) AddReadinessCheck(check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessChecks = append(h.readinessChecks, check)
}

// CheckLiveness executes all liveness checks and returns an error if any fail.
func (h *HealthChecker) CheckLiveness(ctx context.Context) (*HealthStatus, error) {
	h.mu.RLock()
	checks := h.livenessChecks
	h.mu.RUnlock()
	return h.executeChecks(ctx, checks)
}

// CheckReadiness executes all readiness checks and returns an error if any fail.
// A degraded check is reported in the status, not as an error.
func (h *HealthChecker) CheckReadiness(ctx context.Context) (*HealthStatus, error) {
	h.mu.RLock()
	checks := h.readinessChecks
	h.mu.RUnlock()
	return h.executeChecks(ctx, checks)
}

// executeChecks runs all checks concurrently and aggregates the results.
func (h *HealthChecker) executeChecks(ctx context.Context, checks []Check) (*HealthStatus, error) {
	if len(checks) == 0 {
		return &HealthStatus{Healthy: true, Checks: []CheckResult{}}, nil
	}

	results := make([]CheckResult, len(checks))
	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func(idx int, chk Check) {
			defer wg.Done()
			results[idx] = h.executeCheck(ctx, chk)
		}(i, check)
	}
	wg.Wait()

	status := &HealthStatus{Healthy: true, Checks: results}
	var failedChecks []string
	for _, result := range results {
		if result.Degraded {
			status.Degraded = true
		}
		if !result.Healthy {
			status.Healthy = false
			failedChecks = append(failedChecks, result.Name)
		}
	}
	if !status.Healthy {
		return status, fmt.Errorf("health checks failed: %v", failedChecks)
	}
	return status, nil
}

// executeCheck runs a single health check with timeout and failure threshold logic.
func (h *HealthChecker) executeCheck(parentCtx context.Context, check Check) CheckResult {
	ctx, cancel := context.WithTimeout(parentCtx, h.timeout)
	defer cancel()

	start := time.Now()
	err := check.Check(ctx)
	latency := time.Since(start)

	result := CheckResult{
		Name:    check.Name(),
		Latency: latency,
		Healthy: true,
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	switch {
	case err == nil:
		h.failureCount[check.Name()] = 0
		h.debug("Health check passed", logger.StringField("check", check.Name()), logger.DurationField("latency", latency))

	case errors.Is(err, ErrDegraded):
		h.failureCount[check.Name()] = 0
		result.Degraded = true
		result.Error = err.Error()
		h.debug("Health check degraded", logger.StringField("check", check.Name()), logger.ErrorField(err))

	default:
		h.failureCount[check.Name()]++
		failures := h.failureCount[check.Name()]
		if failures < h.failureThreshold {
			h.debug("Health check failed but below threshold",
				logger.StringField("check", check.Name()),
				logger.ErrorField(err),
				logger.IntField("failures", failures),
				logger.IntField("threshold", h.failureThreshold))
			break
		}
		result.Healthy = false
		result.Error = err.Error()
		if h.logger != nil {
			h.logger.Warn("Health check failed",
				logger.StringField("check", check.Name()),
				logger.ErrorField(err),
				logger.IntField("failures", failures),
				logger.DurationField("latency", latency))
		}
	}
	return result
}

func (h *HealthChecker) debug(msg string, fields ...logger.LogField) {
	if h.logger != nil {
		h.logger.Debug(msg, fields...)
	}
}
