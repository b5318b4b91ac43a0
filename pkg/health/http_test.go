package health

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, handler http.HandlerFunc) (int, HealthResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var response HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	return w.Code, response
}

func TestReadinessHandler(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		h := New()
		h.AddReadinessCheck(&mockCheck{name: "backend"})
		h.AddReadinessCheck(&mockCheck{name: "state_cache"})

		code, response := serve(t, h.ReadinessHandler())
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "healthy", response.Status)
		assert.Equal(t, "ok", response.Checks["backend"].Status)
		assert.NotEmpty(t, response.Checks["backend"].Latency)
	})

	t.Run("degraded still serves traffic", func(t *testing.T) {
		h := New()
		h.AddReadinessCheck(&mockCheck{name: "backend", err: fmt.Errorf("serving from sqlite: %w", ErrDegraded)})

		code, response := serve(t, h.ReadinessHandler())
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "degraded", response.Status)
		assert.Equal(t, "degraded", response.Checks["backend"].Status)
		assert.Contains(t, response.Checks["backend"].Error, "sqlite")
	})

	t.Run("failing", func(t *testing.T) {
		h := New(WithFailureThreshold(1))
		h.AddReadinessCheck(&mockCheck{name: "backend", err: errors.New("connection timeout")})
		h.AddReadinessCheck(&mockCheck{name: "state_cache"})

		code, response := serve(t, h.ReadinessHandler())
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "unhealthy", response.Status)
		assert.NotEmpty(t, response.Message)
		assert.Equal(t, "error", response.Checks["backend"].Status)
		assert.Equal(t, "connection timeout", response.Checks["backend"].Error)
		assert.Equal(t, "ok", response.Checks["state_cache"].Status)
	})
}

func TestLivenessHandlerWithoutChecks(t *testing.T) {
	code, response := serve(t, New().LivenessHandler())
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", response.Status)
	assert.Empty(t, response.Checks)
}
