package health

import (
	"encoding/json"
	"net/http"

	"github.com/lewisedginton/chat_memory/pkg/logger"
)

// HealthResponse is the JSON body of the health endpoints.
type HealthResponse struct {
	Status  string                 `json:"status"` // "healthy" | "degraded" | "unhealthy"
	Checks  map[string]CheckStatus `json:"checks,omitempty"`
	Message string                 `json:"message,omitempty"`
}

// CheckStatus represents the status of an individual check in the HTTP response.
type CheckStatus struct {
	Status  string `json:"status"` // "ok" | "degraded" | "error"
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// LivenessHandler returns 200 while the process is alive, 503 if it should be restarted.
func (h *HealthChecker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := h.CheckLiveness(r.Context())
		h.writeHealthResponse(w, status, err)
	}
}

// ReadinessHandler returns 200 when the service can take traffic, including
// while degraded, and 503 otherwise.
func (h *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := h.CheckReadiness(r.Context())
		h.writeHealthResponse(w, status, err)
	}
}

func (h *HealthChecker) writeHealthResponse(w http.ResponseWriter, status *HealthStatus, err error) {
	response := HealthResponse{
		Checks: make(map[string]CheckStatus, len(status.Checks)),
	}

	code := http.StatusOK
	switch {
	case !status.Healthy:
		response.Status = "unhealthy"
		code = http.StatusServiceUnavailable
		if err != nil {
			response.Message = err.Error()
		}
	case status.Degraded:
		response.Status = "degraded"
	default:
		response.Status = "healthy"
	}

	for _, checkResult := range status.Checks {
		checkStatus := CheckStatus{
			Status:  "ok",
			Latency: checkResult.Latency.String(),
		}
		switch {
		case !checkResult.Healthy:
			checkStatus.Status = "error"
			checkStatus.Error = checkResult.Error
		case checkResult.Degraded:
			checkStatus.Status = "degraded"
			checkStatus.Error = checkResult.Error
		}
		response.Checks[checkResult.Name] = checkStatus
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(response); err != nil && h.logger != nil {
		h.logger.Error("Failed to encode health response", logger.ErrorField(err))
	}
}
