package api

import (
	"net/http"
	"strconv"

	"github.com/lewisedginton/chat_memory/internal/optimizer"
)

type optimizeResponse struct {
	Triggered bool              `json:"triggered,omitempty"`
	Report    *optimizer.Report `json:"report,omitempty"`
}

// optimize queues a cycle on the background loop. With ?wait=true the
// cycle runs in the request and its report is returned; step errors are
// listed in the report rather than failing the request.
func (h *Handler) optimize(w http.ResponseWriter, r *http.Request) {
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if !wait {
		h.optimizer.Trigger()
		writeJSON(w, http.StatusAccepted, optimizeResponse{Triggered: true})
		return
	}

	report, err := h.optimizer.RunCycle(r.Context())
	if report == nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, optimizeResponse{Report: report})
}

func (h *Handler) lastReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.optimizer.LastReport(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if report == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	path, count, err := h.exporter.Export(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"path": path, "count": count})
}
