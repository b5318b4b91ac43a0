package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lewisedginton/chat_memory/internal/model"
)

type appendTurnRequest struct {
	Role model.Role `json:"role"`
	Text string     `json:"text"`
}

type sessionContextResponse struct {
	SessionID string       `json:"session_id"`
	Turns     []model.Turn `json:"turns"`
}

type promoteRequest struct {
	Importance model.Importance `json:"importance"`
}

// appendTurn serves both POST /sessions, which starts a new session, and
// POST /sessions/{id}/turns.
func (h *Handler) appendTurn(w http.ResponseWriter, r *http.Request) {
	var body appendTurnRequest
	if err := decodeBody(r, &body, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	id, err := h.sessions.AppendTurn(r.Context(), chi.URLParam(r, "id"), body.Role, body.Text)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id})
}

func (h *Handler) sessionContext(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, r, model.NewValidationError("limit", "must be an integer"))
			return
		}
		limit = n
	}
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, sessionContextResponse{
		SessionID: id,
		Turns:     h.sessions.GetContext(r.Context(), id, limit),
	})
}

func (h *Handler) promoteSession(w http.ResponseWriter, r *http.Request) {
	var body promoteRequest
	if err := decodeBody(r, &body, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	rec, err := h.sessions.Promote(r.Context(), chi.URLParam(r, "id"), body.Importance)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": rec.ID})
}
