package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lewisedginton/chat_memory/internal/memory_service"
	"github.com/lewisedginton/chat_memory/internal/model"
)

// createMemoryRequest accepts a TTL string ("7d", "24h") on top of the
// service request.
type createMemoryRequest struct {
	MemoryKey   string           `json:"memory_key"`
	Content     string           `json:"content"`
	Category    string           `json:"category"`
	Importance  model.Importance `json:"importance"`
	UserDefined bool             `json:"user_defined"`
	TTL         string           `json:"ttl"`
	ExpiresAt   *time.Time       `json:"expires_at"`
}

type createMemoryResponse struct {
	ID     string              `json:"id"`
	Record *model.MemoryRecord `json:"record"`
}

type listMemoriesResponse struct {
	Memories []model.MemoryRecord `json:"memories"`
	Count    int                  `json:"count"`
}

func (h *Handler) createMemory(w http.ResponseWriter, r *http.Request) {
	var body createMemoryRequest
	if err := decodeBody(r, &body, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	ttl, err := memory_service.ParseTTL(body.TTL)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rec, err := h.memories.Create(r.Context(), memory_service.CreateRequest{
		MemoryKey:   body.MemoryKey,
		Content:     body.Content,
		Category:    body.Category,
		Importance:  body.Importance,
		UserDefined: body.UserDefined,
		TTL:         ttl,
		ExpiresAt:   body.ExpiresAt,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createMemoryResponse{ID: rec.ID, Record: rec})
}

func parseFilter(r *http.Request) (model.Filter, error) {
	var filter model.Filter
	q := r.URL.Query()
	if raw := q.Get("category"); raw != "" {
		c := model.Category(raw)
		if !c.Valid() {
			return filter, model.NewValidationError("category", "%q is not a valid category", raw)
		}
		filter.Category = &c
	}
	if raw := q.Get("user_defined"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, model.NewValidationError("user_defined", "must be true or false")
		}
		filter.UserDefined = &v
	}
	return filter, nil
}

func (h *Handler) listMemories(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	records, err := h.memories.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []model.MemoryRecord{}
	}
	writeJSON(w, http.StatusOK, listMemoriesResponse{Memories: records, Count: len(records)})
}

func (h *Handler) readMemory(w http.ResponseWriter, r *http.Request) {
	rec, err := h.memories.Read(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) updateMemory(w http.ResponseWriter, r *http.Request) {
	var body memory_service.UpdateRequest
	if err := decodeBody(r, &body, true); err != nil {
		h.writeError(w, r, err)
		return
	}
	rec, err := h.memories.Update(r.Context(), chi.URLParam(r, "id"), body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) deleteMemory(w http.ResponseWriter, r *http.Request) {
	if err := h.memories.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *Handler) memoryStats(w http.ResponseWriter, r *http.Request) {
	summary, err := h.stats.Summary(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
