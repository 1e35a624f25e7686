package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"civicdocs/backend/internal/adapter/gemini"
	"civicdocs/backend/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query   string  `json:"query"`
		TopK    *int    `json:"top_k,omitempty"`
		Filters Filters `json:"filters"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	results, err := h.service.Search(r.Context(), req.Query, &SearchOptions{
		TopK:    req.TopK,
		Filters: req.Filters,
	})
	if err != nil {
		if errors.Is(err, ErrEmptyQuery) {
			h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
			return
		}
		if errors.Is(err, gemini.ErrUnavailable) {
			// Provider outage degrades to empty results rather than masquerading
			// as an internal fault.
			slog.WarnContext(r.Context(), "search degraded, embedding provider unavailable", "error", err)
			h.writeDegraded(r.Context(), w)
			return
		}
		slog.Error("search failed", "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if results == nil {
		results = []SearchResult{}
	}
	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": results,
		"meta": map[string]int{"count": len(results)},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeDegraded(ctx context.Context, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)

	resp := map[string]interface{}{
		"data": []SearchResult{},
		"meta": map[string]int{"count": 0},
		"error": map[string]string{
			"code":    "PROVIDER_UNAVAILABLE",
			"message": "embedding provider unavailable",
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
