package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tokenwindow/twm/pkg/message"
)

// handleTurn runs one turn of the pipeline for POST /v1/turns.
func (g *Gateway) handleTurn() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req message.TurnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if req.ConversationID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "conversation_id is required"})
			return
		}

		res, err := g.engine.ProcessRequest(r.Context(), req)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, message.ErrUnknownRole) {
				status = http.StatusBadRequest
			}
			g.metrics.RecordError()
			writeJSON(w, status, map[string]string{"error": err.Error()})
			return
		}

		stats := g.engine.GetCacheStats(req.ConversationID)
		g.metrics.RecordTurn(stats)
		writeJSON(w, http.StatusOK, res)
	}
}

// handleCacheStats serves GET /v1/conversations/{id}/cache-stats.
func (g *Gateway) handleCacheStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		writeJSON(w, http.StatusOK, g.engine.GetCacheStats(id))
	}
}

// handleWindowState serves GET /v1/conversations/{id}/window.
func (g *Gateway) handleWindowState() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		writeJSON(w, http.StatusOK, g.engine.GetWindowState(id))
	}
}

// handleReset serves DELETE /v1/conversations/{id}.
func (g *Gateway) handleReset() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		g.engine.Reset(id)
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleHealth serves GET /health.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	UptimeSeconds int64 `json:"uptime_seconds"`
	Turns         int64 `json:"turns"`
	Errors        int64 `json:"errors"`
}

// handleStatus serves GET /status.
func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, StatusResponse{
			UptimeSeconds: int64(time.Since(g.startedAt) / time.Second),
			Turns:         g.metrics.Turns(),
			Errors:        g.metrics.Errors(),
		})
	}
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
