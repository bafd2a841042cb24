// Package control is the daemon's local HTTP surface: session lifecycle
// notifications in, health and session-status queries out. It binds to
// loopback only; there is no authentication.
package control

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Enflame-Media/Magic-Agent-sub018/internal/sessiontrack"
)

// HealthResponse reports daemon liveness.
type HealthResponse struct {
	Status   string `json:"status"`
	UptimeMS int64  `json:"uptimeMs"`
	Sessions int    `json:"sessions"`
}

// StatusResponse reports one session's local status.
type StatusResponse struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

type sessionRequest struct {
	SessionID string `json:"sessionId"`
}

// Handler serves the control API.
type Handler struct {
	tracker *sessiontrack.Tracker
	started time.Time
	log     *zap.Logger
	mux     *http.ServeMux
}

func NewHandler(tracker *sessiontrack.Tracker, log *zap.Logger) *Handler {
	h := &Handler{
		tracker: tracker,
		started: time.Now(),
		log:     log,
		mux:     http.NewServeMux(),
	}
	h.mux.HandleFunc("GET /health", h.health)
	h.mux.HandleFunc("GET /session/status", h.sessionStatus)
	h.mux.HandleFunc("POST /session/started", h.sessionStarted)
	h.mux.HandleFunc("POST /session/stopped", h.sessionStopped)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		UptimeMS: time.Since(h.started).Milliseconds(),
		Sessions: len(h.tracker.Live()),
	})
}

func (h *Handler) sessionStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		SessionID: id,
		Status:    string(h.tracker.Status(id)),
	})
}

func (h *Handler) sessionStarted(w http.ResponseWriter, r *http.Request) {
	id, ok := decodeSessionID(w, r)
	if !ok {
		return
	}
	h.tracker.SessionStarted(id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) sessionStopped(w http.ResponseWriter, r *http.Request) {
	id, ok := decodeSessionID(w, r)
	if !ok {
		return
	}
	h.tracker.SessionStopped(id)
	w.WriteHeader(http.StatusNoContent)
}

func decodeSessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		http.Error(w, "sessionId required", http.StatusBadRequest)
		return "", false
	}
	return req.SessionID, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
