// Package server provides the admin/operations HTTP API for the gateway:
// health probes, stats and audit queries, session resets and moderation
// commands.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sarvinshrivastava/assistant-gateway/pkg/audit"
	"github.com/sarvinshrivastava/assistant-gateway/pkg/gate"
	"github.com/sarvinshrivastava/assistant-gateway/pkg/health"
)

// defaultAuditLimit caps audit query responses when no limit is given.
const defaultAuditLimit = 100

// Handler serves the admin REST API. Health endpoints are open; everything
// under /api/ passes through the auth middleware.
type Handler struct {
	mux     *http.ServeMux
	api     http.Handler
	gate    *gate.Gate
	log     audit.Logger
	checker *health.Checker
}

// NewHandler creates the admin API handler.
func NewHandler(g *gate.Gate, log audit.Logger, checker *health.Checker, authMiddle func(http.Handler) http.Handler) *Handler {
	h := &Handler{
		mux:     http.NewServeMux(),
		gate:    g,
		log:     log,
		checker: checker,
	}
	h.registerRoutes()
	h.api = http.Handler(h.mux)
	if authMiddle != nil {
		h.api = authMiddle(h.mux)
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		h.api.ServeHTTP(w, r)
		return
	}
	h.mux.ServeHTTP(w, r)
}

// registerRoutes registers all admin API routes.
func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /healthz", h.checker.LivenessHandler())
	h.mux.HandleFunc("GET /readyz", h.checker.ReadinessHandler())

	h.mux.HandleFunc("GET /api/stats", h.getStats)
	h.mux.HandleFunc("GET /api/sessions", h.listSessions)
	h.mux.HandleFunc("GET /api/audit", h.queryAudit)
	h.mux.HandleFunc("POST /api/sessions/{user_id}/reset", h.resetSession)
	h.mux.HandleFunc("POST /api/users/{user_id}/restrict", h.restrictUser)
	h.mux.HandleFunc("POST /api/users/{user_id}/ban", h.banUser)
	h.mux.HandleFunc("POST /api/users/{user_id}/unban", h.unbanUser)
}

func (h *Handler) getStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.gate.Stats())
}

func (h *Handler) listSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.gate.Sessions().List())
}

func (h *Handler) queryAudit(w http.ResponseWriter, r *http.Request) {
	filter := audit.Filter{
		UserID: r.URL.Query().Get("user"),
		Kind:   audit.Kind(r.URL.Query().Get("kind")),
		Limit:  defaultAuditLimit,
	}

	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		filter.Since = &since
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	events, err := h.log.Query(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func (h *Handler) resetSession(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	removed := h.gate.ResetSession(r.Context(), actor(r), userID)
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "removed": removed})
}

func (h *Handler) restrictUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Minutes int    `json:"minutes"`
		Reason  string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Minutes < 1 {
		writeError(w, http.StatusBadRequest, "minutes must be at least 1")
		return
	}

	userID := r.PathValue("user_id")
	h.gate.Restrict(r.Context(), actor(r), userID, time.Duration(body.Minutes)*time.Minute, body.Reason)
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "restricted_minutes": body.Minutes})
}

func (h *Handler) banUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	userID := r.PathValue("user_id")
	h.gate.Ban(r.Context(), actor(r), userID, body.Reason)
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "banned": true})
}

func (h *Handler) unbanUser(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	h.gate.Unban(r.Context(), actor(r), userID)
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "banned": false})
}

// actor identifies the admin caller for the audit trail.
func actor(r *http.Request) string {
	if user := GetUser(r.Context()); user != nil && user.UserID != "" {
		return user.UserID
	}
	return "admin-api"
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
