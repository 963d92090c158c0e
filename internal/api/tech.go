package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/learnsync/internal/conversation"
	"github.com/ashureev/learnsync/internal/domain"
	"github.com/ashureev/learnsync/internal/identity"
	"github.com/ashureev/learnsync/internal/progress"
)

const (
	defaultTrendingLimit = 5
	maxTrendingLimit     = 50
	healthCheckTimeout   = 5 * time.Second
)

// TrendingTech returns trending technology recommendations.
func (h *Handler) TrendingTech(w http.ResponseWriter, r *http.Request) {
	limit := defaultTrendingLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxTrendingLimit)
	}

	items, err := h.remote.TrendingTech(r.Context(), limit)
	if err != nil {
		h.logger.Warn("Trending tech lookup failed", "error", err)
		Error(w, remoteStatus(err), "trending technology is unavailable")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

type ratingRequest struct {
	ID          string `json:"id"`
	IsEffective bool   `json:"isEffective"`
}

// RateTech records whether a recommendation helped.
func (h *Handler) RateTech(w http.ResponseWriter, r *http.Request) {
	var req ratingRequest
	if err := decodeBody(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		Error(w, http.StatusBadRequest, "id is required")
		return
	}

	ok, err := h.remote.RateTech(r.Context(), req.ID, req.IsEffective)
	if err != nil {
		h.logger.Warn("Tech rating failed", "tech_id", req.ID, "error", err)
		Error(w, remoteStatus(err), "rating could not be recorded")
		return
	}
	JSON(w, http.StatusOK, map[string]bool{"success": ok})
}

// Status reports the daemon's view of the learning service. It always
// answers 200; an unreachable service is reported, not fatal.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	backend := "ok"
	if err := h.remote.Health(ctx); err != nil {
		h.logger.Warn("Learning service health check failed", "error", err)
		backend = "unreachable"
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"backend":       backend,
		"breaker":       h.remote.BreakerState().String(),
		"conversations": h.engines.Len(),
		"trackers":      h.trackers.Len(),
		"subscribers":   h.hub.Subscribers(),
	})
}

// sessionSnapshot is the first frame of an event stream.
type sessionSnapshot struct {
	Modules      []domain.Module       `json:"modules"`
	Conversation conversation.Snapshot `json:"conversation"`
	Progress     progress.Snapshot     `json:"progress"`
}

// Events streams the session's changes over a websocket.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	h.hub.Serve(w, r, sessionID, Envelope{
		Kind: KindSnapshot,
		Data: sessionSnapshot{
			Modules:      h.cache.Read(),
			Conversation: h.engines.Get(sessionID).Snapshot(),
			Progress:     h.trackers.Get(sessionID).Snapshot(),
		},
	})
}
