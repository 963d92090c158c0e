package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/learnsync/internal/domain"
	"github.com/ashureev/learnsync/internal/identity"
	"github.com/ashureev/learnsync/internal/progress"
)

// ListModules returns the cached recommended modules.
func (h *Handler) ListModules(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{"modules": h.cache.Read()})
}

// ClearModules removes the cached modules.
func (h *Handler) ClearModules(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.Clear(r.Context()); err != nil {
		h.logger.Error("Failed to clear cached modules", "error", err)
		Error(w, http.StatusInternalServerError, "failed to clear cached modules")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type loadTopicsRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadTopics makes a module the session's active one and returns its topics.
// The module is looked up in the cache, then in the starter catalogue; a
// request body naming the module overrides both.
func (h *Handler) LoadTopics(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	moduleID := chi.URLParam(r, "moduleID")

	var req loadTopicsRequest
	if err := decodeBody(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	module, found := h.findModule(moduleID)
	if name := strings.TrimSpace(req.Name); name != "" {
		module = domain.Module{ID: moduleID, Name: name, Description: req.Description}
		found = true
	}
	if !found {
		Error(w, http.StatusNotFound, "module not found")
		return
	}

	tracker := h.trackers.Get(sessionID)
	if err := tracker.Load(r.Context(), module); err != nil {
		if errors.Is(err, progress.ErrStale) {
			Error(w, http.StatusConflict, "superseded by a newer module")
			return
		}
		h.logger.Error("Failed to load topics", "module_id", moduleID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load topics")
		return
	}
	JSON(w, http.StatusOK, tracker.Snapshot())
}

func (h *Handler) findModule(id string) (domain.Module, bool) {
	for _, m := range h.cache.Read() {
		if m.ID == id {
			return m, true
		}
	}
	for _, m := range domain.DefaultModules() {
		if m.ID == id {
			return m, true
		}
	}
	return domain.Module{}, false
}

type progressResponse struct {
	progress.Snapshot
	Queue []progress.PendingSync `json:"queue"`
}

// GetProgress returns the active module's topics and the parked syncs.
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	tracker := h.trackers.Get(sessionID)
	JSON(w, http.StatusOK, progressResponse{
		Snapshot: tracker.Snapshot(),
		Queue:    tracker.Pending(),
	})
}

// RetryProgress resends the session's parked completion changes now.
func (h *Handler) RetryProgress(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	remaining := h.trackers.Get(sessionID).RetryPending(r.Context())
	JSON(w, http.StatusOK, map[string]int{"remaining": remaining})
}

// ToggleTopic flips a topic's completion.
func (h *Handler) ToggleTopic(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	topicID := chi.URLParam(r, "topicID")

	snap, err := h.trackers.Get(sessionID).ToggleCompletion(r.Context(), topicID)
	switch {
	case err == nil:
		JSON(w, http.StatusOK, snap)
	case errors.Is(err, progress.ErrTopicNotFound):
		Error(w, http.StatusNotFound, "topic not found")
	case errors.Is(err, progress.ErrNotReady):
		Error(w, http.StatusConflict, "topics are not ready")
	default:
		h.logger.Error("Failed to toggle topic", "topic_id", topicID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to toggle topic")
	}
}

// GetDashboard returns the learning summary.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	summary, err := h.dashboard.Build(r.Context())
	if err != nil {
		h.logger.Error("Failed to build dashboard", "error", err)
		Error(w, http.StatusInternalServerError, "failed to build dashboard")
		return
	}
	JSON(w, http.StatusOK, summary)
}

// ResetSession clears every stored record and the cache, and discards the
// calling session's conversation and topics.
func (h *Handler) ResetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())

	if err := h.cache.ResetAll(r.Context()); err != nil {
		h.logger.Error("Failed to reset session", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to reset session")
		return
	}
	h.engines.Remove(sessionID)
	h.trackers.Remove(sessionID)

	h.logger.Info("Session reset", "session_id", sessionID)
	w.WriteHeader(http.StatusNoContent)
}
