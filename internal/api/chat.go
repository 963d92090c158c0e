package api

import (
	"errors"
	"net/http"

	"github.com/ashureev/learnsync/internal/conversation"
	"github.com/ashureev/learnsync/internal/identity"
	"github.com/ashureev/learnsync/internal/remote"
)

type chatRequest struct {
	Message string `json:"message"`
}

type chatFailure struct {
	Error        string                `json:"error"`
	Conversation conversation.Snapshot `json:"conversation"`
}

// SendChat sends one user message and returns the conversation once the turn
// has finished.
func (h *Handler) SendChat(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())

	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	engine := h.engines.Get(sessionID)
	err := engine.Send(r.Context(), req.Message)
	switch {
	case err == nil:
		JSON(w, http.StatusOK, engine.Snapshot())
	case errors.Is(err, conversation.ErrEmptyMessage):
		Error(w, http.StatusBadRequest, "message is empty")
	case errors.Is(err, conversation.ErrTurnInProgress):
		Error(w, http.StatusConflict, "a message is already being sent")
	case errors.Is(err, conversation.ErrTornDown):
		Error(w, http.StatusConflict, "conversation was reset")
	default:
		h.logger.Warn("Chat turn failed", "session_id", sessionID, "error", err)
		JSON(w, remoteStatus(err), chatFailure{
			Error:        err.Error(),
			Conversation: engine.Snapshot(),
		})
	}
}

// GetChat returns the conversation history, turn state and pending prompt.
func (h *Handler) GetChat(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	JSON(w, http.StatusOK, h.engines.Get(sessionID).Snapshot())
}

// EndChat discards the session's conversation.
func (h *Handler) EndChat(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	h.engines.Remove(sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// AcceptPrompt resolves the pending prompt and returns the modules to open.
func (h *Handler) AcceptPrompt(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	modules, err := h.engines.Get(sessionID).Accept()
	if errors.Is(err, conversation.ErrNoPrompt) {
		Error(w, http.StatusNotFound, "no pending prompt")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"modules": modules})
}

// DeclinePrompt dismisses the pending prompt.
func (h *Handler) DeclinePrompt(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	if err := h.engines.Get(sessionID).Decline(); errors.Is(err, conversation.ErrNoPrompt) {
		Error(w, http.StatusNotFound, "no pending prompt")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DismissNotice clears the conversation's notice.
func (h *Handler) DismissNotice(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	engine := h.engines.Get(sessionID)
	engine.DismissNotice()
	JSON(w, http.StatusOK, engine.Snapshot())
}

// remoteStatus maps a remote failure to the status reported to the UI.
func remoteStatus(err error) int {
	switch {
	case remote.IsServer(err), remote.IsMalformed(err):
		return http.StatusBadGateway
	case remote.IsTransport(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
