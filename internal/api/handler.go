// Package api exposes the companion state to a UI over HTTP and a websocket
// event stream.
package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/learnsync/internal/cache"
	"github.com/ashureev/learnsync/internal/conversation"
	"github.com/ashureev/learnsync/internal/dashboard"
	"github.com/ashureev/learnsync/internal/middleware"
	"github.com/ashureev/learnsync/internal/progress"
	"github.com/ashureev/learnsync/internal/remote"
)

const maxBodyBytes = 64 << 10

// Deps are the components a Handler serves.
type Deps struct {
	Cache     *cache.SessionCache
	Engines   *conversation.Registry
	Trackers  *progress.Set
	Dashboard *dashboard.Builder
	Remote    *remote.Client
	Hub       *Hub
	// ChatLimiter throttles chat sends per client address. Optional.
	ChatLimiter *middleware.RateLimiter
	Logger      *slog.Logger
}

// Handler serves the companion API.
type Handler struct {
	cache       *cache.SessionCache
	engines     *conversation.Registry
	trackers    *progress.Set
	dashboard   *dashboard.Builder
	remote      *remote.Client
	hub         *Hub
	chatLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Handler{
		cache:       d.Cache,
		engines:     d.Engines,
		trackers:    d.Trackers,
		dashboard:   d.Dashboard,
		remote:      d.Remote,
		hub:         d.Hub,
		chatLimiter: d.ChatLimiter,
		logger:      d.Logger,
	}
}

// RegisterRoutes registers the companion routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/modules", h.ListModules)
		r.Delete("/modules", h.ClearModules)
		r.Post("/modules/{moduleID}/topics", h.LoadTopics)

		r.Group(func(r chi.Router) {
			if h.chatLimiter != nil {
				r.Use(middleware.RateLimit(h.chatLimiter))
			}
			r.Post("/chat", h.SendChat)
		})
		r.Get("/chat", h.GetChat)
		r.Delete("/chat", h.EndChat)
		r.Post("/chat/prompt/accept", h.AcceptPrompt)
		r.Post("/chat/prompt/decline", h.DeclinePrompt)
		r.Post("/chat/notice/dismiss", h.DismissNotice)

		r.Get("/progress", h.GetProgress)
		r.Post("/progress/retry", h.RetryProgress)
		r.Post("/topics/{topicID}/toggle", h.ToggleTopic)

		r.Get("/dashboard", h.GetDashboard)
		r.Post("/session/reset", h.ResetSession)

		r.Get("/tech/trending", h.TrendingTech)
		r.Post("/tech/rating", h.RateTech)

		r.Get("/status", h.Status)
		r.Get("/ws/events", h.Events)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeBody decodes an optional JSON body into v. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v interface{}) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err == io.EOF {
		return nil
	}
	return err
}
