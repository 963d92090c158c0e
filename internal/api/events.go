package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/learnsync/internal/conversation"
	"github.com/ashureev/learnsync/internal/domain"
)

// Event stream frame kinds.
const (
	KindSnapshot     = "snapshot"
	KindConversation = "conversation"
	KindModules      = "modules"
	KindProgress     = "progress"
	KindPong         = "pong"
)

const (
	subscriberBuffer = 64
	writeTimeout     = 10 * time.Second
)

// Envelope is one frame on the event stream.
type Envelope struct {
	ID        int64  `json:"id"`
	Kind      string `json:"kind"`
	SessionID string `json:"session_id,omitempty"`
	Data      any    `json:"data,omitempty"`
}

type subscriber struct {
	sessionID string
	send      chan []byte
}

// Hub fans events out to websocket subscribers. Conversation and progress
// frames go to the subscribers of their session; module changes go to all.
type Hub struct {
	logger         *slog.Logger
	originPatterns []string

	mu     sync.RWMutex
	subs   map[string]map[int64]*subscriber // sessionID -> connection ID -> subscriber
	nextID int64

	eventID atomic.Int64
}

// NewHub creates a hub accepting websocket upgrades from allowedOrigins.
func NewHub(allowedOrigins []string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:         logger,
		originPatterns: originPatterns(allowedOrigins),
		subs:           make(map[string]map[int64]*subscriber),
	}
}

// originPatterns converts configured origins to the host patterns the
// websocket library matches against.
func originPatterns(origins []string) []string {
	var out []string
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
		}
	}
	return out
}

// Run forwards conversation events and module changes until ctx is cancelled
// or both sources are closed.
func (h *Hub) Run(ctx context.Context, events <-chan conversation.Event, modules <-chan []domain.Module) {
	h.logger.Info("Event hub started")
	for events != nil || modules != nil {
		select {
		case <-ctx.Done():
			h.logger.Info("Event hub shutting down", "reason", ctx.Err())
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			h.Publish(ev.SessionID, KindConversation, ev)
		case mods, ok := <-modules:
			if !ok {
				modules = nil
				continue
			}
			h.Broadcast(KindModules, mods)
		}
	}
}

// Publish sends a frame to the subscribers of sessionID.
func (h *Hub) Publish(sessionID, kind string, data any) {
	frame, ok := h.encode(sessionID, kind, data)
	if !ok {
		return
	}

	h.mu.RLock()
	targets := make([]*subscriber, 0, len(h.subs[sessionID]))
	for _, s := range h.subs[sessionID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	h.deliver(targets, frame, kind)
}

// Broadcast sends a frame to every subscriber.
func (h *Hub) Broadcast(kind string, data any) {
	frame, ok := h.encode("", kind, data)
	if !ok {
		return
	}

	h.mu.RLock()
	var targets []*subscriber
	for _, conns := range h.subs {
		for _, s := range conns {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	h.deliver(targets, frame, kind)
}

// Subscribers returns the number of open streams.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, conns := range h.subs {
		n += len(conns)
	}
	return n
}

func (h *Hub) encode(sessionID, kind string, data any) ([]byte, bool) {
	frame, err := json.Marshal(Envelope{
		ID:        h.eventID.Add(1),
		Kind:      kind,
		SessionID: sessionID,
		Data:      data,
	})
	if err != nil {
		h.logger.Error("Failed to encode event frame", "kind", kind, "error", err)
		return nil, false
	}
	return frame, true
}

// deliver never blocks: a subscriber whose buffer is full misses the frame.
func (h *Hub) deliver(targets []*subscriber, frame []byte, kind string) {
	for _, s := range targets {
		select {
		case s.send <- frame:
		default:
			h.logger.Warn("Event subscriber too slow, dropping frame", "session_id", s.sessionID, "kind", kind)
		}
	}
}

func (h *Hub) register(s *subscriber) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	if _, ok := h.subs[s.sessionID]; !ok {
		h.subs[s.sessionID] = make(map[int64]*subscriber)
	}
	h.subs[s.sessionID][h.nextID] = s
	h.logger.Info("Event stream registered", "session_id", s.sessionID, "connection_id", h.nextID)
	return h.nextID
}

func (h *Hub) unregister(sessionID string, id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.subs[sessionID]; ok {
		delete(conns, id)
		if len(conns) == 0 {
			delete(h.subs, sessionID)
		}
	}
	h.logger.Info("Event stream unregistered", "session_id", sessionID, "connection_id", id)
}

// clientFrame is a message sent by the client on the event stream.
type clientFrame struct {
	Type string `json:"type"`
}

// Serve upgrades the request and streams frames for sessionID until the
// client disconnects. initial frames are queued before any live event.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, sessionID string, initial ...Envelope) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn("Failed to accept event stream", "session_id", sessionID, "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			h.logger.Debug("Failed to close event stream", "session_id", sessionID, "error", closeErr)
		}
	}()

	sub := &subscriber{sessionID: sessionID, send: make(chan []byte, subscriberBuffer)}
	for _, env := range initial {
		if frame, ok := h.encode(sessionID, env.Kind, env.Data); ok {
			h.deliver([]*subscriber{sub}, frame, env.Kind)
		}
	}
	id := h.register(sub)
	defer h.unregister(sessionID, id)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		h.readLoop(ctx, ws, sub)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-sub.send:
			writeCtx, writeCancel := context.WithTimeout(ctx, writeTimeout)
			err := ws.Write(writeCtx, websocket.MessageText, frame)
			writeCancel()
			if err != nil {
				h.logger.Debug("Event stream write error", "session_id", sessionID, "error", err)
				return
			}
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, ws *websocket.Conn, sub *subscriber) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("Event stream closed by client", "session_id", sub.sessionID)
			} else if ctx.Err() == nil {
				h.logger.Warn("Event stream read error", "session_id", sub.sessionID, "error", err)
			}
			return
		}

		var msg clientFrame
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			if frame, ok := h.encode(sub.sessionID, KindPong, nil); ok {
				h.deliver([]*subscriber{sub}, frame, KindPong)
			}
		}
	}
}
