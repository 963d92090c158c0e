package conversation

import (
	"log/slog"
	"sync"
	"time"
)

const defaultEventBuffer = 256

// Registry keeps one Engine per client session.
type Registry struct {
	chat       Chatter
	sink       ModuleSink
	transcript TranscriptLogger
	logger     *slog.Logger
	events     chan Event

	mu       sync.Mutex
	engines  map[string]*Engine
	lastSeen map[string]time.Time
}

// NewRegistry creates an empty registry. All engines publish to a single
// event channel, read through Events.
func NewRegistry(chat Chatter, sink ModuleSink, transcript TranscriptLogger, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		chat:       chat,
		sink:       sink,
		transcript: transcript,
		logger:     logger,
		events:     make(chan Event, defaultEventBuffer),
		engines:    make(map[string]*Engine),
		lastSeen:   make(map[string]time.Time),
	}
}

// Events returns the channel carrying events of every engine.
func (r *Registry) Events() <-chan Event {
	return r.events
}

// Get returns the engine for sessionID, creating it on first use.
func (r *Registry) Get(sessionID string) *Engine {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastSeen[sessionID] = time.Now()
	if e, ok := r.engines[sessionID]; ok {
		return e
	}

	e := NewEngine(r.chat, r.sink,
		WithSessionID(sessionID),
		WithEvents(r.events),
		WithTranscript(r.transcript),
		WithLogger(r.logger),
	)
	r.engines[sessionID] = e
	r.logger.Info("Conversation started", "session_id", sessionID)
	return e
}

// Remove tears down and forgets the engine for sessionID.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	e, ok := r.engines[sessionID]
	delete(r.engines, sessionID)
	delete(r.lastSeen, sessionID)
	r.mu.Unlock()

	if ok {
		e.Teardown()
		r.logger.Info("Conversation ended", "session_id", sessionID)
	}
}

// Len returns the number of live conversations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.engines)
}

// Sweep tears down conversations unused for longer than maxIdle.
// It returns the number removed.
func (r *Registry) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	r.mu.Lock()
	var stale []*Engine
	for id, seen := range r.lastSeen {
		e := r.engines[id]
		if seen.Before(cutoff) && e != nil && e.State() != Sending {
			stale = append(stale, e)
			delete(r.engines, id)
			delete(r.lastSeen, id)
		}
	}
	r.mu.Unlock()

	for _, e := range stale {
		e.Teardown()
	}
	if len(stale) > 0 {
		r.logger.Info("Swept idle conversations", "count", len(stale))
	}
	return len(stale)
}

// CloseAll tears down every conversation.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	engines := r.engines
	r.engines = make(map[string]*Engine)
	r.lastSeen = make(map[string]time.Time)
	r.mu.Unlock()

	for _, e := range engines {
		e.Teardown()
	}
}
