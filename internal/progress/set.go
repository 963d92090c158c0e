package progress

import (
	"context"
	"sync"
	"time"
)

// Set keeps one Tracker per client session. It retries the parked
// completion changes of all of them, so a single sync worker serves the
// whole daemon.
type Set struct {
	svc      TopicService
	cfg      Config
	onChange func(sessionID string, s Snapshot)

	mu       sync.Mutex
	trackers map[string]*Tracker
	lastSeen map[string]time.Time
}

// Ensure Set can drive the sync worker.
var _ Retrier = (*Set)(nil)

// NewSet creates an empty set. cfg is the template for every tracker;
// its OnChange is replaced by onChange, which also receives the session.
func NewSet(svc TopicService, cfg Config, onChange func(sessionID string, s Snapshot)) *Set {
	return &Set{
		svc:      svc,
		cfg:      cfg,
		onChange: onChange,
		trackers: make(map[string]*Tracker),
		lastSeen: make(map[string]time.Time),
	}
}

// Get returns the tracker for sessionID, creating it on first use.
func (s *Set) Get(sessionID string) *Tracker {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSeen[sessionID] = time.Now()
	if t, ok := s.trackers[sessionID]; ok {
		return t
	}

	cfg := s.cfg
	cfg.OnChange = nil
	if s.onChange != nil {
		cfg.OnChange = func(snap Snapshot) { s.onChange(sessionID, snap) }
	}
	t := NewTracker(s.svc, cfg)
	s.trackers[sessionID] = t
	return t
}

// Remove closes and forgets the tracker of sessionID. Parked changes of that
// tracker are dropped.
func (s *Set) Remove(sessionID string) {
	s.mu.Lock()
	t, ok := s.trackers[sessionID]
	delete(s.trackers, sessionID)
	delete(s.lastSeen, sessionID)
	s.mu.Unlock()

	if ok {
		t.Close()
	}
}

// Sweep removes trackers unused for longer than maxIdle that have nothing
// left to sync, and returns how many were removed.
func (s *Set) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	s.mu.Lock()
	var stale []*Tracker
	for id, seen := range s.lastSeen {
		t := s.trackers[id]
		if seen.After(cutoff) || len(t.Pending()) > 0 {
			continue
		}
		stale = append(stale, t)
		delete(s.trackers, id)
		delete(s.lastSeen, id)
	}
	s.mu.Unlock()

	for _, t := range stale {
		t.Close()
	}
	return len(stale)
}

// RetryPending retries every tracker's parked changes and returns the total
// number still parked.
func (s *Set) RetryPending(ctx context.Context) int {
	remaining := 0
	for _, t := range s.snapshot() {
		if ctx.Err() != nil {
			break
		}
		remaining += t.RetryPending(ctx)
	}
	return remaining
}

// Len returns the number of live trackers.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trackers)
}

// CloseAll closes every tracker.
func (s *Set) CloseAll() {
	s.mu.Lock()
	all := make([]*Tracker, 0, len(s.trackers))
	for _, t := range s.trackers {
		all = append(all, t)
	}
	s.trackers = make(map[string]*Tracker)
	s.lastSeen = make(map[string]time.Time)
	s.mu.Unlock()

	for _, t := range all {
		t.Close()
	}
}

func (s *Set) snapshot() []*Tracker {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Tracker, 0, len(s.trackers))
	for _, t := range s.trackers {
		out = append(out, t)
	}
	return out
}
