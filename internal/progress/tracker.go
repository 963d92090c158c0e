// Package progress tracks topic completion for the module being studied.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/learnsync/internal/domain"
	"github.com/ashureev/learnsync/internal/remote"
	"github.com/ashureev/learnsync/internal/store"
)

// Tracker errors.
var (
	ErrStale         = errors.New("topic response superseded by a newer load")
	ErrTopicNotFound = errors.New("topic not found")
	ErrNotReady      = errors.New("topics are not ready")
	ErrCorruptBook   = errors.New("progress book is corrupt")
)

// State of the active module's topic list.
type State int

const (
	Idle State = iota
	Loading
	Ready
	Degraded
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Degraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// FetchMode selects how topics are requested.
type FetchMode string

const (
	// FetchStart posts the module data, registering the start of the module.
	FetchStart FetchMode = "start"
	// FetchList only reads the topic list.
	FetchList FetchMode = "list"
)

// TopicService is the part of the remote client the tracker uses.
type TopicService interface {
	FetchTopics(ctx context.Context, moduleName string) ([]remote.RawTopic, error)
	StartModule(ctx context.Context, module domain.Module) ([]remote.RawTopic, error)
	CompletionSetter
}

// Ensure the remote client satisfies TopicService.
var _ TopicService = (*remote.Client)(nil)

const defaultSyncTimeout = 15 * time.Second

// Config configures a Tracker.
type Config struct {
	Mode        FetchMode
	Store       store.Store // optional; receives per-module progress
	SyncTimeout time.Duration
	Logger      *slog.Logger
	// OnChange is called with a fresh snapshot after every state change.
	OnChange func(Snapshot)
}

// Snapshot is a copy of the tracker state.
type Snapshot struct {
	Module    domain.Module  `json:"module"`
	State     string         `json:"state"`
	Topics    []domain.Topic `json:"topics"`
	Progress  float64        `json:"progress"`
	Completed int            `json:"completed"`
	Total     int            `json:"total"`
	Pending   int            `json:"pending_syncs"`
	// Version increases with every state change of the tracker.
	Version uint64 `json:"version"`
}

// Tracker owns the topic list of one active module at a time.
type Tracker struct {
	svc      TopicService
	st       store.Store
	mode     FetchMode
	logger   *slog.Logger
	onChange func(Snapshot)
	queue    *syncQueue

	mu         sync.Mutex
	state      State
	module     domain.Module
	topics     []domain.Topic
	generation uint64
	version    uint64
	cancel     context.CancelFunc

	notifyMu sync.Mutex
	notified uint64
}

// NewTracker creates an idle tracker.
func NewTracker(svc TopicService, cfg Config) *Tracker {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Mode == "" {
		cfg.Mode = FetchStart
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = defaultSyncTimeout
	}
	return &Tracker{
		svc:      svc,
		st:       cfg.Store,
		mode:     cfg.Mode,
		logger:   cfg.Logger,
		onChange: cfg.OnChange,
		queue:    newSyncQueue(svc, cfg.SyncTimeout, cfg.Logger),
	}
}

// Load makes module the active one and fetches its topics. Any earlier load
// still in flight is cancelled and its result discarded. Fetch failures and
// empty lists are absorbed by switching to fallback content; ErrStale is
// returned when a newer Load superseded this one.
func (t *Tracker) Load(ctx context.Context, module domain.Module) error {
	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
	}
	t.generation++
	gen := t.generation
	t.module = module
	t.topics = nil
	t.state = Loading
	t.version++
	fetchCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	loading := t.snapshotLocked()
	t.mu.Unlock()
	defer cancel()

	t.notify(loading)

	raw, err := t.fetch(fetchCtx, module)

	t.mu.Lock()
	if gen != t.generation {
		t.mu.Unlock()
		t.logger.Debug("Discarding stale topic response", "module_id", module.ID)
		return ErrStale
	}
	t.cancel = nil
	t.version++

	switch {
	case err != nil:
		t.logger.Warn("Topic fetch failed, using fallback topics", "module_id", module.ID, "module", module.Name, "error", err)
		t.state = Degraded
		t.topics = FallbackTopics(module.Name)
	case len(raw) == 0:
		t.logger.Warn("Topic list empty, using fallback topics", "module_id", module.ID, "module", module.Name)
		t.state = Degraded
		t.topics = FallbackTopics(module.Name)
	default:
		t.state = Ready
		t.topics = Normalize(raw)
	}
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.notify(snap)
	if snap.State == Ready.String() {
		t.saveProgress(ctx)
	}
	return nil
}

func (t *Tracker) fetch(ctx context.Context, module domain.Module) ([]remote.RawTopic, error) {
	if t.mode == FetchList {
		return t.svc.FetchTopics(ctx, module.Name)
	}
	return t.svc.StartModule(ctx, module)
}

// ToggleCompletion flips a topic's completion locally and returns the updated
// snapshot. The change is sent to the service in the background; a failed
// send is parked for RetryPending and the local change is kept. Topics with a
// locally made-up ID are never sent.
func (t *Tracker) ToggleCompletion(ctx context.Context, topicID string) (Snapshot, error) {
	t.mu.Lock()
	if t.state != Ready {
		state := t.state
		t.mu.Unlock()
		return Snapshot{}, fmt.Errorf("toggle %s in state %s: %w", topicID, state, ErrNotReady)
	}

	idx := -1
	for i := range t.topics {
		if t.topics[i].ID == topicID {
			idx = i
			break
		}
	}
	if idx < 0 {
		t.mu.Unlock()
		return Snapshot{}, fmt.Errorf("toggle %s: %w", topicID, ErrTopicNotFound)
	}

	topic := &t.topics[idx]
	topic.IsCompleted = !topic.IsCompleted
	if topic.IsCompleted {
		topic.Progress = 1
	} else {
		topic.Progress = 0
	}
	if topic.Synthetic {
		t.logger.Debug("Topic has no service identity, completion kept locally", "topic_id", topicID)
	} else {
		t.queue.enqueue(ctx, topicID, topic.IsCompleted)
	}
	t.version++
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.notify(snap)
	t.saveProgress(ctx)
	return snap, nil
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Pending lists completion changes not yet accepted by the service.
func (t *Tracker) Pending() []PendingSync {
	return t.queue.list()
}

// RetryPending resends parked completion changes and returns how many remain.
func (t *Tracker) RetryPending(ctx context.Context) int {
	remaining := t.queue.retry(ctx)
	t.mu.Lock()
	t.version++
	snap := t.snapshotLocked()
	t.mu.Unlock()
	t.notify(snap)
	return remaining
}

// Wait blocks until background completion sends have finished.
func (t *Tracker) Wait() {
	t.queue.wait()
}

// Close cancels an in-flight load and waits for background sends.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.generation++
	t.mu.Unlock()
	t.queue.wait()
}

// snapshotLocked must be called with mu held. Progress is always derived
// from the current topic list.
func (t *Tracker) snapshotLocked() Snapshot {
	s := Snapshot{
		Module:    t.module,
		State:     t.state.String(),
		Topics:    domain.CloneTopics(t.topics),
		Completed: domain.CompletedCount(t.topics),
		Total:     len(t.topics),
		Pending:   t.queue.len(),
		Version:   t.version,
	}
	if t.state == Ready {
		s.Progress = domain.AggregateProgress(t.topics)
	}
	return s
}

// notify delivers s unless a newer snapshot has already been delivered, so
// observers never step back to an older state.
func (t *Tracker) notify(s Snapshot) {
	if t.onChange == nil {
		return
	}
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()
	if s.Version < t.notified {
		return
	}
	t.notified = s.Version
	t.onChange(s)
}

// bookLocks serializes read-modify-write cycles on the progress book of each
// store. Every tracker sharing a store must see the others' entries.
var bookLocks sync.Map // store.Store -> *sync.Mutex

func bookLock(st store.Store) *sync.Mutex {
	mu, _ := bookLocks.LoadOrStore(st, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// saveProgress records the current module's progress in the shared progress
// book. The snapshot is taken under the book lock so the last save always
// carries the newest state.
func (t *Tracker) saveProgress(ctx context.Context) {
	if t.st == nil {
		return
	}

	mu := bookLock(t.st)
	mu.Lock()
	defer mu.Unlock()

	s := t.Snapshot()
	if s.Module.ID == "" || s.State != Ready.String() {
		return
	}

	book, err := LoadBook(ctx, t.st)
	switch {
	case errors.Is(err, ErrCorruptBook):
		t.logger.Warn("Progress book unreadable, starting fresh", "error", err)
		book = domain.ProgressBook{}
	case err != nil:
		t.logger.Warn("Failed to read progress book, skipping save", "module_id", s.Module.ID, "error", err)
		return
	}
	book[s.Module.ID] = domain.ModuleProgress{
		Progress:    s.Progress,
		IsCompleted: s.Total > 0 && s.Completed == s.Total,
		LastAccess:  time.Now().UTC(),
	}

	data, err := json.Marshal(book)
	if err != nil {
		t.logger.Warn("Failed to encode progress book", "error", err)
		return
	}
	if err := t.st.Set(context.WithoutCancel(ctx), store.KeyModuleProgress, string(data)); err != nil {
		t.logger.Warn("Failed to save module progress", "module_id", s.Module.ID, "error", err)
	}
}

// LoadBook reads the progress book. A missing record is an empty book; a
// record that cannot be decoded yields ErrCorruptBook.
func LoadBook(ctx context.Context, st store.Store) (domain.ProgressBook, error) {
	raw, found, err := st.Get(ctx, store.KeyModuleProgress)
	if err != nil {
		return nil, fmt.Errorf("read progress book: %w", err)
	}
	book := domain.ProgressBook{}
	if !found {
		return book, nil
	}
	if err := json.Unmarshal([]byte(raw), &book); err != nil {
		return nil, fmt.Errorf("decode progress book: %w: %w", ErrCorruptBook, err)
	}
	return book, nil
}
