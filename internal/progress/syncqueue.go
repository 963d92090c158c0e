package progress

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/learnsync/internal/remote"
)

// CompletionSetter pushes a topic's completion flag to the service.
type CompletionSetter interface {
	SetTopicCompletion(ctx context.Context, topicID string, completed bool) error
}

type pendingSync struct {
	desired  bool
	version  uint64
	inFlight bool
	attempts int
	lastErr  error
}

// PendingSync describes a completion change the service has not acknowledged.
type PendingSync struct {
	TopicID   string `json:"topic_id"`
	Completed bool   `json:"completed"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
}

// syncQueue holds the latest desired completion per topic until the service
// accepts it. Sends for one topic are sequential, so the service always ends
// up with the newest value.
type syncQueue struct {
	setter  CompletionSetter
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingSync
	wg      sync.WaitGroup
}

func newSyncQueue(setter CompletionSetter, timeout time.Duration, logger *slog.Logger) *syncQueue {
	return &syncQueue{
		setter:  setter,
		timeout: timeout,
		logger:  logger,
		pending: make(map[string]*pendingSync),
	}
}

// enqueue records the desired value and starts a background send unless one
// is already running for the topic.
func (q *syncQueue) enqueue(ctx context.Context, topicID string, completed bool) {
	q.mu.Lock()
	p, ok := q.pending[topicID]
	if !ok {
		p = &pendingSync{}
		q.pending[topicID] = p
	}
	p.desired = completed
	p.version++
	start := !p.inFlight
	if start {
		p.inFlight = true
		q.wg.Add(1)
	}
	q.mu.Unlock()

	if start {
		go func() {
			defer q.wg.Done()
			q.drain(ctx, topicID)
		}()
	}
}

// retry replays every parked entry and returns how many remain pending.
func (q *syncQueue) retry(ctx context.Context) int {
	q.mu.Lock()
	var ids []string
	for id, p := range q.pending {
		if !p.inFlight {
			p.inFlight = true
			ids = append(ids, id)
		}
	}
	q.mu.Unlock()

	sort.Strings(ids)
	for _, id := range ids {
		if ctx.Err() != nil {
			q.release(id)
			continue
		}
		q.drain(ctx, id)
	}
	return q.len()
}

// drain sends the desired value for topicID until the service has the latest
// version or a send fails. A send the service rejects with a 4xx is dropped
// instead of parked. The caller must have set inFlight.
func (q *syncQueue) drain(ctx context.Context, topicID string) {
	for {
		q.mu.Lock()
		p := q.pending[topicID]
		desired, version := p.desired, p.version
		p.attempts++
		q.mu.Unlock()

		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.timeout)
		err := q.setter.SetTopicCompletion(sendCtx, topicID, desired)
		cancel()

		q.mu.Lock()
		if err != nil {
			p.lastErr = err
			attempts := p.attempts
			if p.version != version {
				// A newer toggle arrived during the failed send; try that one.
				q.mu.Unlock()
				continue
			}
			if remote.IsRejected(err) {
				delete(q.pending, topicID)
				q.mu.Unlock()
				q.logger.Warn("Completion rejected by service, keeping local change only",
					"topic_id", topicID, "completed", desired, "attempts", attempts, "error", err)
				return
			}
			p.inFlight = false
			q.mu.Unlock()
			q.logger.Warn("Completion sync failed, parked for retry",
				"topic_id", topicID, "completed", desired, "attempts", attempts, "error", err)
			return
		}
		if p.version == version {
			delete(q.pending, topicID)
			q.mu.Unlock()
			q.logger.Debug("Completion synced", "topic_id", topicID, "completed", desired)
			return
		}
		// Superseded while in flight; send the newer value.
		q.mu.Unlock()
	}
}

func (q *syncQueue) release(topicID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if p, ok := q.pending[topicID]; ok {
		p.inFlight = false
	}
}

func (q *syncQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *syncQueue) list() []PendingSync {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]PendingSync, 0, len(q.pending))
	for id, p := range q.pending {
		ps := PendingSync{TopicID: id, Completed: p.desired, Attempts: p.attempts}
		if p.lastErr != nil {
			ps.LastError = p.lastErr.Error()
		}
		out = append(out, ps)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TopicID < out[j].TopicID })
	return out
}

// wait blocks until background sends finish.
func (q *syncQueue) wait() {
	q.wg.Wait()
}
