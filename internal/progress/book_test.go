package progress

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/learnsync/internal/remote"
	"github.com/ashureev/learnsync/internal/store"
)

// flakyStore slows down reads and can fail a number of them.
type flakyStore struct {
	store.Store
	delay    time.Duration
	failGets atomic.Int32
}

var errReadFailed = errors.New("read failed")

func (s *flakyStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s.failGets.Add(-1) >= 0 {
		return "", false, errReadFailed
	}
	s.failGets.Store(0)
	time.Sleep(s.delay)
	return s.Store.Get(ctx, key)
}

func TestSaveProgress_ConcurrentSessionsKeepEveryModule(t *testing.T) {
	svc := newFakeService()
	svc.replies["A"] = topicReply{topics: rawTopics("a1", "a2")}
	svc.replies["B"] = topicReply{topics: rawTopics("b1", "b2")}
	st := &flakyStore{Store: store.NewMemory(), delay: 20 * time.Millisecond}
	set := NewSet(svc, Config{Store: st, Logger: quietLogger()}, nil)
	defer set.CloseAll()

	require.NoError(t, set.Get("s1").Load(context.Background(), module("A")))
	require.NoError(t, set.Get("s2").Load(context.Background(), module("B")))

	var wg sync.WaitGroup
	for sid, topic := range map[string]string{"s1": "a1", "s2": "b1"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := set.Get(sid).ToggleCompletion(context.Background(), topic)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	book, err := LoadBook(context.Background(), st)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, book["id-A"].Progress, 1e-9)
	assert.InDelta(t, 0.5, book["id-B"].Progress, 1e-9)
}

func TestSaveProgress_LastSaveCarriesNewestState(t *testing.T) {
	svc := newFakeService()
	svc.replies["Go"] = topicReply{topics: rawTopics("t1", "t2")}
	st := &flakyStore{Store: store.NewMemory(), delay: 10 * time.Millisecond}
	tr := NewTracker(svc, Config{Store: st, Logger: quietLogger()})
	defer tr.Close()
	require.NoError(t, tr.Load(context.Background(), module("Go")))

	var wg sync.WaitGroup
	for _, id := range []string{"t1", "t2"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tr.ToggleCompletion(context.Background(), id)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	book, err := LoadBook(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, 1.0, book["id-Go"].Progress)
	assert.True(t, book["id-Go"].IsCompleted)
}

func TestSaveProgress_ReadFailureKeepsBook(t *testing.T) {
	svc := newFakeService()
	svc.replies["A"] = topicReply{topics: rawTopics("a1", "a2")}
	svc.replies["B"] = topicReply{topics: rawTopics("b1")}
	st := &flakyStore{Store: store.NewMemory()}

	a := NewTracker(svc, Config{Store: st, Logger: quietLogger()})
	defer a.Close()
	require.NoError(t, a.Load(context.Background(), module("A")))
	_, err := a.ToggleCompletion(context.Background(), "a1")
	require.NoError(t, err)

	b := NewTracker(svc, Config{Store: st, Logger: quietLogger()})
	defer b.Close()
	require.NoError(t, b.Load(context.Background(), module("B")))

	st.failGets.Store(1)
	_, err = b.ToggleCompletion(context.Background(), "b1")
	require.NoError(t, err)

	book, err := LoadBook(context.Background(), st)
	require.NoError(t, err)
	require.Len(t, book, 2)
	assert.InDelta(t, 0.5, book["id-A"].Progress, 1e-9)
	assert.Equal(t, 0.0, book["id-B"].Progress, "save skipped while the book was unreadable")
}

func TestSaveProgress_CorruptBookStartsFresh(t *testing.T) {
	svc := newFakeService()
	svc.replies["Go"] = topicReply{topics: rawTopics("t1")}
	st := store.NewMemory()
	require.NoError(t, st.Set(context.Background(), store.KeyModuleProgress, "{not json"))

	_, err := LoadBook(context.Background(), st)
	require.ErrorIs(t, err, ErrCorruptBook)

	tr := NewTracker(svc, Config{Store: st, Logger: quietLogger()})
	defer tr.Close()
	require.NoError(t, tr.Load(context.Background(), module("Go")))

	book, err := LoadBook(context.Background(), st)
	require.NoError(t, err)
	assert.Len(t, book, 1)
	assert.Contains(t, book, "id-Go")
}

func TestToggle_RejectedSyncIsDropped(t *testing.T) {
	svc := newFakeService()
	svc.replies["Go"] = topicReply{topics: rawTopics("t1")}
	svc.setFailure(&remote.ServerError{Op: "set topic completion", StatusCode: http.StatusNotFound})
	set := NewSet(svc, Config{Logger: quietLogger()}, nil)
	defer set.CloseAll()

	tr := set.Get("s1")
	require.NoError(t, tr.Load(context.Background(), module("Go")))
	_, err := tr.ToggleCompletion(context.Background(), "t1")
	require.NoError(t, err)
	tr.Wait()

	assert.Empty(t, tr.Pending())
	assert.True(t, tr.Snapshot().Topics[0].IsCompleted, "local flip must be kept")
	assert.Equal(t, 0, set.RetryPending(context.Background()))

	svc.mu.Lock()
	sends := len(svc.completions)
	svc.mu.Unlock()
	assert.Equal(t, 1, sends)

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, set.Sweep(time.Millisecond))
}

func TestToggle_SyntheticTopicStaysLocal(t *testing.T) {
	svc := newFakeService()
	svc.replies["Go"] = topicReply{topics: []remote.RawTopic{{Title: "Unnamed"}}}
	tr := NewTracker(svc, Config{Logger: quietLogger()})
	defer tr.Close()
	require.NoError(t, tr.Load(context.Background(), module("Go")))

	snap := tr.Snapshot()
	require.Len(t, snap.Topics, 1)
	assert.Equal(t, "topic-1", snap.Topics[0].ID)
	assert.True(t, snap.Topics[0].Synthetic)

	snap, err := tr.ToggleCompletion(context.Background(), "topic-1")
	require.NoError(t, err)
	tr.Wait()

	assert.True(t, snap.Topics[0].IsCompleted)
	assert.Equal(t, 0, snap.Pending)
	_, sent := svc.lastCompletion("topic-1")
	assert.False(t, sent)
}

func TestOnChange_DeliversIncreasingVersions(t *testing.T) {
	svc := newFakeService()
	ids := []string{"t1", "t2", "t3", "t4", "t5", "t6"}
	svc.replies["Go"] = topicReply{topics: rawTopics(ids...)}

	var (
		mu       sync.Mutex
		versions []uint64
	)
	tr := NewTracker(svc, Config{Logger: quietLogger(), OnChange: func(s Snapshot) {
		mu.Lock()
		versions = append(versions, s.Version)
		mu.Unlock()
	}})
	defer tr.Close()
	require.NoError(t, tr.Load(context.Background(), module("Go")))

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tr.ToggleCompletion(context.Background(), id)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	tr.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, versions)
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Fatalf("expected increasing versions, got %v", versions)
		}
	}
	assert.Equal(t, tr.Snapshot().Version, versions[len(versions)-1])
}
