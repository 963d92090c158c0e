package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/learnsync/internal/cache"
	"github.com/ashureev/learnsync/internal/domain"
	"github.com/ashureev/learnsync/internal/remote"
	"github.com/ashureev/learnsync/internal/store"
)

type fakeChatter struct {
	mu      sync.Mutex
	calls   []string
	resp    *remote.ChatResponse
	err     error
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeChatter) Chat(ctx context.Context, message string) (*remote.ChatResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, message)
	resp, err, block, entered := f.resp, f.err, f.block, f.entered
	f.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, &remote.TransportError{Op: "chat", Err: ctx.Err()}
		}
	}
	return resp, err
}

func (f *fakeChatter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSink struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSink) Replace(_ context.Context, _ []domain.Module) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func TestState_String(t *testing.T) {
	t.Parallel()
	cases := map[State]string{Idle: "idle", Sending: "sending", Succeeded: "succeeded", Failed: "failed", State(9): "unknown"}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
}

func TestSend_EmptyOrWhitespaceIsNoop(t *testing.T) {
	t.Parallel()
	chat := &fakeChatter{resp: &remote.ChatResponse{Message: "hi"}}
	e := NewEngine(chat, &fakeSink{}, WithLogger(quietLogger()))

	for _, text := range []string{"", "   ", "\n\t"} {
		if err := e.Send(context.Background(), text); !errors.Is(err, ErrEmptyMessage) {
			t.Fatalf("expected ErrEmptyMessage for %q, got %v", text, err)
		}
	}

	snap := e.Snapshot()
	if len(snap.Messages) != 0 {
		t.Fatalf("expected no messages, got %d", len(snap.Messages))
	}
	if snap.State != "idle" {
		t.Fatalf("expected idle, got %s", snap.State)
	}
	if chat.callCount() != 0 {
		t.Fatalf("expected no requests, got %d", chat.callCount())
	}
}

func TestSend_RejectsWhileSending(t *testing.T) {
	t.Parallel()
	chat := &fakeChatter{
		resp:    &remote.ChatResponse{Message: "answer"},
		block:   make(chan struct{}),
		entered: make(chan struct{}),
	}
	e := NewEngine(chat, &fakeSink{}, WithLogger(quietLogger()))

	done := make(chan error, 1)
	go func() { done <- e.Send(context.Background(), "first") }()
	<-chat.entered

	if got := e.State(); got != Sending {
		t.Fatalf("expected Sending, got %s", got)
	}
	if err := e.Send(context.Background(), "second"); !errors.Is(err, ErrTurnInProgress) {
		t.Fatalf("expected ErrTurnInProgress, got %v", err)
	}
	if n := len(e.Snapshot().Messages); n != 1 {
		t.Fatalf("expected only the first user message, got %d", n)
	}

	close(chat.block)
	if err := <-done; err != nil {
		t.Fatalf("first send failed: %v", err)
	}
	if chat.callCount() != 1 {
		t.Fatalf("expected exactly one request, got %d", chat.callCount())
	}
	if e.State() != Idle {
		t.Fatalf("expected Idle after reply, got %s", e.State())
	}
}

func TestSend_HandsOffModulesAndPrompts(t *testing.T) {
	t.Parallel()
	recommended := []domain.Module{
		{ID: "A", Name: "Intro to Python", Description: "basics"},
		{ID: "B", Name: "Data Structures", Description: "lists and maps"},
	}
	chat := &fakeChatter{resp: &remote.ChatResponse{Status: "success", Message: "Here are some modules", Modules: recommended}}
	sessionCache := cache.New(context.Background(), store.NewMemory(), quietLogger())
	e := NewEngine(chat, sessionCache, WithLogger(quietLogger()))

	if err := e.Send(context.Background(), "  teach me python  "); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if chat.calls[0] != "teach me python" {
		t.Fatalf("expected trimmed message, got %q", chat.calls[0])
	}
	snap := e.Snapshot()
	if len(snap.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(snap.Messages))
	}
	if snap.Messages[0].Sender != domain.SenderUser || snap.Messages[1].Sender != domain.SenderAssistant {
		t.Fatalf("unexpected message order: %+v", snap.Messages)
	}
	if snap.Messages[1].Text != "Here are some modules" {
		t.Fatalf("unexpected assistant text %q", snap.Messages[1].Text)
	}
	if got := sessionCache.Read(); len(got) != 2 || got[0].ID != "A" || got[1].ID != "B" {
		t.Fatalf("expected cache to hold [A B], got %+v", got)
	}
	if snap.Prompt == nil || len(snap.Prompt.Modules) != 2 {
		t.Fatalf("expected pending prompt with modules, got %+v", snap.Prompt)
	}

	modules, err := e.Accept()
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if len(modules) != 2 || modules[0].ID != "A" {
		t.Fatalf("unexpected accepted modules %+v", modules)
	}
	if e.Snapshot().Prompt != nil {
		t.Fatal("expected prompt resolved")
	}
	if chat.callCount() != 1 {
		t.Fatalf("accepting must not re-issue the request, got %d calls", chat.callCount())
	}
	if _, err := e.Accept(); !errors.Is(err, ErrNoPrompt) {
		t.Fatalf("expected ErrNoPrompt, got %v", err)
	}
}

func TestSend_NoModulesNoPrompt(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	e := NewEngine(&fakeChatter{resp: &remote.ChatResponse{Message: "Hello!"}}, sink, WithLogger(quietLogger()))

	if err := e.Send(context.Background(), "hi"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if e.Snapshot().Prompt != nil {
		t.Fatal("expected no prompt")
	}
	if sink.calls != 0 {
		t.Fatalf("expected no cache write, got %d", sink.calls)
	}
}

func TestSend_FailureRaisesNoticeAndAllowsResend(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		kind NoticeKind
	}{
		{&remote.ServerError{Op: "chat", StatusCode: 500}, NoticeServer},
		{&remote.TransportError{Op: "chat", Err: errors.New("refused")}, NoticeTransport},
		{&remote.MalformedResponseError{Op: "chat", Reason: "invalid JSON"}, NoticeMalformed},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			chat := &fakeChatter{err: tt.err}
			e := NewEngine(chat, &fakeSink{}, WithLogger(quietLogger()))

			err := e.Send(context.Background(), "hello")
			if !errors.Is(err, tt.err) {
				t.Fatalf("expected wrapped remote error, got %v", err)
			}

			snap := e.Snapshot()
			if len(snap.Messages) != 1 || snap.Messages[0].Sender != domain.SenderUser {
				t.Fatalf("expected only the user message, got %+v", snap.Messages)
			}
			if snap.Notice == nil || snap.Notice.Kind != tt.kind {
				t.Fatalf("expected %s notice, got %+v", tt.kind, snap.Notice)
			}
			if snap.State != "idle" {
				t.Fatalf("expected idle, got %s", snap.State)
			}

			chat.mu.Lock()
			chat.err = nil
			chat.resp = &remote.ChatResponse{Message: "back online"}
			chat.mu.Unlock()

			if err := e.Send(context.Background(), "hello again"); err != nil {
				t.Fatalf("resend failed: %v", err)
			}
			snap = e.Snapshot()
			if len(snap.Messages) != 3 {
				t.Fatalf("expected 3 messages after resend, got %d", len(snap.Messages))
			}
			if snap.Notice != nil {
				t.Fatalf("expected notice cleared by new send, got %+v", snap.Notice)
			}
		})
	}
}

func TestSend_CacheFailureKeepsReplyWithoutPrompt(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{err: fmt.Errorf("%w: disk full", cache.ErrPersistence)}
	chat := &fakeChatter{resp: &remote.ChatResponse{Message: "Try these", Modules: []domain.Module{{ID: "A"}}}}
	e := NewEngine(chat, sink, WithLogger(quietLogger()))

	if err := e.Send(context.Background(), "recommend"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	snap := e.Snapshot()
	if len(snap.Messages) != 2 {
		t.Fatalf("expected assistant reply kept, got %d messages", len(snap.Messages))
	}
	if snap.Prompt != nil {
		t.Fatal("expected no prompt when modules were not cached")
	}
	if snap.Notice == nil || snap.Notice.Kind != NoticePersistence {
		t.Fatalf("expected persistence notice, got %+v", snap.Notice)
	}
}

func TestTeardown_DiscardsLateReply(t *testing.T) {
	t.Parallel()
	chat := &fakeChatter{
		resp:    &remote.ChatResponse{Message: "late", Modules: []domain.Module{{ID: "A"}}},
		block:   make(chan struct{}),
		entered: make(chan struct{}),
	}
	sink := &fakeSink{}
	e := NewEngine(chat, sink, WithLogger(quietLogger()))

	done := make(chan error, 1)
	go func() { done <- e.Send(context.Background(), "hello") }()
	<-chat.entered

	e.Teardown()

	if err := <-done; !errors.Is(err, ErrTornDown) {
		t.Fatalf("expected ErrTornDown, got %v", err)
	}
	snap := e.Snapshot()
	if len(snap.Messages) != 0 || snap.Prompt != nil || snap.Notice != nil {
		t.Fatalf("expected empty conversation, got %+v", snap)
	}
	if sink.calls != 0 {
		t.Fatalf("expected no cache write after teardown, got %d", sink.calls)
	}
	if e.State() != Idle {
		t.Fatalf("expected Idle, got %s", e.State())
	}
}

func TestDecline_KeepsCache(t *testing.T) {
	t.Parallel()
	sessionCache := cache.New(context.Background(), store.NewMemory(), quietLogger())
	chat := &fakeChatter{resp: &remote.ChatResponse{Message: "ok", Modules: []domain.Module{{ID: "A"}}}}
	e := NewEngine(chat, sessionCache, WithLogger(quietLogger()))

	if err := e.Send(context.Background(), "go"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := e.Decline(); err != nil {
		t.Fatalf("Decline failed: %v", err)
	}
	if err := e.Decline(); !errors.Is(err, ErrNoPrompt) {
		t.Fatalf("expected ErrNoPrompt, got %v", err)
	}
	if got := sessionCache.Read(); len(got) != 1 {
		t.Fatalf("expected cached modules kept, got %+v", got)
	}
}

func TestEvents_PublishedInOrder(t *testing.T) {
	t.Parallel()
	events := make(chan Event, 16)
	chat := &fakeChatter{resp: &remote.ChatResponse{Message: "ok", Modules: []domain.Module{{ID: "A"}}}}
	e := NewEngine(chat, &fakeSink{}, WithEvents(events), WithSessionID("sess-1"), WithLogger(quietLogger()))

	if err := e.Send(context.Background(), "go"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	close(events)

	var got []string
	for ev := range events {
		if ev.SessionID != "sess-1" {
			t.Fatalf("expected session id on event, got %q", ev.SessionID)
		}
		label := string(ev.Type)
		if ev.Type == EventState {
			label += ":" + ev.State
		}
		got = append(got, label)
	}

	want := []string{"message", "state:sending", "message", "state:succeeded", "prompt", "state:idle"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
}

func TestEvents_FullSinkDoesNotBlock(t *testing.T) {
	t.Parallel()
	events := make(chan Event)
	e := NewEngine(&fakeChatter{resp: &remote.ChatResponse{Message: "ok"}}, &fakeSink{}, WithEvents(events), WithLogger(quietLogger()))

	done := make(chan error, 1)
	go func() { done <- e.Send(context.Background(), "hi") }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Send blocked on a full event sink")
	}
}
