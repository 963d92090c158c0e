package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/learnsync/internal/conversation"
)

func dialEvents(t *testing.T, h *harness, sessionID string) (*websocket.Conn, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h.router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/events?session_id=" + sessionID
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Failed to dial event stream: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn, srv
}

func readFrame(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("Failed to decode frame %q: %v", data, err)
	}
	return env
}

// waitForKind reads frames until one of kind arrives.
func waitForKind(t *testing.T, conn *websocket.Conn, kind string) Envelope {
	t.Helper()
	for i := 0; i < 50; i++ {
		if env := readFrame(t, conn); env.Kind == kind {
			return env
		}
	}
	t.Fatalf("no %s frame received", kind)
	return Envelope{}
}

func waitForSubscribers(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for hub.Subscribers() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, got %d", n, hub.Subscribers())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEvents_FirstFrameIsSnapshot(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	conn, _ := dialEvents(t, h, "s1")

	env := readFrame(t, conn)
	if env.Kind != KindSnapshot {
		t.Fatalf("expected snapshot frame, got %s", env.Kind)
	}
	if env.SessionID != "s1" {
		t.Fatalf("expected session s1, got %q", env.SessionID)
	}
}

func TestEvents_PingPong(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	conn, _ := dialEvents(t, h, "s1")
	readFrame(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("Failed to send ping: %v", err)
	}
	waitForKind(t, conn, KindPong)
}

func TestEvents_ConversationAndModulesFanOut(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.backend.set(func(b *backend) {
		b.chatBody = `{"status":"success","message":"ok","modules":[{"id":"m1","name":"Go","description":"d"}]}`
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mods, unsubscribe := h.cache.Subscribe()
	defer unsubscribe()
	go h.hub.Run(ctx, h.engines.Events(), mods)

	mine, _ := dialEvents(t, h, "s1")
	other, _ := dialEvents(t, h, "s2")
	readFrame(t, mine)
	readFrame(t, other)
	waitForSubscribers(t, h.hub, 2)

	rec := h.do(t, http.MethodPost, "/api/chat", `{"message":"hi"}`, "s1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	env := waitForKind(t, mine, KindConversation)
	if env.SessionID != "s1" {
		t.Fatalf("expected conversation frame for s1, got %q", env.SessionID)
	}
	raw, _ := json.Marshal(env.Data)
	var ev conversation.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatalf("Failed to decode event: %v", err)
	}
	if ev.Type == "" {
		t.Fatal("expected a typed conversation event")
	}

	// The other session sees the shared module change but none of s1's turn.
	for {
		env := readFrame(t, other)
		if env.Kind == KindConversation {
			t.Fatalf("session s2 received s1 conversation frame")
		}
		if env.Kind == KindModules {
			break
		}
	}
}

func TestOriginPatterns(t *testing.T) {
	got := originPatterns([]string{"http://localhost:5173", "https://app.example.com"})
	if len(got) != 2 || got[0] != "localhost:5173" || got[1] != "app.example.com" {
		t.Fatalf("unexpected patterns %v", got)
	}
	if got := originPatterns([]string{"http://a.test", "*"}); len(got) != 1 || got[0] != "*" {
		t.Fatalf("expected wildcard, got %v", got)
	}
}
