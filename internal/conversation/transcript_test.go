package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ashureev/learnsync/internal/remote"
)

func TestTranscriptLoggerWritesPerSessionNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewTranscriptLogger(TranscriptConfig{
		Enabled:   true,
		Dir:       dir,
		QueueSize: 16,
	}, quietLogger())
	if err != nil {
		t.Fatalf("NewTranscriptLogger failed: %v", err)
	}

	logger.Log(TranscriptEntry{
		SessionID: "sess-1",
		EventType: "user_message",
		Sender:    "user",
		Content:   "teach me go",
	})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, transcriptFileName("sess-1")))
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	var got TranscriptEntry
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &got); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	if got.Content != "teach me go" {
		t.Fatalf("unexpected Content: %q", got.Content)
	}
	if got.Timestamp.IsZero() {
		t.Fatal("expected timestamp to be populated")
	}
}

func TestTranscriptLoggerRecordsEngineTurn(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	transcript, err := NewTranscriptLogger(TranscriptConfig{Enabled: true, Dir: dir}, quietLogger())
	if err != nil {
		t.Fatalf("NewTranscriptLogger failed: %v", err)
	}

	e := NewEngine(&fakeChatter{resp: &remote.ChatResponse{Message: "hello back"}}, &fakeSink{},
		WithSessionID("tab/../1"), WithTranscript(transcript), WithLogger(quietLogger()))
	if err := e.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	_ = transcript.Close()

	path := filepath.Join(dir, transcriptFileName("tab/../1"))
	if !strings.HasPrefix(filepath.Base(path), "tab____1-") {
		t.Fatalf("expected sanitized name, got %s", path)
	}
	waitFor(t, func() bool {
		data, err := os.ReadFile(path)
		return err == nil && strings.Count(string(data), "\n") == 2
	})
}

func TestTranscriptLoggerDisabledIsNoop(t *testing.T) {
	t.Parallel()

	logger, err := NewTranscriptLogger(TranscriptConfig{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	logger.Log(TranscriptEntry{SessionID: "x"})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestTranscriptLoggerLogAfterCloseIsIgnored(t *testing.T) {
	t.Parallel()

	logger, err := NewTranscriptLogger(TranscriptConfig{Enabled: true, Dir: t.TempDir()}, quietLogger())
	if err != nil {
		t.Fatalf("NewTranscriptLogger failed: %v", err)
	}
	_ = logger.Close()
	logger.Log(TranscriptEntry{SessionID: "late"})
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestTranscriptFileNameDistinguishesSanitizedIDs(t *testing.T) {
	t.Parallel()

	if transcriptFileName("a.b") == transcriptFileName("a_b") {
		t.Fatalf("expected distinct names, got %s for both", transcriptFileName("a.b"))
	}
	if transcriptFileName("a.b") != transcriptFileName("a.b") {
		t.Fatal("expected stable name")
	}
}

func TestTranscriptLoggerClosesFileOnTeardown(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewTranscriptLogger(TranscriptConfig{Enabled: true, Dir: dir}, quietLogger())
	if err != nil {
		t.Fatalf("NewTranscriptLogger failed: %v", err)
	}
	defer logger.Close()
	ft := logger.(*fileTranscript)

	e := NewEngine(&fakeChatter{resp: &remote.ChatResponse{Message: "hi"}}, &fakeSink{},
		WithSessionID("gone"), WithTranscript(logger), WithLogger(quietLogger()))
	if err := e.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	waitFor(t, func() bool { return ft.openFiles() == 1 })

	e.Teardown()
	waitFor(t, func() bool { return ft.openFiles() == 0 })

	data, err := os.ReadFile(filepath.Join(dir, transcriptFileName("gone")))
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	if !strings.Contains(string(data), `"event_type":"teardown"`) {
		t.Fatalf("expected teardown entry, got %s", data)
	}
}

func TestTranscriptLoggerBoundsOpenFiles(t *testing.T) {
	t.Parallel()

	logger, err := NewTranscriptLogger(TranscriptConfig{Enabled: true, Dir: t.TempDir()}, quietLogger())
	if err != nil {
		t.Fatalf("NewTranscriptLogger failed: %v", err)
	}
	defer logger.Close()
	ft := logger.(*fileTranscript)

	for i := 0; i < maxOpenTranscripts+10; i++ {
		if err := ft.write(TranscriptEntry{SessionID: fmt.Sprintf("s-%d", i), EventType: "user_message"}); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}
	if got := ft.openFiles(); got != maxOpenTranscripts {
		t.Fatalf("expected %d open files, got %d", maxOpenTranscripts, got)
	}
}
