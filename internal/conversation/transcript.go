package conversation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

const (
	defaultTranscriptQueueSize = 256
	maxOpenTranscripts         = 64

	// transcriptEventTeardown is the last entry of a session; its file is
	// closed once the entry is written.
	transcriptEventTeardown = "teardown"
)

// TranscriptEntry is one line of a conversation transcript.
type TranscriptEntry struct {
	Timestamp time.Time `json:"ts"`
	SessionID string    `json:"session_id"`
	EventType string    `json:"event_type"`
	Sender    string    `json:"sender,omitempty"`
	Content   string    `json:"content,omitempty"`
}

// TranscriptLogger records conversation transcripts.
type TranscriptLogger interface {
	Log(entry TranscriptEntry)
	Close() error
}

// TranscriptConfig configures the file transcript logger.
type TranscriptConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// NewTranscriptLogger returns a logger writing one NDJSON file per session
// under cfg.Dir, or a no-op logger when disabled.
func NewTranscriptLogger(cfg TranscriptConfig, logger *slog.Logger) (TranscriptLogger, error) {
	if !cfg.Enabled {
		return nopTranscript{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("transcript directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultTranscriptQueueSize
	}

	t := &fileTranscript{
		dir:    cfg.Dir,
		queue:  make(chan TranscriptEntry, cfg.QueueSize),
		files:  make(map[string]*openTranscript),
		logger: logger,
		done:   make(chan struct{}),
	}
	go t.run()
	return t, nil
}

type nopTranscript struct{}

func (nopTranscript) Log(TranscriptEntry) {}
func (nopTranscript) Close() error        { return nil }

// fileTranscript writes entries asynchronously. Log never blocks the caller:
// when the queue is full the oldest pending entry is dropped.
type fileTranscript struct {
	dir    string
	queue  chan TranscriptEntry
	logger *slog.Logger
	done   chan struct{}

	filesMu sync.Mutex
	files   map[string]*openTranscript
	writes  uint64

	mu     sync.RWMutex
	closed bool
}

func (t *fileTranscript) Log(entry TranscriptEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}

	select {
	case t.queue <- entry:
		return
	default:
	}

	// Queue full: drop the oldest entry to make room.
	select {
	case <-t.queue:
		t.logger.Warn("Transcript queue full, dropped oldest entry", "session_id", entry.SessionID)
	default:
	}
	select {
	case t.queue <- entry:
	default:
		t.logger.Warn("Failed to queue transcript entry", "session_id", entry.SessionID)
	}
}

func (t *fileTranscript) run() {
	defer close(t.done)
	for entry := range t.queue {
		if err := t.write(entry); err != nil {
			t.logger.Warn("Failed to write transcript entry", "session_id", entry.SessionID, "error", err)
		}
	}
	t.filesMu.Lock()
	defer t.filesMu.Unlock()
	for id := range t.files {
		t.closeLocked(id)
	}
}

type openTranscript struct {
	f        *os.File
	lastUsed uint64
}

func (t *fileTranscript) write(entry TranscriptEntry) error {
	t.filesMu.Lock()
	defer t.filesMu.Unlock()

	if entry.EventType == transcriptEventTeardown {
		defer t.closeLocked(entry.SessionID)
	}

	of, ok := t.files[entry.SessionID]
	if !ok {
		if len(t.files) >= maxOpenTranscripts {
			t.closeLocked(t.leastRecentLocked())
		}
		path := filepath.Join(t.dir, transcriptFileName(entry.SessionID))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open transcript: %w", err)
		}
		of = &openTranscript{f: f}
		t.files[entry.SessionID] = of
	}
	t.writes++
	of.lastUsed = t.writes

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	if _, err := of.f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}

// closeLocked closes the file of sessionID. filesMu must be held.
func (t *fileTranscript) closeLocked(sessionID string) {
	of, ok := t.files[sessionID]
	if !ok {
		return
	}
	delete(t.files, sessionID)
	if err := of.f.Close(); err != nil {
		t.logger.Warn("Failed to close transcript file", "session_id", sessionID, "error", err)
	}
}

func (t *fileTranscript) leastRecentLocked() string {
	var (
		oldest string
		least  uint64
	)
	for id, of := range t.files {
		if oldest == "" || of.lastUsed < least {
			oldest, least = id, of.lastUsed
		}
	}
	return oldest
}

func (t *fileTranscript) openFiles() int {
	t.filesMu.Lock()
	defer t.filesMu.Unlock()
	return len(t.files)
}

// Close flushes queued entries and closes all files.
func (t *fileTranscript) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.queue)
	t.mu.Unlock()

	select {
	case <-t.done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("transcript flush timed out")
	}
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// transcriptFileName keeps the readable part of sessionID and appends a short
// hash, so IDs that differ only in unsafe characters get separate files.
func transcriptFileName(sessionID string) string {
	if sessionID == "" {
		sessionID = "default"
	}
	sum := sha256.Sum256([]byte(sessionID))
	return unsafeFileChars.ReplaceAllString(sessionID, "_") + "-" + hex.EncodeToString(sum[:4]) + ".ndjson"
}
