package conversation

import (
	"errors"
	"time"

	"github.com/ashureev/learnsync/internal/cache"
	"github.com/ashureev/learnsync/internal/domain"
	"github.com/ashureev/learnsync/internal/remote"
)

// EventType names what changed in a conversation.
type EventType string

const (
	EventMessage      EventType = "message"
	EventState        EventType = "state"
	EventNotice       EventType = "notice"
	EventPrompt       EventType = "prompt"
	EventPromptClosed EventType = "prompt_closed"
	EventReset        EventType = "reset"
)

// Event is published to the engine's sink after each observable change.
type Event struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Message   *domain.Message `json:"message,omitempty"`
	State     string          `json:"state,omitempty"`
	Notice    *Notice         `json:"notice,omitempty"`
	Prompt    *Prompt         `json:"prompt,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NoticeKind classifies a non-fatal failure shown to the user.
type NoticeKind string

const (
	NoticeTransport   NoticeKind = "transport"
	NoticeServer      NoticeKind = "server"
	NoticeMalformed   NoticeKind = "malformed"
	NoticePersistence NoticeKind = "persistence"
)

// Notice is a dismissible error message. The conversation stays usable.
type Notice struct {
	Kind NoticeKind `json:"kind"`
	Text string     `json:"text"`
}

// Prompt offers the user to open the recommended modules.
type Prompt struct {
	ID      string          `json:"id"`
	Text    string          `json:"text"`
	Modules []domain.Module `json:"modules"`
}

func noticeFor(err error) Notice {
	switch {
	case errors.Is(err, cache.ErrPersistence):
		return Notice{Kind: NoticePersistence, Text: "Recommendations could not be saved on this device."}
	case remote.IsServer(err):
		return Notice{Kind: NoticeServer, Text: "The assistant could not process your message. Please try again."}
	case remote.IsMalformed(err):
		return Notice{Kind: NoticeMalformed, Text: "The assistant sent an unexpected reply. Please try again."}
	default:
		return Notice{Kind: NoticeTransport, Text: "Could not reach the assistant. Check your connection and try again."}
	}
}
