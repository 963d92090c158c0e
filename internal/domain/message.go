package domain

import (
	"time"

	"github.com/google/uuid"
)

// Sender identifies who authored a conversation message.
type Sender string

const (
	// SenderUser marks a message typed by the learner.
	SenderUser Sender = "user"
	// SenderAssistant marks a reply from the remote assistant.
	SenderAssistant Sender = "assistant"
)

// Message is a single entry in a conversation history.
type Message struct {
	ID        string    `json:"id"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a message stamped with a fresh ID and the current time.
func NewMessage(sender Sender, text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Text:      text,
		Timestamp: time.Now(),
	}
}
