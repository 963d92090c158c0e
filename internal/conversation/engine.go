package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/learnsync/internal/domain"
	"github.com/ashureev/learnsync/internal/remote"
)

// Engine errors.
var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrTurnInProgress = errors.New("a message is already being sent")
	ErrNoPrompt       = errors.New("no pending prompt")
	ErrTornDown       = errors.New("conversation was reset")
)

// Chatter sends one chat message to the assistant.
type Chatter interface {
	Chat(ctx context.Context, message string) (*remote.ChatResponse, error)
}

// ModuleSink receives recommended modules handed off by a reply.
type ModuleSink interface {
	Replace(ctx context.Context, modules []domain.Module) error
}

// Ensure the remote client satisfies Chatter.
var _ Chatter = (*remote.Client)(nil)

const promptText = "I found some learning modules for you. Would you like to view them?"

// Option configures an Engine.
type Option func(*Engine)

// WithSessionID tags events and transcript entries with the client session.
func WithSessionID(id string) Option {
	return func(e *Engine) {
		e.sessionID = id
	}
}

// WithEvents sets the channel receiving engine events. Sends never block;
// events are dropped when the channel is full.
func WithEvents(ch chan<- Event) Option {
	return func(e *Engine) {
		e.events = ch
	}
}

// WithTranscript sets the transcript logger.
func WithTranscript(t TranscriptLogger) Option {
	return func(e *Engine) {
		e.transcript = t
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// Snapshot is a copy of the conversation state.
type Snapshot struct {
	SessionID string           `json:"session_id,omitempty"`
	State     string           `json:"state"`
	Messages  []domain.Message `json:"messages"`
	Prompt    *Prompt          `json:"prompt,omitempty"`
	Notice    *Notice          `json:"notice,omitempty"`
}

// Engine holds one conversation: its history, turn state and pending prompt.
// It allows a single outstanding request at a time.
type Engine struct {
	chat       Chatter
	sink       ModuleSink
	sessionID  string
	events     chan<- Event
	transcript TranscriptLogger
	logger     *slog.Logger

	mu         sync.Mutex
	state      State
	messages   []domain.Message
	prompt     *Prompt
	notice     *Notice
	generation uint64
	cancel     context.CancelFunc
}

// NewEngine creates an idle conversation.
func NewEngine(chat Chatter, sink ModuleSink, opts ...Option) *Engine {
	e := &Engine{
		chat:  chat,
		sink:  sink,
		state: Idle,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.transcript == nil {
		e.transcript = nopTranscript{}
	}
	return e
}

// Send appends the user message and sends it to the assistant, blocking until
// the turn ends. Empty text and sends during an outstanding turn are rejected
// without side effects. A failed turn raises a Notice and returns the cause.
func (e *Engine) Send(ctx context.Context, text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ErrEmptyMessage
	}

	e.mu.Lock()
	if e.state == Sending {
		e.mu.Unlock()
		return ErrTurnInProgress
	}
	userMsg := domain.NewMessage(domain.SenderUser, trimmed)
	e.messages = append(e.messages, userMsg)
	e.state = Sending
	e.notice = nil
	gen := e.generation
	reqCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()
	defer cancel()

	e.emit(Event{Type: EventMessage, Message: &userMsg})
	e.emit(Event{Type: EventState, State: Sending.String()})
	e.record("user_message", string(domain.SenderUser), trimmed)

	resp, err := e.chat.Chat(reqCtx, trimmed)
	if err == nil && resp == nil {
		err = &remote.MalformedResponseError{Op: "chat", Reason: "empty reply"}
	}
	if err != nil {
		return e.fail(gen, err)
	}

	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		return ErrTornDown
	}
	reply := domain.NewMessage(domain.SenderAssistant, resp.Message)
	e.messages = append(e.messages, reply)
	e.mu.Unlock()

	e.emit(Event{Type: EventMessage, Message: &reply})
	e.record("assistant_message", string(domain.SenderAssistant), resp.Message)

	var (
		prompt *Prompt
		notice *Notice
	)
	if len(resp.Modules) > 0 {
		// The reply has arrived; finish the hand-off even if the caller goes away.
		if err := e.sink.Replace(context.WithoutCancel(reqCtx), resp.Modules); err != nil {
			e.logger.Warn("Failed to cache recommended modules", "session_id", e.sessionID, "modules", len(resp.Modules), "error", err)
			n := noticeFor(err)
			notice = &n
		} else {
			prompt = &Prompt{
				ID:      uuid.NewString(),
				Text:    promptText,
				Modules: domain.CloneModules(resp.Modules),
			}
		}
	}

	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		return ErrTornDown
	}
	e.cancel = nil
	e.prompt = prompt
	e.notice = notice
	e.state = Idle
	e.mu.Unlock()

	e.emit(Event{Type: EventState, State: Succeeded.String()})
	if notice != nil {
		e.emit(Event{Type: EventNotice, Notice: notice})
	}
	if prompt != nil {
		e.emit(Event{Type: EventPrompt, Prompt: prompt})
		e.record("prompt", string(domain.SenderAssistant), fmt.Sprintf("%d modules recommended", len(prompt.Modules)))
	}
	e.emit(Event{Type: EventState, State: Idle.String()})
	return nil
}

func (e *Engine) fail(gen uint64, err error) error {
	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		return ErrTornDown
	}
	n := noticeFor(err)
	e.cancel = nil
	e.notice = &n
	e.state = Idle
	e.mu.Unlock()

	e.logger.Warn("Chat request failed", "session_id", e.sessionID, "notice", n.Kind, "error", err)
	e.record("error", "system", err.Error())

	e.emit(Event{Type: EventState, State: Failed.String()})
	e.emit(Event{Type: EventNotice, Notice: &n})
	e.emit(Event{Type: EventState, State: Idle.String()})
	return fmt.Errorf("send message: %w", err)
}

// Accept resolves the pending prompt and returns its modules for navigation.
func (e *Engine) Accept() ([]domain.Module, error) {
	e.mu.Lock()
	p := e.prompt
	e.prompt = nil
	e.mu.Unlock()

	if p == nil {
		return nil, ErrNoPrompt
	}
	e.emit(Event{Type: EventPromptClosed, Prompt: p})
	e.record("prompt_accepted", string(domain.SenderUser), p.ID)
	return domain.CloneModules(p.Modules), nil
}

// Decline dismisses the pending prompt. The cached modules are kept.
func (e *Engine) Decline() error {
	e.mu.Lock()
	p := e.prompt
	e.prompt = nil
	e.mu.Unlock()

	if p == nil {
		return ErrNoPrompt
	}
	e.emit(Event{Type: EventPromptClosed, Prompt: p})
	e.record("prompt_declined", string(domain.SenderUser), p.ID)
	return nil
}

// DismissNotice clears the current notice, if any.
func (e *Engine) DismissNotice() {
	e.mu.Lock()
	e.notice = nil
	e.mu.Unlock()
}

// Teardown cancels any outstanding request and discards the conversation.
// A reply arriving afterwards is ignored. The session cache is not touched.
func (e *Engine) Teardown() {
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.generation++
	e.messages = nil
	e.prompt = nil
	e.notice = nil
	e.state = Idle
	e.mu.Unlock()

	e.emit(Event{Type: EventReset})
	e.record(transcriptEventTeardown, "system", "")
}

// State returns the current turn state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Snapshot returns a copy of the conversation.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Snapshot{
		SessionID: e.sessionID,
		State:     e.state.String(),
		Messages:  append([]domain.Message{}, e.messages...),
	}
	if e.prompt != nil {
		p := *e.prompt
		p.Modules = domain.CloneModules(p.Modules)
		s.Prompt = &p
	}
	if e.notice != nil {
		n := *e.notice
		s.Notice = &n
	}
	return s
}

func (e *Engine) emit(ev Event) {
	if e.events == nil {
		return
	}
	ev.SessionID = e.sessionID
	ev.Timestamp = time.Now()
	select {
	case e.events <- ev:
	default:
		e.logger.Debug("Event sink full, dropping event", "session_id", e.sessionID, "type", ev.Type)
	}
}

func (e *Engine) record(eventType, sender, content string) {
	e.transcript.Log(TranscriptEntry{
		SessionID: e.sessionID,
		EventType: eventType,
		Sender:    sender,
		Content:   content,
	})
}
