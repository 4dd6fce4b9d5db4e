// Package chat owns the in-memory state of a single conversation: optimistic
// insertion of user messages, reconciliation against the backend's
// authoritative response, and the loading/typing indicators the view renders.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"

	"github.com/hugofs/tasktalk/internal/api"
	"github.com/hugofs/tasktalk/internal/logger"
)

// FSM states. A manager is Idle or has exactly one send in flight.
type FSMState stateless.State

var (
	StateIdle    FSMState = "Idle"
	StateSending FSMState = "Sending"
)

// FSM triggers.
type FSMTrigger stateless.Trigger

var (
	TriggerSend    FSMTrigger = "Send"
	TriggerResolve FSMTrigger = "Resolve"
)

var (
	// ErrNotAuthenticated is returned by Send when no signed-in user can be
	// resolved. No state is touched in that case.
	ErrNotAuthenticated = errors.New("chat: not authenticated")

	// ErrSendInFlight is returned when Send or Load is called while a previous
	// send has not resolved. Sends are serialized, never queued.
	ErrSendInFlight = errors.New("chat: a send is already in flight")

	// ErrClosed is returned after Close; a dismissed view must not mutate state.
	ErrClosed = errors.New("chat: manager is closed")
)

// Backend is the slice of the gateway the manager uses.
type Backend interface {
	SendMessage(ctx context.Context, conversationID, message string) (*api.ChatResponse, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]api.ChatMessage, error)
}

// IdentityFunc resolves the current user, or returns nil when signed out.
type IdentityFunc func(ctx context.Context) (*api.User, error)

// Manager drives one conversation. All exported methods are safe for
// concurrent use; state mutations happen under one mutex so readers never
// observe a half-reconciled message list.
type Manager struct {
	backend  Backend
	identity IdentityFunc

	mu             sync.Mutex
	fsm            *stateless.StateMachine
	conversationID string
	messages       []api.ChatMessage
	typing         bool
	lastError      string
	closed         bool

	onTasksAffected func([]api.TaskAffected)
}

// Option configures a Manager.
type Option func(*Manager)

// WithConversation resumes an existing conversation id.
func WithConversation(id string) Option {
	return func(m *Manager) { m.conversationID = id }
}

// WithTasksAffected installs the hook that receives the assistant's
// todo-mutation report after a successful send.
func WithTasksAffected(fn func([]api.TaskAffected)) Option {
	return func(m *Manager) { m.onTasksAffected = fn }
}

// NewManager creates a conversation manager in the Idle state.
func NewManager(backend Backend, identity IdentityFunc, opts ...Option) *Manager {
	m := &Manager{
		backend:  backend,
		identity: identity,
	}

	fsm := stateless.NewStateMachine(StateIdle)
	fsm.Configure(StateIdle).Permit(TriggerSend, StateSending)
	fsm.Configure(StateSending).Permit(TriggerResolve, StateIdle)
	m.fsm = fsm

	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Send submits one chat turn. The user's message is visible in Messages
// before the network call starts; on success it is atomically replaced by the
// confirmed user message plus the assistant's reply, on failure it is removed
// entirely. Returns ErrSendInFlight while a previous send is unresolved.
func (m *Manager) Send(ctx context.Context, content string) error {
	m.mu.Lock()
	if err := m.canStartLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	// Identity resolution may hit the network; do it outside the lock.
	user, err := m.identity(ctx)
	if err != nil || user == nil {
		m.setError("you must be signed in to send messages")
		if err != nil {
			return fmt.Errorf("%w: %w", ErrNotAuthenticated, err)
		}
		return ErrNotAuthenticated
	}

	m.mu.Lock()
	if err := m.canStartLocked(); err != nil {
		m.mu.Unlock()
		return err
	}

	temp := api.ChatMessage{
		ID:             "temp-" + uuid.NewString(),
		ConversationID: m.conversationID,
		Role:           api.RoleUser,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	m.messages = append(m.messages, temp)
	m.typing = true
	m.lastError = ""
	if fireErr := m.fsm.Fire(TriggerSend); fireErr != nil {
		logger.L.Warn("FSM fire error", "trigger", TriggerSend, "error", fireErr)
	}
	conversationID := m.conversationID
	m.mu.Unlock()

	resp, sendErr := m.backend.SendMessage(ctx, conversationID, content)

	m.mu.Lock()
	if m.closed {
		// The owning view is gone; late resolutions are no-ops.
		m.mu.Unlock()
		return nil
	}
	m.removeMessageLocked(temp.ID)
	m.typing = false
	if fireErr := m.fsm.Fire(TriggerResolve); fireErr != nil {
		logger.L.Warn("FSM fire error", "trigger", TriggerResolve, "error", fireErr)
	}

	if sendErr != nil {
		m.lastError = userFacing(sendErr)
		m.mu.Unlock()
		return sendErr
	}

	// First non-null conversation id wins and is immutable afterwards.
	if m.conversationID == "" {
		m.conversationID = resp.ConversationID
	}

	now := time.Now().UTC()
	m.messages = append(m.messages,
		api.ChatMessage{
			ID:             resp.MessageID,
			ConversationID: resp.ConversationID,
			Role:           api.RoleUser,
			Content:        content,
			CreatedAt:      now,
		},
		api.ChatMessage{
			ID:             "assistant-" + resp.MessageID,
			ConversationID: resp.ConversationID,
			Role:           api.RoleAssistant,
			Content:        resp.Response,
			CreatedAt:      now,
		},
	)
	hook := m.onTasksAffected
	affected := resp.TasksAffected
	m.mu.Unlock()

	// Informational side channel; invoked outside the lock so the hook may
	// call back into this manager or others.
	if hook != nil && len(affected) > 0 {
		hook(affected)
	}
	return nil
}

// Load fetches and replaces the message list of a known conversation. The
// held conversation id is never changed once set.
func (m *Manager) Load(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	if err := m.canStartLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	msgs, err := m.backend.ListMessages(ctx, conversationID, 0)
	if err != nil {
		m.setError("failed to load conversation history")
		return fmt.Errorf("chat: load messages: %w", err)
	}

	m.mu.Lock()
	if !m.closed {
		if m.conversationID == "" {
			m.conversationID = conversationID
		}
		m.messages = append([]api.ChatMessage(nil), msgs...)
		m.lastError = ""
	}
	m.mu.Unlock()
	return nil
}

// Messages returns a snapshot of the current message list.
func (m *Manager) Messages() []api.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]api.ChatMessage(nil), m.messages...)
}

// ConversationID returns the adopted conversation id, or "" before the first
// successful send.
func (m *Manager) ConversationID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conversationID
}

// Sending reports whether a send is in flight. Views disable input while true.
func (m *Manager) Sending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fsm.MustState() == stateless.State(StateSending)
}

// Typing reports whether the assistant-is-typing indicator should show.
func (m *Manager) Typing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.typing
}

// LastError returns the user-facing error of the most recent failed
// operation, or "" after a success.
func (m *Manager) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastError
}

// Close marks the manager as dismissed. Any in-flight resolution becomes a
// no-op.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

func (m *Manager) canStartLocked() error {
	if m.closed {
		return ErrClosed
	}
	if m.fsm.MustState() == stateless.State(StateSending) {
		return ErrSendInFlight
	}
	return nil
}

func (m *Manager) removeMessageLocked(id string) {
	for i, msg := range m.messages {
		if msg.ID == id {
			m.messages = append(m.messages[:i], m.messages[i+1:]...)
			return
		}
	}
}

func (m *Manager) setError(msg string) {
	m.mu.Lock()
	if !m.closed {
		m.lastError = msg
	}
	m.mu.Unlock()
}

// userFacing extracts the server-supplied detail when available.
func userFacing(err error) string {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return apiErr.Detail
	}
	if errors.Is(err, api.ErrUnauthorized) {
		return "your session has expired, please sign in again"
	}
	return "failed to send message"
}
