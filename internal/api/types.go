package api

import "time"

// Role identifies the sender of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// User is the authenticated account as returned by /api/auth/me.
type User struct {
	ID        int       `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AuthResponse is returned by signup and signin.
type AuthResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Todo is a single todo item owned by a user.
type Todo struct {
	ID          int       `json:"id"`
	UserID      string    `json:"userId"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// CreateTodoInput is the payload for creating a todo.
type CreateTodoInput struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// UpdateTodoInput is the payload for a partial todo update. Nil fields are
// left untouched by the backend.
type UpdateTodoInput struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Completed   *bool   `json:"completed,omitempty"`
}

// ChatMessage is a single message within a conversation. Persisted messages
// carry server-assigned ids; optimistic client entries use a "temp-" prefix
// and never collide with them.
type ChatMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Conversation is a chat thread summary.
type Conversation struct {
	ID                 string    `json:"id"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	MessageCount       int       `json:"message_count,omitempty"`
	LastMessagePreview string    `json:"last_message_preview,omitempty"`
}

// TaskAffected reports a todo mutation performed by the assistant during a
// chat turn. Informational: the authoritative todo state still comes from the
// todos endpoints.
type TaskAffected struct {
	ID     int    `json:"id"`
	Action string `json:"action"`
	Title  string `json:"title"`
}

// TaskAffected actions.
const (
	ActionCreated   = "created"
	ActionUpdated   = "updated"
	ActionCompleted = "completed"
	ActionDeleted   = "deleted"
)

// ChatResponse is the backend's answer to one chat turn.
type ChatResponse struct {
	ConversationID string         `json:"conversation_id"`
	MessageID      string         `json:"message_id"`
	Response       string         `json:"response"`
	TasksAffected  []TaskAffected `json:"tasks_affected"`
}
