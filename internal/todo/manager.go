// Package todo owns the in-memory todo list and its reconciliation against
// the backend. Mutations key strictly on the numeric server-assigned id;
// there are no optimistic temp entries here, so latency shows up as a loading
// state rather than a speculative render.
package todo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hugofs/tasktalk/internal/api"
	"github.com/hugofs/tasktalk/internal/logger"
)

// ErrEmptyTitle rejects blank titles before any network call. Validation for
// both Create and Update lives here, not in the form layer.
var ErrEmptyTitle = errors.New("todo: title must not be empty")

// Backend is the slice of the gateway the manager uses.
type Backend interface {
	ListTodos(ctx context.Context) ([]api.Todo, error)
	CreateTodo(ctx context.Context, input api.CreateTodoInput) (*api.Todo, error)
	UpdateTodo(ctx context.Context, id int, input api.UpdateTodoInput) (*api.Todo, error)
	ToggleTodo(ctx context.Context, id int) (*api.Todo, error)
	DeleteTodo(ctx context.Context, id int) error
}

// Manager holds the todo list for the signed-in user.
type Manager struct {
	backend Backend

	mu    sync.Mutex
	todos []api.Todo
}

func NewManager(backend Backend) *Manager {
	return &Manager{backend: backend}
}

// Load fetches and replaces the whole list.
func (m *Manager) Load(ctx context.Context) error {
	todos, err := m.backend.ListTodos(ctx)
	if err != nil {
		return fmt.Errorf("todo: load list: %w", err)
	}
	m.mu.Lock()
	m.todos = todos
	m.mu.Unlock()
	return nil
}

// Create validates the title, creates the todo server-side, and prepends the
// authoritative record.
func (m *Manager) Create(ctx context.Context, input api.CreateTodoInput) (*api.Todo, error) {
	input.Title = strings.TrimSpace(input.Title)
	if input.Title == "" {
		return nil, ErrEmptyTitle
	}

	created, err := m.backend.CreateTodo(ctx, input)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.todos = append([]api.Todo{*created}, m.todos...)
	m.mu.Unlock()
	return created, nil
}

// Toggle flips completion server-side and swaps in the authoritative record.
// On failure the local state is left untouched; the caller decides how to
// surface the error.
func (m *Manager) Toggle(ctx context.Context, id int) (*api.Todo, error) {
	toggled, err := m.backend.ToggleTodo(ctx, id)
	if err != nil {
		logger.L.Warn("toggle failed", "id", id, "error", err)
		return nil, err
	}

	m.replace(*toggled)
	return toggled, nil
}

// Update applies a partial update. A provided title must be non-blank.
func (m *Manager) Update(ctx context.Context, id int, input api.UpdateTodoInput) (*api.Todo, error) {
	if input.Title != nil {
		trimmed := strings.TrimSpace(*input.Title)
		if trimmed == "" {
			return nil, ErrEmptyTitle
		}
		input.Title = &trimmed
	}

	updated, err := m.backend.UpdateTodo(ctx, id, input)
	if err != nil {
		return nil, err
	}

	m.replace(*updated)
	return updated, nil
}

// Delete removes the record only after backend confirmation.
func (m *Manager) Delete(ctx context.Context, id int) error {
	if err := m.backend.DeleteTodo(ctx, id); err != nil {
		logger.L.Warn("delete failed", "id", id, "error", err)
		return err
	}

	m.mu.Lock()
	for i, t := range m.todos {
		if t.ID == id {
			m.todos = append(m.todos[:i], m.todos[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	return nil
}

// Todos returns a snapshot of the current list.
func (m *Manager) Todos() []api.Todo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]api.Todo(nil), m.todos...)
}

// Get returns the todo with the given id, or nil.
func (m *Manager) Get(id int) *api.Todo {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.todos {
		if t.ID == id {
			copy := t
			return &copy
		}
	}
	return nil
}

func (m *Manager) replace(todo api.Todo) {
	m.mu.Lock()
	for i, t := range m.todos {
		if t.ID == todo.ID {
			m.todos[i] = todo
			break
		}
	}
	m.mu.Unlock()
}
