package api

import (
	"context"
	"fmt"
	"net/http"
)

// ListTodos fetches all todos for the current user.
func (c *Client) ListTodos(ctx context.Context) ([]Todo, error) {
	var todos []Todo
	if err := c.do(ctx, http.MethodGet, "/api/todos", nil, &todos); err != nil {
		return nil, err
	}
	return todos, nil
}

// CreateTodo creates a todo and returns the server-assigned record.
func (c *Client) CreateTodo(ctx context.Context, input CreateTodoInput) (*Todo, error) {
	var todo Todo
	if err := c.do(ctx, http.MethodPost, "/api/todos", input, &todo); err != nil {
		return nil, err
	}
	return &todo, nil
}

// UpdateTodo applies a partial update and returns the authoritative record.
func (c *Client) UpdateTodo(ctx context.Context, id int, input UpdateTodoInput) (*Todo, error) {
	var todo Todo
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/todos/%d", id), input, &todo); err != nil {
		return nil, err
	}
	return &todo, nil
}

// ToggleTodo flips a todo's completed flag server-side.
func (c *Client) ToggleTodo(ctx context.Context, id int) (*Todo, error) {
	var todo Todo
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/todos/%d/toggle", id), nil, &todo); err != nil {
		return nil, err
	}
	return &todo, nil
}

// DeleteTodo removes a todo. The backend answers 204 on success.
func (c *Client) DeleteTodo(ctx context.Context, id int) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/todos/%d", id), nil, nil)
}
