package devserver

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hugofs/tasktalk/internal/api"
)

var (
	errEmailExists   = errors.New("devserver: email already registered")
	errUserNotFound  = errors.New("devserver: user not found")
	errTodoNotFound  = errors.New("devserver: todo not found")
	errConvNotFound  = errors.New("devserver: conversation not found")
	errConvForbidden = errors.New("devserver: conversation belongs to another user")
)

type user struct {
	ID           int
	Email        string
	Name         string
	PasswordHash []byte
	CreatedAt    time.Time
}

func (u *user) asAPI() api.User {
	return api.User{ID: u.ID, Email: u.Email, Name: u.Name, CreatedAt: u.CreatedAt}
}

type userStore struct {
	mu      sync.RWMutex
	byEmail map[string]*user
	byID    map[int]*user
	nextID  int
}

func newUserStore() *userStore {
	return &userStore{
		byEmail: make(map[string]*user),
		byID:    make(map[int]*user),
		nextID:  1,
	}
}

func (s *userStore) create(email, name string, hash []byte) (*user, error) {
	key := strings.ToLower(strings.TrimSpace(email))

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[key]; exists {
		return nil, errEmailExists
	}

	u := &user{
		ID:           s.nextID,
		Email:        strings.TrimSpace(email),
		Name:         strings.TrimSpace(name),
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	s.nextID++
	s.byEmail[key] = u
	s.byID[u.ID] = u
	return u, nil
}

func (s *userStore) byEmailKey(email string) (*user, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, errUserNotFound
	}
	return u, nil
}

func (s *userStore) get(id int) (*user, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, errUserNotFound
	}
	return u, nil
}

type todoStore struct {
	mu     sync.RWMutex
	byUser map[int][]*api.Todo
	nextID int
}

func newTodoStore() *todoStore {
	return &todoStore{byUser: make(map[int][]*api.Todo), nextID: 1}
}

func (s *todoStore) list(userID int) []api.Todo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]api.Todo, 0, len(s.byUser[userID]))
	for _, t := range s.byUser[userID] {
		out = append(out, *t)
	}
	// Newest first, matching what the real backend serves.
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (s *todoStore) create(userID int, title, description string) api.Todo {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	t := &api.Todo{
		ID:          s.nextID,
		UserID:      strconv.Itoa(userID),
		Title:       title,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.nextID++
	s.byUser[userID] = append(s.byUser[userID], t)
	return *t
}

func (s *todoStore) update(userID, id int, input api.UpdateTodoInput) (api.Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.findLocked(userID, id)
	if err != nil {
		return api.Todo{}, err
	}
	if input.Title != nil {
		t.Title = *input.Title
	}
	if input.Description != nil {
		t.Description = *input.Description
	}
	if input.Completed != nil {
		t.Completed = *input.Completed
	}
	t.UpdatedAt = time.Now().UTC()
	return *t, nil
}

func (s *todoStore) toggle(userID, id int) (api.Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.findLocked(userID, id)
	if err != nil {
		return api.Todo{}, err
	}
	t.Completed = !t.Completed
	t.UpdatedAt = time.Now().UTC()
	return *t, nil
}

func (s *todoStore) delete(userID, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	todos := s.byUser[userID]
	for i, t := range todos {
		if t.ID == id {
			s.byUser[userID] = append(todos[:i], todos[i+1:]...)
			return nil
		}
	}
	return errTodoNotFound
}

// findByTitle matches case-insensitively, preferring exact titles over
// substring matches. Used by the assistant to resolve spoken titles.
func (s *todoStore) findByTitle(userID int, title string) (api.Todo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(title))
	var partial *api.Todo
	for _, t := range s.byUser[userID] {
		haystack := strings.ToLower(t.Title)
		if haystack == needle {
			return *t, nil
		}
		if partial == nil && strings.Contains(haystack, needle) {
			partial = t
		}
	}
	if partial != nil {
		return *partial, nil
	}
	return api.Todo{}, errTodoNotFound
}

func (s *todoStore) findLocked(userID, id int) (*api.Todo, error) {
	for _, t := range s.byUser[userID] {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, errTodoNotFound
}

type conversation struct {
	ID        string
	UserID    int
	CreatedAt time.Time
	UpdatedAt time.Time
	Messages  []api.ChatMessage
}

type convStore struct {
	mu    sync.RWMutex
	byID  map[string]*conversation
	order []string // creation order, for listing
}

func newConvStore() *convStore {
	return &convStore{byID: make(map[string]*conversation)}
}

func (s *convStore) create(userID int) *conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	c := &conversation{ID: uuid.NewString(), UserID: userID, CreatedAt: now, UpdatedAt: now}
	s.byID[c.ID] = c
	s.order = append(s.order, c.ID)
	return c
}

func (s *convStore) get(userID int, id string) (*conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byID[id]
	if !ok {
		return nil, errConvNotFound
	}
	if c.UserID != userID {
		return nil, errConvForbidden
	}
	return c, nil
}

func (s *convStore) appendMessage(id string, msg api.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.byID[id]; ok {
		c.Messages = append(c.Messages, msg)
		c.UpdatedAt = time.Now().UTC()
	}
}

func (s *convStore) list(userID, limit int) []api.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []api.Conversation
	// Most recently updated first.
	ids := append([]string(nil), s.order...)
	sort.Slice(ids, func(i, j int) bool {
		return s.byID[ids[i]].UpdatedAt.After(s.byID[ids[j]].UpdatedAt)
	})
	for _, id := range ids {
		c := s.byID[id]
		if c.UserID != userID {
			continue
		}
		summary := api.Conversation{
			ID:           c.ID,
			CreatedAt:    c.CreatedAt,
			UpdatedAt:    c.UpdatedAt,
			MessageCount: len(c.Messages),
		}
		if len(c.Messages) > 0 {
			summary.LastMessagePreview = preview(c.Messages[len(c.Messages)-1].Content, 80)
		}
		out = append(out, summary)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (s *convStore) messages(userID int, id string, limit int) ([]api.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byID[id]
	if !ok || c.UserID != userID {
		return nil, errConvNotFound
	}
	msgs := append([]api.ChatMessage(nil), c.Messages...)
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func preview(content string, maxLen int) string {
	runes := []rune(content)
	if len(runes) <= maxLen {
		return content
	}
	return string(runes[:maxLen-3]) + "..."
}
