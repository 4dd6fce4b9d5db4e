// Package auth is the client-side session layer: it exchanges credentials
// for a bearer token, keeps the signed-in user cached, and owns the token
// store writes for the sign-in/sign-up/sign-out flows.
package auth

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/hugofs/tasktalk/internal/api"
	"github.com/hugofs/tasktalk/internal/logger"
	"github.com/hugofs/tasktalk/internal/token"
)

// ErrMissingCredentials rejects empty email or password before any network call.
var ErrMissingCredentials = errors.New("auth: email and password are required")

// Backend is the slice of the gateway the session uses.
type Backend interface {
	SignUp(ctx context.Context, email, password, name string) (*api.AuthResponse, error)
	SignIn(ctx context.Context, email, password string) (*api.AuthResponse, error)
	SignOut(ctx context.Context) error
	Me(ctx context.Context) (*api.User, error)
}

// Session tracks the signed-in user for one process.
type Session struct {
	backend Backend
	tokens  token.Store

	mu   sync.Mutex
	user *api.User
}

func NewSession(backend Backend, tokens token.Store) *Session {
	return &Session{backend: backend, tokens: tokens}
}

// SignUp registers an account and signs in with the returned token.
func (s *Session) SignUp(ctx context.Context, email, password, name string) (*api.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	resp, err := s.backend.SignUp(ctx, email, password, name)
	if err != nil {
		return nil, err
	}
	return s.adopt(resp), nil
}

// SignIn exchanges credentials for a token and caches the user.
func (s *Session) SignIn(ctx context.Context, email, password string) (*api.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	resp, err := s.backend.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return s.adopt(resp), nil
}

// SignOut tells the backend best-effort and always clears local state.
func (s *Session) SignOut(ctx context.Context) {
	if s.tokens.Get() != "" {
		if err := s.backend.SignOut(ctx); err != nil {
			logger.L.Debug("signout request failed", "error", err)
		}
	}
	s.tokens.Clear()
	s.mu.Lock()
	s.user = nil
	s.mu.Unlock()
}

// Current resolves the signed-in user. A missing or rejected token yields
// (nil, nil): being signed out is a state, not an error.
func (s *Session) Current(ctx context.Context) (*api.User, error) {
	s.mu.Lock()
	if s.user != nil {
		user := *s.user
		s.mu.Unlock()
		return &user, nil
	}
	s.mu.Unlock()

	if s.tokens.Get() == "" {
		return nil, nil
	}

	user, err := s.backend.Me(ctx)
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			return nil, nil
		}
		return nil, err
	}

	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
	return user, nil
}

// Invalidate drops the cached user, forcing the next Current through the
// backend. Wired to the gateway's unauthorized hook.
func (s *Session) Invalidate() {
	s.mu.Lock()
	s.user = nil
	s.mu.Unlock()
}

func (s *Session) adopt(resp *api.AuthResponse) *api.User {
	s.tokens.Set(resp.Token)
	s.mu.Lock()
	user := resp.User
	s.user = &user
	s.mu.Unlock()
	return &user
}
