package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hugofs/tasktalk/internal/api"
	"github.com/hugofs/tasktalk/internal/token"
)

type mockBackend struct {
	signUpFunc  func(ctx context.Context, email, password, name string) (*api.AuthResponse, error)
	signInFunc  func(ctx context.Context, email, password string) (*api.AuthResponse, error)
	signOutFunc func(ctx context.Context) error
	meFunc      func(ctx context.Context) (*api.User, error)

	meCalls int
}

func (m *mockBackend) SignUp(ctx context.Context, email, password, name string) (*api.AuthResponse, error) {
	if m.signUpFunc != nil {
		return m.signUpFunc(ctx, email, password, name)
	}
	return &api.AuthResponse{Token: "t", User: api.User{ID: 1, Email: email}}, nil
}

func (m *mockBackend) SignIn(ctx context.Context, email, password string) (*api.AuthResponse, error) {
	if m.signInFunc != nil {
		return m.signInFunc(ctx, email, password)
	}
	return &api.AuthResponse{Token: "t", User: api.User{ID: 1, Email: email}}, nil
}

func (m *mockBackend) SignOut(ctx context.Context) error {
	if m.signOutFunc != nil {
		return m.signOutFunc(ctx)
	}
	return nil
}

func (m *mockBackend) Me(ctx context.Context) (*api.User, error) {
	m.meCalls++
	if m.meFunc != nil {
		return m.meFunc(ctx)
	}
	return &api.User{ID: 1, Email: "alice@example.com"}, nil
}

func TestSignInStoresTokenAndCachesUser(t *testing.T) {
	tokens := token.NewMemStore()
	backend := &mockBackend{}
	s := NewSession(backend, tokens)

	user, err := s.SignIn(context.Background(), "alice@example.com", "secret")
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", user.Email)
	require.Equal(t, "t", tokens.Get())

	current, err := s.Current(context.Background())
	require.NoError(t, err)
	require.NotNil(t, current)
	require.Zero(t, backend.meCalls, "cached user, no backend round trip")
}

func TestSignInValidatesCredentials(t *testing.T) {
	s := NewSession(&mockBackend{}, token.NewMemStore())

	_, err := s.SignIn(context.Background(), "  ", "pw")
	require.ErrorIs(t, err, ErrMissingCredentials)
	_, err = s.SignIn(context.Background(), "a@b.c", "")
	require.ErrorIs(t, err, ErrMissingCredentials)
}

func TestCurrentWithoutTokenIsNil(t *testing.T) {
	backend := &mockBackend{}
	s := NewSession(backend, token.NewMemStore())

	user, err := s.Current(context.Background())
	require.NoError(t, err)
	require.Nil(t, user)
	require.Zero(t, backend.meCalls)
}

func TestCurrentResolvesViaBackend(t *testing.T) {
	tokens := token.NewMemStore()
	tokens.Set("persisted")
	backend := &mockBackend{}
	s := NewSession(backend, tokens)

	user, err := s.Current(context.Background())
	require.NoError(t, err)
	require.NotNil(t, user)
	require.Equal(t, 1, backend.meCalls)

	// Second call hits the cache.
	_, err = s.Current(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, backend.meCalls)
}

func TestCurrentTreatsUnauthorizedAsSignedOut(t *testing.T) {
	tokens := token.NewMemStore()
	tokens.Set("stale")
	backend := &mockBackend{
		meFunc: func(ctx context.Context) (*api.User, error) {
			return nil, api.ErrUnauthorized
		},
	}
	s := NewSession(backend, tokens)

	user, err := s.Current(context.Background())
	require.NoError(t, err)
	require.Nil(t, user)
}

func TestSignOutIsBestEffort(t *testing.T) {
	tokens := token.NewMemStore()
	tokens.Set("t")
	backend := &mockBackend{
		signOutFunc: func(ctx context.Context) error {
			return errors.New("backend down")
		},
	}
	s := NewSession(backend, tokens)
	s.user = &api.User{ID: 1}

	s.SignOut(context.Background())
	require.Empty(t, tokens.Get())

	user, err := s.Current(context.Background())
	require.NoError(t, err)
	require.Nil(t, user)
}
