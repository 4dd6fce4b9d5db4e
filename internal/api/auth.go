package api

import (
	"context"
	"net/http"
)

type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignUp registers a new account. The response token is not stored here; the
// auth session layer decides what to do with it.
func (c *Client) SignUp(ctx context.Context, email, password, name string) (*AuthResponse, error) {
	var resp AuthResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/signup", signUpRequest{Email: email, Password: password, Name: name}, &resp, SkipAuth())
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// SignIn exchanges credentials for a bearer token.
func (c *Client) SignIn(ctx context.Context, email, password string) (*AuthResponse, error) {
	var resp AuthResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/signin", signInRequest{Email: email, Password: password}, &resp, SkipAuth())
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// SignOut invalidates the current session server-side.
func (c *Client) SignOut(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/auth/signout", nil, nil)
}

// Me returns the account behind the stored token.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}
