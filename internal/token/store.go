// Package token stores the bearer token used to authenticate against the
// backend. An empty store is a valid state, not an error: it simply means the
// user is signed out.
package token

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store holds a single bearer token. Implementations must be safe for
// concurrent use: the gateway re-reads the token on every request and may
// clear it from another in-flight request's 401 handling.
type Store interface {
	// Get returns the stored token, or "" when none is stored.
	Get() string
	Set(token string)
	Clear()
}

// MemStore keeps the token in memory. Used in tests and as a fallback when no
// persistent path is configured.
type MemStore struct {
	mu    sync.RWMutex
	token string
}

func NewMemStore() *MemStore { return &MemStore{} }

func (s *MemStore) Get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *MemStore) Set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

func (s *MemStore) Clear() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}

// FileStore persists the token to a single file so sessions survive process
// restarts. Read failures are treated as "no token"; write failures are
// swallowed after keeping the in-memory copy, so a read-only filesystem
// degrades to a per-process session.
type FileStore struct {
	mu    sync.Mutex
	path  string
	token string
	read  bool
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.read {
		s.read = true
		if data, err := os.ReadFile(s.path); err == nil {
			s.token = strings.TrimSpace(string(data))
		}
	}
	return s.token
}

func (s *FileStore) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.read = true
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return
	}
	_ = os.WriteFile(s.path, []byte(token+"\n"), 0o600)
}

func (s *FileStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.read = true
	_ = os.Remove(s.path)
}
