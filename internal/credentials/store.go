// Package credentials holds the worker identity and token the gateway client
// authenticates with. The store starts empty and becomes ready once both
// values are set by the init route or the start-up bootstrap.
package credentials

import (
	"strings"
	"sync"
)

// Credentials is an immutable snapshot of the gateway secrets.
type Credentials struct {
	WorkerID  string
	AuthToken string
}

// Ready reports whether both fields are present.
func (c Credentials) Ready() bool {
	return c.WorkerID != "" && c.AuthToken != ""
}

// Store is safe for concurrent use. Readers always observe a consistent pair.
type Store struct {
	mu    sync.RWMutex
	creds Credentials
}

// NewStore returns an uninitialized store.
func NewStore() *Store {
	return &Store{}
}

// Initialize overwrites both values. It is idempotent and never fails; blank
// values leave the store not ready.
func (s *Store) Initialize(workerID, authToken string) {
	s.mu.Lock()
	s.creds = Credentials{
		WorkerID:  strings.TrimSpace(workerID),
		AuthToken: strings.TrimSpace(authToken),
	}
	s.mu.Unlock()
}

// Ready reports whether outbound calls can be authenticated.
func (s *Store) Ready() bool {
	return s.Snapshot().Ready()
}

// Snapshot returns the current pair.
func (s *Store) Snapshot() Credentials {
	if s == nil {
		return Credentials{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}
