// Package session holds the in-memory mapping from user id to an
// authenticated portal client. Entries are ephemeral: a restart loses them
// all and users must log in again. Credentials never reach durable storage.
package session

import (
	"sync"

	"github.com/punchbot/punchbot/internal/portal"
)

// Store maps user ids to live portal sessions. Safe for concurrent use
// across distinct users; at most one entry per user id.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]portal.API
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]portal.API)}
}

// Put installs (or replaces) the session for a user.
func (s *Store) Put(userID string, client portal.API) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[userID] = client
}

// Get returns the user's session. A missing entry is not an error: callers
// treat it as "user must re-authenticate" and prompt accordingly.
func (s *Store) Get(userID string) (portal.API, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.sessions[userID]
	return c, ok
}

// Remove drops the user's session, if any. Used when the portal reports
// the stored credentials are no longer valid.
func (s *Store) Remove(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
}
