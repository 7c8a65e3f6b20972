package gateway

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// TokenStore mints one capability token per rendered button menu and
// remembers only the latest token per user. A button press carrying any
// other token is stale (an old menu, a replay, or a pre-restart render)
// and must be discarded without acting on it.
type TokenStore struct {
	mu     sync.Mutex
	active map[string]string
}

// NewTokenStore creates an empty TokenStore.
func NewTokenStore() *TokenStore {
	return &TokenStore{active: make(map[string]string)}
}

// Mint issues a fresh token for the user, invalidating every button
// rendered earlier.
func (t *TokenStore) Mint(userID string) string {
	token := uuid.NewString()
	t.mu.Lock()
	t.active[userID] = token
	t.mu.Unlock()
	return token
}

// Valid reports whether token is the user's currently active one.
func (t *TokenStore) Valid(userID, token string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return token != "" && t.active[userID] == token
}

// ButtonData joins an action and a token into a button payload.
func ButtonData(action, token string) string {
	return action + "#" + token
}

// SplitButtonData splits a button payload into action and token. The
// second return is false when the payload has no token separator.
func SplitButtonData(data string) (action, token string, ok bool) {
	i := strings.LastIndex(data, "#")
	if i < 0 {
		return data, "", false
	}
	return data[:i], data[i+1:], true
}
