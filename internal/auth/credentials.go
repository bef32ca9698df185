// Package auth implements the authenticated-token lifecycle (§4.3): a
// memory-scrubbing credentials container, a lock-free monotonic nonce, the
// HMAC-SHA512 REST request signer, and the token state machine.
package auth

import "sync"

// Credentials is a (key, secret) pair. Contents are zeroed on Clear; never
// logged, never serialized (§3 "Credentials").
type Credentials struct {
	APIKey    string
	APISecret string
}

// Clear zeros out the credential contents.
func (c *Credentials) Clear() {
	c.APIKey = ""
	c.APISecret = ""
}

// IsZero reports whether no credentials are set.
func (c Credentials) IsZero() bool {
	return c.APIKey == "" && c.APISecret == ""
}

// Handle is a mutable shared credentials holder: readers obtain a cheap
// copy of the current value, writers atomically replace it (§9 "Mutable
// shared credentials"). The public session never touches it. Replacement
// happens in two places: the driver calls Replace directly when credentials
// are saved, and the private session's read loop calls it again on the
// UpdateCredentials command that follows on the connection-command stream.
type Handle struct {
	mu  sync.RWMutex
	cur Credentials
}

// NewHandle creates a Handle, optionally seeded from startup values.
func NewHandle(initial Credentials) *Handle {
	return &Handle{cur: initial}
}

// Load returns a copy of the current credentials.
func (h *Handle) Load() Credentials {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cur
}

// Replace atomically swaps in new credentials. The old value is simply
// dropped by the garbage collector — no explicit zeroing is possible for a
// value already copied elsewhere, but the Handle's own copy is overwritten
// immediately so it does not linger.
func (h *Handle) Replace(next Credentials) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cur.Clear()
	h.cur = next
}

// HasCredentials reports whether any credentials are currently set.
func (h *Handle) HasCredentials() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.cur.IsZero()
}
