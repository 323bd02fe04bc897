package azureauth

import (
	"sync"
	"time"
)

const (
	// expiryBuffer treats a token as expired this long before it really is.
	expiryBuffer = 5 * time.Minute
	// minLifetime is the shortest lifetime a fresh token is cached for.
	minLifetime = 300 * time.Second
)

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// TokenCache holds at most one access token. It is safe for concurrent use
// and may be shared between credentials that target the same scope.
type TokenCache struct {
	mu    sync.RWMutex
	entry *cachedToken
	now   func() time.Time
}

// NewTokenCache returns an empty cache.
func NewTokenCache() *TokenCache {
	return &TokenCache{now: time.Now}
}

// Get returns the cached token if it is outside the expiry buffer.
func (c *TokenCache) Get() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.entry == nil || !c.clock().Add(expiryBuffer).Before(c.entry.expiresAt) {
		return "", false
	}
	return c.entry.token, true
}

// Put stores a token that the server says lives for lifetime. Lifetimes
// below five minutes are raised to five minutes.
func (c *TokenCache) Put(token string, lifetime time.Duration) {
	if lifetime < minLifetime {
		lifetime = minLifetime
	}
	c.PutUntil(token, c.clock().Add(lifetime))
}

// PutUntil stores a token with an absolute expiry.
func (c *TokenCache) PutUntil(token string, expiresAt time.Time) {
	c.mu.Lock()
	c.entry = &cachedToken{token: token, expiresAt: expiresAt}
	c.mu.Unlock()
}

// Clear drops the cached token.
func (c *TokenCache) Clear() {
	c.mu.Lock()
	c.entry = nil
	c.mu.Unlock()
}

func (c *TokenCache) clock() time.Time {
	if c.now == nil {
		return time.Now()
	}
	return c.now()
}
