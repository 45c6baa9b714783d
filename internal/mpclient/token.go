package mpclient

import (
	"sync"
	"time"
)

// RefreshMargin is how long before expiry a cached token stops being served.
const RefreshMargin = 5 * time.Minute

// DefaultTokenTTL applies when the platform omits expires_in.
const DefaultTokenTTL = 7200 * time.Second

type tokenEntry struct {
	token     string
	expiresAt time.Time
}

// TokenCache holds one access token per app id.
type TokenCache struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]tokenEntry
}

// NewTokenCache returns an empty cache. A nil clock uses time.Now.
func NewTokenCache(now func() time.Time) *TokenCache {
	if now == nil {
		now = time.Now
	}
	return &TokenCache{now: now, entries: make(map[string]tokenEntry)}
}

// Get returns the token for appID while it is outside the refresh margin.
func (c *TokenCache) Get(appID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[appID]
	if !ok || !c.now().Before(e.expiresAt.Add(-RefreshMargin)) {
		return "", false
	}
	return e.token, true
}

// Set stores token for appID, valid for ttl from now.
func (c *TokenCache) Set(appID, token string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[appID] = tokenEntry{token: token, expiresAt: c.now().Add(ttl)}
}

// Invalidate drops the token for appID.
func (c *TokenCache) Invalidate(appID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, appID)
}

// Clear drops every token.
func (c *TokenCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}
