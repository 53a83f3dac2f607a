package console

import (
	"context"
	"sync"
	"time"

	"opsassist/internal/domain"
)

// lister is the slice of Client that the cache fronts.
type lister interface {
	CreateSession(ctx context.Context, title string) (*domain.SessionSummary, error)
	ListSessions(ctx context.Context) ([]domain.SessionSummary, error)
	ListMessages(ctx context.Context, sessionID string) ([]domain.ChatMessage, error)
}

// CachedLister fronts the session and transcript list calls with a TTL
// cache. The orchestrator invalidates the session list and the finished
// session's transcript when a turn completes, so the next read refetches.
type CachedLister struct {
	inner lister
	ttl   time.Duration
	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// NewCachedLister wraps inner with a list cache using the given TTL.
func NewCachedLister(inner lister, ttl time.Duration) *CachedLister {
	return &CachedLister{
		inner: inner,
		ttl:   ttl,
		cache: make(map[string]cacheEntry),
	}
}

// CreateSession delegates to the inner client and invalidates the session
// list so the new session shows up on the next read.
func (c *CachedLister) CreateSession(ctx context.Context, title string) (*domain.SessionSummary, error) {
	summary, err := c.inner.CreateSession(ctx, title)
	if err == nil {
		c.Invalidate(domain.CacheKeySessions)
	}
	return summary, err
}

func (c *CachedLister) ListSessions(ctx context.Context) ([]domain.SessionSummary, error) {
	if cached, ok := c.lookup(domain.CacheKeySessions); ok {
		return cached.([]domain.SessionSummary), nil
	}

	sessions, err := c.inner.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	c.store(domain.CacheKeySessions, sessions)
	return sessions, nil
}

func (c *CachedLister) ListMessages(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	key := domain.CacheKeyMessages(sessionID)
	if cached, ok := c.lookup(key); ok {
		return cached.([]domain.ChatMessage), nil
	}

	messages, err := c.inner.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	c.store(key, messages)
	return messages, nil
}

// Invalidate drops the given keys. Unknown keys are ignored.
func (c *CachedLister) Invalidate(keys ...string) {
	c.mu.Lock()
	for _, key := range keys {
		delete(c.cache, key)
	}
	c.mu.Unlock()
}

func (c *CachedLister) lookup(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.value, true
}

func (c *CachedLister) store(key string, value any) {
	c.mu.Lock()
	c.cache[key] = cacheEntry{value: value, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

// CacheSize returns the number of live cache entries (for testing).
func (c *CachedLister) CacheSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

var _ domain.CacheInvalidator = (*CachedLister)(nil)
