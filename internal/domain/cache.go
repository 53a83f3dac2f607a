package domain

// Cache invalidation keys. The orchestrator invalidates both on successful
// turn completion so session titles, counts, and message lists refresh.
const CacheKeySessions = "sessions"

// CacheKeyMessages returns the cache key for one session's message list.
func CacheKeyMessages(sessionID string) string {
	return "messages:" + sessionID
}

// CacheInvalidator is a key-based cache that can drop entries on demand.
type CacheInvalidator interface {
	Invalidate(keys ...string)
}
