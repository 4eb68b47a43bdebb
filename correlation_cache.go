package saml

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// defaultCorrelationTTL bounds how long an outstanding AuthnRequest or
// LogoutRequest ID is remembered before it is treated as expired and
// evicted, independent of whether a response ever arrives.
const defaultCorrelationTTL = 10 * time.Minute

// defaultCorrelationBucketSize bounds how many in-flight IDs a single
// bucket (e.g. a user session) may track at once. Oldest entries are
// evicted first once the bound is reached, capping memory use under a
// flood of abandoned requests.
const defaultCorrelationBucketSize = 32

type correlationEntry struct {
	id      string
	created time.Time
}

type correlationBucket struct {
	mu      sync.Mutex
	entries []correlationEntry
}

// RequestCorrelationCache tracks outstanding request IDs so that an
// incoming Response's InResponseTo can be validated against a request the
// SP actually issued, and so the same ID can't be replayed. Entries are
// bucketed (typically by session or user) to bound memory use and to
// allow independent eviction per bucket.
type RequestCorrelationCache struct {
	clock      clockwork.Clock
	ttl        time.Duration
	bucketSize int

	bucketsMu sync.RWMutex
	buckets   map[string]*correlationBucket
}

// NewRequestCorrelationCache builds a cache using real time and the
// package defaults for TTL and bucket size.
func NewRequestCorrelationCache() *RequestCorrelationCache {
	return &RequestCorrelationCache{
		clock:      clockwork.NewRealClock(),
		ttl:        defaultCorrelationTTL,
		bucketSize: defaultCorrelationBucketSize,
		buckets:    make(map[string]*correlationBucket),
	}
}

// WithClock overrides the clock used for TTL bookkeeping, for tests.
func (c *RequestCorrelationCache) WithClock(clock clockwork.Clock) *RequestCorrelationCache {
	c.clock = clock
	return c
}

// WithTTL overrides how long an entry is tracked before it is considered
// expired.
func (c *RequestCorrelationCache) WithTTL(ttl time.Duration) *RequestCorrelationCache {
	c.ttl = ttl
	return c
}

func (c *RequestCorrelationCache) bucket(key string) *correlationBucket {
	c.bucketsMu.RLock()
	b, ok := c.buckets[key]
	c.bucketsMu.RUnlock()
	if ok {
		return b
	}

	c.bucketsMu.Lock()
	defer c.bucketsMu.Unlock()
	if b, ok := c.buckets[key]; ok {
		return b
	}
	b = &correlationBucket{}
	c.buckets[key] = b
	return b
}

// Track records id as an outstanding request in the named bucket,
// evicting expired and, if necessary, the oldest entries to stay within
// the bucket size bound.
func (c *RequestCorrelationCache) Track(bucketKey, id string) {
	b := c.bucket(bucketKey)
	now := c.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = evictExpired(b.entries, now, c.ttl)

	if len(b.entries) >= c.bucketSize {
		drop := len(b.entries) - c.bucketSize + 1
		b.entries = b.entries[drop:]
	}

	b.entries = append(b.entries, correlationEntry{id: id, created: now})
}

// Contains reports whether id is currently tracked (and not expired) in
// bucketKey, without removing it.
func (c *RequestCorrelationCache) Contains(bucketKey, id string) bool {
	b := c.bucket(bucketKey)
	now := c.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = evictExpired(b.entries, now, c.ttl)

	for _, e := range b.entries {
		if e.id == id {
			return true
		}
	}
	return false
}

// Consume reports whether id was tracked (and not expired) in bucketKey,
// removing it regardless of outcome so it can never be presented again:
// a cache hit is a one-time credential, not a standing grant.
func (c *RequestCorrelationCache) Consume(bucketKey, id string) bool {
	b := c.bucket(bucketKey)
	now := c.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = evictExpired(b.entries, now, c.ttl)

	for i, e := range b.entries {
		if e.id == id {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return true
		}
	}
	return false
}

func evictExpired(entries []correlationEntry, now time.Time, ttl time.Duration) []correlationEntry {
	kept := entries[:0]
	for _, e := range entries {
		if now.Sub(e.created) <= ttl {
			kept = append(kept, e)
		}
	}
	return kept
}
