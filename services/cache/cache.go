package cache

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/upb/hive/services/providers"
)

const (
	DefaultTTL        = 5 * time.Minute
	DefaultMaxEntries = 1000
)

// keyPayload is the part of a request that identifies its answer.
// Task type and preferred provider do not change the answer and are left out.
type keyPayload struct {
	Messages    []providers.Message `json:"messages"`
	MaxTokens   int                 `json:"maxTokens"`
	Temperature *float64            `json:"temperature"`
}

// Key returns the cache key for req: URL-safe base64 of a SHA-256 digest.
// It fails only for a non-finite temperature.
func Key(req *providers.ChatRequest) (string, error) {
	raw, err := json.Marshal(keyPayload{
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("cache key: %w", err)
	}
	sum := sha256.Sum256(raw)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// entry is a stored response and the moment it was captured
type entry struct {
	response   *providers.Response
	insertedAt time.Time
}

// Option configures a ResponseCache.
type Option func(*ResponseCache)

// WithClock overrides the clock used for expiry.
func WithClock(now func() time.Time) Option {
	return func(c *ResponseCache) { c.now = now }
}

// ResponseCache is an in-memory TTL cache of generated responses.
// Thread-safe implementation using sync.Mutex
type ResponseCache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	hits       uint64
	misses     uint64
}

// New creates a ResponseCache. Non-positive arguments take the defaults.
func New(ttl time.Duration, maxEntries int, opts ...Option) *ResponseCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	c := &ResponseCache{
		entries:    make(map[string]*entry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a copy of the cached response, or nil when absent or expired.
func (c *ResponseCache) Get(key string) *providers.Response {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || c.expired(e) {
		c.misses++
		if ok {
			delete(c.entries, key)
		}
		return nil
	}

	c.hits++
	return e.response.Clone()
}

// Set stores a copy of resp. When the cache is over capacity every
// expired entry is swept; live entries are never evicted.
func (c *ResponseCache) Set(key string, resp *providers.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &entry{response: resp.Clone(), insertedAt: c.now()}

	if len(c.entries) > c.maxEntries {
		c.sweepLocked()
	}
}

// Len returns the number of stored entries, expired ones included.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cache statistics
func (c *ResponseCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var rate float64
	if total := c.hits + c.misses; total > 0 {
		rate = float64(c.hits) / float64(total)
	}

	return Stats{
		Size:       len(c.entries),
		MaxEntries: c.maxEntries,
		Hits:       c.hits,
		Misses:     c.misses,
		HitRate:    rate,
	}
}

// Stats represents cache statistics
type Stats struct {
	Size       int     `json:"size"`
	MaxEntries int     `json:"max_entries"`
	Hits       uint64  `json:"hits"`
	Misses     uint64  `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// CleanupExpired removes all expired entries and returns how many went.
func (c *ResponseCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked()
}

// StartCleanupWorker periodically removes expired entries until stopCh closes.
func (c *ResponseCache) StartCleanupWorker(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CleanupExpired()
		case <-stopCh:
			return
		}
	}
}

// sweepLocked must be called with mu held.
func (c *ResponseCache) sweepLocked() int {
	removed := 0
	for key, e := range c.entries {
		if c.expired(e) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

func (c *ResponseCache) expired(e *entry) bool {
	return c.now().Sub(e.insertedAt) >= c.ttl
}
