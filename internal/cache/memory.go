package cache

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxEntries bounds the cache when no size is configured.
const DefaultMaxEntries = 1000

type entry struct {
	value     interface{}
	expiresAt time.Time // zero = never
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// memoryCache is an in-process LRU cache with lazy TTL expiry.
type memoryCache struct {
	mu        sync.Mutex
	entries   *lru.Cache[string, entry]
	clock     clock.Clock
	hits      uint64
	misses    uint64
	evictions uint64
}

// Option configures a memory cache.
type Option func(*memoryCache)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c clock.Clock) Option {
	return func(m *memoryCache) { m.clock = c }
}

// NewMemoryCache creates an LRU cache holding at most maxEntries values.
// Non-positive maxEntries uses DefaultMaxEntries.
func NewMemoryCache(maxEntries int, opts ...Option) (Cache, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	m := &memoryCache{clock: clock.New()}
	for _, opt := range opts {
		opt(m)
	}
	entries, err := lru.New[string, entry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	m.entries = entries
	return m, nil
}

func (m *memoryCache) Get(ctx context.Context, key string) (interface{}, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries.Get(key)
	if ok && e.expired(m.clock.Now()) {
		m.entries.Remove(key)
		ok = false
	}
	if !ok {
		m.misses++
		return nil, false, nil
	}
	m.hits++
	return e.value, true, nil
}

func (m *memoryCache) Set(ctx context.Context, key string, value interface{}, ttlSeconds int) error {
	if ttlSeconds < 0 {
		return fmt.Errorf("ttl must be >= 0, got %d", ttlSeconds)
	}
	e := entry{value: value}
	if ttlSeconds > 0 {
		e.expiresAt = m.clock.Now().Add(time.Duration(ttlSeconds) * time.Second)
	}
	m.mu.Lock()
	if m.entries.Add(key, e) {
		m.evictions++
	}
	m.mu.Unlock()
	return nil
}

func (m *memoryCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	m.entries.Remove(key)
	m.mu.Unlock()
	return nil
}

func (m *memoryCache) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.entries.Purge()
	m.mu.Unlock()
	return nil
}

func (m *memoryCache) Invalidate(ctx context.Context, pattern string) (int, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for _, key := range m.entries.Keys() {
		if ok, _ := path.Match(pattern, key); ok {
			m.entries.Remove(key)
			removed++
		}
	}
	return removed, nil
}

func (m *memoryCache) GetStats(ctx context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Hits:      m.hits,
		Misses:    m.misses,
		Evictions: m.evictions,
		Entries:   m.entries.Len(),
	}, nil
}

func (m *memoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries.Len()
}
