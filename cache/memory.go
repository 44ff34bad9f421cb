package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/chanuka/substrate/health"
)

// memoryCache is the bounded in-process cache with TTL expiry and strict
// least-recently-used eviction.
type memoryCache struct {
	name  string
	cfg   MemoryConfig
	ttl   time.Duration
	clock func() time.Time
	log   zerolog.Logger

	mu      sync.Mutex
	entries map[string]*list.Element
	// lru orders entries most-recently-accessed first.
	lru *list.List

	closed atomic.Bool
	stats  *metricsTracker
}

var _ Adapter = (*memoryCache)(nil)

// memoryEntry is the adapter-internal record for one key. An entry whose
// expiresAt is in the past is logically absent; the next read purges it.
type memoryEntry struct {
	key            string
	value          []byte
	expiresAt      time.Time // zero means no expiry
	lastAccessedAt time.Time
}

func newMemoryCache(name string, cfg *Config) *memoryCache {
	return &memoryCache{
		name:    name,
		cfg:     cfg.Memory,
		ttl:     cfg.DefaultTTL,
		clock:   time.Now,
		log:     logger().With().Str("backend", "memory").Str("cache", name).Logger(),
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		stats:   newMetricsTracker(),
	}
}

func (m *memoryCache) Name() string { return m.name }

func (m *memoryCache) Initialize(_ context.Context) error {
	m.log.Info().Int("max_size", m.cfg.GetMaxSize()).Msg("memory cache initialized")
	return nil
}

func (m *memoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if m.closed.Load() {
		return nil, false, ErrClosed
	}

	start := m.clock()
	m.mu.Lock()

	elem, ok := m.entries[key]
	if !ok {
		m.mu.Unlock()
		m.stats.recordMiss(m.clock().Sub(start))
		return nil, false, nil
	}

	entry := elem.Value.(*memoryEntry)
	if m.expired(entry) {
		m.removeLocked(elem, entry)
		m.mu.Unlock()
		m.stats.recordMiss(m.clock().Sub(start))
		m.log.Debug().Str("key", key).Msg("purged expired entry")
		return nil, false, nil
	}

	entry.lastAccessedAt = m.clock()
	m.lru.MoveToFront(elem)
	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	m.mu.Unlock()

	m.stats.recordHit(m.clock().Sub(start))
	return value, true, nil
}

func (m *memoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.closed.Load() {
		return ErrClosed
	}
	if ttl <= 0 {
		ttl = m.ttl
	}

	start := m.clock()
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = start.Add(ttl)
	}

	m.mu.Lock()
	if elem, ok := m.entries[key]; ok {
		// Overwrite resets value, expiry, and recency.
		entry := elem.Value.(*memoryEntry)
		entry.value = valueCopy
		entry.expiresAt = expiresAt
		entry.lastAccessedAt = start
		m.lru.MoveToFront(elem)
		m.mu.Unlock()
		m.stats.observe(m.clock().Sub(start))
		return nil
	}

	if m.lru.Len() >= m.cfg.GetMaxSize() {
		m.evictOldestLocked()
	}

	entry := &memoryEntry{
		key:            key,
		value:          valueCopy,
		expiresAt:      expiresAt,
		lastAccessedAt: start,
	}
	m.entries[key] = m.lru.PushFront(entry)
	m.mu.Unlock()

	m.stats.observe(m.clock().Sub(start))
	return nil
}

func (m *memoryCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.closed.Load() {
		return ErrClosed
	}

	m.mu.Lock()
	if elem, ok := m.entries[key]; ok {
		m.removeLocked(elem, elem.Value.(*memoryEntry))
	}
	m.mu.Unlock()
	return nil
}

func (m *memoryCache) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.closed.Load() {
		return ErrClosed
	}

	m.mu.Lock()
	m.entries = make(map[string]*list.Element)
	m.lru.Init()
	m.mu.Unlock()
	m.stats.reset()

	m.log.Debug().Msg("cache cleared")
	return nil
}

// Exists reports presence without touching recency ordering. An expired
// entry is purged and reported absent.
func (m *memoryCache) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if m.closed.Load() {
		return false, ErrClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	entry := elem.Value.(*memoryEntry)
	if m.expired(entry) {
		m.removeLocked(elem, entry)
		return false, nil
	}
	return true, nil
}

// HealthCheck degrades above 90% capacity and reports unhealthy when a
// synthetic probe cycle exceeds the configured latency budget.
func (m *memoryCache) HealthCheck(ctx context.Context) health.Report {
	if m.closed.Load() {
		return health.Unhealthy(0, "cache is closed")
	}

	m.mu.Lock()
	atCapacity := m.lru.Len() >= m.cfg.GetMaxSize()
	m.mu.Unlock()

	probeKey := fmt.Sprintf("__substrate.probe.%s", m.name)
	start := time.Now()
	if err := m.probeCycle(ctx, probeKey, atCapacity); err != nil {
		return health.Unhealthy(time.Since(start), err.Error())
	}
	latency := time.Since(start)

	m.mu.Lock()
	size := m.lru.Len()
	m.mu.Unlock()
	maxSize := m.cfg.GetMaxSize()
	utilization := float64(size) / float64(maxSize)

	report := health.Healthy(latency)
	switch {
	case latency > m.cfg.GetProbeBudget():
		report = health.Unhealthy(latency, "probe latency exceeded budget")
	case utilization > 0.9:
		report = health.Degraded(latency, "capacity above 90%")
	}
	return report.
		WithDetail("size", size).
		WithDetail("max_size", maxSize).
		WithDetail("utilization", utilization)
}

// probeCycle times a store round trip against the internal structures
// directly: the probe must not show up in the adapter's hit/miss counters,
// and at capacity a probe write would evict a real entry, so only a lookup
// is exercised there.
func (m *memoryCache) probeCycle(ctx context.Context, key string, atCapacity bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.closed.Load() {
		return ErrClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if atCapacity {
		_, _ = m.entries[key]
		return nil
	}

	now := m.clock()
	entry := &memoryEntry{
		key:            key,
		value:          []byte("probe"),
		expiresAt:      now.Add(time.Second),
		lastAccessedAt: now,
	}
	elem := m.lru.PushFront(entry)
	m.entries[key] = elem

	read, ok := m.entries[key]
	m.removeLocked(elem, entry)
	if !ok || read != elem {
		return fmt.Errorf("cache: %s: probe entry not readable", m.name)
	}
	return nil
}

func (m *memoryCache) Shutdown(_ context.Context) error {
	if m.closed.Swap(true) {
		return nil
	}
	m.mu.Lock()
	m.entries = make(map[string]*list.Element)
	m.lru.Init()
	m.mu.Unlock()
	m.log.Info().Msg("memory cache closed")
	return nil
}

func (m *memoryCache) Metrics() Metrics {
	return m.stats.snapshot()
}

func (m *memoryCache) expired(entry *memoryEntry) bool {
	return !entry.expiresAt.IsZero() && m.clock().After(entry.expiresAt)
}

// evictOldestLocked removes the entry with the oldest lastAccessedAt.
// Must be called with the mutex held.
func (m *memoryCache) evictOldestLocked() {
	elem := m.lru.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*memoryEntry)
	m.removeLocked(elem, entry)
	m.log.Debug().
		Str("key", entry.key).
		Time("last_accessed", entry.lastAccessedAt).
		Msg("evicted least-recently-used entry")
}

// removeLocked must be called with the mutex held.
func (m *memoryCache) removeLocked(elem *list.Element, entry *memoryEntry) {
	m.lru.Remove(elem)
	delete(m.entries, entry.key)
}
