package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// latencyWindowSize bounds the rolling window used for average latency.
const latencyWindowSize = 128

// Metrics is a snapshot of an adapter's operation counters.
type Metrics struct {
	// Hits is the number of successful lookups.
	Hits uint64 `json:"hits"`

	// Misses is the number of lookups that found no live entry.
	Misses uint64 `json:"misses"`

	// Errors is the number of failed operations.
	Errors uint64 `json:"errors"`

	// AverageLatency is the rolling average operation latency over a
	// bounded window.
	AverageLatency time.Duration `json:"average_latency"`
}

// HitRate returns hits / (hits + misses), or zero when no lookups occurred.
func (m Metrics) HitRate() float64 {
	total := m.Hits + m.Misses
	if total == 0 {
		return 0
	}
	return float64(m.Hits) / float64(total)
}

// metricsTracker is the adapter-internal counter state behind Metrics.
// Created at adapter initialization, mutated on every operation, reset on
// explicit Clear.
type metricsTracker struct {
	hits   atomic.Uint64
	misses atomic.Uint64
	errors atomic.Uint64

	mu     sync.Mutex
	window [latencyWindowSize]time.Duration
	next   int
	filled int
}

func newMetricsTracker() *metricsTracker {
	return &metricsTracker{}
}

func (t *metricsTracker) recordHit(latency time.Duration) {
	t.hits.Add(1)
	t.observe(latency)
}

func (t *metricsTracker) recordMiss(latency time.Duration) {
	t.misses.Add(1)
	t.observe(latency)
}

func (t *metricsTracker) recordError() {
	t.errors.Add(1)
}

func (t *metricsTracker) observe(latency time.Duration) {
	t.mu.Lock()
	t.window[t.next] = latency
	t.next = (t.next + 1) % latencyWindowSize
	if t.filled < latencyWindowSize {
		t.filled++
	}
	t.mu.Unlock()
}

func (t *metricsTracker) averageLatency() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.filled == 0 {
		return 0
	}
	var total time.Duration
	for i := range t.filled {
		total += t.window[i]
	}
	return total / time.Duration(t.filled)
}

func (t *metricsTracker) snapshot() Metrics {
	return Metrics{
		Hits:           t.hits.Load(),
		Misses:         t.misses.Load(),
		Errors:         t.errors.Load(),
		AverageLatency: t.averageLatency(),
	}
}

func (t *metricsTracker) reset() {
	t.hits.Store(0)
	t.misses.Store(0)
	t.errors.Store(0)
	t.mu.Lock()
	t.next = 0
	t.filled = 0
	t.mu.Unlock()
}
