package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/rs/zerolog"

	"github.com/chanuka/substrate/health"
)

// ristrettoCache is the frequency-admission local backend. It favors raw
// throughput over deterministic eviction: admission is probabilistic, so it
// does not provide the strict LRU guarantee of the memory adapter.
type ristrettoCache struct {
	name   string
	cfg    RistrettoConfig
	ttl    time.Duration
	cache  *ristretto.Cache[string, []byte]
	log    zerolog.Logger
	closed atomic.Bool
	stats  *metricsTracker
}

var _ Adapter = (*ristrettoCache)(nil)

func newRistrettoCache(name string, cfg *Config) *ristrettoCache {
	rc := cfg.Ristretto
	if rc.MaxCost <= 0 {
		rc = DefaultRistrettoConfig()
	}
	return &ristrettoCache{
		name:  name,
		cfg:   rc,
		ttl:   cfg.DefaultTTL,
		log:   logger().With().Str("backend", "ristretto").Str("cache", name).Logger(),
		stats: newMetricsTracker(),
	}
}

func (r *ristrettoCache) Name() string { return r.name }

func (r *ristrettoCache) Initialize(_ context.Context) error {
	bufferItems := r.cfg.BufferItems
	if bufferItems <= 0 {
		bufferItems = 64
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: r.cfg.NumCounters,
		MaxCost:     r.cfg.MaxCost,
		BufferItems: bufferItems,
		Metrics:     true,
	})
	if err != nil {
		r.log.Error().Err(err).Msg("failed to create ristretto cache")
		return &ValidationError{Violations: []string{"ristretto: " + err.Error()}}
	}
	r.cache = cache

	r.log.Info().
		Int64("num_counters", r.cfg.NumCounters).
		Int64("max_cost", r.cfg.MaxCost).
		Int64("buffer_items", bufferItems).
		Msg("ristretto cache initialized")
	return nil
}

func (r *ristrettoCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if r.closed.Load() {
		return nil, false, ErrClosed
	}

	start := time.Now()
	value, found := r.cache.Get(key)
	if !found {
		r.stats.recordMiss(time.Since(start))
		return nil, false, nil
	}

	// Copy to prevent mutation of cached data.
	result := make([]byte, len(value))
	copy(result, value)
	r.stats.recordHit(time.Since(start))
	return result, true, nil
}

func (r *ristrettoCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.closed.Load() {
		return ErrClosed
	}
	if ttl <= 0 {
		ttl = r.ttl
	}

	start := time.Now()
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	// Cost is the byte length of the value.
	if ttl > 0 {
		r.cache.SetWithTTL(key, valueCopy, int64(len(value)), ttl)
	} else {
		r.cache.Set(key, valueCopy, int64(len(value)))
	}
	r.stats.observe(time.Since(start))
	return nil
}

func (r *ristrettoCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.closed.Load() {
		return ErrClosed
	}
	r.cache.Del(key)
	return nil
}

func (r *ristrettoCache) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.closed.Load() {
		return ErrClosed
	}
	r.cache.Clear()
	r.stats.reset()
	return nil
}

func (r *ristrettoCache) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if r.closed.Load() {
		return false, ErrClosed
	}
	_, found := r.cache.Get(key)
	return found, nil
}

func (r *ristrettoCache) HealthCheck(_ context.Context) health.Report {
	if r.closed.Load() {
		return health.Unhealthy(0, "cache is closed")
	}

	start := time.Now()
	m := r.cache.Metrics
	costUsed := m.CostAdded() - m.CostEvicted()
	latency := time.Since(start)

	report := health.Healthy(latency)
	if r.cfg.MaxCost > 0 && float64(costUsed) > 0.9*float64(r.cfg.MaxCost) {
		report = health.Degraded(latency, "cost above 90% of max")
	}
	return report.
		WithDetail("cost_used", costUsed).
		WithDetail("max_cost", r.cfg.MaxCost).
		WithDetail("evictions", m.KeysEvicted())
}

func (r *ristrettoCache) Shutdown(_ context.Context) error {
	if r.closed.Swap(true) {
		return nil
	}
	// Wait for pending writes before closing.
	r.cache.Wait()
	r.cache.Close()
	r.log.Info().Msg("ristretto cache closed")
	return nil
}

func (r *ristrettoCache) Metrics() Metrics {
	return r.stats.snapshot()
}
