package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/chanuka/substrate/health"
)

// clearScanCount is the SCAN page size used by Clear.
const clearScanCount = 256

// redisCache is the distributed adapter backed by a Redis-class store.
//
// An optional key prefix lets multiple logical caches share one backend
// without collision; Clear only removes prefixed keys. A circuit breaker
// fails operations fast while the backend is down, and every operation runs
// under a deadline.
type redisCache struct {
	name    string
	cfg     RedisConfig
	ttl     time.Duration
	client  *redis.Client
	circuit *breaker
	log     zerolog.Logger
	closed  atomic.Bool
	stats   *metricsTracker

	// lastPingFailed marks the adapter as reconnecting for health reporting.
	lastPingFailed atomic.Bool
}

var _ Adapter = (*redisCache)(nil)

func newRedisCache(name string, cfg *Config) *redisCache {
	log := logger().With().Str("backend", "redis").Str("cache", name).Logger()
	return &redisCache{
		name:    name,
		cfg:     cfg.Redis,
		ttl:     cfg.DefaultTTL,
		circuit: newBreaker(cfg.Redis.Breaker, nil, log),
		log:     log,
		stats:   newMetricsTracker(),
	}
}

func (r *redisCache) Name() string { return r.name }

// Initialize opens the connection and verifies it with a ping. A failed
// ping fails initialization so the adapter is never registered half-open.
func (r *redisCache) Initialize(ctx context.Context) error {
	r.client = redis.NewClient(&redis.Options{
		Addr:        r.cfg.Addr,
		Username:    r.cfg.Username,
		Password:    r.cfg.Password,
		DB:          r.cfg.DB,
		DialTimeout: r.cfg.GetDialTimeout(),
	})

	pingCtx, cancel := context.WithTimeout(ctx, r.cfg.GetDialTimeout())
	defer cancel()

	if err := r.client.Ping(pingCtx).Err(); err != nil {
		closeErr := r.client.Close()
		r.client = nil
		r.log.Error().Err(err).Str("addr", r.cfg.Addr).Msg("redis ping failed during init")
		return &ConnectionError{Op: "initialize", Err: errors.Join(err, closeErr)}
	}

	r.log.Info().
		Str("addr", r.cfg.Addr).
		Str("key_prefix", r.cfg.KeyPrefix).
		Int("db", r.cfg.DB).
		Msg("redis cache initialized")
	return nil
}

func (r *redisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	if err := r.preflight(ctx); err != nil {
		return nil, false, err
	}

	opCtx, cancel := r.opContext(ctx)
	defer cancel()

	value, err := r.client.Get(opCtx, r.prefixed(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		r.circuit.success()
		r.stats.recordMiss(time.Since(start))
		return nil, false, nil
	}
	if err != nil {
		return nil, false, r.fail("get", err)
	}

	r.circuit.success()
	r.stats.recordHit(time.Since(start))
	return value, true, nil
}

func (r *redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	if err := r.preflight(ctx); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = r.ttl
	}

	opCtx, cancel := r.opContext(ctx)
	defer cancel()

	if err := r.client.Set(opCtx, r.prefixed(key), value, ttl).Err(); err != nil {
		return r.fail("set", err)
	}

	r.circuit.success()
	r.stats.observe(time.Since(start))
	return nil
}

func (r *redisCache) Delete(ctx context.Context, key string) error {
	if err := r.preflight(ctx); err != nil {
		return err
	}

	opCtx, cancel := r.opContext(ctx)
	defer cancel()

	// DEL of an absent key returns 0 removed, which is still success.
	if err := r.client.Del(opCtx, r.prefixed(key)).Err(); err != nil {
		return r.fail("delete", err)
	}
	r.circuit.success()
	return nil
}

// Clear enumerates and deletes only this adapter's keys; a shared backend is
// never flushed when a prefix is configured.
func (r *redisCache) Clear(ctx context.Context) error {
	if err := r.preflight(ctx); err != nil {
		return err
	}

	if r.cfg.KeyPrefix == "" {
		// No prefix means this adapter owns the whole logical database.
		if err := r.client.FlushDB(ctx).Err(); err != nil {
			return r.fail("clear", err)
		}
		r.circuit.success()
		r.stats.reset()
		return nil
	}

	var cursor uint64
	var removed int
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.cfg.KeyPrefix+"*", clearScanCount).Result()
		if err != nil {
			return r.fail("clear", err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return r.fail("clear", err)
			}
			removed += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	r.circuit.success()
	r.stats.reset()
	r.log.Debug().Int("removed", removed).Msg("cache cleared by prefix")
	return nil
}

func (r *redisCache) Exists(ctx context.Context, key string) (bool, error) {
	if err := r.preflight(ctx); err != nil {
		return false, err
	}

	opCtx, cancel := r.opContext(ctx)
	defer cancel()

	n, err := r.client.Exists(opCtx, r.prefixed(key)).Result()
	if err != nil {
		return false, r.fail("exists", err)
	}
	r.circuit.success()
	return n > 0, nil
}

// HealthCheck reports unhealthy while the circuit is open, degraded while it
// is half-open or the connection is being re-established.
func (r *redisCache) HealthCheck(ctx context.Context) health.Report {
	if r.closed.Load() {
		return health.Unhealthy(0, "cache is closed")
	}

	state := r.circuit.currentState()
	details := func(rep health.Report) health.Report {
		return rep.
			WithDetail("circuit", state.String()).
			WithDetail("consecutive_failures", r.circuit.failures()).
			WithDetail("addr", r.cfg.Addr)
	}

	switch state {
	case BreakerOpen:
		return details(health.Unhealthy(0, "circuit open"))
	case BreakerHalfOpen:
		return details(health.Degraded(0, "circuit half-open"))
	}

	start := time.Now()
	err := r.client.Ping(ctx).Err()
	latency := time.Since(start)
	if err != nil {
		r.lastPingFailed.Store(true)
		return details(health.Unhealthy(latency, err.Error()))
	}
	if r.lastPingFailed.Swap(false) {
		return details(health.Degraded(latency, "reconnecting"))
	}
	return details(health.Healthy(latency))
}

func (r *redisCache) Shutdown(_ context.Context) error {
	if r.closed.Swap(true) {
		return nil
	}
	// client is nil when Initialize never ran or failed.
	var err error
	if r.client != nil {
		err = r.client.Close()
	}
	r.log.Info().Msg("redis cache closed")
	return err
}

func (r *redisCache) Metrics() Metrics {
	return r.stats.snapshot()
}

// preflight rejects operations on a closed adapter or an open circuit
// before any network I/O.
func (r *redisCache) preflight(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.closed.Load() {
		return ErrClosed
	}
	return r.circuit.allow()
}

// opContext applies the per-operation deadline when the caller's context
// carries none.
func (r *redisCache) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout, ok := r.cfg.GetOpTimeoutOption().Get()
	if !ok {
		return ctx, func() {}
	}
	if _, has := ctx.Deadline(); has {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

func (r *redisCache) prefixed(key string) string {
	return r.cfg.KeyPrefix + key
}

// fail classifies a backend error, records it, and feeds the breaker.
func (r *redisCache) fail(op string, err error) error {
	r.stats.recordError()
	r.circuit.failure()
	r.lastPingFailed.Store(true)

	var typed error
	if errors.Is(err, context.DeadlineExceeded) {
		typed = &TimeoutError{Op: op, Err: err}
	} else {
		typed = &ConnectionError{Op: op, Err: err}
	}

	r.log.Warn().Err(err).Str("op", op).Msg("redis operation failed")
	return typed
}
