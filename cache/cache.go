// Package cache provides a unified caching interface for the Chanuka
// platform services.
//
// The package abstracts over several backends behind one Adapter contract:
//   - memory: bounded in-process cache with TTL expiry and strict LRU eviction
//   - ristretto: frequency-admission local cache for high-throughput workloads
//   - redis: distributed cache with key-prefix namespacing and a circuit breaker
//   - tiered: ordered composition of adapters with read promotion
//   - noop: passthrough when caching is disabled
//
// All implementations are safe for concurrent use. Adapters are normally
// constructed through a Factory, which validates configuration, wires
// metrics and log instrumentation, and registers the adapter for coordinated
// shutdown.
//
// Basic usage:
//
//	factory := cache.NewFactory()
//	adapter, err := factory.Create(ctx, "bills", &cache.Config{
//		Type:   cache.TypeMemory,
//		Memory: cache.MemoryConfig{MaxSize: 10_000},
//	})
//	if err != nil {
//		log.Fatal().Err(err).Msg("cache init failed")
//	}
//
//	_ = adapter.Set(ctx, "bill:42", payload, time.Minute)
//	value, found, err := adapter.Get(ctx, "bill:42")
package cache

import (
	"context"
	"time"

	"github.com/chanuka/substrate/health"
)

// Adapter is the operation set every cache backend implements.
// All implementations must be safe for concurrent use.
type Adapter interface {
	// Initialize prepares the adapter for use (e.g. opens connections).
	// An adapter whose Initialize fails must not be registered.
	Initialize(ctx context.Context) error

	// Get retrieves a value. Absence is not an error: a missing or expired
	// key returns found == false with a nil error. An expired entry is
	// purged as a side effect.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set stores a value. A ttl <= 0 means no expiry. Setting an existing
	// key overwrites the value and resets expiry and recency.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. Deleting an absent key is success (idempotent).
	Delete(ctx context.Context, key string) error

	// Clear removes every entry owned by this adapter instance. Backends
	// shared across namespaces only remove their own keys.
	Clear(ctx context.Context) error

	// Exists reports key presence without mutating recency ordering.
	Exists(ctx context.Context, key string) (bool, error)

	// HealthCheck probes the adapter and reports its status.
	HealthCheck(ctx context.Context) health.Report

	// Shutdown releases resources. After Shutdown all operations return
	// ErrClosed. Shutdown is idempotent.
	Shutdown(ctx context.Context) error

	// Metrics returns a snapshot of the adapter's operation counters.
	Metrics() Metrics

	// Name returns the adapter's registered name.
	Name() string
}

// Unwrapper is implemented by decorators that wrap another adapter.
type Unwrapper interface {
	// Unwrap returns the wrapped adapter.
	Unwrap() Adapter
}

// Unwrap walks decorator layers down to the innermost adapter.
func Unwrap(a Adapter) Adapter {
	for {
		u, ok := a.(Unwrapper)
		if !ok {
			return a
		}
		a = u.Unwrap()
	}
}
