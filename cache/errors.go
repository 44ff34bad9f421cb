package cache

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for cache operations.
//
// Use errors.Is to check for these errors:
//
//	_, _, err := adapter.Get(ctx, key)
//	if errors.Is(err, cache.ErrClosed) {
//		// adapter was shut down
//	}
var (
	// ErrClosed is returned when operations are attempted on a shut-down adapter.
	ErrClosed = errors.New("cache: cache is closed")

	// ErrCircuitOpen is returned when the distributed adapter's circuit
	// breaker rejects an operation without attempting network I/O.
	ErrCircuitOpen = errors.New("cache: circuit open")

	// ErrAllTiersDown is returned by the tiered adapter when every tier is
	// marked down and an operation could not be attempted anywhere.
	ErrAllTiersDown = errors.New("cache: all tiers down")
)

// Retryabler reports whether the operation that produced an error may be
// retried. All typed cache errors implement it, so callers decide on retry
// without matching message strings.
type Retryabler interface {
	Retryable() bool
}

// IsRetryable reports whether err (or any error it wraps) is retryable.
// Errors outside the cache taxonomy are treated as non-retryable.
func IsRetryable(err error) bool {
	var r Retryabler
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// ValidationError reports invalid configuration. It aggregates every
// violated constraint, not just the first. Non-retryable.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return "cache: invalid configuration"
	}
	return "cache: invalid configuration: " + strings.Join(e.Violations, "; ")
}

// Retryable always returns false: bad configuration never fixes itself.
func (e *ValidationError) Retryable() bool { return false }

// ConnectionError reports an unreachable or failing backend. Retryable.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cache: %s: backend unreachable: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Retryable always returns true: the backend may recover.
func (e *ConnectionError) Retryable() bool { return true }

// SerializationError reports a payload that could not be encoded or decoded.
// Non-retryable.
type SerializationError struct {
	Op  string
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("cache: %s: serialization failed: %v", e.Op, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// Retryable always returns false: the same payload fails the same way.
func (e *SerializationError) Retryable() bool { return false }

// TimeoutError reports an exceeded operation deadline. Retryable.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("cache: %s: deadline exceeded: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Retryable always returns true.
func (e *TimeoutError) Retryable() bool { return true }

// CapacityError reports a bounded cache at its limit. It is informational:
// adapters evict and proceed rather than failing the write.
type CapacityError struct {
	Adapter string
	Limit   int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("cache: %s: capacity limit %d reached", e.Adapter, e.Limit)
}

// Retryable always returns false: retrying without eviction cannot succeed.
func (e *CapacityError) Retryable() bool { return false }
