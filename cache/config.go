package cache

import (
	"fmt"
	"time"

	"github.com/samber/mo"
)

// Type discriminates adapter kinds in Config.
type Type string

const (
	// TypeMemory is the bounded in-process cache with strict LRU eviction.
	TypeMemory Type = "memory"

	// TypeRistretto is the frequency-admission local cache.
	TypeRistretto Type = "ristretto"

	// TypeRedis is the distributed cache backed by a Redis-class store.
	TypeRedis Type = "redis"

	// TypeTiered composes member adapters fastest-to-slowest.
	TypeTiered Type = "tiered"

	// TypeNoop disables caching; all operations succeed without storing.
	TypeNoop Type = "noop"
)

// Default configuration values.
const (
	DefaultMemoryMaxSize     = 10_000
	DefaultProbeBudget       = 10 * time.Millisecond
	DefaultRedisOpTimeout    = 500 * time.Millisecond
	DefaultRedisDialTimeout  = 5 * time.Second
	DefaultFailureThreshold  = 5
	DefaultResetTimeout      = 30 * time.Second
	DefaultMaxResetTimeout   = 5 * time.Minute
	DefaultTierRetryInterval = 15 * time.Second
)

// Config defines an adapter. Exactly one type-specific section is consulted,
// selected by Type. Use Validate before constructing a cache.
type Config struct {
	Type Type `yaml:"type"`

	// DefaultTTL applies when Set is called with ttl <= 0 and when values
	// are promoted between tiers. Zero means no expiry.
	DefaultTTL time.Duration `yaml:"default_ttl"`

	Memory    MemoryConfig    `yaml:"memory"`
	Ristretto RistrettoConfig `yaml:"ristretto"`
	Redis     RedisConfig     `yaml:"redis"`
	Tiered    TieredConfig    `yaml:"tiered"`
}

// MemoryConfig configures the strict-LRU in-process cache.
type MemoryConfig struct {
	// MaxSize is the entry capacity. Inserting beyond it evicts the
	// least-recently-accessed entry.
	MaxSize int `yaml:"max_size"`

	// ProbeBudget is the latency budget for the synthetic health probe.
	// Probes slower than this report the adapter unhealthy. Default: 10ms.
	ProbeBudget time.Duration `yaml:"probe_budget"`
}

// GetMaxSize returns the configured capacity or the default.
func (c MemoryConfig) GetMaxSize() int {
	if c.MaxSize <= 0 {
		return DefaultMemoryMaxSize
	}
	return c.MaxSize
}

// GetProbeBudget returns the configured probe budget or the default.
func (c MemoryConfig) GetProbeBudget() time.Duration {
	if c.ProbeBudget <= 0 {
		return DefaultProbeBudget
	}
	return c.ProbeBudget
}

// RistrettoConfig configures the Ristretto local cache.
type RistrettoConfig struct {
	// NumCounters is the number of 4-bit access counters.
	// Recommended: 10x expected max items.
	NumCounters int64 `yaml:"num_counters"`

	// MaxCost is the maximum total cost (bytes of cached values).
	MaxCost int64 `yaml:"max_cost"`

	// BufferItems is the number of keys per Get buffer. Default: 64.
	BufferItems int64 `yaml:"buffer_items"`
}

// DefaultRistrettoConfig returns a RistrettoConfig with sensible defaults:
// 1,000,000 counters (~100K items), 100 MB, 64 buffer items.
func DefaultRistrettoConfig() RistrettoConfig {
	return RistrettoConfig{
		NumCounters: 1_000_000,
		MaxCost:     100 << 20,
		BufferItems: 64,
	}
}

// RedisConfig configures the distributed cache adapter.
type RedisConfig struct {
	// Addr is the host:port of the backend. Required.
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// KeyPrefix namespaces this adapter's keys so multiple logical caches
	// share one backend without collision. Clear only removes prefixed keys.
	KeyPrefix string `yaml:"key_prefix"`

	// DialTimeout bounds connection establishment. Default: 5s.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// OpTimeout is the per-operation deadline applied when the caller's
	// context has none. Default: 500ms.
	OpTimeout time.Duration `yaml:"op_timeout"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// GetDialTimeout returns the configured dial timeout or the default.
func (c RedisConfig) GetDialTimeout() time.Duration {
	if c.DialTimeout <= 0 {
		return DefaultRedisDialTimeout
	}
	return c.DialTimeout
}

// GetOpTimeoutOption returns the per-operation deadline, or None when the
// caller's context deadline should be used unchanged.
func (c RedisConfig) GetOpTimeoutOption() mo.Option[time.Duration] {
	if c.OpTimeout < 0 {
		return mo.None[time.Duration]()
	}
	if c.OpTimeout == 0 {
		return mo.Some(DefaultRedisOpTimeout)
	}
	return mo.Some(c.OpTimeout)
}

// BreakerConfig defines the distributed adapter's circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before the
	// circuit opens. Default: 5.
	FailureThreshold int `yaml:"failure_threshold"`

	// ResetTimeout is the cooldown before an open circuit admits a probe.
	// A failed probe doubles the cooldown, bounded by MaxResetTimeout.
	// Default: 30s.
	ResetTimeout time.Duration `yaml:"reset_timeout"`

	// MaxResetTimeout bounds the doubling cooldown. Default: 5m.
	MaxResetTimeout time.Duration `yaml:"max_reset_timeout"`
}

// GetFailureThreshold returns the configured threshold or the default.
func (c BreakerConfig) GetFailureThreshold() int {
	if c.FailureThreshold <= 0 {
		return DefaultFailureThreshold
	}
	return c.FailureThreshold
}

// GetResetTimeout returns the configured cooldown or the default.
func (c BreakerConfig) GetResetTimeout() time.Duration {
	if c.ResetTimeout <= 0 {
		return DefaultResetTimeout
	}
	return c.ResetTimeout
}

// GetMaxResetTimeout returns the configured cooldown bound or the default.
func (c BreakerConfig) GetMaxResetTimeout() time.Duration {
	if c.MaxResetTimeout <= 0 {
		return DefaultMaxResetTimeout
	}
	return c.MaxResetTimeout
}

// TieredConfig configures the multi-tier adapter.
type TieredConfig struct {
	// Tiers lists member adapters fastest first. At least one is required.
	Tiers []Config `yaml:"tiers"`

	// WriteBehind writes synchronously only to the fastest tier and
	// queues writes to slower tiers. Default is write-through.
	WriteBehind bool `yaml:"write_behind"`

	// PromoteSynchronously makes read promotion complete before Get
	// returns. Default is asynchronous promotion.
	PromoteSynchronously bool `yaml:"promote_synchronously"`

	// RetryInterval is how often a tier marked down is re-probed.
	// Default: 15s.
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// GetRetryInterval returns the configured retry interval or the default.
func (c TieredConfig) GetRetryInterval() time.Duration {
	if c.RetryInterval <= 0 {
		return DefaultTierRetryInterval
	}
	return c.RetryInterval
}

// Validate checks the configuration and returns a *ValidationError listing
// every violated constraint, or nil when the configuration is valid.
func (c *Config) Validate() error {
	violations := c.collectViolations("")
	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

// collectViolations gathers constraint violations, prefixing nested tier
// paths like "tiers[1].".
func (c *Config) collectViolations(path string) []string {
	var violations []string
	add := func(format string, args ...any) {
		violations = append(violations, path+fmt.Sprintf(format, args...))
	}

	if c.DefaultTTL < 0 {
		add("default_ttl must not be negative")
	}

	switch c.Type {
	case TypeMemory:
		if c.Memory.MaxSize < 0 {
			add("memory.max_size must not be negative")
		}
		if c.Memory.ProbeBudget < 0 {
			add("memory.probe_budget must not be negative")
		}
	case TypeRistretto:
		if c.Ristretto.MaxCost <= 0 {
			add("ristretto.max_cost must be positive")
		}
		if c.Ristretto.NumCounters <= 0 {
			add("ristretto.num_counters must be positive")
		}
	case TypeRedis:
		if c.Redis.Addr == "" {
			add("redis.addr is required")
		}
		if c.Redis.DB < 0 {
			add("redis.db must not be negative")
		}
		if c.Redis.Breaker.FailureThreshold < 0 {
			add("redis.breaker.failure_threshold must not be negative")
		}
		if c.Redis.Breaker.ResetTimeout < 0 {
			add("redis.breaker.reset_timeout must not be negative")
		}
	case TypeTiered:
		if len(c.Tiered.Tiers) == 0 {
			add("tiered.tiers requires at least one member tier")
		}
		for i := range c.Tiered.Tiers {
			tier := &c.Tiered.Tiers[i]
			if tier.Type == TypeTiered {
				add("tiered.tiers[%d]: tiers must not nest", i)
				continue
			}
			violations = append(violations,
				tier.collectViolations(fmt.Sprintf("%stiers[%d].", path, i))...)
		}
	case TypeNoop:
		// no constraints
	case "":
		add("type is required")
	default:
		add("unknown type %q", c.Type)
	}

	return violations
}
