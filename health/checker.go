package health

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"
)

// Default checker configuration values.
const (
	DefaultCheckTimeout     = 5 * time.Second
	DefaultCacheTTL         = 10 * time.Second
	DefaultInterval         = 30 * time.Second
	DefaultFailureThreshold = 5
	DefaultOpenDuration     = 30 * time.Second
)

// CheckFunc performs a single health probe. Implementations should be
// lightweight and honor the context deadline.
type CheckFunc func(ctx context.Context) Report

// CheckerConfig defines checker behavior.
type CheckerConfig struct {
	// CheckTimeout bounds each individual probe. Default: 5s.
	CheckTimeout time.Duration `yaml:"check_timeout"`

	// CacheTTL is how long a check result is served from cache before the
	// probe runs again. Bounds the cost of frequent health requests.
	// Default: 10s.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// Interval is the period of the background check loop. Default: 30s.
	Interval time.Duration `yaml:"interval"`

	// FailureThreshold is the number of consecutive probe failures before a
	// check's circuit opens and its last report is served instead of probing.
	// Default: 5.
	FailureThreshold int `yaml:"failure_threshold"`

	// OpenDuration is how long an open check circuit blocks probes before a
	// recovery attempt. Default: 30s.
	OpenDuration time.Duration `yaml:"open_duration"`
}

// GetCheckTimeout returns the configured probe timeout or the default.
func (c CheckerConfig) GetCheckTimeout() time.Duration {
	if c.CheckTimeout <= 0 {
		return DefaultCheckTimeout
	}
	return c.CheckTimeout
}

// GetCacheTTL returns the configured result cache TTL or the default.
func (c CheckerConfig) GetCacheTTL() time.Duration {
	if c.CacheTTL <= 0 {
		return DefaultCacheTTL
	}
	return c.CacheTTL
}

// GetInterval returns the configured loop interval or the default.
func (c CheckerConfig) GetInterval() time.Duration {
	if c.Interval <= 0 {
		return DefaultInterval
	}
	return c.Interval
}

// GetFailureThreshold returns the configured threshold or the default.
func (c CheckerConfig) GetFailureThreshold() int {
	if c.FailureThreshold <= 0 {
		return DefaultFailureThreshold
	}
	return c.FailureThreshold
}

// GetOpenDuration returns the configured open duration or the default.
func (c CheckerConfig) GetOpenDuration() time.Duration {
	if c.OpenDuration <= 0 {
		return DefaultOpenDuration
	}
	return c.OpenDuration
}

type registeredCheck struct {
	fn      CheckFunc
	circuit *gobreaker.CircuitBreaker[Report]

	mu       sync.Mutex
	cached   Report
	cachedAt time.Time
	hasCache bool
}

// Checker runs named health checks in parallel, caches their results, and
// applies a circuit breaker per check so a chronically failing probe serves
// its last known report instead of being re-executed on every request.
type Checker struct {
	cfg    CheckerConfig
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	checks map[string]*registeredCheck
}

// NewChecker creates a Checker. The logger may be a zerolog.Nop().
func NewChecker(cfg CheckerConfig, log zerolog.Logger) *Checker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Checker{
		cfg:    cfg,
		log:    log.With().Str("component", "health_checker").Logger(),
		ctx:    ctx,
		cancel: cancel,
		checks: make(map[string]*registeredCheck),
	}
}

// Register adds a named check. Duplicate names are rejected.
func (c *Checker) Register(name string, fn CheckFunc) error {
	if name == "" {
		return fmt.Errorf("health: check name is required")
	}
	if fn == nil {
		return fmt.Errorf("health: check %q has a nil func", name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.checks[name]; exists {
		return fmt.Errorf("health: check %q already registered", name)
	}

	settings := gobreaker.Settings{
		Name:    name,
		Timeout: c.cfg.GetOpenDuration(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(c.cfg.GetFailureThreshold()) //nolint:gosec // threshold is small and positive
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			event := c.log.Info()
			if to == gobreaker.StateOpen {
				event = c.log.Warn()
			}
			event.
				Str("check", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("health check circuit state change")
		},
	}

	c.checks[name] = &registeredCheck{
		fn:      fn,
		circuit: gobreaker.NewCircuitBreaker[Report](settings),
	}
	c.log.Debug().Str("check", name).Msg("registered health check")
	return nil
}

// Check runs every registered check in parallel and aggregates the results
// with the worst-case rule. Fresh cached results are served without probing.
func (c *Checker) Check(ctx context.Context) Overall {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	checks := make([]*registeredCheck, 0, len(c.checks))
	for name, rc := range c.checks {
		names = append(names, name)
		checks = append(checks, rc)
	}
	c.mu.RUnlock()

	reports := make([]Report, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for i, rc := range checks {
		g.Go(func() error {
			reports[i] = c.runOne(gctx, names[i], rc)
			return nil
		})
	}
	_ = g.Wait() // runOne never returns an error

	byName := make(map[string]Report, len(checks))
	for i, name := range names {
		byName[name] = reports[i]
	}
	return Aggregate(byName)
}

// runOne returns a cached report if fresh, otherwise probes through the
// check's circuit breaker.
func (c *Checker) runOne(ctx context.Context, name string, rc *registeredCheck) Report {
	ttl := c.cfg.GetCacheTTL()

	rc.mu.Lock()
	if rc.hasCache && time.Since(rc.cachedAt) < ttl {
		cached := rc.cached.WithDetail("cached", true)
		rc.mu.Unlock()
		return cached
	}
	rc.mu.Unlock()

	report, err := rc.circuit.Execute(func() (Report, error) {
		probeCtx, cancel := context.WithTimeout(ctx, c.cfg.GetCheckTimeout())
		defer cancel()

		start := time.Now()
		r := rc.fn(probeCtx)
		if r.Latency == 0 {
			r.Latency = time.Since(start)
		}
		if r.Timestamp.IsZero() {
			r.Timestamp = time.Now()
		}
		if r.Status == StatusUnhealthy {
			return r, fmt.Errorf("health: check %q unhealthy", name)
		}
		return r, nil
	})

	switch {
	case err == nil:
		// healthy or degraded probe
	case report.Timestamp.IsZero():
		// circuit rejected the call (open or too many half-open probes):
		// fall back to the last known report, forced unhealthy so the
		// failure is never silently hidden.
		rc.mu.Lock()
		last := rc.cached
		hasLast := rc.hasCache
		rc.mu.Unlock()

		report = Unhealthy(0, err.Error()).WithDetail("circuit", rc.circuit.State().String())
		if hasLast {
			report.Details["last_status"] = last.Status.String()
			report.Details["last_checked"] = last.Timestamp
		}
	default:
		// probe executed and reported unhealthy; keep its details
	}

	rc.mu.Lock()
	rc.cached = report
	rc.cachedAt = time.Now()
	rc.hasCache = true
	rc.mu.Unlock()

	return report
}

// Start begins the background check loop. The loop keeps the result cache
// warm so on-demand Check calls are cheap. Start is optional.
func (c *Checker) Start() {
	interval := c.cfg.GetInterval()
	// Jitter prevents synchronized probe bursts across instances.
	jitter := cryptoRandDuration(interval / 10)
	ticker := time.NewTicker(interval + jitter)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer ticker.Stop()

		c.log.Info().
			Dur("interval", interval).
			Dur("jitter", jitter).
			Msg("health checker started")

		for {
			select {
			case <-c.ctx.Done():
				c.log.Info().Msg("health checker stopped")
				return
			case <-ticker.C:
				c.Check(c.ctx)
			}
		}
	}()
}

// Stop stops the background loop and waits for it to finish.
func (c *Checker) Stop() {
	c.cancel()
	c.wg.Wait()
}

// cryptoRandDuration returns a cryptographically random duration in [0, maxDur).
func cryptoRandDuration(maxDur time.Duration) time.Duration {
	if maxDur <= 0 {
		return 0
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	n := binary.LittleEndian.Uint64(b[:])
	//nolint:gosec // maxDur is positive, conversion is safe
	return time.Duration(n % uint64(maxDur))
}
