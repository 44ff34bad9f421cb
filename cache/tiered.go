package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/chanuka/substrate/health"
)

// writeBehindQueueSize bounds the pending write-behind queue.
const writeBehindQueueSize = 1024

// tieredCache composes member adapters fastest first: reads cascade with
// promotion into faster tiers, writes propagate through (or behind), and a
// failing tier is skipped and retried periodically rather than blocking the
// others.
type tieredCache struct {
	name  string
	cfg   TieredConfig
	ttl   time.Duration
	tiers []Adapter
	down  []atomic.Bool
	log   zerolog.Logger

	closed atomic.Bool
	stats  *metricsTracker

	// bg scopes promotion, write-behind, and tier-retry goroutines so a
	// request context ending does not cancel background repair.
	bg       context.Context
	cancelBg context.CancelFunc
	wg       sync.WaitGroup
	writeQ   chan writeTask
}

type writeTask struct {
	tier  int
	key   string
	value []byte
	ttl   time.Duration
}

var _ Adapter = (*tieredCache)(nil)

func newTieredCache(name string, cfg *Config) (*tieredCache, error) {
	tiers := make([]Adapter, len(cfg.Tiered.Tiers))
	for i := range cfg.Tiered.Tiers {
		tier, err := build(fmt.Sprintf("%s.tier%d", name, i), &cfg.Tiered.Tiers[i])
		if err != nil {
			return nil, fmt.Errorf("cache: tier %d: %w", i, err)
		}
		tiers[i] = tier
	}

	bg, cancel := context.WithCancel(context.Background())
	t := &tieredCache{
		name:     name,
		cfg:      cfg.Tiered,
		ttl:      cfg.DefaultTTL,
		tiers:    tiers,
		down:     make([]atomic.Bool, len(tiers)),
		log:      logger().With().Str("backend", "tiered").Str("cache", name).Logger(),
		stats:    newMetricsTracker(),
		bg:       bg,
		cancelBg: cancel,
	}
	if cfg.Tiered.WriteBehind {
		t.writeQ = make(chan writeTask, writeBehindQueueSize)
	}
	return t, nil
}

func (t *tieredCache) Name() string { return t.name }

// Tiers exposes the member adapters, fastest first, for per-tier metrics
// inspection.
func (t *tieredCache) Tiers() []Adapter { return t.tiers }

// Initialize initializes every tier. A tier failing to initialize fails the
// whole composition; tiers already initialized are shut down again.
func (t *tieredCache) Initialize(ctx context.Context) error {
	for i, tier := range t.tiers {
		if err := tier.Initialize(ctx); err != nil {
			for j := range i {
				_ = t.tiers[j].Shutdown(ctx)
			}
			return fmt.Errorf("cache: tier %d (%s): %w", i, tier.Name(), err)
		}
	}

	t.wg.Add(1)
	go t.retryDownTiers()

	if t.cfg.WriteBehind {
		t.wg.Add(1)
		go t.drainWriteQueue()
	}

	t.log.Info().
		Int("tiers", len(t.tiers)).
		Bool("write_behind", t.cfg.WriteBehind).
		Msg("tiered cache initialized")
	return nil
}

// Get cascades through tiers in order and promotes the first hit into every
// faster tier.
func (t *tieredCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if t.closed.Load() {
		return nil, false, ErrClosed
	}

	start := time.Now()
	var lastErr error
	attempted := false
	allFailed := true

	for i, tier := range t.tiers {
		if t.down[i].Load() {
			continue
		}
		attempted = true
		value, found, err := tier.Get(ctx, key)
		if err != nil {
			lastErr = err
			t.markDown(i, err)
			continue
		}
		allFailed = false
		if !found {
			continue
		}

		t.promote(i, key, value)
		t.stats.recordHit(time.Since(start))
		return value, true, nil
	}

	if !attempted {
		// Every tier is already down: a clean miss here would mask total
		// failure as absence.
		t.stats.recordError()
		return nil, false, &ConnectionError{Op: "get", Err: ErrAllTiersDown}
	}
	if allFailed && lastErr != nil {
		// Every tier errored: report, never mask.
		t.stats.recordError()
		return nil, false, lastErr
	}
	t.stats.recordMiss(time.Since(start))
	return nil, false, nil
}

// promote copies a value found in tier i into all faster tiers.
func (t *tieredCache) promote(hitTier int, key string, value []byte) {
	if hitTier == 0 {
		return
	}
	fill := func(ctx context.Context) {
		for j := range hitTier {
			if t.down[j].Load() {
				continue
			}
			if err := t.tiers[j].Set(ctx, key, value, t.ttl); err != nil {
				t.log.Warn().Err(err).
					Str("key", key).
					Int("tier", j).
					Msg("promotion write failed")
			}
		}
	}

	if t.cfg.PromoteSynchronously {
		fill(t.bg)
		return
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		fill(t.bg)
	}()
}

// Set writes through every tier by default. In write-behind mode only the
// fastest tier is written synchronously; slower tiers are queued.
func (t *tieredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.closed.Load() {
		return ErrClosed
	}
	if ttl <= 0 {
		ttl = t.ttl
	}

	if t.cfg.WriteBehind {
		if err := t.tiers[0].Set(ctx, key, value, ttl); err != nil {
			t.stats.recordError()
			return err
		}
		for i := 1; i < len(t.tiers); i++ {
			select {
			case t.writeQ <- writeTask{tier: i, key: key, value: value, ttl: ttl}:
			default:
				t.log.Warn().Str("key", key).Int("tier", i).
					Msg("write-behind queue full, dropping background write")
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	attempted := false
	for i, tier := range t.tiers {
		if t.down[i].Load() {
			continue
		}
		attempted = true
		g.Go(func() error {
			if err := tier.Set(gctx, key, value, ttl); err != nil {
				t.markDown(i, err)
				return fmt.Errorf("tier %d (%s): %w", i, tier.Name(), err)
			}
			return nil
		})
	}
	if !attempted {
		// Returning nil here would silently drop the write.
		t.stats.recordError()
		return &ConnectionError{Op: "set", Err: ErrAllTiersDown}
	}
	if err := g.Wait(); err != nil {
		t.stats.recordError()
		return err
	}
	return nil
}

// Delete fans out to all tiers in parallel; best effort, idempotent.
func (t *tieredCache) Delete(ctx context.Context, key string) error {
	return t.fanOut(ctx, "delete", func(a Adapter) error { return a.Delete(ctx, key) })
}

// Clear fans out to all tiers in parallel. Per-tier failures are collected
// and reported; the clear is best-effort rather than atomic across tiers.
func (t *tieredCache) Clear(ctx context.Context) error {
	err := t.fanOut(ctx, "clear", func(a Adapter) error { return a.Clear(ctx) })
	if err == nil {
		t.stats.reset()
	}
	return err
}

func (t *tieredCache) fanOut(ctx context.Context, op string, fn func(Adapter) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.closed.Load() {
		return ErrClosed
	}

	errs := make([]error, len(t.tiers))
	g := new(errgroup.Group)
	for i, tier := range t.tiers {
		g.Go(func() error {
			if err := fn(tier); err != nil {
				t.markDown(i, err)
				errs[i] = fmt.Errorf("%s: tier %d (%s): %w", op, i, tier.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		t.stats.recordError()
		return err
	}
	return nil
}

// Exists short-circuits on the first tier reporting presence.
func (t *tieredCache) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if t.closed.Load() {
		return false, ErrClosed
	}

	attempted := false
	for i, tier := range t.tiers {
		if t.down[i].Load() {
			continue
		}
		attempted = true
		found, err := tier.Exists(ctx, key)
		if err != nil {
			t.markDown(i, err)
			continue
		}
		if found {
			return true, nil
		}
	}
	if !attempted {
		return false, &ConnectionError{Op: "exists", Err: ErrAllTiersDown}
	}
	return false, nil
}

// HealthCheck aggregates per-tier reports with the worst-case rule.
func (t *tieredCache) HealthCheck(ctx context.Context) health.Report {
	if t.closed.Load() {
		return health.Unhealthy(0, "cache is closed")
	}

	start := time.Now()
	reports := make([]health.Report, len(t.tiers))
	g := new(errgroup.Group)
	for i, tier := range t.tiers {
		g.Go(func() error {
			reports[i] = tier.HealthCheck(ctx)
			return nil
		})
	}
	_ = g.Wait()

	overall := health.Healthy(time.Since(start))
	details := make(map[string]any, len(t.tiers))
	for i, r := range reports {
		overall.Status = health.Worst(overall.Status, r.Status)
		details[fmt.Sprintf("tier%d(%s)", i, t.tiers[i].Name())] = r
	}
	overall.Details = details
	return overall
}

func (t *tieredCache) Shutdown(ctx context.Context) error {
	if t.closed.Swap(true) {
		return nil
	}
	t.cancelBg()
	t.wg.Wait()

	errs := make([]error, len(t.tiers))
	g := new(errgroup.Group)
	for i, tier := range t.tiers {
		g.Go(func() error {
			errs[i] = tier.Shutdown(ctx)
			return nil
		})
	}
	_ = g.Wait()

	t.log.Info().Msg("tiered cache closed")
	return errors.Join(errs...)
}

func (t *tieredCache) Metrics() Metrics {
	return t.stats.snapshot()
}

// markDown flags a tier as failed so subsequent operations skip it until
// the retry loop observes recovery.
func (t *tieredCache) markDown(i int, err error) {
	if !t.down[i].Swap(true) {
		t.log.Warn().Err(err).
			Int("tier", i).
			Str("name", t.tiers[i].Name()).
			Msg("tier marked down")
	}
}

// retryDownTiers periodically re-probes failed tiers and restores them when
// their health check no longer reports unhealthy.
func (t *tieredCache) retryDownTiers() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.cfg.GetRetryInterval())
	defer ticker.Stop()

	for {
		select {
		case <-t.bg.Done():
			return
		case <-ticker.C:
			for i := range t.tiers {
				if !t.down[i].Load() {
					continue
				}
				report := t.tiers[i].HealthCheck(t.bg)
				if report.Status != health.StatusUnhealthy {
					t.down[i].Store(false)
					t.log.Info().
						Int("tier", i).
						Str("name", t.tiers[i].Name()).
						Str("status", report.Status.String()).
						Msg("tier recovered")
				}
			}
		}
	}
}

// drainWriteQueue applies queued write-behind tasks, logging failures and
// marking the target tier down so the retry loop repairs it.
func (t *tieredCache) drainWriteQueue() {
	defer t.wg.Done()
	for {
		select {
		case <-t.bg.Done():
			// Flush what is already queued before exiting.
			for {
				select {
				case task := <-t.writeQ:
					t.applyWrite(task)
				default:
					return
				}
			}
		case task := <-t.writeQ:
			t.applyWrite(task)
		}
	}
}

func (t *tieredCache) applyWrite(task writeTask) {
	if t.down[task.tier].Load() {
		return
	}
	if err := t.tiers[task.tier].Set(t.bg, task.key, task.value, task.ttl); err != nil {
		t.stats.recordError()
		t.markDown(task.tier, err)
		t.log.Warn().Err(err).
			Str("key", task.key).
			Int("tier", task.tier).
			Msg("write-behind failed")
	}
}
