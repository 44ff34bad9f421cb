package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/chanuka/substrate/correlation"
	"github.com/chanuka/substrate/health"
	"github.com/chanuka/substrate/metrics"
)

// Metric names emitted by the instrumented adapter.
const (
	metricOperations = "substrate.cache.operations"
	metricLatency    = "substrate.cache.operation_latency_seconds"
)

// instrumentedAdapter decorates an Adapter with operation metrics and
// correlation-tagged debug logs. The wrapped adapter stays free of
// observability concerns; everything is emitted out here.
type instrumentedAdapter struct {
	inner     Adapter
	collector *metrics.Collector
	log       zerolog.Logger
}

var (
	_ Adapter   = (*instrumentedAdapter)(nil)
	_ Unwrapper = (*instrumentedAdapter)(nil)
)

func newInstrumentedAdapter(inner Adapter, collector *metrics.Collector, log zerolog.Logger) *instrumentedAdapter {
	return &instrumentedAdapter{
		inner:     inner,
		collector: collector,
		log:       log.With().Str("cache", inner.Name()).Logger(),
	}
}

func (a *instrumentedAdapter) Name() string { return a.inner.Name() }

// Unwrap exposes the decorated adapter.
func (a *instrumentedAdapter) Unwrap() Adapter { return a.inner }

func (a *instrumentedAdapter) Initialize(ctx context.Context) error {
	return a.inner.Initialize(ctx)
}

func (a *instrumentedAdapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, found, err := a.inner.Get(ctx, key)

	outcome := "hit"
	switch {
	case err != nil:
		outcome = "error"
	case !found:
		outcome = "miss"
	}
	a.record(ctx, "get", outcome, key, time.Since(start), err)
	return value, found, err
}

func (a *instrumentedAdapter) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := a.inner.Set(ctx, key, value, ttl)
	a.record(ctx, "set", outcomeOf(err), key, time.Since(start), err)
	return err
}

func (a *instrumentedAdapter) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := a.inner.Delete(ctx, key)
	a.record(ctx, "delete", outcomeOf(err), key, time.Since(start), err)
	return err
}

func (a *instrumentedAdapter) Clear(ctx context.Context) error {
	start := time.Now()
	err := a.inner.Clear(ctx)
	a.record(ctx, "clear", outcomeOf(err), "", time.Since(start), err)
	return err
}

func (a *instrumentedAdapter) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	found, err := a.inner.Exists(ctx, key)
	a.record(ctx, "exists", outcomeOf(err), key, time.Since(start), err)
	return found, err
}

func (a *instrumentedAdapter) HealthCheck(ctx context.Context) health.Report {
	return a.inner.HealthCheck(ctx)
}

func (a *instrumentedAdapter) Shutdown(ctx context.Context) error {
	return a.inner.Shutdown(ctx)
}

func (a *instrumentedAdapter) Metrics() Metrics {
	return a.inner.Metrics()
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (a *instrumentedAdapter) record(ctx context.Context, op, outcome, key string, elapsed time.Duration, err error) {
	if a.collector != nil {
		tags := metrics.Tags{
			"adapter":   a.inner.Name(),
			"operation": op,
			"outcome":   outcome,
		}
		a.collector.CounterInc(metricOperations, tags)
		a.collector.HistogramObserve(metricLatency, elapsed.Seconds(), tags)
	}

	evt := a.log.Debug()
	if err != nil {
		evt = a.log.Warn().Err(err)
	}
	if !evt.Enabled() {
		return
	}
	if id := correlation.ID(ctx); id != "" {
		evt = evt.Str("correlation_id", id)
	}
	if key != "" {
		evt = evt.Str("key", key)
	}
	evt.Str("op", op).
		Str("outcome", outcome).
		Dur("elapsed", elapsed).
		Msg("cache operation")
}
