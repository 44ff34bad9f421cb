package cache

import (
	"context"
	"time"

	"github.com/chanuka/substrate/health"
)

// noopCache is the passthrough adapter used when caching is disabled.
// Every operation succeeds immediately without storing data.
type noopCache struct {
	name  string
	stats *metricsTracker
}

var _ Adapter = (*noopCache)(nil)

func newNoopCache(name string) *noopCache {
	return &noopCache{name: name, stats: newMetricsTracker()}
}

func (n *noopCache) Name() string { return n.name }

func (n *noopCache) Initialize(_ context.Context) error { return nil }

func (n *noopCache) Get(_ context.Context, _ string) ([]byte, bool, error) {
	n.stats.recordMiss(0)
	return nil, false, nil
}

func (n *noopCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error {
	return nil
}

func (n *noopCache) Delete(_ context.Context, _ string) error { return nil }

func (n *noopCache) Clear(_ context.Context) error {
	n.stats.reset()
	return nil
}

func (n *noopCache) Exists(_ context.Context, _ string) (bool, error) { return false, nil }

func (n *noopCache) HealthCheck(_ context.Context) health.Report {
	return health.Healthy(0)
}

func (n *noopCache) Shutdown(_ context.Context) error { return nil }

func (n *noopCache) Metrics() Metrics { return n.stats.snapshot() }
