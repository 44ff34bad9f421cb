package observability

import (
	"context"
	"testing"
	"time"

	"github.com/chanuka/substrate/cache"
	"github.com/chanuka/substrate/config"
	"github.com/chanuka/substrate/health"
	"github.com/chanuka/substrate/logging"
	"github.com/chanuka/substrate/metrics"
)

func testConfig() *config.Config {
	return &config.Config{
		ServiceName: "chanuka-test",
		Logging:     logging.Config{Level: "error", Format: logging.FormatJSON},
		Metrics:     metrics.Config{Namespace: "chanuka"},
		Health:      health.CheckerConfig{Interval: time.Hour},
		Caches: map[string]cache.Config{
			"bills":   {Type: cache.TypeMemory, Memory: cache.MemoryConfig{MaxSize: 100}},
			"members": {Type: cache.TypeNoop},
		},
	}
}

func newTestStack(t *testing.T, cfg *config.Config) *Stack {
	t.Helper()
	stack, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() {
		_ = stack.Shutdown()
	})
	return stack
}

func TestStack_BuildsAllServices(t *testing.T) {
	stack := newTestStack(t, testConfig())

	if stack.Correlation() == nil {
		t.Error("correlation manager missing")
	}
	if stack.Metrics() == nil {
		t.Error("metrics collector missing")
	}
	if stack.Tracer() == nil {
		t.Error("tracer missing")
	}
	if stack.Health() == nil {
		t.Error("health checker missing")
	}

	for _, name := range []string{"bills", "members"} {
		if _, ok := stack.Cache(name); !ok {
			t.Errorf("configured cache %q not registered", name)
		}
	}
	if _, ok := stack.Cache("absent"); ok {
		t.Error("unknown cache name resolved")
	}
}

func TestStack_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Caches["broken"] = cache.Config{Type: cache.TypeRedis}

	if _, err := New(cfg); err == nil {
		t.Fatal("invalid config accepted")
	}
}

func TestStack_CachesRegisterHealthChecks(t *testing.T) {
	stack := newTestStack(t, testConfig())

	overall := stack.Health().Check(context.Background())
	if overall.Status != health.StatusHealthy {
		t.Errorf("status = %v, want healthy", overall.Status)
	}
	for _, name := range []string{"cache.bills", "cache.members"} {
		if _, ok := overall.Checks[name]; !ok {
			t.Errorf("health check %q not registered", name)
		}
	}
}

func TestStack_StartRequestWiring(t *testing.T) {
	stack := newTestStack(t, testConfig())

	ctx, finish := stack.StartRequest(context.Background(), "list-bills")
	defer finish()

	c := stack.Correlation().Get(ctx)
	if c.Synthetic {
		t.Error("StartRequest did not establish a correlation context")
	}
	if span := stack.Tracer().CurrentSpan(ctx); !span.SpanContext().IsValid() {
		t.Error("StartRequest did not start a span")
	}
}

func TestStack_EndToEndCacheOperation(t *testing.T) {
	stack := newTestStack(t, testConfig())
	ctx, finish := stack.StartRequest(context.Background(), "cache-bill")
	defer finish()

	bills, ok := stack.Cache("bills")
	if !ok {
		t.Fatal("bills cache missing")
	}
	if err := bills.Set(ctx, "bill:42", []byte("assented"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	value, found, err := bills.Get(ctx, "bill:42")
	if err != nil || !found || string(value) != "assented" {
		t.Fatalf("Get = %q, %v, %v", value, found, err)
	}

	// Instrumentation recorded the operation in the shared collector.
	tags := metrics.Tags{"adapter": "bills", "operation": "get", "outcome": "hit"}
	if _, ok := stack.Metrics().HistogramQuantiles("substrate.cache.operation_latency_seconds", tags); !ok {
		t.Error("cache operation not recorded in metrics")
	}
}

func TestStack_ShutdownStopsEverything(t *testing.T) {
	stack, err := New(testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	bills, _ := stack.Cache("bills")
	if err := stack.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if err := bills.Set(context.Background(), "k", []byte("v"), 0); err == nil {
		t.Error("cache still accepts writes after stack shutdown")
	}
}
