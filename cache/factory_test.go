package cache

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/chanuka/substrate/metrics"
)

func newTestFactory(t *testing.T, opts ...FactoryOption) *Factory {
	t.Helper()
	f := NewFactory(opts...)
	t.Cleanup(func() {
		_ = f.ShutdownAll(context.Background())
	})
	return f
}

func memoryConfig() *Config {
	return &Config{Type: TypeMemory, Memory: MemoryConfig{MaxSize: 10}}
}

func TestFactory_CreateMemory(t *testing.T) {
	f := newTestFactory(t)
	ctx := context.Background()

	adapter, err := f.Create(ctx, "bills", memoryConfig())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if adapter.Name() != "bills" {
		t.Errorf("Name = %q, want %q", adapter.Name(), "bills")
	}

	// The registered adapter is the instrumented wrapper around the backend.
	if _, ok := adapter.(Unwrapper); !ok {
		t.Fatal("factory did not wrap the adapter")
	}
	if _, ok := Unwrap(adapter).(*memoryCache); !ok {
		t.Errorf("unwrapped adapter = %T, want *memoryCache", Unwrap(adapter))
	}

	if err := adapter.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set through factory adapter failed: %v", err)
	}
	if _, found, _ := adapter.Get(ctx, "k"); !found {
		t.Error("Get through factory adapter missed")
	}
}

func TestFactory_ValidationRunsBeforeConstruction(t *testing.T) {
	f := newTestFactory(t)

	_, err := f.Create(context.Background(), "broken", &Config{
		Type:       TypeRedis,
		DefaultTTL: -1,
	})
	if err == nil {
		t.Fatal("Create accepted invalid config")
	}

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %T, want *ValidationError", err)
	}
	// Every violation is reported, not just the first.
	if len(verr.Violations) < 2 {
		t.Errorf("violations = %v, want both default_ttl and redis.addr reported", verr.Violations)
	}
	if !strings.Contains(err.Error(), "redis.addr") {
		t.Errorf("error %q does not name the missing addr", err)
	}

	// Nothing was registered.
	if _, ok := f.Get("broken"); ok {
		t.Error("invalid adapter was registered")
	}
}

func TestFactory_UnknownType(t *testing.T) {
	f := newTestFactory(t)

	_, err := f.Create(context.Background(), "x", &Config{Type: "memcached"})
	if err == nil {
		t.Fatal("Create accepted unknown type")
	}
}

func TestFactory_DuplicateNameRejected(t *testing.T) {
	f := newTestFactory(t)
	ctx := context.Background()

	first, err := f.Create(ctx, "bills", memoryConfig())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	_ = first.Set(ctx, "k", []byte("v"), 0)

	if _, err := f.Create(ctx, "bills", memoryConfig()); err == nil {
		t.Fatal("duplicate name accepted")
	}

	// The original registration is untouched.
	got, ok := f.Get("bills")
	if !ok {
		t.Fatal("original adapter lost after duplicate Create")
	}
	if _, found, _ := got.Get(ctx, "k"); !found {
		t.Error("original adapter was replaced")
	}
}

func TestFactory_Registrations(t *testing.T) {
	f := newTestFactory(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b"} {
		if _, err := f.Create(ctx, name, memoryConfig()); err != nil {
			t.Fatalf("Create %q failed: %v", name, err)
		}
	}

	regs := f.Registrations()
	if len(regs) != 2 {
		t.Fatalf("Registrations = %d entries, want 2", len(regs))
	}
	for _, reg := range regs {
		if reg.RegisteredAt.IsZero() {
			t.Errorf("registration %q has zero timestamp", reg.Name)
		}
	}
}

func TestFactory_ShutdownAll(t *testing.T) {
	f := NewFactory()
	ctx := context.Background()

	a, err := f.Create(ctx, "a", memoryConfig())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	b, err := f.Create(ctx, "b", memoryConfig())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := f.ShutdownAll(ctx); err != nil {
		t.Fatalf("ShutdownAll failed: %v", err)
	}

	for _, adapter := range []Adapter{a, b} {
		if _, _, err := adapter.Get(ctx, "k"); !errors.Is(err, ErrClosed) {
			t.Errorf("Get after ShutdownAll = %v, want ErrClosed", err)
		}
	}
	if regs := f.Registrations(); len(regs) != 0 {
		t.Errorf("registrations remain after ShutdownAll: %d", len(regs))
	}
}

func TestFactory_CreateTieredThroughRegistry(t *testing.T) {
	f := newTestFactory(t)
	ctx := context.Background()

	adapter, err := f.Create(ctx, "layered", &Config{
		Type: TypeTiered,
		Tiered: TieredConfig{
			PromoteSynchronously: true,
			Tiers: []Config{
				{Type: TypeMemory, Memory: MemoryConfig{MaxSize: 2}},
				{Type: TypeMemory, Memory: MemoryConfig{MaxSize: 100}},
			},
		},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := adapter.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, found, _ := adapter.Get(ctx, "k"); !found {
		t.Error("tiered adapter missed a stored key")
	}
}

func TestFactory_InstrumentationEmitsMetrics(t *testing.T) {
	collector := metrics.New(metrics.Config{Namespace: "testsvc"})
	f := newTestFactory(t, WithCollector(collector))
	ctx := context.Background()

	adapter, err := f.Create(ctx, "bills", memoryConfig())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	_ = adapter.Set(ctx, "k", []byte("v"), 0)
	_, _, _ = adapter.Get(ctx, "k")
	_, _, _ = adapter.Get(ctx, "missing")

	hitTags := metrics.Tags{"adapter": "bills", "operation": "get", "outcome": "hit"}
	q, ok := collector.HistogramQuantiles(metricLatency, hitTags)
	if !ok {
		t.Fatal("no latency series recorded for get/hit")
	}
	if q.Count != 1 {
		t.Errorf("get/hit observations = %d, want 1", q.Count)
	}

	missTags := metrics.Tags{"adapter": "bills", "operation": "get", "outcome": "miss"}
	if _, ok := collector.HistogramQuantiles(metricLatency, missTags); !ok {
		t.Error("no latency series recorded for get/miss")
	}
}
