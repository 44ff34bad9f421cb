package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/chanuka/substrate/health"
)

func newTestRedisCache(t *testing.T, mutate func(*Config)) (*redisCache, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)

	cfg := &Config{
		Type: TypeRedis,
		Redis: RedisConfig{
			Addr: srv.Addr(),
			Breaker: BreakerConfig{
				FailureThreshold: 2,
				ResetTimeout:     time.Second,
			},
		},
	}
	if mutate != nil {
		mutate(cfg)
	}

	cache := newRedisCache("test", cfg)
	if err := cache.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() {
		_ = cache.Shutdown(context.Background())
	})
	return cache, srv
}

func TestRedisCache_GetSet(t *testing.T) {
	cache, _ := newTestRedisCache(t, nil)
	ctx := context.Background()

	if err := cache.Set(ctx, "bill:42", []byte("committee stage"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, found, err := cache.Get(ctx, "bill:42")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found || string(value) != "committee stage" {
		t.Errorf("Get = %q, %v; want stored value", value, found)
	}

	_, found, err = cache.Get(ctx, "bill:404")
	if err != nil {
		t.Fatalf("Get of absent key returned error: %v", err)
	}
	if found {
		t.Error("Get returned found=true for an absent key")
	}
}

func TestRedisCache_TTLExpiry(t *testing.T) {
	cache, srv := newTestRedisCache(t, nil)
	ctx := context.Background()

	if err := cache.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	srv.FastForward(61 * time.Second)

	if _, found, _ := cache.Get(ctx, "k"); found {
		t.Error("entry visible after TTL elapsed")
	}
}

func TestRedisCache_KeyPrefix(t *testing.T) {
	cache, srv := newTestRedisCache(t, func(cfg *Config) {
		cfg.Redis.KeyPrefix = "bills:"
	})
	ctx := context.Background()

	if err := cache.Set(ctx, "42", []byte("v"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if !srv.Exists("bills:42") {
		t.Error("stored key not namespaced with the configured prefix")
	}
}

func TestRedisCache_ClearOnlyRemovesPrefixedKeys(t *testing.T) {
	cache, srv := newTestRedisCache(t, func(cfg *Config) {
		cfg.Redis.KeyPrefix = "bills:"
	})
	ctx := context.Background()

	// Another tenant's keys on the shared backend.
	srv.Set("members:7", "other")
	for _, key := range []string{"1", "2", "3"} {
		if err := cache.Set(ctx, key, []byte("v"), 0); err != nil {
			t.Fatalf("Set %q failed: %v", key, err)
		}
	}

	if err := cache.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	for _, key := range []string{"1", "2", "3"} {
		if _, found, _ := cache.Get(ctx, key); found {
			t.Errorf("key %q survived Clear", key)
		}
	}
	if !srv.Exists("members:7") {
		t.Error("Clear removed a key outside the configured prefix")
	}
}

func TestRedisCache_ClearWithoutPrefixFlushes(t *testing.T) {
	cache, srv := newTestRedisCache(t, nil)
	ctx := context.Background()

	_ = cache.Set(ctx, "a", []byte("v"), 0)
	_ = cache.Set(ctx, "b", []byte("v"), 0)

	if err := cache.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if len(srv.Keys()) != 0 {
		t.Errorf("keys remain after Clear: %v", srv.Keys())
	}
}

func TestRedisCache_DeleteIdempotent(t *testing.T) {
	cache, _ := newTestRedisCache(t, nil)
	ctx := context.Background()

	_ = cache.Set(ctx, "k", []byte("v"), 0)
	if err := cache.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := cache.Delete(ctx, "k"); err != nil {
		t.Errorf("second Delete = %v, want nil", err)
	}
}

func TestRedisCache_Exists(t *testing.T) {
	cache, _ := newTestRedisCache(t, nil)
	ctx := context.Background()

	found, err := cache.Exists(ctx, "k")
	if err != nil || found {
		t.Fatalf("Exists of absent key = %v, %v", found, err)
	}
	_ = cache.Set(ctx, "k", []byte("v"), 0)
	found, err = cache.Exists(ctx, "k")
	if err != nil || !found {
		t.Errorf("Exists of present key = %v, %v", found, err)
	}
}

func TestRedisCache_InitializeFailsWhenUnreachable(t *testing.T) {
	cfg := &Config{
		Type: TypeRedis,
		Redis: RedisConfig{
			Addr:        "127.0.0.1:1",
			DialTimeout: 200 * time.Millisecond,
		},
	}
	cache := newRedisCache("test", cfg)

	err := cache.Initialize(context.Background())
	if err == nil {
		t.Fatal("Initialize succeeded against an unreachable backend")
	}
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Errorf("Initialize error = %T, want *ConnectionError", err)
	}
	if !IsRetryable(err) {
		t.Error("connection failure should be retryable")
	}

	// Shutdown after a failed Initialize has no client to close.
	if err := cache.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown after failed Initialize = %v, want nil", err)
	}
}

func TestRedisCache_ShutdownWithoutInitialize(t *testing.T) {
	cache := newRedisCache("test", &Config{Type: TypeRedis, Redis: RedisConfig{Addr: "127.0.0.1:1"}})
	if err := cache.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown = %v, want nil", err)
	}
}

func TestRedisCache_CircuitOpensOnBackendLoss(t *testing.T) {
	cache, srv := newTestRedisCache(t, nil)
	ctx := context.Background()

	_ = cache.Set(ctx, "k", []byte("v"), 0)
	srv.Close()

	// Two consecutive failures trip the breaker.
	for range 2 {
		if _, _, err := cache.Get(ctx, "k"); err == nil {
			t.Fatal("Get succeeded against a closed backend")
		}
	}

	// Fail fast now: no I/O, sentinel error.
	_, _, err := cache.Get(ctx, "k")
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Get with open circuit = %v, want ErrCircuitOpen", err)
	}

	report := cache.HealthCheck(ctx)
	if report.Status != health.StatusUnhealthy {
		t.Errorf("health status with open circuit = %v, want unhealthy", report.Status)
	}
	if report.Details["circuit"] != "open" {
		t.Errorf("circuit detail = %v, want open", report.Details["circuit"])
	}
}

func TestRedisCache_ClosedOperationsFail(t *testing.T) {
	cache, _ := newTestRedisCache(t, nil)
	ctx := context.Background()

	if err := cache.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if _, _, err := cache.Get(ctx, "k"); !errors.Is(err, ErrClosed) {
		t.Errorf("Get after Shutdown = %v, want ErrClosed", err)
	}
	if err := cache.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown = %v, want nil", err)
	}
}
