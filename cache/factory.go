package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/chanuka/substrate/metrics"
)

// Constructor builds an uninitialized adapter from a validated Config.
type Constructor func(name string, cfg *Config) (Adapter, error)

var (
	constructorsMu sync.RWMutex
	constructors   = map[Type]Constructor{}
)

// RegisterConstructor installs a constructor for a config type. Built-in
// types are registered at package init; applications may add their own.
func RegisterConstructor(t Type, fn Constructor) {
	constructorsMu.Lock()
	defer constructorsMu.Unlock()
	constructors[t] = fn
}

func init() {
	RegisterConstructor(TypeMemory, func(name string, cfg *Config) (Adapter, error) {
		return newMemoryCache(name, cfg), nil
	})
	RegisterConstructor(TypeRistretto, func(name string, cfg *Config) (Adapter, error) {
		return newRistrettoCache(name, cfg), nil
	})
	RegisterConstructor(TypeRedis, func(name string, cfg *Config) (Adapter, error) {
		return newRedisCache(name, cfg), nil
	})
	RegisterConstructor(TypeTiered, func(name string, cfg *Config) (Adapter, error) {
		return newTieredCache(name, cfg)
	})
	RegisterConstructor(TypeNoop, func(name string, _ *Config) (Adapter, error) {
		return newNoopCache(name), nil
	})
}

// build dispatches through the constructor registry. Used by the factory
// and by the tiered adapter for its members.
func build(name string, cfg *Config) (Adapter, error) {
	constructorsMu.RLock()
	fn, ok := constructors[cfg.Type]
	constructorsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("cache: unknown type %q", cfg.Type)
	}
	return fn(name, cfg)
}

// Registration records a built adapter inside the factory.
type Registration struct {
	Name         string
	Adapter      Adapter
	RegisteredAt time.Time
}

// Factory validates configuration, constructs adapters, wraps them with
// metrics and log instrumentation, and tracks them for coordinated shutdown.
// Adapter names are unique; duplicate registration is rejected, never
// silently overwritten.
type Factory struct {
	collector *metrics.Collector
	log       zerolog.Logger

	mu       sync.Mutex
	adapters map[string]Registration
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithCollector wires a metrics collector so every adapter operation emits
// an operation/outcome/latency metric.
func WithCollector(c *metrics.Collector) FactoryOption {
	return func(f *Factory) { f.collector = c }
}

// WithLogger sets the factory logger. Defaults to the package logger.
func WithLogger(log zerolog.Logger) FactoryOption {
	return func(f *Factory) { f.log = log }
}

// NewFactory creates a Factory.
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{
		log:      logger().With().Str("component", "cache_factory").Logger(),
		adapters: make(map[string]Registration),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create validates cfg, builds and initializes the adapter, wraps it with
// instrumentation, and registers it under name. Validation failures are
// returned before any resource is opened; an adapter whose Initialize fails
// is never registered.
func (f *Factory) Create(ctx context.Context, name string, cfg *Config) (Adapter, error) {
	start := time.Now()

	if name == "" {
		return nil, &ValidationError{Violations: []string{"adapter name is required"}}
	}
	if err := cfg.Validate(); err != nil {
		f.log.Debug().Err(err).Str("cache", name).Str("type", string(cfg.Type)).
			Msg("cache factory: validation failed")
		return nil, err
	}

	// Reserve the name before opening resources so concurrent Create calls
	// cannot race a duplicate.
	f.mu.Lock()
	if _, exists := f.adapters[name]; exists {
		f.mu.Unlock()
		return nil, fmt.Errorf("cache: adapter %q already registered", name)
	}
	f.adapters[name] = Registration{Name: name}
	f.mu.Unlock()

	adapter, err := build(name, cfg)
	if err == nil {
		err = adapter.Initialize(ctx)
	}
	if err != nil {
		f.mu.Lock()
		delete(f.adapters, name)
		f.mu.Unlock()
		f.log.Error().Err(err).Str("cache", name).Str("type", string(cfg.Type)).
			Msg("cache factory: backend initialization failed")
		return nil, err
	}

	wrapped := newInstrumentedAdapter(adapter, f.collector, f.log)

	f.mu.Lock()
	f.adapters[name] = Registration{
		Name:         name,
		Adapter:      wrapped,
		RegisteredAt: time.Now(),
	}
	f.mu.Unlock()

	f.log.Info().
		Str("cache", name).
		Str("type", string(cfg.Type)).
		Dur("init_time", time.Since(start)).
		Msg("cache factory: backend initialized")
	return wrapped, nil
}

// Get returns a registered adapter by name.
func (f *Factory) Get(name string) (Adapter, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, ok := f.adapters[name]
	if !ok || reg.Adapter == nil {
		return nil, false
	}
	return reg.Adapter, true
}

// Registrations returns a snapshot of all registered adapters.
func (f *Factory) Registrations() []Registration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return lo.Filter(lo.Values(f.adapters), func(reg Registration, _ int) bool {
		return reg.Adapter != nil
	})
}

// ShutdownAll shuts down every registered adapter in parallel. Individual
// failures are collected and reported, and shutdown is always attempted on
// every adapter even when some fail.
func (f *Factory) ShutdownAll(ctx context.Context) error {
	f.mu.Lock()
	regs := lo.Filter(lo.Values(f.adapters), func(reg Registration, _ int) bool {
		return reg.Adapter != nil
	})
	f.adapters = make(map[string]Registration)
	f.mu.Unlock()

	errs := make([]error, len(regs))
	g := new(errgroup.Group)
	for i, reg := range regs {
		g.Go(func() error {
			if err := reg.Adapter.Shutdown(ctx); err != nil {
				errs[i] = fmt.Errorf("shutdown %q: %w", reg.Name, err)
				f.log.Error().Err(err).Str("cache", reg.Name).Msg("adapter shutdown failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}
