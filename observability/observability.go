// Package observability assembles the cross-cutting services (correlation,
// logging, metrics, tracing, health) and the cache factory into a single
// stack with one lifecycle. Services are wired through samber/do so shutdown
// runs in reverse dependency order.
package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/do/v2"

	"github.com/chanuka/substrate/cache"
	"github.com/chanuka/substrate/config"
	"github.com/chanuka/substrate/correlation"
	"github.com/chanuka/substrate/health"
	"github.com/chanuka/substrate/logging"
	"github.com/chanuka/substrate/metrics"
	"github.com/chanuka/substrate/tracing"
)

// cacheInitTimeout bounds backend initialization at startup.
const cacheInitTimeout = 30 * time.Second

// Service wrapper types for DI registration.

// ConfigService wraps the loaded configuration.
type ConfigService struct {
	Config *config.Config
}

// LoggerService wraps the zerolog logger.
type LoggerService struct {
	Logger *zerolog.Logger
}

// CorrelationService wraps the correlation manager.
type CorrelationService struct {
	Manager *correlation.Manager
}

// MetricsService wraps the metrics collector.
type MetricsService struct {
	Collector *metrics.Collector
}

// TracerService wraps the tracer.
type TracerService struct {
	Tracer *tracing.Tracer
}

// Shutdown implements do.Shutdowner, flushing pending spans.
func (t *TracerService) Shutdown() error {
	if t.Tracer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return t.Tracer.Shutdown(ctx)
}

// CheckerService wraps the periodic health checker.
type CheckerService struct {
	Checker *health.Checker
}

// Shutdown implements do.Shutdowner, stopping the periodic check loop.
func (c *CheckerService) Shutdown() error {
	if c.Checker != nil {
		c.Checker.Stop()
	}
	return nil
}

// FactoryService wraps the cache factory with every configured adapter built.
type FactoryService struct {
	Factory *cache.Factory
}

// Shutdown implements do.Shutdowner, closing every registered adapter.
func (f *FactoryService) Shutdown() error {
	if f.Factory == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), cacheInitTimeout)
	defer cancel()
	return f.Factory.ShutdownAll(ctx)
}

// Stack is the assembled observability layer.
type Stack struct {
	injector *do.RootScope
}

// New builds the full stack from a validated configuration. Construction is
// eager: a service that fails to build fails the whole stack, and services
// already built are shut down again.
func New(cfg *config.Config) (*Stack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	injector := do.New()
	do.ProvideValue(injector, &ConfigService{Config: cfg})
	registerSingletons(injector)

	s := &Stack{injector: injector}

	// Resolve eagerly in dependency order so startup failures surface now,
	// not on first use.
	if _, err := do.Invoke[*FactoryService](injector); err != nil {
		shutdownErr := s.Shutdown()
		if shutdownErr != nil {
			return nil, fmt.Errorf("observability: startup failed: %w (shutdown: %v)", err, shutdownErr)
		}
		return nil, fmt.Errorf("observability: startup failed: %w", err)
	}
	if _, err := do.Invoke[*CheckerService](injector); err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("observability: startup failed: %w", err)
	}

	return s, nil
}

// registerSingletons registers providers in dependency order:
// logger, correlation, metrics, tracer, factory, checker.
func registerSingletons(i do.Injector) {
	do.Provide(i, newLogger)
	do.Provide(i, newCorrelation)
	do.Provide(i, newMetrics)
	do.Provide(i, newTracer)
	do.Provide(i, newFactory)
	do.Provide(i, newChecker)
}

func newLogger(i do.Injector) (*LoggerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)

	logger, err := logging.New(cfgSvc.Config.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger = logger.With().Str("service", cfgSvc.Config.ServiceName).Logger()

	return &LoggerService{Logger: &logger}, nil
}

func newCorrelation(i do.Injector) (*CorrelationService, error) {
	logSvc := do.MustInvoke[*LoggerService](i)
	return &CorrelationService{Manager: correlation.NewManager(*logSvc.Logger)}, nil
}

func newMetrics(i do.Injector) (*MetricsService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	return &MetricsService{Collector: metrics.New(cfgSvc.Config.Metrics)}, nil
}

func newTracer(i do.Injector) (*TracerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)

	tcfg := cfgSvc.Config.Tracing
	if tcfg.ServiceName == "" {
		tcfg.ServiceName = cfgSvc.Config.ServiceName
	}

	tracer, err := tracing.New(tcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}
	return &TracerService{Tracer: tracer}, nil
}

func newFactory(i do.Injector) (*FactoryService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	logSvc := do.MustInvoke[*LoggerService](i)
	metricsSvc := do.MustInvoke[*MetricsService](i)

	cache.SetLogger(logSvc.Logger)
	factory := cache.NewFactory(
		cache.WithCollector(metricsSvc.Collector),
		cache.WithLogger(*logSvc.Logger),
	)

	ctx, cancel := context.WithTimeout(context.Background(), cacheInitTimeout)
	defer cancel()

	for name := range cfgSvc.Config.Caches {
		cfg := cfgSvc.Config.Caches[name]
		if _, err := factory.Create(ctx, name, &cfg); err != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cacheInitTimeout)
			shutdownErr := factory.ShutdownAll(shutdownCtx)
			shutdownCancel()
			if shutdownErr != nil {
				return nil, fmt.Errorf("failed to create cache %q: %w (shutdown: %v)", name, err, shutdownErr)
			}
			return nil, fmt.Errorf("failed to create cache %q: %w", name, err)
		}
	}

	return &FactoryService{Factory: factory}, nil
}

func newChecker(i do.Injector) (*CheckerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	logSvc := do.MustInvoke[*LoggerService](i)
	factorySvc := do.MustInvoke[*FactoryService](i)

	checker := health.NewChecker(cfgSvc.Config.Health, *logSvc.Logger)

	// Every configured cache contributes a health check.
	for _, reg := range factorySvc.Factory.Registrations() {
		adapter := reg.Adapter
		check := func(ctx context.Context) health.Report {
			return adapter.HealthCheck(ctx)
		}
		if err := checker.Register("cache."+reg.Name, check); err != nil {
			return nil, fmt.Errorf("failed to register health check for %q: %w", reg.Name, err)
		}
	}

	checker.Start()
	return &CheckerService{Checker: checker}, nil
}

// Logger returns the configured root logger.
func (s *Stack) Logger() zerolog.Logger {
	return *do.MustInvoke[*LoggerService](s.injector).Logger
}

// Correlation returns the correlation manager.
func (s *Stack) Correlation() *correlation.Manager {
	return do.MustInvoke[*CorrelationService](s.injector).Manager
}

// Metrics returns the metrics collector.
func (s *Stack) Metrics() *metrics.Collector {
	return do.MustInvoke[*MetricsService](s.injector).Collector
}

// Tracer returns the tracer.
func (s *Stack) Tracer() *tracing.Tracer {
	return do.MustInvoke[*TracerService](s.injector).Tracer
}

// Health returns the periodic health checker.
func (s *Stack) Health() *health.Checker {
	return do.MustInvoke[*CheckerService](s.injector).Checker
}

// Caches returns the cache factory.
func (s *Stack) Caches() *cache.Factory {
	return do.MustInvoke[*FactoryService](s.injector).Factory
}

// Cache returns a configured adapter by name.
func (s *Stack) Cache(name string) (cache.Adapter, bool) {
	return s.Caches().Get(name)
}

// StartRequest establishes a correlation context, a tagged logger, and a
// root span for one logical request. The returned finish func ends the span.
func (s *Stack) StartRequest(ctx context.Context, name string, opts ...correlation.Option) (context.Context, func()) {
	ctx, _ = s.Correlation().StartRequest(ctx, opts...)
	ctx, span := s.Tracer().StartSpan(ctx, name)
	return ctx, func() { span.End() }
}

// Shutdown stops all services in reverse order of initialization.
// Services implementing do.Shutdowner have their Shutdown method called.
func (s *Stack) Shutdown() error {
	report := s.injector.Shutdown()
	if report != nil && !report.Succeed {
		return fmt.Errorf("shutdown failed: %s", report.Error())
	}
	return nil
}

// ShutdownWithContext shuts down with a deadline.
func (s *Stack) ShutdownWithContext(ctx context.Context) error {
	done := make(chan *do.ShutdownReport, 1)
	go func() {
		done <- s.injector.ShutdownWithContext(ctx)
	}()

	select {
	case report := <-done:
		if report != nil && !report.Succeed {
			return fmt.Errorf("shutdown failed: %s", report.Error())
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}
