// Package config provides configuration loading, validation, and hot-reload
// for substrate services.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/chanuka/substrate/cache"
	"github.com/chanuka/substrate/health"
	"github.com/chanuka/substrate/logging"
	"github.com/chanuka/substrate/metrics"
	"github.com/chanuka/substrate/tracing"
)

// Config is the top-level configuration for the infrastructure layer.
type Config struct {
	ServiceName string `yaml:"service_name"`

	Logging logging.Config       `yaml:"logging"`
	Metrics metrics.Config       `yaml:"metrics"`
	Tracing tracing.Config       `yaml:"tracing"`
	Health  health.CheckerConfig `yaml:"health"`

	// Caches maps adapter name to its configuration. Each entry becomes a
	// factory registration at startup.
	Caches map[string]cache.Config `yaml:"caches"`
}

// ValidationError aggregates every configuration violation found, not just
// the first, so operators fix a bad file in one pass.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %d violation(s): %s", len(e.Violations), strings.Join(e.Violations, "; "))
}

// Validate checks the whole configuration and reports every violation.
func (c *Config) Validate() error {
	var violations []string

	if c.ServiceName == "" {
		violations = append(violations, "service_name is required")
	}

	if c.Logging.Level != "" {
		if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
			violations = append(violations, "logging.level: "+err.Error())
		}
	}
	switch c.Logging.Format {
	case "", logging.FormatJSON, logging.FormatConsole, logging.FormatPretty:
	default:
		violations = append(violations, fmt.Sprintf("logging.format: unknown format %q", c.Logging.Format))
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		violations = append(violations, "tracing.sample_rate: must be between 0 and 1")
	}
	switch c.Tracing.Exporter {
	case "", tracing.ExporterNone, tracing.ExporterStdout:
	default:
		violations = append(violations, fmt.Sprintf("tracing.exporter: unknown exporter %q", c.Tracing.Exporter))
	}

	if c.Health.FailureThreshold < 0 {
		violations = append(violations, "health.failure_threshold: must not be negative")
	}
	if c.Health.Interval < 0 {
		violations = append(violations, "health.interval: must not be negative")
	}

	// Deterministic ordering so repeated validation of the same file prints
	// the same report.
	names := make([]string, 0, len(c.Caches))
	for name := range c.Caches {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cfg := c.Caches[name]
		if err := cfg.Validate(); err != nil {
			var verr *cache.ValidationError
			if errors.As(err, &verr) {
				for _, v := range verr.Violations {
					violations = append(violations, fmt.Sprintf("caches.%s: %s", name, v))
				}
			} else {
				violations = append(violations, fmt.Sprintf("caches.%s: %v", name, err))
			}
		}
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}
