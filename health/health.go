// Package health provides health status types, worst-case aggregation, and a
// checker that runs named checks in parallel with per-check circuit breaking.
//
// The package implements:
//   - Status (healthy / degraded / unhealthy) with worst-case combination
//   - Report, the result of a single probe, with free-form diagnostic details
//   - Checker, a registry of named check functions with cached results and a
//     circuit breaker per check so one chronically failing probe cannot
//     dominate every health request
package health

import (
	"time"
)

// Status represents the health of a component.
type Status int

const (
	// StatusHealthy means the component is fully operational.
	StatusHealthy Status = iota

	// StatusDegraded means the component is operational but impaired,
	// e.g. a cache near capacity or a circuit in half-open state.
	StatusDegraded

	// StatusUnhealthy means the component cannot serve requests.
	StatusUnhealthy
)

// String returns the lowercase name of the status.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so Status renders as its
// name in JSON and YAML output.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Worst returns the worse of two statuses. Aggregation never reports an
// overall status better than the worst constituent.
func Worst(a, b Status) Status {
	if b > a {
		return b
	}
	return a
}

// Report is the result of a single health probe.
type Report struct {
	Status    Status         `json:"status"`
	Latency   time.Duration  `json:"latency_ms"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// Healthy returns a healthy report stamped with the given probe latency.
func Healthy(latency time.Duration) Report {
	return Report{Status: StatusHealthy, Latency: latency, Timestamp: time.Now()}
}

// Degraded returns a degraded report with a reason detail.
func Degraded(latency time.Duration, reason string) Report {
	return Report{
		Status:    StatusDegraded,
		Latency:   latency,
		Timestamp: time.Now(),
		Details:   map[string]any{"reason": reason},
	}
}

// Unhealthy returns an unhealthy report with a reason detail.
func Unhealthy(latency time.Duration, reason string) Report {
	return Report{
		Status:    StatusUnhealthy,
		Latency:   latency,
		Timestamp: time.Now(),
		Details:   map[string]any{"reason": reason},
	}
}

// WithDetail returns a copy of the report with an extra detail field set.
func (r Report) WithDetail(key string, value any) Report {
	details := make(map[string]any, len(r.Details)+1)
	for k, v := range r.Details {
		details[k] = v
	}
	details[key] = value
	r.Details = details
	return r
}

// Overall is the aggregate of every registered check.
type Overall struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]Report `json:"checks"`
}

// Aggregate combines per-check reports into an overall report using the
// worst-case rule. An empty input aggregates to healthy.
func Aggregate(reports map[string]Report) Overall {
	overall := Overall{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    reports,
	}
	for _, r := range reports {
		overall.Status = Worst(overall.Status, r.Status)
	}
	return overall
}
