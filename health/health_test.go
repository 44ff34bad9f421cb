package health

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestWorst(t *testing.T) {
	tests := []struct {
		a, b, want Status
	}{
		{StatusHealthy, StatusHealthy, StatusHealthy},
		{StatusHealthy, StatusDegraded, StatusDegraded},
		{StatusDegraded, StatusHealthy, StatusDegraded},
		{StatusDegraded, StatusUnhealthy, StatusUnhealthy},
		{StatusUnhealthy, StatusHealthy, StatusUnhealthy},
	}
	for _, tt := range tests {
		if got := Worst(tt.a, tt.b); got != tt.want {
			t.Errorf("Worst(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestAggregate_WorstCase(t *testing.T) {
	overall := Aggregate(map[string]Report{
		"a": Healthy(time.Millisecond),
		"b": Degraded(time.Millisecond, "near capacity"),
		"c": Healthy(time.Millisecond),
	})
	if overall.Status != StatusDegraded {
		t.Errorf("status = %v, want degraded", overall.Status)
	}

	overall = Aggregate(map[string]Report{
		"a": Degraded(0, "x"),
		"b": Unhealthy(0, "down"),
	})
	if overall.Status != StatusUnhealthy {
		t.Errorf("status = %v, want unhealthy", overall.Status)
	}
}

func TestAggregate_Empty(t *testing.T) {
	if got := Aggregate(nil).Status; got != StatusHealthy {
		t.Errorf("empty aggregate = %v, want healthy", got)
	}
}

func TestWithDetail_CopiesReport(t *testing.T) {
	base := Unhealthy(0, "down")
	derived := base.WithDetail("addr", "localhost:6379")

	if _, ok := base.Details["addr"]; ok {
		t.Error("WithDetail mutated the original report")
	}
	if derived.Details["addr"] != "localhost:6379" || derived.Details["reason"] != "down" {
		t.Errorf("derived details = %v", derived.Details)
	}
}

func TestStatus_JSONRendering(t *testing.T) {
	data, err := json.Marshal(Degraded(time.Millisecond, "x"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"status":"degraded"`) {
		t.Errorf("status rendered numerically: %s", data)
	}
}
