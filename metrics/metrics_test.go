package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounter(t *testing.T) {
	c := New(Config{})

	tags := Tags{"adapter": "bills", "operation": "get"}
	c.CounterInc("cache.operations", tags)
	c.CounterInc("cache.operations", tags)
	c.CounterAdd("cache.operations", 3, tags)

	fam := c.counterFamily("cache.operations", tags)
	m, err := fam.vec.GetMetricWith(fillLabels(fam.keys, tags))
	if err != nil {
		t.Fatalf("GetMetricWith failed: %v", err)
	}
	if got := testutil.ToFloat64(m); got != 5 {
		t.Errorf("counter = %f, want 5", got)
	}
}

func TestGauge(t *testing.T) {
	c := New(Config{})

	c.GaugeSet("cache.size", 10, Tags{"adapter": "bills"})
	c.GaugeSet("cache.size", 4, Tags{"adapter": "bills"})

	fam := c.gaugeFamily("cache.size", Tags{"adapter": "bills"})
	m, err := fam.vec.GetMetricWith(fillLabels(fam.keys, Tags{"adapter": "bills"}))
	if err != nil {
		t.Fatalf("GetMetricWith failed: %v", err)
	}
	if got := testutil.ToFloat64(m); got != 4 {
		t.Errorf("gauge = %f, want last written value 4", got)
	}
}

func TestHistogramQuantiles(t *testing.T) {
	c := New(Config{})
	tags := Tags{"operation": "get"}

	for i := 1; i <= 100; i++ {
		c.HistogramObserve("cache.latency", float64(i), tags)
	}

	q, ok := c.HistogramQuantiles("cache.latency", tags)
	if !ok {
		t.Fatal("no quantile snapshot for recorded series")
	}
	if q.Count != 100 {
		t.Errorf("Count = %d, want 100", q.Count)
	}
	if q.P50 != 50 {
		t.Errorf("P50 = %f, want 50", q.P50)
	}
	if q.P95 != 95 {
		t.Errorf("P95 = %f, want 95", q.P95)
	}
	if q.P99 != 99 {
		t.Errorf("P99 = %f, want 99", q.P99)
	}
}

func TestHistogramQuantiles_UnknownSeries(t *testing.T) {
	c := New(Config{})
	if _, ok := c.HistogramQuantiles("never.recorded.metric", Tags{}); ok {
		t.Error("snapshot reported for unrecorded series")
	}
}

func TestQuantileWindowBounded(t *testing.T) {
	c := New(Config{})
	tags := Tags{}

	// Overflow the window; old observations fall out but the total count
	// keeps increasing.
	for i := range quantileWindowSize + 500 {
		c.HistogramObserve("cache.latency", float64(i), tags)
	}

	q, ok := c.HistogramQuantiles("cache.latency", tags)
	if !ok {
		t.Fatal("no snapshot")
	}
	if q.Count != uint64(quantileWindowSize+500) {
		t.Errorf("Count = %d, want %d", q.Count, quantileWindowSize+500)
	}
	// The window now holds only the most recent observations.
	if q.P50 < 500 {
		t.Errorf("P50 = %f; evicted observations still dominate", q.P50)
	}
}

func TestNamespaceQualification(t *testing.T) {
	c := New(Config{Namespace: "chanuka"})

	c.CounterInc("cache.hits", nil)
	c.CounterInc("other.service.total", nil)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	// Short names get the namespace; fully qualified names pass through.
	if !strings.Contains(string(body), "chanuka_cache_hits") {
		t.Error("namespaced metric missing from exposition")
	}
	if !strings.Contains(string(body), "other_service_total") {
		t.Error("fully qualified metric renamed on export")
	}
	if strings.Contains(string(body), "chanuka_other_service_total") {
		t.Error("fully qualified metric was double-namespaced")
	}
}

func TestLabelSubsetDoesNotPanic(t *testing.T) {
	c := New(Config{})

	c.CounterInc("cache.ops", Tags{"adapter": "a", "operation": "get"})
	// Later call missing a key defaults it to "".
	c.CounterInc("cache.ops", Tags{"adapter": "a"})

	fam := c.counterFamily("cache.ops", nil)
	m, err := fam.vec.GetMetricWith(fillLabels(fam.keys, Tags{"adapter": "a"}))
	if err != nil {
		t.Fatalf("GetMetricWith failed: %v", err)
	}
	if got := testutil.ToFloat64(m); got != 1 {
		t.Errorf("subset-labeled counter = %f, want 1", got)
	}
}
