// Package metrics implements the substrate metrics collector on top of
// Prometheus client_golang.
//
// Metric names are namespaced as service.component.metric (for example
// substrate.cache.operations) and mapped to Prometheus-safe underscore names
// on export. Histograms additionally maintain a bounded sliding window per
// label set so p50/p95/p99 snapshots can be read in-process without querying
// a Prometheus server.
package metrics

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes metric names that carry fewer than three segments.
const DefaultNamespace = "substrate"

// defaultBuckets are the histogram buckets used on export, in seconds.
var defaultBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}

// quantileWindowSize bounds the per-series sliding window used for
// in-process quantile snapshots.
const quantileWindowSize = 1024

// Config defines collector behavior.
type Config struct {
	// Namespace is the leading segment applied to metric names that are not
	// already fully qualified. Empty defaults to "substrate".
	Namespace string `yaml:"namespace"`

	// Buckets overrides the default export histogram buckets.
	Buckets []float64 `yaml:"buckets"`
}

// Tags are metric labels.
type Tags map[string]string

// Quantiles is an in-process snapshot of a histogram series.
type Quantiles struct {
	Count uint64
	P50   float64
	P95   float64
	P99   float64
}

// Collector registers and records counters, gauges, and histograms.
// All methods are safe for concurrent use.
type Collector struct {
	registry  *prometheus.Registry
	namespace string
	buckets   []float64

	mu         sync.Mutex
	counters   map[string]*counterFamily
	gauges     map[string]*gaugeFamily
	histograms map[string]*histogramFamily
}

type counterFamily struct {
	vec  *prometheus.CounterVec
	keys []string
}

type gaugeFamily struct {
	vec  *prometheus.GaugeVec
	keys []string
}

type histogramFamily struct {
	vec  *prometheus.HistogramVec
	keys []string

	mu     sync.Mutex
	series map[string]*quantileWindow
}

// New creates a Collector with its own Prometheus registry.
func New(cfg Config) *Collector {
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}
	return &Collector{
		registry:   prometheus.NewRegistry(),
		namespace:  namespace,
		buckets:    buckets,
		counters:   make(map[string]*counterFamily),
		gauges:     make(map[string]*gaugeFamily),
		histograms: make(map[string]*histogramFamily),
	}
}

// Handler returns an HTTP handler exposing the registry in Prometheus
// exposition format, for the embedding application to mount.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for custom instrumentation.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CounterInc increments a counter by one.
func (c *Collector) CounterInc(name string, tags Tags) {
	c.CounterAdd(name, 1, tags)
}

// CounterAdd increments a counter by v.
func (c *Collector) CounterAdd(name string, v float64, tags Tags) {
	fam := c.counterFamily(name, tags)
	if m, err := fam.vec.GetMetricWith(fillLabels(fam.keys, tags)); err == nil {
		m.Add(v)
	}
}

// GaugeSet sets a gauge to v.
func (c *Collector) GaugeSet(name string, v float64, tags Tags) {
	fam := c.gaugeFamily(name, tags)
	if m, err := fam.vec.GetMetricWith(fillLabels(fam.keys, tags)); err == nil {
		m.Set(v)
	}
}

// HistogramObserve records an observation, both into the exported Prometheus
// histogram and the in-process quantile window.
func (c *Collector) HistogramObserve(name string, v float64, tags Tags) {
	fam := c.histogramFamily(name, tags)
	labels := fillLabels(fam.keys, tags)
	if m, err := fam.vec.GetMetricWith(labels); err == nil {
		m.Observe(v)
	}
	fam.window(labels).observe(v)
}

// HistogramQuantiles returns the p50/p95/p99 snapshot of a histogram series.
// The second return value is false when the series has no observations.
func (c *Collector) HistogramQuantiles(name string, tags Tags) (Quantiles, bool) {
	c.mu.Lock()
	fam, ok := c.histograms[c.canonical(name)]
	c.mu.Unlock()
	if !ok {
		return Quantiles{}, false
	}
	return fam.window(fillLabels(fam.keys, tags)).snapshot()
}

// canonical qualifies a metric name with the namespace when needed, keeping
// the service.component.metric form.
func (c *Collector) canonical(name string) string {
	if strings.Count(name, ".") >= 2 {
		return name
	}
	return c.namespace + "." + name
}

// promName converts a canonical dotted name to a Prometheus-safe name.
func promName(canonical string) string {
	return strings.ReplaceAll(canonical, ".", "_")
}

// labelKeys returns the sorted label key set; the first recording of a
// metric fixes its key set.
func labelKeys(tags Tags) []string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// fillLabels builds a complete label map for the registered key set,
// defaulting missing keys to "" so later calls with a subset never panic.
func fillLabels(keys []string, tags Tags) prometheus.Labels {
	labels := make(prometheus.Labels, len(keys))
	for _, k := range keys {
		labels[k] = tags[k]
	}
	return labels
}

func (c *Collector) counterFamily(name string, tags Tags) *counterFamily {
	canonical := c.canonical(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	if fam, ok := c.counters[canonical]; ok {
		return fam
	}
	keys := labelKeys(tags)
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: promName(canonical),
		Help: "Counter " + canonical,
	}, keys)
	c.registry.MustRegister(vec)
	fam := &counterFamily{vec: vec, keys: keys}
	c.counters[canonical] = fam
	return fam
}

func (c *Collector) gaugeFamily(name string, tags Tags) *gaugeFamily {
	canonical := c.canonical(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	if fam, ok := c.gauges[canonical]; ok {
		return fam
	}
	keys := labelKeys(tags)
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: promName(canonical),
		Help: "Gauge " + canonical,
	}, keys)
	c.registry.MustRegister(vec)
	fam := &gaugeFamily{vec: vec, keys: keys}
	c.gauges[canonical] = fam
	return fam
}

func (c *Collector) histogramFamily(name string, tags Tags) *histogramFamily {
	canonical := c.canonical(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	if fam, ok := c.histograms[canonical]; ok {
		return fam
	}
	keys := labelKeys(tags)
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    promName(canonical),
		Help:    "Histogram " + canonical,
		Buckets: c.buckets,
	}, keys)
	c.registry.MustRegister(vec)
	fam := &histogramFamily{
		vec:    vec,
		keys:   keys,
		series: make(map[string]*quantileWindow),
	}
	c.histograms[canonical] = fam
	return fam
}

// window returns the quantile window for a label set, creating it if needed.
func (f *histogramFamily) window(labels prometheus.Labels) *quantileWindow {
	key := seriesKey(f.keys, labels)
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.series[key]
	if !ok {
		w = &quantileWindow{}
		f.series[key] = w
	}
	return w
}

func seriesKey(keys []string, labels prometheus.Labels) string {
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
		b.WriteByte(';')
	}
	return b.String()
}

// quantileWindow is a bounded ring of observations.
type quantileWindow struct {
	mu     sync.Mutex
	values []float64
	next   int
	count  uint64
}

func (w *quantileWindow) observe(v float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.values) < quantileWindowSize {
		w.values = append(w.values, v)
	} else {
		w.values[w.next] = v
		w.next = (w.next + 1) % quantileWindowSize
	}
	w.count++
}

func (w *quantileWindow) snapshot() (Quantiles, bool) {
	w.mu.Lock()
	if len(w.values) == 0 {
		w.mu.Unlock()
		return Quantiles{}, false
	}
	sorted := make([]float64, len(w.values))
	copy(sorted, w.values)
	count := w.count
	w.mu.Unlock()

	sort.Float64s(sorted)
	return Quantiles{
		Count: count,
		P50:   percentile(sorted, 0.50),
		P95:   percentile(sorted, 0.95),
		P99:   percentile(sorted, 0.99),
	}, true
}

// percentile uses nearest-rank on an ascending slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p*float64(len(sorted))+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
