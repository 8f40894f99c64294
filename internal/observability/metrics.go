package observability

import (
	"net/http"
	"sync"
	"time"
)

// MetricsRegistry holds all registered metrics.
type MetricsRegistry struct {
	mu       sync.RWMutex
	counters map[string]*Counter
	gauges   map[string]*Gauge
	histos   map[string]*Histogram
}

// Counter is a monotonically increasing metric.
type Counter struct {
	name   string
	help   string
	labels map[string]string
	value  float64
	mu     sync.Mutex
}

// Gauge is a metric that can go up or down.
type Gauge struct {
	name   string
	help   string
	labels map[string]string
	value  float64
	mu     sync.Mutex
}

// Histogram tracks distribution of values.
type Histogram struct {
	name    string
	help    string
	labels  map[string]string
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
	mu      sync.Mutex
}

// NewMetricsRegistry creates a new metrics registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		counters: make(map[string]*Counter),
		gauges:   make(map[string]*Gauge),
		histos:   make(map[string]*Histogram),
	}
}

// NewCounter creates and registers a counter.
func (r *MetricsRegistry) NewCounter(name, help string, labels map[string]string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := &Counter{name: name, help: help, labels: labels}
	r.counters[name] = c
	return c
}

// NewGauge creates and registers a gauge.
func (r *MetricsRegistry) NewGauge(name, help string, labels map[string]string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := &Gauge{name: name, help: help, labels: labels}
	r.gauges[name] = g
	return g
}

// NewHistogram creates and registers a histogram.
func (r *MetricsRegistry) NewHistogram(name, help string, labels map[string]string, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()

	if buckets == nil {
		buckets = DefaultBuckets()
	}

	h := &Histogram{
		name:    name,
		help:    help,
		labels:  labels,
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
	r.histos[name] = h
	return h
}

// DefaultBuckets returns default histogram buckets for latency.
func DefaultBuckets() []float64 {
	return []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
}

// Inc increments a counter by 1.
func (c *Counter) Inc() {
	c.Add(1)
}

// Add adds a value to the counter.
func (c *Counter) Add(v float64) {
	c.mu.Lock()
	c.value += v
	c.mu.Unlock()
}

// Value returns the counter value.
func (c *Counter) Value() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Set sets the gauge value.
func (g *Gauge) Set(v float64) {
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	g.Add(1)
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	g.Add(-1)
}

// Add adds a value to the gauge.
func (g *Gauge) Add(v float64) {
	g.mu.Lock()
	g.value += v
	g.mu.Unlock()
}

// Value returns the gauge value.
func (g *Gauge) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++

	for i, bound := range h.buckets {
		if v <= bound {
			h.counts[i]++
		}
	}
}

// ObserveDuration records a duration in the histogram.
func (h *Histogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Handler returns an HTTP handler for Prometheus metrics.
func (r *MetricsRegistry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.WritePrometheus(w)
	})
}

// WritePrometheus writes metrics in Prometheus text format.
func (r *MetricsRegistry) WritePrometheus(w http.ResponseWriter) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Write counters
	for _, c := range r.counters {
		c.mu.Lock()
		writeMetric(w, c.name, "counter", c.help, c.labels, c.value)
		c.mu.Unlock()
	}

	// Write gauges
	for _, g := range r.gauges {
		g.mu.Lock()
		writeMetric(w, g.name, "gauge", g.help, g.labels, g.value)
		g.mu.Unlock()
	}

	// Write histograms
	for _, h := range r.histos {
		h.mu.Lock()
		writeHistogram(w, h)
		h.mu.Unlock()
	}
}

func writeMetric(w http.ResponseWriter, name, metricType, help string, labels map[string]string, value float64) {
	w.Write([]byte("# HELP " + name + " " + help + "\n"))
	w.Write([]byte("# TYPE " + name + " " + metricType + "\n"))
	w.Write([]byte(name + formatLabels(labels) + " "))
	w.Write([]byte(formatFloat(value) + "\n"))
}

func writeHistogram(w http.ResponseWriter, h *Histogram) {
	w.Write([]byte("# HELP " + h.name + " " + h.help + "\n"))
	w.Write([]byte("# TYPE " + h.name + " histogram\n"))

	// Write bucket counts
	var cumulative uint64
	for i, bound := range h.buckets {
		cumulative += h.counts[i]
		labels := copyLabels(h.labels)
		labels["le"] = formatFloat(bound)
		w.Write([]byte(h.name + "_bucket" + formatLabels(labels) + " "))
		w.Write([]byte(formatUint(cumulative) + "\n"))
	}

	// Write +Inf bucket
	labels := copyLabels(h.labels)
	labels["le"] = "+Inf"
	w.Write([]byte(h.name + "_bucket" + formatLabels(labels) + " "))
	w.Write([]byte(formatUint(h.count) + "\n"))

	// Write sum and count
	w.Write([]byte(h.name + "_sum" + formatLabels(h.labels) + " "))
	w.Write([]byte(formatFloat(h.sum) + "\n"))
	w.Write([]byte(h.name + "_count" + formatLabels(h.labels) + " "))
	w.Write([]byte(formatUint(h.count) + "\n"))
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	result := "{"
	first := true
	for k, v := range labels {
		if !first {
			result += ","
		}
		result += k + "=\"" + v + "\""
		first = false
	}
	result += "}"
	return result
}

func copyLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return make(map[string]string)
	}
	result := make(map[string]string, len(labels))
	for k, v := range labels {
		result[k] = v
	}
	return result
}

func formatFloat(v float64) string {
	return string(appendFloat(nil, v))
}

func formatUint(v uint64) string {
	return string(appendUint(nil, v))
}

func appendFloat(b []byte, v float64) []byte {
	return append(b, []byte(floatToString(v))...)
}

func appendUint(b []byte, v uint64) []byte {
	return append(b, []byte(uintToString(v))...)
}

func floatToString(v float64) string {
	if v == float64(int64(v)) {
		return uintToString(uint64(v))
	}
	// Simple float formatting
	intPart := int64(v)
	fracPart := int64((v - float64(intPart)) * 1000000)
	if fracPart < 0 {
		fracPart = -fracPart
	}
	return uintToString(uint64(intPart)) + "." + padZeros(fracPart, 6)
}

func uintToString(v uint64) string {
	if v == 0 {
		return "0"
	}
	var digits [20]byte
	i := len(digits)
	for v > 0 {
		i--
		digits[i] = byte('0' + v%10)
		v /= 10
	}
	return string(digits[i:])
}

func padZeros(v int64, width int) string {
	s := uintToString(uint64(v))
	for len(s) < width {
		s = "0" + s
	}
	// Trim trailing zeros
	for len(s) > 1 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	return s
}

// Indexing-specific metrics

// IndexMetrics contains the counters and histograms for the indexing pipeline.
type IndexMetrics struct {
	Registry *MetricsRegistry

	// Embedding metrics
	EmbeddingRequestsTotal   *Counter
	EmbeddingRequestDuration *Histogram
	EmbeddingChunksTotal     *Counter
	EmbeddingErrorsTotal     *Counter

	// Index pass metrics
	IndexPassesTotal      *Counter
	IndexPassDuration     *Histogram
	IndexPassErrorsTotal  *Counter
	IndexFilesChanged     *Counter
	IndexFilesSkipped     *Counter
	LastPassFilesChanged  *Gauge

	// Vector store metrics
	VectorsUpsertTotal  *Counter
	VectorsDeletedTotal *Counter

	// Search metrics
	SearchesTotal       *Counter
	SearchDuration      *Histogram
	SearchErrorsTotal   *Counter
	SearchEmptyTotal    *Counter

	// Active passes gauge
	ActivePasses *Gauge
}

// NewIndexMetrics creates the indexing metric set on a fresh registry.
func NewIndexMetrics() *IndexMetrics {
	r := NewMetricsRegistry()

	return &IndexMetrics{
		Registry: r,

		// Embedding
		EmbeddingRequestsTotal:   r.NewCounter("repolens_embedding_requests_total", "Total embedding API requests", nil),
		EmbeddingRequestDuration: r.NewHistogram("repolens_embedding_request_duration_seconds", "Embedding request duration", nil, nil),
		EmbeddingChunksTotal:     r.NewCounter("repolens_embedding_chunks_total", "Total chunks embedded", nil),
		EmbeddingErrorsTotal:     r.NewCounter("repolens_embedding_errors_total", "Total embedding errors", nil),

		// Index passes
		IndexPassesTotal:     r.NewCounter("repolens_index_passes_total", "Total index passes", nil),
		IndexPassDuration:    r.NewHistogram("repolens_index_pass_duration_seconds", "Index pass duration", nil, nil),
		IndexPassErrorsTotal: r.NewCounter("repolens_index_pass_errors_total", "Total failed index passes", nil),
		IndexFilesChanged:    r.NewCounter("repolens_index_files_changed_total", "Total changed files processed", nil),
		IndexFilesSkipped:    r.NewCounter("repolens_index_files_skipped_total", "Total files skipped by content hash", nil),
		LastPassFilesChanged: r.NewGauge("repolens_last_pass_files_changed", "Files changed in the most recent pass", nil),

		// Vector store
		VectorsUpsertTotal:  r.NewCounter("repolens_vectors_upsert_total", "Total vectors upserted", nil),
		VectorsDeletedTotal: r.NewCounter("repolens_vectors_deleted_total", "Total vectors deleted", nil),

		// Search
		SearchesTotal:     r.NewCounter("repolens_searches_total", "Total retrieval queries", nil),
		SearchDuration:    r.NewHistogram("repolens_search_duration_seconds", "Retrieval query duration", nil, nil),
		SearchErrorsTotal: r.NewCounter("repolens_search_errors_total", "Total retrieval errors", nil),
		SearchEmptyTotal:  r.NewCounter("repolens_search_empty_total", "Queries against an empty index", nil),

		// Passes
		ActivePasses: r.NewGauge("repolens_active_passes", "Number of index passes in flight", nil),
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *IndexMetrics) Handler() http.Handler {
	return m.Registry.Handler()
}

// RecordEmbedding records one embedding API call covering a batch of chunks.
func (m *IndexMetrics) RecordEmbedding(duration time.Duration, chunks int, err error) {
	m.EmbeddingRequestsTotal.Inc()
	m.EmbeddingRequestDuration.Observe(duration.Seconds())
	m.EmbeddingChunksTotal.Add(float64(chunks))
	if err != nil {
		m.EmbeddingErrorsTotal.Inc()
	}
}

// RecordIndexPass records a completed index pass.
func (m *IndexMetrics) RecordIndexPass(duration time.Duration, filesChanged, filesSkipped, upserted, deleted int, err error) {
	m.IndexPassesTotal.Inc()
	m.IndexPassDuration.Observe(duration.Seconds())
	m.IndexFilesChanged.Add(float64(filesChanged))
	m.IndexFilesSkipped.Add(float64(filesSkipped))
	m.VectorsUpsertTotal.Add(float64(upserted))
	m.VectorsDeletedTotal.Add(float64(deleted))
	m.LastPassFilesChanged.Set(float64(filesChanged))
	if err != nil {
		m.IndexPassErrorsTotal.Inc()
	}
}

// RecordSearch records a retrieval query.
func (m *IndexMetrics) RecordSearch(duration time.Duration, results int, err error) {
	m.SearchesTotal.Inc()
	m.SearchDuration.Observe(duration.Seconds())
	if err != nil {
		m.SearchErrorsTotal.Inc()
	} else if results == 0 {
		m.SearchEmptyTotal.Inc()
	}
}

// Global metrics instance
var globalMetrics *IndexMetrics
var metricsOnce sync.Once

// Metrics returns the global metrics instance.
func Metrics() *IndexMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewIndexMetrics()
	})
	return globalMetrics
}
