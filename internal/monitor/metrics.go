package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks pipeline throughput and latency.
type SystemMetrics struct {
	// Latency histograms
	PipelineLatency *LatencyHistogram
	QuoteLatency    *LatencyHistogram
	DBLatency       *LatencyHistogram
	APILatency      *LatencyHistogram

	// Counters
	ordersProcessed uint64
	ordersFailed    uint64
	ordersRetried   uint64
	deadLettered    uint64
	errorsCount     uint64
	apiRequests     uint64
	apiErrors       uint64

	lastUpdate time.Time
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		PipelineLatency: NewLatencyHistogram(1000),
		QuoteLatency:    NewLatencyHistogram(1000),
		DBLatency:       NewLatencyHistogram(1000),
		APILatency:      NewLatencyHistogram(1000),
		lastUpdate:      time.Now(),
	}
}

// LatencyHistogram tracks latency samples with a sliding window.
// Stats are computed lazily and cached until new samples arrive.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		// Shift window: remove oldest
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	min, max := sorted[0], sorted[n-1]
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   min,
		Max:   max,
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// IncrementOrders increments the confirmed-orders counter.
func (m *SystemMetrics) IncrementOrders() {
	atomic.AddUint64(&m.ordersProcessed, 1)
}

// IncrementFailed increments the failed-attempts counter.
func (m *SystemMetrics) IncrementFailed() {
	atomic.AddUint64(&m.ordersFailed, 1)
}

// IncrementRetried increments the redelivery counter.
func (m *SystemMetrics) IncrementRetried() {
	atomic.AddUint64(&m.ordersRetried, 1)
}

// IncrementDeadLettered increments the exhausted-jobs counter.
func (m *SystemMetrics) IncrementDeadLettered() {
	atomic.AddUint64(&m.deadLettered, 1)
}

// IncrementErrors increments the general error counter.
func (m *SystemMetrics) IncrementErrors() {
	atomic.AddUint64(&m.errorsCount, 1)
}

// IncrementAPI increments the served-requests counter.
func (m *SystemMetrics) IncrementAPI() {
	atomic.AddUint64(&m.apiRequests, 1)
}

// IncrementAPIErrors increments the 4xx/5xx response counter.
func (m *SystemMetrics) IncrementAPIErrors() {
	atomic.AddUint64(&m.apiErrors, 1)
}

// MetricsSnapshot is a point-in-time view for the API.
type MetricsSnapshot struct {
	PipelineLatency LatencyStats `json:"pipeline_latency"`
	QuoteLatency    LatencyStats `json:"quote_latency"`
	DBLatency       LatencyStats `json:"db_latency"`
	APILatency      LatencyStats `json:"api_latency"`
	OrdersProcessed uint64       `json:"orders_processed"`
	OrdersFailed    uint64       `json:"orders_failed"`
	OrdersRetried   uint64       `json:"orders_retried"`
	DeadLettered    uint64       `json:"dead_lettered"`
	ErrorsCount     uint64       `json:"errors_count"`
	APIRequests     uint64       `json:"api_requests"`
	APIErrors       uint64       `json:"api_errors"`
	GoroutineCount  int          `json:"goroutine_count"`
	HeapAlloc       uint64       `json:"heap_alloc_bytes"`
	HeapSys         uint64       `json:"heap_sys_bytes"`
	Timestamp       time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		PipelineLatency: m.PipelineLatency.Stats(),
		QuoteLatency:    m.QuoteLatency.Stats(),
		DBLatency:       m.DBLatency.Stats(),
		APILatency:      m.APILatency.Stats(),
		OrdersProcessed: atomic.LoadUint64(&m.ordersProcessed),
		OrdersFailed:    atomic.LoadUint64(&m.ordersFailed),
		OrdersRetried:   atomic.LoadUint64(&m.ordersRetried),
		DeadLettered:    atomic.LoadUint64(&m.deadLettered),
		ErrorsCount:     atomic.LoadUint64(&m.errorsCount),
		APIRequests:     atomic.LoadUint64(&m.apiRequests),
		APIErrors:       atomic.LoadUint64(&m.apiErrors),
		GoroutineCount:  runtime.NumGoroutine(),
		HeapAlloc:       memStats.HeapAlloc,
		HeapSys:         memStats.HeapSys,
		Timestamp:       time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to the histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
