package bufferpool

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Histogram tracks latency distribution with percentile support.
type Histogram struct {
	samples []float64 // latencies in microseconds
	mu      sync.RWMutex
	maxSize int
	sorted  bool
}

// NewHistogram creates a new histogram retaining at most maxSize samples.
func NewHistogram(maxSize int) *Histogram {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &Histogram{
		samples: make([]float64, 0, maxSize),
		maxSize: maxSize,
		sorted:  true,
	}
}

// Record adds a latency sample in microseconds.
func (h *Histogram) Record(latencyUs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		copy(h.samples, h.samples[1:])
		h.samples = h.samples[:len(h.samples)-1]
	}
	h.samples = append(h.samples, latencyUs)
	h.sorted = false
}

// Percentile calculates the given percentile (0-100).
func (h *Histogram) Percentile(p float64) float64 {
	h.mu.RLock()
	if len(h.samples) == 0 {
		h.mu.RUnlock()
		return 0
	}
	if !h.sorted {
		h.mu.RUnlock()
		h.mu.Lock()
		if !h.sorted {
			sort.Float64s(h.samples)
			h.sorted = true
		}
		h.mu.Unlock()
		h.mu.RLock()
	}
	defer h.mu.RUnlock()

	rank := (p / 100.0) * float64(len(h.samples)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return h.samples[lower]
	}
	weight := rank - float64(lower)
	return h.samples[lower]*(1-weight) + h.samples[upper]*weight
}

func (h *Histogram) Mean() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range h.samples {
		sum += s
	}
	return sum / float64(len(h.samples))
}

func (h *Histogram) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.samples)
}

func (h *Histogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples = h.samples[:0]
	h.sorted = true
}

// HistogramSnapshot captures point-in-time percentile statistics.
type HistogramSnapshot struct {
	Count int
	Mean  float64
	P50   float64
	P95   float64
	P99   float64
}

func (h *Histogram) Snapshot() HistogramSnapshot {
	return HistogramSnapshot{
		Count: h.Count(),
		Mean:  h.Mean(),
		P50:   h.Percentile(50),
		P95:   h.Percentile(95),
		P99:   h.Percentile(99),
	}
}

// Metrics tracks pool-level performance counters alongside the required
// statistics accessors; this is ambient observability, not part of the
// pin/unpin protocol itself.
type Metrics struct {
	cacheHits        atomic.Uint64
	cacheMisses      atomic.Uint64
	pageEvictions    atomic.Uint64
	dirtyPageFlushes atomic.Uint64

	pinLatency   *Histogram
	flushLatency *Histogram

	startTime time.Time
	mu        sync.RWMutex
}

// NewMetrics creates a new metrics tracker.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime:    time.Now(),
		pinLatency:   NewHistogram(10000),
		flushLatency: NewHistogram(10000),
	}
}

func (m *Metrics) RecordCacheHit()        { m.cacheHits.Add(1) }
func (m *Metrics) RecordCacheMiss()       { m.cacheMisses.Add(1) }
func (m *Metrics) RecordPageEviction()    { m.pageEvictions.Add(1) }
func (m *Metrics) RecordDirtyPageFlush()  { m.dirtyPageFlushes.Add(1) }

func (m *Metrics) RecordPinLatency(d time.Duration)   { m.pinLatency.Record(float64(d.Microseconds())) }
func (m *Metrics) RecordFlushLatency(d time.Duration) { m.flushLatency.Record(float64(d.Microseconds())) }

func (m *Metrics) GetCacheHits() uint64     { return m.cacheHits.Load() }
func (m *Metrics) GetCacheMisses() uint64   { return m.cacheMisses.Load() }
func (m *Metrics) GetPageEvictions() uint64 { return m.pageEvictions.Load() }

func (m *Metrics) GetDirtyPageFlushes() uint64 { return m.dirtyPageFlushes.Load() }

func (m *Metrics) GetCacheHitRate() float64 {
	hits := m.cacheHits.Load()
	misses := m.cacheMisses.Load()
	total := hits + misses
	if total == 0 {
		return 0.0
	}
	return float64(hits) / float64(total)
}

func (m *Metrics) GetUptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Since(m.startTime)
}

func (m *Metrics) GetPinLatency() HistogramSnapshot   { return m.pinLatency.Snapshot() }
func (m *Metrics) GetFlushLatency() HistogramSnapshot { return m.flushLatency.Snapshot() }

// LogMetrics logs all metrics using structured logging.
func (m *Metrics) LogMetrics(logger *slog.Logger) {
	pin := m.GetPinLatency()
	flush := m.GetFlushLatency()

	logger.Info("buffer pool metrics",
		slog.Group("cache",
			slog.Uint64("hits", m.GetCacheHits()),
			slog.Uint64("misses", m.GetCacheMisses()),
			slog.Float64("hit_rate", m.GetCacheHitRate()),
			slog.Uint64("evictions", m.GetPageEvictions()),
			slog.Uint64("dirty_flushes", m.GetDirtyPageFlushes()),
		),
		slog.Group("latency_us",
			slog.Group("pin",
				slog.Int("count", pin.Count),
				slog.Float64("mean", pin.Mean),
				slog.Float64("p95", pin.P95),
				slog.Float64("p99", pin.P99),
			),
			slog.Group("flush",
				slog.Int("count", flush.Count),
				slog.Float64("mean", flush.Mean),
				slog.Float64("p95", flush.P95),
				slog.Float64("p99", flush.P99),
			),
		),
		slog.Duration("uptime", m.GetUptime()),
	)
}

// Reset clears all metrics; useful for testing.
func (m *Metrics) Reset() {
	m.cacheHits.Store(0)
	m.cacheMisses.Store(0)
	m.pageEvictions.Store(0)
	m.dirtyPageFlushes.Store(0)
	m.pinLatency.Reset()
	m.flushLatency.Reset()
	m.mu.Lock()
	m.startTime = time.Now()
	m.mu.Unlock()
}
