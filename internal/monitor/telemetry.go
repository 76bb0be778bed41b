// Package monitor provides per-run telemetry: event counters and a
// bar-processing latency histogram. A RunTelemetry instance is injected into
// the engine so parallel runs never share counters.
package monitor

import (
	"sort"
	"sync"
	"time"
)

// RunTelemetry accumulates counters for one backtest run.
type RunTelemetry struct {
	mu sync.Mutex

	eventCounts map[string]int
	barLatency  *LatencyHistogram
}

// NewRunTelemetry creates an empty telemetry instance.
func NewRunTelemetry() *RunTelemetry {
	return &RunTelemetry{
		eventCounts: make(map[string]int),
		barLatency:  NewLatencyHistogram(10000),
	}
}

// CountEvent increments the counter for an event kind.
func (t *RunTelemetry) CountEvent(kind string) {
	t.mu.Lock()
	t.eventCounts[kind]++
	t.mu.Unlock()
}

// RecordBar records how long one bar (including its full drain) took.
func (t *RunTelemetry) RecordBar(d time.Duration) {
	t.barLatency.RecordDuration(d)
}

// EventCounts returns a copy of the per-kind counters.
func (t *RunTelemetry) EventCounts() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int, len(t.eventCounts))
	for k, v := range t.eventCounts {
		out[k] = v
	}
	return out
}

// BarLatency returns the latency summary.
func (t *RunTelemetry) BarLatency() LatencyStats {
	return t.barLatency.Stats()
}

// Reset clears all counters for a fresh run.
func (t *RunTelemetry) Reset() {
	t.mu.Lock()
	t.eventCounts = make(map[string]int)
	t.mu.Unlock()
	t.barLatency.Reset()
}

// LatencyStats summarizes a latency sample window in milliseconds.
type LatencyStats struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// LatencyHistogram keeps a sliding window of latency samples.
type LatencyHistogram struct {
	mu      sync.Mutex
	samples []float64
	maxSize int
}

// NewLatencyHistogram creates a sliding-window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{samples: make([]float64, 0, size), maxSize: size}
}

// Record adds a sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
}

// RecordDuration converts a duration to milliseconds and records it.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Reset drops all samples.
func (h *LatencyHistogram) Reset() {
	h.mu.Lock()
	h.samples = h.samples[:0]
	h.mu.Unlock()
}

// Stats computes min, max, avg, and percentiles over the window.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := append([]float64(nil), h.samples...)
	sort.Float64s(sorted)

	var sum float64
	for _, s := range sorted {
		sum += s
	}

	pct := func(p float64) float64 {
		idx := int(p * float64(n-1))
		return sorted[idx]
	}

	return LatencyStats{
		Count: n,
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   pct(0.50),
		P95:   pct(0.95),
		P99:   pct(0.99),
	}
}
