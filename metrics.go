// Copyright 2025 Klassen Software Solutions
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package modbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Counter is an atomic event counter.
type Counter struct {
	value atomic.Int64
}

// Add adds delta to the counter.
func (c *Counter) Add(delta int64) { c.value.Add(delta) }

// Value returns the current counter value.
func (c *Counter) Value() int64 { return c.value.Load() }

// Reset resets the counter to zero.
func (c *Counter) Reset() { c.value.Store(0) }

// latencyBounds are the histogram bucket upper bounds in milliseconds,
// with a catch-all final bucket.
var latencyBounds = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000}

var latencyLabels = []string{"1ms", "5ms", "10ms", "25ms", "50ms", "100ms", "250ms", "500ms", "1s", "5s+"}

// LatencyHistogram tracks the distribution of request cycle times, from
// frame received to reply written.
type LatencyHistogram struct {
	mu      sync.Mutex
	buckets []int64
	sum     float64
	count   int64
	min     float64
	max     float64
}

// NewLatencyHistogram creates an empty histogram.
func NewLatencyHistogram() *LatencyHistogram {
	return &LatencyHistogram{
		buckets: make([]int64, len(latencyBounds)),
		min:     -1,
		max:     -1,
	}
}

// Observe records one request cycle time.
func (h *LatencyHistogram) Observe(d time.Duration) {
	ms := float64(d.Microseconds()) / 1000.0

	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += ms
	h.count++
	if h.min < 0 || ms < h.min {
		h.min = ms
	}
	if ms > h.max {
		h.max = ms
	}
	h.buckets[bucketFor(ms)]++
}

func bucketFor(ms float64) int {
	for i, bound := range latencyBounds {
		if ms <= bound {
			return i
		}
	}
	return len(latencyBounds) - 1
}

// LatencyStats is a snapshot of a LatencyHistogram. Times are in
// milliseconds.
type LatencyStats struct {
	Count   int64
	Sum     float64
	Avg     float64
	Min     float64
	Max     float64
	Buckets map[string]int64
}

// Stats returns a snapshot of the histogram.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := LatencyStats{
		Count:   h.count,
		Sum:     h.sum,
		Buckets: make(map[string]int64, len(latencyLabels)),
	}
	if h.count > 0 {
		stats.Avg = h.sum / float64(h.count)
		stats.Min = h.min
		stats.Max = h.max
	}
	for i, label := range latencyLabels {
		stats.Buckets[label] = h.buckets[i]
	}
	return stats
}

// Reset resets the histogram.
func (h *LatencyHistogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clear(h.buckets)
	h.sum = 0
	h.count = 0
	h.min = -1
	h.max = -1
}

// ServerMetrics aggregates the counters a running server maintains:
// totals over all requests, per-function-code breakdowns, connection
// counts, and the latency distribution.
type ServerMetrics struct {
	RequestsTotal   Counter
	RequestsSuccess Counter
	RequestsErrors  Counter
	Exceptions      Counter
	ActiveConns     Counter
	TotalConns      Counter
	Latency         *LatencyHistogram

	funcMetrics sync.Map // FunctionCode -> *FunctionMetrics
}

// FunctionMetrics counts requests and exception responses for one
// function code.
type FunctionMetrics struct {
	Requests   Counter
	Exceptions Counter
}

// NewServerMetrics creates a zeroed ServerMetrics.
func NewServerMetrics() *ServerMetrics {
	return &ServerMetrics{Latency: NewLatencyHistogram()}
}

// ForFunction returns the per-code metrics for fc, creating them on
// first use.
func (m *ServerMetrics) ForFunction(fc FunctionCode) *FunctionMetrics {
	if val, ok := m.funcMetrics.Load(fc); ok {
		return val.(*FunctionMetrics)
	}
	actual, _ := m.funcMetrics.LoadOrStore(fc, &FunctionMetrics{})
	return actual.(*FunctionMetrics)
}

// Collect returns all metrics as a map suitable for expvar or JSON
// publication.
func (m *ServerMetrics) Collect() map[string]interface{} {
	result := map[string]interface{}{
		"requests_total":   m.RequestsTotal.Value(),
		"requests_success": m.RequestsSuccess.Value(),
		"requests_errors":  m.RequestsErrors.Value(),
		"exceptions":       m.Exceptions.Value(),
		"active_conns":     m.ActiveConns.Value(),
		"total_conns":      m.TotalConns.Value(),
		"latency":          m.Latency.Stats(),
	}

	funcStats := make(map[string]interface{})
	m.funcMetrics.Range(func(key, value interface{}) bool {
		fc := key.(FunctionCode)
		fm := value.(*FunctionMetrics)
		funcStats[fc.String()] = map[string]interface{}{
			"requests":   fm.Requests.Value(),
			"exceptions": fm.Exceptions.Value(),
		}
		return true
	})
	if len(funcStats) > 0 {
		result["functions"] = funcStats
	}
	return result
}

// Reset resets all metrics. Connection gauges are left alone so that
// ActiveConns stays truthful across a reset.
func (m *ServerMetrics) Reset() {
	m.RequestsTotal.Reset()
	m.RequestsSuccess.Reset()
	m.RequestsErrors.Reset()
	m.Exceptions.Reset()
	m.Latency.Reset()

	m.funcMetrics.Range(func(key, value interface{}) bool {
		fm := value.(*FunctionMetrics)
		fm.Requests.Reset()
		fm.Exceptions.Reset()
		return true
	})
}
