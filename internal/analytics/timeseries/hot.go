package timeseries

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DefaultHotCapacity is 24 hours of 1 Hz samples.
const DefaultHotCapacity = 86400

// ringBuffer is a fixed-capacity circular buffer of points.
type ringBuffer struct {
	data     []Point
	head     int
	size     int
	capacity int
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{
		data:     make([]Point, capacity),
		capacity: capacity,
	}
}

func (rb *ringBuffer) push(p Point) {
	idx := (rb.head + rb.size) % rb.capacity
	rb.data[idx] = p
	if rb.size < rb.capacity {
		rb.size++
	} else {
		rb.head = (rb.head + 1) % rb.capacity
	}
}

// last returns the newest n points in chronological order.
func (rb *ringBuffer) last(n int) []Point {
	if n <= 0 || n > rb.size {
		n = rb.size
	}
	out := make([]Point, n)
	start := rb.size - n
	for i := 0; i < n; i++ {
		out[i] = rb.data[(rb.head+start+i)%rb.capacity]
	}
	return out
}

func (rb *ringBuffer) oldest() (Point, bool) {
	if rb.size == 0 {
		return Point{}, false
	}
	return rb.data[rb.head], true
}

// HotStore is the in-memory tier: one ring buffer per sensor.
type HotStore struct {
	mu       sync.RWMutex
	series   map[string]*ringBuffer
	capacity int
}

// NewHotStore creates an in-memory store keeping capacity points per sensor.
func NewHotStore(capacity int) *HotStore {
	if capacity <= 0 {
		capacity = DefaultHotCapacity
	}
	return &HotStore{
		series:   make(map[string]*ringBuffer),
		capacity: capacity,
	}
}

func (h *HotStore) getOrCreate(sensorID string) *ringBuffer {
	if rb, ok := h.series[sensorID]; ok {
		return rb
	}
	rb := newRingBuffer(h.capacity)
	h.series[sensorID] = rb
	return rb
}

// Append stores points for sensorID.
func (h *HotStore) Append(ctx context.Context, sensorID string, points []Point) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	rb := h.getOrCreate(sensorID)
	for _, p := range points {
		rb.push(p)
	}
	return nil
}

// Window returns the newest n points (all when n <= 0).
func (h *HotStore) Window(ctx context.Context, sensorID string, n int) ([]Point, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rb, ok := h.series[sensorID]
	if !ok || rb.size == 0 {
		return nil, fmt.Errorf("%w for sensor %s", ErrNoData, sensorID)
	}
	return rb.last(n), nil
}

// Range returns points in [start, end].
func (h *HotStore) Range(ctx context.Context, sensorID string, start, end time.Time) ([]Point, error) {
	h.mu.RLock()
	rb, ok := h.series[sensorID]
	var points []Point
	if ok {
		points = rb.last(0)
	}
	h.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	var result []Point
	for _, p := range points {
		if p.Time.Before(start) || p.Time.After(end) {
			continue
		}
		result = append(result, p)
	}
	return result, nil
}

// History is Window for the hot tier.
func (h *HotStore) History(ctx context.Context, sensorID string, n int) ([]Point, error) {
	return h.Window(ctx, sensorID, n)
}

// Oldest returns the oldest point still held for sensorID.
func (h *HotStore) Oldest(sensorID string) (Point, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rb, ok := h.series[sensorID]
	if !ok {
		return Point{}, false
	}
	return rb.oldest()
}

// Len returns the number of points held for sensorID.
func (h *HotStore) Len(sensorID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if rb, ok := h.series[sensorID]; ok {
		return rb.size
	}
	return 0
}

// Sensors lists sensors with data, sorted.
func (h *HotStore) Sensors() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.series))
	for id := range h.series {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Delete drops sensorID's buffer.
func (h *HotStore) Delete(ctx context.Context, sensorID string) error {
	h.mu.Lock()
	delete(h.series, sensorID)
	h.mu.Unlock()
	return nil
}

// Close is a no-op for the hot tier.
func (h *HotStore) Close() error { return nil }

// ─── Helpers ──────────────────────────────────────────────────────────────────

// Aggregate computes an aggregation over the finite values of points.
// aggregationType: "min", "max", "sum", "avg", "p50", "p95", "p99".
func Aggregate(points []Point, aggregationType string) (float64, error) {
	values := make([]float64, 0, len(points))
	for _, p := range points {
		if !math.IsNaN(p.Value) && !math.IsInf(p.Value, 0) {
			values = append(values, p.Value)
		}
	}
	if len(values) == 0 {
		return 0, fmt.Errorf("%w: no finite values", ErrNoData)
	}
	switch aggregationType {
	case "min":
		return floats.Min(values), nil
	case "max":
		return floats.Max(values), nil
	case "sum":
		return floats.Sum(values), nil
	case "avg", "mean":
		return stat.Mean(values, nil), nil
	case "p50":
		return percentile(values, 0.50), nil
	case "p95":
		return percentile(values, 0.95), nil
	case "p99":
		return percentile(values, 0.99), nil
	default:
		return 0, fmt.Errorf("unknown aggregation type: %s", aggregationType)
	}
}

func percentile(values []float64, p float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return stat.Quantile(p, stat.LinInterp, sorted, nil)
}
