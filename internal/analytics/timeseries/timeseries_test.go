package timeseries

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func series(start time.Time, n int, step time.Duration) []Point {
	out := make([]Point, n)
	for i := range out {
		out[i] = Point{Time: start.Add(time.Duration(i) * step), Value: 10 + math.Sin(float64(i)/7)}
	}
	return out
}

func TestRingBuffer_Wraps(t *testing.T) {
	rb := newRingBuffer(3)
	for i := 0; i < 5; i++ {
		rb.push(Point{Value: float64(i)})
	}
	assert.Equal(t, []float64{2, 3, 4}, Values(rb.last(0)))
	assert.Equal(t, []float64{3, 4}, Values(rb.last(2)))
	oldest, ok := rb.oldest()
	require.True(t, ok)
	assert.Equal(t, 2.0, oldest.Value)
}

func TestHotStore(t *testing.T) {
	ctx := context.Background()
	h := NewHotStore(100)

	_, err := h.Window(ctx, "ph-1", 10)
	assert.True(t, errors.Is(err, ErrNoData))

	require.NoError(t, h.Append(ctx, "ph-1", series(epoch, 150, time.Second)))
	assert.Equal(t, 100, h.Len("ph-1"))

	w, err := h.Window(ctx, "ph-1", 10)
	require.NoError(t, err)
	require.Len(t, w, 10)
	assert.Equal(t, epoch.Add(149*time.Second), w[9].Time)

	r, err := h.Range(ctx, "ph-1", epoch.Add(140*time.Second), epoch.Add(144*time.Second))
	require.NoError(t, err)
	assert.Len(t, r, 5)

	assert.Equal(t, []string{"ph-1"}, h.Sensors())
	require.NoError(t, h.Delete(ctx, "ph-1"))
	assert.Empty(t, h.Sensors())
}

func TestAggregate(t *testing.T) {
	points := []Point{{Value: 1}, {Value: 2}, {Value: math.NaN()}, {Value: 3}, {Value: 4}}
	tests := map[string]float64{"min": 1, "max": 4, "sum": 10, "avg": 2.5}
	for agg, want := range tests {
		got, err := Aggregate(points, agg)
		require.NoError(t, err, agg)
		assert.InDelta(t, want, got, 1e-9, agg)
	}
	p50, err := Aggregate(points, "p50")
	require.NoError(t, err)
	assert.True(t, p50 >= 2 && p50 <= 3, "p50 %v", p50)

	_, err = Aggregate(points, "mode")
	assert.Error(t, err)
	_, err = Aggregate([]Point{{Value: math.NaN()}}, "avg")
	assert.True(t, errors.Is(err, ErrNoData))
}

func TestPercentile(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[len(values)-1-i] = float64(i + 1)
	}
	before := append([]float64(nil), values...)

	p50 := percentile(values, 0.50)
	p95 := percentile(values, 0.95)
	p99 := percentile(values, 0.99)
	assert.InDelta(t, 50, p50, 1)
	assert.InDelta(t, 95, p95, 1)
	assert.InDelta(t, 99, p99, 1)
	assert.True(t, p50 <= p95 && p95 <= p99, "p50 %v p95 %v p99 %v", p50, p95, p99)
	assert.Equal(t, before, values, "input must not be reordered")

	assert.Equal(t, 7.0, percentile([]float64{7, 7, 7}, 0.95))

	got, err := Aggregate(series(epoch, 50, time.Second), "p99")
	require.NoError(t, err)
	assert.True(t, got >= 9 && got <= 11, "p99 %v", got)
}

func TestCodec_RoundTrip(t *testing.T) {
	c, err := newCodec(3)
	require.NoError(t, err)
	defer c.close()

	points := series(epoch, 500, 250*time.Millisecond)
	points[17].Value = math.NaN()
	points[300].Time = points[300].Time.Add(37 * time.Millisecond) // jitter

	blob := c.encode(points)
	stamps, values, err := c.decode(blob)
	require.NoError(t, err)
	require.Len(t, values, len(points))
	for i, p := range points {
		assert.Equal(t, p.Time.UnixNano(), stamps[i])
		if math.IsNaN(p.Value) {
			assert.True(t, math.IsNaN(values[i]))
			continue
		}
		assert.Equal(t, p.Value, values[i])
	}
	assert.Less(t, len(blob), len(points)*16)

	_, _, err = c.decode([]byte("garbage"))
	assert.Error(t, err)
}

func openArchive(t *testing.T) *Archive {
	t.Helper()
	cfg := DefaultArchiveConfig()
	cfg.Path = t.TempDir()
	a, err := OpenArchive(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestArchive(t *testing.T) {
	ctx := context.Background()
	a := openArchive(t)

	require.NoError(t, a.Append(ctx, "flow-1", series(epoch, 100, time.Second)))
	require.NoError(t, a.Append(ctx, "flow-1", series(epoch.Add(100*time.Second), 100, time.Second)))
	require.NoError(t, a.Append(ctx, "flow-2", series(epoch, 10, time.Second)))

	r, err := a.Range(ctx, "flow-1", epoch.Add(95*time.Second), epoch.Add(104*time.Second))
	require.NoError(t, err)
	require.Len(t, r, 10)
	assert.Equal(t, epoch.Add(95*time.Second), r[0].Time)

	h, err := a.History(ctx, "flow-1", 150)
	require.NoError(t, err)
	require.Len(t, h, 150)
	assert.Equal(t, epoch.Add(50*time.Second), h[0].Time)
	assert.Equal(t, epoch.Add(199*time.Second), h[149].Time)

	all, err := a.History(ctx, "flow-2", 0)
	require.NoError(t, err)
	assert.Len(t, all, 10)

	require.NoError(t, a.Delete(ctx, "flow-1"))
	_, err = a.History(ctx, "flow-1", 10)
	assert.True(t, errors.Is(err, ErrNoData))
}

func TestTiered(t *testing.T) {
	ctx := context.Background()
	store := NewTiered(NewHotStore(50), openArchive(t))
	require.NoError(t, store.Append(ctx, "do-1", series(epoch, 200, time.Second)))

	w, err := store.Window(ctx, "do-1", 0)
	require.NoError(t, err)
	assert.Len(t, w, 50)

	h, err := store.History(ctx, "do-1", 180)
	require.NoError(t, err)
	assert.Len(t, h, 180)

	// Older than the hot buffer: served by the archive.
	r, err := store.Range(ctx, "do-1", epoch, epoch.Add(9*time.Second))
	require.NoError(t, err)
	assert.Len(t, r, 10)

	hotOnly := NewTiered(NewHotStore(50), nil)
	require.NoError(t, hotOnly.Append(ctx, "do-1", series(epoch, 200, time.Second)))
	h, err = hotOnly.History(ctx, "do-1", 180)
	require.NoError(t, err)
	assert.Len(t, h, 50)
}

func TestFromSamples(t *testing.T) {
	pts, err := FromSamples([]float64{1, math.NaN(), 3}, nil, epoch, 0)
	require.NoError(t, err)
	require.Len(t, pts, 3)
	assert.Equal(t, epoch.Add(2*time.Second), pts[2].Time)
	assert.True(t, math.IsNaN(pts[1].Value))

	pts, err = FromSamples([]float64{1, 2}, nil, epoch, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(100*time.Millisecond), pts[1].Time)

	ts := []time.Time{epoch, epoch.Add(time.Minute)}
	pts, err = FromSamples([]float64{5, 6}, ts, time.Time{}, 0)
	require.NoError(t, err)
	assert.Equal(t, ts[1], pts[1].Time)

	_, err = FromSamples([]float64{5}, ts, time.Time{}, 0)
	assert.True(t, errors.Is(err, ErrBadTimestamps))

	_, err = FromSamples([]float64{5, 6}, []time.Time{ts[1], ts[0]}, time.Time{}, 0)
	assert.True(t, errors.Is(err, ErrBadTimestamps))
}
