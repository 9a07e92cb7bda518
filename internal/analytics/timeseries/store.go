package timeseries

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Package timeseries stores raw sensor samples for the live pipeline.
//
// Responsibilities:
//   - Keep the most recent samples of every sensor in memory
//   - Serve the live diagnosis window (last N samples)
//   - Archive samples to disk for baseline training history
//   - Provide range queries and simple aggregations for the API
//
// Storage Architecture:
//   1. Hot data: per-sensor ring buffer (FIFO when full)
//      - Live diagnosis windows, recent-range queries
//   2. Cold data: Badger archive (optional)
//      - One block per appended batch, keyed by sensor and first timestamp
//      - Delta-of-delta timestamps and XOR-encoded values, zstd compressed
//      - Expired by Badger TTL after the retention period
//
// Integration Points:
//   - Pipeline: Append on ingest, Window for live diagnosis
//   - Baseline training: History from the archive
//   - REST API: Range and Aggregate

// ErrNoData is returned when a sensor has no stored samples.
var ErrNoData = errors.New("no data")

// Point is one timestamped sample. NaN values are gaps.
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// SampleStore is the storage used by the pipeline.
type SampleStore interface {
	// Append stores points for sensorID. Points must be in time order.
	Append(ctx context.Context, sensorID string, points []Point) error

	// Window returns the most recent n points, oldest first.
	Window(ctx context.Context, sensorID string, n int) ([]Point, error)

	// Range returns points with start <= t <= end, oldest first.
	Range(ctx context.Context, sensorID string, start, end time.Time) ([]Point, error)

	// History returns up to n of the most recent points from the deepest
	// tier available, for baseline training.
	History(ctx context.Context, sensorID string, n int) ([]Point, error)

	// Delete drops every sample of sensorID.
	Delete(ctx context.Context, sensorID string) error

	Close() error
}

// Values extracts the sample values of points.
func Values(points []Point) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Value
	}
	return out
}

// Times extracts the timestamps of points.
func Times(points []Point) []time.Time {
	out := make([]time.Time, len(points))
	for i, p := range points {
		out[i] = p.Time
	}
	return out
}

// ErrBadTimestamps is returned when explicit timestamps do not match the
// values or are out of order.
var ErrBadTimestamps = errors.New("bad timestamps")

// FromSamples builds points from values. With explicit timestamps they must
// be one per value and non-decreasing; otherwise points are spaced by
// interval starting at start (interval defaults to one second).
func FromSamples(values []float64, timestamps []time.Time, start time.Time, interval time.Duration) ([]Point, error) {
	points := make([]Point, len(values))
	if len(timestamps) > 0 {
		if len(timestamps) != len(values) {
			return nil, fmt.Errorf("%w: %d timestamps for %d values", ErrBadTimestamps, len(timestamps), len(values))
		}
		for i, v := range values {
			if i > 0 && timestamps[i].Before(timestamps[i-1]) {
				return nil, fmt.Errorf("%w: timestamp %d precedes its predecessor", ErrBadTimestamps, i)
			}
			points[i] = Point{Time: timestamps[i], Value: v}
		}
		return points, nil
	}
	if interval <= 0 {
		interval = time.Second
	}
	for i, v := range values {
		points[i] = Point{Time: start.Add(time.Duration(i) * interval), Value: v}
	}
	return points, nil
}
