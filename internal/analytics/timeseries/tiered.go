package timeseries

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Tiered combines the hot store with an optional archive.
type Tiered struct {
	hot     *HotStore
	archive *Archive
}

// NewTiered creates a tiered store. archive may be nil.
func NewTiered(hot *HotStore, archive *Archive) *Tiered {
	if hot == nil {
		hot = NewHotStore(0)
	}
	return &Tiered{hot: hot, archive: archive}
}

// Hot returns the in-memory tier.
func (t *Tiered) Hot() *HotStore { return t.hot }

// Archived reports whether a cold tier is configured.
func (t *Tiered) Archived() bool { return t.archive != nil }

// Append writes to the hot tier, then to the archive.
func (t *Tiered) Append(ctx context.Context, sensorID string, points []Point) error {
	if err := t.hot.Append(ctx, sensorID, points); err != nil {
		return err
	}
	if t.archive != nil {
		if err := t.archive.Append(ctx, sensorID, points); err != nil {
			return fmt.Errorf("archive append: %w", err)
		}
	}
	return nil
}

// Window serves from the hot tier only; the live window is always recent.
func (t *Tiered) Window(ctx context.Context, sensorID string, n int) ([]Point, error) {
	return t.hot.Window(ctx, sensorID, n)
}

// Range reads the archive when the hot tier no longer covers start.
func (t *Tiered) Range(ctx context.Context, sensorID string, start, end time.Time) ([]Point, error) {
	if t.archive != nil {
		oldest, ok := t.hot.Oldest(sensorID)
		if !ok || oldest.Time.After(start) {
			return t.archive.Range(ctx, sensorID, start, end)
		}
	}
	return t.hot.Range(ctx, sensorID, start, end)
}

// History prefers the archive, which holds more than the hot buffer.
func (t *Tiered) History(ctx context.Context, sensorID string, n int) ([]Point, error) {
	if t.archive != nil {
		points, err := t.archive.History(ctx, sensorID, n)
		if err == nil {
			return points, nil
		}
		if !errors.Is(err, ErrNoData) {
			return nil, err
		}
	}
	return t.hot.History(ctx, sensorID, n)
}

// Delete drops the sensor from both tiers.
func (t *Tiered) Delete(ctx context.Context, sensorID string) error {
	if err := t.hot.Delete(ctx, sensorID); err != nil {
		return err
	}
	if t.archive != nil {
		return t.archive.Delete(ctx, sensorID)
	}
	return nil
}

// Close closes the archive.
func (t *Tiered) Close() error {
	if t.archive != nil {
		return t.archive.Close()
	}
	return nil
}
