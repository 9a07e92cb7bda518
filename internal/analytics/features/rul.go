package features

import (
	"fmt"
	"math"
	"time"
)

// RUL strings that are not durations.
const (
	RULStable   = "Stable (> 1 year)"
	RULExceeded = "Critical Threshold Exceeded"
	RULUnknown  = "Unknown"
)

// RemainingLife projects the fitted trend forward until the bias leaves the
// ±biasCritical band around the trend reference, and renders the time left
// in human terms. interval is the sample period.
func RemainingLife(tr TrendResult, n int, biasCritical float64, interval time.Duration) string {
	if n == 0 || biasCritical <= 0 {
		return RULUnknown
	}
	if math.Abs(tr.Slope) < 1e-6 {
		return RULStable
	}
	if interval <= 0 {
		interval = time.Second
	}

	current := tr.Intercept + tr.Slope*float64(n-1)
	var distance float64
	if tr.Slope > 0 {
		distance = tr.Reference + biasCritical - current
	} else {
		distance = current - (tr.Reference - biasCritical)
	}
	if distance <= 0 {
		return RULExceeded
	}

	remaining := distance / math.Abs(tr.Slope) * interval.Seconds()
	const (
		hour = 3600.0
		day  = 24 * hour
		year = 365 * day
	)
	switch {
	case remaining > year:
		return RULStable
	case remaining > day:
		return fmt.Sprintf("%d days", int(remaining/day))
	case remaining > hour:
		return fmt.Sprintf("%d hours", int(remaining/hour))
	default:
		return fmt.Sprintf("%d mins", int(remaining/60))
	}
}
