package features

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/kubilitics/sensordx/internal/models"
)

// LyapunovConfig configures the Rosenstein estimator.
type LyapunovConfig struct {
	Dimension int `json:"dimension" yaml:"dimension"`
	Delay     int `json:"delay" yaml:"delay"`
	// TheilerWindow excludes temporally adjacent points from the
	// nearest-neighbour search.
	TheilerWindow int `json:"theiler_window" yaml:"theiler_window"`
	Horizon       int `json:"horizon" yaml:"horizon"`
	// MaxPoints caps the orbit; the most recent samples are used.
	MaxPoints  int `json:"max_points" yaml:"max_points"`
	MinSamples int `json:"min_samples" yaml:"min_samples"`
}

// DefaultLyapunovConfig returns m=3, tau=1, a 10-sample Theiler window,
// a 5-step horizon and a 500-point orbit.
func DefaultLyapunovConfig() LyapunovConfig {
	return LyapunovConfig{
		Dimension:     3,
		Delay:         1,
		TheilerWindow: 10,
		Horizon:       5,
		MaxPoints:     500,
		MinSamples:    50,
	}
}

func (c LyapunovConfig) withDefaults() LyapunovConfig {
	def := DefaultLyapunovConfig()
	if c.Dimension < 1 {
		c.Dimension = def.Dimension
	}
	if c.Delay < 1 {
		c.Delay = def.Delay
	}
	if c.TheilerWindow <= 0 {
		c.TheilerWindow = def.TheilerWindow
	}
	if c.Horizon < 1 {
		c.Horizon = def.Horizon
	}
	if c.MaxPoints < 1 {
		c.MaxPoints = def.MaxPoints
	}
	if c.MinSamples < 1 {
		c.MinSamples = def.MinSamples
	}
	return c
}

// Lyapunov estimates the largest Lyapunov exponent of x in 1/sample units:
// the slope of the mean log distance between nearest-neighbour trajectories
// over Horizon steps. Positive values mean nearby states diverge.
//
// Returns models.ErrUndefined when x is too short, has no spread, or yields
// no usable neighbour pairs. ctx is checked between reference points.
func Lyapunov(ctx context.Context, x []float64, cfg LyapunovConfig) (float64, error) {
	cfg = cfg.withDefaults()
	if len(x) < cfg.MinSamples {
		return 0, fmt.Errorf("%w: lyapunov needs %d samples, got %d", models.ErrUndefined, cfg.MinSamples, len(x))
	}

	span := (cfg.Dimension - 1) * cfg.Delay
	if keep := cfg.MaxPoints + span; len(x) > keep {
		x = x[len(x)-keep:]
	}

	mean, std := stat.PopMeanStdDev(x, nil)
	if std < 1e-10 || math.IsNaN(std) {
		return 0, fmt.Errorf("%w: signal has no spread", models.ErrUndefined)
	}
	norm := make([]float64, len(x))
	for i, v := range x {
		norm[i] = (v - mean) / std
	}

	m := len(norm) - span
	usable := m - cfg.Horizon
	if usable <= cfg.TheilerWindow+1 {
		return 0, fmt.Errorf("%w: orbit of %d points too short", models.ErrUndefined, m)
	}

	orbit := make([][]float64, m)
	for i := range orbit {
		p := make([]float64, cfg.Dimension)
		for d := 0; d < cfg.Dimension; d++ {
			p[d] = norm[i+d*cfg.Delay]
		}
		orbit[i] = p
	}

	sumLog := make([]float64, cfg.Horizon+1)
	count := make([]int, cfg.Horizon+1)

	for i := 0; i < usable; i++ {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}

		nearest, best := -1, math.Inf(1)
		for j := 0; j < usable; j++ {
			if abs(i-j) <= cfg.TheilerWindow {
				continue
			}
			d := distance(orbit[i], orbit[j])
			if d > 0 && d < best {
				best, nearest = d, j
			}
		}
		if nearest < 0 {
			continue
		}

		for k := 0; k <= cfg.Horizon; k++ {
			d := distance(orbit[i+k], orbit[nearest+k])
			if d > 0 {
				sumLog[k] += math.Log(d)
				count[k]++
			}
		}
	}

	var steps, meanLog []float64
	for k := 0; k <= cfg.Horizon; k++ {
		if count[k] == 0 {
			continue
		}
		steps = append(steps, float64(k))
		meanLog = append(meanLog, sumLog[k]/float64(count[k]))
	}
	if len(steps) < 2 {
		return 0, fmt.Errorf("%w: no diverging neighbour pairs", models.ErrUndefined)
	}

	_, slope := stat.LinearRegression(steps, meanLog, nil, false)
	return slope, nil
}

func distance(a, b []float64) float64 {
	ss := 0.0
	for i := range a {
		d := a[i] - b[i]
		ss += d * d
	}
	return math.Sqrt(ss)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
