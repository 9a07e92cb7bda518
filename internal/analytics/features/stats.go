package features

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/kubilitics/sensordx/internal/models"
)

// Kurtosis returns the excess kurtosis of x. Heavy tails (spikes, bubbles)
// push it well above zero.
func Kurtosis(x []float64) (float64, error) {
	if err := requireLen(x, 10, "kurtosis"); err != nil {
		return 0, err
	}
	k := stat.ExKurtosis(x, nil)
	if math.IsNaN(k) || math.IsInf(k, 0) {
		return 0, fmt.Errorf("%w: kurtosis of a constant series", models.ErrNumericDegenerate)
	}
	return k, nil
}

// EntropyConfig configures sample entropy.
type EntropyConfig struct {
	M          int     `json:"m" yaml:"m"`
	R          float64 `json:"r" yaml:"r"`
	MaxPoints  int     `json:"max_points" yaml:"max_points"`
	MinSamples int     `json:"min_samples" yaml:"min_samples"`
}

// DefaultEntropyConfig returns m=2, r=0.2σ over at most 1000 points.
func DefaultEntropyConfig() EntropyConfig {
	return EntropyConfig{M: 2, R: 0.2, MaxPoints: 1000, MinSamples: 50}
}

// SampleEntropy returns -ln(A/B) where B counts template pairs of length M
// within tolerance R·σ and A the pairs of length M+1. A constant series has
// entropy 0, the signature of a frozen sensor. When no M+1 pair matches the
// ratio is undefined and the metric is reported degenerate rather than 0.
func SampleEntropy(x []float64, cfg EntropyConfig) (float64, error) {
	def := DefaultEntropyConfig()
	if cfg.M < 1 {
		cfg.M = def.M
	}
	if cfg.R <= 0 {
		cfg.R = def.R
	}
	if cfg.MaxPoints <= 0 {
		cfg.MaxPoints = def.MaxPoints
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	if err := requireLen(x, cfg.MinSamples, "sample entropy"); err != nil {
		return 0, err
	}

	_, std := stat.PopMeanStdDev(x, nil)
	if !finite(std) {
		return 0, fmt.Errorf("%w: sample entropy tolerance overflow", models.ErrNumericDegenerate)
	}
	if std < 1e-10 {
		return 0, nil
	}
	if len(x) > cfg.MaxPoints {
		x = x[len(x)-cfg.MaxPoints:]
	}
	tol := cfg.R * std

	b := templateMatches(x, cfg.M, tol)
	a := templateMatches(x, cfg.M+1, tol)
	if b == 0 {
		return 0, fmt.Errorf("%w: no template matches at m=%d", models.ErrUndefined, cfg.M)
	}
	if a == 0 {
		return 0, fmt.Errorf("%w: no template matches at m=%d", models.ErrNumericDegenerate, cfg.M+1)
	}
	return -math.Log(float64(a) / float64(b)), nil
}

// templateMatches counts pairs i<j whose length-dim templates are within tol
// under the Chebyshev distance. Templates start at indices below n-dim.
func templateMatches(x []float64, dim int, tol float64) int {
	n := len(x)
	count := 0
	for i := 0; i < n-dim; i++ {
		for j := i + 1; j < n-dim; j++ {
			match := true
			for k := 0; k < dim; k++ {
				if math.Abs(x[i+k]-x[j+k]) > tol {
					match = false
					break
				}
			}
			if match {
				count++
			}
		}
	}
	return count
}

// Hysteresis compares the mean level on rising edges with the mean level on
// falling edges, normalised by the peak-to-peak range. Edges are taken from
// a 5-sample centred moving average; steps under half the σ of the
// differences are ignored.
func Hysteresis(x []float64) (float64, error) {
	if err := requireLen(x, 5, "hysteresis"); err != nil {
		return 0, err
	}
	smooth := MovingAverage(x, 5)
	diffs := make([]float64, len(smooth)-1)
	for i := range diffs {
		diffs[i] = smooth[i+1] - smooth[i]
	}
	_, sd := stat.PopMeanStdDev(diffs, nil)
	if !finite(sd) {
		return 0, fmt.Errorf("%w: hysteresis step overflow", models.ErrNumericDegenerate)
	}
	threshold := 0.5 * sd
	if threshold < 1e-10 {
		return 0, nil
	}

	var rising, falling []float64
	for i, d := range diffs {
		switch {
		case d > threshold:
			rising = append(rising, x[i])
		case d < -threshold:
			falling = append(falling, x[i])
		}
	}
	if len(rising) == 0 || len(falling) == 0 {
		return 0, nil
	}

	span := floats.Max(x) - floats.Min(x)
	if span < 1e-10 {
		span = 1
	}
	return math.Abs(stat.Mean(rising, nil)-stat.Mean(falling, nil)) / span, nil
}
