package features

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/kubilitics/sensordx/internal/models"
)

// DFAConfig configures detrended fluctuation analysis.
type DFAConfig struct {
	MinWindow int `json:"min_window" yaml:"min_window"`
	// MaxWindowFraction bounds the largest window as a fraction of N.
	// Values above 0.5 are clamped so at least two windows always fit.
	MaxWindowFraction float64 `json:"max_window_fraction" yaml:"max_window_fraction"`
	Scales            int     `json:"scales" yaml:"scales"`
}

// DefaultDFAConfig returns MinWindow 4, N/4, 20 scales.
func DefaultDFAConfig() DFAConfig {
	return DFAConfig{MinWindow: 4, MaxWindowFraction: 0.25, Scales: 20}
}

// DFAResult is the scaling exponent and the quality of the log-log fit.
type DFAResult struct {
	Alpha        float64   `json:"alpha"`
	RSquared     float64   `json:"r_squared"`
	Windows      []int     `json:"windows"`
	Fluctuations []float64 `json:"fluctuations"`
}

// DFA computes the first-order DFA exponent of x. x should not be detrended;
// the profile is built from the mean-centred series internally.
func DFA(x []float64, cfg DFAConfig) (DFAResult, error) {
	if cfg.MinWindow < 4 {
		cfg.MinWindow = 4
	}
	if cfg.MaxWindowFraction <= 0 {
		cfg.MaxWindowFraction = DefaultDFAConfig().MaxWindowFraction
	}
	if cfg.MaxWindowFraction > 0.5 {
		cfg.MaxWindowFraction = 0.5
	}
	if cfg.Scales < 2 {
		cfg.Scales = DefaultDFAConfig().Scales
	}

	n := len(x)
	windows := dfaWindows(n, cfg)
	if len(windows) < 2 {
		return DFAResult{}, fmt.Errorf("%w: %d samples give %d DFA window sizes",
			models.ErrInsufficientData, n, len(windows))
	}

	// Profile: cumulative sum of the mean-centred series.
	mean := stat.Mean(x, nil)
	profile := make([]float64, n)
	acc := 0.0
	for i, v := range x {
		acc += v - mean
		profile[i] = acc
	}

	var logN, logF []float64
	res := DFAResult{}
	for _, w := range windows {
		f := fluctuation(profile, w)
		if math.IsNaN(f) || math.IsInf(f, 0) || f <= epsilon {
			continue
		}
		res.Windows = append(res.Windows, w)
		res.Fluctuations = append(res.Fluctuations, f)
		logN = append(logN, math.Log(float64(w)))
		logF = append(logF, math.Log(f))
	}
	if len(logN) < 2 {
		return DFAResult{}, fmt.Errorf("%w: fluctuation is zero at every window size", models.ErrNumericDegenerate)
	}

	intercept, slope := stat.LinearRegression(logN, logF, nil, false)
	res.Alpha = slope
	res.RSquared = stat.RSquared(logN, logF, nil, intercept, slope)
	if math.IsNaN(res.RSquared) {
		res.RSquared = 0
	}
	return res, nil
}

// dfaWindows returns the distinct, log-spaced window sizes for a series of
// length n.
func dfaWindows(n int, cfg DFAConfig) []int {
	maxW := int(math.Floor(float64(n) * cfg.MaxWindowFraction))
	if maxW < cfg.MinWindow {
		return nil
	}
	lo, hi := math.Log(float64(cfg.MinWindow)), math.Log(float64(maxW))
	out := make([]int, 0, cfg.Scales)
	for i := 0; i < cfg.Scales; i++ {
		f := lo
		if cfg.Scales > 1 {
			f = lo + (hi-lo)*float64(i)/float64(cfg.Scales-1)
		}
		w := int(math.Floor(math.Exp(f) + 1e-9))
		if w < cfg.MinWindow || w > maxW {
			continue
		}
		if len(out) > 0 && out[len(out)-1] == w {
			continue
		}
		out = append(out, w)
	}
	return out
}

// fluctuation is the RMS residual of per-window least-squares lines over
// the non-overlapping windows of size w. Squared residuals are pooled across
// windows before the root is taken.
func fluctuation(profile []float64, w int) float64 {
	segments := len(profile) / w
	if segments < 1 {
		return 0
	}

	// x = 0..w-1 is the same for every window.
	xMean := float64(w-1) / 2
	sxx := 0.0
	for i := 0; i < w; i++ {
		d := float64(i) - xMean
		sxx += d * d
	}

	total := 0.0
	for s := 0; s < segments; s++ {
		seg := profile[s*w : (s+1)*w]
		yMean := 0.0
		for _, v := range seg {
			yMean += v
		}
		yMean /= float64(w)

		sxy, syy := 0.0, 0.0
		for i, v := range seg {
			dy := v - yMean
			sxy += (float64(i) - xMean) * dy
			syy += dy * dy
		}
		ssr := syy - sxy*sxy/sxx
		if ssr < 0 {
			ssr = 0
		}
		total += ssr
	}
	return math.Sqrt(total / float64(segments*w))
}
