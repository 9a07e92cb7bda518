package features

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// TrendResult is the least-squares line through the samples.
type TrendResult struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
	// Bias is the fitted value at the last sample minus the reference.
	Bias float64 `json:"bias"`
	// RelativeBias is Bias as a percentage of |Reference|; zero when the
	// reference is zero.
	RelativeBias float64 `json:"relative_bias"`
	Reference    float64 `json:"reference"`
	RSquared     float64 `json:"r_squared"`
}

// Trend fits value against sample index. With a nil reference the bias is
// measured against the fitted value at the first sample, i.e. the drift
// accumulated over the window.
func Trend(x []float64, reference *float64) (TrendResult, error) {
	if err := requireLen(x, 2, "trend"); err != nil {
		return TrendResult{}, err
	}
	idx := index(len(x))
	intercept, slope := stat.LinearRegression(idx, x, nil, false)

	ref := intercept
	if reference != nil {
		ref = *reference
	}
	last := intercept + slope*float64(len(x)-1)

	res := TrendResult{
		Slope:     slope,
		Intercept: intercept,
		Bias:      last - ref,
		Reference: ref,
	}
	if math.Abs(ref) > 1e-10 {
		res.RelativeBias = res.Bias / math.Abs(ref) * 100
	}
	if r2 := stat.RSquared(idx, x, nil, intercept, slope); !math.IsNaN(r2) {
		res.RSquared = r2
	}
	return res, nil
}
