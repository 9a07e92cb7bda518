package features

import (
	"fmt"
	"math"

	"github.com/kubilitics/sensordx/internal/models"
)

// SNRConfig configures the signal/noise split.
type SNRConfig struct {
	// SmoothingWindow is the centred moving-average width used as the
	// signal estimate. Even values are rounded up.
	SmoothingWindow int `json:"smoothing_window" yaml:"smoothing_window"`
}

// DefaultSNRConfig returns a 5-sample smoothing window.
func DefaultSNRConfig() SNRConfig {
	return SNRConfig{SmoothingWindow: 5}
}

// SNRResult carries the ratio and the residual noise level.
type SNRResult struct {
	DB       float64 `json:"db"`
	NoiseStd float64 `json:"noise_std"`
}

// SNR estimates signal-to-noise in dB: the smoothed series is the signal,
// the residual is the noise. Both powers are floored at a small epsilon so
// a noiseless or flat input gives a finite value.
func SNR(x []float64, cfg SNRConfig) (SNRResult, error) {
	if err := requireLen(x, 3, "snr"); err != nil {
		return SNRResult{}, err
	}
	w := cfg.SmoothingWindow
	if w < 3 {
		w = DefaultSNRConfig().SmoothingWindow
	}
	if w%2 == 0 {
		w++
	}

	smooth := MovingAverage(x, w)
	noise := make([]float64, len(x))
	for i := range x {
		noise[i] = x[i] - smooth[i]
	}

	signalPower := popVariance(smooth)
	noisePower := popVariance(noise)
	if !finite(signalPower, noisePower) {
		return SNRResult{}, fmt.Errorf("%w: snr power overflow", models.ErrNumericDegenerate)
	}
	db := 10 * math.Log10(math.Max(signalPower, epsilon)/math.Max(noisePower, epsilon))
	return SNRResult{DB: db, NoiseStd: math.Sqrt(noisePower)}, nil
}

// MovingAverage is a centred moving average of odd width w. Near the edges
// the window shrinks to the samples available.
func MovingAverage(x []float64, w int) []float64 {
	half := w / 2
	out := make([]float64, len(x))

	// prefix sums keep this O(n)
	prefix := make([]float64, len(x)+1)
	for i, v := range x {
		prefix[i+1] = prefix[i] + v
	}
	for i := range x {
		lo := i - half
		if lo < 0 {
			lo = 0
		}
		hi := i + half + 1
		if hi > len(x) {
			hi = len(x)
		}
		out[i] = (prefix[hi] - prefix[lo]) / float64(hi-lo)
	}
	return out
}
