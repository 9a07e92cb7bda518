package features

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/kubilitics/sensordx/internal/models"
)

// Package features provides the metric extractors of the diagnostic engine.
//
// Every extractor is a pure function of a cleaned sample slice and a small
// config struct. Extractors share no state, so the orchestrator runs them
// concurrently. Failure is reported as an error wrapping one of the models
// taxonomy sentinels, never as a zero value:
//
//   - DFA                scaling exponent alpha and fit R²
//   - SNR                smoothed-signal power over residual power, in dB
//   - Trend              least-squares slope and bias against a reference
//   - SpectralCentroid   magnitude-weighted mean frequency (go-dsp FFT)
//   - Lyapunov           largest Lyapunov exponent, Rosenstein method
//   - Kurtosis           excess kurtosis (spike and bubble detection)
//   - SampleEntropy      regularity (frozen sensor detection)
//   - Hysteresis         rising vs falling edge asymmetry
//
// Interpretation bands (alpha ≈ 0.5 white noise, ≈ 1.0 pink, ≈ 1.5 random
// walk) belong to the diagnosis and scoring packages, not here.

// Config groups the extractor configurations.
type Config struct {
	DFA      DFAConfig      `json:"dfa" yaml:"dfa"`
	SNR      SNRConfig      `json:"snr" yaml:"snr"`
	Spectral SpectralConfig `json:"spectral" yaml:"spectral"`
	Lyapunov LyapunovConfig `json:"lyapunov" yaml:"lyapunov"`
	Entropy  EntropyConfig  `json:"entropy" yaml:"entropy"`
}

// DefaultConfig returns the production extractor configuration.
func DefaultConfig() Config {
	return Config{
		DFA:      DefaultDFAConfig(),
		SNR:      DefaultSNRConfig(),
		Spectral: DefaultSpectralConfig(),
		Lyapunov: DefaultLyapunovConfig(),
		Entropy:  DefaultEntropyConfig(),
	}
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

const epsilon = 1e-12

func index(n int) []float64 {
	idx := make([]float64, n)
	for i := range idx {
		idx[i] = float64(i)
	}
	return idx
}

// popVariance is the population (1/N) variance.
func popVariance(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	mean := stat.Mean(x, nil)
	ss := 0.0
	for _, v := range x {
		d := v - mean
		ss += d * d
	}
	return ss / float64(len(x))
}

// finite reports whether every value is a real number. Sums of squares of
// extreme samples overflow to +Inf long before the samples themselves do.
func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func requireLen(x []float64, min int, what string) error {
	if len(x) < min {
		return fmt.Errorf("%w: %s needs %d samples, got %d", models.ErrInsufficientData, what, min, len(x))
	}
	return nil
}
