package features

import (
	"fmt"
	"math"
	"math/cmplx"
	"strings"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"

	"github.com/kubilitics/sensordx/internal/models"
)

// Window taper names accepted by SpectralConfig.
const (
	WindowHann        = "hann"
	WindowBlackman    = "blackman"
	WindowRectangular = "rectangular"
)

// SpectralConfig configures the spectral centroid.
type SpectralConfig struct {
	Window     string `json:"window" yaml:"window"`
	MinSamples int    `json:"min_samples" yaml:"min_samples"`
}

// DefaultSpectralConfig returns a Hann taper with a 32-sample floor.
func DefaultSpectralConfig() SpectralConfig {
	return SpectralConfig{Window: WindowHann, MinSamples: 32}
}

// SpectralCentroid returns the magnitude-weighted mean frequency in Hz of x
// sampled at sampleRate Hz. x should already be detrended so the DC bin
// does not dominate.
func SpectralCentroid(x []float64, sampleRate float64, cfg SpectralConfig) (float64, error) {
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = DefaultSpectralConfig().MinSamples
	}
	if err := requireLen(x, cfg.MinSamples, "spectral centroid"); err != nil {
		return 0, err
	}
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return 0, fmt.Errorf("%w: sample rate %v", models.ErrNumericDegenerate, sampleRate)
	}

	taper, err := taperFor(cfg.Window, len(x))
	if err != nil {
		return 0, err
	}
	windowed := make([]float64, len(x))
	for i, v := range x {
		windowed[i] = v * taper[i]
	}

	spectrum := fft.FFTReal(windowed)
	n := len(x)
	weighted, total := 0.0, 0.0
	for k := 0; k <= n/2; k++ {
		mag := cmplx.Abs(spectrum[k])
		freq := float64(k) * sampleRate / float64(n)
		weighted += freq * mag
		total += mag
	}
	return weighted / math.Max(total, epsilon), nil
}

func taperFor(name string, n int) ([]float64, error) {
	switch strings.ToLower(name) {
	case "", WindowHann:
		return window.Hann(n), nil
	case WindowBlackman:
		return window.Blackman(n), nil
	case WindowRectangular:
		return window.Rectangular(n), nil
	default:
		return nil, fmt.Errorf("unknown spectral window %q", name)
	}
}
