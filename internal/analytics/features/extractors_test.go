package features

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/sensordx/internal/models"
)

func sine(n int, period, amplitude float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amplitude * math.Sin(2*math.Pi*float64(i)/period)
	}
	return out
}

func addNoise(x []float64, sigma float64, seed int64) []float64 {
	r := rand.New(rand.NewSource(seed))
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v + sigma*r.NormFloat64()
	}
	return out
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// ─── SNR ──────────────────────────────────────────────────────────────────────

func TestSNR_DegradesWithNoise(t *testing.T) {
	base := sine(512, 64, 1.0)
	prev := math.Inf(1)
	for _, sigma := range []float64{0.01, 0.05, 0.2, 0.5, 1.0} {
		res, err := SNR(addNoise(base, sigma, 42), DefaultSNRConfig())
		require.NoError(t, err)
		assert.Less(t, res.DB, prev, "sigma %.2f", sigma)
		prev = res.DB
	}
}

func TestSNR_FlatSignalIsFinite(t *testing.T) {
	res, err := SNR(constant(100, 5), DefaultSNRConfig())
	require.NoError(t, err)
	assert.False(t, math.IsNaN(res.DB))
	assert.False(t, math.IsInf(res.DB, 0))
	assert.Equal(t, 0.0, res.NoiseStd)
}

func TestSNR_NoiseStdTracksSigma(t *testing.T) {
	res, err := SNR(addNoise(constant(2000, 0), 0.1, 7), DefaultSNRConfig())
	require.NoError(t, err)
	// residual of a 5-point average keeps sqrt(4/5) of white noise
	assert.InDelta(t, 0.1*math.Sqrt(0.8), res.NoiseStd, 0.01)
}

func TestMovingAverage_EdgesShrink(t *testing.T) {
	out := MovingAverage([]float64{1, 2, 3, 4, 5}, 5)
	assert.InDelta(t, 2.0, out[0], 1e-12)
	assert.InDelta(t, 2.5, out[1], 1e-12)
	assert.InDelta(t, 3.0, out[2], 1e-12)
	assert.InDelta(t, 4.0, out[4], 1e-12)
}

// ─── Trend ────────────────────────────────────────────────────────────────────

func TestTrend(t *testing.T) {
	x := make([]float64, 101)
	for i := range x {
		x[i] = 2 + 0.1*float64(i)
	}

	res, err := Trend(x, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, res.Slope, 1e-9)
	assert.InDelta(t, 2.0, res.Intercept, 1e-9)
	assert.InDelta(t, 10.0, res.Bias, 1e-9)
	assert.InDelta(t, 1.0, res.RSquared, 1e-9)

	ref := 7.0
	res, err = Trend(x, &ref)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, res.Bias, 1e-9)
	assert.InDelta(t, 5.0/7.0*100, res.RelativeBias, 1e-9)
}

func TestTrend_TooShort(t *testing.T) {
	_, err := Trend([]float64{1}, nil)
	assert.True(t, errors.Is(err, models.ErrInsufficientData))
}

// ─── Spectral centroid ────────────────────────────────────────────────────────

func TestSpectralCentroid_PureTone(t *testing.T) {
	x := sine(256, 10, 1.0) // 0.1 cycles per sample

	c, err := SpectralCentroid(x, 1.0, DefaultSpectralConfig())
	require.NoError(t, err)
	assert.InDelta(t, 0.1, c, 0.02)

	c, err = SpectralCentroid(x, 10.0, DefaultSpectralConfig())
	require.NoError(t, err)
	assert.InDelta(t, 1.0, c, 0.2)
}

func TestSpectralCentroid_Windows(t *testing.T) {
	x := sine(256, 10, 1.0)
	for _, w := range []string{WindowHann, WindowBlackman, WindowRectangular} {
		c, err := SpectralCentroid(x, 1.0, SpectralConfig{Window: w})
		require.NoError(t, err, w)
		assert.Greater(t, c, 0.0, w)
		assert.Less(t, c, 0.5, w)
	}

	_, err := SpectralCentroid(x, 1.0, SpectralConfig{Window: "kaiser"})
	assert.Error(t, err)
}

func TestSpectralCentroid_TooShort(t *testing.T) {
	_, err := SpectralCentroid(sine(31, 10, 1), 1.0, DefaultSpectralConfig())
	assert.True(t, errors.Is(err, models.ErrInsufficientData))
}

func TestSpectralCentroid_NoiseAboveTone(t *testing.T) {
	tone, err := SpectralCentroid(sine(512, 50, 1.0), 1.0, DefaultSpectralConfig())
	require.NoError(t, err)
	noise, err := SpectralCentroid(whiteNoise(512, 3), 1.0, DefaultSpectralConfig())
	require.NoError(t, err)
	assert.Greater(t, noise, tone)
}

// ─── Lyapunov ─────────────────────────────────────────────────────────────────

func logisticMap(n int) []float64 {
	out := make([]float64, n)
	x := 0.2
	for i := range out {
		x = 4 * x * (1 - x)
		out[i] = x
	}
	return out
}

func TestLyapunov_ChaosVersusPeriodic(t *testing.T) {
	ctx := context.Background()

	chaotic, err := Lyapunov(ctx, logisticMap(600), DefaultLyapunovConfig())
	require.NoError(t, err)
	assert.Greater(t, chaotic, 0.3)

	periodic, err := Lyapunov(ctx, sine(600, 41.7, 1.0), DefaultLyapunovConfig())
	require.NoError(t, err)
	assert.Less(t, math.Abs(periodic), 0.05)
	assert.Greater(t, chaotic, periodic)
}

func TestLyapunov_Undefined(t *testing.T) {
	ctx := context.Background()

	_, err := Lyapunov(ctx, constant(300, 1.5), DefaultLyapunovConfig())
	assert.True(t, errors.Is(err, models.ErrUndefined), "flat signal")

	_, err = Lyapunov(ctx, logisticMap(20), DefaultLyapunovConfig())
	assert.True(t, errors.Is(err, models.ErrUndefined), "short signal")
}

func TestLyapunov_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Lyapunov(ctx, logisticMap(600), DefaultLyapunovConfig())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLyapunov_UsesMostRecentPoints(t *testing.T) {
	cfg := DefaultLyapunovConfig()
	cfg.MaxPoints = 200

	// A long flat prefix is dropped; only the chaotic tail is embedded.
	x := append(constant(5000, 0.5), logisticMap(300)...)
	v, err := Lyapunov(context.Background(), x, cfg)
	require.NoError(t, err)
	assert.Greater(t, v, 0.2)
}

// ─── Supplementary statistics ─────────────────────────────────────────────────

func TestKurtosis(t *testing.T) {
	x := whiteNoise(500, 11)
	k, err := Kurtosis(x)
	require.NoError(t, err)
	assert.Less(t, math.Abs(k), 1.0)

	for i := 0; i < 5; i++ {
		x[i*100] = 20
	}
	k, err = Kurtosis(x)
	require.NoError(t, err)
	assert.Greater(t, k, 5.0)

	_, err = Kurtosis(constant(50, 1))
	assert.True(t, errors.Is(err, models.ErrNumericDegenerate))

	_, err = Kurtosis(x[:9])
	assert.True(t, errors.Is(err, models.ErrInsufficientData))
}

func TestSampleEntropy(t *testing.T) {
	frozen, err := SampleEntropy(constant(200, 4), DefaultEntropyConfig())
	require.NoError(t, err)
	assert.Equal(t, 0.0, frozen)

	noisy, err := SampleEntropy(whiteNoise(300, 5), DefaultEntropyConfig())
	require.NoError(t, err)
	assert.Greater(t, noisy, 1.0)

	regular, err := SampleEntropy(sine(300, 41.7, 1), DefaultEntropyConfig())
	require.NoError(t, err)
	assert.Less(t, regular, noisy)

	_, err = SampleEntropy(whiteNoise(49, 5), DefaultEntropyConfig())
	assert.True(t, errors.Is(err, models.ErrInsufficientData))
}

func TestSampleEntropy_NoLongerMatches(t *testing.T) {
	// One length-2 repeat at indices 10 and 40 that diverges on the third
	// sample; every other value is distinct.
	x := make([]float64, 60)
	for i := range x {
		x[i] = float64(i)
	}
	x[40], x[41], x[42] = 10, 11, 12.5

	cfg := DefaultEntropyConfig()
	cfg.R = 0.01
	_, err := SampleEntropy(x, cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNumericDegenerate))
	assert.Equal(t, models.ReasonNumericDegenerate, models.MetricFrom(SampleEntropy(x, cfg)).Reason)
}

func TestHysteresis(t *testing.T) {
	h, err := Hysteresis(constant(100, 2))
	require.NoError(t, err)
	assert.Equal(t, 0.0, h)

	// Symmetric oscillation: rising and falling edges share a level.
	h, err = Hysteresis(sine(400, 40, 1))
	require.NoError(t, err)
	assert.Less(t, h, 0.1)

	// Sawtooth: slow rise through low values, fast fall from the top.
	saw := make([]float64, 400)
	for i := range saw {
		p := i % 40
		if p < 30 {
			saw[i] = float64(p) / 30
		} else {
			saw[i] = 1 - float64(p-30)/10
		}
	}
	h, err = Hysteresis(saw)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, h, 0.0)
	assert.LessOrEqual(t, h, 1.0)
}

// ─── Remaining life ───────────────────────────────────────────────────────────

func TestRemainingLife(t *testing.T) {
	tests := []struct {
		name string
		tr   TrendResult
		n    int
		want string
	}{
		{"flat", TrendResult{Slope: 0}, 100, RULStable},
		{"exceeded", TrendResult{Slope: 0.1, Intercept: 0, Reference: 0}, 100, RULExceeded},
		// 0.1 left at 1e-4 per second = 1000 s
		{"minutes", TrendResult{Slope: 1e-4, Intercept: 0, Reference: 0.0099}, 100, "16 mins"},
		{"hours", TrendResult{Slope: 1e-5, Intercept: 0, Reference: 0.001}, 101, "2 hours"},
		{"no samples", TrendResult{Slope: 1}, 0, RULUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RemainingLife(tt.tr, tt.n, 0.1, time.Second))
		})
	}
}
