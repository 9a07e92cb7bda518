package scoring

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kubilitics/sensordx/internal/models"
)

func goodVector() models.MetricVector {
	return models.MetricVector{
		models.MetricSNR:        models.Available(40), // past the full-goodness knee for every type
		models.MetricDFAAlpha:   models.Available(0.5),
		models.MetricSlope:      models.Available(0.0001),
		models.MetricBias:       models.Available(0.01),
		models.MetricNoiseStd:   models.Available(0.007),
		models.MetricHysteresis: models.Available(0.0),
	}
}

func TestScore_Healthy(t *testing.T) {
	a := NewAggregator(nil, nil)
	score, status, bd := a.Explain(goodVector(), models.Available(0.1), models.SensorPH)
	assert.InDelta(t, 100, score, 0.1)
	assert.Equal(t, models.StatusNormal, status)
	assert.Equal(t, 1.0, bd[models.MetricSNR].Goodness)

	// 34 dB sits 9 dB past the pH warning knee: 0.7 + 0.3*9/10 of the SNR weight.
	v := goodVector()
	v[models.MetricSNR] = models.Available(34)
	_, _, bd = a.Explain(v, models.Available(0.1), models.SensorPH)
	assert.InDelta(t, 0.97, bd[models.MetricSNR].Goodness, 1e-12)
}

func TestScore_NonIncreasingInAnomalyError(t *testing.T) {
	a := NewAggregator(nil, nil)
	prev := 101.0
	for _, e := range []float64{0, 0.25, 0.5, 1, 1.5, 2, 3, 5, 10, 100} {
		score, _ := a.Score(goodVector(), models.Available(e), models.SensorGeneric)
		assert.LessOrEqual(t, score, prev, "error %.2f", e)
		prev = score
	}
}

func TestScore_UnscoredBaselineDropsOut(t *testing.T) {
	a := NewAggregator(nil, nil)
	with, _, _ := a.Explain(goodVector(), models.Available(0), models.SensorGeneric)
	without, _, bd := a.Explain(goodVector(), models.Unavailable(models.ReasonBaselineUnavailable), models.SensorGeneric)
	assert.InDelta(t, with, without, 1e-9)
	_, present := bd[models.MetricAnomalyError]
	assert.False(t, present)
}

func TestScore_Bands(t *testing.T) {
	assert.Equal(t, models.StatusNormal, Band(80))
	assert.Equal(t, models.StatusWarning, Band(79.9))
	assert.Equal(t, models.StatusWarning, Band(50))
	assert.Equal(t, models.StatusCritical, Band(49.9))

	score, status := NewAggregator(nil, nil).Fault()
	assert.Equal(t, 0.0, score)
	assert.Equal(t, models.StatusFault, status)
}

func TestScore_Degradation(t *testing.T) {
	a := NewAggregator(nil, nil)
	v := goodVector()
	v[models.MetricSlope] = models.Available(0.2) // beyond 2×critical for pH
	v[models.MetricBias] = models.Available(1.2)  // beyond 2×critical
	v[models.MetricNoiseStd] = models.Available(0.3)
	v[models.MetricSNR] = models.Available(10)
	score, status := a.Score(v, models.Available(3), models.SensorPH)
	assert.Less(t, score, WarningThreshold)
	assert.Equal(t, models.StatusCritical, status)
}

func TestScore_NothingAvailable(t *testing.T) {
	a := NewAggregator(nil, nil)
	score, status := a.Score(models.MetricVector{}, models.Unavailable(models.ReasonInsufficientData), models.SensorGeneric)
	assert.Equal(t, 0.0, score)
	assert.Equal(t, models.StatusUnknown, status)
}

func TestScore_SameVectorDifferentLimits(t *testing.T) {
	a := NewAggregator(nil, nil)
	v := goodVector()
	v[models.MetricNoiseStd] = models.Available(0.4)
	ph, _ := a.Score(v, models.Unavailable(models.ReasonBaselineUnavailable), models.SensorPH)
	flow, _ := a.Score(v, models.Unavailable(models.ReasonBaselineUnavailable), models.SensorFlow)
	assert.Less(t, ph, flow)
}

func TestOverrides(t *testing.T) {
	a := NewAggregator(
		map[models.SensorType]Limits{models.SensorPH: {NoiseWarning: 1, MinPoints: 20}},
		map[models.SensorType]Weights{models.SensorPH: {models.MetricDFAAlpha: 0}},
	)
	l := a.Limits(models.SensorPH)
	assert.Equal(t, 1.0, l.NoiseWarning)
	assert.Equal(t, 0.1, l.NoiseCritical)
	assert.Equal(t, 20, l.MinPoints)
	assert.Equal(t, 0.5, l.BiasCritical)

	v := goodVector()
	v[models.MetricDFAAlpha] = models.Available(3)
	_, _, bd := a.Explain(v, models.Available(0), models.SensorPH)
	_, present := bd[models.MetricDFAAlpha]
	assert.False(t, present)

	assert.Equal(t, DefaultLimits(models.SensorGeneric), a.Limits(models.SensorViscosity))
}

func TestGoodnessCurves(t *testing.T) {
	l := DefaultLimits(models.SensorPH)
	assert.Equal(t, 0.0, snrGoodness(15, l))
	assert.InDelta(t, 0.7, snrGoodness(25, l), 1e-12)
	assert.Equal(t, 1.0, snrGoodness(40, l))

	assert.Equal(t, 1.0, bandGoodness(0.5, 0.2, 0.75))
	assert.InDelta(t, 0.5, bandGoodness(1.0, 0.2, 0.75), 1e-12)
	assert.Less(t, bandGoodness(2, 0.2, 0.75), 0.0)

	assert.Equal(t, 1.0, limitGoodness(0.3, 0.3, 0.5))
	assert.InDelta(t, 0.4, limitGoodness(0.5, 0.3, 0.5), 1e-12)
	assert.InDelta(t, 0.0, limitGoodness(1.0, 0.3, 0.5), 1e-12)

	assert.Equal(t, 1.0, AnomalyGoodness(0))
	assert.InDelta(t, 0.5, AnomalyGoodness(1), 1e-12)

	nan := math.NaN()
	assert.True(t, math.IsNaN(snrGoodness(nan, l)), "NaN snr must not score as perfect")
	assert.True(t, math.IsNaN(bandGoodness(nan, 0.2, 0.75)))
	assert.True(t, math.IsNaN(limitGoodness(nan, 0.3, 0.5)))
	assert.True(t, math.IsNaN(AnomalyGoodness(nan)))
}

func TestExplain_DegenerateMetricDropsOut(t *testing.T) {
	a := NewAggregator(nil, nil)
	v := goodVector()
	v[models.MetricSNR] = models.Metric{Value: math.NaN(), Available: true}

	_, _, bd := a.Explain(v, models.Available(0), models.SensorPH)
	assert.NotContains(t, bd, models.MetricSNR)

	score, _ := a.Score(v, models.Available(0), models.SensorPH)
	assert.False(t, math.IsNaN(score))
}
