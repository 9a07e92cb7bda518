package preprocess

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/sensordx/internal/models"
)

func noisySeries(n int, mean float64, seed int64) []float64 {
	r := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = mean + 0.05*r.NormFloat64()
	}
	return out
}

func TestRun_CleanSequence(t *testing.T) {
	p := New(Options{})
	seq := models.SampleSequence{Values: noisySeries(200, 7.0, 1)}

	out, err := p.Run(seq, models.DefaultProfile(models.SensorPH))
	require.NoError(t, err)
	assert.Len(t, out.Values, 200)
	assert.Len(t, out.Centered, 200)
	assert.Len(t, out.Detrended, 200)
	assert.InDelta(t, 7.0, out.Mean, 0.05)
	assert.Equal(t, 0, out.Report.GapsFilled)
	assert.Equal(t, 200, out.Report.InputLength)

	sum := 0.0
	for _, v := range out.Centered {
		sum += v
	}
	assert.InDelta(t, 0, sum, 1e-9)
}

func TestRun_DoesNotMutateInput(t *testing.T) {
	values := noisySeries(100, 7.0, 2)
	values[10] = math.NaN()
	seq := models.SampleSequence{Values: values}

	_, err := New(Options{}).Run(seq, models.DefaultProfile(models.SensorPH))
	require.NoError(t, err)
	assert.True(t, math.IsNaN(values[10]))
}

func TestRun_BelowFloor(t *testing.T) {
	seq := models.SampleSequence{Values: noisySeries(49, 7.0, 3)}
	_, err := New(Options{}).Run(seq, models.DefaultProfile(models.SensorPH))
	assert.True(t, errors.Is(err, models.ErrInsufficientData))
}

func TestRun_Empty(t *testing.T) {
	_, err := New(Options{}).Run(models.SampleSequence{}, models.DefaultProfile(models.SensorGeneric))
	assert.True(t, errors.Is(err, models.ErrInsufficientData))
}

func TestRun_AllSentinels(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[i] = models.DisconnectSentinel
	}
	_, err := New(Options{}).Run(models.SampleSequence{Values: values}, models.DefaultProfile(models.SensorFlow))
	assert.True(t, errors.Is(err, models.ErrSensorFault))
}

func TestRun_FaultBeatsFloor(t *testing.T) {
	values := []float64{-9999, -9999, -9999, -9999}
	_, err := New(Options{}).Run(models.SampleSequence{Values: values}, models.DefaultProfile(models.SensorGeneric))
	assert.True(t, errors.Is(err, models.ErrSensorFault))
}

func TestRun_UpscaleBurnout(t *testing.T) {
	profile := models.DefaultProfile(models.SensorPressure)
	values := noisySeries(100, 50, 4)
	for i := 0; i < 40; i++ {
		values[i] = profile.RangeMax + 0.0625*profile.Span()
	}
	_, err := New(Options{}).Run(models.SampleSequence{Values: values}, profile)
	assert.True(t, errors.Is(err, models.ErrSensorFault))
}

func TestRun_FewFaultSamplesAreGaps(t *testing.T) {
	profile := models.DefaultProfile(models.SensorPH)
	values := noisySeries(100, 7.0, 5)
	values[50] = -9999

	out, err := New(Options{}).Run(models.SampleSequence{Values: values}, profile)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Report.GapsFilled)
	assert.InDelta(t, 0.01, out.Report.FaultFraction, 1e-12)
	assert.InDelta(t, 7.0, out.Values[50], 0.3)
}

func TestRun_LoopCurrent(t *testing.T) {
	tests := []struct {
		name    string
		ma      float64
		wantErr bool
	}{
		{"nominal", 12.0, false},
		{"low edge", 4.0, false},
		{"high edge", 20.0, false},
		{"downscale burnout", 3.6, true},
		{"upscale burnout", 21.0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ma := tt.ma
			seq := models.SampleSequence{Values: noisySeries(100, 7.0, 6), RawCurrentMA: &ma}
			_, err := New(Options{}).Run(seq, models.DefaultProfile(models.SensorPH))
			if tt.wantErr {
				assert.True(t, errors.Is(err, models.ErrSensorFault))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRun_GapInterpolation(t *testing.T) {
	values := make([]float64, 60)
	for i := range values {
		values[i] = float64(i)
	}
	values[0] = math.NaN()
	values[10], values[11], values[12] = math.NaN(), math.Inf(1), math.NaN()
	values[59] = math.NaN()

	out, err := New(Options{}).Run(models.SampleSequence{Values: values}, models.DefaultProfile(models.SensorGeneric))
	require.NoError(t, err)

	assert.Equal(t, 5, out.Report.GapsFilled)
	assert.Equal(t, 3, out.Report.LongestGap)
	assert.InDelta(t, 1.0, out.Values[0], 1e-12)
	assert.InDelta(t, 10.0, out.Values[10], 1e-12)
	assert.InDelta(t, 11.0, out.Values[11], 1e-12)
	assert.InDelta(t, 12.0, out.Values[12], 1e-12)
	assert.InDelta(t, 58.0, out.Values[59], 1e-12)
}

func TestRun_LongGap(t *testing.T) {
	values := noisySeries(100, 7.0, 7)
	for i := 20; i < 26; i++ {
		values[i] = math.NaN()
	}
	_, err := New(Options{}).Run(models.SampleSequence{Values: values}, models.DefaultProfile(models.SensorPH))
	assert.True(t, errors.Is(err, models.ErrInsufficientData))
}

func TestRun_TooManyGaps(t *testing.T) {
	values := noisySeries(100, 7.0, 8)
	for i := 0; i < 100; i += 8 {
		values[i] = math.NaN()
	}
	_, err := New(Options{}).Run(models.SampleSequence{Values: values}, models.DefaultProfile(models.SensorPH))
	assert.True(t, errors.Is(err, models.ErrInsufficientData))
}

func TestDetrend_RemovesLine(t *testing.T) {
	x := make([]float64, 50)
	for i := range x {
		x[i] = 3 + 0.5*float64(i)
	}
	for _, v := range Detrend(x) {
		assert.InDelta(t, 0, v, 1e-9)
	}
}
