package models

import (
	"encoding/json"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSensorType(t *testing.T) {
	tests := map[string]SensorType{
		"PH":                SensorPH,
		"pH Sensor":         SensorPH,
		"mag flow":          SensorFlow,
		"Coriolis":          SensorFlow,
		"Dissolved Oxygen":  SensorDO,
		"do":                SensorDO,
		"PT100 RTD":         SensorTemperature,
		"diff-pressure":     SensorPressure,
		"conductivity":      SensorConductivity,
		"inline viscometer": SensorViscosity,
		"":                  SensorGeneric,
		"level radar":       SensorGeneric,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseSensorType(in), in)
	}
}

func TestSensorTypeValid(t *testing.T) {
	for _, st := range AllSensorTypes {
		assert.True(t, st.Valid(), st)
	}
	assert.False(t, SensorType("LEVEL").Valid())
}

func TestDefaultProfile(t *testing.T) {
	ph := DefaultProfile(SensorPH)
	assert.Equal(t, "pH", ph.Unit)
	require.NotNil(t, ph.Reference)
	assert.Equal(t, 7.0, *ph.Reference)
	assert.Equal(t, 14.0, ph.Span())

	// NAMUR burnout values and the disconnect code are faults.
	assert.True(t, ph.IsFaultSample(-0.35))
	assert.True(t, ph.IsFaultSample(14.875))
	assert.True(t, ph.IsFaultSample(DisconnectSentinel))
	assert.True(t, ph.IsFaultSample(15))
	assert.False(t, ph.IsFaultSample(7))
	assert.False(t, ph.IsFaultSample(math.NaN()))

	generic := DefaultProfile("LEVEL")
	assert.Equal(t, SensorGeneric, generic.Type)
	assert.False(t, generic.IsFaultSample(1e12))
	assert.True(t, generic.IsFaultSample(-DisconnectSentinel))
}

func TestSampleRate(t *testing.T) {
	assert.Equal(t, 1.0, SampleSequence{}.SampleRate())
	assert.Equal(t, 4.0, SampleSequence{Interval: 250 * time.Millisecond}.SampleRate())
}

func TestMetricJSON(t *testing.T) {
	data, err := json.Marshal(MetricVector{
		MetricSNR:  Available(21.5),
		MetricBias: Unavailable(ReasonInsufficientData),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"snr_db": {"value": 21.5, "available": true},
		"bias": {"value": null, "available": false, "reason": "insufficient_data"}
	}`, string(data))

	var back MetricVector
	require.NoError(t, json.Unmarshal(data, &back))
	v, ok := back.Get(MetricSNR)
	assert.True(t, ok)
	assert.Equal(t, 21.5, v)
	_, ok = back.Get(MetricBias)
	assert.False(t, ok)
	assert.Equal(t, 1, back.AvailableCount())
	assert.Equal(t, []MetricName{MetricBias, MetricSNR}, back.Names())
}

func TestReasonFor(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("dfa: %w", ErrInsufficientData), ReasonInsufficientData},
		{ErrSensorFault, ReasonSensorFault},
		{ErrBaselineUnavailable, ReasonBaselineUnavailable},
		{ErrNumericDegenerate, ReasonNumericDegenerate},
		{ErrUndefined, ReasonUndefined},
		{fmt.Errorf("boom"), ReasonError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, ReasonFor(tc.err))
	}

	m := MetricFrom(0, ErrUndefined)
	assert.False(t, m.Available)
	assert.Equal(t, ReasonUndefined, m.Reason)
	assert.True(t, MetricFrom(3, nil).Available)
}

func TestMetric_NonFinite(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		m := Available(v)
		assert.False(t, m.Available, "%v", v)
		assert.Equal(t, ReasonNumericDegenerate, m.Reason)
	}
	assert.True(t, Available(-1e300).Available)

	b, err := json.Marshal(Metric{Value: math.Inf(1), Available: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":null,"available":false,"reason":"numeric_degenerate"}`, string(b))

	b, err = json.Marshal(MetricVector{MetricSNR: {Value: math.NaN(), Available: true}})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"value":null`)
}
