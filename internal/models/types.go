package models

import (
	"encoding/json"
	"math"
	"sort"
	"time"
)

// Package models defines core data types used throughout sensordx.
//
// These types flow between the preprocessor, the metric extractors, the
// anomaly scorer, the diagnosis resolver and the health aggregator, and are
// what the service layers persist and serialise.

// SensorType is the enumerated key that selects a sensor's profile, limits,
// score weights and diagnosis rule table.
type SensorType string

const (
	SensorPH           SensorType = "PH"
	SensorConductivity SensorType = "CONDUCTIVITY"
	SensorViscosity    SensorType = "VISCOSITY"
	SensorFlow         SensorType = "FLOW"
	SensorPressure     SensorType = "PRESSURE"
	SensorDO           SensorType = "DO"
	SensorTemperature  SensorType = "TEMPERATURE"
	SensorGeneric      SensorType = "GENERIC"
)

// SensorProfile is the immutable descriptor of a sensor type.
type SensorProfile struct {
	Type SensorType `json:"sensor_type"`
	Unit string     `json:"unit"`

	// Valid physical range. Samples outside it count as fault samples.
	RangeMin float64 `json:"range_min"`
	RangeMax float64 `json:"range_max"`

	// Reference is the nominal zero used for bias. Nil means bias is taken
	// relative to the start of the fitted trend.
	Reference *float64 `json:"reference,omitempty"`

	// Sentinels are the values the transmitter reports when burnt out or
	// disconnected.
	Sentinels         []float64 `json:"sentinels"`
	SentinelTolerance float64   `json:"sentinel_tolerance"`
}

// IsFaultSample reports whether v is a burnout sentinel or outside the
// physical range. Non-finite values are gaps, not faults.
func (p SensorProfile) IsFaultSample(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	for _, s := range p.Sentinels {
		if math.Abs(v-s) <= p.SentinelTolerance {
			return true
		}
	}
	return v < p.RangeMin || v > p.RangeMax
}

// Span is the width of the physical range.
func (p SensorProfile) Span() float64 {
	return p.RangeMax - p.RangeMin
}

// SampleSequence is an ordered run of samples; insertion order is time order.
type SampleSequence struct {
	Values     []float64     `json:"values"`
	Timestamps []time.Time   `json:"timestamps,omitempty"`
	Interval   time.Duration `json:"interval"`

	// RawCurrentMA is the optional 4-20 mA loop current read alongside the
	// engineering value.
	RawCurrentMA *float64 `json:"raw_current_ma,omitempty"`
}

// SampleRate returns samples per second, defaulting to 1 Hz.
func (s SampleSequence) SampleRate() float64 {
	if s.Interval <= 0 {
		return 1.0
	}
	return 1.0 / s.Interval.Seconds()
}

// MetricName identifies one entry of a MetricVector.
type MetricName string

const (
	MetricDFAAlpha         MetricName = "dfa_alpha"
	MetricSNR              MetricName = "snr_db"
	MetricBias             MetricName = "bias"
	MetricSlope            MetricName = "slope"
	MetricSpectralCentroid MetricName = "spectral_centroid_hz"
	MetricLyapunov         MetricName = "lyapunov_estimate"
	MetricAnomalyError     MetricName = "anomaly_error"

	MetricDFAR2         MetricName = "dfa_r2"
	MetricNoiseStd      MetricName = "noise_std"
	MetricKurtosis      MetricName = "kurtosis"
	MetricSampleEntropy MetricName = "sample_entropy"
	MetricHysteresis    MetricName = "hysteresis"
)

// AllMetrics lists every metric the engine reports, in output order.
var AllMetrics = []MetricName{
	MetricDFAAlpha,
	MetricSNR,
	MetricBias,
	MetricSlope,
	MetricSpectralCentroid,
	MetricLyapunov,
	MetricAnomalyError,
	MetricDFAR2,
	MetricNoiseStd,
	MetricKurtosis,
	MetricSampleEntropy,
	MetricHysteresis,
}

// Metric is a single computed value with explicit availability.
type Metric struct {
	Value     float64 `json:"-"`
	Available bool    `json:"available"`
	Reason    string  `json:"reason,omitempty"`
}

// Available builds an available metric. A NaN or infinite value is never
// available: it comes back as numeric_degenerate.
func Available(v float64) Metric {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Unavailable(ReasonNumericDegenerate)
	}
	return Metric{Value: v, Available: true}
}

// Unavailable builds a metric that could not be computed.
func Unavailable(reason string) Metric {
	return Metric{Available: false, Reason: reason}
}

// MarshalJSON renders unavailable values as null.
func (m Metric) MarshalJSON() ([]byte, error) {
	if m.Available && (math.IsNaN(m.Value) || math.IsInf(m.Value, 0)) {
		m = Unavailable(ReasonNumericDegenerate)
	}
	var v *float64
	if m.Available {
		val := m.Value
		v = &val
	}
	return json.Marshal(struct {
		Value     *float64 `json:"value"`
		Available bool     `json:"available"`
		Reason    string   `json:"reason,omitempty"`
	}{v, m.Available, m.Reason})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (m *Metric) UnmarshalJSON(data []byte) error {
	var raw struct {
		Value     *float64 `json:"value"`
		Available bool     `json:"available"`
		Reason    string   `json:"reason,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Available = raw.Available
	m.Reason = raw.Reason
	m.Value = 0
	if raw.Value != nil {
		m.Value = *raw.Value
	}
	return nil
}

// MetricVector maps metric names to computed values.
type MetricVector map[MetricName]Metric

// Get returns the metric and whether it is available.
func (v MetricVector) Get(name MetricName) (float64, bool) {
	m, ok := v[name]
	if !ok || !m.Available {
		return 0, false
	}
	return m.Value, true
}

// AvailableCount returns how many metrics carry a value.
func (v MetricVector) AvailableCount() int {
	n := 0
	for _, m := range v {
		if m.Available {
			n++
		}
	}
	return n
}

// Names returns the vector's keys in a stable order.
func (v MetricVector) Names() []MetricName {
	names := make([]MetricName, 0, len(v))
	for k := range v {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Status is the discrete health state.
type Status string

const (
	StatusNormal   Status = "Normal"
	StatusWarning  Status = "Warning"
	StatusCritical Status = "Critical"
	StatusFault    Status = "Fault"
	// StatusUnknown is used when no metric could be computed at all.
	StatusUnknown Status = "Unknown"
)

// Severity classifies a diagnosis code.
type Severity string

const (
	SeverityHealthy  Severity = "healthy"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// PreprocessReport summarises what the preprocessor did to the input.
type PreprocessReport struct {
	InputLength   int     `json:"input_length"`
	GapsFilled    int     `json:"gaps_filled"`
	LongestGap    int     `json:"longest_gap"`
	FaultFraction float64 `json:"fault_fraction"`
	Mean          float64 `json:"mean"`
	StdDev        float64 `json:"std_dev"`
}

// DiagnosisResult is the immutable output of one diagnosis.
type DiagnosisResult struct {
	SensorType      SensorType       `json:"sensor_type"`
	HealthScore     float64          `json:"health_score"`
	Status          Status           `json:"status"`
	DiagnosisCode   string           `json:"diagnosis_code"`
	Diagnosis       string           `json:"diagnosis"`
	Recommendation  string           `json:"recommendation"`
	Severity        Severity         `json:"severity"`
	Metrics         MetricVector     `json:"metrics"`
	Outcome         string           `json:"outcome,omitempty"`
	BaselineVersion string           `json:"baseline_version,omitempty"`
	RemainingLife   string           `json:"remaining_life,omitempty"`
	Preprocess      PreprocessReport `json:"preprocess"`
}
