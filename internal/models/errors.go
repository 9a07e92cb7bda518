package models

import "errors"

// Error taxonomy shared by every stage of the diagnostic pipeline.
// Producers wrap these with fmt.Errorf("%w: ...") so callers can use errors.Is.
var (
	// ErrInsufficientData: the sequence is too short (or too gappy) for a metric.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrSensorFault: a burnout or disconnect pattern was detected.
	ErrSensorFault = errors.New("sensor fault")

	// ErrBaselineUnavailable: no trained baseline exists for the sensor yet.
	ErrBaselineUnavailable = errors.New("baseline unavailable")

	// ErrNumericDegenerate: the input makes a ratio or fit undefined.
	ErrNumericDegenerate = errors.New("numeric degenerate")

	// ErrUndefined: the metric could not be estimated (too smooth or no
	// usable structure). Distinct from a computed zero.
	ErrUndefined = errors.New("undefined")
)

// Reason strings carried by unavailable metrics and result outcomes.
const (
	ReasonInsufficientData    = "insufficient_data"
	ReasonSensorFault         = "sensor_fault"
	ReasonBaselineUnavailable = "baseline_unavailable"
	ReasonNumericDegenerate   = "numeric_degenerate"
	ReasonUndefined           = "undefined"
	ReasonError               = "computation_error"
)

// ReasonFor maps an error to its taxonomy reason string.
func ReasonFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientData):
		return ReasonInsufficientData
	case errors.Is(err, ErrSensorFault):
		return ReasonSensorFault
	case errors.Is(err, ErrBaselineUnavailable):
		return ReasonBaselineUnavailable
	case errors.Is(err, ErrNumericDegenerate):
		return ReasonNumericDegenerate
	case errors.Is(err, ErrUndefined):
		return ReasonUndefined
	default:
		return ReasonError
	}
}

// MetricFrom converts an extractor's (value, error) pair into a Metric.
func MetricFrom(v float64, err error) Metric {
	if err != nil {
		return Unavailable(ReasonFor(err))
	}
	return Available(v)
}
