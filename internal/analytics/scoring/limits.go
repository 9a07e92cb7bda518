package scoring

import "github.com/kubilitics/sensordx/internal/models"

// Limits are the per-type warning and critical bands the aggregator judges
// metrics against. Slope is per sample; bias and noise are in engineering
// units.
type Limits struct {
	SlopeWarning  float64 `json:"slope_warning" mapstructure:"slope_warning"`
	SlopeCritical float64 `json:"slope_critical" mapstructure:"slope_critical"`
	BiasWarning   float64 `json:"bias_warning" mapstructure:"bias_warning"`
	BiasCritical  float64 `json:"bias_critical" mapstructure:"bias_critical"`
	NoiseWarning  float64 `json:"noise_warning" mapstructure:"noise_warning"`
	NoiseCritical float64 `json:"noise_critical" mapstructure:"noise_critical"`
	SNRWarning    float64 `json:"snr_warning_db" mapstructure:"snr_warning_db"`
	SNRCritical   float64 `json:"snr_critical_db" mapstructure:"snr_critical_db"`

	// Expected DFA alpha band.
	HurstLower float64 `json:"hurst_lower" mapstructure:"hurst_lower"`
	HurstUpper float64 `json:"hurst_upper" mapstructure:"hurst_upper"`

	HysteresisCritical float64 `json:"hysteresis_critical" mapstructure:"hysteresis_critical"`

	// MinPoints is the type's minimum-sample floor.
	MinPoints int `json:"min_points" mapstructure:"min_points"`
}

const defaultHurstLower = 0.2

var defaultLimits = map[models.SensorType]Limits{
	models.SensorPH: {
		SlopeWarning: 0.02, SlopeCritical: 0.05,
		BiasWarning: 0.3, BiasCritical: 0.5,
		NoiseWarning: 0.05, NoiseCritical: 0.1,
		SNRWarning: 25, SNRCritical: 15,
		HurstLower: defaultHurstLower, HurstUpper: 0.75,
		HysteresisCritical: 0.3, MinPoints: 100,
	},
	models.SensorDO: {
		SlopeWarning: 0.5, SlopeCritical: 1.0,
		BiasWarning: 0.5, BiasCritical: 1.0,
		NoiseWarning: 0.2, NoiseCritical: 0.5,
		SNRWarning: 20, SNRCritical: 10,
		HurstLower: defaultHurstLower, HurstUpper: 0.8,
		HysteresisCritical: 0.4, MinPoints: 50,
	},
	models.SensorPressure: {
		SlopeWarning: 0.1, SlopeCritical: 0.3,
		BiasWarning: 1.0, BiasCritical: 3.0,
		NoiseWarning: 0.5, NoiseCritical: 1.5,
		SNRWarning: 18, SNRCritical: 8,
		HurstLower: defaultHurstLower, HurstUpper: 0.85,
		HysteresisCritical: 0.5, MinPoints: 30,
	},
	models.SensorTemperature: {
		SlopeWarning: 0.1, SlopeCritical: 0.5,
		BiasWarning: 1.0, BiasCritical: 2.0,
		NoiseWarning: 0.3, NoiseCritical: 1.0,
		SNRWarning: 20, SNRCritical: 10,
		HurstLower: defaultHurstLower, HurstUpper: 0.8,
		HysteresisCritical: 0.4, MinPoints: 50,
	},
	models.SensorFlow: {
		SlopeWarning: 0.5, SlopeCritical: 2.0,
		BiasWarning: 2.0, BiasCritical: 5.0,
		NoiseWarning: 1.0, NoiseCritical: 3.0,
		SNRWarning: 15, SNRCritical: 8,
		HurstLower: defaultHurstLower, HurstUpper: 0.85,
		HysteresisCritical: 0.6, MinPoints: 30,
	},
	models.SensorConductivity: {
		SlopeWarning: 0.1, SlopeCritical: 0.3,
		BiasWarning: 5.0, BiasCritical: 15.0,
		NoiseWarning: 2.0, NoiseCritical: 5.0,
		SNRWarning: 18, SNRCritical: 10,
		HurstLower: defaultHurstLower, HurstUpper: 0.8,
		HysteresisCritical: 0.4, MinPoints: 50,
	},
	models.SensorGeneric: {
		SlopeWarning: 0.05, SlopeCritical: 0.1,
		BiasWarning: 1.0, BiasCritical: 2.0,
		NoiseWarning: 1.0, NoiseCritical: 2.0,
		SNRWarning: 20, SNRCritical: 10,
		HurstLower: defaultHurstLower, HurstUpper: 0.8,
		HysteresisCritical: 0.5, MinPoints: 50,
	},
}

// DefaultLimits returns the built-in limits for t. Types without their own
// entry (viscosity, unknown) use the GENERIC limits.
func DefaultLimits(t models.SensorType) Limits {
	if l, ok := defaultLimits[t]; ok {
		return l
	}
	return defaultLimits[models.SensorGeneric]
}

// Weights are the relative contributions of each metric to the score.
type Weights map[models.MetricName]float64

// DefaultWeights favours the metrics that track physical degradation
// directly (trend, noise, anomaly) over the shape statistics.
func DefaultWeights() Weights {
	return Weights{
		models.MetricSNR:          0.5,
		models.MetricDFAAlpha:     1.0,
		models.MetricSlope:        1.5,
		models.MetricBias:         1.5,
		models.MetricNoiseStd:     1.5,
		models.MetricHysteresis:   0.5,
		models.MetricAnomalyError: 2.0,
	}
}

// merge overlays non-zero fields of o on l.
func (l Limits) merge(o Limits) Limits {
	set := func(dst *float64, v float64) {
		if v != 0 {
			*dst = v
		}
	}
	set(&l.SlopeWarning, o.SlopeWarning)
	set(&l.SlopeCritical, o.SlopeCritical)
	set(&l.BiasWarning, o.BiasWarning)
	set(&l.BiasCritical, o.BiasCritical)
	set(&l.NoiseWarning, o.NoiseWarning)
	set(&l.NoiseCritical, o.NoiseCritical)
	set(&l.SNRWarning, o.SNRWarning)
	set(&l.SNRCritical, o.SNRCritical)
	set(&l.HurstLower, o.HurstLower)
	set(&l.HurstUpper, o.HurstUpper)
	set(&l.HysteresisCritical, o.HysteresisCritical)
	if o.MinPoints > 0 {
		l.MinPoints = o.MinPoints
	}
	return l
}
