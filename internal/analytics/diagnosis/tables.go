package diagnosis

import "github.com/kubilitics/sensordx/internal/models"

// Condition names a branch of the decision tree independent of sensor type.
type Condition string

const (
	ConditionFrozen            Condition = "frozen"
	ConditionNoiseHighFreq     Condition = "noise_high_freq"
	ConditionChaosLowFreq      Condition = "chaos_low_freq"
	ConditionChaosHighFreq     Condition = "chaos_high_freq"
	ConditionTransient         Condition = "transient"
	ConditionFouling           Condition = "fouling"
	ConditionDrift             Condition = "drift"
	ConditionBaselineDeviation Condition = "baseline_deviation"
	ConditionHealthy           Condition = "healthy"
)

// Threshold names.
const (
	ThSampEnFrozen      = "sampen_frozen"
	ThStdDevMin         = "stddev_min"
	ThSpectralHighNoise = "spectral_high_noise"
	ThSpectralLowCutoff = "spectral_low_freq_cutoff"
	ThLyapunovChaos     = "lyapunov_chaos"
	ThLyapunovStable    = "lyapunov_stable"
	ThKurtosisLimit     = "kurtosis_limit"
	ThHysteresisLimit   = "hysteresis_limit"
	ThSlopeNormal       = "slope_normal"
	ThSlopeLimit        = "slope_limit"
	ThSlopeDrift        = "slope_drift"
	ThAnomalyDrift      = "anomaly_drift"
	ThAnomalyDeviation  = "anomaly_deviation"
)

// DefaultThresholds returns the decision-tree constants shared by every
// table. Anomaly thresholds are in units of the baseline's calibrated
// scale, so 1.0 is the training 99th percentile.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ThSampEnFrozen:      0.01,
		ThStdDevMin:         0.001,
		ThSpectralHighNoise: 50.0,
		ThSpectralLowCutoff: 10.0,
		ThLyapunovChaos:     0.1,
		ThLyapunovStable:    0.05,
		ThKurtosisLimit:     5.0,
		ThHysteresisLimit:   0.15,
		ThSlopeNormal:       0.001,
		ThSlopeLimit:        0.005,
		ThSlopeDrift:        0.05,
		ThAnomalyDrift:      1.0,
		ThAnomalyDeviation:  2.5,
	}
}

func when(preds ...Predicate) []Predicate { return preds }

func p(m models.MetricName, op Op, th string) Predicate {
	return Predicate{Metric: m, Op: op, Threshold: th}
}

func missing(m models.MetricName) Predicate {
	return Predicate{Metric: m, Op: OpMissing}
}

// branch is one step of the universal decision tree. An empty code means
// the step concludes a type-specific code looked up from a codeProfile.
type branch struct {
	condition Condition
	code      string
	when      []Predicate
}

// decisionTree is evaluated top to bottom; the last step is the default.
var decisionTree = []branch{
	{ConditionFrozen, CodeFrozenSensor, when(
		p(models.MetricSampleEntropy, OpLT, ThSampEnFrozen))},
	{ConditionFrozen, CodeFrozenSensor, when(
		p(models.MetricNoiseStd, OpLT, ThStdDevMin))},
	{ConditionNoiseHighFreq, "", when(
		p(models.MetricSpectralCentroid, OpGT, ThSpectralHighNoise))},
	{ConditionChaosLowFreq, "", when(
		p(models.MetricLyapunov, OpGT, ThLyapunovChaos),
		p(models.MetricSpectralCentroid, OpLT, ThSpectralLowCutoff))},
	{ConditionChaosHighFreq, "", when(
		p(models.MetricLyapunov, OpGT, ThLyapunovChaos),
		p(models.MetricSpectralCentroid, OpGE, ThSpectralLowCutoff))},
	{ConditionChaosHighFreq, "", when(
		p(models.MetricLyapunov, OpGT, ThLyapunovChaos),
		missing(models.MetricSpectralCentroid))},
	{ConditionTransient, "", when(
		p(models.MetricKurtosis, OpGT, ThKurtosisLimit),
		p(models.MetricLyapunov, OpLT, ThLyapunovStable))},
	{ConditionFouling, CodeFouling, when(
		p(models.MetricHysteresis, OpGT, ThHysteresisLimit),
		p(models.MetricSlope, OpAbsLT, ThSlopeNormal))},
	{ConditionDrift, "", when(
		p(models.MetricAnomalyError, OpGT, ThAnomalyDrift),
		p(models.MetricSlope, OpAbsGT, ThSlopeLimit))},
	{ConditionBaselineDeviation, CodeBaselineDeviation, when(
		p(models.MetricAnomalyError, OpGT, ThAnomalyDeviation))},
	{ConditionDrift, "", when(
		missing(models.MetricAnomalyError),
		p(models.MetricSlope, OpAbsGT, ThSlopeDrift))},
	{ConditionHealthy, CodeHealthy, nil},
}

// codeProfile maps type-specific conditions to root-cause codes.
type codeProfile map[Condition]string

var fallbackCodes = codeProfile{
	ConditionNoiseHighFreq: CodeEMINoise,
	ConditionChaosLowFreq:  CodeMechanicalFailure,
	ConditionChaosHighFreq: CodeElectronicFailure,
	ConditionTransient:     CodeBubbleDetected,
	ConditionDrift:         CodeDriftAging,
}

var codeProfiles = map[models.SensorType]codeProfile{
	models.SensorViscosity: {
		ConditionChaosLowFreq:  CodeMechanicalFailure,
		ConditionChaosHighFreq: CodeElectronicFailure,
		ConditionTransient:     CodeProcessTurbulence,
		ConditionDrift:         CodeSensorFouling,
	},
	models.SensorPH: {
		ConditionChaosLowFreq:  CodeReferenceLeak,
		ConditionChaosHighFreq: CodeCrackedGlass,
		ConditionNoiseHighFreq: CodeGroundLoopEMI,
		ConditionDrift:         CodeElectrolyteDepletion,
	},
	models.SensorDO: {
		ConditionChaosLowFreq:  CodeAnodeDegradation,
		ConditionChaosHighFreq: CodeMembraneDamage,
		ConditionNoiseHighFreq: CodeBubblesInSample,
		ConditionDrift:         CodeElectrolyteExhaustion,
	},
	models.SensorFlow: {
		ConditionChaosLowFreq:  CodeLinerDamage,
		ConditionChaosHighFreq: CodeElectrodeFouling,
		ConditionTransient:     CodeSlugFlow,
		ConditionDrift:         CodeConductivityShift,
	},
	models.SensorTemperature: {
		ConditionChaosLowFreq:  CodeRTDDegradation,
		ConditionChaosHighFreq: CodeThermowellDamage,
		ConditionNoiseHighFreq: CodeEMIInterference,
		ConditionDrift:         CodeCalibrationShift,
	},
	models.SensorPressure: {
		ConditionChaosLowFreq:  CodeCapillaryBlockage,
		ConditionChaosHighFreq: CodeDiaphragmRupture,
		ConditionTransient:     CodeProcessPulsation,
		ConditionDrift:         CodeZeroShift,
	},
	models.SensorConductivity: {
		ConditionChaosLowFreq:  CodeCellFouling,
		ConditionChaosHighFreq: CodeElectrodeAttack,
		ConditionNoiseHighFreq: CodeInductiveCoupling,
		ConditionDrift:         CodeTempCompensationFail,
	},
	models.SensorGeneric: {
		ConditionChaosLowFreq:  CodeMechanicalFailure,
		ConditionChaosHighFreq: CodeElectronicFailure,
		ConditionNoiseHighFreq: CodeEMINoise,
		ConditionTransient:     CodeProcessDisturbance,
		ConditionDrift:         CodeSensorAging,
	},
}

// slopeDrift is the per-sample slope that counts as drift when no baseline
// is available. It follows each type's slope warning limit, since process
// units differ by orders of magnitude.
var slopeDrift = map[models.SensorType]float64{
	models.SensorPH:           0.02,
	models.SensorDO:           0.5,
	models.SensorPressure:     0.1,
	models.SensorTemperature:  0.1,
	models.SensorFlow:         0.5,
	models.SensorConductivity: 0.1,
	models.SensorViscosity:    0.05,
	models.SensorGeneric:      0.05,
}

// BuildTable expands the decision tree for one sensor type. Overrides are
// applied on top of the default thresholds.
func BuildTable(t models.SensorType, overrides Thresholds) Table {
	codes, ok := codeProfiles[t]
	if !ok {
		codes = codeProfiles[models.SensorGeneric]
	}

	rules := make([]Rule, 0, len(decisionTree))
	for _, b := range decisionTree {
		code := b.code
		if code == "" {
			if c, ok := codes[b.condition]; ok {
				code = c
			} else {
				code = fallbackCodes[b.condition]
			}
		}
		rules = append(rules, Rule{Condition: b.condition, Code: code, When: b.when})
	}

	th := DefaultThresholds()
	if v, ok := slopeDrift[t]; ok {
		th[ThSlopeDrift] = v
	}
	return Table{SensorType: t, Rules: rules, Thresholds: th.Merge(overrides)}
}
