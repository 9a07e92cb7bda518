package scoring

import (
	"math"

	"github.com/kubilitics/sensordx/internal/models"
)

// Package scoring turns a metric vector into a 0-100 health score and a
// status band.
//
// Responsibilities:
//   - Judge each available metric against the sensor type's limits
//   - Combine per-metric goodness into one weighted score
//   - Map the score to a status band
//   - Explain the score metric by metric (Breakdown)
//
// Goodness per metric (0 = bad, 1 = good):
//
//   1. SNR: 0 at or below the critical dB, 0.7 at the warning dB, 1 at
//      warning + 10 dB
//   2. DFA alpha: 1 inside [HurstLower, HurstUpper], falling to 0 at a
//      distance of 0.5 outside the band
//   3. |slope|, |bias|, noise σ: 1 up to the warning limit, 0.4 at the
//      critical limit, 0 at twice the critical limit
//   4. Hysteresis: 1 − h/HysteresisCritical
//   5. Anomaly error e: 1/(1+e⁴), non-increasing in e, 0.5 at e = 1
//
// Score = 100 × Σ wᵢgᵢ / Σ wᵢ over the available weighted metrics.
// Unavailable metrics drop out of both sums, so a missing baseline neither
// helps nor hurts.
//
// Bands:
//   - Normal:   score ≥ 80
//   - Warning:  50 ≤ score < 80
//   - Critical: score < 50
//   - Fault:    sensor fault short-circuit, score 0
//   - Unknown:  nothing available to score
//
// Integration Points:
//   - Orchestrator: Score and Fault per diagnosis
//   - Preprocessor: MinPoints floor per type
//   - RUL projection: BiasCritical per type
//   - Config: per-type limit and weight overrides

const (
	NormalThreshold  = 80.0
	WarningThreshold = 50.0
)

// Contribution is one metric's share of the score.
type Contribution struct {
	Goodness float64 `json:"goodness"`
	Weight   float64 `json:"weight"`
}

// Breakdown explains a score.
type Breakdown map[models.MetricName]Contribution

// Aggregator computes health scores. It is immutable after construction and
// safe for concurrent use.
type Aggregator struct {
	limits  map[models.SensorType]Limits
	weights map[models.SensorType]Weights
}

// NewAggregator builds an aggregator with per-type overrides on top of the
// built-in limits and weights. Zero-valued override fields keep the default.
func NewAggregator(limits map[models.SensorType]Limits, weights map[models.SensorType]Weights) *Aggregator {
	a := &Aggregator{
		limits:  make(map[models.SensorType]Limits, len(limits)),
		weights: make(map[models.SensorType]Weights, len(weights)),
	}
	for t, l := range limits {
		a.limits[t] = DefaultLimits(t).merge(l)
	}
	for t, w := range weights {
		merged := DefaultWeights()
		for k, v := range w {
			merged[k] = v
		}
		a.weights[t] = merged
	}
	return a
}

// WithWeights returns a copy of a whose weights for t are overlaid with w.
func (a *Aggregator) WithWeights(t models.SensorType, w Weights) *Aggregator {
	out := &Aggregator{limits: a.limits, weights: make(map[models.SensorType]Weights, len(a.weights)+1)}
	for k, v := range a.weights {
		out.weights[k] = v
	}
	merged := make(Weights)
	for k, v := range a.Weights(t) {
		merged[k] = v
	}
	for k, v := range w {
		merged[k] = v
	}
	out.weights[t] = merged
	return out
}

// Limits returns the effective limits for t.
func (a *Aggregator) Limits(t models.SensorType) Limits {
	if l, ok := a.limits[t]; ok {
		return l
	}
	return DefaultLimits(t)
}

// Weights returns the effective weights for t.
func (a *Aggregator) Weights(t models.SensorType) Weights {
	if w, ok := a.weights[t]; ok {
		return w
	}
	return DefaultWeights()
}

// Score returns the health score and status for a metric vector.
func (a *Aggregator) Score(v models.MetricVector, anomalyErr models.Metric, t models.SensorType) (float64, models.Status) {
	score, status, _ := a.Explain(v, anomalyErr, t)
	return score, status
}

// Explain is Score plus the per-metric breakdown.
func (a *Aggregator) Explain(v models.MetricVector, anomalyErr models.Metric, t models.SensorType) (float64, models.Status, Breakdown) {
	limits := a.Limits(t)
	weights := a.Weights(t)
	breakdown := make(Breakdown)

	var sum, total float64
	add := func(name models.MetricName, g float64) {
		w := weights[name]
		if w <= 0 || math.IsNaN(g) {
			return
		}
		g = clamp01(g)
		breakdown[name] = Contribution{Goodness: g, Weight: w}
		sum += w * g
		total += w
	}

	if x, ok := v.Get(models.MetricSNR); ok {
		add(models.MetricSNR, snrGoodness(x, limits))
	}
	if x, ok := v.Get(models.MetricDFAAlpha); ok {
		add(models.MetricDFAAlpha, bandGoodness(x, limits.HurstLower, limits.HurstUpper))
	}
	if x, ok := v.Get(models.MetricSlope); ok {
		add(models.MetricSlope, limitGoodness(math.Abs(x), limits.SlopeWarning, limits.SlopeCritical))
	}
	if x, ok := v.Get(models.MetricBias); ok {
		add(models.MetricBias, limitGoodness(math.Abs(x), limits.BiasWarning, limits.BiasCritical))
	}
	if x, ok := v.Get(models.MetricNoiseStd); ok {
		add(models.MetricNoiseStd, limitGoodness(x, limits.NoiseWarning, limits.NoiseCritical))
	}
	if x, ok := v.Get(models.MetricHysteresis); ok && limits.HysteresisCritical > 0 {
		add(models.MetricHysteresis, 1-x/limits.HysteresisCritical)
	}
	if anomalyErr.Available {
		add(models.MetricAnomalyError, AnomalyGoodness(anomalyErr.Value))
	}

	if total == 0 {
		return 0, models.StatusUnknown, breakdown
	}
	score := 100 * sum / total
	return score, Band(score), breakdown
}

// Fault is the score for a sensor fault.
func (a *Aggregator) Fault() (float64, models.Status) {
	return 0, models.StatusFault
}

// Band maps a score to a status.
func Band(score float64) models.Status {
	switch {
	case score >= NormalThreshold:
		return models.StatusNormal
	case score >= WarningThreshold:
		return models.StatusWarning
	default:
		return models.StatusCritical
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// AnomalyGoodness is 1/(1+e⁴) for e ≥ 0.
func AnomalyGoodness(e float64) float64 {
	if e <= 0 {
		return 1
	}
	if math.IsInf(e, 1) {
		return 0
	}
	e2 := e * e
	return 1 / (1 + e2*e2)
}

// The goodness curves return NaN for a NaN input; add drops NaN goodness so
// a degenerate value never scores as healthy.

func snrGoodness(db float64, l Limits) float64 {
	switch {
	case math.IsNaN(db):
		return math.NaN()
	case db <= l.SNRCritical:
		return 0
	case db < l.SNRWarning:
		return 0.7 * (db - l.SNRCritical) / (l.SNRWarning - l.SNRCritical)
	case db < l.SNRWarning+10:
		return 0.7 + 0.3*(db-l.SNRWarning)/10
	default:
		return 1
	}
}

func bandGoodness(x, lo, hi float64) float64 {
	var d float64
	switch {
	case math.IsNaN(x):
		return math.NaN()
	case x < lo:
		d = lo - x
	case x > hi:
		d = x - hi
	}
	return 1 - d/0.5
}

// limitGoodness judges a non-negative magnitude against warning and
// critical limits.
func limitGoodness(x, warn, crit float64) float64 {
	if crit <= warn {
		crit = warn * 2
	}
	switch {
	case x <= warn:
		return 1
	case x <= crit:
		return 1 - 0.6*(x-warn)/(crit-warn)
	default:
		return 0.4 * (1 - (x-crit)/crit)
	}
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
