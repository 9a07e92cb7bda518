package analytics

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kubilitics/sensordx/internal/analytics/anomaly"
	"github.com/kubilitics/sensordx/internal/analytics/diagnosis"
	"github.com/kubilitics/sensordx/internal/analytics/features"
	"github.com/kubilitics/sensordx/internal/analytics/preprocess"
	"github.com/kubilitics/sensordx/internal/analytics/scoring"
	"github.com/kubilitics/sensordx/internal/models"
)

// Package analytics is the diagnostic engine: it turns a raw sample
// sequence and a sensor type into a health score, a status, a diagnosis and
// the metric vector behind them.
//
// IMPORTANT: The Engine is a pure computation. It holds no mutable state,
// performs no I/O and keeps no history. The only shared input is the
// BaselineModel, which the caller passes in per call.
//
// Pipeline per call:
//   1. Preprocess: sentinel scan, minimum floor, gap filling
//   2. Extract: DFA, SNR, trend, spectral centroid, Lyapunov, kurtosis,
//      sample entropy and hysteresis, concurrently
//   3. Anomaly: reconstruction error against the baseline, if any
//   4. Aggregate: weighted goodness → score and status
//   5. Resolve: per-type rule table → diagnosis and recommendation
//   6. Project: remaining useful life from the trend
//
// Failure policy:
//   - SensorFault short-circuits to status Fault, no metrics
//   - Below the floor: status Unknown, every metric insufficient_data
//   - Any single metric failing only marks that metric unavailable
//   - Only context cancellation is returned as an error
//
// Integration Points:
//   - Pipeline: live scheduling, supersede, baseline registry
//   - REST API: one-shot diagnosis
//   - Config: engine options, per-type limits, weights and thresholds

// Options configures the engine.
type Options struct {
	Preprocess preprocess.Options `json:"preprocess" yaml:"preprocess"`
	Features   features.Config    `json:"features" yaml:"features"`
}

// DefaultOptions returns the production engine options.
func DefaultOptions() Options {
	return Options{
		Preprocess: preprocess.DefaultOptions(),
		Features:   features.DefaultConfig(),
	}
}

// Overrides are per-request adjustments on top of the engine options.
// Nil or zero fields keep the engine value.
type Overrides struct {
	DFA        *features.DFAConfig      `json:"dfa,omitempty"`
	SNR        *features.SNRConfig      `json:"snr,omitempty"`
	Spectral   *features.SpectralConfig `json:"spectral,omitempty"`
	Lyapunov   *features.LyapunovConfig `json:"lyapunov,omitempty"`
	Entropy    *features.EntropyConfig  `json:"entropy,omitempty"`
	Weights    scoring.Weights          `json:"weights,omitempty"`
	Thresholds diagnosis.Thresholds     `json:"thresholds,omitempty"`
	Sentinels  []float64                `json:"sentinels,omitempty"`
	MinSamples int                      `json:"min_samples,omitempty"`
	Reference  *float64                 `json:"reference,omitempty"`
}

// Request is one diagnosis input.
type Request struct {
	SensorType models.SensorType     `json:"sensor_type"`
	Samples    models.SampleSequence `json:"samples"`
	Overrides  Overrides             `json:"overrides"`
}

// Engine runs diagnoses. Safe for concurrent use.
type Engine struct {
	opts       Options
	aggregator *scoring.Aggregator
	resolver   *diagnosis.Resolver
	profiles   map[models.SensorType]models.SensorProfile
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithAggregator replaces the default health score aggregator.
func WithAggregator(a *scoring.Aggregator) EngineOption {
	return func(e *Engine) { e.aggregator = a }
}

// WithResolver replaces the default diagnosis resolver.
func WithResolver(r *diagnosis.Resolver) EngineOption {
	return func(e *Engine) { e.resolver = r }
}

// WithProfile replaces the built-in profile of one sensor type.
func WithProfile(p models.SensorProfile) EngineOption {
	return func(e *Engine) { e.profiles[p.Type] = p }
}

// NewEngine creates a diagnostic engine.
func NewEngine(opts Options, options ...EngineOption) (*Engine, error) {
	e := &Engine{
		opts:     opts,
		profiles: make(map[models.SensorType]models.SensorProfile),
	}
	for _, o := range options {
		o(e)
	}
	if e.aggregator == nil {
		e.aggregator = scoring.NewAggregator(nil, nil)
	}
	if e.resolver == nil {
		r, err := diagnosis.DefaultResolver(nil)
		if err != nil {
			return nil, fmt.Errorf("build diagnosis resolver: %w", err)
		}
		e.resolver = r
	}
	return e, nil
}

// Options returns the engine options.
func (e *Engine) Options() Options {
	return e.opts
}

// Profile returns the effective profile for t.
func (e *Engine) Profile(t models.SensorType) models.SensorProfile {
	if p, ok := e.profiles[t]; ok {
		return p
	}
	return models.DefaultProfile(t)
}

// Aggregator returns the engine's aggregator.
func (e *Engine) Aggregator() *scoring.Aggregator {
	return e.aggregator
}

// Diagnose runs the full pipeline over req. model may be nil, in which case
// the anomaly error is reported as baseline_unavailable. A model trained for
// a different sensor type is treated the same way.
//
// The only error returned is ctx's.
func (e *Engine) Diagnose(ctx context.Context, req Request, model anomaly.BaselineModel) (*models.DiagnosisResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	st := req.SensorType
	if st == "" {
		st = models.SensorGeneric
	}
	ov := req.Overrides
	profile := e.Profile(st)
	if len(ov.Sentinels) > 0 {
		profile.Sentinels = append([]float64(nil), ov.Sentinels...)
	}
	reference := profile.Reference
	if ov.Reference != nil {
		reference = ov.Reference
	}

	limits := e.aggregator.Limits(st)
	popts := e.opts.Preprocess
	if limits.MinPoints > 0 {
		popts.MinSamples = limits.MinPoints
	}
	if ov.MinSamples > 0 {
		popts.MinSamples = ov.MinSamples
	}

	cleaned, err := preprocess.New(popts).Run(req.Samples, profile)
	if err != nil {
		return e.shortCircuit(st, err), nil
	}

	cfg := e.featureConfig(ov)
	vector, trend, trendOK, err := e.extract(ctx, cleaned, req.Samples.SampleRate(), reference, cfg)
	if err != nil {
		return nil, err
	}

	anomalyErr := models.Unavailable(models.ReasonBaselineUnavailable)
	var baselineVersion string
	if model != nil && model.SensorType() == st {
		anomalyErr = models.MetricFrom(anomaly.Score(cleaned.Values, model))
		baselineVersion = model.Version()
	}
	vector[models.MetricAnomalyError] = anomalyErr

	agg := e.aggregator
	if len(ov.Weights) > 0 {
		agg = agg.WithWeights(st, ov.Weights)
	}
	score, status := agg.Score(vector, anomalyErr, st)
	res := e.resolver.ResolveWith(vector, anomalyErr, st, ov.Thresholds)

	result := &models.DiagnosisResult{
		SensorType:      st,
		HealthScore:     score,
		Status:          status,
		DiagnosisCode:   res.Code,
		Diagnosis:       res.Text,
		Recommendation:  res.Recommendation,
		Severity:        res.Severity,
		Metrics:         vector,
		BaselineVersion: baselineVersion,
		Preprocess:      cleaned.Report,
	}
	if trendOK {
		result.RemainingLife = features.RemainingLife(trend, len(cleaned.Values), limits.BiasCritical, req.Samples.Interval)
	}
	return result, nil
}

// shortCircuit builds the result for a sequence the preprocessor rejected.
func (e *Engine) shortCircuit(st models.SensorType, err error) *models.DiagnosisResult {
	reason := models.ReasonFor(err)
	vector := make(models.MetricVector, len(models.AllMetrics))
	for _, name := range models.AllMetrics {
		vector[name] = models.Unavailable(reason)
	}

	result := &models.DiagnosisResult{
		SensorType: st,
		Metrics:    vector,
		Outcome:    reason,
	}
	var res diagnosis.Resolution
	if errors.Is(err, models.ErrSensorFault) {
		result.HealthScore, result.Status = e.aggregator.Fault()
		res = e.resolver.Fault()
	} else {
		result.Status = models.StatusUnknown
		res = e.resolver.Insufficient()
	}
	result.DiagnosisCode = res.Code
	result.Diagnosis = res.Text
	result.Recommendation = res.Recommendation
	result.Severity = res.Severity
	return result
}

func (e *Engine) featureConfig(ov Overrides) features.Config {
	cfg := e.opts.Features
	if ov.DFA != nil {
		cfg.DFA = *ov.DFA
	}
	if ov.SNR != nil {
		cfg.SNR = *ov.SNR
	}
	if ov.Spectral != nil {
		cfg.Spectral = *ov.Spectral
	}
	if ov.Lyapunov != nil {
		cfg.Lyapunov = *ov.Lyapunov
	}
	if ov.Entropy != nil {
		cfg.Entropy = *ov.Entropy
	}
	return cfg
}

// extract runs every extractor concurrently. Each goroutine writes only its
// own slot, so no locking is needed until the vector is assembled.
func (e *Engine) extract(ctx context.Context, c *preprocess.Cleaned, sampleRate float64, reference *float64, cfg features.Config) (models.MetricVector, features.TrendResult, bool, error) {
	var (
		wg       sync.WaitGroup
		dfa      features.DFAResult
		dfaErr   error
		snr      features.SNRResult
		snrErr   error
		trend    features.TrendResult
		trendErr error

		centroid, lyap, kurt, sampen, hyst float64

		centroidErr, lyapErr, kurtErr, sampenErr, hystErr error
	)

	run := func(f func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f()
		}()
	}
	run(func() { dfa, dfaErr = features.DFA(c.Centered, cfg.DFA) })
	run(func() { snr, snrErr = features.SNR(c.Detrended, cfg.SNR) })
	run(func() { trend, trendErr = features.Trend(c.Values, reference) })
	run(func() { centroid, centroidErr = features.SpectralCentroid(c.Detrended, sampleRate, cfg.Spectral) })
	run(func() { lyap, lyapErr = features.Lyapunov(ctx, c.Values, cfg.Lyapunov) })
	run(func() { kurt, kurtErr = features.Kurtosis(c.Values) })
	run(func() { sampen, sampenErr = features.SampleEntropy(c.Values, cfg.Entropy) })
	run(func() { hyst, hystErr = features.Hysteresis(c.Values) })
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, features.TrendResult{}, false, err
	}

	v := make(models.MetricVector, len(models.AllMetrics))
	v[models.MetricDFAAlpha] = models.MetricFrom(dfa.Alpha, dfaErr)
	v[models.MetricDFAR2] = models.MetricFrom(dfa.RSquared, dfaErr)
	v[models.MetricSNR] = models.MetricFrom(snr.DB, snrErr)
	v[models.MetricNoiseStd] = models.MetricFrom(snr.NoiseStd, snrErr)
	v[models.MetricSlope] = models.MetricFrom(trend.Slope, trendErr)
	v[models.MetricBias] = models.MetricFrom(trend.Bias, trendErr)
	v[models.MetricSpectralCentroid] = models.MetricFrom(centroid, centroidErr)
	v[models.MetricLyapunov] = models.MetricFrom(lyap, lyapErr)
	v[models.MetricKurtosis] = models.MetricFrom(kurt, kurtErr)
	v[models.MetricSampleEntropy] = models.MetricFrom(sampen, sampenErr)
	v[models.MetricHysteresis] = models.MetricFrom(hyst, hystErr)
	trendOK := v[models.MetricSlope].Available && v[models.MetricBias].Available
	return v, trend, trendOK, nil
}
