package server

import (
	"fmt"
	"time"

	"github.com/kubilitics/sensordx/internal/analytics"
	"github.com/kubilitics/sensordx/internal/analytics/diagnosis"
	"github.com/kubilitics/sensordx/internal/analytics/scoring"
	"github.com/kubilitics/sensordx/internal/config"
	"github.com/kubilitics/sensordx/internal/models"
	"github.com/kubilitics/sensordx/pkg/types"
)

// EngineOptions maps the analytics section onto engine options.
func EngineOptions(cfg *config.Config) analytics.Options {
	a := cfg.Analytics
	opts := analytics.DefaultOptions()

	opts.Preprocess.MinSamples = a.MinSamples
	opts.Preprocess.FaultFraction = a.FaultFraction
	opts.Preprocess.MaxNaNFraction = a.MaxNaNFraction
	opts.Preprocess.MaxGapWidth = a.MaxGapWidth

	opts.Features.DFA.MinWindow = a.DFAMinWindow
	opts.Features.DFA.MaxWindowFraction = a.DFAMaxWindowFraction
	opts.Features.DFA.Scales = a.DFAScales
	opts.Features.SNR.SmoothingWindow = a.SNRSmoothingWindow
	opts.Features.Spectral.Window = a.SpectralWindow
	opts.Features.Lyapunov.Dimension = a.LyapunovDimension
	opts.Features.Lyapunov.Delay = a.LyapunovDelay
	opts.Features.Lyapunov.Horizon = a.LyapunovHorizon
	opts.Features.Lyapunov.MaxPoints = a.LyapunovMaxPoints
	opts.Features.Entropy.M = a.EntropyM
	opts.Features.Entropy.R = a.EntropyR
	return opts
}

// BuildEngine assembles the diagnostic engine, applying the per-type
// overrides of the sensors section to limits, weights, thresholds and
// profiles.
func BuildEngine(cfg *config.Config) (*analytics.Engine, error) {
	overrides := cfg.SensorTypeOverrides()

	limits := make(map[models.SensorType]scoring.Limits, len(overrides))
	weights := make(map[models.SensorType]scoring.Weights, len(overrides))
	thresholds := make(map[models.SensorType]diagnosis.Thresholds, len(overrides))
	var opts []analytics.EngineOption

	for t, ov := range overrides {
		l := ov.Limits
		if l.MinPoints == 0 && ov.MinSamples > 0 {
			l.MinPoints = ov.MinSamples
		}
		limits[t] = l
		if len(ov.Weights) > 0 {
			weights[t] = metricWeights(ov.Weights)
		}
		if len(ov.Thresholds) > 0 {
			thresholds[t] = diagnosis.Thresholds(ov.Thresholds)
		}
		if len(ov.Sentinels) > 0 || ov.Reference != nil {
			p := models.DefaultProfile(t)
			if len(ov.Sentinels) > 0 {
				p.Sentinels = append([]float64(nil), ov.Sentinels...)
			}
			if ov.Reference != nil {
				ref := *ov.Reference
				p.Reference = &ref
			}
			opts = append(opts, analytics.WithProfile(p))
		}
	}

	resolver, err := diagnosis.DefaultResolver(thresholds)
	if err != nil {
		return nil, fmt.Errorf("failed to build diagnosis tables: %w", err)
	}
	opts = append(opts,
		analytics.WithAggregator(scoring.NewAggregator(limits, weights)),
		analytics.WithResolver(resolver),
	)
	return analytics.NewEngine(EngineOptions(cfg), opts...)
}

// PipelineConfig maps the analytics section onto the live pipeline.
func PipelineConfig(cfg *config.Config) analytics.PipelineConfig {
	a := cfg.Analytics
	pc := analytics.DefaultPipelineConfig()
	pc.Workers = a.Workers
	pc.DiagnoseInterval = time.Duration(a.DiagnoseIntervalSeconds) * time.Second
	pc.JobTimeout = time.Duration(a.JobTimeoutSeconds) * time.Second
	pc.LiveWindow = a.LiveWindow
	pc.TrainHistory = a.TrainHistory
	if a.BaselineWindowSize > 0 {
		pc.Train.WindowSize = a.BaselineWindowSize
	}
	if a.BaselineComponents > 0 {
		pc.Train.Components = a.BaselineComponents
	}
	if a.BaselinePercentile > 0 {
		pc.Train.Percentile = a.BaselinePercentile
	}
	return pc
}

func metricWeights(in map[string]float64) scoring.Weights {
	out := make(scoring.Weights, len(in))
	for k, v := range in {
		out[models.MetricName(k)] = v
	}
	return out
}

// toOverrides converts API overrides into engine overrides.
func toOverrides(o *types.Overrides) analytics.Overrides {
	if o == nil {
		return analytics.Overrides{}
	}
	out := analytics.Overrides{
		Sentinels:  append([]float64(nil), o.Sentinels...),
		MinSamples: o.MinSamples,
		Reference:  o.Reference,
	}
	if len(o.Weights) > 0 {
		out.Weights = metricWeights(o.Weights)
	}
	if len(o.Thresholds) > 0 {
		out.Thresholds = diagnosis.Thresholds(o.Thresholds)
	}
	return out
}

// fromOverrides is the inverse of toOverrides; it returns nil when nothing
// is overridden.
func fromOverrides(o analytics.Overrides) *types.Overrides {
	if len(o.Weights) == 0 && len(o.Thresholds) == 0 && len(o.Sentinels) == 0 && o.MinSamples == 0 && o.Reference == nil {
		return nil
	}
	out := &types.Overrides{
		Sentinels:  o.Sentinels,
		MinSamples: o.MinSamples,
		Reference:  o.Reference,
	}
	if len(o.Weights) > 0 {
		out.Weights = make(map[string]float64, len(o.Weights))
		for k, v := range o.Weights {
			out.Weights[string(k)] = v
		}
	}
	if len(o.Thresholds) > 0 {
		out.Thresholds = map[string]float64(o.Thresholds)
	}
	return out
}

// validateOverrides rejects unknown metric and threshold names.
func validateOverrides(o *types.Overrides) error {
	if o == nil {
		return nil
	}
	known := make(map[models.MetricName]bool, len(models.AllMetrics))
	for _, m := range models.AllMetrics {
		known[m] = true
	}
	for k, v := range o.Weights {
		if !known[models.MetricName(k)] {
			return fmt.Errorf("unknown metric weight %q", k)
		}
		if v < 0 {
			return fmt.Errorf("weight %q must be non-negative", k)
		}
	}
	defaults := diagnosis.DefaultThresholds()
	for k := range o.Thresholds {
		if _, ok := defaults[k]; !ok {
			return fmt.Errorf("unknown threshold %q", k)
		}
	}
	if o.MinSamples < 0 {
		return fmt.Errorf("min_samples must be non-negative")
	}
	return nil
}
