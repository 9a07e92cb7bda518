package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/sensordx/internal/analytics"
	"github.com/kubilitics/sensordx/internal/config"
	"github.com/kubilitics/sensordx/internal/models"
	"github.com/kubilitics/sensordx/pkg/types"
)

func TestBuildEngine_SensorOverrides(t *testing.T) {
	cfg := config.DefaultConfig()
	ref := 7.0
	cfg.Sensors["ph"] = config.SensorOverrides{
		Weights:    map[string]float64{"snr_db": 5},
		MinSamples: 77,
		Sentinels:  []float64{-1},
		Reference:  &ref,
	}

	engine, err := BuildEngine(cfg)
	require.NoError(t, err)

	assert.Equal(t, 5.0, engine.Aggregator().Weights(models.SensorPH)[models.MetricSNR])
	assert.Equal(t, 77, engine.Aggregator().Limits(models.SensorPH).MinPoints)

	profile := engine.Profile(models.SensorPH)
	assert.Equal(t, []float64{-1}, profile.Sentinels)
	require.NotNil(t, profile.Reference)
	assert.Equal(t, 7.0, *profile.Reference)

	// Other types keep their defaults.
	assert.Equal(t, models.DefaultProfile(models.SensorFlow).Sentinels, engine.Profile(models.SensorFlow).Sentinels)
}

func TestEngineAndPipelineOptions(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Analytics.MinSamples = 64
	cfg.Analytics.EntropyM = 3
	cfg.Analytics.Workers = 2
	cfg.Analytics.DiagnoseIntervalSeconds = 5
	cfg.Analytics.BaselineWindowSize = 16

	opts := EngineOptions(cfg)
	assert.Equal(t, 64, opts.Preprocess.MinSamples)
	assert.Equal(t, 3, opts.Features.Entropy.M)

	pc := PipelineConfig(cfg)
	assert.Equal(t, 2, pc.Workers)
	assert.Equal(t, 5*time.Second, pc.DiagnoseInterval)
	assert.Equal(t, 16, pc.Train.WindowSize)
}

func TestOverridesConversion(t *testing.T) {
	assert.Nil(t, fromOverrides(analytics.Overrides{}))
	assert.Equal(t, analytics.Overrides{}, toOverrides(nil))

	ref := 4.0
	in := &types.Overrides{
		Weights:    map[string]float64{"snr_db": 2},
		Thresholds: map[string]float64{"kurtosis_limit": 6},
		Sentinels:  []float64{-999},
		MinSamples: 20,
		Reference:  &ref,
	}
	out := fromOverrides(toOverrides(in))
	require.NotNil(t, out)
	assert.Equal(t, in.Weights, out.Weights)
	assert.Equal(t, in.Thresholds, out.Thresholds)
	assert.Equal(t, in.Sentinels, out.Sentinels)
	assert.Equal(t, 20, out.MinSamples)
	assert.Equal(t, 4.0, *out.Reference)
}

func TestValidateOverrides(t *testing.T) {
	assert.NoError(t, validateOverrides(nil))
	assert.NoError(t, validateOverrides(&types.Overrides{Weights: map[string]float64{"dfa_alpha": 1}}))

	bad := []*types.Overrides{
		{Weights: map[string]float64{"nope": 1}},
		{Weights: map[string]float64{"snr_db": -1}},
		{Thresholds: map[string]float64{"nope": 1}},
		{MinSamples: -1},
	}
	for _, o := range bad {
		assert.Error(t, validateOverrides(o), "%+v", o)
	}
}
