package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/sensordx/internal/analytics/anomaly"
	"github.com/kubilitics/sensordx/internal/analytics/timeseries"
	"github.com/kubilitics/sensordx/internal/models"
)

func toPoints(values []float64) []timeseries.Point {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]timeseries.Point, len(values))
	for i, v := range values {
		out[i] = timeseries.Point{Time: start.Add(time.Duration(i) * time.Second), Value: v}
	}
	return out
}

func newPipeline(t *testing.T, cfg PipelineConfig, opts ...PipelineOption) *Pipeline {
	t.Helper()
	p, err := NewPipeline(cfg, newEngine(t), timeseries.NewTiered(timeseries.NewHotStore(5000), nil), opts...)
	require.NoError(t, err)
	t.Cleanup(p.Stop)
	return p
}

func registerPH(t *testing.T, p *Pipeline, id string) {
	t.Helper()
	_, err := p.RegisterSensor(Sensor{ID: id, Type: models.SensorPH, Interval: time.Second})
	require.NoError(t, err)
}

func TestPipeline_RegisterSensor(t *testing.T) {
	p := newPipeline(t, PipelineConfig{})

	for _, id := range []string{"", "a/b", "-lead", "has space"} {
		_, err := p.RegisterSensor(Sensor{ID: id, Type: models.SensorPH})
		assert.True(t, errors.Is(err, ErrInvalidSensorID), id)
	}

	s, err := p.RegisterSensor(Sensor{ID: "tank-1.ph", Type: "oxygen"})
	require.NoError(t, err)
	assert.Equal(t, models.SensorDO, s.Type)
	assert.False(t, s.CreatedAt.IsZero())

	got, ok := p.Sensor("tank-1.ph")
	require.True(t, ok)
	assert.Equal(t, models.SensorDO, got.Type)
	assert.Len(t, p.Sensors(), 1)
}

func TestPipeline_IngestUnknownSensor(t *testing.T) {
	p := newPipeline(t, PipelineConfig{})
	err := p.Ingest(context.Background(), "nope", toPoints([]float64{1}), SourceAPI)
	assert.True(t, errors.Is(err, ErrUnknownSensor))

	_, err = p.DiagnoseLive(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrUnknownSensor))
}

func TestPipeline_DiagnoseLive(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, PipelineConfig{LiveWindow: 500})
	registerPH(t, p, "ph-1")

	_, err := p.DiagnoseLive(ctx, "ph-1")
	assert.True(t, errors.Is(err, timeseries.ErrNoData))

	events, unsubscribe := p.Subscribe()
	defer unsubscribe()

	require.NoError(t, p.Ingest(ctx, "ph-1", toPoints(smoothPH(800, 3)), SourceAPI))
	ev, err := p.DiagnoseLive(ctx, "ph-1")
	require.NoError(t, err)

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, SourceLive, ev.Source)
	assert.Equal(t, models.StatusNormal, ev.Result.Status)
	assert.Equal(t, 500, ev.Result.Preprocess.InputLength)

	select {
	case got := <-events:
		assert.Equal(t, ev.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the diagnosis")
	}

	last, ok := p.LastResult("ph-1")
	require.True(t, ok)
	assert.Equal(t, ev.ID, last.ID)
}

func TestPipeline_DiagnoseOneShot(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, PipelineConfig{})

	ev, err := p.Diagnose(ctx, "", request(models.SensorPH, smoothPH(500, 4)), SourceAPI)
	require.NoError(t, err)
	assert.Empty(t, ev.SensorID)
	assert.Empty(t, ev.Result.BaselineVersion)

	registerPH(t, p, "ph-2")
	ev, err = p.Diagnose(ctx, "ph-2", Request{Samples: models.SampleSequence{Values: smoothPH(500, 4)}}, SourceAPI)
	require.NoError(t, err)
	assert.Equal(t, models.SensorPH, ev.Result.SensorType)
}

func TestPipeline_TrainBaseline(t *testing.T) {
	ctx := context.Background()
	var persisted []string
	p := newPipeline(t, PipelineConfig{}, WithBaselineSink(func(_ context.Context, id string, m anomaly.BaselineModel) error {
		persisted = append(persisted, id+"@"+m.Version())
		return nil
	}))
	registerPH(t, p, "ph-3")

	_, err := p.TrainBaseline(ctx, "ph-3", nil)
	assert.Error(t, err, "no stored history yet")

	require.NoError(t, p.Ingest(ctx, "ph-3", toPoints(smoothPH(1500, 5)), SourceAPI))
	info, err := p.TrainBaseline(ctx, "ph-3", nil)
	require.NoError(t, err)
	assert.Equal(t, models.SensorPH, info.SensorType)
	require.Len(t, persisted, 1)
	assert.Equal(t, "ph-3@"+info.Version, persisted[0])

	ev, err := p.DiagnoseLive(ctx, "ph-3")
	require.NoError(t, err)
	assert.Equal(t, info.Version, ev.Result.BaselineVersion)
	assert.True(t, ev.Result.Metrics[models.MetricAnomalyError].Available)
}

func TestPipeline_BaselineSinkErrorAbortsSwap(t *testing.T) {
	p := newPipeline(t, PipelineConfig{}, WithBaselineSink(func(context.Context, string, anomaly.BaselineModel) error {
		return errors.New("disk full")
	}))
	registerPH(t, p, "ph-4")

	_, err := p.TrainBaseline(context.Background(), "ph-4", smoothPH(1000, 6))
	require.Error(t, err)
	assert.Nil(t, p.Baseline("ph-4"))
}

func TestPipeline_InstallBaselineTypeMismatch(t *testing.T) {
	p := newPipeline(t, PipelineConfig{})
	registerPH(t, p, "ph-5")

	model, err := anomaly.Train(smoothPH(1000, 7), models.SensorFlow, anomaly.DefaultTrainOptions())
	require.NoError(t, err)
	assert.Error(t, p.InstallBaseline("ph-5", model))

	// Re-registering with another type drops the installed baseline.
	model, err = anomaly.Train(smoothPH(1000, 7), models.SensorPH, anomaly.DefaultTrainOptions())
	require.NoError(t, err)
	require.NoError(t, p.InstallBaseline("ph-5", model))
	_, err = p.RegisterSensor(Sensor{ID: "ph-5", Type: models.SensorFlow})
	require.NoError(t, err)
	assert.Nil(t, p.Baseline("ph-5"))
}

func TestPipeline_Supersede(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, PipelineConfig{Workers: 1})
	registerPH(t, p, "ph-6")

	// Hold the only worker slot so the first job queues.
	p.sem <- struct{}{}

	firstErr := make(chan error, 1)
	go func() {
		_, err := p.Diagnose(ctx, "ph-6", request(models.SensorPH, smoothPH(500, 8)), SourceAPI)
		firstErr <- err
	}()
	require.Eventually(t, func() bool {
		p.mu.RLock()
		defer p.mu.RUnlock()
		_, ok := p.inflight["ph-6"]
		return ok
	}, time.Second, 5*time.Millisecond)

	secondDone := make(chan error, 1)
	go func() {
		_, err := p.Diagnose(ctx, "ph-6", request(models.SensorPH, smoothPH(500, 9)), SourceAPI)
		secondDone <- err
	}()

	select {
	case err := <-firstErr:
		assert.True(t, errors.Is(err, ErrSuperseded), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("first job was not superseded")
	}

	<-p.sem
	select {
	case err := <-secondDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("second job did not finish")
	}
}

func TestPipeline_SlowSubscriberDrops(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, PipelineConfig{SubscriberBuffer: 1})
	events, unsubscribe := p.Subscribe()

	for i := 0; i < 3; i++ {
		_, err := p.Diagnose(ctx, "", request(models.SensorPH, smoothPH(300, int64(i))), SourceAPI)
		require.NoError(t, err)
	}
	assert.Len(t, events, 1)

	unsubscribe()
	unsubscribe()
	_, open := <-events
	assert.True(t, open, "buffered event is still readable")
	_, open = <-events
	assert.False(t, open)
}

func TestPipeline_RemoveSensor(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, PipelineConfig{})
	registerPH(t, p, "ph-7")
	require.NoError(t, p.Ingest(ctx, "ph-7", toPoints(smoothPH(300, 10)), SourceAPI))
	_, err := p.DiagnoseLive(ctx, "ph-7")
	require.NoError(t, err)

	require.NoError(t, p.RemoveSensor(ctx, "ph-7"))
	_, ok := p.LastResult("ph-7")
	assert.False(t, ok)
	assert.Equal(t, 0, p.Store().Hot().Len("ph-7"))
	assert.True(t, errors.Is(p.RemoveSensor(ctx, "ph-7"), ErrUnknownSensor))
}

func TestPipeline_BackgroundLoop(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, PipelineConfig{DiagnoseInterval: 10 * time.Millisecond})
	registerPH(t, p, "ph-8")
	registerPH(t, p, "idle")
	require.NoError(t, p.Ingest(ctx, "ph-8", toPoints(smoothPH(300, 11)), SourceAPI))

	p.Start(ctx)
	require.Eventually(t, func() bool {
		_, ok := p.LastResult("ph-8")
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	p.Stop()
	_, ok := p.LastResult("idle")
	assert.False(t, ok)
}

func TestPipeline_StopWithoutStart(t *testing.T) {
	p := newPipeline(t, PipelineConfig{})
	done := make(chan struct{})
	go func() {
		p.Stop()
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked")
	}
}

func TestPipeline_ResultSink(t *testing.T) {
	got := make(chan DiagnosisEvent, 1)
	p := newPipeline(t, PipelineConfig{}, WithResultSink(func(_ context.Context, ev DiagnosisEvent) {
		got <- ev
	}))
	ev, err := p.Diagnose(context.Background(), "", request(models.SensorFlow, smoothPH(300, 12)), SourceAMQP)
	require.NoError(t, err)
	assert.Equal(t, ev.ID, (<-got).ID)
}
