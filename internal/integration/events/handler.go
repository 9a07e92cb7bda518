package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kubilitics/sensordx/internal/analytics"
	"github.com/kubilitics/sensordx/internal/analytics/timeseries"
	"github.com/kubilitics/sensordx/internal/metrics"
	"github.com/kubilitics/sensordx/internal/models"
	"github.com/kubilitics/sensordx/pkg/types"
)

// Package events connects the live pipeline to a RabbitMQ broker.
//
// Responsibilities:
//   - Consume SampleBatch messages and ingest them into the pipeline
//   - Register unknown sensors that announce their type
//   - Optionally diagnose the live window after every batch
//   - Publish completed diagnoses to a topic exchange
//
// Integration Points:
//   - analytics.Pipeline: Ingest, RegisterSensor, DiagnoseLive
//   - analytics.ResultSink: the publisher is installed as a sink
//   - internal/metrics: delivery and publish counters

// ErrRejected marks deliveries that can never succeed. They are dropped
// instead of requeued.
var ErrRejected = errors.New("delivery rejected")

// Ingestor is the pipeline surface driven by the consumer.
type Ingestor interface {
	Sensor(id string) (analytics.Sensor, bool)
	RegisterSensor(s analytics.Sensor) (analytics.Sensor, error)
	Ingest(ctx context.Context, sensorID string, points []timeseries.Point, source string) error
	DiagnoseLive(ctx context.Context, sensorID string) (analytics.DiagnosisEvent, error)
}

// BatchHandler turns SampleBatch messages into pipeline calls.
type BatchHandler struct {
	pipeline         Ingestor
	diagnoseOnIngest bool
	logger           *zap.Logger
	now              func() time.Time
}

// NewBatchHandler creates a handler. With diagnoseOnIngest every batch
// triggers a live diagnosis; otherwise only batches that ask for one.
func NewBatchHandler(pipeline Ingestor, diagnoseOnIngest bool, logger *zap.Logger) *BatchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchHandler{
		pipeline:         pipeline,
		diagnoseOnIngest: diagnoseOnIngest,
		logger:           logger.Named("amqp"),
		now:              time.Now,
	}
}

// Handle processes one message body and returns the number of samples
// ingested. Errors wrapping ErrRejected are permanent.
func (h *BatchHandler) Handle(ctx context.Context, body []byte) (int, error) {
	var batch types.SampleBatch
	if err := json.Unmarshal(body, &batch); err != nil {
		return 0, fmt.Errorf("%w: malformed batch: %v", ErrRejected, err)
	}
	if err := analytics.ValidateSensorID(batch.SensorID); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	sensor, err := h.sensorFor(batch)
	if err != nil {
		return 0, err
	}

	points, err := h.points(batch, sensor)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	if err := h.pipeline.Ingest(ctx, sensor.ID, points, analytics.SourceAMQP); err != nil {
		if errors.Is(err, analytics.ErrUnknownSensor) {
			return 0, fmt.Errorf("%w: %v", ErrRejected, err)
		}
		return 0, fmt.Errorf("failed to ingest batch for %s: %w", sensor.ID, err)
	}

	if batch.Diagnose || h.diagnoseOnIngest {
		h.diagnose(ctx, sensor.ID)
	}
	return len(points), nil
}

func (h *BatchHandler) sensorFor(batch types.SampleBatch) (analytics.Sensor, error) {
	if s, ok := h.pipeline.Sensor(batch.SensorID); ok {
		return s, nil
	}
	if batch.SensorType == "" {
		return analytics.Sensor{}, fmt.Errorf("%w: %v: %s", ErrRejected, analytics.ErrUnknownSensor, batch.SensorID)
	}
	s, err := h.pipeline.RegisterSensor(analytics.Sensor{
		ID:       batch.SensorID,
		Type:     models.ParseSensorType(batch.SensorType),
		Interval: time.Duration(batch.IntervalMs) * time.Millisecond,
	})
	if err != nil {
		return analytics.Sensor{}, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	h.logger.Info("sensor registered from batch",
		zap.String("sensor_id", s.ID),
		zap.String("sensor_type", string(s.Type)),
	)
	return s, nil
}

// points places untimed samples so that the last one lands at receipt time.
func (h *BatchHandler) points(batch types.SampleBatch, sensor analytics.Sensor) ([]timeseries.Point, error) {
	values, gaps := types.Values(batch.Samples)
	if gaps > 0 {
		metrics.SampleGaps.WithLabelValues(analytics.SourceAMQP).Add(float64(gaps))
		h.logger.Debug("batch carries null samples",
			zap.String("sensor_id", sensor.ID),
			zap.Int("gaps", gaps),
			zap.Int("samples", len(values)),
		)
	}
	interval := time.Duration(batch.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = sensor.Interval
	}
	if interval <= 0 {
		interval = time.Second
	}
	var start time.Time
	if batch.Start != nil {
		start = *batch.Start
	} else if len(values) > 0 {
		start = h.now().Add(-time.Duration(len(values)-1) * interval)
	}
	return timeseries.FromSamples(values, batch.Timestamps, start, interval)
}

func (h *BatchHandler) diagnose(ctx context.Context, sensorID string) {
	ev, err := h.pipeline.DiagnoseLive(ctx, sensorID)
	switch {
	case err == nil:
		h.logger.Debug("batch diagnosed",
			zap.String("sensor_id", sensorID),
			zap.String("diagnosis_id", ev.ID),
			zap.String("status", string(ev.Result.Status)),
		)
	case errors.Is(err, analytics.ErrSuperseded), errors.Is(err, timeseries.ErrNoData):
		h.logger.Debug("batch diagnosis skipped", zap.String("sensor_id", sensorID), zap.Error(err))
	default:
		h.logger.Warn("batch diagnosis failed", zap.String("sensor_id", sensorID), zap.Error(err))
	}
}
