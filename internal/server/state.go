package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kubilitics/sensordx/internal/analytics"
	"github.com/kubilitics/sensordx/internal/analytics/anomaly"
	"github.com/kubilitics/sensordx/internal/audit"
	"github.com/kubilitics/sensordx/internal/db"
	"github.com/kubilitics/sensordx/internal/models"
)

// ─── Restore ──────────────────────────────────────────────────────────────────

// restore re-registers persisted sensors and installs their newest
// baselines. Unreadable rows are logged and skipped.
func (s *Server) restore(ctx context.Context) error {
	records, err := s.store.ListSensors(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sensors: %w", err)
	}
	for _, rec := range records {
		sensor, err := sensorFromRecord(rec)
		if err != nil {
			s.logger.Warn("skipping persisted sensor", zap.String("sensor_id", rec.ID), zap.Error(err))
			continue
		}
		if _, err := s.pipeline.RegisterSensor(sensor); err != nil {
			s.logger.Warn("skipping persisted sensor", zap.String("sensor_id", rec.ID), zap.Error(err))
		}
	}

	baselines, err := s.store.LatestBaselines(ctx)
	if err != nil {
		return fmt.Errorf("failed to load baselines: %w", err)
	}
	installed := 0
	for _, rec := range baselines {
		model, err := anomaly.Decode(rec.Blob)
		if err != nil {
			s.logger.Warn("skipping unreadable baseline",
				zap.String("sensor_id", rec.SensorID),
				zap.String("version", rec.Version),
				zap.Error(err))
			continue
		}
		if err := s.pipeline.InstallBaseline(rec.SensorID, model); err != nil {
			s.logger.Warn("skipping baseline", zap.String("sensor_id", rec.SensorID), zap.Error(err))
			continue
		}
		installed++
	}

	s.logger.Info("state restored",
		zap.Int("sensors", len(s.pipeline.Sensors())),
		zap.Int("baselines", installed))
	return nil
}

func sensorFromRecord(rec *db.SensorRecord) (analytics.Sensor, error) {
	var ov analytics.Overrides
	if rec.Overrides != "" {
		if err := json.Unmarshal([]byte(rec.Overrides), &ov); err != nil {
			return analytics.Sensor{}, fmt.Errorf("invalid overrides: %w", err)
		}
	}
	return analytics.Sensor{
		ID:        rec.ID,
		Type:      models.ParseSensorType(rec.SensorType),
		Interval:  time.Duration(rec.IntervalMs) * time.Millisecond,
		Overrides: ov,
		CreatedAt: rec.CreatedAt,
	}, nil
}

func sensorRecord(sensor analytics.Sensor) (*db.SensorRecord, error) {
	ov, err := json.Marshal(sensor.Overrides)
	if err != nil {
		return nil, fmt.Errorf("failed to encode overrides: %w", err)
	}
	return &db.SensorRecord{
		ID:         sensor.ID,
		SensorType: string(sensor.Type),
		IntervalMs: sensor.Interval.Milliseconds(),
		Overrides:  string(ov),
		CreatedAt:  sensor.CreatedAt,
	}, nil
}

// ─── Pipeline sinks ───────────────────────────────────────────────────────────

// persistDiagnosis appends diagnoses of registered sensors to the history.
func (s *Server) persistDiagnosis(ctx context.Context, ev analytics.DiagnosisEvent) {
	if ev.SensorID == "" || ev.Result == nil {
		return
	}
	if _, ok := s.pipeline.Sensor(ev.SensorID); !ok {
		return
	}
	body, err := json.Marshal(ev.Result)
	if err != nil {
		s.logger.Warn("failed to encode diagnosis", zap.String("diagnosis_id", ev.ID), zap.Error(err))
		return
	}
	rec := &db.DiagnosisRecord{
		ID:            ev.ID,
		SensorID:      ev.SensorID,
		SensorType:    string(ev.Result.SensorType),
		Source:        ev.Source,
		Status:        string(ev.Result.Status),
		HealthScore:   ev.Result.HealthScore,
		DiagnosisCode: ev.Result.DiagnosisCode,
		Result:        string(body),
		DurationMs:    ev.Duration.Milliseconds(),
		CreatedAt:     ev.At,
	}
	if err := s.store.AppendDiagnosis(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Warn("failed to persist diagnosis",
			zap.String("diagnosis_id", ev.ID),
			zap.String("sensor_id", ev.SensorID),
			zap.Error(err))
	}
}

func (s *Server) auditDiagnosis(ctx context.Context, ev analytics.DiagnosisEvent) {
	if s.auditLog == nil || ev.Result == nil {
		return
	}
	if err := s.auditLog.LogDiagnosis(ctx, ev.ID, ev.SensorID, ev.Result, ev.Duration); err != nil {
		s.logger.Warn("failed to audit diagnosis", zap.String("diagnosis_id", ev.ID), zap.Error(err))
	}
}

// publishDiagnosis forwards results to the broker once the publisher is up.
func (s *Server) publishDiagnosis(ctx context.Context, ev analytics.DiagnosisEvent) {
	s.mu.RLock()
	publisher := s.publisher
	s.mu.RUnlock()
	if publisher == nil {
		return
	}
	publisher.Sink()(ctx, ev)
}

// persistBaseline stores a freshly trained baseline. An error here keeps the
// previous baseline installed.
func (s *Server) persistBaseline(ctx context.Context, sensorID string, model anomaly.BaselineModel) error {
	blob, err := anomaly.Encode(model)
	if err != nil {
		return err
	}
	info := anomaly.Describe(model)
	rec := &db.BaselineRecord{
		SensorID:   sensorID,
		Version:    info.Version,
		SensorType: string(info.SensorType),
		Samples:    info.Samples,
		Blob:       blob,
		TrainedAt:  info.TrainedAt,
	}
	if err := s.store.SaveBaseline(ctx, rec); err != nil {
		return err
	}

	previous := ""
	if prev := s.pipeline.Baseline(sensorID); prev != nil {
		previous = prev.Version()
	}
	s.logAuditf(func(l audit.Logger) error {
		return l.LogBaselineTrained(ctx, sensorID, string(info.SensorType), info.Version, info.Samples)
	})
	s.logAuditf(func(l audit.Logger) error {
		return l.LogBaselineSwapped(ctx, sensorID, info.Version, previous)
	})
	return nil
}

// ─── Audit helpers ────────────────────────────────────────────────────────────

func (s *Server) logAudit(event *audit.Event) {
	s.logAuditf(func(l audit.Logger) error {
		return l.Log(context.Background(), event)
	})
}

func (s *Server) logAuditf(fn func(audit.Logger) error) {
	if s.auditLog == nil {
		return
	}
	if err := fn(s.auditLog); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("failed to write audit event", zap.Error(err))
	}
}

// ─── Broker registrations ─────────────────────────────────────────────────────

// persistentIngestor persists and audits sensors registered from the broker
// so they survive a restart like API registrations do.
type persistentIngestor struct {
	*analytics.Pipeline
	s *Server
}

func (pi persistentIngestor) RegisterSensor(sensor analytics.Sensor) (analytics.Sensor, error) {
	if err := analytics.ValidateSensorID(sensor.ID); err != nil {
		return analytics.Sensor{}, err
	}
	sensor.Type = models.ParseSensorType(string(sensor.Type))
	if sensor.CreatedAt.IsZero() {
		sensor.CreatedAt = time.Now().UTC()
	}
	rec, err := sensorRecord(sensor)
	if err != nil {
		return analytics.Sensor{}, err
	}
	ctx := context.Background()
	if err := pi.s.store.SaveSensor(ctx, rec); err != nil {
		return analytics.Sensor{}, fmt.Errorf("failed to persist sensor %s: %w", sensor.ID, err)
	}
	registered, err := pi.Pipeline.RegisterSensor(sensor)
	if err != nil {
		return analytics.Sensor{}, err
	}
	pi.s.logAuditf(func(l audit.Logger) error {
		return l.LogSensorRegistered(ctx, registered.ID, string(registered.Type))
	})
	return registered, nil
}
