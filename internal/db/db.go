package db

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the persistence interface for sensor definitions, trained
// baselines and diagnosis history.
type Store interface {
	SensorStore
	BaselineStore
	DiagnosisStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// ─── Sensor store ─────────────────────────────────────────────────────────────

// SensorRecord is a registered live sensor.
type SensorRecord struct {
	ID         string    `json:"id"`
	SensorType string    `json:"sensor_type"`
	IntervalMs int64     `json:"interval_ms"`
	Overrides  string    `json:"overrides"` // JSON blob
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SensorStore persists the sensor registry.
type SensorStore interface {
	// SaveSensor creates or replaces a sensor definition.
	SaveSensor(ctx context.Context, rec *SensorRecord) error

	// GetSensor returns ErrNotFound for unknown IDs.
	GetSensor(ctx context.Context, id string) (*SensorRecord, error)

	// ListSensors returns all sensors ordered by ID.
	ListSensors(ctx context.Context) ([]*SensorRecord, error)

	// DeleteSensor removes a sensor together with its baselines and
	// diagnosis history.
	DeleteSensor(ctx context.Context, id string) error
}

// ─── Baseline store ───────────────────────────────────────────────────────────

// BaselineRecord is one trained baseline model. Blob holds the encoded model.
type BaselineRecord struct {
	SensorID   string    `json:"sensor_id"`
	Version    string    `json:"version"`
	SensorType string    `json:"sensor_type"`
	Samples    int       `json:"samples"`
	Blob       []byte    `json:"-"`
	TrainedAt  time.Time `json:"trained_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// BaselineStore persists baseline models. Every trained version is kept;
// the newest one per sensor is the active baseline.
type BaselineStore interface {
	SaveBaseline(ctx context.Context, rec *BaselineRecord) error

	// LatestBaseline returns ErrNotFound when the sensor has no baseline.
	LatestBaseline(ctx context.Context, sensorID string) (*BaselineRecord, error)

	// LatestBaselines returns the newest baseline of every sensor.
	LatestBaselines(ctx context.Context) ([]*BaselineRecord, error)

	// ListBaselineVersions lists versions newest first, without blobs.
	ListBaselineVersions(ctx context.Context, sensorID string) ([]*BaselineRecord, error)
}

// ─── Diagnosis store ──────────────────────────────────────────────────────────

// DiagnosisRecord is one completed diagnosis.
type DiagnosisRecord struct {
	ID            string    `json:"id"`
	SensorID      string    `json:"sensor_id"`
	SensorType    string    `json:"sensor_type"`
	Source        string    `json:"source"`
	Status        string    `json:"status"`
	HealthScore   float64   `json:"health_score"`
	DiagnosisCode string    `json:"diagnosis_code"`
	Result        string    `json:"result"` // JSON blob
	DurationMs    int64     `json:"duration_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

// DiagnosisStore persists diagnosis history.
type DiagnosisStore interface {
	AppendDiagnosis(ctx context.Context, rec *DiagnosisRecord) error

	// ListDiagnoses returns the newest diagnoses of a sensor, newest first.
	ListDiagnoses(ctx context.Context, sensorID string, limit int) ([]*DiagnosisRecord, error)

	// PruneDiagnoses deletes diagnoses older than the cutoff and reports how
	// many rows were removed.
	PruneDiagnoses(ctx context.Context, before time.Time) (int64, error)
}
