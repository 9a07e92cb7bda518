package types

import (
	"math"
	"time"
)

// Package types defines the public REST, WebSocket and AMQP contracts of
// sensordx.
//
// Sample arrays are []*float64 so that JSON null marks a gap.

// Request types

// Overrides adjusts a single diagnosis or a registered sensor.
type Overrides struct {
	Weights    map[string]float64 `json:"weights,omitempty"`
	Thresholds map[string]float64 `json:"thresholds,omitempty"`
	Sentinels  []float64          `json:"sentinels,omitempty"`
	MinSamples int                `json:"min_samples,omitempty"`
	Reference  *float64           `json:"reference,omitempty"`
}

// DiagnoseRequest runs a one-shot diagnosis of posted samples.
type DiagnoseRequest struct {
	SensorID     string      `json:"sensor_id,omitempty"`   // uses the sensor's type and baseline
	SensorType   string      `json:"sensor_type,omitempty"` // required without sensor_id
	Samples      []*float64  `json:"samples"`
	Timestamps   []time.Time `json:"timestamps,omitempty"`
	IntervalMs   int64       `json:"interval_ms,omitempty"`
	RawCurrentMA *float64    `json:"raw_current_ma,omitempty"`
	Overrides    *Overrides  `json:"overrides,omitempty"`
}

// RegisterSensorRequest creates or replaces a live sensor.
type RegisterSensorRequest struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	IntervalMs int64      `json:"interval_ms,omitempty"`
	Overrides  *Overrides `json:"overrides,omitempty"`
}

// IngestRequest appends samples to a live sensor. Without timestamps the
// samples are spaced by the sensor interval starting at Start (default now).
type IngestRequest struct {
	Samples    []*float64  `json:"samples"`
	Timestamps []time.Time `json:"timestamps,omitempty"`
	Start      *time.Time  `json:"start,omitempty"`
}

// TrainBaselineRequest trains a baseline. An empty history trains from the
// stored samples of the sensor.
type TrainBaselineRequest struct {
	History []*float64 `json:"history,omitempty"`
}

// SampleBatch is the AMQP ingest message.
type SampleBatch struct {
	SensorID   string      `json:"sensor_id"`
	SensorType string      `json:"sensor_type,omitempty"` // registers unknown sensors
	Samples    []*float64  `json:"samples"`
	Timestamps []time.Time `json:"timestamps,omitempty"`
	Start      *time.Time  `json:"start,omitempty"`
	IntervalMs int64       `json:"interval_ms,omitempty"`
	Diagnose   bool        `json:"diagnose,omitempty"`
}

// Response types

// Diagnosis is one completed diagnosis. It is also the payload of the
// WebSocket stream and the AMQP result messages.
type Diagnosis struct {
	ID         string      `json:"id"`
	SensorID   string      `json:"sensor_id,omitempty"`
	Source     string      `json:"source"`
	At         time.Time   `json:"at"`
	DurationMs int64       `json:"duration_ms"`
	Result     interface{} `json:"result"`
}

// Sensor describes a registered sensor.
type Sensor struct {
	ID              string     `json:"id"`
	Type            string     `json:"type"`
	IntervalMs      int64      `json:"interval_ms"`
	Overrides       *Overrides `json:"overrides,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	BufferedSamples int        `json:"buffered_samples"`
	BaselineVersion string     `json:"baseline_version,omitempty"`
	LastDiagnosis   *Diagnosis `json:"last_diagnosis,omitempty"`
}

// SensorList is the sensor listing.
type SensorList struct {
	Sensors []Sensor `json:"sensors"`
	Total   int      `json:"total"`
}

// IngestResponse reports accepted samples.
type IngestResponse struct {
	SensorID string `json:"sensor_id"`
	Accepted int    `json:"accepted"`
	Gaps     int    `json:"gaps"`
}

// DiagnosisList is persisted diagnosis history, newest first.
type DiagnosisList struct {
	SensorID  string      `json:"sensor_id"`
	Diagnoses []Diagnosis `json:"diagnoses"`
	Total     int         `json:"total"`
}

// HealthResponse is the liveness check body.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse is the readiness check body.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// InfoResponse describes the service.
type InfoResponse struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	SensorTypes []string `json:"sensor_types"`
	Metrics     []string `json:"metrics"`
	Workers     int      `json:"workers"`
	LiveWindow  int      `json:"live_window"`
	Archive     bool     `json:"archive"`
	Messaging   bool     `json:"messaging"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Values converts nullable samples to floats, mapping null to NaN, and
// reports how many gaps there were.
func Values(samples []*float64) ([]float64, int) {
	out := make([]float64, len(samples))
	gaps := 0
	for i, s := range samples {
		if s == nil {
			out[i] = math.NaN()
			gaps++
			continue
		}
		out[i] = *s
	}
	return out, gaps
}
