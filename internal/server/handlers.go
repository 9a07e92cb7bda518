package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kubilitics/sensordx/internal/analytics"
	"github.com/kubilitics/sensordx/internal/analytics/anomaly"
	"github.com/kubilitics/sensordx/internal/analytics/timeseries"
	"github.com/kubilitics/sensordx/internal/audit"
	"github.com/kubilitics/sensordx/internal/db"
	"github.com/kubilitics/sensordx/internal/metrics"
	"github.com/kubilitics/sensordx/internal/models"
	"github.com/kubilitics/sensordx/pkg/types"
)

const (
	// maxBodyBytes bounds every request body.
	maxBodyBytes = 8 << 20

	defaultDiagnosisLimit = 50
	maxDiagnosisLimit     = 1000
)

// errBadRequest marks malformed or semantically invalid requests.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// ─── Health checks ────────────────────────────────────────────────────────────

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
	})
}

// handleReady reports whether the service can take traffic. The database
// must answer; a disconnected broker is reported but does not fail the check.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	status := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		checks["database"] = err.Error()
		status = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if s.IsRunning() {
		checks["pipeline"] = "ok"
	} else {
		checks["pipeline"] = "stopped"
		status = http.StatusServiceUnavailable
	}

	if s.consumer != nil {
		if s.consumer.Connected() {
			checks["messaging"] = "ok"
		} else {
			checks["messaging"] = "disconnected"
		}
	}

	resp := types.ReadyResponse{Status: "ready", Checks: checks}
	if status != http.StatusOK {
		resp.Status = "not_ready"
	}
	writeJSON(w, status, resp)
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	sensorTypes := make([]string, 0, len(models.AllSensorTypes))
	for _, t := range models.AllSensorTypes {
		sensorTypes = append(sensorTypes, string(t))
	}
	metricNames := make([]string, 0, len(models.AllMetrics))
	for _, m := range models.AllMetrics {
		metricNames = append(metricNames, string(m))
	}
	pc := s.pipeline.Config()
	writeJSON(w, http.StatusOK, types.InfoResponse{
		Name:        "sensordx",
		Version:     Version,
		SensorTypes: sensorTypes,
		Metrics:     metricNames,
		Workers:     pc.Workers,
		LiveWindow:  pc.LiveWindow,
		Archive:     s.samples.Archived(),
		Messaging:   s.consumer != nil,
	})
}

// ─── Diagnosis ────────────────────────────────────────────────────────────────

// handleDiagnose runs a one-shot diagnosis of posted samples.
func (s *Server) handleDiagnose(w http.ResponseWriter, r *http.Request) {
	var req types.DiagnoseRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		s.writeError(w, err)
		return
	}
	if err := validateOverrides(req.Overrides); err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}

	var sensor analytics.Sensor
	if req.SensorID != "" {
		if err := analytics.ValidateSensorID(req.SensorID); err != nil {
			s.writeError(w, err)
			return
		}
		sn, ok := s.pipeline.Sensor(req.SensorID)
		if !ok {
			s.writeError(w, fmt.Errorf("%w: %s", analytics.ErrUnknownSensor, req.SensorID))
			return
		}
		sensor = sn
	} else if req.SensorType == "" {
		s.writeError(w, badRequest("sensor_type is required without sensor_id"))
		return
	}
	if req.IntervalMs < 0 {
		s.writeError(w, badRequest("interval_ms must be non-negative"))
		return
	}

	values, _ := types.Values(req.Samples)
	interval := time.Duration(req.IntervalMs) * time.Millisecond
	if interval == 0 {
		interval = sensor.Interval
	}
	if _, err := timeseries.FromSamples(values, req.Timestamps, time.Time{}, interval); err != nil {
		s.writeError(w, err)
		return
	}

	areq := analytics.Request{
		Samples: models.SampleSequence{
			Values:       values,
			Timestamps:   req.Timestamps,
			Interval:     interval,
			RawCurrentMA: req.RawCurrentMA,
		},
		Overrides: toOverrides(req.Overrides),
	}
	if req.SensorType != "" {
		areq.SensorType = models.ParseSensorType(req.SensorType)
	}
	if req.Overrides == nil && req.SensorID != "" {
		areq.Overrides = sensor.Overrides
	}

	ev, err := s.pipeline.Diagnose(r.Context(), req.SensorID, areq, analytics.SourceAPI)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev.API())
}

// handleDiagnoseLive diagnoses the live window of a registered sensor.
func (s *Server) handleDiagnoseLive(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ev, err := s.pipeline.DiagnoseLive(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev.API())
}

// handleListDiagnoses returns persisted history, newest first.
func (s *Server) handleListDiagnoses(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.pipeline.Sensor(id); !ok {
		s.writeError(w, fmt.Errorf("%w: %s", analytics.ErrUnknownSensor, id))
		return
	}

	limit := defaultDiagnosisLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, badRequest("limit must be a positive integer"))
			return
		}
		limit = min(n, maxDiagnosisLimit)
	}

	records, err := s.store.ListDiagnoses(r.Context(), id, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := types.DiagnosisList{SensorID: id, Diagnoses: make([]types.Diagnosis, 0, len(records))}
	for _, rec := range records {
		out.Diagnoses = append(out.Diagnoses, types.Diagnosis{
			ID:         rec.ID,
			SensorID:   rec.SensorID,
			Source:     rec.Source,
			At:         rec.CreatedAt,
			DurationMs: rec.DurationMs,
			Result:     json.RawMessage(rec.Result),
		})
	}
	out.Total = len(out.Diagnoses)
	writeJSON(w, http.StatusOK, out)
}

// ─── Sensors ──────────────────────────────────────────────────────────────────

func (s *Server) handleListSensors(w http.ResponseWriter, r *http.Request) {
	sensors := s.pipeline.Sensors()
	out := types.SensorList{Sensors: make([]types.Sensor, 0, len(sensors)), Total: len(sensors)}
	for _, sn := range sensors {
		out.Sensors = append(out.Sensors, s.sensorView(sn))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleRegisterSensor creates or replaces a sensor. Replacing keeps the
// original creation time.
func (s *Server) handleRegisterSensor(w http.ResponseWriter, r *http.Request) {
	var req types.RegisterSensorRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		s.writeError(w, err)
		return
	}
	if err := analytics.ValidateSensorID(req.ID); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Type == "" {
		s.writeError(w, badRequest("type is required"))
		return
	}
	if req.IntervalMs < 0 {
		s.writeError(w, badRequest("interval_ms must be non-negative"))
		return
	}
	if err := validateOverrides(req.Overrides); err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}

	sensor := analytics.Sensor{
		ID:        req.ID,
		Type:      models.ParseSensorType(req.Type),
		Interval:  time.Duration(req.IntervalMs) * time.Millisecond,
		Overrides: toOverrides(req.Overrides),
	}
	prev, existed := s.pipeline.Sensor(req.ID)
	if existed {
		sensor.CreatedAt = prev.CreatedAt
	}
	sensor = sensorWithTime(sensor)

	rec, err := sensorRecord(sensor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.store.SaveSensor(r.Context(), rec); err != nil {
		s.writeError(w, err)
		return
	}
	sensor, err = s.pipeline.RegisterSensor(sensor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logAuditf(func(l audit.Logger) error {
		return l.LogSensorRegistered(r.Context(), sensor.ID, string(sensor.Type))
	})

	status := http.StatusCreated
	if existed {
		status = http.StatusOK
	}
	writeJSON(w, status, s.sensorView(sensor))
}

func (s *Server) handleGetSensor(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sensor, ok := s.pipeline.Sensor(id)
	if !ok {
		s.writeError(w, fmt.Errorf("%w: %s", analytics.ErrUnknownSensor, id))
		return
	}
	writeJSON(w, http.StatusOK, s.sensorView(sensor))
}

// handleDeleteSensor drops the sensor, its samples, baselines and history.
func (s *Server) handleDeleteSensor(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.pipeline.RemoveSensor(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.store.DeleteSensor(r.Context(), id); err != nil && !errors.Is(err, db.ErrNotFound) {
		s.writeError(w, err)
		return
	}
	s.logAuditf(func(l audit.Logger) error {
		return l.LogSensorRemoved(r.Context(), id)
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleIngest appends samples to a live sensor.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sensor, ok := s.pipeline.Sensor(id)
	if !ok {
		s.writeError(w, fmt.Errorf("%w: %s", analytics.ErrUnknownSensor, id))
		return
	}

	var req types.IngestRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		s.writeError(w, err)
		return
	}
	if len(req.Samples) == 0 {
		s.writeError(w, badRequest("samples must not be empty"))
		return
	}

	values, gaps := types.Values(req.Samples)
	if gaps > 0 {
		metrics.SampleGaps.WithLabelValues(analytics.SourceAPI).Add(float64(gaps))
	}
	start := time.Now().UTC()
	if req.Start != nil {
		start = *req.Start
	}
	points, err := timeseries.FromSamples(values, req.Timestamps, start, sensor.Interval)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.pipeline.Ingest(r.Context(), id, points, analytics.SourceAPI); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, types.IngestResponse{
		SensorID: id,
		Accepted: len(points),
		Gaps:     gaps,
	})
}

// ─── Baselines ────────────────────────────────────────────────────────────────

// baselineView is the baseline endpoint body.
type baselineView struct {
	SensorID string          `json:"sensor_id"`
	Current  *anomaly.Info   `json:"current"`
	Versions []baselineEntry `json:"versions"`
}

type baselineEntry struct {
	Version    string    `json:"version"`
	SensorType string    `json:"sensor_type"`
	Samples    int       `json:"samples"`
	TrainedAt  time.Time `json:"trained_at"`
	Active     bool      `json:"active"`
}

// handleTrainBaseline trains and installs a baseline. Without a body the
// sensor's stored history is used.
func (s *Server) handleTrainBaseline(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.pipeline.Sensor(id); !ok {
		s.writeError(w, fmt.Errorf("%w: %s", analytics.ErrUnknownSensor, id))
		return
	}

	var req types.TrainBaselineRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		s.writeError(w, err)
		return
	}
	history := make([]float64, 0, len(req.History))
	for _, v := range req.History {
		if v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0) {
			history = append(history, *v)
		}
	}
	if len(req.History) > 0 && len(history) == 0 {
		s.writeError(w, badRequest("history has no finite samples"))
		return
	}

	info, err := s.pipeline.TrainBaseline(r.Context(), id, history)
	if err != nil {
		s.logAuditf(func(l audit.Logger) error {
			return l.LogBaselineFailed(r.Context(), id, err)
		})
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

// handleGetBaseline returns the active baseline and every stored version.
func (s *Server) handleGetBaseline(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.pipeline.Sensor(id); !ok {
		s.writeError(w, fmt.Errorf("%w: %s", analytics.ErrUnknownSensor, id))
		return
	}

	view := baselineView{SensorID: id, Versions: []baselineEntry{}}
	if model := s.pipeline.Baseline(id); model != nil {
		info := anomaly.Describe(model)
		view.Current = &info
	}
	records, err := s.store.ListBaselineVersions(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	for _, rec := range records {
		view.Versions = append(view.Versions, baselineEntry{
			Version:    rec.Version,
			SensorType: rec.SensorType,
			Samples:    rec.Samples,
			TrainedAt:  rec.TrainedAt,
			Active:     view.Current != nil && view.Current.Version == rec.Version,
		})
	}
	writeJSON(w, http.StatusOK, view)
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

func (s *Server) sensorView(sn analytics.Sensor) types.Sensor {
	out := types.Sensor{
		ID:              sn.ID,
		Type:            string(sn.Type),
		IntervalMs:      sn.Interval.Milliseconds(),
		Overrides:       fromOverrides(sn.Overrides),
		CreatedAt:       sn.CreatedAt,
		BufferedSamples: s.samples.Hot().Len(sn.ID),
	}
	if model := s.pipeline.Baseline(sn.ID); model != nil {
		out.BaselineVersion = model.Version()
	}
	if ev, ok := s.pipeline.LastResult(sn.ID); ok {
		d := ev.API()
		out.LastDiagnosis = &d
	}
	return out
}

func sensorWithTime(sn analytics.Sensor) analytics.Sensor {
	if sn.CreatedAt.IsZero() {
		sn.CreatedAt = time.Now().UTC()
	}
	return sn
}

// decodeJSON decodes a bounded request body. allowEmpty accepts a missing
// body as the zero value.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}, allowEmpty bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

// statusFor maps an error onto an HTTP status and an error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, analytics.ErrInvalidSensorID):
		return http.StatusBadRequest, "invalid_sensor_id"
	case errors.Is(err, timeseries.ErrBadTimestamps):
		return http.StatusBadRequest, "bad_timestamps"
	case errors.Is(err, models.ErrInsufficientData):
		return http.StatusBadRequest, models.ReasonInsufficientData
	case errors.Is(err, models.ErrNumericDegenerate):
		return http.StatusBadRequest, models.ReasonNumericDegenerate
	case errors.Is(err, timeseries.ErrNoData):
		return http.StatusBadRequest, "no_data"
	case errors.Is(err, analytics.ErrUnknownSensor), errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, analytics.ErrSuperseded):
		return http.StatusConflict, "superseded"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, models.ErrBaselineUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
		msg = "internal server error"
	}
	writeJSON(w, status, types.ErrorResponse{Error: msg, Code: code})
}

// writeJSON writes a JSON response. The body is encoded before the status
// line so an unencodable value becomes a 500 instead of a truncated 200.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		zap.L().Error("failed to encode response", zap.Error(err))
		buf.Reset()
		_ = json.NewEncoder(&buf).Encode(types.ErrorResponse{Error: "internal server error", Code: "internal_error"})
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		zap.L().Debug("failed to write response", zap.Error(err))
	}
}
