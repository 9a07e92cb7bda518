package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kubilitics/sensordx/internal/models"
)

func newTestLogger(t *testing.T) (Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.log")
	config := &Config{
		AuditLogPath:  path,
		MaxSize:       10,
		MaxBackups:    3,
		MaxAge:        7,
		BufferSize:    100,
		FlushInterval: 200 * time.Millisecond,
	}
	logger, err := NewLogger(config, nil)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	t.Cleanup(func() { logger.Close() })
	return logger, path
}

// readEvents syncs the logger and decodes every event in the file.
func readEvents(t *testing.T, logger Logger, path string) []Event {
	t.Helper()
	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read audit log: %v", err)
	}

	var events []Event
	for _, line := range strings.Split(string(content), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var entry struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid log line %q: %v", line, err)
		}
		var ev Event
		if err := json.Unmarshal([]byte(entry.Message), &ev); err != nil {
			t.Fatalf("invalid event %q: %v", entry.Message, err)
		}
		events = append(events, ev)
	}
	return events
}

func TestNewLogger(t *testing.T) {
	logger, _ := newTestLogger(t)
	if logger == nil {
		t.Fatal("Expected logger to be non-nil")
	}

	if _, err := NewLogger(&Config{}, nil); err == nil {
		t.Fatal("Expected error for empty audit log path")
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.AuditLogPath != "logs/audit.log" {
		t.Errorf("Expected audit log path 'logs/audit.log', got %s", config.AuditLogPath)
	}

	if config.MaxSize != 100 {
		t.Errorf("Expected max size 100, got %d", config.MaxSize)
	}

	if config.MaxBackups != 10 {
		t.Errorf("Expected max backups 10, got %d", config.MaxBackups)
	}

	if config.BufferSize != 100 {
		t.Errorf("Expected buffer size 100, got %d", config.BufferSize)
	}
}

func TestLogEvent(t *testing.T) {
	logger, path := newTestLogger(t)

	ctx := WithCorrelationID(context.Background(), "req-123")
	event := NewEvent(EventConfigReload).
		WithUser("operator").
		WithResult(ResultSuccess)

	if err := logger.Log(ctx, event); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	events := readEvents(t, logger, path)
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if events[0].CorrelationID != "req-123" {
		t.Errorf("Expected correlation ID from context, got %q", events[0].CorrelationID)
	}
	if events[0].EventType != EventConfigReload {
		t.Errorf("Expected config.reload, got %s", events[0].EventType)
	}
	if events[0].User != "operator" {
		t.Errorf("Expected user operator, got %s", events[0].User)
	}
}

func TestLogDiagnosis(t *testing.T) {
	logger, path := newTestLogger(t)
	ctx := context.Background()

	healthy := &models.DiagnosisResult{
		SensorType:      models.SensorPH,
		HealthScore:     92.5,
		Status:          models.StatusNormal,
		DiagnosisCode:   "HEALTHY",
		BaselineVersion: "v-1",
	}
	fault := &models.DiagnosisResult{
		SensorType:    models.SensorFlow,
		Status:        models.StatusFault,
		DiagnosisCode: "HARD_FAILURE",
		Outcome:       "sensor_fault",
	}

	if err := logger.LogDiagnosis(ctx, "d-1", "ph-1", healthy, 12*time.Millisecond); err != nil {
		t.Fatalf("LogDiagnosis failed: %v", err)
	}
	if err := logger.LogDiagnosis(ctx, "d-2", "flow-1", fault, time.Millisecond); err != nil {
		t.Fatalf("LogDiagnosis failed: %v", err)
	}

	events := readEvents(t, logger, path)
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}

	if events[0].EventType != EventDiagnosisCompleted {
		t.Errorf("Expected diagnosis.completed, got %s", events[0].EventType)
	}
	if events[0].SensorID != "ph-1" || events[0].SensorType != "PH" {
		t.Errorf("Unexpected sensor fields: %+v", events[0])
	}
	if events[0].DurationMs != 12 {
		t.Errorf("Expected duration 12ms, got %d", events[0].DurationMs)
	}
	if events[0].Metadata["baseline_version"] != "v-1" {
		t.Errorf("Expected baseline version metadata, got %v", events[0].Metadata)
	}

	if events[1].EventType != EventDiagnosisFault {
		t.Errorf("Expected diagnosis.fault, got %s", events[1].EventType)
	}
	if events[1].Metadata["outcome"] != "sensor_fault" {
		t.Errorf("Expected outcome metadata, got %v", events[1].Metadata)
	}
}

func TestLogBaselineLifecycle(t *testing.T) {
	logger, path := newTestLogger(t)
	ctx := context.Background()

	if err := logger.LogBaselineTrained(ctx, "ph-1", "PH", "v-2", 5000); err != nil {
		t.Fatalf("LogBaselineTrained failed: %v", err)
	}
	if err := logger.LogBaselineSwapped(ctx, "ph-1", "v-2", "v-1"); err != nil {
		t.Fatalf("LogBaselineSwapped failed: %v", err)
	}
	trainErr := fmt.Errorf("%w: training needs 100 samples, got 12", models.ErrInsufficientData)
	if err := logger.LogBaselineFailed(ctx, "ph-2", trainErr); err != nil {
		t.Fatalf("LogBaselineFailed failed: %v", err)
	}

	events := readEvents(t, logger, path)
	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}
	if events[1].Metadata["previous"] != "v-1" {
		t.Errorf("Expected previous version, got %v", events[1].Metadata)
	}
	if events[2].Result != ResultFailure {
		t.Errorf("Expected failure result, got %s", events[2].Result)
	}
	if events[2].ErrorCode != "insufficient_data" {
		t.Errorf("Expected insufficient_data code, got %s", events[2].ErrorCode)
	}
}

func TestLogSensorRegistry(t *testing.T) {
	logger, path := newTestLogger(t)
	ctx := context.Background()

	if err := logger.LogSensorRegistered(ctx, "do-1", "DO"); err != nil {
		t.Fatalf("LogSensorRegistered failed: %v", err)
	}
	if err := logger.LogSensorRemoved(ctx, "do-1"); err != nil {
		t.Fatalf("LogSensorRemoved failed: %v", err)
	}

	events := readEvents(t, logger, path)
	if len(events) != 2 || events[0].EventType != EventSensorRegistered || events[1].EventType != EventSensorRemoved {
		t.Fatalf("Unexpected events: %+v", events)
	}
}

func TestBufferAutoFlush(t *testing.T) {
	logger, path := newTestLogger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := logger.LogSensorRegistered(ctx, fmt.Sprintf("s-%d", i), "GENERIC"); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	// Wait for auto-flush (200ms ticker)
	time.Sleep(600 * time.Millisecond)

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read audit log: %v", err)
	}
	if len(content) == 0 {
		t.Error("Audit log is empty after auto-flush")
	}
}

func TestBufferFullFlush(t *testing.T) {
	logger, path := newTestLogger(t)
	ctx := context.Background()

	// Log 100+ events to trigger buffer flush
	for i := 0; i < 105; i++ {
		event := NewEvent(EventConfigLoaded).WithResult(ResultSuccess)
		if err := logger.Log(ctx, event); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	if got := len(readEvents(t, logger, path)); got != 105 {
		t.Errorf("Expected 105 events, got %d", got)
	}
}

func TestCloseTwice(t *testing.T) {
	logger, _ := newTestLogger(t)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestCorrelationID(t *testing.T) {
	id1 := GenerateCorrelationID()
	id2 := GenerateCorrelationID()

	if id1 == id2 {
		t.Error("Generated correlation IDs should be unique")
	}

	ctx := context.Background()
	if id := GetCorrelationID(ctx); id != "" {
		t.Errorf("Expected empty correlation ID, got %s", id)
	}

	ctx = WithCorrelationID(ctx, "test-correlation-id")
	if id := GetCorrelationID(ctx); id != "test-correlation-id" {
		t.Errorf("Expected 'test-correlation-id', got %s", id)
	}
}

func TestEventWithError(t *testing.T) {
	event := NewEvent(EventBaselineFailed).WithError(errors.New("boom"), "computation_error")
	if event.Result != ResultFailure {
		t.Errorf("Expected failure result, got %s", event.Result)
	}

	event = NewEvent(EventBaselineTrained).WithResult(ResultSuccess).WithError(nil, "x")
	if event.Result != ResultSuccess || event.Error != "" {
		t.Errorf("nil error must not change the event: %+v", event)
	}
}
