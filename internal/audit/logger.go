package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kubilitics/sensordx/internal/logging"
	"github.com/kubilitics/sensordx/internal/models"
)

// Logger defines the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// LogDiagnosis logs a completed diagnosis; faults get their own event type
	LogDiagnosis(ctx context.Context, diagnosisID, sensorID string, result *models.DiagnosisResult, duration time.Duration) error

	// Baseline lifecycle
	LogBaselineTrained(ctx context.Context, sensorID, sensorType, version string, samples int) error
	LogBaselineFailed(ctx context.Context, sensorID string, err error) error
	LogBaselineSwapped(ctx context.Context, sensorID, version, previous string) error

	// Sensor registry
	LogSensorRegistered(ctx context.Context, sensorID, sensorType string) error
	LogSensorRemoved(ctx context.Context, sensorID string) error

	// Sync flushes buffered log entries
	Sync() error

	// Close closes the audit logger
	Close() error
}

// Config represents audit logger configuration
type Config struct {
	// AuditLogPath is the path to the audit log file
	AuditLogPath string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	// Compress determines if rotated files should be compressed
	Compress bool

	// BufferSize is the number of events held before a forced flush
	BufferSize int

	// FlushInterval is the period of the background flush
	FlushInterval time.Duration
}

// DefaultConfig returns default audit logger configuration
func DefaultConfig() *Config {
	return &Config{
		AuditLogPath:  "logs/audit.log",
		MaxSize:       100, // megabytes
		MaxBackups:    10,
		MaxAge:        30, // days
		Compress:      true,
		BufferSize:    100,
		FlushInterval: time.Second,
	}
}

// auditLogger implements the Logger interface
type auditLogger struct {
	appLogger   *zap.Logger
	auditLogger *zap.Logger
	config      *Config
	mu          sync.Mutex
	buffer      []*Event
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closeOnce   sync.Once
}

// NewLogger creates a new audit logger. appLogger receives internal errors
// and may be nil.
func NewLogger(config *Config, appLogger *zap.Logger) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.AuditLogPath == "" {
		return nil, fmt.Errorf("audit log path is required")
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 100
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = time.Second
	}
	if appLogger == nil {
		appLogger = zap.NewNop()
	}

	// Create audit logger with rotation (always INFO level, append-only)
	auditRotator := logging.Rotator(config.AuditLogPath, logging.Config{
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	})

	auditCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(logging.EncoderConfig()),
		zapcore.AddSync(auditRotator),
		zapcore.InfoLevel, // Audit logs are always INFO level
	)

	logger := &auditLogger{
		appLogger:   appLogger.Named("audit"),
		auditLogger: zap.New(auditCore),
		config:      config,
		buffer:      make([]*Event, 0, config.BufferSize),
		flushTicker: time.NewTicker(config.FlushInterval),
		stopCh:      make(chan struct{}),
	}

	// Start auto-flush goroutine
	go logger.autoFlush()

	return logger, nil
}

// Log logs an audit event
func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	if event.CorrelationID == "" {
		event.CorrelationID = GetCorrelationID(ctx)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer = append(l.buffer, event)

	// Flush if buffer is full
	if len(l.buffer) >= l.config.BufferSize {
		return l.flushLocked()
	}

	return nil
}

// flushLocked flushes the buffer (caller must hold lock)
func (l *auditLogger) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}

	for _, event := range l.buffer {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			l.appLogger.Error("failed to marshal audit event",
				zap.Error(err),
				zap.String("event_type", string(event.EventType)),
			)
			continue
		}

		l.auditLogger.Info(string(eventJSON),
			zap.String("correlation_id", event.CorrelationID),
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
		)
	}

	l.buffer = l.buffer[:0]

	return nil
}

// autoFlush periodically flushes the buffer
func (l *auditLogger) autoFlush() {
	for {
		select {
		case <-l.flushTicker.C:
			l.mu.Lock()
			_ = l.flushLocked()
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

// LogDiagnosis logs a completed diagnosis
func (l *auditLogger) LogDiagnosis(ctx context.Context, diagnosisID, sensorID string, result *models.DiagnosisResult, duration time.Duration) error {
	eventType := EventDiagnosisCompleted
	if result.Status == models.StatusFault {
		eventType = EventDiagnosisFault
	}

	event := NewEvent(eventType).
		WithCorrelationID(diagnosisID).
		WithSensor(sensorID, string(result.SensorType)).
		WithResult(ResultSuccess).
		WithDuration(duration).
		WithMetadata("health_score", result.HealthScore).
		WithMetadata("status", string(result.Status)).
		WithMetadata("diagnosis_code", result.DiagnosisCode).
		WithDescription(fmt.Sprintf("Diagnosis %s: %s (%.1f)", diagnosisID, result.DiagnosisCode, result.HealthScore))
	if result.BaselineVersion != "" {
		event.WithMetadata("baseline_version", result.BaselineVersion)
	}
	if result.Outcome != "" {
		event.WithMetadata("outcome", result.Outcome)
	}

	return l.Log(ctx, event)
}

// LogBaselineTrained logs a successful training run
func (l *auditLogger) LogBaselineTrained(ctx context.Context, sensorID, sensorType, version string, samples int) error {
	event := NewEvent(EventBaselineTrained).
		WithSensor(sensorID, sensorType).
		WithResult(ResultSuccess).
		WithMetadata("version", version).
		WithMetadata("samples", samples).
		WithDescription(fmt.Sprintf("Baseline %s trained for %s on %d samples", version, sensorID, samples))

	return l.Log(ctx, event)
}

// LogBaselineFailed logs a failed training run
func (l *auditLogger) LogBaselineFailed(ctx context.Context, sensorID string, err error) error {
	event := NewEvent(EventBaselineFailed).
		WithSensor(sensorID, "").
		WithError(err, models.ReasonFor(err)).
		WithDescription(fmt.Sprintf("Baseline training failed for %s", sensorID))

	return l.Log(ctx, event)
}

// LogBaselineSwapped logs installation of a baseline
func (l *auditLogger) LogBaselineSwapped(ctx context.Context, sensorID, version, previous string) error {
	event := NewEvent(EventBaselineSwapped).
		WithSensor(sensorID, "").
		WithResult(ResultSuccess).
		WithMetadata("version", version).
		WithDescription(fmt.Sprintf("Baseline %s installed for %s", version, sensorID))
	if previous != "" {
		event.WithMetadata("previous", previous)
	}

	return l.Log(ctx, event)
}

// LogSensorRegistered logs a sensor registration
func (l *auditLogger) LogSensorRegistered(ctx context.Context, sensorID, sensorType string) error {
	event := NewEvent(EventSensorRegistered).
		WithSensor(sensorID, sensorType).
		WithResult(ResultSuccess).
		WithDescription(fmt.Sprintf("Sensor %s registered as %s", sensorID, sensorType))

	return l.Log(ctx, event)
}

// LogSensorRemoved logs a sensor removal
func (l *auditLogger) LogSensorRemoved(ctx context.Context, sensorID string) error {
	event := NewEvent(EventSensorRemoved).
		WithSensor(sensorID, "").
		WithResult(ResultSuccess).
		WithDescription(fmt.Sprintf("Sensor %s removed", sensorID))

	return l.Log(ctx, event)
}

// Sync flushes buffered log entries
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(); err != nil {
		return err
	}

	return l.auditLogger.Sync()
}

// Close closes the audit logger
func (l *auditLogger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.stopCh)
		l.flushTicker.Stop()
		err = l.Sync()
	})
	return err
}

type correlationKey struct{}

// GetCorrelationID extracts correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}

// WithCorrelationID adds correlation ID to context
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// GenerateCorrelationID generates a new correlation ID
func GenerateCorrelationID() string {
	return uuid.NewString()
}
