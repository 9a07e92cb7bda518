package config

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/kubilitics/sensordx/internal/analytics/diagnosis"
	"github.com/kubilitics/sensordx/internal/models"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Validate server configuration
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		add("server.grpc_port", "grpc_port must be between 0 and 65535, got %d", c.Server.GRPCPort)
	} else if c.Server.GRPCPort != 0 && c.Server.GRPCPort == c.Server.Port {
		add("server.grpc_port", "grpc_port must differ from port %d", c.Server.Port)
	}

	if c.Server.TLSEnabled {
		if c.Server.TLSCertPath == "" {
			add("server.tls_cert_path", "tls_cert_path is required when tls_enabled is true")
		} else if _, err := os.Stat(c.Server.TLSCertPath); os.IsNotExist(err) {
			add("server.tls_cert_path", "certificate file does not exist: %s", c.Server.TLSCertPath)
		}

		if c.Server.TLSKeyPath == "" {
			add("server.tls_key_path", "tls_key_path is required when tls_enabled is true")
		} else if _, err := os.Stat(c.Server.TLSKeyPath); os.IsNotExist(err) {
			add("server.tls_key_path", "key file does not exist: %s", c.Server.TLSKeyPath)
		}
	}
	if c.Server.RateLimitPerMinute < 0 {
		add("server.rate_limit_per_minute", "rate_limit_per_minute cannot be negative, got %d", c.Server.RateLimitPerMinute)
	}

	// Validate database configuration
	if c.Database.Type != "sqlite" {
		add("database.type", "invalid database type '%s', must be: sqlite", c.Database.Type)
	} else if c.Database.SQLitePath == "" {
		add("database.sqlite_path", "sqlite_path is required when database type is sqlite")
	}

	// Validate archive configuration
	if c.Archive.Enabled {
		if c.Archive.Path == "" {
			add("archive.path", "path is required when the archive is enabled")
		}
		if c.Archive.CompressionLevel < 1 || c.Archive.CompressionLevel > 4 {
			add("archive.compression_level", "compression_level must be between 1 and 4, got %d", c.Archive.CompressionLevel)
		}
		if c.Archive.RetentionDays < 0 {
			add("archive.retention_days", "retention_days cannot be negative, got %d", c.Archive.RetentionDays)
		}
	}

	// Validate messaging configuration
	if c.Messaging.Enabled {
		if u, err := url.Parse(c.Messaging.URL); err != nil || (u.Scheme != "amqp" && u.Scheme != "amqps") {
			add("messaging.url", "url must be an amqp:// or amqps:// URL")
		}
		if c.Messaging.Exchange == "" {
			add("messaging.exchange", "exchange is required when messaging is enabled")
		}
		if c.Messaging.Queue == "" {
			add("messaging.queue", "queue is required when messaging is enabled")
		}
		if c.Messaging.Prefetch < 1 {
			add("messaging.prefetch", "prefetch must be at least 1, got %d", c.Messaging.Prefetch)
		}
	}

	errs = append(errs, c.validateAnalytics()...)
	errs = append(errs, c.validateSensors()...)

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		add("logging.level", "invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		add("logging.format", "invalid log format '%s', must be one of: json, console", c.Logging.Format)
	}

	// Validate metrics configuration
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		add("metrics.path", "path must start with '/', got %q", c.Metrics.Path)
	}

	return errs
}

func (c *Config) validateAnalytics() []error {
	var errs []error
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, &ValidationError{Field: "analytics." + field, Message: fmt.Sprintf(format, args...)})
	}
	a := c.Analytics

	if a.Workers < 1 {
		add("workers", "workers must be at least 1, got %d", a.Workers)
	}
	if a.DiagnoseIntervalSeconds < 0 {
		add("diagnose_interval_seconds", "cannot be negative, got %d", a.DiagnoseIntervalSeconds)
	}
	if a.JobTimeoutSeconds < 0 {
		add("job_timeout_seconds", "cannot be negative, got %d", a.JobTimeoutSeconds)
	}
	if a.MinSamples < 2 {
		add("min_samples", "min_samples must be at least 2, got %d", a.MinSamples)
	}
	if a.LiveWindow < a.MinSamples {
		add("live_window", "live_window %d is below min_samples %d", a.LiveWindow, a.MinSamples)
	}
	if a.HotCapacity < a.LiveWindow {
		add("hot_capacity", "hot_capacity %d is below live_window %d", a.HotCapacity, a.LiveWindow)
	}
	if a.FaultFraction <= 0 || a.FaultFraction > 1 {
		add("fault_fraction", "must be in (0, 1], got %g", a.FaultFraction)
	}
	if a.MaxNaNFraction < 0 || a.MaxNaNFraction >= 1 {
		add("max_nan_fraction", "must be in [0, 1), got %g", a.MaxNaNFraction)
	}
	if a.DFAMaxWindowFraction <= 0 || a.DFAMaxWindowFraction > 0.5 {
		add("dfa_max_window_fraction", "must be in (0, 0.5], got %g", a.DFAMaxWindowFraction)
	}
	switch a.SpectralWindow {
	case "hann", "blackman", "rectangular":
	default:
		add("spectral_window", "invalid window '%s', must be one of: hann, blackman, rectangular", a.SpectralWindow)
	}
	if a.EntropyR <= 0 {
		add("entropy_r", "must be positive, got %g", a.EntropyR)
	}
	if a.BaselineComponents >= a.BaselineWindowSize {
		add("baseline_components", "components %d must be below window size %d", a.BaselineComponents, a.BaselineWindowSize)
	}
	if a.BaselinePercentile <= 0 || a.BaselinePercentile >= 1 {
		add("baseline_percentile", "must be in (0, 1), got %g", a.BaselinePercentile)
	}
	return errs
}

func (c *Config) validateSensors() []error {
	var errs []error
	knownMetrics := make(map[string]bool, len(models.AllMetrics))
	for _, m := range models.AllMetrics {
		knownMetrics[string(m)] = true
	}
	knownThresholds := diagnosis.DefaultThresholds()

	keys := make([]string, 0, len(c.Sensors))
	for k := range c.Sensors {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		ov := c.Sensors[key]
		field := "sensors." + key
		if !models.SensorType(strings.ToUpper(key)).Valid() {
			errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf("unknown sensor type %q", key)})
			continue
		}
		for name, w := range ov.Weights {
			if !knownMetrics[name] {
				errs = append(errs, &ValidationError{Field: field + ".weights", Message: fmt.Sprintf("unknown metric %q", name)})
			} else if w < 0 {
				errs = append(errs, &ValidationError{Field: field + ".weights", Message: fmt.Sprintf("weight of %s cannot be negative", name)})
			}
		}
		for name := range ov.Thresholds {
			if _, ok := knownThresholds[name]; !ok {
				errs = append(errs, &ValidationError{Field: field + ".thresholds", Message: fmt.Sprintf("unknown threshold %q", name)})
			}
		}
		if ov.MinSamples < 0 {
			errs = append(errs, &ValidationError{Field: field + ".min_samples", Message: "min_samples cannot be negative"})
		}
	}
	return errs
}

// SensorTypeOverrides returns the sensor overrides keyed by parsed type.
// Unknown keys are skipped; Validate reports them.
func (c *Config) SensorTypeOverrides() map[models.SensorType]SensorOverrides {
	out := make(map[models.SensorType]SensorOverrides, len(c.Sensors))
	for key, ov := range c.Sensors {
		t := models.SensorType(strings.ToUpper(key))
		if t.Valid() {
			out[t] = ov
		}
	}
	return out
}
