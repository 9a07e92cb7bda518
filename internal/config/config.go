package config

import (
	"context"

	"github.com/kubilitics/sensordx/internal/analytics/scoring"
)

// Package config provides configuration management for sensordx.
//
// Responsibilities:
//   - Load configuration from YAML files, .env files and environment variables
//   - Validate configuration on startup
//   - Provide runtime access to all configuration
//   - Support configuration reloading (file watch)
//   - Establish reasonable defaults
//
// Configuration Sources (priority order, high to low):
//   1. Environment variables (SENSORDX_* prefix, "." replaced by "_")
//   2. .env file in the working directory (loaded into the environment)
//   3. YAML config file (default: /etc/sensordx/config.yaml)
//   4. Built-in defaults (lowest priority)
//
// Main Configuration Sections:
//
//   1. Server
//      - port: HTTP listen port (default 8090)
//      - grpc_port: gRPC health port (default 9090, 0 picks a free port)
//      - allowed_origins: WebSocket origins
//      - rate_limit_per_minute: per-client REST budget (0 disables)
//
//   2. Database
//      - type: "sqlite"
//      - sqlite_path: Path to SQLite file
//
//   3. Archive
//      - enabled, path, compression_level (1-4), retention_days
//
//   4. Messaging
//      - enabled, url, exchange, queue, routing_key, result_routing_key,
//        prefetch, diagnose_on_ingest
//
//   5. Analytics
//      - workers, diagnose_interval_seconds, job_timeout_seconds
//      - hot_capacity, live_window, train_history
//      - preprocessing and extractor parameters
//
//   6. Sensors
//      - per sensor type: weights, thresholds, limits, sentinels,
//        min_samples, reference
//
//   7. Logging
//      - level: "debug" | "info" | "warn" | "error"
//      - format: "json" | "console"
//      - app_log_path, audit_log_path, rotation
//
//   8. Metrics
//      - enabled, path

// SensorOverrides tunes one sensor type. Zero values keep the built-in
// defaults.
type SensorOverrides struct {
	Weights    map[string]float64 `mapstructure:"weights"`
	Thresholds map[string]float64 `mapstructure:"thresholds"`
	Limits     scoring.Limits     `mapstructure:"limits"`
	Sentinels  []float64          `mapstructure:"sentinels"`
	MinSamples int                `mapstructure:"min_samples"`
	Reference  *float64           `mapstructure:"reference"`
}

// Config struct contains all configuration fields
type Config struct {
	// Server configuration
	Server struct {
		Host        string
		Port        int
		GRPCPort    int
		TLSEnabled  bool
		TLSCertPath string
		TLSKeyPath  string
		// AllowedOrigins is a list of origins permitted to open WebSocket connections.
		// Use ["*"] to allow any origin (development only).
		// If empty, defaults to ["http://localhost:3000", "http://localhost:5173"].
		AllowedOrigins     []string
		RateLimitPerMinute int
		ShutdownTimeout    int // seconds
	}

	// Database configuration
	Database struct {
		Type       string
		SQLitePath string
	}

	// Sample archive configuration
	Archive struct {
		Enabled          bool
		Path             string
		CompressionLevel int
		RetentionDays    int
	}

	// AMQP ingest configuration
	Messaging struct {
		Enabled          bool
		URL              string
		Exchange         string
		Queue            string
		RoutingKey       string
		ResultRoutingKey string
		Prefetch         int
		DiagnoseOnIngest bool
	}

	// Analytics configuration
	Analytics struct {
		Workers                 int
		DiagnoseIntervalSeconds int
		JobTimeoutSeconds       int
		HotCapacity             int
		LiveWindow              int
		TrainHistory            int

		MinSamples     int
		FaultFraction  float64
		MaxNaNFraction float64
		MaxGapWidth    int

		DFAMinWindow         int
		DFAMaxWindowFraction float64
		DFAScales            int
		SNRSmoothingWindow   int
		SpectralWindow       string
		LyapunovDimension    int
		LyapunovDelay        int
		LyapunovHorizon      int
		LyapunovMaxPoints    int
		EntropyM             int
		EntropyR             float64

		BaselineWindowSize int
		BaselineComponents int
		BaselinePercentile float64
	}

	// Per sensor type overrides, keyed by sensor type (e.g. "PH").
	Sensors map[string]SensorOverrides

	// Logging configuration
	Logging struct {
		Level        string
		Format       string
		AppLogPath   string // empty logs to stdout
		AuditLogPath string
		MaxSizeMB    int
		MaxBackups   int
		MaxAgeDays   int
		Compress     bool
	}

	// Metrics configuration
	Metrics struct {
		Enabled bool
		Path    string
	}
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration changes and reloads (if supported).
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error
}

// NewConfigManager creates a new configuration manager. envFiles are .env
// files loaded before the environment is read; missing files are skipped.
func NewConfigManager(configPath string, envFiles ...string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		envFiles:   envFiles,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with default config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager("/etc/sensordx/config.yaml", ".env")
}
