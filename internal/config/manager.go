package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by the manager.
const EnvPrefix = "SENSORDX"

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string
	envFiles   []string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	if err := loadEnvFiles(m.envFiles); err != nil {
		return err
	}

	// Initialize viper
	m.viper = viper.New()

	// Set config file path
	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	// Set environment variable prefix
	m.viper.SetEnvPrefix(EnvPrefix)
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	m.setDefaults()

	// Try to read config file (optional)
	if err := m.readConfigFile(); err != nil {
		return err
	}

	// Unmarshal into config struct
	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()

	return nil
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	errs := m.config.Validate()
	if len(errs) > 0 {
		// Combine all errors into a single error message
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches for configuration changes and reloads.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	// Start watching config file
	m.viper.WatchConfig()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		// Reload config
		if err := m.unmarshalConfig(); err != nil {
			return
		}
		m.applyEnvOverrides()
		// Send updated config to channel
		select {
		case m.watchChan <- *m.config:
		default:
			// Channel full, skip this update
		}
	})

	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	if err := m.readConfigFile(); err != nil {
		return err
	}

	// Unmarshal into config struct
	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()

	return nil
}

// readConfigFile reads the YAML file; a missing file falls back to
// defaults and the environment.
func (m *viperConfigManager) readConfigFile() error {
	err := m.viper.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("error reading config file: %w", err)
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	defaults := DefaultConfig()

	// Server defaults
	m.viper.SetDefault("server.host", defaults.Server.Host)
	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.grpc_port", defaults.Server.GRPCPort)
	m.viper.SetDefault("server.tls_enabled", defaults.Server.TLSEnabled)
	m.viper.SetDefault("server.tls_cert_path", defaults.Server.TLSCertPath)
	m.viper.SetDefault("server.tls_key_path", defaults.Server.TLSKeyPath)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)
	m.viper.SetDefault("server.rate_limit_per_minute", defaults.Server.RateLimitPerMinute)
	m.viper.SetDefault("server.shutdown_timeout", defaults.Server.ShutdownTimeout)

	// Database defaults
	m.viper.SetDefault("database.type", defaults.Database.Type)
	m.viper.SetDefault("database.sqlite_path", defaults.Database.SQLitePath)

	// Archive defaults
	m.viper.SetDefault("archive.enabled", defaults.Archive.Enabled)
	m.viper.SetDefault("archive.path", defaults.Archive.Path)
	m.viper.SetDefault("archive.compression_level", defaults.Archive.CompressionLevel)
	m.viper.SetDefault("archive.retention_days", defaults.Archive.RetentionDays)

	// Messaging defaults
	m.viper.SetDefault("messaging.enabled", defaults.Messaging.Enabled)
	m.viper.SetDefault("messaging.url", defaults.Messaging.URL)
	m.viper.SetDefault("messaging.exchange", defaults.Messaging.Exchange)
	m.viper.SetDefault("messaging.queue", defaults.Messaging.Queue)
	m.viper.SetDefault("messaging.routing_key", defaults.Messaging.RoutingKey)
	m.viper.SetDefault("messaging.result_routing_key", defaults.Messaging.ResultRoutingKey)
	m.viper.SetDefault("messaging.prefetch", defaults.Messaging.Prefetch)
	m.viper.SetDefault("messaging.diagnose_on_ingest", defaults.Messaging.DiagnoseOnIngest)

	// Analytics defaults
	a := defaults.Analytics
	m.viper.SetDefault("analytics.workers", a.Workers)
	m.viper.SetDefault("analytics.diagnose_interval_seconds", a.DiagnoseIntervalSeconds)
	m.viper.SetDefault("analytics.job_timeout_seconds", a.JobTimeoutSeconds)
	m.viper.SetDefault("analytics.hot_capacity", a.HotCapacity)
	m.viper.SetDefault("analytics.live_window", a.LiveWindow)
	m.viper.SetDefault("analytics.train_history", a.TrainHistory)
	m.viper.SetDefault("analytics.min_samples", a.MinSamples)
	m.viper.SetDefault("analytics.fault_fraction", a.FaultFraction)
	m.viper.SetDefault("analytics.max_nan_fraction", a.MaxNaNFraction)
	m.viper.SetDefault("analytics.max_gap_width", a.MaxGapWidth)
	m.viper.SetDefault("analytics.dfa_min_window", a.DFAMinWindow)
	m.viper.SetDefault("analytics.dfa_max_window_fraction", a.DFAMaxWindowFraction)
	m.viper.SetDefault("analytics.dfa_scales", a.DFAScales)
	m.viper.SetDefault("analytics.snr_smoothing_window", a.SNRSmoothingWindow)
	m.viper.SetDefault("analytics.spectral_window", a.SpectralWindow)
	m.viper.SetDefault("analytics.lyapunov_dimension", a.LyapunovDimension)
	m.viper.SetDefault("analytics.lyapunov_delay", a.LyapunovDelay)
	m.viper.SetDefault("analytics.lyapunov_horizon", a.LyapunovHorizon)
	m.viper.SetDefault("analytics.lyapunov_max_points", a.LyapunovMaxPoints)
	m.viper.SetDefault("analytics.entropy_m", a.EntropyM)
	m.viper.SetDefault("analytics.entropy_r", a.EntropyR)
	m.viper.SetDefault("analytics.baseline_window_size", a.BaselineWindowSize)
	m.viper.SetDefault("analytics.baseline_components", a.BaselineComponents)
	m.viper.SetDefault("analytics.baseline_percentile", a.BaselinePercentile)

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
	m.viper.SetDefault("logging.app_log_path", defaults.Logging.AppLogPath)
	m.viper.SetDefault("logging.audit_log_path", defaults.Logging.AuditLogPath)
	m.viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	m.viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	m.viper.SetDefault("logging.max_age_days", defaults.Logging.MaxAgeDays)
	m.viper.SetDefault("logging.compress", defaults.Logging.Compress)

	// Metrics defaults
	m.viper.SetDefault("metrics.enabled", defaults.Metrics.Enabled)
	m.viper.SetDefault("metrics.path", defaults.Metrics.Path)
}

// unmarshalConfig unmarshals viper config into Config struct.
func (m *viperConfigManager) unmarshalConfig() error {
	cfg := &Config{}

	// Server
	cfg.Server.Host = m.viper.GetString("server.host")
	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.GRPCPort = m.viper.GetInt("server.grpc_port")
	cfg.Server.TLSEnabled = m.viper.GetBool("server.tls_enabled")
	cfg.Server.TLSCertPath = m.viper.GetString("server.tls_cert_path")
	cfg.Server.TLSKeyPath = m.viper.GetString("server.tls_key_path")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")
	cfg.Server.RateLimitPerMinute = m.viper.GetInt("server.rate_limit_per_minute")
	cfg.Server.ShutdownTimeout = m.viper.GetInt("server.shutdown_timeout")

	// Database
	cfg.Database.Type = m.viper.GetString("database.type")
	cfg.Database.SQLitePath = m.viper.GetString("database.sqlite_path")

	// Archive
	cfg.Archive.Enabled = m.viper.GetBool("archive.enabled")
	cfg.Archive.Path = m.viper.GetString("archive.path")
	cfg.Archive.CompressionLevel = m.viper.GetInt("archive.compression_level")
	cfg.Archive.RetentionDays = m.viper.GetInt("archive.retention_days")

	// Messaging
	cfg.Messaging.Enabled = m.viper.GetBool("messaging.enabled")
	cfg.Messaging.URL = m.viper.GetString("messaging.url")
	cfg.Messaging.Exchange = m.viper.GetString("messaging.exchange")
	cfg.Messaging.Queue = m.viper.GetString("messaging.queue")
	cfg.Messaging.RoutingKey = m.viper.GetString("messaging.routing_key")
	cfg.Messaging.ResultRoutingKey = m.viper.GetString("messaging.result_routing_key")
	cfg.Messaging.Prefetch = m.viper.GetInt("messaging.prefetch")
	cfg.Messaging.DiagnoseOnIngest = m.viper.GetBool("messaging.diagnose_on_ingest")

	// Analytics
	a := &cfg.Analytics
	a.Workers = m.viper.GetInt("analytics.workers")
	a.DiagnoseIntervalSeconds = m.viper.GetInt("analytics.diagnose_interval_seconds")
	a.JobTimeoutSeconds = m.viper.GetInt("analytics.job_timeout_seconds")
	a.HotCapacity = m.viper.GetInt("analytics.hot_capacity")
	a.LiveWindow = m.viper.GetInt("analytics.live_window")
	a.TrainHistory = m.viper.GetInt("analytics.train_history")
	a.MinSamples = m.viper.GetInt("analytics.min_samples")
	a.FaultFraction = m.viper.GetFloat64("analytics.fault_fraction")
	a.MaxNaNFraction = m.viper.GetFloat64("analytics.max_nan_fraction")
	a.MaxGapWidth = m.viper.GetInt("analytics.max_gap_width")
	a.DFAMinWindow = m.viper.GetInt("analytics.dfa_min_window")
	a.DFAMaxWindowFraction = m.viper.GetFloat64("analytics.dfa_max_window_fraction")
	a.DFAScales = m.viper.GetInt("analytics.dfa_scales")
	a.SNRSmoothingWindow = m.viper.GetInt("analytics.snr_smoothing_window")
	a.SpectralWindow = m.viper.GetString("analytics.spectral_window")
	a.LyapunovDimension = m.viper.GetInt("analytics.lyapunov_dimension")
	a.LyapunovDelay = m.viper.GetInt("analytics.lyapunov_delay")
	a.LyapunovHorizon = m.viper.GetInt("analytics.lyapunov_horizon")
	a.LyapunovMaxPoints = m.viper.GetInt("analytics.lyapunov_max_points")
	a.EntropyM = m.viper.GetInt("analytics.entropy_m")
	a.EntropyR = m.viper.GetFloat64("analytics.entropy_r")
	a.BaselineWindowSize = m.viper.GetInt("analytics.baseline_window_size")
	a.BaselineComponents = m.viper.GetInt("analytics.baseline_components")
	a.BaselinePercentile = m.viper.GetFloat64("analytics.baseline_percentile")

	// Sensors
	cfg.Sensors = map[string]SensorOverrides{}
	if m.viper.IsSet("sensors") {
		if err := m.viper.UnmarshalKey("sensors", &cfg.Sensors); err != nil {
			return fmt.Errorf("sensors: %w", err)
		}
	}

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")
	cfg.Logging.AppLogPath = m.viper.GetString("logging.app_log_path")
	cfg.Logging.AuditLogPath = m.viper.GetString("logging.audit_log_path")
	cfg.Logging.MaxSizeMB = m.viper.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = m.viper.GetInt("logging.max_backups")
	cfg.Logging.MaxAgeDays = m.viper.GetInt("logging.max_age_days")
	cfg.Logging.Compress = m.viper.GetBool("logging.compress")

	// Metrics
	cfg.Metrics.Enabled = m.viper.GetBool("metrics.enabled")
	cfg.Metrics.Path = m.viper.GetString("metrics.path")

	m.config = cfg
	return nil
}

// applyEnvOverrides applies the short, conventional variables on top of the
// prefixed ones.
func (m *viperConfigManager) applyEnvOverrides() {
	// Broker URL usually carries credentials and comes from the platform.
	if url := os.Getenv("AMQP_URL"); url != "" && os.Getenv(EnvPrefix+"_MESSAGING_URL") == "" {
		m.config.Messaging.URL = url
	}

	// Port from environment - only override if explicitly set
	if portEnv := os.Getenv(EnvPrefix + "_PORT"); portEnv != "" {
		m.config.Server.Port = m.viper.GetInt("port")
	}

	if origins := os.Getenv(EnvPrefix + "_ALLOWED_ORIGINS"); origins != "" {
		m.config.Server.AllowedOrigins = splitList(origins)
	}
}

// loadEnvFiles loads .env files into the process environment without
// overriding variables that are already set.
func loadEnvFiles(paths []string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("error loading env file %s: %w", p, err)
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
