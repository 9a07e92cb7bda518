package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kubilitics/sensordx/internal/analytics"
	"github.com/kubilitics/sensordx/internal/analytics/timeseries"
	"github.com/kubilitics/sensordx/internal/audit"
	"github.com/kubilitics/sensordx/internal/config"
	"github.com/kubilitics/sensordx/internal/db"
	"github.com/kubilitics/sensordx/internal/integration/events"
	"github.com/kubilitics/sensordx/internal/middleware"
)

// Package server hosts the sensordx service.
//
// Responsibilities:
//   - Wire configuration into the engine, sample store and live pipeline
//   - Serve the REST API, the WebSocket diagnosis stream and /metrics
//   - Serve the gRPC health service
//   - Run the AMQP consumer and result publisher when messaging is enabled
//   - Persist sensors, baselines and diagnosis history, and restore them
//     on start
//
// Integration Points:
//   - internal/analytics: Pipeline and Engine
//   - internal/db: SQLite store
//   - internal/audit: audit trail of diagnoses, baselines and sensors
//   - internal/integration/events: AMQP ingest and publish

// Version is the service version reported by /info.
var Version = "0.1.0"

// pruneInterval is the period of the diagnosis history pruning loop.
const pruneInterval = time.Hour

// Server represents the sensordx server
type Server struct {
	config *config.Config
	logger *zap.Logger

	// Core components
	pipeline *analytics.Pipeline
	samples  *timeseries.Tiered
	store    db.Store
	auditLog audit.Logger

	// Messaging
	consumer  *events.Consumer
	publisher *events.Publisher

	// Servers
	httpServer  *http.Server
	httpAddr    net.Addr
	grpcHealth  *healthService
	rateLimiter *middleware.RateLimiter

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// State
	mu      sync.RWMutex
	running bool
}

// Option customises a Server.
type Option func(*Server)

// WithStore injects the persistence store instead of opening the configured
// SQLite database.
func WithStore(store db.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithAuditLogger injects the audit logger instead of creating one from the
// logging configuration.
func WithAuditLogger(l audit.Logger) Option {
	return func(s *Server) { s.auditLog = l }
}

// NewServer creates a new sensordx server
func NewServer(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config: cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, o := range opts {
		o(s)
	}

	if err := s.initializeComponents(); err != nil {
		cancel()
		s.closeComponents()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}
	return s, nil
}

// initializeComponents initializes all server components
func (s *Server) initializeComponents() error {
	// 1. Persistence
	if s.store == nil {
		if s.config.Database.SQLitePath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(s.config.Database.SQLitePath), 0o755); err != nil {
				return fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		store, err := db.NewSQLiteStore(s.config.Database.SQLitePath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		s.store = store
	}

	// 2. Audit trail
	if s.auditLog == nil && s.config.Logging.AuditLogPath != "" {
		auditLog, err := audit.NewLogger(&audit.Config{
			AuditLogPath: s.config.Logging.AuditLogPath,
			MaxSize:      s.config.Logging.MaxSizeMB,
			MaxBackups:   s.config.Logging.MaxBackups,
			MaxAge:       s.config.Logging.MaxAgeDays,
			Compress:     s.config.Logging.Compress,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize audit logger: %w", err)
		}
		s.auditLog = auditLog
	}

	// 3. Sample store
	var archive *timeseries.Archive
	if s.config.Archive.Enabled {
		a, err := timeseries.OpenArchive(timeseries.ArchiveConfig{
			Path:             s.config.Archive.Path,
			Retention:        time.Duration(s.config.Archive.RetentionDays) * 24 * time.Hour,
			CompressionLevel: s.config.Archive.CompressionLevel,
		})
		if err != nil {
			return fmt.Errorf("failed to open sample archive: %w", err)
		}
		archive = a
	}
	s.samples = timeseries.NewTiered(timeseries.NewHotStore(s.config.Analytics.HotCapacity), archive)

	// 4. Engine and pipeline
	engine, err := BuildEngine(s.config)
	if err != nil {
		return err
	}
	pipeline, err := analytics.NewPipeline(PipelineConfig(s.config), engine, s.samples,
		analytics.WithLogger(s.logger),
		analytics.WithResultSink(s.persistDiagnosis),
		analytics.WithResultSink(s.auditDiagnosis),
		analytics.WithResultSink(s.publishDiagnosis),
		analytics.WithBaselineSink(s.persistBaseline),
	)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	s.pipeline = pipeline

	// 5. Messaging
	if s.config.Messaging.Enabled {
		handler := events.NewBatchHandler(persistentIngestor{Pipeline: s.pipeline, s: s}, s.config.Messaging.DiagnoseOnIngest, s.logger)
		s.consumer = events.NewConsumer(events.ConsumerConfig{
			URL:        s.config.Messaging.URL,
			Exchange:   s.config.Messaging.Exchange,
			Queue:      s.config.Messaging.Queue,
			RoutingKey: s.config.Messaging.RoutingKey,
			Prefetch:   s.config.Messaging.Prefetch,
		}, handler, s.logger)
	}

	// 6. Transport helpers
	s.rateLimiter = middleware.NewRateLimiter(s.config.Server.RateLimitPerMinute)
	s.grpcHealth = newHealthService(s.logger)

	return nil
}

// Start restores persisted state and starts every listener and loop.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.restore(s.ctx); err != nil {
		s.setRunning(false)
		return fmt.Errorf("failed to restore state: %w", err)
	}

	// HTTP
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		s.setRunning(false)
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.httpAddr = lis.Addr()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if s.config.Server.TLSEnabled {
		cert, err := tls.LoadX509KeyPair(s.config.Server.TLSCertPath, s.config.Server.TLSKeyPath)
		if err != nil {
			_ = lis.Close()
			s.setRunning(false)
			return fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		s.httpServer.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
		lis = tls.NewListener(lis, s.httpServer.TLSConfig)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("HTTP server starting", zap.String("address", s.httpAddr.String()))
		if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	// gRPC health
	grpcAddr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.GRPCPort)
	if err := s.grpcHealth.Start(grpcAddr, s.config.Server.TLSEnabled, s.config.Server.TLSCertPath, s.config.Server.TLSKeyPath); err != nil {
		s.logger.Error("gRPC health server not started", zap.Error(err))
	}

	// Messaging
	if s.consumer != nil {
		publisher, err := events.DialPublisher(s.config.Messaging.URL, s.config.Messaging.Exchange, s.config.Messaging.ResultRoutingKey, s.logger)
		if err != nil {
			s.logger.Warn("result publisher unavailable", zap.Error(err))
		} else {
			s.mu.Lock()
			s.publisher = publisher
			s.mu.Unlock()
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_ = s.consumer.Run(s.ctx)
		}()
	}

	// Pipeline and housekeeping
	s.pipeline.Start(s.ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pruneLoop(s.ctx)
	}()

	s.grpcHealth.SetServing(true)
	s.logAudit(audit.NewEvent(audit.EventServerStarted).
		WithResult(audit.ResultSuccess).
		WithMetadata("address", s.httpAddr.String()).
		WithMetadata("version", Version))

	s.logger.Info("sensordx server started",
		zap.String("http", s.httpAddr.String()),
		zap.Int("grpc_port", s.config.Server.GRPCPort),
		zap.Bool("archive", s.samples.Archived()),
		zap.Bool("messaging", s.consumer != nil),
		zap.Int("sensors", len(s.pipeline.Sensors())),
	)
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("stopping sensordx server")
	s.grpcHealth.SetServing(false)

	var errs []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown HTTP server: %w", err))
		}
	}
	s.grpcHealth.Stop()

	s.cancel()
	s.pipeline.Stop()
	s.wg.Wait()

	s.logAudit(audit.NewEvent(audit.EventServerShutdown).WithResult(audit.ResultSuccess))
	s.closeComponents()

	s.logger.Info("sensordx server stopped")
	return errors.Join(errs...)
}

func (s *Server) closeComponents() {
	s.mu.Lock()
	publisher := s.publisher
	s.publisher = nil
	s.mu.Unlock()
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			s.logger.Warn("failed to close publisher", zap.Error(err))
		}
	}
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.samples != nil {
		if err := s.samples.Close(); err != nil {
			s.logger.Warn("failed to close sample store", zap.Error(err))
		}
	}
	if s.auditLog != nil {
		if err := s.auditLog.Close(); err != nil {
			s.logger.Warn("failed to close audit log", zap.Error(err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("failed to close database", zap.Error(err))
		}
	}
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Server) setRunning(v bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
}

// Addr returns the bound HTTP address once started.
func (s *Server) Addr() net.Addr { return s.httpAddr }

// Pipeline returns the live pipeline
func (s *Server) Pipeline() *analytics.Pipeline { return s.pipeline }

// Handler returns the HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHandlers(mux)
	return s.rateLimiter.Middleware(mux)
}

// registerHandlers registers HTTP handlers
func (s *Server) registerHandlers(mux *http.ServeMux) {
	// Health checks
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /info", s.handleInfo)
	if s.config.Metrics.Enabled {
		mux.Handle("GET "+s.config.Metrics.Path, promhttp.Handler())
	}

	// Diagnosis
	mux.HandleFunc("POST /api/v1/diagnose", s.handleDiagnose)

	// Sensors
	mux.HandleFunc("GET /api/v1/sensors", s.handleListSensors)
	mux.HandleFunc("POST /api/v1/sensors", s.handleRegisterSensor)
	mux.HandleFunc("GET /api/v1/sensors/{id}", s.handleGetSensor)
	mux.HandleFunc("DELETE /api/v1/sensors/{id}", s.handleDeleteSensor)
	mux.HandleFunc("POST /api/v1/sensors/{id}/samples", s.handleIngest)
	mux.HandleFunc("POST /api/v1/sensors/{id}/diagnose", s.handleDiagnoseLive)
	mux.HandleFunc("POST /api/v1/sensors/{id}/baseline", s.handleTrainBaseline)
	mux.HandleFunc("GET /api/v1/sensors/{id}/baseline", s.handleGetBaseline)
	mux.HandleFunc("GET /api/v1/sensors/{id}/diagnoses", s.handleListDiagnoses)

	// Streaming
	mux.HandleFunc("GET /ws/diagnoses", s.handleDiagnosisStream)
}

// pruneLoop drops diagnosis history older than the archive retention.
func (s *Server) pruneLoop(ctx context.Context) {
	days := s.config.Archive.RetentionDays
	if days <= 0 {
		return
	}
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.prune(ctx, time.Now().Add(-time.Duration(days)*24*time.Hour))
		}
	}
}

func (s *Server) prune(ctx context.Context, before time.Time) {
	n, err := s.store.PruneDiagnoses(ctx, before)
	if err != nil {
		s.logger.Warn("failed to prune diagnosis history", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("pruned diagnosis history", zap.Int64("rows", n), zap.Time("before", before))
	}
}

// GRPCAddr returns the bound gRPC health address once started.
func (s *Server) GRPCAddr() net.Addr { return s.grpcHealth.Addr() }

// ConfigChanged records a configuration file change. Listener, storage and
// engine settings apply on the next restart.
func (s *Server) ConfigChanged(cfg config.Config) {
	s.logger.Info("configuration file changed; restart to apply",
		zap.Int("port", cfg.Server.Port),
		zap.Int("workers", cfg.Analytics.Workers),
		zap.Bool("messaging", cfg.Messaging.Enabled))
	s.logAudit(audit.NewEvent(audit.EventConfigChanged).
		WithResult(audit.ResultSuccess).
		WithDescription("configuration file changed"))
}
