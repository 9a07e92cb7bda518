package server

import (
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// healthServiceName is the named service reported next to the overall ("")
// status.
const healthServiceName = "sensordx"

// healthService serves grpc.health.v1 for orchestrator health checks.
type healthService struct {
	logger *zap.Logger
	health *health.Server

	mu     sync.Mutex
	server *grpc.Server
	addr   net.Addr
}

func newHealthService(logger *zap.Logger) *healthService {
	h := &healthService{
		logger: logger,
		health: health.NewServer(),
	}
	h.SetServing(false)
	return h
}

// Start listens on addr and serves in the background.
func (h *healthService) Start(addr string, tlsEnabled bool, certPath, keyPath string) error {
	opts := []grpc.ServerOption{grpc.ConnectionTimeout(30 * time.Second)}
	if tlsEnabled {
		creds, err := credentials.NewServerTLSFromFile(certPath, keyPath)
		if err != nil {
			return fmt.Errorf("failed to load gRPC TLS credentials: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	h.Serve(lis, opts...)
	return nil
}

// Serve serves on an existing listener.
func (h *healthService) Serve(lis net.Listener, opts ...grpc.ServerOption) {
	s := grpc.NewServer(opts...)
	grpc_health_v1.RegisterHealthServer(s, h.health)
	reflection.Register(s)

	h.mu.Lock()
	h.server = s
	h.addr = lis.Addr()
	h.mu.Unlock()

	h.logger.Info("gRPC health server starting", zap.String("address", lis.Addr().String()))
	go func() {
		if err := s.Serve(lis); err != nil {
			h.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()
}

// SetServing flips the overall and named service status.
func (h *healthService) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(healthServiceName, status)
}

// Addr returns the bound address, or nil before Start.
func (h *healthService) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addr
}

// Stop gracefully stops the gRPC server
func (h *healthService) Stop() {
	h.mu.Lock()
	s := h.server
	h.server = nil
	h.mu.Unlock()
	if s == nil {
		return
	}

	h.health.Shutdown()
	stopped := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		h.logger.Info("gRPC server stopped gracefully")
	case <-time.After(5 * time.Second):
		h.logger.Warn("gRPC server forced to stop after timeout")
		s.Stop()
	}
}
