// Package grpc exposes the standard gRPC health service, kept in step with
// the component health checker.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"talenttrade/backend/pkg/health"
	"talenttrade/backend/pkg/logger"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported for the gateway
const ServiceName = "talenttrade.Gateway"

// Server serves grpc.health.v1 on its own listener
type Server struct {
	server *grpc.Server
	health *grpchealth.Server
	log    *logger.Logger
}

// NewServer creates the gRPC server and subscribes it to checker updates
func NewServer(checker *health.Checker, log *logger.Logger) *Server {
	s := &Server{
		server: grpc.NewServer(grpc.ChainUnaryInterceptor(UnaryLoggingInterceptor(log))),
		health: grpchealth.NewServer(),
		log:    log,
	}
	healthpb.RegisterHealthServer(s.server, s.health)

	s.SetHealthy(checker.IsSystemHealthy())
	checker.OnUpdate(s.SetHealthy)
	return s
}

// SetHealthy updates the overall and gateway serving status
func (s *Server) SetHealthy(healthy bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if !healthy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Serve blocks until the listener fails or Stop is called
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("Starting gRPC server", "address", lis.Addr().String())
	if err := s.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("gRPC server error: %w", err)
	}
	return nil
}

// Stop marks every service as not serving and drains in-flight calls
func (s *Server) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}

// UnaryLoggingInterceptor logs each unary call at debug level
func UnaryLoggingInterceptor(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			log.Warn("gRPC call failed", "method", info.FullMethod, "error", err, "latency", time.Since(start))
		} else {
			log.Debug("gRPC call", "method", info.FullMethod, "latency", time.Since(start))
		}
		return resp, err
	}
}
