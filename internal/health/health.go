// Package health serves the standard gRPC health protocol for the server and
// its detection dependency.
package health

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// DetectionService is the health check name reporting the detection feed.
const DetectionService = "soferklesia.detection"

// Server owns the health status table and, once Listen is called, a gRPC
// server exposing it. All methods are safe on a nil *Server.
type Server struct {
	health     *health.Server
	grpcServer *grpc.Server
	listener   net.Listener
	logger     *log.Logger
}

// New marks the server SERVING and the detection feed NOT_SERVING until the
// first successful poll.
func New(logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	hs := health.NewServer()
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	hs.SetServingStatus(DetectionService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return &Server{health: hs, logger: logger}
}

// Listen binds addr and registers the health service on a new gRPC server.
func (s *Server) Listen(addr string) error {
	if s == nil {
		return errors.New("health server is nil")
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.listener = lis
	s.grpcServer = grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(s.grpcServer, s.health)
	return nil
}

// Addr returns the listener address, or "" before Listen.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// SetDetectionServing records whether the last detection poll succeeded.
func (s *Server) SetDetectionServing(serving bool) {
	if s == nil {
		return
	}
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(DetectionService, status)
}

// Status returns the status name for service ("" is the whole server).
func (s *Server) Status(ctx context.Context, service string) (string, error) {
	if s == nil {
		return grpc_health_v1.HealthCheckResponse_SERVING.String(), nil
	}
	resp, err := s.health.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		return "", err
	}
	return resp.GetStatus().String(), nil
}

// Serve runs the gRPC server until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil || s.grpcServer == nil {
		return errors.New("health server is not listening")
	}

	s.logger.Printf("grpc health listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
		err := <-serveErr
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}
}
