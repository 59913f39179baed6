package health_test

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/BrandonDHaskell/Soferklesia/internal/health"
)

func TestStatus_DetectionTransitions(t *testing.T) {
	ctx := context.Background()
	s := health.New(log.New(io.Discard, "", 0))

	if got, _ := s.Status(ctx, ""); got != "SERVING" {
		t.Errorf("expected server SERVING, got %s", got)
	}
	if got, _ := s.Status(ctx, health.DetectionService); got != "NOT_SERVING" {
		t.Errorf("expected detection NOT_SERVING before first poll, got %s", got)
	}
	s.SetDetectionServing(true)
	if got, _ := s.Status(ctx, health.DetectionService); got != "SERVING" {
		t.Errorf("expected detection SERVING, got %s", got)
	}
	if _, err := s.Status(ctx, "unknown.Service"); err == nil {
		t.Error("expected error for unknown service")
	}
}

func TestNilServerIsSafe(t *testing.T) {
	var s *health.Server
	s.SetDetectionServing(true)
	if s.Addr() != "" {
		t.Error("expected empty addr")
	}
	if got, err := s.Status(context.Background(), ""); err != nil || got != "SERVING" {
		t.Errorf("unexpected nil status %q, %v", got, err)
	}
}

func TestServe_AnswersHealthChecks(t *testing.T) {
	s := health.New(log.New(io.Discard, "", 0))
	if err := s.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() { serveErr <- s.Serve(ctx) }()

	conn, err := gogrpc.NewClient(s.Addr(), gogrpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	s.SetDetectionServing(true)
	cctx, ccancel := context.WithTimeout(ctx, 2*time.Second)
	defer ccancel()
	resp, err := grpc_health_v1.NewHealthClient(conn).Check(cctx, &grpc_health_v1.HealthCheckRequest{Service: health.DetectionService})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Errorf("expected SERVING, got %s", resp.GetStatus())
	}

	cancel()
	select {
	case err := <-serveErr:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
