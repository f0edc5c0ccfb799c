// Package status serves the standard gRPC health protocol for a running
// sweep: SERVING while a sweep is measuring, NOT_SERVING otherwise. A second
// service reports whether every finished axis point succeeded.
package status

import (
	"context"
	"fmt"
	"log"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rasterbench/rasterbench/internal/report"
)

const (
	// ServiceName is the health service name reporting sweep activity.
	ServiceName = "rasterbench.sweep"

	// PointsServiceName turns NOT_SERVING once an axis point of the current
	// sweep has failed, and keeps that state after the sweep ends.
	PointsServiceName = "rasterbench.sweep.points"
)

// Server is a gRPC health endpoint and a sweep sink.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
}

// Listen starts serving on addr. The sweep service starts as NOT_SERVING.
func Listen(addr string) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("status: failed to listen on %s: %w", addr, err)
	}

	s := &Server{
		grpcServer: grpc.NewServer(),
		health:     health.NewServer(),
		listener:   lis,
	}
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	s.health.SetServingStatus(PointsServiceName, healthpb.HealthCheckResponse_SERVING)

	go func() {
		if err := s.grpcServer.Serve(lis); err != nil && err != grpc.ErrServerStopped {
			log.Printf("[WARN] status: server stopped: %v", err)
		}
	}()
	log.Printf("status: serving health on %s", lis.Addr())
	return s, nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// SweepStarted marks both services SERVING.
func (s *Server) SweepStarted(context.Context, *report.SweepReport) error {
	s.health.SetServingStatus(PointsServiceName, healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return nil
}

// PointCompleted degrades the points service on a failed point.
func (s *Server) PointCompleted(_ context.Context, _ *report.SweepReport, point *report.AxisResult) error {
	if point.Status != report.StatusOK {
		s.health.SetServingStatus(PointsServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return nil
}

// SweepFinished marks the sweep service NOT_SERVING.
func (s *Server) SweepFinished(context.Context, *report.SweepReport) error {
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return nil
}

// Close stops the server after in-flight checks complete.
func (s *Server) Close() error {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	return nil
}
