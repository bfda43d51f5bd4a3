package grpcx

import (
	"context"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// HealthServer serves grpc.health.v1 for orchestrators and mirrors the
// HTTP readiness checks into the serving status.
type HealthServer struct {
	server  *grpc.Server
	health  *health.Server
	service string
	logger  *slog.Logger
}

func NewHealthServer(service string, logger *slog.Logger) *HealthServer {
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			UnaryServerRequestIDInterceptor(),
			UnaryServerLogInterceptor(logger),
		),
	)
	h := health.NewServer()
	healthpb.RegisterHealthServer(srv, h)
	reflection.Register(srv)
	h.SetServingStatus(service, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthServer{server: srv, health: h, service: service, logger: logger}
}

// Serve blocks until the listener fails or Stop is called.
func (s *HealthServer) Serve(lis net.Listener) error {
	return s.server.Serve(lis)
}

// Watch runs check every interval and flips the serving status accordingly.
func (s *HealthServer) Watch(ctx context.Context, interval time.Duration, check func(context.Context) error) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	s.apply(ctx, check)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.apply(ctx, check)
		}
	}
}

func (s *HealthServer) apply(ctx context.Context, check func(context.Context) error) {
	status := healthpb.HealthCheckResponse_SERVING
	if check != nil {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := check(cctx)
		cancel()
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			if s.logger != nil {
				s.logger.Warn("health check failed", "err", err)
			}
		}
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(s.service, status)
}

func (s *HealthServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}
