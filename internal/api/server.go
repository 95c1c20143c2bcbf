package api

import (
	"context"
	"fmt"
	"net"
	"time"

	"clinica/internal/config"
	"clinica/internal/domain"
	"clinica/internal/logging"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the grpc.health.v1 service reported alongside the overall status.
const ServiceName = "clinica.Appointments"

// GRPCServer exposes grpc.health.v1 for orchestrators, reflecting whether
// the appointment store answers.
type GRPCServer struct {
	server   *grpc.Server
	health   *health.Server
	store    domain.Pinger
	listener net.Listener
	log      *zerolog.Logger
}

func NewGRPCServer(cfg config.APIConfig, store domain.Pinger, logger *zerolog.Logger) (*GRPCServer, error) {
	addr := fmt.Sprintf(":%d", cfg.GRPC.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen %s: %w", addr, err)
	}

	auth := NewAuthInterceptor(cfg, newRateLimiter(cfg.RateLimit))
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(ChainUnaryInterceptors(
			LoggingUnaryInterceptor(logger),
			auth.Unary(),
		)),
		grpc.StreamInterceptor(ChainStreamInterceptors(auth.Stream())),
	)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	if cfg.GRPC.Reflection {
		reflection.Register(grpcServer)
	}

	s := &GRPCServer{
		server:   grpcServer,
		health:   healthServer,
		store:    store,
		listener: lis,
		log:      logging.Component(logger, "grpc"),
	}
	s.CheckHealth(context.Background())
	return s, nil
}

func (s *GRPCServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *GRPCServer) Serve() error {
	s.log.Info().Str("addr", s.Addr()).Msg("gRPC API listening")
	return s.server.Serve(s.listener)
}

// CheckHealth pings the store once and publishes the result.
func (s *GRPCServer) CheckHealth(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := s.store.Ping(ctx); err != nil {
		s.log.Warn().Err(err).Msg("store ping failed")
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}

// WatchHealth re-checks the store every interval until ctx ends.
func (s *GRPCServer) WatchHealth(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CheckHealth(ctx)
		}
	}
}

func (s *GRPCServer) Shutdown(ctx context.Context) {
	if s.server == nil {
		return
	}
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
		s.log.Warn().Msg("gRPC graceful shutdown timed out; forcing stop")
		s.server.Stop()
		return
	case <-time.After(10 * time.Second):
		s.log.Warn().Msg("gRPC graceful shutdown timed out; forcing stop")
		s.server.Stop()
		return
	}
}
