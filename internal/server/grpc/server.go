// Package grpc serves the VoiceControl service so other local processes can
// drive recording and listening.
package grpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// Server wraps the gRPC server and services
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	logger     *slog.Logger
}

// NewServer creates a gRPC server exposing ctl as the VoiceControl service
// plus the standard health service.
func NewServer(ctl Controller, logger *slog.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(logUnary(logger))}, opts...)
	s := &Server{
		grpcServer: grpc.NewServer(opts...),
		health:     health.NewServer(),
		logger:     logger,
	}

	RegisterVoiceControlServer(s.grpcServer, &voiceControl{ctl: ctl})
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	return s
}

// ListenAndServe listens on addr and serves until Stop is called
func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(lis)
}

// Serve accepts connections on lis until Stop is called
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC server listening", "addr", lis.Addr().String())
	return s.grpcServer.Serve(lis)
}

// Stop marks the service as not serving and stops gracefully, forcing the
// stop if ctx is done first.
func (s *Server) Stop(ctx context.Context) {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpcServer.Stop()
		<-done
	}
}

func logUnary(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		attrs := []any{
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"elapsed", time.Since(start).Round(time.Millisecond),
		}
		if err != nil {
			logger.Warn("rpc failed", append(attrs, "error", err)...)
		} else {
			logger.Debug("rpc", attrs...)
		}
		return resp, err
	}
}
