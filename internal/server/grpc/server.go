// Package grpcserver runs the daemon's gRPC endpoint: the standard health service,
// optional reflection and the logging, metrics and recover interceptors.
package grpcserver

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/emol/internal/obs"
)

// ServiceName is the health entry reporting storage reachability.
const ServiceName = "emol.Store"

// StopTimeout bounds graceful shutdown before in-flight calls are cut.
const StopTimeout = 5 * time.Second

// Options configure New.
type Options struct {
	Log     *zap.Logger
	Metrics *obs.Metrics
	// Reflection registers the reflection service (development only).
	Reflection bool
}

// Server wraps a grpc.Server and its health registry.
type Server struct {
	srv    *grpc.Server
	health *health.Server
	log    *zap.Logger
}

// New builds the server with the interceptor chain and health service registered.
func New(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	m := opts.Metrics
	if m == nil {
		m = obs.Discard()
	}

	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RequestIDUnary(),
			MetricsUnary(m),
			LoggingUnary(log),
			RecoverUnary(log),
		),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	if opts.Reflection {
		reflection.Register(s)
	}
	return &Server{srv: s, health: hs, log: log}
}

// SetServing flips the storage health entry.
func (s *Server) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, st)
}

// Probe runs ping and publishes the result as the storage health status.
func (s *Server) Probe(ctx context.Context, ping func(context.Context) error) error {
	err := ping(ctx)
	if err != nil {
		s.log.Warn("storage ping failed", zap.Error(err))
	}
	s.SetServing(err == nil)
	return err
}

// ListenAndServe listens on addr and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lis)
}

// Serve serves lis until ctx ends, then stops gracefully within StopTimeout.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("grpc listening", zap.String("addr", lis.Addr().String()))
		errCh <- s.srv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		done := make(chan struct{})
		go func() {
			s.srv.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(StopTimeout):
			s.srv.Stop()
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}
