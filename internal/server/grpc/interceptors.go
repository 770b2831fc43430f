package grpcserver

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/emol/internal/ids"
	"github.com/and161185/emol/internal/obs"
)

const (
	healthPrefix    = "/grpc.health.v1.Health/"
	requestIDHeader = "x-request-id"
)

type requestIDKey struct{}

// RequestID returns the correlation id attached by RequestIDUnary, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestIDUnary takes the caller's x-request-id or issues a new one, and echoes it in the response header.
func RequestIDUnary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		var id string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get(requestIDHeader); len(v) > 0 {
				id = v[0]
			}
		}
		if id == "" {
			id = ids.NewRun().String()
		}
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDHeader, id))
		return next(context.WithValue(ctx, requestIDKey{}, id), req)
	}
}

// LoggingUnary logs each call once. Health probes are logged at debug.
func LoggingUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		code := status.Code(err)

		// metadata only, never payloads: requests may carry PINs
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("dur", time.Since(start)),
		}
		if id := RequestID(ctx); id != "" {
			fields = append(fields, zap.String("request_id", id))
		}
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			fields = append(fields, zap.String("peer", p.Addr.String()))
		}

		switch {
		case code != codes.OK && code != codes.NotFound:
			log.Warn("grpc", append(fields, zap.Error(err))...)
		case strings.HasPrefix(info.FullMethod, healthPrefix):
			log.Debug("grpc", fields...)
		default:
			log.Info("grpc", fields...)
		}
		return resp, err
	}
}

// MetricsUnary counts calls by method and status code.
func MetricsUnary(m *obs.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		resp, err := next(ctx, req)
		m.RPC(info.FullMethod, status.Code(err).String())
		return resp, err
	}
}

// RecoverUnary turns a handler panic into codes.Internal. It must sit inside
// the logging and metrics interceptors so a panic is still logged and counted.
func RecoverUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			log.Error("panic",
				zap.String("method", info.FullMethod),
				zap.String("request_id", RequestID(ctx)),
				zap.Any("reason", r),
				zap.ByteString("stack", debug.Stack()),
			)
			resp, err = nil, status.Error(codes.Internal, "internal")
		}()
		return next(ctx, req)
	}
}
