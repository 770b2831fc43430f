package grpcserver

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/emol/internal/ids"
	"github.com/and161185/emol/internal/obs"
)

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "127.0.0.1:12345" }

var okHandler = func(ctx context.Context, req any) (any, error) { return "ok", nil }

func TestRequestIDUnary(t *testing.T) {
	t.Parallel()

	ic := RequestIDUnary()
	info := &grpc.UnaryServerInfo{FullMethod: "/emol.Store/Ping"}
	var seen string
	h := func(ctx context.Context, req any) (any, error) {
		seen = RequestID(ctx)
		return nil, nil
	}

	in := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-request-id", "abc-123"))
	if _, err := ic(in, nil, info, h); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if seen != "abc-123" {
		t.Fatalf("caller id not propagated: %q", seen)
	}

	if _, err := ic(context.Background(), nil, info, h); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if _, err := ids.Parse(seen); err != nil {
		t.Fatalf("generated id %q: %v", seen, err)
	}
	if RequestID(context.Background()) != "" {
		t.Fatalf("bare context should carry no id")
	}
}

func TestLoggingUnary_Fields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	ic := LoggingUnary(zap.New(core))

	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: fakeAddr{}})
	ctx = context.WithValue(ctx, requestIDKey{}, "req-1")
	resp, err := ic(ctx, "1234", &grpc.UnaryServerInfo{FullMethod: "/emol.Store/Ping"}, okHandler)
	if err != nil || resp != "ok" {
		t.Fatalf("unexpected result: %v, %v", resp, err)
	}

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("want 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["peer"] != "127.0.0.1:12345" || fields["request_id"] != "req-1" || fields["code"] != "OK" {
		t.Fatalf("fields: %v", fields)
	}
	for _, v := range fields {
		if v == "1234" {
			t.Fatalf("request payload leaked into log: %v", fields)
		}
	}
}

func TestLoggingUnary_LevelByOutcome(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	ic := LoggingUnary(zap.New(core))
	wantErr := errors.New("boom")
	failing := func(code codes.Code) grpc.UnaryHandler {
		return func(ctx context.Context, req any) (any, error) {
			return nil, status.Error(code, "x")
		}
	}

	cases := []struct {
		method string
		h      grpc.UnaryHandler
		level  zapcore.Level
	}{
		{"/grpc.health.v1.Health/Check", okHandler, zapcore.DebugLevel},
		{"/emol.Store/Ping", okHandler, zapcore.InfoLevel},
		{"/emol.Store/Ping", failing(codes.NotFound), zapcore.InfoLevel},
		{"/emol.Store/Ping", failing(codes.Unavailable), zapcore.WarnLevel},
		{"/emol.Store/Ping", func(ctx context.Context, req any) (any, error) { return nil, wantErr }, zapcore.WarnLevel},
	}
	for i, tc := range cases {
		_, _ = ic(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: tc.method}, tc.h)
		entries := logs.All()
		if len(entries) != i+1 {
			t.Fatalf("case %d: want %d entries, got %d", i, i+1, len(entries))
		}
		if got := entries[i].Level; got != tc.level {
			t.Fatalf("case %d (%s): level %v, want %v", i, tc.method, got, tc.level)
		}
	}

	_, err := ic(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/emol.Store/Ping"},
		func(ctx context.Context, req any) (any, error) { return nil, wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("want original error, got: %v", err)
	}
}

func TestRecoverUnary(t *testing.T) {
	t.Parallel()

	ic := RecoverUnary(zaptest.NewLogger(t))
	info := &grpc.UnaryServerInfo{FullMethod: "/emol.Store/Ping"}

	_, err := ic(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		panic("oh no")
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("want codes.Internal, got: %v", err)
	}

	resp, err := ic(context.Background(), nil, info, okHandler)
	if err != nil || resp != "ok" {
		t.Fatalf("unexpected result: %v, %v", resp, err)
	}
}

func TestChain_PanicIsLoggedAndCounted(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := obs.NewMetrics(reg)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	core, logs := observer.New(zapcore.InfoLevel)
	log := zap.New(core)

	chain := []grpc.UnaryServerInterceptor{RequestIDUnary(), MetricsUnary(m), LoggingUnary(log), RecoverUnary(log)}
	info := &grpc.UnaryServerInfo{FullMethod: "/emol.Store/Ping"}
	var h grpc.UnaryHandler = func(ctx context.Context, req any) (any, error) { panic("oh no") }
	for i := len(chain) - 1; i >= 0; i-- {
		ic, next := chain[i], h
		h = func(ctx context.Context, req any) (any, error) { return ic(ctx, req, info, next) }
	}

	if _, err := h(context.Background(), nil); status.Code(err) != codes.Internal {
		t.Fatalf("want codes.Internal, got: %v", err)
	}
	if n := logs.FilterMessage("panic").Len(); n != 1 {
		t.Fatalf("panic entries: %d", n)
	}
	if n := logs.FilterMessage("grpc").FilterField(zap.String("code", "Internal")).Len(); n != 1 {
		t.Fatalf("call entries with code Internal: %d", n)
	}
	if n, err := testutil.GatherAndCount(reg, "emol_grpc_requests_total"); err != nil || n != 1 {
		t.Fatalf("want 1 series, got %d (%v)", n, err)
	}
}

func TestMetricsUnary_CountsByCode(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := obs.NewMetrics(reg)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	ic := MetricsUnary(m)
	info := &grpc.UnaryServerInfo{FullMethod: "/emol.Store/Ping"}

	_, _ = ic(context.Background(), nil, info, okHandler)
	_, _ = ic(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		return nil, status.Error(codes.NotFound, "nope")
	})

	n, err := testutil.GatherAndCount(reg, "emol_grpc_requests_total")
	if err != nil || n != 2 {
		t.Fatalf("want 2 series, got %d (%v)", n, err)
	}
}
