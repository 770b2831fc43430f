package grpcserver

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func startBuf(t *testing.T) (*Server, healthpb.HealthClient, context.CancelFunc, <-chan error) {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	s := New(Options{Log: zaptest.NewLogger(t)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		cancel()
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return s, healthpb.NewHealthClient(conn), cancel, done
}

func check(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("check %q: %v", service, err)
	}
	return resp.GetStatus()
}

func TestServer_HealthFollowsProbe(t *testing.T) {
	s, c, cancel, done := startBuf(t)
	defer cancel()

	if got := check(t, c, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("overall status %v", got)
	}
	if got := check(t, c, ServiceName); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("store status before probe %v", got)
	}

	if err := s.Probe(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if got := check(t, c, ServiceName); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("store status after ok probe %v", got)
	}

	down := errors.New("connection refused")
	if err := s.Probe(context.Background(), func(context.Context) error { return down }); !errors.Is(err, down) {
		t.Fatalf("probe err = %v", err)
	}
	if got := check(t, c, ServiceName); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("store status after failed probe %v", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(StopTimeout + time.Second):
		t.Fatalf("serve did not return after cancel")
	}
}
