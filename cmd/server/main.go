// Command emold runs the periodic reminder and code-purge drivers and serves gRPC health and Prometheus metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/emol/internal/app"
	"github.com/and161185/emol/internal/config"
	"github.com/and161185/emol/internal/logger"
	"github.com/and161185/emol/internal/obs"
	grpcserver "github.com/and161185/emol/internal/server/grpc"
	"github.com/and161185/emol/internal/worker"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const probeInterval = 30 * time.Second

func main() {
	cfgPath := flag.String("config", "", "config file (yaml/json/toml); env EMOL_* overrides")
	backend := flag.String("store", app.BackendPostgres, "storage backend: postgres|memory")
	noMigrate := flag.Bool("no-migrate", false, "skip schema migrations on startup")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logger.New(cfg.App.Env)
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	log.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("store", *backend),
		zap.String("grpc", cfg.GRPC.Addr),
		zap.String("metrics", cfg.Telemetry.MetricsAddr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := app.Open(ctx, cfg, app.Options{
		Backend:  *backend,
		Migrate:  !*noMigrate,
		Registry: reg,
		Log:      log,
	})
	if err != nil {
		log.Fatal("open", zap.Error(err))
	}
	defer a.Close()

	srv := grpcserver.New(grpcserver.Options{
		Log:        log.Named("grpc"),
		Metrics:    a.Metrics,
		Reflection: cfg.App.Env != "production",
	})

	svc := a.Services
	runner := worker.NewRunner(log.Named("worker"), a.Metrics,
		worker.Task{
			Name:     "reminder_dispatch",
			Interval: cfg.Schedule.DispatchInterval,
			Run: func(ctx context.Context) error {
				_, err := svc.Dispatcher.Dispatch(ctx, false)
				return err
			},
		},
		worker.Task{
			Name:     "onetimecode_purge",
			Interval: cfg.Schedule.PurgeInterval,
			Run: func(ctx context.Context) error {
				_, err := svc.Codes.Purge(ctx)
				return err
			},
		},
		worker.Task{
			Name:     "health_probe",
			Interval: probeInterval,
			Run: func(ctx context.Context) error {
				return srv.Probe(ctx, a.Ping)
			},
		},
	)

	metricsSrv := &http.Server{
		Addr:              cfg.Telemetry.MetricsAddr,
		Handler:           metricsMux(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx) })
	g.Go(func() error { return srv.ListenAndServe(gctx, cfg.GRPC.Addr) })
	g.Go(func() error {
		log.Info("metrics listening", zap.String("addr", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), grpcserver.StopTimeout)
		defer cancel()
		return metricsSrv.Shutdown(shCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func metricsMux(g prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", obs.Handler(g))
	return mux
}
