// Package app wires configuration into storage, ports and services for the binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	red "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/and161185/emol/internal/clock"
	"github.com/and161185/emol/internal/config"
	"github.com/and161185/emol/internal/feature"
	"github.com/and161185/emol/internal/grant"
	"github.com/and161185/emol/internal/limiter"
	"github.com/and161185/emol/internal/mail"
	"github.com/and161185/emol/internal/migrate"
	"github.com/and161185/emol/internal/obs"
	"github.com/and161185/emol/internal/repository"
	"github.com/and161185/emol/internal/repository/memory"
	"github.com/and161185/emol/internal/repository/postgres"
	"github.com/and161185/emol/internal/service"
)

// Storage backends.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// ErrUnknownBackend is returned for a backend other than postgres or memory.
var ErrUnknownBackend = errors.New("unknown storage backend")

// Options select how Open builds the application.
type Options struct {
	Backend string
	// Migrate applies pending schema migrations before opening the pool.
	Migrate bool
	// Memory is used by the memory backend; nil creates an empty store.
	Memory *memory.Store
	// Registry receives the collectors; nil means a private registry.
	Registry prometheus.Registerer
	Clock    clock.Clock
	Log      *zap.Logger
}

// App is the wired application.
type App struct {
	Config   *config.Config
	Store    repository.Store
	Switches *feature.Switches
	Services *service.Services
	Metrics  *obs.Metrics

	ping    func(context.Context) error
	closers []func()
}

// Open builds the store for opts.Backend and wires every service on top of it.
// Close must be called to release connections.
func Open(ctx context.Context, cfg *config.Config, opts Options) (_ *App, err error) {
	if cfg == nil {
		cfg = config.Default()
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}

	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	policy := limiter.Policy{MaxAttempts: cfg.PIN.MaxAttempts, Lockout: cfg.PIN.Lockout}
	var lim limiter.Limiter

	switch opts.Backend {
	case BackendPostgres, "":
		if opts.Migrate {
			if err := migrate.Up(ctx, cfg.Postgres.DSN, log); err != nil {
				return nil, err
			}
		}
		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("pgxpool: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		a.Store = &postgres.DB{Pool: pool}
		a.ping = pool.Ping
		lim = limiter.NewPG(pool, policy, clk)
	case BackendMemory:
		st := opts.Memory
		if st == nil {
			st = memory.New()
		}
		a.Store = st
		a.ping = func(context.Context) error { return nil }
		lim = memory.NewLimiter(st, policy, clk)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}

	var cache feature.Cache
	if cfg.Redis.Addr != "" {
		client := red.NewClient(&red.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, func() { _ = client.Close() })
		cache = feature.NewRedisCache(client, cfg.Redis.Prefix)
	}
	a.Switches = feature.NewSwitches(a.Store.Repos().Switches, cache, cfg.Feature.CacheTTL, log.Named("feature"))

	sender, err := mail.FromConfig(cfg.Mail, log.Named("mail"))
	if err != nil {
		return nil, err
	}
	grants, err := grant.NewIssuer([]byte(cfg.PIN.GrantKey), cfg.PIN.GrantTTL, clk)
	if err != nil {
		return nil, err
	}
	if a.Metrics, err = obs.NewMetrics(reg); err != nil {
		return nil, err
	}

	a.Services = service.New(service.Deps{
		Store:   a.Store,
		Limiter: lim,
		Mail:    sender,
		Gate:    a.Switches,
		Grants:  grants,
		Clock:   clk,
		Config:  cfg,
		Log:     log,
		Metrics: a.Metrics,
	})
	return a, nil
}

// Ping checks that storage answers.
func (a *App) Ping(ctx context.Context) error { return a.ping(ctx) }

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
