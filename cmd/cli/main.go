// Command emolctl runs the eMoL maintenance tasks: reminder dispatch, code purge,
// reminder hygiene, expiry summaries and the PIN migration campaign.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/and161185/emol/internal/app"
	"github.com/and161185/emol/internal/config"
	"github.com/and161185/emol/internal/logger"
	"github.com/and161185/emol/internal/mail"
	"github.com/and161185/emol/internal/service"
)

// Exit codes.
const (
	exitOK    = 0
	exitError = 1 // storage or configuration failure
	exitUsage = 2 // bad arguments
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// opener builds the application for one command.
type opener func(ctx context.Context, cfg *config.Config, backend string, log *zap.Logger) (*app.App, error)

func openApp(ctx context.Context, cfg *config.Config, backend string, log *zap.Logger) (*app.App, error) {
	return app.Open(ctx, cfg, app.Options{Backend: backend, Log: log})
}

type cli struct {
	out, errOut io.Writer
	open        opener
	// log overrides the logger built from the configured environment.
	log *zap.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &cli{out: os.Stdout, errOut: os.Stderr, open: openApp}
	os.Exit(c.run(ctx, os.Args[1:]))
}

func (c *cli) usage() {
	fmt.Fprintf(c.errOut, `emolctl
Usage:
  emolctl [-config file] [-store postgres|memory] [-json] <cmd> [args]

Commands:
  version
  reminder_dispatch   [--dry-run]
  onetimecode_purge
  reminder_hygiene    [--fix]
  summarize_expiries  [--period day|week|month] [--days N] [--detailed]
  pin_migration       [--stage initial|reminder|final] [--dry-run] [--limit N]
`)
}

// command registers its flags and returns a validator run after parsing; a validation error is a usage error.
type command struct {
	flags func(fs *flag.FlagSet) func() error
	run   func(ctx context.Context, a *app.App) (any, error)
}

func commands() map[string]func() command {
	return map[string]func() command{
		"reminder_dispatch":  dispatchCmd,
		"onetimecode_purge":  purgeCmd,
		"reminder_hygiene":   hygieneCmd,
		"summarize_expiries": summaryCmd,
		"pin_migration":      migrationCmd,
	}
}

func (c *cli) run(ctx context.Context, args []string) int {
	global := flag.NewFlagSet("emolctl", flag.ContinueOnError)
	global.SetOutput(c.errOut)
	global.Usage = c.usage
	cfgPath := global.String("config", "", "config file; env EMOL_* overrides")
	backend := global.String("store", app.BackendPostgres, "storage backend: postgres|memory")
	asJSON := global.Bool("json", false, "print the report as JSON")
	if err := global.Parse(args); err != nil {
		return exitUsage
	}
	if global.NArg() < 1 {
		c.usage()
		return exitUsage
	}

	name, rest := global.Arg(0), global.Args()[1:]
	if name == "version" {
		fmt.Fprintf(c.out, "emolctl %s (%s)\n", version, buildDate)
		return exitOK
	}
	mk, ok := commands()[name]
	if !ok {
		fmt.Fprintf(c.errOut, "unknown command %q\n", name)
		c.usage()
		return exitUsage
	}

	cmd := mk()
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.errOut)
	validate := cmd.flags(fs)
	if err := fs.Parse(rest); err != nil {
		return exitUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(c.errOut, "%s: unexpected arguments %v\n", name, fs.Args())
		return exitUsage
	}
	if err := validate(); err != nil {
		fmt.Fprintf(c.errOut, "%s: %v\n", name, err)
		return exitUsage
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(c.errOut, "config: %v\n", err)
		return exitError
	}
	log := c.log
	if log == nil {
		if log, err = logger.New(cfg.App.Env); err != nil {
			fmt.Fprintf(c.errOut, "logger: %v\n", err)
			return exitError
		}
		defer func() { _ = log.Sync() }()
	}

	a, err := c.open(ctx, cfg, *backend, log)
	if err != nil {
		fmt.Fprintf(c.errOut, "open: %v\n", err)
		if errors.Is(err, app.ErrUnknownBackend) {
			return exitUsage
		}
		return exitError
	}
	defer a.Close()

	rep, err := cmd.run(ctx, a)
	if err != nil {
		log.Error("command failed", zap.String("cmd", name), zap.Error(err))
		fmt.Fprintf(c.errOut, "%s: %v\n", name, err)
		return exitError
	}
	if *asJSON {
		c.printJSON(rep)
	} else {
		printReport(c.out, rep)
	}
	return exitOK
}

func (c *cli) printJSON(v any) {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func noCheck() error { return nil }

func dispatchCmd() command {
	var dryRun bool
	return command{
		flags: func(fs *flag.FlagSet) func() error {
			fs.BoolVar(&dryRun, "dry-run", false, "report what would be sent without sending or deleting")
			return noCheck
		},
		run: func(ctx context.Context, a *app.App) (any, error) {
			return a.Services.Dispatcher.Dispatch(ctx, dryRun)
		},
	}
}

// PurgeReport is the onetimecode_purge result.
type PurgeReport struct {
	Purged int64
}

func purgeCmd() command {
	return command{
		flags: func(*flag.FlagSet) func() error { return noCheck },
		run: func(ctx context.Context, a *app.App) (any, error) {
			n, err := a.Services.Codes.Purge(ctx)
			return PurgeReport{Purged: n}, err
		},
	}
}

func hygieneCmd() command {
	var fix bool
	return command{
		flags: func(fs *flag.FlagSet) func() error {
			fs.BoolVar(&fix, "fix", false, "create missing reminders")
			return noCheck
		},
		run: func(ctx context.Context, a *app.App) (any, error) {
			return a.Services.Hygiene.Run(ctx, fix)
		},
	}
}

func summaryCmd() command {
	var (
		period   string
		days     int
		detailed bool
		opts     service.SummaryOptions
	)
	return command{
		flags: func(fs *flag.FlagSet) func() error {
			fs.StringVar(&period, "period", string(service.PeriodWeek), "window: day|week|month")
			fs.IntVar(&days, "days", 0, "window length in days, overrides --period")
			fs.BoolVar(&detailed, "detailed", false, "break the summary down by date")
			return func() error {
				p, err := service.ParsePeriod(period)
				if err != nil {
					return err
				}
				if days < 0 {
					return errors.New("--days must not be negative")
				}
				opts = service.SummaryOptions{Period: p, Days: days, Detailed: detailed}
				return nil
			}
		},
		run: func(ctx context.Context, a *app.App) (any, error) {
			return a.Services.Summary.Summarize(ctx, opts)
		},
	}
}

func migrationCmd() command {
	var (
		stage  string
		dryRun bool
		limit  int
		opts   service.MigrationOptions
	)
	return command{
		flags: func(fs *flag.FlagSet) func() error {
			fs.StringVar(&stage, "stage", string(mail.StageInitial), "campaign stage: initial|reminder|final")
			fs.BoolVar(&dryRun, "dry-run", false, "list targets without sending")
			fs.IntVar(&limit, "limit", 0, "at most N combatants (0 = all)")
			return func() error {
				st, err := mail.ParseStage(stage)
				if err != nil {
					return err
				}
				if limit < 0 {
					return errors.New("--limit must not be negative")
				}
				opts = service.MigrationOptions{Stage: st, DryRun: dryRun, Limit: limit}
				return nil
			}
		},
		run: func(ctx context.Context, a *app.App) (any, error) {
			return a.Services.Migration.Run(ctx, opts)
		},
	}
}
