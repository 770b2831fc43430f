// Package worker runs periodic tasks, one goroutine per task, under a supervisor.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/emol/internal/obs"
)

// Task is a named unit of periodic work.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Runner supervises a set of tasks.
type Runner struct {
	tasks   []*entry
	log     *zap.Logger
	metrics *obs.Metrics
}

type entry struct {
	Task
	mu sync.Mutex
}

// ErrBusy reports that a task is already running.
var ErrBusy = errors.New("task already running")

// NewRunner builds a runner; tasks with a non-positive interval run once at startup only.
func NewRunner(log *zap.Logger, metrics *obs.Metrics, tasks ...Task) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	if metrics == nil {
		metrics = obs.Discard()
	}
	r := &Runner{log: log, metrics: metrics}
	for _, t := range tasks {
		r.tasks = append(r.tasks, &entry{Task: t})
	}
	return r
}

// Run starts every task immediately and then on its interval until ctx ends.
// Task errors are logged and counted; they never stop the runner.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, e := range r.tasks {
		g.Go(func() error {
			r.loop(ctx, e)
			return nil
		})
	}
	return g.Wait()
}

// RunNow runs the named task once, unless it is already running.
func (r *Runner) RunNow(ctx context.Context, name string) error {
	for _, e := range r.tasks {
		if e.Name == name {
			return r.once(ctx, e)
		}
	}
	return fmt.Errorf("unknown task %q", name)
}

func (r *Runner) loop(ctx context.Context, e *entry) {
	_ = r.once(ctx, e)
	if e.Interval <= 0 {
		return
	}

	ticker := time.NewTicker(e.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = r.once(ctx, e)
		}
	}
}

func (r *Runner) once(ctx context.Context, e *entry) (err error) {
	if !e.mu.TryLock() {
		r.log.Warn("task still running, skipping", zap.String("task", e.Name))
		return ErrBusy
	}
	defer e.mu.Unlock()

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task %s panicked: %v", e.Name, rec)
		}
		took := time.Since(start)
		r.metrics.Task(e.Name, took, err)
		if err != nil {
			r.log.Error("task failed", zap.String("task", e.Name), zap.Duration("took", took), zap.Error(err))
			return
		}
		r.log.Info("task done", zap.String("task", e.Name), zap.Duration("took", took))
	}()

	return e.Run(ctx)
}
