// Package obs holds the Prometheus collectors for batch passes and PIN checks.
package obs

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reminder outcomes.
const (
	OutcomeSent       = "sent"
	OutcomeFailed     = "failed"
	OutcomeSkipped    = "skipped_privacy"
	OutcomeSuperseded = "superseded"
	OutcomeOrphan     = "orphan"
)

// Metrics wraps the collectors used by services and workers.
type Metrics struct {
	reminders    *prometheus.CounterVec
	pinChecks    *prometheus.CounterVec
	codesPurged  prometheus.Counter
	taskRuns     *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	rpcs         *prometheus.CounterVec
}

// NewMetrics registers collectors with reg; nil means the default registerer.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		reminders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "emol",
			Subsystem: "reminders",
			Name:      "processed_total",
			Help:      "Reminders handled by the dispatcher partitioned by owner kind and outcome.",
		}, []string{"kind", "outcome"}),
		pinChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "emol",
			Subsystem: "pin",
			Name:      "checks_total",
			Help:      "PIN verifications partitioned by result.",
		}, []string{"result"}),
		codesPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "emol",
			Subsystem: "codes",
			Name:      "purged_total",
			Help:      "One-time codes removed by the purge task.",
		}),
		taskRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "emol",
			Subsystem: "tasks",
			Name:      "runs_total",
			Help:      "Periodic task runs partitioned by task and status.",
		}, []string{"task", "status"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "emol",
			Subsystem: "tasks",
			Name:      "duration_seconds",
			Help:      "Periodic task run time in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task"}),
		rpcs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "emol",
			Subsystem: "grpc",
			Name:      "requests_total",
			Help:      "Unary gRPC calls partitioned by method and status code.",
		}, []string{"method", "code"}),
	}

	var err error
	if m.reminders, err = register(reg, m.reminders); err != nil {
		return nil, err
	}
	if m.pinChecks, err = register(reg, m.pinChecks); err != nil {
		return nil, err
	}
	if m.codesPurged, err = register(reg, m.codesPurged); err != nil {
		return nil, err
	}
	if m.taskRuns, err = register(reg, m.taskRuns); err != nil {
		return nil, err
	}
	if m.taskDuration, err = register(reg, m.taskDuration); err != nil {
		return nil, err
	}
	if m.rpcs, err = register(reg, m.rpcs); err != nil {
		return nil, err
	}
	return m, nil
}

// Discard returns collectors bound to a private registry.
func Discard() *Metrics {
	m, _ := NewMetrics(prometheus.NewRegistry())
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			existing, ok := already.ExistingCollector.(C)
			if !ok {
				return c, fmt.Errorf("existing collector has wrong type %T", already.ExistingCollector)
			}
			return existing, nil
		}
		return c, fmt.Errorf("register collector: %w", err)
	}
	return c, nil
}

// Reminder counts one dispatcher decision.
func (m *Metrics) Reminder(kind, outcome string) {
	m.reminders.WithLabelValues(kind, outcome).Inc()
}

// PINCheck counts one PIN verification result.
func (m *Metrics) PINCheck(result string) {
	m.pinChecks.WithLabelValues(result).Inc()
}

// Purged adds n removed codes.
func (m *Metrics) Purged(n int64) {
	m.codesPurged.Add(float64(n))
}

// Task records one periodic run.
func (m *Metrics) Task(task string, took time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.taskRuns.WithLabelValues(task, status).Inc()
	m.taskDuration.WithLabelValues(task).Observe(took.Seconds())
}

// RPC counts one unary call.
func (m *Metrics) RPC(method, code string) {
	m.rpcs.WithLabelValues(method, code).Inc()
}

// Handler exposes gatherer in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
