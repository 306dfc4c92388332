// Package metrics defines the metric recorders each module depends on, with a
// prometheus implementation and a no-op used by tests.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operations records attempts, outcomes and latency of named operations.
type Operations interface {
	RecordOperationAttempt(ctx context.Context, operation, service string)
	RecordOperationSuccess(ctx context.Context, operation, service string)
	RecordOperationFailure(ctx context.Context, operation, service string)
	RecordOperationDuration(ctx context.Context, operation, service string, duration time.Duration)
}

// Pipeline adds subtask outcome accounting to Operations.
type Pipeline interface {
	Operations
	RecordSubtaskOutcome(ctx context.Context, subtask, outcome string)
	RecordDispatch(ctx context.Context, plan string, jobs int)
}

// Repair adds per-category resubmission counts to Operations.
type Repair interface {
	Operations
	RecordRepair(ctx context.Context, category string, resubmitted int)
}

// Session adds protocol action and submission status accounting.
type Session interface {
	Operations
	RecordAction(ctx context.Context, action string)
	RecordSubmission(ctx context.Context, status string)
	RecordScore(ctx context.Context, strategy string, total int)
}

// Prometheus implements every recorder on top of a single registry.
type Prometheus struct {
	attempts   *prometheus.CounterVec
	successes  *prometheus.CounterVec
	failures   *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	subtasks   *prometheus.CounterVec
	dispatches *prometheus.CounterVec
	repairs    *prometheus.CounterVec
	actions    *prometheus.CounterVec
	submits    *prometheus.CounterVec
	scores     *prometheus.HistogramVec
}

var (
	_ Pipeline = (*Prometheus)(nil)
	_ Repair   = (*Prometheus)(nil)
	_ Session  = (*Prometheus)(nil)
)

// NewPrometheus registers the collectors under namespace on reg.
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	p := &Prometheus{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "operation_attempts_total",
			Help: "Operations started.",
		}, []string{"service", "operation"}),
		successes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "operation_success_total",
			Help: "Operations that completed successfully.",
		}, []string{"service", "operation"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "operation_failure_total",
			Help: "Operations that failed.",
		}, []string{"service", "operation"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "operation_duration_seconds",
			Help:    "Operation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"service", "operation"}),
		subtasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "subtask_total",
			Help: "Pipeline subtask executions by outcome.",
		}, []string{"subtask", "outcome"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "jobs_dispatched_total",
			Help: "Jobs submitted to the queue per plan.",
		}, []string{"plan"}),
		repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "repair", Name: "resubmitted_total",
			Help: "Generations resubmitted by the repair sweep.",
		}, []string{"category"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "actions_total",
			Help: "Protocol actions received.",
		}, []string{"action"}),
		submits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "submissions_total",
			Help: "Submissions by correction status.",
		}, []string{"status"}),
		scores: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "score", Name: "total",
			Help:    "Distribution of total scores.",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}, []string{"strategy"}),
	}

	reg.MustRegister(
		p.attempts, p.successes, p.failures, p.durations,
		p.subtasks, p.dispatches, p.repairs, p.actions, p.submits, p.scores,
	)
	return p
}

func (p *Prometheus) RecordOperationAttempt(_ context.Context, operation, service string) {
	p.attempts.WithLabelValues(service, operation).Inc()
}

func (p *Prometheus) RecordOperationSuccess(_ context.Context, operation, service string) {
	p.successes.WithLabelValues(service, operation).Inc()
}

func (p *Prometheus) RecordOperationFailure(_ context.Context, operation, service string) {
	p.failures.WithLabelValues(service, operation).Inc()
}

func (p *Prometheus) RecordOperationDuration(_ context.Context, operation, service string, d time.Duration) {
	p.durations.WithLabelValues(service, operation).Observe(d.Seconds())
}

func (p *Prometheus) RecordSubtaskOutcome(_ context.Context, subtask, outcome string) {
	p.subtasks.WithLabelValues(subtask, outcome).Inc()
}

func (p *Prometheus) RecordDispatch(_ context.Context, plan string, jobs int) {
	p.dispatches.WithLabelValues(plan).Add(float64(jobs))
}

func (p *Prometheus) RecordRepair(_ context.Context, category string, resubmitted int) {
	p.repairs.WithLabelValues(category).Add(float64(resubmitted))
}

func (p *Prometheus) RecordAction(_ context.Context, action string) {
	p.actions.WithLabelValues(action).Inc()
}

func (p *Prometheus) RecordSubmission(_ context.Context, status string) {
	p.submits.WithLabelValues(status).Inc()
}

func (p *Prometheus) RecordScore(_ context.Context, strategy string, total int) {
	p.scores.WithLabelValues(strategy).Observe(float64(total))
}

// NoOp discards everything.
type NoOp struct{}

var (
	_ Pipeline = NoOp{}
	_ Repair   = NoOp{}
	_ Session  = NoOp{}
)

func (NoOp) RecordOperationAttempt(context.Context, string, string)                 {}
func (NoOp) RecordOperationSuccess(context.Context, string, string)                 {}
func (NoOp) RecordOperationFailure(context.Context, string, string)                 {}
func (NoOp) RecordOperationDuration(context.Context, string, string, time.Duration) {}
func (NoOp) RecordSubtaskOutcome(context.Context, string, string)                   {}
func (NoOp) RecordDispatch(context.Context, string, int)                            {}
func (NoOp) RecordRepair(context.Context, string, int)                              {}
func (NoOp) RecordAction(context.Context, string)                                   {}
func (NoOp) RecordSubmission(context.Context, string)                               {}
func (NoOp) RecordScore(context.Context, string, int)                               {}
