package metrics

import (
	"context"
	"net/http"

	"github.com/docflow/docflow/pkg/batch"
	"github.com/docflow/docflow/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docflow"

// Recorder keeps live engine counters. It is registered as a listener on the
// executor, the batch coordinator and the approval engine.
type Recorder struct {
	registry *prometheus.Registry

	executions        *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	running           prometheus.Gauge
	steps             *prometheus.CounterVec
	stepAttempts      *prometheus.CounterVec
	batches           *prometheus.CounterVec
	batchDocuments    *prometheus.CounterVec
	approvals         *prometheus.CounterVec
}

// NewRecorder creates a recorder on its own registry, so several engines can
// live in one process without colliding on the default registerer.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Finished workflow executions by terminal status.",
		}, []string{"workflow_id", "status"}),
		executionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Wall time of finished workflow executions.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"workflow_id"}),
		running: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executions_running",
			Help:      "Executions started and not yet finished.",
		}),
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Action steps by kind and final status.",
		}, []string{"kind", "status"}),
		stepAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_attempts_total",
			Help:      "Collaborator attempts made by action steps, retries included.",
		}, []string{"kind"}),
		batches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Finished batches by outcome.",
		}, []string{"outcome"}),
		batchDocuments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_documents_total",
			Help:      "Documents processed by batches by outcome.",
		}, []string{"outcome"}),
		approvals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approvals_total",
			Help:      "Finished approval workflows by final status.",
		}, []string{"status"}),
	}
}

// Registry exposes the private registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) ExecutionStarted(_ context.Context, _ *models.Execution) {
	r.running.Inc()
}

func (r *Recorder) ExecutionFinished(_ context.Context, execution *models.Execution) {
	r.running.Dec()

	status := string(execution.Status)
	if execution.Skipped {
		status = "skipped"
	}

	r.executions.WithLabelValues(execution.WorkflowID, status).Inc()
	r.executionDuration.WithLabelValues(execution.WorkflowID).Observe(execution.Duration.Seconds())

	for _, s := range execution.Steps {
		r.steps.WithLabelValues(string(s.Kind), string(s.Status)).Inc()

		if s.Attempts > 0 {
			r.stepAttempts.WithLabelValues(string(s.Kind)).Add(float64(s.Attempts))
		}
	}
}

func (r *Recorder) BatchFinished(_ context.Context, result *batch.Result) {
	outcome := "completed"
	if result.TimedOut {
		outcome = "timed_out"
	}

	r.batches.WithLabelValues(outcome).Inc()
	r.batchDocuments.WithLabelValues("successful").Add(float64(len(result.Successful)))
	r.batchDocuments.WithLabelValues("failed").Add(float64(len(result.Failed)))
}

func (r *Recorder) ApprovalFinished(_ context.Context, approval *models.ApprovalWorkflow) {
	r.approvals.WithLabelValues(string(approval.Status)).Inc()
}
