// Package metrics derives workflow statistics from execution history and
// exposes live engine counters to prometheus.
package metrics

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/persistence"
)

// Estimates is the manual effort one completed step of a kind replaces.
type Estimates map[models.ActionKind]time.Duration

// DefaultEstimates returns the built-in per-kind time saved estimates.
func DefaultEstimates() Estimates {
	return Estimates{
		models.ActionMove:           2 * time.Minute,
		models.ActionCopy:           2 * time.Minute,
		models.ActionDelete:         time.Minute,
		models.ActionUpdateMetadata: 3 * time.Minute,
		models.ActionNotify:         2 * time.Minute,
		models.ActionCreateApproval: 5 * time.Minute,
		models.ActionRunAnalysis:    15 * time.Minute,
		models.ActionArchive:        3 * time.Minute,
		models.ActionApplyRetention: 5 * time.Minute,
		models.ActionSendEmail:      2 * time.Minute,
		models.ActionWebhook:        time.Minute,
	}
}

type Aggregator struct {
	logger    *slog.Logger
	history   persistence.ExecutionRepository
	estimates Estimates
}

// NewAggregator creates an aggregator. Kinds missing from estimates count as
// zero time saved.
func NewAggregator(logger *slog.Logger, history persistence.ExecutionRepository, estimates Estimates) *Aggregator {
	if estimates == nil {
		estimates = DefaultEstimates()
	}

	return &Aggregator{
		logger:    logger.With("module", "metrics_aggregator"),
		history:   history,
		estimates: estimates,
	}
}

// Recompute folds the stored history of one workflow, or of every workflow
// when workflowID is empty. A workflow without history yields a zero metric.
func (a *Aggregator) Recompute(ctx context.Context, workflowID string) ([]models.WorkflowMetric, error) {
	executions, err := a.history.List(ctx, persistence.ListExecutionsOptions{WorkflowID: workflowID})
	if err != nil {
		return nil, models.NewEngineError("RecomputeMetrics", workflowID, err)
	}

	out := Fold(executions, a.estimates)

	if workflowID != "" && len(out) == 0 {
		out = []models.WorkflowMetric{{WorkflowID: workflowID}}
	}

	a.logger.DebugContext(ctx, "Metrics recomputed",
		"workflow_id", workflowID,
		"executions", len(executions),
		"workflows", len(out))

	return out, nil
}

type tally struct {
	metric    models.WorkflowMetric
	documents map[string]struct{}
	duration  time.Duration
	finished  int

	complianceDone  int
	complianceTotal int
}

// Fold aggregates executions into one metric per workflow, ordered by
// workflow id. It is pure: the same input always yields the same output.
func Fold(executions []*models.Execution, estimates Estimates) []models.WorkflowMetric {
	tallies := make(map[string]*tally)

	for _, e := range executions {
		t, ok := tallies[e.WorkflowID]
		if !ok {
			t = &tally{
				metric:    models.WorkflowMetric{WorkflowID: e.WorkflowID},
				documents: make(map[string]struct{}),
			}
			tallies[e.WorkflowID] = t
		}

		t.add(e, estimates)
	}

	ids := make([]string, 0, len(tallies))
	for id := range tallies {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	out := make([]models.WorkflowMetric, 0, len(ids))
	for _, id := range ids {
		out = append(out, tallies[id].result())
	}

	return out
}

func (t *tally) add(e *models.Execution, estimates Estimates) {
	m := &t.metric
	m.ExecutionCount++

	switch e.Status {
	case models.ExecutionCompleted:
		m.Completed++
		if e.Skipped {
			m.Skipped++
		}
	case models.ExecutionFailed:
		m.Failed++
	case models.ExecutionCancelled:
		m.Cancelled++
	}

	if e.DocumentID != "" {
		t.documents[e.DocumentID] = struct{}{}
	}

	if e.EndTime != nil {
		t.duration += e.Duration
		t.finished++
	}

	for _, s := range e.Steps {
		if s.Status == models.StepCompleted {
			m.Performance.TimeSaved += estimates[s.Kind]
		}
	}

	if e.WorkflowCategory == models.CategoryCompliance {
		switch e.Status {
		case models.ExecutionCompleted:
			t.complianceDone++
			t.complianceTotal++
		case models.ExecutionFailed:
			t.complianceTotal++
		}
	}
}

func (t *tally) result() models.WorkflowMetric {
	m := t.metric
	m.Performance.DocumentsProcessed = len(t.documents)

	if decided := m.Completed + m.Failed; decided > 0 {
		m.SuccessRate = float64(m.Completed) / float64(decided)
	}

	if t.finished > 0 {
		m.AverageDuration = t.duration / time.Duration(t.finished)
	}

	if t.complianceTotal > 0 {
		m.Performance.ComplianceRate = float64(t.complianceDone) / float64(t.complianceTotal)
	}

	return m
}
