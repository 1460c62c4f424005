package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/docflow/docflow/pkg/batch"
	"github.com/docflow/docflow/pkg/cmd"
	"github.com/docflow/docflow/pkg/config"
	"github.com/docflow/docflow/pkg/log"
	"github.com/docflow/docflow/pkg/metrics"
	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/persistence/memory"
	"github.com/docflow/docflow/pkg/protocol"
	"github.com/docflow/docflow/pkg/services"
	"github.com/docflow/docflow/pkg/testutil"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engineFixture struct {
	engine        *services.Engine
	content       *testutil.ContentService
	notifications *testutil.NotificationService
	recorder      *metrics.Recorder
}

func newEngine(t *testing.T) *engineFixture {
	t.Helper()

	f := &engineFixture{
		content:       testutil.NewContentService(testutil.Document("doc-1", nil), testutil.Document("doc-2", nil)),
		notifications: &testutil.NotificationService{},
		recorder:      metrics.NewRecorder(),
	}

	maxRetries := uint64(1)
	cfg := &config.Engine{
		Batch: config.BatchConfig{MaxConcurrent: 4, MaxProcessingTime: time.Minute},
		Retry: config.RetryConfig{MaxRetries: &maxRetries, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
	}

	engine, err := cmd.NewEngine(t.Context(), log.Discard(), memory.NewPersistence(), cmd.EngineConfig{
		Config: cfg,
		Collaborators: protocol.Collaborators{
			Content:       f.content,
			Analysis:      &testutil.AnalysisService{Tags: []string{"invoice"}},
			Notifications: f.notifications,
		},
		Recorder: f.recorder,
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = engine.Close(context.Background()) })

	f.engine = engine

	return f
}

func (f *engineFixture) define(t *testing.T, overrides ...func(*models.Workflow)) *models.Workflow {
	t.Helper()

	overrides = append([]func(*models.Workflow){testutil.WithActions(testutil.MoveAction("move", "/Processed"))}, overrides...)

	w, err := f.engine.Workflows.Define(t.Context(), testutil.CreateTestWorkflow(overrides...))
	require.NoError(t, err)

	return w
}

func TestEngine_ExecuteWorkflow(t *testing.T) {
	f := newEngine(t)
	w := f.define(t)

	execution, err := f.engine.ExecuteWorkflow(t.Context(), services.ExecuteRequest{WorkflowID: w.ID, DocumentID: "doc-1"})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, execution.Status)
	assert.Equal(t, 1, execution.WorkflowVersion)
	require.Len(t, f.content.Transfers(), 1)
	assert.Equal(t, "/Processed", f.content.Transfers()[0].Target)

	stored, err := f.engine.GetExecution(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.ID, stored.ID)

	history, err := f.engine.ListExecutions(t.Context(), w.ID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	series, err := promtest.GatherAndCount(f.recorder.Registry(), "docflow_executions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, series)
}

func TestEngine_ExecuteWorkflow_Errors(t *testing.T) {
	f := newEngine(t)

	_, err := f.engine.ExecuteWorkflow(t.Context(), services.ExecuteRequest{})
	assert.True(t, services.IsValidationError(err))

	_, err = f.engine.ExecuteWorkflow(t.Context(), services.ExecuteRequest{WorkflowID: "wf-1", Trigger: "carrier-pigeon"})
	assert.True(t, models.IsInvalidRequest(err))

	_, err = f.engine.ExecuteWorkflow(t.Context(), services.ExecuteRequest{WorkflowID: "missing"})
	assert.True(t, models.IsNotFound(err))
}

func TestEngine_StartWorkflow(t *testing.T) {
	f := newEngine(t)
	w := f.define(t)

	id, err := f.engine.StartWorkflow(t.Context(), services.ExecuteRequest{WorkflowID: w.ID, DocumentID: "doc-1"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		execution, err := f.engine.GetExecution(t.Context(), id)

		return err == nil && execution.Status == models.ExecutionCompleted
	}, time.Second, 5*time.Millisecond)

	_, err = f.engine.StartWorkflow(t.Context(), services.ExecuteRequest{WorkflowID: "missing"})
	assert.True(t, models.IsNotFound(err))

	_, err = f.engine.Workflows.SetEnabled(t.Context(), w.ID, false)
	require.NoError(t, err)

	_, err = f.engine.StartWorkflow(t.Context(), services.ExecuteRequest{WorkflowID: w.ID})
	assert.True(t, models.IsInvalidRequest(err))
}

func TestEngine_CancelExecution(t *testing.T) {
	f := newEngine(t)
	w := f.define(t)

	execution, err := f.engine.ExecuteWorkflow(t.Context(), services.ExecuteRequest{WorkflowID: w.ID, DocumentID: "doc-1"})
	require.NoError(t, err)

	err = f.engine.CancelExecution(t.Context(), execution.ID)
	assert.True(t, services.IsConflictError(err), "finished executions cannot be cancelled")

	err = f.engine.CancelExecution(t.Context(), "missing")
	assert.True(t, models.IsNotFound(err))

	assert.Empty(t, f.engine.RunningExecutions())
}

func TestEngine_ProcessDocuments(t *testing.T) {
	f := newEngine(t)

	result, err := f.engine.ProcessDocuments(t.Context(), services.ProcessRequest{
		DocumentIDs:   []string{"doc-1", "doc-2", "ghost"},
		MaxConcurrent: 50,
	})
	require.NoError(t, err)
	assert.Equal(t, batch.LifecycleWorkflowID, result.WorkflowID)
	assert.Len(t, result.Successful, 2)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "ghost", result.Failed[0].DocumentID)

	_, err = f.engine.ProcessDocuments(t.Context(), services.ProcessRequest{})
	assert.True(t, models.IsInvalidRequest(err))

	_, err = f.engine.ProcessDocuments(t.Context(), services.ProcessRequest{DocumentIDs: []string{""}})
	assert.True(t, models.IsInvalidRequest(err))
}

func TestEngine_ProcessDocument(t *testing.T) {
	f := newEngine(t)

	item, err := f.engine.ProcessDocument(t.Context(), "doc-1", "", false)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, item.Status)
	assert.Nil(t, item.Error)

	item, err = f.engine.ProcessDocument(t.Context(), "ghost", "", false)
	require.NoError(t, err)
	require.NotNil(t, item.Error)
	assert.Equal(t, models.CodeNotFound, item.Error.Code)
}

func TestEngine_Approvals(t *testing.T) {
	f := newEngine(t)

	created, err := f.engine.CreateApproval(t.Context(), models.ApprovalRequest{
		Name:   "Contract sign-off",
		Mode:   models.ApprovalSequential,
		Stages: []models.ApprovalStageSpec{{Name: "legal", Approvers: []string{"legal@example.com"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalPending, created.Status)

	decided, err := f.engine.DecideApproval(t.Context(), services.DecideRequest{
		ApprovalID: created.ID,
		StageID:    created.Stages[0].ID,
		Approver:   "legal@example.com",
		Decision:   models.DecisionApproved,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, decided.Status)

	fetched, err := f.engine.GetApproval(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, fetched.Status)

	_, err = f.engine.DecideApproval(t.Context(), services.DecideRequest{ApprovalID: created.ID})
	assert.True(t, models.IsInvalidRequest(err))

	_, err = f.engine.CancelApproval(t.Context(), created.ID)
	assert.True(t, services.IsConflictError(err), "finished approvals cannot be cancelled")

	series, err := promtest.GatherAndCount(f.recorder.Registry(), "docflow_approvals_total")
	require.NoError(t, err)
	assert.Equal(t, 1, series)
}

func TestEngine_Metrics(t *testing.T) {
	f := newEngine(t)
	w := f.define(t, testutil.WithCategory(models.CategoryCompliance))

	for _, doc := range []string{"doc-1", "doc-2", "doc-1"} {
		_, err := f.engine.ExecuteWorkflow(t.Context(), services.ExecuteRequest{WorkflowID: w.ID, DocumentID: doc})
		require.NoError(t, err)
	}

	_, err := f.engine.ExecuteWorkflow(t.Context(), services.ExecuteRequest{WorkflowID: w.ID, DocumentID: "ghost"})
	require.NoError(t, err)

	out, err := f.engine.Metrics(t.Context(), w.ID)
	require.NoError(t, err)
	require.Len(t, out, 1)

	m := out[0]
	assert.Equal(t, 4, m.ExecutionCount)
	assert.Equal(t, 3, m.Completed)
	assert.Equal(t, 1, m.Failed)
	assert.InDelta(t, 0.75, m.SuccessRate, 1e-9)
	assert.InDelta(t, 0.75, m.Performance.ComplianceRate, 1e-9)
	assert.Equal(t, 3, m.Performance.DocumentsProcessed)
	assert.Equal(t, 6*time.Minute, m.Performance.TimeSaved)

	unknown, err := f.engine.Metrics(t.Context(), "never-ran")
	require.NoError(t, err)
	assert.Equal(t, []models.WorkflowMetric{{WorkflowID: "never-ran"}}, unknown)
}

func TestEngine_Capabilities(t *testing.T) {
	f := newEngine(t)

	caps := f.engine.Capabilities()

	kinds := make([]models.ActionKind, 0, len(caps.Actions))
	for _, a := range caps.Actions {
		kinds = append(kinds, a.Kind)
		assert.NotEmpty(t, a.Schema, a.Kind)
	}

	assert.Contains(t, kinds, models.ActionMove)
	assert.Contains(t, kinds, models.ActionRunAnalysis)
	assert.Contains(t, kinds, models.ActionCreateApproval)
	assert.ElementsMatch(t, models.TriggerKinds(), caps.Triggers)
	assert.Contains(t, caps.Operators, models.OpMatches)
	assert.Equal(t, 4, caps.Limits.MaxConcurrent)
	assert.Equal(t, 60.0, caps.Limits.MaxProcessingTime)
	assert.Equal(t, 60.0, caps.Limits.DefaultMaxProcessingTime)
	assert.Equal(t, uint64(1), caps.Limits.MaxRetries)
	assert.Equal(t, services.MaxBatchSize, caps.Limits.MaxBatchSize)
}

func TestEngine_HealthCheck(t *testing.T) {
	f := newEngine(t)

	message, ok := f.engine.HealthCheck(t.Context())
	assert.True(t, ok, message)
}

func TestEngine_TriggerWebhook(t *testing.T) {
	f := newEngine(t)
	w := f.define(t, testutil.WithTriggers(models.Trigger{Kind: models.TriggerAPIWebhook, Secret: "s3cret"}))

	execution, err := f.engine.TriggerWebhook(t.Context(), "s3cret", services.ExecuteRequest{WorkflowID: w.ID, DocumentID: "doc-1"})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, execution.Status)

	_, err = f.engine.TriggerWebhook(t.Context(), "guess", services.ExecuteRequest{WorkflowID: w.ID})
	assert.ErrorIs(t, err, services.ErrUnauthorized)

	manual := f.define(t)
	_, err = f.engine.TriggerWebhook(t.Context(), "", services.ExecuteRequest{WorkflowID: manual.ID})
	assert.ErrorIs(t, err, services.ErrUnauthorized, "workflows without a webhook trigger reject every call")
}
