package services

import (
	"context"
	"sync"
	"testing"

	"github.com/docflow/docflow/pkg/actions/content"
	"github.com/docflow/docflow/pkg/conditions"
	"github.com/docflow/docflow/pkg/log"
	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/persistence"
	"github.com/docflow/docflow/pkg/persistence/file"
	"github.com/docflow/docflow/pkg/protocol"
	"github.com/docflow/docflow/pkg/registry"
	"github.com/docflow/docflow/pkg/testutil"
	"github.com/docflow/docflow/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type definedRecorder struct {
	mu       sync.Mutex
	versions []int
}

func (r *definedRecorder) WorkflowDefined(_ context.Context, w *models.Workflow) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.versions = append(r.versions, w.Version)
}

func newWorkflows(t *testing.T) (*Workflows, persistence.Persistence, *definedRecorder) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	reg := registry.NewRegistry(log.Discard(), protocol.Collaborators{Content: testutil.NewContentService()})

	for _, factory := range content.Factories() {
		reg.RegisterAction(factory)
	}

	listener := &definedRecorder{}
	service := NewWorkflows(
		log.Discard(),
		workflow.NewRepository(store.WorkflowRepository(), nil),
		reg,
		conditions.NewEvaluator(log.Discard()),
		listener,
	)

	return service, store, listener
}

func TestWorkflows_Define(t *testing.T) {
	service, store, listener := newWorkflows(t)

	definition := testutil.CreateTestWorkflow(testutil.WithID(""))

	created, err := service.Define(t.Context(), definition)
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 1, created.Version)
	assert.False(t, created.CreatedAt.IsZero())
	assert.Empty(t, definition.ID, "the caller's definition is not modified")
	assert.Equal(t, []int{1}, listener.versions)

	stored, err := store.WorkflowRepository().Latest(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Name, stored.Name)
}

func TestWorkflows_Define_RejectsInvalidDefinitions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.Workflow)
		issue  string
	}{
		{
			name:   "no triggers",
			mutate: func(w *models.Workflow) { w.Triggers = nil },
			issue:  "at least one trigger",
		},
		{
			name: "bad cron",
			mutate: func(w *models.Workflow) {
				w.Triggers = []models.Trigger{{Kind: models.TriggerSchedule, Cron: "every day"}}
			},
			issue: "invalid cron expression",
		},
		{
			name: "uncompilable expression",
			mutate: func(w *models.Workflow) {
				w.Conditions = []models.Condition{{Kind: models.ConditionExpression, Expression: "metadata.size >"}}
			},
			issue: "conditions[0]",
		},
		{
			name:   "missing move target",
			mutate: func(w *models.Workflow) { w.Actions = []models.Action{testutil.MoveAction("move", "")} },
			issue:  "move",
		},
		{
			name: "parallel-safe mutation",
			mutate: func(w *models.Workflow) {
				a := testutil.MoveAction("move", "/Processed")
				a.ParallelSafe = true
				w.Actions = []models.Action{a}
			},
			issue: "cannot be parallel-safe",
		},
		{
			name: "cyclic references",
			mutate: func(w *models.Workflow) {
				a := testutil.MoveAction("a", "/A")
				a.DependsOn = []string{"b"}
				b := testutil.MoveAction("b", "/B")
				b.DependsOn = []string{"a"}
				w.Actions = []models.Action{a, b}
			},
			issue: "cycle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, store, listener := newWorkflows(t)

			definition := testutil.CreateTestWorkflow(testutil.WithID("wf-invalid"), tt.mutate)

			_, err := service.Define(t.Context(), definition)
			require.Error(t, err)
			assert.True(t, models.IsInvalidWorkflow(err))
			assert.Contains(t, err.Error(), tt.issue)
			assert.Empty(t, listener.versions)

			_, err = store.WorkflowRepository().Latest(t.Context(), "wf-invalid")
			assert.True(t, models.IsNotFound(err), "nothing is stored")
		})
	}
}

func TestWorkflows_Define_Nil(t *testing.T) {
	service, _, _ := newWorkflows(t)

	_, err := service.Define(t.Context(), nil)
	assert.ErrorIs(t, err, ErrWorkflowNil)
	assert.True(t, IsValidationError(err))
}

func TestWorkflows_Update_CreatesVersion(t *testing.T) {
	service, _, listener := newWorkflows(t)

	created, err := service.Define(t.Context(), testutil.CreateTestWorkflow(testutil.WithID("wf-1")))
	require.NoError(t, err)

	name := "Renamed"
	updated, err := service.Update(t.Context(), created.ID, models.WorkflowPatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	first, err := service.GetVersion(t.Context(), created.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, created.Name, first.Name, "prior versions stay readable")

	latest, err := service.Get(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)

	assert.Equal(t, []int{1, 2}, listener.versions)
}

func TestWorkflows_Update_Errors(t *testing.T) {
	service, _, _ := newWorkflows(t)

	name := "Renamed"
	_, err := service.Update(t.Context(), "missing", models.WorkflowPatch{Name: &name})
	assert.True(t, models.IsNotFound(err))

	created, err := service.Define(t.Context(), testutil.CreateTestWorkflow(testutil.WithID("wf-1")))
	require.NoError(t, err)

	_, err = service.Update(t.Context(), created.ID, models.WorkflowPatch{})
	assert.ErrorIs(t, err, ErrEmptyPatch)

	_, err = service.Update(t.Context(), created.ID, models.WorkflowPatch{Actions: []models.Action{testutil.MoveAction("move", "")}})
	assert.True(t, models.IsInvalidWorkflow(err))

	latest, err := service.Get(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Version, "an invalid update stores nothing")
}

func TestWorkflows_SetEnabled(t *testing.T) {
	service, _, _ := newWorkflows(t)

	created, err := service.Define(t.Context(), testutil.CreateTestWorkflow(testutil.WithID("wf-1")))
	require.NoError(t, err)
	require.True(t, created.Enabled)

	same, err := service.SetEnabled(t.Context(), created.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 1, same.Version)

	disabled, err := service.SetEnabled(t.Context(), created.ID, false)
	require.NoError(t, err)
	assert.False(t, disabled.Enabled)
	assert.Equal(t, 2, disabled.Version)

	enabled, err := service.Enabled(t.Context())
	require.NoError(t, err)
	assert.Empty(t, enabled)
}

func TestWorkflows_GetVersion_RejectsNonPositive(t *testing.T) {
	service, _, _ := newWorkflows(t)

	_, err := service.GetVersion(t.Context(), "wf-1", 0)
	assert.True(t, models.IsInvalidRequest(err))
}

func TestWorkflows_List(t *testing.T) {
	service, _, _ := newWorkflows(t)

	for _, id := range []string{"wf-a", "wf-b", "wf-c"} {
		_, err := service.Define(t.Context(), testutil.CreateTestWorkflow(testutil.WithID(id)))
		require.NoError(t, err)
	}

	_, err := service.Define(t.Context(), testutil.CreateTestWorkflow(
		testutil.WithID("wf-compliance"),
		testutil.WithCategory(models.CategoryCompliance),
	))
	require.NoError(t, err)

	page, err := service.List(t.Context(), ListWorkflowsRequest{Limit: 2, SortBy: "created_at", SortOrder: "asc"})
	require.NoError(t, err)
	assert.Len(t, page.Workflows, 2)
	assert.Equal(t, int64(4), page.TotalCount)
	assert.True(t, page.HasNextPage)

	compliance, err := service.List(t.Context(), ListWorkflowsRequest{Category: models.CategoryCompliance})
	require.NoError(t, err)
	require.Len(t, compliance.Workflows, 1)
	assert.Equal(t, "wf-compliance", compliance.Workflows[0].ID)

	_, err = service.List(t.Context(), ListWorkflowsRequest{SortBy: "owner"})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.Equal(t, "INVALID_SORT", Code(err))
}

func TestWorkflows_Delete(t *testing.T) {
	service, _, _ := newWorkflows(t)

	created, err := service.Define(t.Context(), testutil.CreateTestWorkflow(testutil.WithID("wf-1")))
	require.NoError(t, err)

	require.NoError(t, service.Delete(t.Context(), created.ID))

	_, err = service.Get(t.Context(), created.ID)
	assert.True(t, models.IsNotFound(err))

	err = service.Delete(t.Context(), created.ID)
	assert.True(t, models.IsNotFound(err))
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, IsConflictError(models.NewEngineError("Cancel", "exec-1", models.ErrInvalidTransition)))
	assert.True(t, IsConflictError(persistence.ErrVersionConflict))
	assert.False(t, IsConflictError(models.ErrNotFound))

	assert.True(t, IsValidationError(models.NewInvalidWorkflowError("Validate", "wf-1", "bad")))
	assert.Equal(t, string(models.CodeInvalidWorkflow), Code(models.NewInvalidWorkflowError("Validate", "wf-1", "bad")))
	assert.False(t, IsValidationError(models.ErrNotFound))
}
