// Package persistencetest holds the behavior every persistence backend must
// share. Backend tests call Run with a constructor for a fresh, empty store.
package persistencetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/persistence"
	"github.com/docflow/docflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run executes the suite. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) persistence.Persistence) {
	t.Helper()

	t.Run("workflow versions", func(t *testing.T) { testWorkflowVersions(t, newStore(t)) })
	t.Run("workflow list", func(t *testing.T) { testWorkflowList(t, newStore(t)) })
	t.Run("workflow delete", func(t *testing.T) { testWorkflowDelete(t, newStore(t)) })
	t.Run("execution history", func(t *testing.T) { testExecutionHistory(t, newStore(t)) })
	t.Run("concurrent appends", func(t *testing.T) { testConcurrentAppends(t, newStore(t)) })
	t.Run("approvals", func(t *testing.T) { testApprovals(t, newStore(t)) })
	t.Run("health", func(t *testing.T) {
		require.NoError(t, newStore(t).HealthCheck(context.Background()))
	})
}

func testWorkflowVersions(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.WorkflowRepository()

	v1 := testutil.CreateTestWorkflow(testutil.WithID("wf-versions"))
	require.NoError(t, repo.SaveVersion(ctx, v1))

	v2 := v1.Clone()
	v2.Version = 2
	v2.Name = "Renamed"
	require.NoError(t, repo.SaveVersion(ctx, v2))

	err := repo.SaveVersion(ctx, v1)
	assert.True(t, persistence.IsVersionConflict(err), "saving a stored version must conflict: %v", err)

	latest, err := repo.Latest(ctx, "wf-versions")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.Equal(t, "Renamed", latest.Name)

	old, err := repo.Version(ctx, "wf-versions", 1)
	require.NoError(t, err)
	assert.Equal(t, "Test Workflow", old.Name)
	require.Len(t, old.Actions, 1)

	params, ok := models.ParamsAs[models.ArchiveParams](old.Actions[0])
	require.True(t, ok)
	assert.Equal(t, "/archive", params.Target)

	_, err = repo.Version(ctx, "wf-versions", 9)
	assert.True(t, persistence.IsWorkflowNotFound(err))

	_, err = repo.Latest(ctx, "missing")
	assert.True(t, persistence.IsWorkflowNotFound(err))
	assert.True(t, models.IsNotFound(err))
}

func testWorkflowList(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.WorkflowRepository()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, category := range []models.Category{models.CategoryLifecycle, models.CategoryCompliance, models.CategoryLifecycle} {
		w := testutil.CreateTestWorkflow(testutil.WithID(fmt.Sprintf("wf-%d", i)), testutil.WithCategory(category))
		w.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, repo.SaveVersion(ctx, w))
	}

	bumped, err := repo.Latest(ctx, "wf-0")
	require.NoError(t, err)

	bumped.Version = 2
	bumped.Enabled = false
	require.NoError(t, repo.SaveVersion(ctx, bumped))

	result, err := repo.List(ctx, persistence.ListWorkflowsOptions{SortBy: "created_at", SortOrder: "asc"})
	require.NoError(t, err)
	require.Len(t, result.Workflows, 3)
	assert.Equal(t, int64(3), result.TotalCount)
	assert.Equal(t, "wf-0", result.Workflows[0].ID)
	assert.Equal(t, 2, result.Workflows[0].Version)

	lifecycle, err := repo.List(ctx, persistence.ListWorkflowsOptions{Category: models.CategoryLifecycle})
	require.NoError(t, err)
	assert.Len(t, lifecycle.Workflows, 2)

	enabled := true
	onlyEnabled, err := repo.List(ctx, persistence.ListWorkflowsOptions{Enabled: &enabled})
	require.NoError(t, err)
	assert.Len(t, onlyEnabled.Workflows, 2)

	page, err := repo.List(ctx, persistence.ListWorkflowsOptions{Limit: 2, SortBy: "created_at", SortOrder: "asc"})
	require.NoError(t, err)
	assert.Len(t, page.Workflows, 2)
	assert.True(t, page.HasNextPage)

	_, err = repo.List(ctx, persistence.ListWorkflowsOptions{SortBy: "owner; --"})
	assert.ErrorIs(t, err, persistence.ErrInvalidSortField)
}

func testWorkflowDelete(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.WorkflowRepository()

	w := testutil.CreateTestWorkflow(testutil.WithID("wf-delete"))
	require.NoError(t, repo.SaveVersion(ctx, w))
	require.NoError(t, repo.Delete(ctx, "wf-delete"))

	_, err := repo.Latest(ctx, "wf-delete")
	assert.True(t, persistence.IsWorkflowNotFound(err))

	assert.True(t, persistence.IsWorkflowNotFound(repo.Delete(ctx, "wf-delete")))
}

func execution(id, workflowID string, start time.Time, status models.ExecutionStatus) *models.Execution {
	end := start.Add(2 * time.Second)

	return &models.Execution{
		ID:              id,
		WorkflowID:      workflowID,
		WorkflowVersion: 1,
		DocumentID:      "doc-" + id,
		Status:          status,
		Steps: []models.Step{
			{ActionIndex: 0, ActionID: "archive", Kind: models.ActionArchive, Status: models.StepCompleted},
		},
		Context:   models.ExecutionContext{DocumentID: "doc-" + id, Metadata: map[string]any{"n": "1"}},
		StartTime: start,
		EndTime:   &end,
		Duration:  end.Sub(start),
	}
}

func testExecutionHistory(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.ExecutionRepository()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Append(ctx, execution("e-2", "wf-a", base.Add(time.Minute), models.ExecutionFailed)))
	require.NoError(t, repo.Append(ctx, execution("e-1", "wf-a", base, models.ExecutionCompleted)))
	require.NoError(t, repo.Append(ctx, execution("e-3", "wf-b", base.Add(2*time.Minute), models.ExecutionCompleted)))

	err := repo.Append(ctx, execution("e-1", "wf-a", base, models.ExecutionCompleted))
	assert.ErrorIs(t, err, persistence.ErrExecutionExists)

	got, err := repo.ByID(ctx, "e-2")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionFailed, got.Status)
	assert.Equal(t, 2*time.Second, got.Duration)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, models.StepCompleted, got.Steps[0].Status)

	_, err = repo.ByID(ctx, "e-404")
	assert.True(t, persistence.IsExecutionNotFound(err))

	all, err := repo.List(ctx, persistence.ListExecutionsOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"e-1", "e-2", "e-3"}, []string{all[0].ID, all[1].ID, all[2].ID})

	forA, err := repo.List(ctx, persistence.ListExecutionsOptions{WorkflowID: "wf-a"})
	require.NoError(t, err)
	assert.Len(t, forA, 2)

	latest, err := repo.List(ctx, persistence.ListExecutionsOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "e-3", latest[0].ID)
}

func testConcurrentAppends(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.ExecutionRepository()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	const n = 20

	var wg sync.WaitGroup

	for i := range n {
		wg.Add(1)

		go func() {
			defer wg.Done()

			e := execution(fmt.Sprintf("c-%02d", i), "wf-c", base.Add(time.Duration(i)*time.Second), models.ExecutionCompleted)
			assert.NoError(t, repo.Append(ctx, e))
		}()
	}

	wg.Wait()

	all, err := repo.List(ctx, persistence.ListExecutionsOptions{WorkflowID: "wf-c"})
	require.NoError(t, err)
	assert.Len(t, all, n)
}

func testApprovals(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.ApprovalRepository()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	pending := &models.ApprovalWorkflow{
		ID:     "ap-1",
		Name:   "Contract review",
		Mode:   models.ApprovalSequential,
		Status: models.ApprovalPending,
		Stages: []*models.ApprovalStage{{
			ID:        "s-1",
			Name:      "legal",
			Approvers: []string{"ana"},
			Policy:    models.PolicyUnanimous,
			Decision:  models.DecisionPending,
			Active:    true,
			Reminder:  models.ReminderSettings{Enabled: true, Interval: time.Hour},
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	done := &models.ApprovalWorkflow{ID: "ap-2", Status: models.ApprovalApproved, CreatedAt: now, UpdatedAt: now}

	require.NoError(t, repo.Save(ctx, pending))
	require.NoError(t, repo.Save(ctx, done))

	got, err := repo.ByID(ctx, "ap-1")
	require.NoError(t, err)
	require.Len(t, got.Stages, 1)
	assert.Equal(t, time.Hour, got.Stages[0].Reminder.Interval)
	assert.True(t, got.Stages[0].Pending())

	list, err := repo.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "ap-1", list[0].ID)

	got.Status = models.ApprovalRejected
	require.NoError(t, repo.Save(ctx, got))

	list, err = repo.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = repo.ByID(ctx, "ap-404")
	assert.True(t, persistence.IsApprovalNotFound(err))
}
