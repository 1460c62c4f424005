package web_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/docflow/docflow/pkg/batch"
	"github.com/docflow/docflow/pkg/cmd"
	"github.com/docflow/docflow/pkg/log"
	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/persistence"
	"github.com/docflow/docflow/pkg/persistence/file"
	"github.com/docflow/docflow/pkg/protocol"
	"github.com/docflow/docflow/pkg/services"
	"github.com/docflow/docflow/pkg/testutil"
	"github.com/docflow/docflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type problem struct {
	Type   string `json:"type"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

func setupTestApp(t *testing.T) (*fiber.App, *services.Engine) {
	t.Helper()

	engine, err := cmd.NewEngine(t.Context(), log.Discard(), file.NewPersistence(t.TempDir()), cmd.EngineConfig{
		Collaborators: protocol.Collaborators{
			Content:       testutil.NewContentService(testutil.Document("doc-1", map[string]any{"type": "invoice"})),
			Analysis:      &testutil.AnalysisService{},
			Notifications: &testutil.NotificationService{},
		},
	})
	require.NoError(t, err)

	t.Cleanup(engine.Approvals.Close)

	app := fiber.New()
	web.NewAPIHandlers(engine, validator.New(validator.WithRequiredStructEnabled())).Register(app)

	return app, engine
}

func do(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader

	switch v := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(v)
	default:
		payload, err := json.Marshal(v)
		require.NoError(t, err)

		reader = bytes.NewBuffer(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(data, &out), string(data))

	return out
}

func TestAPIHandlers_CreateWorkflow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
		expectedType   string
	}{
		{
			name:           "successful creation",
			requestBody:    testutil.CreateTestWorkflow(testutil.WithID("")),
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "invalid definition",
			requestBody:    testutil.CreateTestWorkflow(testutil.WithTriggers()),
			expectedStatus: http.StatusBadRequest,
			expectedType:   "invalid_workflow",
		},
		{
			name:           "unknown condition operator",
			requestBody:    testutil.CreateTestWorkflow(testutil.WithConditions(models.Condition{Field: "metadata.type", Operator: "resembles", Value: "x"})),
			expectedStatus: http.StatusBadRequest,
			expectedType:   "invalid_workflow",
		},
		{
			name:           "invalid JSON",
			requestBody:    "invalid-json",
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, _ := setupTestApp(t)

			resp, body := do(t, app, http.MethodPost, "/workflows", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode, string(body))

			if tt.expectedStatus == http.StatusCreated {
				created := decode[models.Workflow](t, body)
				assert.NotEmpty(t, created.ID)
				assert.Equal(t, 1, created.Version)

				return
			}

			p := decode[problem](t, body)
			assert.Equal(t, tt.expectedType, p.Type)
			assert.Equal(t, tt.expectedStatus, p.Status)
		})
	}
}

func TestAPIHandlers_WorkflowVersions(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, body := do(t, app, http.MethodPost, "/workflows", testutil.CreateTestWorkflow(testutil.WithID("wf-1")))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = do(t, app, http.MethodPatch, "/workflows/wf-1", map[string]any{"name": "Renamed workflow"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, 2, decode[models.Workflow](t, body).Version)

	resp, body = do(t, app, http.MethodGet, "/workflows/wf-1/versions/1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Test Workflow", decode[models.Workflow](t, body).Name)

	resp, body = do(t, app, http.MethodGet, "/workflows/wf-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Renamed workflow", decode[models.Workflow](t, body).Name)

	resp, body = do(t, app, http.MethodPost, "/workflows/wf-1/disable", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[models.Workflow](t, body).Enabled)

	resp, _ = do(t, app, http.MethodGet, "/workflows/wf-1/versions/abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, app, http.MethodGet, "/workflows/wf-1/versions/9", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", decode[problem](t, body).Type)

	resp, _ = do(t, app, http.MethodPatch, "/workflows/missing", map[string]any{"name": "Renamed workflow"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_GetWorkflows(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	for _, id := range []string{"wf-1", "wf-2", "wf-3"} {
		resp, _ := do(t, app, http.MethodPost, "/workflows", testutil.CreateTestWorkflow(testutil.WithID(id)))
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp, body := do(t, app, http.MethodGet, "/workflows?limit=2&sort_by=name&sort_order=asc", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	page := decode[persistence.WorkflowListResult](t, body)
	assert.Len(t, page.Workflows, 2)
	assert.Equal(t, int64(3), page.TotalCount)
	assert.True(t, page.HasNextPage)

	resp, _ = do(t, app, http.MethodGet, "/workflows?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, app, http.MethodGet, "/workflows?sort_by=owner", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_sort", decode[problem](t, body).Type)
}

func TestAPIHandlers_DeleteWorkflow(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, _ := do(t, app, http.MethodPost, "/workflows", testutil.CreateTestWorkflow(testutil.WithID("wf-1")))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = do(t, app, http.MethodDelete, "/workflows/wf-1", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = do(t, app, http.MethodDelete, "/workflows/wf-1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_ExecuteWorkflow(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	definition := testutil.CreateTestWorkflow(
		testutil.WithID("wf-1"),
		testutil.WithConditions(models.Condition{Field: "metadata.type", Operator: models.OpEquals, Value: "invoice"}),
		testutil.WithActions(testutil.MoveAction("move", "/Invoices")),
	)
	resp, _ := do(t, app, http.MethodPost, "/workflows", definition)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := do(t, app, http.MethodPost, "/workflows/wf-1/execute", web.ExecuteWorkflowRequest{DocumentID: "doc-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	execution := decode[models.Execution](t, body)
	assert.Equal(t, models.ExecutionCompleted, execution.Status)
	assert.False(t, execution.Skipped)
	require.Len(t, execution.Steps, 1)

	resp, body = do(t, app, http.MethodGet, "/executions/"+execution.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, execution.ID, decode[models.Execution](t, body).ID)

	resp, body = do(t, app, http.MethodPost, "/executions/"+execution.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "invalid_transition", decode[problem](t, body).Type)

	resp, body = do(t, app, http.MethodGet, "/workflows/wf-1/executions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[web.ExecutionsResponse](t, body).Executions, 1)

	resp, _ = do(t, app, http.MethodPost, "/workflows/missing/execute", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, app, http.MethodGet, "/executions/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_ExecuteWorkflowAsync(t *testing.T) {
	t.Parallel()

	app, engine := setupTestApp(t)

	resp, _ := do(t, app, http.MethodPost, "/workflows", testutil.CreateTestWorkflow(testutil.WithID("wf-1")))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := do(t, app, http.MethodPost, "/workflows/wf-1/execute?async=true", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	accepted := decode[web.ExecutionAccepted](t, body)
	require.NotEmpty(t, accepted.ExecutionID)

	require.Eventually(t, func() bool {
		_, err := engine.GetExecution(t.Context(), accepted.ExecutionID)

		return err == nil
	}, time.Second, 5*time.Millisecond)
}

func TestAPIHandlers_TriggerWebhook(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	definition := testutil.CreateTestWorkflow(
		testutil.WithID("wf-hook"),
		testutil.WithTriggers(models.Trigger{Kind: models.TriggerAPIWebhook, Secret: "s3cret"}),
		testutil.WithConditions(models.Condition{Field: "variables.payload.event", Operator: models.OpEquals, Value: "signed"}),
	)
	resp, _ := do(t, app, http.MethodPost, "/workflows", definition)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	req := httptest.NewRequest(http.MethodPost, "/workflows/wf-hook/webhook?document_id=doc-1", bytes.NewBufferString(`{"event":"signed"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(web.WebhookSecretHeader, "s3cret")

	accepted, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = accepted.Body.Close() }()

	require.Equal(t, http.StatusOK, accepted.StatusCode)

	var execution models.Execution
	require.NoError(t, json.NewDecoder(accepted.Body).Decode(&execution))
	assert.Equal(t, models.ExecutionCompleted, execution.Status)
	assert.False(t, execution.Skipped, "the payload is visible to conditions")

	resp, body := do(t, app, http.MethodPost, "/workflows/wf-hook/webhook", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", decode[problem](t, body).Type)
}

func TestAPIHandlers_ProcessBatch(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, body := do(t, app, http.MethodPost, "/batches", web.BatchRequest{DocumentIDs: []string{"doc-1", "ghost"}})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	result := decode[batch.Result](t, body)
	assert.Equal(t, batch.LifecycleWorkflowID, result.WorkflowID)
	require.Len(t, result.Successful, 1)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, models.CodeNotFound, result.Failed[0].Error.Code)

	resp, _ = do(t, app, http.MethodPost, "/batches", web.BatchRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, app, http.MethodPost, "/documents/doc-1/process", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, models.ExecutionCompleted, decode[batch.Item](t, body).Status)
}

func TestAPIHandlers_Approvals(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, body := do(t, app, http.MethodPost, "/approvals", models.ApprovalRequest{
		Name: "Policy review",
		Mode: models.ApprovalParallel,
		Stages: []models.ApprovalStageSpec{
			{Name: "legal", Approvers: []string{"legal@example.com"}},
			{Name: "finance", Approvers: []string{"finance@example.com"}},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	created := decode[models.ApprovalWorkflow](t, body)
	require.Len(t, created.Stages, 2)

	resp, body = do(t, app, http.MethodPost, "/approvals/"+created.ID+"/decisions", web.DecisionRequest{
		StageID:  created.Stages[0].ID,
		Approver: "legal@example.com",
		Decision: models.DecisionRejected,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, models.ApprovalRejected, decode[models.ApprovalWorkflow](t, body).Status)

	resp, body = do(t, app, http.MethodPost, "/approvals/"+created.ID+"/decisions", web.DecisionRequest{
		StageID:  created.Stages[1].ID,
		Approver: "finance@example.com",
		Decision: models.DecisionApproved,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, string(body))

	resp, _ = do(t, app, http.MethodPost, "/approvals/"+created.ID+"/decisions", web.DecisionRequest{
		StageID:  created.Stages[1].ID,
		Approver: "finance@example.com",
		Decision: "maybe",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, app, http.MethodGet, "/approvals/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.ApprovalRejected, decode[models.ApprovalWorkflow](t, body).Status)

	resp, _ = do(t, app, http.MethodGet, "/approvals/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, app, http.MethodPost, "/approvals", map[string]any{"name": "no stages"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIHandlers_Metrics(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, _ := do(t, app, http.MethodPost, "/workflows", testutil.CreateTestWorkflow(testutil.WithID("wf-1")))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = do(t, app, http.MethodPost, "/workflows/wf-1/execute", web.ExecuteWorkflowRequest{DocumentID: "doc-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := do(t, app, http.MethodGet, "/workflows/wf-1/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[web.MetricsResponse](t, body)
	require.Len(t, out.Metrics, 1)
	assert.Equal(t, 1, out.Metrics[0].ExecutionCount)
	assert.InDelta(t, 1.0, out.Metrics[0].SuccessRate, 1e-9)

	resp, body = do(t, app, http.MethodGet, "/workflow-metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[web.MetricsResponse](t, body).Metrics, 1)
}

func TestAPIHandlers_CapabilitiesAndHealth(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, body := do(t, app, http.MethodGet, "/capabilities", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	caps := decode[services.Capabilities](t, body)
	assert.NotEmpty(t, caps.Actions)
	assert.Equal(t, batch.DefaultMaxConcurrent, caps.Limits.MaxConcurrent)
	assert.Contains(t, caps.Triggers, models.TriggerSchedule)

	resp, body = do(t, app, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", decode[map[string]any](t, body)["status"])
}
