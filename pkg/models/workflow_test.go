package models_test

import (
	"encoding/json"
	"testing"

	"github.com/docflow/docflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validWorkflow() *models.Workflow {
	return &models.Workflow{
		ID:       "wf-1",
		Name:     "Archive large files",
		Category: models.CategoryLifecycle,
		Priority: models.PriorityNormal,
		Triggers: []models.Trigger{{Kind: models.TriggerDocumentCreated}},
		Conditions: []models.Condition{
			{Field: "metadata.size", Operator: models.OpGreater, Value: 1000000},
		},
		Actions: []models.Action{
			{ID: "archive", Kind: models.ActionArchive, Params: models.ArchiveParams{Target: "/archive"}},
		},
	}
}

func TestWorkflow_Validate_Valid(t *testing.T) {
	require.NoError(t, validWorkflow().Validate())
}

func TestWorkflow_Validate_RequiresTriggersAndActions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(w *models.Workflow)
		want   string
	}{
		{
			name:   "no triggers",
			mutate: func(w *models.Workflow) { w.Triggers = nil },
			want:   "at least one trigger",
		},
		{
			name:   "no actions",
			mutate: func(w *models.Workflow) { w.Actions = []models.Action{} },
			want:   "at least one action",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := validWorkflow()
			tt.mutate(w)

			err := w.Validate()
			require.Error(t, err)
			assert.True(t, models.IsInvalidWorkflow(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestWorkflow_Validate_ActionReferences(t *testing.T) {
	w := validWorkflow()
	w.Actions = []models.Action{
		{ID: "a", Kind: models.ActionNotify, DependsOn: []string{"c"}, Params: models.NotifyParams{Recipients: []string{"x"}, Template: "t"}},
		{ID: "b", Kind: models.ActionNotify, DependsOn: []string{"a"}, Params: models.NotifyParams{Recipients: []string{"x"}, Template: "t"}},
		{ID: "c", Kind: models.ActionNotify, DependsOn: []string{"b"}, Params: models.NotifyParams{Recipients: []string{"x"}, Template: "t"}},
	}

	err := w.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")

	w.Actions[0].DependsOn = []string{"missing"}
	err = w.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown action reference "missing"`)
	assert.NotContains(t, err.Error(), "cycle")
}

func TestWorkflow_Validate_ParallelSafeOnlyForNonMutating(t *testing.T) {
	w := validWorkflow()
	w.Actions[0].ParallelSafe = true

	err := w.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be parallel-safe")

	w.Actions[0] = models.Action{ID: "n", Kind: models.ActionRunAnalysis, ParallelSafe: true, Params: models.RunAnalysisParams{}}
	require.NoError(t, w.Validate())
}

func TestWorkflow_Validate_ScheduleCron(t *testing.T) {
	w := validWorkflow()
	w.Triggers = []models.Trigger{{Kind: models.TriggerSchedule, Cron: "not a cron"}}

	err := w.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron expression")

	w.Triggers[0].Cron = "0 2 * * *"
	require.NoError(t, w.Validate())

	w.Triggers[0].Cron = ""
	require.Error(t, w.Validate())
}

func TestWorkflow_Validate_MalformedCondition(t *testing.T) {
	w := validWorkflow()
	w.Conditions = []models.Condition{{Kind: models.ConditionAny}}

	err := w.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "any group requires nested conditions")
}

func TestWorkflow_Validate_UnknownKindAccepted(t *testing.T) {
	w := validWorkflow()
	w.Actions = append(w.Actions, models.Action{
		ID:     "future",
		Kind:   "translate",
		Params: models.UnknownParams{Kind: "translate", Values: map[string]any{"lang": "fr"}},
	})

	require.NoError(t, w.Validate())
}

func TestWorkflow_CloneIsDeep(t *testing.T) {
	w := validWorkflow()
	w.Actions = append(w.Actions, models.Action{
		ID:     "meta",
		Kind:   models.ActionUpdateMetadata,
		Params: models.UpdateMetadataParams{Set: map[string]any{"status": "archived"}},
	})

	cp := w.Clone()
	cp.Name = "changed"
	cp.Actions[0].ID = "changed"

	assert.Equal(t, "Archive large files", w.Name)
	assert.Equal(t, "archive", w.Actions[0].ID)

	params, ok := models.ParamsAs[models.UpdateMetadataParams](cp.Actions[1])
	require.True(t, ok)
	assert.Equal(t, "archived", params.Set["status"])
}

func TestAction_JSONDecodesTypedParams(t *testing.T) {
	data := []byte(`[
		{"id":"m","kind":"move","params":{"target":"/done"}},
		{"id":"x","kind":"translate","params":{"lang":"de"}}
	]`)

	var actions []models.Action
	require.NoError(t, json.Unmarshal(data, &actions))

	move, ok := models.ParamsAs[models.MoveParams](actions[0])
	require.True(t, ok)
	assert.Equal(t, "/done", move.Target)

	unknown, ok := actions[1].Params.(models.UnknownParams)
	require.True(t, ok)
	assert.Equal(t, models.ActionKind("translate"), unknown.ActionKind())
	assert.Equal(t, "de", unknown.Values["lang"])

	out, err := json.Marshal(actions[1])
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"x","kind":"translate","params":{"lang":"de"}}`, string(out))
}

func TestWorkflowPatch_Apply(t *testing.T) {
	w := validWorkflow()
	name := "Renamed"
	enabled := true

	next := models.WorkflowPatch{Name: &name, Enabled: &enabled}.Apply(w)

	assert.Equal(t, "Renamed", next.Name)
	assert.True(t, next.Enabled)
	assert.Equal(t, "Archive large files", w.Name)
	assert.False(t, w.Enabled)
}

func TestPriority_Ordering(t *testing.T) {
	assert.True(t, models.PriorityLow.Less(models.PriorityNormal))
	assert.True(t, models.PriorityHigh.Less(models.PriorityCritical))
	assert.False(t, models.PriorityCritical.Less(models.PriorityLow))
}

func TestTrigger_Matches(t *testing.T) {
	trigger := models.Trigger{Kind: models.TriggerMetadataChanged, Library: "Contracts", Fields: []string{"status"}}

	assert.True(t, trigger.Matches(models.DocumentEvent{
		Kind: models.TriggerMetadataChanged, Library: "contracts", ChangedFields: []string{"owner", "status"},
	}))
	assert.False(t, trigger.Matches(models.DocumentEvent{
		Kind: models.TriggerMetadataChanged, Library: "contracts", ChangedFields: []string{"owner"},
	}))
	assert.False(t, trigger.Matches(models.DocumentEvent{Kind: models.TriggerDocumentCreated, Library: "contracts"}))
	assert.False(t, models.Trigger{Kind: models.TriggerSchedule, Cron: "@daily"}.Matches(models.DocumentEvent{Kind: models.TriggerSchedule}))
}

func TestErrorDetail_FromEngineError(t *testing.T) {
	err := models.NewEngineError("Execute", "wf-9", models.ErrNotFound)

	detail := models.NewErrorDetail(err, "wf-9")
	assert.Equal(t, models.CodeNotFound, detail.Code)
	assert.Equal(t, "wf-9", detail.ID)
	assert.Contains(t, detail.Message, "not found")
}
