// Package testutil provides test data builders and in-memory collaborators.
package testutil

import (
	"time"

	"github.com/docflow/docflow/pkg/models"
	"github.com/google/uuid"
)

// CreateTestWorkflow creates a valid Workflow with default values that can be overridden.
func CreateTestWorkflow(overrides ...func(*models.Workflow)) *models.Workflow {
	now := time.Now().UTC()

	workflow := &models.Workflow{
		ID:       uuid.New().String(),
		Name:     "Test Workflow",
		Version:  1,
		Enabled:  true,
		Category: models.CategoryLifecycle,
		Priority: models.PriorityNormal,
		Triggers: []models.Trigger{{Kind: models.TriggerManual}},
		Actions: []models.Action{
			{ID: "archive", Kind: models.ActionArchive, Params: models.ArchiveParams{Target: "/archive"}},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

// WithID sets the workflow id.
func WithID(id string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.ID = id
	}
}

// WithCategory sets the workflow category.
func WithCategory(category models.Category) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Category = category
	}
}

// WithConditions replaces the workflow conditions.
func WithConditions(conds ...models.Condition) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Conditions = conds
	}
}

// WithActions replaces the workflow actions.
func WithActions(actions ...models.Action) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Actions = actions
	}
}

// WithTriggers replaces the workflow triggers.
func WithTriggers(triggers ...models.Trigger) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Triggers = triggers
	}
}

// MoveAction builds a move action to target.
func MoveAction(id, target string) models.Action {
	return models.Action{ID: id, Kind: models.ActionMove, Params: models.MoveParams{Target: target}}
}

// NotifyAction builds a notify action.
func NotifyAction(id string, recipients ...string) models.Action {
	return models.Action{
		ID:     id,
		Kind:   models.ActionNotify,
		Params: models.NotifyParams{Recipients: recipients, Template: "document-processed"},
	}
}

// UpdateMetadataAction builds an update-metadata action.
func UpdateMetadataAction(id string, set map[string]any) models.Action {
	return models.Action{ID: id, Kind: models.ActionUpdateMetadata, Params: models.UpdateMetadataParams{Set: set}}
}

// ContinueOnError marks the action to continue on error.
func ContinueOnError(a models.Action) models.Action {
	v := true
	a.ContinueOnError = &v

	return a
}
