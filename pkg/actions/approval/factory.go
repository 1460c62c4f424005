// Package approval provides the create-approval action, which opens a staged
// approval workflow for the document.
package approval

import (
	"errors"

	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/protocol"
)

// ErrNoApprovalEngine is returned when no approval starter was injected.
var ErrNoApprovalEngine = errors.New("approval engine is not configured")

type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (f *ActionFactory) Create(collaborators protocol.Collaborators) (protocol.ActionHandler, error) {
	if collaborators.Approvals == nil {
		return nil, ErrNoApprovalEngine
	}

	return &Action{approvals: collaborators.Approvals}, nil
}

func (f *ActionFactory) Kind() models.ActionKind { return models.ActionCreateApproval }

func (f *ActionFactory) Name() string { return "Create approval" }

func (f *ActionFactory) Description() string {
	return "Opens an approval workflow with sequential or tiered parallel stages."
}

// Idempotent is false: a retried attempt would open a second approval.
func (f *ActionFactory) Idempotent() bool { return false }

func (f *ActionFactory) Schema() map[string]any {
	duration := map[string]any{"type": "integer", "minimum": 0, "description": "Duration in nanoseconds."}

	stage := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":      map[string]any{"type": "string", "minLength": 1},
			"tier":      map[string]any{"type": "integer", "minimum": 0},
			"approvers": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "minItems": 1},
			"policy":    map[string]any{"type": "string", "enum": []string{"unanimous", "first-response"}},
			"reminder": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"enabled":  map[string]any{"type": "boolean"},
					"interval": duration,
				},
			},
			"escalation": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"enabled":     map[string]any{"type": "boolean"},
					"timeout":     duration,
					"escalate_to": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
			},
		},
		"required": []string{"name", "approvers"},
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":           map[string]any{"type": "string", "minLength": 1},
			"mode":           map[string]any{"type": "string", "enum": []string{"sequential", "parallel"}},
			"allow_override": map[string]any{"type": "boolean", "default": false},
			"stages":         map[string]any{"type": "array", "items": stage, "minItems": 1},
		},
		"required":             []string{"name", "mode", "stages"},
		"additionalProperties": false,
	}
}
