// Package content provides the actions that move, copy, delete, archive and
// annotate documents through the content service.
package content

import (
	"errors"

	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/protocol"
)

// ErrNoContentService is returned by factories when no content service was injected.
var ErrNoContentService = errors.New("content service is not configured")

// ActionFactory creates one content action kind.
type ActionFactory struct {
	kind        models.ActionKind
	name        string
	description string
	schema      map[string]any
}

// Factories returns the factories of every content action kind.
func Factories() []*ActionFactory {
	return []*ActionFactory{
		NewMoveFactory(),
		NewCopyFactory(),
		NewDeleteFactory(),
		NewArchiveFactory(),
		NewApplyRetentionFactory(),
		NewUpdateMetadataFactory(),
	}
}

func NewMoveFactory() *ActionFactory {
	return &ActionFactory{
		kind:        models.ActionMove,
		name:        "Move document",
		description: "Moves the document to another folder or library.",
		schema:      targetSchema(),
	}
}

func NewCopyFactory() *ActionFactory {
	return &ActionFactory{
		kind:        models.ActionCopy,
		name:        "Copy document",
		description: "Copies the document to another folder or library.",
		schema:      targetSchema(),
	}
}

func NewDeleteFactory() *ActionFactory {
	return &ActionFactory{
		kind:        models.ActionDelete,
		name:        "Delete document",
		description: "Deletes the document, to the recycle bin unless permanent is set.",
		schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"permanent": map[string]any{"type": "boolean", "default": false},
			},
			"additionalProperties": false,
		},
	}
}

func NewArchiveFactory() *ActionFactory {
	return &ActionFactory{
		kind:        models.ActionArchive,
		name:        "Archive document",
		description: "Moves the document to the archive location and marks it archived.",
		schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"target": map[string]any{
					"type":        "string",
					"description": "Archive location. Defaults to /archive. Supports templating.",
				},
				"reason": map[string]any{"type": "string"},
			},
			"additionalProperties": false,
		},
	}
}

func NewApplyRetentionFactory() *ActionFactory {
	return &ActionFactory{
		kind:        models.ActionApplyRetention,
		name:        "Apply retention label",
		description: "Labels the document with a retention policy and computes its disposition date.",
		schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"label":       map[string]any{"type": "string", "minLength": 1},
				"period_days": map[string]any{"type": "integer", "minimum": 0},
				"disposition": map[string]any{"type": "string", "enum": []string{"delete", "archive", "review"}},
			},
			"required":             []string{"label"},
			"additionalProperties": false,
		},
	}
}

func NewUpdateMetadataFactory() *ActionFactory {
	return &ActionFactory{
		kind:        models.ActionUpdateMetadata,
		name:        "Update metadata",
		description: "Sets and removes metadata fields. String values support templating.",
		schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"set":    map[string]any{"type": "object"},
				"remove": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
			"additionalProperties": false,
		},
	}
}

func (f *ActionFactory) Create(collaborators protocol.Collaborators) (protocol.ActionHandler, error) {
	if collaborators.Content == nil {
		return nil, ErrNoContentService
	}

	return &Action{kind: f.kind, content: collaborators.Content, clock: collaborators.ClockOrReal()}, nil
}

func (f *ActionFactory) Kind() models.ActionKind { return f.kind }

func (f *ActionFactory) Name() string { return f.name }

func (f *ActionFactory) Description() string { return f.description }

func (f *ActionFactory) Schema() map[string]any { return f.schema }

// Idempotent is false for every content kind; they are retried only with an
// idempotency key.
func (f *ActionFactory) Idempotent() bool { return false }

func targetSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"target": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Destination path. Supports templating with the execution context.",
				"examples":    []string{"/Shared Documents/Processed", "/archive/{{ .metadata.year }}"},
			},
		},
		"required":             []string{"target"},
		"additionalProperties": false,
	}
}
