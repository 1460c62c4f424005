// Package analysis provides the run-analysis action, which summarizes and tags
// a document through the analysis service and optionally writes the results
// back to the document metadata.
package analysis

import (
	"errors"

	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/protocol"
)

// ErrNoAnalysisService is returned when no analysis service was injected.
var ErrNoAnalysisService = errors.New("analysis service is not configured")

type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

// Create requires the analysis service. The content service is needed only
// for write-back and is checked when the action runs.
func (f *ActionFactory) Create(collaborators protocol.Collaborators) (protocol.ActionHandler, error) {
	if collaborators.Analysis == nil {
		return nil, ErrNoAnalysisService
	}

	return &Action{analysis: collaborators.Analysis, content: collaborators.Content, clock: collaborators.ClockOrReal()}, nil
}

func (f *ActionFactory) Kind() models.ActionKind { return models.ActionRunAnalysis }

func (f *ActionFactory) Name() string { return "Run analysis" }

func (f *ActionFactory) Description() string {
	return "Summarizes and tags the document. With write_back the results are stored in the document metadata."
}

func (f *ActionFactory) Idempotent() bool { return true }

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"formats": map[string]any{
				"type":    "array",
				"items":   map[string]any{"type": "string", "enum": []string{"brief", "detailed", "bullets"}},
				"default": []string{DefaultFormat},
			},
			"tags":       map[string]any{"type": "boolean", "default": false},
			"write_back": map[string]any{"type": "boolean", "default": false},
		},
		"additionalProperties": false,
	}
}
