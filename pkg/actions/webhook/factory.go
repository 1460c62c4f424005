package webhook

import (
	"net/http"
	"time"

	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/protocol"
)

const defaultTimeoutSeconds = 30

// ActionFactory creates webhook handlers.
type ActionFactory struct{}

// NewActionFactory creates a new webhook ActionFactory.
func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

// Create builds a handler. Without an injected client a default one is used.
func (f *ActionFactory) Create(collaborators protocol.Collaborators) (protocol.ActionHandler, error) {
	client := collaborators.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeoutSeconds * time.Second}
	}

	return NewAction(client), nil
}

func (f *ActionFactory) Kind() models.ActionKind {
	return models.ActionWebhook
}

func (f *ActionFactory) Name() string {
	return "Webhook"
}

func (f *ActionFactory) Description() string {
	return "Calls an external HTTP endpoint with a JSON body rendered from the execution context."
}

// Idempotent is false: a webhook is retried only when the action carries an
// idempotency key, which is forwarded as the Idempotency-Key header.
func (f *ActionFactory) Idempotent() bool {
	return false
}

// Schema returns the JSON schema for configuring this action.
func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"title":       "URL",
				"type":        "string",
				"description": "Endpoint to call. Supports templating with the execution context.",
				"examples": []string{
					"https://hooks.example.com/documents",
					"https://hooks.example.com/documents/{{ .document_id }}",
				},
			},
			"method": map[string]any{
				"type":    "string",
				"default": "POST",
				"enum":    []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
			},
			"headers": map[string]any{
				"type": "object",
				"additionalProperties": map[string]any{
					"type": "string",
				},
			},
			"body": map[string]any{
				"type":        "object",
				"description": "JSON body. String values support templating.",
			},
			"timeout_seconds": map[string]any{
				"type":    "integer",
				"minimum": 0,
				"maximum": 300, //nolint:mnd // upper bound of a webhook call
			},
		},
		"required":             []string{"url"},
		"additionalProperties": false,
	}
}
