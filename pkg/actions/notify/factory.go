// Package notify provides the notify and send-email actions.
package notify

import (
	"errors"

	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/protocol"
)

// ErrNoNotificationService is returned by factories when no notification service was injected.
var ErrNoNotificationService = errors.New("notification service is not configured")

// NotifyFactory creates notify handlers.
type NotifyFactory struct{}

func NewNotifyFactory() *NotifyFactory {
	return &NotifyFactory{}
}

func (f *NotifyFactory) Create(collaborators protocol.Collaborators) (protocol.ActionHandler, error) {
	if collaborators.Notifications == nil {
		return nil, ErrNoNotificationService
	}

	return &Action{notifications: collaborators.Notifications}, nil
}

func (f *NotifyFactory) Kind() models.ActionKind { return models.ActionNotify }

func (f *NotifyFactory) Name() string { return "Notify" }

func (f *NotifyFactory) Description() string {
	return "Sends a templated notification to users or groups. Delivery failures are warnings unless require_delivery is set."
}

func (f *NotifyFactory) Idempotent() bool { return true }

func (f *NotifyFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"recipients": map[string]any{
				"type":     "array",
				"items":    map[string]any{"type": "string"},
				"minItems": 1,
			},
			"template": map[string]any{
				"type":     "string",
				"examples": []string{"document-processed", "retention-applied"},
			},
			"data": map[string]any{
				"type":        "object",
				"description": "Template data. String values support templating.",
			},
			"require_delivery": map[string]any{"type": "boolean", "default": false},
		},
		"required":             []string{"recipients", "template"},
		"additionalProperties": false,
	}
}

// SendEmailFactory creates send-email handlers.
type SendEmailFactory struct{}

func NewSendEmailFactory() *SendEmailFactory {
	return &SendEmailFactory{}
}

func (f *SendEmailFactory) Create(collaborators protocol.Collaborators) (protocol.ActionHandler, error) {
	if collaborators.Notifications == nil {
		return nil, ErrNoNotificationService
	}

	return &Action{notifications: collaborators.Notifications}, nil
}

func (f *SendEmailFactory) Kind() models.ActionKind { return models.ActionSendEmail }

func (f *SendEmailFactory) Name() string { return "Send email" }

func (f *SendEmailFactory) Description() string {
	return "Sends an email with a templated subject and body through the notification service."
}

func (f *SendEmailFactory) Idempotent() bool { return true }

func (f *SendEmailFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"to": map[string]any{
				"type":     "array",
				"items":    map[string]any{"type": "string", "format": "email"},
				"minItems": 1,
			},
			"subject":          map[string]any{"type": "string", "minLength": 1},
			"body":             map[string]any{"type": "string"},
			"require_delivery": map[string]any{"type": "boolean", "default": false},
		},
		"required":             []string{"to", "subject"},
		"additionalProperties": false,
	}
}
