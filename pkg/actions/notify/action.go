package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/protocol"
	"github.com/docflow/docflow/pkg/template"
)

// ErrInvalidParams is returned when the params are neither notify nor send-email params.
var ErrInvalidParams = errors.New("invalid notification params")

// Action delivers notify and send-email actions.
type Action struct {
	notifications protocol.NotificationService
}

func (a *Action) Execute(ctx context.Context, req protocol.ActionRequest) (*protocol.ActionResult, error) {
	data := template.ContextData(req.ExecutionID, req.Workflow.ID, req.Context)

	notification, requireDelivery, err := a.build(req.Action, data)
	if err != nil {
		return nil, err
	}

	logger := req.Logger.With(
		"module", "notify_action",
		"action_id", req.Action.ID,
		"recipients", len(notification.Recipients),
	)

	err = a.notifications.Notify(ctx, notification)
	if err == nil {
		logger.InfoContext(ctx, "Notification sent")

		return &protocol.ActionResult{
			Output: map[string]any{"recipients": notification.Recipients, "delivered": true},
		}, nil
	}

	if requireDelivery {
		return nil, protocol.NewCollaboratorError("notification", "Notify", err)
	}

	logger.WarnContext(ctx, "Notification delivery failed", "error", err)

	return &protocol.ActionResult{
		Output:   map[string]any{"recipients": notification.Recipients, "delivered": false},
		Warnings: []string{fmt.Sprintf("notification not delivered: %v", err)},
	}, nil
}

func (a *Action) build(action models.Action, data map[string]any) (protocol.Notification, bool, error) {
	if p, ok := models.ParamsAs[models.NotifyParams](action); ok {
		rendered, err := template.RenderMap(p.Data, data)
		if err != nil {
			return protocol.Notification{}, false, fmt.Errorf("failed to render data: %w", err)
		}

		if rendered == nil {
			rendered = map[string]any{}
		}

		if _, ok := rendered["document_id"]; !ok {
			rendered["document_id"] = data["document_id"]
		}

		return protocol.Notification{
			Recipients: p.Recipients,
			Template:   p.Template,
			Data:       rendered,
		}, p.RequireDelivery, nil
	}

	if p, ok := models.ParamsAs[models.SendEmailParams](action); ok {
		subject, err := template.RenderString(p.Subject, data)
		if err != nil {
			return protocol.Notification{}, false, fmt.Errorf("failed to render subject: %w", err)
		}

		body, err := template.RenderString(p.Body, data)
		if err != nil {
			return protocol.Notification{}, false, fmt.Errorf("failed to render body: %w", err)
		}

		return protocol.Notification{
			Recipients: p.To,
			Subject:    subject,
			Body:       body,
		}, p.RequireDelivery, nil
	}

	return protocol.Notification{}, false, ErrInvalidParams
}
