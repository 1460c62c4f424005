// Package webhook provides the webhook action, calling external HTTP endpoints.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/protocol"
	"github.com/docflow/docflow/pkg/template"
)

var (
	// ErrInvalidParams is returned when the action does not carry webhook params.
	ErrInvalidParams = errors.New("invalid webhook params")
	// ErrHTTPStatus is returned when the endpoint answers with a non-2xx status.
	ErrHTTPStatus = errors.New("unexpected HTTP status")
	// ErrHTTPServerError is returned when the server returns a 5xx status.
	ErrHTTPServerError = errors.New("server error during webhook call")
)

// Action sends the rendered request. Responses outside 2xx fail the step.
type Action struct {
	client *http.Client
}

func NewAction(client *http.Client) *Action {
	return &Action{client: client}
}

func (a *Action) Execute(ctx context.Context, req protocol.ActionRequest) (*protocol.ActionResult, error) {
	logger := req.Logger.With("module", "webhook_action", "action_id", req.Action.ID)

	params, ok := models.ParamsAs[models.WebhookParams](req.Action)
	if !ok {
		return nil, ErrInvalidParams
	}

	if params.TimeoutSeconds > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, time.Duration(params.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	data := template.ContextData(req.ExecutionID, req.Workflow.ID, req.Context)

	httpReq, err := buildRequest(ctx, req.Action, params, data)
	if err != nil {
		return nil, err
	}

	logger.DebugContext(ctx, "Calling webhook", "method", httpReq.Method, "url", httpReq.URL.String())

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, protocol.NewCollaboratorError("webhook", "Call", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, protocol.NewCollaboratorError("webhook", "Call", fmt.Errorf("failed to read response body: %w", err))
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, protocol.NewCollaboratorError("webhook", "Call", fmt.Errorf("%w (status %d)", ErrHTTPServerError, resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, protocol.NewCollaboratorError("webhook", "Call",
			fmt.Errorf("%w %d: %w", ErrHTTPStatus, resp.StatusCode, models.ErrInvalidRequest))
	}

	var body any
	if len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, &body); err != nil {
			body = string(bodyBytes)
		}
	}

	logger.InfoContext(ctx, "Webhook completed", "status", resp.StatusCode, "body_length", len(bodyBytes))

	return &protocol.ActionResult{
		Output: map[string]any{
			"status_code": resp.StatusCode,
			"body":        body,
		},
	}, nil
}

func buildRequest(ctx context.Context, action models.Action, params models.WebhookParams, data map[string]any) (*http.Request, error) {
	url, err := template.RenderString(params.URL, data)
	if err != nil {
		return nil, fmt.Errorf("failed to render url: %w", err)
	}

	method := strings.ToUpper(params.Method)
	if method == "" {
		method = http.MethodPost
	}

	var bodyReader io.Reader

	if params.Body != nil && method != http.MethodGet {
		rendered, err := template.RenderMap(params.Body, data)
		if err != nil {
			return nil, fmt.Errorf("failed to render body: %w", err)
		}

		payload, err := json.Marshal(rendered)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}

		bodyReader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	if bodyReader != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	for key, value := range params.Headers {
		rendered, err := template.RenderString(value, data)
		if err != nil {
			return nil, fmt.Errorf("failed to render header '%s': %w", key, err)
		}

		httpReq.Header.Set(key, rendered)
	}

	if action.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", action.IdempotencyKey)
	}

	return httpReq, nil
}
