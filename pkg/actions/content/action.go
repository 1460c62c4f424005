package content

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/protocol"
	"github.com/docflow/docflow/pkg/template"
	"github.com/jonboulle/clockwork"
)

const defaultArchiveTarget = "/archive"

var (
	// ErrNoDocument is returned when a document action runs without a document.
	ErrNoDocument = fmt.Errorf("%w: action requires a document", models.ErrInvalidRequest)
	// ErrInvalidParams is returned when the params do not match the action kind.
	ErrInvalidParams = errors.New("invalid content action params")
)

// Action runs one content action kind against the content service.
type Action struct {
	kind    models.ActionKind
	content protocol.ContentService
	clock   clockwork.Clock
}

func (a *Action) Execute(ctx context.Context, req protocol.ActionRequest) (*protocol.ActionResult, error) {
	if req.Context.DocumentID == "" {
		return nil, ErrNoDocument
	}

	logger := req.Logger.With("module", "content_action", "kind", a.kind, "document_id", req.Context.DocumentID)
	data := template.ContextData(req.ExecutionID, req.Workflow.ID, req.Context)

	var (
		result *protocol.ActionResult
		err    error
	)

	switch a.kind {
	case models.ActionMove, models.ActionCopy:
		result, err = a.transfer(ctx, req, data)
	case models.ActionDelete:
		result, err = a.delete(ctx, req)
	case models.ActionArchive:
		result, err = a.archive(ctx, req, data)
	case models.ActionApplyRetention:
		result, err = a.applyRetention(ctx, req)
	case models.ActionUpdateMetadata:
		result, err = a.updateMetadata(ctx, req, data)
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrUnsupportedActionKind, a.kind)
	}

	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "Content action completed")

	return result, nil
}

func (a *Action) transfer(ctx context.Context, req protocol.ActionRequest, data map[string]any) (*protocol.ActionResult, error) {
	var target string

	if p, ok := models.ParamsAs[models.MoveParams](req.Action); ok {
		target = p.Target
	} else if p, ok := models.ParamsAs[models.CopyParams](req.Action); ok {
		target = p.Target
	} else {
		return nil, ErrInvalidParams
	}

	rendered, err := template.RenderString(target, data)
	if err != nil {
		return nil, fmt.Errorf("failed to render target: %w", err)
	}

	op := protocol.TransferMove
	if a.kind == models.ActionCopy {
		op = protocol.TransferCopy
	}

	err = a.content.Transfer(ctx, protocol.TransferRequest{
		Op:             op,
		DocumentID:     req.Context.DocumentID,
		Target:         rendered,
		IdempotencyKey: req.Action.IdempotencyKey,
	})
	if err != nil {
		return nil, protocol.NewCollaboratorError("content", "Transfer", err)
	}

	result := &protocol.ActionResult{
		Output: map[string]any{"op": string(op), "target": rendered},
	}

	if op == protocol.TransferMove {
		result.MetadataPatch = &protocol.MetadataPatch{Set: map[string]any{"location": rendered}}
	}

	return result, nil
}

func (a *Action) delete(ctx context.Context, req protocol.ActionRequest) (*protocol.ActionResult, error) {
	params, ok := models.ParamsAs[models.DeleteParams](req.Action)
	if !ok {
		return nil, ErrInvalidParams
	}

	err := a.content.Transfer(ctx, protocol.TransferRequest{
		Op:             protocol.TransferDelete,
		DocumentID:     req.Context.DocumentID,
		Permanent:      params.Permanent,
		IdempotencyKey: req.Action.IdempotencyKey,
	})
	if err != nil {
		return nil, protocol.NewCollaboratorError("content", "Transfer", err)
	}

	return &protocol.ActionResult{
		Output: map[string]any{"op": string(protocol.TransferDelete), "permanent": params.Permanent},
	}, nil
}

func (a *Action) archive(ctx context.Context, req protocol.ActionRequest, data map[string]any) (*protocol.ActionResult, error) {
	params, ok := models.ParamsAs[models.ArchiveParams](req.Action)
	if !ok {
		return nil, ErrInvalidParams
	}

	target := params.Target
	if target == "" {
		target = defaultArchiveTarget
	}

	rendered, err := template.RenderString(target, data)
	if err != nil {
		return nil, fmt.Errorf("failed to render target: %w", err)
	}

	err = a.content.Transfer(ctx, protocol.TransferRequest{
		Op:             protocol.TransferMove,
		DocumentID:     req.Context.DocumentID,
		Target:         rendered,
		IdempotencyKey: req.Action.IdempotencyKey,
	})
	if err != nil {
		return nil, protocol.NewCollaboratorError("content", "Transfer", err)
	}

	patch := protocol.MetadataPatch{Set: map[string]any{
		"archived":    true,
		"archived_at": a.clock.Now().UTC().Format(time.RFC3339),
		"location":    rendered,
	}}

	if params.Reason != "" {
		patch.Set["archive_reason"] = params.Reason
	}

	if err := a.content.UpdateMetadata(ctx, req.Context.DocumentID, patch); err != nil {
		return nil, protocol.NewCollaboratorError("content", "UpdateMetadata", err)
	}

	return &protocol.ActionResult{
		MetadataPatch: &patch,
		Output:        map[string]any{"target": rendered},
	}, nil
}

func (a *Action) applyRetention(ctx context.Context, req protocol.ActionRequest) (*protocol.ActionResult, error) {
	params, ok := models.ParamsAs[models.ApplyRetentionParams](req.Action)
	if !ok {
		return nil, ErrInvalidParams
	}

	disposition := params.Disposition
	if disposition == "" {
		disposition = "review"
	}

	until := a.clock.Now().UTC().AddDate(0, 0, params.PeriodDays)

	patch := protocol.MetadataPatch{Set: map[string]any{
		"retention_label":       params.Label,
		"retention_period_days": params.PeriodDays,
		"retention_disposition": disposition,
		"retention_until":       until.Format(time.RFC3339),
	}}

	if err := a.content.UpdateMetadata(ctx, req.Context.DocumentID, patch); err != nil {
		return nil, protocol.NewCollaboratorError("content", "UpdateMetadata", err)
	}

	return &protocol.ActionResult{
		MetadataPatch: &patch,
		Output:        map[string]any{"retention_until": until.Format(time.RFC3339)},
	}, nil
}

func (a *Action) updateMetadata(ctx context.Context, req protocol.ActionRequest, data map[string]any) (*protocol.ActionResult, error) {
	params, ok := models.ParamsAs[models.UpdateMetadataParams](req.Action)
	if !ok {
		return nil, ErrInvalidParams
	}

	set, err := template.RenderMap(params.Set, data)
	if err != nil {
		return nil, fmt.Errorf("failed to render metadata: %w", err)
	}

	patch := protocol.MetadataPatch{Set: set, Remove: params.Remove}
	if patch.IsEmpty() {
		return &protocol.ActionResult{Warnings: []string{"update-metadata has nothing to change"}}, nil
	}

	if err := a.content.UpdateMetadata(ctx, req.Context.DocumentID, patch); err != nil {
		return nil, protocol.NewCollaboratorError("content", "UpdateMetadata", err)
	}

	return &protocol.ActionResult{
		MetadataPatch: &patch,
		Output:        map[string]any{"updated": len(set), "removed": len(params.Remove)},
	}, nil
}
