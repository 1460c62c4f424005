package approval

import (
	"context"
	"errors"

	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/protocol"
	"github.com/docflow/docflow/pkg/template"
)

var ErrInvalidParams = errors.New("invalid create-approval params")

type Action struct {
	approvals protocol.ApprovalStarter
}

func (a *Action) Execute(ctx context.Context, req protocol.ActionRequest) (*protocol.ActionResult, error) {
	params, ok := models.ParamsAs[models.CreateApprovalParams](req.Action)
	if !ok {
		return nil, ErrInvalidParams
	}

	data := template.ContextData(req.ExecutionID, req.Workflow.ID, req.Context)

	name, err := template.RenderString(params.Name, data)
	if err != nil {
		return nil, err
	}

	approval, err := a.approvals.Create(ctx, models.ApprovalRequest{
		Name:          name,
		DocumentID:    req.Context.DocumentID,
		ExecutionID:   req.ExecutionID,
		Mode:          params.Mode,
		AllowOverride: params.AllowOverride,
		Stages:        params.Stages,
		RequestedBy:   req.Context.InitiatedBy,
	})
	if err != nil {
		return nil, protocol.NewCollaboratorError("approval", "Create", err)
	}

	req.Logger.InfoContext(ctx, "Approval workflow created",
		"module", "approval_action",
		"approval_id", approval.ID,
		"stages", len(approval.Stages),
	)

	return &protocol.ActionResult{
		Variables: map[string]any{"approval_id": approval.ID},
		Output:    map[string]any{"approval_id": approval.ID, "status": string(approval.Status)},
	}, nil
}
