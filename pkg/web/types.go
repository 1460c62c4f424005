// Package web provides the HTTP handlers of the engine API.
package web

import (
	"time"

	"github.com/docflow/docflow/pkg/models"
)

// ExecuteWorkflowRequest is the body of POST /workflows/:id/execute. A body
// without document_id runs the workflow schedule style.
type ExecuteWorkflowRequest struct {
	Version     int                `json:"version,omitempty"     validate:"min=0"`
	DocumentID  string             `json:"document_id,omitempty"`
	Metadata    map[string]any     `json:"metadata,omitempty"`
	Variables   map[string]any     `json:"variables,omitempty"`
	Permissions []string           `json:"permissions,omitempty"`
	InitiatedBy string             `json:"initiated_by,omitempty"`
	Trigger     models.TriggerKind `json:"trigger,omitempty"`
}

// ExecutionAccepted answers asynchronous execute requests.
type ExecutionAccepted struct {
	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
}

// ProcessDocumentRequest is the body of POST /documents/:id/process.
type ProcessDocumentRequest struct {
	WorkflowID     string `json:"workflow_id,omitempty"`
	SkipIfAnalyzed bool   `json:"skip_if_analyzed,omitempty"`
}

// BatchRequest is the body of POST /batches.
type BatchRequest struct {
	DocumentIDs              []string `json:"document_ids"                          validate:"required,min=1,max=1000,dive,required"`
	WorkflowID               string   `json:"workflow_id,omitempty"`
	MaxConcurrent            int      `json:"max_concurrent,omitempty"              validate:"min=0"`
	MaxProcessingTimeSeconds int      `json:"max_processing_time_seconds,omitempty" validate:"min=0"`
	SkipIfAnalyzed           bool     `json:"skip_if_analyzed,omitempty"`
	InitiatedBy              string   `json:"initiated_by,omitempty"`
}

func (r BatchRequest) maxProcessingTime() time.Duration {
	return time.Duration(r.MaxProcessingTimeSeconds) * time.Second
}

// DecisionRequest is the body of POST /approvals/:id/decisions.
type DecisionRequest struct {
	StageID  string          `json:"stage_id" validate:"required"`
	Approver string          `json:"approver" validate:"required"`
	Decision models.Decision `json:"decision" validate:"required,oneof=approved rejected"`
	Comment  string          `json:"comment,omitempty"`
}

type MetricsResponse struct {
	Metrics []models.WorkflowMetric `json:"metrics"`
}

type ExecutionsResponse struct {
	Executions []*models.Execution `json:"executions"`
}
