package models

import (
	"maps"
	"slices"
	"time"
)

// ExecutionStatus is the state of one workflow run.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether no transition may leave the status.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// StepStatus is the state of one action outcome.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// ExecutionContext is the per-run working set. It is owned by exactly one
// execution and never shared across runs.
type ExecutionContext struct {
	DocumentID  string         `json:"document_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Variables   map[string]any `json:"variables,omitempty"`
	Permissions []string       `json:"permissions,omitempty"`
	InitiatedBy string         `json:"initiated_by,omitempty"`
}

// Copy returns a context that shares no maps or slices with c.
func (c ExecutionContext) Copy() ExecutionContext {
	out := ExecutionContext{
		DocumentID:  c.DocumentID,
		InitiatedBy: c.InitiatedBy,
		Metadata:    make(map[string]any, len(c.Metadata)),
		Variables:   make(map[string]any, len(c.Variables)),
		Permissions: slices.Clone(c.Permissions),
	}

	maps.Copy(out.Metadata, c.Metadata)
	maps.Copy(out.Variables, c.Variables)

	return out
}

// HasPermission reports whether the context carries the permission.
func (c ExecutionContext) HasPermission(permission string) bool {
	return slices.Contains(c.Permissions, permission)
}

// Step records one action's outcome within an execution.
type Step struct {
	ActionIndex int            `json:"action_index"`
	ActionID    string         `json:"action_id"`
	Kind        ActionKind     `json:"kind"`
	Status      StepStatus     `json:"status"`
	Error       *ErrorDetail   `json:"error,omitempty"`
	Warnings    []string       `json:"warnings,omitempty"`
	Attempts    int            `json:"attempts,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
}

// Execution is one run of a pinned workflow version.
type Execution struct {
	ID               string           `json:"id"`
	WorkflowID       string           `json:"workflow_id"`
	WorkflowVersion  int              `json:"workflow_version"`
	WorkflowCategory Category         `json:"workflow_category"`
	DocumentID       string           `json:"document_id,omitempty"`
	Status           ExecutionStatus  `json:"status"`
	Skipped          bool             `json:"skipped,omitempty"`
	Steps            []Step           `json:"steps"`
	Error            *ErrorDetail     `json:"error,omitempty"`
	FailedStep       *int             `json:"failed_step,omitempty"`
	InitiatedBy      string           `json:"initiated_by,omitempty"`
	Context          ExecutionContext `json:"context"`
	StartTime        time.Time        `json:"start_time"`
	EndTime          *time.Time       `json:"end_time,omitempty"`
	Duration         time.Duration    `json:"duration"`
}

// Succeeded reports whether the execution completed without an unrecovered failure.
func (e *Execution) Succeeded() bool {
	return e.Status == ExecutionCompleted
}

// CompletedSteps counts steps that finished successfully.
func (e *Execution) CompletedSteps() int {
	n := 0

	for _, s := range e.Steps {
		if s.Status == StepCompleted {
			n++
		}
	}

	return n
}
