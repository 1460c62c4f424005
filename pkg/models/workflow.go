// Package models defines the core domain models for rule-based document workflows.
package models

import (
	"encoding/json"
	"time"
)

// Category groups workflows by business purpose.
type Category string

const (
	CategoryLifecycle         Category = "lifecycle"
	CategoryCompliance        Category = "compliance"
	CategoryApproval          Category = "approval"
	CategoryContentManagement Category = "content-management"
	CategoryAnalytics         Category = "analytics"
	CategoryIntegration       Category = "integration"
	CategoryCustom            Category = "custom"
)

// Categories lists every workflow category.
func Categories() []Category {
	return []Category{
		CategoryLifecycle,
		CategoryCompliance,
		CategoryApproval,
		CategoryContentManagement,
		CategoryAnalytics,
		CategoryIntegration,
		CategoryCustom,
	}
}

// Priority is an ordered enum, low < normal < high < critical.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

var priorityRank = map[Priority]int{
	PriorityLow:      0,
	PriorityNormal:   1,
	PriorityHigh:     2,
	PriorityCritical: 3,
}

// Rank returns the ordinal of the priority. Unknown priorities rank as normal.
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}

	return priorityRank[PriorityNormal]
}

// Less reports whether p orders strictly before other.
func (p Priority) Less(other Priority) bool {
	return p.Rank() < other.Rank()
}

// Workflow is a versioned, rule-based automation definition.
// A stored Workflow is never mutated in place: updates create a new version.
type Workflow struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"                        validate:"required,min=3"`
	Description     string      `json:"description,omitempty"`
	Version         int         `json:"version"`
	Enabled         bool        `json:"enabled"`
	Category        Category    `json:"category"                    validate:"required,oneof=lifecycle compliance approval content-management analytics integration custom"`
	Priority        Priority    `json:"priority"                    validate:"required,oneof=low normal high critical"`
	Triggers        []Trigger   `json:"triggers"                    validate:"required,min=1,dive"`
	Conditions      []Condition `json:"conditions,omitempty"`
	Actions         []Action    `json:"actions"                     validate:"required,min=1,dive"`
	ContinueOnError bool        `json:"continue_on_error,omitempty"`
	Owner           string      `json:"owner,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Clone returns a deep copy of the workflow. Executions pin a clone at dispatch
// so later edits never leak into a running execution.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}

	data, err := json.Marshal(w)
	if err != nil {
		// unreachable for JSON-safe params
		cp := *w

		return &cp
	}

	var cp Workflow
	if err := json.Unmarshal(data, &cp); err != nil {
		shallow := *w

		return &shallow
	}

	return &cp
}

// ContinueOnErrorFor resolves the effective continue-on-error flag of an action.
func (w *Workflow) ContinueOnErrorFor(action Action) bool {
	if action.ContinueOnError != nil {
		return *action.ContinueOnError
	}

	return w.ContinueOnError
}

// WorkflowPatch carries a partial update. Nil fields are left unchanged.
type WorkflowPatch struct {
	Name            *string      `json:"name,omitempty"`
	Description     *string      `json:"description,omitempty"`
	Enabled         *bool        `json:"enabled,omitempty"`
	Category        *Category    `json:"category,omitempty"`
	Priority        *Priority    `json:"priority,omitempty"`
	Triggers        []Trigger    `json:"triggers,omitempty"`
	Conditions      *[]Condition `json:"conditions,omitempty"`
	Actions         []Action     `json:"actions,omitempty"`
	ContinueOnError *bool        `json:"continue_on_error,omitempty"`
	Owner           *string      `json:"owner,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p WorkflowPatch) IsEmpty() bool {
	return p.Name == nil && p.Description == nil && p.Enabled == nil &&
		p.Category == nil && p.Priority == nil && p.Triggers == nil &&
		p.Conditions == nil && p.Actions == nil && p.ContinueOnError == nil &&
		p.Owner == nil
}

// Apply returns a copy of w with the patch applied. Version and timestamps are
// left for the caller to bump.
func (p WorkflowPatch) Apply(w *Workflow) *Workflow {
	next := w.Clone()

	if p.Name != nil {
		next.Name = *p.Name
	}

	if p.Description != nil {
		next.Description = *p.Description
	}

	if p.Enabled != nil {
		next.Enabled = *p.Enabled
	}

	if p.Category != nil {
		next.Category = *p.Category
	}

	if p.Priority != nil {
		next.Priority = *p.Priority
	}

	if p.Triggers != nil {
		next.Triggers = p.Triggers
	}

	if p.Conditions != nil {
		next.Conditions = *p.Conditions
	}

	if p.Actions != nil {
		next.Actions = p.Actions
	}

	if p.ContinueOnError != nil {
		next.ContinueOnError = *p.ContinueOnError
	}

	if p.Owner != nil {
		next.Owner = *p.Owner
	}

	return next
}
