package models

import "time"

// ApprovalMode controls how stages are activated.
type ApprovalMode string

const (
	// ApprovalSequential activates one stage at a time, in order.
	ApprovalSequential ApprovalMode = "sequential"
	// ApprovalParallel activates every stage of the lowest unfinished tier.
	ApprovalParallel ApprovalMode = "parallel"
)

// ApprovalPolicy controls when a stage resolves.
type ApprovalPolicy string

const (
	// PolicyUnanimous needs every approver. Any rejection rejects the stage.
	PolicyUnanimous ApprovalPolicy = "unanimous"
	// PolicyFirstResponse resolves on the first decision received.
	PolicyFirstResponse ApprovalPolicy = "first-response"
)

// Decision is an approver's (or a stage's) verdict.
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// ApprovalStatus is the overall state of an approval workflow.
type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "pending"
	ApprovalApproved  ApprovalStatus = "approved"
	ApprovalRejected  ApprovalStatus = "rejected"
	ApprovalCancelled ApprovalStatus = "cancelled"
)

type ReminderSettings struct {
	Enabled  bool          `json:"enabled"`
	Interval time.Duration `json:"interval" validate:"required_if=Enabled true"`
}

type EscalationSettings struct {
	Enabled    bool          `json:"enabled"`
	Timeout    time.Duration `json:"timeout"               validate:"required_if=Enabled true"`
	EscalateTo []string      `json:"escalate_to,omitempty" validate:"required_if=Enabled true"`
}

// ApprovalStageSpec is the authoring shape of a stage.
type ApprovalStageSpec struct {
	Name       string             `json:"name"                validate:"required"`
	Tier       int                `json:"tier,omitempty"      validate:"gte=0"`
	Approvers  []string           `json:"approvers"           validate:"required,min=1"`
	Policy     ApprovalPolicy     `json:"policy,omitempty"    validate:"omitempty,oneof=unanimous first-response"`
	Reminder   ReminderSettings   `json:"reminder"`
	Escalation EscalationSettings `json:"escalation"`
}

// ApprovalRequest asks the approval engine to open a new approval workflow.
type ApprovalRequest struct {
	Name          string              `json:"name"                     validate:"required"`
	DocumentID    string              `json:"document_id,omitempty"`
	ExecutionID   string              `json:"execution_id,omitempty"`
	Mode          ApprovalMode        `json:"mode"                     validate:"required,oneof=sequential parallel"`
	AllowOverride bool                `json:"allow_override,omitempty"`
	Stages        []ApprovalStageSpec `json:"stages"                   validate:"required,min=1,dive"`
	RequestedBy   string              `json:"requested_by,omitempty"`
}

type ApprovalResponse struct {
	Approver    string    `json:"approver"`
	Decision    Decision  `json:"decision"`
	Comment     string    `json:"comment,omitempty"`
	RespondedAt time.Time `json:"responded_at"`
}

// ApprovalStage is one approver group. Timers are owned by the approval engine
// and tied to the stage while its decision is pending.
type ApprovalStage struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Tier        int                `json:"tier"`
	Approvers   []string           `json:"approvers"`
	Policy      ApprovalPolicy     `json:"policy"`
	Decision    Decision           `json:"decision"`
	Responses   []ApprovalResponse `json:"responses,omitempty"`
	Reminder    ReminderSettings   `json:"reminder"`
	Escalation  EscalationSettings `json:"escalation"`
	Escalated   bool               `json:"escalated,omitempty"`
	Active      bool               `json:"active"`
	Reminders   int                `json:"reminders,omitempty"`
	ActivatedAt *time.Time         `json:"activated_at,omitempty"`
	ResolvedAt  *time.Time         `json:"resolved_at,omitempty"`
}

// Pending reports whether the stage is active and undecided.
func (s *ApprovalStage) Pending() bool {
	return s.Active && s.Decision == DecisionPending
}

// IsApprover reports whether the user may decide the stage.
func (s *ApprovalStage) IsApprover(user string) bool {
	for _, a := range s.Approvers {
		if a == user {
			return true
		}
	}

	return false
}

// Responded reports whether the user already decided the stage.
func (s *ApprovalStage) Responded(user string) bool {
	for _, r := range s.Responses {
		if r.Approver == user {
			return true
		}
	}

	return false
}

type ApprovalWorkflow struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	DocumentID    string           `json:"document_id,omitempty"`
	ExecutionID   string           `json:"execution_id,omitempty"`
	Mode          ApprovalMode     `json:"mode"`
	AllowOverride bool             `json:"allow_override,omitempty"`
	Status        ApprovalStatus   `json:"status"`
	Overridden    bool             `json:"overridden,omitempty"`
	Stages        []*ApprovalStage `json:"stages"`
	RequestedBy   string           `json:"requested_by,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
}

// Stage returns the stage with the given id.
func (a *ApprovalWorkflow) Stage(id string) *ApprovalStage {
	for _, s := range a.Stages {
		if s.ID == id {
			return s
		}
	}

	return nil
}
