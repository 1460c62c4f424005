package approval

import (
	"slices"
	"time"

	"github.com/docflow/docflow/pkg/models"
)

// activate marks the next stages active and returns them. Sequential mode
// activates the first undecided stage; parallel mode activates every
// undecided stage of the lowest undecided tier. Nothing is activated while
// an active stage is still pending.
func activate(a *models.ApprovalWorkflow, now time.Time) []*models.ApprovalStage {
	for _, s := range a.Stages {
		if s.Pending() {
			return nil
		}
	}

	var next []*models.ApprovalStage

	switch a.Mode {
	case models.ApprovalParallel:
		tier, ok := lowestUndecidedTier(a)
		if !ok {
			return nil
		}

		for _, s := range a.Stages {
			if s.Decision == models.DecisionPending && s.Tier == tier {
				next = append(next, s)
			}
		}
	default:
		for _, s := range a.Stages {
			if s.Decision == models.DecisionPending {
				next = append(next, s)

				break
			}
		}
	}

	for _, s := range next {
		activated := now
		s.Active = true
		s.ActivatedAt = &activated
	}

	return next
}

func lowestUndecidedTier(a *models.ApprovalWorkflow) (int, bool) {
	tier, found := 0, false

	for _, s := range a.Stages {
		if s.Decision != models.DecisionPending {
			continue
		}

		if !found || s.Tier < tier {
			tier, found = s.Tier, true
		}
	}

	return tier, found
}

// resolve derives the stage decision from its responses under its policy.
// It returns DecisionPending while more responses are needed.
func resolve(s *models.ApprovalStage) models.Decision {
	if len(s.Responses) == 0 {
		return models.DecisionPending
	}

	if s.Policy == models.PolicyFirstResponse {
		return s.Responses[0].Decision
	}

	for _, r := range s.Responses {
		if r.Decision == models.DecisionRejected {
			return models.DecisionRejected
		}
	}

	for _, approver := range s.Approvers {
		if !s.Responded(approver) {
			return models.DecisionPending
		}
	}

	return models.DecisionApproved
}

// complete reports whether every stage is decided.
func complete(a *models.ApprovalWorkflow) bool {
	for _, s := range a.Stages {
		if s.Decision == models.DecisionPending {
			return false
		}
	}

	return true
}

func pendingApprovers(s *models.ApprovalStage) []string {
	out := make([]string, 0, len(s.Approvers))

	for _, approver := range s.Approvers {
		if !s.Responded(approver) {
			out = append(out, approver)
		}
	}

	return out
}

// escalate adds the escalation approvers to the stage and returns the ones
// that were not approvers yet.
func escalate(s *models.ApprovalStage) []string {
	var added []string

	for _, approver := range s.Escalation.EscalateTo {
		if !slices.Contains(s.Approvers, approver) {
			s.Approvers = append(s.Approvers, approver)
			added = append(added, approver)
		}
	}

	s.Escalated = true

	return added
}

func activeStages(a *models.ApprovalWorkflow) []*models.ApprovalStage {
	var out []*models.ApprovalStage

	for _, s := range a.Stages {
		if s.Pending() {
			out = append(out, s)
		}
	}

	return out
}
