package workflow

import (
	"fmt"
	"time"

	"github.com/docflow/docflow/pkg/models"
)

// Execution lifecycle:
//
//	[pending] ──► [running] ──► [completed | failed | cancelled]
//	    │
//	    └──► [completed] (conditions not met), [failed] (dispatch error), [cancelled]
//
// Steps move pending → running → completed | failed, or pending → skipped.
var (
	executionTransitions = map[models.ExecutionStatus][]models.ExecutionStatus{
		models.ExecutionPending: {
			models.ExecutionRunning,
			models.ExecutionCompleted,
			models.ExecutionFailed,
			models.ExecutionCancelled,
		},
		models.ExecutionRunning: {
			models.ExecutionCompleted,
			models.ExecutionFailed,
			models.ExecutionCancelled,
		},
	}

	stepTransitions = map[models.StepStatus][]models.StepStatus{
		models.StepPending: {models.StepRunning, models.StepSkipped},
		models.StepRunning: {models.StepCompleted, models.StepFailed},
	}
)

// CanTransition reports whether an execution may move from one status to another.
func CanTransition(from, to models.ExecutionStatus) bool {
	for _, next := range executionTransitions[from] {
		if next == to {
			return true
		}
	}

	return false
}

// CanTransitionStep reports whether a step may move from one status to another.
func CanTransitionStep(from, to models.StepStatus) bool {
	for _, next := range stepTransitions[from] {
		if next == to {
			return true
		}
	}

	return false
}

// transition moves the execution to status. Terminal statuses also stamp the
// end time and duration.
func transition(execution *models.Execution, to models.ExecutionStatus, now time.Time) error {
	if !CanTransition(execution.Status, to) {
		return fmt.Errorf("%w: execution %s cannot move from %s to %s",
			models.ErrInvalidTransition, execution.ID, execution.Status, to)
	}

	execution.Status = to

	if to.Terminal() {
		end := now
		execution.EndTime = &end
		execution.Duration = end.Sub(execution.StartTime)
	}

	return nil
}

func transitionStep(step *models.Step, to models.StepStatus, now time.Time) error {
	if !CanTransitionStep(step.Status, to) {
		return fmt.Errorf("%w: step %s cannot move from %s to %s",
			models.ErrInvalidTransition, step.ActionID, step.Status, to)
	}

	step.Status = to

	switch to {
	case models.StepRunning:
		started := now
		step.StartedAt = &started
	case models.StepCompleted, models.StepFailed:
		finished := now
		step.FinishedAt = &finished
	}

	return nil
}

// skipRemaining marks every still-pending step from index i as skipped.
func skipRemaining(execution *models.Execution, i int, now time.Time) {
	for j := i; j < len(execution.Steps); j++ {
		if execution.Steps[j].Status == models.StepPending {
			_ = transitionStep(&execution.Steps[j], models.StepSkipped, now)
		}
	}
}
