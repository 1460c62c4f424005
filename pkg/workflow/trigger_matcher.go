package workflow

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/docflow/docflow/pkg/models"
)

// TriggerMatcher matches incoming document events against workflow triggers.
type TriggerMatcher struct {
	logger *slog.Logger
}

// MatchResult is one workflow selected by an event.
type MatchResult struct {
	Workflow *models.Workflow
	Trigger  models.Trigger
}

func NewTriggerMatcher(logger *slog.Logger) *TriggerMatcher {
	return &TriggerMatcher{
		logger: logger.With("module", "trigger_matcher"),
	}
}

// MatchWorkflows returns the enabled workflows with a trigger matching the
// event, highest priority first. A workflow matches at most once.
func (tm *TriggerMatcher) MatchWorkflows(event models.DocumentEvent, workflows []*models.Workflow) []MatchResult {
	tm.logger.Debug("Matching document event against workflows",
		"kind", event.Kind,
		"document_id", event.DocumentID,
		"workflows_count", len(workflows))

	var results []MatchResult

	for _, workflow := range workflows {
		if !workflow.Enabled {
			continue
		}

		for _, trigger := range workflow.Triggers {
			if !trigger.Matches(event) {
				continue
			}

			results = append(results, MatchResult{Workflow: workflow, Trigger: trigger})
			tm.logger.Debug("Found matching workflow",
				"workflow_id", workflow.ID,
				"workflow_name", workflow.Name,
				"trigger_kind", trigger.Kind)

			break
		}
	}

	slices.SortStableFunc(results, func(a, b MatchResult) int {
		if ra, rb := a.Workflow.Priority.Rank(), b.Workflow.Priority.Rank(); ra != rb {
			return rb - ra
		}

		return strings.Compare(a.Workflow.ID, b.Workflow.ID)
	})

	return results
}

// ScheduledTriggers returns the schedule triggers of every enabled workflow.
func (tm *TriggerMatcher) ScheduledTriggers(workflows []*models.Workflow) []MatchResult {
	var results []MatchResult

	for _, workflow := range workflows {
		if !workflow.Enabled {
			continue
		}

		for _, trigger := range workflow.Triggers {
			if trigger.Kind == models.TriggerSchedule {
				results = append(results, MatchResult{Workflow: workflow, Trigger: trigger})
			}
		}
	}

	return results
}
