package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

var (
	validate   = validator.New(validator.WithRequiredStructEnabled())
	cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

// ParseCron parses a standard five-field cron expression or a descriptor
// such as "@daily".
func ParseCron(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}

// Validate checks the structural invariants of a workflow definition:
// at least one trigger and one action, unique action ids, resolvable and
// acyclic action references, well-formed conditions and typed params.
// The returned error wraps ErrInvalidWorkflow.
func (w *Workflow) Validate() error {
	var issues []string

	if err := validate.Struct(w); err != nil {
		issues = append(issues, validationIssues(err)...)
	}

	if len(w.Triggers) == 0 {
		issues = append(issues, "workflow must have at least one trigger")
	}

	if len(w.Actions) == 0 {
		issues = append(issues, "workflow must have at least one action")
	}

	for i, t := range w.Triggers {
		if t.Kind == TriggerSchedule && t.Cron != "" {
			if _, err := ParseCron(t.Cron); err != nil {
				issues = append(issues, fmt.Sprintf("triggers[%d]: invalid cron expression %q: %v", i, t.Cron, err))
			}
		}
	}

	for i, c := range w.Conditions {
		if err := c.Validate(); err != nil {
			issues = append(issues, fmt.Sprintf("conditions[%d]: %v", i, err))
		}
	}

	issues = append(issues, validateActions(w.Actions)...)

	if len(issues) > 0 {
		return NewInvalidWorkflowError("Validate", w.ID, strings.Join(issues, "; "))
	}

	return nil
}

// Validate checks the shape of a condition and its nested groups.
func (c Condition) Validate() error {
	switch c.EffectiveKind() {
	case ConditionField:
		if c.Field == "" {
			return errors.New("field is required")
		}

		if !c.Operator.Valid() {
			return fmt.Errorf("unknown operator %q", c.Operator)
		}

		if c.Operator.NeedsValue() && c.Value == nil {
			return fmt.Errorf("operator %q requires a value", c.Operator)
		}

		if c.Operator == OpMatches {
			pattern, ok := c.Value.(string)
			if !ok {
				return errors.New("matches requires a string pattern")
			}

			if _, err := regexp.Compile(pattern); err != nil {
				return fmt.Errorf("invalid pattern: %w", err)
			}
		}
	case ConditionAny, ConditionAll:
		if len(c.Conditions) == 0 {
			return fmt.Errorf("%s group requires nested conditions", c.Kind)
		}

		for i, nested := range c.Conditions {
			if err := nested.Validate(); err != nil {
				return fmt.Errorf("conditions[%d]: %w", i, err)
			}
		}
	case ConditionExpression:
		if strings.TrimSpace(c.Expression) == "" {
			return errors.New("expression is required")
		}
	default:
		return fmt.Errorf("unknown condition kind %q", c.Kind)
	}

	return nil
}

// ValidateParams validates typed action params against their struct tags.
// Unknown kinds are accepted as-is.
func ValidateParams(params ActionParams) error {
	if params == nil {
		return errors.New("params are required")
	}

	switch params.(type) {
	case UnknownParams, *UnknownParams:
		return nil
	}

	if err := validate.Struct(params); err != nil {
		return errors.New(strings.Join(validationIssues(err), ", "))
	}

	return nil
}

// ValidateStruct runs the shared validator against any request struct.
func ValidateStruct(s any) error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(validationIssues(err), ", "))
	}

	return nil
}

func validateActions(actions []Action) []string {
	var issues []string

	index := make(map[string]int, len(actions))

	for i, a := range actions {
		if a.ID == "" {
			continue
		}

		if _, dup := index[a.ID]; dup {
			issues = append(issues, fmt.Sprintf("actions[%d]: duplicate action id %q", i, a.ID))

			continue
		}

		index[a.ID] = i
	}

	for i, a := range actions {
		if a.Params != nil && a.Params.ActionKind() != a.Kind {
			issues = append(issues, fmt.Sprintf("actions[%d]: params of kind %q do not match action kind %q", i, a.Params.ActionKind(), a.Kind))
		}

		if err := ValidateParams(a.Params); err != nil && a.Kind != "" {
			issues = append(issues, fmt.Sprintf("actions[%d] (%s): %v", i, a.Kind, err))
		}

		if a.ParallelSafe && a.Kind.Mutating() {
			issues = append(issues, fmt.Sprintf("actions[%d]: %s actions cannot be parallel-safe", i, a.Kind))
		}

		if analysis, ok := ParamsAs[RunAnalysisParams](a); ok && a.ParallelSafe && analysis.WriteBack {
			issues = append(issues, fmt.Sprintf("actions[%d]: run-analysis with write_back cannot be parallel-safe", i))
		}

		for _, dep := range a.DependsOn {
			if _, ok := index[dep]; !ok {
				issues = append(issues, fmt.Sprintf("actions[%d]: unknown action reference %q", i, dep))
			}
		}
	}

	if cycle := findCycle(actions); len(cycle) > 0 {
		issues = append(issues, "action references form a cycle: "+strings.Join(cycle, " -> "))
	}

	return issues
}

// findCycle returns one cycle among action references, or nil.
func findCycle(actions []Action) []string {
	edges := make(map[string][]string, len(actions))
	for _, a := range actions {
		edges[a.ID] = a.DependsOn
	}

	const (
		unvisited = iota
		visiting
		done
	)

	state := make(map[string]int, len(actions))

	var (
		stack []string
		visit func(id string) []string
	)

	visit = func(id string) []string {
		switch state[id] {
		case visiting:
			for i, s := range stack {
				if s == id {
					return append(append([]string{}, stack[i:]...), id)
				}
			}

			return []string{id, id}
		case done:
			return nil
		}

		state[id] = visiting
		stack = append(stack, id)

		for _, next := range edges[id] {
			if _, known := edges[next]; !known {
				continue
			}

			if cycle := visit(next); cycle != nil {
				return cycle
			}
		}

		stack = stack[:len(stack)-1]
		state[id] = done

		return nil
	}

	for _, a := range actions {
		if cycle := visit(a.ID); cycle != nil {
			return cycle
		}
	}

	return nil
}

func validationIssues(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}

	issues := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		issues = append(issues, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
	}

	return issues
}
