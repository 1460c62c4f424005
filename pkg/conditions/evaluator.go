// Package conditions decides whether a workflow's condition set passes for an
// execution context. Evaluation performs no I/O.
package conditions

import (
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"github.com/docflow/docflow/pkg/models"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Result explains the outcome of a condition check.
type Result struct {
	Passed bool
	// FailedIndex is the index of the first top-level condition that did not
	// pass, or -1.
	FailedIndex int
	// Err is set when the failing condition was malformed. It wraps
	// models.ErrConditionEvaluation.
	Err error
}

// Evaluator evaluates condition sets. Compiled expressions and patterns are
// cached, so one Evaluator should be shared.
type Evaluator struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	programs map[string]*vm.Program
	patterns map[string]*regexp.Regexp
}

func NewEvaluator(logger *slog.Logger) *Evaluator {
	return &Evaluator{
		logger:   logger.With("module", "conditions"),
		programs: make(map[string]*vm.Program),
		patterns: make(map[string]*regexp.Regexp),
	}
}

var defaultEvaluator = NewEvaluator(slog.Default())

// Evaluate reports whether every top-level condition passes, using a shared
// evaluator.
func Evaluate(conds []models.Condition, executionCtx models.ExecutionContext) bool {
	return defaultEvaluator.Evaluate(conds, executionCtx)
}

// Evaluate reports whether every top-level condition passes. Malformed
// conditions evaluate to false and are logged.
func (e *Evaluator) Evaluate(conds []models.Condition, executionCtx models.ExecutionContext) bool {
	return e.Check(conds, executionCtx).Passed
}

// Check evaluates the conjunction left to right and stops at the first
// condition that does not pass.
func (e *Evaluator) Check(conds []models.Condition, executionCtx models.ExecutionContext) Result {
	for i, c := range conds {
		ok, err := e.eval(c, executionCtx)
		if err != nil {
			e.logger.Warn("Condition evaluation error", "index", i, "error", err)

			return Result{Passed: false, FailedIndex: i, Err: err}
		}

		if !ok {
			return Result{Passed: false, FailedIndex: i}
		}
	}

	return Result{Passed: true, FailedIndex: -1}
}

// Compile checks that an expression condition compiles to a boolean program.
func (e *Evaluator) Compile(expression string) error {
	_, err := e.program(expression)

	return err
}

// Validate checks a condition set deeply, compiling expressions and patterns.
func (e *Evaluator) Validate(conds []models.Condition) error {
	for i, c := range conds {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("conditions[%d]: %w", i, err)
		}

		if err := e.validateDeep(c); err != nil {
			return fmt.Errorf("conditions[%d]: %w", i, err)
		}
	}

	return nil
}

func (e *Evaluator) validateDeep(c models.Condition) error {
	switch c.EffectiveKind() {
	case models.ConditionExpression:
		return e.Compile(c.Expression)
	case models.ConditionAny, models.ConditionAll:
		for _, nested := range c.Conditions {
			if err := e.validateDeep(nested); err != nil {
				return err
			}
		}
	}

	return nil
}

func (e *Evaluator) eval(c models.Condition, executionCtx models.ExecutionContext) (bool, error) {
	switch c.EffectiveKind() {
	case models.ConditionField:
		return e.evalField(c, executionCtx)
	case models.ConditionAll:
		if len(c.Conditions) == 0 {
			return false, malformed("all group requires nested conditions")
		}

		for _, nested := range c.Conditions {
			ok, err := e.eval(nested, executionCtx)
			if err != nil || !ok {
				return false, err
			}
		}

		return true, nil
	case models.ConditionAny:
		if len(c.Conditions) == 0 {
			return false, malformed("any group requires nested conditions")
		}

		var firstErr error

		for _, nested := range c.Conditions {
			ok, err := e.eval(nested, executionCtx)
			if err != nil && firstErr == nil {
				firstErr = err
			}

			if ok {
				return true, nil
			}
		}

		return false, firstErr
	case models.ConditionExpression:
		return e.evalExpression(c.Expression, executionCtx)
	default:
		return false, malformed("unknown condition kind %q", c.Kind)
	}
}

func (e *Evaluator) evalField(c models.Condition, executionCtx models.ExecutionContext) (bool, error) {
	if c.Field == "" {
		return false, malformed("field is required")
	}

	if !c.Operator.Valid() {
		return false, malformed("unknown operator %q", c.Operator)
	}

	actual := Resolve(executionCtx, c.Field)

	switch c.Operator {
	case models.OpExists:
		return !IsAbsent(actual), nil
	case models.OpNotExists:
		return IsAbsent(actual), nil
	}

	if c.Value == nil {
		return false, malformed("operator %q requires a value", c.Operator)
	}

	if c.Operator == models.OpIn && !isList(c.Value) {
		return false, malformed("operator in requires a list value")
	}

	var pattern *regexp.Regexp

	if c.Operator == models.OpMatches {
		p, err := e.pattern(c.Value)
		if err != nil {
			return false, err
		}

		pattern = p
	}

	if IsAbsent(actual) {
		return false, nil
	}

	switch c.Operator {
	case models.OpEquals:
		return equal(actual, c.Value), nil
	case models.OpNotEquals:
		return !equal(actual, c.Value), nil
	case models.OpGreater, models.OpGreaterEq, models.OpLess, models.OpLessEq:
		cmp, ok := order(actual, c.Value)
		if !ok {
			return false, nil
		}

		switch c.Operator {
		case models.OpGreater:
			return cmp > 0, nil
		case models.OpGreaterEq:
			return cmp >= 0, nil
		case models.OpLess:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	case models.OpContains:
		return contains(actual, c.Value), nil
	case models.OpNotContains:
		return !contains(actual, c.Value), nil
	case models.OpIn:
		return memberOf(actual, c.Value), nil
	case models.OpMatches:
		if actual == nil {
			return false, nil
		}

		return pattern.MatchString(fmt.Sprint(actual)), nil
	}

	return false, malformed("unsupported operator %q", c.Operator)
}

func (e *Evaluator) evalExpression(expression string, executionCtx models.ExecutionContext) (bool, error) {
	program, err := e.program(expression)
	if err != nil {
		return false, err
	}

	out, err := expr.Run(program, env(executionCtx))
	if err != nil {
		// runtime errors such as comparing a missing field count as a non-match
		e.logger.Debug("Expression evaluated with error", "expression", expression, "error", err)

		return false, nil
	}

	result, ok := out.(bool)
	if !ok {
		return false, malformed("expression %q did not return a boolean", expression)
	}

	return result, nil
}

func (e *Evaluator) program(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if prog, ok := e.programs[expression]; ok {
		e.mu.RUnlock()

		return prog, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prog, ok := e.programs[expression]; ok {
		return prog, nil
	}

	prog, err := expr.Compile(expression, expr.Env(env(models.ExecutionContext{})), expr.AsBool())
	if err != nil {
		return nil, malformed("invalid expression %q: %v", expression, err)
	}

	e.programs[expression] = prog

	return prog, nil
}

func (e *Evaluator) pattern(value any) (*regexp.Regexp, error) {
	source, ok := value.(string)
	if !ok {
		return nil, malformed("matches requires a string pattern")
	}

	e.mu.RLock()
	if re, ok := e.patterns[source]; ok {
		e.mu.RUnlock()

		return re, nil
	}
	e.mu.RUnlock()

	re, err := regexp.Compile(source)
	if err != nil {
		return nil, malformed("invalid pattern %q: %v", source, err)
	}

	e.mu.Lock()
	e.patterns[source] = re
	e.mu.Unlock()

	return re, nil
}

func env(executionCtx models.ExecutionContext) map[string]any {
	metadata := executionCtx.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	variables := executionCtx.Variables
	if variables == nil {
		variables = map[string]any{}
	}

	permissions := executionCtx.Permissions
	if permissions == nil {
		permissions = []string{}
	}

	return map[string]any{
		"metadata":     metadata,
		"variables":    variables,
		"document_id":  executionCtx.DocumentID,
		"initiated_by": executionCtx.InitiatedBy,
		"permissions":  permissions,
	}
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", models.ErrConditionEvaluation, fmt.Sprintf(format, args...))
}
