package models

// ConditionKind tags the condition variant.
type ConditionKind string

const (
	// ConditionField compares a context field against a value. It is the default kind.
	ConditionField ConditionKind = "field"
	// ConditionAny is a disjunctive group: at least one nested condition must pass.
	ConditionAny ConditionKind = "any"
	// ConditionAll is an explicit conjunctive group.
	ConditionAll ConditionKind = "all"
	// ConditionExpression evaluates an expr-lang boolean expression.
	ConditionExpression ConditionKind = "expression"
)

// Operator is the comparator of a field condition.
type Operator string

const (
	OpEquals      Operator = "eq"
	OpNotEquals   Operator = "ne"
	OpGreater     Operator = "gt"
	OpGreaterEq   Operator = "gte"
	OpLess        Operator = "lt"
	OpLessEq      Operator = "lte"
	OpContains    Operator = "contains"
	OpIn          Operator = "in"
	OpExists      Operator = "exists"
	OpNotExists   Operator = "not-exists"
	OpMatches     Operator = "matches"
	OpNotContains Operator = "not-contains"
)

// Operators lists the supported field comparators.
func Operators() []Operator {
	return []Operator{
		OpEquals, OpNotEquals, OpGreater, OpGreaterEq, OpLess, OpLessEq,
		OpContains, OpNotContains, OpIn, OpExists, OpNotExists, OpMatches,
	}
}

// Valid reports whether the operator is known.
func (o Operator) Valid() bool {
	for _, op := range Operators() {
		if op == o {
			return true
		}
	}

	return false
}

// NeedsValue reports whether the operator compares against an expected value.
func (o Operator) NeedsValue() bool {
	return o != OpExists && o != OpNotExists
}

// Condition is a boolean predicate over an ExecutionContext.
type Condition struct {
	Kind       ConditionKind `json:"kind,omitempty"`
	Field      string        `json:"field,omitempty"`
	Operator   Operator      `json:"operator,omitempty"`
	Value      any           `json:"value,omitempty"`
	Conditions []Condition   `json:"conditions,omitempty"`
	Expression string        `json:"expression,omitempty"`
}

// EffectiveKind resolves the empty kind to ConditionField.
func (c Condition) EffectiveKind() ConditionKind {
	if c.Kind == "" {
		return ConditionField
	}

	return c.Kind
}
