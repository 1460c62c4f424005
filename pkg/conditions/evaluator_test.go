package conditions_test

import (
	"testing"

	"github.com/docflow/docflow/pkg/conditions"
	"github.com/docflow/docflow/pkg/log"
	"github.com/docflow/docflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext() models.ExecutionContext {
	return models.ExecutionContext{
		DocumentID: "doc-1",
		Metadata: map[string]any{
			"size":       2000000,
			"title":      "Quarterly Report Q3",
			"department": "finance",
			"tags":       []any{"report", "q3"},
			"author":     map[string]any{"name": "ana"},
			"created":    "2024-03-01T10:00:00Z",
			"reviewed":   nil,
		},
		Variables:   map[string]any{"threshold": "1500000"},
		Permissions: []string{"read", "archive"},
		InitiatedBy: "ana",
	}
}

func TestEvaluate_FieldOperators(t *testing.T) {
	tests := []struct {
		name string
		cond models.Condition
		want bool
	}{
		{"gt number", models.Condition{Field: "metadata.size", Operator: models.OpGreater, Value: 1000000}, true},
		{"gt float", models.Condition{Field: "metadata.size", Operator: models.OpGreater, Value: 2000000.0}, false},
		{"gte equal", models.Condition{Field: "metadata.size", Operator: models.OpGreaterEq, Value: 2000000}, true},
		{"lt numeric string", models.Condition{Field: "variables.threshold", Operator: models.OpLess, Value: 2000000}, true},
		{"eq string", models.Condition{Field: "metadata.department", Operator: models.OpEquals, Value: "finance"}, true},
		{"ne string", models.Condition{Field: "metadata.department", Operator: models.OpNotEquals, Value: "legal"}, true},
		{"contains substring", models.Condition{Field: "metadata.title", Operator: models.OpContains, Value: "Report"}, true},
		{"contains element", models.Condition{Field: "metadata.tags", Operator: models.OpContains, Value: "q3"}, true},
		{"not-contains element", models.Condition{Field: "metadata.tags", Operator: models.OpNotContains, Value: "q4"}, true},
		{"in list", models.Condition{Field: "metadata.department", Operator: models.OpIn, Value: []any{"legal", "finance"}}, true},
		{"in list miss", models.Condition{Field: "metadata.department", Operator: models.OpIn, Value: []string{"legal"}}, false},
		{"matches", models.Condition{Field: "metadata.title", Operator: models.OpMatches, Value: `Q[1-4]$`}, true},
		{"nested path", models.Condition{Field: "metadata.author.name", Operator: models.OpEquals, Value: "ana"}, true},
		{"time ordering", models.Condition{Field: "metadata.created", Operator: models.OpLess, Value: "2024-06-01T00:00:00Z"}, true},
		{"permissions", models.Condition{Field: "permissions", Operator: models.OpContains, Value: "archive"}, true},
		{"initiated_by", models.Condition{Field: "initiated_by", Operator: models.OpEquals, Value: "ana"}, true},
		{"exists with nil value", models.Condition{Field: "metadata.reviewed", Operator: models.OpExists}, true},
		{"incomparable types", models.Condition{Field: "metadata.author", Operator: models.OpGreater, Value: 3}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, conditions.Evaluate([]models.Condition{tt.cond}, testContext()))
		})
	}
}

func TestEvaluate_AbsentSentinel(t *testing.T) {
	ctx := testContext()

	for _, op := range []models.Operator{
		models.OpEquals, models.OpNotEquals, models.OpGreater, models.OpLess,
		models.OpContains, models.OpIn, models.OpMatches,
	} {
		value := any("x")
		if op == models.OpIn {
			value = []any{"x"}
		}

		cond := models.Condition{Field: "metadata.missing", Operator: op, Value: value}
		assert.False(t, conditions.Evaluate([]models.Condition{cond}, ctx), "operator %s", op)
	}

	assert.False(t, conditions.Evaluate([]models.Condition{{Field: "metadata.missing", Operator: models.OpExists}}, ctx))
	assert.True(t, conditions.Evaluate([]models.Condition{{Field: "metadata.missing", Operator: models.OpNotExists}}, ctx))
	assert.True(t, conditions.Evaluate([]models.Condition{{Field: "unknown.root", Operator: models.OpNotExists}}, ctx))
	assert.True(t, conditions.IsAbsent(conditions.Resolve(ctx, "metadata.author.email")))
}

func TestCheck_ShortCircuitsLeftToRight(t *testing.T) {
	evaluator := conditions.NewEvaluator(log.Discard())

	result := evaluator.Check([]models.Condition{
		{Field: "metadata.size", Operator: models.OpGreater, Value: 1},
		{Field: "metadata.department", Operator: models.OpEquals, Value: "legal"},
		// malformed, but never reached
		{Field: "metadata.size", Operator: "bogus", Value: 1},
	}, testContext())

	assert.False(t, result.Passed)
	assert.Equal(t, 1, result.FailedIndex)
	assert.NoError(t, result.Err)
}

func TestCheck_MalformedIsFalseWithError(t *testing.T) {
	evaluator := conditions.NewEvaluator(log.Discard())

	tests := []models.Condition{
		{Field: "metadata.size", Operator: "bogus", Value: 1},
		{Field: "metadata.size", Operator: models.OpEquals},
		{Field: "metadata.title", Operator: models.OpMatches, Value: "("},
		{Field: "metadata.title", Operator: models.OpIn, Value: "finance"},
		{Kind: models.ConditionAny},
		{Kind: models.ConditionExpression, Expression: "metadata.size >"},
	}

	for _, cond := range tests {
		result := evaluator.Check([]models.Condition{cond}, testContext())
		assert.False(t, result.Passed)
		assert.Equal(t, 0, result.FailedIndex)
		require.Error(t, result.Err)
		assert.ErrorIs(t, result.Err, models.ErrConditionEvaluation)
	}
}

func TestEvaluate_Groups(t *testing.T) {
	ctx := testContext()

	anyGroup := models.Condition{Kind: models.ConditionAny, Conditions: []models.Condition{
		{Field: "metadata.department", Operator: models.OpEquals, Value: "legal"},
		{Field: "metadata.department", Operator: models.OpEquals, Value: "finance"},
	}}
	assert.True(t, conditions.Evaluate([]models.Condition{anyGroup}, ctx))

	allGroup := models.Condition{Kind: models.ConditionAll, Conditions: []models.Condition{
		{Field: "metadata.department", Operator: models.OpEquals, Value: "finance"},
		{Field: "metadata.size", Operator: models.OpLess, Value: 10},
	}}
	assert.False(t, conditions.Evaluate([]models.Condition{allGroup}, ctx))

	// a passing branch wins over a malformed sibling
	mixed := models.Condition{Kind: models.ConditionAny, Conditions: []models.Condition{
		{Field: "metadata.size", Operator: "bogus", Value: 1},
		{Field: "metadata.department", Operator: models.OpEquals, Value: "finance"},
	}}
	assert.True(t, conditions.Evaluate([]models.Condition{mixed}, ctx))
}

func TestEvaluate_Expression(t *testing.T) {
	ctx := testContext()

	assert.True(t, conditions.Evaluate([]models.Condition{
		{Kind: models.ConditionExpression, Expression: `metadata.size > 1000000 && "archive" in permissions`},
	}, ctx))
	assert.False(t, conditions.Evaluate([]models.Condition{
		{Kind: models.ConditionExpression, Expression: `document_id == "doc-2"`},
	}, ctx))
	// missing fields produce a runtime error which counts as a non-match
	assert.False(t, conditions.Evaluate([]models.Condition{
		{Kind: models.ConditionExpression, Expression: `metadata.pages > 10`},
	}, ctx))
}

func TestEvaluate_EmptySetPasses(t *testing.T) {
	assert.True(t, conditions.Evaluate(nil, models.ExecutionContext{}))
}

func TestEvaluator_Validate(t *testing.T) {
	evaluator := conditions.NewEvaluator(log.Discard())

	require.NoError(t, evaluator.Validate([]models.Condition{
		{Kind: models.ConditionAll, Conditions: []models.Condition{
			{Kind: models.ConditionExpression, Expression: `variables.retry == true`},
		}},
	}))

	err := evaluator.Validate([]models.Condition{
		{Kind: models.ConditionAny, Conditions: []models.Condition{
			{Kind: models.ConditionExpression, Expression: `)(`},
		}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrConditionEvaluation)
}
