// Package template renders text/template strings against an execution context.
package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/docflow/docflow/pkg/models"
)

// ContextData exposes an execution context to templates as
// .document_id, .metadata, .variables, .vars, .initiated_by and .execution.
func ContextData(executionID, workflowID string, executionCtx models.ExecutionContext) map[string]any {
	return map[string]any{
		"document_id":  executionCtx.DocumentID,
		"metadata":     executionCtx.Metadata,
		"variables":    executionCtx.Variables,
		"vars":         executionCtx.Variables,
		"initiated_by": executionCtx.InitiatedBy,
		"execution": map[string]any{
			"id":          executionID,
			"workflow_id": workflowID,
		},
	}
}

// NeedsTemplating reports whether the string contains template actions.
func NeedsTemplating(input string) bool {
	return strings.Contains(input, "{{")
}

// RenderString renders the template and returns the raw text.
func RenderString(templateStr string, data any) (string, error) {
	if !NeedsTemplating(templateStr) {
		return templateStr, nil
	}

	tmpl, err := template.
		New("render").
		Option("missingkey=zero").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"default": func(def, value any) any {
				if value == nil || value == "" {
					return def
				}

				return value
			},
		}).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}

// Render renders the template and coerces the result to JSON, a number or a
// boolean when the text looks like one.
func Render(templateStr string, data any) (any, error) {
	result, err := RenderString(templateStr, data)
	if err != nil {
		return nil, err
	}

	result = strings.TrimSpace(result)
	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err != nil {
			return nil, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
		}

		return jsonResult, nil
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

// RenderMap renders every string value of m, recursing into nested maps and slices.
func RenderMap(m map[string]any, data any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}

	out := make(map[string]any, len(m))

	for k, v := range m {
		rendered, err := renderValue(v, data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}

		out[k] = rendered
	}

	return out, nil
}

func renderValue(v any, data any) (any, error) {
	switch val := v.(type) {
	case string:
		if !NeedsTemplating(val) {
			return val, nil
		}

		return Render(val, data)
	case map[string]any:
		return RenderMap(val, data)
	case []any:
		out := make([]any, len(val))

		for i, item := range val {
			rendered, err := renderValue(item, data)
			if err != nil {
				return nil, err
			}

			out[i] = rendered
		}

		return out, nil
	default:
		return v, nil
	}
}
