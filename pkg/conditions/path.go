package conditions

import (
	"strings"

	"github.com/docflow/docflow/pkg/models"
)

type absent struct{}

func (absent) String() string { return "<absent>" }

// Absent is the value of a field path that does not resolve. It fails every
// comparison and satisfies only not-exists.
var Absent any = absent{}

// IsAbsent reports whether v is the Absent sentinel.
func IsAbsent(v any) bool {
	_, ok := v.(absent)

	return ok
}

// Resolve looks up a dotted path in the context. Supported roots are
// metadata, variables (alias vars), document_id, initiated_by and permissions.
func Resolve(executionCtx models.ExecutionContext, path string) any {
	root, rest, _ := strings.Cut(path, ".")

	switch root {
	case "metadata":
		return lookup(executionCtx.Metadata, rest)
	case "variables", "vars":
		return lookup(executionCtx.Variables, rest)
	case "document_id":
		if rest != "" || executionCtx.DocumentID == "" {
			return Absent
		}

		return executionCtx.DocumentID
	case "initiated_by":
		if rest != "" || executionCtx.InitiatedBy == "" {
			return Absent
		}

		return executionCtx.InitiatedBy
	case "permissions":
		if rest != "" {
			return Absent
		}

		out := make([]any, len(executionCtx.Permissions))
		for i, p := range executionCtx.Permissions {
			out[i] = p
		}

		return out
	default:
		return Absent
	}
}

func lookup(m map[string]any, path string) any {
	if path == "" {
		if m == nil {
			return Absent
		}

		return m
	}

	var current any = m

	for _, part := range strings.Split(path, ".") {
		node, ok := current.(map[string]any)
		if !ok {
			return Absent
		}

		value, exists := node[part]
		if !exists {
			return Absent
		}

		current = value
	}

	return current
}
