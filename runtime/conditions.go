// ABOUTME: Adapts Outcome/Context into the graph package's condition Resolver environment.
// ABOUTME: "outcome", "preferred_label", and "context.X" are the three recognized key forms.
package runtime

import (
	"fmt"
	"strings"

	"github.com/pipecraft/pipecraft/graph"
)

// resolveKey builds the synthetic environment a condition clause's key resolves
// against: "outcome" -> status, "preferred_label" -> preferred label,
// "context.X" -> context value at X (missing -> empty string).
func resolveKey(outcome *Outcome, pctx *Context) graph.Resolver {
	return func(key string) string {
		switch {
		case key == "outcome":
			if outcome == nil {
				return ""
			}
			return string(outcome.Status)
		case key == "preferred_label":
			if outcome == nil {
				return ""
			}
			return outcome.PreferredLabel
		case strings.HasPrefix(key, "context."):
			field := strings.TrimPrefix(key, "context.")
			if pctx == nil {
				return ""
			}
			v := pctx.Get(field)
			if v == nil {
				return ""
			}
			if s, ok := v.(string); ok {
				return s
			}
			return toStringValue(v)
		default:
			return ""
		}
	}
}

// EvaluateCondition evaluates a condition expression against an outcome and context.
func EvaluateCondition(condition string, outcome *Outcome, pctx *Context) bool {
	ok, err := graph.EvaluateCondition(condition, resolveKey(outcome, pctx))
	if err != nil {
		return false
	}
	return ok
}

// ValidateConditionSyntax reports whether a condition expression parses.
func ValidateConditionSyntax(condition string) bool {
	return graph.CheckConditionSyntax(condition) == nil
}

func toStringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", v)
	}
}
