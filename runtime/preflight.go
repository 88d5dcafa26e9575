// ABOUTME: Pre-execution validation that checks required environment variables (env_required).
// ABOUTME: Runs before the runner starts so configuration mistakes fail fast with a clear message.
package runtime

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pipecraft/pipecraft/graph"
)

// PreflightCheck is a single named validation run before pipeline execution.
type PreflightCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// PreflightFailure records one failed check.
type PreflightFailure struct {
	Name   string
	Reason string
}

// PreflightResult aggregates every check's outcome.
type PreflightResult struct {
	Passed []string
	Failed []PreflightFailure
}

// OK reports whether every check passed.
func (r PreflightResult) OK() bool { return len(r.Failed) == 0 }

// Error formats every failure as a multi-line message, or "" if none failed.
func (r PreflightResult) Error() string {
	if len(r.Failed) == 0 {
		return ""
	}
	lines := make([]string, 0, len(r.Failed)+1)
	lines = append(lines, fmt.Sprintf("preflight: %d check(s) failed:", len(r.Failed)))
	for _, f := range r.Failed {
		lines = append(lines, fmt.Sprintf("  - %s: %s", f.Name, f.Reason))
	}
	return strings.Join(lines, "\n")
}

// RunPreflight executes every check regardless of earlier failures, so the
// caller gets a complete picture of what needs fixing.
func RunPreflight(ctx context.Context, checks []PreflightCheck) PreflightResult {
	result := PreflightResult{Passed: make([]string, 0, len(checks))}
	for _, c := range checks {
		if err := c.Check(ctx); err != nil {
			result.Failed = append(result.Failed, PreflightFailure{Name: c.Name, Reason: err.Error()})
		} else {
			result.Passed = append(result.Passed, c.Name)
		}
	}
	return result
}

// BuildPreflightChecks inspects g to produce the checks appropriate for this
// pipeline: one check per distinct env_required variable named on any node.
// A nil backend is not a failure; codergen nodes then run in stub mode.
func BuildPreflightChecks(g *graph.Graph, backend CodergenBackend) []PreflightCheck {
	var checks []PreflightCheck

	seen := make(map[string]bool)
	for _, id := range g.NodeIDs() {
		node := g.Nodes[id]
		envRequired := node.Attrs["env_required"]
		if envRequired == "" {
			continue
		}
		for _, envVar := range strings.Split(envRequired, ",") {
			envVar = strings.TrimSpace(envVar)
			if envVar == "" || seen[envVar] {
				continue
			}
			seen[envVar] = true
			name := envVar
			checks = append(checks, PreflightCheck{
				Name: "env:" + name,
				Check: func(ctx context.Context) error {
					if os.Getenv(name) == "" {
						return fmt.Errorf("required environment variable %s is not set", name)
					}
					return nil
				},
			})
		}
	}

	return checks
}

// HasCodergenNodes reports whether g contains any node that resolves to the
// codergen handler, mirroring HandlerRegistry.Resolve's precedence.
func HasCodergenNodes(g *graph.Graph) bool {
	if g == nil {
		return false
	}
	knownTypes := map[string]bool{
		"start": true, "exit": true, "codergen": true, "conditional": true,
		"parallel": true, "parallel.fan_in": true, "tool": true,
		"stack.manager_loop": true, "wait.human": true,
	}
	for _, id := range g.NodeIDs() {
		node := g.Nodes[id]
		if typeName := node.Attrs["type"]; typeName != "" {
			if knownTypes[typeName] {
				if typeName == "codergen" {
					return true
				}
				continue
			}
		}
		if ShapeToHandlerType(node.Attrs["shape"]) == "codergen" {
			return true
		}
	}
	return false
}
