// ABOUTME: Structural validation rules for a parsed Graph, per the taxonomy #1 error classes.
// ABOUTME: Provides a pluggable LintRule interface, built-in rules, Validate, and ValidateOrError.
package graph

import (
	"fmt"
	"regexp"
	"strings"
)

// Severity is the diagnostic severity level.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "WARNING"
	}
	return "ERROR"
}

// Diagnostic is a single validation finding.
type Diagnostic struct {
	Rule     string
	Severity Severity
	Message  string
	NodeID   string
	Edge     *[2]string
}

// LintRule is a pluggable validation rule.
type LintRule interface {
	Name() string
	Apply(g *Graph) []Diagnostic
}

var knownHandlerTypes = map[string]bool{
	"start": true, "exit": true, "codergen": true, "wait.human": true,
	"conditional": true, "parallel": true, "parallel.fan_in": true,
	"tool": true, "stack.manager_loop": true,
}

func builtinRules() []LintRule {
	return []LintRule{
		&startNodeRule{}, &terminalNodeRule{}, &reachabilityRule{},
		&edgeTargetExistsRule{}, &conditionSyntaxRule{}, &typeKnownRule{},
		&fidelityValidRule{}, &retryTargetExistsRule{}, &stylesheetRule{},
		&promptRule{}, &varsDeclaredRule{},
	}
}

// Validate runs every built-in rule plus any extra rules against the graph.
func Validate(g *Graph, extraRules ...LintRule) []Diagnostic {
	var diags []Diagnostic
	rules := append(builtinRules(), extraRules...)
	for _, r := range rules {
		diags = append(diags, r.Apply(g)...)
	}
	return diags
}

// HasErrors reports whether any diagnostic in the slice is ERROR severity.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidateOrError runs Validate and returns an error summarizing all ERROR-level
// diagnostics if any exist; WARNING diagnostics never abort execution.
func ValidateOrError(g *Graph, extraRules ...LintRule) ([]Diagnostic, error) {
	diags := Validate(g, extraRules...)
	if !HasErrors(diags) {
		return diags, nil
	}
	var sb strings.Builder
	for _, d := range diags {
		if d.Severity != SeverityError {
			continue
		}
		fmt.Fprintf(&sb, "[%s] %s\n", d.Rule, d.Message)
	}
	return diags, fmt.Errorf("validation failed:\n%s", sb.String())
}

type startNodeRule struct{}

func (r *startNodeRule) Name() string { return "start-node" }
func (r *startNodeRule) Apply(g *Graph) []Diagnostic {
	var starts []string
	for _, id := range g.NodeIDs() {
		if g.Nodes[id].Attrs["shape"] == "Mdiamond" {
			starts = append(starts, id)
		}
	}
	if len(starts) == 0 {
		return []Diagnostic{{Rule: r.Name(), Severity: SeverityError, Message: "graph has no start node (shape=Mdiamond)"}}
	}
	if len(starts) > 1 {
		return []Diagnostic{{Rule: r.Name(), Severity: SeverityError, Message: "graph has more than one start node: " + strings.Join(starts, ", ")}}
	}
	return nil
}

type terminalNodeRule struct{}

func (r *terminalNodeRule) Name() string { return "terminal-node" }
func (r *terminalNodeRule) Apply(g *Graph) []Diagnostic {
	for _, id := range g.NodeIDs() {
		if g.Nodes[id].IsTerminal() {
			return nil
		}
	}
	return []Diagnostic{{Rule: r.Name(), Severity: SeverityError, Message: "graph has no terminal node (shape=Msquare)"}}
}

type reachabilityRule struct{}

func (r *reachabilityRule) Name() string { return "reachability" }
func (r *reachabilityRule) Apply(g *Graph) []Diagnostic {
	start := g.FindStartNode()
	if start == nil {
		return nil // covered by startNodeRule
	}
	reachable := ReachableFrom(g, start.ID)
	var diags []Diagnostic
	for _, id := range g.NodeIDs() {
		if !reachable[id] {
			diags = append(diags, Diagnostic{Rule: r.Name(), Severity: SeverityError, NodeID: id, Message: fmt.Sprintf("node %q is unreachable from start", id)})
		}
	}
	return diags
}

type edgeTargetExistsRule struct{}

func (r *edgeTargetExistsRule) Name() string { return "edge-target-exists" }
func (r *edgeTargetExistsRule) Apply(g *Graph) []Diagnostic {
	var diags []Diagnostic
	for _, e := range g.Edges {
		if g.FindNode(e.From) == nil {
			diags = append(diags, Diagnostic{Rule: r.Name(), Severity: SeverityError, Message: fmt.Sprintf("edge source %q does not exist", e.From), Edge: &[2]string{e.From, e.To}})
		}
		if g.FindNode(e.To) == nil {
			diags = append(diags, Diagnostic{Rule: r.Name(), Severity: SeverityError, Message: fmt.Sprintf("edge target %q does not exist", e.To), Edge: &[2]string{e.From, e.To}})
		}
	}
	return diags
}

type conditionSyntaxRule struct{}

func (r *conditionSyntaxRule) Name() string { return "condition-syntax" }
func (r *conditionSyntaxRule) Apply(g *Graph) []Diagnostic {
	var diags []Diagnostic
	for _, e := range g.Edges {
		cond := e.Condition()
		if cond == "" {
			continue
		}
		if err := CheckConditionSyntax(cond); err != nil {
			diags = append(diags, Diagnostic{Rule: r.Name(), Severity: SeverityError, Message: fmt.Sprintf("invalid condition %q on edge %s->%s: %v", cond, e.From, e.To, err), Edge: &[2]string{e.From, e.To}})
		}
	}
	return diags
}

type typeKnownRule struct{}

func (r *typeKnownRule) Name() string { return "type-known" }
func (r *typeKnownRule) Apply(g *Graph) []Diagnostic {
	var diags []Diagnostic
	for _, id := range g.NodeIDs() {
		n := g.Nodes[id]
		t, ok := n.Attrs["type"]
		if !ok || t == "" {
			continue
		}
		if !knownHandlerTypes[t] {
			diags = append(diags, Diagnostic{Rule: r.Name(), Severity: SeverityWarning, NodeID: id, Message: fmt.Sprintf("node %q declares unknown handler type %q", id, t)})
		}
	}
	return diags
}

var validFidelityTags = map[string]bool{
	"": true, "full": true, "truncate": true, "compact": true,
	"summary:low": true, "summary:medium": true, "summary:high": true,
}

type fidelityValidRule struct{}

func (r *fidelityValidRule) Name() string { return "fidelity-valid" }
func (r *fidelityValidRule) Apply(g *Graph) []Diagnostic {
	var diags []Diagnostic
	check := func(tag, where string) {
		if !validFidelityTags[tag] {
			diags = append(diags, Diagnostic{Rule: r.Name(), Severity: SeverityWarning, Message: fmt.Sprintf("unrecognized fidelity tag %q on %s (treated as full)", tag, where)})
		}
	}
	if v, ok := g.Attrs["default_fidelity"]; ok {
		check(v, "graph default_fidelity")
	}
	for _, id := range g.NodeIDs() {
		if v, ok := g.Nodes[id].Attrs["fidelity"]; ok {
			check(v, "node "+id)
		}
	}
	for _, e := range g.Edges {
		if v, ok := e.Attrs["fidelity"]; ok {
			check(v, fmt.Sprintf("edge %s->%s", e.From, e.To))
		}
	}
	return diags
}

type retryTargetExistsRule struct{}

func (r *retryTargetExistsRule) Name() string { return "retry-target-exists" }
func (r *retryTargetExistsRule) Apply(g *Graph) []Diagnostic {
	var diags []Diagnostic
	checkTarget := func(target, where string) {
		if target == "" {
			return
		}
		if g.FindNode(target) == nil {
			diags = append(diags, Diagnostic{Rule: r.Name(), Severity: SeverityError, Message: fmt.Sprintf("%s retry target %q does not exist", where, target)})
		}
	}
	checkTarget(g.Attrs["retry_target"], "graph")
	checkTarget(g.Attrs["fallback_retry_target"], "graph fallback")
	for _, id := range g.NodeIDs() {
		n := g.Nodes[id]
		checkTarget(n.Attrs["retry_target"], "node "+id)
		checkTarget(n.Attrs["fallback_retry_target"], "node "+id+" fallback")
	}
	return diags
}

type stylesheetRule struct{}

func (r *stylesheetRule) Name() string { return "stylesheet-syntax" }
func (r *stylesheetRule) Apply(g *Graph) []Diagnostic {
	src, ok := g.Attrs["model_stylesheet"]
	if !ok || src == "" {
		return nil
	}
	if _, err := ParseStylesheet(src); err != nil {
		return []Diagnostic{{Rule: r.Name(), Severity: SeverityError, Message: "malformed model_stylesheet: " + err.Error()}}
	}
	return nil
}

var commandRefRe = regexp.MustCompile(`^/([A-Za-z0-9_:-]+)`)

type promptRule struct{}

func (r *promptRule) Name() string { return "prompt-resolvable" }
func (r *promptRule) Apply(g *Graph) []Diagnostic {
	var diags []Diagnostic
	for _, id := range g.NodeIDs() {
		prompt := g.Nodes[id].Attrs["prompt"]
		if strings.HasPrefix(prompt, "@") {
			// No diagnostic is reported for @file or /command prompts: the
			// graph source directory is not known here. The codergen handler
			// resolves them at run time and, when resolution fails, logs a
			// warning and uses the prompt text unchanged.
			continue
		}
		if commandRefRe.MatchString(prompt) {
			continue
		}
	}
	return diags
}

type varsDeclaredRule struct{}

func (r *varsDeclaredRule) Name() string { return "vars-declared" }
func (r *varsDeclaredRule) Apply(g *Graph) []Diagnostic {
	declared, ok := g.Attrs["vars"]
	if !ok || declared == "" {
		return nil // graphs without vars leave unresolved references literal
	}
	names := map[string]bool{"goal": true}
	for _, part := range strings.Split(declared, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name := part
		if idx := strings.Index(part, "="); idx >= 0 {
			name = part[:idx]
		}
		names[strings.TrimSpace(name)] = true
	}
	var diags []Diagnostic
	checkText := func(text, where string) {
		for _, ref := range referencedVars(text) {
			if !names[ref] {
				diags = append(diags, Diagnostic{Rule: r.Name(), Severity: SeverityError, Message: fmt.Sprintf("undeclared variable $%s referenced in %s", ref, where)})
			}
		}
	}
	for _, id := range g.NodeIDs() {
		n := g.Nodes[id]
		checkText(n.Attrs["prompt"], "node "+id+" prompt")
		checkText(n.Attrs["label"], "node "+id+" label")
	}
	return diags
}

var varRefRe = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)

func referencedVars(text string) []string {
	matches := varRefRe.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}
