// ABOUTME: CSS-like model stylesheet parser applying default attributes to matching nodes.
// ABOUTME: Selectors are bare shape names, ".class" names, or "#id" references.
package graph

import (
	"fmt"
	"strings"
)

// StyleRule is one selector/declaration-block pair from a model stylesheet.
type StyleRule struct {
	Selector string // e.g. "box", ".reviewer", "#gate"
	Attrs    map[string]string
}

// Stylesheet is an ordered set of style rules. Later rules override earlier
// ones for attributes they both set, mirroring CSS cascade-by-declaration-order.
type Stylesheet struct {
	Rules []StyleRule
}

// ParseStylesheet parses a model_stylesheet source string into a Stylesheet.
// Grammar: `selector { key: value; key: value }` blocks, comma-separated
// selector lists sharing one block, `//` line comments.
func ParseStylesheet(src string) (*Stylesheet, error) {
	ss := &Stylesheet{}
	src = stripStylesheetComments(src)
	for _, block := range splitTopLevel(src, '}') {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		idx := strings.Index(block, "{")
		if idx < 0 {
			return nil, fmt.Errorf("missing '{' in stylesheet block %q", block)
		}
		selectors := strings.TrimSpace(block[:idx])
		body := strings.TrimSpace(block[idx+1:])
		attrs, err := parseDeclarations(body)
		if err != nil {
			return nil, err
		}
		for _, sel := range strings.Split(selectors, ",") {
			sel = strings.TrimSpace(sel)
			if sel == "" {
				continue
			}
			ss.Rules = append(ss.Rules, StyleRule{Selector: sel, Attrs: attrs})
		}
	}
	return ss, nil
}

func stripStylesheetComments(src string) string {
	lines := strings.Split(src, "\n")
	for i, line := range lines {
		if idx := strings.Index(line, "//"); idx >= 0 {
			lines[i] = line[:idx]
		}
	}
	return strings.Join(lines, "\n")
}

func splitTopLevel(src string, closer byte) []string {
	var blocks []string
	start := 0
	for i := 0; i < len(src); i++ {
		if src[i] == closer {
			blocks = append(blocks, src[start:i])
			start = i + 1
		}
	}
	return blocks
}

func parseDeclarations(body string) (map[string]string, error) {
	attrs := map[string]string{}
	for _, decl := range strings.Split(body, ";") {
		decl = strings.TrimSpace(decl)
		if decl == "" {
			continue
		}
		idx := strings.Index(decl, ":")
		if idx < 0 {
			return nil, fmt.Errorf("malformed declaration %q (expected key: value)", decl)
		}
		key := strings.TrimSpace(decl[:idx])
		val := strings.Trim(strings.TrimSpace(decl[idx+1:]), `"'`)
		attrs[key] = val
	}
	return attrs, nil
}

// Apply overlays matching style-rule attributes onto every node of the graph,
// in rule declaration order, without overwriting attributes the node already
// sets explicitly.
func (ss *Stylesheet) Apply(g *Graph) {
	if ss == nil {
		return
	}
	for _, id := range g.NodeIDs() {
		n := g.Nodes[id]
		explicit := make(map[string]bool, len(n.Attrs))
		for k := range n.Attrs {
			explicit[k] = true
		}
		for _, rule := range ss.Rules {
			if !ruleMatches(rule.Selector, n) {
				continue
			}
			for k, v := range rule.Attrs {
				if !explicit[k] {
					n.Attrs[k] = v
				}
			}
		}
	}
}

func ruleMatches(selector string, n *Node) bool {
	switch {
	case strings.HasPrefix(selector, "#"):
		return n.ID == selector[1:]
	case strings.HasPrefix(selector, "."):
		cls := selector[1:]
		for _, c := range n.Classes() {
			if c == cls {
				return true
			}
		}
		return false
	default:
		return n.Attrs["shape"] == selector
	}
}
