// ABOUTME: Picks at most one outgoing edge from a node given the outcome just produced.
// ABOUTME: Combines conditions, preferred-next labels, priority weight, and declaration-order tiebreak.
package runtime

import "github.com/pipecraft/pipecraft/graph"

// SelectEdge implements the edge-selection algorithm: partition conditional
// vs. unconditional edges, evaluate conditions, filter by preferred label,
// then pick by greatest weight with ties broken by declaration order.
func SelectEdge(node *graph.Node, outcome *Outcome, pctx *Context, g *graph.Graph) *graph.Edge {
	edges := g.OutgoingEdges(node.ID)
	if len(edges) == 0 {
		return nil
	}

	var conditional, unconditional []*graph.Edge
	for _, e := range edges {
		if e.Condition() != "" {
			conditional = append(conditional, e)
		} else {
			unconditional = append(unconditional, e)
		}
	}

	var matched []*graph.Edge
	for _, e := range conditional {
		if EvaluateCondition(e.Condition(), outcome, pctx) {
			matched = append(matched, e)
		}
	}

	preferred := ""
	if outcome != nil {
		preferred = outcome.PreferredLabel
	}

	if len(matched) > 0 {
		if preferred != "" {
			if byLabel := filterByLabel(matched, preferred); len(byLabel) > 0 {
				matched = byLabel
			}
		}
		return bestByWeightThenDeclarationOrder(matched, edges)
	}

	// No conditional edges matched (or none existed): fall back to unconditional.
	candidates := unconditional
	if preferred != "" {
		if byLabel := filterByLabel(candidates, preferred); len(byLabel) > 0 {
			candidates = byLabel
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	return bestByWeightThenDeclarationOrder(candidates, edges)
}

func filterByLabel(edges []*graph.Edge, label string) []*graph.Edge {
	var out []*graph.Edge
	for _, e := range edges {
		if e.Label() == label {
			out = append(out, e)
		}
	}
	return out
}

// bestByWeightThenDeclarationOrder picks the candidate with the greatest
// weight; ties are broken by position in declOrder (first wins).
func bestByWeightThenDeclarationOrder(candidates []*graph.Edge, declOrder []*graph.Edge) *graph.Edge {
	if len(candidates) == 0 {
		return nil
	}
	pos := make(map[*graph.Edge]int, len(declOrder))
	for i, e := range declOrder {
		pos[e] = i
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Weight() > best.Weight() || (c.Weight() == best.Weight() && pos[c] < pos[best]) {
			best = c
		}
	}
	return best
}
