// ABOUTME: Fidelity tag resolution and thread-key resolution for context views handed to handlers.
// ABOUTME: Effective fidelity picks the first valid tag from edge, node, then graph default; see fidelity_transform.go for the filter itself.
package runtime

import "github.com/pipecraft/pipecraft/graph"

// FidelityMode is a recognized context-fidelity tag.
type FidelityMode string

const (
	FidelityFull          FidelityMode = "full"
	FidelityTruncate      FidelityMode = "truncate"
	FidelityCompact       FidelityMode = "compact"
	FidelitySummaryLow    FidelityMode = "summary:low"
	FidelitySummaryMedium FidelityMode = "summary:medium"
	FidelitySummaryHigh   FidelityMode = "summary:high"
)

var validFidelityModes = map[FidelityMode]bool{
	FidelityFull: true, FidelityTruncate: true, FidelityCompact: true,
	FidelitySummaryLow: true, FidelitySummaryMedium: true, FidelitySummaryHigh: true,
}

// IsValidFidelity reports whether mode is one of the six recognized tags.
func IsValidFidelity(mode string) bool {
	return validFidelityModes[FidelityMode(mode)]
}

// ResolveFidelity picks the first valid tag from (incoming edge, target node,
// graph default); if none is valid, defaults to compact.
func ResolveFidelity(edge *graph.Edge, targetNode *graph.Node, g *graph.Graph) FidelityMode {
	if edge != nil {
		if tag := edge.Attrs["fidelity"]; IsValidFidelity(tag) {
			return FidelityMode(tag)
		}
	}
	if targetNode != nil {
		if tag := targetNode.Attrs["fidelity"]; IsValidFidelity(tag) {
			return FidelityMode(tag)
		}
	}
	if g != nil {
		if tag := g.Attrs["default_fidelity"]; IsValidFidelity(tag) {
			return FidelityMode(tag)
		}
	}
	return FidelityCompact
}

// ResolveThreadKey resolves the LLM-session coalescing key for a node being
// entered via an edge, used only when effective fidelity is full.
func ResolveThreadKey(node *graph.Node, edge *graph.Edge, g *graph.Graph, prevNodeID string) string {
	if node != nil {
		if v := node.Attrs["thread_id"]; v != "" {
			return v
		}
	}
	if edge != nil {
		if v := edge.Attrs["thread_id"]; v != "" {
			return v
		}
	}
	if g != nil {
		if v := g.Attrs["default_thread"]; v != "" {
			return v
		}
	}
	if node != nil {
		if classes := node.Classes(); len(classes) > 0 {
			return classes[0]
		}
	}
	if prevNodeID != "" {
		return prevNodeID
	}
	return "default"
}
