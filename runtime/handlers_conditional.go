// ABOUTME: Handler for conditional router nodes (diamond shape). Routing is done by edge conditions, not here.
package runtime

import (
	"context"

	"github.com/pipecraft/pipecraft/graph"
)

// ConditionalHandler handles diamond-shaped router nodes. It always succeeds;
// the actual routing decision is made by the edge selector evaluating each
// outgoing edge's condition against the context.
type ConditionalHandler struct{}

func (h *ConditionalHandler) Type() string { return "conditional" }

func (h *ConditionalHandler) Execute(ctx context.Context, node *graph.Node, pctx *Context, store *ArtifactStore) (*Outcome, error) {
	return &Outcome{Status: StatusSuccess}, nil
}
