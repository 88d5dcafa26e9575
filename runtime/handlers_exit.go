// ABOUTME: Handler for terminal nodes (shape=Msquare). Returns SUCCESS immediately.
package runtime

import (
	"context"

	"github.com/pipecraft/pipecraft/graph"
)

// ExitHandler handles a pipeline's terminal node(s).
type ExitHandler struct{}

func (h *ExitHandler) Type() string { return "exit" }

func (h *ExitHandler) Execute(ctx context.Context, node *graph.Node, pctx *Context, store *ArtifactStore) (*Outcome, error) {
	return &Outcome{Status: StatusSuccess, Notes: "pipeline reached exit node " + node.ID}, nil
}
