// ABOUTME: Handler for the start node (shape=Mdiamond). Returns SUCCESS immediately.
package runtime

import (
	"context"

	"github.com/pipecraft/pipecraft/graph"
)

// StartHandler handles the pipeline's single entry node.
type StartHandler struct{}

func (h *StartHandler) Type() string { return "start" }

func (h *StartHandler) Execute(ctx context.Context, node *graph.Node, pctx *Context, store *ArtifactStore) (*Outcome, error) {
	return &Outcome{Status: StatusSuccess, Notes: "pipeline started"}, nil
}
