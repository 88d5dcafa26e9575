// ABOUTME: Handler for fan-out nodes (component shape). Stages branch dispatch metadata for the runner.
package runtime

import (
	"context"
	"strconv"

	"github.com/pipecraft/pipecraft/graph"
)

// ParallelHandler does not itself execute branches; it stages the branch list
// and policy attributes into the context, which the runner reads to dispatch
// ExecuteParallelBranches.
type ParallelHandler struct{}

func (h *ParallelHandler) Type() string { return "parallel" }

func (h *ParallelHandler) Execute(ctx context.Context, node *graph.Node, pctx *Context, store *ArtifactStore) (*Outcome, error) {
	g, _ := pctx.Get("_graph").(*graph.Graph)
	var branchIDs []string
	if g != nil {
		for _, e := range g.OutgoingEdges(node.ID) {
			branchIDs = append(branchIDs, e.To)
		}
	}
	if len(branchIDs) == 0 {
		return &Outcome{Status: StatusFail, FailureReason: "parallel node has no outgoing branches"}, nil
	}

	joinPolicy := node.Attrs["join_policy"]
	if joinPolicy == "" {
		joinPolicy = "wait_all"
	}
	errorPolicy := node.Attrs["error_policy"]
	if errorPolicy == "" {
		errorPolicy = "continue"
	}
	maxParallel := 4
	if v := node.Attrs["max_parallel"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxParallel = n
		}
	}

	updates := map[string]any{
		"last_stage":            node.ID,
		"parallel.branches":     branchIDs,
		"parallel.join_policy":  joinPolicy,
		"parallel.error_policy": errorPolicy,
		"parallel.max_parallel": maxParallel,
	}
	if v := node.Attrs["join_k"]; v != "" {
		updates["parallel.join_k"] = v
	}
	if v := node.Attrs["join_quorum"]; v != "" {
		updates["parallel.join_quorum"] = v
	}

	return &Outcome{Status: StatusSuccess, Notes: "fan-out staged", ContextUpdates: updates}, nil
}
