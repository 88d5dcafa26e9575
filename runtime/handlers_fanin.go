// ABOUTME: Handler for fan-in nodes (triple-octagon shape). Aggregates a fan-out group's parallel.results.
package runtime

import (
	"context"
	"encoding/json"

	"github.com/pipecraft/pipecraft/graph"
)

// branchResult mirrors the JSON shape stored at the parallel.results context
// key by ExecuteParallelBranches.
type branchResult struct {
	BranchID string `json:"branch_id"`
	Status   string `json:"status"`
	Notes    string `json:"notes,omitempty"`
}

// FanInHandler selects the representative outcome of a completed fan-out
// group. With a backend and a prompt it asks the backend to rank; otherwise
// it picks the best result by status rank.
type FanInHandler struct {
	Backend CodergenBackend
}

func (h *FanInHandler) Type() string { return "parallel.fan_in" }

func (h *FanInHandler) Execute(ctx context.Context, node *graph.Node, pctx *Context, store *ArtifactStore) (*Outcome, error) {
	raw := pctx.GetString("parallel.results", "")
	var results []branchResult
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &results)
	}
	if len(results) == 0 {
		return &Outcome{Status: StatusFail, FailureReason: "fan-in reached with no parallel.results"}, nil
	}

	if prompt := node.Attrs["prompt"]; prompt != "" && h.Backend != nil {
		result, err := h.Backend.RunAgent(ctx, AgentRunConfig{
			Prompt: prompt,
			NodeID: node.ID,
		})
		if err == nil && result != nil && result.Success {
			return &Outcome{Status: StatusSuccess, Notes: "fan-in ranked by backend: " + result.Output}, nil
		}
	}

	best := results[0]
	for _, r := range results[1:] {
		if statusRank[StageStatus(r.Status)] < statusRank[StageStatus(best.Status)] {
			best = r
		}
	}

	status := StageStatus(best.Status)
	if _, ok := statusRank[status]; !ok {
		status = StatusFail
	}
	return &Outcome{Status: status, Notes: "fan-in best branch: " + best.BranchID}, nil
}
