// ABOUTME: Handler for human-gated nodes (hexagon shape). Consults an Interviewer with outgoing edges as options.
package runtime

import (
	"context"

	"github.com/pipecraft/pipecraft/graph"
)

// WaitHumanHandler blocks for a single human decision per visit, offering the
// node's outgoing edge labels as options.
type WaitHumanHandler struct {
	Interviewer Interviewer
}

func (h *WaitHumanHandler) Type() string { return "wait.human" }

func (h *WaitHumanHandler) Execute(ctx context.Context, node *graph.Node, pctx *Context, store *ArtifactStore) (*Outcome, error) {
	g, _ := pctx.Get("_graph").(*graph.Graph)
	var edges []*graph.Edge
	if g != nil {
		edges = g.OutgoingEdges(node.ID)
	}
	options := make([]string, 0, len(edges))
	for _, e := range edges {
		if l := e.Label(); l != "" {
			options = append(options, l)
		}
	}

	interviewer := h.Interviewer
	if interviewer == nil {
		interviewer = &ConsoleInterviewer{}
	}

	ans, err := interviewer.Ask(ctx, Question{
		NodeID:  node.ID,
		Prompt:  node.Attrs["prompt"],
		Options: options,
	})
	if err != nil {
		return nil, err
	}

	switch ans.Value {
	case AnswerTimeout:
		if choice := node.Attrs["human.default_choice"]; choice != "" {
			target := h.resolveTarget(edges, choice)
			return &Outcome{Status: StatusSuccess, Notes: "human timed out, applied default choice", SuggestedNextIDs: target}, nil
		}
		return &Outcome{Status: StatusRetry, Notes: "human gate timed out"}, nil
	case AnswerSkipped:
		return &Outcome{Status: StatusFail, FailureReason: "human gate skipped"}, nil
	default:
		target := h.resolveTarget(edges, ans.Value)
		return &Outcome{Status: StatusSuccess, Notes: "human answered: " + ans.Value, SuggestedNextIDs: target}, nil
	}
}

// resolveTarget finds the edge named by label/target ID among edges and
// returns its destination node ID as a single-element slice, or nil.
func (h *WaitHumanHandler) resolveTarget(edges []*graph.Edge, choice string) []string {
	for _, e := range edges {
		if e.Label() == choice || e.To == choice {
			return []string{e.To}
		}
	}
	return nil
}
