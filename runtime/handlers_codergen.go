// ABOUTME: Codergen (LLM) handler: the default handler for box-shaped nodes.
// ABOUTME: Builds a prompt, writes prompt.md/response.md/status.json, and delegates to a CodergenBackend (or stub).
package runtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pipecraft/pipecraft/graph"
)

// CodergenHandler is the default handler for LLM-powered coding task nodes.
// When Backend is nil it runs in stub mode: the prompt is written to disk and
// a deterministic stub response is synthesized, with no network call.
type CodergenHandler struct {
	Backend         CodergenBackend
	BaseURL         string
	GraphDir        string   // base directory for "@file" prompt references
	SearchDirs      []string // directories searched for "/command" prompt references
	DefaultModel    string   // used when a node declares no llm_model
	DefaultProvider string   // used when a node declares no llm_provider
}

func (h *CodergenHandler) Type() string { return "codergen" }

// codergenStatus mirrors the persisted status.json shape of spec.md §6.3.
type codergenStatus struct {
	Outcome           string         `json:"outcome"`
	PreferredNextLabel string        `json:"preferred_next_label,omitempty"`
	SuggestedNextIDs  []string       `json:"suggested_next_ids,omitempty"`
	ContextUpdates    map[string]any `json:"context_updates,omitempty"`
	Notes             string         `json:"notes,omitempty"`
}

func (h *CodergenHandler) Execute(ctx context.Context, node *graph.Node, pctx *Context, store *ArtifactStore) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	attrs := node.Attrs
	prompt := attrs["prompt"]
	if prompt == "" {
		prompt = attrs["label"]
	}
	if prompt == "" {
		prompt = node.ID
	}
	label := attrs["label"]
	if label == "" {
		label = node.ID
	}

	if resolved, err := graph.ResolvePrompt(prompt, h.GraphDir, h.SearchDirs); err == nil {
		prompt = resolved
	} else {
		pctx.AppendLog(fmt.Sprintf("warning: prompt resolution failed for %s: %v", node.ID, err))
	}

	goal := pctx.GetString("goal", "")
	vars, _ := pctx.Get("internal.vars").(map[string]string)
	prompt = graph.ExpandVars(prompt, nil, goal, vars)
	fidelityMode := pctx.GetString("internal.effective_fidelity", "full")
	preamble := pctx.GetString("internal.fidelity_preamble", "")

	finalPrompt := prompt
	if preamble != "" {
		finalPrompt = preamble + "\n---\n" + prompt
	}

	if store != nil {
		if _, err := store.WriteNodeFile(node.ID, "prompt.md", []byte(finalPrompt)); err != nil {
			pctx.AppendLog(fmt.Sprintf("warning: failed to write prompt.md for %s: %v", node.ID, err))
		}
	}

	model := attrs["llm_model"]
	if model == "" {
		model = h.DefaultModel
	}
	provider := attrs["llm_provider"]
	if provider == "" {
		provider = h.DefaultProvider
	}

	var response string
	var success bool
	var failureReason string

	if h.Backend == nil {
		response = "stub response for " + label
		success = true
	} else {
		result, err := h.Backend.RunAgent(ctx, AgentRunConfig{
			Prompt:       finalPrompt,
			Preamble:     preamble,
			Model:        model,
			Provider:     provider,
			BaseURL:      h.BaseURL,
			WorkDir:      storeBaseDir(store),
			Goal:         goal,
			NodeID:       node.ID,
			FidelityMode: fidelityMode,
			ThreadKey:    pctx.GetString("internal.thread_key", ""),
		})
		if err != nil {
			failureReason = fmt.Sprintf("agent backend error: %v", err)
		} else {
			response = result.Output
			success = result.Success
			if !success && failureReason == "" {
				failureReason = result.Notes
			}
		}
	}

	if store != nil {
		if _, err := store.WriteNodeFile(node.ID, "response.md", []byte(response)); err != nil {
			pctx.AppendLog(fmt.Sprintf("warning: failed to write response.md for %s: %v", node.ID, err))
		}
	}

	lastResponse := response
	if len(lastResponse) > truncateThreshold {
		lastResponse = lastResponse[:truncateThreshold] + "..."
	}
	updates := map[string]any{
		"last_stage":   node.ID,
		"last_response": lastResponse,
	}
	if model != "" {
		updates["codergen.model"] = model
	}
	if provider != "" {
		updates["codergen.provider"] = provider
	}

	status := StatusSuccess
	if !success {
		status = StatusFail
	}

	st := codergenStatus{Outcome: string(status), ContextUpdates: updates, Notes: label}
	if data, err := json.MarshalIndent(st, "", "  "); err == nil && store != nil {
		if _, err := store.WriteNodeFile(node.ID, "status.json", data); err != nil {
			pctx.AppendLog(fmt.Sprintf("warning: failed to write status.json for %s: %v", node.ID, err))
		}
	}

	if !success {
		return &Outcome{Status: StatusFail, FailureReason: failureReason, ContextUpdates: updates}, nil
	}
	return &Outcome{Status: StatusSuccess, Notes: "stage completed: " + label, ContextUpdates: updates}, nil
}

func storeBaseDir(store *ArtifactStore) string {
	if store == nil {
		return ""
	}
	return store.BaseDir()
}
