// ABOUTME: Parallel branch execution (fan-out) and the sub-walk traversal used by each branch.
// ABOUTME: Per spec, branch contexts never merge back into the parent; only the aggregated parallel.results summary is observable.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/pipecraft/pipecraft/graph"
)

// ParallelGroupConfig is the parsed attribute surface of a fan-out node.
type ParallelGroupConfig struct {
	MaxParallel int
	JoinPolicy  string
	ErrorPolicy string
	JoinK       int
	JoinQuorum  float64
}

// ParallelGroupConfigFromContext reads the configuration ParallelHandler staged
// into the context back out, applying the spec's defaults for anything absent.
func ParallelGroupConfigFromContext(pctx *Context) ParallelGroupConfig {
	cfg := ParallelGroupConfig{MaxParallel: 4, JoinPolicy: "wait_all", ErrorPolicy: "continue", JoinK: 1, JoinQuorum: 0.5}
	if v := pctx.GetString("parallel.join_policy", ""); v != "" {
		cfg.JoinPolicy = v
	}
	if v := pctx.GetString("parallel.error_policy", ""); v != "" {
		cfg.ErrorPolicy = v
	}
	if v := pctx.Get("parallel.max_parallel"); v != nil {
		if n, ok := v.(int); ok && n > 0 {
			cfg.MaxParallel = n
		}
	}
	if v := pctx.GetString("parallel.join_k", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.JoinK = n
		}
	}
	if v := pctx.GetString("parallel.join_quorum", ""); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.JoinQuorum = f
		}
	}
	return cfg
}

// parallelBranchOutcome is one branch's settled result, tracked internally.
type parallelBranchOutcome struct {
	BranchID string
	Outcome  *Outcome
	Err      error
	Cancel   bool
}

// ExecuteParallelBranches runs each branch's sub-walk concurrently, bounded by
// a semaphore of cfg.MaxParallel permits. Each branch operates on its own
// context clone; per spec.md §4, these clones are never merged back into the
// parent - only the aggregated parallel.results summary crosses the boundary.
func ExecuteParallelBranches(
	ctx context.Context,
	g *graph.Graph,
	pctx *Context,
	store *ArtifactStore,
	registry *HandlerRegistry,
	branches []string,
	cfg ParallelGroupConfig,
) []parallelBranchOutcome {
	results := make([]parallelBranchOutcome, len(branches))
	if len(branches) == 0 {
		return results
	}

	maxParallel := cfg.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 4
	}

	branchCtx := ctx
	var cancel context.CancelFunc
	if cfg.ErrorPolicy == "fail_fast" {
		branchCtx, cancel = context.WithCancel(ctx)
		defer cancel()
	}

	sem := make(chan struct{}, maxParallel)
	var wg sync.WaitGroup

	for i, branchID := range branches {
		wg.Add(1)
		go func(idx int, nodeID string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-branchCtx.Done():
				results[idx] = parallelBranchOutcome{BranchID: nodeID, Cancel: true, Err: branchCtx.Err()}
				return
			}

			forked := pctx.Clone()
			outcome, err := subWalk(branchCtx, g, forked, store, registry, nodeID)
			results[idx] = parallelBranchOutcome{BranchID: nodeID, Outcome: outcome, Err: err}

			if cfg.ErrorPolicy == "fail_fast" && cancel != nil {
				if err != nil || (outcome != nil && outcome.Status == StatusFail) {
					cancel()
				}
			}
		}(i, branchID)
	}

	wg.Wait()
	return results
}

// subWalk runs the main loop's per-node steps (fidelity resolution, retry
// execution, edge selection, advance) starting at startNodeID, but stops at a
// terminal node, a parallel.fan_in node, or a node with no matching outgoing
// edge. It emits no lifecycle events, saves no checkpoints, and evaluates no
// goal gates.
func subWalk(ctx context.Context, g *graph.Graph, pctx *Context, store *ArtifactStore, registry *HandlerRegistry, startNodeID string) (*Outcome, error) {
	currentID := startNodeID
	var lastOutcome *Outcome
	var incomingEdge *graph.Edge
	const maxSteps = 1000

	for step := 0; step < maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return lastOutcome, err
		}

		node := g.FindNode(currentID)
		if node == nil {
			return lastOutcome, fmt.Errorf("sub-walk: node %q not found", currentID)
		}

		handler := registry.Resolve(node)
		if handler.Type() == "parallel.fan_in" || node.IsTerminal() {
			return lastOutcome, nil
		}

		outcome, err := executeNodeWithRetry(ctx, g, node, incomingEdge, pctx, store, handler, RetryPolicyStandard())
		if err != nil {
			return lastOutcome, err
		}
		lastOutcome = outcome

		if outcome.ContextUpdates != nil {
			pctx.ApplyUpdates(outcome.ContextUpdates)
		}
		pctx.Set("outcome", string(outcome.Status))
		if outcome.PreferredLabel != "" {
			pctx.Set("preferred_label", outcome.PreferredLabel)
		}

		if outcome.Status == StatusFail {
			return outcome, nil
		}

		nextEdge := SelectEdge(node, outcome, pctx, g)
		if nextEdge == nil {
			return outcome, nil
		}
		incomingEdge = nextEdge
		currentID = nextEdge.To
	}
	return lastOutcome, errors.New("sub-walk exceeded maximum steps")
}

// EvaluateJoinPolicy applies the fan-out node's join policy to the settled
// branch outcomes, per spec.md §4.7, and returns the aggregated Outcome plus
// the JSON-encoded parallel.results payload (branch-declaration order).
func EvaluateJoinPolicy(cfg ParallelGroupConfig, results []parallelBranchOutcome) (*Outcome, string) {
	type branchRecord struct {
		BranchID string `json:"branch_id"`
		Status   string `json:"status"`
		Notes    string `json:"notes,omitempty"`
	}

	records := make([]branchRecord, len(results))
	successes, countable := 0, 0
	for i, r := range results {
		status := string(StatusFail)
		notes := ""
		switch {
		case r.Cancel:
			status = string(StatusFail)
			notes = "cancelled due to fail_fast"
		case r.Err != nil:
			notes = r.Err.Error()
		case r.Outcome != nil:
			status = string(r.Outcome.Status)
			notes = r.Outcome.Notes
			if r.Outcome.Status == StatusFail {
				notes = r.Outcome.FailureReason
			}
		}
		records[i] = branchRecord{BranchID: r.BranchID, Status: status, Notes: notes}

		isFail := status == string(StatusFail)
		if cfg.ErrorPolicy == "ignore" && isFail {
			continue
		}
		countable++
		if !isFail {
			successes++
		}
	}

	data, _ := json.Marshal(records)
	payload := string(data)

	n := countable
	switch cfg.JoinPolicy {
	case "first_success":
		if successes >= 1 {
			return &Outcome{Status: StatusSuccess, Notes: "first_success satisfied"}, payload
		}
		return &Outcome{Status: StatusFail, FailureReason: "no branch succeeded"}, payload
	case "k_of_n":
		if successes >= cfg.JoinK {
			return &Outcome{Status: StatusSuccess, Notes: fmt.Sprintf("k_of_n satisfied: %d/%d", successes, cfg.JoinK)}, payload
		}
		return &Outcome{Status: StatusFail, FailureReason: fmt.Sprintf("k_of_n unmet: %d/%d", successes, cfg.JoinK)}, payload
	case "quorum":
		required := int(math.Ceil(float64(n) * cfg.JoinQuorum))
		if successes >= required {
			return &Outcome{Status: StatusSuccess, Notes: fmt.Sprintf("quorum satisfied: %d/%d", successes, required)}, payload
		}
		return &Outcome{Status: StatusFail, FailureReason: fmt.Sprintf("quorum unmet: %d/%d", successes, required)}, payload
	default: // wait_all
		failures := n - successes
		if failures == 0 {
			return &Outcome{Status: StatusSuccess, Notes: fmt.Sprintf("all %d branch(es) succeeded", n)}, payload
		}
		return &Outcome{Status: StatusPartialSuccess, Notes: fmt.Sprintf("%d/%d branch(es) succeeded", successes, n)}, payload
	}
}
