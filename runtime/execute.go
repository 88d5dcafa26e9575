// ABOUTME: The per-node execution step shared by the main runner and the parallel sub-walk.
// ABOUTME: Resolves fidelity and thread context, then runs the handler's retry loop per spec.md §4.10 steps 2-3.
package runtime

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pipecraft/pipecraft/graph"
)

// StageEventFunc receives stage-lifecycle notifications from
// executeNodeWithRetry; both the runner and tests may supply one. A nil
// eventFn is a valid no-op subscriber, used by the sub-walk which emits no
// lifecycle events.
type StageEventFunc func(kind string, nodeID string, data map[string]any)

// executeNodeWithRetry resolves effective fidelity and thread context for
// entering node via incomingEdge, then executes node's handler with the
// node's effective retry policy until it reaches a terminal outcome.
func executeNodeWithRetry(
	ctx context.Context,
	g *graph.Graph,
	node *graph.Node,
	incomingEdge *graph.Edge,
	pctx *Context,
	store *ArtifactStore,
	handler NodeHandler,
	defaultPolicy RetryPolicy,
) (*Outcome, error) {
	return executeNodeWithRetryEvents(ctx, g, node, incomingEdge, pctx, store, handler, defaultPolicy, nil)
}

func executeNodeWithRetryEvents(
	ctx context.Context,
	g *graph.Graph,
	node *graph.Node,
	incomingEdge *graph.Edge,
	pctx *Context,
	store *ArtifactStore,
	handler NodeHandler,
	defaultPolicy RetryPolicy,
	emit StageEventFunc,
) (*Outcome, error) {
	return executeNodeWithRetryMode(ctx, g, node, incomingEdge, pctx, store, handler, defaultPolicy, emit, "")
}

// executeNodeWithRetryMode is executeNodeWithRetryEvents with an optional
// forced fidelity mode, used only by the resume-degrade one-shot hop (spec.md
// 4.10 step 2: "if the resume-degrade flag is set, force summary:high for
// this step"). An empty forceMode resolves fidelity normally.
func executeNodeWithRetryMode(
	ctx context.Context,
	g *graph.Graph,
	node *graph.Node,
	incomingEdge *graph.Edge,
	pctx *Context,
	store *ArtifactStore,
	handler NodeHandler,
	defaultPolicy RetryPolicy,
	emit StageEventFunc,
	forceMode FidelityMode,
) (*Outcome, error) {
	mode := ResolveFidelity(incomingEdge, node, g)
	if forceMode != "" {
		mode = forceMode
	}
	pctx.Set("internal.effective_fidelity", string(mode))
	if incomingEdge != nil {
		pctx.Set("internal.incoming_edge_fidelity", incomingEdge.Attrs["fidelity"])
		pctx.Set("internal.incoming_edge_thread_id", incomingEdge.Attrs["thread_id"])
	}

	prevNodeID := ""
	if incomingEdge != nil {
		prevNodeID = incomingEdge.From
	}
	if mode == FidelityFull {
		pctx.Set("internal.thread_key", ResolveThreadKey(node, incomingEdge, g, prevNodeID))
		pctx.Delete("internal.fidelity_preamble")
	} else {
		_, preamble := ApplyFidelity(pctx, mode, FidelityOptions{})
		pctx.Set("internal.fidelity_preamble", preamble)
	}

	policy := BuildRetryPolicy(node, g, defaultPolicy)
	if emit != nil {
		emit("stage_started", node.ID, nil)
	}

	attempt := 0
	for {
		attempt++
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		outcome, err := handler.Execute(ctx, node, pctx, store)
		if err != nil {
			shouldRetry := policy.ShouldRetry
			if shouldRetry == nil {
				shouldRetry = DefaultShouldRetry
			}
			if shouldRetry(err) && attempt < policy.MaxAttempts {
				delay := policy.Backoff.DelayForAttempt(attempt - 1)
				bumpRetryCount(pctx, node.ID)
				if emit != nil {
					emit("stage_retrying", node.ID, map[string]any{"attempt": attempt, "delay_ms": delay.Milliseconds(), "reason": err.Error()})
				}
				sleepWithContext(ctx, delay)
				continue
			}
			return &Outcome{Status: StatusFail, FailureReason: fmt.Sprintf("handler error: %v", err)}, nil
		}

		switch outcome.Status {
		case StatusSuccess, StatusPartialSuccess:
			if emit != nil {
				emit("stage_completed", node.ID, map[string]any{"status": string(outcome.Status), "attempt": attempt})
			}
			return outcome, nil
		case StatusRetry:
			if attempt < policy.MaxAttempts {
				delay := policy.Backoff.DelayForAttempt(attempt - 1)
				bumpRetryCount(pctx, node.ID)
				if emit != nil {
					emit("stage_retrying", node.ID, map[string]any{"attempt": attempt, "delay_ms": delay.Milliseconds()})
				}
				sleepWithContext(ctx, delay)
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				continue
			}
			if node.AllowPartial() {
				final := &Outcome{Status: StatusPartialSuccess, Notes: "retries exhausted, promoted to partial_success", ContextUpdates: outcome.ContextUpdates}
				if emit != nil {
					emit("stage_completed", node.ID, map[string]any{"status": string(final.Status), "attempt": attempt})
				}
				return final, nil
			}
			final := &Outcome{Status: StatusFail, FailureReason: "retries exhausted", ContextUpdates: outcome.ContextUpdates}
			if emit != nil {
				emit("stage_failed", node.ID, map[string]any{"attempt": attempt})
			}
			return final, nil
		case StatusFail, StatusSkipped:
			if emit != nil {
				if outcome.Status == StatusFail {
					emit("stage_failed", node.ID, map[string]any{"attempt": attempt})
				} else {
					emit("stage_completed", node.ID, map[string]any{"status": string(outcome.Status), "attempt": attempt})
				}
			}
			return outcome, nil
		default:
			return outcome, nil
		}
	}
}

func bumpRetryCount(pctx *Context, nodeID string) {
	key := "internal.retry_count." + nodeID
	count := 0
	if v := pctx.Get(key); v != nil {
		if n, ok := v.(int); ok {
			count = n
		} else if s, ok := v.(string); ok {
			if n, err := strconv.Atoi(s); err == nil {
				count = n
			}
		}
	}
	pctx.Set(key, count+1)
}
