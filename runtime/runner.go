// ABOUTME: The pipeline runner: PARSE/VALIDATE/PREFLIGHT/INITIALIZE/EXECUTE/FINALIZE lifecycle.
// ABOUTME: executeGraph drives the 8-step main loop of spec.md 4.10, dispatching parallel branches
// ABOUTME: via ExecuteParallelBranches/EvaluateJoinPolicy rather than merging branch contexts back.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/pipecraft/pipecraft/graph"
)

// DefaultRestartMaxRestarts bounds loop_restart hops before a run gives up.
const DefaultRestartMaxRestarts = 5

// RunConfig configures a single pipeline run.
type RunConfig struct {
	ArtifactDir        string // exact run directory; empty = derive from ArtifactsBaseDir/RunID
	ArtifactsBaseDir   string // default "artifacts"
	RunID              string // empty = auto-generated uuid
	GraphDir           string            // directory the graph source was loaded from, for "@file" and "/command" prompt resolution
	VarOverrides       map[string]string // "$identifier" overrides, applied over the graph's declared var defaults
	ExtraLintRules     []graph.LintRule
	DefaultRetry       RetryPolicy
	Handlers           *HandlerRegistry // nil = DefaultHandlerRegistry
	Backend            CodergenBackend  // wired into the codergen handler
	BaseURL            string
	DefaultModel       string // fallback for codergen nodes with no llm_model attr
	DefaultProvider    string // fallback for codergen nodes with no llm_provider attr
	Interviewer        Interviewer // wired into the wait.human handler
	Observer           Observer    // wired into the manager-loop handler
	RestartMaxRestarts int         // 0 = DefaultRestartMaxRestarts
	Watchdog           *WatchdogConfig // nil = no stall detection
	FailureTracker     *FailureTracker // nil = a fresh tracker is created
	EventHandler       EventHandler    // subscribed before pipeline_started fires, so callers never miss an event
}

// RunResult is the final state of a completed (or failed) pipeline run.
type RunResult struct {
	FinalOutcome   *Outcome
	CompletedNodes []string
	NodeOutcomes   map[string]*Outcome
	Context        *Context
	RunID          string
	ArtifactDir    string
}

// Runner executes pipeline graphs against a fixed configuration.
type Runner struct {
	config RunConfig
	Events *EventBus
}

// NewRunner creates a Runner. Subscribe to r.Events after construction (it is
// populated once RunGraph/Run begins) to observe the run's lifecycle.
func NewRunner(config RunConfig) *Runner {
	return &Runner{config: config}
}

// Run parses source and runs the resulting graph through the full lifecycle.
func (r *Runner) Run(ctx context.Context, source string) (*RunResult, error) {
	g, err := graph.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return r.RunGraph(ctx, g)
}

// RunGraph runs an already-parsed graph through VALIDATE, PREFLIGHT,
// INITIALIZE, EXECUTE, and FINALIZE.
func (r *Runner) RunGraph(ctx context.Context, g *graph.Graph) (*RunResult, error) {
	if _, err := graph.ValidateOrError(g, r.config.ExtraLintRules...); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	registry := r.config.Handlers
	if registry == nil {
		registry = DefaultHandlerRegistry()
	}
	r.wireHandlers(registry)

	if checks := BuildPreflightChecks(g, r.config.Backend); len(checks) > 0 {
		result := RunPreflight(ctx, checks)
		if !result.OK() {
			return nil, errors.New(result.Error())
		}
	}

	runID := r.config.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	artifactDir := r.config.ArtifactDir
	if artifactDir == "" {
		dir, err := ResolveRunDir(r.config.ArtifactsBaseDir, runID)
		if err != nil {
			return nil, err
		}
		artifactDir = dir
	}
	store := NewArtifactStore(artifactDir)

	pctx := NewContext()
	for k, v := range g.Attrs {
		pctx.Set(k, v)
	}
	pctx.Set("_graph", g)
	pctx.Set("_workdir", artifactDir)
	pctx.Set("internal.vars", r.effectiveVars(g))

	bus := NewEventBus(runID)
	r.Events = bus
	if r.config.EventHandler != nil {
		bus.Subscribe(r.config.EventHandler)
	}

	if err := writeManifest(artifactDir, g); err != nil {
		return nil, err
	}

	startNode := g.FindStartNode()
	if startNode == nil {
		return nil, fmt.Errorf("graph has no start node (shape=Mdiamond)")
	}
	pctx.Set("graph.goal", g.Goal())

	return r.run(ctx, g, pctx, store, registry, bus, runID, artifactDir, startNode, nil)
}

// ResumeFromCheckpoint restores context, completed-nodes, and retry counters
// from a checkpoint file and resumes execution from the node after the
// checkpointed one. If that node used full fidelity, the first resumed hop
// is degraded to summary:high (a one-shot degradation; it does not chain
// across a second resume).
func (r *Runner) ResumeFromCheckpoint(ctx context.Context, g *graph.Graph, checkpointPath string) (*RunResult, error) {
	cp, err := LoadCheckpoint(checkpointPath)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	cpNode := g.FindNode(cp.CurrentNode)
	if cpNode == nil {
		return nil, fmt.Errorf("checkpoint references node %q which does not exist in graph", cp.CurrentNode)
	}

	pctx := NewContext()
	for k, v := range cp.ContextValues {
		pctx.Set(k, v)
	}
	for _, entry := range cp.Logs {
		pctx.AppendLog(entry)
	}

	cpOutcome := &Outcome{Status: StatusSuccess}
	if v, ok := cp.ContextValues["outcome"]; ok {
		if s, ok := v.(string); ok {
			cpOutcome.Status = StageStatus(s)
		}
	}
	if v, ok := cp.ContextValues["preferred_label"]; ok {
		if s, ok := v.(string); ok {
			cpOutcome.PreferredLabel = s
		}
	}

	if cpNode.IsTerminal() {
		return &RunResult{FinalOutcome: cpOutcome, CompletedNodes: cp.CompletedNodes, Context: pctx}, nil
	}

	nextEdge := SelectEdge(cpNode, cpOutcome, pctx, g)
	if nextEdge == nil {
		return nil, fmt.Errorf("checkpoint node %q has no outgoing edge to resume from", cp.CurrentNode)
	}
	nextNode := g.FindNode(nextEdge.To)
	if nextNode == nil {
		return nil, fmt.Errorf("edge from checkpoint node %q points to nonexistent node %q", cp.CurrentNode, nextEdge.To)
	}

	resumeDegrade := ResolveFidelity(nextEdge, nextNode, g) == FidelityFull

	registry := r.config.Handlers
	if registry == nil {
		registry = DefaultHandlerRegistry()
	}
	r.wireHandlers(registry)

	runID := r.config.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	artifactDir := r.config.ArtifactDir
	if artifactDir == "" {
		dir, err := ResolveRunDir(r.config.ArtifactsBaseDir, runID)
		if err != nil {
			return nil, err
		}
		artifactDir = dir
	}
	store := NewArtifactStore(artifactDir)
	pctx.Set("_graph", g)
	pctx.Set("_workdir", artifactDir)
	pctx.Set("internal.vars", r.effectiveVars(g))

	bus := NewEventBus(runID)
	r.Events = bus
	if r.config.EventHandler != nil {
		bus.Subscribe(r.config.EventHandler)
	}
	bus.Emit(EventCheckpointResumed, cp.CurrentNode, map[string]any{"next_node": nextNode.ID})

	rs := &resumeState{
		completedNodes: cp.CompletedNodes,
		nodeRetries:    cp.NodeRetries,
		degradeOnce:    resumeDegrade,
	}
	return r.run(ctx, g, pctx, store, registry, bus, runID, artifactDir, nextNode, rs)
}

// effectiveVars merges the graph's declared var defaults with the run's
// override set, ready for "$identifier" expansion in node prompts.
func (r *Runner) effectiveVars(g *graph.Graph) map[string]string {
	vars := make(map[string]string)
	for _, v := range g.Vars() {
		vars[v.Name] = v.Default
	}
	for k, v := range r.config.VarOverrides {
		vars[k] = v
	}
	return vars
}

// wireHandlers plugs the runner's configured backend, interviewer, and
// observer into the registry's codergen/wait.human/manager-loop handlers.
func (r *Runner) wireHandlers(registry *HandlerRegistry) {
	if ch, ok := registry.Get("codergen").(*CodergenHandler); ok {
		if r.config.Backend != nil {
			ch.Backend = r.config.Backend
		}
		if r.config.BaseURL != "" {
			ch.BaseURL = r.config.BaseURL
		}
		ch.GraphDir = r.config.GraphDir
		ch.SearchDirs = graph.CommandSearchDirs(r.config.GraphDir, "", "PIPECRAFT_COMMAND_DIRS")
		ch.DefaultModel = r.config.DefaultModel
		ch.DefaultProvider = r.config.DefaultProvider
	}
	if wh, ok := registry.Get("wait.human").(*WaitHumanHandler); ok && r.config.Interviewer != nil {
		wh.Interviewer = r.config.Interviewer
	}
	if ml, ok := registry.Get("stack.manager_loop").(*ManagerLoopHandler); ok && r.config.Observer != nil {
		ml.Observer = r.config.Observer
	}
}

// resumeState carries forward completed-nodes, retry counters, and the
// one-shot resume-degrade flag from a checkpoint restore, or the cumulative
// completed-nodes/outcomes from a loop-restart continuation. outcomes is nil
// for a checkpoint restore (the runner only knows which nodes completed, not
// their actual outcomes, so executeGraph synthesizes SUCCESS placeholders);
// it is populated for a loop-restart continuation, where the real outcomes
// (already filtered per spec.md §4.10 step 7) are known and must be reused
// verbatim rather than replaced with placeholders.
type resumeState struct {
	completedNodes []string
	nodeRetries    map[string]int
	outcomes       map[string]*Outcome
	degradeOnce    bool
}

// run wires a watchdog and failure tracker, emits pipeline_started, and loops
// executeGraph across any loop_restart hops until the run settles.
func (r *Runner) run(
	ctx context.Context,
	g *graph.Graph,
	pctx *Context,
	store *ArtifactStore,
	registry *HandlerRegistry,
	bus *EventBus,
	runID, artifactDir string,
	startNode *graph.Node,
	rs *resumeState,
) (*RunResult, error) {
	if r.config.Watchdog != nil {
		wd := NewWatchdog(*r.config.Watchdog, func(nodeID string, elapsed time.Duration) {
			bus.Emit(EventStageRetrying, nodeID, map[string]any{"stall_seconds": elapsed.Seconds(), "reason": "watchdog stall detection"})
		})
		bus.Subscribe(wd.HandleEvent)
		wd.Start(ctx)
	}

	tracker := r.config.FailureTracker
	if tracker == nil {
		tracker = NewFailureTracker()
	}

	bus.Emit(EventPipelineStarted, "", map[string]any{"resumed": rs != nil})
	start := time.Now()

	maxRestarts := r.config.RestartMaxRestarts
	if maxRestarts <= 0 {
		maxRestarts = DefaultRestartMaxRestarts
	}
	restarts := 0

	for {
		select {
		case <-ctx.Done():
			bus.Emit(EventPipelineFailed, "", map[string]any{"error": ctx.Err().Error()})
			return nil, ctx.Err()
		default:
		}

		result, err := r.executeGraph(ctx, g, pctx, store, registry, bus, tracker, startNode, rs)
		rs = nil // resume state only seeds the first hop, unless a restart below re-arms it

		var restartErr *ErrLoopRestart
		if errors.As(err, &restartErr) {
			restarts++
			if restarts > maxRestarts {
				bus.Emit(EventPipelineFailed, "", map[string]any{"error": "max restart limit exceeded"})
				return nil, fmt.Errorf("loop_restart limit exceeded: %d restart(s), max is %d", restarts, maxRestarts)
			}
			target := g.FindNode(restartErr.TargetNode)
			if target == nil {
				bus.Emit(EventPipelineFailed, "", map[string]any{"error": "restart target not found"})
				return nil, fmt.Errorf("loop_restart target node %q not found", restartErr.TargetNode)
			}
			startNode = target
			// Carry the cumulative completed-nodes list and the (already
			// reachability-filtered) outcomes map into the next pass, so the
			// restart revisits nodes on top of the prior visitation history
			// instead of resetting it (spec.md §3 invariant 2, §4.10 step 7).
			rs = &resumeState{completedNodes: restartErr.Completed, outcomes: restartErr.Outcomes}
			continue
		}
		if err != nil {
			bus.Emit(EventPipelineFailed, "", map[string]any{"error": err.Error(), "duration_ms": time.Since(start).Milliseconds()})
			return result, err
		}

		result.RunID = runID
		result.ArtifactDir = artifactDir
		kind := EventPipelineCompleted
		if result.FinalOutcome != nil && result.FinalOutcome.Status == StatusFail {
			kind = EventPipelineFailed
		}
		bus.Emit(kind, "", map[string]any{"duration_ms": time.Since(start).Milliseconds()})
		return result, nil
	}
}

// executeGraph implements the 8-step main loop of spec.md 4.10, starting at
// startNode. It returns *ErrLoopRestart (wrapped as err) when the selected
// edge demands a loop restart; the caller (run) handles re-entry.
func (r *Runner) executeGraph(
	ctx context.Context,
	g *graph.Graph,
	pctx *Context,
	store *ArtifactStore,
	registry *HandlerRegistry,
	bus *EventBus,
	tracker *FailureTracker,
	startNode *graph.Node,
	rs *resumeState,
) (*RunResult, error) {
	completed := make([]string, 0)
	outcomes := make(map[string]*Outcome)
	if rs != nil {
		completed = append(completed, rs.completedNodes...)
		if rs.outcomes != nil {
			for id, o := range rs.outcomes {
				outcomes[id] = o
			}
		} else {
			for _, id := range rs.completedNodes {
				outcomes[id] = &Outcome{Status: StatusSuccess}
			}
		}
		for nodeID, count := range rs.nodeRetries {
			pctx.Set("internal.retry_count."+nodeID, count)
		}
	}

	degradeOnce := rs != nil && rs.degradeOnce
	current := startNode
	var incomingEdge *graph.Edge

	const maxIterations = 100000
	for iteration := 0; ; iteration++ {
		if iteration > maxIterations {
			return nil, fmt.Errorf("execution exceeded maximum iterations (%d), possible infinite loop", maxIterations)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		node := current

		// Step 1: terminal check + goal gates.
		if node.IsTerminal() {
			handler := registry.Resolve(node)
			outcome, err := executeNodeWithRetryEvents(ctx, g, node, incomingEdge, pctx, store, handler, r.config.DefaultRetry, eventEmitter(bus))
			if err != nil {
				return nil, fmt.Errorf("terminal node %q: %w", node.ID, err)
			}
			completed = append(completed, node.ID)
			outcomes[node.ID] = outcome
			if outcome.ContextUpdates != nil {
				pctx.ApplyUpdates(outcome.ContextUpdates)
			}
			r.saveCheckpoint(store.BaseDir(), pctx, node.ID, completed, SourceHash(g.Source), bus)

			ok, failedNode := CheckGoalGates(g, outcomes)
			if !ok {
				target := GetRetryTarget(failedNode, g)
				if target == "" {
					return &RunResult{FinalOutcome: &Outcome{Status: StatusFail, FailureReason: "goal gate unsatisfied"}, CompletedNodes: completed, NodeOutcomes: outcomes, Context: pctx},
						fmt.Errorf("goal gate unsatisfied for node %q, no retry target available", failedNode.ID)
				}
				targetNode := g.FindNode(target)
				if targetNode == nil {
					return nil, fmt.Errorf("goal gate retry target %q not found", target)
				}
				current = targetNode
				incomingEdge = nil
				continue
			}

			return &RunResult{FinalOutcome: outcome, CompletedNodes: completed, NodeOutcomes: outcomes, Context: pctx}, nil
		}

		// Step 2-3: fidelity/thread context + execute with retry.
		handler := registry.Resolve(node)
		if handler == nil {
			return nil, fmt.Errorf("no handler found for node %q", node.ID)
		}

		var forceMode FidelityMode
		if degradeOnce {
			if ResolveFidelity(incomingEdge, node, g) == FidelityFull {
				forceMode = FidelitySummaryHigh
			}
			degradeOnce = false
		}

		outcome, err := executeNodeWithRetryMode(ctx, g, node, incomingEdge, pctx, store, handler, r.config.DefaultRetry, eventEmitter(bus), forceMode)
		if err != nil {
			return nil, fmt.Errorf("node %q execution error: %w", node.ID, err)
		}
		if outcome.Status == StatusFail && outcome.FailureReason != "" {
			sig := tracker.Record(errors.New(outcome.FailureReason))
			pctx.Set("internal.failure_signature."+node.ID, sig)
		}

		// Step 4: record.
		completed = append(completed, node.ID)
		outcomes[node.ID] = outcome
		if outcome.ContextUpdates != nil {
			pctx.ApplyUpdates(outcome.ContextUpdates)
		}
		pctx.Set("outcome", string(outcome.Status))
		if outcome.PreferredLabel != "" {
			pctx.Set("preferred_label", outcome.PreferredLabel)
		}

		// Parallel branch dispatch: a ParallelHandler execution stages
		// parallel.branches in context. Resolve and join before routing.
		if branchesVal := pctx.Get("parallel.branches"); branchesVal != nil {
			if branchIDs, ok := branchesVal.([]string); ok && len(branchIDs) > 0 {
				cfg := ParallelGroupConfigFromContext(pctx)
				branchResults := ExecuteParallelBranches(ctx, g, pctx, store, registry, branchIDs, cfg)
				joined, payload := EvaluateJoinPolicy(cfg, branchResults)
				pctx.Set("parallel.results", payload)
				pctx.Delete("parallel.branches")
				outcome = joined
				outcomes[node.ID] = joined
				pctx.Set("outcome", string(joined.Status))

				for _, br := range branchResults {
					completed = append(completed, br.BranchID)
					if br.Outcome != nil {
						outcomes[br.BranchID] = br.Outcome
					}
				}

				if fanIn := findFanInNode(g, branchIDs); fanIn != nil {
					current = fanIn
					incomingEdge = nil
					r.saveCheckpoint(store.BaseDir(), pctx, node.ID, completed, SourceHash(g.Source), bus)
					continue
				}
			}
		}

		// Step 5: checkpoint.
		r.saveCheckpoint(store.BaseDir(), pctx, node.ID, completed, SourceHash(g.Source), bus)

		// Step 6: route.
		nextEdge := SelectEdge(node, outcome, pctx, g)
		if nextEdge == nil {
			if outcome.Status == StatusFail {
				return &RunResult{FinalOutcome: outcome, CompletedNodes: completed, NodeOutcomes: outcomes, Context: pctx},
					fmt.Errorf("stage %q failed with no outgoing fail edge", node.ID)
			}
			return &RunResult{FinalOutcome: outcome, CompletedNodes: completed, NodeOutcomes: outcomes, Context: pctx}, nil
		}

		// Step 7: loop-restart.
		if nextEdge.LoopRestart() {
			for _, key := range pctx.KeysWithPrefix("internal.retry_count.") {
				pctx.Delete(key)
			}
			reachable := graph.ReachableFromAny(g, []string{nextEdge.To})
			for id := range reachable {
				delete(outcomes, id)
			}
			bus.Emit(EventLoopRestarted, node.ID, map[string]any{"target": nextEdge.To})
			return &RunResult{FinalOutcome: outcome, CompletedNodes: completed, NodeOutcomes: outcomes, Context: pctx},
				&ErrLoopRestart{TargetNode: nextEdge.To, Completed: completed, Outcomes: outcomes}
		}

		// Step 8: advance.
		nextNode := g.FindNode(nextEdge.To)
		if nextNode == nil {
			return nil, fmt.Errorf("edge from %q points to nonexistent node %q", node.ID, nextEdge.To)
		}
		incomingEdge = nextEdge
		current = nextNode
	}
}

// saveCheckpoint serializes run state to <artifactDir>/checkpoint.json,
// scanning internal.retry_count.* for the per-node retry counters.
func (r *Runner) saveCheckpoint(artifactDir string, pctx *Context, currentNode string, completed []string, sourceHash string, bus *EventBus) {
	retries := make(map[string]int)
	for _, key := range pctx.KeysWithPrefix("internal.retry_count.") {
		nodeID := key[len("internal.retry_count."):]
		if v := pctx.Get(key); v != nil {
			if n, ok := v.(int); ok {
				retries[nodeID] = n
			}
		}
	}
	cp := NewCheckpoint(pctx, currentNode, completed, retries, sourceHash)
	path := filepath.Join(artifactDir, "checkpoint.json")
	if err := cp.Save(path); err != nil {
		pctx.AppendLog(fmt.Sprintf("warning: failed to save checkpoint: %v", err))
		return
	}
	bus.Emit(EventCheckpointSaved, currentNode, nil)
}

// findFanInNode locates the parallel.fan_in node downstream of the given
// branch start nodes by following each branch's outgoing edges.
func findFanInNode(g *graph.Graph, branchIDs []string) *graph.Node {
	visited := make(map[string]bool)
	var queue []string
	queue = append(queue, branchIDs...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		node := g.FindNode(id)
		if node == nil {
			continue
		}
		for _, edge := range g.OutgoingEdges(id) {
			target := g.FindNode(edge.To)
			if target == nil {
				continue
			}
			handler := ShapeToHandlerType(target.Attrs["shape"])
			if target.Attrs["type"] == "parallel.fan_in" || handler == "parallel.fan_in" {
				return target
			}
			if !visited[edge.To] {
				queue = append(queue, edge.To)
			}
		}
	}
	return nil
}

// eventEmitter adapts an EventBus into the StageEventFunc callback shape
// executeNodeWithRetryEvents expects.
func eventEmitter(bus *EventBus) StageEventFunc {
	return func(kind string, nodeID string, data map[string]any) {
		bus.Emit(EventKind(kind), nodeID, data)
	}
}

// writeManifest writes manifest.json {name, goal, timestamp} at the run root.
func writeManifest(artifactDir string, g *graph.Graph) error {
	name := g.Attrs["label"]
	if name == "" {
		name = "pipeline"
	}
	manifest := struct {
		Name      string `json:"name"`
		Goal      string `json:"goal"`
		Timestamp string `json:"timestamp"`
	}{Name: name, Goal: g.Goal(), Timestamp: time.Now().UTC().Format(time.RFC3339)}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.MkdirAll(artifactDir, 0o755); err != nil {
		return fmt.Errorf("create run directory: %w", err)
	}
	return os.WriteFile(filepath.Join(artifactDir, "manifest.json"), data, 0o644)
}
