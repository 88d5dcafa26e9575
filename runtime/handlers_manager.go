// ABOUTME: Handler for stack-manager nodes (house shape). Cyclically observes and steers a supervised child.
// ABOUTME: Unlike a simple handler, this one owns its own control loop: it sleeps, re-observes, and re-evaluates until the child settles or max_cycles is exhausted.
package runtime

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/pipecraft/pipecraft/graph"
)

const (
	defaultManagerMaxCycles    = 1000
	defaultManagerPollInterval = 45 * time.Second
	defaultManagerStallTimeout = 15 * time.Minute
)

// ManagerLoopHandler runs the observe/steer/wait cycle described by a
// stack.manager_loop node until the supervised child reports completion or
// failure, a stop_condition is satisfied, or max_cycles is exhausted.
type ManagerLoopHandler struct {
	Observer Observer
}

func (h *ManagerLoopHandler) Type() string { return "stack.manager_loop" }

func (h *ManagerLoopHandler) Execute(ctx context.Context, node *graph.Node, pctx *Context, store *ArtifactStore) (*Outcome, error) {
	attrs := node.Attrs

	maxCycles := defaultManagerMaxCycles
	if v := attrs["manager.max_cycles"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxCycles = n
		}
	}
	pollInterval := defaultManagerPollInterval
	if v := attrs["manager.poll_interval"]; v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			pollInterval = d
		}
	}
	steerCooldown := pollInterval
	if v := attrs["manager.steer_cooldown_ms"]; v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			steerCooldown = time.Duration(ms) * time.Millisecond
		}
	}
	actionList := attrs["manager.actions"]
	if actionList == "" {
		actionList = "observe,wait"
	}
	actions := map[string]bool{}
	for _, a := range strings.Split(actionList, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			actions[a] = true
		}
	}
	stopCondition := attrs["manager.stop_condition"]
	stallTimeout := defaultManagerStallTimeout
	if v := attrs["manager.stall_timeout"]; v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			stallTimeout = d
		}
	}

	observer := h.Observer
	if observer == nil {
		observer = NoopObserver{}
	}

	var lastSteer time.Time
	var lastStatus string
	lastChange := time.Now()

	for cycle := 1; cycle <= maxCycles; cycle++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pctx.Set("manager.current_cycle", cycle)

		var childStatus ChildStatus
		if actions["observe"] {
			status, err := observer.Observe(ctx)
			if err != nil {
				return &Outcome{Status: StatusFail, FailureReason: "observe failed: " + err.Error()}, nil
			}
			childStatus = status
			pctx.Set("stack.child.status", childStatus.Status)
			pctx.Set("stack.child.outcome", childStatus.Outcome)
			for k, v := range childStatus.Telemetry {
				pctx.Set("stack.child.telemetry."+k, v)
			}

			if childStatus.Status != lastStatus {
				lastStatus = childStatus.Status
				lastChange = time.Now()
				pctx.Set("stack.child.stalled", false)
			} else if time.Since(lastChange) >= stallTimeout {
				pctx.Set("stack.child.stalled", true)
			}
		}

		if actions["steer"] && time.Since(lastSteer) >= steerCooldown {
			if err := observer.Steer(ctx, pctx); err != nil {
				pctx.AppendLog("manager steer failed on cycle " + strconv.Itoa(cycle) + ": " + err.Error())
			}
			lastSteer = time.Now()
		}

		if childStatus.Status == "completed" && childStatus.Outcome == "success" {
			return &Outcome{Status: StatusSuccess, Notes: "manager loop observed child success at cycle " + strconv.Itoa(cycle)}, nil
		}
		if childStatus.Status == "failed" {
			return &Outcome{Status: StatusFail, FailureReason: "manager loop observed child failure at cycle " + strconv.Itoa(cycle)}, nil
		}

		if stopCondition != "" && EvaluateCondition(stopCondition, nil, pctx) {
			return &Outcome{Status: StatusSuccess, Notes: "manager loop stop_condition satisfied at cycle " + strconv.Itoa(cycle)}, nil
		}

		if actions["wait"] && cycle < maxCycles {
			sleepWithContext(ctx, pollInterval)
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}

	return &Outcome{Status: StatusFail, FailureReason: "manager loop exhausted max_cycles without child completion"}, nil
}
