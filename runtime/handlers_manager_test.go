// ABOUTME: Tests for the stack.manager_loop handler's observe/steer/wait cycle,
// ABOUTME: stop_condition evaluation, max_cycles exhaustion, and stall annotation.
package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/pipecraft/pipecraft/graph"
)

type scriptedObserver struct {
	statuses []ChildStatus
	idx      int
	steered  int
	err      error
}

func (o *scriptedObserver) Observe(ctx context.Context) (ChildStatus, error) {
	if o.err != nil {
		return ChildStatus{}, o.err
	}
	if o.idx >= len(o.statuses) {
		return o.statuses[len(o.statuses)-1], nil
	}
	s := o.statuses[o.idx]
	o.idx++
	return s, nil
}

func (o *scriptedObserver) Steer(ctx context.Context, pctx *Context) error {
	o.steered++
	return nil
}

func managerNode(attrs map[string]string) *graph.Node {
	return &graph.Node{ID: "manager", Attrs: attrs}
}

func TestManagerLoopHandler_SuccessOnChildCompletion(t *testing.T) {
	h := &ManagerLoopHandler{Observer: &scriptedObserver{
		statuses: []ChildStatus{{Status: "running"}, {Status: "completed", Outcome: "success"}},
	}}
	node := managerNode(map[string]string{"manager.actions": "observe"})
	pctx := NewContext()
	outcome, err := h.Execute(context.Background(), node, pctx, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusSuccess {
		t.Fatalf("expected SUCCESS, got %v", outcome.Status)
	}
	if cycle, _ := pctx.Get("manager.current_cycle").(int); cycle != 2 {
		t.Errorf("expected to settle on cycle 2, got %v", pctx.Get("manager.current_cycle"))
	}
}

func TestManagerLoopHandler_FailOnChildFailure(t *testing.T) {
	h := &ManagerLoopHandler{Observer: &scriptedObserver{
		statuses: []ChildStatus{{Status: "failed"}},
	}}
	node := managerNode(map[string]string{"manager.actions": "observe"})
	outcome, err := h.Execute(context.Background(), node, NewContext(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusFail {
		t.Fatalf("expected FAIL, got %v", outcome.Status)
	}
}

func TestManagerLoopHandler_ObserveErrorFails(t *testing.T) {
	h := &ManagerLoopHandler{Observer: &scriptedObserver{err: errors.New("boom")}}
	node := managerNode(map[string]string{"manager.actions": "observe"})
	outcome, err := h.Execute(context.Background(), node, NewContext(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusFail || outcome.FailureReason == "" {
		t.Fatalf("expected FAIL with a reason, got %+v", outcome)
	}
}

func TestManagerLoopHandler_StopConditionSatisfied(t *testing.T) {
	h := &ManagerLoopHandler{Observer: &scriptedObserver{
		statuses: []ChildStatus{{Status: "running"}},
	}}
	node := managerNode(map[string]string{
		"manager.actions":        "observe",
		"manager.stop_condition": "context.ready = true",
	})
	pctx := NewContext()
	pctx.Set("ready", "true")
	outcome, err := h.Execute(context.Background(), node, pctx, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusSuccess {
		t.Fatalf("expected SUCCESS on satisfied stop_condition, got %v", outcome.Status)
	}
}

func TestManagerLoopHandler_MaxCyclesExhausted(t *testing.T) {
	h := &ManagerLoopHandler{Observer: &scriptedObserver{
		statuses: []ChildStatus{{Status: "running"}},
	}}
	node := managerNode(map[string]string{
		"manager.actions":    "observe",
		"manager.max_cycles": "3",
	})
	outcome, err := h.Execute(context.Background(), node, NewContext(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusFail {
		t.Fatalf("expected FAIL on max_cycles exhaustion, got %v", outcome.Status)
	}
}

func TestManagerLoopHandler_StallAnnotation(t *testing.T) {
	statuses := make([]ChildStatus, 0, 5)
	for i := 0; i < 5; i++ {
		statuses = append(statuses, ChildStatus{Status: "running"})
	}
	h := &ManagerLoopHandler{Observer: &scriptedObserver{statuses: statuses}}
	node := managerNode(map[string]string{
		"manager.actions":       "observe",
		"manager.max_cycles":    "5",
		"manager.stall_timeout": "1ns",
	})
	pctx := NewContext()
	_, err := h.Execute(context.Background(), node, pctx, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pctx.GetBool("stack.child.stalled", false) {
		t.Error("expected stack.child.stalled=true once status stops changing past the stall timeout")
	}
}

func TestManagerLoopHandler_SteerCalledWhenEnabled(t *testing.T) {
	obs := &scriptedObserver{statuses: []ChildStatus{{Status: "completed", Outcome: "success"}}}
	h := &ManagerLoopHandler{Observer: obs}
	node := managerNode(map[string]string{
		"manager.actions":           "observe,steer",
		"manager.steer_cooldown_ms": "0",
	})
	if _, err := h.Execute(context.Background(), node, NewContext(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obs.steered == 0 {
		t.Error("expected Steer to be called when \"steer\" is in manager.actions")
	}
}
