// ABOUTME: Tests for retry presets, backoff/jitter bounds, goal-gate checks, and retry-target resolution.
package runtime

import (
	"errors"
	"testing"
	"time"
)

func TestBackoffConfig_DelayForAttempt_ExponentialGrowth(t *testing.T) {
	b := BackoffConfig{InitialDelay: 100 * time.Millisecond, Factor: 2.0, MaxDelay: time.Hour, Jitter: false}
	if got := b.DelayForAttempt(0); got != 100*time.Millisecond {
		t.Errorf("expected 100ms for attempt 0, got %v", got)
	}
	if got := b.DelayForAttempt(1); got != 200*time.Millisecond {
		t.Errorf("expected 200ms for attempt 1, got %v", got)
	}
	if got := b.DelayForAttempt(2); got != 400*time.Millisecond {
		t.Errorf("expected 400ms for attempt 2, got %v", got)
	}
}

func TestBackoffConfig_DelayForAttempt_CappedAtMax(t *testing.T) {
	b := BackoffConfig{InitialDelay: time.Second, Factor: 10.0, MaxDelay: 5 * time.Second, Jitter: false}
	if got := b.DelayForAttempt(5); got != 5*time.Second {
		t.Errorf("expected delay capped at 5s, got %v", got)
	}
}

func TestBackoffConfig_DelayForAttempt_JitterWithinTwentyPercent(t *testing.T) {
	b := BackoffConfig{InitialDelay: time.Second, Factor: 1.0, MaxDelay: time.Minute, Jitter: true}
	base := time.Second
	low := time.Duration(float64(base) * 0.80)
	high := time.Duration(float64(base) * 1.20)
	for i := 0; i < 50; i++ {
		got := b.DelayForAttempt(0)
		if got < low || got > high {
			t.Fatalf("jittered delay %v outside +/-20%% band [%v, %v]", got, low, high)
		}
	}
}

func TestNamedRetryPolicy_Presets(t *testing.T) {
	cases := map[string]int{
		"none":       1,
		"standard":   5,
		"aggressive": 5,
		"linear":     3,
		"patient":    3,
		"unknown":    5,
	}
	for name, wantAttempts := range cases {
		p := NamedRetryPolicy(name)
		if p.MaxAttempts != wantAttempts {
			t.Errorf("preset %q: expected MaxAttempts=%d, got %d", name, wantAttempts, p.MaxAttempts)
		}
	}
}

func TestDefaultShouldRetry(t *testing.T) {
	if DefaultShouldRetry(nil) {
		t.Error("expected nil error to not be retryable")
	}
	if !DefaultShouldRetry(errors.New("transient")) {
		t.Error("expected a plain error to be retryable")
	}
	if DefaultShouldRetry(NonRetryable(errors.New("permanent"))) {
		t.Error("expected a NonRetryable-wrapped error to not be retryable")
	}
}

func TestBuildRetryPolicy_NodeOverridesGraphDefault(t *testing.T) {
	g := mustParseGraph(t, `
digraph x {
  default_max_retry = 2
  a [shape=box, max_retries=7]
}`)
	node := g.FindNode("a")
	policy := BuildRetryPolicy(node, g, RetryPolicyStandard())
	if policy.MaxAttempts != 8 {
		t.Errorf("expected node max_retries=7 to yield 8 attempts, got %d", policy.MaxAttempts)
	}
}

func TestBuildRetryPolicy_FallsBackToGraphDefault(t *testing.T) {
	g := mustParseGraph(t, `
digraph x {
  default_max_retry = 4
  a [shape=box]
}`)
	node := g.FindNode("a")
	policy := BuildRetryPolicy(node, g, RetryPolicyStandard())
	if policy.MaxAttempts != 5 {
		t.Errorf("expected graph default_max_retry=4 to yield 5 attempts, got %d", policy.MaxAttempts)
	}
}

func TestResolveNodeTimeout(t *testing.T) {
	g := mustParseGraph(t, `
digraph x {
  default_node_timeout = "30s"
  a [shape=box, timeout="5s"]
  b [shape=box]
}`)
	if got := ResolveNodeTimeout(g.FindNode("a"), g, time.Minute); got != 5*time.Second {
		t.Errorf("expected node timeout to win, got %v", got)
	}
	if got := ResolveNodeTimeout(g.FindNode("b"), g, time.Minute); got != 30*time.Second {
		t.Errorf("expected graph default_node_timeout to apply, got %v", got)
	}
}

func TestCheckGoalGates(t *testing.T) {
	g := mustParseGraph(t, `
digraph x {
  a [shape=box, goal_gate=true]
  b [shape=box]
}`)
	outcomes := map[string]*Outcome{
		"a": {Status: StatusSuccess},
	}
	ok, failing := CheckGoalGates(g, outcomes)
	if !ok || failing != nil {
		t.Errorf("expected goal gate satisfied by SUCCESS, got ok=%v failing=%v", ok, failing)
	}

	outcomes["a"] = &Outcome{Status: StatusFail}
	ok, failing = CheckGoalGates(g, outcomes)
	if ok || failing == nil || failing.ID != "a" {
		t.Errorf("expected goal gate failure to report node a, got ok=%v failing=%v", ok, failing)
	}
}

func TestCheckGoalGates_UnvisitedGateIsIgnored(t *testing.T) {
	g := mustParseGraph(t, `
digraph x {
  a [shape=box, goal_gate=true]
}`)
	ok, failing := CheckGoalGates(g, map[string]*Outcome{})
	if !ok || failing != nil {
		t.Errorf("expected an unvisited goal gate to not block, got ok=%v failing=%v", ok, failing)
	}
}

func TestGetRetryTarget(t *testing.T) {
	g := mustParseGraph(t, `
digraph x {
  retry_target = "graph_level"
  a [shape=box, retry_target="node_level"]
  b [shape=box]
}`)
	if got := GetRetryTarget(g.FindNode("a"), g); got != "node_level" {
		t.Errorf("expected node-level retry_target to win, got %q", got)
	}
	if got := GetRetryTarget(g.FindNode("b"), g); got != "graph_level" {
		t.Errorf("expected fallback to graph-level retry_target, got %q", got)
	}
}
