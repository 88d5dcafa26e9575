// ABOUTME: Tests for join-policy evaluation across wait_all/first_success/k_of_n/quorum.
package runtime

import (
	"errors"
	"strings"
	"testing"
)

func outcomeOf(status StageStatus) *Outcome {
	return &Outcome{Status: status}
}

func TestParallelGroupConfigFromContext_Defaults(t *testing.T) {
	pctx := NewContext()
	cfg := ParallelGroupConfigFromContext(pctx)
	if cfg.MaxParallel != 4 || cfg.JoinPolicy != "wait_all" || cfg.ErrorPolicy != "continue" || cfg.JoinK != 1 || cfg.JoinQuorum != 0.5 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestParallelGroupConfigFromContext_Overrides(t *testing.T) {
	pctx := NewContext()
	pctx.Set("parallel.join_policy", "k_of_n")
	pctx.Set("parallel.error_policy", "fail_fast")
	pctx.Set("parallel.max_parallel", 8)
	pctx.Set("parallel.join_k", "3")
	pctx.Set("parallel.join_quorum", "0.75")
	cfg := ParallelGroupConfigFromContext(pctx)
	if cfg.MaxParallel != 8 || cfg.JoinPolicy != "k_of_n" || cfg.ErrorPolicy != "fail_fast" || cfg.JoinK != 3 || cfg.JoinQuorum != 0.75 {
		t.Errorf("unexpected overridden config: %+v", cfg)
	}
}

func TestEvaluateJoinPolicy_WaitAllAllSucceed(t *testing.T) {
	cfg := ParallelGroupConfig{JoinPolicy: "wait_all", ErrorPolicy: "continue"}
	results := []parallelBranchOutcome{
		{BranchID: "a", Outcome: outcomeOf(StatusSuccess)},
		{BranchID: "b", Outcome: outcomeOf(StatusSuccess)},
	}
	outcome, payload := EvaluateJoinPolicy(cfg, results)
	if outcome.Status != StatusSuccess {
		t.Errorf("expected SUCCESS when all branches succeed, got %v", outcome.Status)
	}
	if !strings.Contains(payload, `"branch_id":"a"`) {
		t.Errorf("expected payload to include branch a, got %s", payload)
	}
}

func TestEvaluateJoinPolicy_WaitAllPartialSuccess(t *testing.T) {
	cfg := ParallelGroupConfig{JoinPolicy: "wait_all", ErrorPolicy: "continue"}
	results := []parallelBranchOutcome{
		{BranchID: "a", Outcome: outcomeOf(StatusSuccess)},
		{BranchID: "b", Outcome: outcomeOf(StatusFail)},
	}
	outcome, _ := EvaluateJoinPolicy(cfg, results)
	if outcome.Status != StatusPartialSuccess {
		t.Errorf("expected PARTIAL_SUCCESS when some branches fail under wait_all, got %v", outcome.Status)
	}
}

func TestEvaluateJoinPolicy_FirstSuccess(t *testing.T) {
	cfg := ParallelGroupConfig{JoinPolicy: "first_success", ErrorPolicy: "continue"}
	results := []parallelBranchOutcome{
		{BranchID: "a", Outcome: outcomeOf(StatusFail)},
		{BranchID: "b", Outcome: outcomeOf(StatusSuccess)},
	}
	outcome, _ := EvaluateJoinPolicy(cfg, results)
	if outcome.Status != StatusSuccess {
		t.Errorf("expected SUCCESS when any branch succeeds under first_success, got %v", outcome.Status)
	}

	allFail := []parallelBranchOutcome{
		{BranchID: "a", Outcome: outcomeOf(StatusFail)},
		{BranchID: "b", Err: errors.New("boom")},
	}
	outcome, _ = EvaluateJoinPolicy(cfg, allFail)
	if outcome.Status != StatusFail {
		t.Errorf("expected FAIL when no branch succeeds under first_success, got %v", outcome.Status)
	}
}

func TestEvaluateJoinPolicy_KOfN(t *testing.T) {
	cfg := ParallelGroupConfig{JoinPolicy: "k_of_n", ErrorPolicy: "continue", JoinK: 2}
	results := []parallelBranchOutcome{
		{BranchID: "a", Outcome: outcomeOf(StatusSuccess)},
		{BranchID: "b", Outcome: outcomeOf(StatusSuccess)},
		{BranchID: "c", Outcome: outcomeOf(StatusFail)},
	}
	outcome, _ := EvaluateJoinPolicy(cfg, results)
	if outcome.Status != StatusSuccess {
		t.Errorf("expected SUCCESS with 2/3 meeting k=2, got %v", outcome.Status)
	}

	cfg.JoinK = 3
	outcome, _ = EvaluateJoinPolicy(cfg, results)
	if outcome.Status != StatusFail {
		t.Errorf("expected FAIL with 2/3 not meeting k=3, got %v", outcome.Status)
	}
}

func TestEvaluateJoinPolicy_Quorum(t *testing.T) {
	cfg := ParallelGroupConfig{JoinPolicy: "quorum", ErrorPolicy: "continue", JoinQuorum: 0.5}
	results := []parallelBranchOutcome{
		{BranchID: "a", Outcome: outcomeOf(StatusSuccess)},
		{BranchID: "b", Outcome: outcomeOf(StatusFail)},
	}
	outcome, _ := EvaluateJoinPolicy(cfg, results)
	if outcome.Status != StatusSuccess {
		t.Errorf("expected SUCCESS meeting a 50%% quorum with 1/2, got %v", outcome.Status)
	}

	cfg.JoinQuorum = 0.75
	outcome, _ = EvaluateJoinPolicy(cfg, results)
	if outcome.Status != StatusFail {
		t.Errorf("expected FAIL when 1/2 does not meet a 75%% quorum, got %v", outcome.Status)
	}
}

func TestEvaluateJoinPolicy_ErrorPolicyIgnoreExcludesFailures(t *testing.T) {
	cfg := ParallelGroupConfig{JoinPolicy: "wait_all", ErrorPolicy: "ignore"}
	results := []parallelBranchOutcome{
		{BranchID: "a", Outcome: outcomeOf(StatusSuccess)},
		{BranchID: "b", Outcome: outcomeOf(StatusFail)},
	}
	outcome, _ := EvaluateJoinPolicy(cfg, results)
	if outcome.Status != StatusSuccess {
		t.Errorf("expected ignored failures to be excluded from the wait_all denominator, got %v", outcome.Status)
	}
}

func TestEvaluateJoinPolicy_CancelledBranchCountsAsFailure(t *testing.T) {
	cfg := ParallelGroupConfig{JoinPolicy: "wait_all", ErrorPolicy: "fail_fast"}
	results := []parallelBranchOutcome{
		{BranchID: "a", Outcome: outcomeOf(StatusFail)},
		{BranchID: "b", Cancel: true, Err: errors.New("context canceled")},
	}
	outcome, payload := EvaluateJoinPolicy(cfg, results)
	if outcome.Status != StatusPartialSuccess && outcome.Status != StatusFail {
		t.Errorf("expected a non-success status when a branch is cancelled, got %v", outcome.Status)
	}
	if !strings.Contains(payload, "cancelled due to fail_fast") {
		t.Errorf("expected payload to note the cancellation reason, got %s", payload)
	}
}
