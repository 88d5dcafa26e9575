// ABOUTME: Retry policy: per-node max-attempts plus exponential-backoff-with-jitter delay calculation.
// ABOUTME: Jitter is bounded to at most 20% of the computed delay, per the spec this supersedes the teacher's full-range jitter.
package runtime

import (
	"math"
	"math/rand"
	"time"

	"github.com/pipecraft/pipecraft/graph"
)

// RetryPolicy controls how many times a node execution is retried.
type RetryPolicy struct {
	MaxAttempts int // minimum 1 (1 = no retries)
	Backoff     BackoffConfig
	ShouldRetry func(error) bool
}

// BackoffConfig controls delay timing between retry attempts.
type BackoffConfig struct {
	InitialDelay time.Duration
	Factor       float64
	MaxDelay     time.Duration
	Jitter       bool
}

// DelayForAttempt returns the delay before the given 0-indexed attempt:
// InitialDelay * Factor^attempt, capped at MaxDelay, then jittered by up to
// 20% of the computed delay (never more, per spec.md §4.5).
func (b BackoffConfig) DelayForAttempt(attempt int) time.Duration {
	baseNanos := float64(b.InitialDelay.Nanoseconds()) * math.Pow(b.Factor, float64(attempt))
	delayNanos := math.Min(baseNanos, float64(b.MaxDelay.Nanoseconds()))
	if b.Jitter {
		jitterRange := delayNanos * 0.20
		delayNanos = delayNanos - jitterRange + rand.Float64()*2*jitterRange
		if delayNanos < 0 {
			delayNanos = 0
		}
	}
	return time.Duration(int64(delayNanos))
}

// RetryPolicyStandard is the default retry policy: 5 attempts, exponential
// backoff starting at 200ms, capped at 60s, with jitter.
func RetryPolicyStandard() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		Backoff: BackoffConfig{
			InitialDelay: 200 * time.Millisecond,
			Factor:       2.0,
			MaxDelay:     60 * time.Second,
			Jitter:       true,
		},
		ShouldRetry: DefaultShouldRetry,
	}
}

// RetryPolicyNone performs a single attempt, no retries.
func RetryPolicyNone() RetryPolicy {
	p := RetryPolicyStandard()
	p.MaxAttempts = 1
	return p
}

// RetryPolicyAggressive makes 5 attempts with a higher initial delay.
func RetryPolicyAggressive() RetryPolicy {
	p := RetryPolicyStandard()
	p.Backoff.InitialDelay = 500 * time.Millisecond
	return p
}

// RetryPolicyLinear makes 3 attempts with constant delay (factor 1.0, no jitter).
func RetryPolicyLinear() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff: BackoffConfig{
			InitialDelay: 500 * time.Millisecond,
			Factor:       1.0,
			MaxDelay:     60 * time.Second,
			Jitter:       false,
		},
		ShouldRetry: DefaultShouldRetry,
	}
}

// RetryPolicyPatient makes 3 attempts with a long initial delay and steep backoff.
func RetryPolicyPatient() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff: BackoffConfig{
			InitialDelay: 2 * time.Second,
			Factor:       3.0,
			MaxDelay:     60 * time.Second,
			Jitter:       true,
		},
		ShouldRetry: DefaultShouldRetry,
	}
}

// NamedRetryPolicy resolves a retry policy preset by name, defaulting to standard.
func NamedRetryPolicy(name string) RetryPolicy {
	switch name {
	case "none":
		return RetryPolicyNone()
	case "aggressive":
		return RetryPolicyAggressive()
	case "linear":
		return RetryPolicyLinear()
	case "patient":
		return RetryPolicyPatient()
	default:
		return RetryPolicyStandard()
	}
}

// nonRetryableMarker lets callers mark a thrown error as non-retryable
// (authentication, validation, or other permanent faults).
type nonRetryableMarker struct{ error }

// NonRetryable wraps err so DefaultShouldRetry reports it as non-retryable.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return nonRetryableMarker{err}
}

func (n nonRetryableMarker) Unwrap() error { return n.error }

// DefaultShouldRetry retries any error except one wrapped with NonRetryable.
func DefaultShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	_, nonRetryable := err.(nonRetryableMarker)
	return !nonRetryable
}

// BuildRetryPolicy resolves a node's effective retry policy: node max_retries,
// then graph default_max_retry, then the provided default policy's attempt count.
func BuildRetryPolicy(node *graph.Node, g *graph.Graph, defaultPolicy RetryPolicy) RetryPolicy {
	policy := defaultPolicy
	if v, ok := node.Attrs["max_retries"]; ok && v != "" {
		policy.MaxAttempts = node.MaxRetries(defaultPolicy.MaxAttempts-1) + 1
		return policy
	}
	if v, ok := g.Attrs["default_max_retry"]; ok && v != "" {
		policy.MaxAttempts = g.DefaultMaxRetry() + 1
	}
	return policy
}

// ResolveNodeTimeout resolves a node's execution timeout: node timeout, then
// graph default_node_timeout, then configDefault.
func ResolveNodeTimeout(node *graph.Node, g *graph.Graph, configDefault time.Duration) time.Duration {
	if d := node.Timeout(); d > 0 {
		return d
	}
	if v, ok := g.Attrs["default_node_timeout"]; ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return configDefault
}

// CheckGoalGates verifies every visited goal_gate node recorded SUCCESS or
// PARTIAL_SUCCESS. Returns (true, nil) if all gates pass, else the first
// failing node.
func CheckGoalGates(g *graph.Graph, outcomes map[string]*Outcome) (bool, *graph.Node) {
	for _, id := range g.NodeIDs() {
		node := g.Nodes[id]
		if !node.GoalGate() {
			continue
		}
		outcome, visited := outcomes[node.ID]
		if !visited {
			continue
		}
		if outcome.Status != StatusSuccess && outcome.Status != StatusPartialSuccess {
			return false, node
		}
	}
	return true, nil
}

// GetRetryTarget resolves the retry-target node id: node retry_target, node
// fallback_retry_target, graph retry_target, graph fallback_retry_target.
func GetRetryTarget(node *graph.Node, g *graph.Graph) string {
	if v := node.Attrs["retry_target"]; v != "" {
		return v
	}
	if v := node.Attrs["fallback_retry_target"]; v != "" {
		return v
	}
	if v := g.Attrs["retry_target"]; v != "" {
		return v
	}
	return g.Attrs["fallback_retry_target"]
}
