// ABOUTME: Tests for ApplyFidelity: per-tag transformation rules and the idempotence law of spec.md §8.
package runtime

import "strings"

import "testing"

func TestApplyFidelity_Full(t *testing.T) {
	c := NewContext()
	c.Set("internal.secret", "hidden")
	c.Set("note", "visible")
	out, preamble := ApplyFidelity(c, FidelityFull, FidelityOptions{})
	if out.GetString("internal.secret", "") != "hidden" || out.GetString("note", "") != "visible" {
		t.Error("full fidelity must copy every key unchanged")
	}
	if preamble != "" {
		t.Error("full fidelity must not synthesize a preamble")
	}
}

func TestApplyFidelity_Truncate(t *testing.T) {
	c := NewContext()
	long := strings.Repeat("x", 1500)
	c.Set("body", long)
	c.Set("internal.keep", "kept")
	out, _ := ApplyFidelity(c, FidelityTruncate, FidelityOptions{})
	got := out.GetString("body", "")
	if len(got) != 1003 || !strings.HasSuffix(got, "...") {
		t.Errorf("expected truncated value of length 1003 ending in '...', got len=%d", len(got))
	}
	if out.GetString("internal.keep", "") != "kept" {
		t.Error("truncate must retain internal.* keys")
	}
}

func TestApplyFidelity_Compact(t *testing.T) {
	c := NewContext()
	c.Set("internal.keep", "dropped")
	c.Set("note", "kept")
	out, _ := ApplyFidelity(c, FidelityCompact, FidelityOptions{})
	if out.Get("internal.keep") != nil {
		t.Error("compact must drop internal.* keys")
	}
	if out.GetString("note", "") != "kept" {
		t.Error("compact must retain non-internal keys")
	}
}

func TestApplyFidelity_SummaryLow(t *testing.T) {
	c := NewContext()
	c.Set("a", "anything")
	c.Set("b", 42)
	out, _ := ApplyFidelity(c, FidelitySummaryLow, FidelityOptions{})
	if out.GetString("a", "nope") != "" {
		t.Error("summary:low must blank every value")
	}
	if _, present := out.Snapshot()["b"]; !present {
		t.Error("summary:low must still list every key present")
	}
}

func TestApplyFidelity_SummaryMediumAndHigh(t *testing.T) {
	c := NewContext()
	c.Set("body", strings.Repeat("y", 200))

	medium, _ := ApplyFidelity(c, FidelitySummaryMedium, FidelityOptions{})
	if got := medium.GetString("body", ""); len(got) != 103 {
		t.Errorf("summary:medium should truncate at 100 chars, got len=%d", len(got))
	}

	high, _ := ApplyFidelity(c, FidelitySummaryHigh, FidelityOptions{})
	if got := high.GetString("body", ""); got != strings.Repeat("y", 200) {
		t.Error("summary:high should not truncate a 200-char value (threshold is 500)")
	}
}

func TestApplyFidelity_UnrecognizedTagBehavesAsFull(t *testing.T) {
	c := NewContext()
	c.Set("k", "v")
	out, _ := ApplyFidelity(c, FidelityMode("nonsense"), FidelityOptions{})
	if out.GetString("k", "") != "v" {
		t.Error("unrecognized fidelity tags must behave as full")
	}
}

func TestApplyFidelity_Idempotent(t *testing.T) {
	c := NewContext()
	c.Set("body", strings.Repeat("z", 2000))
	c.Set("internal.x", "y")

	for _, mode := range []FidelityMode{FidelityTruncate, FidelityCompact, FidelitySummaryLow, FidelitySummaryMedium, FidelitySummaryHigh} {
		once, _ := ApplyFidelity(c, mode, FidelityOptions{})
		twice, _ := ApplyFidelity(once, mode, FidelityOptions{})
		if !snapshotsEqual(once.Snapshot(), twice.Snapshot()) {
			t.Errorf("applyFidelity(applyFidelity(S, %s), %s) should equal applyFidelity(S, %s)", mode, mode, mode)
		}
	}
}

func snapshotsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func TestIsValidFidelity(t *testing.T) {
	if !IsValidFidelity("summary:medium") {
		t.Error("expected summary:medium to be a valid fidelity tag")
	}
	if IsValidFidelity("bogus") {
		t.Error("expected an unrecognized tag to be invalid")
	}
}
