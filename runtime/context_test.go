// ABOUTME: Tests for the thread-safe Context store: defaults, snapshot/clone independence, logs.
package runtime

import "testing"

func TestContext_GetDefaults(t *testing.T) {
	c := NewContext()
	if got := c.GetString("missing", "fallback"); got != "fallback" {
		t.Errorf("expected fallback for missing key, got %q", got)
	}
	if got := c.GetBool("missing", true); !got {
		t.Error("expected default true for missing bool key")
	}
	if c.Get("missing") != nil {
		t.Error("expected nil for missing raw key")
	}
}

func TestContext_SetAndDelete(t *testing.T) {
	c := NewContext()
	c.Set("k", "v")
	if got := c.GetString("k", ""); got != "v" {
		t.Errorf("expected %q, got %q", "v", got)
	}
	c.Delete("k")
	if got := c.GetString("k", "gone"); got != "gone" {
		t.Errorf("expected deleted key to fall back to default, got %q", got)
	}
}

func TestContext_SnapshotIsIndependent(t *testing.T) {
	c := NewContext()
	c.Set("k", "v")
	snap := c.Snapshot()
	snap["k"] = "mutated"
	snap["extra"] = "new"
	if got := c.GetString("k", ""); got != "v" {
		t.Errorf("mutating a snapshot must not affect the source context, got %q", got)
	}
	if c.Get("extra") != nil {
		t.Error("adding a key to a snapshot must not affect the source context")
	}
}

func TestContext_CloneIsIndependent(t *testing.T) {
	c := NewContext()
	c.Set("k", "v")
	c.AppendLog("line one")

	clone := c.Clone()
	clone.Set("k", "changed")
	clone.AppendLog("line two")

	if got := c.GetString("k", ""); got != "v" {
		t.Errorf("mutating a clone must not affect the source, got %q", got)
	}
	if len(c.Logs()) != 1 {
		t.Errorf("expected source log to stay at 1 entry, got %d", len(c.Logs()))
	}
	if len(clone.Logs()) != 2 {
		t.Errorf("expected clone log to have 2 entries, got %d", len(clone.Logs()))
	}
}

func TestContext_ApplyUpdates(t *testing.T) {
	c := NewContext()
	c.Set("a", "1")
	c.ApplyUpdates(map[string]any{"a": "2", "b": "new"})
	if got := c.GetString("a", ""); got != "2" {
		t.Errorf("expected applyUpdates to overwrite existing key, got %q", got)
	}
	if got := c.GetString("b", ""); got != "new" {
		t.Errorf("expected applyUpdates to add new key, got %q", got)
	}
}

func TestContext_FromSnapshot(t *testing.T) {
	c := FromSnapshot(map[string]any{"x": "y"})
	if got := c.GetString("x", ""); got != "y" {
		t.Errorf("expected FromSnapshot to seed values, got %q", got)
	}
}

func TestContext_KeysWithPrefix(t *testing.T) {
	c := NewContext()
	c.Set("internal.retry_count.a", 1)
	c.Set("internal.retry_count.b", 2)
	c.Set("other", "x")
	keys := c.KeysWithPrefix("internal.retry_count.")
	if len(keys) != 2 {
		t.Fatalf("expected 2 matching keys, got %d (%v)", len(keys), keys)
	}
}
