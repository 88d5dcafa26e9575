// ABOUTME: Tests for checkpoint atomic save/load round-trip and status-file patching.
package runtime

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestCheckpoint_SaveLoadRoundTrip(t *testing.T) {
	pctx := NewContext()
	pctx.Set("language", "go")
	pctx.Set("retries", 3)
	pctx.AppendLog("started")

	cp := NewCheckpoint(pctx, "implement", []string{"start", "plan"}, map[string]int{"implement": 1}, "abc123")

	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint.json")
	if err := cp.Save(path); err != nil {
		t.Fatalf("save error: %v", err)
	}

	loaded, err := LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if loaded.CurrentNode != "implement" {
		t.Errorf("expected current_node %q, got %q", "implement", loaded.CurrentNode)
	}
	if len(loaded.CompletedNodes) != 2 || loaded.CompletedNodes[0] != "start" || loaded.CompletedNodes[1] != "plan" {
		t.Errorf("expected completed nodes [start plan], got %v", loaded.CompletedNodes)
	}
	if loaded.NodeRetries["implement"] != 1 {
		t.Errorf("expected node_retries[implement]=1, got %v", loaded.NodeRetries)
	}
	if loaded.SourceHash != "abc123" {
		t.Errorf("expected source hash to round-trip, got %q", loaded.SourceHash)
	}
	// JSON round-trips numeric values as float64; the caller is responsible
	// for re-coercing into the type it expects.
	if got, ok := loaded.ContextValues["retries"].(float64); !ok || got != 3 {
		t.Errorf("expected retries to round-trip as float64(3), got %#v", loaded.ContextValues["retries"])
	}
	if got := loaded.ContextValues["language"]; got != "go" {
		t.Errorf("expected language to round-trip as %q, got %#v", "go", got)
	}
	if len(loaded.Logs) != 1 || loaded.Logs[0] != "started" {
		t.Errorf("expected logs to round-trip, got %v", loaded.Logs)
	}
}

func TestCheckpoint_SaveIsAtomic_NoTempFileLeftBehind(t *testing.T) {
	pctx := NewContext()
	cp := NewCheckpoint(pctx, "start", nil, map[string]int{}, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint.json")
	if err := cp.Save(path); err != nil {
		t.Fatalf("save error: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir error: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "checkpoint.json" {
		t.Errorf("expected only the final checkpoint file to remain, got %v", entries)
	}
}

func TestLoadCheckpoint_MissingFile(t *testing.T) {
	if _, err := LoadCheckpoint(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected an error loading a nonexistent checkpoint file")
	}
}

func TestPatchStatusFile_CreatesAndUpdates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "status.json")

	if err := PatchStatusFile(path, "status", "running"); err != nil {
		t.Fatalf("patch error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	var first map[string]any
	if err := json.Unmarshal(data, &first); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if first["status"] != "running" {
		t.Errorf("expected status=running, got %v", first["status"])
	}

	if err := PatchStatusFile(path, "attempt", 2); err != nil {
		t.Fatalf("second patch error: %v", err)
	}
	data, err = os.ReadFile(path)
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	var second map[string]any
	if err := json.Unmarshal(data, &second); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if second["status"] != "running" {
		t.Error("expected the second patch to preserve the existing status field")
	}
	if second["attempt"] != float64(2) {
		t.Errorf("expected attempt=2, got %v", second["attempt"])
	}
}
