// ABOUTME: Checkpoint serialization: {current node, completed list, context snapshot, retry counters}.
// ABOUTME: Save is atomic (write to a sibling temp file, fsync, rename) per spec.md §6.3.
package runtime

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/sjson"
)

// Checkpoint is a serializable snapshot of run state.
type Checkpoint struct {
	Timestamp      time.Time      `json:"timestamp"`
	CurrentNode    string         `json:"current_node"`
	CompletedNodes []string       `json:"completed_nodes"`
	NodeRetries    map[string]int `json:"node_retries"`
	ContextValues  map[string]any `json:"context_values"`
	Logs           []string       `json:"logs"`
	SourceHash     string         `json:"source_hash,omitempty"`
}

// NewCheckpoint builds a Checkpoint from the current run state.
func NewCheckpoint(pctx *Context, currentNode string, completed []string, nodeRetries map[string]int, sourceHash string) *Checkpoint {
	return &Checkpoint{
		Timestamp:      time.Now(),
		CurrentNode:    currentNode,
		CompletedNodes: append([]string(nil), completed...),
		NodeRetries:    nodeRetries,
		ContextValues:  pctx.Snapshot(),
		Logs:           pctx.Logs(),
		SourceHash:     sourceHash,
	}
}

// Save serializes the checkpoint to path atomically: it is written to a
// sibling temp file, fsynced, then renamed into place so a reader never
// observes a partially-written checkpoint.
func (cp *Checkpoint) Save(path string) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	return writeAtomic(path, data)
}

// writeAtomic writes data to path via a sibling ".tmp" file, fsync, and rename.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp checkpoint file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsync temp checkpoint file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp checkpoint file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename checkpoint into place: %w", err)
	}
	return nil
}

// LoadCheckpoint deserializes a checkpoint from path.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint %s: %w", path, err)
	}
	return &cp, nil
}

// PatchStatusFile applies a single-field update to a node's status.json
// artifact without a full struct re-marshal, building on the existing file
// contents (or an empty object) via sjson.
func PatchStatusFile(path, key string, value any) error {
	existing := "{}"
	if data, err := os.ReadFile(path); err == nil {
		existing = string(data)
	}
	patched, err := sjson.Set(existing, key, value)
	if err != nil {
		return fmt.Errorf("patch status field %q: %w", key, err)
	}
	return writeAtomic(path, []byte(patched))
}
