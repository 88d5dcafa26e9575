// ABOUTME: Computes a content-addressable hash of pipeline graph source for resume-compatibility checks.
// ABOUTME: Uses SHA-256 with no normalization; any byte change produces a different hash.
package runtime

import (
	"crypto/sha256"
	"encoding/hex"
)

// SourceHash returns the lowercase hex-encoded SHA-256 hash of the raw graph
// source bytes, recorded in checkpoints so a resume can detect that the graph
// changed underneath it.
func SourceHash(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}
