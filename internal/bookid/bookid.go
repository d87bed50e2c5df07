// Package bookid derives a deterministic book ID from a file path for books
// ingested from watched library directories.
package bookid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

const prefix = "book:"

// FromPath returns a stable book ID for the given absolute path. The same
// path always yields the same ID, so re-ingesting a changed file replaces its
// book instead of duplicating it.
func FromPath(absolutePath string) string {
	normalized := filepath.Clean(absolutePath)
	hash := sha256.Sum256([]byte(normalized))
	return prefix + hex.EncodeToString(hash[:16])
}
