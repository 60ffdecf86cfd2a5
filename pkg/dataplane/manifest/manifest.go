// Package manifest persists per-object manifests on a data-plane node.
//
// A manifest is the ordered list of chunk hashes composing an object plus
// size metadata. Manifests are keyed by object id; writes are
// last-writer-wins with no version check.
package manifest

import (
	"errors"
	"fmt"
)

// ErrObjectNotFound is returned when no manifest exists for an object id.
var ErrObjectNotFound = errors.New("object not found")

// MaxObjectIDLength bounds object ids on every surface that accepts one.
const MaxObjectIDLength = 256

// Manifest describes how an object is assembled from chunks.
type Manifest struct {
	ObjectID  string   `json:"object_id"`
	SizeBytes int64    `json:"size_bytes"`
	ChunkSize int64    `json:"chunk_size"`
	Chunks    []string `json:"chunks"`
}

// ValidateObjectID checks the 1..256 character bound.
func ValidateObjectID(id string) error {
	if id == "" || len(id) > MaxObjectIDLength {
		return fmt.Errorf("invalid object_id: length must be 1..%d", MaxObjectIDLength)
	}
	return nil
}
