// Package object implements manifest-driven object ingest and reassembly on
// top of the chunk store and the manifest store.
package object

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/replicator-dev/replicator/pkg/dataplane/chunkstore"
	"github.com/replicator-dev/replicator/pkg/dataplane/manifest"
)

// DefaultChunkSize is the ingest chunk size when the client does not override
// it (1 MiB).
const DefaultChunkSize = 1024 * 1024

// HashHex returns the lowercase hex SHA-256 of data — the chunk identity
// function for the whole system.
func HashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// MissingChunkError reports a manifest referencing a chunk the store cannot
// read. This is a broken invariant on the node, not a client error.
type MissingChunkError struct {
	ObjectID string
	Hash     string
}

func (e *MissingChunkError) Error() string {
	return fmt.Sprintf("object %q references missing chunk %s", e.ObjectID, e.Hash)
}

// IngestResult summarizes a completed ingest.
type IngestResult struct {
	ObjectID  string
	SizeBytes int64
	ChunkSize int64
	Chunks    int
	// NewChunks counts chunks actually written (dedupe misses).
	NewChunks int
}

// Service couples the chunk store and manifest store of one node.
type Service struct {
	chunks    *chunkstore.Store
	manifests *manifest.Store
}

// NewService creates an object service over the given stores.
func NewService(chunks *chunkstore.Store, manifests *manifest.Store) *Service {
	return &Service{chunks: chunks, manifests: manifests}
}

// split cuts data into fixed-size chunks; the final chunk may be shorter.
// A nil result for empty data means a zero-chunk object.
func split(data []byte, chunkSize int64) [][]byte {
	var out [][]byte
	for off := int64(0); off < int64(len(data)); off += chunkSize {
		end := off + chunkSize
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		out = append(out, data[off:end])
	}
	return out
}

// Ingest splits data into chunkSize chunks, stores the ones not already
// present, and records the manifest. An existing manifest for the same object
// id is overwritten (last-writer-wins). Empty data produces a zero-chunk,
// zero-size manifest.
func (s *Service) Ingest(ctx context.Context, objectID string, data []byte, chunkSize int64) (*IngestResult, error) {
	if err := manifest.ValidateObjectID(objectID); err != nil {
		return nil, err
	}
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk_size must be > 0, got %d", chunkSize)
	}

	hashes := []string{}
	newChunks := 0
	for _, chunk := range split(data, chunkSize) {
		h := HashHex(chunk)
		hashes = append(hashes, h)
		if s.chunks.Exists(h) {
			continue
		}
		if err := s.chunks.Write(h, chunk); err != nil {
			return nil, fmt.Errorf("failed to store chunk %s: %w", h, err)
		}
		newChunks++
	}

	m := &manifest.Manifest{
		ObjectID:  objectID,
		SizeBytes: int64(len(data)),
		ChunkSize: chunkSize,
		Chunks:    hashes,
	}
	if err := s.manifests.Upsert(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to record manifest: %w", err)
	}

	return &IngestResult{
		ObjectID:  objectID,
		SizeBytes: m.SizeBytes,
		ChunkSize: chunkSize,
		Chunks:    len(hashes),
		NewChunks: newChunks,
	}, nil
}

// Download reassembles an object by concatenating its manifest's chunks in
// order. A missing chunk yields a *MissingChunkError.
func (s *Service) Download(ctx context.Context, objectID string) ([]byte, error) {
	m, err := s.manifests.Get(ctx, objectID)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(int(m.SizeBytes))
	for _, h := range m.Chunks {
		chunk, err := s.chunks.Read(h)
		if err != nil {
			if err == chunkstore.ErrChunkNotFound {
				return nil, &MissingChunkError{ObjectID: objectID, Hash: h}
			}
			return nil, err
		}
		buf.Write(chunk)
	}
	return buf.Bytes(), nil
}

// GetManifest returns the stored manifest for objectID.
func (s *Service) GetManifest(ctx context.Context, objectID string) (*manifest.Manifest, error) {
	if err := manifest.ValidateObjectID(objectID); err != nil {
		return nil, err
	}
	return s.manifests.Get(ctx, objectID)
}

// PutManifest installs a manifest received over the wire, overwriting any
// existing one for the same object id.
func (s *Service) PutManifest(ctx context.Context, m *manifest.Manifest) error {
	return s.manifests.Upsert(ctx, m)
}
