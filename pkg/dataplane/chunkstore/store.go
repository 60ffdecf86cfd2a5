// Package chunkstore provides content-addressed blob storage on a local
// filesystem.
//
// Each chunk is stored at <root>/<hash[0:2]>/<hash>; the two-character prefix
// directory bounds per-directory fan-out to 256 entries. Chunks are immutable
// and writes are idempotent: a chunk that already exists is never rewritten.
package chunkstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrChunkNotFound is returned by Read for a hash with no stored chunk.
var ErrChunkNotFound = errors.New("chunk not found")

// Config holds configuration for the chunk store.
type Config struct {
	// Root is the blob root directory. Created if missing.
	Root string

	// DirMode is the permission mode for created directories. Default: 0755.
	DirMode os.FileMode

	// FileMode is the permission mode for created chunk files. Default: 0644.
	FileMode os.FileMode
}

// Store is a filesystem-backed content-addressed chunk store. It is safe for
// concurrent use: each writer stages into its own temporary file, so even
// concurrent writers of the same hash each complete an atomic rename.
type Store struct {
	root     string
	dirMode  os.FileMode
	fileMode os.FileMode
}

// New creates a chunk store rooted at cfg.Root, creating the directory if
// needed.
func New(cfg Config) (*Store, error) {
	if cfg.Root == "" {
		return nil, errors.New("chunk store root is required")
	}
	if cfg.DirMode == 0 {
		cfg.DirMode = 0755
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0644
	}

	if err := os.MkdirAll(cfg.Root, cfg.DirMode); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	info, err := os.Stat(cfg.Root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("blob root is not a directory")
	}

	return &Store{
		root:     cfg.Root,
		dirMode:  cfg.DirMode,
		fileMode: cfg.FileMode,
	}, nil
}

// NewWithRoot creates a chunk store with default permissions.
func NewWithRoot(root string) (*Store, error) {
	return New(Config{Root: root})
}

// path returns the filesystem path for a chunk hash.
func (s *Store) path(hash string) string {
	return filepath.Join(s.root, hash[:2], hash)
}

// Exists reports whether a chunk with the given hash is stored.
func (s *Store) Exists(hash string) bool {
	info, err := os.Stat(s.path(hash))
	return err == nil && info.Mode().IsRegular()
}

// Read returns the bytes of a stored chunk, or ErrChunkNotFound.
func (s *Store) Read(hash string) ([]byte, error) {
	data, err := os.ReadFile(s.path(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrChunkNotFound
		}
		return nil, err
	}
	return data, nil
}

// Write stores a chunk under its hash. Either the complete file becomes
// visible or nothing does: bytes go to a private temporary file in the same
// directory first, then an atomic rename moves them into place. Writing a
// hash that already exists is a no-op.
func (s *Store) Write(hash string, data []byte) error {
	path := s.path(hash)

	if s.Exists(hash) {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), s.dirMode); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), hash+".tmp-")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(s.fileMode); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Root returns the blob root directory.
func (s *Store) Root() string {
	return s.root
}
