package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// objectManifest is the persistence model. The chunk list is serialized to a
// JSON text column; the raw column is never exposed outside this package.
type objectManifest struct {
	ObjectID   string `gorm:"primaryKey;size:256;column:object_id"`
	SizeBytes  int64  `gorm:"not null"`
	ChunkSize  int64  `gorm:"not null"`
	ChunksJSON string `gorm:"type:text;not null;column:chunks_json"`
}

// TableName matches the original schema.
func (objectManifest) TableName() string { return "object_manifests" }

// Store is the GORM-backed manifest store.
type Store struct {
	db *gorm.DB
}

// NewStore creates the store and migrates the object_manifests table.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&objectManifest{}); err != nil {
		return nil, fmt.Errorf("failed to migrate manifest schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Get returns the manifest for objectID, or ErrObjectNotFound.
func (s *Store) Get(ctx context.Context, objectID string) (*Manifest, error) {
	var row objectManifest
	if err := s.db.WithContext(ctx).First(&row, "object_id = ?", objectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrObjectNotFound
		}
		return nil, err
	}

	var chunks []string
	if err := json.Unmarshal([]byte(row.ChunksJSON), &chunks); err != nil {
		return nil, fmt.Errorf("corrupt chunk list for object %q: %w", objectID, err)
	}

	return &Manifest{
		ObjectID:  row.ObjectID,
		SizeBytes: row.SizeBytes,
		ChunkSize: row.ChunkSize,
		Chunks:    chunks,
	}, nil
}

// Upsert writes a manifest, overwriting any existing row for the same object
// id (last-writer-wins).
func (s *Store) Upsert(ctx context.Context, m *Manifest) error {
	if err := ValidateObjectID(m.ObjectID); err != nil {
		return err
	}

	chunks := m.Chunks
	if chunks == nil {
		chunks = []string{}
	}
	encoded, err := json.Marshal(chunks)
	if err != nil {
		return err
	}

	row := objectManifest{
		ObjectID:   m.ObjectID,
		SizeBytes:  m.SizeBytes,
		ChunkSize:  m.ChunkSize,
		ChunksJSON: string(encoded),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "object_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"size_bytes", "chunk_size", "chunks_json"}),
		}).
		Create(&row).Error
}
