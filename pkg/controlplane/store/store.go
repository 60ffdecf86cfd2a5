// Package store persists control-plane state: the node registry and the
// durable job queue. All writes go through GORM so the same code serves
// SQLite and PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/replicator-dev/replicator/pkg/controlplane/models"
)

// DefaultJobListLimit bounds job listings when the caller does not ask for a
// specific page size.
const DefaultJobListLimit = 50

// Store wraps the control-plane database.
type Store struct {
	db *gorm.DB
}

// New creates a store over an open database handle and runs auto-migration.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		return nil, fmt.Errorf("failed to migrate control-plane schema: %w", err)
	}
	return &Store{db: db}, nil
}

// RegisterNode inserts or updates a node by name, refreshing its heartbeat.
// The returned bool is true when the node was newly created, false when an
// existing registration was updated with a new base URL.
func (s *Store) RegisterNode(ctx context.Context, name, baseURL string) (*models.Node, bool, error) {
	now := time.Now()

	var existing models.Node
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&existing).Error
	switch {
	case err == nil:
		existing.BaseURL = baseURL
		existing.Status = models.NodeStatusHealthy
		existing.LastHeartbeat = now
		if err := s.db.WithContext(ctx).Save(&existing).Error; err != nil {
			return nil, false, fmt.Errorf("failed to update node %q: %w", name, err)
		}
		return &existing, false, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		node := models.Node{
			Name:          name,
			BaseURL:       baseURL,
			Status:        models.NodeStatusHealthy,
			LastHeartbeat: now,
		}
		if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"base_url", "status", "last_heartbeat", "updated_at"}),
		}).Create(&node).Error; err != nil {
			return nil, false, fmt.Errorf("failed to register node %q: %w", name, err)
		}
		return &node, true, nil
	default:
		return nil, false, fmt.Errorf("failed to look up node %q: %w", name, err)
	}
}

// GetNode returns the node registered under name.
func (s *Store) GetNode(ctx context.Context, name string) (*models.Node, error) {
	var node models.Node
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&node).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrNodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load node %q: %w", name, err)
	}
	return &node, nil
}

// ListNodes returns all registered nodes ordered by name.
func (s *Store) ListNodes(ctx context.Context) ([]models.Node, error) {
	var nodes []models.Node
	if err := s.db.WithContext(ctx).Order("name asc").Find(&nodes).Error; err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	return nodes, nil
}

// EnqueueMigrate creates a queued migration job. Node names and the object id
// are recorded as given, not resolved here; the runner resolves them at
// execution time and fails the job when one is unknown.
func (s *Store) EnqueueMigrate(ctx context.Context, srcNode, dstNode, objectID string) (*models.Job, error) {
	job := models.Job{
		Kind:     models.JobKindMigrate,
		SrcNode:  srcNode,
		DstNode:  dstNode,
		ObjectID: objectID,
		Status:   models.JobStatusQueued,
	}
	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}
	return &job, nil
}

// GetJob returns one job by id.
func (s *Store) GetJob(ctx context.Context, id uint) (*models.Job, error) {
	var job models.Job
	err := s.db.WithContext(ctx).First(&job, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %d: %w", id, err)
	}
	return &job, nil
}

// ListJobs returns jobs newest first, optionally filtered by status. A limit
// of 0 applies DefaultJobListLimit.
func (s *Store) ListJobs(ctx context.Context, status string, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = DefaultJobListLimit
	}

	q := s.db.WithContext(ctx).Order("id desc").Limit(limit)
	if status != "" {
		if !models.ValidStatus(status) {
			return nil, fmt.Errorf("invalid status filter %q", status)
		}
		q = q.Where("status = ?", status)
	}

	var jobs []models.Job
	if err := q.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// PeekOldestQueued returns the oldest queued job of the given kind, or
// ErrJobNotFound when the queue is empty.
func (s *Store) PeekOldestQueued(ctx context.Context, kind string) (*models.Job, error) {
	var job models.Job
	err := s.db.WithContext(ctx).
		Where("status = ? AND kind = ?", models.JobStatusQueued, kind).
		Order("id asc").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to peek queue: %w", err)
	}
	return &job, nil
}

// Transition moves a job from one status to another with an optimistic
// concurrency check. It returns ErrConflict when the job is not currently in
// the from status, so concurrent claimers cannot both win.
func (s *Store) Transition(ctx context.Context, id uint, from, to string) error {
	res := s.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{"status": to, "updated_at": time.Now()})
	if res.Error != nil {
		return fmt.Errorf("failed to transition job %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		var job models.Job
		if err := s.db.WithContext(ctx).First(&job, id).Error; errors.Is(err, gorm.ErrRecordNotFound) {
			return models.ErrJobNotFound
		}
		return models.ErrConflict
	}
	return nil
}

// MarkSucceeded finalizes a running job as succeeded.
func (s *Store) MarkSucceeded(ctx context.Context, id uint) error {
	return s.Transition(ctx, id, models.JobStatusRunning, models.JobStatusSucceeded)
}

// MarkFailed finalizes a running job as failed, recording the error message.
// When transient is true the retry counter is bumped as well.
func (s *Store) MarkFailed(ctx context.Context, id uint, errMsg string, transient bool) error {
	updates := map[string]any{
		"status":     models.JobStatusFailed,
		"last_error": errMsg,
		"updated_at": time.Now(),
	}
	if transient {
		updates["retries"] = gorm.Expr("retries + 1")
	}

	res := s.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", id, models.JobStatusRunning).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to fail job %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrConflict
	}
	return nil
}

// ListRunning returns jobs currently marked running. Used at startup to warn
// about jobs orphaned by a crash.
func (s *Store) ListRunning(ctx context.Context) ([]models.Job, error) {
	var jobs []models.Job
	err := s.db.WithContext(ctx).
		Where("status = ?", models.JobStatusRunning).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list running jobs: %w", err)
	}
	return jobs, nil
}

// CountJobs returns the total number of jobs ever enqueued.
func (s *Store) CountJobs(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Job{}).Count(&n).Error
	return n, err
}

// CountJobsByStatus returns job counts grouped by status.
func (s *Store) CountJobsByStatus(ctx context.Context) (map[string]int64, error) {
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&models.Job{}).
		Select("status, count(*) as n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}

// CountNodes returns the number of registered nodes.
func (s *Store) CountNodes(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Node{}).Count(&n).Error
	return n, err
}
