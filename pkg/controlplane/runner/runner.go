// Package runner drives the job queue: a single-writer loop that claims the
// oldest queued job, executes it through the migration engine and records the
// terminal status.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/replicator-dev/replicator/internal/httpx"
	"github.com/replicator-dev/replicator/internal/logger"
	"github.com/replicator-dev/replicator/pkg/controlplane/models"
	"github.com/replicator-dev/replicator/pkg/controlplane/store"
	"github.com/replicator-dev/replicator/pkg/migrate"
)

// DefaultPollInterval is how often the runner checks for queued jobs.
const DefaultPollInterval = time.Second

// Migrator executes one migration. Satisfied by *migrate.Engine.
type Migrator interface {
	Migrate(ctx context.Context, srcBase, dstBase, objectID string) (*migrate.Report, error)
}

// Config tunes one runner.
type Config struct {
	// PollInterval is the queue polling period.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// Runner is the single consumer of the job queue. Exactly one runner should
// poll a given database; the optimistic claim in the store keeps a second
// runner from double-executing, but the design is one writer.
type Runner struct {
	store    *store.Store
	migrator Migrator
	cfg      Config
}

// New creates a runner over the store and migration engine.
func New(s *store.Store, m Migrator, cfg Config) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Runner{store: s, migrator: m, cfg: cfg}
}

// Run polls until ctx is cancelled. A job in flight when the context is
// cancelled is finished and its terminal status recorded before Run returns.
func (r *Runner) Run(ctx context.Context) error {
	r.warnStuckJobs(ctx)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	logger.Info("job runner started", "poll_interval", r.cfg.PollInterval.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("job runner stopped")
			return nil
		case <-ticker.C:
			r.drainQueue(ctx)
		}
	}
}

// warnStuckJobs logs jobs left in running status by a previous crash. They
// are not resumed automatically; an operator decides whether to requeue.
func (r *Runner) warnStuckJobs(ctx context.Context) {
	stuck, err := r.store.ListRunning(ctx)
	if err != nil {
		logger.Warn("failed to check for stuck jobs", "error", err)
		return
	}
	for _, job := range stuck {
		logger.Warn("job stuck in running status from previous run",
			"job_id", job.ID,
			"object_id", job.ObjectID,
		)
	}
}

// drainQueue executes queued jobs one at a time until the queue is empty or
// ctx is cancelled between jobs.
func (r *Runner) drainQueue(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := r.store.PeekOldestQueued(ctx, models.JobKindMigrate)
		if errors.Is(err, models.ErrJobNotFound) {
			return
		}
		if err != nil {
			logger.Error("failed to poll job queue", "error", err)
			return
		}

		r.execute(ctx, job)
	}
}

// execute claims and runs one job end to end. The job runs on a context
// detached from the poll loop so a shutdown signal lets the in-flight job
// finish and record its terminal status; only new claims stop.
func (r *Runner) execute(pollCtx context.Context, job *models.Job) {
	ctx := context.WithoutCancel(pollCtx)

	err := r.store.Transition(ctx, job.ID, models.JobStatusQueued, models.JobStatusRunning)
	if errors.Is(err, models.ErrConflict) {
		// Another claimer won; skip.
		return
	}
	if err != nil {
		logger.Error("failed to claim job", "job_id", job.ID, "error", err)
		return
	}

	logger.Info("job started",
		"job_id", job.ID,
		"object_id", job.ObjectID,
		"src_node", job.SrcNode,
		"dst_node", job.DstNode,
	)

	report, err := r.runMigration(ctx, job)
	if err != nil {
		// An unresolvable node name is a configuration problem, never
		// a transient one.
		transient := !errors.Is(err, models.ErrNodeNotFound) && httpx.IsRetryable(err)
		if ferr := r.store.MarkFailed(ctx, job.ID, err.Error(), transient); ferr != nil {
			logger.Error("failed to record job failure", "job_id", job.ID, "error", ferr)
		}
		logger.Error("job failed",
			"job_id", job.ID,
			"object_id", job.ObjectID,
			"transient", transient,
			"error", err,
		)
		return
	}

	if err := r.store.MarkSucceeded(ctx, job.ID); err != nil {
		logger.Error("failed to record job success", "job_id", job.ID, "error", err)
		return
	}
	logger.Info("job succeeded",
		"job_id", job.ID,
		"object_id", job.ObjectID,
		"chunks_copied", report.CopiedChunks,
		"bytes_copied", report.BytesCopied,
	)
}

// runMigration resolves both node names and runs the transfer. An unknown
// node is a permanent failure; no HTTP traffic is attempted.
func (r *Runner) runMigration(ctx context.Context, job *models.Job) (*migrate.Report, error) {
	src, err := r.store.GetNode(ctx, job.SrcNode)
	if err != nil {
		return nil, fmt.Errorf("resolve src_node %q: %w", job.SrcNode, err)
	}
	dst, err := r.store.GetNode(ctx, job.DstNode)
	if err != nil {
		return nil, fmt.Errorf("resolve dst_node %q: %w", job.DstNode, err)
	}
	return r.migrator.Migrate(ctx, src.BaseURL, dst.BaseURL, job.ObjectID)
}
