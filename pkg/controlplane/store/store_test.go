package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replicator-dev/replicator/internal/dbconn"
	"github.com/replicator-dev/replicator/pkg/controlplane/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := dbconn.Open(&dbconn.Config{
		Type:   dbconn.TypeSQLite,
		SQLite: dbconn.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, err)
	s, err := New(db)
	require.NoError(t, err)
	return s
}

func registerPair(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	_, _, err := s.RegisterNode(ctx, "node-a", "http://a:9000")
	require.NoError(t, err)
	_, _, err = s.RegisterNode(ctx, "node-b", "http://b:9000")
	require.NoError(t, err)
}

func TestRegisterNodeCreateThenUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	node, created, err := s.RegisterNode(ctx, "node-a", "http://a:9000")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "http://a:9000", node.BaseURL)
	assert.Equal(t, models.NodeStatusHealthy, node.Status)

	node, created, err = s.RegisterNode(ctx, "node-a", "http://a:9001")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "http://a:9001", node.BaseURL)

	nodes, err := s.ListNodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "http://a:9001", nodes[0].BaseURL)
}

func TestGetNodeMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetNode(context.Background(), "ghost")
	assert.ErrorIs(t, err, models.ErrNodeNotFound)
}

func TestEnqueueAcceptsUnregisteredNodes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Node names are not resolved at enqueue time; the runner fails the
	// job when it cannot look one up.
	job, err := s.EnqueueMigrate(ctx, "node-a", "unknown", "obj")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, "unknown", job.DstNode)
}

func TestEnqueueAndPeekFIFO(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	registerPair(t, s)

	first, err := s.EnqueueMigrate(ctx, "node-a", "node-b", "obj-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, first.Status)

	_, err = s.EnqueueMigrate(ctx, "node-a", "node-b", "obj-2")
	require.NoError(t, err)

	peeked, err := s.PeekOldestQueued(ctx, models.JobKindMigrate)
	require.NoError(t, err)
	assert.Equal(t, first.ID, peeked.ID)
	assert.Equal(t, "obj-1", peeked.ObjectID)
}

func TestPeekEmptyQueue(t *testing.T) {
	s := newTestStore(t)
	_, err := s.PeekOldestQueued(context.Background(), models.JobKindMigrate)
	assert.ErrorIs(t, err, models.ErrJobNotFound)
}

func TestTransitionOptimisticConcurrency(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	registerPair(t, s)

	job, err := s.EnqueueMigrate(ctx, "node-a", "node-b", "obj")
	require.NoError(t, err)

	// First claim wins.
	require.NoError(t, s.Transition(ctx, job.ID, models.JobStatusQueued, models.JobStatusRunning))

	// Second claim of the same job loses.
	err = s.Transition(ctx, job.ID, models.JobStatusQueued, models.JobStatusRunning)
	assert.ErrorIs(t, err, models.ErrConflict)

	// Unknown job id.
	err = s.Transition(ctx, 9999, models.JobStatusQueued, models.JobStatusRunning)
	assert.ErrorIs(t, err, models.ErrJobNotFound)
}

func TestMarkSucceededIsTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	registerPair(t, s)

	job, err := s.EnqueueMigrate(ctx, "node-a", "node-b", "obj")
	require.NoError(t, err)
	require.NoError(t, s.Transition(ctx, job.ID, models.JobStatusQueued, models.JobStatusRunning))
	require.NoError(t, s.MarkSucceeded(ctx, job.ID))

	// A terminal job cannot move again.
	err = s.MarkFailed(ctx, job.ID, "too late", false)
	assert.ErrorIs(t, err, models.ErrConflict)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSucceeded, got.Status)
	assert.True(t, got.IsTerminal())
}

func TestMarkFailedRecordsErrorAndRetries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	registerPair(t, s)

	job, err := s.EnqueueMigrate(ctx, "node-a", "node-b", "obj")
	require.NoError(t, err)
	require.NoError(t, s.Transition(ctx, job.ID, models.JobStatusQueued, models.JobStatusRunning))
	require.NoError(t, s.MarkFailed(ctx, job.ID, "gave up after retries", true))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, 1, got.Retries)
	assert.Equal(t, "gave up after retries", got.LastError)
}

func TestListJobsNewestFirstWithLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	registerPair(t, s)

	for i := 0; i < 5; i++ {
		_, err := s.EnqueueMigrate(ctx, "node-a", "node-b", "obj")
		require.NoError(t, err)
	}

	jobs, err := s.ListJobs(ctx, "", 3)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Greater(t, jobs[0].ID, jobs[1].ID)
	assert.Greater(t, jobs[1].ID, jobs[2].ID)
}

func TestListJobsStatusFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	registerPair(t, s)

	a, err := s.EnqueueMigrate(ctx, "node-a", "node-b", "obj-a")
	require.NoError(t, err)
	_, err = s.EnqueueMigrate(ctx, "node-a", "node-b", "obj-b")
	require.NoError(t, err)
	require.NoError(t, s.Transition(ctx, a.ID, models.JobStatusQueued, models.JobStatusRunning))

	running, err := s.ListJobs(ctx, models.JobStatusRunning, 0)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, a.ID, running[0].ID)

	_, err = s.ListJobs(ctx, "bogus", 0)
	assert.Error(t, err)
}

func TestCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	registerPair(t, s)

	a, err := s.EnqueueMigrate(ctx, "node-a", "node-b", "obj-a")
	require.NoError(t, err)
	_, err = s.EnqueueMigrate(ctx, "node-a", "node-b", "obj-b")
	require.NoError(t, err)
	require.NoError(t, s.Transition(ctx, a.ID, models.JobStatusQueued, models.JobStatusRunning))

	total, err := s.CountJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	byStatus, err := s.CountJobsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), byStatus[models.JobStatusQueued])
	assert.Equal(t, int64(1), byStatus[models.JobStatusRunning])

	nodes, err := s.CountNodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), nodes)
}

func TestListRunning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	registerPair(t, s)

	job, err := s.EnqueueMigrate(ctx, "node-a", "node-b", "obj")
	require.NoError(t, err)
	require.NoError(t, s.Transition(ctx, job.ID, models.JobStatusQueued, models.JobStatusRunning))

	running, err := s.ListRunning(ctx)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, job.ID, running[0].ID)
}
