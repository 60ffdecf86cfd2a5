package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/replicator-dev/replicator/internal/dbconn"
	"github.com/replicator-dev/replicator/internal/logger"
	"github.com/replicator-dev/replicator/internal/metrics"
	"github.com/replicator-dev/replicator/pkg/dataplane/api"
	"github.com/replicator-dev/replicator/pkg/dataplane/chunkstore"
	"github.com/replicator-dev/replicator/pkg/dataplane/manifest"
	"github.com/replicator-dev/replicator/pkg/dataplane/object"
)

var dataPlaneCmd = &cobra.Command{
	Use:   "data-plane",
	Short: "Run a data-plane storage node",
	Long: `Run a data-plane storage node: a content-addressed chunk store plus the
HTTP surface for chunk transfer, object ingest, download and manifest
exchange.

Examples:
  # Run with default config location
  replicator data-plane

  # Run with custom config
  replicator data-plane --config /etc/replicator/node-a.yaml`,
	RunE: runDataPlane,
}

func runDataPlane(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	chunks, err := chunkstore.NewWithRoot(cfg.DataPlane.BlobRoot)
	if err != nil {
		return fmt.Errorf("failed to open chunk store: %w", err)
	}

	db, err := dbconn.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	manifests, err := manifest.NewStore(db)
	if err != nil {
		return fmt.Errorf("failed to initialize manifest store: %w", err)
	}

	service := object.NewService(chunks, manifests)

	reg := metrics.NewRegistry()
	router := api.NewRouter(chunks, service, reg, api.RouterConfig{
		DefaultChunkSize: cfg.DataPlane.ChunkSize.Int64(),
		VerifyChunks:     cfg.DataPlane.VerifyChunks,
	})
	server := api.NewServer(api.ServerConfig{
		Host:            cfg.DataPlane.Host,
		Port:            cfg.DataPlane.Port,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting data plane",
		"version", Version,
		"host", cfg.DataPlane.Host,
		"port", cfg.DataPlane.Port,
		"blob_root", cfg.DataPlane.BlobRoot,
		"chunk_size", cfg.DataPlane.ChunkSize.String(),
	)

	return server.Start(ctx)
}
