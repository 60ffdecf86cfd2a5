package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/replicator-dev/replicator/internal/dbconn"
	"github.com/replicator-dev/replicator/internal/logger"
	"github.com/replicator-dev/replicator/internal/metrics"
	"github.com/replicator-dev/replicator/pkg/controlplane/api"
	"github.com/replicator-dev/replicator/pkg/controlplane/runner"
	"github.com/replicator-dev/replicator/pkg/controlplane/store"
	"github.com/replicator-dev/replicator/pkg/migrate"
)

var controlPlaneCmd = &cobra.Command{
	Use:   "control-plane",
	Short: "Run the control-plane service",
	Long: `Run the control-plane service: the node registry, the durable job queue
and the job runner that executes chunk-delta migrations between nodes.

Examples:
  # Run with default config location
  replicator control-plane

  # Run with custom config
  replicator control-plane --config /etc/replicator/config.yaml

  # Override via environment
  CONTROL_PLANE_PORT=8080 replicator control-plane`,
	RunE: runControlPlane,
}

func runControlPlane(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := dbconn.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	cpStore, err := store.New(db)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}

	engine := migrate.NewEngine(cfg.ControlPlane.Transfer)
	jobRunner := runner.New(cpStore, engine, runner.Config{
		PollInterval: cfg.ControlPlane.Runner.PollInterval,
	})

	reg := metrics.NewRegistry()
	server := api.NewServer(api.ServerConfig{
		Host:            cfg.ControlPlane.Host,
		Port:            cfg.ControlPlane.Port,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, api.NewRouter(cpStore, reg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting control plane",
		"version", Version,
		"host", cfg.ControlPlane.Host,
		"port", cfg.ControlPlane.Port,
		"database", string(cfg.Database.Type),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error { return jobRunner.Run(gctx) })
	return g.Wait()
}
