package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/qirat-network/qiratd/internal/fabric"
	"github.com/qirat-network/qiratd/internal/httpx"
	"github.com/qirat-network/qiratd/internal/storage/relationaldb/postgres"
	"github.com/qirat-network/qiratd/internal/worker/projector"
)

var projectorCmd = &cobra.Command{
	Use:   "projector",
	Short: "Run the read-model projector worker",
	Long: `Run the projector: stream committed chaincode events from the
configured checkpoint and fold them into the PostgreSQL read model.`,
	RunE: runProjector,
}

func init() {
	rootCmd.AddCommand(projectorCmd)
	projectorCmd.Flags().String("name", projector.DefaultName, "projector checkpoint name")
	projectorCmd.Flags().String("identity", fabric.IdentityPartnerAPI, "identity used to stream chaincode events")
}

func runProjector(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	name, _ := cmd.Flags().GetString("name")
	identity, _ := cmd.Flags().GetString("identity")

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repos, err := postgres.NewRepositoryManager(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer func() { _ = repos.Close(context.Background()) }()

	pool := fabric.NewPool(&cfg.Fabric, logger)
	defer pool.Close()

	client, err := pool.Client(identity)
	if err != nil {
		return err
	}

	worker := projector.New(name, repos.Database(), repos.ProjectorState(), repos.ReadModel(), client, logger)

	health := httpx.NewHealth(repos.Database(), nil, pool, cfg.Submitter.MaxRetries, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return serveHTTP(gctx, cfg.Server.MetricsAddr, metricsMux(health), logger) })

	err = g.Wait()
	health.SetRunning(false)
	if err != nil {
		logger.Error("projector exited with error", zap.Error(err))
	}
	return err
}
