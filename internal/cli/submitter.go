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
	"github.com/qirat-network/qiratd/internal/worker/submitter"
)

var submitterCmd = &cobra.Command{
	Use:   "submitter",
	Short: "Run the outbox submitter worker",
	Long: `Run the outbox submitter: claim pending ledger commands from the
transactional outbox, submit them to the Fabric chaincode under the
identity each command requires and record the outcome.`,
	RunE: runSubmitter,
}

func init() {
	rootCmd.AddCommand(submitterCmd)
	submitterCmd.Flags().String("worker-id", "", "override the worker id used for outbox leases")
}

func runSubmitter(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if workerID, _ := cmd.Flags().GetString("worker-id"); workerID != "" {
		cfg.Submitter.WorkerID = workerID
	}
	applyWorkerDefaults(cfg)

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

	worker := submitter.New(cfg.Submitter, repos.Database(), repos.Outbox(), repos.ReadModel(),
		submitter.PoolProvider{Pool: pool}, logger)

	health := httpx.NewHealth(repos.Database(), repos.Outbox(), pool, cfg.Submitter.MaxRetries, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return serveHTTP(gctx, cfg.Server.MetricsAddr, metricsMux(health), logger) })

	err = g.Wait()
	health.SetRunning(false)
	if err != nil {
		logger.Error("submitter exited with error", zap.Error(err))
	}
	return err
}
