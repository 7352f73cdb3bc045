package cli

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/qirat-network/qiratd/internal/fabric"
	"github.com/qirat-network/qiratd/internal/feed"
	"github.com/qirat-network/qiratd/internal/httpx"
	"github.com/qirat-network/qiratd/internal/storage/relationaldb/postgres"
	"github.com/qirat-network/qiratd/internal/worker/projector"
	"github.com/qirat-network/qiratd/internal/worker/submitter"
)

var (
	serverWithSubmitter bool
	serverWithProjector bool
	serverStreamID      string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the HTTP boundary and websocket event feed",
	Long: `Run the HTTP boundary: health and readiness endpoints, the response
idempotency cache and the websocket event feed. With --with-submitter
and --with-projector the workers run in the same process and publish
onto the feed, which is the single-node deployment shape.`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().BoolVar(&serverWithSubmitter, "with-submitter", false, "run the outbox submitter in-process")
	serverCmd.Flags().BoolVar(&serverWithProjector, "with-projector", false, "run the projector in-process")
	serverCmd.Flags().StringVar(&serverStreamID, "stream-identity", fabric.IdentityPartnerAPI, "identity used to stream chaincode events")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
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

	hub := feed.NewHub(logger)
	defer hub.Close()

	cache, err := httpx.NewIdempotencyCache(repos.Idempotency(), logger)
	if err != nil {
		return err
	}
	if cfg.Server.IdempotencyTTL > 0 {
		cache.SetTTL(cfg.Server.IdempotencyTTL)
	}

	health := httpx.NewHealth(repos.Database(), repos.Outbox(), pool, cfg.Submitter.MaxRetries, logger)

	mux := http.NewServeMux()
	health.Register(mux)
	mux.Handle("/ws", hub)
	handler := httpx.RequestLogger(logger)(cache.Middleware(mux))

	var streamClient *fabric.Client
	if serverWithProjector {
		streamClient, err = pool.Client(serverStreamID)
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serveHTTP(gctx, cfg.Server.ListenAddr, handler, logger) })
	g.Go(func() error { return serveHTTP(gctx, cfg.Server.MetricsAddr, metricsMux(health), logger) })
	g.Go(func() error {
		cache.RunPurge(gctx)
		return nil
	})

	if serverWithSubmitter {
		worker := submitter.New(cfg.Submitter, repos.Database(), repos.Outbox(), repos.ReadModel(),
			submitter.PoolProvider{Pool: pool}, logger)
		worker.SetPublisher(hub)
		g.Go(func() error { return worker.Run(gctx) })
	}

	if serverWithProjector {
		worker := projector.New(projector.DefaultName, repos.Database(), repos.ProjectorState(),
			repos.ReadModel(), streamClient, logger)
		worker.SetPublisher(hub)
		g.Go(func() error { return worker.Run(gctx) })
	}

	err = g.Wait()
	health.SetRunning(false)
	if err != nil {
		logger.Error("server exited with error", zap.Error(err))
	}
	return err
}
