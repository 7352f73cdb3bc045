// Package submitter implements the outbox submitter worker: it leases
// claimable outbox commands, routes each to its chaincode invocation,
// submits under the appropriate signing identity and finalizes the row
// conditionally on the lease still being held.
package submitter

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/qirat-network/qiratd/internal/fabric"
	"github.com/qirat-network/qiratd/internal/outbox"
	"github.com/qirat-network/qiratd/internal/storage/relationaldb"
)

// Config holds the worker tunables.
type Config struct {
	WorkerID     string        `json:"worker_id" mapstructure:"worker_id"`
	PollInterval time.Duration `json:"poll_interval" mapstructure:"poll_interval"`
	BatchSize    int           `json:"batch_size" mapstructure:"batch_size"`
	MaxRetries   int           `json:"max_retries" mapstructure:"max_retries"`
	LockTimeout  time.Duration `json:"lock_timeout" mapstructure:"lock_timeout"`
}

// NewConfig returns the production defaults.
func NewConfig() Config {
	return Config{
		PollInterval: 100 * time.Millisecond,
		BatchSize:    10,
		MaxRetries:   5,
		LockTimeout:  300 * time.Second,
	}
}

// Gateway is the submit/evaluate surface the worker needs from a
// connected gateway client.
type Gateway interface {
	Submit(ctx context.Context, contract, function string, args ...string) (*fabric.SubmitResult, error)
	Evaluate(ctx context.Context, contract, function string, args ...string) ([]byte, error)
}

// GatewayProvider resolves a Gateway by identity name.
type GatewayProvider interface {
	Gateway(name string) (Gateway, error)
}

// PoolProvider adapts a fabric.Pool to GatewayProvider.
type PoolProvider struct {
	Pool *fabric.Pool
}

func (p PoolProvider) Gateway(name string) (Gateway, error) {
	return p.Pool.Client(name)
}

// Publisher pushes worker-side happenings onto the live event feed.
type Publisher interface {
	Publish(stream string, payload any)
}

// Worker is the outbox submitter.
type Worker struct {
	cfg       Config
	db        relationaldb.Database
	outboxes  relationaldb.OutboxRepository
	readModel relationaldb.ReadModelRepository
	gateways  GatewayProvider
	publisher Publisher
	logger    *zap.Logger
}

// New creates a submitter worker.
func New(cfg Config, db relationaldb.Database, outboxes relationaldb.OutboxRepository, readModel relationaldb.ReadModelRepository, gateways GatewayProvider, logger *zap.Logger) *Worker {
	return &Worker{
		cfg:       cfg,
		db:        db,
		outboxes:  outboxes,
		readModel: readModel,
		gateways:  gateways,
		logger:    logger.With(zap.String("worker_id", cfg.WorkerID)),
	}
}

// SetPublisher attaches the optional live event feed.
func (w *Worker) SetPublisher(p Publisher) { w.publisher = p }

// Run polls the outbox until ctx is canceled. A command being processed
// when shutdown starts is finished; unfinished rows are reclaimed by lock
// expiry.
func (w *Worker) Run(ctx context.Context) error {
	workerStatus.Set(1)
	defer workerStatus.Set(0)

	w.logger.Info("outbox submitter started",
		zap.Duration("poll_interval", w.cfg.PollInterval),
		zap.Int("batch_size", w.cfg.BatchSize),
		zap.Int("max_retries", w.cfg.MaxRetries))

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("outbox submitter stopping")
			return nil
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *Worker) poll(ctx context.Context) {
	batch, err := w.outboxes.ClaimBatch(ctx, w.cfg.WorkerID, w.cfg.BatchSize, w.cfg.LockTimeout, w.cfg.MaxRetries)
	if err != nil {
		w.logger.Error("failed to claim outbox batch", zap.Error(err))
		return
	}

	for _, cmd := range batch {
		if ctx.Err() != nil {
			return
		}
		w.process(ctx, cmd)
	}

	if depth, err := w.outboxes.QueueDepth(ctx, w.cfg.MaxRetries); err == nil {
		queueDepth.Set(float64(depth))
	}
}

func (w *Worker) process(ctx context.Context, cmd *relationaldb.OutboxCommand) {
	timer := prometheus.NewTimer(processingDuration)
	defer timer.ObserveDuration()

	logger := w.logger.With(
		zap.String("command_id", cmd.ID),
		zap.String("command_type", cmd.CommandType),
		zap.Int("attempt", cmd.Attempts+1))

	inv, err := outbox.Route(cmd.CommandType, cmd.Payload)
	if err != nil {
		logger.Error("command cannot be routed", zap.Error(err))
		w.fail(ctx, cmd, err.Error(), "ROUTING", logger)
		return
	}

	identity := IdentityFor(cmd.CommandType)
	gateway, err := w.gateways.Gateway(identity)
	if err != nil {
		logger.Error("gateway unavailable", zap.String("identity", identity), zap.Error(err))
		w.fail(ctx, cmd, err.Error(), "CONNECTION", logger)
		return
	}

	result, err := gateway.Submit(ctx, inv.Contract, inv.Function, inv.Args...)
	if err != nil {
		logger.Warn("submission failed",
			zap.String("identity", identity),
			zap.String("error_code", fabric.ErrorCode(err)),
			zap.Error(err))
		w.fail(ctx, cmd, err.Error(), fabric.ErrorCode(err), logger)
		return
	}

	if err := w.outboxes.MarkCommitted(ctx, cmd.ID, w.cfg.WorkerID, result.TxID, result.BlockNumber); err != nil {
		if errors.Is(err, relationaldb.ErrLeaseLost) {
			// Another worker reclaimed the row after lock expiry. Its
			// submission outcome wins; this one must not emit side effects.
			logger.Warn("lease lost after submission, skipping side effects")
			commandsProcessed.WithLabelValues("lease_lost").Inc()
			return
		}
		logger.Error("failed to mark command committed", zap.Error(err))
		return
	}

	commandsProcessed.WithLabelValues("committed").Inc()
	logger.Info("command committed",
		zap.String("fabric_tx_id", result.TxID),
		zap.Uint64("commit_block", result.BlockNumber))

	w.reconcile(ctx, cmd, gateway, logger)
}

func (w *Worker) fail(ctx context.Context, cmd *relationaldb.OutboxCommand, errMsg, errCode string, logger *zap.Logger) {
	if err := w.outboxes.MarkFailed(ctx, cmd.ID, w.cfg.WorkerID, errMsg, errCode); err != nil {
		if errors.Is(err, relationaldb.ErrLeaseLost) {
			commandsProcessed.WithLabelValues("lease_lost").Inc()
			return
		}
		logger.Error("failed to mark command failed", zap.Error(err))
		return
	}

	commandsProcessed.WithLabelValues("failed").Inc()

	if cmd.Attempts+1 >= w.cfg.MaxRetries {
		commandsProcessed.WithLabelValues("dead_lettered").Inc()
		logger.Error("command dead-lettered",
			zap.Int("attempts", cmd.Attempts+1),
			zap.String("error_code", errCode))
	}
}
