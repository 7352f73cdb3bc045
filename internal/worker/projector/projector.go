// Package projector implements the event projector worker: it consumes
// committed chaincode events from the gateway stream and folds them into
// the read-model tables, advancing a durable checkpoint in the same
// database transaction as each projection.
package projector

import (
	"context"

	"go.uber.org/zap"

	"github.com/qirat-network/qiratd/internal/fabric"
	"github.com/qirat-network/qiratd/internal/storage/relationaldb"
)

// DefaultName is the checkpoint key of the main read-model projector.
const DefaultName = "readmodel"

// EventSource streams committed chaincode events from a start block. The
// returned channel closes when ctx is done; transient stream failures are
// handled inside the source.
type EventSource interface {
	StreamEvents(ctx context.Context, startBlock uint64) <-chan *fabric.Event
}

// Publisher pushes applied events onto the live event feed.
type Publisher interface {
	Publish(stream string, payload any)
}

// Worker is the read-model projector.
type Worker struct {
	name      string
	db        relationaldb.Database
	state     relationaldb.ProjectorStateRepository
	readModel relationaldb.ReadModelRepository
	source    EventSource
	publisher Publisher
	logger    *zap.Logger
}

// New creates a projector worker.
func New(name string, db relationaldb.Database, state relationaldb.ProjectorStateRepository, readModel relationaldb.ReadModelRepository, source EventSource, logger *zap.Logger) *Worker {
	if name == "" {
		name = DefaultName
	}
	return &Worker{
		name:      name,
		db:        db,
		state:     state,
		readModel: readModel,
		source:    source,
		logger:    logger.With(zap.String("projector", name)),
	}
}

// SetPublisher attaches the optional live event feed.
func (w *Worker) SetPublisher(p Publisher) { w.publisher = p }

// Run loads the checkpoint and consumes the event stream until ctx is
// canceled. Resuming from the checkpoint block replays the events of a
// partially processed block; IsProcessed and the idempotent projections
// make the replay harmless.
func (w *Worker) Run(ctx context.Context) error {
	state, err := w.state.Load(ctx, w.name)
	if err != nil {
		return err
	}

	w.logger.Info("projector started",
		zap.Uint64("start_block", state.LastProcessedBlock),
		zap.String("last_tx_id", state.LastProcessedTxID))

	for event := range w.source.StreamEvents(ctx, state.LastProcessedBlock) {
		w.handle(ctx, event)
	}

	w.logger.Info("projector stopping")
	return nil
}

// handle applies one event. Failures are isolated: the event is logged
// and the stream advances, leaving the checkpoint behind so a restart
// retries it.
func (w *Worker) handle(ctx context.Context, event *fabric.Event) {
	logger := w.logger.With(
		zap.Uint64("block", event.BlockNumber),
		zap.String("tx_id", event.TxID),
		zap.String("event", event.Name))

	processed, err := w.state.IsProcessed(ctx, w.name, event.BlockNumber, event.TxID)
	if err != nil {
		logger.Error("checkpoint lookup failed", zap.Error(err))
		eventsFailed.Inc()
		return
	}
	if processed {
		logger.Debug("event already processed, skipping")
		eventsSkipped.Inc()
		return
	}

	if err := w.project(ctx, event); err != nil {
		logger.Error("projection failed", zap.Error(err))
		eventsFailed.Inc()
		return
	}

	eventsProcessed.WithLabelValues(event.Name).Inc()
	checkpointBlock.Set(float64(event.BlockNumber))
	logger.Debug("event projected")

	if w.publisher != nil {
		w.publisher.Publish("events", event)
	}
}
