package postgres

import (
	"context"
	"database/sql"

	"github.com/qirat-network/qiratd/internal/storage/relationaldb"
)

// ProjectorStateRepository implements the ProjectorStateRepository
// interface for PostgreSQL
type ProjectorStateRepository struct {
	db *sql.DB
}

// NewProjectorStateRepository creates a new PostgreSQL projector state repository
func NewProjectorStateRepository(db *sql.DB) *ProjectorStateRepository {
	return &ProjectorStateRepository{db: db}
}

// Load returns the stored checkpoint, or a zero checkpoint for a projector
// that has never advanced.
func (r *ProjectorStateRepository) Load(ctx context.Context, projectorName string) (*relationaldb.ProjectorState, error) {
	state := &relationaldb.ProjectorState{ProjectorName: projectorName}

	var block int64
	err := r.db.QueryRowContext(ctx,
		`SELECT last_processed_block, last_processed_tx_id, updated_at
		 FROM projector_state WHERE projector_name = $1`, projectorName).
		Scan(&block, &state.LastProcessedTxID, &state.UpdatedAt)

	if err == sql.ErrNoRows {
		return state, nil
	}
	if err != nil {
		return nil, relationaldb.NewQueryError("load_checkpoint", "failed to load projector state", err)
	}

	state.LastProcessedBlock = uint64(block)
	return state, nil
}

// Advance moves the checkpoint forward inside the caller's projection
// transaction. The WHERE guard makes advancement monotonic: a stand-by
// replica replaying older blocks affects zero rows and gets
// ErrCheckpointRegressed instead of rewinding the checkpoint.
func (r *ProjectorStateRepository) Advance(ctx context.Context, tx *sql.Tx, projectorName string, block uint64, txID string) error {
	query := `INSERT INTO projector_state
			(projector_name, last_processed_block, last_processed_tx_id, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (projector_name) DO UPDATE SET
			last_processed_block = EXCLUDED.last_processed_block,
			last_processed_tx_id = EXCLUDED.last_processed_tx_id,
			updated_at = NOW()
		WHERE projector_state.last_processed_block <= EXCLUDED.last_processed_block`

	var exec executor = r.db
	if tx != nil {
		exec = tx
	}

	res, err := exec.ExecContext(ctx, query, projectorName, int64(block), txID)
	if err != nil {
		return relationaldb.NewQueryError("advance_checkpoint", "failed to advance projector state", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return relationaldb.NewQueryError("advance_checkpoint", "failed to read affected rows", err)
	}
	if n == 0 {
		return relationaldb.ErrCheckpointRegressed
	}

	return nil
}

// IsProcessed reports whether the event at (block, txID) is already covered
// by the checkpoint. Events strictly behind the checkpoint are processed;
// at the checkpoint block the stored tx id decides.
func (r *ProjectorStateRepository) IsProcessed(ctx context.Context, projectorName string, block uint64, txID string) (bool, error) {
	state, err := r.Load(ctx, projectorName)
	if err != nil {
		return false, err
	}

	if block < state.LastProcessedBlock {
		return true, nil
	}
	if block == state.LastProcessedBlock && txID == state.LastProcessedTxID {
		return true, nil
	}
	return false, nil
}

var _ relationaldb.ProjectorStateRepository = (*ProjectorStateRepository)(nil)
