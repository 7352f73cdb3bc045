package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/qirat-network/qiratd/internal/storage/relationaldb"
)

const outboxColumns = `id, tenant_id, service, command_type, request_id, payload,
	status, attempts, locked_by, locked_at, submitted_at, fabric_tx_id,
	commit_block, error, error_code, created_at, updated_at`

// maxErrorLength bounds the error text stored on a failed row.
const maxErrorLength = 1024

// OutboxRepository implements the OutboxRepository interface for PostgreSQL
type OutboxRepository struct {
	db *sql.DB
}

// NewOutboxRepository creates a new PostgreSQL outbox repository
func NewOutboxRepository(db *sql.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) executor(tx *sql.Tx) executor {
	if tx != nil {
		return tx
	}
	return r.db
}

// Enqueue inserts a command, on the caller's transaction when one is given.
func (r *OutboxRepository) Enqueue(ctx context.Context, tx *sql.Tx, cmd *relationaldb.OutboxCommand) error {
	tenant := cmd.TenantID
	if tenant == "" {
		tenant = relationaldb.DefaultTenant
	}

	query := `INSERT INTO outbox_commands
		(id, tenant_id, service, command_type, request_id, payload, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'PENDING')`

	_, err := r.executor(tx).ExecContext(ctx, query,
		cmd.ID, tenant, cmd.Service, cmd.CommandType, cmd.RequestID, cmd.Payload)
	if err != nil {
		return relationaldb.NewQueryError("enqueue", "failed to insert outbox command", err)
	}

	return nil
}

// ClaimBatch is the atomic claim-and-lock selector. The subquery picks
// claimable rows with SKIP LOCKED so concurrent workers never race on a
// row, and the enclosing UPDATE promotes them to LOCKED in the same
// statement.
func (r *OutboxRepository) ClaimBatch(ctx context.Context, workerID string, batchSize int, lockTimeout time.Duration, maxRetries int) ([]*relationaldb.OutboxCommand, error) {
	query := `UPDATE outbox_commands SET
			status = 'LOCKED',
			locked_by = $1,
			locked_at = NOW(),
			updated_at = NOW()
		WHERE id IN (
			SELECT id FROM outbox_commands
			WHERE status = 'PENDING'
			   OR (status = 'LOCKED' AND locked_at < NOW() - make_interval(secs => $3))
			   OR (status = 'FAILED' AND attempts < $4)
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + outboxColumns

	rows, err := r.db.QueryContext(ctx, query, workerID, batchSize, lockTimeout.Seconds(), maxRetries)
	if err != nil {
		return nil, relationaldb.NewQueryError("claim_batch", "claim-and-lock failed", err)
	}
	defer rows.Close()

	var claimed []*relationaldb.OutboxCommand
	for rows.Next() {
		cmd, err := scanOutboxCommand(rows)
		if err != nil {
			return nil, relationaldb.NewQueryError("claim_batch", "failed to scan claimed row", err)
		}
		claimed = append(claimed, cmd)
	}

	if err := rows.Err(); err != nil {
		return nil, relationaldb.NewQueryError("claim_batch", "error iterating claimed rows", err)
	}

	return claimed, nil
}

// MarkCommitted finalizes a successful submission. The WHERE clause keeps
// the update conditional on the lease still being held; zero rows affected
// means the lease was stolen and the caller must not emit side effects.
func (r *OutboxRepository) MarkCommitted(ctx context.Context, id, workerID, fabricTxID string, commitBlock uint64) error {
	query := `UPDATE outbox_commands SET
			status = 'COMMITTED',
			fabric_tx_id = $3,
			commit_block = $4,
			submitted_at = NOW(),
			error = NULL,
			error_code = NULL,
			locked_by = NULL,
			locked_at = NULL,
			updated_at = NOW()
		WHERE id = $1 AND status = 'LOCKED' AND locked_by = $2`

	res, err := r.db.ExecContext(ctx, query, id, workerID, fabricTxID, int64(commitBlock))
	if err != nil {
		return relationaldb.NewQueryError("mark_committed", "failed to mark command committed", err)
	}

	return requireLease(res)
}

// MarkFailed records a failed attempt, conditional on the lease.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id, workerID, errMsg, errCode string) error {
	if len(errMsg) > maxErrorLength {
		errMsg = errMsg[:maxErrorLength]
	}

	query := `UPDATE outbox_commands SET
			status = 'FAILED',
			attempts = attempts + 1,
			error = $3,
			error_code = $4,
			locked_by = NULL,
			locked_at = NULL,
			updated_at = NOW()
		WHERE id = $1 AND status = 'LOCKED' AND locked_by = $2`

	res, err := r.db.ExecContext(ctx, query, id, workerID, errMsg, errCode)
	if err != nil {
		return relationaldb.NewQueryError("mark_failed", "failed to mark command failed", err)
	}

	return requireLease(res)
}

// Get returns a command by id
func (r *OutboxRepository) Get(ctx context.Context, id string) (*relationaldb.OutboxCommand, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+outboxColumns+` FROM outbox_commands WHERE id = $1`, id)

	cmd, err := scanOutboxCommand(row)
	if err == sql.ErrNoRows {
		return nil, relationaldb.ErrCommandNotFound
	}
	if err != nil {
		return nil, relationaldb.NewQueryError("get_command", "failed to query outbox command", err)
	}
	return cmd, nil
}

// GetByRequestID returns a command by its logical idempotency key
func (r *OutboxRepository) GetByRequestID(ctx context.Context, tenantID, service, requestID string) (*relationaldb.OutboxCommand, error) {
	if tenantID == "" {
		tenantID = relationaldb.DefaultTenant
	}

	row := r.db.QueryRowContext(ctx,
		`SELECT `+outboxColumns+` FROM outbox_commands
		 WHERE tenant_id = $1 AND service = $2 AND request_id = $3`,
		tenantID, service, requestID)

	cmd, err := scanOutboxCommand(row)
	if err == sql.ErrNoRows {
		return nil, relationaldb.ErrCommandNotFound
	}
	if err != nil {
		return nil, relationaldb.NewQueryError("get_by_request_id", "failed to query outbox command", err)
	}
	return cmd, nil
}

// QueueDepth counts rows that a worker could still claim or is processing.
func (r *OutboxRepository) QueueDepth(ctx context.Context, maxRetries int) (int64, error) {
	var depth int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox_commands
		 WHERE status IN ('PENDING', 'LOCKED')
		    OR (status = 'FAILED' AND attempts < $1)`, maxRetries).Scan(&depth)
	if err != nil {
		return 0, relationaldb.NewQueryError("queue_depth", "failed to count queue depth", err)
	}
	return depth, nil
}

// DeadLetterCount counts FAILED rows excluded from future leases.
func (r *OutboxRepository) DeadLetterCount(ctx context.Context, maxRetries int) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox_commands
		 WHERE status = 'FAILED' AND attempts >= $1`, maxRetries).Scan(&count)
	if err != nil {
		return 0, relationaldb.NewQueryError("dead_letter_count", "failed to count dead letters", err)
	}
	return count, nil
}

// requireLease converts zero-rows-affected into ErrLeaseLost.
func requireLease(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return relationaldb.NewQueryError("rows_affected", "failed to read affected rows", err)
	}
	if n == 0 {
		return relationaldb.ErrLeaseLost
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOutboxCommand(row rowScanner) (*relationaldb.OutboxCommand, error) {
	var cmd relationaldb.OutboxCommand
	var lockedBy, fabricTxID, errMsg, errCode sql.NullString
	var lockedAt, submittedAt sql.NullTime
	var commitBlock int64

	err := row.Scan(&cmd.ID, &cmd.TenantID, &cmd.Service, &cmd.CommandType,
		&cmd.RequestID, &cmd.Payload, &cmd.Status, &cmd.Attempts,
		&lockedBy, &lockedAt, &submittedAt, &fabricTxID, &commitBlock,
		&errMsg, &errCode, &cmd.CreatedAt, &cmd.UpdatedAt)
	if err != nil {
		return nil, err
	}

	cmd.LockedBy = lockedBy.String
	cmd.FabricTxID = fabricTxID.String
	cmd.Error = errMsg.String
	cmd.ErrorCode = errCode.String
	cmd.CommitBlock = uint64(commitBlock)
	if lockedAt.Valid {
		t := lockedAt.Time
		cmd.LockedAt = &t
	}
	if submittedAt.Valid {
		t := submittedAt.Time
		cmd.SubmittedAt = &t
	}

	return &cmd, nil
}

var _ relationaldb.OutboxRepository = (*OutboxRepository)(nil)
