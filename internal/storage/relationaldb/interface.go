package relationaldb

import (
	"context"
	"database/sql"
	"time"
)

// Database is the connection-level interface implemented by the postgres
// subpackage.
type Database interface {
	// Open opens the connection pool and initializes the schema.
	Open(ctx context.Context) error

	// Close closes the connection pool.
	Close(ctx context.Context) error

	// Ping tests the connection.
	Ping(ctx context.Context) error

	// DB exposes the underlying pool for transaction composition.
	DB() *sql.DB

	// RunInTransaction runs fn inside a single database transaction,
	// committing on nil and rolling back on error.
	RunInTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error
}

// OutboxRepository stores and leases ledger commands.
type OutboxRepository interface {
	// Enqueue inserts a command. Callers that mutate business state in the
	// same logical operation must pass their open transaction so the two
	// writes commit atomically; tx may be nil for standalone inserts.
	Enqueue(ctx context.Context, tx *sql.Tx, cmd *OutboxCommand) error

	// ClaimBatch atomically selects up to batchSize claimable rows
	// (PENDING, stale LOCKED, or retryable FAILED), skips rows locked by
	// concurrent workers, transitions them to LOCKED for workerID and
	// returns them. Two workers never claim the same row.
	ClaimBatch(ctx context.Context, workerID string, batchSize int, lockTimeout time.Duration, maxRetries int) ([]*OutboxCommand, error)

	// MarkCommitted transitions LOCKED -> COMMITTED, conditional on the
	// lease still being held by workerID. Returns ErrLeaseLost otherwise.
	MarkCommitted(ctx context.Context, id, workerID, fabricTxID string, commitBlock uint64) error

	// MarkFailed transitions LOCKED -> FAILED, increments attempts and
	// records the (truncated) error, conditional on the lease. Returns
	// ErrLeaseLost if the lease was stolen.
	MarkFailed(ctx context.Context, id, workerID, errMsg, errCode string) error

	// Get returns a command by id.
	Get(ctx context.Context, id string) (*OutboxCommand, error)

	// GetByRequestID returns a command by its logical idempotency key.
	GetByRequestID(ctx context.Context, tenantID, service, requestID string) (*OutboxCommand, error)

	// QueueDepth counts rows that are still claimable work.
	QueueDepth(ctx context.Context, maxRetries int) (int64, error)

	// DeadLetterCount counts FAILED rows that exhausted their retries.
	DeadLetterCount(ctx context.Context, maxRetries int) (int64, error)
}

// ProjectorStateRepository stores resumable projector checkpoints.
type ProjectorStateRepository interface {
	// Load returns the checkpoint for projectorName, or a zero checkpoint
	// if none has been stored yet.
	Load(ctx context.Context, projectorName string) (*ProjectorState, error)

	// Advance moves the checkpoint forward inside the caller's transaction.
	// A regressing block number returns ErrCheckpointRegressed.
	Advance(ctx context.Context, tx *sql.Tx, projectorName string, block uint64, txID string) error

	// IsProcessed reports whether (block, txID) is at or behind the stored
	// checkpoint.
	IsProcessed(ctx context.Context, projectorName string, block uint64, txID string) (bool, error)
}

// IdempotencyRepository caches HTTP responses keyed by
// (tenant, method, path, bodyHash).
type IdempotencyRepository interface {
	Get(ctx context.Context, tenantID, method, path, bodyHash string) (*IdempotencyRecord, error)
	Put(ctx context.Context, rec *IdempotencyRecord) error
	// PurgeExpired deletes rows whose TTL has passed; returns rows removed.
	PurgeExpired(ctx context.Context) (int64, error)
}

// ApprovalRepository stores pending multi-sig transactions, votes and
// signatory rules.
type ApprovalRepository interface {
	CreatePending(ctx context.Context, tx *sql.Tx, p *PendingMultiSigTransaction) error
	GetPending(ctx context.Context, pendingTxID string) (*PendingMultiSigTransaction, error)
	ListPendingByEntity(ctx context.Context, entityType, entityID string) ([]*PendingMultiSigTransaction, error)

	// RecordVote inserts a vote and, when it is an approval, increments
	// currentApprovals in the same transaction. It returns the approval
	// count after the vote, so quorum decisions see votes committed by
	// concurrent callers. A second vote by the same voter returns
	// ErrDuplicateVote.
	RecordVote(ctx context.Context, tx *sql.Tx, vote *MultiSigVote) (int, error)
	ListVotes(ctx context.Context, pendingTxID string) ([]*MultiSigVote, error)

	// UpdateStatus performs a conditional state transition; fromStatus
	// guards against concurrent transitions.
	UpdateStatus(ctx context.Context, tx *sql.Tx, pendingTxID string, fromStatus, toStatus ApprovalStatus) error
	MarkExecuted(ctx context.Context, pendingTxID, executedTxID string) error
	MarkRejected(ctx context.Context, tx *sql.Tx, pendingTxID, rejectedBy, reason string) error

	// ActiveRules returns active rules for the entity ordered by ruleOrder.
	ActiveRules(ctx context.Context, entityType, entityID string, now time.Time) ([]*SignatoryRule, error)
	SaveRule(ctx context.Context, rule *SignatoryRule) error
}

// DeploymentRepository stores deployment promotion records.
type DeploymentRepository interface {
	Create(ctx context.Context, rec *DeploymentRecord) error
	Get(ctx context.Context, deploymentID string) (*DeploymentRecord, error)
	UpdateStatus(ctx context.Context, deploymentID string, from, to DeploymentStatus) error
	AppendLog(ctx context.Context, deploymentID, line string) error
	// LastCompletedTag returns the image tag of the most recent COMPLETED
	// deployment of service into targetEnv, for rollback.
	LastCompletedTag(ctx context.Context, service, targetEnv string) (string, error)
}

// ReadModelRepository maintains the projected read-model tables. All
// writes are idempotent so projections can replay.
type ReadModelRepository interface {
	UpsertProfile(ctx context.Context, tx *sql.Tx, p *UserProfile) error
	GetProfile(ctx context.Context, profileID string) (*UserProfile, error)
	GetProfileByAccountID(ctx context.Context, accountID string) (*UserProfile, error)
	SetProfileStatus(ctx context.Context, tx *sql.Tx, profileID string, status UserStatus, onchain OnchainStatus, registeredAt *time.Time) error

	// EnsureWallet creates the primary wallet for a profile if none
	// exists and returns it.
	EnsureWallet(ctx context.Context, tx *sql.Tx, profileID, tenantID string) (*Wallet, error)
	GetWalletByProfile(ctx context.Context, profileID string) (*Wallet, error)
	SetWalletBalance(ctx context.Context, tx *sql.Tx, walletID string, balance int64) error
	SetWalletBalanceByProfile(ctx context.Context, tx *sql.Tx, profileID string, balance int64) error

	// RecordTransaction inserts a transaction row, idempotent on TxID.
	RecordTransaction(ctx context.Context, tx *sql.Tx, rec *TransactionRecord) error
	GetTransaction(ctx context.Context, txID string) (*TransactionRecord, error)

	InsertNotification(ctx context.Context, tx *sql.Tx, n *Notification) error
	ListNotifications(ctx context.Context, profileID string, limit int) ([]*Notification, error)

	// AppendEventLog archives a ledger event, idempotent on
	// (fabricTxID, eventName).
	AppendEventLog(ctx context.Context, tx *sql.Tx, rec *EventLogRecord) error
}

// RepositoryManager bundles the repositories over one database.
type RepositoryManager interface {
	Database() Database
	Outbox() OutboxRepository
	ProjectorState() ProjectorStateRepository
	Idempotency() IdempotencyRepository
	Approvals() ApprovalRepository
	Deployments() DeploymentRepository
	ReadModel() ReadModelRepository
}
