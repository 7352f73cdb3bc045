package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/qirat-network/qiratd/internal/storage/relationaldb"
)

const profileColumns = `profile_id, tenant_id, account_id, display_name,
	country_code, status, onchain_status, onchain_registered_at, created_at,
	updated_at`

// ReadModelRepository implements the ReadModelRepository interface for
// PostgreSQL. Every write is idempotent so projections and reconciliation
// can replay safely.
type ReadModelRepository struct {
	db *sql.DB
}

// NewReadModelRepository creates a new PostgreSQL read model repository
func NewReadModelRepository(db *sql.DB) *ReadModelRepository {
	return &ReadModelRepository{db: db}
}

func (r *ReadModelRepository) executor(tx *sql.Tx) executor {
	if tx != nil {
		return tx
	}
	return r.db
}

// UpsertProfile inserts or updates a user profile
func (r *ReadModelRepository) UpsertProfile(ctx context.Context, tx *sql.Tx, p *relationaldb.UserProfile) error {
	tenant := p.TenantID
	if tenant == "" {
		tenant = relationaldb.DefaultTenant
	}

	query := `INSERT INTO user_profiles
		(profile_id, tenant_id, account_id, display_name, country_code,
		 status, onchain_status, onchain_registered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (profile_id) DO UPDATE SET
			account_id = EXCLUDED.account_id,
			display_name = EXCLUDED.display_name,
			country_code = EXCLUDED.country_code,
			status = EXCLUDED.status,
			onchain_status = EXCLUDED.onchain_status,
			onchain_registered_at = COALESCE(user_profiles.onchain_registered_at, EXCLUDED.onchain_registered_at),
			updated_at = NOW()`

	_, err := r.executor(tx).ExecContext(ctx, query, p.ProfileID, tenant,
		p.AccountID, p.DisplayName, p.CountryCode, string(p.Status),
		string(p.OnchainStatus), p.OnchainRegisteredAt)
	if err != nil {
		return relationaldb.NewQueryError("upsert_profile", "failed to upsert user profile", err)
	}
	return nil
}

// GetProfile returns a profile by id
func (r *ReadModelRepository) GetProfile(ctx context.Context, profileID string) (*relationaldb.UserProfile, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM user_profiles WHERE profile_id = $1`, profileID)
	return scanProfile(row)
}

// GetProfileByAccountID returns a profile by its on-chain account id
func (r *ReadModelRepository) GetProfileByAccountID(ctx context.Context, accountID string) (*relationaldb.UserProfile, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM user_profiles WHERE account_id = $1`, accountID)
	return scanProfile(row)
}

// SetProfileStatus updates the off-chain and on-chain status of a profile.
// registeredAt is only stamped once; later calls keep the first value.
func (r *ReadModelRepository) SetProfileStatus(ctx context.Context, tx *sql.Tx, profileID string, status relationaldb.UserStatus, onchain relationaldb.OnchainStatus, registeredAt *time.Time) error {
	res, err := r.executor(tx).ExecContext(ctx,
		`UPDATE user_profiles SET
			status = $2,
			onchain_status = $3,
			onchain_registered_at = COALESCE(onchain_registered_at, $4),
			updated_at = NOW()
		 WHERE profile_id = $1`,
		profileID, string(status), string(onchain), registeredAt)
	if err != nil {
		return relationaldb.NewQueryError("set_profile_status", "failed to update profile status", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return relationaldb.NewQueryError("set_profile_status", "failed to read affected rows", err)
	}
	if n == 0 {
		return relationaldb.ErrProfileNotFound
	}
	return nil
}

// EnsureWallet creates the primary wallet for a profile if none exists.
func (r *ReadModelRepository) EnsureWallet(ctx context.Context, tx *sql.Tx, profileID, tenantID string) (*relationaldb.Wallet, error) {
	if tenantID == "" {
		tenantID = relationaldb.DefaultTenant
	}
	exec := r.executor(tx)

	// The partial unique index on (profile_id) WHERE deleted_at IS NULL
	// makes the insert race-safe.
	_, err := exec.ExecContext(ctx,
		`INSERT INTO wallets (wallet_id, profile_id, tenant_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (profile_id) WHERE deleted_at IS NULL DO NOTHING`,
		uuid.NewString(), profileID, tenantID)
	if err != nil {
		return nil, relationaldb.NewQueryError("ensure_wallet", "failed to insert wallet", err)
	}

	row := exec.QueryRowContext(ctx,
		`SELECT wallet_id, profile_id, tenant_id, cached_balance, deleted_at,
			created_at, updated_at
		 FROM wallets WHERE profile_id = $1 AND deleted_at IS NULL`, profileID)

	return scanWallet(row)
}

// GetWalletByProfile returns the live wallet of a profile
func (r *ReadModelRepository) GetWalletByProfile(ctx context.Context, profileID string) (*relationaldb.Wallet, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT wallet_id, profile_id, tenant_id, cached_balance, deleted_at,
			created_at, updated_at
		 FROM wallets WHERE profile_id = $1 AND deleted_at IS NULL`, profileID)
	return scanWallet(row)
}

// SetWalletBalance overwrites the cached balance of a wallet
func (r *ReadModelRepository) SetWalletBalance(ctx context.Context, tx *sql.Tx, walletID string, balance int64) error {
	res, err := r.executor(tx).ExecContext(ctx,
		`UPDATE wallets SET cached_balance = $2, updated_at = NOW()
		 WHERE wallet_id = $1 AND deleted_at IS NULL`, walletID, balance)
	if err != nil {
		return relationaldb.NewQueryError("set_wallet_balance", "failed to update balance", err)
	}
	return requireWallet(res)
}

// SetWalletBalanceByProfile overwrites the cached balance of a profile's
// live wallet
func (r *ReadModelRepository) SetWalletBalanceByProfile(ctx context.Context, tx *sql.Tx, profileID string, balance int64) error {
	res, err := r.executor(tx).ExecContext(ctx,
		`UPDATE wallets SET cached_balance = $2, updated_at = NOW()
		 WHERE profile_id = $1 AND deleted_at IS NULL`, profileID, balance)
	if err != nil {
		return relationaldb.NewQueryError("set_wallet_balance", "failed to update balance", err)
	}
	return requireWallet(res)
}

// RecordTransaction inserts a transaction row, idempotent on tx_id.
func (r *ReadModelRepository) RecordTransaction(ctx context.Context, tx *sql.Tx, rec *relationaldb.TransactionRecord) error {
	tenant := rec.TenantID
	if tenant == "" {
		tenant = relationaldb.DefaultTenant
	}

	query := `INSERT INTO transactions
		(tx_id, tenant_id, type, from_account, to_account, amount, fee,
		 purpose, category, external_ref, blockchain_tx_id, block_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (tx_id) DO NOTHING`

	_, err := r.executor(tx).ExecContext(ctx, query, rec.TxID, tenant,
		rec.Type, rec.FromAccount, rec.ToAccount, rec.Amount, rec.Fee,
		rec.Purpose, rec.Category, rec.ExternalRef, rec.BlockchainTxID,
		int64(rec.BlockNumber))
	if err != nil {
		return relationaldb.NewQueryError("record_transaction", "failed to insert transaction", err)
	}
	return nil
}

// GetTransaction returns a transaction row by id
func (r *ReadModelRepository) GetTransaction(ctx context.Context, txID string) (*relationaldb.TransactionRecord, error) {
	var rec relationaldb.TransactionRecord
	var blockNumber int64

	err := r.db.QueryRowContext(ctx,
		`SELECT tx_id, tenant_id, type, from_account, to_account, amount, fee,
			purpose, category, external_ref, blockchain_tx_id, block_number,
			created_at
		 FROM transactions WHERE tx_id = $1`, txID).
		Scan(&rec.TxID, &rec.TenantID, &rec.Type, &rec.FromAccount,
			&rec.ToAccount, &rec.Amount, &rec.Fee, &rec.Purpose, &rec.Category,
			&rec.ExternalRef, &rec.BlockchainTxID, &blockNumber, &rec.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, relationaldb.NewQueryError("get_transaction", "failed to query transaction", err)
	}

	rec.BlockNumber = uint64(blockNumber)
	return &rec, nil
}

// InsertNotification stores a user-facing notification
func (r *ReadModelRepository) InsertNotification(ctx context.Context, tx *sql.Tx, n *relationaldb.Notification) error {
	tenant := n.TenantID
	if tenant == "" {
		tenant = relationaldb.DefaultTenant
	}
	id := n.NotificationID
	if id == "" {
		id = uuid.NewString()
	}

	_, err := r.executor(tx).ExecContext(ctx,
		`INSERT INTO notifications (notification_id, tenant_id, profile_id, kind, message)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (notification_id) DO NOTHING`,
		id, tenant, n.ProfileID, n.Kind, n.Message)
	if err != nil {
		return relationaldb.NewQueryError("insert_notification", "failed to insert notification", err)
	}
	return nil
}

// ListNotifications returns the most recent notifications for a profile
func (r *ReadModelRepository) ListNotifications(ctx context.Context, profileID string, limit int) ([]*relationaldb.Notification, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT notification_id, tenant_id, profile_id, kind, message, created_at
		 FROM notifications WHERE profile_id = $1
		 ORDER BY created_at DESC LIMIT $2`, profileID, limit)
	if err != nil {
		return nil, relationaldb.NewQueryError("list_notifications", "failed to query notifications", err)
	}
	defer rows.Close()

	var results []*relationaldb.Notification
	for rows.Next() {
		var n relationaldb.Notification
		if err := rows.Scan(&n.NotificationID, &n.TenantID, &n.ProfileID,
			&n.Kind, &n.Message, &n.CreatedAt); err != nil {
			return nil, relationaldb.NewQueryError("list_notifications", "failed to scan notification", err)
		}
		results = append(results, &n)
	}

	if err := rows.Err(); err != nil {
		return nil, relationaldb.NewQueryError("list_notifications", "error iterating notifications", err)
	}
	return results, nil
}

// AppendEventLog archives a ledger event, idempotent on (txID, eventName).
func (r *ReadModelRepository) AppendEventLog(ctx context.Context, tx *sql.Tx, rec *relationaldb.EventLogRecord) error {
	_, err := r.executor(tx).ExecContext(ctx,
		`INSERT INTO event_logs (event_name, payload, fabric_tx_id, block_number)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (fabric_tx_id, event_name) DO NOTHING`,
		rec.EventName, rec.Payload, rec.FabricTxID, int64(rec.BlockNumber))
	if err != nil {
		return relationaldb.NewQueryError("append_event_log", "failed to insert event log", err)
	}
	return nil
}

func requireWallet(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return relationaldb.NewQueryError("rows_affected", "failed to read affected rows", err)
	}
	if n == 0 {
		return relationaldb.ErrWalletNotFound
	}
	return nil
}

func scanProfile(row rowScanner) (*relationaldb.UserProfile, error) {
	var p relationaldb.UserProfile
	var registeredAt sql.NullTime

	err := row.Scan(&p.ProfileID, &p.TenantID, &p.AccountID, &p.DisplayName,
		&p.CountryCode, &p.Status, &p.OnchainStatus, &registeredAt,
		&p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, relationaldb.ErrProfileNotFound
	}
	if err != nil {
		return nil, relationaldb.NewQueryError("scan_profile", "failed to scan user profile", err)
	}

	if registeredAt.Valid {
		t := registeredAt.Time
		p.OnchainRegisteredAt = &t
	}
	return &p, nil
}

func scanWallet(row rowScanner) (*relationaldb.Wallet, error) {
	var w relationaldb.Wallet
	var deletedAt sql.NullTime

	err := row.Scan(&w.WalletID, &w.ProfileID, &w.TenantID, &w.CachedBalance,
		&deletedAt, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, relationaldb.ErrWalletNotFound
	}
	if err != nil {
		return nil, relationaldb.NewQueryError("scan_wallet", "failed to scan wallet", err)
	}

	if deletedAt.Valid {
		t := deletedAt.Time
		w.DeletedAt = &t
	}
	return &w, nil
}

var _ relationaldb.ReadModelRepository = (*ReadModelRepository)(nil)
