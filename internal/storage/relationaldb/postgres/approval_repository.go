package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/qirat-network/qiratd/internal/storage/relationaldb"
)

const pendingColumns = `pending_tx_id, tenant_id, entity_type, entity_id,
	transaction_type, from_entity_id, to_entity_id, amount, fee, purpose,
	category, external_ref, required_approvals, current_approvals, status,
	initiated_by, initiated_at, expires_at, executed_at, executed_tx_id,
	rejected_by, rejected_at, rejection_reason`

// ApprovalRepository implements the ApprovalRepository interface for
// PostgreSQL
type ApprovalRepository struct {
	db *sql.DB
}

// NewApprovalRepository creates a new PostgreSQL approval repository
func NewApprovalRepository(db *sql.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

func (r *ApprovalRepository) executor(tx *sql.Tx) executor {
	if tx != nil {
		return tx
	}
	return r.db
}

// CreatePending inserts a pending multi-sig transaction.
func (r *ApprovalRepository) CreatePending(ctx context.Context, tx *sql.Tx, p *relationaldb.PendingMultiSigTransaction) error {
	tenant := p.TenantID
	if tenant == "" {
		tenant = relationaldb.DefaultTenant
	}

	query := `INSERT INTO pending_multisig_transactions
		(pending_tx_id, tenant_id, entity_type, entity_id, transaction_type,
		 from_entity_id, to_entity_id, amount, fee, purpose, category,
		 external_ref, required_approvals, status, initiated_by, initiated_at,
		 expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		 'PENDING', $14, $15, $16)`

	_, err := r.executor(tx).ExecContext(ctx, query, p.PendingTxID, tenant,
		p.EntityType, p.EntityID, p.TransactionType, p.FromEntityID,
		p.ToEntityID, p.Amount, p.Fee, p.Purpose, p.Category, p.ExternalRef,
		p.RequiredApprovals, p.InitiatedBy, p.InitiatedAt, p.ExpiresAt)
	if err != nil {
		return relationaldb.NewQueryError("create_pending", "failed to insert pending transaction", err)
	}

	return nil
}

// GetPending returns a pending transaction by id
func (r *ApprovalRepository) GetPending(ctx context.Context, pendingTxID string) (*relationaldb.PendingMultiSigTransaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+pendingColumns+` FROM pending_multisig_transactions
		 WHERE pending_tx_id = $1`, pendingTxID)

	p, err := scanPending(row)
	if err == sql.ErrNoRows {
		return nil, relationaldb.ErrApprovalNotFound
	}
	if err != nil {
		return nil, relationaldb.NewQueryError("get_pending", "failed to query pending transaction", err)
	}
	return p, nil
}

// ListPendingByEntity returns pending transactions for an entity
func (r *ApprovalRepository) ListPendingByEntity(ctx context.Context, entityType, entityID string) ([]*relationaldb.PendingMultiSigTransaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+pendingColumns+` FROM pending_multisig_transactions
		 WHERE entity_type = $1 AND entity_id = $2 AND status = 'PENDING'
		 ORDER BY initiated_at`, entityType, entityID)
	if err != nil {
		return nil, relationaldb.NewQueryError("list_pending", "failed to query pending transactions", err)
	}
	defer rows.Close()

	var results []*relationaldb.PendingMultiSigTransaction
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, relationaldb.NewQueryError("list_pending", "failed to scan row", err)
		}
		results = append(results, p)
	}

	if err := rows.Err(); err != nil {
		return nil, relationaldb.NewQueryError("list_pending", "error iterating rows", err)
	}
	return results, nil
}

// RecordVote inserts a vote; an approval also increments the counter so
// currentApprovals always equals the count of approving votes. The
// returned count is the row's value after the vote, read under the row
// lock the increment takes, so two concurrent approvals observe distinct
// counts.
func (r *ApprovalRepository) RecordVote(ctx context.Context, tx *sql.Tx, vote *relationaldb.MultiSigVote) (int, error) {
	exec := r.executor(tx)

	_, err := exec.ExecContext(ctx,
		`INSERT INTO multisig_votes
			(vote_id, pending_tx_id, voter_id, voter_role, approved, remarks, voted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		vote.VoteID, vote.PendingTxID, vote.VoterID, vote.VoterRole,
		vote.Approved, vote.Remarks, vote.VotedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return 0, relationaldb.ErrDuplicateVote
		}
		return 0, relationaldb.NewQueryError("record_vote", "failed to insert vote", err)
	}

	var count int
	if vote.Approved {
		err = exec.QueryRowContext(ctx,
			`UPDATE pending_multisig_transactions
			 SET current_approvals = current_approvals + 1
			 WHERE pending_tx_id = $1
			 RETURNING current_approvals`, vote.PendingTxID).Scan(&count)
		if err != nil {
			return 0, relationaldb.NewQueryError("record_vote", "failed to increment approvals", err)
		}
		return count, nil
	}

	err = exec.QueryRowContext(ctx,
		`SELECT current_approvals FROM pending_multisig_transactions
		 WHERE pending_tx_id = $1 FOR UPDATE`, vote.PendingTxID).Scan(&count)
	if err != nil {
		return 0, relationaldb.NewQueryError("record_vote", "failed to read approvals", err)
	}
	return count, nil
}

// ListVotes returns the votes cast on a pending transaction
func (r *ApprovalRepository) ListVotes(ctx context.Context, pendingTxID string) ([]*relationaldb.MultiSigVote, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT vote_id, pending_tx_id, voter_id, voter_role, approved, remarks, voted_at
		 FROM multisig_votes WHERE pending_tx_id = $1 ORDER BY voted_at`, pendingTxID)
	if err != nil {
		return nil, relationaldb.NewQueryError("list_votes", "failed to query votes", err)
	}
	defer rows.Close()

	var votes []*relationaldb.MultiSigVote
	for rows.Next() {
		var v relationaldb.MultiSigVote
		if err := rows.Scan(&v.VoteID, &v.PendingTxID, &v.VoterID, &v.VoterRole,
			&v.Approved, &v.Remarks, &v.VotedAt); err != nil {
			return nil, relationaldb.NewQueryError("list_votes", "failed to scan vote", err)
		}
		votes = append(votes, &v)
	}

	if err := rows.Err(); err != nil {
		return nil, relationaldb.NewQueryError("list_votes", "error iterating votes", err)
	}
	return votes, nil
}

// UpdateStatus performs a conditional state transition
func (r *ApprovalRepository) UpdateStatus(ctx context.Context, tx *sql.Tx, pendingTxID string, fromStatus, toStatus relationaldb.ApprovalStatus) error {
	res, err := r.executor(tx).ExecContext(ctx,
		`UPDATE pending_multisig_transactions
		 SET status = $3
		 WHERE pending_tx_id = $1 AND status = $2`,
		pendingTxID, string(fromStatus), string(toStatus))
	if err != nil {
		return relationaldb.NewQueryError("update_status", "failed to update status", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return relationaldb.NewQueryError("update_status", "failed to read affected rows", err)
	}
	if n == 0 {
		return relationaldb.ErrApprovalNotFound
	}
	return nil
}

// MarkExecuted finalizes an approved transaction after ledger commit
func (r *ApprovalRepository) MarkExecuted(ctx context.Context, pendingTxID, executedTxID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE pending_multisig_transactions
		 SET status = 'EXECUTED', executed_at = NOW(), executed_tx_id = $2
		 WHERE pending_tx_id = $1 AND status = 'APPROVED'`,
		pendingTxID, executedTxID)
	if err != nil {
		return relationaldb.NewQueryError("mark_executed", "failed to mark executed", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return relationaldb.NewQueryError("mark_executed", "failed to read affected rows", err)
	}
	if n == 0 {
		return relationaldb.ErrApprovalNotFound
	}
	return nil
}

// MarkRejected terminates a pending transaction with a rejection
func (r *ApprovalRepository) MarkRejected(ctx context.Context, tx *sql.Tx, pendingTxID, rejectedBy, reason string) error {
	res, err := r.executor(tx).ExecContext(ctx,
		`UPDATE pending_multisig_transactions
		 SET status = 'REJECTED', rejected_by = $2, rejected_at = NOW(), rejection_reason = $3
		 WHERE pending_tx_id = $1 AND status = 'PENDING'`,
		pendingTxID, rejectedBy, reason)
	if err != nil {
		return relationaldb.NewQueryError("mark_rejected", "failed to mark rejected", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return relationaldb.NewQueryError("mark_rejected", "failed to read affected rows", err)
	}
	if n == 0 {
		return relationaldb.ErrApprovalNotFound
	}
	return nil
}

// ActiveRules returns active rules for the entity ordered by rule_order.
// Validity-window and amount filtering is done by the approval engine; the
// query only prunes inactive and clearly out-of-window rules.
func (r *ApprovalRepository) ActiveRules(ctx context.Context, entityType, entityID string, now time.Time) ([]*relationaldb.SignatoryRule, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT rule_id, entity_type, entity_id, rule_order, min_amount,
			max_amount, required_approvals, transaction_types, approver_roles,
			auto_execute, valid_from, valid_until, is_active
		 FROM signatory_rules
		 WHERE entity_type = $1 AND entity_id = $2 AND is_active
		   AND (valid_from IS NULL OR valid_from <= $3)
		   AND (valid_until IS NULL OR valid_until >= $3)
		 ORDER BY rule_order`, entityType, entityID, now)
	if err != nil {
		return nil, relationaldb.NewQueryError("active_rules", "failed to query signatory rules", err)
	}
	defer rows.Close()

	var rules []*relationaldb.SignatoryRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, relationaldb.NewQueryError("active_rules", "failed to scan rule", err)
		}
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, relationaldb.NewQueryError("active_rules", "error iterating rules", err)
	}
	return rules, nil
}

// SaveRule inserts or replaces a signatory rule
func (r *ApprovalRepository) SaveRule(ctx context.Context, rule *relationaldb.SignatoryRule) error {
	query := `INSERT INTO signatory_rules
		(rule_id, entity_type, entity_id, rule_order, min_amount, max_amount,
		 required_approvals, transaction_types, approver_roles, auto_execute,
		 valid_from, valid_until, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (rule_id) DO UPDATE SET
			entity_type = EXCLUDED.entity_type,
			entity_id = EXCLUDED.entity_id,
			rule_order = EXCLUDED.rule_order,
			min_amount = EXCLUDED.min_amount,
			max_amount = EXCLUDED.max_amount,
			required_approvals = EXCLUDED.required_approvals,
			transaction_types = EXCLUDED.transaction_types,
			approver_roles = EXCLUDED.approver_roles,
			auto_execute = EXCLUDED.auto_execute,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			is_active = EXCLUDED.is_active`

	_, err := r.db.ExecContext(ctx, query, rule.RuleID, rule.EntityType,
		rule.EntityID, rule.RuleOrder, rule.MinAmount, rule.MaxAmount,
		rule.RequiredApprovals, strings.Join(rule.TransactionTypes, ","),
		strings.Join(rule.ApproverRoles, ","), rule.AutoExecute,
		rule.ValidFrom, rule.ValidUntil, rule.IsActive)
	if err != nil {
		return relationaldb.NewQueryError("save_rule", "failed to save signatory rule", err)
	}
	return nil
}

func scanPending(row rowScanner) (*relationaldb.PendingMultiSigTransaction, error) {
	var p relationaldb.PendingMultiSigTransaction
	var executedAt, rejectedAt sql.NullTime

	err := row.Scan(&p.PendingTxID, &p.TenantID, &p.EntityType, &p.EntityID,
		&p.TransactionType, &p.FromEntityID, &p.ToEntityID, &p.Amount, &p.Fee,
		&p.Purpose, &p.Category, &p.ExternalRef, &p.RequiredApprovals,
		&p.CurrentApprovals, &p.Status, &p.InitiatedBy, &p.InitiatedAt,
		&p.ExpiresAt, &executedAt, &p.ExecutedTxID, &p.RejectedBy,
		&rejectedAt, &p.RejectionReason)
	if err != nil {
		return nil, err
	}

	if executedAt.Valid {
		t := executedAt.Time
		p.ExecutedAt = &t
	}
	if rejectedAt.Valid {
		t := rejectedAt.Time
		p.RejectedAt = &t
	}
	return &p, nil
}

func scanRule(row rowScanner) (*relationaldb.SignatoryRule, error) {
	var rule relationaldb.SignatoryRule
	var minAmount, maxAmount sql.NullInt64
	var txTypes, roles string
	var validFrom, validUntil sql.NullTime

	err := row.Scan(&rule.RuleID, &rule.EntityType, &rule.EntityID,
		&rule.RuleOrder, &minAmount, &maxAmount, &rule.RequiredApprovals,
		&txTypes, &roles, &rule.AutoExecute, &validFrom, &validUntil,
		&rule.IsActive)
	if err != nil {
		return nil, err
	}

	if minAmount.Valid {
		v := minAmount.Int64
		rule.MinAmount = &v
	}
	if maxAmount.Valid {
		v := maxAmount.Int64
		rule.MaxAmount = &v
	}
	if validFrom.Valid {
		t := validFrom.Time
		rule.ValidFrom = &t
	}
	if validUntil.Valid {
		t := validUntil.Time
		rule.ValidUntil = &t
	}
	if txTypes != "" {
		rule.TransactionTypes = strings.Split(txTypes, ",")
	}
	if roles != "" {
		rule.ApproverRoles = strings.Split(roles, ",")
	}
	return &rule, nil
}

var _ relationaldb.ApprovalRepository = (*ApprovalRepository)(nil)
