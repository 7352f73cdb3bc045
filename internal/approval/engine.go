// Package approval implements the off-chain multi-signature engine:
// signatory rule selection, pending transaction lifecycle, vote casting
// and the deployment promotion workflow built on top of it.
package approval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qirat-network/qiratd/internal/identifier"
	"github.com/qirat-network/qiratd/internal/outbox"
	"github.com/qirat-network/qiratd/internal/storage/relationaldb"
)

// Sentinel errors.
var (
	ErrNotPending      = errors.New("transaction is not awaiting approval")
	ErrApprovalExpired = errors.New("approval window has expired")
	ErrNotInitiator    = errors.New("only the initiator may cancel")
)

// DefaultExpiry is how long a pending transaction waits for its quorum.
const DefaultExpiry = 72 * time.Hour

// engineService names the outbox producer for quorum-triggered commands.
const engineService = "approval-engine"

// Engine drives the multi-sig approval lifecycle. All state transitions
// that must be atomic with vote recording run inside one database
// transaction.
type Engine struct {
	db        relationaldb.Database
	approvals relationaldb.ApprovalRepository
	outbox    relationaldb.OutboxRepository
	logger    *zap.Logger
	expiry    time.Duration

	now func() time.Time
}

// NewEngine creates an approval engine over the given repositories.
func NewEngine(db relationaldb.Database, approvals relationaldb.ApprovalRepository, outboxRepo relationaldb.OutboxRepository, logger *zap.Logger) *Engine {
	return &Engine{
		db:        db,
		approvals: approvals,
		outbox:    outboxRepo,
		logger:    logger,
		expiry:    DefaultExpiry,
		now:       time.Now,
	}
}

// SetExpiry overrides the approval window.
func (e *Engine) SetExpiry(d time.Duration) {
	if d > 0 {
		e.expiry = d
	}
}

// SelectRule returns the governing signatory rule for a transaction: the
// lowest-ordered active rule whose type list and amount range match. A nil
// rule means no approval is required and the caller executes immediately.
func (e *Engine) SelectRule(ctx context.Context, entityType, entityID, transactionType string, amount int64) (*relationaldb.SignatoryRule, error) {
	rules, err := e.approvals.ActiveRules(ctx, entityType, entityID, e.now())
	if err != nil {
		return nil, err
	}

	for _, rule := range rules {
		if ruleMatches(rule, transactionType, amount) {
			return rule, nil
		}
	}
	return nil, nil
}

func ruleMatches(rule *relationaldb.SignatoryRule, transactionType string, amount int64) bool {
	if len(rule.TransactionTypes) > 0 {
		found := false
		for _, t := range rule.TransactionTypes {
			if t == transactionType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if rule.MinAmount != nil && amount < *rule.MinAmount {
		return false
	}
	if rule.MaxAmount != nil && amount > *rule.MaxAmount {
		return false
	}
	return true
}

// InitiateRequest describes a transaction that may need approval.
type InitiateRequest struct {
	TenantID        string
	EntityType      string
	EntityID        string
	TransactionType string
	FromEntityID    string
	ToEntityID      string
	Amount          int64
	Fee             int64
	Purpose         string
	Category        string
	ExternalRef     string
	InitiatedBy     string
}

// Initiate selects the governing rule and, when one matches, records a
// pending transaction. A nil pending result means no rule applies and the
// caller should execute the operation directly.
func (e *Engine) Initiate(ctx context.Context, req InitiateRequest) (*relationaldb.PendingMultiSigTransaction, *relationaldb.SignatoryRule, error) {
	if !e.validateRecipient(req.ToEntityID) {
		return nil, nil, fmt.Errorf("recipient %s failed validation", req.ToEntityID)
	}

	rule, err := e.SelectRule(ctx, req.EntityType, req.EntityID, req.TransactionType, req.Amount)
	if err != nil {
		return nil, nil, err
	}
	if rule == nil {
		return nil, nil, nil
	}

	pending := &relationaldb.PendingMultiSigTransaction{
		PendingTxID:       uuid.NewString(),
		TenantID:          req.TenantID,
		EntityType:        req.EntityType,
		EntityID:          req.EntityID,
		TransactionType:   req.TransactionType,
		FromEntityID:      req.FromEntityID,
		ToEntityID:        req.ToEntityID,
		Amount:            req.Amount,
		Fee:               req.Fee,
		Purpose:           req.Purpose,
		Category:          req.Category,
		ExternalRef:       req.ExternalRef,
		RequiredApprovals: rule.RequiredApprovals,
		Status:            relationaldb.ApprovalPending,
		InitiatedBy:       req.InitiatedBy,
		InitiatedAt:       e.now(),
		ExpiresAt:         e.now().Add(e.expiry),
	}

	if err := e.approvals.CreatePending(ctx, nil, pending); err != nil {
		return nil, nil, err
	}

	e.logger.Info("multi-sig transaction initiated",
		zap.String("pending_tx_id", pending.PendingTxID),
		zap.String("entity_id", req.EntityID),
		zap.String("transaction_type", req.TransactionType),
		zap.Int("required_approvals", rule.RequiredApprovals),
		zap.String("rule_id", rule.RuleID))

	return pending, rule, nil
}

var recipientHookWarn sync.Once

// validateRecipient screens organizational recipients (for-profit and
// not-for-profit account types). Real screening criteria are not yet
// settled, so every recipient passes; the warn log marks the gap until
// they are.
func (e *Engine) validateRecipient(accountID string) bool {
	if accountID == "" {
		return true
	}
	decoded, err := identifier.Decode(accountID)
	if err != nil {
		// Not a Qirat account id (system bucket, external ref); nothing
		// to screen here.
		return true
	}
	if decoded.AccountType != identifier.AccountForProfit &&
		decoded.AccountType != identifier.AccountNotForProfit {
		return true
	}

	recipientHookWarn.Do(func() {
		e.logger.Warn("organizational recipient screening is not implemented, accepting all recipients")
	})
	return true
}

// VoteRequest is one signatory's vote.
type VoteRequest struct {
	PendingTxID string
	VoterID     string
	VoterRole   string
	Approve     bool
	Remarks     string
}

// CastVote records a vote on a pending transaction. Expiry is applied on
// touch: a vote on an expired transaction transitions it to EXPIRED and
// returns ErrApprovalExpired. When the approving vote reaches quorum the
// transaction becomes APPROVED and, when the governing rule carries
// autoExecute, the execution command is enqueued on the outbox in the
// same database transaction as the vote.
func (e *Engine) CastVote(ctx context.Context, req VoteRequest) (*relationaldb.PendingMultiSigTransaction, error) {
	pending, err := e.approvals.GetPending(ctx, req.PendingTxID)
	if err != nil {
		return nil, err
	}
	if pending.Status != relationaldb.ApprovalPending {
		return pending, ErrNotPending
	}

	if e.now().After(pending.ExpiresAt) {
		if err := e.approvals.UpdateStatus(ctx, nil, pending.PendingTxID,
			relationaldb.ApprovalPending, relationaldb.ApprovalExpired); err != nil {
			return nil, err
		}
		e.logger.Info("pending transaction expired on touch",
			zap.String("pending_tx_id", pending.PendingTxID))
		return pending, ErrApprovalExpired
	}

	vote := &relationaldb.MultiSigVote{
		VoteID:      uuid.NewString(),
		PendingTxID: req.PendingTxID,
		VoterID:     req.VoterID,
		VoterRole:   req.VoterRole,
		Approved:    req.Approve,
		Remarks:     req.Remarks,
		VotedAt:     e.now(),
	}

	err = e.db.RunInTransaction(ctx, func(tx *sql.Tx) error {
		approvals, err := e.approvals.RecordVote(ctx, tx, vote)
		if err != nil {
			return err
		}

		if !req.Approve {
			// Dissent is recorded but does not terminate the transaction:
			// rules carry no eligible-voter count, so quorum is never
			// provably impossible from a single rejection.
			return nil
		}

		// Quorum is decided on the count the increment returned, not the
		// snapshot read before the transaction opened: a concurrent voter
		// may have landed in between, and exactly one of the two must see
		// the count reach the threshold.
		if approvals < pending.RequiredApprovals {
			return nil
		}

		if err := e.approvals.UpdateStatus(ctx, tx, pending.PendingTxID,
			relationaldb.ApprovalPending, relationaldb.ApprovalApproved); err != nil {
			return err
		}

		rule, err := e.SelectRule(ctx, pending.EntityType, pending.EntityID,
			pending.TransactionType, pending.Amount)
		if err != nil {
			return err
		}
		if rule == nil || !rule.AutoExecute {
			return nil
		}

		cmd, err := executionCommand(pending)
		if err != nil {
			return err
		}
		return e.outbox.Enqueue(ctx, tx, cmd)
	})
	if err != nil {
		return nil, err
	}

	return e.approvals.GetPending(ctx, req.PendingTxID)
}

// Cancel terminates a still-pending transaction. Only the initiator may
// cancel.
func (e *Engine) Cancel(ctx context.Context, pendingTxID, requestedBy string) error {
	pending, err := e.approvals.GetPending(ctx, pendingTxID)
	if err != nil {
		return err
	}
	if pending.Status != relationaldb.ApprovalPending {
		return ErrNotPending
	}
	if pending.InitiatedBy != requestedBy {
		return ErrNotInitiator
	}

	if err := e.approvals.UpdateStatus(ctx, nil, pendingTxID,
		relationaldb.ApprovalPending, relationaldb.ApprovalCanceled); err != nil {
		return err
	}

	e.logger.Info("pending transaction canceled",
		zap.String("pending_tx_id", pendingTxID),
		zap.String("canceled_by", requestedBy))
	return nil
}

// MarkExecuted finalizes an approved transaction once its ledger command
// committed.
func (e *Engine) MarkExecuted(ctx context.Context, pendingTxID, fabricTxID string) error {
	return e.approvals.MarkExecuted(ctx, pendingTxID, fabricTxID)
}

// executionCommand builds the outbox command carrying out an approved
// transaction. The pending id doubles as the request id, so re-approval
// can never enqueue the command twice.
func executionCommand(p *relationaldb.PendingMultiSigTransaction) (*relationaldb.OutboxCommand, error) {
	var payload outbox.Payload

	switch p.TransactionType {
	case "ORG_DISBURSEMENT":
		payload = outbox.InitiateMultiSigTxPayload{
			OrgID:       p.EntityID,
			InitiatorID: p.InitiatedBy,
			To:          p.ToEntityID,
			Amount:      strconv.FormatInt(p.Amount, 10),
			Purpose:     p.Purpose,
		}
	default:
		payload = outbox.TransferTokensPayload{
			From:           p.FromEntityID,
			To:             p.ToEntityID,
			Amount:         strconv.FormatInt(p.Amount, 10),
			TxTypeHint:     p.TransactionType,
			Remark:         p.Purpose,
			IdempotencyKey: p.PendingTxID,
		}
	}

	cmd, err := outbox.NewCommand(p.TenantID, engineService, p.PendingTxID, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to build execution command for %s: %w", p.PendingTxID, err)
	}
	return cmd, nil
}
