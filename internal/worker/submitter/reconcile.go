package submitter

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/qirat-network/qiratd/internal/outbox"
	"github.com/qirat-network/qiratd/internal/storage/relationaldb"
)

// reconcile applies read-model side effects after a commit. Every write is
// idempotent, so a crash between commit and reconciliation only delays the
// update until the projector replays the committed events. Reconciliation
// failures are logged, never retried against the outbox row.
func (w *Worker) reconcile(ctx context.Context, cmd *relationaldb.OutboxCommand, gateway Gateway, logger *zap.Logger) {
	var err error
	switch cmd.CommandType {
	case outbox.CmdCreateUser:
		err = w.reconcileCreateUser(ctx, cmd, gateway)
	case outbox.CmdTransferTokens:
		err = w.reconcileTransfer(ctx, cmd, gateway)
	default:
		return
	}

	if err != nil {
		logger.Warn("post-commit reconciliation failed", zap.Error(err))
	}
}

// reconcileCreateUser activates the profile, provisions its wallet and
// refreshes the cached balance from the chain.
func (w *Worker) reconcileCreateUser(ctx context.Context, cmd *relationaldb.OutboxCommand, gateway Gateway) error {
	var p outbox.CreateUserPayload
	if err := json.Unmarshal(cmd.Payload, &p); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}

	registeredAt := time.Now().UTC()
	err := w.db.RunInTransaction(ctx, func(tx *sql.Tx) error {
		if err := w.readModel.SetProfileStatus(ctx, tx, p.ProfileID,
			relationaldb.UserActive, relationaldb.OnchainActive, &registeredAt); err != nil {
			return err
		}
		_, err := w.readModel.EnsureWallet(ctx, tx, p.ProfileID, cmd.TenantID)
		return err
	})
	if err != nil {
		return err
	}

	balance, err := w.queryBalance(ctx, gateway, p.UserID)
	if err != nil {
		return err
	}
	if err := w.readModel.SetWalletBalanceByProfile(ctx, nil, p.ProfileID, balance); err != nil {
		return err
	}

	w.publish("notifications", map[string]any{
		"kind":       "USER_REGISTERED",
		"profile_id": p.ProfileID,
		"account_id": p.UserID,
	})
	return nil
}

// reconcileTransfer refreshes both cached balances and notifies both
// parties. Notification ids derive from the command id so replays cannot
// duplicate them.
func (w *Worker) reconcileTransfer(ctx context.Context, cmd *relationaldb.OutboxCommand, gateway Gateway) error {
	var p outbox.TransferTokensPayload
	if err := json.Unmarshal(cmd.Payload, &p); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}

	parties := []struct {
		accountID string
		peerID    string
		kind      string
		direction string
	}{
		{p.From, p.To, "WALLET_DEBITED", "to"},
		{p.To, p.From, "WALLET_CREDITED", "from"},
	}

	for _, party := range parties {
		profile, err := w.readModel.GetProfileByAccountID(ctx, party.accountID)
		if err != nil {
			// Counterparties without a local profile (treasuries,
			// organizations) have no wallet to refresh.
			continue
		}

		balance, err := w.queryBalance(ctx, gateway, party.accountID)
		if err != nil {
			return err
		}

		peer := w.displayName(ctx, party.peerID)
		err = w.db.RunInTransaction(ctx, func(tx *sql.Tx) error {
			if err := w.readModel.SetWalletBalanceByProfile(ctx, tx, profile.ProfileID, balance); err != nil {
				return err
			}
			return w.readModel.InsertNotification(ctx, tx, &relationaldb.Notification{
				NotificationID: cmd.ID + "-" + strings.ToLower(party.kind),
				TenantID:       cmd.TenantID,
				ProfileID:      profile.ProfileID,
				Kind:           party.kind,
				Message:        fmt.Sprintf("Transfer of %s Qirat %s %s processed", p.Amount, party.direction, peer),
			})
		})
		if err != nil {
			return err
		}

		w.publish("notifications", map[string]any{
			"kind":       party.kind,
			"profile_id": profile.ProfileID,
			"amount":     p.Amount,
		})
	}
	return nil
}

// displayName resolves the counterparty name shown in transfer
// notifications. Accounts without a local profile (treasuries,
// organizations) fall back to their account id.
func (w *Worker) displayName(ctx context.Context, accountID string) string {
	profile, err := w.readModel.GetProfileByAccountID(ctx, accountID)
	if err != nil || profile.DisplayName == "" {
		return accountID
	}
	return profile.DisplayName
}

// queryBalance evaluates the chain-side balance for an account. The
// chaincode returns a decimal integer string.
func (w *Worker) queryBalance(ctx context.Context, gateway Gateway, accountID string) (int64, error) {
	raw, err := gateway.Evaluate(ctx, outbox.ContractTokenomics, "GetBalance", accountID)
	if err != nil {
		return 0, fmt.Errorf("balance query for %s failed: %w", accountID, err)
	}

	balance, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable balance %q for %s: %w", raw, accountID, err)
	}
	return balance, nil
}

func (w *Worker) publish(stream string, payload any) {
	if w.publisher != nil {
		w.publisher.Publish(stream, payload)
	}
}
