package projector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/qirat-network/qiratd/internal/events"
	"github.com/qirat-network/qiratd/internal/fabric"
	"github.com/qirat-network/qiratd/internal/storage/relationaldb"
)

// project decodes the event, applies its projection and advances the
// checkpoint in one database transaction. Unknown events still archive
// and advance the checkpoint: the chaincode may emit names the backend
// has not learned yet.
func (w *Worker) project(ctx context.Context, event *fabric.Event) error {
	var decoded any
	if events.Known(event.Name) {
		var err error
		decoded, err = events.Decode(event.Name, event.Payload)
		if err != nil {
			return err
		}
	} else {
		w.logger.Warn("unknown chaincode event, archiving only",
			zap.String("event", event.Name))
	}

	return w.db.RunInTransaction(ctx, func(tx *sql.Tx) error {
		if err := w.readModel.AppendEventLog(ctx, tx, &relationaldb.EventLogRecord{
			EventName:   event.Name,
			Payload:     event.Payload,
			FabricTxID:  event.TxID,
			BlockNumber: event.BlockNumber,
		}); err != nil {
			return err
		}

		if decoded != nil {
			if err := w.apply(ctx, tx, event, decoded); err != nil {
				return err
			}
		}

		return w.state.Advance(ctx, tx, w.name, event.BlockNumber, event.TxID)
	})
}

func (w *Worker) apply(ctx context.Context, tx *sql.Tx, event *fabric.Event, decoded any) error {
	switch e := decoded.(type) {
	case *events.UserCreatedEvent:
		return w.applyUserCreated(ctx, tx, e)
	case *events.WalletCreatedEvent:
		return w.applyWalletCreated(ctx, tx, e)
	case *events.TransferCompletedEvent:
		return w.applyTransfer(ctx, tx, event, e)
	case *events.GenesisDistributedEvent:
		return w.applyGenesis(ctx, tx, event, e)
	case *events.VelocityTaxAppliedEvent:
		return w.applyVelocityTax(ctx, tx, event, e)
	case *events.TreasuryAllocationEvent:
		return w.recordSystemTransaction(ctx, tx, event, "TREASURY_ALLOCATION", "", e.Bucket, e.Amount, "0")
	case *events.WalletStatusEvent:
		return w.applyWalletStatus(ctx, tx, event, e)
	case *events.SystemLifecycleEvent, *events.OrgTxExecutedEvent,
		*events.ProposalExecutedEvent, *events.LoanApprovedEvent:
		// Archived above; no read-model tables to update.
		return nil
	default:
		return nil
	}
}

// applyUserCreated stamps the on-chain registration on the matching
// profile. Accounts created outside this backend have no local profile;
// the archived event is all that remains of them.
func (w *Worker) applyUserCreated(ctx context.Context, tx *sql.Tx, e *events.UserCreatedEvent) error {
	profile, err := w.readModel.GetProfileByAccountID(ctx, e.UserID)
	if err != nil {
		if errors.Is(err, relationaldb.ErrProfileNotFound) {
			return nil
		}
		return err
	}

	registeredAt := time.Now().UTC()
	if ts, err := time.Parse(time.RFC3339, e.Timestamp); err == nil {
		registeredAt = ts
	}
	return w.readModel.SetProfileStatus(ctx, tx, profile.ProfileID,
		relationaldb.UserActive, relationaldb.OnchainActive, &registeredAt)
}

func (w *Worker) applyWalletCreated(ctx context.Context, tx *sql.Tx, e *events.WalletCreatedEvent) error {
	profile, err := w.readModel.GetProfileByAccountID(ctx, e.OwnerID)
	if err != nil {
		if errors.Is(err, relationaldb.ErrProfileNotFound) {
			return nil
		}
		return err
	}

	if _, err := w.readModel.EnsureWallet(ctx, tx, profile.ProfileID, profile.TenantID); err != nil {
		return err
	}

	if e.InitialBalance == "" {
		return nil
	}
	balance, err := parseAmount(e.InitialBalance)
	if err != nil {
		return err
	}
	return w.readModel.SetWalletBalanceByProfile(ctx, tx, profile.ProfileID, balance)
}

// applyTransfer records the transaction and notifies both local parties.
// Notification ids derive from the fabric tx id so replays are no-ops.
func (w *Worker) applyTransfer(ctx context.Context, tx *sql.Tx, event *fabric.Event, e *events.TransferCompletedEvent) error {
	amount, err := parseAmount(e.Amount)
	if err != nil {
		return err
	}
	fee, err := parseAmount(e.Fee)
	if err != nil {
		return err
	}

	txType := e.TxType
	if txType == "" {
		txType = "TRANSFER"
	}

	if err := w.readModel.RecordTransaction(ctx, tx, &relationaldb.TransactionRecord{
		TxID:           event.TxID,
		Type:           txType,
		FromAccount:    e.From,
		ToAccount:      e.To,
		Amount:         amount,
		Fee:            fee,
		ExternalRef:    e.IdempotencyKey,
		BlockchainTxID: event.TxID,
		BlockNumber:    event.BlockNumber,
	}); err != nil {
		return err
	}

	parties := []struct {
		accountID string
		balance   string
		kind      string
	}{
		{e.From, e.FromBalance, "WALLET_DEBITED"},
		{e.To, e.ToBalance, "WALLET_CREDITED"},
	}
	for _, party := range parties {
		profile, err := w.readModel.GetProfileByAccountID(ctx, party.accountID)
		if err != nil {
			if errors.Is(err, relationaldb.ErrProfileNotFound) {
				continue
			}
			return err
		}
		if party.balance != "" {
			balance, err := parseAmount(party.balance)
			if err != nil {
				return err
			}
			if err := w.readModel.SetWalletBalanceByProfile(ctx, tx, profile.ProfileID, balance); err != nil {
				return err
			}
		}
		if err := w.readModel.InsertNotification(ctx, tx, &relationaldb.Notification{
			NotificationID: event.TxID + "-" + party.kind,
			ProfileID:      profile.ProfileID,
			Kind:           party.kind,
			Message:        fmt.Sprintf("Transfer of %s Qirat confirmed on ledger", e.Amount),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) applyGenesis(ctx context.Context, tx *sql.Tx, event *fabric.Event, e *events.GenesisDistributedEvent) error {
	if err := w.recordSystemTransaction(ctx, tx, event, "GENESIS", "", e.UserID, e.Amount, "0"); err != nil {
		return err
	}

	profile, err := w.readModel.GetProfileByAccountID(ctx, e.UserID)
	if err != nil {
		if errors.Is(err, relationaldb.ErrProfileNotFound) {
			return nil
		}
		return err
	}
	return w.readModel.InsertNotification(ctx, tx, &relationaldb.Notification{
		NotificationID: event.TxID + "-GENESIS",
		ProfileID:      profile.ProfileID,
		Kind:           "GENESIS_RECEIVED",
		Message:        fmt.Sprintf("Genesis allocation of %s Qirat received", e.Amount),
	})
}

func (w *Worker) applyVelocityTax(ctx context.Context, tx *sql.Tx, event *fabric.Event, e *events.VelocityTaxAppliedEvent) error {
	return w.recordSystemTransaction(ctx, tx, event, "VELOCITY_TAX", e.AccountID, "", e.TaxAmount, "0")
}

// applyWalletStatus freezes or reactivates the local profile of a frozen
// or unfrozen wallet, on both the off-chain and on-chain state.
func (w *Worker) applyWalletStatus(ctx context.Context, tx *sql.Tx, event *fabric.Event, e *events.WalletStatusEvent) error {
	profile, err := w.readModel.GetProfileByAccountID(ctx, e.AccountID)
	if err != nil {
		if errors.Is(err, relationaldb.ErrProfileNotFound) {
			return nil
		}
		return err
	}

	status := relationaldb.UserActive
	onchain := relationaldb.OnchainActive
	kind := "WALLET_UNFROZEN"
	if event.Name == events.WalletFrozen {
		status = relationaldb.UserFrozen
		onchain = relationaldb.OnchainFrozen
		kind = "WALLET_FROZEN"
	}

	if err := w.readModel.SetProfileStatus(ctx, tx, profile.ProfileID,
		status, onchain, nil); err != nil {
		return err
	}
	return w.readModel.InsertNotification(ctx, tx, &relationaldb.Notification{
		NotificationID: event.TxID + "-" + kind,
		ProfileID:      profile.ProfileID,
		Kind:           kind,
		Message:        e.Reason,
	})
}

func (w *Worker) recordSystemTransaction(ctx context.Context, tx *sql.Tx, event *fabric.Event, txType, from, to, amountStr, feeStr string) error {
	amount, err := parseAmount(amountStr)
	if err != nil {
		return err
	}
	fee, err := parseAmount(feeStr)
	if err != nil {
		return err
	}
	return w.readModel.RecordTransaction(ctx, tx, &relationaldb.TransactionRecord{
		TxID:           event.TxID,
		Type:           txType,
		FromAccount:    from,
		ToAccount:      to,
		Amount:         amount,
		Fee:            fee,
		BlockchainTxID: event.TxID,
		BlockNumber:    event.BlockNumber,
	})
}

// parseAmount parses a decimal integer amount string; empty means zero.
func parseAmount(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable amount %q: %w", s, err)
	}
	return v, nil
}
