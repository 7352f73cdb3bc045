// Package events defines the chaincode event names emitted on the channel
// and their payload schemas. The projector decodes raw event payloads
// through the registry here; unknown names are skipped, not failed, so
// chaincode upgrades can add events before the backend learns them.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event names as emitted by the chaincode contracts.
const (
	UserCreated               = "UserCreated"
	WalletCreated             = "WalletCreated"
	TransferEvent             = "TransferEvent"
	TransferWithFeesCompleted = "TransferWithFeesCompleted"
	GenesisDistributed        = "GenesisDistributed"
	VelocityTaxApplied        = "VelocityTaxApplied"
	TreasuryAllocation        = "TreasuryAllocationEvent"
	SystemPaused              = "SystemPaused"
	SystemResumed             = "SystemResumed"
	OrgTxExecuted             = "OrgTxExecuted"
	WalletFrozen              = "WalletFrozen"
	WalletUnfrozen            = "WalletUnfrozen"
	ProposalExecuted          = "ProposalExecuted"
	LoanApproved              = "LoanApproved"
)

// ErrUnknownEvent is returned by Decode for names outside the registry.
var ErrUnknownEvent = errors.New("unknown chaincode event")

// UserCreatedEvent announces a new on-chain identity.
type UserCreatedEvent struct {
	UserID      string `json:"userId"`
	CountryCode string `json:"countryCode"`
	Timestamp   string `json:"timestamp"`
}

// WalletCreatedEvent announces the wallet provisioned for a new identity.
type WalletCreatedEvent struct {
	WalletID       string `json:"walletId"`
	OwnerID        string `json:"ownerId"`
	InitialBalance string `json:"initialBalance"`
}

// TransferCompletedEvent is emitted for both plain transfers and
// fee-bearing transfers; fee fields are zero for the former.
// FromBalance and ToBalance carry the post-transfer balances so the
// read model refreshes its cache without a chain query; events from
// older chaincode versions omit them.
type TransferCompletedEvent struct {
	From           string `json:"from"`
	To             string `json:"to"`
	Amount         string `json:"amount"`
	Fee            string `json:"fee"`
	NetAmount      string `json:"netAmount"`
	FromBalance    string `json:"fromBalance,omitempty"`
	ToBalance      string `json:"toBalance,omitempty"`
	TxType         string `json:"txType"`
	Remark         string `json:"remark"`
	IdempotencyKey string `json:"idempotencyKey"`
	Timestamp      string `json:"timestamp"`
}

// GenesisDistributedEvent announces a genesis allocation to a user.
type GenesisDistributedEvent struct {
	UserID      string `json:"userId"`
	CountryCode string `json:"countryCode"`
	Amount      string `json:"amount"`
}

// VelocityTaxAppliedEvent announces a velocity tax deduction.
type VelocityTaxAppliedEvent struct {
	AccountID string `json:"accountId"`
	TaxAmount string `json:"taxAmount"`
	RateBps   string `json:"rateBps"`
}

// TreasuryAllocationEvent announces treasury funds moving to a bucket.
type TreasuryAllocationEvent struct {
	Bucket string `json:"bucket"`
	Amount string `json:"amount"`
}

// SystemLifecycleEvent is the shared shape of SystemPaused and
// SystemResumed.
type SystemLifecycleEvent struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

// OrgTxExecutedEvent announces a multi-signature organization transaction
// that cleared its quorum on chain.
type OrgTxExecutedEvent struct {
	OrgID     string `json:"orgId"`
	TxID      string `json:"txId"`
	TxType    string `json:"txType"`
	Initiator string `json:"initiator"`
}

// WalletStatusEvent is the shared shape of WalletFrozen and
// WalletUnfrozen.
type WalletStatusEvent struct {
	AccountID string `json:"accountId"`
	Actor     string `json:"actor"`
	Reason    string `json:"reason"`
}

// ProposalExecutedEvent announces a governance proposal taking effect.
type ProposalExecutedEvent struct {
	ProposalID string `json:"proposalId"`
	Outcome    string `json:"outcome"`
}

// LoanApprovedEvent announces a loan released from the pool.
type LoanApprovedEvent struct {
	LoanID     string `json:"loanId"`
	BorrowerID string `json:"borrowerId"`
	Amount     string `json:"amount"`
}

// registry maps event names to payload prototypes.
var registry = map[string]func() any{
	UserCreated:               func() any { return &UserCreatedEvent{} },
	WalletCreated:             func() any { return &WalletCreatedEvent{} },
	TransferEvent:             func() any { return &TransferCompletedEvent{} },
	TransferWithFeesCompleted: func() any { return &TransferCompletedEvent{} },
	GenesisDistributed:        func() any { return &GenesisDistributedEvent{} },
	VelocityTaxApplied:        func() any { return &VelocityTaxAppliedEvent{} },
	TreasuryAllocation:        func() any { return &TreasuryAllocationEvent{} },
	SystemPaused:              func() any { return &SystemLifecycleEvent{} },
	SystemResumed:             func() any { return &SystemLifecycleEvent{} },
	OrgTxExecuted:             func() any { return &OrgTxExecutedEvent{} },
	WalletFrozen:              func() any { return &WalletStatusEvent{} },
	WalletUnfrozen:            func() any { return &WalletStatusEvent{} },
	ProposalExecuted:          func() any { return &ProposalExecutedEvent{} },
	LoanApproved:              func() any { return &LoanApprovedEvent{} },
}

// Known reports whether the event name is in the registry.
func Known(name string) bool {
	_, ok := registry[name]
	return ok
}

// Names returns every registered event name.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

// Decode unmarshals a raw event payload into its typed schema.
func Decode(name string, payload []byte) (any, error) {
	prototype, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, name)
	}

	target := prototype()
	if err := json.Unmarshal(payload, target); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", name, err)
	}
	return target, nil
}
