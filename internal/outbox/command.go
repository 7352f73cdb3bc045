// Package outbox defines the ledger command vocabulary: the typed payload
// variants carried on outbox rows and the router that maps each command
// type onto a chaincode contract invocation.
//
// Outbox rows store an opaque payload plus a commandType discriminant.
// Every supported command adds exactly one typed payload variant and one
// router entry.
package outbox

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/qirat-network/qiratd/internal/storage/relationaldb"
)

// Command types understood by the submitter.
const (
	// System administration (super-admin identity).
	CmdBootstrapSystem       = "BOOTSTRAP_SYSTEM"
	CmdInitializeCountryData = "INITIALIZE_COUNTRY_DATA"
	CmdPauseSystem           = "PAUSE_SYSTEM"
	CmdResumeSystem          = "RESUME_SYSTEM"

	// Privileged operations (admin identity).
	CmdAppointAdmin      = "APPOINT_ADMIN"
	CmdActivateTreasury  = "ACTIVATE_TREASURY"
	CmdDistributeGenesis = "DISTRIBUTE_GENESIS"
	CmdTransferTokens    = "TRANSFER_TOKENS"

	// Partner API operations.
	CmdCreateUser            = "CREATE_USER"
	CmdFreezeWallet          = "FREEZE_WALLET"
	CmdUnfreezeWallet        = "UNFREEZE_WALLET"
	CmdApplyVelocityTax      = "APPLY_VELOCITY_TAX"
	CmdUpdateSystemParameter = "UPDATE_SYSTEM_PARAMETER"
	CmdProposeOrganization   = "PROPOSE_ORGANIZATION"
	CmdEndorseMembership     = "ENDORSE_MEMBERSHIP"
	CmdActivateOrganization  = "ACTIVATE_ORGANIZATION"
	CmdDefineAuthRule        = "DEFINE_AUTH_RULE"
	CmdInitiateMultiSigTx    = "INITIATE_MULTISIG_TX"
	CmdApproveMultiSigTx     = "APPROVE_MULTISIG_TX"
	CmdApplyForLoan          = "APPLY_FOR_LOAN"
	CmdApproveLoan           = "APPROVE_LOAN"
	CmdSubmitProposal        = "SUBMIT_PROPOSAL"
	CmdVoteOnProposal        = "VOTE_ON_PROPOSAL"
	CmdExecuteProposal       = "EXECUTE_PROPOSAL"
)

// Payload is implemented by every typed command payload variant.
type Payload interface {
	// CommandType returns the discriminant stored on the outbox row.
	CommandType() string
}

// Encode serializes a typed payload for storage on an outbox row.
func Encode(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", p.CommandType(), err)
	}
	return data, nil
}

// NewCommand builds an outbox row for a typed payload. The caller passes
// the row to OutboxRepository.Enqueue inside its business transaction.
func NewCommand(tenantID, service, requestID string, p Payload) (*relationaldb.OutboxCommand, error) {
	data, err := Encode(p)
	if err != nil {
		return nil, err
	}

	if tenantID == "" {
		tenantID = relationaldb.DefaultTenant
	}

	return &relationaldb.OutboxCommand{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Service:     service,
		CommandType: p.CommandType(),
		RequestID:   requestID,
		Payload:     data,
		Status:      relationaldb.CommandPending,
	}, nil
}

func decode(data []byte, into Payload) error {
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", into.CommandType(), err)
	}
	return nil
}
