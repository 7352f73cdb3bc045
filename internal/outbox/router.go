package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Contract names exposed by the chaincode package. A contract handle is
// resolved per submission because one package hosts all of them.
const (
	ContractIdentity     = "IdentityContract"
	ContractTokenomics   = "TokenomicsContract"
	ContractOrganization = "OrganizationContract"
	ContractLoanPool     = "LoanPoolContract"
	ContractGovernance   = "GovernanceContract"
	ContractAdmin        = "AdminContract"
	ContractTaxAndFee    = "TaxAndFeeContract"
)

// ErrUnknownCommandType is returned for command types with no route.
var ErrUnknownCommandType = errors.New("unknown command type")

// Invocation is a fully resolved chaincode call.
type Invocation struct {
	Contract string
	Function string
	Args     []string
}

// route decodes a raw payload into an Invocation.
type route func(payload []byte) (*Invocation, error)

// routes is the canonical command-to-contract mapping. Every supported
// command type has exactly one entry.
var routes = map[string]route{
	CmdBootstrapSystem: func(data []byte) (*Invocation, error) {
		var p BootstrapSystemPayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return call(ContractAdmin, "BootstrapSystem", p.GenesisConfig), nil
	},

	CmdInitializeCountryData: func(data []byte) (*Invocation, error) {
		var p InitializeCountryDataPayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}

		// The chaincode wants [{countryCode, percentage}]; drop the
		// producer-side name field.
		type entry struct {
			CountryCode string  `json:"countryCode"`
			Percentage  float64 `json:"percentage"`
		}
		entries := make([]entry, 0, len(p.Countries))
		for _, c := range p.Countries {
			entries = append(entries, entry{CountryCode: c.Code, Percentage: c.Percentage})
		}

		arg, err := json.Marshal(entries)
		if err != nil {
			return nil, fmt.Errorf("failed to encode country data: %w", err)
		}
		return call(ContractAdmin, "InitializeCountryData", string(arg)), nil
	},

	CmdPauseSystem: func(data []byte) (*Invocation, error) {
		var p PauseSystemPayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return call(ContractAdmin, "PauseSystem"), nil
	},

	CmdResumeSystem: func(data []byte) (*Invocation, error) {
		var p ResumeSystemPayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return call(ContractAdmin, "ResumeSystem"), nil
	},

	CmdAppointAdmin: func(data []byte) (*Invocation, error) {
		var p AppointAdminPayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return call(ContractAdmin, "AppointAdmin", p.AccountID, p.Role), nil
	},

	CmdActivateTreasury: func(data []byte) (*Invocation, error) {
		var p ActivateTreasuryPayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return call(ContractAdmin, "ActivateTreasuryAccount", p.TreasuryAccountID, p.CountryCode), nil
	},

	CmdUpdateSystemParameter: func(data []byte) (*Invocation, error) {
		var p UpdateSystemParameterPayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return call(ContractAdmin, "UpdateSystemParameter", p.Key, p.Value), nil
	},

	CmdCreateUser: func(data []byte) (*Invocation, error) {
		var p CreateUserPayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return call(ContractIdentity, "CreateUser", p.UserID, p.BiometricHash, p.CountryCode, p.Age), nil
	},

	CmdTransferTokens: func(data []byte) (*Invocation, error) {
		var p TransferTokensPayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return call(ContractTokenomics, "TransferWithFees",
			p.From, p.To, p.Amount, p.TxTypeHint, p.Remark, p.IdempotencyKey), nil
	},

	CmdDistributeGenesis: func(data []byte) (*Invocation, error) {
		var p DistributeGenesisPayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return call(ContractTokenomics, "DistributeGenesis", p.UserID, p.CountryCode), nil
	},

	CmdFreezeWallet: func(data []byte) (*Invocation, error) {
		var p FreezeWalletPayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return call(ContractTokenomics, "FreezeWallet", p.AccountID, p.Reason), nil
	},

	CmdUnfreezeWallet: func(data []byte) (*Invocation, error) {
		var p UnfreezeWalletPayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return call(ContractTokenomics, "UnfreezeWallet", p.AccountID), nil
	},

	CmdApplyVelocityTax: func(data []byte) (*Invocation, error) {
		var p ApplyVelocityTaxPayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return call(ContractTaxAndFee, "ApplyVelocityTax", p.AccountID, p.TaxRateBps), nil
	},

	CmdProposeOrganization: func(data []byte) (*Invocation, error) {
		var p ProposeOrganizationPayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return call(ContractOrganization, "ProposeOrganization",
			p.OrgID, p.Name, p.OrgType, p.CountryCode, p.ProposerID), nil
	},

	CmdEndorseMembership: func(data []byte) (*Invocation, error) {
		var p EndorseMembershipPayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return call(ContractOrganization, "EndorseMembership", p.OrgID, p.MemberID, p.EndorserID), nil
	},

	CmdActivateOrganization: func(data []byte) (*Invocation, error) {
		var p ActivateOrganizationPayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return call(ContractOrganization, "ActivateOrganization", p.OrgID), nil
	},

	CmdDefineAuthRule: func(data []byte) (*Invocation, error) {
		var p DefineAuthRulePayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return call(ContractOrganization, "DefineAuthRule", p.OrgID, p.RuleJSON), nil
	},

	CmdInitiateMultiSigTx: func(data []byte) (*Invocation, error) {
		var p InitiateMultiSigTxPayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return call(ContractOrganization, "InitiateMultiSigTx",
			p.OrgID, p.InitiatorID, p.To, p.Amount, p.Purpose), nil
	},

	CmdApproveMultiSigTx: func(data []byte) (*Invocation, error) {
		var p ApproveMultiSigTxPayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return call(ContractOrganization, "ApproveMultiSigTx", p.OrgID, p.PendingTxID, p.ApproverID), nil
	},

	CmdApplyForLoan: func(data []byte) (*Invocation, error) {
		var p ApplyForLoanPayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return call(ContractLoanPool, "ApplyForLoan",
			p.ApplicantID, p.Amount, p.TermMonths, p.Purpose), nil
	},

	CmdApproveLoan: func(data []byte) (*Invocation, error) {
		var p ApproveLoanPayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return call(ContractLoanPool, "ApproveLoan", p.LoanID, p.ApproverID), nil
	},

	CmdSubmitProposal: func(data []byte) (*Invocation, error) {
		var p SubmitProposalPayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return call(ContractGovernance, "SubmitProposal",
			p.ProposerID, p.Title, p.Description, p.ActionJSON), nil
	},

	CmdVoteOnProposal: func(data []byte) (*Invocation, error) {
		var p VoteOnProposalPayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return call(ContractGovernance, "VoteOnProposal", p.ProposalID, p.VoterID, p.Support), nil
	},

	CmdExecuteProposal: func(data []byte) (*Invocation, error) {
		var p ExecuteProposalPayload
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return call(ContractGovernance, "ExecuteProposal", p.ProposalID), nil
	},
}

// Route resolves a command type and payload into a chaincode invocation.
func Route(commandType string, payload []byte) (*Invocation, error) {
	r, ok := routes[commandType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommandType, commandType)
	}
	return r(payload)
}

// Supported reports whether a command type has a route.
func Supported(commandType string) bool {
	_, ok := routes[commandType]
	return ok
}

// SupportedCommandTypes returns all routable command types.
func SupportedCommandTypes() []string {
	types := make([]string, 0, len(routes))
	for t := range routes {
		types = append(types, t)
	}
	return types
}

func call(contract, function string, args ...string) *Invocation {
	return &Invocation{Contract: contract, Function: function, Args: args}
}
