package outbox

// Typed payload variants, one per command type. Amounts travel as decimal
// integer strings of Qirat, matching the chaincode argument encoding.

// BootstrapSystemPayload initializes the on-ledger system state.
type BootstrapSystemPayload struct {
	GenesisConfig string `json:"genesisConfig"`
}

func (BootstrapSystemPayload) CommandType() string { return CmdBootstrapSystem }

// CountryAllocation is one entry of the genesis country distribution.
// Producers historically used {code, name, percentage}; the router
// re-shapes to the {countryCode, percentage} form the chaincode expects.
type CountryAllocation struct {
	Code       string  `json:"code"`
	Name       string  `json:"name,omitempty"`
	Percentage float64 `json:"percentage"`
}

// InitializeCountryDataPayload seeds per-country allocation data.
type InitializeCountryDataPayload struct {
	Countries []CountryAllocation `json:"countries"`
}

func (InitializeCountryDataPayload) CommandType() string { return CmdInitializeCountryData }

// PauseSystemPayload halts on-ledger operations.
type PauseSystemPayload struct {
	Reason string `json:"reason,omitempty"`
}

func (PauseSystemPayload) CommandType() string { return CmdPauseSystem }

// ResumeSystemPayload resumes on-ledger operations.
type ResumeSystemPayload struct{}

func (ResumeSystemPayload) CommandType() string { return CmdResumeSystem }

// AppointAdminPayload grants the admin role to an account.
type AppointAdminPayload struct {
	AccountID string `json:"accountId"`
	Role      string `json:"role"`
}

func (AppointAdminPayload) CommandType() string { return CmdAppointAdmin }

// ActivateTreasuryPayload activates a country treasury account.
type ActivateTreasuryPayload struct {
	TreasuryAccountID string `json:"treasuryAccountId"`
	CountryCode       string `json:"countryCode"`
}

func (ActivateTreasuryPayload) CommandType() string { return CmdActivateTreasury }

// DistributeGenesisPayload grants a new user their genesis allocation.
type DistributeGenesisPayload struct {
	UserID      string `json:"userId"`
	CountryCode string `json:"countryCode"`
}

func (DistributeGenesisPayload) CommandType() string { return CmdDistributeGenesis }

// TransferTokensPayload moves Qirat between accounts with fee handling on
// the chaincode side.
type TransferTokensPayload struct {
	From           string `json:"from"`
	To             string `json:"to"`
	Amount         string `json:"amount"`
	TxTypeHint     string `json:"txTypeHint,omitempty"`
	Remark         string `json:"remark,omitempty"`
	IdempotencyKey string `json:"idempotencyKey"`
}

func (TransferTokensPayload) CommandType() string { return CmdTransferTokens }

// CreateUserPayload registers a user on the ledger.
type CreateUserPayload struct {
	UserID        string `json:"userId"`
	ProfileID     string `json:"profileId"`
	BiometricHash string `json:"biometricHash"`
	CountryCode   string `json:"countryCode"`
	Age           string `json:"age"`
}

func (CreateUserPayload) CommandType() string { return CmdCreateUser }

// FreezeWalletPayload freezes an account's wallet.
type FreezeWalletPayload struct {
	AccountID string `json:"accountId"`
	Reason    string `json:"reason,omitempty"`
}

func (FreezeWalletPayload) CommandType() string { return CmdFreezeWallet }

// UnfreezeWalletPayload lifts a wallet freeze.
type UnfreezeWalletPayload struct {
	AccountID string `json:"accountId"`
}

func (UnfreezeWalletPayload) CommandType() string { return CmdUnfreezeWallet }

// ApplyVelocityTaxPayload applies the velocity tax to an account.
type ApplyVelocityTaxPayload struct {
	AccountID  string `json:"accountId"`
	TaxRateBps string `json:"taxRateBps"`
}

func (ApplyVelocityTaxPayload) CommandType() string { return CmdApplyVelocityTax }

// UpdateSystemParameterPayload changes one on-ledger system parameter.
type UpdateSystemParameterPayload struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (UpdateSystemParameterPayload) CommandType() string { return CmdUpdateSystemParameter }

// ProposeOrganizationPayload proposes a new organization.
type ProposeOrganizationPayload struct {
	OrgID       string `json:"orgId"`
	Name        string `json:"name"`
	OrgType     string `json:"orgType"`
	CountryCode string `json:"countryCode"`
	ProposerID  string `json:"proposerId"`
}

func (ProposeOrganizationPayload) CommandType() string { return CmdProposeOrganization }

// EndorseMembershipPayload endorses a member joining an organization.
type EndorseMembershipPayload struct {
	OrgID      string `json:"orgId"`
	MemberID   string `json:"memberId"`
	EndorserID string `json:"endorserId"`
}

func (EndorseMembershipPayload) CommandType() string { return CmdEndorseMembership }

// ActivateOrganizationPayload activates a fully endorsed organization.
type ActivateOrganizationPayload struct {
	OrgID string `json:"orgId"`
}

func (ActivateOrganizationPayload) CommandType() string { return CmdActivateOrganization }

// DefineAuthRulePayload defines an organization authorization rule.
type DefineAuthRulePayload struct {
	OrgID    string `json:"orgId"`
	RuleJSON string `json:"ruleJson"`
}

func (DefineAuthRulePayload) CommandType() string { return CmdDefineAuthRule }

// InitiateMultiSigTxPayload opens an on-ledger multi-sig transaction.
type InitiateMultiSigTxPayload struct {
	OrgID       string `json:"orgId"`
	InitiatorID string `json:"initiatorId"`
	To          string `json:"to"`
	Amount      string `json:"amount"`
	Purpose     string `json:"purpose,omitempty"`
}

func (InitiateMultiSigTxPayload) CommandType() string { return CmdInitiateMultiSigTx }

// ApproveMultiSigTxPayload approves an on-ledger multi-sig transaction.
type ApproveMultiSigTxPayload struct {
	OrgID       string `json:"orgId"`
	PendingTxID string `json:"pendingTxId"`
	ApproverID  string `json:"approverId"`
}

func (ApproveMultiSigTxPayload) CommandType() string { return CmdApproveMultiSigTx }

// ApplyForLoanPayload applies for a loan from the loan pool.
type ApplyForLoanPayload struct {
	ApplicantID string `json:"applicantId"`
	Amount      string `json:"amount"`
	TermMonths  string `json:"termMonths"`
	Purpose     string `json:"purpose,omitempty"`
}

func (ApplyForLoanPayload) CommandType() string { return CmdApplyForLoan }

// ApproveLoanPayload approves a loan application.
type ApproveLoanPayload struct {
	LoanID     string `json:"loanId"`
	ApproverID string `json:"approverId"`
}

func (ApproveLoanPayload) CommandType() string { return CmdApproveLoan }

// SubmitProposalPayload submits a governance proposal.
type SubmitProposalPayload struct {
	ProposerID  string `json:"proposerId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ActionJSON  string `json:"actionJson,omitempty"`
}

func (SubmitProposalPayload) CommandType() string { return CmdSubmitProposal }

// VoteOnProposalPayload casts a governance vote.
type VoteOnProposalPayload struct {
	ProposalID string `json:"proposalId"`
	VoterID    string `json:"voterId"`
	Support    string `json:"support"`
}

func (VoteOnProposalPayload) CommandType() string { return CmdVoteOnProposal }

// ExecuteProposalPayload executes a passed governance proposal.
type ExecuteProposalPayload struct {
	ProposalID string `json:"proposalId"`
}

func (ExecuteProposalPayload) CommandType() string { return CmdExecuteProposal }
