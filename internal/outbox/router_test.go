package outbox

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEncode(t *testing.T, p Payload) []byte {
	t.Helper()
	data, err := Encode(p)
	require.NoError(t, err)
	return data
}

func TestRouteCanonicalMappings(t *testing.T) {
	tests := []struct {
		name     string
		payload  Payload
		contract string
		function string
		args     []string
	}{
		{
			name: "create user",
			payload: CreateUserPayload{
				UserID:        "US A3F HBF934 0ABCD 1234",
				BiometricHash: "b1ff",
				CountryCode:   "US",
				Age:           "41",
			},
			contract: ContractIdentity,
			function: "CreateUser",
			args:     []string{"US A3F HBF934 0ABCD 1234", "b1ff", "US", "41"},
		},
		{
			name: "transfer tokens",
			payload: TransferTokensPayload{
				From:           "US A3F HBF934 0ABCD 1234",
				To:             "GB B2E HCG045 0EFGH 5678",
				Amount:         "1000000",
				TxTypeHint:     "P2P",
				Remark:         "lunch",
				IdempotencyKey: "req-1",
			},
			contract: ContractTokenomics,
			function: "TransferWithFees",
			args:     []string{"US A3F HBF934 0ABCD 1234", "GB B2E HCG045 0EFGH 5678", "1000000", "P2P", "lunch", "req-1"},
		},
		{
			name:     "distribute genesis",
			payload:  DistributeGenesisPayload{UserID: "u-1", CountryCode: "SA"},
			contract: ContractTokenomics,
			function: "DistributeGenesis",
			args:     []string{"u-1", "SA"},
		},
		{
			name:     "velocity tax",
			payload:  ApplyVelocityTaxPayload{AccountID: "a-1", TaxRateBps: "25"},
			contract: ContractTaxAndFee,
			function: "ApplyVelocityTax",
			args:     []string{"a-1", "25"},
		},
		{
			name:     "pause system",
			payload:  PauseSystemPayload{Reason: "maintenance"},
			contract: ContractAdmin,
			function: "PauseSystem",
			args:     []string{},
		},
		{
			name:     "appoint admin",
			payload:  AppointAdminPayload{AccountID: "a-2", Role: "treasury"},
			contract: ContractAdmin,
			function: "AppointAdmin",
			args:     []string{"a-2", "treasury"},
		},
		{
			name:     "endorse membership",
			payload:  EndorseMembershipPayload{OrgID: "o-1", MemberID: "m-1", EndorserID: "e-1"},
			contract: ContractOrganization,
			function: "EndorseMembership",
			args:     []string{"o-1", "m-1", "e-1"},
		},
		{
			name:     "approve loan",
			payload:  ApproveLoanPayload{LoanID: "l-1", ApproverID: "a-3"},
			contract: ContractLoanPool,
			function: "ApproveLoan",
			args:     []string{"l-1", "a-3"},
		},
		{
			name:     "execute proposal",
			payload:  ExecuteProposalPayload{ProposalID: "p-1"},
			contract: ContractGovernance,
			function: "ExecuteProposal",
			args:     []string{"p-1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, err := Route(tt.payload.CommandType(), mustEncode(t, tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.contract, inv.Contract)
			assert.Equal(t, tt.function, inv.Function)
			if len(tt.args) == 0 {
				assert.Empty(t, inv.Args)
			} else {
				assert.Equal(t, tt.args, inv.Args)
			}
		})
	}
}

func TestRouteReshapesCountryData(t *testing.T) {
	payload := InitializeCountryDataPayload{
		Countries: []CountryAllocation{
			{Code: "US", Name: "United States", Percentage: 40},
			{Code: "SA", Name: "Saudi Arabia", Percentage: 60},
		},
	}

	inv, err := Route(CmdInitializeCountryData, mustEncode(t, payload))
	require.NoError(t, err)
	require.Equal(t, ContractAdmin, inv.Contract)
	require.Equal(t, "InitializeCountryData", inv.Function)
	require.Len(t, inv.Args, 1)

	// The name field must not survive the reshape.
	var entries []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(inv.Args[0]), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "US", entries[0]["countryCode"])
	assert.Equal(t, float64(40), entries[0]["percentage"])
	assert.NotContains(t, entries[0], "name")
	assert.NotContains(t, entries[0], "code")
}

func TestRouteUnknownCommandType(t *testing.T) {
	_, err := Route("MINT_UNICORNS", []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnknownCommandType)
	assert.False(t, Supported("MINT_UNICORNS"))
}

func TestRouteRejectsMalformedPayload(t *testing.T) {
	_, err := Route(CmdTransferTokens, []byte(`{not json`))
	assert.Error(t, err)
}

func TestEveryCommandTypeHasARoute(t *testing.T) {
	all := []string{
		CmdBootstrapSystem, CmdInitializeCountryData, CmdPauseSystem,
		CmdResumeSystem, CmdAppointAdmin, CmdActivateTreasury,
		CmdDistributeGenesis, CmdTransferTokens, CmdCreateUser,
		CmdFreezeWallet, CmdUnfreezeWallet, CmdApplyVelocityTax,
		CmdUpdateSystemParameter, CmdProposeOrganization,
		CmdEndorseMembership, CmdActivateOrganization, CmdDefineAuthRule,
		CmdInitiateMultiSigTx, CmdApproveMultiSigTx, CmdApplyForLoan,
		CmdApproveLoan, CmdSubmitProposal, CmdVoteOnProposal,
		CmdExecuteProposal,
	}

	for _, commandType := range all {
		assert.True(t, Supported(commandType), "missing route for %s", commandType)
	}
	assert.Len(t, SupportedCommandTypes(), len(all))
}

func TestNewCommandDefaults(t *testing.T) {
	cmd, err := NewCommand("", "wallet-service", "req-42", TransferTokensPayload{
		From: "a", To: "b", Amount: "5", IdempotencyKey: "req-42",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, cmd.ID)
	assert.Equal(t, "default", cmd.TenantID)
	assert.Equal(t, "wallet-service", cmd.Service)
	assert.Equal(t, CmdTransferTokens, cmd.CommandType)
	assert.Equal(t, "req-42", cmd.RequestID)
	assert.Equal(t, "PENDING", string(cmd.Status))

	var decoded TransferTokensPayload
	require.NoError(t, json.Unmarshal(cmd.Payload, &decoded))
	assert.Equal(t, "5", decoded.Amount)
}
