package submitter

import (
	"github.com/qirat-network/qiratd/internal/fabric"
	"github.com/qirat-network/qiratd/internal/outbox"
)

// superAdminCommands must be signed by the bootstrap identity.
var superAdminCommands = map[string]bool{
	outbox.CmdBootstrapSystem:       true,
	outbox.CmdInitializeCountryData: true,
	outbox.CmdPauseSystem:           true,
	outbox.CmdResumeSystem:          true,
}

// adminCommands require the operational admin identity.
var adminCommands = map[string]bool{
	outbox.CmdAppointAdmin:      true,
	outbox.CmdActivateTreasury:  true,
	outbox.CmdDistributeGenesis: true,
	outbox.CmdTransferTokens:    true,
}

// IdentityFor returns the signing identity for a command type. Everything
// outside the privileged sets submits as the partner API identity.
func IdentityFor(commandType string) string {
	switch {
	case superAdminCommands[commandType]:
		return fabric.IdentitySuperAdmin
	case adminCommands[commandType]:
		return fabric.IdentityAdmin
	default:
		return fabric.IdentityPartnerAPI
	}
}
