package fabric

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig(t *testing.T) *Config {
	t.Helper()
	config := NewConfig()
	config.WalletPath = t.TempDir()
	config.Identities = []IdentityConfig{
		{Name: IdentityAdmin, MSPID: "Org1MSP", PeerEndpoint: "peer0.org1:7051"},
		{Name: IdentityOrg2SuperAdmin, MSPID: "Org2MSP", PeerEndpoint: "peer0.org2:9051"},
	}
	return config
}

func TestConfigValidate(t *testing.T) {
	config := validTestConfig(t)
	require.NoError(t, config.Validate())

	missing := validTestConfig(t)
	missing.ChannelName = ""
	assert.ErrorIs(t, missing.Validate(), ErrMissingChannel)

	missing = validTestConfig(t)
	missing.ChaincodeName = ""
	assert.ErrorIs(t, missing.Validate(), ErrMissingChaincode)

	missing = validTestConfig(t)
	missing.WalletPath = ""
	assert.ErrorIs(t, missing.Validate(), ErrMissingWalletPath)

	missing = validTestConfig(t)
	missing.Identities[0].PeerEndpoint = ""
	assert.ErrorIs(t, missing.Validate(), ErrMissingPeerEndpoint)

	missing = validTestConfig(t)
	missing.Identities[1].MSPID = ""
	assert.ErrorIs(t, missing.Validate(), ErrMissingMSPID)
}

func TestConfigIdentityLookup(t *testing.T) {
	config := validTestConfig(t)

	id, err := config.Identity(IdentityAdmin)
	require.NoError(t, err)
	assert.Equal(t, "Org1MSP", id.MSPID)

	_, err = config.Identity("org3-nobody")
	assert.ErrorIs(t, err, ErrUnknownIdentity)
}

func TestWalletPathLayout(t *testing.T) {
	config := NewConfig()
	config.WalletPath = "/var/qirat/wallet"

	assert.Equal(t, filepath.Join("/var/qirat/wallet", "org1-admin-cert"), config.CertPath(IdentityAdmin))
	assert.Equal(t, filepath.Join("/var/qirat/wallet", "org1-admin-key"), config.KeyPath(IdentityAdmin))
	assert.Equal(t, filepath.Join("/var/qirat/wallet", "tlsca-cert"), config.TLSCACertPath())
}

func TestIdentityPathOverrides(t *testing.T) {
	config := validTestConfig(t)
	config.Identities[1].CertPath = "/secrets/org2/cert.pem"
	config.Identities[1].KeyPath = "/secrets/org2/key.pem"
	config.Identities[1].TLSCACertPath = "/secrets/org2/tlsca.pem"

	assert.Equal(t, "/secrets/org2/cert.pem", config.CertPath(IdentityOrg2SuperAdmin))
	assert.Equal(t, "/secrets/org2/key.pem", config.KeyPath(IdentityOrg2SuperAdmin))
	assert.Equal(t, "/secrets/org2/tlsca.pem", config.tlsCACertPathFor(IdentityOrg2SuperAdmin))

	// Identities without overrides keep the wallet layout.
	assert.Equal(t, filepath.Join(config.WalletPath, "org1-admin-cert"), config.CertPath(IdentityAdmin))
	assert.Equal(t, config.TLSCACertPath(), config.tlsCACertPathFor(IdentityAdmin))
}

func TestLoadWalletMaterialMissingFiles(t *testing.T) {
	config := validTestConfig(t)

	_, err := config.loadWalletMaterial(IdentityAdmin)
	assert.Error(t, err, "empty wallet directory has no certificate")

	require.NoError(t, os.WriteFile(config.CertPath(IdentityAdmin), []byte("cert"), 0o600))
	_, err = config.loadWalletMaterial(IdentityAdmin)
	assert.Error(t, err, "key still missing")

	require.NoError(t, os.WriteFile(config.KeyPath(IdentityAdmin), []byte("key"), 0o600))
	require.NoError(t, os.WriteFile(config.TLSCACertPath(), []byte("not a pem"), 0o600))
	_, err = config.loadWalletMaterial(IdentityAdmin)
	assert.Error(t, err, "TLS CA must contain at least one certificate")
}

func TestNewConfigDefaults(t *testing.T) {
	config := NewConfig()

	assert.Equal(t, DefaultSubmitTimeout, config.SubmitTimeout)
	assert.Equal(t, DefaultOpenDuration, config.BreakerOpenFor)
	assert.Equal(t, DefaultVolumeThreshold, config.BreakerVolume)
	assert.Equal(t, DefaultFailureRateLimit, config.BreakerRateLimit)
	assert.Equal(t, "5s", config.StreamReconnectDelay.String())
}
