package fabric

import (
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Well-known identity names as laid out in the wallet directory.
const (
	IdentitySuperAdmin     = "org1-super-admin"
	IdentityAdmin          = "org1-admin"
	IdentityPartnerAPI     = "org1-partner-api"
	IdentityOrg2SuperAdmin = "org2-super-admin"
)

// Config describes the channel-wide gateway settings plus the identities
// the process may submit with.
type Config struct {
	ChannelName   string        `json:"channel_name" yaml:"channel_name" mapstructure:"channel_name"`
	ChaincodeName string        `json:"chaincode_name" yaml:"chaincode_name" mapstructure:"chaincode_name"`
	WalletPath    string        `json:"wallet_path" yaml:"wallet_path" mapstructure:"wallet_path"`
	KeepAlive     time.Duration `json:"keep_alive" yaml:"keep_alive" mapstructure:"keep_alive"`

	Identities []IdentityConfig `json:"identities" yaml:"identities" mapstructure:"identities"`

	// Breaker settings shared by all identities.
	SubmitTimeout    time.Duration `json:"submit_timeout" yaml:"submit_timeout" mapstructure:"submit_timeout"`
	BreakerOpenFor   time.Duration `json:"breaker_open_for" yaml:"breaker_open_for" mapstructure:"breaker_open_for"`
	BreakerVolume    int           `json:"breaker_volume" yaml:"breaker_volume" mapstructure:"breaker_volume"`
	BreakerRateLimit float64       `json:"breaker_rate_limit" yaml:"breaker_rate_limit" mapstructure:"breaker_rate_limit"`

	// StreamReconnectDelay is the fixed backoff before an event stream
	// reconnect.
	StreamReconnectDelay time.Duration `json:"stream_reconnect_delay" yaml:"stream_reconnect_delay" mapstructure:"stream_reconnect_delay"`
}

// IdentityConfig describes one signing identity and its peer. The path
// fields override the wallet-derived locations for identities whose
// material lives outside the shared wallet directory.
type IdentityConfig struct {
	Name                  string `json:"name" yaml:"name" mapstructure:"name"`
	MSPID                 string `json:"msp_id" yaml:"msp_id" mapstructure:"msp_id"`
	PeerEndpoint          string `json:"peer_endpoint" yaml:"peer_endpoint" mapstructure:"peer_endpoint"`
	TLSServerNameOverride string `json:"tls_server_name_override" yaml:"tls_server_name_override" mapstructure:"tls_server_name_override"`

	CertPath      string `json:"cert_path,omitempty" yaml:"cert_path,omitempty" mapstructure:"cert_path"`
	KeyPath       string `json:"key_path,omitempty" yaml:"key_path,omitempty" mapstructure:"key_path"`
	TLSCACertPath string `json:"tls_ca_cert_path,omitempty" yaml:"tls_ca_cert_path,omitempty" mapstructure:"tls_ca_cert_path"`
}

// NewConfig returns a Config with production defaults.
func NewConfig() *Config {
	return &Config{
		ChannelName:          "qiratchannel",
		ChaincodeName:        "qirat",
		KeepAlive:            30 * time.Second,
		SubmitTimeout:        DefaultSubmitTimeout,
		BreakerOpenFor:       DefaultOpenDuration,
		BreakerVolume:        DefaultVolumeThreshold,
		BreakerRateLimit:     DefaultFailureRateLimit,
		StreamReconnectDelay: 5 * time.Second,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.ChannelName == "" {
		return ErrMissingChannel
	}
	if c.ChaincodeName == "" {
		return ErrMissingChaincode
	}
	if c.WalletPath == "" {
		return ErrMissingWalletPath
	}
	for _, id := range c.Identities {
		if id.PeerEndpoint == "" {
			return fmt.Errorf("identity %s: %w", id.Name, ErrMissingPeerEndpoint)
		}
		if id.MSPID == "" {
			return fmt.Errorf("identity %s: %w", id.Name, ErrMissingMSPID)
		}
	}
	return nil
}

// Identity returns the configuration for a named identity.
func (c *Config) Identity(name string) (*IdentityConfig, error) {
	for i := range c.Identities {
		if c.Identities[i].Name == name {
			return &c.Identities[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownIdentity, name)
}

// CertPath returns the signing certificate path for an identity name,
// honoring a per-identity override.
func (c *Config) CertPath(name string) string {
	if id, err := c.Identity(name); err == nil && id.CertPath != "" {
		return id.CertPath
	}
	return filepath.Join(c.WalletPath, name+"-cert")
}

// KeyPath returns the signing key path for an identity name, honoring a
// per-identity override.
func (c *Config) KeyPath(name string) string {
	if id, err := c.Identity(name); err == nil && id.KeyPath != "" {
		return id.KeyPath
	}
	return filepath.Join(c.WalletPath, name+"-key")
}

// TLSCACertPath returns the shared peer TLS CA certificate path.
func (c *Config) TLSCACertPath() string {
	return filepath.Join(c.WalletPath, "tlsca-cert")
}

// tlsCACertPathFor returns the TLS CA path for an identity, falling back
// to the shared one.
func (c *Config) tlsCACertPathFor(name string) string {
	if id, err := c.Identity(name); err == nil && id.TLSCACertPath != "" {
		return id.TLSCACertPath
	}
	return c.TLSCACertPath()
}

// walletMaterial is the loaded identity material for one identity.
type walletMaterial struct {
	certPEM   []byte
	keyPEM    []byte
	tlsCAPool *x509.CertPool
}

// loadWalletMaterial reads the identity's certificate, key and the shared
// TLS CA from the wallet directory.
func (c *Config) loadWalletMaterial(name string) (*walletMaterial, error) {
	certPEM, err := os.ReadFile(c.CertPath(name))
	if err != nil {
		return nil, fmt.Errorf("failed to read signing certificate for %s: %w", name, err)
	}

	keyPEM, err := os.ReadFile(c.KeyPath(name))
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key for %s: %w", name, err)
	}

	tlsCAPath := c.tlsCACertPathFor(name)
	tlsCAPEM, err := os.ReadFile(tlsCAPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read peer TLS CA: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(tlsCAPEM) {
		return nil, fmt.Errorf("peer TLS CA at %s contains no certificates", tlsCAPath)
	}

	return &walletMaterial{certPEM: certPEM, keyPEM: keyPEM, tlsCAPool: pool}, nil
}
