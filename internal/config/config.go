// Package config loads the qiratd configuration from defaults, an
// optional YAML file and QIRATD_-prefixed environment variables, in
// that priority order.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/qirat-network/qiratd/internal/fabric"
	"github.com/qirat-network/qiratd/internal/storage/relationaldb"
	"github.com/qirat-network/qiratd/internal/worker/submitter"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	ListenAddr     string        `json:"listen_addr" mapstructure:"listen_addr"`
	MetricsAddr    string        `json:"metrics_addr" mapstructure:"metrics_addr"`
	IdempotencyTTL time.Duration `json:"idempotency_ttl" mapstructure:"idempotency_ttl"`
}

// Config is the full qiratd configuration.
type Config struct {
	LogLevel  string              `json:"log_level" mapstructure:"log_level"`
	Database  relationaldb.Config `json:"database" mapstructure:"database"`
	Fabric    fabric.Config       `json:"fabric" mapstructure:"fabric"`
	Submitter submitter.Config    `json:"submitter" mapstructure:"submitter"`
	Server    ServerConfig        `json:"server" mapstructure:"server"`
}

// Load builds the configuration. path names a YAML file and may be
// empty, in which case defaults and environment variables apply alone.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", path)
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("QIRATD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindBareEnv(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if port := v.GetInt("server.metrics_port"); port > 0 {
		config.Server.MetricsAddr = fmt.Sprintf(":%d", port)
	}
	applyFabricEnvIdentities(v, &config.Fabric)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &config, nil
}

// bareEnvAliases maps config keys to the flat environment names that
// predate the QIRATD_ scheme. They stay bound as fallbacks so existing
// deployments keep working; a QIRATD_-prefixed variable wins when both
// are set.
var bareEnvAliases = map[string]string{
	"submitter.worker_id":             "WORKER_ID",
	"submitter.poll_interval":         "POLL_INTERVAL",
	"submitter.batch_size":            "BATCH_SIZE",
	"submitter.max_retries":           "MAX_RETRIES",
	"submitter.lock_timeout":          "LOCK_TIMEOUT",
	"server.metrics_port":             "METRICS_PORT",
	"fabric.channel_name":             "FABRIC_CHANNEL_NAME",
	"fabric.chaincode_name":           "FABRIC_CHAINCODE_NAME",
	"fabric.wallet_path":              "FABRIC_WALLET_PATH",
	"fabric.peer_endpoint":            "FABRIC_PEER_ENDPOINT",
	"fabric.msp_id":                   "FABRIC_MSP_ID",
	"fabric.tls_server_name_override": "FABRIC_TLS_SERVER_NAME_OVERRIDE",
	"fabric.org2_cert_path":           "FABRIC_ORG2_CERT_PATH",
	"fabric.org2_key_path":            "FABRIC_ORG2_KEY_PATH",
	"fabric.org2_tls_cert_path":       "FABRIC_ORG2_TLS_CERT_PATH",
}

func bindBareEnv(v *viper.Viper) {
	for key, env := range bareEnvAliases {
		// BindEnv only errors on an empty key.
		_ = v.BindEnv(key, env)
	}
}

// applyFabricEnvIdentities builds the well-known identity set from the
// flat FABRIC_* variables when no identities were configured explicitly.
// The org2 signing material lives outside the shared wallet, so its
// paths travel as per-identity overrides.
func applyFabricEnvIdentities(v *viper.Viper, cfg *fabric.Config) {
	if len(cfg.Identities) > 0 {
		return
	}
	endpoint := v.GetString("fabric.peer_endpoint")
	if endpoint == "" {
		return
	}
	mspID := v.GetString("fabric.msp_id")
	tlsOverride := v.GetString("fabric.tls_server_name_override")

	for _, name := range []string{fabric.IdentitySuperAdmin, fabric.IdentityAdmin, fabric.IdentityPartnerAPI} {
		cfg.Identities = append(cfg.Identities, fabric.IdentityConfig{
			Name:                  name,
			MSPID:                 mspID,
			PeerEndpoint:          endpoint,
			TLSServerNameOverride: tlsOverride,
		})
	}

	org2Cert := v.GetString("fabric.org2_cert_path")
	if org2Cert == "" {
		return
	}
	cfg.Identities = append(cfg.Identities, fabric.IdentityConfig{
		Name:                  fabric.IdentityOrg2SuperAdmin,
		MSPID:                 "Org2MSP",
		PeerEndpoint:          endpoint,
		TLSServerNameOverride: tlsOverride,
		CertPath:              org2Cert,
		KeyPath:               v.GetString("fabric.org2_key_path"),
		TLSCACertPath:         v.GetString("fabric.org2_tls_cert_path"),
	})
}

// Validate checks the aggregated configuration.
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Fabric.Validate(); err != nil {
		return fmt.Errorf("fabric: %w", err)
	}
	if c.Submitter.BatchSize <= 0 {
		return fmt.Errorf("submitter: batch_size must be positive")
	}
	if c.Submitter.PollInterval <= 0 {
		return fmt.Errorf("submitter: poll_interval must be positive")
	}
	if c.Submitter.MaxRetries <= 0 {
		return fmt.Errorf("submitter: max_retries must be positive")
	}
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server: listen_addr must be set")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	db := relationaldb.NewConfig()
	v.SetDefault("database.host", db.Host)
	v.SetDefault("database.port", db.Port)
	v.SetDefault("database.database", db.Database)
	v.SetDefault("database.username", db.Username)
	v.SetDefault("database.ssl_mode", db.SSLMode)
	v.SetDefault("database.max_open_conns", db.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", db.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", db.ConnMaxLifetime)
	v.SetDefault("database.conn_max_idle_time", db.ConnMaxIdleTime)
	v.SetDefault("database.default_timeout", db.DefaultTimeout)

	fab := fabric.NewConfig()
	v.SetDefault("fabric.channel_name", fab.ChannelName)
	v.SetDefault("fabric.chaincode_name", fab.ChaincodeName)
	v.SetDefault("fabric.wallet_path", "/etc/qiratd/wallet")
	v.SetDefault("fabric.keep_alive", fab.KeepAlive)
	v.SetDefault("fabric.submit_timeout", fab.SubmitTimeout)
	v.SetDefault("fabric.breaker_open_for", fab.BreakerOpenFor)
	v.SetDefault("fabric.breaker_volume", fab.BreakerVolume)
	v.SetDefault("fabric.breaker_rate_limit", fab.BreakerRateLimit)
	v.SetDefault("fabric.stream_reconnect_delay", fab.StreamReconnectDelay)

	sub := submitter.NewConfig()
	v.SetDefault("submitter.poll_interval", sub.PollInterval)
	v.SetDefault("submitter.batch_size", sub.BatchSize)
	v.SetDefault("submitter.max_retries", sub.MaxRetries)
	v.SetDefault("submitter.lock_timeout", sub.LockTimeout)

	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.metrics_addr", ":9090")
	v.SetDefault("server.idempotency_ttl", 24*time.Hour)
}
