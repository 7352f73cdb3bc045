package relationaldb

import (
	"fmt"
	"net/url"
	"time"
)

// Config contains database configuration settings
type Config struct {
	// Database connection settings
	Host     string `json:"host" yaml:"host" mapstructure:"host"`
	Port     int    `json:"port" yaml:"port" mapstructure:"port"`
	Database string `json:"database" yaml:"database" mapstructure:"database"`
	Username string `json:"username" yaml:"username" mapstructure:"username"`
	Password string `json:"password" yaml:"password" mapstructure:"password"`
	SSLMode  string `json:"ssl_mode" yaml:"ssl_mode" mapstructure:"ssl_mode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`

	// Transaction settings
	DefaultTimeout time.Duration `json:"default_timeout" yaml:"default_timeout" mapstructure:"default_timeout"`
}

// NewConfig creates a new Config with sensible defaults
func NewConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            5432,
		Database:        "qirat",
		Username:        "qirat",
		SSLMode:         "prefer",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 15,
		DefaultTimeout:  time.Second * 30,
	}
}

// Validate checks the configuration for common errors
func (c *Config) Validate() error {
	if c.Host == "" {
		return ErrMissingHost
	}
	if c.Database == "" {
		return ErrMissingDatabase
	}
	if c.Username == "" {
		return ErrMissingUsername
	}
	if c.Port <= 0 || c.Port > 65535 {
		return ErrInvalidPort
	}
	if c.MaxOpenConns < 0 {
		return ErrInvalidMaxOpenConns
	}
	if c.MaxIdleConns < 0 {
		return ErrInvalidMaxIdleConns
	}
	if c.MaxOpenConns > 0 && c.MaxIdleConns > c.MaxOpenConns {
		return ErrMaxIdleExceedsMaxOpen
	}
	if c.DefaultTimeout <= 0 {
		return ErrInvalidTimeout
	}
	return nil
}

// BuildConnectionString builds a lib/pq connection string from the config.
func (c *Config) BuildConnectionString() (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}

	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	connStr := fmt.Sprintf("host=%s port=%d dbname=%s user=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.Username, sslMode)
	if c.Password != "" {
		connStr += " password=" + c.Password
	}
	return connStr, nil
}

// RedactedDSN returns a URL-style DSN safe for logging.
func (c *Config) RedactedDSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   c.Database,
		User:   url.User(c.Username),
	}
	return u.String()
}
