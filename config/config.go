// Package config builds the immutable runtime configuration of ovpnadmin
// from an optional YAML file and an explicit environment snapshot.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jmcleod/ovpnadmin/internal/util"
)

// Defaults.
const (
	DefaultPort              = 9001
	DefaultUser              = "admin"
	DefaultEasyRSA           = "./easyrsa"
	DefaultStatusPath        = "/run/openvpn/server.status"
	DefaultBundleExtension   = ".ovpn"
	DefaultCommandTimeout    = 180 * time.Second
	DefaultRequestsPerMinute = 120
	DefaultAuditMaxEntries   = 10000
)

// ErrMissing is returned when a setting needed by a component is empty.
var ErrMissing = errors.New("required setting missing")

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	PKI       PKIConfig       `yaml:"pki"`
	Status    StatusConfig    `yaml:"status"`
	Storage   StorageConfig   `yaml:"storage"`
	Audit     AuditConfig     `yaml:"audit"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// BaseEnv is the environment handed to every subprocess: the process
	// environment at load time minus the secrets ovpnadmin itself consumes.
	BaseEnv []string `yaml:"-"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// TLSCert and TLSKey enable HTTPS when both are set.
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`
	// TrustedProxies lists peers whose X-Forwarded-For is honored.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// AuthConfig holds the single operator credential.
type AuthConfig struct {
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	KDFProfile string `yaml:"kdf_profile"`
}

// PKIConfig locates the issuance script, the Easy-RSA tree and the bundles.
type PKIConfig struct {
	Script          string        `yaml:"script"`
	OutDir          string        `yaml:"out_dir"`
	WorkDir         string        `yaml:"work_dir"`
	EasyRSA         string        `yaml:"easyrsa"`
	CRLPath         string        `yaml:"crl_path"`
	CRLDeploy       string        `yaml:"crl_deploy"`
	BundleExtension string        `yaml:"bundle_extension"`
	CommandTimeout  time.Duration `yaml:"command_timeout"`
	// MaxListEntries caps bundle listings after sorting, newest kept.
	MaxListEntries int `yaml:"max_list_entries"`
}

type StatusConfig struct {
	Path string `yaml:"path"`
}

// StorageConfig selects the journal backend. PostgresDSN wins over DataDir;
// with neither set the journal lives in memory.
type StorageConfig struct {
	DataDir     string `yaml:"data_dir"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

type AuditConfig struct {
	WebhookURL    string        `yaml:"webhook_url"`
	WebhookHeader string        `yaml:"webhook_header"`
	MaxEntries    int           `yaml:"max_entries"`
	MaxAge        time.Duration `yaml:"max_age"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: DefaultPort},
		Auth:   AuthConfig{User: DefaultUser, KDFProfile: util.KDFProfileInteractive},
		PKI: PKIConfig{
			EasyRSA:         DefaultEasyRSA,
			BundleExtension: DefaultBundleExtension,
			CommandTimeout:  DefaultCommandTimeout,
		},
		Status:    StatusConfig{Path: DefaultStatusPath},
		Audit:     AuditConfig{MaxEntries: DefaultAuditMaxEntries},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
		RateLimit: RateLimitConfig{RequestsPerMinute: DefaultRequestsPerMinute},
	}
}

// CRLSource returns where gen-crl writes the CRL: the configured path, or
// pki/crl.pem under the working directory.
func (c *Config) CRLSource() string {
	if c.PKI.CRLPath != "" {
		return c.PKI.CRLPath
	}
	if c.PKI.WorkDir == "" {
		return ""
	}
	return filepath.Join(c.PKI.WorkDir, "pki", "crl.pem")
}

// JournalPath returns the BBolt file of the audit journal, or "" when no
// data directory is configured.
func (c *Config) JournalPath() string {
	if c.Storage.DataDir == "" {
		return ""
	}
	return filepath.Join(c.Storage.DataDir, "journal.db")
}

// Validate checks settings that are wrong regardless of which command runs.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return fmt.Errorf("server.tls_cert and server.tls_key must be set together")
	}
	if _, err := util.Argon2idProfile(c.Auth.KDFProfile); err != nil {
		return fmt.Errorf("auth.kdf_profile: %w", err)
	}
	if c.PKI.CommandTimeout <= 0 {
		return fmt.Errorf("pki.command_timeout must be positive")
	}
	if c.PKI.BundleExtension == "" || c.PKI.BundleExtension[0] != '.' {
		return fmt.Errorf("pki.bundle_extension must start with '.'")
	}
	if c.PKI.MaxListEntries < 0 {
		return fmt.Errorf("pki.max_list_entries must not be negative")
	}
	if c.Audit.MaxEntries < 0 || c.Audit.MaxAge < 0 {
		return fmt.Errorf("audit retention must not be negative")
	}
	if c.Audit.WebhookURL != "" {
		u, err := url.Parse(c.Audit.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("audit.webhook_url must be an absolute http(s) URL")
		}
	}
	if c.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must not be negative")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("logging.format must be 'json' or 'text'")
	}
	return nil
}

// CheckIssuer reports whether client issuance is configured.
func (c *Config) CheckIssuer() error {
	return required(map[string]string{
		"pki.script (OVPN_SCRIPT)":   c.PKI.Script,
		"pki.out_dir (OVPN_OUT_DIR)": c.PKI.OutDir,
	})
}

// CheckPipeline reports whether revocation is configured.
func (c *Config) CheckPipeline() error {
	return required(map[string]string{
		"pki.work_dir (OVPN_WORKDIR)": c.PKI.WorkDir,
		"pki.easyrsa (OVPN_EASYRSA)":  c.PKI.EasyRSA,
	})
}

// CheckServer reports whether the HTTP API may start. There is no default
// password.
func (c *Config) CheckServer() error {
	if err := required(map[string]string{
		"auth.user (UI_USER)":     c.Auth.User,
		"auth.password (UI_PASS)": c.Auth.Password,
	}); err != nil {
		return err
	}
	if err := c.CheckIssuer(); err != nil {
		return err
	}
	return c.CheckPipeline()
}

func required(settings map[string]string) error {
	var errs []error
	for name, v := range settings {
		if v == "" {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissing, name))
		}
	}
	return errors.Join(errs...)
}
