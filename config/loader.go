package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment keys. The unprefixed names are the historical ones and are
// kept for compatibility with existing deployments.
const (
	EnvUser            = "UI_USER"
	EnvPassword        = "UI_PASS"
	EnvPort            = "PORT"
	EnvScript          = "OVPN_SCRIPT"
	EnvOutDir          = "OVPN_OUT_DIR"
	EnvWorkDir         = "OVPN_WORKDIR"
	EnvCRLOut          = "OVPN_CRL_OUT"
	EnvCRLDeploy       = "OVPN_CRL_DEPLOY"
	EnvStatus          = "OPENVPN_STATUS"
	EnvEasyRSA         = "OVPN_EASYRSA"
	EnvCommandTimeout  = "OVPN_COMMAND_TIMEOUT"
	EnvDataDir         = "OVPNADMIN_DATA_DIR"
	EnvPostgresDSN     = "OVPNADMIN_POSTGRES_DSN"
	EnvWebhookURL      = "OVPNADMIN_AUDIT_WEBHOOK_URL"
	EnvWebhookHeader   = "OVPNADMIN_AUDIT_WEBHOOK_HEADER"
	EnvLogLevel        = "OVPNADMIN_LOG_LEVEL"
	EnvLogFormat       = "OVPNADMIN_LOG_FORMAT"
	EnvKDFProfile      = "OVPNADMIN_KDF_PROFILE"
	EnvRateLimit       = "OVPNADMIN_RATE_LIMIT"
	EnvAuditMaxEntries = "OVPNADMIN_AUDIT_MAX_ENTRIES"
	EnvTrustedProxies  = "OVPNADMIN_TRUSTED_PROXIES"
)

// secretKeys never reach subprocess environments.
var secretKeys = []string{EnvPassword, EnvPostgresDSN, EnvWebhookHeader}

// Load builds a Config: defaults, then the YAML file at path (skipped when
// path is empty), then overrides from environ, then Validate. environ uses
// the os.Environ format; nothing else is read from the process environment.
func Load(path string, environ []string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnv(cfg, environ); err != nil {
		return nil, err
	}
	cfg.BaseEnv = scrubEnv(environ)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadOptional is Load, except that a missing file at path is treated as
// no file at all.
func LoadOptional(path string, environ []string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}
	return Load(path, environ)
}

func applyEnv(cfg *Config, environ []string) error {
	env := envMap(environ)

	setString := func(key string, dst *string) {
		if v, ok := env[key]; ok && v != "" {
			*dst = v
		}
	}
	setString(EnvUser, &cfg.Auth.User)
	setString(EnvPassword, &cfg.Auth.Password)
	setString(EnvKDFProfile, &cfg.Auth.KDFProfile)
	setString(EnvScript, &cfg.PKI.Script)
	setString(EnvOutDir, &cfg.PKI.OutDir)
	setString(EnvWorkDir, &cfg.PKI.WorkDir)
	setString(EnvCRLOut, &cfg.PKI.CRLPath)
	setString(EnvCRLDeploy, &cfg.PKI.CRLDeploy)
	setString(EnvEasyRSA, &cfg.PKI.EasyRSA)
	setString(EnvStatus, &cfg.Status.Path)
	setString(EnvDataDir, &cfg.Storage.DataDir)
	setString(EnvPostgresDSN, &cfg.Storage.PostgresDSN)
	setString(EnvWebhookURL, &cfg.Audit.WebhookURL)
	setString(EnvWebhookHeader, &cfg.Audit.WebhookHeader)
	setString(EnvLogLevel, &cfg.Logging.Level)
	setString(EnvLogFormat, &cfg.Logging.Format)

	if v := env[EnvTrustedProxies]; v != "" {
		cfg.Server.TrustedProxies = cfg.Server.TrustedProxies[:0]
		for p := range strings.SplitSeq(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.Server.TrustedProxies = append(cfg.Server.TrustedProxies, p)
			}
		}
	}

	setInt := func(key string, dst *int) error {
		v, ok := env[key]
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	if err := setInt(EnvPort, &cfg.Server.Port); err != nil {
		return err
	}
	if err := setInt(EnvRateLimit, &cfg.RateLimit.RequestsPerMinute); err != nil {
		return err
	}
	if err := setInt(EnvAuditMaxEntries, &cfg.Audit.MaxEntries); err != nil {
		return err
	}

	if v := env[EnvCommandTimeout]; v != "" {
		d, err := parseTimeout(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvCommandTimeout, err)
		}
		cfg.PKI.CommandTimeout = d
	}
	return nil
}

// parseTimeout accepts a Go duration ("3m") or a bare number of seconds.
func parseTimeout(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// envMap indexes an os.Environ style slice. Later entries win.
func envMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}
	return m
}

func scrubEnv(environ []string) []string {
	out := make([]string, 0, len(environ))
	for _, kv := range environ {
		k, _, _ := strings.Cut(kv, "=")
		if slices.Contains(secretKeys, k) {
			continue
		}
		out = append(out, kv)
	}
	return out
}
