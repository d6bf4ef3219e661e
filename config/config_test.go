package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, ":9001", cfg.Server.Addr())
	assert.Equal(t, "admin", cfg.Auth.User)
	assert.Empty(t, cfg.Auth.Password)
	assert.Equal(t, "./easyrsa", cfg.PKI.EasyRSA)
	assert.Equal(t, ".ovpn", cfg.PKI.BundleExtension)
	assert.Equal(t, 180*time.Second, cfg.PKI.CommandTimeout)
	assert.Equal(t, "/run/openvpn/server.status", cfg.Status.Path)
	assert.Equal(t, 120, cfg.RateLimit.RequestsPerMinute)
	assert.NotNil(t, cfg.BaseEnv)
	assert.Empty(t, cfg.BaseEnv)
	assert.Empty(t, cfg.JournalPath())
}

func TestLoadEnvironment(t *testing.T) {
	environ := []string{
		"PATH=/usr/bin:/bin",
		"UI_USER=ops",
		"UI_PASS=s3cret",
		"PORT=8080",
		"OVPN_SCRIPT=/usr/local/bin/make-client",
		"OVPN_OUT_DIR=/srv/clients",
		"OVPN_WORKDIR=/etc/openvpn/easy-rsa",
		"OVPN_CRL_DEPLOY=/etc/openvpn/server/crl.pem",
		"OPENVPN_STATUS=/var/log/openvpn/status.log",
		"OVPN_COMMAND_TIMEOUT=90",
		"OVPNADMIN_DATA_DIR=/var/lib/ovpnadmin",
		"OVPNADMIN_POSTGRES_DSN=postgres://u:p@db/ovpn",
		"OVPNADMIN_LOG_LEVEL=debug",
	}
	cfg, err := Load("", environ)
	require.NoError(t, err)

	assert.Equal(t, "ops", cfg.Auth.User)
	assert.Equal(t, "s3cret", cfg.Auth.Password)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "/usr/local/bin/make-client", cfg.PKI.Script)
	assert.Equal(t, "/srv/clients", cfg.PKI.OutDir)
	assert.Equal(t, "/etc/openvpn/easy-rsa/pki/crl.pem", cfg.CRLSource())
	assert.Equal(t, "/etc/openvpn/server/crl.pem", cfg.PKI.CRLDeploy)
	assert.Equal(t, "/var/log/openvpn/status.log", cfg.Status.Path)
	assert.Equal(t, 90*time.Second, cfg.PKI.CommandTimeout)
	assert.Equal(t, "/var/lib/ovpnadmin/journal.db", cfg.JournalPath())
	assert.Equal(t, "debug", cfg.Logging.Level)
	require.NoError(t, cfg.CheckServer())

	assert.Contains(t, cfg.BaseEnv, "PATH=/usr/bin:/bin")
	assert.Contains(t, cfg.BaseEnv, "OVPN_WORKDIR=/etc/openvpn/easy-rsa")
	for _, kv := range cfg.BaseEnv {
		assert.NotContains(t, kv, "UI_PASS=")
		assert.NotContains(t, kv, "OVPNADMIN_POSTGRES_DSN=")
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ovpnadmin.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  host: 127.0.0.1
  port: 9100
pki:
  script: /opt/make-client
  out_dir: /srv/out
  work_dir: /srv/pki
  crl_path: /srv/pki/custom-crl.pem
  command_timeout: 2m
logging:
  format: text
`), 0o600))

	cfg, err := Load(path, []string{"OVPN_OUT_DIR=/srv/override"})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9100", cfg.Server.Addr())
	assert.Equal(t, "/opt/make-client", cfg.PKI.Script)
	assert.Equal(t, "/srv/override", cfg.PKI.OutDir)
	assert.Equal(t, "/srv/pki/custom-crl.pem", cfg.CRLSource())
	assert.Equal(t, 2*time.Minute, cfg.PKI.CommandTimeout)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoadOptionalMissingFile(t *testing.T) {
	cfg, err := LoadOptional(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Server.Port)

	_, err = Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	assert.Error(t, err)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		environ []string
	}{
		{"port not a number", []string{"PORT=abc"}},
		{"port out of range", []string{"PORT=70000"}},
		{"bad timeout", []string{"OVPN_COMMAND_TIMEOUT=soon"}},
		{"negative timeout", []string{"OVPN_COMMAND_TIMEOUT=-5"}},
		{"bad log level", []string{"OVPNADMIN_LOG_LEVEL=verbose"}},
		{"bad log format", []string{"OVPNADMIN_LOG_FORMAT=xml"}},
		{"bad kdf profile", []string{"OVPNADMIN_KDF_PROFILE=none"}},
		{"bad webhook", []string{"OVPNADMIN_AUDIT_WEBHOOK_URL=ftp://x"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load("", tc.environ)
			assert.Error(t, err)
		})
	}
}

func TestCheckServerRequiresPassword(t *testing.T) {
	cfg, err := Load("", []string{
		"OVPN_SCRIPT=/s", "OVPN_OUT_DIR=/o", "OVPN_WORKDIR=/w",
	})
	require.NoError(t, err)
	assert.ErrorIs(t, cfg.CheckServer(), ErrMissing)
	assert.NoError(t, cfg.CheckIssuer())
	assert.NoError(t, cfg.CheckPipeline())

	empty := Default()
	assert.ErrorIs(t, empty.CheckIssuer(), ErrMissing)
	assert.ErrorIs(t, empty.CheckPipeline(), ErrMissing)
}

func TestTrustedProxiesFromEnv(t *testing.T) {
	cfg, err := Load("", []string{"OVPNADMIN_TRUSTED_PROXIES=10.0.0.0/8, 192.0.2.1,,"})
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.1"}, cfg.Server.TrustedProxies)
}

func TestTLSPairRequired(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  tls_cert: /etc/ovpnadmin/cert.pem\n"), 0o600))
	_, err := Load(path, nil)
	assert.Error(t, err)
}
