package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("PWCI_PATCHWORK_URL", "https://patchwork.example.com")
	t.Setenv("PWCI_PATCHWORK_PROJECT", "netdev")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://patchwork.example.com", cfg.PatchworkURL)
	assert.Equal(t, "netdev", cfg.PatchworkProject)
	assert.Equal(t, 2*time.Minute, cfg.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.PollTimeout)
	assert.Equal(t, 720*time.Hour, cfg.Retention)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr)
	assert.Equal(t, "pwci.db", cfg.DBPath)
	assert.False(t, cfg.DryRun)
	assert.False(t, cfg.EnableDummy)
	assert.False(t, cfg.HasGitHub())
	assert.False(t, cfg.HasTravis())
	assert.False(t, cfg.HasCirrus())
	assert.False(t, cfg.HasMail())
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("PWCI_PATCHWORK_URL", "")
	t.Setenv("PWCI_PATCHWORK_PROJECT", "netdev")

	_, err := Load()
	assert.Error(t, err)

	t.Setenv("PWCI_PATCHWORK_URL", "https://patchwork.example.com")
	t.Setenv("PWCI_PATCHWORK_PROJECT", "")

	_, err = Load()
	assert.Error(t, err)
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PWCI_POLL_INTERVAL", "30s")
	t.Setenv("PWCI_POLL_TIMEOUT", "5s")
	t.Setenv("PWCI_WORKERS", "8")
	t.Setenv("PWCI_RETENTION", "48h")
	t.Setenv("PWCI_LISTEN_ADDR", "0.0.0.0:9090")
	t.Setenv("PWCI_DB_PATH", "/var/lib/pwci/state.db")
	t.Setenv("PWCI_DRY_RUN", "true")
	t.Setenv("PWCI_ENABLE_DUMMY", "1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.PollTimeout)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 48*time.Hour, cfg.Retention)
	assert.Equal(t, "0.0.0.0:9090", cfg.ListenAddr)
	assert.Equal(t, "/var/lib/pwci/state.db", cfg.DBPath)
	assert.True(t, cfg.DryRun)
	assert.True(t, cfg.EnableDummy)
}

func TestLoad_BackendDetection(t *testing.T) {
	setRequired(t)
	t.Setenv("PWCI_GITHUB_TOKEN", "ghp_xxx")
	t.Setenv("PWCI_GITHUB_REPO", "apconole/pw-test")
	t.Setenv("PWCI_TRAVIS_TOKEN", "tvs_xxx")
	t.Setenv("PWCI_TRAVIS_SLUG", "apconole/pw-test")
	t.Setenv("PWCI_CIRRUS_TOKEN", "crs_xxx")
	t.Setenv("PWCI_CIRRUS_OWNER", "apconole")
	t.Setenv("PWCI_CIRRUS_REPO", "pw-test")
	t.Setenv("PWCI_SMTP_ADDR", "mail.example.com:25")
	t.Setenv("PWCI_MAIL_FROM", "ci@example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.HasGitHub())
	assert.True(t, cfg.HasTravis())
	assert.True(t, cfg.HasCirrus())
	assert.True(t, cfg.HasMail())
}

func TestLoad_InvalidValues(t *testing.T) {
	setRequired(t)
	t.Setenv("PWCI_POLL_INTERVAL", "soon")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("PWCI_POLL_INTERVAL", "2m")
	t.Setenv("PWCI_WORKERS", "zero")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("PWCI_WORKERS", "0")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("PWCI_WORKERS", "4")
	t.Setenv("PWCI_DRY_RUN", "maybe")
	_, err = Load()
	assert.Error(t, err)
}
