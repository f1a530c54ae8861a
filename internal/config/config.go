// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	PatchworkURL         string
	PatchworkProject     string
	PatchworkCredentials string

	GitHubToken string
	GitHubRepo  string
	TravisToken string
	TravisSlug  string
	CirrusToken string
	CirrusOwner string
	CirrusRepo  string
	EnableDummy bool

	PollInterval time.Duration
	PollTimeout  time.Duration
	Workers      int
	Retention    time.Duration
	DryRun       bool

	ListenAddr string
	DBPath     string

	SMTPAddr      string
	MailFrom      string
	MailTo        string
	StatusSuccess string
	StatusFailure string
	StatusWarning string
}

// HasGitHub reports whether the GitHub Actions backend is configured.
func (c *Config) HasGitHub() bool { return c.GitHubToken != "" && c.GitHubRepo != "" }

// HasTravis reports whether the Travis backend is configured.
func (c *Config) HasTravis() bool { return c.TravisToken != "" && c.TravisSlug != "" }

// HasCirrus reports whether the Cirrus backend is configured.
func (c *Config) HasCirrus() bool {
	return c.CirrusToken != "" && c.CirrusOwner != "" && c.CirrusRepo != ""
}

// HasMail reports whether report delivery over SMTP is configured.
func (c *Config) HasMail() bool { return c.SMTPAddr != "" && c.MailFrom != "" }

// Load reads configuration from environment variables and returns a validated
// Config. PWCI_PATCHWORK_URL and PWCI_PATCHWORK_PROJECT are required; each CI
// backend activates only when its credentials are set. Optional variables
// with defaults: PWCI_POLL_INTERVAL (2m), PWCI_POLL_TIMEOUT (30s),
// PWCI_WORKERS (4), PWCI_RETENTION (720h), PWCI_LISTEN_ADDR
// (127.0.0.1:8080), PWCI_DB_PATH (pwci.db).
func Load() (*Config, error) {
	cfg := &Config{
		PatchworkURL:         os.Getenv("PWCI_PATCHWORK_URL"),
		PatchworkProject:     os.Getenv("PWCI_PATCHWORK_PROJECT"),
		PatchworkCredentials: os.Getenv("PWCI_PATCHWORK_CREDENTIALS"),
		GitHubToken:          os.Getenv("PWCI_GITHUB_TOKEN"),
		GitHubRepo:           os.Getenv("PWCI_GITHUB_REPO"),
		TravisToken:          os.Getenv("PWCI_TRAVIS_TOKEN"),
		TravisSlug:           os.Getenv("PWCI_TRAVIS_SLUG"),
		CirrusToken:          os.Getenv("PWCI_CIRRUS_TOKEN"),
		CirrusOwner:          os.Getenv("PWCI_CIRRUS_OWNER"),
		CirrusRepo:           os.Getenv("PWCI_CIRRUS_REPO"),
		SMTPAddr:             os.Getenv("PWCI_SMTP_ADDR"),
		MailFrom:             os.Getenv("PWCI_MAIL_FROM"),
		MailTo:               os.Getenv("PWCI_MAIL_TO"),
		StatusSuccess:        os.Getenv("PWCI_STATUS_SUCCESS"),
		StatusFailure:        os.Getenv("PWCI_STATUS_FAILURE"),
		StatusWarning:        os.Getenv("PWCI_STATUS_WARNING"),
	}

	if cfg.PatchworkURL == "" {
		return nil, fmt.Errorf("PWCI_PATCHWORK_URL is required")
	}
	if cfg.PatchworkProject == "" {
		return nil, fmt.Errorf("PWCI_PATCHWORK_PROJECT is required")
	}

	var err error
	if cfg.PollInterval, err = durationEnv("PWCI_POLL_INTERVAL", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.PollTimeout, err = durationEnv("PWCI_POLL_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.Retention, err = durationEnv("PWCI_RETENTION", 720*time.Hour); err != nil {
		return nil, err
	}

	cfg.Workers = 4
	if v, ok := os.LookupEnv("PWCI_WORKERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("PWCI_WORKERS has invalid value %q", v)
		}
		cfg.Workers = n
	}

	if cfg.EnableDummy, err = boolEnv("PWCI_ENABLE_DUMMY"); err != nil {
		return nil, err
	}
	if cfg.DryRun, err = boolEnv("PWCI_DRY_RUN"); err != nil {
		return nil, err
	}

	cfg.ListenAddr = "127.0.0.1:8080"
	if v, ok := os.LookupEnv("PWCI_LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}

	cfg.DBPath = "pwci.db"
	if v, ok := os.LookupEnv("PWCI_DB_PATH"); ok {
		cfg.DBPath = v
	}

	return cfg, nil
}

func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", name, v, err)
	}
	return parsed, nil
}

func boolEnv(name string) (bool, error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return false, nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s has invalid value %q", name, v)
	}
	return parsed, nil
}
