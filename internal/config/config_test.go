package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func emptyViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(t.TempDir())
	return v
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(emptyViper(t))
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Dispatch.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Dispatch.Delay)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.SendTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Dispatch.RunRetention)
	assert.Equal(t, ProviderGraph, cfg.Email.Provider)
	assert.Equal(t, "device_code", cfg.Auth.Flow)
	assert.Equal(t, "https://graph.microsoft.com/v1.0", cfg.Email.Graph.BaseURL)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DRAFTSEND_DISPATCH_BATCH_SIZE", "20")
	t.Setenv("DRAFTSEND_DISPATCH_DELAY", "250ms")
	t.Setenv("DRAFTSEND_EMAIL_PROVIDER", "smtp")
	t.Setenv("DRAFTSEND_EMAIL_SMTP_HOST", "smtp.example.com")

	cfg, err := load(emptyViper(t))
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.Dispatch.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Dispatch.Delay)
	assert.Equal(t, ProviderSMTP, cfg.Email.Provider)
	assert.Equal(t, "smtp.example.com", cfg.Email.SMTP.Host)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
dispatch:
  batch_size: 3
  delay: 1s
email:
  provider: resend
  from: news@example.com
  resend:
    api_key: re_123
`), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Dispatch.BatchSize)
	assert.Equal(t, time.Second, cfg.Dispatch.Delay)
	assert.Equal(t, ProviderResend, cfg.Email.Provider)
	assert.Equal(t, "news@example.com", cfg.Email.From)
	assert.Equal(t, "re_123", cfg.Email.Resend.APIKey)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dispatch: [unclosed"), 0o600))

	v := viper.New()
	v.SetConfigFile(path)
	_, err := load(v)
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Dispatch: DispatchConfig{BatchSize: 50, Delay: 5 * time.Second, SendTimeout: 30 * time.Second},
			Auth:     AuthConfig{Flow: "device_code"},
			Email:    EmailConfig{Provider: ProviderGraph},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero batch size", func(c *Config) { c.Dispatch.BatchSize = 0 }, "batch_size"},
		{"negative delay", func(c *Config) { c.Dispatch.Delay = -time.Second }, "delay"},
		{"zero timeout", func(c *Config) { c.Dispatch.SendTimeout = 0 }, "send_timeout"},
		{"unknown provider", func(c *Config) { c.Email.Provider = "pigeon" }, "email.provider"},
		{"unknown flow", func(c *Config) { c.Auth.Flow = "magic" }, "auth.flow"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}

	zeroDelay := valid()
	zeroDelay.Dispatch.Delay = 0
	assert.NoError(t, zeroDelay.Validate())
}

func TestDatabaseURL(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5432, Name: "draftsend", User: "u", Password: "p", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/draftsend?sslmode=disable", c.URL())
	assert.Contains(t, c.DSN(), "dbname=draftsend")
}
