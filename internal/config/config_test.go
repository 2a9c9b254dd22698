package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
http:
  addr: ":9090"
provider: outlook
auth:
  tenant_id: contoso
  client_id: app-id
  client_secret: s3cret
graph:
  user: mailbox@contoso.com
scheduler:
  interval: 30m
  run_on_start: true
pipeline:
  lookback: 12h
  page_size: 25
events:
  driver: NATS
  url: nats://localhost:4222
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "mailbox@contoso.com", cfg.Graph.User)
	assert.Equal(t, "inbox", cfg.Graph.Folder)
	assert.Equal(t, 30*time.Minute, cfg.Scheduler.Interval)
	assert.True(t, cfg.Scheduler.RunOnStart)
	assert.Equal(t, 12*time.Hour, cfg.Pipeline.Lookback)
	assert.Equal(t, 25, cfg.Pipeline.PageSize)
	assert.Equal(t, EventsNATS, cfg.Events.Driver)
	assert.Equal(t, "https://login.microsoftonline.com/contoso/oauth2/v2.0/token", cfg.Auth.TokenURL)
	assert.Equal(t, "https://login.microsoftonline.com/contoso/oauth2/v2.0/devicecode", cfg.Auth.DeviceAuthURL)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MAILSYNC_AUTH_CLIENT_ID", "id")
	t.Setenv("MAILSYNC_AUTH_CLIENT_SECRET", "secret")
	t.Setenv("MAILSYNC_AUTH_TENANT_ID", "tenant")
	t.Setenv("MAILSYNC_GRAPH_USER", "me@example.com")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.HTTP.Addr)
	assert.Equal(t, ProviderOutlook, cfg.Provider)
	assert.Equal(t, AuthClientCredentials, cfg.Auth.Mode)
	assert.Equal(t, []string{"https://graph.microsoft.com/.default"}, cfg.Auth.Scopes)
	assert.Equal(t, time.Hour, cfg.Scheduler.Interval)
	assert.Equal(t, 24*time.Hour, cfg.Pipeline.Lookback)
	assert.Equal(t, 50, cfg.Pipeline.PageSize)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, 5*time.Minute, cfg.Pipeline.RunTimeout)
	assert.Equal(t, EventsNone, cfg.Events.Driver)
	assert.Equal(t, "data/mail.db", cfg.Storage.Path)
}

func TestLoad_LegacyEnvironment(t *testing.T) {
	t.Setenv("TENANT_ID", "legacy-tenant")
	t.Setenv("CLIENT_ID", "legacy-id")
	t.Setenv("CLIENT_SECRET", "legacy-secret")
	t.Setenv("USER_EMAIL", "legacy@example.com")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "legacy-id", cfg.Auth.ClientID)
	assert.Equal(t, "legacy-secret", cfg.Auth.ClientSecret)
	assert.Equal(t, "legacy@example.com", cfg.Graph.User)
	assert.Contains(t, cfg.Auth.TokenURL, "legacy-tenant")
}

func TestLoad_PrefixedEnvironmentWins(t *testing.T) {
	t.Setenv("CLIENT_ID", "legacy-id")
	t.Setenv("MAILSYNC_AUTH_CLIENT_ID", "new-id")
	t.Setenv("CLIENT_SECRET", "secret")
	t.Setenv("TENANT_ID", "tenant")
	t.Setenv("USER_EMAIL", "u@example.com")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "new-id", cfg.Auth.ClientID)
}

func TestLoad_DeviceCodeAddsOfflineAccess(t *testing.T) {
	path := writeConfig(t, `
auth:
  mode: device_code
  tenant_id: common
  client_id: public-app
  scopes: ["Mail.Read", "Mail.Send"]
graph:
  user: me
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Mail.Read", "Mail.Send", "offline_access"}, cfg.Auth.Scopes)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Provider:  ProviderOutlook,
			Auth:      AuthConfig{Mode: AuthClientCredentials, ClientID: "id", ClientSecret: "s", TokenURL: "https://t"},
			Graph:     GraphConfig{User: "u@example.com"},
			Scheduler: SchedulerConfig{Interval: time.Hour},
			Pipeline:  PipelineConfig{PageSize: 50},
			Events:    EventsConfig{Driver: EventsNone},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name string
		edit func(*Config)
	}{
		{"unknown provider", func(c *Config) { c.Provider = "yahoo" }},
		{"outlook without mailbox", func(c *Config) { c.Graph.User = "" }},
		{"unknown auth mode", func(c *Config) { c.Auth.Mode = "password" }},
		{"client credentials without secret", func(c *Config) { c.Auth.ClientSecret = "" }},
		{"device code without endpoints", func(c *Config) { c.Auth.Mode = AuthDeviceCode }},
		{"broker without url", func(c *Config) { c.Auth.Mode = AuthBroker }},
		{"events without url", func(c *Config) { c.Events.Driver = EventsAMQP }},
		{"unknown events driver", func(c *Config) { c.Events.Driver = "kafka" }},
		{"page size too large", func(c *Config) { c.Pipeline.PageSize = 5000 }},
		{"zero interval", func(c *Config) { c.Scheduler.Interval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.edit(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_GmailNeedsNoMailbox(t *testing.T) {
	cfg := &Config{
		Provider:  ProviderGmail,
		Auth:      AuthConfig{Mode: AuthBroker, BrokerURL: "http://broker"},
		Scheduler: SchedulerConfig{Interval: time.Minute},
		Pipeline:  PipelineConfig{PageSize: 10},
		Events:    EventsConfig{Driver: EventsNone},
	}
	assert.NoError(t, cfg.Validate())
}
