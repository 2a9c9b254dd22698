package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Provider names
const (
	ProviderOutlook = "outlook"
	ProviderGmail   = "gmail"
)

// Credential acquisition modes
const (
	AuthClientCredentials = "client_credentials"
	AuthDeviceCode        = "device_code"
	AuthBroker            = "broker"
)

// Event drivers
const (
	EventsNone = "none"
	EventsNATS = "nats"
	EventsAMQP = "amqp"
)

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// AuthConfig covers provider token acquisition and optional API bearer verification
type AuthConfig struct {
	Mode          string   `mapstructure:"mode"`
	TenantID      string   `mapstructure:"tenant_id"`
	ClientID      string   `mapstructure:"client_id"`
	ClientSecret  string   `mapstructure:"client_secret"`
	Scopes        []string `mapstructure:"scopes"`
	TokenURL      string   `mapstructure:"token_url"`
	DeviceAuthURL string   `mapstructure:"device_auth_url"`
	TokenCacheDir string   `mapstructure:"token_cache_dir"`
	BrokerURL     string   `mapstructure:"broker_url"`
	BrokerJWT     string   `mapstructure:"broker_jwt"`
	JWKSURL       string   `mapstructure:"jwks_url"`
}

type GraphConfig struct {
	User   string `mapstructure:"user"`
	Folder string `mapstructure:"folder"`
}

type GmailConfig struct {
	User     string `mapstructure:"user"`
	Endpoint string `mapstructure:"endpoint"`
}

type StorageConfig struct {
	Path string `mapstructure:"path"`
}

type SchedulerConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	RunOnStart bool          `mapstructure:"run_on_start"`
}

type PipelineConfig struct {
	Lookback   time.Duration `mapstructure:"lookback"`
	PageSize   int           `mapstructure:"page_size"`
	Workers    int           `mapstructure:"workers"`
	RunTimeout time.Duration `mapstructure:"run_timeout"`
}

type EventsConfig struct {
	Driver  string `mapstructure:"driver"`
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
	// Stream is the JetStream stream name
	Stream string `mapstructure:"stream"`
	// Exchange is the AMQP topic exchange
	Exchange string `mapstructure:"exchange"`
}

// Config is the top-level service configuration
type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Log       LogConfig       `mapstructure:"log"`
	Provider  string          `mapstructure:"provider"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Graph     GraphConfig     `mapstructure:"graph"`
	Gmail     GmailConfig     `mapstructure:"gmail"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Events    EventsConfig    `mapstructure:"events"`
}

var defaults = map[string]any{
	"http.addr":              ":8000",
	"log.level":              "info",
	"provider":               ProviderOutlook,
	"auth.mode":              AuthClientCredentials,
	"auth.tenant_id":         "",
	"auth.client_id":         "",
	"auth.client_secret":     "",
	"auth.scopes":            []string{"https://graph.microsoft.com/.default"},
	"auth.token_url":         "",
	"auth.device_auth_url":   "",
	"auth.token_cache_dir":   "data/credentials",
	"auth.broker_url":        "",
	"auth.broker_jwt":        "",
	"auth.jwks_url":          "",
	"graph.user":             "",
	"graph.folder":           "inbox",
	"gmail.user":             "me",
	"gmail.endpoint":         "",
	"storage.path":           "data/mail.db",
	"scheduler.interval":     "1h",
	"scheduler.run_on_start": false,
	"pipeline.lookback":      "24h",
	"pipeline.page_size":     50,
	"pipeline.workers":       4,
	"pipeline.run_timeout":   "5m",
	"events.driver":          EventsNone,
	"events.url":             "",
	"events.subject":         "mail.email.received",
	"events.stream":          "MAIL_EVENTS",
	"events.exchange":        "mail",
}

// legacyEnv maps keys to the bare variable names used by earlier deployments
var legacyEnv = map[string]string{
	"auth.tenant_id":     "TENANT_ID",
	"auth.client_id":     "CLIENT_ID",
	"auth.client_secret": "CLIENT_SECRET",
	"graph.user":         "USER_EMAIL",
}

// Load reads configuration from path (optional) and MAILSYNC_* environment variables.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MAILSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for key, env := range legacyEnv {
		envKey := "MAILSYNC_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, env); err != nil {
			return nil, fmt.Errorf("binding env for %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDerived() {
	if c.Auth.TenantID != "" {
		authority := "https://login.microsoftonline.com/" + c.Auth.TenantID + "/oauth2/v2.0"
		if c.Auth.TokenURL == "" {
			c.Auth.TokenURL = authority + "/token"
		}
		if c.Auth.DeviceAuthURL == "" {
			c.Auth.DeviceAuthURL = authority + "/devicecode"
		}
	}
	c.Provider = strings.ToLower(c.Provider)
	c.Auth.Mode = strings.ToLower(c.Auth.Mode)
	c.Events.Driver = strings.ToLower(c.Events.Driver)

	// delegated tokens need a refresh token to survive restarts
	if c.Auth.Mode == AuthDeviceCode && !slices.Contains(c.Auth.Scopes, "offline_access") {
		c.Auth.Scopes = append(c.Auth.Scopes, "offline_access")
	}
}

// Validate checks enumerations and the settings each mode needs
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderOutlook:
		if c.Graph.User == "" {
			return errors.New("config: graph.user is required for the outlook provider")
		}
	case ProviderGmail:
	default:
		return fmt.Errorf("config: unsupported provider %q", c.Provider)
	}

	switch c.Auth.Mode {
	case AuthClientCredentials:
		if c.Auth.ClientID == "" || c.Auth.ClientSecret == "" || c.Auth.TokenURL == "" {
			return errors.New("config: client_credentials needs auth.client_id, auth.client_secret and auth.tenant_id or auth.token_url")
		}
	case AuthDeviceCode:
		if c.Auth.ClientID == "" || c.Auth.TokenURL == "" || c.Auth.DeviceAuthURL == "" {
			return errors.New("config: device_code needs auth.client_id and auth.tenant_id or explicit endpoints")
		}
	case AuthBroker:
		if c.Auth.BrokerURL == "" {
			return errors.New("config: broker mode needs auth.broker_url")
		}
	default:
		return fmt.Errorf("config: unsupported auth mode %q", c.Auth.Mode)
	}

	switch c.Events.Driver {
	case EventsNone:
	case EventsNATS, EventsAMQP:
		if c.Events.URL == "" {
			return fmt.Errorf("config: events.url is required for driver %q", c.Events.Driver)
		}
	default:
		return fmt.Errorf("config: unsupported events driver %q", c.Events.Driver)
	}

	if c.Pipeline.PageSize <= 0 || c.Pipeline.PageSize > 1000 {
		return fmt.Errorf("config: pipeline.page_size must be in 1..1000, got %d", c.Pipeline.PageSize)
	}
	if c.Scheduler.Interval <= 0 {
		return errors.New("config: scheduler.interval must be positive")
	}
	return nil
}
