package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// InsecureDevSecret is the fallback encryption secret. Production
// deployments must set ENCRYPTION_SECRET; main logs a loud warning when
// this default is in use.
const InsecureDevSecret = "credvault-dev-secret-do-not-use"

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Durable store
	StoreDSN       string `envconfig:"STORE_DSN" default:"file:credvault.db?cache=shared"`
	StoreNamespace string `envconfig:"STORE_NAMESPACE" default:"credentials"`

	// Encryption
	EncryptionSecret string `envconfig:"ENCRYPTION_SECRET"`

	// Credential lifetime and cache
	CredentialTTL time.Duration `envconfig:"CREDENTIAL_TTL" default:"168h"`
	CacheCapacity int           `envconfig:"CACHE_CAPACITY" default:"10000"`

	// Initialization supervisor
	InitMaxAttempts int           `envconfig:"INIT_MAX_ATTEMPTS" default:"5"`
	InitBaseDelay   time.Duration `envconfig:"INIT_BASE_DELAY" default:"2s"`
	InitMaxDelay    time.Duration `envconfig:"INIT_MAX_DELAY" default:"30s"`
	ReadyTimeout    time.Duration `envconfig:"READY_TIMEOUT" default:"5s"`

	// Workspace policy (optional YAML file)
	PolicyPath string `envconfig:"POLICY_PATH"`

	// Slack (optional — service starts without Slack in mgmt-only mode)
	// Prefixed with VAULT_ to prevent other tooling from auto-detecting them
	SlackBotToken string `envconfig:"VAULT_SLACK_BOT_TOKEN"`
	SlackAppToken string `envconfig:"VAULT_SLACK_APP_TOKEN"` // xapp- token for Socket Mode
	SlackCommand  string `envconfig:"VAULT_SLACK_COMMAND" default:"/assistant"`

	// Management API
	MgmtListenAddr     string `envconfig:"MGMT_LISTEN_ADDR" default:":8090"`
	MgmtAuthMode       string `envconfig:"MGMT_AUTH_MODE" default:"api-key"`
	MgmtAPIKey         string `envconfig:"MGMT_API_KEY"`
	MgmtJWTSecret      string `envconfig:"MGMT_JWT_SECRET"`
	MgmtRateLimitRPS   int    `envconfig:"MGMT_RATE_LIMIT_RPS" default:"100"`
	MgmtRateLimitBurst int    `envconfig:"MGMT_RATE_LIMIT_BURST" default:"200"`
	MgmtCORSOrigins    string `envconfig:"MGMT_CORS_ORIGINS"`
}

// SlackEnabled returns true if Slack tokens are configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackAppToken != ""
}

// UsingDevSecret returns true if the insecure development secret is in effect.
func (c *Config) UsingDevSecret() bool {
	return c.EncryptionSecret == InsecureDevSecret
}

// Validate rejects configurations that cannot work at all.
func (c *Config) Validate() error {
	if c.InitMaxAttempts < 1 {
		return fmt.Errorf("INIT_MAX_ATTEMPTS must be >= 1")
	}
	if c.CacheCapacity < 1 {
		return fmt.Errorf("CACHE_CAPACITY must be >= 1")
	}
	if c.CredentialTTL <= 0 {
		return fmt.Errorf("CREDENTIAL_TTL must be positive")
	}
	if c.ReadyTimeout <= 0 {
		return fmt.Errorf("READY_TIMEOUT must be positive")
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.EncryptionSecret == "" {
		cfg.EncryptionSecret = InsecureDevSecret
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
