package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Config holds the configuration for the punchbot service.
// Environment variables are parsed from the PUNCHBOT_ prefix, e.g.
// PUNCHBOT_PORTAL_BASE_URL, PUNCHBOT_HTTP_PORT.
type Config struct {
	// Portal base URL, e.g. https://hr.example.com
	PortalBaseURL string `envconfig:"PORTAL_BASE_URL" required:"true"`

	// Shared secret authenticating the messaging gateway webhook, both
	// inbound (bearer token check) and outbound (bearer token sent).
	GatewayToken string `envconfig:"GATEWAY_TOKEN" required:"true"`

	// Outbound delivery endpoint of the messaging gateway. Empty means
	// outbound messages are logged and dropped (useful in development).
	GatewayWebhookURL string `envconfig:"GATEWAY_WEBHOOK_URL" default:""`

	// Comma-separated user ids allowed to use admin commands.
	AdminUsers []string `envconfig:"ADMIN_USERS" default:""`

	// Directory holding the SQLite state file.
	DataDir string `envconfig:"DATA_DIR" default:"./data"`

	// IANA timezone name reminder times are interpreted in.
	Timezone string `envconfig:"TIMEZONE" default:"Local"`

	// HTTP Configuration
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`
}

// New creates a Config by parsing PUNCHBOT_-prefixed environment variables.
// Missing required values are a fatal startup error surfaced to the caller.
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("PUNCHBOT", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if _, err := cfg.Location(); err != nil {
		return nil, fmt.Errorf("invalid PUNCHBOT_TIMEZONE: %w", err)
	}

	log.Info().
		Str("portal_base_url", cfg.PortalBaseURL).
		Str("data_dir", cfg.DataDir).
		Str("timezone", cfg.Timezone).
		Int("http_port", cfg.HTTPPort).
		Int("admin_users", len(cfg.AdminUsers)).
		Bool("gateway_webhook_configured", cfg.GatewayWebhookURL != "").
		Msg("Configuration loaded")

	return &cfg, nil
}

// Location resolves the configured timezone. "Local" resolves to the
// process-local zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// IsAdmin reports whether the given user id is in the admin list.
func (c *Config) IsAdmin(userID string) bool {
	for _, id := range c.AdminUsers {
		if id == userID {
			return true
		}
	}
	return false
}

// StatePath returns the SQLite database path under the data directory.
func (c *Config) StatePath() string {
	return c.DataDir + "/punchbot.db"
}

// GetHTTPAddr returns the HTTP server address.
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
