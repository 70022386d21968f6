// Package config defines the configuration schema for wagate.
//
// JSON keys use camelCase; the same names are accepted in YAML files.
// Every leaf that operators commonly override also has a WAGATE_* env var.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ---- HTTP ------------------------------------------------------------------

// HTTPConfig holds the API server settings.
type HTTPConfig struct {
	Addr string `json:"addr" yaml:"addr" env:"WAGATE_HTTP_ADDR"`
	// AllowedOrigins restricts browser WebSocket upgrades. Empty allows any.
	AllowedOrigins []string `json:"allowedOrigins" yaml:"allowedOrigins"`
}

func defaultHTTPConfig() HTTPConfig {
	return HTTPConfig{Addr: ":8181", AllowedOrigins: []string{}}
}

// ---- Database --------------------------------------------------------------

// DatabaseConfig selects the datastore backend.
// Driver is "sqlite3" (embedded) or "postgres" (hosted).
type DatabaseConfig struct {
	Driver string `json:"driver" yaml:"driver" env:"WAGATE_DB_DRIVER"`
	DSN    string `json:"dsn" yaml:"dsn" env:"WAGATE_DB_DSN"`
}

func defaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{Driver: "sqlite3", DSN: "~/.wagate/wagate.db"}
}

// ---- WhatsApp --------------------------------------------------------------

// WhatsAppConfig configures the bridge connection and session lifecycle.
type WhatsAppConfig struct {
	BridgeURL   string `json:"bridgeUrl" yaml:"bridgeUrl" env:"WAGATE_BRIDGE_URL"`
	BridgeToken string `json:"bridgeToken" yaml:"bridgeToken" env:"WAGATE_BRIDGE_TOKEN"`
	AuthDir     string `json:"authDir" yaml:"authDir" env:"WAGATE_AUTH_DIR"`

	KeepAliveMs         int `json:"keepAliveMs" yaml:"keepAliveMs"`
	ReconnectDelayMs    int `json:"reconnectDelayMs" yaml:"reconnectDelayMs"`
	PairingPollMs       int `json:"pairingPollMs" yaml:"pairingPollMs"`
	PairingPollAttempts int `json:"pairingPollAttempts" yaml:"pairingPollAttempts"`
}

func defaultWhatsAppConfig() WhatsAppConfig {
	return WhatsAppConfig{
		BridgeURL:           "ws://localhost:3001",
		AuthDir:             "~/.wagate/auth",
		KeepAliveMs:         25000,
		ReconnectDelayMs:    1000,
		PairingPollMs:       500,
		PairingPollAttempts: 20,
	}
}

func (w WhatsAppConfig) KeepAlive() time.Duration      { return ms(w.KeepAliveMs) }
func (w WhatsAppConfig) ReconnectDelay() time.Duration { return ms(w.ReconnectDelayMs) }
func (w WhatsAppConfig) PairingPoll() time.Duration    { return ms(w.PairingPollMs) }

// ---- Campaigns -------------------------------------------------------------

// CampaignConfig configures the bulk-send scheduler.
type CampaignConfig struct {
	PollIntervalMs int `json:"pollIntervalMs" yaml:"pollIntervalMs"`
	ThrottleMinMs  int `json:"throttleMinMs" yaml:"throttleMinMs"`
	ThrottleMaxMs  int `json:"throttleMaxMs" yaml:"throttleMaxMs"`
}

func defaultCampaignConfig() CampaignConfig {
	return CampaignConfig{PollIntervalMs: 15000, ThrottleMinMs: 2000, ThrottleMaxMs: 7000}
}

func (c CampaignConfig) PollInterval() time.Duration { return ms(c.PollIntervalMs) }

// ---- Webhook ---------------------------------------------------------------

// WebhookConfig is the fallback webhook target used when the datastore
// settings do not define one.
type WebhookConfig struct {
	URL       string `json:"url" yaml:"url" env:"WAGATE_WEBHOOK_URL"`
	Secret    string `json:"secret" yaml:"secret" env:"WAGATE_WEBHOOK_SECRET"`
	TimeoutMs int    `json:"timeoutMs" yaml:"timeoutMs"`
}

func defaultWebhookConfig() WebhookConfig {
	return WebhookConfig{TimeoutMs: 10000}
}

func (w WebhookConfig) Timeout() time.Duration { return ms(w.TimeoutMs) }

// ---- Events ----------------------------------------------------------------

// EventsConfig enables relaying tenant events to a RabbitMQ topic exchange.
// An empty AMQPURL keeps events in-process only.
type EventsConfig struct {
	AMQPURL  string `json:"amqpUrl" yaml:"amqpUrl" env:"WAGATE_AMQP_URL"`
	Exchange string `json:"exchange" yaml:"exchange"`
}

func defaultEventsConfig() EventsConfig {
	return EventsConfig{Exchange: "wagate.events"}
}

// ---- Logging ---------------------------------------------------------------

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" env:"WAGATE_LOG_LEVEL"`
	Format string `json:"format" yaml:"format" env:"WAGATE_LOG_FORMAT"` // "text" | "json"
}

func defaultLogConfig() LogConfig {
	return LogConfig{Level: "info", Format: "text"}
}

// ---- Root config -----------------------------------------------------------

// Config is the root configuration object, loaded from ~/.wagate/config.json.
type Config struct {
	HTTP     HTTPConfig     `json:"http" yaml:"http"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	WhatsApp WhatsAppConfig `json:"whatsapp" yaml:"whatsapp"`
	Campaign CampaignConfig `json:"campaign" yaml:"campaign"`
	Webhook  WebhookConfig  `json:"webhook" yaml:"webhook"`
	Events   EventsConfig   `json:"events" yaml:"events"`
	Log      LogConfig      `json:"log" yaml:"log"`
}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() Config {
	return Config{
		HTTP:     defaultHTTPConfig(),
		Database: defaultDatabaseConfig(),
		WhatsApp: defaultWhatsAppConfig(),
		Campaign: defaultCampaignConfig(),
		Webhook:  defaultWebhookConfig(),
		Events:   defaultEventsConfig(),
		Log:      defaultLogConfig(),
	}
}

// AuthPath returns the expanded root directory for per-tenant auth material.
func (c *Config) AuthPath() string {
	if c.WhatsApp.AuthDir == "" {
		return expandHome("~/.wagate/auth")
	}
	return expandHome(c.WhatsApp.AuthDir)
}

// DatabaseDSN returns the DSN with "~/" expanded for file-backed drivers.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite3" {
		return expandHome(c.Database.DSN)
	}
	return c.Database.DSN
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
