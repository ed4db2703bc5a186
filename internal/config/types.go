// Package config loads and validates the switchboard YAML configuration.
package config

import "time"

// Config represents the complete switchboard configuration.
type Config struct {
	// Include lists further files merged into this one, relative to it.
	Include   []string        `yaml:"include,omitempty"`
	Service   ServiceConfig   `yaml:"service"`
	State     StateConfig     `yaml:"state"`
	API       APIConfig       `yaml:"api,omitempty"`
	Webhooks  *WebhooksConfig `yaml:"webhooks,omitempty"`
	Execution ExecutionConfig `yaml:"execution"`
	Plugins   []PluginConf    `yaml:"plugins"`

	// SourceFiles lists every file that contributed, root first.
	SourceFiles []string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
	// Codec selects the plugin wire format: json or cbor.
	Codec string `yaml:"codec"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path             string        `yaml:"path"`
	AuditMessages    bool          `yaml:"audit_messages"`
	MessageRetention time.Duration `yaml:"message_retention"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
	// OutboxSize is the number of frames buffered per plugin for stream replay.
	OutboxSize int `yaml:"outbox_size"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is the legacy single bearer token (admin/full access).
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// WebhooksConfig defines the host event receiver.
type WebhooksConfig struct {
	Listen    string            `yaml:"listen"`
	Endpoints []WebhookEndpoint `yaml:"endpoints"`
}

// WebhookEndpoint defines a single signed host event endpoint.
type WebhookEndpoint struct {
	Path            string `yaml:"path"`
	Secret          string `yaml:"secret"`
	SignatureHeader string `yaml:"signature_header"`
	MaxBodySize     string `yaml:"max_body_size"`
}

// ExecutionConfig selects the transaction execution backend.
type ExecutionConfig struct {
	Backend string `yaml:"backend"`
}

// PluginConf declares a plugin registered at startup.
type PluginConf struct {
	Title string `yaml:"title"`
	URL   string `yaml:"url"`
	// Allow restricts callable endpoints: "key/type", "key/*" or "*".
	// Empty means unrestricted.
	Allow []string `yaml:"allow,omitempty"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "switchboard",
			LogLevel: "info",
			Codec:    "json",
		},
		State: StateConfig{
			Path:             "./data/switchboard.db",
			AuditMessages:    true,
			MessageRetention: 7 * 24 * time.Hour,
		},
		API: APIConfig{
			Enabled:    true,
			Listen:     "127.0.0.1:8080",
			OutboxSize: 256,
		},
		Execution: ExecutionConfig{
			Backend: "vm",
		},
	}
}
