package config

import "time"

// Config represents the complete pushbridge configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Provider ProviderConfig `yaml:"provider"`
	API      APIConfig      `yaml:"api,omitempty"`
	Script   ScriptConfig   `yaml:"script,omitempty"`
	Webhooks WebhooksConfig `yaml:"webhooks,omitempty"`

	// Path is the absolute path the config was loaded from.
	Path string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// BridgeConfig tunes the command dispatcher and event gate.
type BridgeConfig struct {
	// Workers bounds concurrent provider calls.
	Workers int `yaml:"workers"`
	// ClearPendingOnTeardown drops a buffered event when the host view is
	// destroyed. Off by default: the event survives into the next attach.
	ClearPendingOnTeardown bool `yaml:"clear_pending_on_teardown"`
	// EventBuffer is the number of activity events kept for late subscribers.
	EventBuffer int `yaml:"event_buffer"`
}

// Provider kinds.
const (
	ProviderLocal = "local"
	ProviderREST  = "rest"
)

// ProviderConfig selects and configures the push/analytics provider.
type ProviderConfig struct {
	Kind      string `yaml:"kind"`
	AppID     string `yaml:"app_id"`
	ClientKey string `yaml:"client_key"`
	// ResourcesFile is a dotenv file holding parse_app_id and
	// parse_client_key. Values found there fill empty AppID/ClientKey.
	ResourcesFile string `yaml:"resources_file,omitempty"`
	// AutoInitialize initializes the provider at startup when credentials
	// are present, before any script calls initialize.
	AutoInitialize bool `yaml:"auto_initialize"`

	Local LocalProviderConfig `yaml:"local"`
	REST  RESTProviderConfig  `yaml:"rest"`
}

// LocalProviderConfig configures the SQLite-backed provider.
type LocalProviderConfig struct {
	Path string `yaml:"path"`
}

// RESTProviderConfig configures the remote provider.
type RESTProviderConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	DeviceType string        `yaml:"device_type"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
	// ExecTimeout bounds how long POST /exec waits for a response.
	ExecTimeout time.Duration `yaml:"exec_timeout"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is a single bearer token with full access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// ScriptConfig points at a script loaded into the embedded runtime.
type ScriptConfig struct {
	Path string `yaml:"path,omitempty"`
	// Timeout bounds a single `script run` invocation.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// WebhooksConfig defines the signed external-event listener.
type WebhooksConfig struct {
	Listen    string            `yaml:"listen"`
	Endpoints []WebhookEndpoint `yaml:"endpoints"`
}

// WebhookEndpoint is one signed POST endpoint. MaxBodySize accepts a byte
// count or a KB/MB suffix.
type WebhookEndpoint struct {
	Path            string `yaml:"path"`
	Secret          string `yaml:"secret"`
	SignatureHeader string `yaml:"signature_header,omitempty"`
	MaxBodySize     string `yaml:"max_body_size,omitempty"`
}

// ChecksumManifest is the on-disk .checksums file written by `config lock`.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}
