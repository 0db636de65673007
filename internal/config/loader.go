package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Defaults returns a configuration that runs the local provider with the
// API disabled.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "pushbridge",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Bridge: BridgeConfig{
			Workers:     4,
			EventBuffer: 256,
		},
		Provider: ProviderConfig{
			Kind:  ProviderLocal,
			Local: LocalProviderConfig{Path: "./pushbridge.db"},
			REST: RESTProviderConfig{
				Timeout:    30 * time.Second,
				DeviceType: "web",
			},
		},
		API: APIConfig{
			Listen:      "localhost:8181",
			ExecTimeout: 30 * time.Second,
		},
		Script: ScriptConfig{
			Timeout: time.Minute,
		},
	}
}

// Load reads, verifies and validates the configuration at configPath. A
// directory is accepted and resolved to its config.yaml.
func Load(configPath string) (*Config, error) {
	return load(configPath, true)
}

// LoadUnverified is Load without the checksum check. `config lock` uses it
// to re-hash files that were edited on purpose.
func LoadUnverified(configPath string) (*Config, error) {
	return load(configPath, false)
}

func load(configPath string, verify bool) (*Config, error) {
	absPath, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", absPath, err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", absPath, err)
	}
	cfg.Path = absPath

	interpolateConfig(cfg)
	resolvePaths(cfg, filepath.Dir(absPath))
	applyConfigDefaults(cfg)

	if verify {
		if err := VerifyLocked(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.Provider.ResourcesFile != "" {
		creds, err := LoadResources(cfg.Provider.ResourcesFile)
		if err != nil {
			return nil, err
		}
		if cfg.Provider.AppID == "" {
			cfg.Provider.AppID = creds.AppID
		}
		if cfg.Provider.ClientKey == "" {
			cfg.Provider.ClientKey = creds.ClientKey
		}
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolveConfigPath(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

// interpolateConfig expands ${VAR} in fields that commonly carry secrets
// or deployment-specific values.
func interpolateConfig(cfg *Config) {
	p := &cfg.Provider
	p.AppID = interpolateEnv(p.AppID)
	p.ClientKey = interpolateEnv(p.ClientKey)
	p.ResourcesFile = interpolateEnv(p.ResourcesFile)
	p.Local.Path = interpolateEnv(p.Local.Path)
	p.REST.BaseURL = interpolateEnv(p.REST.BaseURL)

	cfg.API.Listen = interpolateEnv(cfg.API.Listen)
	cfg.API.Auth.APIKey = interpolateEnv(cfg.API.Auth.APIKey)
	for i := range cfg.API.Auth.Tokens {
		cfg.API.Auth.Tokens[i].Token = interpolateEnv(cfg.API.Auth.Tokens[i].Token)
	}
	cfg.Script.Path = interpolateEnv(cfg.Script.Path)

	cfg.Webhooks.Listen = interpolateEnv(cfg.Webhooks.Listen)
	for i := range cfg.Webhooks.Endpoints {
		cfg.Webhooks.Endpoints[i].Secret = interpolateEnv(cfg.Webhooks.Endpoints[i].Secret)
	}
}

// resolvePaths makes file references relative to the config file's directory.
func resolvePaths(cfg *Config, baseDir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) || p == ":memory:" {
			return p
		}
		return filepath.Join(baseDir, p)
	}
	cfg.Provider.ResourcesFile = abs(cfg.Provider.ResourcesFile)
	cfg.Provider.Local.Path = abs(cfg.Provider.Local.Path)
	cfg.Script.Path = abs(cfg.Script.Path)
}

func applyConfigDefaults(cfg *Config) {
	d := Defaults()
	if cfg.Service.Name == "" {
		cfg.Service.Name = d.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = d.Service.LogLevel
	}
	cfg.Service.LogLevel = strings.ToLower(cfg.Service.LogLevel)
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = d.Service.LogFormat
	}
	if cfg.Bridge.Workers <= 0 {
		cfg.Bridge.Workers = d.Bridge.Workers
	}
	if cfg.Bridge.EventBuffer <= 0 {
		cfg.Bridge.EventBuffer = d.Bridge.EventBuffer
	}
	if cfg.Provider.Kind == "" {
		cfg.Provider.Kind = d.Provider.Kind
	}
	if cfg.Provider.REST.Timeout <= 0 {
		cfg.Provider.REST.Timeout = d.Provider.REST.Timeout
	}
	if cfg.Provider.REST.DeviceType == "" {
		cfg.Provider.REST.DeviceType = d.Provider.REST.DeviceType
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = d.API.Listen
	}
	if cfg.API.ExecTimeout <= 0 {
		cfg.API.ExecTimeout = d.API.ExecTimeout
	}
	if cfg.Script.Timeout <= 0 {
		cfg.Script.Timeout = d.Script.Timeout
	}
}

// interpolateEnv replaces ${VAR} with the environment value. Unset
// variables are left in place so validation can report them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func unresolved(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
	}
	return nil
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	p := cfg.Provider
	for field, value := range map[string]string{
		"provider.app_id":     p.AppID,
		"provider.client_key": p.ClientKey,
	} {
		if err := unresolved(field, value); err != nil {
			return err
		}
	}
	switch p.Kind {
	case ProviderLocal:
		if p.Local.Path == "" {
			return fmt.Errorf("provider.local.path is required for the local provider")
		}
	case ProviderREST:
		if p.REST.BaseURL == "" {
			return fmt.Errorf("provider.rest.base_url is required for the rest provider")
		}
		if err := unresolved("provider.rest.base_url", p.REST.BaseURL); err != nil {
			return err
		}
	default:
		return fmt.Errorf("provider.kind must be %q or %q (got %q)", ProviderLocal, ProviderREST, p.Kind)
	}
	if p.AutoInitialize && (p.AppID == "" || p.ClientKey == "") {
		return fmt.Errorf("provider.auto_initialize requires app_id and client_key (directly or via resources_file)")
	}

	if cfg.API.Enabled {
		if err := unresolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
		for i, tok := range cfg.API.Auth.Tokens {
			if tok.Token == "" {
				return fmt.Errorf("api.auth.tokens[%d].token is required", i)
			}
			if err := unresolved(fmt.Sprintf("api.auth.tokens[%d].token", i), tok.Token); err != nil {
				return err
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("api.auth.tokens[%d].scopes must not be empty", i)
			}
		}
		if cfg.API.Auth.APIKey == "" && len(cfg.API.Auth.Tokens) == 0 {
			return fmt.Errorf("api.enabled requires api.auth.api_key or api.auth.tokens")
		}
	}

	if len(cfg.Webhooks.Endpoints) > 0 && cfg.Webhooks.Listen == "" {
		return fmt.Errorf("webhooks.listen is required when endpoints are configured")
	}
	seen := make(map[string]bool, len(cfg.Webhooks.Endpoints))
	for i, ep := range cfg.Webhooks.Endpoints {
		if !strings.HasPrefix(ep.Path, "/") {
			return fmt.Errorf("webhooks.endpoints[%d].path must start with /", i)
		}
		if seen[ep.Path] {
			return fmt.Errorf("webhooks.endpoints[%d].path %q is duplicated", i, ep.Path)
		}
		seen[ep.Path] = true
		if ep.Secret == "" {
			return fmt.Errorf("webhooks.endpoints[%d].secret is required", i)
		}
		if err := unresolved(fmt.Sprintf("webhooks.endpoints[%d].secret", i), ep.Secret); err != nil {
			return err
		}
	}
	return nil
}
