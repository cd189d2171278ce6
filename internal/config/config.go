package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/joho/godotenv"
)

const (
	DefaultPort           = 8080
	DefaultHost           = "127.0.0.1"
	DefaultConfigFilename = "config.json"
	localConfigFilename   = "aiapiproxy.json"
)

// Provider types understood by the router.
const (
	TypeOpenAI     = "openai"
	TypeResponses  = "openai-responses"
	TypeGeminiMode = "gemini-mode"
)

// ServerConfig is the listen address and optional gateway key.
type ServerConfig struct {
	Host   string `json:"host,omitempty"`
	Port   int    `json:"port,omitempty"`
	APIKey string `json:"apiKey,omitempty"`
}

// ProviderOptions carries auth-mode and dialect switches for one provider.
type ProviderOptions struct {
	// APIKeyParam selects query-parameter auth and names the parameter
	// (e.g. "ak"); empty means Bearer auth.
	APIKeyParam string `json:"apiKeyParam,omitempty"`
	// Mode switches the upstream dialect for responses-host providers:
	// "responses" (default) or "gemini".
	Mode    string            `json:"mode,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// ModelOptions are per-model feature flags. Pointers distinguish absent
// (default true) from explicit false.
type ModelOptions struct {
	SupportsStreaming   *bool `json:"supportsStreaming,omitempty"`
	SupportsTools       *bool `json:"supportsTools,omitempty"`
	SupportsVision      *bool `json:"supportsVision,omitempty"`
	SupportsTemperature *bool `json:"supportsTemperature,omitempty"`
}

// Model describes one upstream model under a provider.
type Model struct {
	Name        string       `json:"name"`
	Alias       string       `json:"alias,omitempty"`
	MaxTokens   int          `json:"maxTokens,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
	Options     ModelOptions `json:"options,omitempty"`
}

func flag(p *bool) bool { return p == nil || *p }

func (m *Model) SupportsStreaming() bool   { return flag(m.Options.SupportsStreaming) }
func (m *Model) SupportsTools() bool       { return flag(m.Options.SupportsTools) }
func (m *Model) SupportsVision() bool      { return flag(m.Options.SupportsVision) }
func (m *Model) SupportsTemperature() bool { return flag(m.Options.SupportsTemperature) }

// Provider describes one upstream endpoint and its models.
type Provider struct {
	Type    string           `json:"type"`
	BaseURL string           `json:"baseUrl"`
	APIKey  string           `json:"apiKey,omitempty"`
	Options ProviderOptions  `json:"options,omitempty"`
	Models  map[string]Model `json:"models,omitempty"`
}

// Mode returns the dialect mode, defaulting to "responses".
func (p *Provider) Mode() string {
	if p.Options.Mode == "" {
		return "responses"
	}
	return p.Options.Mode
}

// ResolveAPIKey returns the configured key or the given environment
// variable's value when the config leaves it empty.
func (p *Provider) ResolveAPIKey(envVar string) string {
	if p.APIKey != "" {
		return p.APIKey
	}
	return os.Getenv(envVar)
}

// Config is the full gateway configuration.
type Config struct {
	Server       ServerConfig        `json:"server,omitempty"`
	Providers    map[string]Provider `json:"providers"`
	ModelMapping map[string]string   `json:"modelMapping,omitempty"`
}

// Validate checks structural invariants at load time.
func (c *Config) Validate() error {
	for name, p := range c.Providers {
		if p.Type == "" {
			return fmt.Errorf("provider %q: missing type", name)
		}
		if p.BaseURL == "" {
			return fmt.Errorf("provider %q: missing baseUrl", name)
		}
		seen := map[string]string{}
		for key, m := range p.Models {
			if m.Alias == "" {
				continue
			}
			if prev, ok := seen[m.Alias]; ok {
				return fmt.Errorf("provider %q: alias %q used by both %q and %q", name, m.Alias, prev, key)
			}
			seen[m.Alias] = key
		}
	}
	for client, path := range c.ModelMapping {
		if !strings.Contains(path, "/") {
			return fmt.Errorf("modelMapping %q: target %q is not a provider/model path", client, path)
		}
	}
	return nil
}

// ResolveClientModel maps an Anthropic-facing model name through the
// mapping table: exact match first, then case-insensitive substring match
// in either direction.
func (c *Config) ResolveClientModel(model string) (string, bool) {
	if path, ok := c.ModelMapping[model]; ok {
		return path, true
	}
	lower := strings.ToLower(model)
	for key, path := range c.ModelMapping {
		k := strings.ToLower(key)
		if strings.Contains(lower, k) || strings.Contains(k, lower) {
			return path, true
		}
	}
	return "", false
}

// Manager loads and holds the configuration. Reads are lock-free; Load and
// Save replace the whole object.
type Manager struct {
	configPath  string
	configValue atomic.Value
}

// NewManager resolves the config file location: an explicit path wins, then
// ./aiapiproxy.json, then ~/.config/aiapiproxy/config.json.
func NewManager(explicitPath string) *Manager {
	path := explicitPath
	if path == "" {
		if _, err := os.Stat(localConfigFilename); err == nil {
			path = localConfigFilename
		} else {
			home, _ := os.UserHomeDir()
			path = filepath.Join(home, ".config", "aiapiproxy", DefaultConfigFilename)
		}
	}
	return &Manager{configPath: path}
}

func (m *Manager) Load() (*Config, error) {
	// A project-local .env may supply API-key fallbacks.
	_ = godotenv.Load()

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultHost
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	m.configValue.Store(&cfg)
	return &cfg, nil
}

func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		return &Config{
			Server:    ServerConfig{Host: DefaultHost, Port: DefaultPort},
			Providers: map[string]Provider{},
		}
	}
	return cfg
}

func (m *Manager) Save(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	// Config may hold API keys.
	if err := os.WriteFile(m.configPath, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	m.configValue.Store(cfg)
	return nil
}

func (m *Manager) GetPath() string {
	return m.configPath
}

func (m *Manager) Exists() bool {
	_, err := os.Stat(m.configPath)
	return err == nil
}
