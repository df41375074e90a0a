package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"storyline/internal/phase"
)

// Config models storyline.yml.
type Config struct {
	Workflow struct {
		Analysis phase.Policy `yaml:"analysis"`
		Solution phase.Policy `yaml:"solution"`
		Approval struct {
			MaxAttempts int `yaml:"max_attempts"`
		} `yaml:"approval"`
	} `yaml:"workflow"`
	Actor    Actor     `yaml:"actor"`
	Server   Server    `yaml:"server"`
	Webhooks []Webhook `yaml:"webhooks"`
}

// Actor selects and tunes the text-generation binding.
type Actor struct {
	Provider      string  `yaml:"provider"`
	Model         string  `yaml:"model"`
	BaseURL       string  `yaml:"base_url"`
	APIKeyEnv     string  `yaml:"api_key_env"`
	Temperature   float64 `yaml:"temperature"`
	MaxTokens     int     `yaml:"max_tokens"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
	Script        string  `yaml:"script"`
}

// APIKey reads the credential from the configured environment variable.
func (a Actor) APIKey() string {
	if a.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(a.APIKeyEnv)
}

type Server struct {
	Addr         string `yaml:"addr"`
	BasePath     string `yaml:"base_path"`
	JWTSecretEnv string `yaml:"jwt_secret_env"`
}

// JWTSecret reads the bearer token secret; empty disables auth.
func (s Server) JWTSecret() string {
	if s.JWTSecretEnv == "" {
		return ""
	}
	return os.Getenv(s.JWTSecretEnv)
}

type Webhook struct {
	URL       string   `yaml:"url"`
	Events    []string `yaml:"events"`
	SecretEnv string   `yaml:"secret_env"`
	Enabled   bool     `yaml:"enabled"`
}

func (w Webhook) Secret() string {
	if w.SecretEnv == "" {
		return ""
	}
	return os.Getenv(w.SecretEnv)
}

var providers = map[string]bool{"scripted": true, "openai": true, "ollama": true, "anthropic": true}

// Validate checks thresholds, the approval budget and the actor binding.
func (c *Config) Validate() error {
	for name, p := range map[string]phase.Policy{"analysis": c.Workflow.Analysis, "solution": c.Workflow.Solution} {
		if p.MinTotalWithCoverage < 0 || p.Floor < 0 || p.TotalCeiling < 0 {
			return fmt.Errorf("config.workflow.%s thresholds must not be negative", name)
		}
		if p.MinTotalWithCoverage == 0 && p.Floor == 0 && p.TotalCeiling == 0 {
			return fmt.Errorf("config.workflow.%s needs at least one threshold", name)
		}
	}
	if n := c.Workflow.Approval.MaxAttempts; n < 1 || n > 10 {
		return fmt.Errorf("config.workflow.approval.max_attempts must be between 1 and 10, got %d", n)
	}
	if !providers[c.Actor.Provider] {
		return fmt.Errorf("config.actor.provider must be one of scripted, openai, ollama, anthropic")
	}
	if c.Actor.Provider != "scripted" && c.Actor.Provider != "ollama" && c.Actor.APIKeyEnv == "" {
		return fmt.Errorf("config.actor.api_key_env is required for provider %s", c.Actor.Provider)
	}
	if c.Actor.Temperature < 0 || c.Actor.Temperature > 2 {
		return fmt.Errorf("config.actor.temperature must be between 0 and 2")
	}
	if c.Actor.RatePerSecond < 0 || c.Actor.Burst < 0 {
		return fmt.Errorf("config.actor rate limits must not be negative")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if !strings.HasPrefix(wh.URL, "http://") && !strings.HasPrefix(wh.URL, "https://") {
			return fmt.Errorf("config.webhooks[%d].url must be http(s)", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "storyline.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with sl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOrDefault returns the defaults when the workspace has no config file.
func LoadOrDefault(workspace string) (*Config, error) {
	cfg, err := LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return Default(), nil
	}
	return cfg, nil
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses config on top of the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// ToYAML renders cfg back to YAML.
func (c *Config) ToYAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

const defaultTemplate = `workflow:
  analysis:
    # every category has one item and the total reaches this
    min_total_with_coverage: 5
    # or every category reaches this
    floor: 2
    # or the total reaches this
    total_ceiling: 8
  solution:
    min_total_with_coverage: 4
    floor: 2
    total_ceiling: 0
  approval:
    max_attempts: 3

actor:
  provider: scripted
  model: ""
  base_url: ""
  api_key_env: ""
  temperature: 0.2
  max_tokens: 0
  rate_per_second: 0
  burst: 1
  # canned replies for the scripted provider, relative to the workspace
  script: ""

server:
  addr: "127.0.0.1:8080"
  base_path: "/v0"
  jwt_secret_env: ""

webhooks: []
`
