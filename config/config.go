// Package config provides configuration loading and management for openrag.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/araliadata/openrag/llm"
)

// Config represents the complete openrag configuration
type Config struct {
	Model  ModelConfig  `yaml:"model"`
	Planet PlanetConfig `yaml:"planet"`
	Output OutputConfig `yaml:"output"`
}

// ModelConfig configures the LLM settings
type ModelConfig struct {
	// Provider selects the LLM provider ("openai", "anthropic", "gemini").
	// Empty resolves from the API key prefix.
	Provider string `yaml:"provider"`
	// Name is the model identifier (empty = provider default)
	Name string `yaml:"name"`
	// APIKey authenticates against the provider
	APIKey string `yaml:"api_key"`
	// Endpoint overrides the provider's default base URL
	Endpoint string `yaml:"endpoint"`
	// Temperature controls randomness (0.0-2.0, default 0 for
	// reproducible analysis runs)
	Temperature float64 `yaml:"temperature"`
	// MaxTokens limits response length (0 = provider default)
	MaxTokens int `yaml:"max_tokens"`
}

// PlanetConfig configures access to the Aralia planet federation
type PlanetConfig struct {
	// SSOURL is the SSO realm that issues bearer tokens
	SSOURL string `yaml:"sso_url"`
	// GalaxyURL is the galaxy host used for dataset discovery
	GalaxyURL string `yaml:"galaxy_url"`
	// ClientID and ClientSecret are the client-credentials grant pair
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// OutputConfig configures run artifacts
type OutputConfig struct {
	// CSVDir, when set, receives one CSV file per executed chart
	CSVDir string `yaml:"csv_dir"`
}

// DefaultModels maps each provider to the model used when none is
// configured.
var DefaultModels = map[string]string{
	"openai":    "gpt-4o",
	"anthropic": "claude-3-5-sonnet-20240620",
	"gemini":    "gemini-2.0-flash",
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Temperature: 0,
		},
		Planet: PlanetConfig{
			SSOURL:    "https://sso.araliadata.io",
			GalaxyURL: "https://tw-air.araliadata.io",
		},
	}
}

// Normalize fills the provider from the API key prefix and the model name
// from the provider default. Callers apply it once every overlay (file,
// environment, flags) is in place.
func (c *Config) Normalize() {
	if c.Model.Provider == "" {
		c.Model.Provider = llm.ProviderForKey(c.Model.APIKey)
	}
	if c.Model.Name == "" {
		c.Model.Name = DefaultModels[c.Model.Provider]
	}
}

// Validate checks that the configuration is complete enough to run
func (c *Config) Validate() error {
	if c.Model.APIKey == "" {
		return fmt.Errorf("model.api_key is required")
	}
	if c.Model.Name == "" {
		return fmt.Errorf("model.name is required")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return fmt.Errorf("model.temperature must be between 0 and 2")
	}
	if c.Planet.SSOURL == "" {
		return fmt.Errorf("planet.sso_url is required")
	}
	if c.Planet.GalaxyURL == "" {
		return fmt.Errorf("planet.galaxy_url is required")
	}
	if c.Planet.ClientID == "" || c.Planet.ClientSecret == "" {
		return fmt.Errorf("planet.client_id and planet.client_secret are required")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Model
	if other.Model.Provider != "" {
		c.Model.Provider = other.Model.Provider
	}
	if other.Model.Name != "" {
		c.Model.Name = other.Model.Name
	}
	if other.Model.APIKey != "" {
		c.Model.APIKey = other.Model.APIKey
	}
	if other.Model.Endpoint != "" {
		c.Model.Endpoint = other.Model.Endpoint
	}
	if other.Model.Temperature != 0 {
		c.Model.Temperature = other.Model.Temperature
	}
	if other.Model.MaxTokens != 0 {
		c.Model.MaxTokens = other.Model.MaxTokens
	}

	// Planet
	if other.Planet.SSOURL != "" {
		c.Planet.SSOURL = other.Planet.SSOURL
	}
	if other.Planet.GalaxyURL != "" {
		c.Planet.GalaxyURL = other.Planet.GalaxyURL
	}
	if other.Planet.ClientID != "" {
		c.Planet.ClientID = other.Planet.ClientID
	}
	if other.Planet.ClientSecret != "" {
		c.Planet.ClientSecret = other.Planet.ClientSecret
	}

	// Output
	if other.Output.CSVDir != "" {
		c.Output.CSVDir = other.Output.CSVDir
	}
}
