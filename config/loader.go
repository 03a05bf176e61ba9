package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	// ProjectConfigFile is the name of the project-level config file
	ProjectConfigFile = "openrag.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/openrag"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/openrag/config.yaml)
// 3. Project config (openrag.yaml in current or parent directories), or
//    the explicit path when one is given
// 4. Environment variables
//
// Validation is the caller's job once any flag overrides are applied.
func (l *Loader) Load(path string) (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	// Load user config
	userConfigPath := l.userConfigPath()
	if userConfig, err := LoadFromFile(userConfigPath); err == nil {
		l.logger.Debug("Loaded user config", slog.String("path", userConfigPath))
		config.Merge(userConfig)
	} else if !errors.Is(err, os.ErrNotExist) {
		l.logger.Warn("Failed to load user config", slog.String("path", userConfigPath), slog.String("error", err.Error()))
	}

	// Load project config; an explicit path must exist
	if path != "" {
		projectConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		l.logger.Debug("Loaded config", slog.String("path", path))
		config.Merge(projectConfig)
	} else if projectConfigPath := l.findProjectConfig(); projectConfigPath != "" {
		if projectConfig, err := LoadFromFile(projectConfigPath); err == nil {
			l.logger.Debug("Loaded project config", slog.String("path", projectConfigPath))
			config.Merge(projectConfig)
		} else {
			l.logger.Warn("Failed to load project config", slog.String("path", projectConfigPath), slog.String("error", err.Error()))
		}
	} else {
		l.logger.Debug("No project config found")
	}

	config.ApplyEnv()
	return config, nil
}

// EnsureUserConfig creates the user config file with defaults if it doesn't exist
func (l *Loader) EnsureUserConfig() error {
	userConfigPath := l.userConfigPath()

	// Check if it already exists
	if _, err := os.Stat(userConfigPath); err == nil {
		return nil // Already exists
	}

	// Create default config
	config := DefaultConfig()
	if err := config.SaveToFile(userConfigPath); err != nil {
		return err
	}

	l.logger.Info("Created default user config", slog.String("path", userConfigPath))
	return nil
}

// ApplyEnv overlays environment variables onto the config: OPENRAG_API_KEY,
// OPENRAG_MODEL, OPENRAG_PROVIDER, ARALIA_SSO_URL, ARALIA_GALAXY_URL,
// ARALIA_CLIENT_ID, ARALIA_CLIENT_SECRET.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("OPENRAG_API_KEY"); v != "" {
		c.Model.APIKey = v
	}
	if v := os.Getenv("OPENRAG_MODEL"); v != "" {
		c.Model.Name = v
	}
	if v := os.Getenv("OPENRAG_PROVIDER"); v != "" {
		c.Model.Provider = v
	}
	if v := os.Getenv("ARALIA_SSO_URL"); v != "" {
		c.Planet.SSOURL = v
	}
	if v := os.Getenv("ARALIA_GALAXY_URL"); v != "" {
		c.Planet.GalaxyURL = v
	}
	if v := os.Getenv("ARALIA_CLIENT_ID"); v != "" {
		c.Planet.ClientID = v
	}
	if v := os.Getenv("ARALIA_CLIENT_SECRET"); v != "" {
		c.Planet.ClientSecret = v
	}
}

// userConfigPath returns the path to the user config file
func (l *Loader) userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// findProjectConfig searches for openrag.yaml in current and parent directories
func (l *Loader) findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		configPath := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		// Move to parent directory
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			break
		}
		dir = parent
	}

	return ""
}
