package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// EnvClientID is the environment variable overriding the OAuth app
	// client ID from the config file.
	EnvClientID = "GITSCOUT_CLIENT_ID"
)

// Config represents the application configuration.
type Config struct {
	// OAuth device-flow application client ID (can be set via the
	// GITSCOUT_CLIENT_ID env var). Required for -login only; anonymous
	// searches work without it.
	ClientID string `json:"client_id"`

	// Path to the SQLite session database holding the signed-in token
	// and profile.
	StorePath string `json:"store_path"`

	// Maximum number of issues fetched per search before giving up.
	// Zero selects the engine default.
	MaxIssues int `json:"max_issues"`
}

// LoadConfig loads the configuration from a JSON file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if envID := os.Getenv(EnvClientID); envID != "" {
		config.ClientID = envID
	}

	if config.StorePath == "" {
		config.StorePath = "gitscout.db"
	}

	// Make the store path absolute relative to the config file.
	if !filepath.IsAbs(config.StorePath) {
		configDir := filepath.Dir(path)
		config.StorePath = filepath.Join(configDir, config.StorePath)
	}

	return &config, nil
}

// SaveConfig saves the configuration to a JSON file.
func SaveConfig(config *Config, path string) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// CreateDefaultConfig creates a default configuration file if it doesn't
// exist.
func CreateDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil // File exists, don't overwrite
	}

	config := &Config{
		ClientID:  "",
		StorePath: "gitscout.db",
		MaxIssues: 0,
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return SaveConfig(config, path)
}
