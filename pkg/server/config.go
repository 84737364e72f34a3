package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server ServerSection `toml:"server"`
	Limits LimitsSection `toml:"limits"`
}

type ServerSection struct {
	ListenAddr    string `toml:"listen_addr"`
	WebSocketPath string `toml:"websocket_path"`
	MetricsPath   string `toml:"metrics_path"`
	TranscriptDB  string `toml:"transcript_db"` // empty disables the transcript
}

type LimitsSection struct {
	MaxMessageLength  int `toml:"max_message_length"`
	MaxUsernameLength int `toml:"max_username_length"`
	SendQueueSize     int `toml:"send_queue_size"`
}

// Config holds resolved server configuration
type Config struct {
	ListenAddr        string
	WebSocketPath     string
	MetricsPath       string
	TranscriptDB      string
	MaxMessageLength  int
	MaxUsernameLength int
	SendQueueSize     int
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		ListenAddr:        ":8080",
		WebSocketPath:     "/ws",
		MetricsPath:       "/metrics",
		MaxMessageLength:  4096, // bytes
		MaxUsernameLength: 32,
		SendQueueSize:     256,
	}
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	cfg := DefaultConfig()
	return TOMLConfig{
		Server: ServerSection{
			ListenAddr:    cfg.ListenAddr,
			WebSocketPath: cfg.WebSocketPath,
			MetricsPath:   cfg.MetricsPath,
			TranscriptDB:  "",
		},
		Limits: LimitsSection{
			MaxMessageLength:  cfg.MaxMessageLength,
			MaxUsernameLength: cfg.MaxUsernameLength,
			SendQueueSize:     cfg.SendQueueSize,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates default if not found
func LoadConfig(path string) (TOMLConfig, error) {
	// Expand ~ in path
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return TOMLConfig{}, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// File doesn't exist, create default config
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(path, config); err != nil {
			// If we can't write, just return defaults without error
			// (might be a permissions issue, but we can still run)
			return config, nil
		}
		return config, nil
	}

	// Load from file
	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// writeDefaultConfig writes the default config to a file
func writeDefaultConfig(path string, config TOMLConfig) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Create file
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	// Write header comment
	header := `# Ripplechat Server Configuration
# This file was auto-generated with default values
# Edit as needed and restart the server for changes to take effect

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	// Encode config as TOML
	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ToConfig converts TOMLConfig to Config, keeping defaults for zero values
func (c *TOMLConfig) ToConfig() Config {
	cfg := DefaultConfig()

	if strings.TrimSpace(c.Server.ListenAddr) != "" {
		cfg.ListenAddr = c.Server.ListenAddr
	}

	if strings.TrimSpace(c.Server.WebSocketPath) != "" {
		cfg.WebSocketPath = c.Server.WebSocketPath
	}

	if strings.TrimSpace(c.Server.MetricsPath) != "" {
		cfg.MetricsPath = c.Server.MetricsPath
	}

	cfg.TranscriptDB = strings.TrimSpace(c.Server.TranscriptDB)

	if c.Limits.MaxMessageLength != 0 {
		cfg.MaxMessageLength = c.Limits.MaxMessageLength
	}

	if c.Limits.MaxUsernameLength != 0 {
		cfg.MaxUsernameLength = c.Limits.MaxUsernameLength
	}

	if c.Limits.SendQueueSize != 0 {
		cfg.SendQueueSize = c.Limits.SendQueueSize
	}

	return cfg
}

// GetTranscriptPath returns the transcript database path with ~ expanded
func (c *Config) GetTranscriptPath() (string, error) {
	path := c.TranscriptDB
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}
	return path, nil
}
