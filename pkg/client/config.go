package client

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/aeolun/ripplechat/pkg/session"
)

// TOMLConfig represents the structure of the client config file
type TOMLConfig struct {
	Connection ConnectionSection `toml:"connection"`
	Identity   IdentitySection   `toml:"identity"`
	Avatar     AvatarSection     `toml:"avatar"`
	UI         UISection         `toml:"ui"`
}

type ConnectionSection struct {
	ServerURL                string `toml:"server_url"`
	SendQueueSize            int    `toml:"send_queue_size"`
	HandshakeTimeoutSeconds  int    `toml:"handshake_timeout_seconds"`
	AutoReconnect            bool   `toml:"auto_reconnect"`
	ReconnectMaxDelaySeconds int    `toml:"reconnect_max_delay_seconds"`
}

type IdentitySection struct {
	Username string `toml:"username"`
}

type AvatarSection struct {
	URLTemplate    string `toml:"url_template"`
	PlaceholderURL string `toml:"placeholder_url"`
}

type UISection struct {
	NotifyMentions   bool `toml:"notify_mentions"`
	ShowImagesInline bool `toml:"show_images_inline"`
}

// ConfigError represents a structured configuration error
type ConfigError struct {
	Path       string
	Message    string
	LineNumber int // 0 if not a parse error
}

func (e *ConfigError) Error() string {
	if e.LineNumber > 0 {
		return fmt.Sprintf("%s (line %d)", e.Message, e.LineNumber)
	}
	return e.Message
}

// getXDGConfigHome returns the XDG config directory
func getXDGConfigHome() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return xdg
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".config")
}

// DefaultConfigPath returns the default client config file location
func DefaultConfigPath() string {
	return filepath.Join(getXDGConfigHome(), "ripplechat", "config.toml")
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Connection: ConnectionSection{
			ServerURL:                "ws://localhost:8080/ws",
			SendQueueSize:            DefaultQueueSize,
			HandshakeTimeoutSeconds:  10,
			AutoReconnect:            false,
			ReconnectMaxDelaySeconds: 30,
		},
		Avatar: AvatarSection{
			URLTemplate:    session.DefaultAvatarTemplate,
			PlaceholderURL: session.DefaultPlaceholderAvatar,
		},
		UI: UISection{
			NotifyMentions:   true,
			ShowImagesInline: true,
		},
	}
}

// LoadClientConfig loads configuration from a TOML file, creates default if not found
func LoadClientConfig(path string) (TOMLConfig, error) {
	path, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(path, config); err != nil {
			// If we can't write, just return defaults without error
			// (might be a permissions issue, but we can still run)
			return config, nil
		}
		return config, nil
	}

	// Fields missing from the file keep their defaults
	config := DefaultTOMLConfig()
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, &ConfigError{
			Path:       path,
			Message:    cleanErrorMessage(err.Error()),
			LineNumber: extractLineNumber(err.Error()),
		}
	}

	if err := validateConfig(&config); err != nil {
		return TOMLConfig{}, &ConfigError{
			Path:    path,
			Message: err.Error(),
		}
	}

	return config, nil
}

// extractLineNumber tries to extract a line number from a TOML parse error
func extractLineNumber(errMsg string) int {
	// TOML errors typically format like "line 12: ..." or "at line 12"
	re := regexp.MustCompile(`line (\d+)`)
	matches := re.FindStringSubmatch(errMsg)
	if len(matches) > 1 {
		if num, err := strconv.Atoi(matches[1]); err == nil {
			return num
		}
	}
	return 0
}

// cleanErrorMessage removes redundant parts from error messages
func cleanErrorMessage(errMsg string) string {
	return strings.TrimPrefix(errMsg, "toml: ")
}

// validateConfig validates configuration values
func validateConfig(config *TOMLConfig) error {
	var errors []string

	if u, err := url.Parse(config.Connection.ServerURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errors = append(errors, fmt.Sprintf("Invalid server url: %q (must be ws:// or wss://)", config.Connection.ServerURL))
	}

	if config.Connection.SendQueueSize < 1 {
		errors = append(errors, fmt.Sprintf("Invalid send queue size: %d (must be at least 1)", config.Connection.SendQueueSize))
	}

	if config.Connection.HandshakeTimeoutSeconds < 0 {
		errors = append(errors, "Handshake timeout cannot be negative")
	}

	if config.Connection.ReconnectMaxDelaySeconds < 0 {
		errors = append(errors, "Reconnect max delay cannot be negative")
	}

	if config.Avatar.URLTemplate != "" && !strings.Contains(config.Avatar.URLTemplate, "{name}") {
		errors = append(errors, fmt.Sprintf("Avatar url template %q must contain {name}", config.Avatar.URLTemplate))
	}

	if len(errors) > 0 {
		return fmt.Errorf("Configuration validation failed:\n  • %s", strings.Join(errors, "\n  • "))
	}

	return nil
}

// writeDefaultConfig writes the default config to a file
func writeDefaultConfig(path string, config TOMLConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# Ripplechat Client Configuration
# This file was auto-generated with default values
# Edit as needed - changes take effect on next client start

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, path[2:]), nil
	}
	return path, nil
}

// Avatars returns the avatar templates for the session reducer
func (c *TOMLConfig) Avatars() session.Avatars {
	return session.Avatars{
		Template:    c.Avatar.URLTemplate,
		Placeholder: c.Avatar.PlaceholderURL,
	}
}

// ReconnectPolicy returns the reconnect settings for the connection
func (c *TOMLConfig) ReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Enabled:  c.Connection.AutoReconnect,
		Initial:  time.Second,
		MaxDelay: time.Duration(c.Connection.ReconnectMaxDelaySeconds) * time.Second,
	}
}

// Dialer returns a WebSocket dialer honouring the handshake timeout
func (c *TOMLConfig) Dialer() *WebSocketDialer {
	d := DefaultWebSocketDialer()
	if c.Connection.HandshakeTimeoutSeconds > 0 {
		d.HandshakeTimeout = time.Duration(c.Connection.HandshakeTimeoutSeconds) * time.Second
	}
	return d
}
