package shared

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Auth    AuthConfig    `toml:"auth"`
	Channel ChannelConfig `toml:"channel"`
	Storage StorageConfig `toml:"storage"`
}

// ServerConfig contains the media server endpoints and login-flow credentials.
type ServerConfig struct {
	BaseURL      string `toml:"base_url"`
	LoginPath    string `toml:"login_path"`
	SocketPath   string `toml:"socket_path"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
}

// AuthConfig contains token polling and verification settings.
type AuthConfig struct {
	WaitMaxAttempts  int `toml:"wait_max_attempts"`
	WaitIntervalMS   int `toml:"wait_interval_ms"`
	VerifyTimeoutMS  int `toml:"verify_timeout_ms"`
	RequestRateLimit int `toml:"request_rate_limit"`
}

// ChannelConfig contains realtime channel reconnect and queue settings.
type ChannelConfig struct {
	ReconnectBaseMS     int `toml:"reconnect_base_ms"`
	ReconnectMaxMS      int `toml:"reconnect_max_ms"`
	MaxRetries          int `toml:"max_retries"`
	QueueMaxAgeSeconds  int `toml:"queue_max_age_seconds"`
	HeartbeatIntervalMS int `toml:"heartbeat_interval_ms"`
}

// StorageConfig contains token persistence settings.
type StorageConfig struct {
	DatabasePath string `toml:"database_path"`
	TokenFile    string `toml:"token_file"`
}

// WaitInterval returns the waitForToken polling interval as a [time.Duration].
func (a AuthConfig) WaitInterval() time.Duration {
	return time.Duration(a.WaitIntervalMS) * time.Millisecond
}

// VerifyTimeout returns the bounded timeout for the HTTP check-auth call.
func (a AuthConfig) VerifyTimeout() time.Duration {
	return time.Duration(a.VerifyTimeoutMS) * time.Millisecond
}

// ReconnectBase returns the initial reconnect backoff delay.
func (c ChannelConfig) ReconnectBase() time.Duration {
	return time.Duration(c.ReconnectBaseMS) * time.Millisecond
}

// ReconnectMax returns the backoff delay cap.
func (c ChannelConfig) ReconnectMax() time.Duration {
	return time.Duration(c.ReconnectMaxMS) * time.Millisecond
}

// QueueMaxAge returns the age past which queued events are expired.
func (c ChannelConfig) QueueMaxAge() time.Duration {
	return time.Duration(c.QueueMaxAgeSeconds) * time.Second
}

// HeartbeatInterval returns the interval between channel pings.
func (c ChannelConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMS) * time.Millisecond
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	// Check if file already exists
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s: %w", path, err)
	}

	// Write the embedded example config to the file
	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
