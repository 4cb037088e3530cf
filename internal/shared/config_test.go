package shared

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Storage.DatabasePath != "./relink.db" {
			t.Errorf("expected database path ./relink.db, got %s", config.Storage.DatabasePath)
		}

		if config.Server.BaseURL != "http://localhost:8096" {
			t.Errorf("expected base URL http://localhost:8096, got %s", config.Server.BaseURL)
		}

		if config.Server.LoginPath != "/login" {
			t.Errorf("expected login path /login, got %s", config.Server.LoginPath)
		}

		if config.Channel.MaxRetries != 5 {
			t.Errorf("expected max retries 5, got %d", config.Channel.MaxRetries)
		}

		if config.Auth.WaitMaxAttempts != 10 {
			t.Errorf("expected wait max attempts 10, got %d", config.Auth.WaitMaxAttempts)
		}
	})

	t.Run("DurationAccessors", func(t *testing.T) {
		config := DefaultConfig()

		if got := config.Channel.ReconnectBase(); got != time.Second {
			t.Errorf("expected reconnect base 1s, got %v", got)
		}

		if got := config.Channel.QueueMaxAge(); got != 5*time.Minute {
			t.Errorf("expected queue max age 5m, got %v", got)
		}

		if got := config.Auth.WaitInterval(); got != 500*time.Millisecond {
			t.Errorf("expected wait interval 500ms, got %v", got)
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		if _, err := os.Stat(configPath); err != nil {
			t.Fatalf("config file should exist: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}

		defaultConfig := DefaultConfig()
		if config.Storage.DatabasePath != defaultConfig.Storage.DatabasePath {
			t.Errorf("created config database path doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		testConfig := `[server]
base_url = "https://media.example.com"
login_path = "/auth/login"
socket_path = "/realtime"
client_id = "test-client"
redirect_uri = "http://localhost:9000/callback"

[auth]
wait_max_attempts = 3
wait_interval_ms = 100
verify_timeout_ms = 2000
request_rate_limit = 2

[channel]
reconnect_base_ms = 250
reconnect_max_ms = 4000
max_retries = 8
queue_max_age_seconds = 60
heartbeat_interval_ms = 10000

[storage]
database_path = "/custom/path.db"
token_file = "/custom/token"
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Storage.DatabasePath != "/custom/path.db" {
			t.Errorf("expected database path /custom/path.db, got %s", config.Storage.DatabasePath)
		}

		if config.Server.BaseURL != "https://media.example.com" {
			t.Errorf("expected base URL https://media.example.com, got %s", config.Server.BaseURL)
		}

		if config.Channel.ReconnectMaxMS != 4000 {
			t.Errorf("expected reconnect max 4000, got %d", config.Channel.ReconnectMaxMS)
		}
	})

	t.Run("LoadConfig Missing File", func(t *testing.T) {
		if _, err := LoadConfig("/nonexistent/config.toml"); err == nil {
			t.Error("expected error for missing config file")
		}
	})
}
