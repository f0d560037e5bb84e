package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsWithToken(t *testing.T) {
	t.Setenv("TGCOURIER_BOT_TOKEN", "123:abc")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.APIBaseURL != "https://api.telegram.org/bot" {
		t.Errorf("base url = %q", cfg.Telegram.APIBaseURL)
	}
	if cfg.Telegram.PollTimeout != 30*time.Second {
		t.Errorf("poll timeout = %s", cfg.Telegram.PollTimeout)
	}
	if cfg.Telegram.SendMaxRetries != 3 {
		t.Errorf("retries = %d", cfg.Telegram.SendMaxRetries)
	}
	if cfg.Telegram.PollRetryDelay != 3*time.Second {
		t.Errorf("poll retry delay = %s", cfg.Telegram.PollRetryDelay)
	}
	if cfg.Dispatch.InterruptPolicy != "swallow" {
		t.Errorf("interrupt policy = %q", cfg.Dispatch.InterruptPolicy)
	}
	if cfg.Queues.InboundSize != 100 || cfg.Queues.OutboundSize != 100 {
		t.Errorf("queue sizes = %d, %d", cfg.Queues.InboundSize, cfg.Queues.OutboundSize)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log level = %q", cfg.LogLevel)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	t.Setenv("TGCOURIER_BOT_TOKEN", "123:abc")
	path := writeConfig(t, `
telegram:
  poll_timeout: 10s
  poll_retry_delay: 750ms
  send_max_retries: 5
  chat_id: "555"
history:
  path: /tmp/history.db
dispatch:
  interrupt_policy: replace
log_level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.PollTimeout != 10*time.Second {
		t.Errorf("poll timeout = %s", cfg.Telegram.PollTimeout)
	}
	if cfg.Telegram.SendMaxRetries != 5 {
		t.Errorf("retries = %d", cfg.Telegram.SendMaxRetries)
	}
	if cfg.Telegram.PollRetryDelay != 750*time.Millisecond {
		t.Errorf("poll retry delay = %s", cfg.Telegram.PollRetryDelay)
	}
	if cfg.Telegram.ChatID != "555" {
		t.Errorf("chat id = %q", cfg.Telegram.ChatID)
	}
	if cfg.History.Path != "/tmp/history.db" {
		t.Errorf("history path = %q", cfg.History.Path)
	}
	if cfg.Dispatch.InterruptPolicy != "replace" {
		t.Errorf("interrupt policy = %q", cfg.Dispatch.InterruptPolicy)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q", cfg.LogLevel)
	}
	// Values the file does not mention keep their defaults.
	if cfg.Telegram.APIBaseURL != "https://api.telegram.org/bot" {
		t.Errorf("base url = %q", cfg.Telegram.APIBaseURL)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
telegram:
  bot_token: from-file
  poll_timeout: 10s
`)
	t.Setenv("TGCOURIER_BOT_TOKEN", "from-env")
	t.Setenv("TGCOURIER_POLL_TIMEOUT", "45s")
	t.Setenv("TGCOURIER_INTERRUPT_POLICY", "replace")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.BotToken != "from-env" {
		t.Errorf("token = %q, env should win", cfg.Telegram.BotToken)
	}
	if cfg.Telegram.PollTimeout != 45*time.Second {
		t.Errorf("poll timeout = %s, env should win", cfg.Telegram.PollTimeout)
	}
	if cfg.Dispatch.InterruptPolicy != "replace" {
		t.Errorf("interrupt policy = %q", cfg.Dispatch.InterruptPolicy)
	}
}

func TestLoadMissingFileIsNotFatal(t *testing.T) {
	t.Setenv("TGCOURIER_BOT_TOKEN", "123:abc")
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Errorf("missing config file should fall back to defaults, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing_token",
			mutate:  func(c *Config) { c.Telegram.BotToken = "" },
			wantErr: "bot_token",
		},
		{
			name:    "missing_base_url",
			mutate:  func(c *Config) { c.Telegram.APIBaseURL = "" },
			wantErr: "api_base_url",
		},
		{
			name:    "zero_poll_timeout",
			mutate:  func(c *Config) { c.Telegram.PollTimeout = 0 },
			wantErr: "poll_timeout",
		},
		{
			name:    "zero_poll_retry_delay",
			mutate:  func(c *Config) { c.Telegram.PollRetryDelay = 0 },
			wantErr: "poll_retry_delay",
		},
		{
			name:    "zero_retries",
			mutate:  func(c *Config) { c.Telegram.SendMaxRetries = 0 },
			wantErr: "send_max_retries",
		},
		{
			name:    "bad_policy",
			mutate:  func(c *Config) { c.Dispatch.InterruptPolicy = "drop" },
			wantErr: "interrupt_policy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Telegram.BotToken = "123:abc"
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}
