// Package config loads engine configuration from an optional YAML file with
// environment variable overrides. Environment always wins.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	History  HistoryConfig  `yaml:"history"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Queues   QueueConfig    `yaml:"queues"`
	LogLevel string         `yaml:"log_level" env:"TGCOURIER_LOG_LEVEL"`
}

type TelegramConfig struct {
	// APIBaseURL is joined with the bot token, e.g.
	// "https://api.telegram.org/bot" + token.
	APIBaseURL      string        `yaml:"api_base_url" env:"TGCOURIER_API_BASE_URL"`
	BotToken        string        `yaml:"bot_token" env:"TGCOURIER_BOT_TOKEN"`
	ChatID          string        `yaml:"chat_id" env:"TGCOURIER_CHAT_ID"`
	TextEndpoint    string        `yaml:"text_endpoint" env:"TGCOURIER_TEXT_ENDPOINT"`
	UpdatesEndpoint string        `yaml:"updates_endpoint" env:"TGCOURIER_UPDATES_ENDPOINT"`
	PollTimeout     time.Duration `yaml:"poll_timeout" env:"TGCOURIER_POLL_TIMEOUT"`
	PollRetryDelay  time.Duration `yaml:"poll_retry_delay" env:"TGCOURIER_POLL_RETRY_DELAY"`
	SendMaxRetries  int           `yaml:"send_max_retries" env:"TGCOURIER_SEND_MAX_RETRIES"`
	RetryBaseDelay  time.Duration `yaml:"retry_base_delay" env:"TGCOURIER_RETRY_BASE_DELAY"`
	RetryMaxDelay   time.Duration `yaml:"retry_max_delay" env:"TGCOURIER_RETRY_MAX_DELAY"`
}

type HistoryConfig struct {
	// Path of the sqlite history database. Empty keeps history in memory.
	Path string `yaml:"path" env:"TGCOURIER_HISTORY_PATH"`
}

type DispatchConfig struct {
	// InterruptPolicy is "swallow" (a pending ask consumes every text turn
	// as its next answer) or "replace" (a new top-level command cancels the
	// pending ask).
	InterruptPolicy string `yaml:"interrupt_policy" env:"TGCOURIER_INTERRUPT_POLICY"`
}

type QueueConfig struct {
	InboundSize  int `yaml:"inbound_size" env:"TGCOURIER_QUEUE_INBOUND_SIZE"`
	OutboundSize int `yaml:"outbound_size" env:"TGCOURIER_QUEUE_OUTBOUND_SIZE"`
}

func Default() Config {
	return Config{
		Telegram: TelegramConfig{
			APIBaseURL:      "https://api.telegram.org/bot",
			TextEndpoint:    "/sendMessage",
			UpdatesEndpoint: "/getUpdates",
			PollTimeout:     30 * time.Second,
			PollRetryDelay:  3 * time.Second,
			SendMaxRetries:  3,
			RetryBaseDelay:  500 * time.Millisecond,
			RetryMaxDelay:   10 * time.Second,
		},
		Dispatch: DispatchConfig{InterruptPolicy: "swallow"},
		Queues:   QueueConfig{InboundSize: 100, OutboundSize: 100},
		LogLevel: "info",
	}
}

// Load reads path (when non-empty and existing), then applies environment
// overrides, then validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("config: telegram.bot_token is required")
	}
	if c.Telegram.APIBaseURL == "" {
		return fmt.Errorf("config: telegram.api_base_url is required")
	}
	if c.Telegram.PollTimeout <= 0 {
		return fmt.Errorf("config: telegram.poll_timeout must be positive")
	}
	if c.Telegram.PollRetryDelay <= 0 {
		return fmt.Errorf("config: telegram.poll_retry_delay must be positive")
	}
	if c.Telegram.SendMaxRetries <= 0 {
		return fmt.Errorf("config: telegram.send_max_retries must be positive")
	}
	switch c.Dispatch.InterruptPolicy {
	case "swallow", "replace":
	default:
		return fmt.Errorf("config: dispatch.interrupt_policy must be \"swallow\" or \"replace\", got %q", c.Dispatch.InterruptPolicy)
	}
	return nil
}
