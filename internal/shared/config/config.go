package config

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/mailfeed/mailfeed/internal/shared/errors"
	"github.com/samber/lo"
	"github.com/samber/oops"
)

type Config struct {
	DatabasePath     string `koanf:"database_path"`
	HTTPPort         string `koanf:"http_port"`
	PollInterval     int    `koanf:"poll_interval"`     // seconds between feed poll ticks
	DispatchInterval int    `koanf:"dispatch_interval"` // seconds between delivery ticks
	FetchTimeout     int    `koanf:"fetch_timeout"`     // seconds per feed fetch
	SendTimeout      int    `koanf:"send_timeout"`      // seconds per channel send attempt
	PollWorkers      int    `koanf:"poll_workers"`
	DeliveryWorkers  int    `koanf:"delivery_workers"`
	RetentionDays    int    `koanf:"retention_days"` // 0 disables item pruning
	TelegramBotToken string `koanf:"telegram_bot_token"`
	TelegramAPIURL   string `koanf:"telegram_api_url"`
	EncryptionKey    string `koanf:"encryption_key"` // 64 hex chars (AES-256)
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Try to load config file from various formats
	configFiles := []string{
		"config.yaml",
		"config.yml",
		"config.json",
		"config.toml",
	}

	configFile, found := lo.Find(configFiles, func(file string) bool {
		_, err := os.Stat(file)
		return err == nil
	})

	if found {
		var parser koanf.Parser
		ext := filepath.Ext(configFile)

		switch ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		case ".toml":
			parser = toml.Parser()
		default:
			return nil, oops.Errorf("unsupported config file extension: %s", ext)
		}

		if err := k.Load(file.Provider(configFile), parser); err != nil {
			return nil, oops.With("config_file", configFile).Wrap(err)
		}
	}

	// Environment variables override config file values:
	// MAILFEED_POLL_INTERVAL -> poll_interval
	if err := k.Load(env.Provider("MAILFEED_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "MAILFEED_"))
	}), nil); err != nil {
		return nil, oops.With("context", "loading environment variables").Wrap(err)
	}

	// Set defaults
	if !k.Exists("database_path") {
		k.Set("database_path", "./data/mailfeed.db")
	}
	if !k.Exists("http_port") {
		k.Set("http_port", "8080")
	}
	if !k.Exists("poll_interval") {
		k.Set("poll_interval", 300)
	}
	if !k.Exists("dispatch_interval") {
		k.Set("dispatch_interval", 60)
	}
	if !k.Exists("fetch_timeout") {
		k.Set("fetch_timeout", 30)
	}
	if !k.Exists("send_timeout") {
		k.Set("send_timeout", 30)
	}
	if !k.Exists("poll_workers") {
		k.Set("poll_workers", 5)
	}
	if !k.Exists("delivery_workers") {
		k.Set("delivery_workers", 5)
	}
	if !k.Exists("retention_days") {
		k.Set("retention_days", 30)
	}
	if !k.Exists("telegram_api_url") {
		k.Set("telegram_api_url", "https://api.telegram.org")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.With("context", "unmarshaling config").Wrap(err)
	}

	if cfg.EncryptionKey == "" {
		return nil, errors.ErrMissingEncryptionKey
	}
	if _, err := cfg.EncryptionKeyBytes(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// EncryptionKeyBytes decodes the hex-encoded AES-256 key.
func (c *Config) EncryptionKeyBytes() ([]byte, error) {
	key, err := hex.DecodeString(c.EncryptionKey)
	if err != nil || len(key) != 32 {
		return nil, errors.ErrInvalidEncryptionKey
	}
	return key, nil
}
