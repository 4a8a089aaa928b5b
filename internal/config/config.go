package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	AI       AIConfig       `yaml:"ai"`
	Auth     AuthConfig     `yaml:"auth"`
	Chat     ChatConfig     `yaml:"chat"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	MySQL MySQLConfig `yaml:"mysql"`
	Redis RedisConfig `yaml:"redis"`
}

type MySQLConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type AIConfig struct {
	Backend BackendConfig `yaml:"backend"`
}

type BackendConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type ChatConfig struct {
	// HistoryWindow bounds how many stored messages are forwarded to the
	// backend per turn. Older history stays in storage and is never resent.
	HistoryWindow int `yaml:"history_window"`
	// MaxBackendCalls caps the per-turn generative cascade (primary reply
	// plus unlock/transition announcements).
	MaxBackendCalls int `yaml:"max_backend_calls"`
	// Timezone is the reference timezone for daily quota rollover.
	Timezone string        `yaml:"timezone"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply environment variable overrides
	if apiKey := os.Getenv("GINGERAI_API_KEY"); apiKey != "" {
		cfg.AI.Backend.APIKey = apiKey
	}
	if secret := os.Getenv("GINGERAI_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if password := os.Getenv("GINGERAI_MYSQL_PASSWORD"); password != "" {
		cfg.Database.MySQL.Password = password
	}

	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Chat.HistoryWindow <= 0 {
		c.Chat.HistoryWindow = 10
	}
	if c.Chat.MaxBackendCalls <= 0 {
		c.Chat.MaxBackendCalls = 3
	}
	if c.Chat.Timezone == "" {
		c.Chat.Timezone = "Europe/Paris"
	}
	if c.Chat.LockTTL <= 0 {
		c.Chat.LockTTL = 30 * time.Second
	}
	if c.AI.Backend.MaxTokens <= 0 {
		c.AI.Backend.MaxTokens = 300
	}
	if c.AI.Backend.Temperature == 0 {
		c.AI.Backend.Temperature = 0.8
	}
	if c.AI.Backend.Timeout <= 0 {
		c.AI.Backend.Timeout = 60 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}
