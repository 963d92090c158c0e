// Package config provides application configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Port           string           `mapstructure:"port"`
	AllowedOrigins []string         `mapstructure:"allowed_origins"`
	ChatRateLimit  int              `mapstructure:"chat_rate_limit"` // chat sends per minute per client; 0 disables
	LogFile        string           `mapstructure:"log_file"`
	Remote         RemoteConfig     `mapstructure:"remote"`
	Store          StoreConfig      `mapstructure:"store"`
	Sync           SyncConfig       `mapstructure:"sync"`
	Transcript     TranscriptConfig `mapstructure:"transcript"`
}

// RemoteConfig configures the learning service client.
type RemoteConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	Timeout          time.Duration `mapstructure:"timeout"`
	RateLimit        float64       `mapstructure:"rate_limit"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
	TopicFetchMode   string        `mapstructure:"topic_fetch_mode"` // "start" (POST) or "list" (GET)
}

// StoreConfig selects and configures the durable store.
type StoreConfig struct {
	Driver    string        `mapstructure:"driver"` // sqlite, memory, redis
	Path      string        `mapstructure:"path"`
	RedisAddr string        `mapstructure:"redis_addr"`
	RedisTTL  time.Duration `mapstructure:"redis_ttl"`
}

// SyncConfig controls the completion sync worker.
type SyncConfig struct {
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	IdleSession   time.Duration `mapstructure:"idle_session"`
}

// TranscriptConfig controls NDJSON conversation transcripts.
type TranscriptConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Dir       string `mapstructure:"dir"`
	QueueSize int    `mapstructure:"queue_size"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:           "8090",
		AllowedOrigins: []string{"http://localhost:8081", "http://localhost:19006"},
		ChatRateLimit:  30,
		Remote: RemoteConfig{
			BaseURL:          "http://localhost:8000",
			Timeout:          30 * time.Second,
			RateLimit:        5,
			BreakerThreshold: 5,
			BreakerCooldown:  30 * time.Second,
			TopicFetchMode:   "start",
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "./data/learnsync.db",
		},
		Sync: SyncConfig{
			RetryInterval: time.Minute,
			IdleSession:   2 * time.Hour,
		},
		Transcript: TranscriptConfig{
			Enabled:   false,
			Dir:       "./data/logs/transcripts",
			QueueSize: 256,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, and environment variables, in increasing precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return err
	}
	return v.Unmarshal(cfg)
}

func applyEnv(cfg *Config) {
	cfg.Port = getEnv("PORT", cfg.Port)
	if origins := getEnv("ALLOWED_ORIGINS", ""); origins != "" {
		cfg.AllowedOrigins = splitList(origins)
	}
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	cfg.ChatRateLimit = getEnvInt("CHAT_RATE_LIMIT", cfg.ChatRateLimit)

	cfg.Remote.BaseURL = getEnv("REMOTE_BASE_URL", cfg.Remote.BaseURL)
	cfg.Remote.Timeout = getEnvDuration("REMOTE_TIMEOUT", cfg.Remote.Timeout)
	cfg.Remote.RateLimit = getEnvFloat("REMOTE_RATE_LIMIT", cfg.Remote.RateLimit)
	cfg.Remote.BreakerThreshold = getEnvInt("REMOTE_BREAKER_THRESHOLD", cfg.Remote.BreakerThreshold)
	cfg.Remote.BreakerCooldown = getEnvDuration("REMOTE_BREAKER_COOLDOWN", cfg.Remote.BreakerCooldown)
	cfg.Remote.TopicFetchMode = getEnv("REMOTE_TOPIC_FETCH_MODE", cfg.Remote.TopicFetchMode)

	cfg.Store.Driver = getEnv("STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.Path = getEnv("STORE_PATH", cfg.Store.Path)
	cfg.Store.RedisAddr = getEnv("REDIS_ADDR", cfg.Store.RedisAddr)
	cfg.Store.RedisTTL = getEnvDuration("REDIS_TTL", cfg.Store.RedisTTL)

	cfg.Sync.RetryInterval = getEnvDuration("SYNC_RETRY_INTERVAL", cfg.Sync.RetryInterval)
	cfg.Sync.IdleSession = getEnvDuration("IDLE_SESSION_TTL", cfg.Sync.IdleSession)

	cfg.Transcript.Enabled = getEnvBool("TRANSCRIPT_LOG_ENABLED", cfg.Transcript.Enabled)
	cfg.Transcript.Dir = getEnv("TRANSCRIPT_LOG_DIR", cfg.Transcript.Dir)
	cfg.Transcript.QueueSize = getEnvInt("TRANSCRIPT_LOG_QUEUE_SIZE", cfg.Transcript.QueueSize)
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.ChatRateLimit < 0 {
		return fmt.Errorf("CHAT_RATE_LIMIT must be >= 0")
	}
	u, err := url.Parse(c.Remote.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("REMOTE_BASE_URL must be an absolute URL, got %q", c.Remote.BaseURL)
	}
	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("REMOTE_TIMEOUT must be > 0")
	}
	if c.Remote.BreakerThreshold <= 0 {
		return fmt.Errorf("REMOTE_BREAKER_THRESHOLD must be > 0")
	}
	switch c.Remote.TopicFetchMode {
	case "start", "list":
	default:
		return fmt.Errorf("REMOTE_TOPIC_FETCH_MODE must be start or list, got %q", c.Remote.TopicFetchMode)
	}

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("STORE_PATH cannot be empty for the sqlite driver")
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR cannot be empty for the redis driver")
		}
	case "memory":
	default:
		return fmt.Errorf("STORE_DRIVER must be sqlite, memory or redis, got %q", c.Store.Driver)
	}

	if c.Sync.RetryInterval <= 0 {
		return fmt.Errorf("SYNC_RETRY_INTERVAL must be > 0")
	}
	if c.Transcript.Enabled && c.Transcript.Dir == "" {
		return fmt.Errorf("TRANSCRIPT_LOG_DIR cannot be empty")
	}
	if c.Transcript.QueueSize <= 0 {
		return fmt.Errorf("TRANSCRIPT_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true when any allowed origin is local.
func (c *Config) IsDevelopment() bool {
	for _, o := range c.AllowedOrigins {
		if strings.Contains(o, "localhost") || strings.Contains(o, "127.0.0.1") || o == "*" {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
