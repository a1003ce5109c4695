// Package config provides configuration management for the application
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	ShutdownWait time.Duration `mapstructure:"shutdown_wait"`
}

// RedisConfig holds Redis/Valkey configuration
type RedisConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// URI is prioritized if provided, otherwise individual connection parameters are used
	URI       string `mapstructure:"uri"`
	Host      string `mapstructure:"host"`
	Port      string `mapstructure:"port"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
	// TTL for room state (0 means no expiration)
	RoomTTL time.Duration `mapstructure:"-"`
}

// UpstreamConfig holds the session-management server connection settings
type UpstreamConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Secret  string        `mapstructure:"secret"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// FeedConfig holds configuration of the room state feed
type FeedConfig struct {
	// WebhookSecret verifies signed webhook deliveries; empty disables verification
	WebhookSecret string `mapstructure:"webhook_secret"`
	// SSEURL enables the SSE subscriber when set
	SSEURL    string `mapstructure:"sse_url"`
	SSEStream string `mapstructure:"sse_stream"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the complete application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Log      LogConfig      `mapstructure:"log"`
}

// envBindings maps config keys to environment variables, in priority order
var envBindings = map[string][]string{
	"server.port":          {"PORT"},
	"redis.enabled":        {"REDIS_ENABLED"},
	"redis.uri":            {"REDIS_URI_BREAKOUTS"},
	"redis.host":           {"REDIS_HOST_BREAKOUTS", "REDIS_ADDRESS"},
	"redis.port":           {"REDIS_PORT_BREAKOUTS"},
	"redis.username":       {"REDIS_USERNAME_BREAKOUTS"},
	"redis.password":       {"REDIS_PASSWORD_BREAKOUTS", "REDIS_PASSWORD"},
	"redis.db":             {"REDIS_DB"},
	"redis.key_prefix":     {"REDIS_KEY_PREFIX"},
	"redis.room_ttl_hours": {"REDIS_ROOM_TTL_HOURS"},
	"upstream.base_url":    {"UPSTREAM_BASE_URL"},
	"upstream.secret":      {"UPSTREAM_SECRET"},
	"upstream.timeout":     {"UPSTREAM_TIMEOUT"},
	"feed.webhook_secret":  {"FEED_WEBHOOK_SECRET"},
	"feed.sse_url":         {"FEED_SSE_URL"},
	"feed.sse_stream":      {"FEED_SSE_STREAM"},
	"log.level":            {"LOG_LEVEL"},
	"log.format":           {"LOG_FORMAT"},
	"server.read_timeout":  {"SERVER_READ_TIMEOUT"},
	"server.idle_timeout":  {"SERVER_IDLE_TIMEOUT"},
	"server.shutdown_wait": {"SERVER_SHUTDOWN_WAIT"},
}

// NewViper returns a viper instance with defaults and environment bindings applied
func NewViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_wait", "10s")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "breakouts:")
	v.SetDefault("redis.room_ttl_hours", 24)
	v.SetDefault("upstream.timeout", "30s")
	v.SetDefault("feed.sse_stream", "breakouts")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	for key, envs := range envBindings {
		_ = v.BindEnv(append([]string{key}, envs...)...)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads the optional config file and decodes the configuration
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Room TTL is configured in whole hours
	cfg.Redis.RoomTTL = time.Duration(v.GetInt("redis.room_ttl_hours")) * time.Hour

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the service cannot run with
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Redis.RoomTTL < 0 {
		return fmt.Errorf("invalid redis room ttl %s", c.Redis.RoomTTL)
	}
	return nil
}

// IsUpstreamConfigValid checks if the upstream dispatcher can be used
func (c UpstreamConfig) IsUpstreamConfigValid() bool {
	return c.BaseURL != ""
}
