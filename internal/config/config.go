package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port        int              `json:"port"`
	JWTSecret   string           `json:"jwt_secret"`
	Timezone    string           `json:"timezone"`
	CORSOrigins []string         `json:"cors_origins"`
	LogConfig   logger.LogConfig `json:"log_config"`
	Database    DatabaseConfig   `json:"database"`
	Redis       RedisConfig      `json:"redis"`
	Share       ShareConfig      `json:"share"`
	RateLimit   RateLimitConfig  `json:"rate_limit"`
	Captcha     CaptchaConfig    `json:"captcha"`
	AccessLog   AccessLogConfig  `json:"access_log"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`

	MaxOpenConns int `json:"max_open_conns"`
	MaxIdleConns int `json:"max_idle_conns"`
}

// RedisConfig selects the managed backend. An empty Addr keeps the gateway
// on the in-process fallback.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

type ShareConfig struct {
	DefaultDomain        string `json:"default_domain"`
	CacheTTLSeconds      int    `json:"cache_ttl_seconds"`
	ExpiredCacheSeconds  int    `json:"expired_cache_ttl_seconds"`
	MemoryCacheSize      int    `json:"memory_cache_size"`
	CacheSweepSeconds    int    `json:"cache_sweep_seconds"`
	EmailLookbackSeconds int    `json:"email_lookback_seconds"`
}

type RateLimitConfig struct {
	StrictCapacity      int `json:"strict_capacity"`
	StrictWindowSeconds int `json:"strict_window_seconds"`
	SweepSeconds        int `json:"sweep_seconds"`
}

type CaptchaConfig struct {
	Provider       string  `json:"provider"`
	Secret         string  `json:"secret"`
	VerifyURL      string  `json:"verify_url"`
	TTLMinutes     int     `json:"ttl_minutes"`
	TimeoutSeconds int     `json:"timeout_seconds"`
	VerifyRPS      float64 `json:"verify_rps"`
	VerifyBurst    int     `json:"verify_burst"`
}

type AccessLogConfig struct {
	RetentionDays int    `json:"retention_days"`
	CleanupCron   string `json:"cleanup_cron"`
}

func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required")
	}
	if c.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if c.Database.DSN == "" && c.Database.Host == "" {
		return fmt.Errorf("database.dsn or database.host is required")
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 20
	}
	if c.Database.MaxIdleConns <= 0 || c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		c.Database.MaxIdleConns = min(5, c.Database.MaxOpenConns)
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
		}
	}
	if c.LogConfig.Level == "" {
		c.LogConfig.Level = "info"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "mailshare"
	}
	c.Redis.Prefix = strings.Trim(c.Redis.Prefix, ":")

	if c.Share.DefaultDomain == "" {
		c.Share.DefaultDomain = fmt.Sprintf("localhost:%d", c.Port)
	}
	if c.Share.CacheTTLSeconds <= 0 {
		c.Share.CacheTTLSeconds = 300
	}
	if c.Share.ExpiredCacheSeconds <= 0 {
		c.Share.ExpiredCacheSeconds = 60
	}
	if c.Share.MemoryCacheSize <= 0 {
		c.Share.MemoryCacheSize = 10000
	}
	if c.Share.CacheSweepSeconds <= 0 {
		c.Share.CacheSweepSeconds = 60
	}
	if c.Share.EmailLookbackSeconds <= 0 {
		c.Share.EmailLookbackSeconds = 3600
	}

	if c.RateLimit.StrictCapacity < 0 {
		return fmt.Errorf("rate_limit.strict_capacity must not be negative")
	}
	if c.RateLimit.StrictWindowSeconds <= 0 {
		c.RateLimit.StrictWindowSeconds = 60
	}
	if c.RateLimit.SweepSeconds <= 0 {
		c.RateLimit.SweepSeconds = 60
	}

	if c.Captcha.Provider != "" && c.Captcha.Secret == "" {
		return fmt.Errorf("captcha.secret is required when captcha.provider is set")
	}
	if c.Captcha.TTLMinutes <= 0 {
		c.Captcha.TTLMinutes = 10
	}
	if c.Captcha.TimeoutSeconds <= 0 {
		c.Captcha.TimeoutSeconds = 5
	}
	if c.Captcha.VerifyRPS <= 0 {
		c.Captcha.VerifyRPS = 20
	}
	if c.Captcha.VerifyBurst <= 0 {
		c.Captcha.VerifyBurst = 40
	}

	if c.AccessLog.RetentionDays <= 0 {
		c.AccessLog.RetentionDays = 30
	}
	if c.AccessLog.CleanupCron == "" {
		c.AccessLog.CleanupCron = "30 3 * * *"
	}
	return nil
}
