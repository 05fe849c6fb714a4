package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	MySQL       MySQLConfig       `yaml:"mysql"`
	Redis       RedisConfig       `yaml:"redis"`
	BloomFilter BloomFilterConfig `yaml:"bloom_filter"`
	Snowflake   SnowflakeConfig   `yaml:"snowflake"`
	Shortener   ShortenerConfig   `yaml:"shortener"`
	Cache       CacheConfig       `yaml:"cache"`
	Sweeper     SweeperConfig     `yaml:"sweeper"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Mode string `yaml:"mode"`
}

// MySQLConfig represents MySQL configuration
type MySQLConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// BloomFilterConfig represents Bloom filter configuration
type BloomFilterConfig struct {
	Capacity          uint    `yaml:"capacity"`
	FalsePositiveRate float64 `yaml:"false_positive_rate"`
}

// SnowflakeConfig represents Snowflake ID generator configuration
type SnowflakeConfig struct {
	DatacenterID int64 `yaml:"datacenter_id"`
	WorkerID     int64 `yaml:"worker_id"`
}

// ShortenerConfig represents shortening-rule defaults
type ShortenerConfig struct {
	// AliasDomain is the domain prepended to every subpart, e.g. "short.ly"
	AliasDomain string `yaml:"alias_domain"`
	// RuleTTLDays is the default rule lifetime for new owners
	RuleTTLDays int `yaml:"rule_ttl_days"`
	// RowsPerPage is the default listing page size for new owners
	RowsPerPage int `yaml:"rows_per_page"`
	// StrLimit is the display truncation length for original links
	StrLimit int `yaml:"str_limit"`
}

// CacheConfig represents listing cache configuration
type CacheConfig struct {
	// TTLSeconds is the listing cache entry lifetime; the CACHE_TTL
	// environment variable (seconds) overrides it
	TTLSeconds int `yaml:"ttl_seconds"`
}

// SweeperConfig represents expiration sweeper configuration
type SweeperConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// RateLimitConfig represents rate limiting configuration
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`
	Limit   int  `yaml:"limit"`
	Window  int  `yaml:"window"` // seconds
}

// DSN returns MySQL data source name
func (m *MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		m.Username, m.Password, m.Host, m.Port, m.Database)
}

// Addr returns Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// TTL returns the listing cache entry lifetime
func (c *CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// Interval returns the sweep period
func (s *SweeperConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// Window returns the rate limit window
func (r *RateLimitConfig) WindowDuration() time.Duration {
	return time.Duration(r.Window) * time.Second
}

var globalConfig *Config

// Load loads configuration from file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	// Override with environment variables if present
	if host := os.Getenv("MYSQL_HOST"); host != "" {
		cfg.MySQL.Host = host
	}
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.Redis.Host = host
	}
	if ttl := os.Getenv("CACHE_TTL"); ttl != "" {
		seconds, err := strconv.Atoi(ttl)
		if err != nil {
			return nil, fmt.Errorf("invalid CACHE_TTL value %q: %w", ttl, err)
		}
		cfg.Cache.TTLSeconds = seconds
	}

	globalConfig = &cfg
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Shortener.RuleTTLDays <= 0 {
		cfg.Shortener.RuleTTLDays = 1
	}
	if cfg.Shortener.RowsPerPage <= 0 {
		cfg.Shortener.RowsPerPage = 3
	}
	if cfg.Shortener.StrLimit <= 0 {
		cfg.Shortener.StrLimit = 10
	}
	if cfg.Cache.TTLSeconds <= 0 {
		cfg.Cache.TTLSeconds = 300
	}
	if cfg.Sweeper.IntervalSeconds <= 0 {
		cfg.Sweeper.IntervalSeconds = 24 * 60 * 60
	}
}

// Get returns the global configuration
func Get() *Config {
	return globalConfig
}
