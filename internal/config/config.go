// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Throttle   ThrottleConfig   `mapstructure:"throttle"`
	UserAgents UserAgentsConfig `mapstructure:"user_agents"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Unblock    UnblockConfig    `mapstructure:"unblock"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Images     ImagesConfig     `mapstructure:"images"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CrawlerConfig governs crawl runs.
type CrawlerConfig struct {
	Catalogue              string `mapstructure:"catalogue"`
	SessionDeadlineMinutes int    `mapstructure:"session_deadline_minutes"`
	MaxPages               int    `mapstructure:"max_pages"`
	DetailConcurrency      int    `mapstructure:"detail_concurrency"`
	RespectRobots          bool   `mapstructure:"respect_robots"`
	BlockThresholdBytes    int    `mapstructure:"block_threshold_bytes"`
}

// HTTPConfig configures per-request timeouts and retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxAttempts      int `mapstructure:"max_attempts"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
	MaxBodyBytes     int `mapstructure:"max_body_bytes"`
}

// ThrottleConfig bounds the request pace of one crawl run.
type ThrottleConfig struct {
	MinDelayMs  int     `mapstructure:"min_delay_ms"`
	MaxDelayMs  int     `mapstructure:"max_delay_ms"`
	RPS         float64 `mapstructure:"rps"`
	Burst       int     `mapstructure:"burst"`
	MaxInFlight int     `mapstructure:"max_in_flight"`
}

// UserAgentsConfig points at the user agent pool.
type UserAgentsConfig struct {
	File     string `mapstructure:"file"`
	Fallback string `mapstructure:"fallback"`
}

// HeadlessConfig configures the headless browser escalation.
type HeadlessConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	MaxParallel      int  `mapstructure:"max_parallel"`
	NavTimeoutSec    int  `mapstructure:"nav_timeout_seconds"`
	ChallengeWaitSec int  `mapstructure:"challenge_wait_seconds"`
}

// UnblockConfig configures the FlareSolverr escalation.
type UnblockConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	BaseURL           string `mapstructure:"base_url"`
	MaxTimeoutSeconds int    `mapstructure:"max_timeout_seconds"`
}

// StorageConfig selects the blob backend for batches and images.
type StorageConfig struct {
	Backend        string      `mapstructure:"backend"`
	LocalDir       string      `mapstructure:"local_dir"`
	Bucket         string      `mapstructure:"bucket"`
	Prefix         string      `mapstructure:"prefix"`
	ChunkSizeBytes int         `mapstructure:"chunk_size_bytes"`
	Minio          MinioConfig `mapstructure:"minio"`
}

// MinioConfig holds S3-compatible endpoint settings.
type MinioConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Region    string `mapstructure:"region"`
}

// DBConfig selects the session and catalog stores.
type DBConfig struct {
	Backend            string `mapstructure:"backend"`
	DSN                string `mapstructure:"dsn"`
	MaxConns           int    `mapstructure:"max_conns"`
	MinConns           int    `mapstructure:"min_conns"`
	ConnLifetimeMinute int    `mapstructure:"conn_lifetime_minutes"`
	SQLitePath         string `mapstructure:"sqlite_path"`
	Migrate            bool   `mapstructure:"migrate"`
}

// PubSubConfig names the message channel resources.
type PubSubConfig struct {
	Backend               string `mapstructure:"backend"`
	ProjectID             string `mapstructure:"project_id"`
	ParsedTopic           string `mapstructure:"parsed_topic"`
	ProcessedTopic        string `mapstructure:"processed_topic"`
	ParsedSubscription    string `mapstructure:"parsed_subscription"`
	EmulatorHost          string `mapstructure:"emulator_host"`
	MaxOutstanding        int    `mapstructure:"max_outstanding"`
	MemoryMaxDeliveries   int    `mapstructure:"memory_max_deliveries"`
	CreateMissingChannels bool   `mapstructure:"create_missing"`
}

// ImagesConfig controls artwork copying during catalog sync.
type ImagesConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Prefix         string `mapstructure:"prefix"`
	MaxBytes       int64  `mapstructure:"max_bytes"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("logging.development", true)
	v.SetDefault("crawler.catalogue", "configs/distributors.yaml")
	v.SetDefault("crawler.session_deadline_minutes", 120)
	v.SetDefault("crawler.max_pages", 500)
	v.SetDefault("crawler.detail_concurrency", 4)
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.block_threshold_bytes", 2048)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_attempts", 4)
	v.SetDefault("http.backoff_initial_ms", 500)
	v.SetDefault("http.backoff_max_ms", 8000)
	v.SetDefault("http.max_body_bytes", 10<<20)
	v.SetDefault("throttle.min_delay_ms", 1000)
	v.SetDefault("throttle.max_delay_ms", 3000)
	v.SetDefault("throttle.rps", 1.0)
	v.SetDefault("throttle.burst", 1)
	v.SetDefault("throttle.max_in_flight", 2)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.challenge_wait_seconds", 15)
	v.SetDefault("unblock.enabled", false)
	v.SetDefault("unblock.max_timeout_seconds", 60)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", "data/blobs")
	v.SetDefault("storage.chunk_size_bytes", 1<<20)
	v.SetDefault("storage.minio.region", "us-east-1")
	v.SetDefault("db.backend", "memory")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("db.sqlite_path", "data/sessions.db")
	v.SetDefault("db.migrate", true)
	v.SetDefault("pubsub.backend", "memory")
	v.SetDefault("pubsub.parsed_topic", "album-parsed")
	v.SetDefault("pubsub.processed_topic", "album-processed")
	v.SetDefault("pubsub.parsed_subscription", "catalog-sync")
	v.SetDefault("pubsub.max_outstanding", 1)
	v.SetDefault("pubsub.memory_max_deliveries", 5)
	v.SetDefault("images.enabled", true)
	v.SetDefault("images.prefix", "images")
	v.SetDefault("images.max_bytes", 10<<20)
	v.SetDefault("images.timeout_seconds", 30)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key must be set when auth is enabled")
	}
	if c.Crawler.DetailConcurrency <= 0 {
		return errors.New("crawler.detail_concurrency must be > 0")
	}
	if c.Crawler.MaxPages <= 0 {
		return errors.New("crawler.max_pages must be > 0")
	}
	if c.Crawler.SessionDeadlineMinutes <= 0 {
		return errors.New("crawler.session_deadline_minutes must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return errors.New("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return errors.New("http.max_attempts must be > 0")
	}
	if c.Throttle.MinDelayMs < 0 || c.Throttle.MaxDelayMs < c.Throttle.MinDelayMs {
		return errors.New("throttle.max_delay_ms must be >= throttle.min_delay_ms >= 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return errors.New("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Unblock.Enabled && c.Unblock.BaseURL == "" {
		return errors.New("unblock.base_url must be set when unblock is enabled")
	}
	switch c.Storage.Backend {
	case "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			return errors.New("storage.local_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return errors.New("storage.bucket must be set for the gcs backend")
		}
	case "minio":
		if c.Storage.Bucket == "" || c.Storage.Minio.Endpoint == "" {
			return errors.New("storage.bucket and storage.minio.endpoint must be set for the minio backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, local, gcs, minio", c.Storage.Backend)
	}
	switch c.DB.Backend {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return errors.New("db.dsn must be set for the postgres backend")
		}
	case "sqlite":
		if c.DB.SQLitePath == "" {
			return errors.New("db.sqlite_path must be set for the sqlite backend")
		}
	default:
		return fmt.Errorf("db.backend %q is not one of memory, postgres, sqlite", c.DB.Backend)
	}
	switch c.PubSub.Backend {
	case "memory":
	case "gcp":
		if c.PubSub.ProjectID == "" {
			return errors.New("pubsub.project_id must be set for the gcp backend")
		}
	default:
		return fmt.Errorf("pubsub.backend %q is not one of memory, gcp", c.PubSub.Backend)
	}
	if c.PubSub.ParsedTopic == "" || c.PubSub.ProcessedTopic == "" {
		return errors.New("pubsub.parsed_topic and pubsub.processed_topic must be set")
	}
	return nil
}

// SessionDeadline is the wall-clock budget of one crawl run.
func (c Config) SessionDeadline() time.Duration {
	return time.Duration(c.Crawler.SessionDeadlineMinutes) * time.Minute
}

// FetchTimeout is the per-request timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
