package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"offsync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App               AppConfig             `yaml:"app"`
	Database          DatabaseConfig        `yaml:"database"`
	Redis             RedisConfig           `yaml:"redis"`
	Queue             QueueConfig           `yaml:"queue"`
	Upstream          UpstreamConfig        `yaml:"upstream"`
	Synchronization   SynchronizationConfig `yaml:"synchronization"`
	SubscriptionsPath string                `yaml:"subscriptions_path"`
	Backup            BackupConfig          `yaml:"backup"`
	Monitoring        MonitoringConfig      `yaml:"monitoring"`
	Logging           LoggingConfig         `yaml:"logging"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	PoolSize  int    `yaml:"pool_size"`
	KeyPrefix string `yaml:"key_prefix"`
}

// Queue storage backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type QueueConfig struct {
	Backend         string `yaml:"backend"`
	Codec           string `yaml:"codec"`
	InlineThreshold int    `yaml:"inline_threshold"`
	BlobDir         string `yaml:"blob_dir"`
}

type UpstreamConfig struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	Timeout      time.Duration `yaml:"timeout"`
	RateLimitRPS float64       `yaml:"rate_limit_rps"`
	Burst        int           `yaml:"burst"`
}

type SynchronizationConfig struct {
	PollInterval               time.Duration     `yaml:"poll_interval"`
	Mode                       string            `yaml:"mode"`
	ForbidSending              []string          `yaml:"forbid_sending"`
	LowPriorityTypes           []string          `yaml:"low_priority_types"`
	OverwriteServer            bool              `yaml:"overwrite_server"`
	AutomaticRetry             bool              `yaml:"automatic_retry"`
	BigBundles                 bool              `yaml:"big_bundles"`
	PatchSync                  bool              `yaml:"patch_sync"`
	ResubmitDeadLettersOnStart bool              `yaml:"resubmit_dead_letters_on_start"`
	PageSize                   int               `yaml:"page_size"`
	PageTargetWindow           time.Duration     `yaml:"page_target_window"`
	MaxPageSize                int               `yaml:"max_page_size"`
	MaxPageSizeSmall           int               `yaml:"max_page_size_small"`
	QueryStaleness             time.Duration     `yaml:"query_staleness"`
	LockTimeout                time.Duration     `yaml:"lock_timeout"`
	NetworkCheckInterval       time.Duration     `yaml:"network_check_interval"`
	SubscribedObjects          []string          `yaml:"subscribed_objects"`
	SubscribedObjectType       string            `yaml:"subscribed_object_type"`
	Variables                  map[string]string `yaml:"variables"`
}

type BackupConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	Keep        int           `yaml:"keep"`
	StoragePath string        `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional for a client installation
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Upstream.BaseURL == "" {
		return errors.New("upstream base_url is required")
	}

	switch c.Queue.Backend {
	case BackendSQLite, BackendMemory:
	case BackendRedis:
		if c.Redis.Address == "" {
			return errors.New("redis address is required for the redis queue backend")
		}
	default:
		return fmt.Errorf("unknown queue backend: %q", c.Queue.Backend)
	}

	switch strings.ToLower(c.Queue.Codec) {
	case "json", "cbor":
	default:
		return fmt.Errorf("unknown queue codec: %q", c.Queue.Codec)
	}

	if _, err := models.ParseSyncMode(c.Synchronization.Mode); err != nil {
		return err
	}

	s := c.Synchronization
	if s.PageSize < 1 {
		return fmt.Errorf("synchronization page_size must be positive, got %d", s.PageSize)
	}
	if s.MaxPageSize < 1 || s.MaxPageSizeSmall < 1 {
		return errors.New("synchronization max page sizes must be positive")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "offsync"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/offsync.db"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "offsync"
	}

	if c.Queue.Backend == "" {
		c.Queue.Backend = BackendSQLite
	}
	if c.Queue.Codec == "" {
		c.Queue.Codec = "json"
	}
	if c.Queue.InlineThreshold == 0 {
		c.Queue.InlineThreshold = models.DefaultInlineThreshold
	}
	if c.Queue.BlobDir == "" {
		c.Queue.BlobDir = "data/blobs"
	}

	if c.Upstream.Timeout == 0 {
		c.Upstream.Timeout = 30 * time.Second
	}
	if c.Upstream.RateLimitRPS > 0 && c.Upstream.Burst == 0 {
		c.Upstream.Burst = 1
	}

	s := &c.Synchronization
	if s.Mode == "" {
		s.Mode = "partial|online"
	}
	if s.PageSize == 0 {
		s.PageSize = models.DefaultPageSize
	}
	if s.PageTargetWindow == 0 {
		s.PageTargetWindow = models.DefaultPageTargetWindow
	}
	if s.MaxPageSize == 0 {
		s.MaxPageSize = models.DefaultMaxPageSize
	}
	if s.MaxPageSizeSmall == 0 {
		s.MaxPageSizeSmall = models.DefaultMaxPageSizeSmall
	}
	if s.QueryStaleness == 0 {
		s.QueryStaleness = models.DefaultQueryStaleness
	}
	if s.LockTimeout == 0 {
		s.LockTimeout = models.DefaultLockTimeout
	}
	if s.NetworkCheckInterval == 0 {
		s.NetworkCheckInterval = 30 * time.Second
	}

	if c.Backup.Enabled && c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "data/snapshots"
	}
	if c.Backup.Enabled && c.Backup.Keep == 0 {
		c.Backup.Keep = 7
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}
