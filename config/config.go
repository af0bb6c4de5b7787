package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Tracking   TrackingConfig   `yaml:"tracking"`
	Sync       SyncConfig       `yaml:"sync"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// TrackingConfig holds the geofence tracking knobs.
//
// The entry/exit debounce timeouts are asymmetric on purpose: a slow start
// costs a few minutes of recorded time, a missed stop costs the whole evening.
type TrackingConfig struct {
	UserID                string  `yaml:"user_id"`
	AutoStartEnabled      bool    `yaml:"auto_start_enabled"`
	EntryTimeoutMinutes   int     `yaml:"entry_timeout_minutes"`
	ExitTimeoutSeconds    int     `yaml:"exit_timeout_seconds"`
	ExitAdjustmentMinutes int     `yaml:"exit_adjustment_minutes"`
	PauseLimitMinutes     int     `yaml:"pause_limit_minutes"`
	MaxAccuracyMeters     float64 `yaml:"max_accuracy_meters"`
	ReminderAfterHours    int     `yaml:"reminder_after_hours"`
	Timezone              string  `yaml:"timezone"`

	EntryTimeout time.Duration `yaml:"-"` // Ignored by YAML parser
	ExitTimeout  time.Duration `yaml:"-"`
}

// SyncConfig holds the remote-store replication configuration.
type SyncConfig struct {
	Enabled               bool              `yaml:"enabled"`
	Endpoint              string            `yaml:"endpoint"`
	Headers               map[string]string `yaml:"headers"`
	IntervalSeconds       int               `yaml:"interval_seconds"`
	RequestTimeoutSeconds int               `yaml:"request_timeout_seconds"`
	BackoffInitialSeconds int               `yaml:"backoff_initial_seconds"`
	BackoffMaxSeconds     int               `yaml:"backoff_max_seconds"`
	PageSize              int               `yaml:"page_size"`

	Interval       time.Duration `yaml:"-"`
	RequestTimeout time.Duration `yaml:"-"`
	BackoffInitial time.Duration `yaml:"-"`
	BackoffMax     time.Duration `yaml:"-"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()

	if cfg.Sync.Enabled && cfg.Sync.Endpoint == "" {
		return nil, fmt.Errorf("sync.endpoint must be set when sync is enabled")
	}

	return &cfg, nil
}

// ApplyDefaults fills in default values for unset or invalid fields.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 300
	}

	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "./timeclock.db"
	}

	if cfg.Tracking.UserID == "" {
		cfg.Tracking.UserID = "local"
	}
	if cfg.Tracking.EntryTimeoutMinutes <= 0 {
		cfg.Tracking.EntryTimeoutMinutes = 3
	}
	if cfg.Tracking.ExitTimeoutSeconds <= 0 {
		cfg.Tracking.ExitTimeoutSeconds = 30
	}
	if cfg.Tracking.ExitAdjustmentMinutes < 0 {
		cfg.Tracking.ExitAdjustmentMinutes = 0
	}
	if cfg.Tracking.PauseLimitMinutes <= 0 {
		cfg.Tracking.PauseLimitMinutes = 120
	}
	if cfg.Tracking.MaxAccuracyMeters <= 0 {
		cfg.Tracking.MaxAccuracyMeters = 100
	}
	if cfg.Tracking.ReminderAfterHours <= 0 {
		cfg.Tracking.ReminderAfterHours = 12
	}
	if cfg.Tracking.Timezone == "" {
		cfg.Tracking.Timezone = "Local"
	}
	cfg.Tracking.EntryTimeout = time.Duration(cfg.Tracking.EntryTimeoutMinutes) * time.Minute
	cfg.Tracking.ExitTimeout = time.Duration(cfg.Tracking.ExitTimeoutSeconds) * time.Second

	if cfg.Sync.IntervalSeconds <= 0 {
		cfg.Sync.IntervalSeconds = 300
	}
	if cfg.Sync.RequestTimeoutSeconds <= 0 {
		cfg.Sync.RequestTimeoutSeconds = 30
	}
	if cfg.Sync.BackoffInitialSeconds <= 0 {
		cfg.Sync.BackoffInitialSeconds = 5
	}
	if cfg.Sync.BackoffMaxSeconds <= 0 {
		cfg.Sync.BackoffMaxSeconds = 900
	}
	if cfg.Sync.PageSize <= 0 {
		cfg.Sync.PageSize = 200
	}
	cfg.Sync.Interval = time.Duration(cfg.Sync.IntervalSeconds) * time.Second
	cfg.Sync.RequestTimeout = time.Duration(cfg.Sync.RequestTimeoutSeconds) * time.Second
	cfg.Sync.BackoffInitial = time.Duration(cfg.Sync.BackoffInitialSeconds) * time.Second
	cfg.Sync.BackoffMax = time.Duration(cfg.Sync.BackoffMaxSeconds) * time.Second

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}
}

// Location resolves the configured timezone. Calendar-day boundaries of daily
// hours entries are always computed in this zone.
func (t *TrackingConfig) Location() (*time.Location, error) {
	if t.Timezone == "" || t.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(t.Timezone)
}
