package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// MaxHours bounds every hour-valued setting. Larger values would overflow
// time.Duration.
const MaxHours = 24 * 365 * 100

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Overstay   OverstayConfig   `yaml:"overstay"`
	Retention  RetentionConfig  `yaml:"retention"`
	Database   DatabaseConfig   `yaml:"database"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// WorkerPoolConfig holds the configuration for the push delivery worker pool.
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

// Enabled reports whether web push delivery can be used.
func (p PushConfig) Enabled() bool {
	return p.PublicKey != "" && p.PrivateKey != ""
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	RequestIPHeader string        `yaml:"request_ip_header"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	CacheTTLSeconds int           `yaml:"cache_ttl_seconds"`
	CacheTTL        time.Duration `yaml:"-"`
	// EventCooldownSeconds rejects a second event for the same subject inside this window.
	EventCooldownSeconds int           `yaml:"event_cooldown_seconds"`
	EventCooldown        time.Duration `yaml:"-"`
}

// LogConfig selects the zap encoder and level.
type LogConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	ServiceName string `yaml:"service_name"`
}

// OverstayConfig controls the periodic overstay scan.
type OverstayConfig struct {
	Enabled             bool          `yaml:"enabled"`
	ThresholdHours      float64       `yaml:"threshold_hours"`
	LookbackHours       float64       `yaml:"lookback_hours"`
	IntervalSeconds     int           `yaml:"interval_seconds"`
	InitialDelaySeconds int           `yaml:"initial_delay_seconds"`
	Threshold           time.Duration `yaml:"-"`
	Lookback            time.Duration `yaml:"-"`
	Interval            time.Duration `yaml:"-"`
	InitialDelay        time.Duration `yaml:"-"`
}

// RetentionConfig controls the daily purge sweep.
type RetentionConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Months              int           `yaml:"months"`
	Hour                int           `yaml:"hour"`
	Minute              int           `yaml:"minute"`
	InitialDelaySeconds int           `yaml:"initial_delay_seconds"`
	InitialDelay        time.Duration `yaml:"-"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogQueries             bool   `yaml:"log_queries"`
}

// Load reads the configuration from the given path. A missing file is not an
// error; the defaults and environment overrides still apply.
func Load(path string) (*Config, error) {
	// .env is optional and never overrides variables already set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, err
	}

	if err := applyEnv(cfg, os.Getenv); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                 5000,
			RateLimitPerSec:      10,
			RateLimitBurst:       5,
			CacheTTLSeconds:      30,
			EventCooldownSeconds: 30,
		},
		Log: LogConfig{Level: "info", Format: "json", ServiceName: "gatepass"},
		Overstay: OverstayConfig{
			Enabled:             true,
			ThresholdHours:      6,
			LookbackHours:       72,
			IntervalSeconds:     30 * 60,
			InitialDelaySeconds: 30,
		},
		Retention: RetentionConfig{
			Enabled:             true,
			Months:              3,
			Hour:                3,
			Minute:              10,
			InitialDelaySeconds: 60,
		},
		Database: DatabaseConfig{
			MaxOpenConns:           10,
			MaxIdleConns:           5,
			ConnMaxLifetimeMinutes: 30,
		},
		Push:       PushConfig{TTL: 3600},
		WorkerPool: WorkerPoolConfig{Size: 1},
	}
}

// applyEnv layers the recognised environment variables over cfg.
func applyEnv(cfg *Config, getenv func(string) string) error {
	floatVar := func(name string, dst *float64) error {
		if v := getenv(name); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", name, v, err)
			}
			*dst = f
		}
		return nil
	}
	intVar := func(name string, dst *int) error {
		if v := getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", name, v, err)
			}
			*dst = n
		}
		return nil
	}
	// Millisecond variables are converted to the whole-second fields.
	msVar := func(name string, dst *int) error {
		var ms int
		if err := intVar(name, &ms); err != nil {
			return err
		}
		if ms > 0 {
			*dst = (ms + 999) / 1000
		}
		return nil
	}

	if err := floatVar("OVERSTAY_HOURS", &cfg.Overstay.ThresholdHours); err != nil {
		return err
	}
	if err := floatVar("OVERSTAY_LOOKBACK_HR", &cfg.Overstay.LookbackHours); err != nil {
		return err
	}
	if err := msVar("OVERSTAY_INTERVAL_MS", &cfg.Overstay.IntervalSeconds); err != nil {
		return err
	}
	if err := msVar("OVERSTAY_INITIAL_DELAY_MS", &cfg.Overstay.InitialDelaySeconds); err != nil {
		return err
	}
	if err := intVar("RETENTION_MONTHS", &cfg.Retention.Months); err != nil {
		return err
	}
	if err := intVar("PORT", &cfg.Server.Port); err != nil {
		return err
	}
	if v := getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	return nil
}

func (cfg *Config) normalize() {
	if cfg.Overstay.ThresholdHours <= 0 || cfg.Overstay.ThresholdHours > MaxHours {
		cfg.Overstay.ThresholdHours = 6
	}
	if cfg.Overstay.LookbackHours <= 0 || cfg.Overstay.LookbackHours > MaxHours {
		cfg.Overstay.LookbackHours = 72
	}
	if cfg.Overstay.IntervalSeconds <= 0 {
		cfg.Overstay.IntervalSeconds = 30 * 60
	}
	if cfg.Overstay.InitialDelaySeconds < 0 {
		cfg.Overstay.InitialDelaySeconds = 0
	}
	cfg.Overstay.Threshold = Hours(cfg.Overstay.ThresholdHours)
	cfg.Overstay.Lookback = Hours(cfg.Overstay.LookbackHours)
	cfg.Overstay.Interval = time.Duration(cfg.Overstay.IntervalSeconds) * time.Second
	cfg.Overstay.InitialDelay = time.Duration(cfg.Overstay.InitialDelaySeconds) * time.Second

	if cfg.Retention.Months <= 0 {
		cfg.Retention.Months = 3
	}
	if cfg.Retention.Hour < 0 || cfg.Retention.Hour > 23 {
		cfg.Retention.Hour = 3
	}
	if cfg.Retention.Minute < 0 || cfg.Retention.Minute > 59 {
		cfg.Retention.Minute = 10
	}
	cfg.Retention.InitialDelay = time.Duration(cfg.Retention.InitialDelaySeconds) * time.Second

	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 30
	}
	cfg.Server.CacheTTL = time.Duration(cfg.Server.CacheTTLSeconds) * time.Second
	if cfg.Server.EventCooldownSeconds < 0 {
		cfg.Server.EventCooldownSeconds = 0
	}
	cfg.Server.EventCooldown = time.Duration(cfg.Server.EventCooldownSeconds) * time.Second
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}
	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}
}

// Hours converts h to a duration, saturating at MaxHours.
func Hours(h float64) time.Duration {
	if h > MaxHours {
		h = MaxHours
	}
	if h < -MaxHours {
		h = -MaxHours
	}
	return time.Duration(h * float64(time.Hour))
}
