// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type AdminConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"` // idempotency/ack key retention
}

type StreamConfig struct {
	// Watermark is the per-subscriber backpressure credit: number of
	// buffered-but-undelivered chunks tolerated before the subscriber is
	// dropped with SlowConsumer.
	Watermark int `yaml:"watermark"`
}

type BusConfig struct {
	RetryBase   time.Duration `yaml:"retry_base"`
	RetryCap    time.Duration `yaml:"retry_cap"`
	MaxAttempts int           `yaml:"max_attempts"`
	QueueSize   int           `yaml:"queue_size"` // per-consumer dispatch queue
}

type JobsConfig struct {
	OwnerQuota        int           `yaml:"owner_quota"`        // max active jobs per owner
	IdleTimeout       time.Duration `yaml:"idle_timeout"`       // no chunk/transition within this window -> failed(Timeout)
	IdleSweepInterval time.Duration `yaml:"idle_sweep_interval"`
	RetentionTTL      time.Duration `yaml:"retention_ttl"`      // terminal jobs evicted after this
	RetentionInterval time.Duration `yaml:"retention_interval"`
	SweepWorkers      int           `yaml:"sweep_workers"`
}

type GatewayConfig struct {
	IdleTimeout time.Duration `yaml:"idle_timeout"` // idle connections are detached
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Admin    AdminConfig    `yaml:"admin"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Stream   StreamConfig   `yaml:"stream"`
	Bus      BusConfig      `yaml:"bus"`
	Jobs     JobsConfig     `yaml:"jobs"`
	Gateway  GatewayConfig  `yaml:"gateway"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

// ApplyDefaults fills zero values with the documented defaults.
func (cfg *Config) ApplyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Admin.Port <= 0 {
		cfg.Admin.Port = 8089
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = 48 * time.Hour
	}
	if cfg.Stream.Watermark <= 0 {
		cfg.Stream.Watermark = 64
	}
	if cfg.Bus.RetryBase <= 0 {
		cfg.Bus.RetryBase = 200 * time.Millisecond
	}
	if cfg.Bus.RetryCap <= 0 {
		cfg.Bus.RetryCap = 10 * time.Second
	}
	if cfg.Bus.MaxAttempts <= 0 {
		cfg.Bus.MaxAttempts = 5
	}
	if cfg.Bus.QueueSize <= 0 {
		cfg.Bus.QueueSize = 256
	}
	if cfg.Jobs.OwnerQuota <= 0 {
		cfg.Jobs.OwnerQuota = 32
	}
	if cfg.Jobs.IdleTimeout <= 0 {
		cfg.Jobs.IdleTimeout = 120 * time.Second
	}
	if cfg.Jobs.IdleSweepInterval <= 0 {
		cfg.Jobs.IdleSweepInterval = 15 * time.Second
	}
	if cfg.Jobs.RetentionTTL <= 0 {
		cfg.Jobs.RetentionTTL = 24 * time.Hour
	}
	if cfg.Jobs.RetentionInterval <= 0 {
		cfg.Jobs.RetentionInterval = 10 * time.Minute
	}
	if cfg.Jobs.SweepWorkers <= 0 {
		cfg.Jobs.SweepWorkers = 4
	}
	if cfg.Gateway.IdleTimeout <= 0 {
		cfg.Gateway.IdleTimeout = 5 * time.Minute
	}
}
