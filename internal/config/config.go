// Package config provides YAML-based configuration loading for Presswork.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Dispatch modes.
const (
	DispatchInProcess = "inprocess"
	DispatchRemote    = "remote"
)

// Config is the top-level Presswork configuration, loaded from presswork.yaml.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Server     ServerConfig     `yaml:"server"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Worker     WorkerConfig     `yaml:"worker"`
	Recovery   RecoveryConfig   `yaml:"recovery"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Bulk       BulkConfig       `yaml:"bulk"`
	Generation GenerationConfig `yaml:"generation"`
	Publish    PublishConfig    `yaml:"publish"`
	Log        LogConfig        `yaml:"log"`
	Auth       AuthConfig       `yaml:"auth"`
}

// DatabaseConfig selects the SQL backend. Path is only used by sqlite.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Path     string `yaml:"path"`
	Params   string `yaml:"params"`
}

// ServerConfig holds the HTTP API settings and the shared secrets guarding the
// internal endpoints.
type ServerConfig struct {
	Port               int           `yaml:"port"`
	TriggerSecret      string        `yaml:"trigger_secret"`
	WorkerSecret       string        `yaml:"worker_secret"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
}

// DispatchConfig controls how queued jobs reach an executor.
type DispatchConfig struct {
	Mode        string        `yaml:"mode"`
	WorkerURL   string        `yaml:"worker_url"`
	MaxInFlight int           `yaml:"max_in_flight"`
	JobTimeout  time.Duration `yaml:"job_timeout"`
}

// WorkerConfig holds settings for the `pw worker` daemon.
type WorkerConfig struct {
	Port              int           `yaml:"port"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// RecoveryConfig holds the single stuck-job timeout used by every sweep.
type RecoveryConfig struct {
	StuckTimeout time.Duration `yaml:"stuck_timeout"`
}

// SchedulerConfig holds cron expressions for the periodic jobs run by serve.
type SchedulerConfig struct {
	Enabled        bool   `yaml:"enabled"`
	TriggerCron    string `yaml:"trigger_cron"`
	QuotaResetCron string `yaml:"quota_reset_cron"`
}

// BulkConfig bounds bulk enqueue requests.
type BulkConfig struct {
	MaxPerRequest int `yaml:"max_per_request"`
}

// GenerationConfig points at the content generation service. An empty
// endpoint selects the built-in offline generator.
type GenerationConfig struct {
	Endpoint          string        `yaml:"endpoint"`
	APIKey            string        `yaml:"api_key"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	Timeout           time.Duration `yaml:"timeout"`
}

// PublishConfig holds settings shared by all publish channels.
type PublishConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AuthConfig sizes the API key lookup cache.
type AuthConfig struct {
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	CacheSize int           `yaml:"cache_size"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse expands ${VAR} references from the environment, unmarshals the YAML
// and returns a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		switch c.Database.Driver {
		case "postgres":
			c.Database.Port = 5432
		default:
			c.Database.Port = 3306
		}
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "presswork.db"
	}

	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.RateLimitPerMinute == 0 {
		c.Server.RateLimitPerMinute = 60
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}

	if c.Dispatch.Mode == "" {
		c.Dispatch.Mode = DispatchInProcess
	}
	if c.Dispatch.MaxInFlight == 0 {
		c.Dispatch.MaxInFlight = 4
	}
	if c.Dispatch.JobTimeout == 0 {
		c.Dispatch.JobTimeout = 15 * time.Minute
	}

	if c.Worker.Port == 0 {
		c.Worker.Port = 8081
	}
	if c.Worker.PollInterval == 0 {
		c.Worker.PollInterval = 30 * time.Second
	}
	if c.Worker.HeartbeatInterval == 0 {
		c.Worker.HeartbeatInterval = 10 * time.Second
	}

	if c.Recovery.StuckTimeout == 0 {
		c.Recovery.StuckTimeout = 20 * time.Minute
	}

	if c.Scheduler.TriggerCron == "" {
		c.Scheduler.TriggerCron = "*/15 * * * *"
	}
	if c.Scheduler.QuotaResetCron == "" {
		c.Scheduler.QuotaResetCron = "0 0 1 * *"
	}

	if c.Bulk.MaxPerRequest == 0 {
		c.Bulk.MaxPerRequest = 20
	}

	if c.Generation.RequestsPerMinute == 0 {
		c.Generation.RequestsPerMinute = 30
	}
	if c.Generation.Timeout == 0 {
		c.Generation.Timeout = 2 * time.Minute
	}

	if c.Publish.Timeout == 0 {
		c.Publish.Timeout = 20 * time.Second
	}
	if c.Publish.UserAgent == "" {
		c.Publish.UserAgent = "presswork/1.0"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	if c.Auth.CacheTTL == 0 {
		c.Auth.CacheTTL = 5 * time.Minute
	}
	if c.Auth.CacheSize == 0 {
		c.Auth.CacheSize = 1024
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string

	switch c.Database.Driver {
	case "mysql", "postgres":
		if c.Database.Name == "" {
			errs = append(errs, "database.name is required")
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be mysql, postgres or sqlite", c.Database.Driver))
	}

	switch c.Dispatch.Mode {
	case DispatchInProcess:
	case DispatchRemote:
		if c.Dispatch.WorkerURL == "" {
			errs = append(errs, "dispatch.worker_url is required when dispatch.mode is remote")
		}
		if c.Server.WorkerSecret == "" {
			errs = append(errs, "server.worker_secret is required when dispatch.mode is remote")
		}
	default:
		errs = append(errs, fmt.Sprintf("dispatch.mode %q must be inprocess or remote", c.Dispatch.Mode))
	}

	if c.Dispatch.MaxInFlight < 0 {
		errs = append(errs, "dispatch.max_in_flight must not be negative")
	}
	if c.Recovery.StuckTimeout < time.Minute {
		errs = append(errs, "recovery.stuck_timeout must be at least 1m")
	}
	if c.Dispatch.JobTimeout > c.Recovery.StuckTimeout {
		errs = append(errs, "dispatch.job_timeout must not exceed recovery.stuck_timeout")
	}
	if c.Bulk.MaxPerRequest < 1 {
		errs = append(errs, "bulk.max_per_request must be positive")
	}
	if c.Generation.RequestsPerMinute < 1 {
		errs = append(errs, "generation.requests_per_minute must be positive")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q must be json or console", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
