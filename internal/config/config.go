package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Events    EventsConfig    `yaml:"events"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Engine    EngineConfig    `yaml:"engine"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
	AdminToken  string `yaml:"admin_token"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type EventsConfig struct {
	URL string `yaml:"url"`
}

// AnalysisConfig controls the AI-assisted semantic analysis path.
type AnalysisConfig struct {
	Enabled       bool   `yaml:"enabled"`
	RuntimeURL    string `yaml:"runtime_url"`
	TimeoutMs     int    `yaml:"timeout_ms"`
	HealthCheckMs int    `yaml:"health_check_ms"`
	CacheSize     int    `yaml:"cache_size"`
	CacheTTLMs    int    `yaml:"cache_ttl_ms"`
}

type EngineConfig struct {
	MaxConcurrentWorkflows int `yaml:"max_concurrent_workflows"`
	BatchSize              int `yaml:"batch_size"`
	MaxConcurrency         int `yaml:"max_concurrency"`
	WriteBackMaxAttempts   int `yaml:"write_back_max_attempts"`
	WriteBackBackoffMs     int `yaml:"write_back_backoff_ms"`
	RetentionDays          int `yaml:"retention_days"`
}

type SchedulerConfig struct {
	QueueCapacity    int     `yaml:"queue_capacity"`
	DispatchTickMs   int     `yaml:"dispatch_tick_ms"`
	MaxCPUPercent    float64 `yaml:"max_cpu_percent"`
	MaxMemoryPercent float64 `yaml:"max_memory_percent"`
	MaxRetries       int     `yaml:"max_retries"`
	RetryBackoffMs   int     `yaml:"retry_backoff_ms"`
}

type MonitorConfig struct {
	RetentionMinutes  int    `yaml:"retention_minutes"`
	CompactionTickMs  int    `yaml:"compaction_tick_ms"`
	AlertWebhookURL   string `yaml:"alert_webhook_url"`
	MaxSamplesPerName int    `yaml:"max_samples_per_name"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c *Config) AnalysisTimeout() time.Duration {
	return time.Duration(c.Analysis.TimeoutMs) * time.Millisecond
}

func (c *Config) DispatchTick() time.Duration {
	return time.Duration(c.Scheduler.DispatchTickMs) * time.Millisecond
}

func (c *Config) WriteBackBackoff() time.Duration {
	return time.Duration(c.Engine.WriteBackBackoffMs) * time.Millisecond
}

func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Scheduler.RetryBackoffMs) * time.Millisecond
}

func (c *Config) MetricRetention() time.Duration {
	return time.Duration(c.Monitor.RetentionMinutes) * time.Minute
}

func (c *Config) CompactionTick() time.Duration {
	return time.Duration(c.Monitor.CompactionTickMs) * time.Millisecond
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Analysis.CacheTTLMs) * time.Millisecond
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        8700,
			MetricsPort: 8701,
		},
		Events: EventsConfig{
			URL: "nats://localhost:4222",
		},
		Analysis: AnalysisConfig{
			Enabled:       true,
			RuntimeURL:    "http://localhost:8750",
			TimeoutMs:     5000,
			HealthCheckMs: 1000,
			CacheSize:     2048,
			CacheTTLMs:    900000,
		},
		Engine: EngineConfig{
			MaxConcurrentWorkflows: 8,
			BatchSize:              500,
			MaxConcurrency:         10,
			WriteBackMaxAttempts:   4,
			WriteBackBackoffMs:     500,
			RetentionDays:          30,
		},
		Scheduler: SchedulerConfig{
			QueueCapacity:    1000,
			DispatchTickMs:   1000,
			MaxCPUPercent:    85.0,
			MaxMemoryPercent: 90.0,
			MaxRetries:       5,
			RetryBackoffMs:   2000,
		},
		Monitor: MonitorConfig{
			RetentionMinutes:  1440,
			CompactionTickMs:  60000,
			MaxSamplesPerName: 10000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PRIORITIZER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("PRIORITIZER_METRICS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MetricsPort = n
		}
	}
	if v := os.Getenv("PRIORITIZER_ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("PRIORITIZER_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("PRIORITIZER_EVENTS_URL"); v != "" {
		cfg.Events.URL = v
	}
	if v := os.Getenv("PRIORITIZER_ANALYSIS_URL"); v != "" {
		cfg.Analysis.RuntimeURL = v
	}
	if v := os.Getenv("PRIORITIZER_ANALYSIS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Analysis.Enabled = b
		}
	}
	if v := os.Getenv("PRIORITIZER_MAX_WORKFLOWS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.MaxConcurrentWorkflows = n
		}
	}
	if v := os.Getenv("PRIORITIZER_ALERT_WEBHOOK_URL"); v != "" {
		cfg.Monitor.AlertWebhookURL = v
	}
	if v := os.Getenv("PRIORITIZER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
