package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Limiter  LimiterConfig  `yaml:"limiter"`
	Queue    QueueConfig    `yaml:"queue"`
	Jitter   JitterConfig   `yaml:"jitter"`
	History  HistoryConfig  `yaml:"history"`
	Webhooks WebhooksConfig `yaml:"webhooks"`
	Admin    AdminConfig    `yaml:"admin"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type LimiterConfig struct {
	MaxRequestsPerMinute  int           `yaml:"max_requests_per_minute"`
	Window                time.Duration `yaml:"window"`
	MaxConcurrentJobsUser int           `yaml:"max_concurrent_jobs_per_user"`
	CleanupInterval       time.Duration `yaml:"cleanup_interval"`
}

type QueueConfig struct {
	GlobalConcurrencyLimit int           `yaml:"global_concurrency_limit"`
	MaxQueueSize           int           `yaml:"max_queue_size"`
	JobExpiration          time.Duration `yaml:"job_expiration"`
}

type JitterConfig struct {
	Enabled   bool          `yaml:"enabled"`
	MaxDelay  time.Duration `yaml:"max_delay"`
	DepthStep time.Duration `yaml:"depth_step"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

type WebhooksConfig struct {
	Endpoints   []string      `yaml:"endpoints"`
	Secret      string        `yaml:"secret"`
	Timeout     time.Duration `yaml:"timeout"`
	WorkerCount int           `yaml:"worker_count"`
	QueueSize   int           `yaml:"queue_size"`
}

type AdminConfig struct {
	PasswordHash  string        `yaml:"password_hash"`
	TokenDuration time.Duration `yaml:"token_duration"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Limiter: LimiterConfig{
			MaxRequestsPerMinute:  30,
			Window:                time.Minute,
			MaxConcurrentJobsUser: 2,
			CleanupInterval:       5 * time.Minute,
		},
		Queue: QueueConfig{
			GlobalConcurrencyLimit: 2,
			MaxQueueSize:           50,
			JobExpiration:          30 * time.Minute,
		},
		Jitter: JitterConfig{
			Enabled:   true,
			MaxDelay:  500 * time.Millisecond,
			DepthStep: 25 * time.Millisecond,
		},
		History: HistoryConfig{
			Path:          "./data/history.db",
			RetentionDays: 30,
		},
		Webhooks: WebhooksConfig{
			Timeout:     10 * time.Second,
			WorkerCount: 3,
			QueueSize:   100,
		},
		Admin: AdminConfig{
			TokenDuration: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the optional YAML file on top of defaults, then applies
// environment overrides. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v, ok := envInt("BACKTEST_PORT"); ok {
		cfg.Server.Port = v
	}
	if v, ok := envInt("BACKTEST_MAX_REQUESTS_PER_MINUTE"); ok {
		cfg.Limiter.MaxRequestsPerMinute = v
	}
	if v, ok := envInt("BACKTEST_MAX_CONCURRENT_JOBS_PER_USER"); ok {
		cfg.Limiter.MaxConcurrentJobsUser = v
	}
	if v, ok := envInt("BACKTEST_GLOBAL_CONCURRENCY_LIMIT"); ok {
		cfg.Queue.GlobalConcurrencyLimit = v
	}
	if v, ok := envInt("BACKTEST_MAX_QUEUE_SIZE"); ok {
		cfg.Queue.MaxQueueSize = v
	}
	if v, ok := envInt("BACKTEST_JOB_EXPIRATION_MS"); ok {
		cfg.Queue.JobExpiration = time.Duration(v) * time.Millisecond
	}
	if v := os.Getenv("BACKTEST_JITTER_ENABLED"); v != "" {
		cfg.Jitter.Enabled = v == "true" || v == "1"
	}
	if v, ok := envInt("BACKTEST_MAX_JITTER_MS"); ok {
		cfg.Jitter.MaxDelay = time.Duration(v) * time.Millisecond
	}
	if v := os.Getenv("BACKTEST_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}
	if v := os.Getenv("BACKTEST_ADMIN_PASSWORD_HASH"); v != "" {
		cfg.Admin.PasswordHash = v
	}
	if v := os.Getenv("BACKTEST_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be non-negative")
	}

	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server write timeout must be non-negative")
	}

	if c.Limiter.MaxRequestsPerMinute < 0 {
		return fmt.Errorf("max requests per minute must be non-negative")
	}

	if c.Limiter.Window <= 0 {
		return fmt.Errorf("limiter window must be positive")
	}

	if c.Limiter.MaxConcurrentJobsUser < 0 {
		return fmt.Errorf("max concurrent jobs per user must be non-negative")
	}

	if c.Queue.GlobalConcurrencyLimit < 1 {
		return fmt.Errorf("global concurrency limit must be at least 1")
	}

	if c.Queue.MaxQueueSize < 0 {
		return fmt.Errorf("max queue size must be non-negative")
	}

	if c.Queue.JobExpiration <= 0 {
		return fmt.Errorf("job expiration must be positive")
	}

	if c.Jitter.MaxDelay < 0 {
		return fmt.Errorf("max jitter delay must be non-negative")
	}

	if c.History.Path == "" {
		return fmt.Errorf("history path is required")
	}

	if c.History.RetentionDays < 0 {
		return fmt.Errorf("history retention days must be non-negative")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json":  true,
		"text":  true,
		"plain": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, text, plain)", c.Logging.Format)
	}

	return nil
}
