package config

import (
	yamlenv "github.com/ifuryst/go-yaml-env"

	"github.com/inmopost/inmopost/pkg/logger"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Logger   logger.Config  `yaml:"logger"`
	Meta     MetaConfig     `yaml:"meta"`
	Worker   WorkerConfig   `yaml:"worker"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	Mode     string `yaml:"mode"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type DatabaseConfig struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	TimeZone string `yaml:"timezone"`
}

type MetaConfig struct {
	GraphURL   string `yaml:"graph_url"`
	APIVersion string `yaml:"api_version"`
}

type WorkerConfig struct {
	// CronSecret guards the worker trigger route; empty disables the check.
	CronSecret string `yaml:"cron_secret"`

	BatchSize     int `yaml:"batch_size"`
	MaxConcurrent int `yaml:"max_concurrent"`
	MaxRetries    int `yaml:"max_retries"`

	// RetryBackoff is the delay table indexed by retry count; the last
	// value repeats for retries past the end of the table.
	RetryBackoff []string `yaml:"retry_backoff"`

	// PollInterval enables the in-process trigger loop when Enabled is
	// set. External cron hitting the trigger route is the default
	// deployment.
	PollInterval string `yaml:"poll_interval"`
	Enabled      bool   `yaml:"enabled"`
}

func LoadConfig(configPath string) (*Config, error) {
	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, err
	}

	// Set default values
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5361
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.TimeZone == "" {
		cfg.Database.TimeZone = "UTC"
	}
	if cfg.Meta.GraphURL == "" {
		cfg.Meta.GraphURL = "https://graph.facebook.com"
	}
	if cfg.Meta.APIVersion == "" {
		cfg.Meta.APIVersion = "v19.0"
	}
	if cfg.Worker.BatchSize == 0 {
		cfg.Worker.BatchSize = 10
	}
	if cfg.Worker.MaxConcurrent == 0 {
		cfg.Worker.MaxConcurrent = 3
	}
	if cfg.Worker.MaxRetries == 0 {
		cfg.Worker.MaxRetries = 3
	}
	if len(cfg.Worker.RetryBackoff) == 0 {
		cfg.Worker.RetryBackoff = []string{"1m", "5m", "15m"}
	}
	if cfg.Worker.PollInterval == "" {
		cfg.Worker.PollInterval = "1m"
	}

	return cfg, nil
}
