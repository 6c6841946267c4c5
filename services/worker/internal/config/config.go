package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"vetrecords/internal/bootstrap"
)

const DefaultPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string                  `yaml:"port"`
	LogLevel string                  `yaml:"logLevel"`
	LogsDir  string                  `yaml:"logsDir"`
	Worker   bootstrap.WorkerSection `yaml:"worker"`

	bootstrap.Sections `yaml:",inline"`
}

// ConfigPath returns CONFIG_PATH or DefaultPath.
func ConfigPath() string {
	return bootstrap.ConfigPath(DefaultPath)
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.Sections.ApplyEnv()
	bootstrap.SetString(&cfg.Port, "PORT")
	bootstrap.SetString(&cfg.LogLevel, "LOG_LEVEL")
	bootstrap.SetString(&cfg.LogsDir, "LOGS_DIR")
	bootstrap.SetInt(&cfg.Worker.Concurrency, "WORKER_CONCURRENCY")
	bootstrap.SetInt(&cfg.Worker.TaskTimeoutSeconds, "WORKER_TASK_TIMEOUT_SECONDS")
	if cfg.Worker.Concurrency <= 0 {
		cfg.Worker.Concurrency = 4
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("config: port is required for the health endpoint (set in config.yaml)")
	}
	if err := cfg.Sections.Validate(); err != nil {
		return err
	}
	if cfg.MemoryBroker() {
		return errors.New("config: the worker needs a shared broker; queue.broker memory only works with the records embedded worker")
	}
	if strings.EqualFold(strings.TrimSpace(cfg.DatabaseURL), bootstrap.MemoryDatabaseURL) {
		return errors.New("config: the worker needs a shared databaseURL; memory only works with the records embedded worker")
	}
	if cfg.Worker.TaskTimeoutSeconds < 0 {
		return errors.New("config: worker.taskTimeoutSeconds must not be negative")
	}
	return nil
}
