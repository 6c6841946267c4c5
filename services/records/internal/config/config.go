package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"vetrecords/internal/bootstrap"
)

// DefaultPath is read when CONFIG_PATH is unset.
const DefaultPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port               string                  `yaml:"port"`
	LogLevel           string                  `yaml:"logLevel"`
	LogsDir            string                  `yaml:"logsDir"`
	MaxUploadBytes     int64                   `yaml:"maxUploadBytes"`
	AllowedExtensions  []string                `yaml:"allowedExtensions"`
	CORSAllowedOrigins []string                `yaml:"corsAllowedOrigins"`
	TrustedProxies     []string                `yaml:"trustedProxies"`
	RateLimit          RateLimitConfig         `yaml:"rateLimit"`
	EmbeddedWorker     bootstrap.WorkerSection `yaml:"embeddedWorker"`

	bootstrap.Sections `yaml:",inline"`
}

// RateLimitConfig enables per-IP limits when a limit is positive.
type RateLimitConfig struct {
	RedisAddr        string `yaml:"redisAddr"`
	RedisPassword    string `yaml:"redisPassword"`
	UploadPerMinute  int    `yaml:"uploadPerMinute"`
	ProcessPerMinute int    `yaml:"processPerMinute"`
}

// Enabled reports whether any limit is configured.
func (r RateLimitConfig) Enabled() bool {
	return r.UploadPerMinute > 0 || r.ProcessPerMinute > 0
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
	applyEnv(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	cfg.Sections.ApplyEnv()
	bootstrap.SetString(&cfg.Port, "PORT")
	bootstrap.SetString(&cfg.LogLevel, "LOG_LEVEL")
	bootstrap.SetString(&cfg.LogsDir, "LOGS_DIR")
	if v := os.Getenv("RECORDS_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("RECORDS_ALLOWED_EXTENSIONS"); v != "" {
		cfg.AllowedExtensions = bootstrap.SplitCSV(v)
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = bootstrap.SplitCSV(v)
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = bootstrap.SplitCSV(v)
	}
	bootstrap.SetString(&cfg.RateLimit.RedisAddr, "RATE_LIMIT_REDIS_ADDR")
	bootstrap.SetBool(&cfg.EmbeddedWorker.Enabled, "EMBEDDED_WORKER")
	if cfg.RateLimit.Enabled() && strings.TrimSpace(cfg.RateLimit.RedisAddr) == "" {
		cfg.RateLimit.RedisAddr = cfg.Queue.RedisAddr
		cfg.RateLimit.RedisPassword = cfg.Queue.RedisPassword
	}
}

func validateConfig(cfg FileConfig) error {
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if err := cfg.Sections.Validate(); err != nil {
		return err
	}
	if cfg.MaxUploadBytes < 0 {
		return errors.New("config: maxUploadBytes must not be negative")
	}
	if cfg.MemoryBroker() && !cfg.EmbeddedWorker.Enabled {
		return errors.New("config: queue.broker memory requires embeddedWorker.enabled (set in config.yaml)")
	}
	if strings.EqualFold(strings.TrimSpace(cfg.DatabaseURL), bootstrap.MemoryDatabaseURL) && !cfg.EmbeddedWorker.Enabled {
		return errors.New("config: databaseURL memory requires embeddedWorker.enabled (set in config.yaml)")
	}
	if cfg.RateLimit.UploadPerMinute < 0 || cfg.RateLimit.ProcessPerMinute < 0 {
		return errors.New("config: rateLimit limits must not be negative")
	}
	if cfg.RateLimit.Enabled() && strings.TrimSpace(cfg.RateLimit.RedisAddr) == "" {
		return errors.New("config: rateLimit.redisAddr is required when limits are set (set in config.yaml or RATE_LIMIT_REDIS_ADDR)")
	}
	for _, ext := range cfg.AllowedExtensions {
		if !strings.HasPrefix(strings.TrimSpace(ext), ".") {
			return fmt.Errorf("config: allowedExtensions entry %q must start with a dot", ext)
		}
	}
	return nil
}
