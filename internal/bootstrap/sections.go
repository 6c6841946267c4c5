// Package bootstrap holds the configuration sections shared by the records
// and worker services and the builders that turn them into live components.
package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// MemoryDatabaseURL selects the in-process run store. Only useful together
// with the memory broker and an embedded worker.
const MemoryDatabaseURL = "memory"

// Sections is inlined into each service's FileConfig.
type Sections struct {
	DatabaseURL string                  `yaml:"databaseURL"`
	Storage     StorageSection          `yaml:"storage"`
	Queue       QueueSection            `yaml:"queue"`
	LLM         LLMSection              `yaml:"llm"`
	Extract     ExtractSection          `yaml:"extract"`
	Pricing     map[string]PriceSection `yaml:"pricing"`
}

type StorageSection struct {
	Backend            string `yaml:"backend"`
	LocalDir           string `yaml:"localDir"`
	MinioEndpoint      string `yaml:"minioEndpoint"`
	MinioAccessKey     string `yaml:"minioAccessKey"`
	MinioSecretKey     string `yaml:"minioSecretKey"`
	MinioBucket        string `yaml:"minioBucket"`
	MinioUseSSL        bool   `yaml:"minioUseSSL"`
	GCSBucket          string `yaml:"gcsBucket"`
	GCSCredentialsFile string `yaml:"gcsCredentialsFile"`
}

type QueueSection struct {
	Broker            string `yaml:"broker"`
	Name              string `yaml:"name"`
	Group             string `yaml:"group"`
	MaxRetries        int    `yaml:"maxRetries"`
	RetryDelaySeconds int    `yaml:"retryDelaySeconds"`
	ClaimIdleSeconds  int    `yaml:"claimIdleSeconds"`
	RedisAddr         string `yaml:"redisAddr"`
	RedisPassword     string `yaml:"redisPassword"`
	AMQPURL           string `yaml:"amqpURL"`
	BufferSize        int    `yaml:"bufferSize"`
}

type LLMSection struct {
	Provider       string `yaml:"provider"`
	BaseURL        string `yaml:"baseURL"`
	APIKey         string `yaml:"apiKey"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

type ExtractSection struct {
	PdftotextPath  string `yaml:"pdftotextPath"`
	TesseractPath  string `yaml:"tesseractPath"`
	OCRLanguage    string `yaml:"ocrLanguage"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

// PriceSection is a per-model rate override in USD per 1M tokens.
type PriceSection struct {
	InputPerMillion  float64 `yaml:"inputPerMillion"`
	OutputPerMillion float64 `yaml:"outputPerMillion"`
}

// WorkerSection tunes a queue consumer.
type WorkerSection struct {
	Enabled            bool `yaml:"enabled"`
	Concurrency        int  `yaml:"concurrency"`
	TaskTimeoutSeconds int  `yaml:"taskTimeoutSeconds"`
}

// TaskTimeout defaults to five minutes.
func (w WorkerSection) TaskTimeout() time.Duration {
	if w.TaskTimeoutSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(w.TaskTimeoutSeconds) * time.Second
}

// ConfigPath returns CONFIG_PATH or the given default.
func ConfigPath(def string) string {
	if v := strings.TrimSpace(os.Getenv("CONFIG_PATH")); v != "" {
		return v
	}
	return def
}

// ApplyEnv overrides deployment-sensitive keys from the environment.
func (s *Sections) ApplyEnv() {
	SetString(&s.DatabaseURL, "DATABASE_URL")

	SetString(&s.Storage.Backend, "STORAGE_BACKEND")
	SetString(&s.Storage.LocalDir, "STORAGE_LOCAL_DIR")
	SetString(&s.Storage.MinioEndpoint, "MINIO_ENDPOINT")
	SetString(&s.Storage.MinioAccessKey, "MINIO_ACCESS_KEY")
	SetString(&s.Storage.MinioSecretKey, "MINIO_SECRET_KEY")
	SetString(&s.Storage.MinioBucket, "MINIO_BUCKET")
	SetBool(&s.Storage.MinioUseSSL, "MINIO_USE_SSL")
	SetString(&s.Storage.GCSBucket, "GCS_BUCKET")
	SetString(&s.Storage.GCSCredentialsFile, "GCS_CREDENTIALS_FILE")

	SetString(&s.Queue.Broker, "QUEUE_BROKER")
	SetString(&s.Queue.RedisAddr, "REDIS_ADDR")
	SetString(&s.Queue.RedisPassword, "REDIS_PASSWORD")
	SetString(&s.Queue.AMQPURL, "AMQP_URL")

	SetString(&s.LLM.Provider, "LLM_PROVIDER")
	SetString(&s.LLM.BaseURL, "LLM_BASE_URL")
	SetString(&s.LLM.APIKey, "LLM_API_KEY")
	SetString(&s.LLM.Model, "LLM_MODEL")
}

// Validate checks the keys each selected backend needs.
func (s Sections) Validate() error {
	if strings.TrimSpace(s.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	switch backend(s.Storage.Backend, "local") {
	case "local":
		if strings.TrimSpace(s.Storage.LocalDir) == "" {
			return errors.New("config: storage.localDir is required for the local backend (set in config.yaml)")
		}
	case "minio", "s3":
		if s.Storage.MinioEndpoint == "" || s.Storage.MinioBucket == "" {
			return errors.New("config: storage.minioEndpoint and storage.minioBucket are required for the minio backend (set in config.yaml)")
		}
		if s.Storage.MinioAccessKey == "" || s.Storage.MinioSecretKey == "" {
			return errors.New("config: storage.minioAccessKey and storage.minioSecretKey are required (set in config.yaml or MINIO_ACCESS_KEY/MINIO_SECRET_KEY)")
		}
	case "gcs":
		if s.Storage.GCSBucket == "" {
			return errors.New("config: storage.gcsBucket is required for the gcs backend (set in config.yaml or GCS_BUCKET)")
		}
	default:
		return fmt.Errorf("config: storage.backend %q is not one of local, minio, gcs", s.Storage.Backend)
	}
	switch backend(s.Queue.Broker, "redis") {
	case "redis":
		if strings.TrimSpace(s.Queue.RedisAddr) == "" {
			return errors.New("config: queue.redisAddr is required for the redis broker (set in config.yaml or REDIS_ADDR)")
		}
	case "amqp", "rabbitmq":
		if strings.TrimSpace(s.Queue.AMQPURL) == "" {
			return errors.New("config: queue.amqpURL is required for the amqp broker (set in config.yaml or AMQP_URL)")
		}
	case "memory":
	default:
		return fmt.Errorf("config: queue.broker %q is not one of redis, amqp, memory", s.Queue.Broker)
	}
	switch backend(s.LLM.Provider, "none") {
	case "none", "openai", "openai-compat", "gemini", "ollama":
	default:
		return fmt.Errorf("config: llm.provider %q is not one of none, openai, gemini, ollama", s.LLM.Provider)
	}
	for model, p := range s.Pricing {
		if p.InputPerMillion < 0 || p.OutputPerMillion < 0 {
			return fmt.Errorf("config: pricing for %q must not be negative", model)
		}
	}
	return nil
}

// MemoryBroker reports whether tasks stay inside this process.
func (s Sections) MemoryBroker() bool {
	return backend(s.Queue.Broker, "redis") == "memory"
}

func backend(v, def string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return def
	}
	return v
}

// SetString overrides dst with the env value of key when set.
func SetString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// SetBool overrides dst when key parses as a bool.
func SetBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// SetInt overrides dst when key parses as an integer.
func SetInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// SplitCSV splits a comma separated env value.
func SplitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
