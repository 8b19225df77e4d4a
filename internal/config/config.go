package config

import (
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
)

type Config struct {
	API       APIConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Inference InferenceConfig
	Storage   StorageConfig
	Webhook   WebhookConfig
	RateLimit RateLimitConfig
	Tracing   TracingConfig
}

type APIConfig struct {
	Addr           string
	MaxUploadBytes int64
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency      int
	ImageConcurrency int
	DataDir          string
}

type InferenceConfig struct {
	BaseURL     string
	VisionModel string
	TextModel   string
}

type StorageConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type WebhookConfig struct {
	SigningSecret string
	Timeout       time.Duration
	MaxAttempts   int
}

type RateLimitConfig struct {
	Enabled  bool
	Capacity int
	Window   time.Duration
}

type TracingConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

// Load reads configuration from the environment, after loading a local .env
// file when one exists.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		API: APIConfig{
			Addr:           env("DOCFLOW_API_ADDR", ":8080"),
			MaxUploadBytes: envInt64("DOCFLOW_MAX_UPLOAD_BYTES", 50<<20),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("DOCFLOW_QUEUE", "default"),
		},
		Worker: WorkerConfig{
			Concurrency:      envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU()/2)),
			ImageConcurrency: envInt("WORKER_IMAGE_CONCURRENCY", 4),
			DataDir:          env("DOCFLOW_DATA_DIR", "./.docflow-data"),
		},
		Inference: InferenceConfig{
			BaseURL:     env("OLLAMA_URL", "http://localhost:11434"),
			VisionModel: env("DOCFLOW_VISION_MODEL", "gemma3:4b"),
			TextModel:   env("DOCFLOW_TEXT_MODEL", "deepseek-r1:1.5b"),
		},
		Storage: StorageConfig{
			Enabled:   envBool("DOCFLOW_ARTIFACT_MIRROR", false),
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "docflow-artifacts"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		Webhook: WebhookConfig{
			SigningSecret: env("DOCFLOW_WEBHOOK_SECRET", ""),
			Timeout:       envDuration("DOCFLOW_WEBHOOK_TIMEOUT", 10*time.Second),
			MaxAttempts:   envInt("DOCFLOW_WEBHOOK_MAX_ATTEMPTS", 3),
		},
		RateLimit: RateLimitConfig{
			Enabled:  envBool("DOCFLOW_RATE_LIMIT", false),
			Capacity: envInt("DOCFLOW_RATE_LIMIT_CAPACITY", 30),
			Window:   envDuration("DOCFLOW_RATE_LIMIT_WINDOW", time.Minute),
		},
		Tracing: TracingConfig{
			Exporter:     env("DOCFLOW_TRACE_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envInt64(key string, fallback int64) int64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
