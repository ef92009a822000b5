package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig
	API       APIConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Cache     CacheConfig
	Templates TemplatesConfig
	Storage   StorageConfig
	Gemini    GeminiConfig
	Database  DatabaseConfig
	Webhook   WebhookConfig
	Tracing   TracingConfig
}

type AppConfig struct {
	Env      string `validate:"required,oneof=development production test"`
	LogLevel string
}

type APIConfig struct {
	Addr               string `validate:"required"`
	MaxUploadBytes     int64  `validate:"gt=0"`
	RateLimitPerMinute int    `validate:"gte=0"`
	RateLimitHeader    string
	RateLimitBackend   string `validate:"oneof=redis local"`
}

type QueueConfig struct {
	RedisAddr     string `validate:"required"`
	RedisPassword string
	RedisDB       int           `validate:"gte=0"`
	Name          string        `validate:"required"`
	Attempts      int           `validate:"gte=1"`
	BackoffBase   time.Duration `validate:"gt=0"`
	TaskTimeout   time.Duration `validate:"gt=0"`
	Retention     time.Duration `validate:"gte=0"`
	KeepCompleted int           `validate:"gte=0"`
	KeepFailed    int           `validate:"gte=0"`
	TrimInterval  time.Duration `validate:"gt=0"`
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency  int    `validate:"gte=1"`
	OutputFormat string `validate:"oneof=webp png"`
}

type CacheConfig struct {
	ResultTTL     time.Duration `validate:"gt=0"`
	MetadataTTL   time.Duration `validate:"gt=0"`
	SweepInterval time.Duration `validate:"gt=0"`
}

type TemplatesConfig struct {
	Source   string `validate:"oneof=file s3"`
	Dir      string
	Manifest string `validate:"required"`
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

type GeminiConfig struct {
	APIKey      string
	Model       string        `validate:"required"`
	Timeout     time.Duration `validate:"gt=0"`
	MinInterval time.Duration `validate:"gte=0"`
}

type DatabaseConfig struct {
	DSN string
}

type WebhookConfig struct {
	SigningSecret string
	Timeout       time.Duration
	MaxAttempts   int
}

type TracingConfig struct {
	Exporter     string `validate:"oneof=none stdout otlp"`
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64 `validate:"gte=0,lte=1"`
}

var defaults = map[string]any{
	"APP_ENV":                    "development",
	"LOG_LEVEL":                  "",
	"HTTP_ADDR":                  ":3001",
	"MAX_UPLOAD_MB":              8,
	"RATE_LIMIT_PER_MINUTE":      10,
	"RATE_LIMIT_USER_HEADER":     "X-User-ID",
	"RATE_LIMIT_BACKEND":         "redis",
	"REDIS_ADDR":                 "localhost:6379",
	"REDIS_PASSWORD":             "",
	"REDIS_DB":                   0,
	"QUEUE_NAME":                 "gen",
	"QUEUE_ATTEMPTS":             3,
	"QUEUE_BACKOFF_MS":           2000,
	"QUEUE_TASK_TIMEOUT_SECONDS": 180,
	"QUEUE_RETENTION_SECONDS":    3600,
	"QUEUE_KEEP_COMPLETED":       10,
	"QUEUE_KEEP_FAILED":          5,
	"QUEUE_TRIM_INTERVAL_MS":     60000,
	"WORKER_CONCURRENCY":         1,
	"OUTPUT_FORMAT":              "webp",
	"RESULT_TTL":                 300,
	"METADATA_TTL":               3600,
	"CACHE_SWEEP_INTERVAL_MS":    60000,
	"TEMPLATE_SOURCE":            "file",
	"TEMPLATES_DIR":              "./public",
	"TEMPLATES_MANIFEST":         "templates/templates.json",
	"MINIO_ENDPOINT":             "localhost:9000",
	"MINIO_ACCESS_KEY":           "minioadmin",
	"MINIO_SECRET_KEY":           "minioadmin",
	"MINIO_BUCKET":               "stylegen-templates",
	"MINIO_PREFIX":               "",
	"MINIO_USE_SSL":              false,
	"GEMINI_API_KEY":             "",
	"GEMINI_MODEL":               "gemini-2.5-flash-image",
	"GEMINI_TIMEOUT_SECONDS":     120,
	"GEMINI_MIN_INTERVAL_MS":     0,
	"DATABASE_URL":               "",
	"WEBHOOK_SIGNING_SECRET":     "",
	"WEBHOOK_TIMEOUT_SECONDS":    10,
	"WEBHOOK_MAX_ATTEMPTS":       3,
	"TRACE_EXPORTER":             "none",
	"OTLP_ENDPOINT":              "",
	"OTLP_INSECURE":              true,
	"TRACE_SAMPLE_RATIO":         1.0,
}

var validate = validator.New()

// Load reads configuration from the environment. A .env file in the working
// directory is honoured when present; real environment variables win.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()
	return v
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		App: AppConfig{
			Env:      strings.ToLower(v.GetString("APP_ENV")),
			LogLevel: v.GetString("LOG_LEVEL"),
		},
		API: APIConfig{
			Addr:               v.GetString("HTTP_ADDR"),
			MaxUploadBytes:     v.GetInt64("MAX_UPLOAD_MB") << 20,
			RateLimitPerMinute: v.GetInt("RATE_LIMIT_PER_MINUTE"),
			RateLimitHeader:    v.GetString("RATE_LIMIT_USER_HEADER"),
			RateLimitBackend:   strings.ToLower(v.GetString("RATE_LIMIT_BACKEND")),
		},
		Queue: QueueConfig{
			RedisAddr:     v.GetString("REDIS_ADDR"),
			RedisPassword: v.GetString("REDIS_PASSWORD"),
			RedisDB:       v.GetInt("REDIS_DB"),
			Name:          v.GetString("QUEUE_NAME"),
			Attempts:      v.GetInt("QUEUE_ATTEMPTS"),
			BackoffBase:   millis(v, "QUEUE_BACKOFF_MS"),
			TaskTimeout:   seconds(v, "QUEUE_TASK_TIMEOUT_SECONDS"),
			Retention:     seconds(v, "QUEUE_RETENTION_SECONDS"),
			KeepCompleted: v.GetInt("QUEUE_KEEP_COMPLETED"),
			KeepFailed:    v.GetInt("QUEUE_KEEP_FAILED"),
			TrimInterval:  millis(v, "QUEUE_TRIM_INTERVAL_MS"),
		},
		Worker: WorkerConfig{
			Concurrency:  v.GetInt("WORKER_CONCURRENCY"),
			OutputFormat: strings.ToLower(v.GetString("OUTPUT_FORMAT")),
		},
		Cache: CacheConfig{
			ResultTTL:     seconds(v, "RESULT_TTL"),
			MetadataTTL:   seconds(v, "METADATA_TTL"),
			SweepInterval: millis(v, "CACHE_SWEEP_INTERVAL_MS"),
		},
		Templates: TemplatesConfig{
			Source:   strings.ToLower(v.GetString("TEMPLATE_SOURCE")),
			Dir:      v.GetString("TEMPLATES_DIR"),
			Manifest: v.GetString("TEMPLATES_MANIFEST"),
		},
		Storage: StorageConfig{
			Endpoint:  v.GetString("MINIO_ENDPOINT"),
			AccessKey: v.GetString("MINIO_ACCESS_KEY"),
			SecretKey: v.GetString("MINIO_SECRET_KEY"),
			Bucket:    v.GetString("MINIO_BUCKET"),
			Prefix:    v.GetString("MINIO_PREFIX"),
			UseSSL:    v.GetBool("MINIO_USE_SSL"),
		},
		Gemini: GeminiConfig{
			APIKey:      v.GetString("GEMINI_API_KEY"),
			Model:       v.GetString("GEMINI_MODEL"),
			Timeout:     seconds(v, "GEMINI_TIMEOUT_SECONDS"),
			MinInterval: millis(v, "GEMINI_MIN_INTERVAL_MS"),
		},
		Database: DatabaseConfig{
			DSN: v.GetString("DATABASE_URL"),
		},
		Webhook: WebhookConfig{
			SigningSecret: v.GetString("WEBHOOK_SIGNING_SECRET"),
			Timeout:       seconds(v, "WEBHOOK_TIMEOUT_SECONDS"),
			MaxAttempts:   v.GetInt("WEBHOOK_MAX_ATTEMPTS"),
		},
		Tracing: TracingConfig{
			Exporter:     strings.ToLower(v.GetString("TRACE_EXPORTER")),
			OTLPEndpoint: v.GetString("OTLP_ENDPOINT"),
			OTLPInsecure: v.GetBool("OTLP_INSECURE"),
			SampleRatio:  v.GetFloat64("TRACE_SAMPLE_RATIO"),
		},
	}

	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Templates.Source == "s3" && strings.TrimSpace(cfg.Storage.Bucket) == "" {
		return Config{}, fmt.Errorf("invalid configuration: MINIO_BUCKET is required when TEMPLATE_SOURCE=s3")
	}
	return cfg, nil
}

func seconds(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetInt64(key)) * time.Second
}

func millis(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetInt64(key)) * time.Millisecond
}
