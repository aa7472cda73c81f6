package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"

	"trial-estimator/internal/shared/telemetry"
)

// Config holds application configuration.
type Config struct {
	Port            string
	Env             string
	CORSAllowOrigin []string

	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string

	DatabaseURL string

	LLMProvider     string
	LLMModel        string
	OpenAIAPIKey    string
	AnthropicAPIKey string

	ExtractionTimeout time.Duration
	ScreenFailureRate float64
	DropoutRate       float64
	AssumedEnrollment int

	TemplatePath          string
	WorkOrderTemplatePath string

	SQSQueueURL       string
	WorkerConcurrency int

	LogLevel  string
	LogFormat string
}

// envFiles are read, when present, before the process environment is consulted.
var envFiles = []string{".env", "cmd/.env"}

// Load reads configuration from the environment and optional .env files.
func Load() Config {
	return load(viper.New(), envFiles...)
}

func load(v *viper.Viper, files ...string) Config {
	setDefaults(v)
	for _, path := range files {
		readEnvFile(v, path)
	}
	v.AutomaticEnv()

	env := normalizeEnv(v.GetString("env"))
	cfg := Config{
		Port:            v.GetString("port"),
		Env:             env,
		CORSAllowOrigin: splitAndTrim(v.GetString("cors_allow_origins")),

		ObjectStoreType: normalizeStoreType(v.GetString("object_store")),
		LocalStoreDir:   v.GetString("local_store_dir"),
		AWSRegion:       v.GetString("aws_region"),
		S3Bucket:        v.GetString("s3_bucket"),
		S3Prefix:        v.GetString("s3_prefix"),
		SSEKMSKeyID:     v.GetString("sse_kms_key_id"),

		DatabaseURL: strings.TrimSpace(v.GetString("database_url")),

		LLMProvider:     normalizeProvider(v.GetString("llm_provider")),
		LLMModel:        v.GetString("llm_model"),
		OpenAIAPIKey:    v.GetString("openai_api_key"),
		AnthropicAPIKey: v.GetString("anthropic_api_key"),

		ExtractionTimeout: v.GetDuration("extraction_timeout"),
		ScreenFailureRate: v.GetFloat64("screen_failure_rate"),
		DropoutRate:       v.GetFloat64("dropout_rate"),
		AssumedEnrollment: v.GetInt("assumed_enrollment"),

		TemplatePath:          v.GetString("template_path"),
		WorkOrderTemplatePath: v.GetString("work_order_template_path"),

		SQSQueueURL:       strings.TrimSpace(v.GetString("sqs_queue_url")),
		WorkerConcurrency: v.GetInt("worker_concurrency"),

		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_format"),
	}

	if env == "production" && cfg.DatabaseURL == "" {
		telemetry.Warn("config.database_url_missing", map[string]any{"env": env})
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("env", "dev")
	v.SetDefault("cors_allow_origins", "http://localhost:5173")
	v.SetDefault("object_store", "local")
	v.SetDefault("local_store_dir", "./data")
	v.SetDefault("llm_provider", "anthropic")
	v.SetDefault("extraction_timeout", "10m")
	v.SetDefault("screen_failure_rate", 0.2)
	v.SetDefault("dropout_rate", 0.15)
	v.SetDefault("assumed_enrollment", 100)
	v.SetDefault("template_path", "templates/budget_template.xlsx")
	v.SetDefault("work_order_template_path", "templates/work_order_template.docx")
	v.SetDefault("worker_concurrency", 4)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
}

// readEnvFile merges KEY=VALUE pairs from path. A missing file is not an error.
func readEnvFile(v *viper.Viper, path string) {
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.MergeInConfig(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return
		}
		telemetry.Warn("config.env_file_invalid", map[string]any{"path": path, "error": err})
	}
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}

func normalizeProvider(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "openai":
		return "openai"
	case "placeholder", "none":
		return "placeholder"
	default:
		return "anthropic"
	}
}
