package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Database
	PostgresDSN   string
	RunMigrations bool

	// Cache
	RedisAddr string

	// Providers
	OpenAIAPIKey    string
	GeminiAPIKey    string
	AnthropicAPIKey string
	OCRSpaceAPIKey  string
	ProviderTimeout time.Duration // default: 30s

	// Routing file with tier, pricing and chain overrides. Optional.
	RoutingFile string

	// Storage
	StorageBackend     string // "local" or "s3"
	StorageLocalPath   string
	S3Endpoint         string
	S3Region           string
	S3Bucket           string
	S3AccessKeyID      string
	S3SecretAccessKey  string
	FingerprintBackend string // "postgres" or "redis"

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"
	LogJSON              bool
	LogDebug             bool

	// Rate Limiting
	DefaultRateLimitTPM int64 // tokens per minute, default: 100000

	RunSeed bool
}

// Load reads the environment, after a .env file if one is present. It does
// not check required settings; see Validate.
func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		GeminiAPIKey:         os.Getenv("GEMINI_API_KEY"),
		AnthropicAPIKey:      os.Getenv("ANTHROPIC_API_KEY"),
		OCRSpaceAPIKey:       os.Getenv("OCRSPACE_API_KEY"),
		RoutingFile:          os.Getenv("ROUTING_FILE"),
		StorageBackend:       getEnv("STORAGE_BACKEND", "local"),
		StorageLocalPath:     getEnv("STORAGE_LOCAL_PATH", "./data/blobs"),
		S3Endpoint:           os.Getenv("S3_ENDPOINT"),
		S3Region:             os.Getenv("S3_REGION"),
		S3Bucket:             os.Getenv("S3_BUCKET"),
		S3AccessKeyID:        os.Getenv("S3_ACCESS_KEY_ID"),
		S3SecretAccessKey:    os.Getenv("S3_SECRET_ACCESS_KEY"),
		FingerprintBackend:   getEnv("FINGERPRINT_BACKEND", "postgres"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
	}

	// Rate Limiting Default
	tpmStr := getEnv("DEFAULT_RATE_LIMIT_TPM", "100000")
	tpm, err := strconv.ParseInt(tpmStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_RATE_LIMIT_TPM: %w", err)
	}
	cfg.DefaultRateLimitTPM = tpm

	timeout, err := time.ParseDuration(getEnv("PROVIDER_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid PROVIDER_TIMEOUT: %w", err)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("invalid PROVIDER_TIMEOUT: must be positive")
	}
	cfg.ProviderTimeout = timeout

	flags := []struct {
		key string
		dst *bool
	}{
		{"LOG_JSON", &cfg.LogJSON},
		{"LOG_DEBUG", &cfg.LogDebug},
		{"RUN_SEED", &cfg.RunSeed},
		{"RUN_MIGRATIONS", &cfg.RunMigrations},
	}
	for _, f := range flags {
		if *f.dst, err = getBool(f.key); err != nil {
			return nil, err
		}
	}

	switch cfg.StorageBackend {
	case "local", "s3":
	default:
		return nil, fmt.Errorf("invalid STORAGE_BACKEND %q (use local or s3)", cfg.StorageBackend)
	}
	switch cfg.FingerprintBackend {
	case "postgres", "redis":
	default:
		return nil, fmt.Errorf("invalid FINGERPRINT_BACKEND %q (use postgres or redis)", cfg.FingerprintBackend)
	}

	return cfg, nil
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	if c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required")
	}
	if c.StorageBackend == "s3" && c.S3Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required when STORAGE_BACKEND=s3")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getBool(key string) (bool, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
