package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr               string
	DatabaseURL        string
	RedisURL           string
	Env                string
	CORSAllowedOrigins []string
	APIMaxBodyBytes    int64
	ReadHeaderTimeout  time.Duration
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	RateLimitMaxIPs    int
	SubmitRatePerMin   int
	AuthRatePerMin     int
	MetricsEnabled     bool

	MigrationMaxFileBytes int64
	MigrationBatchSize    int

	BlobstoreDriver string
	BlobstoreDir    string
	S3Bucket        string
	S3Prefix        string
	AWSRegion       string
	S3Endpoint      string

	AddressValidation        string
	GoogleMapsAPIKey         string
	AddressValidationTimeout time.Duration
	AddressValidationRetries int
}

func Load() (Config, error) {
	return load(true)
}

// LoadLocal reads the same settings but does not require a database, for
// commands that run against the in-memory store.
func LoadLocal() (Config, error) {
	return load(false)
}

func load(requireDatabase bool) (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Addr:        getEnv("API_ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		Env:         getEnv("APP_ENV", "dev"),
		CORSAllowedOrigins: getEnvCSV("CORS_ALLOWED_ORIGINS", []string{
			"http://localhost:3000",
			"http://127.0.0.1:3000",
		}),
		APIMaxBodyBytes:   int64(getEnvInt("API_MAX_BODY_MB", 2)) * 1024 * 1024,
		ReadHeaderTimeout: time.Duration(getEnvInt("API_READ_HEADER_TIMEOUT_SEC", 5)) * time.Second,
		ReadTimeout:       time.Duration(getEnvInt("API_READ_TIMEOUT_SEC", 60)) * time.Second,
		WriteTimeout:      time.Duration(getEnvInt("API_WRITE_TIMEOUT_SEC", 60)) * time.Second,
		IdleTimeout:       time.Duration(getEnvInt("API_IDLE_TIMEOUT_SEC", 60)) * time.Second,
		RateLimitMaxIPs:   getEnvInt("RATE_LIMIT_MAX_IPS", 10000),
		SubmitRatePerMin:  getEnvInt("SUBMIT_RATE_LIMIT_PER_MIN", 30),
		AuthRatePerMin:    getEnvInt("AUTH_RATE_LIMIT_PER_MIN", 300),
		MetricsEnabled:    getEnvBool("METRICS_ENABLED", true),

		MigrationMaxFileBytes: int64(getEnvInt("MIGRATION_MAX_FILE_MB", 50)) * 1024 * 1024,
		MigrationBatchSize:    getEnvInt("MIGRATION_BATCH_SIZE", 500),

		BlobstoreDriver: strings.ToLower(getEnv("BLOBSTORE_DRIVER", "local")),
		BlobstoreDir:    getEnv("BLOBSTORE_DIR", "./data/uploads"),
		S3Bucket:        os.Getenv("S3_BUCKET"),
		S3Prefix:        getEnv("S3_PREFIX", "migrations"),
		AWSRegion:       getEnv("AWS_REGION", "us-east-1"),
		S3Endpoint:      os.Getenv("S3_ENDPOINT"),

		AddressValidation:        strings.ToLower(getEnv("ADDRESS_VALIDATION", "off")),
		GoogleMapsAPIKey:         os.Getenv("GOOGLE_MAPS_API_KEY"),
		AddressValidationTimeout: time.Duration(getEnvInt("ADDRESS_VALIDATION_TIMEOUT_MS", 3000)) * time.Millisecond,
		AddressValidationRetries: getEnvInt("ADDRESS_VALIDATION_RETRIES", 2),
	}

	if requireDatabase && cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.BlobstoreDriver {
	case "local":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when BLOBSTORE_DRIVER=s3")
		}
	default:
		return fmt.Errorf("BLOBSTORE_DRIVER must be local or s3, got %q", c.BlobstoreDriver)
	}
	switch c.AddressValidation {
	case "off", "mock":
	case "google":
		if c.GoogleMapsAPIKey == "" {
			return fmt.Errorf("GOOGLE_MAPS_API_KEY is required when ADDRESS_VALIDATION=google")
		}
	default:
		return fmt.Errorf("ADDRESS_VALIDATION must be off, mock or google, got %q", c.AddressValidation)
	}
	if c.MigrationBatchSize <= 0 {
		return fmt.Errorf("MIGRATION_BATCH_SIZE must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvCSV(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}

	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		result = append(result, trimmed)
	}
	if len(result) == 0 {
		return fallback
	}
	return result
}
