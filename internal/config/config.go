package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Host               string
	Port               string
	RequestTimeout     time.Duration
	ImageFetchTimeout  time.Duration
	MaxRequestBodySize int64

	// Inference backend environment, passed straight through to the backend
	AllowLocalModels bool
	UseModelCache    bool
	ModelDir         string
	ModelCacheDir    string
	ModelRemoteHost  string
	ORTLibraryPath   string
	InferenceThreads int

	// Tier to model identifier table
	LowQualityModel  string
	HighQualityModel string

	MaxSelectionSize float64

	StorageBackends []string
	LocalImageDir   string
	AzureAccount    string
	AzureKey        string

	SessionTTL time.Duration

	// Extra origins allowed to open event streams; same-origin is always allowed
	AllowedOrigins []string
}

func (c *Config) ServerAddress() string {
	// Trim any whitespace from host and port
	host := strings.TrimSpace(c.Host)
	port := strings.TrimSpace(c.Port)
	return net.JoinHostPort(host, port)
}

// LoadFromEnv reads a .env file when present and then builds the config from the process environment
func LoadFromEnv() (*Config, error) {
	// A missing .env is not an error
	_ = godotenv.Load()

	cfg := &Config{
		Host:               getEnvOrDefault("HOST", "0.0.0.0"),
		Port:               getEnvOrDefault("PORT", "8080"),
		RequestTimeout:     parseDurationOrDefault("REQUEST_TIMEOUT", 30*time.Second),
		ImageFetchTimeout:  parseDurationOrDefault("IMAGE_FETCH_TIMEOUT", 15*time.Second),
		MaxRequestBodySize: parseIntOrDefault("MAX_REQUEST_BODY_SIZE", 10*1024*1024), // 10MB

		AllowLocalModels: parseBoolOrDefault("ALLOW_LOCAL_MODELS", false),
		UseModelCache:    parseBoolOrDefault("USE_MODEL_CACHE", true),
		ModelDir:         getEnvOrDefault("MODEL_DIR", "./models"),
		ModelCacheDir:    getEnvOrDefault("MODEL_CACHE_DIR", "./.cache/models"),
		ModelRemoteHost:  getEnvOrDefault("MODEL_REMOTE_HOST", "https://huggingface.co"),
		ORTLibraryPath:   os.Getenv("ORT_LIBRARY_PATH"),
		InferenceThreads: int(parseIntOrDefault("INFERENCE_THREADS", 0)),

		LowQualityModel:  getEnvOrDefault("MODEL_LOW", "Xenova/swin2SR-lightweight-x2-64"),
		HighQualityModel: getEnvOrDefault("MODEL_HIGH", "Xenova/swin2SR-classical-sr-x4-64"),

		MaxSelectionSize: parseFloatOrDefault("MAX_SELECTION_SIZE", 200),

		StorageBackends: parseListOrDefault("STORAGE_BACKENDS", []string{"data", "http", "local"}),
		LocalImageDir:   getEnvOrDefault("LOCAL_IMAGE_DIR", "./images"),
		AzureAccount:    os.Getenv("AZURE_STORAGE_ACCOUNT"),
		AzureKey:        os.Getenv("AZURE_STORAGE_KEY"),

		SessionTTL: parseDurationOrDefault("SESSION_TTL", 30*time.Minute),

		AllowedOrigins: parseListOrDefault("ALLOWED_ORIGINS", nil),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants LoadFromEnv relies on
func (c *Config) Validate() error {
	// Validate port is numeric and in range
	p, err := strconv.Atoi(strings.TrimSpace(c.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Port)
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0 (got %d)", c.MaxRequestBodySize)
	}
	if c.RequestTimeout <= 0 || c.ImageFetchTimeout <= 0 || c.SessionTTL <= 0 {
		return fmt.Errorf("timeouts must be > 0 (got request=%s, fetch=%s, session_ttl=%s)",
			c.RequestTimeout, c.ImageFetchTimeout, c.SessionTTL)
	}
	if c.MaxSelectionSize <= 0 {
		return fmt.Errorf("MAX_SELECTION_SIZE must be > 0 (got %g)", c.MaxSelectionSize)
	}
	if strings.TrimSpace(c.LowQualityModel) == "" || strings.TrimSpace(c.HighQualityModel) == "" {
		return fmt.Errorf("MODEL_LOW and MODEL_HIGH must not be empty")
	}
	if c.AzureAccount != "" && c.AzureKey == "" {
		return fmt.Errorf("AZURE_STORAGE_KEY is required when AZURE_STORAGE_ACCOUNT is set")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && duration > 0 {
			return duration
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func parseFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
