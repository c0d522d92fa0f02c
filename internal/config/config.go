package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	LogLevel    string
	Transform   TransformConfig
	Normalize   NormalizeConfig
	Detector    DetectorConfig
	Capture     CaptureConfig
	Catalog     CatalogConfig
	Storage     StorageConfig
	Gallery     GalleryConfig
	Share       ShareConfig
	RateLimit   RateLimitConfig
	Database    DatabaseConfig
	Telemetry   TelemetryConfig
	Permissions PermissionConfig
}

type TransformConfig struct {
	APIKey           string
	Endpoint         string
	Simulate         bool
	Timeout          time.Duration
	SimulatedLatency time.Duration
	ResultDir        string
}

// Configured reports whether both service settings are present. The transform
// feature is disabled when either is missing.
func (t TransformConfig) Configured() bool {
	return strings.TrimSpace(t.APIKey) != "" && strings.TrimSpace(t.Endpoint) != ""
}

type NormalizeConfig struct {
	MaxDimension int
	Quality      float64
	OutputDir    string
}

type DetectorConfig struct {
	Command string
}

type CaptureConfig struct {
	Command   string
	OutputDir string
}

type CatalogConfig struct {
	File   string
	Object string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

const (
	GalleryBackendLocal  = "local"
	GalleryBackendObject = "object"
)

type GalleryConfig struct {
	Backend string
	Dir     string
	Prefix  string
}

type ShareConfig struct {
	WebhookURL    string
	SigningSecret string
	Timeout       time.Duration
}

type RateLimitConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Limit         int
	Window        time.Duration
}

func (r RateLimitConfig) Enabled() bool {
	return strings.TrimSpace(r.RedisAddr) != "" && r.Limit > 0
}

type DatabaseConfig struct {
	DSN string
}

type TelemetryConfig struct {
	ServiceName  string
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	MetricsFile  string
}

type PermissionConfig struct {
	// Denied lists capabilities as "camera" or "camera:permanent".
	Denied []string
}

// Load reads an optional .env file and then the process environment.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		LogLevel: env("LOG_LEVEL", "info"),
		Transform: TransformConfig{
			APIKey:           env("AI_TRANSFORM_API_KEY", ""),
			Endpoint:         env("AI_TRANSFORM_API_ENDPOINT", ""),
			Simulate:         envBool("TRANSFORM_SIMULATE", true),
			Timeout:          envDuration("TRANSFORM_TIMEOUT", 60*time.Second),
			SimulatedLatency: envDuration("TRANSFORM_SIMULATED_LATENCY", 2*time.Second),
			ResultDir:        env("TRANSFORM_RESULT_DIR", "./.facefilter/results"),
		},
		Normalize: NormalizeConfig{
			MaxDimension: envInt("NORMALIZE_MAX_DIMENSION", 1080),
			Quality:      envFloat("NORMALIZE_QUALITY", 0.7),
			OutputDir:    env("NORMALIZE_OUTPUT_DIR", "./.facefilter/normalized"),
		},
		Detector: DetectorConfig{
			Command: env("FACE_DETECTOR_CMD", ""),
		},
		Capture: CaptureConfig{
			Command:   env("CAPTURE_CMD", ""),
			OutputDir: env("CAPTURE_DIR", "./.facefilter/captures"),
		},
		Catalog: CatalogConfig{
			File:   env("FILTER_CATALOG_FILE", ""),
			Object: env("FILTER_CATALOG_OBJECT", ""),
		},
		Storage: StorageConfig{
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "facefilter"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		Gallery: GalleryConfig{
			Backend: strings.ToLower(env("GALLERY_BACKEND", GalleryBackendLocal)),
			Dir:     env("GALLERY_DIR", "./.facefilter/gallery"),
			Prefix:  env("GALLERY_PREFIX", "gallery"),
		},
		Share: ShareConfig{
			WebhookURL:    env("SHARE_WEBHOOK_URL", ""),
			SigningSecret: env("SHARE_SIGNING_SECRET", ""),
			Timeout:       envDuration("SHARE_TIMEOUT", 10*time.Second),
		},
		RateLimit: RateLimitConfig{
			RedisAddr:     env("REDIS_ADDR", ""),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Limit:         envInt("TRANSFORM_RATE_LIMIT", 10),
			Window:        envDuration("TRANSFORM_RATE_WINDOW", time.Minute),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Telemetry: TelemetryConfig{
			ServiceName:  env("OTEL_SERVICE_NAME", "facefilter"),
			Exporter:     env("OTEL_TRACES_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
			MetricsFile:  env("METRICS_TEXTFILE", ""),
		},
		Permissions: PermissionConfig{
			Denied: envList("PERMISSIONS_DENIED"),
		},
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.Normalize.MaxDimension <= 0 {
		errs = append(errs, fmt.Errorf("NORMALIZE_MAX_DIMENSION must be > 0 (got %d)", c.Normalize.MaxDimension))
	}
	if c.Normalize.Quality <= 0 || c.Normalize.Quality > 1 {
		errs = append(errs, fmt.Errorf("NORMALIZE_QUALITY must be in (0,1] (got %g)", c.Normalize.Quality))
	}
	if c.Transform.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("TRANSFORM_TIMEOUT must be > 0 (got %s)", c.Transform.Timeout))
	}
	if c.Transform.SimulatedLatency < 0 {
		errs = append(errs, fmt.Errorf("TRANSFORM_SIMULATED_LATENCY must be >= 0 (got %s)", c.Transform.SimulatedLatency))
	}
	switch c.Gallery.Backend {
	case GalleryBackendLocal, GalleryBackendObject:
	default:
		errs = append(errs, fmt.Errorf("unsupported GALLERY_BACKEND: %s", c.Gallery.Backend))
	}
	if c.RateLimit.Enabled() && c.RateLimit.Window <= 0 {
		errs = append(errs, fmt.Errorf("TRANSFORM_RATE_WINDOW must be > 0 (got %s)", c.RateLimit.Window))
	}
	return errors.Join(errs...)
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
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

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
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

func envList(key string) []string {
	value := env(key, "")
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
