// Package config loads the server configuration from the environment and an optional .env file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/satriahrh/emotiscan/domain/entities"
)

const (
	CaptureSynthetic = "synthetic"
	CaptureFile      = "file"
	CaptureFolder    = "folder"

	BackendHTTP   = "http"
	BackendGemini = "gemini"
	BackendMock   = "mock"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    string
	CORSOrigins []string

	EmotionAPIURL string
	EmotionModels []entities.ModelID
	DefaultModel  entities.ModelID

	CaptureInterval       time.Duration
	PredictTimeout        time.Duration
	HealthTimeout         time.Duration
	HealthRecheckInterval time.Duration

	CaptureSource string
	CapturePath   string

	ClassifierBackend string
	GeminiAPIKey      string
	GeminiModel       string

	AuthSecret   string
	AuthAPIKey   string
	AuthTokenTTL time.Duration

	MaxUploadMB int
}

func (c *Config) IsDev() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// AuthEnabled reports whether mutating routes and the websocket require a token
func (c *Config) AuthEnabled() bool {
	return c.AuthSecret != ""
}

// MaxUploadBytes is the upload size limit in bytes
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// Catalog builds the model catalog from the configured models
func (c *Config) Catalog() (*entities.ModelCatalog, error) {
	return entities.NewModelCatalog(c.EmotionModels, c.DefaultModel)
}

// Option adjusts a loaded configuration before it is validated
type Option func(*Config)

// Load reads the configuration. A missing .env file is not an error; malformed values are,
// and every problem is reported together.
func Load(opts ...Option) (*Config, error) {
	_ = godotenv.Load()

	var errs error
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "production"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "*")),

		EmotionAPIURL: getEnv("EMOTION_API_URL", "http://localhost:8000"),
		EmotionModels: lo.Map(splitList(getEnv("EMOTION_MODELS", "")), func(s string, _ int) entities.ModelID {
			return entities.ModelID(s)
		}),
		DefaultModel: entities.ModelID(getEnv("DEFAULT_MODEL", string(entities.DefaultModelID))),

		CaptureSource: getEnv("CAPTURE_SOURCE", CaptureSynthetic),
		CapturePath:   getEnv("CAPTURE_PATH", ""),

		ClassifierBackend: getEnv("CLASSIFIER_BACKEND", BackendHTTP),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-2.0-flash"),

		AuthSecret: getEnv("AUTH_SECRET", ""),
		AuthAPIKey: getEnv("AUTH_API_KEY", ""),
	}
	if len(cfg.EmotionModels) == 0 {
		cfg.EmotionModels = append([]entities.ModelID(nil), entities.DefaultModels...)
	}

	cfg.CaptureInterval = getEnvDuration("CAPTURE_INTERVAL", time.Second, &errs)
	cfg.PredictTimeout = getEnvDuration("PREDICT_TIMEOUT", 10*time.Second, &errs)
	cfg.HealthTimeout = getEnvDuration("HEALTH_TIMEOUT", 5*time.Second, &errs)
	cfg.HealthRecheckInterval = getEnvDuration("HEALTH_RECHECK_INTERVAL", 10*time.Second, &errs)
	cfg.AuthTokenTTL = getEnvDuration("AUTH_TOKEN_TTL", 24*time.Hour, &errs)
	cfg.MaxUploadMB = getEnvInt("MAX_UPLOAD_MB", 10, &errs)

	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.Validate(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if errs != nil {
		return nil, errs
	}
	return cfg, nil
}

// Validate checks every field and returns all violations combined
func (c *Config) Validate() error {
	var errs error

	if _, err := strconv.Atoi(c.Port); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("PORT must be numeric, got %q", c.Port))
	}
	if _, err := zap.ParseAtomicLevel(c.LogLevel); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}

	if u, err := url.Parse(c.EmotionAPIURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = multierr.Append(errs, fmt.Errorf("EMOTION_API_URL must be an http(s) URL, got %q", c.EmotionAPIURL))
	}
	if _, err := c.Catalog(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("EMOTION_MODELS/DEFAULT_MODEL: %w", err))
	}

	for name, d := range map[string]time.Duration{
		"CAPTURE_INTERVAL": c.CaptureInterval,
		"PREDICT_TIMEOUT":  c.PredictTimeout,
		"HEALTH_TIMEOUT":   c.HealthTimeout,
	} {
		if d <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.HealthRecheckInterval < 0 {
		errs = multierr.Append(errs, fmt.Errorf("HEALTH_RECHECK_INTERVAL must not be negative, got %s", c.HealthRecheckInterval))
	}

	switch c.CaptureSource {
	case CaptureSynthetic:
	case CaptureFile, CaptureFolder:
		if c.CapturePath == "" {
			errs = multierr.Append(errs, fmt.Errorf("CAPTURE_PATH is required for %s capture", c.CaptureSource))
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("CAPTURE_SOURCE must be one of synthetic, file, folder, got %q", c.CaptureSource))
	}

	switch c.ClassifierBackend {
	case BackendHTTP, BackendMock:
	case BackendGemini:
		if c.GeminiAPIKey == "" {
			errs = multierr.Append(errs, fmt.Errorf("GEMINI_API_KEY is required for the gemini backend"))
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("CLASSIFIER_BACKEND must be one of http, gemini, mock, got %q", c.ClassifierBackend))
	}

	if c.AuthSecret != "" && c.AuthAPIKey == "" {
		errs = multierr.Append(errs, fmt.Errorf("AUTH_API_KEY is required when AUTH_SECRET is set"))
	}
	if c.AuthTokenTTL <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("AUTH_TOKEN_TTL must be positive, got %s", c.AuthTokenTTL))
	}
	if c.MaxUploadMB <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("MAX_UPLOAD_MB must be positive, got %d", c.MaxUploadMB))
	}

	return errs
}

// NewLogger builds the zap logger for the configured environment and level
func NewLogger(c *Config) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	if c.IsDev() {
		zapConfig = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to parse log level: %w", err)
	}
	zapConfig.Level = level

	return zapConfig.Build()
}

func getEnv(key string, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int, errs *error) int {
	v := getEnv(key, "")
	if v == "" {
		return defaultVal
	}
	intVal, err := strconv.Atoi(v)
	if err != nil {
		*errs = multierr.Append(*errs, fmt.Errorf("%s must be an integer, got %q", key, v))
		return defaultVal
	}
	return intVal
}

func getEnvDuration(key string, defaultVal time.Duration, errs *error) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = multierr.Append(*errs, fmt.Errorf("%s must be a duration like 1s or 500ms, got %q", key, v))
		return defaultVal
	}
	return d
}

func splitList(v string) []string {
	return lo.Filter(lo.Map(strings.Split(v, ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	}), func(s string, _ int) bool {
		return s != ""
	})
}
