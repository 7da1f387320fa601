package config

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/multierr"

	"github.com/satriahrh/emotiscan/domain/entities"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"PORT", "ENVIRONMENT", "LOG_LEVEL", "CORS_ORIGINS", "EMOTION_API_URL", "EMOTION_MODELS", "DEFAULT_MODEL",
		"CAPTURE_INTERVAL", "PREDICT_TIMEOUT", "HEALTH_TIMEOUT", "HEALTH_RECHECK_INTERVAL", "CAPTURE_SOURCE",
		"CAPTURE_PATH", "CLASSIFIER_BACKEND", "GEMINI_API_KEY", "GEMINI_MODEL", "AUTH_SECRET", "AUTH_API_KEY",
		"AUTH_TOKEN_TTL", "MAX_UPLOAD_MB",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected port 8080, got %s", cfg.Port)
	}
	if cfg.CaptureInterval != time.Second {
		t.Errorf("Expected 1s capture interval, got %s", cfg.CaptureInterval)
	}
	if cfg.PredictTimeout != 10*time.Second {
		t.Errorf("Expected 10s predict timeout, got %s", cfg.PredictTimeout)
	}
	if len(cfg.EmotionModels) != len(entities.DefaultModels) {
		t.Errorf("Expected %d default models, got %d", len(entities.DefaultModels), len(cfg.EmotionModels))
	}
	if cfg.DefaultModel != entities.DefaultModelID {
		t.Errorf("Expected default model %s, got %s", entities.DefaultModelID, cfg.DefaultModel)
	}
	if cfg.MaxUploadBytes() != 10<<20 {
		t.Errorf("Expected 10MB upload limit, got %d", cfg.MaxUploadBytes())
	}
	if cfg.AuthEnabled() {
		t.Error("Expected auth disabled without AUTH_SECRET")
	}
	if cfg.CaptureSource != CaptureSynthetic || cfg.ClassifierBackend != BackendHTTP {
		t.Errorf("Unexpected defaults %s/%s", cfg.CaptureSource, cfg.ClassifierBackend)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("EMOTION_MODELS", "ResNet50_RAF-DB, VGG19_CK+48")
	t.Setenv("DEFAULT_MODEL", "VGG19_CK+48")
	t.Setenv("CAPTURE_INTERVAL", "500ms")
	t.Setenv("CAPTURE_SOURCE", "folder")
	t.Setenv("CAPTURE_PATH", "/var/snapshots")
	t.Setenv("CORS_ORIGINS", "http://localhost:5173,http://localhost:3000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	catalog, err := cfg.Catalog()
	if err != nil {
		t.Fatalf("Catalog failed: %v", err)
	}
	if catalog.Default() != "VGG19_CK+48" || len(catalog.Models()) != 2 {
		t.Errorf("Unexpected catalog %v default %s", catalog.Models(), catalog.Default())
	}
	if cfg.CaptureInterval != 500*time.Millisecond {
		t.Errorf("Expected 500ms, got %s", cfg.CaptureInterval)
	}
	if len(cfg.CORSOrigins) != 2 {
		t.Errorf("Expected 2 CORS origins, got %v", cfg.CORSOrigins)
	}
}

func TestLoadReportsEveryProblem(t *testing.T) {
	clearEnv(t)
	t.Setenv("CAPTURE_INTERVAL", "often")
	t.Setenv("MAX_UPLOAD_MB", "ten")
	t.Setenv("EMOTION_API_URL", "localhost:8000")
	t.Setenv("CLASSIFIER_BACKEND", "gemini")
	t.Setenv("DEFAULT_MODEL", "VGG16_FER2013")

	_, err := Load()
	if err == nil {
		t.Fatal("Expected error")
	}

	errs := multierr.Errors(err)
	if len(errs) != 5 {
		t.Errorf("Expected 5 problems, got %d: %v", len(errs), err)
	}
	for _, want := range []string{"CAPTURE_INTERVAL", "MAX_UPLOAD_MB", "EMOTION_API_URL", "GEMINI_API_KEY", "DEFAULT_MODEL"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Expected error to mention %s, got %v", want, err)
		}
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:              "8080",
			LogLevel:          "info",
			EmotionAPIURL:     "http://localhost:8000",
			EmotionModels:     entities.DefaultModels,
			DefaultModel:      entities.DefaultModelID,
			CaptureInterval:   time.Second,
			PredictTimeout:    time.Second,
			HealthTimeout:     time.Second,
			CaptureSource:     CaptureSynthetic,
			ClassifierBackend: BackendMock,
			AuthTokenTTL:      time.Hour,
			MaxUploadMB:       10,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.Port = "http" }, wantErr: true},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: true},
		{name: "zero interval", mutate: func(c *Config) { c.CaptureInterval = 0 }, wantErr: true},
		{name: "file without path", mutate: func(c *Config) { c.CaptureSource = CaptureFile }, wantErr: true},
		{name: "unknown source", mutate: func(c *Config) { c.CaptureSource = "webcam" }, wantErr: true},
		{name: "unknown backend", mutate: func(c *Config) { c.ClassifierBackend = "onnx" }, wantErr: true},
		{name: "secret without api key", mutate: func(c *Config) { c.AuthSecret = "s3cret" }, wantErr: true},
		{name: "duplicate models", mutate: func(c *Config) {
			c.EmotionModels = []entities.ModelID{"A_FER2013", "A_FER2013"}
			c.DefaultModel = "A_FER2013"
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	for _, env := range []string{"development", "production"} {
		logger, err := NewLogger(&Config{Environment: env, LogLevel: "debug"})
		if err != nil {
			t.Fatalf("NewLogger(%s) failed: %v", env, err)
		}
		logger.Sync()
	}

	if _, err := NewLogger(&Config{LogLevel: "loud"}); err == nil {
		t.Error("Expected error for invalid level")
	}
}

func TestLoadOptionsRunBeforeValidation(t *testing.T) {
	clearEnv(t)
	t.Setenv("CLASSIFIER_BACKEND", "carrier-pigeon")

	cfg, err := Load(func(c *Config) {
		c.ClassifierBackend = BackendMock
		c.Port = "9090"
	})
	if err != nil {
		t.Fatalf("Expected option to repair the backend, got %v", err)
	}
	if cfg.ClassifierBackend != BackendMock || cfg.Port != "9090" {
		t.Errorf("Expected options applied, got %s/%s", cfg.ClassifierBackend, cfg.Port)
	}

	_, err = Load(func(c *Config) { c.CaptureSource = CaptureFile })
	if err == nil || !strings.Contains(err.Error(), "CAPTURE_PATH") {
		t.Errorf("Expected option result to be validated, got %v", err)
	}
}
