package main

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/satriahrh/emotiscan/adapters/capture"
	"github.com/satriahrh/emotiscan/adapters/classifier"
	"github.com/satriahrh/emotiscan/domain/repositories"
	"github.com/satriahrh/emotiscan/internal/config"
)

const mockLatency = 150 * time.Millisecond

// newClassifier builds the configured classifier backend
func newClassifier(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repositories.EmotionClassifier, error) {
	switch cfg.ClassifierBackend {
	case config.BackendHTTP:
		return classifier.NewHTTPClassifier(classifier.HTTPConfig{
			BaseURL: cfg.EmotionAPIURL,
			Timeout: cfg.PredictTimeout,
		}, logger)
	case config.BackendGemini:
		return classifier.NewGeminiClassifier(ctx, classifier.GeminiConfig{
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.GeminiModel,
		}, logger)
	case config.BackendMock:
		logger.Warn("Using mock classifier, predictions are synthetic")
		return classifier.NewMockClassifier(mockLatency), nil
	default:
		return nil, errors.Errorf("unknown classifier backend %q", cfg.ClassifierBackend)
	}
}

// newCaptureSource builds the configured capture source
func newCaptureSource(cfg *config.Config, logger *zap.Logger) (repositories.CaptureSource, error) {
	switch cfg.CaptureSource {
	case config.CaptureSynthetic:
		return capture.NewSyntheticSource(), nil
	case config.CaptureFile:
		return capture.NewFileSource(cfg.CapturePath, logger), nil
	case config.CaptureFolder:
		return capture.NewFolderSource(cfg.CapturePath, logger)
	default:
		return nil, errors.Errorf("unknown capture source %q", cfg.CaptureSource)
	}
}
