package repositories

import (
	"context"

	"github.com/satriahrh/emotiscan/domain/entities"
)

// EmotionClassifier abstracts the remote emotion classification service
type EmotionClassifier interface {
	HealthChecker

	// Predict submits one frame and returns the raw label confidences.
	// Failures are *entities.DetectionError of kind Transport, BadStatus or MalformedPayload.
	Predict(ctx context.Context, frame entities.CaptureFrame, model entities.ModelID) (entities.RawPrediction, error)
}

// HealthChecker probes whether the service can take predictions
type HealthChecker interface {
	Health(ctx context.Context) error
}

// ModelLister is implemented by classifiers that can describe their models
type ModelLister interface {
	Models(ctx context.Context) ([]ModelInfo, error)
}

// ModelInfo describes one model offered by a classifier
type ModelInfo struct {
	ID       entities.ModelID `json:"id"`
	Emotions []string         `json:"emotions"`
	Loaded   bool             `json:"loaded"`
}
