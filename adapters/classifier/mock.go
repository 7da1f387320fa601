package classifier

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/samber/lo"

	"github.com/satriahrh/emotiscan/domain/entities"
	"github.com/satriahrh/emotiscan/domain/repositories"
	"github.com/satriahrh/emotiscan/internal/taxonomy"
)

// MockClassifier is an offline stand-in for the emotion service.
// The same frame bytes always produce the same scores.
type MockClassifier struct {
	latency time.Duration
}

var (
	_ repositories.EmotionClassifier = (*MockClassifier)(nil)
	_ repositories.ModelLister       = (*MockClassifier)(nil)
)

// NewMockClassifier creates a mock classifier that answers after latency
func NewMockClassifier(latency time.Duration) *MockClassifier {
	return &MockClassifier{latency: latency}
}

// Predict implements repositories.EmotionClassifier
func (m *MockClassifier) Predict(ctx context.Context, frame entities.CaptureFrame, model entities.ModelID) (entities.RawPrediction, error) {
	if m.latency > 0 {
		select {
		case <-time.After(m.latency):
		case <-ctx.Done():
			return nil, entities.NewDetectionError(entities.ErrorKindTransport, "prediction cancelled", ctx.Err())
		}
	}

	labels, ok := taxonomy.DatasetLabels(model.Dataset())
	if !ok {
		labels, _ = taxonomy.DatasetLabels("FER2013")
	}

	h := fnv.New32a()
	h.Write(frame.Data)
	h.Write([]byte(model))
	seed := h.Sum32()

	// the favoured label gets most of the mass, the rest share what is left
	top := int(seed % uint32(len(labels)))
	rest := 0.3 / float64(len(labels)-1)
	return lo.Map(labels, func(label string, i int) entities.LabelScore {
		return entities.LabelScore{Label: label, Confidence: lo.Ternary(i == top, 0.7, rest)}
	}), nil
}

// Health implements repositories.HealthChecker
func (m *MockClassifier) Health(ctx context.Context) error {
	return ctx.Err()
}

// Models implements repositories.ModelLister
func (m *MockClassifier) Models(ctx context.Context) ([]repositories.ModelInfo, error) {
	return lo.Map(entities.DefaultModels, func(id entities.ModelID, _ int) repositories.ModelInfo {
		labels, _ := taxonomy.DatasetLabels(id.Dataset())
		return repositories.ModelInfo{ID: id, Emotions: labels, Loaded: true}
	}), nil
}
