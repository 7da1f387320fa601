package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/emotiscan/domain/entities"
	"github.com/satriahrh/emotiscan/domain/repositories"
	"github.com/satriahrh/emotiscan/internal/taxonomy"
)

const (
	defaultGeminiModel       = "gemini-2.0-flash"
	defaultGeminiTemperature = 0.0
)

const geminiPrompt = `You are a facial expression classifier trained on the %s dataset.
Look at the face in the image and score each of these labels: %s.
Reply with a JSON object of the form {"predictions": {"<label>": <probability>}}.
Use exactly the labels given, every probability between 0 and 1, summing to 1.`

// GeminiConfig holds configuration for the GeminiClassifier
// Required fields:
// - APIKey: Google AI API key
// Optional fields with defaults:
// - Model: the Gemini model used for classification (default: "gemini-2.0-flash")
// - BaseURL: overrides the API endpoint
// - Temperature: sampling temperature between 0 and 1 (default: 0)
type GeminiConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float32
	HTTPClient  *http.Client
}

// GeminiClassifier scores frames by prompting a Gemini vision model with the vocabulary of the selected dataset
type GeminiClassifier struct {
	client      *genai.Client
	model       string
	temperature float32
	logger      *zap.Logger
}

var _ repositories.EmotionClassifier = (*GeminiClassifier)(nil)

type geminiPrediction struct {
	Predictions json.RawMessage `json:"predictions"`
}

// ValidateGeminiConfig validates the GeminiConfig
func ValidateGeminiConfig(config GeminiConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("Google AI API key is required")
	}
	if config.Temperature < 0 || config.Temperature > 1 {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", config.Temperature)
	}
	return nil
}

// NewGeminiClassifier creates a new Gemini backed classifier
func NewGeminiClassifier(ctx context.Context, config GeminiConfig, logger *zap.Logger) (*GeminiClassifier, error) {
	if err := ValidateGeminiConfig(config); err != nil {
		return nil, err
	}

	model := config.Model
	if model == "" {
		model = defaultGeminiModel
		logger.Info("Using default model", zap.String("model", model))
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      config.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  config.HTTPClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: config.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClassifier{
		client:      client,
		model:       model,
		temperature: config.Temperature,
		logger:      logger,
	}, nil
}

// Predict asks Gemini to score the frame against the label set of the model's dataset
func (g *GeminiClassifier) Predict(ctx context.Context, frame entities.CaptureFrame, model entities.ModelID) (entities.RawPrediction, error) {
	dataset := model.Dataset()
	labels, ok := taxonomy.DatasetLabels(dataset)
	if !ok {
		return nil, entities.NewBadStatusError(http.StatusBadRequest, "no label set for dataset "+dataset)
	}

	contentType := frame.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	parts := []*genai.Part{
		genai.NewPartFromText(fmt.Sprintf(geminiPrompt, dataset, strings.Join(labels, ", "))),
		genai.NewPartFromBytes(frame.Data, contentType),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr(g.temperature),
	}

	start := time.Now()
	response, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return nil, classifyGeminiError(err)
	}

	if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return nil, entities.NewDetectionError(entities.ErrorKindMalformedPayload, "no candidates returned", nil)
	}

	var text string
	for _, part := range response.Candidates[0].Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
	}

	raw, err := parseGeminiPrediction(text)
	if err != nil {
		g.logger.Warn("Unparseable Gemini prediction",
			zap.String("frameID", frame.ID),
			zap.String("response", text[:min(80, len(text))]),
			zap.Error(err))
		return nil, entities.NewDetectionError(entities.ErrorKindMalformedPayload, "invalid predictions", err)
	}

	g.logger.Debug("Gemini prediction completed",
		zap.String("frameID", frame.ID),
		zap.String("dataset", dataset),
		zap.Duration("elapsed", time.Since(start)))
	return raw, nil
}

// Health checks that the configured Gemini model can be reached
func (g *GeminiClassifier) Health(ctx context.Context) error {
	if _, err := g.client.Models.Get(ctx, g.model, nil); err != nil {
		return classifyGeminiError(err)
	}
	return nil
}

// Models reports the dataset backed model ids this classifier can emulate
func (g *GeminiClassifier) Models(ctx context.Context) ([]repositories.ModelInfo, error) {
	infos := make([]repositories.ModelInfo, 0, len(entities.DefaultModels))
	for _, id := range entities.DefaultModels {
		labels, _ := taxonomy.DatasetLabels(id.Dataset())
		infos = append(infos, repositories.ModelInfo{ID: id, Emotions: labels, Loaded: true})
	}
	return infos, nil
}

// parseGeminiPrediction accepts the JSON reply, tolerating a markdown code fence around it
func parseGeminiPrediction(text string) (entities.RawPrediction, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var payload geminiPrediction
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &payload); err != nil {
		return nil, errors.Wrap(err, "decode reply")
	}
	return decodeOrderedScores(payload.Predictions)
}

// classifyGeminiError maps API errors that carry a status to BadStatus and everything else to Transport
func classifyGeminiError(err error) *entities.DetectionError {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code != 0 {
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Status
		}
		derr := entities.NewBadStatusError(apiErr.Code, msg)
		derr.Cause = err
		return derr
	}
	return entities.NewDetectionError(entities.ErrorKindTransport, "gemini request failed", errors.WithStack(err))
}
