package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/satriahrh/emotiscan/domain/entities"
	"github.com/satriahrh/emotiscan/domain/repositories"
)

const (
	defaultBaseURL     = "http://localhost:8000"
	defaultHTTPTimeout = 30 * time.Second
	maxErrorBodyBytes  = 4 << 10

	predictPath = "/api/v1/predict"
	healthPath  = "/api/v1/health"
	modelsPath  = "/api/v1/models"
)

// HTTPConfig holds configuration for the HTTPClassifier
// Optional fields with defaults:
// - BaseURL: root of the emotion service (default: "http://localhost:8000")
// - Timeout: client level timeout applied on top of the caller's context (default: 30s)
// - HTTPClient: a preconfigured client, Timeout is ignored when set
type HTTPConfig struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// HTTPClassifier talks to the emotion service over multipart HTTP and JSON
type HTTPClassifier struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

var (
	_ repositories.EmotionClassifier = (*HTTPClassifier)(nil)
	_ repositories.ModelLister       = (*HTTPClassifier)(nil)
)

// predictResponse is the body returned by the predict endpoint.
// Predictions stay raw so label order survives decoding.
type predictResponse struct {
	Success     *bool           `json:"success"`
	Model       string          `json:"model"`
	Predictions json.RawMessage `json:"predictions"`
	TopEmotion  string          `json:"top_emotion"`
	Confidence  float64         `json:"confidence"`
	Error       string          `json:"error"`
	Detail      string          `json:"detail"`
}

type healthResponse struct {
	Status          string `json:"status"`
	Device          string `json:"device"`
	LoadedModels    int    `json:"loaded_models"`
	AvailableModels int    `json:"available_models"`
}

type modelConfig struct {
	Architecture string   `json:"architecture"`
	Dataset      string   `json:"dataset"`
	Emotions     []string `json:"emotions"`
	Accuracy     float64  `json:"accuracy"`
}

type modelsResponse struct {
	Models       map[string]modelConfig `json:"models"`
	LoadedModels []string               `json:"loaded_models"`
}

// NewHTTPClassifier creates a new HTTP emotion classifier
func NewHTTPClassifier(config HTTPConfig, logger *zap.Logger) (*HTTPClassifier, error) {
	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
		logger.Info("Using default emotion service URL", zap.String("baseURL", baseURL))
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("emotion service URL must be http or https, got %q", config.BaseURL)
	}

	client := config.HTTPClient
	if client == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	return &HTTPClassifier{
		baseURL: baseURL,
		client:  client,
		logger:  logger,
	}, nil
}

// Predict uploads the frame as multipart form data and decodes the label confidences
func (c *HTTPClassifier) Predict(ctx context.Context, frame entities.CaptureFrame, model entities.ModelID) (entities.RawPrediction, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	header.Set("Content-Type", lo.Ternary(frame.ContentType == "", "image/jpeg", frame.ContentType))
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(frame.Data); err != nil {
		return nil, fmt.Errorf("failed to write frame data: %w", err)
	}
	if err := writer.WriteField("model", string(model)); err != nil {
		return nil, fmt.Errorf("failed to write model field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+predictPath, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("Sending prediction request",
		zap.String("frameID", frame.ID),
		zap.String("model", string(model)),
		zap.Int("bytes", len(frame.Data)))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, entities.NewDetectionError(entities.ErrorKindTransport, "prediction request failed", errors.WithStack(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, badStatus(resp)
	}

	var payload predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, entities.NewDetectionError(entities.ErrorKindMalformedPayload, "failed to decode prediction response", err)
	}
	if payload.Success != nil && !*payload.Success {
		return nil, entities.NewDetectionError(entities.ErrorKindMalformedPayload,
			"emotion service reported failure: "+lo.Ternary(payload.Error != "", payload.Error, "no detail"), nil)
	}

	raw, err := decodeOrderedScores(payload.Predictions)
	if err != nil {
		return nil, entities.NewDetectionError(entities.ErrorKindMalformedPayload, "invalid predictions", err)
	}

	c.logger.Debug("Received prediction",
		zap.String("frameID", frame.ID),
		zap.String("model", payload.Model),
		zap.String("topEmotion", payload.TopEmotion),
		zap.Float64("confidence", payload.Confidence))
	return raw, nil
}

// Health checks the health endpoint and requires a "healthy" status
func (c *HTTPClassifier) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return entities.NewDetectionError(entities.ErrorKindTransport, "emotion service not reachable", errors.WithStack(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return badStatus(resp)
	}

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return entities.NewDetectionError(entities.ErrorKindMalformedPayload, "failed to decode health response", err)
	}
	if health.Status != "healthy" {
		return entities.NewBadStatusError(resp.StatusCode, "emotion service reports status "+quoteOrEmpty(health.Status))
	}

	c.logger.Debug("Emotion service healthy",
		zap.String("device", health.Device),
		zap.Int("loadedModels", health.LoadedModels),
		zap.Int("availableModels", health.AvailableModels))
	return nil
}

// Models lists the models the service offers, sorted by id
func (c *HTTPClassifier) Models(ctx context.Context) ([]repositories.ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+modelsPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, entities.NewDetectionError(entities.ErrorKindTransport, "models request failed", errors.WithStack(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, badStatus(resp)
	}

	var payload modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, entities.NewDetectionError(entities.ErrorKindMalformedPayload, "failed to decode models response", err)
	}

	infos := lo.MapToSlice(payload.Models, func(id string, cfg modelConfig) repositories.ModelInfo {
		return repositories.ModelInfo{
			ID:       entities.ModelID(id),
			Emotions: cfg.Emotions,
			Loaded:   lo.Contains(payload.LoadedModels, id),
		}
	})
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos, nil
}

// badStatus turns a non-success response into a BadStatus error carrying the service's message
func badStatus(resp *http.Response) *entities.DetectionError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	var payload predictResponse
	message := strings.TrimSpace(string(data))
	if err := json.Unmarshal(data, &payload); err == nil {
		switch {
		case payload.Error != "":
			message = payload.Error
		case payload.Detail != "":
			message = payload.Detail
		}
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	return entities.NewBadStatusError(resp.StatusCode, message)
}

// decodeOrderedScores reads a JSON object of label confidences keeping the service's label order
func decodeOrderedScores(data json.RawMessage) (entities.RawPrediction, error) {
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil, errors.New("missing predictions")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("predictions must be an object")
	}

	raw := make(entities.RawPrediction, 0, 8)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		label, ok := tok.(string)
		if !ok {
			return nil, errors.Errorf("unexpected token %v", tok)
		}
		var confidence float64
		if err := dec.Decode(&confidence); err != nil {
			return nil, errors.Wrapf(err, "confidence for %q", label)
		}
		raw = append(raw, entities.LabelScore{Label: label, Confidence: confidence})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}

	if err := raw.Validate(); err != nil {
		return nil, err
	}
	return raw, nil
}

func quoteOrEmpty(s string) string {
	if s == "" {
		return "(empty)"
	}
	return fmt.Sprintf("%q", s)
}
