package api

import (
	"time"

	"github.com/satriahrh/emotiscan/domain/entities"
	"github.com/satriahrh/emotiscan/internal/health"
)

// TokenRequest represents the request payload for exchanging an API key for a token
type TokenRequest struct {
	APIKey     string `json:"api_key" validate:"required"`
	OperatorID string `json:"operator_id" validate:"required"`
}

// TokenResponse represents the response payload for a token exchange
type TokenResponse struct {
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expires_at"`
	OperatorID string    `json:"operator_id"`
}

// SelectModelRequest represents the request payload for changing the model
type SelectModelRequest struct {
	Model entities.ModelID `json:"model" validate:"required"`
}

// SessionResponse carries the session with its presentation fields
type SessionResponse struct {
	Session    entities.DetectionSession `json:"session"`
	TopEmotion entities.Emotion          `json:"top_emotion,omitempty"`
	Emoji      string                    `json:"emoji,omitempty"`
	Error      *entities.DetectionError  `json:"error,omitempty"`
}

// DetectResponse carries the outcome of a single image analysis
type DetectResponse struct {
	Outcome    entities.SubmissionOutcome `json:"outcome"`
	TopEmotion entities.Emotion           `json:"top_emotion,omitempty"`
	Emoji      string                     `json:"emoji,omitempty"`
}

// HealthResponse reports the server and emotion service status
type HealthResponse struct {
	Status         string        `json:"status"`
	Service        string        `json:"service"`
	EmotionService health.Status `json:"emotion_service"`
}

// ModelsResponse lists the models that can be selected
type ModelsResponse struct {
	Default entities.ModelID `json:"default"`
	Models  []ModelEntry     `json:"models"`
}

// ModelEntry describes one selectable model
type ModelEntry struct {
	ID       entities.ModelID `json:"id"`
	Emotions []string         `json:"emotions,omitempty"`
	Loaded   bool             `json:"loaded"`
	Selected bool             `json:"selected"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func newSessionResponse(session entities.DetectionSession, err *entities.DetectionError) SessionResponse {
	resp := SessionResponse{Session: session, Error: err}
	if top, ok := session.TopEmotion(); ok {
		resp.TopEmotion = top.Emotion
		resp.Emoji = top.Emotion.Emoji()
	}
	return resp
}

func newDetectResponse(outcome entities.SubmissionOutcome) DetectResponse {
	resp := DetectResponse{Outcome: outcome}
	if len(outcome.Scores) > 0 {
		resp.TopEmotion = outcome.Scores[0].Emotion
		resp.Emoji = outcome.Scores[0].Emotion.Emoji()
	}
	return resp
}
