package websocket

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/satriahrh/emotiscan/domain/entities"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Supported message types
const (
	// client to server
	MessageTypePing          MessageType = "ping"
	MessageTypeToggle        MessageType = "toggle"
	MessageTypeSelectModel   MessageType = "select_model"
	MessageTypeRecheckHealth MessageType = "recheck_health"

	// server to client
	MessageTypePong            MessageType = "pong"
	MessageTypeError           MessageType = "error"
	MessageTypeSessionSnapshot MessageType = "session_snapshot"
	MessageTypeCommandResult   MessageType = "command_result"
)

// BaseMessage defines the common structure for all WebSocket messages
type BaseMessage struct {
	Type      MessageType `json:"type" validate:"required"`
	Timestamp string      `json:"timestamp"`
	MessageID string      `json:"message_id,omitempty"`
}

// PingMessage represents a ping message for connection health check
type PingMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// PongMessage represents a pong response
type PongMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// ToggleMessage asks the server to switch detection on or off
type ToggleMessage struct {
	BaseMessage
}

// SelectModelMessage asks the server to use another model from the next capture on
type SelectModelMessage struct {
	BaseMessage
	Model entities.ModelID `json:"model" validate:"required"`
}

// RecheckHealthMessage asks the server to probe the emotion service again
type RecheckHealthMessage struct {
	BaseMessage
}

// ErrorMessage represents an error response
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"error_code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// SessionSnapshotMessage carries the latest detection session
type SessionSnapshotMessage struct {
	BaseMessage
	Session    entities.DetectionSession `json:"session"`
	TopEmotion entities.Emotion          `json:"top_emotion,omitempty"`
	Emoji      string                    `json:"emoji,omitempty"`
}

// CommandResultMessage answers a command with its outcome
type CommandResultMessage struct {
	BaseMessage
	Command   MessageType                `json:"command"`
	RequestID string                     `json:"request_id,omitempty"`
	Success   bool                       `json:"success"`
	Error     *entities.DetectionError   `json:"error,omitempty"`
	Health    entities.HealthState       `json:"health,omitempty"`
	Session   *entities.DetectionSession `json:"session,omitempty"`
}

// MessageValidator provides validation for WebSocket messages
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage validates an incoming message
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (interface{}, error) {
	// First parse as base message to get type
	var base BaseMessage
	if err := json.Unmarshal(messageBytes, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch base.Type {
	case MessageTypePing:
		var msg PingMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid ping message: %w", err)
		}
		return &msg, nil

	case MessageTypeToggle:
		return &ToggleMessage{BaseMessage: base}, nil

	case MessageTypeSelectModel:
		var msg SelectModelMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid select model message: %w", err)
		}
		if err := v.validateSelectModel(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case MessageTypeRecheckHealth:
		return &RecheckHealthMessage{BaseMessage: base}, nil

	case "":
		return nil, fmt.Errorf("message type is required")

	default:
		return nil, fmt.Errorf("unsupported message type: %s", base.Type)
	}
}

// validateSelectModel validates select model message fields
func (v *MessageValidator) validateSelectModel(msg *SelectModelMessage) error {
	msg.Model = entities.ModelID(strings.TrimSpace(string(msg.Model)))
	if msg.Model == "" {
		return fmt.Errorf("model is required")
	}
	if strings.ContainsAny(string(msg.Model), " \t\n/") {
		return fmt.Errorf("model must be a single identifier, got %q", msg.Model)
	}
	return nil
}

func newBase(t MessageType) BaseMessage {
	return BaseMessage{
		Type:      t,
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(code, message, details string) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: newBase(MessageTypeError),
		Code:        code,
		Message:     message,
		Details:     details,
	}
}

// CreatePongMessage creates a pong response message
func CreatePongMessage(data string) *PongMessage {
	return &PongMessage{
		BaseMessage: newBase(MessageTypePong),
		Data:        data,
	}
}

// CreateSessionSnapshotMessage wraps a session with its presentation fields
func CreateSessionSnapshotMessage(session entities.DetectionSession) *SessionSnapshotMessage {
	msg := &SessionSnapshotMessage{
		BaseMessage: newBase(MessageTypeSessionSnapshot),
		Session:     session,
	}
	if top, ok := session.TopEmotion(); ok {
		msg.TopEmotion = top.Emotion
		msg.Emoji = top.Emotion.Emoji()
	}
	return msg
}

// CreateCommandResultMessage reports the outcome of a command
func CreateCommandResultMessage(command MessageType, requestID string, err error) *CommandResultMessage {
	return &CommandResultMessage{
		BaseMessage: newBase(MessageTypeCommandResult),
		Command:     command,
		RequestID:   requestID,
		Success:     err == nil,
		Error:       entities.AsDetectionError(err, entities.ErrorKindServiceUnavailable),
	}
}
