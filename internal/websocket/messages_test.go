package websocket

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/satriahrh/emotiscan/domain/entities"
)

func TestMessageValidator_ValidateMessage(t *testing.T) {
	validator := NewMessageValidator()

	tests := []struct {
		name     string
		message  string
		wantType interface{}
		wantErr  bool
	}{
		{name: "ping", message: `{"type": "ping", "data": "hello"}`, wantType: &PingMessage{}},
		{name: "toggle", message: `{"type": "toggle", "message_id": "m-1"}`, wantType: &ToggleMessage{}},
		{name: "select model", message: `{"type": "select_model", "model": "ResNet50_RAF-DB"}`, wantType: &SelectModelMessage{}},
		{name: "recheck health", message: `{"type": "recheck_health"}`, wantType: &RecheckHealthMessage{}},
		{name: "select model without model", message: `{"type": "select_model"}`, wantErr: true},
		{name: "select model with spaces", message: `{"type": "select_model", "model": "ResNet 50"}`, wantErr: true},
		{name: "missing type", message: `{"model": "x"}`, wantErr: true},
		{name: "unsupported type", message: `{"type": "audio_chunk"}`, wantErr: true},
		{name: "invalid json", message: `{"type": ping}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := validator.ValidateMessage([]byte(tt.message))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}

			switch tt.wantType.(type) {
			case *PingMessage:
				if ping, ok := msg.(*PingMessage); !ok || ping.Data != "hello" {
					t.Errorf("Expected ping with data, got %#v", msg)
				}
			case *ToggleMessage:
				if toggle, ok := msg.(*ToggleMessage); !ok || toggle.MessageID != "m-1" {
					t.Errorf("Expected toggle with message id, got %#v", msg)
				}
			case *SelectModelMessage:
				if sel, ok := msg.(*SelectModelMessage); !ok || sel.Model != "ResNet50_RAF-DB" {
					t.Errorf("Expected select model, got %#v", msg)
				}
			case *RecheckHealthMessage:
				if _, ok := msg.(*RecheckHealthMessage); !ok {
					t.Errorf("Expected recheck health, got %#v", msg)
				}
			}
		})
	}
}

func TestCreateSessionSnapshotMessage(t *testing.T) {
	session := entities.NewDetectionSession(entities.DefaultModelID)
	session.Results = []entities.EmotionScore{{Emotion: entities.EmotionHappy, Confidence: 0.85, Rank: 1}}

	msg := CreateSessionSnapshotMessage(*session)
	if msg.Type != MessageTypeSessionSnapshot {
		t.Errorf("Expected type %s, got %s", MessageTypeSessionSnapshot, msg.Type)
	}
	if msg.TopEmotion != entities.EmotionHappy {
		t.Errorf("Expected top emotion happy, got %s", msg.TopEmotion)
	}
	if msg.Emoji != entities.EmotionHappy.Emoji() {
		t.Errorf("Expected happy emoji, got %s", msg.Emoji)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Failed to marshal snapshot: %v", err)
	}
	var decoded map[string]interface{}
	json.Unmarshal(data, &decoded)
	if _, ok := decoded["session"].(map[string]interface{}); !ok {
		t.Errorf("Expected session object in %s", data)
	}

	empty := CreateSessionSnapshotMessage(*entities.NewDetectionSession(entities.DefaultModelID))
	if empty.TopEmotion != "" || empty.Emoji != "" {
		t.Errorf("Expected no top emotion for empty results, got %s %s", empty.TopEmotion, empty.Emoji)
	}
}

func TestCreateCommandResultMessage(t *testing.T) {
	ok := CreateCommandResultMessage(MessageTypeToggle, "r-1", nil)
	if !ok.Success || ok.Error != nil {
		t.Errorf("Expected success without error, got %+v", ok)
	}

	failed := CreateCommandResultMessage(MessageTypeSelectModel, "r-2",
		entities.NewDetectionError(entities.ErrorKindInvalidModel, "unknown model", nil))
	if failed.Success || failed.Error.Kind != entities.ErrorKindInvalidModel {
		t.Errorf("Expected invalid model failure, got %+v", failed)
	}

	plain := CreateCommandResultMessage(MessageTypeToggle, "", errors.New("detection service is not running"))
	if plain.Error.Kind != entities.ErrorKindServiceUnavailable {
		t.Errorf("Expected plain errors to map to service unavailable, got %s", plain.Error.Kind)
	}
}

func TestCreateErrorAndPongMessages(t *testing.T) {
	errMsg := CreateErrorMessage("invalid_message", "bad", "details")
	if errMsg.Type != MessageTypeError || errMsg.Code != "invalid_message" || errMsg.Timestamp == "" {
		t.Errorf("Unexpected error message %+v", errMsg)
	}

	pong := CreatePongMessage("hello")
	if pong.Type != MessageTypePong || pong.Data != "hello" {
		t.Errorf("Unexpected pong %+v", pong)
	}
}
