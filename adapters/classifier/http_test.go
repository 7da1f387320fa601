package classifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/emotiscan/domain/entities"
)

func newTestClassifier(t *testing.T, handler http.HandlerFunc) *HTTPClassifier {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	classifier, err := NewHTTPClassifier(HTTPConfig{BaseURL: server.URL + "/"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create classifier: %v", err)
	}
	return classifier
}

func testFrame() entities.CaptureFrame {
	return entities.NewCaptureFrame([]byte{0xff, 0xd8, 0xff, 0xe0}, "image/jpeg", time.Now())
}

func TestNewHTTPClassifier(t *testing.T) {
	logger := zaptest.NewLogger(t)

	classifier, err := NewHTTPClassifier(HTTPConfig{}, logger)
	if err != nil {
		t.Fatalf("Failed to create classifier: %v", err)
	}
	if classifier.baseURL != defaultBaseURL {
		t.Errorf("Expected default base URL '%s', got '%s'", defaultBaseURL, classifier.baseURL)
	}
	if classifier.client.Timeout != defaultHTTPTimeout {
		t.Errorf("Expected default timeout %v, got %v", defaultHTTPTimeout, classifier.client.Timeout)
	}

	if _, err := NewHTTPClassifier(HTTPConfig{BaseURL: "ftp://emotions"}, logger); err == nil {
		t.Error("Expected error for non-http base URL")
	}
}

func TestHTTPClassifier_PredictSendsMultipart(t *testing.T) {
	classifier := newTestClassifier(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != predictPath {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("Failed to parse multipart form: %v", err)
		}
		if got := r.FormValue("model"); got != "ResNet50_RAF-DB" {
			t.Errorf("Expected model 'ResNet50_RAF-DB', got '%s'", got)
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("Expected file part: %v", err)
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if len(data) != 4 {
			t.Errorf("Expected 4 frame bytes, got %d", len(data))
		}
		if header.Header.Get("Content-Type") != "image/jpeg" {
			t.Errorf("Expected image/jpeg part, got '%s'", header.Header.Get("Content-Type"))
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"model":"ResNet50_RAF-DB","predictions":{"Surprise":0.2,"Happiness":0.7,"Neutral":0.1},"top_emotion":"Happiness","confidence":0.7}`))
	})

	raw, err := classifier.Predict(context.Background(), testFrame(), "ResNet50_RAF-DB")
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}

	expected := []string{"Surprise", "Happiness", "Neutral"}
	if len(raw) != len(expected) {
		t.Fatalf("Expected %d labels, got %d", len(expected), len(raw))
	}
	for i, label := range expected {
		if raw[i].Label != label {
			t.Errorf("Expected label %d to be '%s', got '%s'", i, label, raw[i].Label)
		}
	}
	if raw[1].Confidence != 0.7 {
		t.Errorf("Expected confidence 0.7, got %f", raw[1].Confidence)
	}
}

func TestHTTPClassifier_PredictErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind entities.ErrorKind
		wantCode int
	}{
		{name: "server error", status: 500, body: `{"success":false,"error":"model file not found"}`, wantKind: entities.ErrorKindBadStatus, wantCode: 500},
		{name: "invalid model", status: 400, body: `{"detail":"Invalid model: X"}`, wantKind: entities.ErrorKindBadStatus, wantCode: 400},
		{name: "not json", status: 200, body: `<html>`, wantKind: entities.ErrorKindMalformedPayload},
		{name: "missing predictions", status: 200, body: `{"success":true}`, wantKind: entities.ErrorKindMalformedPayload},
		{name: "empty predictions", status: 200, body: `{"success":true,"predictions":{}}`, wantKind: entities.ErrorKindMalformedPayload},
		{name: "predictions not an object", status: 200, body: `{"success":true,"predictions":[0.5]}`, wantKind: entities.ErrorKindMalformedPayload},
		{name: "confidence out of range", status: 200, body: `{"success":true,"predictions":{"happy":1.5}}`, wantKind: entities.ErrorKindMalformedPayload},
		{name: "reported failure", status: 200, body: `{"success":false,"error":"boom"}`, wantKind: entities.ErrorKindMalformedPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classifier := newTestClassifier(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := classifier.Predict(context.Background(), testFrame(), entities.DefaultModelID)
			if err == nil {
				t.Fatal("Expected error")
			}
			if kind := entities.KindOf(err); kind != tt.wantKind {
				t.Errorf("Expected kind %s, got %s (%v)", tt.wantKind, kind, err)
			}
			derr := entities.AsDetectionError(err, "")
			if derr.StatusCode != tt.wantCode {
				t.Errorf("Expected status code %d, got %d", tt.wantCode, derr.StatusCode)
			}
		})
	}
}

func TestHTTPClassifier_BadStatusCarriesServiceMessage(t *testing.T) {
	classifier := newTestClassifier(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"success":false,"error":"CUDA out of memory"}`))
	})

	_, err := classifier.Predict(context.Background(), testFrame(), entities.DefaultModelID)
	derr := entities.AsDetectionError(err, "")
	if derr.Message != "CUDA out of memory" {
		t.Errorf("Expected service message, got '%s'", derr.Message)
	}
}

func TestHTTPClassifier_PredictTransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	classifier, err := NewHTTPClassifier(HTTPConfig{BaseURL: url}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create classifier: %v", err)
	}

	_, err = classifier.Predict(context.Background(), testFrame(), entities.DefaultModelID)
	if kind := entities.KindOf(err); kind != entities.ErrorKindTransport {
		t.Errorf("Expected transport error, got %s (%v)", kind, err)
	}
	if err := classifier.Health(context.Background()); entities.KindOf(err) != entities.ErrorKindTransport {
		t.Errorf("Expected transport error from health, got %v", err)
	}
}

func TestHTTPClassifier_PredictHonoursContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	classifier := newTestClassifier(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := classifier.Predict(ctx, testFrame(), entities.DefaultModelID)
	if entities.KindOf(err) != entities.ErrorKindTransport {
		t.Errorf("Expected transport error on deadline, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("Expected Predict to return promptly after the deadline")
	}
}

func TestHTTPClassifier_Health(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind entities.ErrorKind
	}{
		{name: "healthy", status: 200, body: `{"status":"healthy","device":"cpu","loaded_models":1,"available_models":9}`},
		{name: "unhealthy status", status: 200, body: `{"status":"starting"}`, wantKind: entities.ErrorKindBadStatus},
		{name: "server error", status: 503, body: ``, wantKind: entities.ErrorKindBadStatus},
		{name: "garbage", status: 200, body: `nope`, wantKind: entities.ErrorKindMalformedPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classifier := newTestClassifier(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != healthPath {
					t.Errorf("Unexpected path %s", r.URL.Path)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			err := classifier.Health(context.Background())
			if kind := entities.KindOf(err); kind != tt.wantKind {
				t.Errorf("Expected kind %q, got %q (%v)", tt.wantKind, kind, err)
			}
		})
	}
}

func TestHTTPClassifier_Models(t *testing.T) {
	classifier := newTestClassifier(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"models": map[string]interface{}{
				"VGG19_CK+48":         map[string]interface{}{"architecture": "VGG19", "emotions": []string{"anger", "contempt"}},
				"MobileNetV2_FER2013": map[string]interface{}{"architecture": "MobileNetV2", "emotions": []string{"angry", "happy"}},
			},
			"loaded_models": []string{"MobileNetV2_FER2013"},
		})
	})

	models, err := classifier.Models(context.Background())
	if err != nil {
		t.Fatalf("Models failed: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("Expected 2 models, got %d", len(models))
	}
	if models[0].ID != "MobileNetV2_FER2013" || !models[0].Loaded {
		t.Errorf("Expected loaded MobileNetV2_FER2013 first, got %+v", models[0])
	}
	if models[1].Loaded {
		t.Errorf("Expected VGG19_CK+48 not loaded")
	}
	if len(models[1].Emotions) != 2 || models[1].Emotions[1] != "contempt" {
		t.Errorf("Unexpected emotions %v", models[1].Emotions)
	}
}

func TestDecodeOrderedScores(t *testing.T) {
	raw, err := decodeOrderedScores(json.RawMessage(`{"b":0.5,"a":0.5,"c":0}`))
	if err != nil {
		t.Fatalf("decodeOrderedScores failed: %v", err)
	}
	if raw[0].Label != "b" || raw[1].Label != "a" || raw[2].Label != "c" {
		t.Errorf("Expected document order, got %+v", raw)
	}

	if _, err := decodeOrderedScores(json.RawMessage(`null`)); err == nil {
		t.Error("Expected error for null predictions")
	}
	if _, err := decodeOrderedScores(json.RawMessage(`{"a":"high"}`)); err == nil {
		t.Error("Expected error for non-numeric confidence")
	}
}
