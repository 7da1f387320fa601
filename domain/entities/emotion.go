package entities

import (
	"fmt"
	"math"
)

// Emotion is a dataset-independent emotion identifier
type Emotion string

const (
	EmotionAngry    Emotion = "angry"
	EmotionDisgust  Emotion = "disgust"
	EmotionFear     Emotion = "fear"
	EmotionHappy    Emotion = "happy"
	EmotionNeutral  Emotion = "neutral"
	EmotionSad      Emotion = "sad"
	EmotionSurprise Emotion = "surprise"
	EmotionContempt Emotion = "contempt"

	// EmotionUnknown is reserved for labels outside the canonical table.
	EmotionUnknown Emotion = "unknown"
)

var emotionEmoji = map[Emotion]string{
	EmotionAngry:    "😠",
	EmotionDisgust:  "🤢",
	EmotionFear:     "😨",
	EmotionHappy:    "😊",
	EmotionNeutral:  "😐",
	EmotionSad:      "😢",
	EmotionSurprise: "😲",
	EmotionContempt: "😒",
}

// Emoji returns the display glyph for the emotion, falling back to the neutral face
func (e Emotion) Emoji() string {
	if glyph, ok := emotionEmoji[e]; ok {
		return glyph
	}
	return emotionEmoji[EmotionNeutral]
}

// LabelScore is a single raw label produced by a classifier
type LabelScore struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// RawPrediction holds raw labels in the order the classifier emitted them
type RawPrediction []LabelScore

// Validate checks that the prediction carries at least one label with a confidence in [0,1]
func (p RawPrediction) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("prediction is empty")
	}
	for _, s := range p {
		if s.Label == "" {
			return fmt.Errorf("prediction contains an empty label")
		}
		if math.IsNaN(s.Confidence) || s.Confidence < 0 || s.Confidence > 1 {
			return fmt.Errorf("confidence for %q out of range: %v", s.Label, s.Confidence)
		}
	}
	return nil
}

// EmotionScore is a canonical emotion with its confidence and display rank
type EmotionScore struct {
	Emotion    Emotion `json:"emotion"`
	Confidence float64 `json:"confidence"`
	Rank       int     `json:"rank"`
}
