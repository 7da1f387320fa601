// Package taxonomy maps dataset specific classifier labels onto canonical emotions.
package taxonomy

import (
	"sort"
	"strings"

	"github.com/satriahrh/emotiscan/domain/entities"
)

// canonical covers the FER2013, RAF-DB and CK+48 label vocabularies, keyed by lower-cased label.
var canonical = map[string]entities.Emotion{
	"angry":     entities.EmotionAngry,
	"anger":     entities.EmotionAngry,
	"disgust":   entities.EmotionDisgust,
	"fear":      entities.EmotionFear,
	"happy":     entities.EmotionHappy,
	"happiness": entities.EmotionHappy,
	"neutral":   entities.EmotionNeutral,
	"sad":       entities.EmotionSad,
	"sadness":   entities.EmotionSad,
	"surprise":  entities.EmotionSurprise,
	"contempt":  entities.EmotionContempt,
}

var datasetLabels = map[string][]string{
	"FER2013": {"angry", "disgust", "fear", "happy", "neutral", "sad", "surprise"},
	"RAF-DB":  {"Surprise", "Fear", "Disgust", "Happiness", "Sadness", "Anger", "Neutral"},
	"CK+48":   {"anger", "contempt", "disgust", "fear", "happy", "sadness", "surprise"},
}

// Canonicalize returns the canonical emotion for a raw label, or EmotionUnknown
func Canonicalize(label string) entities.Emotion {
	if e, ok := canonical[strings.ToLower(strings.TrimSpace(label))]; ok {
		return e
	}
	return entities.EmotionUnknown
}

// DatasetLabels returns the raw label vocabulary a model trained on dataset emits
func DatasetLabels(dataset string) ([]string, bool) {
	labels, ok := datasetLabels[dataset]
	if !ok {
		return nil, false
	}
	return append([]string(nil), labels...), true
}

// Normalize converts a raw prediction into ranked canonical scores.
//
// Labels collapsing onto the same emotion keep the highest confidence, at the position of the
// first label that produced the emotion. The result is sorted by confidence descending and is
// stable on ties.
func Normalize(raw entities.RawPrediction) []entities.EmotionScore {
	scores := make([]entities.EmotionScore, 0, len(raw))
	index := make(map[entities.Emotion]int, len(raw))

	for _, s := range raw {
		emotion := Canonicalize(s.Label)
		if i, seen := index[emotion]; seen {
			if s.Confidence > scores[i].Confidence {
				scores[i].Confidence = s.Confidence
			}
			continue
		}
		index[emotion] = len(scores)
		scores = append(scores, entities.EmotionScore{Emotion: emotion, Confidence: s.Confidence})
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Confidence > scores[j].Confidence
	})
	for i := range scores {
		scores[i].Rank = i + 1
	}
	return scores
}
