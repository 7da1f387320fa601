package entities

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// DetectionSession is the live state of a detection view.
// It is owned by a single goroutine and changed only through its transition methods.
type DetectionSession struct {
	ID            string          `json:"id"`
	Active        bool            `json:"active"`
	SelectedModel ModelID         `json:"selected_model"`
	Health        HealthState     `json:"health"`
	Pending       bool            `json:"pending"`
	LastError     *DetectionError `json:"last_error"`
	Results       []EmotionScore  `json:"results"`

	// Epoch increases on every activation change; outcomes computed under an older epoch are stale.
	Epoch uint64 `json:"epoch"`

	StartedAt    time.Time  `json:"started_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastResultAt *time.Time `json:"last_result_at,omitempty"`
}

// NewDetectionSession creates an inactive session waiting for its first health probe
func NewDetectionSession(model ModelID) *DetectionSession {
	now := time.Now()
	return &DetectionSession{
		ID:            uuid.NewString(),
		SelectedModel: model,
		Health:        HealthChecking,
		Results:       make([]EmotionScore, 0),
		StartedAt:     now,
		UpdatedAt:     now,
	}
}

// ToggleActive flips detection on or off.
// Turning on requires a connected service and otherwise records and returns a ServiceUnavailable error.
// Turning off always succeeds and clears results and the last error.
func (s *DetectionSession) ToggleActive() error {
	defer s.touch()

	if s.Active {
		s.Active = false
		s.Results = make([]EmotionScore, 0)
		s.LastError = nil
		s.Epoch++
		return nil
	}

	if s.Health != HealthConnected {
		err := NewDetectionError(ErrorKindServiceUnavailable,
			"cannot start detection while emotion service is "+string(s.Health), nil)
		s.LastError = err
		return err
	}

	s.Active = true
	s.Results = make([]EmotionScore, 0)
	s.LastError = nil
	s.Epoch++
	return nil
}

// SelectModel changes the model used by the next submission
func (s *DetectionSession) SelectModel(id ModelID) {
	s.SelectedModel = id
	s.touch()
}

func (s *DetectionSession) BeginSubmission() {
	s.Pending = true
	s.touch()
}

func (s *DetectionSession) EndSubmission() {
	s.Pending = false
	s.touch()
}

// ApplyOutcome records a submission outcome computed under epoch.
// It returns false when the outcome is stale and was discarded.
func (s *DetectionSession) ApplyOutcome(outcome SubmissionOutcome, epoch uint64) bool {
	if !s.Active || epoch != s.Epoch {
		return false
	}

	switch outcome.Kind {
	case OutcomePredicted:
		now := time.Now()
		s.Results = append(make([]EmotionScore, 0, len(outcome.Scores)), outcome.Scores...)
		s.LastError = nil
		s.LastResultAt = &now
	default:
		err := outcome.Err
		if err == nil {
			err = NewDetectionError(ErrorKindMalformedPayload, "submission "+string(outcome.Kind)+" without error detail", nil)
		}
		s.LastError = err
	}

	s.touch()
	return true
}

// ApplyCaptureError records a capture source failure observed under epoch.
// A persistent failure also deactivates the session but keeps the last results visible.
func (s *DetectionSession) ApplyCaptureError(err *DetectionError, epoch uint64) bool {
	if !s.Active || epoch != s.Epoch || err == nil {
		return false
	}

	s.LastError = err
	if err.Persistent() {
		s.Active = false
		s.Epoch++
	}

	s.touch()
	return true
}

// ApplyHealth records a new health state and reports whether it forced detection off
func (s *DetectionSession) ApplyHealth(state HealthState) bool {
	defer s.touch()

	s.Health = state
	if !s.Active || !state.IsFailure() {
		return false
	}

	s.Active = false
	s.Epoch++
	s.LastError = NewDetectionError(ErrorKindServiceUnavailable,
		"detection stopped: emotion service is "+string(state), nil)
	return true
}

// TopEmotion returns the highest ranked result, if any
func (s *DetectionSession) TopEmotion() (EmotionScore, bool) {
	if len(s.Results) == 0 {
		return EmotionScore{}, false
	}
	return s.Results[0], true
}

// Clone returns a deep copy safe to hand to other goroutines
func (s *DetectionSession) Clone() DetectionSession {
	c := *s
	c.Results = append(make([]EmotionScore, 0, len(s.Results)), s.Results...)
	if s.LastError != nil {
		lastErr := *s.LastError
		c.LastError = &lastErr
	}
	if s.LastResultAt != nil {
		at := *s.LastResultAt
		c.LastResultAt = &at
	}
	return c
}

// Validate validates the session data
func (s *DetectionSession) Validate() error {
	if s.ID == "" {
		return errors.New("id is required")
	}
	if s.SelectedModel == "" {
		return errors.New("selected_model is required")
	}

	switch s.Health {
	case HealthChecking, HealthConnected, HealthDegraded, HealthUnreachable:
	default:
		return errors.New("invalid health state")
	}

	if s.Active && s.Health.IsFailure() {
		return errors.New("session cannot be active while the service is " + string(s.Health))
	}
	return nil
}

func (s *DetectionSession) touch() {
	s.UpdatedAt = time.Now()
}
