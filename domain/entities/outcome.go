package entities

import "time"

// HealthState is the reachability of the remote classifier as last observed
type HealthState string

const (
	HealthChecking    HealthState = "checking"
	HealthConnected   HealthState = "connected"
	HealthDegraded    HealthState = "degraded"
	HealthUnreachable HealthState = "unreachable"
)

// IsFailure reports whether the state is a terminal non-connected state
func (h HealthState) IsFailure() bool {
	return h == HealthDegraded || h == HealthUnreachable
}

// OutcomeKind classifies the result of a submission
type OutcomeKind string

const (
	OutcomePredicted          OutcomeKind = "predicted"
	OutcomeFailed             OutcomeKind = "failed"
	OutcomeBusy               OutcomeKind = "busy"
	OutcomeServiceUnavailable OutcomeKind = "service_unavailable"
)

// SubmissionOutcome is what the lifecycle controller reports for one submission
type SubmissionOutcome struct {
	Kind    OutcomeKind     `json:"kind"`
	Model   ModelID         `json:"model"`
	FrameID string          `json:"frame_id,omitempty"`
	Scores  []EmotionScore  `json:"scores,omitempty"`
	Err     *DetectionError `json:"error,omitempty"`
	Latency time.Duration   `json:"latency_ns,omitempty"`
}

// Predicted builds a successful outcome
func Predicted(model ModelID, frameID string, scores []EmotionScore, latency time.Duration) SubmissionOutcome {
	return SubmissionOutcome{Kind: OutcomePredicted, Model: model, FrameID: frameID, Scores: scores, Latency: latency}
}

// Failed builds an outcome for a submission that reached, or tried to reach, the service
func Failed(model ModelID, frameID string, err *DetectionError, latency time.Duration) SubmissionOutcome {
	return SubmissionOutcome{Kind: OutcomeFailed, Model: model, FrameID: frameID, Err: err, Latency: latency}
}

// Busy builds the rejection for a submission arriving while another is in flight
func Busy(model ModelID, frameID string) SubmissionOutcome {
	return SubmissionOutcome{
		Kind:    OutcomeBusy,
		Model:   model,
		FrameID: frameID,
		Err:     NewDetectionError(ErrorKindBusy, "a prediction is already in flight", nil),
	}
}

// ServiceUnavailable builds the rejection for a submission made while the service is not connected
func ServiceUnavailable(model ModelID, frameID string, health HealthState) SubmissionOutcome {
	return SubmissionOutcome{
		Kind:    OutcomeServiceUnavailable,
		Model:   model,
		FrameID: frameID,
		Err:     NewDetectionError(ErrorKindServiceUnavailable, "emotion service is "+string(health), nil),
	}
}
