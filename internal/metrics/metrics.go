package metrics

import (
	"sync/atomic"
	"time"

	"github.com/satriahrh/emotiscan/domain/entities"
)

// Metrics keeps process-wide detection counters
type Metrics struct {
	framesCaptured atomic.Int64
	framesDropped  atomic.Int64
	captureErrors  atomic.Int64

	submissions        atomic.Int64
	predictions        atomic.Int64
	failures           atomic.Int64
	transportFailures  atomic.Int64
	malformedPayloads  atomic.Int64
	busyRejections     atomic.Int64
	unavailableRejects atomic.Int64
	staleOutcomes      atomic.Int64

	healthProbes atomic.Int64

	totalLatency  atomic.Int64
	lastLatency   atomic.Int64
	lastFrameTime atomic.Int64

	wsConnections atomic.Int64
}

// Snapshot is a point-in-time copy of the counters
type Snapshot struct {
	FramesCaptured     int64   `json:"frames_captured"`
	FramesDropped      int64   `json:"frames_dropped"`
	CaptureErrors      int64   `json:"capture_errors"`
	Submissions        int64   `json:"submissions"`
	Predictions        int64   `json:"predictions"`
	Failures           int64   `json:"failures"`
	TransportFailures  int64   `json:"transport_failures"`
	MalformedPayloads  int64   `json:"malformed_payloads"`
	BusyRejections     int64   `json:"busy_rejections"`
	UnavailableRejects int64   `json:"unavailable_rejections"`
	StaleOutcomes      int64   `json:"stale_outcomes"`
	HealthProbes       int64   `json:"health_probes"`
	AvgLatencyMs       float64 `json:"avg_latency_ms"`
	LastLatencyMs      int64   `json:"last_latency_ms"`
	LastFrameTime      int64   `json:"last_frame_time"`
	WebSocketClients   int64   `json:"websocket_clients"`
}

func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) FrameCaptured() {
	m.framesCaptured.Add(1)
	m.lastFrameTime.Store(time.Now().Unix())
}

func (m *Metrics) FrameDropped() {
	m.framesDropped.Add(1)
}

func (m *Metrics) CaptureFailed() {
	m.captureErrors.Add(1)
}

func (m *Metrics) HealthProbed() {
	m.healthProbes.Add(1)
}

func (m *Metrics) OutcomeDiscarded() {
	m.staleOutcomes.Add(1)
}

func (m *Metrics) WebSocketConnected() {
	m.wsConnections.Add(1)
}

func (m *Metrics) WebSocketDisconnected() {
	m.wsConnections.Add(-1)
}

// RecordOutcome counts a submission outcome. Latency is only recorded for calls that reached the service.
func (m *Metrics) RecordOutcome(outcome entities.SubmissionOutcome) {
	switch outcome.Kind {
	case entities.OutcomeBusy:
		m.busyRejections.Add(1)
		return
	case entities.OutcomeServiceUnavailable:
		m.unavailableRejects.Add(1)
		return
	}

	m.submissions.Add(1)
	m.totalLatency.Add(outcome.Latency.Milliseconds())
	m.lastLatency.Store(outcome.Latency.Milliseconds())

	if outcome.Kind == entities.OutcomePredicted {
		m.predictions.Add(1)
		return
	}

	m.failures.Add(1)
	if outcome.Err == nil {
		return
	}
	switch outcome.Err.Kind {
	case entities.ErrorKindTransport, entities.ErrorKindBadStatus:
		m.transportFailures.Add(1)
	case entities.ErrorKindMalformedPayload:
		m.malformedPayloads.Add(1)
	}
}

// Snapshot returns the current counter values
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		FramesCaptured:     m.framesCaptured.Load(),
		FramesDropped:      m.framesDropped.Load(),
		CaptureErrors:      m.captureErrors.Load(),
		Submissions:        m.submissions.Load(),
		Predictions:        m.predictions.Load(),
		Failures:           m.failures.Load(),
		TransportFailures:  m.transportFailures.Load(),
		MalformedPayloads:  m.malformedPayloads.Load(),
		BusyRejections:     m.busyRejections.Load(),
		UnavailableRejects: m.unavailableRejects.Load(),
		StaleOutcomes:      m.staleOutcomes.Load(),
		HealthProbes:       m.healthProbes.Load(),
		LastLatencyMs:      m.lastLatency.Load(),
		LastFrameTime:      m.lastFrameTime.Load(),
		WebSocketClients:   m.wsConnections.Load(),
	}
	if s.Submissions > 0 {
		s.AvgLatencyMs = float64(m.totalLatency.Load()) / float64(s.Submissions)
	}
	return s
}
