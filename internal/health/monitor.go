// Package health tracks whether the remote emotion service can take predictions.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/satriahrh/emotiscan/domain/entities"
	"github.com/satriahrh/emotiscan/domain/repositories"
	"github.com/satriahrh/emotiscan/internal/metrics"
)

const defaultProbeTimeout = 5 * time.Second

// Status is the last observed health with the failure cause kept for diagnostics
type Status struct {
	State     entities.HealthState `json:"state"`
	Cause     string               `json:"cause,omitempty"`
	CheckedAt time.Time            `json:"checked_at,omitempty"`
}

// Listener is called after every state change, including re-entry into checking.
type Listener func(state entities.HealthState)

// Monitor owns the health state machine of the emotion service
type Monitor struct {
	checker repositories.HealthChecker
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger

	// coalesces concurrent probes into one call
	group singleflight.Group

	mu        sync.RWMutex
	state     entities.HealthState
	cause     error
	checkedAt time.Time
	listeners []Listener
}

// NewMonitor creates a monitor in the checking state
func NewMonitor(checker repositories.HealthChecker, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Monitor {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
		logger.Info("Using default health probe timeout", zap.Duration("timeout", timeout))
	}
	if m == nil {
		m = metrics.New()
	}

	return &Monitor{
		checker: checker,
		timeout: timeout,
		metrics: m,
		logger:  logger,
		state:   entities.HealthChecking,
	}
}

// OnChange registers a listener for state changes
func (m *Monitor) OnChange(listener Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, listener)
}

func (m *Monitor) State() entities.HealthState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Cause returns the error behind the current state, nil when connected
func (m *Monitor) Cause() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cause
}

func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := Status{State: m.state, CheckedAt: m.checkedAt}
	if m.cause != nil {
		status.Cause = m.cause.Error()
	}
	return status
}

// Probe checks the service and returns the resulting state.
// It never fails; the error is folded into the state and kept as the cause.
func (m *Monitor) Probe(ctx context.Context) entities.HealthState {
	v, _, shared := m.group.Do("probe", func() (interface{}, error) {
		return m.probe(ctx), nil
	})
	if shared {
		m.logger.Debug("Joined in-flight health probe")
	}
	return v.(entities.HealthState)
}

func (m *Monitor) probe(ctx context.Context) entities.HealthState {
	m.metrics.HealthProbed()
	m.set(entities.HealthChecking, nil)

	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	err := m.checker.Health(probeCtx)
	state := Classify(err)

	var cause error
	if err != nil {
		cause = errors.WithStack(err)
		m.logger.Warn("Emotion service health probe failed",
			zap.String("state", string(state)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(cause))
	} else {
		m.logger.Debug("Emotion service healthy", zap.Duration("elapsed", time.Since(start)))
	}

	m.set(state, cause)
	return state
}

// Classify maps a probe error to a health state.
// A service that answered but signalled failure is degraded; anything else is unreachable.
func Classify(err error) entities.HealthState {
	if err == nil {
		return entities.HealthConnected
	}
	switch entities.KindOf(err) {
	case entities.ErrorKindBadStatus, entities.ErrorKindMalformedPayload:
		return entities.HealthDegraded
	default:
		return entities.HealthUnreachable
	}
}

func (m *Monitor) set(state entities.HealthState, cause error) {
	m.mu.Lock()
	previous := m.state
	m.state = state
	m.cause = cause
	if state != entities.HealthChecking {
		m.checkedAt = time.Now()
	}
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	if previous == state {
		return
	}

	m.logger.Info("Emotion service health changed",
		zap.String("from", string(previous)),
		zap.String("to", string(state)))

	for _, listener := range listeners {
		listener(state)
	}
}
