// Package lifecycle runs prediction submissions against the emotion service, one at a time.
package lifecycle

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/satriahrh/emotiscan/domain/entities"
	"github.com/satriahrh/emotiscan/domain/repositories"
	"github.com/satriahrh/emotiscan/internal/metrics"
	"github.com/satriahrh/emotiscan/internal/taxonomy"
)

const defaultPredictTimeout = 10 * time.Second

// HealthGate reports the current health of the service
type HealthGate interface {
	State() entities.HealthState
}

// Config holds the collaborators of a Controller
type Config struct {
	Classifier repositories.EmotionClassifier
	Health     HealthGate
	Catalog    *entities.ModelCatalog
	Timeout    time.Duration
	Metrics    *metrics.Metrics

	// OnTransportFailure is called after a failure that suggests the service is unreachable
	OnTransportFailure func(err error)
}

// Controller admits at most one prediction in flight and classifies its outcome
type Controller struct {
	classifier         repositories.EmotionClassifier
	health             HealthGate
	catalog            *entities.ModelCatalog
	timeout            time.Duration
	metrics            *metrics.Metrics
	onTransportFailure func(err error)
	logger             *zap.Logger

	sem      *semaphore.Weighted
	inFlight atomic.Bool
}

// NewController creates a new lifecycle controller
func NewController(cfg Config, logger *zap.Logger) (*Controller, error) {
	if cfg.Classifier == nil {
		return nil, errors.New("classifier is required")
	}
	if cfg.Health == nil {
		return nil, errors.New("health gate is required")
	}
	if cfg.Catalog == nil {
		return nil, errors.New("model catalog is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultPredictTimeout
		logger.Info("Using default prediction timeout", zap.Duration("timeout", timeout))
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}
	onTransportFailure := cfg.OnTransportFailure
	if onTransportFailure == nil {
		onTransportFailure = func(error) {}
	}

	return &Controller{
		classifier:         cfg.Classifier,
		health:             cfg.Health,
		catalog:            cfg.Catalog,
		timeout:            timeout,
		metrics:            m,
		onTransportFailure: onTransportFailure,
		logger:             logger,
		sem:                semaphore.NewWeighted(1),
	}, nil
}

// Idle reports whether no submission is in flight
func (c *Controller) Idle() bool {
	return !c.inFlight.Load()
}

// Submit runs one prediction and returns its outcome.
// A submission arriving while another is in flight returns Busy immediately.
func (c *Controller) Submit(ctx context.Context, frame entities.CaptureFrame, model entities.ModelID) entities.SubmissionOutcome {
	if rejected, ok := c.admit(frame, model); !ok {
		return rejected
	}
	defer c.release()
	return c.run(ctx, frame, model)
}

// SubmitAsync admits the submission synchronously and performs the call in the background.
// When admitted it returns true and later calls done with the outcome, holding the slot until
// done returns. Otherwise it returns the rejection and done is never called.
func (c *Controller) SubmitAsync(
	ctx context.Context,
	frame entities.CaptureFrame,
	model entities.ModelID,
	done func(entities.SubmissionOutcome),
) (entities.SubmissionOutcome, bool) {
	if rejected, ok := c.admit(frame, model); !ok {
		return rejected, false
	}

	go func() {
		defer c.release()
		done(c.run(ctx, frame, model))
	}()
	return entities.SubmissionOutcome{}, true
}

// admit takes the in-flight slot or returns the rejection outcome
func (c *Controller) admit(frame entities.CaptureFrame, model entities.ModelID) (entities.SubmissionOutcome, bool) {
	if !c.sem.TryAcquire(1) {
		outcome := entities.Busy(model, frame.ID)
		c.metrics.RecordOutcome(outcome)
		c.logger.Debug("Rejected submission while another is in flight", zap.String("frameID", frame.ID))
		return outcome, false
	}

	if state := c.health.State(); state != entities.HealthConnected {
		c.sem.Release(1)
		outcome := entities.ServiceUnavailable(model, frame.ID, state)
		c.metrics.RecordOutcome(outcome)
		c.logger.Debug("Rejected submission, service not connected", zap.String("health", string(state)))
		return outcome, false
	}

	if !c.catalog.Contains(model) {
		c.sem.Release(1)
		err := entities.NewDetectionError(entities.ErrorKindInvalidModel, "unknown model "+string(model), nil)
		outcome := entities.Failed(model, frame.ID, err, 0)
		c.logger.Warn("Rejected submission for unknown model", zap.String("model", string(model)))
		return outcome, false
	}

	c.inFlight.Store(true)
	return entities.SubmissionOutcome{}, true
}

func (c *Controller) release() {
	c.inFlight.Store(false)
	c.sem.Release(1)
}

// run performs the admitted call
func (c *Controller) run(ctx context.Context, frame entities.CaptureFrame, model entities.ModelID) entities.SubmissionOutcome {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	raw, err := c.classifier.Predict(callCtx, frame, model)
	latency := time.Since(start)

	var outcome entities.SubmissionOutcome
	if err == nil {
		if verr := raw.Validate(); verr != nil {
			err = entities.NewDetectionError(entities.ErrorKindMalformedPayload, verr.Error(), nil)
		}
	}

	switch {
	case err == nil:
		outcome = entities.Predicted(model, frame.ID, taxonomy.Normalize(raw), latency)
		c.logger.Debug("Prediction completed",
			zap.String("frameID", frame.ID),
			zap.String("model", string(model)),
			zap.Duration("latency", latency))

	case entities.KindOf(err) == entities.ErrorKindMalformedPayload:
		outcome = entities.Failed(model, frame.ID, entities.AsDetectionError(err, entities.ErrorKindMalformedPayload), latency)
		c.logger.Warn("Prediction returned a malformed payload",
			zap.String("frameID", frame.ID),
			zap.String("model", string(model)),
			zap.Error(err))

	default:
		derr := transportError(callCtx, err)
		outcome = entities.Failed(model, frame.ID, derr, latency)
		c.logger.Warn("Prediction request failed",
			zap.String("frameID", frame.ID),
			zap.String("model", string(model)),
			zap.String("kind", string(derr.Kind)),
			zap.Error(err))
	}

	c.metrics.RecordOutcome(outcome)
	if outcome.Kind == entities.OutcomeFailed && outcome.Err.Kind != entities.ErrorKindMalformedPayload {
		c.onTransportFailure(outcome.Err)
	}
	return outcome
}

// transportError classifies a failed call, treating deadline expiry and unknown errors as transport failures
func transportError(ctx context.Context, err error) *entities.DetectionError {
	switch entities.KindOf(err) {
	case entities.ErrorKindTransport, entities.ErrorKindBadStatus:
		return entities.AsDetectionError(err, entities.ErrorKindTransport)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return entities.NewDetectionError(entities.ErrorKindTransport, "prediction timed out", err)
	}
	return entities.NewDetectionError(entities.ErrorKindTransport, "prediction request failed", err)
}
