package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/satriahrh/emotiscan/domain/entities"
	"github.com/satriahrh/emotiscan/domain/repositories"
	"github.com/satriahrh/emotiscan/internal/health"
	"github.com/satriahrh/emotiscan/internal/lifecycle"
	"github.com/satriahrh/emotiscan/internal/metrics"
	"github.com/satriahrh/emotiscan/internal/scheduler"
)

var (
	ErrServiceStopped = errors.New("detection service is not running")
	ErrAlreadyRunning = errors.New("detection service is already running")
)

// DetectionConfig holds the collaborators and timings of a DetectionService
type DetectionConfig struct {
	Classifier      repositories.EmotionClassifier
	Source          repositories.CaptureSource
	Catalog         *entities.ModelCatalog
	CaptureInterval time.Duration
	PredictTimeout  time.Duration
	HealthTimeout   time.Duration
	Clock           clock.Clock
	Metrics         *metrics.Metrics
}

type commandKind int

const (
	commandToggle commandKind = iota
	commandSelectModel
)

type command struct {
	kind  commandKind
	model entities.ModelID
	reply chan commandResult
}

type commandResult struct {
	session entities.DetectionSession
	err     error
}

type healthEvent struct {
	state entities.HealthState
}

type frameEvent struct {
	frame entities.CaptureFrame
}

type captureErrorEvent struct {
	err error
}

type outcomeEvent struct {
	outcome entities.SubmissionOutcome
	epoch   uint64
}

// DetectionService orchestrates a single live detection session.
// All session changes happen on the goroutine running Run; everything else talks to it through events.
type DetectionService struct {
	catalog    *entities.ModelCatalog
	monitor    *health.Monitor
	controller *lifecycle.Controller
	scheduler  *scheduler.Scheduler
	metrics    *metrics.Metrics
	logger     *zap.Logger

	// owned by the Run goroutine
	session *entities.DetectionSession

	commands chan command
	events   chan interface{}

	lifetime context.Context
	cancel   context.CancelFunc
	running  atomic.Bool

	current atomic.Pointer[entities.DetectionSession]

	subMu       sync.Mutex
	subscribers map[uint64]chan entities.DetectionSession
	nextSub     uint64
}

// NewDetectionService wires the health monitor, lifecycle controller and capture scheduler
func NewDetectionService(cfg DetectionConfig, logger *zap.Logger) (*DetectionService, error) {
	if cfg.Classifier == nil {
		return nil, errors.New("classifier is required")
	}
	if cfg.Source == nil {
		return nil, errors.New("capture source is required")
	}
	if cfg.Catalog == nil {
		return nil, errors.New("model catalog is required")
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}

	lifetime, cancel := context.WithCancel(context.Background())
	s := &DetectionService{
		catalog:     cfg.Catalog,
		metrics:     m,
		logger:      logger,
		session:     entities.NewDetectionSession(cfg.Catalog.Default()),
		commands:    make(chan command),
		events:      make(chan interface{}),
		lifetime:    lifetime,
		cancel:      cancel,
		subscribers: make(map[uint64]chan entities.DetectionSession),
	}

	s.monitor = health.NewMonitor(cfg.Classifier, cfg.HealthTimeout, m, logger.Named("health"))
	s.monitor.OnChange(func(state entities.HealthState) {
		s.post(s.lifetime, healthEvent{state: state})
	})

	controller, err := lifecycle.NewController(lifecycle.Config{
		Classifier: cfg.Classifier,
		Health:     s.monitor,
		Catalog:    cfg.Catalog,
		Timeout:    cfg.PredictTimeout,
		Metrics:    m,
		OnTransportFailure: func(error) {
			go s.monitor.Probe(s.lifetime)
		},
	}, logger.Named("lifecycle"))
	if err != nil {
		cancel()
		return nil, err
	}
	s.controller = controller

	s.scheduler = scheduler.New(cfg.Source, captureSink{s}, cfg.CaptureInterval, cfg.Clock, m, logger.Named("scheduler"))

	snapshot := s.session.Clone()
	s.current.Store(&snapshot)
	return s, nil
}

// Run probes the service once and then processes commands and events until ctx is done
func (s *DetectionService) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer func() {
		s.cancel()
		s.scheduler.Stop()
	}()

	s.logger.Info("Detection service started",
		zap.String("sessionID", s.session.ID),
		zap.String("model", string(s.session.SelectedModel)))

	go s.monitor.Probe(s.lifetime)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Detection service stopped", zap.String("sessionID", s.session.ID))
			return nil
		case <-s.lifetime.Done():
			return nil
		case cmd := <-s.commands:
			cmd.reply <- s.handleCommand(cmd)
		case ev := <-s.events:
			s.handleEvent(ev)
		}
	}
}

// Stop ends Run and releases in-flight calls
func (s *DetectionService) Stop() {
	s.cancel()
}

// ToggleActive switches detection on or off and returns the resulting session
func (s *DetectionService) ToggleActive(ctx context.Context) (entities.DetectionSession, error) {
	return s.send(ctx, command{kind: commandToggle})
}

// SelectModel changes the model used from the next capture on
func (s *DetectionService) SelectModel(ctx context.Context, id entities.ModelID) (entities.DetectionSession, error) {
	return s.send(ctx, command{kind: commandSelectModel, model: id})
}

// RequestHealthRecheck probes the service again and returns the new state
func (s *DetectionService) RequestHealthRecheck(ctx context.Context) entities.HealthState {
	return s.monitor.Probe(ctx)
}

// AnalyzeImage classifies a single image outside the live session.
// It shares the in-flight slot with live capture and so may return Busy.
func (s *DetectionService) AnalyzeImage(ctx context.Context, frame entities.CaptureFrame, model entities.ModelID) entities.SubmissionOutcome {
	if model == "" {
		model = s.Snapshot().SelectedModel
	}
	outcome := s.controller.Submit(ctx, frame, model)
	s.logger.Info("Analyzed single image",
		zap.String("frameID", frame.ID),
		zap.String("model", string(model)),
		zap.String("outcome", string(outcome.Kind)))
	return outcome
}

// Snapshot returns a copy of the current session
func (s *DetectionService) Snapshot() entities.DetectionSession {
	return s.current.Load().Clone()
}

// Subscribe returns a channel that always holds the latest session after every change.
// Slow readers skip intermediate states. The returned function unsubscribes and closes the channel.
func (s *DetectionService) Subscribe() (<-chan entities.DetectionSession, func()) {
	ch := make(chan entities.DetectionSession, 1)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = ch
	ch <- s.Snapshot()
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			delete(s.subscribers, id)
			close(ch)
		})
	}
}

func (s *DetectionService) Catalog() *entities.ModelCatalog {
	return s.catalog
}

func (s *DetectionService) Monitor() *health.Monitor {
	return s.monitor
}

func (s *DetectionService) HealthStatus() health.Status {
	return s.monitor.Status()
}

func (s *DetectionService) Metrics() metrics.Snapshot {
	return s.metrics.Snapshot()
}

func (s *DetectionService) send(ctx context.Context, cmd command) (entities.DetectionSession, error) {
	if s.lifetime.Err() != nil {
		return entities.DetectionSession{}, ErrServiceStopped
	}
	cmd.reply = make(chan commandResult, 1)

	select {
	case s.commands <- cmd:
	case <-ctx.Done():
		return entities.DetectionSession{}, ctx.Err()
	case <-s.lifetime.Done():
		return entities.DetectionSession{}, ErrServiceStopped
	}

	select {
	case result := <-cmd.reply:
		return result.session, result.err
	case <-ctx.Done():
		return entities.DetectionSession{}, ctx.Err()
	}
}

// post delivers an event to the Run loop, giving up when ctx or the service ends
func (s *DetectionService) post(ctx context.Context, ev interface{}) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-s.lifetime.Done():
		return false
	}
}

func (s *DetectionService) handleCommand(cmd command) commandResult {
	var err error

	switch cmd.kind {
	case commandToggle:
		err = s.session.ToggleActive()
		switch {
		case err != nil:
			s.logger.Warn("Detection toggle rejected",
				zap.String("health", string(s.session.Health)),
				zap.Error(err))
		case s.session.Active:
			s.scheduler.Start(s.lifetime)
			s.logger.Info("Detection activated",
				zap.Uint64("epoch", s.session.Epoch),
				zap.String("model", string(s.session.SelectedModel)))
		default:
			s.scheduler.Stop()
			s.logger.Info("Detection deactivated", zap.Uint64("epoch", s.session.Epoch))
		}

	case commandSelectModel:
		if !s.catalog.Contains(cmd.model) {
			err = entities.NewDetectionError(entities.ErrorKindInvalidModel, "unknown model "+string(cmd.model), nil)
			s.logger.Warn("Rejected unknown model", zap.String("model", string(cmd.model)))
			break
		}
		s.session.SelectModel(cmd.model)
		s.logger.Info("Model selected", zap.String("model", string(cmd.model)))
	}

	s.publish()
	return commandResult{session: s.session.Clone(), err: err}
}

func (s *DetectionService) handleEvent(ev interface{}) {
	switch ev := ev.(type) {
	case healthEvent:
		if s.session.ApplyHealth(ev.state) {
			s.scheduler.Stop()
			s.logger.Warn("Detection stopped, emotion service left connected state",
				zap.String("health", string(ev.state)))
		}

	case frameEvent:
		if !s.session.Active {
			s.logger.Debug("Ignoring frame captured after deactivation", zap.String("frameID", ev.frame.ID))
			return
		}
		epoch := s.session.Epoch
		rejected, accepted := s.controller.SubmitAsync(s.lifetime, ev.frame, s.session.SelectedModel,
			func(outcome entities.SubmissionOutcome) {
				s.post(s.lifetime, outcomeEvent{outcome: outcome, epoch: epoch})
			})
		if accepted {
			s.session.BeginSubmission()
		} else {
			s.session.ApplyOutcome(rejected, epoch)
		}

	case outcomeEvent:
		s.session.EndSubmission()
		if !s.session.ApplyOutcome(ev.outcome, ev.epoch) {
			s.metrics.OutcomeDiscarded()
			s.logger.Debug("Discarding stale outcome",
				zap.String("frameID", ev.outcome.FrameID),
				zap.Uint64("outcomeEpoch", ev.epoch),
				zap.Uint64("sessionEpoch", s.session.Epoch))
		}

	case captureErrorEvent:
		derr := entities.AsDetectionError(ev.err, entities.ErrorKindDeviceUnavailable)
		if s.session.ApplyCaptureError(derr, s.session.Epoch) && !s.session.Active {
			s.scheduler.Stop()
			s.logger.Warn("Detection stopped by capture failure", zap.Error(derr))
		}

	default:
		s.logger.Error("Unknown detection event", zap.Any("event", ev))
		return
	}

	s.publish()
}

// publish stores the latest snapshot and offers it to every subscriber without blocking
func (s *DetectionService) publish() {
	snapshot := s.session.Clone()
	s.current.Store(&snapshot)

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- snapshot:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snapshot:
		default:
		}
	}
}

// captureSink adapts the service to the scheduler without exposing its event plumbing
type captureSink struct {
	s *DetectionService
}

func (c captureSink) Idle() bool {
	return c.s.controller.Idle()
}

func (c captureSink) Dispatch(ctx context.Context, frame entities.CaptureFrame) {
	c.s.post(ctx, frameEvent{frame: frame})
}

func (c captureSink) CaptureFailed(ctx context.Context, err error) {
	c.s.post(ctx, captureErrorEvent{err: err})
}
