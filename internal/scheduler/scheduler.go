// Package scheduler captures frames at a fixed cadence while detection is active.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/satriahrh/emotiscan/domain/entities"
	"github.com/satriahrh/emotiscan/domain/repositories"
	"github.com/satriahrh/emotiscan/internal/metrics"
)

// DefaultInterval is one capture per second
const DefaultInterval = time.Second

// Sink receives what the scheduler produces on each tick
type Sink interface {
	// Idle reports whether a new frame can be submitted right now.
	Idle() bool
	// Dispatch hands over a frame. It must return promptly once ctx is done.
	Dispatch(ctx context.Context, frame entities.CaptureFrame)
	// CaptureFailed reports a capture source failure. It must return promptly once ctx is done.
	CaptureFailed(ctx context.Context, err error)
}

// Scheduler ticks while started, acquiring one frame per tick and dropping it when the sink is busy
type Scheduler struct {
	source   repositories.CaptureSource
	sink     Sink
	clock    clock.Clock
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped scheduler; a nil clock uses the wall clock
func New(source repositories.CaptureSource, sink Sink, interval time.Duration, clk clock.Clock, m *metrics.Metrics, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Scheduler{
		source:   source,
		sink:     sink,
		clock:    clk,
		interval: interval,
		metrics:  m,
		logger:   logger,
	}
}

// Start begins ticking. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	ticker := s.clock.Ticker(s.interval)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(runCtx, ticker, s.done)
	s.logger.Info("Capture scheduler started", zap.Duration("interval", s.interval))
}

// Stop halts scheduling and waits for the loop to exit.
// A frame acquisition in progress is cancelled; submissions already dispatched are not affected.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("Capture scheduler stopped")
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) loop(ctx context.Context, ticker *clock.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	frame, err := s.source.AcquireFrame(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		s.metrics.CaptureFailed()
		s.logger.Warn("Frame capture failed", zap.Error(err))
		s.sink.CaptureFailed(ctx, err)
		return
	}
	s.metrics.FrameCaptured()

	if !s.sink.Idle() {
		s.metrics.FrameDropped()
		s.logger.Debug("Dropping frame, prediction in flight", zap.String("frameID", frame.ID))
		return
	}

	s.sink.Dispatch(ctx, frame)
}
