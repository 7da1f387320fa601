package health

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/satriahrh/emotiscan/domain/entities"
)

// Watcher re-probes the service in the background while it is not connected
type Watcher struct {
	monitor  *Monitor
	clock    clock.Clock
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	done     chan struct{}
}

// NewWatcher creates a watcher; a nil clock uses the wall clock
func NewWatcher(monitor *Monitor, interval time.Duration, clk clock.Clock, logger *zap.Logger) *Watcher {
	if clk == nil {
		clk = clock.New()
	}
	return &Watcher{
		monitor:  monitor,
		clock:    clk,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the background recheck loop
func (w *Watcher) Start(ctx context.Context) {
	ticker := w.clock.Ticker(w.interval)
	go w.recheckLoop(ctx, ticker)
	w.logger.Info("Health watcher started", zap.Duration("interval", w.interval))
}

// Stop stops the loop and waits for it to exit
func (w *Watcher) Stop() {
	close(w.stopChan)
	<-w.done
	w.logger.Info("Health watcher stopped")
}

func (w *Watcher) recheckLoop(ctx context.Context, ticker *clock.Ticker) {
	defer close(w.done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			if w.monitor.State() == entities.HealthConnected {
				continue
			}
			w.logger.Debug("Rechecking emotion service health")
			w.monitor.Probe(ctx)
		}
	}
}
