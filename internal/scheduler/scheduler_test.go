package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"github.com/satriahrh/emotiscan/domain/entities"
	"github.com/satriahrh/emotiscan/internal/metrics"
)

type fakeSource struct {
	calls atomic.Int32
	err   error
}

func (f *fakeSource) AcquireFrame(ctx context.Context) (entities.CaptureFrame, error) {
	f.calls.Add(1)
	if f.err != nil {
		return entities.CaptureFrame{}, f.err
	}
	return entities.NewCaptureFrame([]byte("jpeg"), "image/jpeg", time.Now()), nil
}

type fakeSink struct {
	busy atomic.Bool

	mu         sync.Mutex
	dispatched []entities.CaptureFrame
	errs       []error
	onDispatch func(entities.CaptureFrame)
}

func (f *fakeSink) Idle() bool {
	return !f.busy.Load()
}

func (f *fakeSink) Dispatch(_ context.Context, frame entities.CaptureFrame) {
	f.mu.Lock()
	f.dispatched = append(f.dispatched, frame)
	hook := f.onDispatch
	f.mu.Unlock()
	if hook != nil {
		hook(frame)
	}
}

func (f *fakeSink) CaptureFailed(_ context.Context, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, err)
}

func (f *fakeSink) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dispatched), len(f.errs)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newScheduler(t *testing.T, source *fakeSource, sink *fakeSink) (*Scheduler, *clock.Mock, *metrics.Metrics) {
	mock := clock.NewMock()
	m := metrics.New()
	return New(source, sink, time.Second, mock, m, zaptest.NewLogger(t)), mock, m
}

func TestDispatchesOneFramePerTick(t *testing.T) {
	source, sink := &fakeSource{}, &fakeSink{}
	s, mock, m := newScheduler(t, source, sink)

	s.Start(context.Background())
	defer s.Stop()

	mock.Add(time.Second)
	waitFor(t, func() bool { d, _ := sink.counts(); return d == 1 })

	mock.Add(time.Second)
	waitFor(t, func() bool { d, _ := sink.counts(); return d == 2 })

	test.That(t, source.calls.Load(), test.ShouldEqual, int32(2))
	test.That(t, m.Snapshot().FramesCaptured, test.ShouldEqual, int64(2))
}

func TestDropsFrameWhileBusy(t *testing.T) {
	source, sink := &fakeSource{}, &fakeSink{}
	sink.busy.Store(true)
	s, mock, m := newScheduler(t, source, sink)

	s.Start(context.Background())
	defer s.Stop()

	mock.Add(time.Second)
	waitFor(t, func() bool { return m.Snapshot().FramesDropped == 1 })
	mock.Add(time.Second)
	waitFor(t, func() bool { return m.Snapshot().FramesDropped == 2 })

	dispatched, _ := sink.counts()
	test.That(t, dispatched, test.ShouldEqual, 0)

	sink.busy.Store(false)
	mock.Add(time.Second)
	waitFor(t, func() bool { d, _ := sink.counts(); return d == 1 })
}

func TestReportsCaptureErrors(t *testing.T) {
	source := &fakeSource{err: entities.NewDetectionError(entities.ErrorKindDeviceUnavailable, "no camera", nil)}
	sink := &fakeSink{}
	s, mock, m := newScheduler(t, source, sink)

	s.Start(context.Background())
	defer s.Stop()

	mock.Add(time.Second)
	waitFor(t, func() bool { _, e := sink.counts(); return e == 1 })

	dispatched, _ := sink.counts()
	test.That(t, dispatched, test.ShouldEqual, 0)
	test.That(t, m.Snapshot().CaptureErrors, test.ShouldEqual, int64(1))
	test.That(t, s.Running(), test.ShouldBeTrue)
}

func TestStopHaltsScheduling(t *testing.T) {
	source, sink := &fakeSource{}, &fakeSink{}
	s, mock, _ := newScheduler(t, source, sink)

	s.Start(context.Background())
	s.Start(context.Background())
	test.That(t, s.Running(), test.ShouldBeTrue)

	mock.Add(time.Second)
	waitFor(t, func() bool { d, _ := sink.counts(); return d == 1 })

	s.Stop()
	s.Stop()
	test.That(t, s.Running(), test.ShouldBeFalse)

	mock.Add(5 * time.Second)
	time.Sleep(20 * time.Millisecond)
	test.That(t, source.calls.Load(), test.ShouldEqual, int32(1))
}

func TestStopLeavesDispatchedWorkRunning(t *testing.T) {
	release := make(chan struct{})
	finished := make(chan struct{})
	source, sink := &fakeSource{}, &fakeSink{}
	sink.onDispatch = func(entities.CaptureFrame) {
		sink.busy.Store(true)
		go func() {
			<-release
			sink.busy.Store(false)
			close(finished)
		}()
	}
	s, mock, _ := newScheduler(t, source, sink)

	s.Start(context.Background())
	mock.Add(time.Second)
	waitFor(t, func() bool { d, _ := sink.counts(); return d == 1 })

	s.Stop()
	close(release)

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("dispatched work did not complete after Stop")
	}
}

func TestRestartAfterStop(t *testing.T) {
	source, sink := &fakeSource{}, &fakeSink{}
	s, mock, _ := newScheduler(t, source, sink)

	s.Start(context.Background())
	s.Stop()
	s.Start(context.Background())
	defer s.Stop()

	mock.Add(time.Second)
	waitFor(t, func() bool { d, _ := sink.counts(); return d == 1 })
}
