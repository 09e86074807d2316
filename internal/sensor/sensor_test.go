package sensor

import (
	"context"
	"testing"
	"time"

	"github.com/brightlinelabs/depthstream/internal/bufferpool"
	"github.com/brightlinelabs/depthstream/internal/driver"
	"github.com/brightlinelabs/depthstream/internal/model"
	"github.com/brightlinelabs/depthstream/internal/servicelog"
	"github.com/brightlinelabs/depthstream/internal/worker"
)

// fakeDriver hands out a channel the test controls directly.
type fakeDriver struct {
	ch chan driver.FrameEvent
}

func newFakeDriver() *fakeDriver { return &fakeDriver{ch: make(chan driver.FrameEvent, 8)} }

func (f *fakeDriver) Open(ctx context.Context) error { return nil }
func (f *fakeDriver) Close() error                   { return nil }
func (f *fakeDriver) OpenStream(kind model.StreamKind) (<-chan driver.FrameEvent, error) {
	return f.ch, nil
}
func (f *fakeDriver) CloseStream(kind model.StreamKind) error { return nil }
func (f *fakeDriver) OpenMultiSource() (<-chan driver.MultiSourceEvent, error) {
	return nil, nil
}
func (f *fakeDriver) CloseMultiSource() error            { return nil }
func (f *fakeDriver) SetLED(driver.LEDColor) error       { return nil }
func (f *fakeDriver) SetIREmitter(bool) error            { return nil }
func (f *fakeDriver) SetTilt(float64) error              { return nil }

func testLogger(t *testing.T) servicelog.Logger {
	t.Helper()
	l, err := servicelog.New(servicelog.Options{})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

func irFrame() []byte {
	geo := model.Geometry(model.KindInfrared)
	return make([]byte, geo.Width*geo.Height*geo.BytesPerPixel)
}

func TestSensorProcessesFrameEndToEnd(t *testing.T) {
	drv := newFakeDriver()
	pool := bufferpool.New([]bufferpool.BufferSpec{
		{Kind: model.KindInfrared, ElementWidth: 2, ElementCount: 512 * 424, InitialSize: 2, ExpandSize: 2},
	}, 10)

	s := New(model.KindInfrared, drv, pool, worker.ProcessIR, func() any { return worker.IRParams{} }, Config{}, testLogger(t))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	drv.ch <- driver.FrameEvent{Kind: model.KindInfrared, Data: irFrame(), CapturedAtMs: 1}

	select {
	case ev := <-s.Events():
		if ev.Kind != EventFrame {
			t.Fatalf("expected EventFrame, got %v (err=%v)", ev.Kind, ev.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for processed frame")
	}

	status := s.Status()
	if status.FramesProcessed != 1 {
		t.Fatalf("expected 1 frame processed, got %d", status.FramesProcessed)
	}
}

func TestSensorRejectsMismatchedFrameSize(t *testing.T) {
	drv := newFakeDriver()
	pool := bufferpool.New([]bufferpool.BufferSpec{
		{Kind: model.KindInfrared, ElementWidth: 2, ElementCount: 512 * 424, InitialSize: 2, ExpandSize: 2},
	}, 10)
	s := New(model.KindInfrared, drv, pool, worker.ProcessIR, func() any { return worker.IRParams{} }, Config{}, testLogger(t))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	drv.ch <- driver.FrameEvent{Kind: model.KindInfrared, Data: []byte{1, 2, 3}, CapturedAtMs: 1}

	select {
	case ev := <-s.Events():
		if ev.Kind != EventError {
			t.Fatalf("expected EventError, got %v", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for error event")
	}
}

func TestSensorQueueOverflowDropsOldest(t *testing.T) {
	drv := newFakeDriver()
	pool := bufferpool.New([]bufferpool.BufferSpec{
		{Kind: model.KindInfrared, ElementWidth: 2, ElementCount: 512 * 424, InitialSize: 8, ExpandSize: 2},
	}, 20)

	release := make(chan struct{})
	blocking := func(frame model.RawFrame, p any) (model.ProcessedFrame, []worker.SideMessage, error) {
		<-release
		return model.ProcessedFrame{Kind: model.KindInfrared}, nil, nil
	}

	s := New(model.KindInfrared, drv, pool, blocking, func() any { return nil }, Config{QueueMax: 2}, testLogger(t))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		close(release)
		s.Stop()
	}()

	for i := 0; i < 4; i++ {
		drv.ch <- driver.FrameEvent{Kind: model.KindInfrared, Data: irFrame(), CapturedAtMs: int64(i)}
		time.Sleep(10 * time.Millisecond)
	}

	status := s.Status()
	if status.MissedFrames == 0 {
		t.Fatalf("expected missed frames from queue overflow, got status %+v", status)
	}
}
