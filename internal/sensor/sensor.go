// Package sensor implements the per-kind Sensor (spec.md §4.3): driver
// subscription, bounded FIFO head-drop queue, worker supervision with
// bounded restarts, and FPS/process-time metrics.
//
// Grounded on the teacher's internal/driver/watcher.FileWatch state
// machine and retry shape (cmd/driver/media.go), generalized from
// "watch a directory for new files" to "watch a driver stream for
// frames and keep exactly one worker alive to process them". The
// bounded frame queue is internal/queue.Ring, adapted from the
// teacher's internal/driver/fifo.Fifo head-drop ring buffer.
package sensor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/brightlinelabs/depthstream/internal/bufferpool"
	"github.com/brightlinelabs/depthstream/internal/driver"
	"github.com/brightlinelabs/depthstream/internal/model"
	"github.com/brightlinelabs/depthstream/internal/queue"
	"github.com/brightlinelabs/depthstream/internal/servicelog"
	"github.com/brightlinelabs/depthstream/internal/worker"
)

// Config holds the per-sensor tunables (spec.md §4.3, §6.3
// sensors.<kind>).
type Config struct {
	QueueMax           int
	HealthCheckInterval time.Duration
	FrameTimeout        time.Duration
	MaxRestarts         int
}

type queuedFrame struct {
	raw model.RawFrame
	buf *bufferpool.Buffer // nil for KindBody, which has no pooled payload
}

// Sensor owns one enabled stream kind end to end: driver subscription,
// worker, bounded queue and supervision.
type Sensor struct {
	kind    model.StreamKind
	cfg     Config
	drv     driver.Driver
	pool    *bufferpool.Pool
	process worker.Process
	params  func() any // read fresh each dispatch so config hot-reload is picked up
	logger  servicelog.Logger

	events chan Event

	mu              sync.Mutex
	state           model.SensorState
	queue           *queue.Ring[queuedFrame]
	restartAttempts int
	framesProcessed uint64
	missedFrames    uint64
	lastProcessMs   float64
	minProcessMs    float64
	maxProcessMs    float64
	fpsWindowStart  time.Time
	fpsWindowCount  int
	fps             float64

	cancel     context.CancelFunc
	wrk        *worker.Worker
	driverCh   <-chan driver.FrameEvent
	loopDone   chan struct{}
}

// New constructs a Sensor. process is the kind-specific pure
// processing function (worker.ProcessDepth et al., or a
// BodyProcessor's bound method); params returns the current
// kind-specific parameters and may be re-evaluated on every dispatch.
func New(kind model.StreamKind, drv driver.Driver, pool *bufferpool.Pool, process worker.Process, params func() any, cfg Config, logger servicelog.Logger) *Sensor {
	if cfg.QueueMax <= 0 {
		cfg.QueueMax = 4
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = 5 * time.Second
	}
	if cfg.FrameTimeout <= 0 {
		cfg.FrameTimeout = 2 * time.Second
	}
	return &Sensor{
		kind:    kind,
		cfg:     cfg,
		drv:     drv,
		pool:    pool,
		process: process,
		params:  params,
		logger:  logger.With(servicelog.String("kind", string(kind))),
		events:  make(chan Event, 16),
		state:   model.SensorStopped,
		queue:   queue.New[queuedFrame](cfg.QueueMax),
	}
}

// Events is the worker-response path's output (spec.md §4.3).
func (s *Sensor) Events() <-chan Event { return s.events }

func (s *Sensor) transition(to model.SensorState) {
	from := s.state
	s.state = to
	s.logger.Info("sensor state transition",
		servicelog.String("from", from.String()),
		servicelog.String("to", to.String()))
}

// Start opens the driver stream and begins processing. Idempotent
// when already Running.
func (s *Sensor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == model.SensorRunning {
		return nil
	}
	s.transition(model.SensorStarting)

	ch, err := s.drv.OpenStream(s.kind)
	if err != nil {
		s.transition(model.SensorStopped)
		s.logger.Warn("driver refused stream open", servicelog.Error(err))
		return err
	}
	s.driverCh = ch

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wrk = worker.New(s.kind, s.process, s.logger)
	s.loopDone = make(chan struct{})
	s.restartAttempts = 0
	s.fpsWindowStart = time.Now()

	go s.wrk.Run(runCtx)
	go s.runLoop(runCtx)

	s.transition(model.SensorRunning)
	return nil
}

// Stop closes the driver stream, drains and releases queued buffers,
// and terminates the worker.
func (s *Sensor) Stop() error {
	s.mu.Lock()
	if s.state == model.SensorStopped {
		s.mu.Unlock()
		return nil
	}
	s.transition(model.SensorStopping)
	cancel := s.cancel
	done := s.loopDone
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	if err := s.drv.CloseStream(s.kind); err != nil {
		s.logger.Warn("error closing driver stream", servicelog.Error(err))
	}

	s.mu.Lock()
	s.drainQueueLocked()
	s.transition(model.SensorStopped)
	s.mu.Unlock()
	return nil
}

// Cleanup stops the sensor and releases any outstanding state; safe
// to call on an already-stopped sensor.
func (s *Sensor) Cleanup() error { return s.Stop() }

func (s *Sensor) drainQueueLocked() {
	for _, qf := range s.queue.Drain() {
		if qf.buf != nil {
			s.pool.Release(s.kind, qf.buf, false)
		}
	}
}

// Status returns a point-in-time snapshot (spec.md §4.3).
func (s *Sensor) Status() model.SensorStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.SensorStatus{
		Kind:            s.kind,
		Running:         s.state == model.SensorRunning,
		FPS:             s.fps,
		LastProcessMs:   s.lastProcessMs,
		MinProcessMs:    s.minProcessMs,
		MaxProcessMs:    s.maxProcessMs,
		FramesProcessed: s.framesProcessed,
		MissedFrames:    s.missedFrames,
		RestartAttempts: s.restartAttempts,
		MaxRestarts:     s.cfg.MaxRestarts,
		QueueDepth:      s.queue.Len(),
	}
}

func (s *Sensor) runLoop(ctx context.Context) {
	defer close(s.loopDone)
	healthTicker := time.NewTicker(s.cfg.HealthCheckInterval)
	defer healthTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case fe, ok := <-s.driverCh:
			if !ok {
				return
			}
			s.onDriverFrame(fe)
		case res, ok := <-s.currentWorker().Results():
			if !ok {
				return
			}
			s.onWorkerResult(res)
		case <-healthTicker.C:
			s.healthCheck(ctx)
		}
	}
}

func (s *Sensor) onDriverFrame(fe driver.FrameEvent) {
	var expected int
	if s.kind != model.KindBody {
		geo := model.Geometry(s.kind)
		expected = geo.Width * geo.Height * geo.BytesPerPixel
		if len(fe.Data) != expected {
			s.emitError(fmt.Errorf("sensor: frame size mismatch, want %d got %d", expected, len(fe.Data)))
			return
		}
	}

	var qf queuedFrame
	if s.kind == model.KindBody {
		qf = queuedFrame{raw: model.RawFrame{Kind: s.kind, CapturedAtMs: fe.CapturedAtMs, Bodies: fe.Bodies}}
	} else {
		buf, err := s.pool.Acquire(s.kind)
		if err != nil {
			s.emitError(fmt.Errorf("sensor: %w", err))
			return
		}
		n := copy(buf.Data, fe.Data)
		qf = queuedFrame{raw: model.RawFrame{Kind: s.kind, Data: buf.Data[:n], CapturedAtMs: fe.CapturedAtMs}, buf: buf}
	}

	s.mu.Lock()
	evictedFrame, evicted := s.queue.Push(qf)
	if evicted {
		if evictedFrame.buf != nil {
			s.pool.Release(s.kind, evictedFrame.buf, false)
		}
		s.missedFrames++
		missedFramesTotal.WithLabelValues(string(s.kind)).Inc()
		s.logger.Warn("queue overflow, dropping oldest frame")
	}
	queueDepthGauge.WithLabelValues(string(s.kind)).Set(float64(s.queue.Len()))
	s.mu.Unlock()

	s.tryDispatch()
}

func (s *Sensor) currentWorker() *worker.Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wrk
}

func (s *Sensor) tryDispatch() {
	s.mu.Lock()
	front, ok := s.queue.Peek()
	if !ok {
		s.mu.Unlock()
		return
	}
	params := s.params()
	wrk := s.wrk
	s.mu.Unlock()

	if wrk.Submit(front.raw, params, front.buf) {
		s.mu.Lock()
		s.queue.Pop()
		queueDepthGauge.WithLabelValues(string(s.kind)).Set(float64(s.queue.Len()))
		s.mu.Unlock()
	}
}

func (s *Sensor) onWorkerResult(res worker.Result) {
	if buf, ok := res.Token.(*bufferpool.Buffer); ok && buf != nil {
		s.pool.Release(s.kind, buf, false)
	}
	if res.Err != nil {
		s.emitError(res.Err)
		s.tryDispatch()
		return
	}

	s.mu.Lock()
	s.framesProcessed++
	s.lastProcessMs = res.Artifact.ProcessTimeMs
	if s.minProcessMs == 0 || res.Artifact.ProcessTimeMs < s.minProcessMs {
		s.minProcessMs = res.Artifact.ProcessTimeMs
	}
	if res.Artifact.ProcessTimeMs > s.maxProcessMs {
		s.maxProcessMs = res.Artifact.ProcessTimeMs
	}
	s.fpsWindowCount++
	if elapsed := time.Since(s.fpsWindowStart); elapsed >= time.Second {
		s.fps = float64(s.fpsWindowCount) / elapsed.Seconds()
		fpsGauge.WithLabelValues(string(s.kind)).Set(s.fps)
		s.fpsWindowCount = 0
		s.fpsWindowStart = time.Now()
	}
	s.mu.Unlock()

	res.Artifact.EmittedAtMs = time.Now().UnixMilli()
	s.emit(Event{Kind: EventFrame, Frame: res.Artifact})
	for _, side := range res.Side {
		if side.Movement != nil {
			s.emit(Event{Kind: EventMovement, Movement: *side.Movement})
		}
		if side.Gesture != nil {
			s.emit(Event{Kind: EventGesture, Gesture: *side.Gesture})
		}
	}

	s.tryDispatch()
}

func (s *Sensor) healthCheck(ctx context.Context) {
	_, ok := s.currentWorker().HealthCheck(s.cfg.FrameTimeout)
	if ok {
		return
	}
	s.logger.Warn("worker missed health check, restarting")
	s.restartWorker(ctx)
}

func (s *Sensor) restartWorker(ctx context.Context) {
	s.mu.Lock()
	s.restartAttempts++
	attempts := s.restartAttempts
	max := s.cfg.MaxRestarts
	s.mu.Unlock()

	restartsTotal.WithLabelValues(string(s.kind)).Inc()

	if max > 0 && attempts > max {
		s.logger.Error("worker exceeded max restarts, stopping sensor",
			servicelog.Int("attempts", attempts), servicelog.Int("max", max))
		s.mu.Lock()
		s.transition(model.SensorFailed)
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel() // unblocks runLoop's ctx.Done case; it exits without re-touching state
		}
		if err := s.drv.CloseStream(s.kind); err != nil {
			s.logger.Warn("error closing driver stream", servicelog.Error(err))
		}
		s.mu.Lock()
		s.drainQueueLocked()
		s.mu.Unlock()
		s.emitError(fmt.Errorf("sensor: worker exceeded max restarts (%d)", max))
		return
	}

	wrk := worker.New(s.kind, s.process, s.logger)
	s.mu.Lock()
	s.wrk = wrk
	s.mu.Unlock()
	go wrk.Run(ctx)
}

func (s *Sensor) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("sensor event channel full, dropping event")
	}
}

func (s *Sensor) emitError(err error) {
	s.emit(Event{Kind: EventError, Err: err})
}
