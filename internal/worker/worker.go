// Package worker implements the per-kind ProcessingWorker (spec.md
// §4.2): an isolated processor consuming a raw frame + parameters and
// producing a processed artifact, with single-slot backpressure and a
// health-check probe that is always answered even mid-processing.
//
// Grounded on internal/jpeg/pool.go's Farm/farmTask goroutine-per-task
// shape, narrowed from a fan-out worker farm to one worker holding at
// most one frame in flight (REDESIGN FLAGS: "preserve the single-slot
// worker policy").
package worker

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/brightlinelabs/depthstream/internal/model"
	"github.com/brightlinelabs/depthstream/internal/servicelog"
)

// SideMessage is a movement/gesture event emitted alongside the main
// artifact (body worker only).
type SideMessage struct {
	Movement *model.MovementEvent
	Gesture  *model.GestureEvent
}

// Result is what the worker hands back to the Sensor for one input
// frame. Token is whatever opaque value was passed to Submit (the
// Sensor uses it to carry the bufferpool.Buffer it must release),
// round-tripped unchanged.
type Result struct {
	Frame    model.RawFrame
	Artifact model.ProcessedFrame
	Side     []SideMessage
	Token    any
	Err      error
}

// Process is the kind-specific pure function a worker wraps. params is
// the kind's Params struct (DepthParams, IRParams, ColorParams,
// BodyParams); dynamic dispatch over kinds happens by constructing a
// Worker with the right Process closure (REDESIGN FLAGS: "single
// struct parameterized by a kind-specific policy").
type Process func(frame model.RawFrame, params any) (model.ProcessedFrame, []SideMessage, error)

type frameTask struct {
	frame  model.RawFrame
	params any
	token  any
	seq    uint64
}

type healthCheckTask struct {
	reply chan<- HealthCheckReply
}

// HealthCheckReply answers a health-check probe.
type HealthCheckReply struct {
	Alive      bool
	Processing bool
}

// Worker's loop runs on its own goroutine, accepting frames and health
// checks over tasks, and runs Process for each accepted frame on a
// separate goroutine so health checks stay answerable meanwhile. At
// most one frame is processed at a time;
// a frame submitted while one is in flight is rejected by Submit
// itself (ok=false) so it is never pulled out of the caller's queue.
type Worker struct {
	kind    model.StreamKind
	process Process
	logger  servicelog.Logger

	tasks   chan any
	results chan Result

	processing atomic.Bool
	seq        atomic.Uint64

	done chan struct{}
}

// New constructs a Worker for kind, wired to run process. The worker
// is not started until Run is called.
func New(kind model.StreamKind, process Process, logger servicelog.Logger) *Worker {
	return &Worker{
		kind:    kind,
		process: process,
		logger:  logger,
		tasks:   make(chan any, 1),
		results: make(chan Result, 1),
		done:    make(chan struct{}),
	}
}

// Results is the channel on which processed frames (and drop-worthy
// errors) are delivered.
func (w *Worker) Results() <-chan Result { return w.results }

// Run is the worker's main loop. Intended to run on its own goroutine;
// LockOSThread pins this loop to one OS thread for the worker's life.
// Process itself runs on a per-frame goroutine that is not pinned.
func (w *Worker) Run(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return
		case task := <-w.tasks:
			switch t := task.(type) {
			case frameTask:
				// Submit already claimed the single slot (processing
				// is true) before sending this task.
				go w.runOne(t)
			case healthCheckTask:
				t.reply <- HealthCheckReply{Alive: true, Processing: w.processing.Load()}
			}
		}
	}
}

func (w *Worker) runOne(t frameTask) {
	defer w.processing.Store(false)
	start := time.Now()
	artifact, side, err := w.process(t.frame, t.params)
	artifact.ProcessTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
	artifact.Sequence = t.seq
	if err != nil {
		w.logger.Error("worker processing failed",
			servicelog.String("kind", string(w.kind)),
			servicelog.Int("seq", int(t.seq)),
			servicelog.Error(err))
	}
	select {
	case w.results <- Result{Frame: t.frame, Artifact: artifact, Side: side, Token: t.token, Err: err}:
	default:
		// Sensor isn't keeping up with its own worker; spec's
		// ordering guarantee only promises in-order delivery, not
		// unbounded buffering, so drop rather than block forever.
	}
}

// Submit hands a frame to the worker. ok is false if one was already
// in flight; the frame is never taken from the caller in that case, so
// the caller keeps it queued (and accounts for overflow) instead of
// owning a now-orphaned buffer. token is returned unchanged on the
// corresponding Result so the caller can release the right buffer
// without the worker needing to know about bufferpool.
func (w *Worker) Submit(frame model.RawFrame, params any, token any) (ok bool) {
	if !w.processing.CompareAndSwap(false, true) {
		return false
	}
	seq := w.seq.Add(1)
	select {
	case w.tasks <- frameTask{frame: frame, params: params, token: token, seq: seq}:
		return true
	default:
		w.processing.Store(false)
		return false
	}
}

// HealthCheck sends a probe and blocks until answered or timeout
// elapses. Always answered per spec.md §4.2, even mid-processing.
func (w *Worker) HealthCheck(timeout time.Duration) (HealthCheckReply, bool) {
	reply := make(chan HealthCheckReply, 1)
	select {
	case w.tasks <- healthCheckTask{reply: reply}:
	case <-time.After(timeout):
		return HealthCheckReply{}, false
	}
	select {
	case r := <-reply:
		return r, true
	case <-time.After(timeout):
		return HealthCheckReply{}, false
	}
}
