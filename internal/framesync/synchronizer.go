// Package framesync implements the MultiSourceSynchronizer (spec.md
// §4.4): a sliding-window aligner that turns the driver's combined
// multi-source emission into bundles where every required stream kind
// agrees within a tight time window.
//
// Grounded on alesr-tidstrom/streambuffer.go's single-goroutine,
// channel-driven event loop with atomic counters and a running/stopped
// flag pair; adapted from "retain a time window over one stream" to
// "hold one slot per kind and bundle them once they agree".
package framesync

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brightlinelabs/depthstream/internal/driver"
	"github.com/brightlinelabs/depthstream/internal/model"
)

// ErrNoRequiredKinds is returned by New when the configured required
// set is empty (spec.md §4.4: "must declare at least one enabled kind").
var ErrNoRequiredKinds = errors.New("framesync: at least one required kind must be configured")

// Config tunes the synchronizer (spec.md §4.4, §6.3 frameSync).
type Config struct {
	Required   []model.StreamKind
	SyncWindow time.Duration
	DropAfter  time.Duration
	BufferSize int
}

// EventKind discriminates the synchronizer's side-channel emissions.
type EventKind int

const (
	EventFrameDropped EventKind = iota
	EventBufferOverflow
)

// Event is one side-channel emission alongside SyncBundles.
type Event struct {
	Kind    EventKind
	StreamKind model.StreamKind
	DelayMs int64 // set for EventFrameDropped
	Size    int   // set for EventBufferOverflow
}

// Stats is the point-in-time counters snapshot (spec.md §4.4), reset
// on Stop.
type Stats struct {
	Synced          uint64
	Dropped         uint64
	LastSyncDelayMs int64
	MaxSyncDelayMs  int64
	FrameDelaysMs   map[model.StreamKind]int64
	BufferOverflows uint64
	SyncAttempts    uint64
	Running         bool
}

type slot struct {
	frame     driver.FrameEvent
	updatedAt int64 // ms
}

// Synchronizer subscribes to a driver's combined multi-source channel
// and emits SyncBundles on Bundles() once every required kind agrees
// within SyncWindow.
type Synchronizer struct {
	cfg Config

	bundles chan model.SyncBundle
	events  chan Event

	running  atomic.Bool
	stopped  atomic.Bool
	shutdown chan struct{}

	mu    sync.Mutex
	slots map[model.StreamKind]slot

	synced, dropped, overflows, attempts atomic.Uint64
	lastDelayMs, maxDelayMs               atomic.Int64
	delayMu                               sync.Mutex
	frameDelaysMs                         map[model.StreamKind]int64
}

// New constructs a Synchronizer. Returns ErrNoRequiredKinds if no kind
// is configured.
func New(cfg Config) (*Synchronizer, error) {
	if len(cfg.Required) == 0 {
		return nil, ErrNoRequiredKinds
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = len(cfg.Required)
	}
	return &Synchronizer{
		cfg:            cfg,
		bundles:        make(chan model.SyncBundle, 4),
		events:         make(chan Event, 16),
		slots:          make(map[model.StreamKind]slot),
		frameDelaysMs:  make(map[model.StreamKind]int64),
		shutdown:       make(chan struct{}),
	}, nil
}

// Bundles is the aligned-frame output channel.
func (s *Synchronizer) Bundles() <-chan model.SyncBundle { return s.bundles }

// Events is the drop/overflow side channel.
func (s *Synchronizer) Events() <-chan Event { return s.events }

// Run subscribes to src and processes until src closes or the
// synchronizer is stopped. Intended to run on its own goroutine.
func (s *Synchronizer) Run(src <-chan driver.MultiSourceEvent) {
	s.running.Store(true)
	defer s.running.Store(false)
	for {
		select {
		case <-s.shutdown:
			return
		case ev, ok := <-src:
			if !ok {
				return
			}
			s.process(ev)
		}
	}
}

// Stop halts processing and resets all counters (spec.md §4.4: "all
// counters reset on stop").
func (s *Synchronizer) Stop() {
	if s.stopped.CompareAndSwap(false, true) {
		close(s.shutdown)
	}
	s.synced.Store(0)
	s.dropped.Store(0)
	s.overflows.Store(0)
	s.attempts.Store(0)
	s.lastDelayMs.Store(0)
	s.maxDelayMs.Store(0)
	s.delayMu.Lock()
	s.frameDelaysMs = make(map[model.StreamKind]int64)
	s.delayMu.Unlock()
}

func (s *Synchronizer) process(ev driver.MultiSourceEvent) {
	s.attempts.Add(1)
	t := ev.TimestampMs

	s.mu.Lock()
	for kind, fe := range ev.Frames {
		if _, exists := s.slots[kind]; !exists && len(s.slots) >= s.cfg.BufferSize {
			s.overflows.Add(1)
			s.emitEvent(Event{Kind: EventBufferOverflow, StreamKind: kind, Size: len(s.slots)})
			continue
		}
		s.slots[kind] = slot{frame: fe, updatedAt: t}
	}

	if s.readyLocked() {
		bundle := s.bundleLocked(t)
		s.slots = make(map[model.StreamKind]slot)
		s.mu.Unlock()

		s.synced.Add(1)
		delay := bundle.MaxDelayMs
		s.lastDelayMs.Store(delay)
		for {
			cur := s.maxDelayMs.Load()
			if delay <= cur || s.maxDelayMs.CompareAndSwap(cur, delay) {
				break
			}
		}
		select {
		case s.bundles <- bundle:
		default:
		}
		return
	}

	s.expireStaleLocked(t)
	s.mu.Unlock()
}

// readyLocked reports whether every required kind has a slot and the
// spread between the oldest and newest is within the sync window.
// Caller must hold s.mu.
func (s *Synchronizer) readyLocked() bool {
	if len(s.slots) < len(s.cfg.Required) {
		return false
	}
	for _, k := range s.cfg.Required {
		if _, ok := s.slots[k]; !ok {
			return false
		}
	}
	var minTs, maxTs int64
	first := true
	for _, k := range s.cfg.Required {
		ts := s.slots[k].updatedAt
		if first {
			minTs, maxTs = ts, ts
			first = false
			continue
		}
		if ts < minTs {
			minTs = ts
		}
		if ts > maxTs {
			maxTs = ts
		}
	}
	return maxTs-minTs <= s.cfg.SyncWindow.Milliseconds()
}

// bundleLocked builds the SyncBundle from the current slots. Caller
// must hold s.mu.
func (s *Synchronizer) bundleLocked(t int64) model.SyncBundle {
	frames := make(map[model.StreamKind]model.RawFrame, len(s.cfg.Required))
	var minTs, maxTs int64
	first := true
	for _, k := range s.cfg.Required {
		sl := s.slots[k]
		frames[k] = model.RawFrame{Kind: k, Data: sl.frame.Data, Bodies: sl.frame.Bodies, CapturedAtMs: sl.frame.CapturedAtMs}
		if first {
			minTs, maxTs = sl.updatedAt, sl.updatedAt
			first = false
			continue
		}
		if sl.updatedAt < minTs {
			minTs = sl.updatedAt
		}
		if sl.updatedAt > maxTs {
			maxTs = sl.updatedAt
		}
	}
	return model.SyncBundle{TimestampMs: t, Frames: frames, MaxDelayMs: maxTs - minTs}
}

// expireStaleLocked drops slots older than DropAfter. Caller must hold
// s.mu.
func (s *Synchronizer) expireStaleLocked(now int64) {
	for kind, sl := range s.slots {
		delay := now - sl.updatedAt
		if s.cfg.DropAfter > 0 && delay > s.cfg.DropAfter.Milliseconds() {
			delete(s.slots, kind)
			s.dropped.Add(1)
			s.delayMu.Lock()
			s.frameDelaysMs[kind] = delay
			s.delayMu.Unlock()
			s.emitEvent(Event{Kind: EventFrameDropped, StreamKind: kind, DelayMs: delay})
		}
	}
}

func (s *Synchronizer) emitEvent(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}

// Stats returns a point-in-time snapshot (spec.md §4.4).
func (s *Synchronizer) Stats() Stats {
	s.delayMu.Lock()
	delays := make(map[model.StreamKind]int64, len(s.frameDelaysMs))
	for k, v := range s.frameDelaysMs {
		delays[k] = v
	}
	s.delayMu.Unlock()
	return Stats{
		Synced:          s.synced.Load(),
		Dropped:         s.dropped.Load(),
		LastSyncDelayMs: s.lastDelayMs.Load(),
		MaxSyncDelayMs:  s.maxDelayMs.Load(),
		FrameDelaysMs:   delays,
		BufferOverflows: s.overflows.Load(),
		SyncAttempts:    s.attempts.Load(),
		Running:         s.running.Load(),
	}
}
