// Package bufferpool implements the typed, per-stream reusable-buffer
// allocator described in spec.md §4.1: a LIFO free list per stream
// kind, lazy growth up to a global cap, and an event channel reporting
// exhaustion, releases and resizes.
package bufferpool

import (
	"sync"

	"github.com/brightlinelabs/depthstream/internal/model"
)

// BufferSpec is the static shape of one stream kind's buffers.
type BufferSpec struct {
	Kind          model.StreamKind
	ElementWidth  int // bytes per element (e.g. 2 for uint16 depth/IR)
	ElementCount  int // elements per frame (W*H, or W*H*4 for RGBA)
	InitialSize   int
	ExpandSize    int
}

func (s BufferSpec) byteSize() int { return s.ElementWidth * s.ElementCount }

// Buffer is a typed, fixed-size region owned by the pool and borrowed
// by at most one holder at a time. Equality is by identity (pointer).
type Buffer struct {
	Kind model.StreamKind
	Data []byte
}

type kindPool struct {
	spec        BufferSpec
	free        []*Buffer // LIFO free list
	outstanding map[*Buffer]struct{}
}

// Pool is a mapping from stream kind to its kindPool, internally
// serialized so every public operation is atomic with respect to
// concurrent callers (spec.md §5).
type Pool struct {
	mu          sync.Mutex
	kinds       map[model.StreamKind]*kindPool
	maxPoolSize int
	totalAll    int

	hits, misses, created, released uint64
	peakInUse                       int

	events chan Event
}

// New creates a pool pre-allocating InitialSize buffers for every spec,
// subject to maxPoolSize across all kinds combined.
func New(specs []BufferSpec, maxPoolSize int) *Pool {
	p := &Pool{
		kinds:       make(map[model.StreamKind]*kindPool, len(specs)),
		maxPoolSize: maxPoolSize,
		events:      make(chan Event, 64),
	}
	for _, spec := range specs {
		p.kinds[spec.Kind] = &kindPool{
			spec:        spec,
			outstanding: make(map[*Buffer]struct{}),
		}
	}
	p.initializeLocked()
	return p
}

// Events returns the channel on which PoolExhausted/BufferReleased/
// PoolResized events are delivered. Never closed while the pool exists.
func (p *Pool) Events() <-chan Event { return p.events }

func (p *Pool) emit(ev Event) {
	switch ev.Kind {
	case EventPoolExhausted:
		exhaustedTotal.WithLabelValues(string(ev.StreamKind)).Inc()
	}
	inUseGauge.WithLabelValues(string(ev.StreamKind)).Set(float64(ev.InUse))
	totalGauge.WithLabelValues(string(ev.StreamKind)).Set(float64(ev.Total))
	select {
	case p.events <- ev:
	default:
		// Slow/absent consumer: drop rather than block the hot path.
	}
}

// initializeLocked pre-allocates InitialSize buffers per kind. Caller
// must hold p.mu (or call only during New, before the pool is shared).
func (p *Pool) initializeLocked() {
	for _, kind := range model.Kinds {
		kp, ok := p.kinds[kind]
		if !ok {
			continue
		}
		kp.free = kp.free[:0]
		for i := 0; i < kp.spec.InitialSize; i++ {
			if p.totalAll >= p.maxPoolSize {
				break
			}
			kp.free = append(kp.free, p.allocLocked(kp.spec))
		}
	}
}

func (p *Pool) allocLocked(spec BufferSpec) *Buffer {
	p.totalAll++
	p.created++
	return &Buffer{Kind: spec.Kind, Data: make([]byte, spec.byteSize())}
}

// Acquire pops a free buffer for kind, growing the pool by up to
// ExpandSize (subject to the global cap) on a miss. Returns
// ErrPoolExhausted if no buffer could be produced; the caller must drop
// the frame in that case.
func (p *Pool) Acquire(kind model.StreamKind) (*Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	kp, ok := p.kinds[kind]
	if !ok {
		return nil, ErrUnknownKind
	}

	if n := len(kp.free); n > 0 {
		buf := kp.free[n-1]
		kp.free = kp.free[:n-1]
		kp.outstanding[buf] = struct{}{}
		p.hits++
		p.trackPeakLocked()
		return buf, nil
	}

	p.misses++
	grown := 0
	for grown < kp.spec.ExpandSize && p.totalAll < p.maxPoolSize {
		kp.free = append(kp.free, p.allocLocked(kp.spec))
		grown++
	}
	if len(kp.free) == 0 {
		p.emit(Event{
			Kind:       EventPoolExhausted,
			StreamKind: kind,
			Total:      p.kindTotalLocked(kp),
			InUse:      len(kp.outstanding),
		})
		return nil, ErrPoolExhausted
	}
	n := len(kp.free)
	buf := kp.free[n-1]
	kp.free = kp.free[:n-1]
	kp.outstanding[buf] = struct{}{}
	p.trackPeakLocked()
	return buf, nil
}

func (p *Pool) kindTotalLocked(kp *kindPool) int {
	return len(kp.free) + len(kp.outstanding)
}

func (p *Pool) trackPeakLocked() {
	inUse := 0
	for _, kp := range p.kinds {
		inUse += len(kp.outstanding)
	}
	if inUse > p.peakInUse {
		p.peakInUse = inUse
	}
}

// Release returns buf to kind's free list. zeroFill controls whether
// the buffer's contents are wiped before reuse.
func (p *Pool) Release(kind model.StreamKind, buf *Buffer, zeroFill bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	kp, ok := p.kinds[kind]
	if !ok {
		return ErrUnknownKind
	}
	if _, held := kp.outstanding[buf]; !held {
		return ErrUntrackedBuffer
	}
	delete(kp.outstanding, buf)
	if zeroFill {
		for i := range buf.Data {
			buf.Data[i] = 0
		}
	}
	kp.free = append(kp.free, buf)
	p.released++

	p.emit(Event{
		Kind:       EventBufferReleased,
		StreamKind: kind,
		Total:      p.kindTotalLocked(kp),
		InUse:      len(kp.outstanding),
		Available:  len(kp.free),
	})
	return nil
}

// Resize changes the global cap. Buffers above the new cap are
// discarded from free lists (not from outstanding buffers, which are
// always allowed to be released). Rejects if newMax is below the
// current total in-use count.
func (p *Pool) Resize(newMax int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	inUse := 0
	for _, kp := range p.kinds {
		inUse += len(kp.outstanding)
	}
	if newMax < inUse {
		return ErrResizeBelowInUse
	}
	p.maxPoolSize = newMax

	for p.totalAll > p.maxPoolSize {
		trimmed := false
		for _, kind := range model.Kinds {
			kp, ok := p.kinds[kind]
			if !ok || len(kp.free) == 0 {
				continue
			}
			kp.free = kp.free[:len(kp.free)-1]
			p.totalAll--
			trimmed = true
			if p.totalAll <= p.maxPoolSize {
				break
			}
		}
		if !trimmed {
			break
		}
	}

	p.emit(Event{Kind: EventPoolResized, MaxSize: p.maxPoolSize, Total: p.totalAll})
	return nil
}

// Clear rejects while any buffer is outstanding, otherwise discards all
// buffers and re-initializes InitialSize per kind.
func (p *Pool) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, kp := range p.kinds {
		if len(kp.outstanding) > 0 {
			return ErrClearWhileInUse
		}
	}
	p.totalAll = 0
	for _, kp := range p.kinds {
		kp.free = nil
	}
	p.initializeLocked()
	return nil
}

// Stats returns the current counters and a per-kind byte breakdown.
func (p *Pool) Stats() model.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := model.PoolStats{
		PerKind:     make(map[model.StreamKind]model.KindStats, len(p.kinds)),
		Hits:        p.hits,
		Misses:      p.misses,
		Created:     p.created,
		Released:    p.released,
		PeakInUse:   p.peakInUse,
		MaxPoolSize: p.maxPoolSize,
	}
	var totalBytes int64
	for kind, kp := range p.kinds {
		total := p.kindTotalLocked(kp)
		bytesEach := kp.spec.byteSize()
		stats.PerKind[kind] = model.KindStats{
			Available: len(kp.free),
			InUse:     len(kp.outstanding),
			Total:     total,
			BytesEach: bytesEach,
		}
		totalBytes += int64(total) * int64(bytesEach)
	}
	stats.TotalBytes = totalBytes
	return stats
}
