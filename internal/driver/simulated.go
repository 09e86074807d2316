package driver

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/brightlinelabs/depthstream/internal/model"
)

var errNotOpen = errors.New("driver: device not open")

// Simulated is a synthetic Driver standing in for the out-of-scope
// camera hardware (spec.md §1, §6.1). It generates plausible depth,
// infrared, color and body frames on a fixed tick so the rest of the
// pipeline can be developed and tested without the real sensor.
type Simulated struct {
	FPS int // frames per second per stream, default 30

	mu       sync.Mutex
	opened   bool
	streams  map[model.StreamKind]chan FrameEvent
	stopFns  map[model.StreamKind]context.CancelFunc
	multiCh  chan MultiSourceEvent
	multiCancel context.CancelFunc
	led      LEDColor
	irOn     bool
	tilt     float64
	seq      int64
}

func NewSimulated(fps int) *Simulated {
	if fps <= 0 {
		fps = 30
	}
	return &Simulated{
		FPS:     fps,
		streams: make(map[model.StreamKind]chan FrameEvent),
		stopFns: make(map[model.StreamKind]context.CancelFunc),
	}
}

func (s *Simulated) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = true
	return nil
}

func (s *Simulated) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for kind, cancel := range s.stopFns {
		cancel()
		delete(s.stopFns, kind)
	}
	if s.multiCancel != nil {
		s.multiCancel()
		s.multiCancel = nil
	}
	s.opened = false
	return nil
}

func (s *Simulated) OpenStream(kind model.StreamKind) (<-chan FrameEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return nil, errNotOpen
	}
	if ch, ok := s.streams[kind]; ok {
		return ch, nil
	}
	ch := make(chan FrameEvent, 4)
	ctx, cancel := context.WithCancel(context.Background())
	s.streams[kind] = ch
	s.stopFns[kind] = cancel
	go s.generate(ctx, kind, ch)
	return ch, nil
}

func (s *Simulated) CloseStream(kind model.StreamKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.stopFns[kind]; ok {
		cancel()
		delete(s.stopFns, kind)
	}
	if ch, ok := s.streams[kind]; ok {
		close(ch)
		delete(s.streams, kind)
	}
	return nil
}

func (s *Simulated) OpenMultiSource() (<-chan MultiSourceEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return nil, errNotOpen
	}
	if s.multiCh != nil {
		return s.multiCh, nil
	}
	s.multiCh = make(chan MultiSourceEvent, 4)
	ctx, cancel := context.WithCancel(context.Background())
	s.multiCancel = cancel
	go s.generateMulti(ctx, s.multiCh)
	return s.multiCh, nil
}

func (s *Simulated) CloseMultiSource() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.multiCancel != nil {
		s.multiCancel()
		s.multiCancel = nil
	}
	if s.multiCh != nil {
		close(s.multiCh)
		s.multiCh = nil
	}
	return nil
}

func (s *Simulated) SetLED(color LEDColor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.led = color
	return nil
}

func (s *Simulated) SetIREmitter(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.irOn = enabled
	return nil
}

func (s *Simulated) SetTilt(angle float64) error {
	if angle < -27 || angle > 27 {
		return errors.New("driver: tilt angle out of range")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tilt = angle
	return nil
}

func (s *Simulated) generate(ctx context.Context, kind model.StreamKind, ch chan<- FrameEvent) {
	interval := time.Second / time.Duration(s.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ev := s.frameFor(kind)
			select {
			case ch <- ev:
			default:
				// Downstream sensor queue will apply its own
				// backpressure; a full local channel here just
				// means we skip a tick rather than block capture.
			}
		}
	}
}

func (s *Simulated) generateMulti(ctx context.Context, ch chan<- MultiSourceEvent) {
	interval := time.Second / time.Duration(s.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UnixMilli()
			frames := make(map[model.StreamKind]FrameEvent, len(model.Kinds))
			for _, kind := range model.Kinds {
				frames[kind] = s.frameFor(kind)
			}
			ev := MultiSourceEvent{TimestampMs: now, Frames: frames}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

func (s *Simulated) frameFor(kind model.StreamKind) FrameEvent {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()
	now := time.Now().UnixMilli()

	if kind == model.KindBody {
		return FrameEvent{Kind: kind, Bodies: s.syntheticBodies(seq), CapturedAtMs: now}
	}

	geo := model.Geometry(kind)
	data := make([]byte, geo.Width*geo.Height*geo.BytesPerPixel)
	switch kind {
	case model.KindDepth, model.KindInfrared:
		for i := 0; i < geo.Width*geo.Height; i++ {
			v := uint16(1000 + int(seq)%2000 + int(500*math.Sin(float64(i)/5000.0)))
			data[2*i] = byte(v)
			data[2*i+1] = byte(v >> 8)
		}
	case model.KindColor:
		for i := 0; i < geo.Width*geo.Height; i++ {
			base := byte((int(seq) + i) % 256)
			data[4*i] = base
			data[4*i+1] = byte(255 - int(base))
			data[4*i+2] = 128
			data[4*i+3] = 255
		}
	}
	return FrameEvent{Kind: kind, Data: data, CapturedAtMs: now}
}

func (s *Simulated) syntheticBodies(seq int64) []model.BodyRecord {
	sway := math.Sin(float64(seq) / 10.0)
	joints := map[string]model.BodyJoint{
		"SpineBase":  {Position: model.Vec3{X: 0, Y: 0, Z: 2}, TrackingState: 2, Confidence: 0.95},
		"SpineMid":   {Position: model.Vec3{X: 0, Y: 0.3, Z: 2}, TrackingState: 2, Confidence: 0.95},
		"Head":       {Position: model.Vec3{X: 0, Y: 1.5, Z: 2}, TrackingState: 2, Confidence: 0.9},
		"HandRight":  {Position: model.Vec3{X: 0.4 + sway*0.3, Y: 0.8, Z: 2}, TrackingState: 2, Confidence: 0.85},
		"HandLeft":   {Position: model.Vec3{X: -0.4, Y: 0.8, Z: 2}, TrackingState: 2, Confidence: 0.85},
	}
	return []model.BodyRecord{
		{TrackingID: 1, Tracked: true, Joints: joints},
	}
}
