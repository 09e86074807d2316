package framesync

import (
	"testing"
	"time"

	"github.com/brightlinelabs/depthstream/internal/driver"
	"github.com/brightlinelabs/depthstream/internal/model"
)

func TestNewRejectsEmptyRequiredSet(t *testing.T) {
	if _, err := New(Config{}); err != ErrNoRequiredKinds {
		t.Fatalf("expected ErrNoRequiredKinds, got %v", err)
	}
}

func TestSyncBundleEmittedWithinWindow(t *testing.T) {
	s, err := New(Config{
		Required:   []model.StreamKind{model.KindDepth, model.KindColor},
		SyncWindow: 50 * time.Millisecond,
		DropAfter:  time.Second,
		BufferSize: 4,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	src := make(chan driver.MultiSourceEvent, 1)
	go s.Run(src)
	defer s.Stop()

	src <- driver.MultiSourceEvent{TimestampMs: 1000, Frames: map[model.StreamKind]driver.FrameEvent{
		model.KindDepth: {Kind: model.KindDepth, CapturedAtMs: 1000},
		model.KindColor: {Kind: model.KindColor, CapturedAtMs: 1010},
	}}

	select {
	case bundle := <-s.Bundles():
		if len(bundle.Frames) != 2 {
			t.Fatalf("expected 2 frames in bundle, got %d", len(bundle.Frames))
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sync bundle")
	}

	stats := s.Stats()
	if stats.Synced != 1 {
		t.Fatalf("expected 1 synced bundle, got %d", stats.Synced)
	}
}

func TestStaleSlotDroppedAfterDropAfter(t *testing.T) {
	s, err := New(Config{
		Required:   []model.StreamKind{model.KindDepth, model.KindColor},
		SyncWindow: 10 * time.Millisecond,
		DropAfter:  20 * time.Millisecond,
		BufferSize: 4,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	src := make(chan driver.MultiSourceEvent, 2)
	go s.Run(src)
	defer s.Stop()

	src <- driver.MultiSourceEvent{TimestampMs: 1000, Frames: map[model.StreamKind]driver.FrameEvent{
		model.KindDepth: {Kind: model.KindDepth, CapturedAtMs: 1000},
	}}
	time.Sleep(20 * time.Millisecond)
	src <- driver.MultiSourceEvent{TimestampMs: 1050, Frames: map[model.StreamKind]driver.FrameEvent{
		model.KindColor: {Kind: model.KindColor, CapturedAtMs: 1050},
	}}

	select {
	case ev := <-s.Events():
		if ev.Kind != EventFrameDropped {
			t.Fatalf("expected EventFrameDropped, got %v", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for drop event")
	}
}
