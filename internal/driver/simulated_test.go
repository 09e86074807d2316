package driver

import (
	"context"
	"testing"
	"time"

	"github.com/brightlinelabs/depthstream/internal/model"
)

func TestOpenStreamRequiresOpenDevice(t *testing.T) {
	s := NewSimulated(60)
	if _, err := s.OpenStream(model.KindDepth); err == nil {
		t.Fatal("expected OpenStream before Open to fail")
	}
}

func TestOpenStreamEmitsCorrectlySizedFrames(t *testing.T) {
	s := NewSimulated(120)
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	ch, err := s.OpenStream(model.KindDepth)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}

	select {
	case fe := <-ch:
		geo := model.Geometry(model.KindDepth)
		want := geo.Width * geo.Height * geo.BytesPerPixel
		if len(fe.Data) != want {
			t.Fatalf("expected frame size %d, got %d", want, len(fe.Data))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a depth frame")
	}
}

func TestOpenStreamIsIdempotentPerKind(t *testing.T) {
	s := NewSimulated(60)
	s.Open(context.Background())
	defer s.Close()

	ch1, _ := s.OpenStream(model.KindColor)
	ch2, _ := s.OpenStream(model.KindColor)
	if ch1 != ch2 {
		t.Fatal("expected OpenStream to return the same channel for an already-open kind")
	}
}

func TestCloseStreamStopsEmission(t *testing.T) {
	s := NewSimulated(120)
	s.Open(context.Background())
	defer s.Close()

	ch, _ := s.OpenStream(model.KindInfrared)
	if err := s.CloseStream(model.KindInfrared); err != nil {
		t.Fatalf("CloseStream: %v", err)
	}
	// The channel is closed; draining it must not block forever.
	for range ch {
	}
}

func TestSetTiltRejectsOutOfRangeAngle(t *testing.T) {
	s := NewSimulated(30)
	if err := s.SetTilt(45); err == nil {
		t.Fatal("expected out-of-range tilt angle to be rejected")
	}
	if err := s.SetTilt(10); err != nil {
		t.Fatalf("expected in-range tilt angle to succeed, got %v", err)
	}
}

func TestBodyFramesCarryNoBytescPayload(t *testing.T) {
	s := NewSimulated(120)
	s.Open(context.Background())
	defer s.Close()

	ch, err := s.OpenStream(model.KindBody)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	select {
	case fe := <-ch:
		if len(fe.Data) != 0 {
			t.Fatalf("expected body frame to carry no byte payload, got %d bytes", len(fe.Data))
		}
		if len(fe.Bodies) == 0 {
			t.Fatal("expected at least one synthetic body record")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a body frame")
	}
}
