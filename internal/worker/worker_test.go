package worker

import (
	"context"
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/brightlinelabs/depthstream/internal/model"
	"github.com/brightlinelabs/depthstream/internal/servicelog"
)

func noopLogger(t *testing.T) servicelog.Logger {
	t.Helper()
	l, err := servicelog.New(servicelog.Options{})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

func encodeDepth(values []uint16) []byte {
	geo := model.Geometry(model.KindDepth)
	count := geo.Width * geo.Height
	data := make([]byte, count*2)
	for i := 0; i < count; i++ {
		v := uint16(0)
		if i < len(values) {
			v = values[i]
		}
		binary.LittleEndian.PutUint16(data[2*i:], v)
	}
	return data
}

func TestProcessDepthFiltersAndNormalizes(t *testing.T) {
	frame := model.RawFrame{Kind: model.KindDepth, Data: encodeDepth([]uint16{100, 5000, 2000})}
	params := DepthParams{MinDistance: 500, MaxDistance: 4500, Normalize: true, Gamma: 0.5}

	artifact, _, err := ProcessDepth(frame, params)
	if err != nil {
		t.Fatalf("ProcessDepth: %v", err)
	}
	payload := artifact.Payload.(model.DepthPayload)

	if payload.Processed[0] != 0 {
		t.Fatalf("expected reading below min to be filtered to 0, got %v", payload.Processed[0])
	}
	if payload.Processed[1] != 0 {
		t.Fatalf("expected reading above max to be filtered to 0, got %v", payload.Processed[1])
	}
	if math.Abs(payload.Processed[2]-0.612) > 0.005 {
		t.Fatalf("expected ~0.612, got %v", payload.Processed[2])
	}
}

func TestWorkerDropsFrameWhileProcessing(t *testing.T) {
	release := make(chan struct{})
	blocking := func(frame model.RawFrame, p any) (model.ProcessedFrame, []SideMessage, error) {
		<-release
		return model.ProcessedFrame{Kind: model.KindInfrared}, nil, nil
	}
	w := New(model.KindInfrared, blocking, noopLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if ok := w.Submit(model.RawFrame{Kind: model.KindInfrared}, nil, nil); !ok {
		t.Fatal("expected first submit to be accepted")
	}
	// Give the worker goroutine a moment to pick up the task and mark
	// itself processing before the second submit races it.
	time.Sleep(20 * time.Millisecond)
	if ok := w.Submit(model.RawFrame{Kind: model.KindInfrared}, nil, nil); ok {
		t.Fatal("expected second submit to be dropped while processing")
	}
	close(release)
}

func TestWorkerHealthCheckAnsweredWhileProcessing(t *testing.T) {
	release := make(chan struct{})
	blocking := func(frame model.RawFrame, p any) (model.ProcessedFrame, []SideMessage, error) {
		<-release
		return model.ProcessedFrame{}, nil, nil
	}
	w := New(model.KindInfrared, blocking, noopLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Submit(model.RawFrame{Kind: model.KindInfrared}, nil, nil)
	time.Sleep(20 * time.Millisecond)

	reply, ok := w.HealthCheck(time.Second)
	if !ok {
		t.Fatal("expected health check to be answered")
	}
	if !reply.Alive || !reply.Processing {
		t.Fatalf("expected alive+processing reply, got %+v", reply)
	}
	close(release)
}
