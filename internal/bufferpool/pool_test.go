package bufferpool

import (
	"testing"

	"github.com/brightlinelabs/depthstream/internal/model"
)

func testSpecs() []BufferSpec {
	return []BufferSpec{
		{Kind: model.KindDepth, ElementWidth: 2, ElementCount: 512 * 424, InitialSize: 2, ExpandSize: 2},
		{Kind: model.KindColor, ElementWidth: 1, ElementCount: 1920 * 1080 * 4, InitialSize: 1, ExpandSize: 1},
	}
}

func TestAcquireReleaseBalance(t *testing.T) {
	p := New(testSpecs(), 10)
	buf, err := p.Acquire(model.KindDepth)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	stats := p.Stats()
	ks := stats.PerKind[model.KindDepth]
	if ks.InUse != 1 || ks.Available != 1 || ks.Total != 2 {
		t.Fatalf("unexpected stats after acquire: %+v", ks)
	}
	if err := p.Release(model.KindDepth, buf, true); err != nil {
		t.Fatalf("release: %v", err)
	}
	stats = p.Stats()
	ks = stats.PerKind[model.KindDepth]
	if ks.InUse != 0 || ks.Available != 2 {
		t.Fatalf("unexpected stats after release: %+v", ks)
	}
}

func TestReleaseUntrackedBuffer(t *testing.T) {
	p := New(testSpecs(), 10)
	foreign := &Buffer{Kind: model.KindDepth, Data: make([]byte, 4)}
	if err := p.Release(model.KindDepth, foreign, false); err != ErrUntrackedBuffer {
		t.Fatalf("expected ErrUntrackedBuffer, got %v", err)
	}
}

func TestPoolExhaustion(t *testing.T) {
	specs := []BufferSpec{
		{Kind: model.KindDepth, ElementWidth: 1, ElementCount: 1, InitialSize: 1, ExpandSize: 1},
	}
	p := New(specs, 1) // global cap of 1 buffer total
	buf, err := p.Acquire(model.KindDepth)
	if err != nil {
		t.Fatalf("first acquire should succeed: %v", err)
	}
	if _, err := p.Acquire(model.KindDepth); err != ErrPoolExhausted {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}
	select {
	case ev := <-p.Events():
		if ev.Kind != EventPoolExhausted {
			t.Fatalf("expected EventPoolExhausted, got %v", ev.Kind)
		}
	default:
		t.Fatal("expected an exhaustion event")
	}
	if err := p.Release(model.KindDepth, buf, false); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestResizeRejectsBelowInUse(t *testing.T) {
	p := New(testSpecs(), 10)
	buf, err := p.Acquire(model.KindDepth)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := p.Resize(0); err != ErrResizeBelowInUse {
		t.Fatalf("expected ErrResizeBelowInUse, got %v", err)
	}
	if err := p.Resize(5); err != nil {
		t.Fatalf("resize: %v", err)
	}
	if stats := p.Stats(); stats.MaxPoolSize != 5 {
		t.Fatalf("expected max pool size 5, got %d", stats.MaxPoolSize)
	}
	p.Release(model.KindDepth, buf, false)
}

func TestClearRejectsWhileInUse(t *testing.T) {
	p := New(testSpecs(), 10)
	buf, err := p.Acquire(model.KindDepth)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := p.Clear(); err != ErrClearWhileInUse {
		t.Fatalf("expected ErrClearWhileInUse, got %v", err)
	}
	p.Release(model.KindDepth, buf, false)
	if err := p.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	stats := p.Stats()
	if stats.PerKind[model.KindDepth].Total != testSpecs()[0].InitialSize {
		t.Fatalf("expected re-initialized pool, got %+v", stats.PerKind[model.KindDepth])
	}
}
