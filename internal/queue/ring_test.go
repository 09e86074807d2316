package queue

import "testing"

func TestRingPushWithinCapacityDoesNotEvict(t *testing.T) {
	r := New[int](3)
	for i := 1; i <= 3; i++ {
		if _, evicted := r.Push(i); evicted {
			t.Fatalf("unexpected eviction pushing %d into capacity 3 with len %d", i, r.Len())
		}
	}
	if r.Len() != 3 {
		t.Fatalf("expected len 3, got %d", r.Len())
	}
}

func TestRingPushPastCapacityEvictsOldest(t *testing.T) {
	r := New[int](2)
	r.Push(1)
	r.Push(2)
	old, evicted := r.Push(3)
	if !evicted || old != 1 {
		t.Fatalf("expected eviction of 1, got old=%d evicted=%v", old, evicted)
	}
	if r.Len() != 2 {
		t.Fatalf("expected len 2 after eviction, got %d", r.Len())
	}
	v, ok := r.Peek()
	if !ok || v != 2 {
		t.Fatalf("expected oldest surviving element 2, got %d (ok=%v)", v, ok)
	}
}

func TestRingPeekDoesNotRemove(t *testing.T) {
	r := New[string](2)
	r.Push("a")
	r.Push("b")
	v, _ := r.Peek()
	if v != "a" {
		t.Fatalf("expected peek to return %q, got %q", "a", v)
	}
	if r.Len() != 2 {
		t.Fatalf("peek must not remove, len changed to %d", r.Len())
	}
	popped, ok := r.Pop()
	if !ok || popped != "a" {
		t.Fatalf("expected pop to return %q, got %q (ok=%v)", "a", popped, ok)
	}
	if r.Len() != 1 {
		t.Fatalf("expected len 1 after pop, got %d", r.Len())
	}
}

func TestRingDrainEmptiesAndReturnsInOrder(t *testing.T) {
	r := New[int](4)
	r.Push(1)
	r.Push(2)
	r.Push(3)
	got := r.Drain()
	want := []int{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty ring after drain, len=%d", r.Len())
	}
	if _, ok := r.Pop(); ok {
		t.Fatalf("expected Pop on drained ring to report empty")
	}
}

func TestRingClampsNonPositiveSizeToOne(t *testing.T) {
	r := New[int](0)
	if r.size != 1 {
		t.Fatalf("expected New(0) to default to size 1, got %d", r.size)
	}
}
