package memory

import (
	"testing"

	"stratadb/pkg/primitives"
)

func TestVictimEmpty(t *testing.T) {
	r := NewLRUReplacer(4)
	if _, ok := r.Victim(); ok {
		t.Fatal("empty replacer yielded a victim")
	}
}

func TestVictimOrder(t *testing.T) {
	r := NewLRUReplacer(4)
	r.Unpin(1)
	r.Unpin(2)
	r.Unpin(3)

	// Back of the list first: oldest unpin wins.
	for _, want := range []primitives.FrameID{1, 2, 3} {
		got, ok := r.Victim()
		if !ok || got != want {
			t.Fatalf("Victim = %d, %v; want %d", got, ok, want)
		}
	}
	if _, ok := r.Victim(); ok {
		t.Fatal("drained replacer yielded a victim")
	}
}

func TestPinRemovesCandidate(t *testing.T) {
	r := NewLRUReplacer(4)
	r.Unpin(1)
	r.Unpin(2)
	r.Pin(1)

	if got := r.Size(); got != 1 {
		t.Fatalf("Size = %d, want 1", got)
	}
	got, ok := r.Victim()
	if !ok || got != 2 {
		t.Fatalf("Victim = %d, %v; want 2", got, ok)
	}
}

func TestPinIdempotent(t *testing.T) {
	r := NewLRUReplacer(4)
	r.Unpin(1)
	r.Pin(1)
	r.Pin(1) // second pin of an absent frame is a no-op
	if got := r.Size(); got != 0 {
		t.Fatalf("Size = %d, want 0", got)
	}
	r.Pin(9) // pinning a never-seen frame is a no-op too
	if got := r.Size(); got != 0 {
		t.Fatalf("Size = %d, want 0", got)
	}
}

func TestUnpinDoesNotRefresh(t *testing.T) {
	r := NewLRUReplacer(4)
	r.Unpin(1)
	r.Unpin(2)
	r.Unpin(1) // already a candidate: position must not move

	got, ok := r.Victim()
	if !ok || got != 1 {
		t.Fatalf("Victim = %d, %v; want 1 (first-unpin time dominates)", got, ok)
	}
}

func TestSize(t *testing.T) {
	r := NewLRUReplacer(8)
	for i := 0; i < 5; i++ {
		r.Unpin(primitives.FrameID(i))
	}
	if got := r.Size(); got != 5 {
		t.Fatalf("Size = %d, want 5", got)
	}
	r.Victim()
	if got := r.Size(); got != 4 {
		t.Fatalf("Size after victim = %d, want 4", got)
	}
}
