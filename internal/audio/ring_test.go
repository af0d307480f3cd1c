package audio_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/lattice-labs/dictum/internal/audio"
)

func TestRing_WriteReadOrder(t *testing.T) {
	t.Parallel()
	r := audio.NewRing(8)

	in := []float32{1, 2, 3, 4, 5}
	if n := r.Write(in); n != 5 {
		t.Fatalf("Write: want 5, got %d", n)
	}
	out := make([]float32, 8)
	if n := r.Read(out); n != 5 {
		t.Fatalf("Read: want 5, got %d", n)
	}
	if diff := cmp.Diff(in, out[:5]); diff != "" {
		t.Errorf("samples out of order (-want +got):\n%s", diff)
	}
}

func TestRing_OverflowDropsNewest(t *testing.T) {
	t.Parallel()
	r := audio.NewRing(4)

	if n := r.Write([]float32{1, 2, 3}); n != 3 {
		t.Fatalf("first Write: want 3, got %d", n)
	}
	// Only one slot left; the tail of this write must be dropped.
	if n := r.Write([]float32{4, 5, 6}); n != 1 {
		t.Fatalf("overflow Write: want 1 accepted, got %d", n)
	}
	if got := r.Dropped(); got != 2 {
		t.Errorf("Dropped: want 2, got %d", got)
	}

	out := make([]float32, 4)
	n := r.Read(out)
	want := []float32{1, 2, 3, 4}
	if diff := cmp.Diff(want, out[:n]); diff != "" {
		t.Errorf("buffered audio must stay intact (-want +got):\n%s", diff)
	}
}

func TestRing_WrapAround(t *testing.T) {
	t.Parallel()
	r := audio.NewRing(4)
	out := make([]float32, 4)

	for round := 0; round < 10; round++ {
		base := float32(round * 3)
		r.Write([]float32{base, base + 1, base + 2})
		n := r.Read(out)
		if n != 3 {
			t.Fatalf("round %d: Read want 3, got %d", round, n)
		}
		if out[0] != base || out[2] != base+2 {
			t.Fatalf("round %d: wrong samples %v", round, out[:n])
		}
	}
	if r.Dropped() != 0 {
		t.Errorf("Dropped: want 0, got %d", r.Dropped())
	}
}

func TestRing_ReadEmptyReturnsZero(t *testing.T) {
	t.Parallel()
	r := audio.NewRing(16)
	out := make([]float32, 4)
	if n := r.Read(out); n != 0 {
		t.Errorf("Read on empty ring: want 0, got %d", n)
	}
}

func TestRing_CapacityRoundsUpToPowerOfTwo(t *testing.T) {
	t.Parallel()
	r := audio.NewRing(5)
	if got := r.Cap(); got != 8 {
		t.Errorf("Cap: want 8, got %d", got)
	}
	if got := audio.NewRing(0).Cap(); got != audio.DefaultRingCapacity {
		t.Errorf("default Cap: want %d, got %d", audio.DefaultRingCapacity, got)
	}
}
