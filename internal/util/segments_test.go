package util

import "testing"

func TestSegmentIndex(t *testing.T) {
	t.Parallel()
	hashes := []uint64{0, 1, 42, 0xdeadbeef, ^uint64(0)}
	for _, segments := range []int{1, 2, 16, 64, 3, 12} {
		for _, h := range hashes {
			got := SegmentIndex(h, segments)
			if want := int(h % uint64(segments)); got != want {
				t.Fatalf("SegmentIndex(%#x, %d) = %d, want %d", h, segments, got, want)
			}
		}
	}
	if got := SegmentIndex(42, 0); got != 0 {
		t.Fatalf("non-positive segment count must map to 0, got %d", got)
	}
}

func TestReasonableSegmentCount(t *testing.T) {
	t.Parallel()
	n := ReasonableSegmentCount()
	if n < 1 || n > 64 {
		t.Fatalf("segment count out of range: %d", n)
	}
	if !IsPowerOfTwo(uint64(n)) {
		t.Fatalf("segment count must be a power of two: %d", n)
	}
}
