package util

import "runtime"

// ReasonableSegmentCount picks a practical default segment count for the
// hash table based on CPU parallelism. Heuristic: nextPow2(GOMAXPROCS),
// clamped to [1..64]. Segment locks are only held for pointer fixes, so
// more segments than cores buys little and bloats the lock array.
func ReasonableSegmentCount() int {
	p := runtime.GOMAXPROCS(0)
	if p < 1 {
		p = 1
	}
	n := int(NextPow2(uint64(p)))
	if n > 64 {
		n = 64
	}
	return n
}

// SegmentIndex maps a 64-bit hash to a segment index.
// Assumes segment count is a power of two for the fast mask path,
// but remains correct for arbitrary counts (uses modulo).
func SegmentIndex(hash uint64, segments int) int {
	if segments <= 1 {
		return 0
	}
	if IsPowerOfTwo(uint64(segments)) {
		return int(hash & uint64(segments-1))
	}
	return int(hash % uint64(segments))
}
