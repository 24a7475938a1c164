package cache

import (
	"sync"

	"github.com/IvanBrykalov/hotcache/internal/util"
)

const (
	initialBucketsPerSegment = 16
	// Expand when a segment exceeds 64 percent fill.
	hashLoadPercent = 64
)

// hashTable is a segmented, chained hash table. Lookups take the
// segment read lock; structural changes (insert, remove, expand, clear)
// take the segment write lock. Entries are chained via Entry.next.
type hashTable[K comparable, V any] struct {
	segments []hashSegment[K, V]
}

type hashSegment[K comparable, V any] struct {
	mu      sync.RWMutex
	buckets []*Entry[K, V]
	count   int
	maxFill int
	_       util.CacheLinePad
}

func newHashTable[K comparable, V any](segmentCount int) *hashTable[K, V] {
	if segmentCount <= 0 {
		segmentCount = util.ReasonableSegmentCount()
	}
	segmentCount = int(util.NextPow2(uint64(segmentCount)))
	h := &hashTable[K, V]{
		segments: make([]hashSegment[K, V], segmentCount),
	}
	for i := range h.segments {
		h.segments[i].buckets = make([]*Entry[K, V], initialBucketsPerSegment)
		h.segments[i].maxFill = initialBucketsPerSegment * hashLoadPercent / 100
	}
	return h
}

func (h *hashTable[K, V]) segmentFor(hash uint64) *hashSegment[K, V] {
	return &h.segments[util.SegmentIndex(hash, len(h.segments))]
}

// getSegmentLock returns the write lock guarding structural changes for
// the hash. The caller locks it around insert or remove plus the
// matching eviction Submit, keeping both views consistent.
func (h *hashTable[K, V]) getSegmentLock(hash uint64) *sync.RWMutex {
	return &h.segmentFor(hash).mu
}

// lookup finds the entry for key or nil. Takes the segment read lock.
func (h *hashTable[K, V]) lookup(key K, hash uint64) *Entry[K, V] {
	s := h.segmentFor(hash)
	s.mu.RLock()
	e := s.lookupWithinLock(key, hash)
	s.mu.RUnlock()
	return e
}

func (s *hashSegment[K, V]) lookupWithinLock(key K, hash uint64) *Entry[K, V] {
	idx := hash >> 32 & uint64(len(s.buckets)-1)
	for e := s.buckets[idx]; e != nil; e = e.next {
		if e.hash == hash && e.key == key {
			return e
		}
	}
	return nil
}

// insertWithinLock adds e to its bucket. Caller holds the segment write
// lock and has verified the key is absent.
func (h *hashTable[K, V]) insertWithinLock(e *Entry[K, V]) {
	s := h.segmentFor(e.hash)
	idx := e.hash >> 32 & uint64(len(s.buckets)-1)
	e.next = s.buckets[idx]
	s.buckets[idx] = e
	s.count++
}

// removeWithinLock unlinks e from its bucket. Caller holds the segment
// write lock. Returns false when e is not chained (already removed).
func (h *hashTable[K, V]) removeWithinLock(e *Entry[K, V]) bool {
	s := h.segmentFor(e.hash)
	idx := e.hash >> 32 & uint64(len(s.buckets)-1)
	cur := s.buckets[idx]
	if cur == e {
		s.buckets[idx] = e.next
		e.next = nil
		s.count--
		return true
	}
	for cur != nil {
		if cur.next == e {
			cur.next = e.next
			e.next = nil
			s.count--
			return true
		}
		cur = cur.next
	}
	return false
}

// checkExpand doubles the segment's bucket array when over the fill
// limit. Called after insert while still holding the segment write lock.
func (h *hashTable[K, V]) checkExpand(hash uint64) {
	s := h.segmentFor(hash)
	if s.count <= s.maxFill {
		return
	}
	old := s.buckets
	buckets := make([]*Entry[K, V], len(old)*2)
	mask := uint64(len(buckets) - 1)
	for _, head := range old {
		for e := head; e != nil; {
			next := e.next
			idx := e.hash >> 32 & mask
			e.next = buckets[idx]
			buckets[idx] = e
			e = next
		}
	}
	s.buckets = buckets
	s.maxFill = len(buckets) * hashLoadPercent / 100
}

// size sums segment counts. Only exact while all segment locks are held;
// otherwise a weakly consistent estimate.
func (h *hashTable[K, V]) size() int {
	n := 0
	for i := range h.segments {
		h.segments[i].mu.RLock()
		n += h.segments[i].count
		h.segments[i].mu.RUnlock()
	}
	return n
}

// runTotalLocked executes job while holding every segment write lock, in
// index order. Used by the global lock protocol for clear and consistent
// snapshots.
func (h *hashTable[K, V]) runTotalLocked(job func()) {
	for i := range h.segments {
		h.segments[i].mu.Lock()
	}
	defer func() {
		for i := len(h.segments) - 1; i >= 0; i-- {
			h.segments[i].mu.Unlock()
		}
	}()
	job()
}

// clearWhenLocked drops all entries by swapping in fresh bucket arrays.
// Caller holds all segment locks via runTotalLocked. Returns the number
// of dropped entries; the entries themselves are not marked gone, the
// caller owns that.
func (h *hashTable[K, V]) clearWhenLocked() int {
	dropped := 0
	for i := range h.segments {
		s := &h.segments[i]
		dropped += s.count
		s.buckets = make([]*Entry[K, V], initialBucketsPerSegment)
		s.count = 0
		s.maxFill = initialBucketsPerSegment * hashLoadPercent / 100
	}
	return dropped
}

// foreachWhenLocked visits every entry. Caller holds all segment locks.
func (h *hashTable[K, V]) foreachWhenLocked(visit func(e *Entry[K, V])) {
	for i := range h.segments {
		for _, head := range h.segments[i].buckets {
			for e := head; e != nil; e = e.next {
				visit(e)
			}
		}
	}
}

// snapshotSegment copies the entry pointers of one segment under its
// read lock, for iteration without holding locks across user code.
func (h *hashTable[K, V]) snapshotSegment(i int) []*Entry[K, V] {
	s := &h.segments[i]
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entry[K, V], 0, s.count)
	for _, head := range s.buckets {
		for e := head; e != nil; e = e.next {
			out = append(out, e)
		}
	}
	return out
}

func (h *hashTable[K, V]) segmentCount() int { return len(h.segments) }
