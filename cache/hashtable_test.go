package cache

import (
	"strconv"
	"testing"

	"github.com/IvanBrykalov/hotcache/internal/util"
)

func TestHashTable_InsertLookupRemove(t *testing.T) {
	t.Parallel()

	h := newHashTable[string, int](4)
	entries := make([]*Entry[string, int], 0, 100)
	for i := 0; i < 100; i++ {
		k := "k" + strconv.Itoa(i)
		hash := util.KeyHash(k)
		e := &Entry[string, int]{key: k, hash: hash}
		lock := h.getSegmentLock(hash)
		lock.Lock()
		h.insertWithinLock(e)
		h.checkExpand(hash)
		lock.Unlock()
		entries = append(entries, e)
	}
	if h.size() != 100 {
		t.Fatalf("size want 100, got %d", h.size())
	}
	for i := 0; i < 100; i++ {
		k := "k" + strconv.Itoa(i)
		if e := h.lookup(k, util.KeyHash(k)); e == nil || e.key != k {
			t.Fatalf("lookup %s failed", k)
		}
	}
	if h.lookup("missing", util.KeyHash("missing")) != nil {
		t.Fatal("missing key must not be found")
	}

	for _, e := range entries[:50] {
		lock := h.getSegmentLock(e.hash)
		lock.Lock()
		if !h.removeWithinLock(e) {
			t.Fatalf("remove %s failed", e.key)
		}
		lock.Unlock()
	}
	if h.size() != 50 {
		t.Fatalf("size want 50, got %d", h.size())
	}
	if h.lookup(entries[0].key, entries[0].hash) != nil {
		t.Fatal("removed key must not be found")
	}
	// Double remove reports false.
	lock := h.getSegmentLock(entries[0].hash)
	lock.Lock()
	if h.removeWithinLock(entries[0]) {
		t.Fatal("second remove must report false")
	}
	lock.Unlock()
}

func TestHashTable_ExpandKeepsEntries(t *testing.T) {
	t.Parallel()

	h := newHashTable[int, int](1)
	const n = 10_000
	for i := 0; i < n; i++ {
		hash := util.KeyHash(i)
		e := &Entry[int, int]{key: i, hash: hash}
		lock := h.getSegmentLock(hash)
		lock.Lock()
		h.insertWithinLock(e)
		h.checkExpand(hash)
		lock.Unlock()
	}
	if h.size() != n {
		t.Fatalf("size want %d, got %d", n, h.size())
	}
	for i := 0; i < n; i++ {
		if h.lookup(i, util.KeyHash(i)) == nil {
			t.Fatalf("key %d lost during expansion", i)
		}
	}
	if got := len(h.segments[0].buckets); got <= initialBucketsPerSegment {
		t.Fatalf("segment must have expanded, buckets=%d", got)
	}
}

func TestHashTable_ClearWhenLocked(t *testing.T) {
	t.Parallel()

	h := newHashTable[int, int](2)
	for i := 0; i < 64; i++ {
		hash := util.KeyHash(i)
		e := &Entry[int, int]{key: i, hash: hash}
		lock := h.getSegmentLock(hash)
		lock.Lock()
		h.insertWithinLock(e)
		lock.Unlock()
	}
	var dropped int
	h.runTotalLocked(func() {
		dropped = h.clearWhenLocked()
	})
	if dropped != 64 {
		t.Fatalf("dropped want 64, got %d", dropped)
	}
	if h.size() != 0 {
		t.Fatalf("size after clear want 0, got %d", h.size())
	}
}
