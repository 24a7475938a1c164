// Package lru provides the default eviction implementation: an intrusive
// LRU list with a hit-counter second chance, plus optional weight-based
// limiting. It is scan-tolerant enough for a default and keeps the
// contract with the cache core small.
package lru

import (
	"sync"

	"github.com/IvanBrykalov/hotcache/eviction"
)

// Config for New. Capacity limits the entry count; MaxWeight, when
// positive, additionally limits the sum of node weights.
type Config struct {
	Capacity  int
	MaxWeight int64
	// WeigherPresent must be set when the cache computes per-entry
	// weights; it only affects IsWeigherPresent reporting.
	WeigherPresent bool
}

// New creates the default LRU eviction bound to a cache backend.
func New(cfg Config, backend eviction.Backend) eviction.Eviction {
	if cfg.Capacity <= 0 {
		panic("lru: Capacity must be > 0")
	}
	return &lru{backend: backend, cfg: cfg}
}

type lru struct {
	backend eviction.Backend

	mu      sync.Mutex
	head    eviction.Node // MRU end
	tail    eviction.Node // LRU end
	size    int
	weight  int64
	stopped bool

	evictedCnt int64
	removedCnt int64

	cfg Config
}

func (l *lru) Submit(n eviction.Node) {
	l.mu.Lock()
	defer l.mu.Unlock()
	nd := n.EvictionData()
	if nd.Listed {
		l.unlink(n, nd)
		l.removedCnt++
		return
	}
	l.pushFront(n, nd)
}

func (l *lru) EvictEventually(uint64) {
	for {
		victim := l.pickVictim()
		if victim == nil {
			return
		}
		if l.backend.RemoveForEviction(victim) {
			l.mu.Lock()
			l.evictedCnt++
			l.mu.Unlock()
		}
		// On failure the victim was processing or gone; Submit has either
		// already unlinked it or the next scan rotates past it.
	}
}

// pickVictim returns the next eviction candidate or nil when within
// limits. Nodes with a nonzero hit count get one more round (moved to
// front, counter reset); processing nodes are skipped since the backend
// would refuse them.
func (l *lru) pickVictim() eviction.Node {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped || !l.overLimit() {
		return nil
	}
	rotations := 0
	for n := l.tail; n != nil && rotations <= l.size; rotations++ {
		nd := n.EvictionData()
		if n.FetchHitCount() > 0 && !nd.Hot {
			nd.Hot = true
			prev := nd.Prev
			l.unlink(n, nd)
			l.pushFront(n, nd)
			n = prev
			continue
		}
		if n.IsProcessing() {
			n = nd.Prev
			continue
		}
		return n
	}
	return nil
}

// overLimit reports whether an insert about to happen would exceed the
// limits. EvictEventually runs before inserts, so room is made first and
// the entry count never exceeds Capacity.
func (l *lru) overLimit() bool {
	if l.size >= l.cfg.Capacity {
		return true
	}
	return l.cfg.MaxWeight > 0 && l.weight > l.cfg.MaxWeight
}

func (l *lru) UpdateWeight(n eviction.Node) {
	l.mu.Lock()
	defer l.mu.Unlock()
	nd := n.EvictionData()
	if !nd.Listed {
		return
	}
	l.weight += nd.Weight - nd.Accounted
	nd.Accounted = nd.Weight
}

func (l *lru) RemoveAll() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for n := l.head; n != nil; {
		nd := n.EvictionData()
		next := nd.Next
		nd.Prev, nd.Next = nil, nil
		nd.Listed = false
		n = next
		removed++
	}
	l.head, l.tail = nil, nil
	l.size = 0
	l.weight = 0
	l.removedCnt += int64(removed)
	return removed
}

func (l *lru) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
}

func (l *lru) Start() {
	l.mu.Lock()
	l.stopped = false
	l.mu.Unlock()
}

func (l *lru) Drain() bool {
	// Eviction runs synchronously on the inserting goroutine; there is
	// never queued work to wait for.
	return false
}

func (l *lru) RunLocked(job func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	job()
}

func (l *lru) Metrics() eviction.Metrics {
	l.mu.Lock()
	defer l.mu.Unlock()
	return eviction.Metrics{
		Size:        l.size,
		TotalWeight: l.weight,
		EvictedCnt:  l.evictedCnt,
		RemovedCnt:  l.removedCnt,
	}
}

func (l *lru) IsWeigherPresent() bool { return l.cfg.WeigherPresent }

func (l *lru) Close() {
	l.RemoveAll()
}

// ---- intrusive list (l.mu held) ----

func (l *lru) pushFront(n eviction.Node, nd *eviction.NodeData) {
	nd.Prev = nil
	nd.Next = l.head
	if l.head != nil {
		l.head.EvictionData().Prev = n
	}
	l.head = n
	if l.tail == nil {
		l.tail = n
	}
	nd.Listed = true
	l.size++
	l.weight += nd.Weight
	nd.Accounted = nd.Weight
}

func (l *lru) unlink(n eviction.Node, nd *eviction.NodeData) {
	if nd.Prev != nil {
		nd.Prev.EvictionData().Next = nd.Next
	}
	if nd.Next != nil {
		nd.Next.EvictionData().Prev = nd.Prev
	}
	if l.head == n {
		l.head = nd.Next
	}
	if l.tail == n {
		l.tail = nd.Prev
	}
	nd.Prev, nd.Next = nil, nil
	nd.Listed = false
	l.size--
	l.weight -= nd.Accounted
	if l.weight < 0 {
		l.weight = 0
	}
}
