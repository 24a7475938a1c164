package lru

import (
	"sync/atomic"
	"testing"

	"github.com/IvanBrykalov/hotcache/eviction"
)

type fakeNode struct {
	id         int
	nd         eviction.NodeData
	hits       atomic.Uint64
	processing atomic.Bool
}

func (n *fakeNode) EvictionData() *eviction.NodeData { return &n.nd }
func (n *fakeNode) HashCode() uint64                 { return uint64(n.id) }
func (n *fakeNode) FetchHitCount() uint64            { return n.hits.Swap(0) }
func (n *fakeNode) IsProcessing() bool               { return n.processing.Load() }

// fakeBackend mimics the cache side: it unlinks the victim via Submit,
// the way the real backend does under the segment lock.
type fakeBackend struct {
	ev      eviction.Eviction
	removed []*fakeNode
	refuse  map[*fakeNode]bool
}

func (b *fakeBackend) RemoveForEviction(n eviction.Node) bool {
	fn := n.(*fakeNode)
	if b.refuse[fn] {
		return false
	}
	b.removed = append(b.removed, fn)
	b.ev.Submit(n)
	return true
}

func newLRU(t *testing.T, cfg Config) (eviction.Eviction, *fakeBackend) {
	t.Helper()
	b := &fakeBackend{refuse: make(map[*fakeNode]bool)}
	ev := New(cfg, b)
	b.ev = ev
	t.Cleanup(ev.Close)
	return ev, b
}

func TestLRU_EvictsInInsertionOrder(t *testing.T) {
	t.Parallel()

	ev, b := newLRU(t, Config{Capacity: 3})
	nodes := make([]*fakeNode, 5)
	for i := range nodes {
		nodes[i] = &fakeNode{id: i}
		ev.EvictEventually(uint64(i))
		ev.Submit(nodes[i])
	}

	if got := ev.Metrics().Size; got != 3 {
		t.Fatalf("size want 3, got %d", got)
	}
	if len(b.removed) != 2 || b.removed[0] != nodes[0] || b.removed[1] != nodes[1] {
		t.Fatalf("oldest nodes must be evicted first, got %v", ids(b.removed))
	}
}

func TestLRU_HitGrantsSecondChance(t *testing.T) {
	t.Parallel()

	ev, b := newLRU(t, Config{Capacity: 2})
	a := &fakeNode{id: 0}
	c := &fakeNode{id: 1}
	ev.Submit(a)
	ev.Submit(c)

	a.hits.Add(1) // a was read; the scan must rotate it instead
	ev.EvictEventually(2)
	ev.Submit(&fakeNode{id: 2})

	if len(b.removed) != 1 || b.removed[0] != c {
		t.Fatalf("unread node must be the victim, got %v", ids(b.removed))
	}
	if !a.nd.Hot {
		t.Fatal("survivor must be marked hot")
	}
}

func TestLRU_SkipsProcessingNodes(t *testing.T) {
	t.Parallel()

	ev, b := newLRU(t, Config{Capacity: 2})
	busy := &fakeNode{id: 0}
	busy.processing.Store(true)
	idle := &fakeNode{id: 1}
	ev.Submit(busy)
	ev.Submit(idle)

	ev.EvictEventually(2)
	ev.Submit(&fakeNode{id: 2})

	if len(b.removed) != 1 || b.removed[0] != idle {
		t.Fatalf("processing node must be skipped, got %v", ids(b.removed))
	}
}

func TestLRU_WeightLimit(t *testing.T) {
	t.Parallel()

	ev, b := newLRU(t, Config{Capacity: 100, MaxWeight: 10, WeigherPresent: true})
	light := &fakeNode{id: 0}
	light.nd.Weight = 4
	heavy := &fakeNode{id: 1}
	heavy.nd.Weight = 4
	ev.Submit(light)
	ev.Submit(heavy)

	// Growing a value past the limit makes the oldest node a victim on
	// the next insert.
	heavy.nd.Weight = 8
	ev.UpdateWeight(heavy)
	if got := ev.Metrics().TotalWeight; got != 12 {
		t.Fatalf("total weight want 12, got %d", got)
	}

	ev.EvictEventually(2)
	next := &fakeNode{id: 2}
	next.nd.Weight = 1
	ev.Submit(next)

	if len(b.removed) != 1 || b.removed[0] != light {
		t.Fatalf("oldest node must be evicted on weight pressure, got %v", ids(b.removed))
	}
	if got := ev.Metrics().TotalWeight; got != 9 {
		t.Fatalf("total weight after eviction want 9, got %d", got)
	}
}

func TestLRU_RemoveAllAndStop(t *testing.T) {
	t.Parallel()

	ev, b := newLRU(t, Config{Capacity: 2})
	for i := 0; i < 2; i++ {
		ev.Submit(&fakeNode{id: i})
	}

	ev.Stop()
	ev.EvictEventually(9) // stopped: no victims picked
	if len(b.removed) != 0 {
		t.Fatalf("stopped eviction must not evict, got %v", ids(b.removed))
	}

	if got := ev.RemoveAll(); got != 2 {
		t.Fatalf("RemoveAll want 2, got %d", got)
	}
	m := ev.Metrics()
	if m.Size != 0 || m.TotalWeight != 0 {
		t.Fatalf("metrics after RemoveAll: %+v", m)
	}

	ev.Start()
	ev.Submit(&fakeNode{id: 10})
	if got := ev.Metrics().Size; got != 1 {
		t.Fatalf("list must be usable after restart, size=%d", got)
	}
}

func TestLRU_SubmitUnlinksListedNode(t *testing.T) {
	t.Parallel()

	ev, _ := newLRU(t, Config{Capacity: 4})
	n := &fakeNode{id: 0}
	ev.Submit(n)
	if !n.nd.Listed {
		t.Fatal("node must be listed after insert")
	}
	ev.Submit(n) // cache removed it; second submit unlinks
	if n.nd.Listed {
		t.Fatal("node must be unlisted after removal")
	}
	m := ev.Metrics()
	if m.Size != 0 || m.RemovedCnt != 1 {
		t.Fatalf("metrics after unlink: %+v", m)
	}
}

func ids(nodes []*fakeNode) []int {
	out := make([]int, len(nodes))
	for i, n := range nodes {
		out[i] = n.id
	}
	return out
}
