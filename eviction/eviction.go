// Package eviction defines the contract between the cache core and a
// pluggable eviction implementation. The eviction side owns the
// replacement-list structure and decides victims; the cache side owns the
// hash table and notifies the eviction of inserts and removals under the
// entry's segment write lock.
package eviction

// NodeData is the intrusive replacement-list state embedded in every cache
// entry. Only the eviction implementation touches it, guarded by the
// eviction lock.
type NodeData struct {
	Prev, Next Node
	// Listed reports membership in the replacement list. Toggled by
	// Submit: an unlisted node is inserted, a listed one is unlinked.
	Listed bool
	// Weight as computed by the cache-side weigher at the last update.
	Weight int64
	// Accounted is the weight currently reflected in the eviction's
	// total; maintained by the eviction implementation only.
	Accounted int64
	// Hot marks a node that survived one eviction scan (second chance).
	Hot bool
}

// Node is the view of a cache entry the eviction implementation works with.
//
// Concurrency: EvictionData access must happen under the eviction lock.
// FetchHitCount reads and resets a dirty per-entry counter; lost updates
// are acceptable.
type Node interface {
	EvictionData() *NodeData
	HashCode() uint64
	FetchHitCount() uint64
	IsProcessing() bool
}

// Backend is the cache-side surface eviction calls to remove a victim.
type Backend interface {
	// RemoveForEviction removes the node from the hash table under its
	// segment write lock, cancels its timer, and marks it gone. The
	// removal notification comes back to the eviction via Submit within
	// the same critical section. Returns false when the node is currently
	// processing or already gone, in which case the eviction must pick
	// another victim.
	RemoveForEviction(n Node) bool
}

// Metrics is a snapshot of eviction-side counters.
type Metrics struct {
	Size        int
	TotalWeight int64
	EvictedCnt  int64
	RemovedCnt  int64
}

// Eviction owns the replacement list. All methods are safe for concurrent
// use. Submit is called by the cache under the segment write lock of the
// affected entry; the implementation must therefore never acquire segment
// locks while holding its own lock (victim removal goes through Backend
// outside the eviction lock).
type Eviction interface {
	// Submit inserts a new node into the replacement list, or unlinks a
	// node that the cache has removed from the hash. Called under the
	// segment write lock.
	Submit(n Node)

	// EvictEventually brings the list back under its limits, evicting
	// victims via the Backend. Called before inserts, outside any segment
	// lock. The hash of the key about to be inserted is passed so an
	// implementation may keep per-segment pressure state.
	EvictEventually(hash uint64)

	// UpdateWeight recomputes the accounted weight of n after a value
	// change and may trigger eviction on the next EvictEventually.
	UpdateWeight(n Node)

	// RemoveAll unlinks every node and returns how many were removed.
	// Used by the clear protocol while all segment locks are held.
	RemoveAll() int

	// Stop and Start bracket cache-wide operations during which no
	// eviction may run. Drain completes work already picked up and
	// reports whether anything was pending.
	Stop()
	Start()
	Drain() bool

	// RunLocked executes job while holding the eviction lock, so that a
	// statistics snapshot observes a consistent list state.
	RunLocked(job func())

	Metrics() Metrics
	IsWeigherPresent() bool

	// Close releases resources. The eviction is unusable afterwards.
	Close()
}
