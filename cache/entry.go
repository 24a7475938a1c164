package cache

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/IvanBrykalov/hotcache/eviction"
)

// nextRefreshTime encoding. Values below expiryTimeMin are states, values
// at or above it are epoch-millis expiry times. A negative time means the
// entry expires sharply at -t: data is served until exactly that instant
// and never after, even before the timer fired.
const (
	// nrtVirgin marks an entry that never held data. Inserted into the
	// hash to act as the lock for an ongoing first operation.
	nrtVirgin int64 = 0
	// nrtRemovePending is set while a remove mutation holds the entry;
	// flips to virgin or gone when the action completes.
	nrtRemovePending int64 = 1
	// nrtAborted marks an operation that gave up the entry before
	// committing any data.
	nrtAborted int64 = 2
	// nrtExpiredRefreshed marks expired data kept around after a
	// refresh-ahead load failed or during refresh probation. The data is
	// not served but a subsequent load may revive it.
	nrtExpiredRefreshed int64 = 3
	// nrtExpired marks data past its time, kept on the heap only when
	// KeepDataAfterExpired is set or a listener still needs the old value.
	nrtExpired int64 = 4

	// expiryTimeMin is the lowest value interpreted as a point in time.
	expiryTimeMin int64 = 32

	// nrtEternal means the data never expires.
	nrtEternal int64 = math.MaxInt64
)

// Processing states of an entry. At most one action processes an entry at
// any time; the state tells waiters and the eviction scan what is going on.
const (
	psDone int32 = iota
	psRead
	psMutate
	psLoad
	psLoadAsync
	psLoadComplete
	psCompute
	psRefresh
	psExpiry
	psExpiryComplete
	psWrite
	psWriteComplete
	psNotify
	// psGone is terminal: the entry left the hash table. Operations that
	// raced with the removal must re-lookup.
	psGone
)

// valueBox is the committed payload of an entry, swapped atomically so
// the fast read path needs no lock. Exactly one of value or exception is
// meaningful; exc != nil wins.
type valueBox[K comparable, V any] struct {
	value V
	exc   *ExceptionInfo[K]
}

// Entry is a single cache mapping plus its concurrency state. It serves
// as the hash-chain node, the eviction-list node and the per-key lock.
//
// Lock order: segment lock before entry lock before eviction lock. The
// committed payload and next-refresh-time are atomics so reads never
// take the entry lock.
type Entry[K comparable, V any] struct {
	key  K
	hash uint64

	// box holds the committed value or cached exception. nil until the
	// first commit and after the payload was dropped.
	box atomic.Pointer[valueBox[K, V]]

	// nextRefreshTime holds the expiry time or a state sentinel, see the
	// nrt constants.
	nextRefreshTime atomic.Int64

	processingState atomic.Int32

	// detached is set when a clear dropped the entry from the hash while
	// an action was still processing it. The release path turns it into
	// psGone so parked waiters re-lookup instead of committing into the
	// orphaned entry.
	detached atomic.Bool

	// hitCnt is a dirty counter of accesses since the eviction last
	// looked; lost updates are fine.
	hitCnt atomic.Uint64

	mu   sync.Mutex
	cond *sync.Cond // created on first wait

	// currentAction is the action processing the entry, for follow-up
	// enqueueing. Guarded by mu.
	currentAction *entryAction[K, V]

	// timer is the pending expiry or refresh task, probationNrt the
	// expiry computed for refreshed data awaiting its first access.
	// Both guarded by mu.
	timer        *timerTask[K, V]
	probationNrt int64

	// modificationTime of the current data, in epoch millis. Written
	// while processing, read lock-free for entry views and expiry
	// policies.
	modificationTime atomic.Int64

	// next chains entries within a hash bucket, guarded by the segment
	// lock.
	next *Entry[K, V]

	nodeData eviction.NodeData
}

// stateString renders the lifecycle state for debug output and tests.
func (e *Entry[K, V]) stateString() string {
	nrt := e.nextRefreshTime.Load()
	switch nrt {
	case nrtVirgin:
		return "virgin"
	case nrtRemovePending:
		return "removePending"
	case nrtAborted:
		return "aborted"
	case nrtExpiredRefreshed:
		return "expiredRefreshed"
	case nrtExpired:
		return "expired"
	case nrtEternal:
		return "eternal"
	}
	if nrt < 0 {
		return fmt.Sprintf("sharp@%d", -nrt)
	}
	return fmt.Sprintf("expires@%d", nrt)
}

// examinable is the read view the operation semantics work on. Both the
// heap entry and a freshly loaded, not yet inserted result implement it.
type examinable[K comparable, V any] interface {
	getKey() K
	getValueBox() *valueBox[K, V]
	getRefreshTime() int64
	getModificationTime() int64
}

func (e *Entry[K, V]) getKey() K                    { return e.key }
func (e *Entry[K, V]) getValueBox() *valueBox[K, V] { return e.box.Load() }
func (e *Entry[K, V]) getRefreshTime() int64        { return e.nextRefreshTime.Load() }
func (e *Entry[K, V]) getModificationTime() int64   { return e.modificationTime.Load() }

// eviction.Node

func (e *Entry[K, V]) EvictionData() *eviction.NodeData { return &e.nodeData }
func (e *Entry[K, V]) HashCode() uint64                 { return e.hash }
func (e *Entry[K, V]) FetchHitCount() uint64            { return e.hitCnt.Swap(0) }
func (e *Entry[K, V]) IsProcessing() bool {
	ps := e.processingState.Load()
	return ps != psDone && ps != psGone
}

func (e *Entry[K, V]) isGone() bool { return e.processingState.Load() == psGone }

// hasFreshData reports whether the committed payload may be served at now.
func (e *Entry[K, V]) hasFreshData(now int64) bool {
	nrt := e.nextRefreshTime.Load()
	return freshByNrt(nrt, now)
}

func freshByNrt(nrt, now int64) bool {
	if nrt == nrtEternal {
		return true
	}
	if nrt >= expiryTimeMin {
		return nrt > now
	}
	if nrt < 0 {
		// Sharp expiry: data valid strictly before the instant.
		return -nrt > now
	}
	return false
}

// hasData reports whether a payload is present at all, fresh or not.
func (e *Entry[K, V]) hasData() bool {
	nrt := e.nextRefreshTime.Load()
	return nrt >= expiryTimeMin || nrt < 0 ||
		nrt == nrtExpired || nrt == nrtExpiredRefreshed
}

// startProcessing claims the entry for an action. Caller holds e.mu and
// has checked the entry is neither processing nor gone.
func (e *Entry[K, V]) startProcessing(ps int32, a *entryAction[K, V]) {
	e.processingState.Store(ps)
	e.currentAction = a
}

// nextProcessingStep transitions between non-terminal states.
func (e *Entry[K, V]) nextProcessingStep(ps int32) {
	e.processingState.Store(ps)
}

// processingDone releases the entry, wakes waiters and hands any queued
// follow-up action to the caller for dispatch. Caller holds e.mu.
func (e *Entry[K, V]) processingDone() *entryAction[K, V] {
	var next *entryAction[K, V]
	if e.currentAction != nil {
		next = e.currentAction.nextAction
		e.currentAction = nil
	}
	if e.processingState.Load() != psGone {
		if e.detached.Load() {
			e.processingState.Store(psGone)
		} else {
			e.processingState.Store(psDone)
		}
	}
	if e.cond != nil {
		e.cond.Broadcast()
	}
	return next
}

// waitForProcessing blocks until the running action finished. Caller
// holds e.mu; the lock is released while waiting.
func (e *Entry[K, V]) waitForProcessing() {
	if e.cond == nil {
		e.cond = sync.NewCond(&e.mu)
	}
	for e.IsProcessing() {
		e.cond.Wait()
	}
}

// checkAndSwitchProcessingState claims the entry only if it is idle.
// Caller holds e.mu. Used by the timer path which gives up instead of
// waiting when a user operation is already underway.
func (e *Entry[K, V]) checkAndSwitchProcessingState(ps int32, a *entryAction[K, V]) bool {
	cur := e.processingState.Load()
	if cur != psDone {
		return false
	}
	e.startProcessing(ps, a)
	return true
}

// loadedEntry is the examinable view over a finished load that has not
// been committed to the heap yet. Used to re-run the operation semantics
// against the loaded data.
type loadedEntry[K comparable, V any] struct {
	key     K
	box     *valueBox[K, V]
	nrt     int64
	modTime int64
}

func (l *loadedEntry[K, V]) getKey() K                    { return l.key }
func (l *loadedEntry[K, V]) getValueBox() *valueBox[K, V] { return l.box }
func (l *loadedEntry[K, V]) getRefreshTime() int64        { return l.nrt }
func (l *loadedEntry[K, V]) getModificationTime() int64   { return l.modTime }
