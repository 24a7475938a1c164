package cache

import (
	"fmt"

	"github.com/IvanBrykalov/hotcache/internal/util"
)

// statsCollector keeps the cache-side counters. All counters are dirty:
// incremented without synchronization beyond the atomic itself, so a
// snapshot is weakly consistent. Padded to avoid false sharing on the
// hot read-path counters.
type statsCollector struct {
	hit              util.PaddedAtomicUint64
	peekMiss         util.PaddedAtomicUint64
	peekHitNotFresh  util.PaddedAtomicUint64
	heapHitButNoRead util.PaddedAtomicUint64

	load                util.PaddedAtomicUint64
	reload              util.PaddedAtomicUint64
	refresh             util.PaddedAtomicUint64
	refreshedHit        util.PaddedAtomicUint64
	refreshFailed       util.PaddedAtomicUint64
	loadException       util.PaddedAtomicUint64
	suppressedException util.PaddedAtomicUint64
	loadMillis          util.PaddedAtomicUint64

	putNewEntry util.PaddedAtomicUint64
	putHit      util.PaddedAtomicUint64
	removed     util.PaddedAtomicUint64
	expired     util.PaddedAtomicUint64
	expiredKept util.PaddedAtomicUint64

	timerEvent        util.PaddedAtomicUint64
	goneSpin          util.PaddedAtomicUint64
	internalException util.PaddedAtomicUint64

	clearCount        util.PaddedAtomicUint64
	clearedEntryCount util.PaddedAtomicUint64
}

// Info is a weakly consistent snapshot of cache statistics.
type Info struct {
	// Size is the number of entries on the heap, including entries whose
	// data already expired but was kept.
	Size int

	// HitCnt counts reads answered from fresh heap data.
	HitCnt uint64
	// MissCnt counts reads that found no fresh data. Derived: peek
	// misses plus loads triggered by reads.
	MissCnt uint64
	// PeekMissCnt counts non-loading reads on an absent entry,
	// PeekHitNotFreshCnt those on an entry whose data had expired.
	PeekMissCnt        uint64
	PeekHitNotFreshCnt uint64
	// HeapHitButNoReadCnt counts operations that inspected an entry
	// without counting as a read, e.g. Contains.
	HeapHitButNoReadCnt uint64

	// LoadCnt counts completed successful loads, ReloadCnt the subset
	// replacing still-present data, RefreshCnt refresh-ahead attempts.
	LoadCnt    uint64
	ReloadCnt  uint64
	RefreshCnt uint64
	// RefreshedHitCnt counts reads served from refreshed data within its
	// probation window; RefreshFailedCnt refreshes that could not run.
	RefreshedHitCnt  uint64
	RefreshFailedCnt uint64
	// LoadExceptionCnt counts loader failures surfaced to callers,
	// SuppressedExceptionCnt failures hidden behind still-valid data.
	LoadExceptionCnt       uint64
	SuppressedExceptionCnt uint64
	// LoadMillis is the accumulated wall time spent in the loader.
	LoadMillis uint64

	PutCnt      uint64
	PutNewEntry uint64
	PutHitCnt   uint64
	RemovedCnt  uint64
	// ExpiredCnt counts entries whose data expired; ExpiredKeptCnt the
	// subset whose entry stayed on the heap.
	ExpiredCnt     uint64
	ExpiredKeptCnt uint64

	// EvictedCnt and TotalWeight come from the eviction side.
	EvictedCnt  int64
	TotalWeight int64

	TimerEventCnt uint64
	// GoneSpinCnt counts lock retries after racing an entry removal.
	GoneSpinCnt uint64
	// InternalExceptionCnt should stay zero; nonzero indicates a bug.
	InternalExceptionCnt uint64

	ClearCnt        uint64
	ClearedEntryCnt uint64
}

func (i Info) String() string {
	return fmt.Sprintf(
		"hotcache.Info{size=%d, hit=%d, miss=%d, load=%d, reload=%d, refresh=%d, "+
			"loadException=%d, suppressedException=%d, put=%d, removed=%d, "+
			"expired=%d, evicted=%d, clear=%d, goneSpin=%d, internalException=%d}",
		i.Size, i.HitCnt, i.MissCnt, i.LoadCnt, i.ReloadCnt, i.RefreshCnt,
		i.LoadExceptionCnt, i.SuppressedExceptionCnt, i.PutCnt, i.RemovedCnt,
		i.ExpiredCnt, i.EvictedCnt, i.ClearCnt, i.GoneSpinCnt, i.InternalExceptionCnt)
}

func (s *statsCollector) snapshot() Info {
	info := Info{
		HitCnt:                 s.hit.Load(),
		PeekMissCnt:            s.peekMiss.Load(),
		PeekHitNotFreshCnt:     s.peekHitNotFresh.Load(),
		HeapHitButNoReadCnt:    s.heapHitButNoRead.Load(),
		LoadCnt:                s.load.Load(),
		ReloadCnt:              s.reload.Load(),
		RefreshCnt:             s.refresh.Load(),
		RefreshedHitCnt:        s.refreshedHit.Load(),
		RefreshFailedCnt:       s.refreshFailed.Load(),
		LoadExceptionCnt:       s.loadException.Load(),
		SuppressedExceptionCnt: s.suppressedException.Load(),
		LoadMillis:             s.loadMillis.Load(),
		PutNewEntry:            s.putNewEntry.Load(),
		PutHitCnt:              s.putHit.Load(),
		RemovedCnt:             s.removed.Load(),
		ExpiredCnt:             s.expired.Load(),
		ExpiredKeptCnt:         s.expiredKept.Load(),
		TimerEventCnt:          s.timerEvent.Load(),
		GoneSpinCnt:            s.goneSpin.Load(),
		InternalExceptionCnt:   s.internalException.Load(),
		ClearCnt:               s.clearCount.Load(),
		ClearedEntryCnt:        s.clearedEntryCount.Load(),
	}
	info.PutCnt = info.PutNewEntry + info.PutHitCnt
	// LoadCnt excludes refresh-ahead loads, so every counted load or
	// propagated load failure was a read that found no usable data.
	info.MissCnt = info.PeekMissCnt + info.PeekHitNotFreshCnt +
		info.LoadCnt + info.LoadExceptionCnt
	return info
}
