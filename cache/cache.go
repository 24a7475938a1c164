package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/hotcache/eviction"
	"github.com/IvanBrykalov/hotcache/eviction/lru"
	"github.com/IvanBrykalov/hotcache/internal/util"
)

// heapCache is the Cache implementation: a segmented hash table of
// entries, an eviction list, a timing handler and the entry-action
// pipeline on top.
type heapCache[K comparable, V any] struct {
	cfg    config[K, V]
	clock  Clock
	hash   *hashTable[K, V]
	evict  eviction.Eviction
	timing *timingHandler[K, V]
	stats  *statsCollector
	logger *zap.Logger

	// globalMu serializes cache-wide operations (clear, close).
	globalMu sync.Mutex
	closed   atomic.Bool
	// clearCnt is the clear epoch; iterators terminate when it moves.
	clearCnt atomic.Uint64
}

// New creates a cache from the options. The zero Options value yields a
// usable cache with defaults; see Options for the knobs.
func New[K comparable, V any](opts Options[K, V]) Cache[K, V] {
	cfg := opts.withDefaults()
	c := &heapCache[K, V]{
		cfg:    cfg,
		clock:  cfg.Clock,
		hash:   newHashTable[K, V](cfg.SegmentCount),
		stats:  &statsCollector{},
		logger: cfg.Logger,
	}
	c.timing = newTimingHandler(&cfg)
	c.timing.onExpireEvent = c.timerEventExpire
	c.timing.onRefresh = c.timerEventRefresh
	c.timing.onProbation = c.timerEventProbationEnd
	c.evict = lru.New(lru.Config{
		Capacity:       cfg.Capacity,
		MaxWeight:      cfg.MaxWeight,
		WeigherPresent: cfg.Weigher != nil,
	}, (*evictionBackend[K, V])(c))
	c.logger.Debug("cache created",
		zap.String("name", cfg.Name),
		zap.Int("capacity", cfg.Capacity),
		zap.Int("segments", c.hash.segmentCount()))
	return c
}

func (c *heapCache[K, V]) keyHash(key K) uint64 { return util.KeyHash(key) }

func (c *heapCache[K, V]) Name() string { return c.cfg.Name }

// ---- entry access helpers ----

// lookupOrNewEntry returns the live entry for key, inserting a virgin
// entry when absent. Eviction pressure is relieved before taking the
// segment lock so eviction never runs inside it.
func (c *heapCache[K, V]) lookupOrNewEntry(key K, hash uint64) (*Entry[K, V], bool) {
	if e := c.hash.lookup(key, hash); e != nil && !e.isGone() {
		return e, false
	}
	c.evict.EvictEventually(hash)
	lock := c.hash.getSegmentLock(hash)
	lock.Lock()
	defer lock.Unlock()
	s := c.hash.segmentFor(hash)
	if e := s.lookupWithinLock(key, hash); e != nil && !e.isGone() {
		return e, false
	}
	e := &Entry[K, V]{key: key, hash: hash}
	c.hash.insertWithinLock(e)
	c.hash.checkExpand(hash)
	c.evict.Submit(e)
	return e, true
}

// removeEntry takes e out of the hash and replacement list, cancels its
// timer and marks it gone. The caller owns the processing claim; the
// returned follow-up action, if any, must be dispatched.
func (c *heapCache[K, V]) removeEntry(e *Entry[K, V]) *entryAction[K, V] {
	lock := c.hash.getSegmentLock(e.hash)
	lock.Lock()
	e.mu.Lock()
	c.hash.removeWithinLock(e)
	if e.EvictionData().Listed {
		c.evict.Submit(e)
	}
	c.timing.cancelEntryTimer(e)
	e.processingState.Store(psGone)
	var followUp *entryAction[K, V]
	if e.currentAction != nil {
		followUp = e.currentAction.nextAction
		e.currentAction = nil
	}
	if e.cond != nil {
		e.cond.Broadcast()
	}
	e.mu.Unlock()
	lock.Unlock()
	return followUp
}

// reviveRefreshedEntry promotes parked refreshed data to live data on
// first access within the probation window.
func (c *heapCache[K, V]) reviveRefreshedEntry(e *Entry[K, V]) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.IsProcessing() || e.isGone() {
		return false
	}
	if e.nextRefreshTime.Load() != nrtExpiredRefreshed || e.probationNrt == 0 {
		return false
	}
	if e.box.Load() == nil {
		return false
	}
	nrt := c.timing.stopStartTimer(e.probationNrt, e)
	e.probationNrt = 0
	e.nextRefreshTime.Store(nrt)
	return freshByNrt(nrt, c.clock.Millis())
}

// keepOldData reports whether the refresh-time state represents data the
// loader and policies may still see.
func (c *heapCache[K, V]) keepOldData(nrt int64) bool {
	return nrt >= expiryTimeMin || nrt < 0 || nrt == nrtExpired || nrt == nrtExpiredRefreshed
}

func (c *heapCache[K, V]) hasCommittedData(nrt int64) bool {
	return c.keepOldData(nrt)
}

func (c *heapCache[K, V]) entryView(e examinable[K, V]) *CacheEntry[K, V] {
	box := e.getValueBox()
	if box == nil {
		return nil
	}
	return c.entryViewOf(e.getKey(), box, e.getModificationTime())
}

func (c *heapCache[K, V]) entryViewOf(key K, box *valueBox[K, V], modTime int64) *CacheEntry[K, V] {
	return &CacheEntry[K, V]{key: key, value: box.value, exc: box.exc, modTime: modTime}
}

// ---- loader bridge ----

type loadResult[V any] struct {
	value V
	err   error
}

// chanLoadCallback bridges an async loader to the blocking action
// goroutine. Only the first completion wins; a second callback is an
// async-loader contract violation and is counted as an internal error
// instead of blocking the loader's goroutine.
type chanLoadCallback[V any] struct {
	ch   chan loadResult[V]
	done *atomic.Bool
	dup  func()
}

func (cb chanLoadCallback[V]) OnLoadSuccess(v V)       { cb.complete(loadResult[V]{value: v}) }
func (cb chanLoadCallback[V]) OnLoadFailure(err error) { cb.complete(loadResult[V]{err: err}) }

func (cb chanLoadCallback[V]) complete(r loadResult[V]) {
	if !cb.done.CompareAndSwap(false, true) {
		cb.dup()
		return
	}
	cb.ch <- r
}

// invokeLoader runs the configured loader, converting panics into load
// errors. The async loader is bridged to a channel; the action
// goroutine blocks until the callback or context end.
func (c *heapCache[K, V]) invokeLoader(ctx context.Context, key K, startTime int64, current *CacheEntry[K, V], refresh bool) (v V, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = fmt.Errorf("cache: loader panic: %v", r)
			}
		}
	}()
	if c.cfg.Loader != nil {
		return c.cfg.Loader(ctx, key, startTime, current)
	}
	ch := make(chan loadResult[V], 1)
	c.cfg.AsyncLoader.Load(ctx, AsyncLoadRequest[K, V]{
		Key:       key,
		StartTime: startTime,
		Current:   current,
		Refresh:   refresh,
	}, chanLoadCallback[V]{
		ch:   ch,
		done: new(atomic.Bool),
		dup: func() {
			c.stats.internalException.Add(1)
			c.logger.Error("async loader completed more than once",
				zap.String("name", c.cfg.Name), zap.Any("key", key))
		},
	})
	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// ---- timer event handlers, called by the timing handler ----

func (c *heapCache[K, V]) timerEventExpire(e *Entry[K, V]) {
	if c.closed.Load() {
		return
	}
	c.stats.timerEvent.Add(1)
	a := c.newAction(context.Background(), e.key, opExpireEvent[K, V]())
	a.timerDriven = true
	_ = a.execute()
}

func (c *heapCache[K, V]) timerEventProbationEnd(e *Entry[K, V]) {
	c.timerEventExpire(e)
}

func (c *heapCache[K, V]) timerEventRefresh(e *Entry[K, V]) {
	if c.closed.Load() {
		return
	}
	c.stats.timerEvent.Add(1)
	key := e.key
	c.cfg.LoaderExecutor(func() {
		a := c.newAction(context.Background(), key, opRefresh[K, V]())
		a.timerDriven = true
		_ = a.execute()
	})
}

// dispatchFollowUp restarts an action that parked behind the one that
// just completed.
func (c *heapCache[K, V]) dispatchFollowUp(a *entryAction[K, V]) {
	if a == nil {
		return
	}
	c.cfg.LoaderExecutor(func() { _ = a.execute() })
}

// ---- eviction backend ----

type evictionBackend[K comparable, V any] heapCache[K, V]

func (b *evictionBackend[K, V]) RemoveForEviction(n eviction.Node) bool {
	c := (*heapCache[K, V])(b)
	e := n.(*Entry[K, V])
	lock := c.hash.getSegmentLock(e.hash)
	lock.Lock()
	defer lock.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.IsProcessing() || e.isGone() {
		return false
	}
	c.hash.removeWithinLock(e)
	c.evict.Submit(e)
	c.timing.cancelEntryTimer(e)
	e.processingState.Store(psGone)
	if e.cond != nil {
		e.cond.Broadcast()
	}
	c.cfg.Metrics.IncEvictions()
	return true
}

// ---- listeners ----

func (c *heapCache[K, V]) fireSyncListeners(ctx context.Context, kind entryEventKind, key K, old, cur *CacheEntry[K, V]) error {
	var first error
	for _, l := range c.cfg.Listeners {
		if err := c.fireListener(ctx, l, kind, key, old, cur); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (c *heapCache[K, V]) fireAsyncListeners(ctx context.Context, kind entryEventKind, key K, old, cur *CacheEntry[K, V]) {
	if kind == eventNone || len(c.cfg.AsyncListeners) == 0 {
		return
	}
	for _, l := range c.cfg.AsyncListeners {
		l := l
		c.cfg.ListenerExecutor(func() {
			if err := c.fireListener(ctx, l, kind, key, old, cur); err != nil {
				c.logger.Warn("async listener failed",
					zap.String("cache", c.cfg.Name), zap.Error(err))
			}
		})
	}
}

func (c *heapCache[K, V]) fireListener(ctx context.Context, l EventListener[K, V], kind entryEventKind, key K, old, cur *CacheEntry[K, V]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = fmt.Errorf("cache: listener panic: %v", r)
			}
		}
	}()
	switch kind {
	case eventCreated:
		return l.OnEntryCreated(ctx, key, cur)
	case eventUpdated:
		return l.OnEntryUpdated(ctx, key, old, cur)
	case eventRemoved:
		return l.OnEntryRemoved(ctx, key, old)
	case eventExpired:
		return l.OnEntryExpired(ctx, key, old)
	}
	return nil
}

// ---- read operations ----

// fastLookup is the lock-free read path shared by Get and Peek. It
// reports the committed payload when the data is fresh.
func (c *heapCache[K, V]) fastLookup(key K) (*valueBox[K, V], bool) {
	hash := c.keyHash(key)
	e := c.hash.lookup(key, hash)
	if e == nil || e.isGone() {
		return nil, false
	}
	if !e.hasFreshData(c.clock.Millis()) {
		return nil, false
	}
	box := e.box.Load()
	if box == nil {
		return nil, false
	}
	e.hitCnt.Add(1)
	c.stats.hit.Add(1)
	c.cfg.Metrics.IncHits()
	return box, true
}

func (c *heapCache[K, V]) Get(ctx context.Context, key K) (V, error) {
	var zero V
	if c.closed.Load() {
		return zero, ErrCacheClosed
	}
	if box, ok := c.fastLookup(key); ok {
		if box.exc != nil {
			return zero, &LoaderError[K]{Info: box.exc}
		}
		return box.value, nil
	}
	a := c.newAction(ctx, key, opGet[K, V]())
	err := a.execute()
	if err != nil {
		return zero, err
	}
	if entry, ok := a.result.(*CacheEntry[K, V]); ok && entry != nil {
		return entry.value, nil
	}
	return zero, nil
}

func (c *heapCache[K, V]) GetEntry(ctx context.Context, key K) (*CacheEntry[K, V], error) {
	if c.closed.Load() {
		return nil, ErrCacheClosed
	}
	a := c.newAction(ctx, key, opGet[K, V]())
	err := a.execute()
	entry, _ := a.result.(*CacheEntry[K, V])
	if err != nil {
		if entry != nil {
			// The entry view carries the cached exception.
			return entry, nil
		}
		return nil, err
	}
	return entry, nil
}

func (c *heapCache[K, V]) Peek(key K) (V, bool) {
	var zero V
	if c.closed.Load() {
		return zero, false
	}
	if box, ok := c.fastLookup(key); ok {
		if box.exc != nil {
			return zero, false
		}
		return box.value, true
	}
	c.countPeekMiss(key)
	return zero, false
}

func (c *heapCache[K, V]) PeekEntry(key K) *CacheEntry[K, V] {
	if c.closed.Load() {
		return nil
	}
	hash := c.keyHash(key)
	e := c.hash.lookup(key, hash)
	if e != nil && !e.isGone() && e.hasFreshData(c.clock.Millis()) {
		if box := e.box.Load(); box != nil {
			e.hitCnt.Add(1)
			c.stats.hit.Add(1)
			c.cfg.Metrics.IncHits()
			return c.entryViewOf(key, box, e.modificationTime.Load())
		}
	}
	c.countPeekMiss(key)
	return nil
}

func (c *heapCache[K, V]) countPeekMiss(key K) {
	hash := c.keyHash(key)
	e := c.hash.lookup(key, hash)
	if e != nil && !e.isGone() && e.hasData() {
		c.stats.peekHitNotFresh.Add(1)
	} else {
		c.stats.peekMiss.Add(1)
	}
	c.cfg.Metrics.IncMisses()
}

func (c *heapCache[K, V]) ContainsKey(key K) bool {
	if c.closed.Load() {
		return false
	}
	hash := c.keyHash(key)
	e := c.hash.lookup(key, hash)
	if e == nil || e.isGone() {
		return false
	}
	if !e.hasFreshData(c.clock.Millis()) {
		return false
	}
	c.stats.heapHitButNoRead.Add(1)
	return true
}

// ---- mutating operations ----

func (c *heapCache[K, V]) runAction(ctx context.Context, key K, sem semantic[K, V]) (*entryAction[K, V], error) {
	if c.closed.Load() {
		return nil, ErrCacheClosed
	}
	a := c.newAction(ctx, key, sem)
	return a, a.execute()
}

func (c *heapCache[K, V]) Put(ctx context.Context, key K, value V) error {
	_, err := c.runAction(ctx, key, opPut[K, V](value))
	return err
}

func (c *heapCache[K, V]) PutIfAbsent(ctx context.Context, key K, value V) (bool, error) {
	a, err := c.runAction(ctx, key, opPutIfAbsent[K, V](value))
	if err != nil {
		return false, err
	}
	stored, _ := a.result.(bool)
	return stored, nil
}

func (c *heapCache[K, V]) PeekAndPut(ctx context.Context, key K, value V) (V, bool, error) {
	var zero V
	a, err := c.runAction(ctx, key, opPeekAndPut[K, V](value))
	if err != nil {
		return zero, false, err
	}
	if prev, ok := a.result.(*CacheEntry[K, V]); ok && prev != nil {
		return prev.value, true, nil
	}
	return zero, false, nil
}

func (c *heapCache[K, V]) PeekAndReplace(ctx context.Context, key K, value V) (V, bool, error) {
	var zero V
	a, err := c.runAction(ctx, key, opPeekAndReplace[K, V](value))
	if err != nil {
		return zero, false, err
	}
	if prev, ok := a.result.(*CacheEntry[K, V]); ok && prev != nil {
		return prev.value, true, nil
	}
	return zero, false, nil
}

func (c *heapCache[K, V]) Replace(ctx context.Context, key K, value V) (bool, error) {
	var ignored V
	a, err := c.runAction(ctx, key, opReplace[K, V](value, false, ignored, nil))
	if err != nil {
		return false, err
	}
	replaced, _ := a.result.(bool)
	return replaced, nil
}

func (c *heapCache[K, V]) ReplaceIfEquals(ctx context.Context, key K, expected, newValue V) (bool, error) {
	a, err := c.runAction(ctx, key, opReplace[K, V](newValue, true, expected, c.cfg.ValueEquals))
	if err != nil {
		return false, err
	}
	replaced, _ := a.result.(bool)
	return replaced, nil
}

func (c *heapCache[K, V]) Remove(ctx context.Context, key K) error {
	_, err := c.runAction(ctx, key, opRemove[K, V]())
	return err
}

func (c *heapCache[K, V]) ContainsAndRemove(ctx context.Context, key K) (bool, error) {
	a, err := c.runAction(ctx, key, opContainsAndRemove[K, V]())
	if err != nil {
		return false, err
	}
	had, _ := a.result.(bool)
	return had, nil
}

func (c *heapCache[K, V]) RemoveIfEquals(ctx context.Context, key K, expected V) (bool, error) {
	a, err := c.runAction(ctx, key, opRemoveIfEquals[K, V](expected, c.cfg.ValueEquals))
	if err != nil {
		return false, err
	}
	removed, _ := a.result.(bool)
	return removed, nil
}

func (c *heapCache[K, V]) PeekAndRemove(ctx context.Context, key K) (V, bool, error) {
	var zero V
	a, err := c.runAction(ctx, key, opPeekAndRemove[K, V]())
	if err != nil {
		return zero, false, err
	}
	if prev, ok := a.result.(*CacheEntry[K, V]); ok && prev != nil {
		return prev.value, true, nil
	}
	return zero, false, nil
}

func (c *heapCache[K, V]) ComputeIfAbsent(ctx context.Context, key K, compute func() (V, error)) (V, error) {
	var zero V
	a, err := c.runAction(ctx, key, opComputeIfAbsent[K, V](compute))
	if err != nil {
		return zero, err
	}
	switch r := a.result.(type) {
	case *CacheEntry[K, V]:
		if r != nil {
			return r.value, nil
		}
	case V:
		return r, nil
	}
	return zero, nil
}

func (c *heapCache[K, V]) Invoke(ctx context.Context, key K, p EntryProcessor[K, V]) (any, error) {
	a, err := c.runAction(ctx, key, opInvoke[K, V](p))
	if err != nil {
		return nil, err
	}
	return a.result, nil
}

func (c *heapCache[K, V]) ExpireAt(ctx context.Context, key K, t int64) error {
	_, err := c.runAction(ctx, key, opExpire[K, V](t))
	return err
}

// ---- bulk and load operations ----

func (c *heapCache[K, V]) Prefetch(ctx context.Context, key K) {
	if c.closed.Load() || !c.cfg.hasLoader {
		return
	}
	hash := c.keyHash(key)
	if e := c.hash.lookup(key, hash); e != nil && e.hasFreshData(c.clock.Millis()) {
		return
	}
	c.cfg.LoaderExecutor(func() {
		_, _ = c.runAction(ctx, key, opConditionalLoad[K, V]())
	})
}

func (c *heapCache[K, V]) PrefetchAll(ctx context.Context, keys []K) {
	for _, key := range distinct(keys) {
		c.Prefetch(ctx, key)
	}
}

func (c *heapCache[K, V]) LoadAll(ctx context.Context, keys []K) error {
	return c.bulkLoad(ctx, keys, func(key K) error {
		_, err := c.runAction(ctx, key, opConditionalLoad[K, V]())
		return err
	})
}

func (c *heapCache[K, V]) ReloadAll(ctx context.Context, keys []K) error {
	return c.bulkLoad(ctx, keys, func(key K) error {
		_, err := c.runAction(ctx, key, opUnconditionalLoad[K, V]())
		return err
	})
}

// bulkLoad runs one load per distinct key concurrently and waits for
// all of them. The first error wins; the remaining loads still finish
// so their results stay cached.
func (c *heapCache[K, V]) bulkLoad(ctx context.Context, keys []K, loadOne func(key K) error) error {
	if c.closed.Load() {
		return ErrCacheClosed
	}
	if !c.cfg.hasLoader {
		return ErrNoLoader
	}
	var wg sync.WaitGroup
	var mu sync.Mutex
	var first error
	for _, key := range distinct(keys) {
		key := key
		wg.Add(1)
		c.cfg.LoaderExecutor(func() {
			defer wg.Done()
			if err := loadOne(key); err != nil {
				mu.Lock()
				if first == nil {
					first = err
				}
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	return first
}

func (c *heapCache[K, V]) GetAll(ctx context.Context, keys []K) (map[K]V, error) {
	if c.closed.Load() {
		return nil, ErrCacheClosed
	}
	out := make(map[K]V, len(keys))
	var mu sync.Mutex
	var wg sync.WaitGroup
	var first error
	for _, key := range distinct(keys) {
		key := key
		wg.Add(1)
		c.cfg.LoaderExecutor(func() {
			defer wg.Done()
			entry, err := c.GetEntry(ctx, key)
			mu.Lock()
			defer mu.Unlock()
			if err == nil && entry != nil {
				err = entry.Err()
			}
			if err != nil {
				if first == nil {
					first = err
				}
				return
			}
			if entry != nil {
				out[key] = entry.value
			}
		})
	}
	wg.Wait()
	return out, first
}

func (c *heapCache[K, V]) PeekAll(keys []K) map[K]V {
	out := make(map[K]V, len(keys))
	for _, key := range distinct(keys) {
		if v, ok := c.Peek(key); ok {
			out[key] = v
		}
	}
	return out
}

func (c *heapCache[K, V]) PutAll(ctx context.Context, m map[K]V) error {
	for key, v := range m {
		if err := c.Put(ctx, key, v); err != nil {
			return err
		}
	}
	return nil
}

func (c *heapCache[K, V]) RemoveAllKeys(ctx context.Context, keys []K) error {
	if keys == nil {
		c.Keys(func(key K) bool {
			keys = append(keys, key)
			return true
		})
	}
	for _, key := range distinct(keys) {
		if err := c.Remove(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func distinct[K comparable](keys []K) []K {
	seen := make(map[K]struct{}, len(keys))
	out := keys[:0:0]
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// ---- iteration ----

func (c *heapCache[K, V]) Keys(visit func(key K) bool) {
	c.Entries(func(e *CacheEntry[K, V]) bool {
		return visit(e.key)
	})
}

// Entries walks per-segment snapshots. A clear during the walk
// terminates it; entries are weakly consistent otherwise.
func (c *heapCache[K, V]) Entries(visit func(e *CacheEntry[K, V]) bool) {
	if c.closed.Load() {
		return
	}
	epoch := c.clearCnt.Load()
	now := c.clock.Millis()
	for i := 0; i < c.hash.segmentCount(); i++ {
		if c.clearCnt.Load() != epoch || c.closed.Load() {
			return
		}
		for _, e := range c.hash.snapshotSegment(i) {
			if e.isGone() || !e.hasFreshData(now) {
				continue
			}
			box := e.box.Load()
			if box == nil || box.exc != nil {
				continue
			}
			if !visit(c.entryViewOf(e.key, box, e.modificationTime.Load())) {
				return
			}
		}
	}
}

func (c *heapCache[K, V]) Size() int {
	if c.closed.Load() {
		return 0
	}
	return c.hash.size()
}

// ---- global operations ----

// executeWithGlobalLock stops eviction, takes every segment lock and
// runs job, so no entry mutation can interleave.
func (c *heapCache[K, V]) executeWithGlobalLock(job func()) {
	c.globalMu.Lock()
	defer c.globalMu.Unlock()
	c.evict.Stop()
	c.evict.Drain()
	c.hash.runTotalLocked(job)
	c.evict.Start()
}

func (c *heapCache[K, V]) Clear() {
	if c.closed.Load() {
		return
	}
	var dropped int
	c.executeWithGlobalLock(func() {
		c.timing.cancelAll()
		c.hash.foreachWhenLocked(func(e *Entry[K, V]) {
			e.mu.Lock()
			e.timer = nil
			if e.IsProcessing() {
				// The running action finishes against the orphaned entry;
				// its release marks the entry gone and waiters re-lookup.
				e.detached.Store(true)
			} else {
				e.processingState.Store(psGone)
				if e.cond != nil {
					e.cond.Broadcast()
				}
			}
			e.mu.Unlock()
		})
		dropped = c.hash.clearWhenLocked()
		c.evict.RemoveAll()
	})
	c.clearCnt.Add(1)
	c.stats.clearCount.Add(1)
	c.stats.clearedEntryCount.Add(uint64(dropped))
	c.cfg.Metrics.SetSize(0)
	c.logger.Debug("cache cleared",
		zap.String("name", c.cfg.Name), zap.Int("entries", dropped))
}

func (c *heapCache[K, V]) Close() {
	c.globalMu.Lock()
	if c.closed.Load() {
		c.globalMu.Unlock()
		return
	}
	c.globalMu.Unlock()
	c.Clear()
	c.globalMu.Lock()
	defer c.globalMu.Unlock()
	c.closed.Store(true)
	c.timing.cancelAll()
	c.evict.Close()
	c.logger.Debug("cache closed", zap.String("name", c.cfg.Name))
}

func (c *heapCache[K, V]) Info() Info {
	info := c.stats.snapshot()
	info.Size = c.hash.size()
	em := c.evict.Metrics()
	info.EvictedCnt = em.EvictedCnt
	info.TotalWeight = em.TotalWeight
	c.cfg.Metrics.SetSize(info.Size)
	return info
}

var _ Cache[string, int] = (*heapCache[string, int])(nil)
