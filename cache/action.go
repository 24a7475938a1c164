package cache

import (
	"context"
	"fmt"
)

// entryAction executes one operation against one entry. It walks the
// phases examine, lock, load, expiry calculation, writer, heap update,
// listeners and release in order, driven by the operation's semantic
// callbacks. At most one action processes an entry at a time; everything
// between lockEntry and releaseEntry runs with the entry claimed.
type entryAction[K comparable, V any] struct {
	cache *heapCache[K, V]
	ctx   context.Context
	key   K
	hash  uint64
	sem   semantic[K, V]

	// entry is the heap entry once locked; examEntry the snapshot the
	// semantics examine, which after a load is the loaded data instead.
	entry     *Entry[K, V]
	examEntry examinable[K, V]
	examNrt   int64
	examBox   *valueBox[K, V]

	result any
	err    error

	// old state captured when the entry was claimed.
	oldBox *valueBox[K, V]
	oldNrt int64

	// mutation products.
	newValue    V
	newExc      *ExceptionInfo[K]
	hasMutation bool
	remove      bool
	expiry      int64
	expirySet   bool

	mutationStartTime int64
	loadStartedTime   int64
	loadCompletedTime int64

	doNotCountAccess bool
	countedMiss      bool
	missHadData      bool

	loadRequested  bool
	refresh        bool
	restartOnLoad  bool
	loaded         bool
	successfulLoad bool
	suppressed     bool
	revived        bool

	expiredImmediately bool
	expiring           bool
	entryLocked        bool
	insertedVirgin     bool
	aborted            bool

	// timerDriven actions never wait for a running action; they enqueue
	// themselves as a follow-up instead.
	timerDriven bool
	nextAction  *entryAction[K, V]

	syncListenerErr error
}

func (c *heapCache[K, V]) newAction(ctx context.Context, key K, sem semantic[K, V]) *entryAction[K, V] {
	if ctx == nil {
		ctx = context.Background()
	}
	return &entryAction[K, V]{
		cache: c,
		ctx:   ctx,
		key:   key,
		hash:  c.keyHash(key),
		sem:   sem,
	}
}

// execute runs the whole pipeline on the calling goroutine and returns
// the propagated error, if any. Loads block the caller.
func (a *entryAction[K, V]) execute() error {
	defer a.recoverInternal()
	a.start()
	return a.err
}

func (a *entryAction[K, V]) recoverInternal() {
	if r := recover(); r != nil {
		a.cache.stats.internalException.Add(1)
		if a.entryLocked {
			a.abortLocked()
		}
		if a.err == nil {
			a.err = fmt.Errorf("cache: internal error processing key %v: %v", a.key, r)
		}
		a.cache.cfg.Logger.Error("internal error in entry processing")
	}
}

func (a *entryAction[K, V]) start() {
	if a.sem.start != nil {
		a.sem.start(a)
		return
	}
	if a.sem.examine != nil {
		a.wantData()
		return
	}
	a.wantMutation()
}

// ---- examine phase ----

// wantData examines the current heap data without locking the entry.
// A mutation decided on this snapshot gets re-validated under the claim.
func (a *entryAction[K, V]) wantData() {
	a.mutationStartTime = a.cache.clock.Millis()
	e := a.cache.hash.lookup(a.key, a.hash)
	if e != nil && !e.isGone() {
		a.examEntry = e
		a.examNrt = e.getRefreshTime()
		a.examBox = e.getValueBox()
	}
	a.sem.examine(a, a.examEntry)
}

func (a *entryAction[K, V]) now() int64 { return a.cache.clock.Millis() }

// isDataFresh reports serveable data without touching any counter.
func (a *entryAction[K, V]) isDataFresh(e examinable[K, V]) bool {
	if e == nil {
		return false
	}
	fresh := freshByNrt(e.getRefreshTime(), a.now())
	if fresh && a.doNotCountAccess {
		a.cache.stats.heapHitButNoRead.Add(1)
	}
	return fresh
}

func (a *entryAction[K, V]) isDataFreshNoCount(e examinable[K, V]) bool {
	return e != nil && freshByNrt(e.getRefreshTime(), a.now())
}

func (a *entryAction[K, V]) isDataFreshOrInProbation(e examinable[K, V]) bool {
	if a.isDataFreshNoCount(e) {
		return true
	}
	return e != nil && e.getRefreshTime() == nrtExpiredRefreshed
}

// isPresentOrMiss counts a hit when fresh data is present, a miss
// otherwise, and reports which it was.
func (a *entryAction[K, V]) isPresentOrMiss(e examinable[K, V]) bool {
	if a.isDataFreshNoCount(e) {
		a.countHit(e)
		return true
	}
	a.countMissIfAbsent(e)
	return false
}

// isPresentOrInRefreshProbation additionally revives an entry holding
// refreshed data in its probation window: the parked expiry becomes
// live and the data counts as a refreshed hit.
func (a *entryAction[K, V]) isPresentOrInRefreshProbation(e examinable[K, V]) bool {
	if a.isDataFreshNoCount(e) {
		a.countHit(e)
		return true
	}
	if e != nil && e.getRefreshTime() == nrtExpiredRefreshed {
		if entry, ok := e.(*Entry[K, V]); ok && a.cache.reviveRefreshedEntry(entry) {
			a.cache.stats.refreshedHit.Add(1)
			entry.hitCnt.Add(1)
			return true
		}
	}
	a.countMissIfAbsent(e)
	return false
}

func (a *entryAction[K, V]) countHit(e examinable[K, V]) {
	if a.doNotCountAccess {
		a.cache.stats.heapHitButNoRead.Add(1)
		return
	}
	a.cache.stats.hit.Add(1)
	a.cache.cfg.Metrics.IncHits()
	if entry, ok := e.(*Entry[K, V]); ok {
		entry.hitCnt.Add(1)
	}
}

// countMissIfAbsent records a miss once per action, remembering whether
// stale data was present to split the miss counters.
func (a *entryAction[K, V]) countMissIfAbsent(e examinable[K, V]) {
	if a.doNotCountAccess || a.countedMiss {
		return
	}
	a.countedMiss = true
	if entry, ok := e.(*Entry[K, V]); ok && entry.hasData() {
		a.missHadData = true
	}
}

func (a *entryAction[K, V]) isLoaderPresent() bool { return a.cache.cfg.hasLoader }
func (a *entryAction[K, V]) wasLoaded() bool       { return a.loaded }

// entryResult records the examined data as the operation result.
func (a *entryAction[K, V]) entryResult(e examinable[K, V]) {
	if e == nil {
		return
	}
	a.result = a.cache.entryView(e)
	if box := e.getValueBox(); box != nil && box.exc != nil {
		a.err = &LoaderError[K]{Info: box.exc}
	}
}

func (a *entryAction[K, V]) failure(err error) {
	a.err = err
	a.noMutation()
}

// noMutation completes the action without touching the heap.
func (a *entryAction[K, V]) noMutation() {
	if a.entryLocked {
		a.aborted = true
		a.abortLocked()
	}
	a.finishCounters()
}

// ---- lock phase ----

// wantMutation claims the entry, inserting a virgin entry when absent.
// On re-entry with the claim already held it proceeds to the mutation.
func (a *entryAction[K, V]) wantMutation() {
	if a.entryLocked {
		a.mutate()
		return
	}
	if !a.lockEntry() {
		// Timer-driven action queued behind a running one, or gave up.
		return
	}
	// The examined snapshot may be stale; with the claim held the state
	// is stable, so decide again when the entry changed underneath. The
	// box pointer comparison catches value changes that keep the same
	// expiry state (eternal data updated by a put).
	if a.sem.examine != nil &&
		(a.examEntry != a.entry || a.oldNrt != a.examNrt || a.oldBox != a.examBox) {
		a.examEntry = a.entry
		a.examNrt = a.oldNrt
		a.examBox = a.oldBox
		a.sem.examine(a, a.examEntry)
		return
	}
	a.mutate()
}

// lockEntry claims the entry for this action, waiting out or queueing
// behind a running action. Returns false when the action was parked as
// a follow-up.
func (a *entryAction[K, V]) lockEntry() bool {
	for {
		e, inserted := a.cache.lookupOrNewEntry(a.key, a.hash)
		e.mu.Lock()
		if e.isGone() {
			e.mu.Unlock()
			a.cache.stats.goneSpin.Add(1)
			continue
		}
		if e.IsProcessing() {
			if a.timerDriven {
				// Park at the tail of the running action's chain; parked
				// actions re-dispatch in arrival order on completion.
				if cur := e.currentAction; cur != nil {
					last := cur
					for last.nextAction != nil {
						last = last.nextAction
					}
					last.nextAction = a
				}
				e.mu.Unlock()
				return false
			}
			e.waitForProcessing()
			if e.isGone() {
				e.mu.Unlock()
				a.cache.stats.goneSpin.Add(1)
				continue
			}
		}
		e.startProcessing(psMutate, a)
		a.entry = e
		a.entryLocked = true
		a.insertedVirgin = inserted
		a.oldBox = e.box.Load()
		a.oldNrt = e.nextRefreshTime.Load()
		e.mu.Unlock()
		return true
	}
}

// ---- mutate phase ----

func (a *entryAction[K, V]) mutate() {
	a.mutationStartTime = a.now()
	if a.loadRequested && !a.loaded {
		a.runLoad()
		return
	}
	if a.sem.update != nil {
		a.sem.update(a, a.examEntry)
		if a.aborted || a.err != nil && !a.hasMutation && !a.remove && !a.expirySet {
			return
		}
	}
	if !a.hasMutation && !a.remove && !a.expirySet {
		a.noMutation()
		return
	}
	a.mutationCalculateExpiry()
}

// load requests a loader invocation; refresh marks refresh-ahead.
func (a *entryAction[K, V]) load(refresh bool) {
	if !a.isLoaderPresent() {
		a.failure(ErrNoLoader)
		return
	}
	a.loadRequested = true
	a.refresh = refresh
	a.wantMutation()
}

// loadAndRestart is load with the semantics re-run against the loaded
// data instead of completing with it.
func (a *entryAction[K, V]) loadAndRestart() {
	a.restartOnLoad = true
	a.load(false)
}

func (a *entryAction[K, V]) runLoad() {
	e := a.entry
	// Refresh probation: a previous refresh already loaded fresh data
	// and parked it. Revive instead of hitting the loader again.
	if !a.refresh && e.nextRefreshTime.Load() == nrtExpiredRefreshed {
		e.mu.Lock()
		probation := e.probationNrt
		e.mu.Unlock()
		if box := e.box.Load(); box != nil && probation != 0 {
			a.loaded = true
			a.revived = true
			a.successfulLoad = box.exc == nil
			a.newValue = box.value
			a.newExc = box.exc
			a.hasMutation = true
			a.expiry = probation
			a.expirySet = true
			a.cache.stats.refreshedHit.Add(1)
			a.loadCompleted()
			return
		}
	}

	a.loadStartedTime = a.now()
	e.nextProcessingStep(psLoad)

	var current *CacheEntry[K, V]
	if a.oldBox != nil && a.cache.keepOldData(a.oldNrt) {
		current = a.cache.entryViewOf(a.key, a.oldBox, e.modificationTime.Load())
	}

	v, err := a.cache.invokeLoader(a.ctx, a.key, a.loadStartedTime, current, a.refresh)
	a.loadCompletedTime = a.now()
	a.cache.stats.loadMillis.Add(uint64(a.loadCompletedTime - a.loadStartedTime))
	a.loaded = true
	e.nextProcessingStep(psLoadComplete)

	if err != nil {
		a.newExc = &ExceptionInfo[K]{Key: a.key, Cause: err, LoadTime: a.loadStartedTime}
		a.hasMutation = true
		a.loadCompleted()
		return
	}
	if isNilValue(v) && !a.cache.cfg.PermitNilValues {
		a.newExc = &ExceptionInfo[K]{Key: a.key, Cause: ErrNilValue, LoadTime: a.loadStartedTime}
		a.hasMutation = true
		a.loadCompleted()
		return
	}
	a.successfulLoad = true
	a.newValue = v
	a.hasMutation = true
	if rt, ok := any(v).(RefreshTimeAware); ok {
		if t := rt.LoadedRefreshTime(); t > 0 {
			a.loadStartedTime = t
		}
	}
	a.loadCompleted()
}

// loadCompleted lets the semantics see the loaded data, then continues
// the pipeline with whatever they decided.
func (a *entryAction[K, V]) loadCompleted() {
	view := &loadedEntry[K, V]{
		key:     a.key,
		box:     &valueBox[K, V]{value: a.newValue, exc: a.newExc},
		nrt:     nrtEternal,
		modTime: a.loadStartedTime,
	}
	if a.newExc == nil || a.suppressed {
		a.examEntry = view
	}
	if a.restartOnLoad {
		a.restartOnLoad = false
		a.loadRequested = false
		if a.newExc != nil {
			// The load the processor asked for failed; surface it.
			a.mutationCalculateExpiry()
			return
		}
		a.sem.loaded(a, view)
		if a.aborted {
			return
		}
		if !a.hasMutation && !a.remove && !a.expirySet {
			a.noMutation()
			return
		}
		a.mutationCalculateExpiry()
		return
	}
	if a.sem.loaded != nil {
		a.sem.loaded(a, view)
	} else if a.newExc == nil {
		a.entryResult(view)
	}
	a.mutationCalculateExpiry()
}

// ---- mutation products, called by semantics in the update phase ----

func (a *entryAction[K, V]) put(v V) {
	if isNilValue(v) && !a.cache.cfg.PermitNilValues {
		a.failure(ErrNilValue)
		return
	}
	a.newValue = v
	a.newExc = nil
	a.hasMutation = true
	a.remove = false
}

func (a *entryAction[K, V]) putException(err error) {
	a.newExc = &ExceptionInfo[K]{Key: a.key, Cause: err, LoadTime: a.now()}
	a.hasMutation = true
	a.remove = false
}

func (a *entryAction[K, V]) removeMapping() {
	a.remove = true
	a.hasMutation = false
}

// setEntryExpiry adjusts only the expiry of the existing data.
func (a *entryAction[K, V]) setEntryExpiry(t int64) {
	a.expiry = t
	a.expirySet = true
}

// overrideExpiry replaces the computed expiry for a value mutation.
func (a *entryAction[K, V]) overrideExpiry(t int64) {
	a.expiry = t
	a.expirySet = true
}

// ---- expiry calculation ----

func (a *entryAction[K, V]) mutationCalculateExpiry() {
	if a.remove {
		a.mutationMayCallWriter()
		return
	}
	if a.expirySet && !a.hasMutation {
		// Expiry-only mutation (ExpireAt, timer event).
		a.resolveExpiryChange()
		return
	}
	if a.newExc != nil && a.loaded {
		a.calculateExceptionExpiry()
		a.mutationMayCallWriter()
		return
	}
	if a.expirySet {
		a.mutationMayCallWriter()
		return
	}
	loadTime := a.mutationStartTime
	if a.loaded {
		loadTime = a.loadStartedTime
	}
	var current *CacheEntry[K, V]
	if a.oldBox != nil && a.cache.keepOldData(a.oldNrt) {
		current = a.cache.entryViewOf(a.key, a.oldBox, a.entry.modificationTime.Load())
	}
	expiry, err := a.safeCalculateExpiry(a.newValue, loadTime, current)
	if err != nil {
		if a.loaded {
			// The value is good but unstorable; surface the policy error
			// and drop the data.
			a.newExc = &ExceptionInfo[K]{Key: a.key, Cause: err, LoadTime: loadTime}
			a.successfulLoad = false
			a.calculateExceptionExpiry()
			a.mutationMayCallWriter()
			return
		}
		a.failure(err)
		return
	}
	a.expiry = expiry
	a.mutationMayCallWriter()
}

func (a *entryAction[K, V]) safeCalculateExpiry(v V, loadTime int64, current *CacheEntry[K, V]) (t int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = &ExpiryPolicyError{Cause: e}
			} else {
				err = &ExpiryPolicyError{Cause: fmt.Errorf("%v", r)}
			}
		}
	}()
	return a.cache.timing.calculateNextRefreshTime(a.key, v, loadTime, current), nil
}

// calculateExceptionExpiry runs the resilience policy: suppress behind
// old data, cache the failure, or keep it transient.
func (a *entryAction[K, V]) calculateExceptionExpiry() {
	info := a.newExc
	if a.oldBox != nil && a.oldBox.exc == nil && a.cache.keepOldData(a.oldNrt) {
		current := a.cache.entryViewOf(a.key, a.oldBox, a.entry.modificationTime.Load())
		until := a.safeResilience(func() int64 {
			return a.cache.timing.suppressExceptionUntil(info, current)
		})
		if a.err != nil {
			return
		}
		if until > a.loadStartedTime {
			// Keep serving the old value until the suppression deadline.
			a.suppressed = true
			a.newExc = nil
			a.newValue = a.oldBox.value
			a.expiry = until
			a.cache.stats.suppressedException.Add(1)
			a.cache.cfg.Metrics.IncSuppressedLoadErrors()
			a.err = nil
			if a.result == nil {
				a.result = a.cache.entryViewOf(a.key, a.oldBox, a.entry.modificationTime.Load())
			}
			return
		}
	}
	until := a.safeResilience(func() int64 {
		return a.cache.timing.cacheExceptionUntil(info)
	})
	if a.err != nil {
		return
	}
	a.cache.stats.loadException.Add(1)
	a.cache.cfg.Metrics.IncLoadErrors()
	if until > a.loadStartedTime {
		info.Until = until
		a.expiry = until
	} else {
		a.expiry = ExpiryNow
	}
	a.err = &LoaderError[K]{Info: info}
	if a.result == nil {
		a.result = a.cache.entryViewOf(a.key, &valueBox[K, V]{exc: info}, a.loadStartedTime)
	}
}

func (a *entryAction[K, V]) safeResilience(f func() int64) (t int64) {
	defer func() {
		if r := recover(); r != nil {
			// Double fault: the loader failed and then the policy failed.
			if e, ok := r.(error); ok {
				a.err = &ResiliencePolicyError{Cause: e}
			} else {
				a.err = &ResiliencePolicyError{Cause: fmt.Errorf("%v", r)}
			}
			a.expiry = ExpiryNow
		}
	}()
	return f()
}

// resolveExpiryChange handles ExpireAt and timer expiry, which change
// timing without producing a value.
func (a *entryAction[K, V]) resolveExpiryChange() {
	t := a.expiry
	if t == ExpiryRefresh {
		if a.cache.cfg.RefreshAhead {
			// Expire now and load again, through the normal load path.
			a.expirySet = false
			a.loadRequested = false
			a.refresh = true
			a.loadRequested = true
			a.runLoad()
			return
		}
		t = ExpiryNow
		a.expiry = t
	}
	if t == ExpiryNow {
		a.expireOrRemove()
		return
	}
	// Keep the data, adjust the timer at release.
	a.hasMutation = false
	a.remove = false
	a.callListeners()
}

// expireOrRemove turns an immediate expiry into either a heap removal or
// an expired entry kept on the heap.
func (a *entryAction[K, V]) expireOrRemove() {
	a.expiring = true
	a.cache.stats.expired.Add(1)
	a.cache.cfg.Metrics.IncExpirations()
	if a.cache.cfg.KeepDataAfterExpired && a.oldBox != nil {
		a.cache.stats.expiredKept.Add(1)
		a.expiry = nrtExpired
		a.hasMutation = false
		a.callListeners()
		return
	}
	a.remove = true
	a.expirySet = false
	a.callListeners()
}

// ---- writer ----

func (a *entryAction[K, V]) mutationMayCallWriter() {
	w := a.cache.cfg.Writer
	if w == nil || a.loaded || a.timerDriven {
		a.mutationUpdateHeap()
		return
	}
	a.entry.nextProcessingStep(psWrite)
	var err error
	if a.remove {
		err = w.Delete(a.ctx, a.key)
	} else if a.hasMutation && a.newExc == nil {
		err = w.Write(a.ctx, a.key, a.newValue)
	}
	a.entry.nextProcessingStep(psWriteComplete)
	if err != nil {
		a.failure(&WriterError{Cause: err})
		return
	}
	a.mutationUpdateHeap()
}

// ---- heap update ----

func (a *entryAction[K, V]) mutationUpdateHeap() {
	if a.hasMutation && a.expiry == ExpiryNoCache && !a.expirySet {
		// Policy says do not store. The caller still gets the value.
		a.expiredImmediately = true
	}
	e := a.entry
	if a.remove || a.expiredImmediately {
		a.callListeners()
		return
	}
	if a.hasMutation {
		box := &valueBox[K, V]{value: a.newValue, exc: a.newExc}
		e.box.Store(box)
		if a.cache.cfg.recordModTime {
			e.modificationTime.Store(a.modificationTimeForCommit())
		} else {
			e.modificationTime.Store(0)
		}
		if a.cache.cfg.Weigher != nil && a.newExc == nil {
			e.EvictionData().Weight = a.cache.cfg.Weigher(a.key, a.newValue)
			a.cache.evict.UpdateWeight(e)
		}
	}
	a.callListeners()
}

func (a *entryAction[K, V]) modificationTimeForCommit() int64 {
	if a.loaded {
		return a.loadStartedTime
	}
	return a.mutationStartTime
}

// ---- listeners ----

func (a *entryAction[K, V]) eventKind() entryEventKind {
	hadData := a.oldBox != nil && a.cache.hasCommittedData(a.oldNrt)
	switch {
	case a.expiring:
		if hadData {
			return eventExpired
		}
		return eventNone
	case a.remove:
		if hadData {
			return eventRemoved
		}
		return eventNone
	case a.expiredImmediately:
		if hadData {
			return eventExpired
		}
		return eventNone
	case a.hasMutation && hadData:
		return eventUpdated
	case a.hasMutation:
		return eventCreated
	default:
		return eventNone
	}
}

func (a *entryAction[K, V]) callListeners() {
	kind := a.eventKind()
	if kind != eventNone {
		a.syncListenerErr = a.cache.fireSyncListeners(a.ctx, kind, a.key, a.oldEntryView(), a.newEntryView())
	}
	a.mutationReleaseLockAndStartTimer(kind)
}

func (a *entryAction[K, V]) oldEntryView() *CacheEntry[K, V] {
	if a.oldBox == nil || !a.cache.hasCommittedData(a.oldNrt) {
		return nil
	}
	return a.cache.entryViewOf(a.key, a.oldBox, a.entry.modificationTime.Load())
}

func (a *entryAction[K, V]) newEntryView() *CacheEntry[K, V] {
	if !a.hasMutation {
		return nil
	}
	return a.cache.entryViewOf(a.key, &valueBox[K, V]{value: a.newValue, exc: a.newExc}, a.modificationTimeForCommit())
}

// ---- release ----

func (a *entryAction[K, V]) mutationReleaseLockAndStartTimer(kind entryEventKind) {
	e := a.entry
	removeFromHeap := a.remove || a.expiredImmediately ||
		(a.insertedVirgin && !a.hasMutation && !a.expirySet)

	var followUp *entryAction[K, V]
	if removeFromHeap {
		followUp = a.cache.removeEntry(e)
	} else {
		e.mu.Lock()
		if e.detached.Load() {
			// A clear orphaned the entry mid-processing. Nothing to
			// commit or schedule; processingDone marks it gone.
		} else {
			var nrt int64
			switch {
			case a.refresh && a.successfulLoad && !a.revived:
				// Refreshed data goes on probation: not served until the
				// first access revives it or the probation timer removes it.
				raw := a.expiry
				nrt = nrtExpiredRefreshed
				a.cache.timing.startRefreshProbationTimer(e, raw)
			case a.hasMutation || a.expirySet:
				nrt = a.cache.timing.stopStartTimer(a.expiry, e)
				e.probationNrt = 0
			default:
				nrt = e.nextRefreshTime.Load()
			}
			if a.hasMutation || a.expirySet {
				e.nextRefreshTime.Store(nrt)
			}
		}
		followUp = e.processingDone()
		e.mu.Unlock()
	}
	a.entryLocked = false
	a.updateMutationCounters(kind)
	a.finishCounters()
	a.cache.fireAsyncListeners(a.ctx, kind, a.key, a.oldEntryView(), a.newEntryView())
	if a.syncListenerErr != nil && a.err == nil {
		a.err = &ListenerError{Cause: a.syncListenerErr}
	}
	a.cache.dispatchFollowUp(followUp)
}

func (a *entryAction[K, V]) updateMutationCounters(kind entryEventKind) {
	s := a.cache.stats
	m := a.cache.cfg.Metrics
	if a.loaded && !a.revived {
		switch {
		case a.refresh:
			s.refresh.Add(1)
			m.IncRefreshes()
			if !a.successfulLoad {
				s.refreshFailed.Add(1)
			}
		case a.successfulLoad:
			s.load.Add(1)
			m.IncLoads()
			if a.oldBox != nil && a.cache.hasCommittedData(a.oldNrt) {
				s.reload.Add(1)
			}
		}
		m.ObserveLoadDuration(a.loadCompletedTime - a.loadStartedTime)
	}
	if !a.loaded && a.hasMutation {
		if a.oldBox != nil && a.cache.hasCommittedData(a.oldNrt) {
			s.putHit.Add(1)
		} else {
			s.putNewEntry.Add(1)
		}
		m.IncPuts()
	}
	if a.remove && kind == eventRemoved {
		s.removed.Add(1)
		m.IncRemovals()
	}
	if a.expiredImmediately {
		s.expired.Add(1)
		m.IncExpirations()
	}
}

// finishCounters settles the read-side miss counters at completion.
func (a *entryAction[K, V]) finishCounters() {
	if a.countedMiss && !a.loaded {
		if a.missHadData {
			a.cache.stats.peekHitNotFresh.Add(1)
		} else {
			a.cache.stats.peekMiss.Add(1)
		}
		a.cache.cfg.Metrics.IncMisses()
	} else if a.countedMiss {
		a.cache.cfg.Metrics.IncMisses()
	}
}

// abortLocked rolls the entry back after a failed or empty mutation.
func (a *entryAction[K, V]) abortLocked() {
	e := a.entry
	var followUp *entryAction[K, V]
	if a.insertedVirgin && e.nextRefreshTime.Load() == nrtVirgin {
		// Nothing was ever committed; take the placeholder out again.
		followUp = a.cache.removeEntry(e)
	} else {
		e.mu.Lock()
		followUp = e.processingDone()
		e.mu.Unlock()
	}
	a.entryLocked = false
	a.cache.dispatchFollowUp(followUp)
}

type entryEventKind int

const (
	eventNone entryEventKind = iota
	eventCreated
	eventUpdated
	eventRemoved
	eventExpired
)
