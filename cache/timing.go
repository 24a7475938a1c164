package cache

import (
	"sync"
)

// defaultSharpSafetyGapMillis is how long before a sharp expiry time the
// value access switches from timer-driven to time-checked. Within the gap
// the entry carries a negative refresh time, so every read compares
// against the clock and no read can slip past the expiry point even when
// the timer fires late.
const defaultSharpSafetyGapMillis int64 = 27*1000 + 127

type timerEventKind int

const (
	timerEventExpire timerEventKind = iota
	timerEventRefresh
	timerEventSharpFlip
	timerEventProbation
)

// timerTask is one scheduled per-entry event. The entry's timer field
// points at its live task; a fire for a task the entry no longer points
// at is stale and ignored.
type timerTask[K comparable, V any] struct {
	entry  *Entry[K, V]
	at     int64
	kind   timerEventKind
	cancel func()
}

// timingHandler owns expiry calculation and per-entry timers. The cache
// wires the event callbacks after construction. Methods taking an entry
// expect the caller to hold the entry lock unless noted.
type timingHandler[K comparable, V any] struct {
	clock     Clock
	scheduler JobScheduler

	ttl          int64 // millis, 0 means none
	policy       ExpiryPolicy[K, V]
	resilience   ResiliencePolicy[K, V]
	sharpExpiry  bool
	sharpGap     int64 // millis
	refreshAhead bool

	onExpireEvent func(e *Entry[K, V])
	onRefresh     func(e *Entry[K, V])
	onProbation   func(e *Entry[K, V])

	mu    sync.Mutex
	tasks map[*timerTask[K, V]]struct{}
	gen   uint64
}

func newTimingHandler[K comparable, V any](c *config[K, V]) *timingHandler[K, V] {
	return &timingHandler[K, V]{
		clock:        c.Clock,
		scheduler:    c.scheduler,
		ttl:          c.TTL.Milliseconds(),
		policy:       c.ExpiryPolicy,
		resilience:   c.Resilience,
		sharpExpiry:  c.SharpExpiry,
		sharpGap:     c.SharpExpirySafetyGap.Milliseconds(),
		refreshAhead: c.RefreshAhead,
		tasks:        make(map[*timerTask[K, V]]struct{}),
	}
}

// calculateNextRefreshTime computes the raw expiry for a new value. A
// negative result requests sharp expiry at the absolute of the value.
func (h *timingHandler[K, V]) calculateNextRefreshTime(key K, value V, loadTime int64, current *CacheEntry[K, V]) int64 {
	if h.policy != nil {
		return h.limitByTTL(loadTime, h.policy(key, value, loadTime, current))
	}
	if h.ttl > 0 {
		t := addWithSaturation(loadTime, h.ttl)
		if h.sharpExpiry {
			return -t
		}
		return t
	}
	return nrtEternal
}

// limitByTTL caps a policy result at loadTime+TTL, preserving the sharp
// request of a negative result.
func (h *timingHandler[K, V]) limitByTTL(loadTime, t int64) int64 {
	if h.ttl <= 0 {
		return t
	}
	max := addWithSaturation(loadTime, h.ttl)
	if t == nrtEternal {
		if h.sharpExpiry {
			return -max
		}
		return max
	}
	if t >= 0 {
		if t > max {
			t = max
		}
		if h.sharpExpiry && t > 0 {
			return -t
		}
		return t
	}
	if -t > max {
		return -max
	}
	return t
}

func addWithSaturation(a, b int64) int64 {
	s := a + b
	if s < a {
		return nrtEternal
	}
	return s
}

// suppressExceptionUntil asks the resilience policy how long the old
// data may mask the failure. 0 without a policy: never suppress.
func (h *timingHandler[K, V]) suppressExceptionUntil(info *ExceptionInfo[K], current *CacheEntry[K, V]) int64 {
	if h.resilience == nil {
		return 0
	}
	return h.resilience.SuppressExceptionUntil(info, current)
}

// cacheExceptionUntil asks the resilience policy how long to cache the
// failure itself. 0 without a policy: do not cache.
func (h *timingHandler[K, V]) cacheExceptionUntil(info *ExceptionInfo[K]) int64 {
	if h.resilience == nil {
		return 0
	}
	return h.resilience.RetryLoadAfter(info)
}

// stopStartTimer turns the raw expiry into the entry's next refresh time
// and schedules whatever timer that needs. Caller holds e.mu. Returns
// the value to store as the entry's nextRefreshTime.
func (h *timingHandler[K, V]) stopStartTimer(expiry int64, e *Entry[K, V]) int64 {
	h.cancelEntryTimer(e)
	now := h.clock.Millis()
	if expiry == ExpiryNow {
		return nrtExpired
	}
	if expiry == nrtEternal {
		return nrtEternal
	}
	sharp := expiry < 0
	t := expiry
	if sharp {
		t = -expiry
	}
	if t <= now {
		return nrtExpired
	}
	if t < expiryTimeMin {
		// Times below the sentinel range cannot be represented; treat as
		// already expired.
		return nrtExpired
	}
	if h.refreshAhead {
		h.schedule(e, t, timerEventRefresh)
		return t
	}
	if sharp {
		return h.scheduleSharp(e, t, now)
	}
	h.schedule(e, t, timerEventExpire)
	return t
}

// scheduleSharp implements the two-phase sharp timer. Far from the
// expiry point the refresh time stays positive and a flip timer runs at
// t-gap; within the gap the refresh time goes negative (every read
// checks the clock) and the final timer processes the expiry at t.
func (h *timingHandler[K, V]) scheduleSharp(e *Entry[K, V], t, now int64) int64 {
	if t-now <= h.sharpGap {
		h.schedule(e, t, timerEventExpire)
		return -t
	}
	h.schedule(e, t-h.sharpGap, timerEventSharpFlip)
	return t
}

// startRefreshProbationTimer schedules the end of the refresh probation
// window. Caller holds e.mu; the refreshed expiry is parked in
// probationNrt until the first access revives it.
func (h *timingHandler[K, V]) startRefreshProbationTimer(e *Entry[K, V], nrt int64) {
	h.cancelEntryTimer(e)
	e.probationNrt = nrt
	t := nrt
	if t < 0 {
		t = -t
	}
	if t == nrtEternal || t < expiryTimeMin {
		return
	}
	h.schedule(e, t, timerEventProbation)
}

// cancelEntryTimer stops the entry's pending timer. Caller holds e.mu.
func (h *timingHandler[K, V]) cancelEntryTimer(e *Entry[K, V]) {
	task := e.timer
	if task == nil {
		return
	}
	e.timer = nil
	h.mu.Lock()
	delete(h.tasks, task)
	h.mu.Unlock()
	if task.cancel != nil {
		task.cancel()
	}
}

func (h *timingHandler[K, V]) schedule(e *Entry[K, V], at int64, kind timerEventKind) {
	task := &timerTask[K, V]{entry: e, at: at, kind: kind}
	e.timer = task
	h.mu.Lock()
	h.tasks[task] = struct{}{}
	h.mu.Unlock()
	task.cancel = h.scheduler.Schedule(at, func() { h.fire(task) })
}

// fire dispatches a due timer. Runs on the scheduler goroutine without
// any entry lock held; staleness is detected via the entry's timer
// pointer.
func (h *timingHandler[K, V]) fire(task *timerTask[K, V]) {
	h.mu.Lock()
	if _, live := h.tasks[task]; !live {
		h.mu.Unlock()
		return
	}
	delete(h.tasks, task)
	h.mu.Unlock()

	e := task.entry
	switch task.kind {
	case timerEventSharpFlip:
		h.fireSharpFlip(task, e)
	case timerEventExpire, timerEventProbation:
		e.mu.Lock()
		stale := e.timer != task
		if !stale {
			e.timer = nil
		}
		e.mu.Unlock()
		if stale {
			return
		}
		if task.kind == timerEventProbation {
			h.onProbation(e)
		} else {
			h.onExpireEvent(e)
		}
	case timerEventRefresh:
		e.mu.Lock()
		stale := e.timer != task
		if !stale {
			e.timer = nil
		}
		e.mu.Unlock()
		if stale {
			return
		}
		h.onRefresh(e)
	}
}

// fireSharpFlip switches the entry to time-checked mode and arms the
// final expiry timer.
func (h *timingHandler[K, V]) fireSharpFlip(task *timerTask[K, V], e *Entry[K, V]) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timer != task {
		return
	}
	e.timer = nil
	nrt := e.nextRefreshTime.Load()
	if nrt < expiryTimeMin {
		return
	}
	e.nextRefreshTime.Store(-nrt)
	h.schedule(e, nrt, timerEventExpire)
}

// cancelAll stops every pending timer. Used by clear and close.
func (h *timingHandler[K, V]) cancelAll() {
	h.mu.Lock()
	tasks := h.tasks
	h.tasks = make(map[*timerTask[K, V]]struct{})
	h.mu.Unlock()
	for task := range tasks {
		if task.cancel != nil {
			task.cancel()
		}
	}
}
