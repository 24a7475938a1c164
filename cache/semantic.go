package cache

import "fmt"

// semantic describes one cache operation as callbacks driven by the
// entry action. start chooses whether the operation needs to see the
// entry's data before deciding on a mutation; examine runs against the
// current data and picks load, mutation or completion; update produces
// the new value once the mutation lock is held; loaded runs after a
// requested load finished.
//
// A nil start defaults to wantData when examine is set, wantMutation
// otherwise. A nil loaded completes the action with the loaded data as
// the result.
type semantic[K comparable, V any] struct {
	start   func(a *entryAction[K, V])
	examine func(a *entryAction[K, V], e examinable[K, V])
	update  func(a *entryAction[K, V], e examinable[K, V])
	loaded  func(a *entryAction[K, V], e examinable[K, V])
}

// opPeek returns the entry when fresh data is present, never loading.
func opPeek[K comparable, V any]() semantic[K, V] {
	return semantic[K, V]{
		examine: func(a *entryAction[K, V], e examinable[K, V]) {
			if a.isPresentOrMiss(e) {
				a.entryResult(e)
			}
			a.noMutation()
		},
	}
}

// opGet returns the entry, loading on a miss when a loader is present.
func opGet[K comparable, V any]() semantic[K, V] {
	return semantic[K, V]{
		examine: func(a *entryAction[K, V], e examinable[K, V]) {
			if a.isPresentOrInRefreshProbation(e) {
				a.entryResult(e)
				a.noMutation()
				return
			}
			if a.isLoaderPresent() {
				a.load(false)
				return
			}
			a.countMissIfAbsent(e)
			a.noMutation()
		},
	}
}

// opContains reports fresh data without counting the access.
func opContains[K comparable, V any]() semantic[K, V] {
	return semantic[K, V]{
		start: func(a *entryAction[K, V]) {
			a.doNotCountAccess = true
			a.wantData()
		},
		examine: func(a *entryAction[K, V], e examinable[K, V]) {
			a.result = a.isDataFresh(e)
			a.noMutation()
		},
	}
}

// opPut unconditionally stores a value.
func opPut[K comparable, V any](v V) semantic[K, V] {
	return semantic[K, V]{
		start: func(a *entryAction[K, V]) { a.wantMutation() },
		update: func(a *entryAction[K, V], e examinable[K, V]) {
			a.put(v)
		},
	}
}

// opPutIfAbsent stores only when no fresh data exists.
func opPutIfAbsent[K comparable, V any](v V) semantic[K, V] {
	return semantic[K, V]{
		examine: func(a *entryAction[K, V], e examinable[K, V]) {
			if a.isPresentOrInRefreshProbation(e) {
				a.result = false
				a.noMutation()
				return
			}
			a.countMissIfAbsent(e)
			a.wantMutation()
		},
		update: func(a *entryAction[K, V], e examinable[K, V]) {
			a.result = true
			a.put(v)
		},
	}
}

// opPeekAndPut stores and returns the previous entry.
func opPeekAndPut[K comparable, V any](v V) semantic[K, V] {
	return semantic[K, V]{
		examine: func(a *entryAction[K, V], e examinable[K, V]) {
			if a.isPresentOrMiss(e) {
				a.entryResult(e)
			}
			a.wantMutation()
		},
		update: func(a *entryAction[K, V], e examinable[K, V]) {
			a.put(v)
		},
	}
}

// opPeekAndReplace stores only when fresh data exists, returning it.
func opPeekAndReplace[K comparable, V any](v V) semantic[K, V] {
	return semantic[K, V]{
		examine: func(a *entryAction[K, V], e examinable[K, V]) {
			if a.isPresentOrMiss(e) {
				a.entryResult(e)
				a.wantMutation()
				return
			}
			a.noMutation()
		},
		update: func(a *entryAction[K, V], e examinable[K, V]) {
			a.put(v)
		},
	}
}

// opReplace stores newValue when fresh data exists; with compare set the
// current value must additionally equal expected.
func opReplace[K comparable, V any](newValue V, compare bool, expected V, equals func(a, b V) bool) semantic[K, V] {
	return semantic[K, V]{
		examine: func(a *entryAction[K, V], e examinable[K, V]) {
			if !a.isPresentOrMiss(e) {
				a.result = false
				a.noMutation()
				return
			}
			if compare {
				box := e.getValueBox()
				if box == nil || box.exc != nil || !equals(box.value, expected) {
					a.result = false
					a.noMutation()
					return
				}
			}
			a.wantMutation()
		},
		update: func(a *entryAction[K, V], e examinable[K, V]) {
			a.result = true
			a.put(newValue)
		},
	}
}

// opRemove unconditionally removes the mapping.
func opRemove[K comparable, V any]() semantic[K, V] {
	return semantic[K, V]{
		start: func(a *entryAction[K, V]) { a.wantMutation() },
		update: func(a *entryAction[K, V], e examinable[K, V]) {
			a.removeMapping()
		},
	}
}

// opContainsAndRemove removes and reports whether fresh data existed.
func opContainsAndRemove[K comparable, V any]() semantic[K, V] {
	return semantic[K, V]{
		start: func(a *entryAction[K, V]) {
			a.doNotCountAccess = true
			a.wantData()
		},
		examine: func(a *entryAction[K, V], e examinable[K, V]) {
			if a.isDataFresh(e) {
				a.result = true
				a.wantMutation()
				return
			}
			a.result = false
			a.noMutation()
		},
		update: func(a *entryAction[K, V], e examinable[K, V]) {
			a.removeMapping()
		},
	}
}

// opPeekAndRemove removes and returns the previous entry.
func opPeekAndRemove[K comparable, V any]() semantic[K, V] {
	return semantic[K, V]{
		examine: func(a *entryAction[K, V], e examinable[K, V]) {
			if a.isPresentOrMiss(e) {
				a.entryResult(e)
				a.wantMutation()
				return
			}
			a.noMutation()
		},
		update: func(a *entryAction[K, V], e examinable[K, V]) {
			a.removeMapping()
		},
	}
}

// opRemoveIfEquals removes only when the current value equals expected.
func opRemoveIfEquals[K comparable, V any](expected V, equals func(a, b V) bool) semantic[K, V] {
	return semantic[K, V]{
		examine: func(a *entryAction[K, V], e examinable[K, V]) {
			if !a.isPresentOrMiss(e) {
				a.result = false
				a.noMutation()
				return
			}
			box := e.getValueBox()
			if box == nil || box.exc != nil || !equals(box.value, expected) {
				a.result = false
				a.noMutation()
				return
			}
			a.result = true
			a.wantMutation()
		},
		update: func(a *entryAction[K, V], e examinable[K, V]) {
			a.removeMapping()
		},
	}
}

// opComputeIfAbsent returns present data or stores the computed value.
// compute runs at most once, under the entry's processing lock.
func opComputeIfAbsent[K comparable, V any](compute func() (V, error)) semantic[K, V] {
	return semantic[K, V]{
		examine: func(a *entryAction[K, V], e examinable[K, V]) {
			if a.isPresentOrMiss(e) {
				a.entryResult(e)
				a.noMutation()
				return
			}
			a.wantMutation()
		},
		update: func(a *entryAction[K, V], e examinable[K, V]) {
			v, err := compute()
			if err != nil {
				a.failure(&ProcessingError{Cause: err})
				return
			}
			a.result = v
			a.put(v)
		},
	}
}

// opInvoke runs an entry processor. The processor may trigger a load by
// reading the value; the semantics then restart after the load.
func opInvoke[K comparable, V any](p EntryProcessor[K, V]) semantic[K, V] {
	var me *mutableEntryView[K, V]
	run := func(a *entryAction[K, V], e examinable[K, V]) {
		me = newMutableEntryView(a, e)
		res, err := invokeProcessor(p, me)
		if me.loadRequested {
			a.loadAndRestart()
			return
		}
		if err != nil {
			a.failure(&ProcessingError{Cause: err})
			return
		}
		a.result = res
		if me.hasWork() {
			a.wantMutation()
			return
		}
		a.noMutation()
	}
	return semantic[K, V]{
		examine: run,
		loaded:  run,
		update: func(a *entryAction[K, V], e examinable[K, V]) {
			me.applyTo(a)
		},
	}
}

// invokeProcessor converts a processor panic into an error, except the
// internal load-restart signal which is rethrown to the caller via the
// loadRequested flag already set on the view.
func invokeProcessor[K comparable, V any](p EntryProcessor[K, V], me *mutableEntryView[K, V]) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(needsLoadRestart); ok {
				return
			}
			if e, ok := r.(error); ok {
				err = e
				return
			}
			err = &panicError{value: r}
		}
	}()
	return p(me)
}

// opExpire adjusts the expiry time of an existing entry.
func opExpire[K comparable, V any](t int64) semantic[K, V] {
	return semantic[K, V]{
		start: func(a *entryAction[K, V]) {
			a.doNotCountAccess = true
			a.wantData()
		},
		examine: func(a *entryAction[K, V], e examinable[K, V]) {
			if t == ExpiryNeutral || !a.isDataFreshOrInProbation(e) {
				a.noMutation()
				return
			}
			a.wantMutation()
		},
		update: func(a *entryAction[K, V], e examinable[K, V]) {
			a.setEntryExpiry(t)
		},
	}
}

// opExpireEvent is the timer-driven expiry. It runs through the full
// action pipeline so expiry listeners fire in order with other events.
// Data committed after the timer fired is left alone.
func opExpireEvent[K comparable, V any]() semantic[K, V] {
	return semantic[K, V]{
		start: func(a *entryAction[K, V]) {
			a.doNotCountAccess = true
			a.wantData()
		},
		examine: func(a *entryAction[K, V], e examinable[K, V]) {
			if e == nil || a.isDataFreshNoCount(e) {
				a.noMutation()
				return
			}
			a.wantMutation()
		},
		update: func(a *entryAction[K, V], e examinable[K, V]) {
			a.setEntryExpiry(ExpiryNow)
		},
	}
}

// opRefresh is the timer-driven refresh-ahead load.
func opRefresh[K comparable, V any]() semantic[K, V] {
	return semantic[K, V]{
		start: func(a *entryAction[K, V]) {
			a.doNotCountAccess = true
			a.wantData()
		},
		examine: func(a *entryAction[K, V], e examinable[K, V]) {
			a.load(true)
		},
	}
}

// opUnconditionalLoad forces a load regardless of present data, for
// ReloadAll.
func opUnconditionalLoad[K comparable, V any]() semantic[K, V] {
	return semantic[K, V]{
		start: func(a *entryAction[K, V]) {
			a.doNotCountAccess = true
			a.wantData()
		},
		examine: func(a *entryAction[K, V], e examinable[K, V]) {
			a.load(false)
		},
		loaded: func(a *entryAction[K, V], e examinable[K, V]) {
			a.entryResult(e)
		},
	}
}

// opConditionalLoad loads only when no fresh data exists, for LoadAll
// and Prefetch.
func opConditionalLoad[K comparable, V any]() semantic[K, V] {
	return semantic[K, V]{
		start: func(a *entryAction[K, V]) {
			a.doNotCountAccess = true
			a.wantData()
		},
		examine: func(a *entryAction[K, V], e examinable[K, V]) {
			if a.isDataFreshOrInProbation(e) {
				a.noMutation()
				return
			}
			a.load(false)
		},
	}
}

// panicError wraps a non-error panic value from user callbacks.
type panicError struct{ value any }

func (e *panicError) Error() string { return fmt.Sprintf("cache: callback panic: %v", e.value) }
