package cache

import "time"

// needsLoadRestart is panicked by mutableEntryView.Value when the
// processor needs data that only a load can provide. The action catches
// it, performs the load and restarts the processor.
type needsLoadRestart struct{}

// mutableEntryView implements MutableEntry over the examined entry
// state. Reads are served from the examinable snapshot; writes are
// collected and applied when the processor returns.
type mutableEntryView[K comparable, V any] struct {
	action *entryAction[K, V]
	exam   examinable[K, V]

	loadRequested bool

	mutate    bool
	remove    bool
	value     V
	err       error
	expirySet bool
	expiry    int64
}

func newMutableEntryView[K comparable, V any](a *entryAction[K, V], e examinable[K, V]) *mutableEntryView[K, V] {
	return &mutableEntryView[K, V]{action: a, exam: e}
}

func (m *mutableEntryView[K, V]) Key() K { return m.action.key }

func (m *mutableEntryView[K, V]) Exists() bool {
	if m.remove {
		return false
	}
	if m.mutate {
		return m.err == nil
	}
	return m.action.isDataFreshNoCount(m.exam)
}

func (m *mutableEntryView[K, V]) Value() V {
	if m.mutate || m.remove {
		return m.value
	}
	if !m.action.isDataFreshNoCount(m.exam) {
		if m.action.isLoaderPresent() && !m.action.wasLoaded() {
			m.loadRequested = true
			panic(needsLoadRestart{})
		}
		var zero V
		return zero
	}
	box := m.exam.getValueBox()
	if box == nil || box.exc != nil {
		var zero V
		return zero
	}
	return box.value
}

func (m *mutableEntryView[K, V]) Err() error {
	if m.mutate || m.remove {
		return m.err
	}
	if !m.action.isDataFreshNoCount(m.exam) {
		return nil
	}
	box := m.exam.getValueBox()
	if box == nil || box.exc == nil {
		return nil
	}
	return &LoaderError[K]{Info: box.exc}
}

func (m *mutableEntryView[K, V]) ModificationTime() time.Time {
	if m.mutate || m.remove || m.exam == nil {
		return time.Time{}
	}
	t := m.exam.getModificationTime()
	if t == 0 {
		return time.Time{}
	}
	return time.UnixMilli(t)
}

func (m *mutableEntryView[K, V]) SetValue(v V) {
	m.mutate = true
	m.remove = false
	m.value = v
	m.err = nil
}

func (m *mutableEntryView[K, V]) SetErr(err error) {
	m.mutate = true
	m.remove = false
	var zero V
	m.value = zero
	m.err = err
}

func (m *mutableEntryView[K, V]) SetExpiryTime(t int64) {
	if t == ExpiryNeutral {
		return
	}
	m.expirySet = true
	m.expiry = t
}

func (m *mutableEntryView[K, V]) Remove() {
	m.mutate = false
	m.remove = true
	m.err = nil
}

// hasWork reports whether the processor requested any mutation.
func (m *mutableEntryView[K, V]) hasWork() bool {
	return m.remove || m.mutate || m.expirySet
}

// applyTo turns the collected writes into the action's mutation. Runs in
// the update phase, with the mutation lock held.
func (m *mutableEntryView[K, V]) applyTo(a *entryAction[K, V]) {
	switch {
	case m.remove:
		a.removeMapping()
	case m.mutate:
		if m.err != nil {
			a.putException(m.err)
		} else {
			a.put(m.value)
		}
		if m.expirySet {
			a.overrideExpiry(m.expiry)
		}
	case m.expirySet:
		a.setEntryExpiry(m.expiry)
	}
}

var _ MutableEntry[string, int] = (*mutableEntryView[string, int])(nil)
