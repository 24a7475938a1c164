package cache

import (
	"context"
	"time"
)

// CacheEntry is an immutable view of a cache mapping, as handed to
// loaders, policies and listeners and returned by GetEntry.
type CacheEntry[K comparable, V any] struct {
	key     K
	value   V
	exc     *ExceptionInfo[K]
	modTime int64
}

func (e *CacheEntry[K, V]) Key() K { return e.key }

// Value returns the stored value; the zero value when the entry holds a
// cached loader exception.
func (e *CacheEntry[K, V]) Value() V { return e.value }

// Err returns the cached loader failure as a LoaderError, or nil.
func (e *CacheEntry[K, V]) Err() error {
	if e.exc == nil {
		return nil
	}
	return &LoaderError[K]{Info: e.exc}
}

// ExceptionInfo returns details of the cached loader failure, or nil.
func (e *CacheEntry[K, V]) ExceptionInfo() *ExceptionInfo[K] { return e.exc }

// ModificationTime is when the value was put or loaded, in epoch millis.
// Zero when the cache does not record modification times.
func (e *CacheEntry[K, V]) ModificationTime() time.Time { return time.UnixMilli(e.modTime) }

// MutableEntry is the view an EntryProcessor operates on inside Invoke.
// Reads see the entry as of processing start; mutations are collected
// and applied atomically when the processor returns without error.
type MutableEntry[K comparable, V any] interface {
	Key() K
	// Exists reports whether fresh data was present when processing
	// started or was produced by an earlier step of this processor.
	Exists() bool
	// Value returns the current value, triggering a load when a loader
	// is configured and no fresh data exists. A cached loader exception
	// is returned via Err instead; Value yields the zero value then.
	Value() V
	Err() error
	// ModificationTime of the current data, zero time if none.
	ModificationTime() time.Time
	// SetValue replaces the value when the processor completes.
	SetValue(v V)
	// SetErr stores err as a cached exception for the key.
	SetErr(err error)
	// SetExpiryTime overrides the expiry for this mutation; accepts the
	// Expiry sentinels. ExpiryNeutral leaves the computed expiry alone.
	SetExpiryTime(t int64)
	// Remove deletes the mapping when the processor completes.
	Remove()
}

// Cache is a bounded, concurrent key/value store with optional loading,
// expiry and write-through. All methods are safe for concurrent use.
// After Close every operation returns ErrCacheClosed (or a zero result
// for the non-error lookup forms).
type Cache[K comparable, V any] interface {
	// Get returns the value for key, invoking the loader on a miss when
	// one is configured. Without a loader an absent key yields the zero
	// value and nil error; use Peek or GetEntry to distinguish.
	Get(ctx context.Context, key K) (V, error)

	// GetEntry is Get returning the full entry view, or nil when the
	// key is absent and no loader is configured.
	GetEntry(ctx context.Context, key K) (*CacheEntry[K, V], error)

	// Peek returns the value if fresh data is present, never loading.
	// An entry holding a cached exception reports absent.
	Peek(key K) (V, bool)

	// PeekEntry returns the entry view if present (including cached
	// exceptions), never loading.
	PeekEntry(key K) *CacheEntry[K, V]

	// ContainsKey reports presence of fresh data without counting as a
	// read for eviction and statistics.
	ContainsKey(key K) bool

	// Put stores value under key, replacing existing data.
	Put(ctx context.Context, key K, value V) error

	// PutIfAbsent stores value only when no fresh data exists; reports
	// whether it stored.
	PutIfAbsent(ctx context.Context, key K, value V) (bool, error)

	// PeekAndPut stores value and returns the previous value, if any.
	PeekAndPut(ctx context.Context, key K, value V) (prev V, existed bool, err error)

	// PeekAndReplace stores value only when fresh data exists, returning
	// the previous value.
	PeekAndReplace(ctx context.Context, key K, value V) (prev V, replaced bool, err error)

	// Replace stores value only when fresh data exists.
	Replace(ctx context.Context, key K, value V) (bool, error)

	// ReplaceIfEquals stores newValue only when the current value equals
	// expected per Options.ValueEquals.
	ReplaceIfEquals(ctx context.Context, key K, expected, newValue V) (bool, error)

	// Remove deletes the mapping, if any.
	Remove(ctx context.Context, key K) error

	// ContainsAndRemove deletes the mapping and reports whether fresh
	// data was present.
	ContainsAndRemove(ctx context.Context, key K) (bool, error)

	// RemoveIfEquals deletes the mapping only when the current value
	// equals expected.
	RemoveIfEquals(ctx context.Context, key K, expected V) (bool, error)

	// PeekAndRemove deletes the mapping and returns the previous value.
	PeekAndRemove(ctx context.Context, key K) (prev V, existed bool, err error)

	// ComputeIfAbsent returns the present value or stores and returns
	// the result of compute. compute runs at most once per absence,
	// under the entry's processing lock.
	ComputeIfAbsent(ctx context.Context, key K, compute func() (V, error)) (V, error)

	// Invoke runs an entry processor atomically against the entry.
	Invoke(ctx context.Context, key K, p EntryProcessor[K, V]) (any, error)

	// ExpireAt sets the expiry time of an existing entry; accepts the
	// Expiry sentinels. ExpiryRefresh triggers refresh-ahead when
	// enabled, otherwise expires.
	ExpireAt(ctx context.Context, key K, t int64) error

	// Prefetch asynchronously loads key unless fresh data is present.
	Prefetch(ctx context.Context, key K)

	// PrefetchAll prefetches every key that has no fresh data.
	PrefetchAll(ctx context.Context, keys []K)

	// LoadAll loads all keys that have no fresh data and waits for
	// completion.
	LoadAll(ctx context.Context, keys []K) error

	// ReloadAll loads all keys unconditionally and waits for completion.
	ReloadAll(ctx context.Context, keys []K) error

	// GetAll returns a map of the values for keys, loading misses when a
	// loader is configured. Keys whose load failed are absent from the
	// map; the first load failure is returned alongside the partial map.
	GetAll(ctx context.Context, keys []K) (map[K]V, error)

	// PeekAll returns present fresh values for keys, never loading.
	PeekAll(keys []K) map[K]V

	// PutAll stores all pairs. Not atomic across keys.
	PutAll(ctx context.Context, m map[K]V) error

	// RemoveAllKeys removes the given keys. Nil removes every key.
	RemoveAllKeys(ctx context.Context, keys []K) error

	// Keys visits a weakly consistent snapshot of the keys with fresh
	// data. The walk stops when visit returns false or Clear runs.
	Keys(visit func(key K) bool)

	// Entries visits entry views the same way.
	Entries(visit func(e *CacheEntry[K, V]) bool)

	// Size is the number of heap entries, including expired data kept.
	Size() int

	// Clear discards all entries at once. Pending loads complete but do
	// not reappear in the cache.
	Clear()

	// Info returns a weakly consistent statistics snapshot.
	Info() Info

	Name() string

	// Close clears the cache, cancels timers and rejects further use.
	// Idempotent.
	Close()
}
