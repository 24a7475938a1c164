package cache

import (
	"context"
	"reflect"
	"time"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/hotcache/internal/util"
)

// Expiry sentinels usable as returns from an ExpiryPolicy and as
// arguments to ExpireAt.
const (
	// ExpiryEternal keeps the data forever (until replaced or evicted).
	ExpiryEternal int64 = nrtEternal
	// ExpiryNow expires the data immediately. As an ExpiryPolicy return
	// it means do not cache.
	ExpiryNow int64 = 0
	// ExpiryNoCache is ExpiryNow under its intent-revealing name.
	ExpiryNoCache int64 = 0
	// ExpiryRefresh, passed to ExpireAt, expires the data and triggers a
	// refresh when refresh-ahead is enabled.
	ExpiryRefresh int64 = 1
	// ExpiryNeutral, passed to ExpireAt, leaves the current expiry
	// untouched. From an ExpiryPolicy it is invalid.
	ExpiryNeutral int64 = -1
)

// Loader fetches the value for a key on a cache miss or explicit load.
// startTime is the load start in epoch millis; current is the entry
// being replaced, or nil on a fresh load. Returning an error caches or
// suppresses the failure per the resilience policy.
type Loader[K comparable, V any] func(ctx context.Context, key K, startTime int64, current *CacheEntry[K, V]) (V, error)

// AsyncLoader starts a load and reports the outcome through the
// callback, possibly from another goroutine. Exactly one callback method
// must be called exactly once.
type AsyncLoader[K comparable, V any] interface {
	Load(ctx context.Context, req AsyncLoadRequest[K, V], callback AsyncLoadCallback[V])
}

// AsyncLoadRequest carries the context of an asynchronous load.
type AsyncLoadRequest[K comparable, V any] struct {
	Key       K
	StartTime int64
	// Current is the entry being replaced, nil on a fresh load.
	Current *CacheEntry[K, V]
	// Refresh is set when this load is a refresh-ahead, not a user read.
	Refresh bool
}

// AsyncLoadCallback receives the result of an asynchronous load.
type AsyncLoadCallback[V any] interface {
	OnLoadSuccess(value V)
	OnLoadFailure(err error)
}

// RefreshTimeAware lets a loaded value carry its own refresh base time,
// e.g. a modification timestamp from the origin. When the loaded value
// implements it, the reported time replaces the load start time as the
// entry's modification time.
type RefreshTimeAware interface {
	LoadedRefreshTime() int64
}

// ValueWithRefreshTime is a ready-made RefreshTimeAware wrapper. Use it
// as the cache's value type when the loader knows the origin's
// modification time.
type ValueWithRefreshTime[V any] struct {
	Value       V
	RefreshTime int64
}

func (v ValueWithRefreshTime[V]) LoadedRefreshTime() int64 { return v.RefreshTime }

// Writer propagates mutations to an external store before they are
// committed to the cache (write-through). A returned error aborts the
// cache mutation.
type Writer[K comparable, V any] interface {
	Write(ctx context.Context, key K, value V) error
	Delete(ctx context.Context, key K) error
}

// ExpiryPolicy computes the point in time the given value expires, in
// epoch millis. loadTime is when the value was produced; current is the
// entry being replaced, or nil. Return ExpiryEternal for no expiry,
// ExpiryNoCache to not store, or a negative time -t for sharp expiry
// exactly at t.
type ExpiryPolicy[K comparable, V any] func(key K, value V, loadTime int64, current *CacheEntry[K, V]) int64

// ResiliencePolicy decides what happens after a loader failure.
type ResiliencePolicy[K comparable, V any] interface {
	// SuppressExceptionUntil is consulted when cached data is still
	// present. Return a time greater than now to keep serving the old
	// data until then, or a time at or before now to propagate the
	// failure.
	SuppressExceptionUntil(info *ExceptionInfo[K], current *CacheEntry[K, V]) int64
	// RetryLoadAfter is consulted when no usable data exists. Return a
	// time greater than now to cache the failure until then, or a time
	// at or before now to keep the failure transient.
	RetryLoadAfter(info *ExceptionInfo[K]) int64
}

// EventListener observes committed entry lifecycle events. Synchronous
// listeners run inside the entry's critical section; keep them fast.
// Methods may be nil-implemented by embedding NoopListener.
type EventListener[K comparable, V any] interface {
	OnEntryCreated(ctx context.Context, key K, entry *CacheEntry[K, V]) error
	OnEntryUpdated(ctx context.Context, key K, old, entry *CacheEntry[K, V]) error
	OnEntryRemoved(ctx context.Context, key K, old *CacheEntry[K, V]) error
	OnEntryExpired(ctx context.Context, key K, old *CacheEntry[K, V]) error
}

// NoopListener implements EventListener with no-ops, for embedding.
type NoopListener[K comparable, V any] struct{}

func (NoopListener[K, V]) OnEntryCreated(context.Context, K, *CacheEntry[K, V]) error { return nil }
func (NoopListener[K, V]) OnEntryUpdated(context.Context, K, *CacheEntry[K, V], *CacheEntry[K, V]) error {
	return nil
}
func (NoopListener[K, V]) OnEntryRemoved(context.Context, K, *CacheEntry[K, V]) error { return nil }
func (NoopListener[K, V]) OnEntryExpired(context.Context, K, *CacheEntry[K, V]) error { return nil }

// Weigher computes the relative weight of an entry for weight-based
// capacity limiting.
type Weigher[K comparable, V any] func(key K, value V) int64

// Executor runs a task, typically on a worker pool. The default spawns a
// goroutine per task.
type Executor func(task func())

func goExecutor(task func()) { go task() }

// EntryProcessor mutates an entry atomically via Invoke.
type EntryProcessor[K comparable, V any] func(e MutableEntry[K, V]) (any, error)

// Options configures a cache. The zero value of every field selects a
// usable default; New never mutates the passed struct.
type Options[K comparable, V any] struct {
	// Name identifies the cache in logs and metrics.
	Name string

	// Capacity is the maximum entry count. 0 selects 2048.
	Capacity int
	// MaxWeight additionally limits the total weight when a Weigher is
	// set.
	MaxWeight int64
	Weigher   Weigher[K, V]

	// SegmentCount for the hash table, rounded up to a power of two.
	// 0 derives it from GOMAXPROCS.
	SegmentCount int

	// TTL is the static time to live. 0 with no ExpiryPolicy means
	// eternal. Use an ExpiryPolicy returning ExpiryNoCache to disable
	// storage entirely.
	TTL time.Duration
	// ExpiryPolicy computes per-entry expiry; overrides TTL except that
	// TTL caps the policy's result when both are set.
	ExpiryPolicy ExpiryPolicy[K, V]
	// SharpExpiry guarantees no read sees data at or after its expiry
	// time, at the cost of an extra safety timer per entry.
	SharpExpiry bool
	// SharpExpirySafetyGap is how long before a sharp expiry time reads
	// switch from timer-driven to clock-checked. 0 selects 27.127s.
	SharpExpirySafetyGap time.Duration
	// RefreshAhead reloads entries ahead of expiry instead of dropping
	// them. Requires a loader.
	RefreshAhead bool
	// KeepDataAfterExpired keeps expired data on the heap so a later
	// load can pass it to the loader and expiry policy.
	KeepDataAfterExpired bool
	// RecordModificationTime is implied by ExpiryPolicy; set it to force
	// recording when only a TTL is configured.
	RecordModificationTime bool

	// Loader and AsyncLoader are mutually exclusive; Loader wins when
	// both are set.
	Loader      Loader[K, V]
	AsyncLoader AsyncLoader[K, V]
	// LoaderExecutor runs loads for LoadAll, refresh-ahead and async
	// wrapping. Defaults to one goroutine per task.
	LoaderExecutor Executor

	// Resilience controls exception caching and suppression. Nil means
	// no suppression and no exception caching: loader failures are
	// transient.
	Resilience ResiliencePolicy[K, V]

	Writer Writer[K, V]

	// Listeners receive entry events synchronously, AsyncListeners via
	// the ListenerExecutor after the mutation committed.
	Listeners      []EventListener[K, V]
	AsyncListeners []EventListener[K, V]
	// ListenerExecutor runs async listeners; defaults to one goroutine
	// per event.
	ListenerExecutor Executor

	// PermitNilValues allows storing nil values (for pointer, map, slice
	// and interface value types). Default is to reject them.
	PermitNilValues bool

	// ValueEquals is used by the compare-and-swap operations. Defaults
	// to reflect.DeepEqual.
	ValueEquals func(a, b V) bool

	// Clock supplies time and, when it implements JobScheduler, timers.
	// Nil selects the system clock.
	Clock Clock

	Metrics Metrics

	// Logger for lifecycle and async-failure logging. Nil selects
	// zap.NewNop.
	Logger *zap.Logger
}

const defaultCapacity = 2048

type config[K comparable, V any] struct {
	Options[K, V]
	scheduler     JobScheduler
	hasLoader     bool
	recordModTime bool
}

func (o Options[K, V]) withDefaults() config[K, V] {
	c := config[K, V]{Options: o}
	if c.Capacity == 0 {
		c.Capacity = defaultCapacity
	}
	if c.SegmentCount == 0 {
		c.SegmentCount = util.ReasonableSegmentCount()
	}
	if c.LoaderExecutor == nil {
		c.LoaderExecutor = goExecutor
	}
	if c.ListenerExecutor == nil {
		c.ListenerExecutor = goExecutor
	}
	if c.ValueEquals == nil {
		c.ValueEquals = func(a, b V) bool { return reflect.DeepEqual(a, b) }
	}
	if c.Clock == nil {
		c.Clock = systemClock{}
	}
	c.scheduler = asScheduler(c.Clock)
	if c.SharpExpirySafetyGap <= 0 {
		c.SharpExpirySafetyGap = time.Duration(defaultSharpSafetyGapMillis) * time.Millisecond
	}
	if c.Metrics == nil {
		c.Metrics = NoopMetrics{}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	c.hasLoader = c.Loader != nil || c.AsyncLoader != nil
	c.recordModTime = c.RecordModificationTime || c.ExpiryPolicy != nil
	if c.RefreshAhead && !c.hasLoader {
		panic("cache: RefreshAhead requires a loader")
	}
	if c.Weigher != nil && c.MaxWeight <= 0 {
		panic("cache: Weigher requires MaxWeight > 0")
	}
	return c
}

// isNilValue reports whether v is a nil of a nilable kind. Non-nilable
// value types never count as nil.
func isNilValue[V any](v V) bool {
	rv := reflect.ValueOf(&v).Elem()
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
