package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

func newTestCache(t *testing.T, opts Options[string, int]) Cache[string, int] {
	t.Helper()
	c := New[string, int](opts)
	t.Cleanup(c.Close)
	return c
}

// Basic Put/Get/Peek/Remove semantics without a loader.
func TestCache_BasicPutGetRemove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c := newTestCache(t, Options[string, int]{Capacity: 8})

	if err := c.Put(ctx, "a", 1); err != nil {
		t.Fatal(err)
	}
	if v, err := c.Get(ctx, "a"); err != nil || v != 1 {
		t.Fatalf("Get a want 1, got %v err=%v", v, err)
	}
	if v, ok := c.Peek("a"); !ok || v != 1 {
		t.Fatalf("Peek a want 1, got %v ok=%v", v, ok)
	}
	if _, ok := c.Peek("zzz"); ok {
		t.Fatal("zzz must be absent")
	}

	if err := c.Put(ctx, "a", 11); err != nil {
		t.Fatal(err)
	}
	if v, _ := c.Peek("a"); v != 11 {
		t.Fatalf("Peek a want 11, got %v", v)
	}

	had, err := c.ContainsAndRemove(ctx, "a")
	if err != nil || !had {
		t.Fatalf("ContainsAndRemove a want true, got %v err=%v", had, err)
	}
	if _, ok := c.Peek("a"); ok {
		t.Fatal("a must be absent after remove")
	}
	had, _ = c.ContainsAndRemove(ctx, "a")
	if had {
		t.Fatal("second remove must report absent")
	}
}

func TestCache_PutIfAbsent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c := newTestCache(t, Options[string, int]{Capacity: 8})

	ok, err := c.PutIfAbsent(ctx, "a", 1)
	if err != nil || !ok {
		t.Fatalf("first PutIfAbsent want true, got %v err=%v", ok, err)
	}
	ok, _ = c.PutIfAbsent(ctx, "a", 2)
	if ok {
		t.Fatal("duplicate PutIfAbsent must be false")
	}
	if v, _ := c.Peek("a"); v != 1 {
		t.Fatalf("value must stay 1, got %v", v)
	}
}

func TestCache_ReplaceFamily(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c := newTestCache(t, Options[string, int]{Capacity: 8})

	if ok, _ := c.Replace(ctx, "a", 1); ok {
		t.Fatal("Replace on absent key must be false")
	}
	_ = c.Put(ctx, "a", 1)
	if ok, _ := c.Replace(ctx, "a", 2); !ok {
		t.Fatal("Replace on present key must be true")
	}
	if ok, _ := c.ReplaceIfEquals(ctx, "a", 99, 3); ok {
		t.Fatal("ReplaceIfEquals with wrong expected must be false")
	}
	if ok, _ := c.ReplaceIfEquals(ctx, "a", 2, 3); !ok {
		t.Fatal("ReplaceIfEquals with right expected must be true")
	}
	if v, _ := c.Peek("a"); v != 3 {
		t.Fatalf("want 3, got %v", v)
	}

	prev, existed, _ := c.PeekAndPut(ctx, "a", 4)
	if !existed || prev != 3 {
		t.Fatalf("PeekAndPut want prev 3, got %v existed=%v", prev, existed)
	}
	prev, existed, _ = c.PeekAndRemove(ctx, "a")
	if !existed || prev != 4 {
		t.Fatalf("PeekAndRemove want prev 4, got %v existed=%v", prev, existed)
	}
	if _, existed, _ = c.PeekAndReplace(ctx, "a", 5); existed {
		t.Fatal("PeekAndReplace on absent key must not store")
	}
	if _, ok := c.Peek("a"); ok {
		t.Fatal("a must be absent")
	}

	if ok, _ := c.RemoveIfEquals(ctx, "a", 1); ok {
		t.Fatal("RemoveIfEquals on absent key must be false")
	}
	_ = c.Put(ctx, "a", 7)
	if ok, _ := c.RemoveIfEquals(ctx, "a", 8); ok {
		t.Fatal("RemoveIfEquals with wrong value must be false")
	}
	if ok, _ := c.RemoveIfEquals(ctx, "a", 7); !ok {
		t.Fatal("RemoveIfEquals with right value must be true")
	}
}

func TestCache_ComputeIfAbsent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c := newTestCache(t, Options[string, int]{Capacity: 8})

	var calls atomic.Int32
	compute := func() (int, error) {
		calls.Add(1)
		return 42, nil
	}
	v, err := c.ComputeIfAbsent(ctx, "a", compute)
	if err != nil || v != 42 {
		t.Fatalf("want 42, got %v err=%v", v, err)
	}
	v, _ = c.ComputeIfAbsent(ctx, "a", compute)
	if v != 42 {
		t.Fatalf("want 42, got %v", v)
	}
	if calls.Load() != 1 {
		t.Fatalf("compute must run once, ran %d times", calls.Load())
	}

	wantErr := errors.New("boom")
	_, err = c.ComputeIfAbsent(ctx, "b", func() (int, error) { return 0, wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("want computation error, got %v", err)
	}
	if _, ok := c.Peek("b"); ok {
		t.Fatal("failed computation must not store")
	}
}

// Uses the simulated clock to avoid timing flakiness.
// Ensures the static TTL is respected.
func TestCache_TTL_SimulatedClock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clk := NewSimulatedClock(1_000_000)
	c := newTestCache(t, Options[string, int]{
		Capacity: 4,
		TTL:      100 * time.Millisecond,
		Clock:    clk,
	})

	_ = c.Put(ctx, "x", 7)
	if _, ok := c.Peek("x"); !ok {
		t.Fatal("fresh miss")
	}
	clk.Advance(200 * time.Millisecond)
	if _, ok := c.Peek("x"); ok {
		t.Fatal("expired hit")
	}
	if c.ContainsKey("x") {
		t.Fatal("ContainsKey must not see expired data")
	}
}

func TestCache_ExpireAt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clk := NewSimulatedClock(1_000_000)
	c := newTestCache(t, Options[string, int]{Capacity: 4, Clock: clk})

	_ = c.Put(ctx, "x", 7)
	if err := c.ExpireAt(ctx, "x", clk.Millis()+50); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Peek("x"); !ok {
		t.Fatal("still fresh")
	}
	clk.Advance(60 * time.Millisecond)
	if _, ok := c.Peek("x"); ok {
		t.Fatal("must be expired")
	}

	// ExpiryNow drops immediately.
	_ = c.Put(ctx, "y", 1)
	if err := c.ExpireAt(ctx, "y", ExpiryNow); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Peek("y"); ok {
		t.Fatal("y must be gone")
	}
}

// Deterministic LRU eviction: small capacity, hit promotion.
func TestCache_EvictionLRU(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c := newTestCache(t, Options[string, int]{Capacity: 2})

	_ = c.Put(ctx, "a", 1)
	_ = c.Put(ctx, "b", 2)
	if _, ok := c.Peek("a"); !ok { // a gets a second chance on the next scan
		t.Fatal("expect hit for a")
	}
	_ = c.Put(ctx, "c", 3)

	if c.Size() > 2 {
		t.Fatalf("size must stay within capacity, got %d", c.Size())
	}
	if _, ok := c.Peek("a"); !ok {
		t.Fatal("recently used a must survive")
	}
}

func TestCache_SizeAndClear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c := newTestCache(t, Options[string, int]{Capacity: 100})

	for _, k := range []string{"a", "b", "c"} {
		_ = c.Put(ctx, k, 1)
	}
	if c.Size() != 3 {
		t.Fatalf("size want 3, got %d", c.Size())
	}

	c.Clear()
	if c.Size() != 0 {
		t.Fatalf("size after clear want 0, got %d", c.Size())
	}
	if _, ok := c.Peek("a"); ok {
		t.Fatal("cleared entry must be absent")
	}

	// The cache stays usable after clear.
	_ = c.Put(ctx, "d", 4)
	if v, _ := c.Peek("d"); v != 4 {
		t.Fatal("put after clear must work")
	}

	info := c.Info()
	if info.ClearCnt != 1 || info.ClearedEntryCnt != 3 {
		t.Fatalf("clear counters want 1/3, got %d/%d", info.ClearCnt, info.ClearedEntryCnt)
	}
}

func TestCache_Close(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c := New[string, int](Options[string, int]{Capacity: 8})
	_ = c.Put(ctx, "a", 1)
	c.Close()
	c.Close() // idempotent

	if err := c.Put(ctx, "a", 2); !errors.Is(err, ErrCacheClosed) {
		t.Fatalf("Put after close want ErrCacheClosed, got %v", err)
	}
	if _, err := c.Get(ctx, "a"); !errors.Is(err, ErrCacheClosed) {
		t.Fatalf("Get after close want ErrCacheClosed, got %v", err)
	}
	if _, ok := c.Peek("a"); ok {
		t.Fatal("Peek after close must miss")
	}
	if c.Size() != 0 {
		t.Fatal("Size after close must be 0")
	}
}

func TestCache_BulkOps(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c := newTestCache(t, Options[string, int]{Capacity: 100})

	if err := c.PutAll(ctx, map[string]int{"a": 1, "b": 2, "c": 3}); err != nil {
		t.Fatal(err)
	}
	got := c.PeekAll([]string{"a", "b", "c", "d"})
	if len(got) != 3 || got["b"] != 2 {
		t.Fatalf("PeekAll got %v", got)
	}

	if err := c.RemoveAllKeys(ctx, []string{"a", "c"}); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Peek("a"); ok {
		t.Fatal("a removed")
	}
	if _, ok := c.Peek("b"); !ok {
		t.Fatal("b must survive")
	}

	if err := c.RemoveAllKeys(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if c.Size() != 0 {
		t.Fatalf("all keys removed, size=%d", c.Size())
	}
}

func TestCache_Iteration(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c := newTestCache(t, Options[string, int]{Capacity: 100})
	want := map[string]int{"a": 1, "b": 2, "c": 3}
	_ = c.PutAll(ctx, want)

	got := map[string]int{}
	c.Entries(func(e *CacheEntry[string, int]) bool {
		got[e.Key()] = e.Value()
		return true
	})
	if len(got) != len(want) {
		t.Fatalf("iteration got %v", got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("key %s want %d got %d", k, v, got[k])
		}
	}

	// Early termination.
	n := 0
	c.Keys(func(string) bool {
		n++
		return false
	})
	if n != 1 {
		t.Fatalf("visit must stop after first key, visited %d", n)
	}
}

func TestCache_GetEntryCarriesException(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	loadErr := errors.New("down")
	c := newTestCache(t, Options[string, int]{
		Capacity: 8,
		Loader: func(ctx context.Context, key string, _ int64, _ *CacheEntry[string, int]) (int, error) {
			return 0, loadErr
		},
		Resilience: NewConstantResilience[string, int](0, time.Minute),
	})

	entry, err := c.GetEntry(ctx, "k")
	if err != nil {
		t.Fatalf("GetEntry must deliver the entry view, got err %v", err)
	}
	if entry == nil || entry.Err() == nil {
		t.Fatal("entry must carry the cached exception")
	}
	if !errors.Is(entry.Err(), loadErr) {
		t.Fatalf("cause must unwrap, got %v", entry.Err())
	}
	var le *LoaderError[string]
	if !errors.As(entry.Err(), &le) {
		t.Fatal("error must be a LoaderError")
	}
}

func TestCache_NilValueRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c := New[string, *int](Options[string, *int]{Capacity: 8})
	t.Cleanup(c.Close)

	if err := c.Put(ctx, "a", nil); !errors.Is(err, ErrNilValue) {
		t.Fatalf("nil put must be rejected, got %v", err)
	}

	cp := New[string, *int](Options[string, *int]{Capacity: 8, PermitNilValues: true})
	t.Cleanup(cp.Close)
	if err := cp.Put(ctx, "a", nil); err != nil {
		t.Fatalf("nil put must be permitted, got %v", err)
	}
	if _, ok := cp.Peek("a"); !ok {
		t.Fatal("nil value must be present")
	}
}

// Concurrent gets through the loader must share a single load per key.
func TestCache_LoaderRunsOncePerKey(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	c := newTestCache(t, Options[string, int]{
		Capacity: 64,
		Loader: func(_ context.Context, key string, _ int64, _ *CacheEntry[string, int]) (int, error) {
			calls.Add(1)
			time.Sleep(5 * time.Millisecond) // simulate I/O
			return len(key), nil
		},
	})

	const workers = 64
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			v, err := c.Get(ctx, "key")
			if err != nil {
				return err
			}
			if v != 3 {
				return fmt.Errorf("got %d", v)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("loader must run exactly once, got %d", got)
	}
	if info := c.Info(); info.LoadCnt != 1 {
		t.Fatalf("LoadCnt want 1, got %d", info.LoadCnt)
	}
}

func TestCache_Prefetch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var loads atomic.Int64
	c := newTestCache(t, Options[string, int]{
		Capacity:       16,
		LoaderExecutor: func(task func()) { task() },
		Loader: func(_ context.Context, key string, _ int64, _ *CacheEntry[string, int]) (int, error) {
			loads.Add(1)
			return len(key), nil
		},
	})

	_ = c.Put(ctx, "warm", 0)
	c.PrefetchAll(ctx, []string{"warm", "a", "bb", "a"})
	if loads.Load() != 2 {
		t.Fatalf("only cold keys load, loads=%d", loads.Load())
	}
	if v, ok := c.Peek("bb"); !ok || v != 2 {
		t.Fatalf("prefetched value want 2, got %v ok=%v", v, ok)
	}

	c.Prefetch(ctx, "bb") // fresh, no load
	if loads.Load() != 2 {
		t.Fatalf("fresh key must not reload, loads=%d", loads.Load())
	}
}

// doubleCompletionLoader violates the async loader contract by
// completing twice.
type doubleCompletionLoader struct{}

func (doubleCompletionLoader) Load(_ context.Context, _ AsyncLoadRequest[string, int], cb AsyncLoadCallback[int]) {
	cb.OnLoadSuccess(1)
	cb.OnLoadSuccess(2)
}

// A second completion must neither block the loader's goroutine nor
// overwrite the first result; it is counted as an internal error.
func TestCache_AsyncLoaderDuplicateCompletion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c := newTestCache(t, Options[string, int]{
		Capacity:    8,
		AsyncLoader: doubleCompletionLoader{},
	})

	v, err := c.Get(ctx, "k")
	if err != nil || v != 1 {
		t.Fatalf("first completion must win, got %v err=%v", v, err)
	}
	if got := c.Info().InternalExceptionCnt; got != 1 {
		t.Fatalf("duplicate completion must be counted, got %d", got)
	}
}

// Timer-driven actions parked behind a running action queue at the tail
// and re-dispatch in arrival order.
func TestCache_ParkedActionsQueueInArrivalOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c := newTestCache(t, Options[string, int]{Capacity: 8})
	hc := c.(*heapCache[string, int])

	_ = c.Put(ctx, "k", 1)
	e := hc.hash.lookup("k", hc.keyHash("k"))
	if e == nil {
		t.Fatal("entry must be on the heap")
	}

	holder := hc.newAction(ctx, "k", opPeek[string, int]())
	e.mu.Lock()
	e.startProcessing(psMutate, holder)
	e.mu.Unlock()

	first := hc.newAction(ctx, "k", opExpireEvent[string, int]())
	first.timerDriven = true
	second := hc.newAction(ctx, "k", opExpireEvent[string, int]())
	second.timerDriven = true
	if first.lockEntry() || second.lockEntry() {
		t.Fatal("timer actions must park behind the running action")
	}

	e.mu.Lock()
	next := e.processingDone()
	e.mu.Unlock()
	if next != first {
		t.Fatal("the first parked action must dispatch first")
	}
	if next.nextAction != second {
		t.Fatal("the second parked action must follow the first")
	}
}
