package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// End-to-end behavior of the documented contracts, one test per story.

func TestStory_BasicGetPut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c := New[int, int](Options[int, int]{Capacity: 16})
	t.Cleanup(c.Close)

	require.NoError(t, c.Put(ctx, 1, 100))
	v, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 100, v)

	_, ok := c.Peek(2)
	assert.False(t, ok)
	assert.Equal(t, 1, c.Size())
}

func TestStory_LoaderAndMissCounting(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var loads atomic.Int64
	c := New[int, int](Options[int, int]{
		Capacity: 16,
		Loader: func(ctx context.Context, key int, _ int64, _ *CacheEntry[int, int]) (int, error) {
			loads.Add(1)
			return key * 2, nil
		},
	})
	t.Cleanup(c.Close)

	v, err := c.Get(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 10, v)
	info := c.Info()
	assert.EqualValues(t, 1, info.LoadCnt)
	assert.EqualValues(t, 1, info.MissCnt)

	v, err = c.Get(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 10, v)
	info = c.Info()
	assert.EqualValues(t, 1, info.LoadCnt, "second get must not load")
	assert.EqualValues(t, 1, info.HitCnt)
	assert.EqualValues(t, 1, loads.Load())

	assert.True(t, c.ContainsKey(5))
}

func TestStory_ExceptionSuppression(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clk := NewSimulatedClock(1_000_000)
	fail := atomic.Bool{}
	c := New[int, int](Options[int, int]{
		Capacity:             16,
		TTL:                  100 * time.Millisecond,
		KeepDataAfterExpired: true,
		Clock:                clk,
		Resilience:           NewConstantResilience[int, int](time.Minute, time.Minute),
		Loader: func(ctx context.Context, key int, _ int64, _ *CacheEntry[int, int]) (int, error) {
			if fail.Load() {
				return 0, errors.New("origin down")
			}
			return key, nil
		},
	})
	t.Cleanup(c.Close)

	require.NoError(t, c.Put(ctx, 1, 100))
	fail.Store(true)
	clk.Advance(200 * time.Millisecond) // data expires, kept on heap

	v, err := c.Get(ctx, 1)
	require.NoError(t, err, "failure must be suppressed behind old data")
	assert.Equal(t, 100, v)

	info := c.Info()
	assert.EqualValues(t, 1, info.SuppressedExceptionCnt)
	assert.EqualValues(t, 0, info.LoadCnt, "suppressed failure is not a successful load")
	assert.EqualValues(t, 0, info.LoadExceptionCnt, "suppressed failure is not propagated")

	// Within the suppression window the old value keeps being served
	// without another loader call.
	v, err = c.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 100, v)
}

func TestStory_PutIfAbsentConcurrency(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for round := 0; round < 50; round++ {
		c := New[int, string](Options[int, string]{Capacity: 4})

		var wins atomic.Int32
		var wg sync.WaitGroup
		var winner atomic.Value
		for _, val := range []string{"A", "B"} {
			val := val
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := c.PutIfAbsent(ctx, 7, val)
				require.NoError(t, err)
				if ok {
					wins.Add(1)
					winner.Store(val)
				}
			}()
		}
		wg.Wait()

		require.EqualValues(t, 1, wins.Load(), "exactly one writer must win")
		v, ok := c.Peek(7)
		require.True(t, ok)
		assert.Equal(t, winner.Load().(string), v, "final value must be the winner's")
		c.Close()
	}
}

func TestStory_InvokeAtomicity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c := New[string, int](Options[string, int]{Capacity: 4})
	t.Cleanup(c.Close)

	require.NoError(t, c.Put(ctx, "k", 1))

	const workers = 10
	const perWorker = 100
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := c.Invoke(ctx, "k", func(e MutableEntry[string, int]) (any, error) {
					e.SetValue(e.Value() + 1)
					return nil, nil
				})
				require.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 1+workers*perWorker, v)
}

func TestStory_RefreshAhead(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clk := NewSimulatedClock(1_000_000)
	var loads atomic.Int64
	c := New[int, int64](Options[int, int64]{
		Capacity:     16,
		TTL:          50 * time.Millisecond,
		RefreshAhead: true,
		Clock:        clk,
		// Run refreshes inline so the simulated clock drives them
		// deterministically.
		LoaderExecutor: func(task func()) { task() },
		Loader: func(ctx context.Context, key int, _ int64, _ *CacheEntry[int, int64]) (int64, error) {
			loads.Add(1)
			return clk.Millis(), nil
		},
	})
	t.Cleanup(c.Close)

	require.NoError(t, c.Put(ctx, 1, int64(-1)))
	clk.Advance(60 * time.Millisecond) // expiry timer fires, refresh runs

	info := c.Info()
	require.EqualValues(t, 1, info.RefreshCnt, "refresh must have run")
	assert.EqualValues(t, 1, loads.Load())

	// The refreshed value sits in probation; the next read revives and
	// serves it.
	v, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1_000_050, v, "read must see the refreshed value")
	assert.EqualValues(t, 0, loads.Load()-1, "the read must not load again")

	info = c.Info()
	assert.NotZero(t, info.RefreshedHitCnt, "probation access counts as refreshed hit")
}

func TestStory_ClearDuringIteration(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c := New[string, int](Options[string, int]{Capacity: 16})
	t.Cleanup(c.Close)
	require.NoError(t, c.PutAll(ctx, map[string]int{"a": 1, "b": 2}))

	visited := 0
	c.Entries(func(e *CacheEntry[string, int]) bool {
		visited++
		c.Clear()
		return true
	})
	assert.Equal(t, 1, visited, "iteration must end cleanly after clear")
	assert.Equal(t, 0, c.Size())
}
