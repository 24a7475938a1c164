// Package cache implements an in-process, bounded key/value cache with
// per-entry concurrency control, read-through loading, expiry and
// refresh-ahead.
//
// Every operation against a key runs as an entry action: a small state
// machine that claims the entry, consults the operation's semantics,
// optionally invokes the loader or writer, commits the mutation and
// fires listeners. At most one action processes an entry at a time, so
// the loader runs at most once per key per miss and all mutations of a
// key are linearizable. Plain reads bypass the machinery entirely and
// run lock free on the committed data.
//
// Basic usage:
//
//	c := cache.New(cache.Options[string, int]{
//		Name:     "scores",
//		Capacity: 10_000,
//		TTL:      5 * time.Minute,
//		Loader: func(ctx context.Context, key string, _ int64, _ *cache.CacheEntry[string, int]) (int, error) {
//			return fetchScore(ctx, key)
//		},
//	})
//	defer c.Close()
//
//	v, err := c.Get(ctx, "alice")
//
// Loader failures can be cached or hidden behind stale data via a
// ResiliencePolicy, entries can be reloaded ahead of expiry with
// Options.RefreshAhead, and Options.SharpExpiry guarantees that no read
// observes a value at or past its expiry time.
package cache
