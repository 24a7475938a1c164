//go:build go1.18

package cache

import (
	"context"
	"strings"
	"testing"
)

// Fuzz basic Put/Get/Remove semantics under arbitrary string inputs.
// Guards against panics and ensures core invariants hold.
// NOTE: We cap key/value lengths to avoid pathological memory usage
// during fuzzing (this does not weaken the invariants we check).
func FuzzCache_PutGetRemove(f *testing.F) {
	// Seed corpus: empty, ASCII, Unicode, long strings.
	f.Add("", "")
	f.Add("a", "1")
	f.Add("b", "2")
	f.Add("αβγ", "δ")
	f.Add("emoji🙂", "🙂🙂")
	f.Add("long", strings.Repeat("x", 1024))

	f.Fuzz(func(t *testing.T, k, v string) {
		// Cap lengths to keep memory bounded during fuzzing.
		const limit = 1 << 12 // 4096
		if len(k) > limit {
			k = k[:limit]
		}
		if len(v) > limit {
			v = v[:limit]
		}

		ctx := context.Background()
		c := New[string, string](Options[string, string]{Capacity: 16})
		t.Cleanup(c.Close)

		// Put -> Peek must return the same value.
		if err := c.Put(ctx, k, v); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, ok := c.Peek(k)
		if !ok || got != v {
			t.Fatalf("after Put/Peek: want %q, got %q ok=%v", v, got, ok)
		}

		// PutIfAbsent on a present key must not overwrite.
		if ok, _ := c.PutIfAbsent(ctx, k, "other"); ok {
			t.Fatalf("PutIfAbsent duplicate returned true")
		}
		if got2, ok := c.Peek(k); !ok || got2 != v {
			t.Fatalf("after duplicate PutIfAbsent: want %q, got %q ok=%v", v, got2, ok)
		}

		// ContainsAndRemove must delete and report true once.
		had, err := c.ContainsAndRemove(ctx, k)
		if err != nil || !had {
			t.Fatalf("ContainsAndRemove: had=%v err=%v", had, err)
		}
		if _, ok := c.Peek(k); ok {
			t.Fatalf("key must be absent after remove")
		}

		// After removal, PutIfAbsent should succeed again.
		if ok, _ := c.PutIfAbsent(ctx, k, v); !ok {
			t.Fatalf("PutIfAbsent after remove must return true")
		}
	})
}
