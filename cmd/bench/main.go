// Command bench runs a synthetic workload against the cache and exposes optional pprof/Prometheus endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/IvanBrykalov/hotcache/cache"
	pmet "github.com/IvanBrykalov/hotcache/metrics/prom"
)

func main() {
	// ---- Flags ----
	var (
		capacity = flag.Int("cap", 100_000, "cache capacity (entries)")
		segments = flag.Int("segments", 0, "hash table segments (0=auto)")
		ttl      = flag.Duration("ttl", 0, "entry TTL (0=eternal)")
		loadPct  = flag.Int("loader", 0, "percentage of reads going through the loader [0..100]")

		workers  = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		readPct  = flag.Int("reads", 80, "read percentage [0..100]")

		keys    = flag.Int("keys", 1_000_000, "keyspace size")
		zipfS   = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		zipfV   = flag.Float64("zipf_v", 1.0, "Zipf v")
		seed    = flag.Int64("seed", time.Now().UnixNano(), "random seed")
		preload = flag.Int("preload", 0, "preload entries (0 = cap/2)")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr")
	)
	flag.Parse()

	// ---- pprof server (on DefaultServeMux) ----
	if *pprofAddr != "" {
		go func() {
			log.Printf("pprof: serving at %s", *pprofAddr)
			log.Println(http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	// ---- Prometheus metrics (on DefaultServeMux) ----
	metrics := pmet.New(nil, "hotcache", "bench", nil)
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Printf("metrics: serving at %s", *metricsAddr)
		log.Println(http.ListenAndServe(*metricsAddr, nil))
	}()

	// ---- Build cache ----
	opt := cache.Options[string, string]{
		Name:         "bench",
		Capacity:     *capacity,
		SegmentCount: *segments,
		TTL:          *ttl,
		Metrics:      metrics,
	}
	if *loadPct > 0 {
		opt.Loader = func(ctx context.Context, key string, _ int64, _ *cache.CacheEntry[string, string]) (string, error) {
			return "loaded:" + key, nil
		}
	}
	c := cache.New[string, string](opt)
	defer c.Close()

	ctx := context.Background()

	// ---- Preload ----
	n := *preload
	if n == 0 {
		n = *capacity / 2
	}
	for i := 0; i < n; i++ {
		k := "k" + strconv.Itoa(i)
		_ = c.Put(ctx, k, "v"+strconv.Itoa(i))
	}

	// ---- Workload ----
	var (
		ops  atomic.Int64
		hits atomic.Int64
		stop atomic.Bool
		wg   sync.WaitGroup
	)
	start := time.Now()
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(*seed + int64(w)))
			zipf := rand.NewZipf(rng, *zipfS, *zipfV, uint64(*keys-1))
			for !stop.Load() {
				k := "k" + strconv.FormatUint(zipf.Uint64(), 10)
				r := rng.Intn(100)
				switch {
				case r < *readPct && r < *loadPct:
					if _, err := c.Get(ctx, k); err == nil {
						hits.Add(1)
					}
				case r < *readPct:
					if _, ok := c.Peek(k); ok {
						hits.Add(1)
					}
				default:
					_ = c.Put(ctx, k, "v")
				}
				ops.Add(1)
			}
		}(w)
	}
	time.Sleep(*duration)
	stop.Store(true)
	wg.Wait()

	elapsed := time.Since(start)
	info := c.Info()
	fmt.Printf("ops=%d (%.0f op/s) observedHits=%d\n",
		ops.Load(), float64(ops.Load())/elapsed.Seconds(), hits.Load())
	fmt.Printf("stats: %v\n", info)
}
