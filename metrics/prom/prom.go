// Package prom exports cache metrics to Prometheus.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/hotcache/cache"
)

// Adapter implements cache.Metrics and exports Prometheus counters and
// gauges. Safe for concurrent use; all Prometheus metric types are
// goroutine-safe.
type Adapter struct {
	hits        prometheus.Counter
	misses      prometheus.Counter
	loads       prometheus.Counter
	loadErrors  *prometheus.CounterVec
	refreshes   prometheus.Counter
	puts        prometheus.Counter
	removals    prometheus.Counter
	expirations prometheus.Counter
	evictions   prometheus.Counter
	loadSeconds prometheus.Histogram
	sizeEnt     prometheus.Gauge
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "hits_total",
			Help:        "Reads answered from fresh cached data",
			ConstLabels: constLabels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "misses_total",
			Help:        "Reads that found no fresh data",
			ConstLabels: constLabels,
		}),
		loads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "loads_total",
			Help:        "Completed successful loader invocations",
			ConstLabels: constLabels,
		}),
		loadErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "load_errors_total",
				Help:        "Loader failures by outcome",
				ConstLabels: constLabels,
			},
			[]string{"outcome"},
		),
		refreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "refreshes_total",
			Help:        "Refresh-ahead loads started",
			ConstLabels: constLabels,
		}),
		puts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "puts_total",
			Help:        "Value mutations through put operations",
			ConstLabels: constLabels,
		}),
		removals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "removals_total",
			Help:        "Explicit entry removals",
			ConstLabels: constLabels,
		}),
		expirations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "expirations_total",
			Help:        "Entries whose data expired",
			ConstLabels: constLabels,
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "evictions_total",
			Help:        "Entries evicted by the replacement policy",
			ConstLabels: constLabels,
		}),
		loadSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "load_duration_seconds",
			Help:        "Loader wall time",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}),
		sizeEnt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "size_entries",
			Help:        "Number of resident entries",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.hits, a.misses, a.loads, a.loadErrors, a.refreshes,
		a.puts, a.removals, a.expirations, a.evictions, a.loadSeconds, a.sizeEnt)
	return a
}

func (a *Adapter) IncHits()   { a.hits.Inc() }
func (a *Adapter) IncMisses() { a.misses.Inc() }
func (a *Adapter) IncLoads()  { a.loads.Inc() }

func (a *Adapter) IncLoadErrors() { a.loadErrors.WithLabelValues("propagated").Inc() }

func (a *Adapter) IncSuppressedLoadErrors() { a.loadErrors.WithLabelValues("suppressed").Inc() }

func (a *Adapter) IncRefreshes()   { a.refreshes.Inc() }
func (a *Adapter) IncPuts()        { a.puts.Inc() }
func (a *Adapter) IncRemovals()    { a.removals.Inc() }
func (a *Adapter) IncExpirations() { a.expirations.Inc() }
func (a *Adapter) IncEvictions()   { a.evictions.Inc() }

func (a *Adapter) ObserveLoadDuration(millis int64) {
	a.loadSeconds.Observe(float64(millis) / 1000)
}

func (a *Adapter) SetSize(n int) { a.sizeEnt.Set(float64(n)) }

var _ cache.Metrics = (*Adapter)(nil)
