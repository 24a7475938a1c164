package cache

// Metrics receives counter increments as they happen, for export to a
// monitoring system. Implementations must be safe for concurrent use and
// cheap; the hooks sit on hot paths. A Prometheus implementation lives
// in metrics/prom.
type Metrics interface {
	IncHits()
	IncMisses()
	IncLoads()
	IncLoadErrors()
	IncSuppressedLoadErrors()
	IncRefreshes()
	IncPuts()
	IncRemovals()
	IncExpirations()
	IncEvictions()
	ObserveLoadDuration(millis int64)
	SetSize(n int)
}

// NoopMetrics discards all observations. Used when Options.Metrics is nil.
type NoopMetrics struct{}

func (NoopMetrics) IncHits()                       {}
func (NoopMetrics) IncMisses()                     {}
func (NoopMetrics) IncLoads()                      {}
func (NoopMetrics) IncLoadErrors()                 {}
func (NoopMetrics) IncSuppressedLoadErrors()       {}
func (NoopMetrics) IncRefreshes()                  {}
func (NoopMetrics) IncPuts()                       {}
func (NoopMetrics) IncRemovals()                   {}
func (NoopMetrics) IncExpirations()                {}
func (NoopMetrics) IncEvictions()                  {}
func (NoopMetrics) ObserveLoadDuration(int64)      {}
func (NoopMetrics) SetSize(int)                    {}

var _ Metrics = NoopMetrics{}
