package cache

import "time"

// constantResilience suppresses and caches loader failures for fixed
// durations from the failing load's start time.
type constantResilience[K comparable, V any] struct {
	suppress time.Duration
	retry    time.Duration
}

// NewConstantResilience returns a resilience policy that keeps serving
// stale data for suppress after a loader failure, and caches the
// failure itself for retry when no data is available. A zero duration
// disables the respective behavior.
func NewConstantResilience[K comparable, V any](suppress, retry time.Duration) ResiliencePolicy[K, V] {
	return &constantResilience[K, V]{suppress: suppress, retry: retry}
}

func (p *constantResilience[K, V]) SuppressExceptionUntil(info *ExceptionInfo[K], current *CacheEntry[K, V]) int64 {
	if p.suppress <= 0 {
		return 0
	}
	return info.LoadTime + p.suppress.Milliseconds()
}

func (p *constantResilience[K, V]) RetryLoadAfter(info *ExceptionInfo[K]) int64 {
	if p.retry <= 0 {
		return 0
	}
	return info.LoadTime + p.retry.Milliseconds()
}
