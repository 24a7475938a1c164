package cache

import (
	"container/heap"
	"sync"
	"time"
)

// Clock provides time in epoch milliseconds; useful for deterministic tests.
type Clock interface {
	Millis() int64
}

// JobScheduler is an optional Clock capability. A clock implementing it
// also owns timer scheduling, which lets tests fire expiry and refresh
// events under virtualised time. The returned cancel is idempotent.
type JobScheduler interface {
	Clock
	Schedule(at int64, job func()) (cancel func())
}

type systemClock struct{}

func (systemClock) Millis() int64 { return time.Now().UnixMilli() }

func (systemClock) Schedule(at int64, job func()) func() {
	d := time.Duration(at-time.Now().UnixMilli()) * time.Millisecond
	if d < 0 {
		d = 0
	}
	t := time.AfterFunc(d, job)
	return func() { t.Stop() }
}

// asScheduler upgrades a Clock to a JobScheduler. A plain Clock gets
// real timers driven by its own notion of "now" converted to wall delays;
// that is only correct for clocks that advance in real time, so tests
// that warp time should supply a JobScheduler (e.g. SimulatedClock).
func asScheduler(c Clock) JobScheduler {
	if c == nil {
		return systemClock{}
	}
	if s, ok := c.(JobScheduler); ok {
		return s
	}
	return wallScheduler{c}
}

type wallScheduler struct{ Clock }

func (w wallScheduler) Schedule(at int64, job func()) func() {
	d := time.Duration(at-w.Millis()) * time.Millisecond
	if d < 0 {
		d = 0
	}
	t := time.AfterFunc(d, job)
	return func() { t.Stop() }
}

// SimulatedClock is a deterministic Clock and JobScheduler for tests.
// Time only moves via Advance or Set; due jobs run synchronously on the
// advancing goroutine, in timestamp order.
type SimulatedClock struct {
	mu   sync.Mutex
	now  int64
	jobs simJobHeap
	seq  int64
}

// NewSimulatedClock starts at the given epoch millis.
func NewSimulatedClock(start int64) *SimulatedClock {
	return &SimulatedClock{now: start}
}

func (c *SimulatedClock) Millis() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *SimulatedClock) Schedule(at int64, job func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	j := &simJob{at: at, seq: c.seq, run: job}
	heap.Push(&c.jobs, j)
	return func() {
		c.mu.Lock()
		j.cancelled = true
		c.mu.Unlock()
	}
}

// Advance moves the clock forward and fires all jobs that became due.
func (c *SimulatedClock) Advance(d time.Duration) {
	c.Set(c.Millis() + d.Milliseconds())
}

// Set jumps the clock to an absolute time, firing due jobs on the way.
func (c *SimulatedClock) Set(now int64) {
	for {
		c.mu.Lock()
		if len(c.jobs) == 0 || c.jobs[0].at > now {
			c.now = now
			c.mu.Unlock()
			return
		}
		j := heap.Pop(&c.jobs).(*simJob)
		if c.now < j.at {
			c.now = j.at
		}
		cancelled := j.cancelled
		c.mu.Unlock()
		if !cancelled {
			j.run()
		}
	}
}

type simJob struct {
	at        int64
	seq       int64
	run       func()
	cancelled bool
}

type simJobHeap []*simJob

func (h simJobHeap) Len() int { return len(h) }
func (h simJobHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].seq < h[j].seq
}
func (h simJobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *simJobHeap) Push(x any)   { *h = append(*h, x.(*simJob)) }
func (h *simJobHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}
