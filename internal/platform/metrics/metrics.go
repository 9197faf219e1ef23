package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

type Collector struct {
	totalRequests   uint64
	errorRequests   uint64
	totalDurationMs uint64

	mu          sync.Mutex
	transitions map[string]*transitionCount
}

type transitionCount struct {
	ok     uint64
	failed uint64
}

func New() *Collector {
	return &Collector{transitions: map[string]*transitionCount{}}
}

// Record counts one HTTP request.
func (c *Collector) Record(status int, duration time.Duration) {
	atomic.AddUint64(&c.totalRequests, 1)
	if status >= 500 {
		atomic.AddUint64(&c.errorRequests, 1)
	}
	atomic.AddUint64(&c.totalDurationMs, uint64(duration.Milliseconds()))
}

// ObserveTransition counts a lifecycle transition attempt towards status to.
func (c *Collector) ObserveTransition(to string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	count, found := c.transitions[to]
	if !found {
		count = &transitionCount{}
		c.transitions[to] = count
	}
	if ok {
		count.ok++
	} else {
		count.failed++
	}
}

func (c *Collector) Snapshot() map[string]any {
	total := atomic.LoadUint64(&c.totalRequests)
	errs := atomic.LoadUint64(&c.errorRequests)
	totalMs := atomic.LoadUint64(&c.totalDurationMs)
	avg := float64(0)
	if total > 0 {
		avg = float64(totalMs) / float64(total)
	}

	c.mu.Lock()
	transitions := make(map[string]map[string]uint64, len(c.transitions))
	for to, count := range c.transitions {
		transitions[to] = map[string]uint64{"ok": count.ok, "failed": count.failed}
	}
	c.mu.Unlock()

	return map[string]any{
		"requestsTotal":   total,
		"errorsTotal":     errs,
		"avgDurationMs":   avg,
		"totalDurationMs": totalMs,
		"transitions":     transitions,
	}
}
