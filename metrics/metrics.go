// Package metrics keeps in-process counters for the resolution engine and
// optionally publishes them to CloudWatch on an interval.
package metrics

import "sync/atomic"

// Metrics is a set of monotonic counters. All methods are safe for
// concurrent use and tolerate a nil receiver so callers never have to
// guard instrumentation sites.
type Metrics struct {
	resolutions      int64
	cacheHits        int64
	fallbacks        int64
	staleServed      int64
	conflicts        int64
	providerFailures int64
	unavailable      int64
}

func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) Resolution() {
	if m != nil {
		atomic.AddInt64(&m.resolutions, 1)
	}
}

func (m *Metrics) CacheHit() {
	if m != nil {
		atomic.AddInt64(&m.cacheHits, 1)
	}
}

func (m *Metrics) Fallback() {
	if m != nil {
		atomic.AddInt64(&m.fallbacks, 1)
	}
}

func (m *Metrics) StaleServed() {
	if m != nil {
		atomic.AddInt64(&m.staleServed, 1)
	}
}

func (m *Metrics) Conflict() {
	if m != nil {
		atomic.AddInt64(&m.conflicts, 1)
	}
}

func (m *Metrics) ProviderFailure() {
	if m != nil {
		atomic.AddInt64(&m.providerFailures, 1)
	}
}

func (m *Metrics) Unavailable() {
	if m != nil {
		atomic.AddInt64(&m.unavailable, 1)
	}
}

// Snapshot returns the current counter values keyed by metric name.
func (m *Metrics) Snapshot() map[string]int64 {
	if m == nil {
		return nil
	}
	return map[string]int64{
		"Resolutions":      atomic.LoadInt64(&m.resolutions),
		"CacheHits":        atomic.LoadInt64(&m.cacheHits),
		"Fallbacks":        atomic.LoadInt64(&m.fallbacks),
		"StaleServed":      atomic.LoadInt64(&m.staleServed),
		"Conflicts":        atomic.LoadInt64(&m.conflicts),
		"ProviderFailures": atomic.LoadInt64(&m.providerFailures),
		"Unavailable":      atomic.LoadInt64(&m.unavailable),
	}
}
