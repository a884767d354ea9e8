// Package metrics collects per-file audit measurements for a run.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// CacheResult records how the result cache served a file.
type CacheResult string

const (
	CacheHit      CacheResult = "hit"
	CacheMiss     CacheResult = "miss"
	CacheDisabled CacheResult = "disabled"
)

// AuditEvent captures one audited file.
type AuditEvent struct {
	File        string        `json:"file"`
	Timestamp   time.Time     `json:"timestamp"`
	Status      string        `json:"status"`
	Duration    time.Duration `json:"duration"`
	Nodes       int           `json:"nodes"`
	Findings    int           `json:"findings"`
	Diagnostics int           `json:"diagnostics"`
	CacheResult CacheResult   `json:"cache_result"`
	Error       string        `json:"error,omitempty"`
}

// AggregateStats summarizes the events of a run.
type AggregateStats struct {
	TotalFiles       int64 `json:"total_files"`
	TotalFindings    int64 `json:"total_findings"`
	TotalDiagnostics int64 `json:"total_diagnostics"`
	TotalNodes       int64 `json:"total_nodes"`

	// Latency in milliseconds for JSON readability.
	AvgDurationMs float64 `json:"avg_duration_ms"`
	P50DurationMs float64 `json:"p50_duration_ms"`
	P95DurationMs float64 `json:"p95_duration_ms"`
	P99DurationMs float64 `json:"p99_duration_ms"`
	MaxDurationMs float64 `json:"max_duration_ms"`

	CacheHits    int64   `json:"cache_hits"`
	CacheMisses  int64   `json:"cache_misses"`
	CacheHitRate float64 `json:"cache_hit_rate"`

	FilesPerSecond  float64 `json:"files_per_second"`
	FindingsPerFile float64 `json:"findings_per_file"`

	ByStatus map[string]int64 `json:"by_status"`

	Elapsed time.Duration `json:"elapsed"`
}

type counters struct {
	files       atomic.Int64
	findings    atomic.Int64
	diagnostics atomic.Int64
	nodes       atomic.Int64
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
}

// Collector stores audit events. It is safe for concurrent use.
type Collector struct {
	mu        sync.RWMutex
	events    []AuditEvent
	counters  counters
	maxEvents int
	startTime time.Time
	now       func() time.Time
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithMaxEvents bounds the retained events. Counters keep counting past
// the bound.
func WithMaxEvents(n int) CollectorOption {
	return func(c *Collector) { c.maxEvents = n }
}

// NewCollector creates an empty Collector whose clock starts now.
func NewCollector(opts ...CollectorOption) *Collector {
	c := &Collector{
		maxEvents: 100000,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.startTime = c.now()
	return c
}

// Record adds one event.
func (c *Collector) Record(e AuditEvent) {
	if e.Timestamp.IsZero() {
		e.Timestamp = c.now()
	}
	c.counters.files.Add(1)
	c.counters.findings.Add(int64(e.Findings))
	c.counters.diagnostics.Add(int64(e.Diagnostics))
	c.counters.nodes.Add(int64(e.Nodes))
	switch e.CacheResult {
	case CacheHit:
		c.counters.cacheHits.Add(1)
	case CacheMiss:
		c.counters.cacheMisses.Add(1)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.maxEvents <= 0 {
		return
	}
	c.events = append(c.events, e)
	if len(c.events) > c.maxEvents {
		// drop the oldest tenth
		drop := c.maxEvents / 10
		if drop == 0 {
			drop = 1
		}
		c.events = c.events[drop:]
	}
}

// Stats computes aggregate statistics over the retained events.
func (c *Collector) Stats() AggregateStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := AggregateStats{
		TotalFiles:       c.counters.files.Load(),
		TotalFindings:    c.counters.findings.Load(),
		TotalDiagnostics: c.counters.diagnostics.Load(),
		TotalNodes:       c.counters.nodes.Load(),
		CacheHits:        c.counters.cacheHits.Load(),
		CacheMisses:      c.counters.cacheMisses.Load(),
		ByStatus:         make(map[string]int64),
		Elapsed:          c.now().Sub(c.startTime),
	}
	if lookups := s.CacheHits + s.CacheMisses; lookups > 0 {
		s.CacheHitRate = float64(s.CacheHits) / float64(lookups)
	}
	if s.TotalFiles > 0 {
		s.FindingsPerFile = float64(s.TotalFindings) / float64(s.TotalFiles)
	}
	if secs := s.Elapsed.Seconds(); secs > 0 {
		s.FilesPerSecond = float64(s.TotalFiles) / secs
	}
	if len(c.events) == 0 {
		return s
	}

	durations := make([]float64, 0, len(c.events))
	var sum float64
	for _, e := range c.events {
		ms := float64(e.Duration) / float64(time.Millisecond)
		durations = append(durations, ms)
		sum += ms
		s.ByStatus[e.Status]++
	}
	sort.Float64s(durations)
	s.AvgDurationMs = sum / float64(len(durations))
	s.P50DurationMs = percentile(durations, 0.50)
	s.P95DurationMs = percentile(durations, 0.95)
	s.P99DurationMs = percentile(durations, 0.99)
	s.MaxDurationMs = durations[len(durations)-1]
	return s
}

// Events returns a copy of the most recent n events. n <= 0 returns all.
func (c *Collector) Events(n int) []AuditEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if n <= 0 || n > len(c.events) {
		n = len(c.events)
	}
	out := make([]AuditEvent, n)
	copy(out, c.events[len(c.events)-n:])
	return out
}

// Reset clears all events and counters and restarts the clock.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
	c.counters = counters{}
	c.startTime = c.now()
}

// percentile returns the nearest-rank value at p (0.0-1.0) of sorted.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[int(float64(len(sorted)-1)*p)]
}
