package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector provides simple built-in render metrics with no external dependencies
type Collector struct {
	renderMetrics     *RenderMetrics
	operationCounters map[string]*int64
	mu                sync.RWMutex
	startTime         time.Time
}

// RenderMetrics tracks template and render activity
type RenderMetrics struct {
	// Parsing
	TemplatesParsed int64 `json:"templates_parsed"`
	ParseErrors     int64 `json:"parse_errors"`

	// Render lifecycle
	RendersStarted       int64 `json:"renders_started"`
	RendersCompleted     int64 `json:"renders_completed"`
	RendersAborted       int64 `json:"renders_aborted"`
	ActiveRenders        int64 `json:"active_renders"`
	MaxConcurrentRenders int64 `json:"max_concurrent_renders"`

	// Output
	ChunksEmitted int64 `json:"chunks_emitted"`
	BytesEmitted  int64 `json:"bytes_emitted"`

	// Per-node outcomes
	ResolutionErrors int64 `json:"resolution_errors"`
	RowsRendered     int64 `json:"rows_rendered"`
	BlocksSuppressed int64 `json:"blocks_suppressed"`

	// Uptime
	StartTime time.Time     `json:"start_time"`
	Uptime    time.Duration `json:"uptime"`
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		renderMetrics: &RenderMetrics{
			StartTime: time.Now(),
		},
		operationCounters: make(map[string]*int64),
		startTime:         time.Now(),
	}
}

// IncrementTemplateParsed records a parsed template or fragment
func (c *Collector) IncrementTemplateParsed() {
	atomic.AddInt64(&c.renderMetrics.TemplatesParsed, 1)
}

// IncrementParseError records a template that failed to parse
func (c *Collector) IncrementParseError() {
	atomic.AddInt64(&c.renderMetrics.ParseErrors, 1)
}

// IncrementRenderStarted records the start of a render
func (c *Collector) IncrementRenderStarted() {
	atomic.AddInt64(&c.renderMetrics.RendersStarted, 1)
	currentActive := atomic.AddInt64(&c.renderMetrics.ActiveRenders, 1)

	// Update max concurrent if needed
	for {
		max := atomic.LoadInt64(&c.renderMetrics.MaxConcurrentRenders)
		if currentActive <= max {
			break
		}
		if atomic.CompareAndSwapInt64(&c.renderMetrics.MaxConcurrentRenders, max, currentActive) {
			break
		}
	}
}

// IncrementRenderFinished records the end of a render, aborted or not
func (c *Collector) IncrementRenderFinished(aborted bool) {
	if aborted {
		atomic.AddInt64(&c.renderMetrics.RendersAborted, 1)
	} else {
		atomic.AddInt64(&c.renderMetrics.RendersCompleted, 1)
	}
	atomic.AddInt64(&c.renderMetrics.ActiveRenders, -1)
}

// AddChunk records one chunk of n bytes written to the output
func (c *Collector) AddChunk(n int) {
	atomic.AddInt64(&c.renderMetrics.ChunksEmitted, 1)
	atomic.AddInt64(&c.renderMetrics.BytesEmitted, int64(n))
}

// IncrementResolutionError records a bound value that failed to resolve
func (c *Collector) IncrementResolutionError() {
	atomic.AddInt64(&c.renderMetrics.ResolutionErrors, 1)
}

// IncrementRowRendered records one rendered iterator row
func (c *Collector) IncrementRowRendered() {
	atomic.AddInt64(&c.renderMetrics.RowsRendered, 1)
}

// IncrementBlockSuppressed records a block skipped because it was hidden or unbound
func (c *Collector) IncrementBlockSuppressed() {
	atomic.AddInt64(&c.renderMetrics.BlocksSuppressed, 1)
}

// IncrementCustomCounter increments a custom named counter
func (c *Collector) IncrementCustomCounter(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if counter, exists := c.operationCounters[name]; exists {
		atomic.AddInt64(counter, 1)
	} else {
		var newCounter int64 = 1
		c.operationCounters[name] = &newCounter
	}
}

// GetMetrics returns current render metrics
func (c *Collector) GetMetrics() RenderMetrics {
	c.mu.RLock()
	startTime := c.startTime
	c.mu.RUnlock()

	// Return a copy with current atomic values
	return RenderMetrics{
		TemplatesParsed:      atomic.LoadInt64(&c.renderMetrics.TemplatesParsed),
		ParseErrors:          atomic.LoadInt64(&c.renderMetrics.ParseErrors),
		RendersStarted:       atomic.LoadInt64(&c.renderMetrics.RendersStarted),
		RendersCompleted:     atomic.LoadInt64(&c.renderMetrics.RendersCompleted),
		RendersAborted:       atomic.LoadInt64(&c.renderMetrics.RendersAborted),
		ActiveRenders:        atomic.LoadInt64(&c.renderMetrics.ActiveRenders),
		MaxConcurrentRenders: atomic.LoadInt64(&c.renderMetrics.MaxConcurrentRenders),
		ChunksEmitted:        atomic.LoadInt64(&c.renderMetrics.ChunksEmitted),
		BytesEmitted:         atomic.LoadInt64(&c.renderMetrics.BytesEmitted),
		ResolutionErrors:     atomic.LoadInt64(&c.renderMetrics.ResolutionErrors),
		RowsRendered:         atomic.LoadInt64(&c.renderMetrics.RowsRendered),
		BlocksSuppressed:     atomic.LoadInt64(&c.renderMetrics.BlocksSuppressed),
		StartTime:            startTime,
		Uptime:               time.Since(startTime),
	}
}

// GetCustomCounters returns all custom counters
func (c *Collector) GetCustomCounters() map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]int64)
	for name, counter := range c.operationCounters {
		result[name] = atomic.LoadInt64(counter)
	}
	return result
}

// Reset resets all metrics to zero
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	atomic.StoreInt64(&c.renderMetrics.TemplatesParsed, 0)
	atomic.StoreInt64(&c.renderMetrics.ParseErrors, 0)
	atomic.StoreInt64(&c.renderMetrics.RendersStarted, 0)
	atomic.StoreInt64(&c.renderMetrics.RendersCompleted, 0)
	atomic.StoreInt64(&c.renderMetrics.RendersAborted, 0)
	atomic.StoreInt64(&c.renderMetrics.ActiveRenders, 0)
	atomic.StoreInt64(&c.renderMetrics.MaxConcurrentRenders, 0)
	atomic.StoreInt64(&c.renderMetrics.ChunksEmitted, 0)
	atomic.StoreInt64(&c.renderMetrics.BytesEmitted, 0)
	atomic.StoreInt64(&c.renderMetrics.ResolutionErrors, 0)
	atomic.StoreInt64(&c.renderMetrics.RowsRendered, 0)
	atomic.StoreInt64(&c.renderMetrics.BlocksSuppressed, 0)

	// Reset custom counters
	c.operationCounters = make(map[string]*int64)

	c.startTime = time.Now()
	c.renderMetrics.StartTime = c.startTime
}

// GetErrorRate returns the percentage of resolved values that failed,
// measured against rendered chunks
func (c *Collector) GetErrorRate() float64 {
	chunks := atomic.LoadInt64(&c.renderMetrics.ChunksEmitted)
	errors := atomic.LoadInt64(&c.renderMetrics.ResolutionErrors)

	if chunks+errors == 0 {
		return 0.0
	}

	return float64(errors) / float64(chunks+errors) * 100.0
}

// GetCompletionRate returns the percentage of finished renders that completed
func (c *Collector) GetCompletionRate() float64 {
	completed := atomic.LoadInt64(&c.renderMetrics.RendersCompleted)
	aborted := atomic.LoadInt64(&c.renderMetrics.RendersAborted)

	total := completed + aborted
	if total == 0 {
		return 100.0 // No renders means 100% completion
	}

	return float64(completed) / float64(total) * 100.0
}
