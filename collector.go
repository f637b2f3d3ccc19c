package profz

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector buffers finished reports for batch export.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field alignment optimized for readability over memory efficiency
type Collector struct {
	reports      []Report
	reportsCh    chan Report
	stopCh       chan struct{}
	done         chan struct{}
	droppedCount atomic.Int64
	name         string
	mu           sync.Mutex
	sendMu       sync.RWMutex // Held for reading across the closed check and send.
	closeOnce    sync.Once
	closed       atomic.Bool
	syncMode     atomic.Bool // Bypass channel for synchronous collection.
}

// NewCollector creates a collector with the given name and channel buffer size.
func NewCollector(name string, bufferSize int) *Collector {
	if bufferSize < 0 {
		bufferSize = 0
	}
	c := &Collector{
		name:      name,
		reports:   make([]Report, 0, 8),
		reportsCh: make(chan Report, bufferSize),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	go c.loop()
	return c
}

// Name returns the collector name.
func (c *Collector) Name() string {
	return c.name
}

func (c *Collector) loop() {
	defer close(c.done)

	for {
		select {
		case <-c.stopCh:
			// Drain remaining reports before shutdown.
			for {
				select {
				case r := <-c.reportsCh:
					c.buffer(r)
				default:
					return
				}
			}
		case r := <-c.reportsCh:
			c.buffer(r)
		}
	}
}

// Close stops the collector goroutine after draining queued reports.
// Buffered reports stay available to Export.
func (c *Collector) Close() {
	c.closeOnce.Do(func() {
		// No send is in flight once closed is stored under the write lock,
		// so the drain in loop sees every queued report.
		c.sendMu.Lock()
		c.closed.Store(true)
		c.sendMu.Unlock()
		close(c.stopCh)
		select {
		case <-c.done:
		case <-time.After(100 * time.Millisecond):
		}
	})
}

// Collect buffers a deep copy of report. If the internal channel is full
// or the collector is closed, the report is dropped and counted.
func (c *Collector) Collect(report *Report) {
	if report == nil {
		c.droppedCount.Add(1)
		return
	}

	r := report.clone()

	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	if c.closed.Load() {
		c.droppedCount.Add(1)
		return
	}

	if c.syncMode.Load() {
		c.buffer(r)
		return
	}

	select {
	case c.reportsCh <- r:
	default:
		c.droppedCount.Add(1)
	}
}

func (c *Collector) buffer(r Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, r)
}

// Export returns all buffered reports and clears the buffer.
func (c *Collector) Export() []Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.reports) == 0 {
		return nil
	}

	out := c.reports

	// Shrink oversized buffers to avoid holding on to memory.
	if cap(c.reports) > 256 && len(c.reports) < cap(c.reports)/8 {
		c.reports = make([]Report, 0, 32)
	} else {
		c.reports = make([]Report, 0, cap(c.reports))
	}

	return out
}

// Count returns the number of buffered reports.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reports)
}

// DroppedCount returns the number of reports dropped due to backpressure.
func (c *Collector) DroppedCount() int64 {
	return c.droppedCount.Load()
}

// SetSyncMode enables synchronous collection.
// Reports are buffered directly without the channel, which makes tests
// deterministic.
func (c *Collector) SetSyncMode(sync bool) {
	c.syncMode.Store(sync)
}

// Reset clears buffered reports and the drop counter.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reports = c.reports[:0]
	c.droppedCount.Store(0)
}
