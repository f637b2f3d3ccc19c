package profz

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"
	"k8s.io/klog/v2"
)

// ReportHandler is called when a transaction finishes.
type ReportHandler func(report Report)

type handlerEntry struct {
	handler ReportHandler
	id      uint64
	async   bool
}

// Profiler creates transactions and delivers their reports.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for functionality over memory
type Profiler struct {
	handlers       []handlerEntry
	panicHook      func(handlerID uint64, r interface{})
	workers        *workerPool
	idPool         *IDPool
	aggregator     *Aggregator
	clock          clockz.Clock
	handlersLock   sync.RWMutex
	idPoolOnce     sync.Once
	nextID         atomic.Uint64
	droppedReports atomic.Uint64
	disabled       atomic.Bool
}

// New creates a profiler with the real clock and an empty aggregator.
func New(opts ...AggregatorOption) *Profiler {
	return &Profiler{
		handlers:   make([]handlerEntry, 0),
		aggregator: NewAggregator(opts...),
		clock:      clockz.RealClock,
	}
}

// WithClock returns a new profiler using clock and the same aggregator
// options as a fresh New. Enables clock injection for deterministic testing.
func (p *Profiler) WithClock(clock clockz.Clock) *Profiler {
	var classifiers []Classifier
	if p != nil && p.aggregator != nil {
		classifiers = p.aggregator.classifiers
	}
	return &Profiler{
		handlers:   make([]handlerEntry, 0),
		aggregator: &Aggregator{flat: make(map[Key]Total), classifiers: classifiers},
		clock:      clock,
	}
}

// SetEnabled switches profiling on or off. While disabled, Begin returns
// nil transactions and every span controller is a no-op.
func (p *Profiler) SetEnabled(enabled bool) {
	p.disabled.Store(!enabled)
}

// Enabled reports whether Begin hands out live transactions.
func (p *Profiler) Enabled() bool {
	return !p.disabled.Load()
}

// Aggregator returns the aggregator that receives every finished transaction.
func (p *Profiler) Aggregator() *Aggregator {
	return p.aggregator
}

// Begin starts a new transaction and returns a context carrying it.
// When the profiler is disabled the context is returned unchanged with a
// nil transaction.
func (p *Profiler) Begin(ctx context.Context, name string) (context.Context, *Transaction) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !p.Enabled() {
		return ctx, nil
	}

	tx := NewTransactionWithClock(name, p.clock)
	tx.ID = p.generateID()
	tx.Start()

	return WithTransaction(ctx, tx), tx
}

// Finish ends tx, aggregates it and delivers the report to every handler.
// The transaction's tree is cleared afterwards.
func (p *Profiler) Finish(tx *Transaction) (Report, error) {
	if tx == nil {
		return Report{}, ErrNilTransaction
	}

	tx.End()
	result, err := p.aggregator.Trim(tx)
	if err != nil {
		return Report{}, fmt.Errorf("finish %s: %w", tx.Name, err)
	}

	report := Report{
		ID:          tx.ID,
		Name:        tx.Name,
		Start:       tx.Began(),
		Duration:    tx.Elapsed(),
		Tree:        result.Tree,
		Flat:        result.Flat,
		ForceClosed: result.ForceClosed,
	}
	tx.Stop()

	p.executeHandlers(report)
	return report, nil
}

// OnReport registers a synchronous handler called when transactions finish.
func (p *Profiler) OnReport(handler ReportHandler) uint64 {
	return p.registerHandler(handler, false)
}

// OnReportAsync registers an asynchronous handler called when transactions finish.
func (p *Profiler) OnReportAsync(handler ReportHandler) uint64 {
	return p.registerHandler(handler, true)
}

// AddCollector delivers every report to c.
func (p *Profiler) AddCollector(c *Collector) uint64 {
	if c == nil {
		return 0
	}
	return p.OnReport(func(r Report) {
		c.Collect(&r)
	})
}

func (p *Profiler) registerHandler(handler ReportHandler, async bool) uint64 {
	if handler == nil {
		return 0
	}

	id := p.nextID.Add(1)

	p.handlersLock.Lock()
	defer p.handlersLock.Unlock()

	p.handlers = append(p.handlers, handlerEntry{
		id:      id,
		handler: handler,
		async:   async,
	})

	return id
}

// RemoveHandler removes a handler by ID.
func (p *Profiler) RemoveHandler(id uint64) {
	p.handlersLock.Lock()
	defer p.handlersLock.Unlock()

	for i, h := range p.handlers {
		if h.id == id {
			copy(p.handlers[i:], p.handlers[i+1:])
			p.handlers = p.handlers[:len(p.handlers)-1]
			return
		}
	}
}

// HasHandlers reports whether any handler is registered.
func (p *Profiler) HasHandlers() bool {
	p.handlersLock.RLock()
	defer p.handlersLock.RUnlock()
	return len(p.handlers) > 0
}

// SetPanicHook sets a function to be called when a handler panics.
// Without a hook, panics are logged.
func (p *Profiler) SetPanicHook(hook func(handlerID uint64, r interface{})) {
	p.handlersLock.Lock()
	defer p.handlersLock.Unlock()
	p.panicHook = hook
}

func (p *Profiler) executeHandlers(report Report) {
	p.handlersLock.RLock()
	if len(p.handlers) == 0 {
		p.handlersLock.RUnlock()
		return
	}

	handlers := make([]handlerEntry, len(p.handlers))
	copy(handlers, p.handlers)
	hook := p.panicHook
	workers := p.workers
	p.handlersLock.RUnlock()

	for _, h := range handlers {
		entry := h
		r := report.clone()
		if !entry.async {
			p.safeCall(entry, hook, r)
			continue
		}
		if workers != nil {
			workers.submit(func() {
				p.safeCall(entry, hook, r)
			})
		} else {
			go p.safeCall(entry, hook, r)
		}
	}
}

func (p *Profiler) safeCall(entry handlerEntry, hook func(uint64, interface{}), report Report) {
	defer func() {
		if r := recover(); r != nil {
			if hook != nil {
				hook(entry.id, r)
				return
			}
			klog.ErrorS(nil, "Report handler panicked", "handler", entry.id, "panic", r, "report", report.ID)
		}
	}()
	entry.handler(report)
}

// EnableWorkerPool creates a bounded worker pool for async handlers.
func (p *Profiler) EnableWorkerPool(workers, queueSize int) error {
	if workers <= 0 {
		return errors.New("workers must be > 0")
	}
	if queueSize <= 0 {
		return errors.New("queueSize must be > 0")
	}

	p.handlersLock.Lock()
	defer p.handlersLock.Unlock()

	if p.workers != nil {
		return errors.New("worker pool already enabled")
	}

	p.workers = &workerPool{
		tasks:   make(chan func(), queueSize),
		stop:    make(chan struct{}),
		dropped: &p.droppedReports,
	}

	p.workers.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.workers.run()
	}

	return nil
}

// DroppedReports returns the number of reports dropped due to a full worker queue.
func (p *Profiler) DroppedReports() uint64 {
	return p.droppedReports.Load()
}

// Close shuts down the profiler and waits for queued async handlers.
func (p *Profiler) Close() {
	p.handlersLock.Lock()
	p.handlers = nil
	workers := p.workers
	p.workers = nil
	p.handlersLock.Unlock()

	if workers != nil {
		workers.shutdown()
	}
	if p.idPool != nil {
		p.idPool.Close()
	}
}

func (p *Profiler) generateID() string {
	p.idPoolOnce.Do(func() {
		p.idPool = NewIDPool(runtime.NumCPU()*16, func() string {
			if id := randomID(); id != "" {
				return id
			}
			// Fallback to a time-based ID if crypto/rand fails.
			return hex.EncodeToString([]byte(p.clock.Now().Format(time.RFC3339Nano)))
		})
	})
	return p.idPool.Get()
}

// workerPool manages a fixed number of workers for async handlers.
//
//nolint:govet // Field order optimized for functionality over memory
type workerPool struct {
	tasks   chan func()
	stop    chan struct{}
	dropped *atomic.Uint64
	wg      sync.WaitGroup
}

func (w *workerPool) run() {
	defer w.wg.Done()
	for {
		select {
		case task := <-w.tasks:
			task()
		case <-w.stop:
			// Drain what is already queued before exiting.
			for {
				select {
				case task := <-w.tasks:
					task()
				default:
					return
				}
			}
		}
	}
}

func (w *workerPool) submit(task func()) {
	select {
	case w.tasks <- task:
	default:
		w.dropped.Add(1)
	}
}

func (w *workerPool) shutdown() {
	close(w.stop)
	w.wg.Wait()
}
