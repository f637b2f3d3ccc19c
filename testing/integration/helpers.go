package integration

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/clockz"

	"github.com/zoobzio/profz"
)

// MockCollector wraps a real collector with test utilities.
// Collection is synchronous so reports are visible immediately.
type MockCollector struct {
	*profz.Collector
	t        *testing.T
	exported []profz.Report
	mu       sync.Mutex
}

// NewMockCollector creates a collector for testing.
func NewMockCollector(t *testing.T, name string, bufferSize int) *MockCollector {
	collector := profz.NewCollector(name, bufferSize)
	collector.SetSyncMode(true)
	t.Cleanup(collector.Close)
	return &MockCollector{
		Collector: collector,
		t:         t,
	}
}

// GetAll returns every report exported so far without losing earlier ones.
func (m *MockCollector) GetAll() []profz.Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.exported = append(m.exported, m.Collector.Export()...)
	all := make([]profz.Report, len(m.exported))
	copy(all, m.exported)
	return all
}

// AssertReportCount verifies exact report count.
func (m *MockCollector) AssertReportCount(expected int) []profz.Report {
	reports := m.GetAll()
	if len(reports) != expected {
		m.t.Errorf("Expected %d reports, got %d", expected, len(reports))
	}
	return reports
}

// Harness bundles a profiler driven by a fake clock with a collector.
type Harness struct {
	Profiler  *profz.Profiler
	Clock     *clockz.FakeClock
	Collector *MockCollector
}

// NewHarness creates a fake-clock profiler with a synchronous collector.
func NewHarness(t *testing.T, opts ...profz.AggregatorOption) *Harness {
	clock := clockz.NewFakeClock()
	profiler := profz.New(opts...).WithClock(clock)
	t.Cleanup(profiler.Close)

	collector := NewMockCollector(t, "test", 1000)
	profiler.AddCollector(collector.Collector)
	return &Harness{Profiler: profiler, Clock: clock, Collector: collector}
}

// Work opens a span named name and advances the clock by d inside it.
func (h *Harness) Work(ctx context.Context, name string, d time.Duration) {
	span := profz.Enter(ctx, name)
	h.Clock.Advance(d)
	span.Exit()
}

// Transaction runs fn inside a fresh transaction and returns its report.
func (h *Harness) Transaction(t *testing.T, name string, fn func(ctx context.Context)) profz.Report {
	t.Helper()
	ctx, tx := h.Profiler.Begin(context.Background(), name)
	fn(ctx)
	report, err := h.Profiler.Finish(tx)
	if err != nil {
		t.Fatalf("Finish %s: %v", name, err)
	}
	return report
}

// FindEntry walks a tree along path and returns the entry at its end.
func FindEntry(tree []profz.Entry, path ...string) (profz.Entry, bool) {
	level := tree
	var found profz.Entry
	for _, name := range path {
		ok := false
		for _, e := range level {
			if e.Name == name {
				found, level, ok = e, e.Children, true
				break
			}
		}
		if !ok {
			return profz.Entry{}, false
		}
	}
	return found, len(path) > 0
}

// EntryMatcher provides fluent assertions for tree entries.
type EntryMatcher struct {
	t     *testing.T
	entry profz.Entry
	path  string
	ok    bool
}

// Expect locates the entry at path in tree.
func Expect(t *testing.T, tree []profz.Entry, path ...string) *EntryMatcher {
	t.Helper()
	entry, ok := FindEntry(tree, path...)
	joined := strings.Join(path, "/")
	if !ok {
		t.Errorf("Entry %s not found in\n%s", joined, PrintTree(tree))
	}
	return &EntryMatcher{t: t, entry: entry, path: joined, ok: ok}
}

// Time verifies the entry's milliseconds.
func (m *EntryMatcher) Time(ms float64) *EntryMatcher {
	m.t.Helper()
	if m.ok && m.entry.Time != ms {
		m.t.Errorf("Entry %s: expected %.2fms, got %.2fms", m.path, ms, m.entry.Time)
	}
	return m
}

// Count verifies the entry's invocation count.
func (m *EntryMatcher) Count(n int) *EntryMatcher {
	m.t.Helper()
	if m.ok && m.entry.Count != n {
		m.t.Errorf("Entry %s: expected count %d, got %d", m.path, n, m.entry.Count)
	}
	return m
}

// Category verifies the entry's category.
func (m *EntryMatcher) Category(c profz.Category) *EntryMatcher {
	m.t.Helper()
	if m.ok && m.entry.Category != c {
		m.t.Errorf("Entry %s: expected category %q, got %q", m.path, c, m.entry.Category)
	}
	return m
}

// Children verifies the entry's child names in order.
func (m *EntryMatcher) Children(names ...string) *EntryMatcher {
	m.t.Helper()
	if !m.ok {
		return m
	}
	got := make([]string, len(m.entry.Children))
	for i, c := range m.entry.Children {
		got[i] = c.Name
	}
	if strings.Join(got, ",") != strings.Join(names, ",") {
		m.t.Errorf("Entry %s: expected children %v, got %v", m.path, names, got)
	}
	return m
}

// PrintTree formats a tree for failure messages.
func PrintTree(tree []profz.Entry) string {
	var sb strings.Builder
	printEntries(&sb, tree, 0)
	return sb.String()
}

func printEntries(sb *strings.Builder, entries []profz.Entry, depth int) {
	for _, e := range entries {
		fmt.Fprintf(sb, "%s%s (%.2fms x%d)\n", strings.Repeat("  ", depth), e.Name, e.Time, e.Count)
		printEntries(sb, e.Children, depth+1)
	}
}

// MockService simulates a downstream dependency whose calls are profiled.
type MockService struct {
	clock   *clockz.FakeClock
	name    string
	latency time.Duration
	fail    bool
	mu      sync.Mutex
	calls   int
}

// NewMockService creates a simulated service that advances clock per call.
func NewMockService(name string, clock *clockz.FakeClock) *MockService {
	return &MockService{name: name, clock: clock, latency: 10 * time.Millisecond}
}

// SetLatency configures response time.
func (m *MockService) SetLatency(d time.Duration) {
	m.mu.Lock()
	m.latency = d
	m.mu.Unlock()
}

// SetFailing makes every call return an error.
func (m *MockService) SetFailing(fail bool) {
	m.mu.Lock()
	m.fail = fail
	m.mu.Unlock()
}

// Calls returns the number of calls made.
func (m *MockService) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Call simulates a profiled call named "<service>.<operation>".
func (m *MockService) Call(ctx context.Context, operation string) error {
	m.mu.Lock()
	m.calls++
	latency, fail := m.latency, m.fail
	m.mu.Unlock()

	return profz.Run(ctx, m.name+"."+operation, func() error {
		m.clock.Advance(latency)
		if fail {
			return fmt.Errorf("%s: simulated failure", m.name)
		}
		return nil
	})
}
