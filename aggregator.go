package profz

import (
	"cmp"
	"errors"
	"math"
	"slices"
	"sync"
	"time"

	"k8s.io/klog/v2"
)

var (
	// ErrTransactionActive is returned when aggregation is requested before
	// the transaction has ended.
	ErrTransactionActive = errors.New("transaction still active")
	// ErrNilTransaction is returned when aggregation is requested for a nil transaction.
	ErrNilTransaction = errors.New("nil transaction")
)

// Entry is one node of an aggregated tree.
// Time is in milliseconds rounded to two decimals.
type Entry struct {
	Name     Key      `json:"name"`
	Category Category `json:"category,omitempty"`
	Children []Entry  `json:"children"`
	Time     float64  `json:"time"`
	Count    int      `json:"count"`
}

// Total is the roll-up of every node sharing a name.
// Time is in seconds.
type Total struct {
	Name  Key     `json:"name"`
	Time  float64 `json:"time"`
	Count int     `json:"count"`
}

// Result is an aggregated tree together with a flat roll-up.
type Result struct {
	Flat        map[Key]Total `json:"flat"`
	Tree        []Entry       `json:"tree"`
	ForceClosed int           `json:"force_closed"`
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithClassifier registers a classifier run on every node during Trim.
// Classifiers run in registration order.
func WithClassifier(c Classifier) AggregatorOption {
	return func(a *Aggregator) {
		if c != nil {
			a.classifiers = append(a.classifiers, c)
		}
	}
}

// Aggregator turns finished transactions into sorted trees and keeps a
// flat per-name roll-up that accumulates across transactions until Clear.
// Safe for concurrent use by multiple goroutines.
type Aggregator struct {
	flat        map[Key]Total
	classifiers []Classifier
	tree        []Entry
	forceClosed int
	mu          sync.Mutex
}

// NewAggregator creates an empty aggregator.
func NewAggregator(opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{flat: make(map[Key]Total)}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Trim aggregates a finished transaction.
//
// Nodes still running are stopped at the transaction's end time and
// counted as force-closed. The returned Result holds the sorted tree and
// this transaction's own roll-up. The aggregator keeps the tree as its
// latest result and adds the roll-up to its cumulative flat totals, so
// trimming the same transaction twice yields the same tree but counts the
// totals twice.
func (a *Aggregator) Trim(tx *Transaction) (Result, error) {
	if tx == nil {
		return Result{}, ErrNilTransaction
	}
	if tx.active {
		return Result{}, ErrTransactionActive
	}

	end := tx.ended
	if end.IsZero() {
		end = tx.clock.Now()
	}

	w := walker{
		end:         end,
		flat:        make(map[Key]Total),
		classifiers: a.classifiers,
	}
	tree := w.sort(tx.root.order)

	if w.forced > 0 {
		klog.V(2).InfoS("Force-closed running spans", "transaction", tx.Name, "count", w.forced)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.tree = tree
	a.forceClosed += w.forced
	for name, t := range w.flat {
		acc := a.flat[name]
		acc.Name = name
		acc.Count += t.Count
		acc.Time += t.Time
		a.flat[name] = acc
	}

	return Result{Tree: cloneEntries(tree), Flat: w.flat, ForceClosed: w.forced}, nil
}

// Result returns the latest tree and the cumulative flat totals.
// The returned values are copies.
func (a *Aggregator) Result() Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	flat := make(map[Key]Total, len(a.flat))
	for k, v := range a.flat {
		flat[k] = v
	}
	return Result{Tree: cloneEntries(a.tree), Flat: flat, ForceClosed: a.forceClosed}
}

// Sorted returns the cumulative flat totals ordered by time descending,
// then by name.
func (a *Aggregator) Sorted() []Total {
	a.mu.Lock()
	totals := make([]Total, 0, len(a.flat))
	for _, t := range a.flat {
		totals = append(totals, t)
	}
	a.mu.Unlock()

	SortTotals(totals)
	return totals
}

// Add merges totals into the cumulative flat roll-up.
// Used to seed an aggregator from previously stored reports.
func (a *Aggregator) Add(totals ...Total) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, t := range totals {
		acc := a.flat[t.Name]
		acc.Name = t.Name
		acc.Count += t.Count
		acc.Time += t.Time
		a.flat[t.Name] = acc
	}
}

// ForceClosed returns how many running spans Trim has had to stop since
// the last Clear.
func (a *Aggregator) ForceClosed() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.forceClosed
}

// Clear resets the tree, the flat totals and the force-closed count.
func (a *Aggregator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.tree = nil
	a.flat = make(map[Key]Total)
	a.forceClosed = 0
}

// SortTotals orders totals by time descending, then by name.
func SortTotals(totals []Total) {
	slices.SortFunc(totals, func(x, y Total) int {
		if c := cmp.Compare(y.Time, x.Time); c != 0 {
			return c
		}
		return cmp.Compare(x.Name, y.Name)
	})
}

// walker carries per-Trim state through the recursive sort.
type walker struct {
	end         time.Time
	flat        map[Key]Total
	classifiers []Classifier
	forced      int
}

func (w *walker) sort(nodes []*Node) []Entry {
	if len(nodes) == 0 {
		return []Entry{}
	}

	entries := make([]Entry, 0, len(nodes))
	kids := make(map[Key][]*Node, len(nodes))
	for _, n := range nodes {
		if n.running {
			n.stopAt(w.end)
			w.forced++
		}
		for _, c := range w.classifiers {
			c.Classify(n)
		}

		t := w.flat[n.Name]
		t.Name = n.Name
		t.Count += n.Count
		t.Time += n.Time.Seconds()
		w.flat[n.Name] = t

		entries = append(entries, Entry{
			Name:     n.Name,
			Count:    n.Count,
			Time:     milliseconds(n.Time),
			Category: n.Category,
		})
		kids[n.Name] = n.order
	}

	slices.SortStableFunc(entries, func(x, y Entry) int {
		return cmp.Compare(y.Time, x.Time)
	})

	for i := range entries {
		entries[i].Children = w.sort(kids[entries[i].Name])
	}
	return entries
}

// milliseconds converts d to milliseconds rounded to two decimals.
func milliseconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000*100) / 100
}

func cloneEntries(entries []Entry) []Entry {
	if entries == nil {
		return nil
	}
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = e
		out[i].Children = cloneEntries(e.Children)
	}
	return out
}
