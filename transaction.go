package profz

import (
	"context"
	"time"

	"github.com/zoobzio/clockz"
)

// txKeyType is a private type for context keys to avoid collisions.
type txKeyType string

const (
	txKey txKeyType = "profz"
)

// RootName is the name of every transaction's root node.
const RootName Key = "root"

// Transaction owns one call tree and the current position in it.
// A Transaction is NOT thread-safe - give each logical task its own.
//
//nolint:govet // Field order optimized for readability
type Transaction struct {
	clock   clockz.Clock
	root    *Node
	current *Node
	began   time.Time
	ended   time.Time
	ID      string
	Name    string
	ignored int
	gen     uint64 // Bumped on clear so stale spans can tell.
	active  bool
}

// NewTransaction creates an inactive transaction using the real clock.
func NewTransaction(name string) *Transaction {
	return NewTransactionWithClock(name, clockz.RealClock)
}

// NewTransactionWithClock creates an inactive transaction using clock.
func NewTransactionWithClock(name string, clock clockz.Clock) *Transaction {
	if clock == nil {
		clock = clockz.RealClock
	}
	root := newNode(RootName, clock)
	return &Transaction{
		Name:    name,
		clock:   clock,
		root:    root,
		current: root,
	}
}

// Start activates tracking and clears the tree.
func (t *Transaction) Start() {
	t.active = true
	t.clear()
	t.began = t.clock.Now()
	t.ended = time.Time{}
}

// Stop deactivates tracking and clears the tree.
func (t *Transaction) Stop() {
	t.active = false
	t.clear()
}

// End deactivates tracking and keeps the tree for aggregation.
// Calling End on an inactive transaction does nothing.
func (t *Transaction) End() {
	if !t.active {
		return
	}
	t.active = false
	t.ended = t.clock.Now()
}

func (t *Transaction) clear() {
	t.root.reset()
	t.current = t.root
	t.ignored = 0
	t.gen++
}

// live reports whether a span opened in generation gen may still touch the tree.
func (t *Transaction) live(gen uint64) bool {
	return t.active && t.gen == gen
}

// Active reports whether span controllers are recording.
func (t *Transaction) Active() bool {
	return t != nil && t.active
}

// Root returns the root node.
func (t *Transaction) Root() *Node {
	return t.root
}

// Current returns the node new spans attach under.
func (t *Transaction) Current() *Node {
	return t.current
}

// SetCurrent moves the current position.
func (t *Transaction) SetCurrent(n *Node) {
	if n == nil {
		n = t.root
	}
	t.current = n
}

// Elapsed returns the wall-clock time between Start and End, or until now
// while the transaction is still active.
func (t *Transaction) Elapsed() time.Duration {
	if t.began.IsZero() {
		return 0
	}
	if t.active || t.ended.IsZero() {
		return t.clock.Since(t.began)
	}
	return t.ended.Sub(t.began)
}

// Began returns the time of the last Start.
func (t *Transaction) Began() time.Time {
	return t.began
}

// Ignored returns how many resume/hang-up transitions were skipped because
// the node was not in a suspendable state.
func (t *Transaction) Ignored() int {
	return t.ignored
}

// WithTransaction returns a context carrying tx.
func WithTransaction(ctx context.Context, tx *Transaction) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, txKey, tx)
}

// FromContext extracts the transaction from a context.
// Returns nil if no transaction is present.
func FromContext(ctx context.Context) *Transaction {
	if ctx == nil {
		return nil
	}
	if tx, ok := ctx.Value(txKey).(*Transaction); ok {
		return tx
	}
	return nil
}
