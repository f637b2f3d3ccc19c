package profz

import (
	"time"

	"github.com/zoobzio/clockz"
)

// Node records the cumulative timing of one named operation at one
// position in the call tree.
// Nodes are NOT thread-safe - they belong to a single Transaction.
//
//nolint:govet // Field order groups public counters before timing state
type Node struct {
	children  map[Key]*Node
	startTime time.Time
	clock     clockz.Clock
	order     []*Node // Insertion order for stable sorting.
	Name      Key
	Category  Category
	Time      time.Duration
	Count     int
	running   bool
	started   bool // Set by Start/Restart, cleared by Stop.
}

func newNode(name Key, clock clockz.Clock) *Node {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &Node{Name: name, clock: clock}
}

// Start begins a fresh invocation and increments Count.
func (n *Node) Start() {
	n.running = true
	n.started = true
	n.Count++
	n.startTime = n.clock.Now()
}

// Restart reopens the node like Start without incrementing Count.
// Used when a callback bracket hands control back to the node.
func (n *Node) Restart() {
	n.running = true
	n.started = true
	n.startTime = n.clock.Now()
}

// Stop ends the running interval and adds it to Time.
// A node that is not running keeps its Time; only the started mark is cleared.
func (n *Node) Stop() {
	n.stopAt(n.clock.Now())
}

func (n *Node) stopAt(end time.Time) {
	if n.running {
		n.accumulate(end)
		n.running = false
	}
	n.started = false
}

// Resume reopens a suspended node. It reports whether the transition
// happened: a node still inside a Start/Stop pair, or one already
// running, is left untouched.
func (n *Node) Resume() bool {
	if n.started || n.running {
		return false
	}
	n.running = true
	n.startTime = n.clock.Now()
	return true
}

// HangUp suspends a resumed node and adds the interval to Time.
// It reports whether the transition happened.
func (n *Node) HangUp() bool {
	if n.started || !n.running {
		return false
	}
	n.accumulate(n.clock.Now())
	n.running = false
	return true
}

// accumulate adds the interval ending at end, clamped at zero.
func (n *Node) accumulate(end time.Time) {
	if elapsed := end.Sub(n.startTime); elapsed > 0 {
		n.Time += elapsed
	}
}

// IsRunning reports whether the node is inside a running interval.
func (n *Node) IsRunning() bool {
	return n.running
}

// IsStarted reports whether the node is between Start and Stop.
func (n *Node) IsStarted() bool {
	return n.started
}

// Child returns the child with the given name, or nil.
func (n *Node) Child(name Key) *Node {
	return n.children[name]
}

// Children returns the children in insertion order.
func (n *Node) Children() []*Node {
	out := make([]*Node, len(n.order))
	copy(out, n.order)
	return out
}

// child finds or creates the child called name.
func (n *Node) child(name Key) *Node {
	if c, ok := n.children[name]; ok {
		return c
	}
	if n.children == nil {
		n.children = make(map[Key]*Node)
	}
	c := newNode(name, n.clock)
	n.children[name] = c
	n.order = append(n.order, c)
	return c
}

func (n *Node) reset() {
	n.children = nil
	n.order = nil
}
