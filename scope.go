package profz

import (
	"context"

	"k8s.io/klog/v2"
)

// SyncSpan brackets one complete synchronous invocation of a named
// operation. Obtain it from Transaction.Enter and release it with Exit.
type SyncSpan struct {
	tx     *Transaction
	node   *Node
	parent *Node
	gen    uint64
	done   bool
}

// Enter opens a synchronous span called name under the current node and
// makes it current. It returns nil when the transaction is nil or inactive;
// Exit on a nil span is a no-op.
func (t *Transaction) Enter(name Key) *SyncSpan {
	if !t.Active() {
		return nil
	}
	parent := t.current
	node := parent.child(name)
	node.Start()
	t.current = node
	return &SyncSpan{tx: t, node: node, parent: parent, gen: t.gen}
}

// Exit stops the span and restores the previous current node.
// Safe to call multiple times - subsequent calls are no-ops.
func (s *SyncSpan) Exit() {
	if s == nil || s.done {
		return
	}
	s.done = true
	if !s.tx.live(s.gen) {
		klog.V(4).InfoS("Span released outside its transaction", "span", s.node.Name, "transaction", s.tx.Name)
		return
	}
	s.node.Stop()
	s.tx.current = s.parent
}

// Node returns the span's node, for later use with Transaction.Resume.
func (s *SyncSpan) Node() *Node {
	if s == nil {
		return nil
	}
	return s.node
}

// AsyncSpan brackets one continuation of a suspended operation.
// Obtain it from Transaction.Resume and release it with Suspend.
type AsyncSpan struct {
	tx     *Transaction
	node   *Node
	parent *Node
	gen    uint64
	done   bool
}

// Resume makes node current and reopens its timing. The same node may be
// resumed and suspended many times; its Count is not changed.
func (t *Transaction) Resume(node *Node) *AsyncSpan {
	if !t.Active() || node == nil {
		return nil
	}
	parent := t.current
	t.current = node
	if !node.Resume() {
		t.ignore("resume", node)
	}
	return &AsyncSpan{tx: t, node: node, parent: parent, gen: t.gen}
}

// Suspend hangs the node up and restores the previous current node.
// Safe to call multiple times - subsequent calls are no-ops.
func (a *AsyncSpan) Suspend() {
	if a == nil || a.done {
		return
	}
	a.done = true
	if !a.tx.live(a.gen) {
		return
	}
	if !a.node.HangUp() {
		a.tx.ignore("hang_up", a.node)
	}
	a.tx.current = a.parent
}

// Node returns the resumed node.
func (a *AsyncSpan) Node() *Node {
	if a == nil {
		return nil
	}
	return a.node
}

// CallbackSpan excludes callback dispatch time from the node that was
// current when it was opened. Obtain it from Transaction.Callback and
// release it with Exit.
type CallbackSpan struct {
	tx      *Transaction
	parent  *Node
	gen     uint64
	stopped bool
	resumed bool // Parent was inside a Resume/Suspend interval.
	done    bool
}

// Callback stops the current node until Exit.
func (t *Transaction) Callback() *CallbackSpan {
	if !t.Active() {
		return nil
	}
	parent := t.current
	c := &CallbackSpan{
		tx:      t,
		parent:  parent,
		gen:     t.gen,
		stopped: parent.IsRunning(),
		resumed: parent.IsRunning() && !parent.IsStarted(),
	}
	parent.Stop()
	return c
}

// Exit restarts the stopped node without counting a new invocation and
// makes it current again. A node that was resumed is resumed again, so its
// pending Suspend still closes the interval.
// Safe to call multiple times - subsequent calls are no-ops.
func (c *CallbackSpan) Exit() {
	if c == nil || c.done {
		return
	}
	c.done = true
	if !c.tx.live(c.gen) {
		return
	}
	switch {
	case c.resumed:
		c.parent.Resume()
	case c.stopped:
		c.parent.Restart()
	}
	c.tx.current = c.parent
}

// Run executes fn inside a synchronous span. The span is closed and the
// current node restored even if fn panics.
func (t *Transaction) Run(name Key, fn func() error) error {
	span := t.Enter(name)
	defer span.Exit()
	return fn()
}

func (t *Transaction) ignore(transition string, node *Node) {
	t.ignored++
	klog.V(4).InfoS("Ignored span transition", "transition", transition, "span", node.Name,
		"started", node.started, "running", node.running, "transaction", t.Name)
}

// Enter opens a synchronous span on the transaction carried by ctx.
func Enter(ctx context.Context, name Key) *SyncSpan {
	return FromContext(ctx).Enter(name)
}

// Resume resumes node on the transaction carried by ctx.
func Resume(ctx context.Context, node *Node) *AsyncSpan {
	return FromContext(ctx).Resume(node)
}

// Callback opens a callback exclusion bracket on the transaction carried by ctx.
func Callback(ctx context.Context) *CallbackSpan {
	return FromContext(ctx).Callback()
}

// Run executes fn inside a synchronous span on the transaction carried by ctx.
func Run(ctx context.Context, name Key, fn func() error) error {
	return FromContext(ctx).Run(name, fn)
}
